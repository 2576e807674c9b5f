package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iammorganparry/clive/apps/casegen/internal/models"
	"github.com/iammorganparry/clive/apps/casegen/internal/store"
)

var (
	// ErrNotFound is returned when a session ID does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrVersionConflict is returned by Save when the stored version no
	// longer matches the expected version.
	ErrVersionConflict = errors.New("session version conflict")
	// ErrHistoryRewritten is returned by Save when the history passed in is
	// shorter than what is stored.
	ErrHistoryRewritten = errors.New("session history is append-only")
)

// Store persists sessions with optimistic concurrency. Save with
// expectedVersion 0 inserts a session that must not exist yet; on success
// the session's Version is advanced to expectedVersion+1.
type Store interface {
	Load(ctx context.Context, id string) (*models.Session, error)
	Save(ctx context.Context, s *models.Session, expectedVersion int64) error
	Create(ctx context.Context, userID string) (*models.Session, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.SessionSummary, error)
}

// New builds an unsaved session for userID.
func New(userID string) *models.Session {
	now := time.Now().Unix()
	return &models.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
		History:   []models.Message{},
	}
}

// SQLiteStore handles Session persistence on SQLite.
type SQLiteStore struct {
	db *store.DB
}

// NewSQLiteStore creates a new SQLite-backed session store.
func NewSQLiteStore(db *store.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Create inserts a fresh session for userID.
func (s *SQLiteStore) Create(ctx context.Context, userID string) (*models.Session, error) {
	sess := New(userID)
	if err := s.Save(ctx, sess, 0); err != nil {
		return nil, err
	}
	return sess, nil
}

// Load fetches a session with its full history.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	var state string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, created_at, updated_at, version, state
		FROM sessions WHERE id = ?
	`, id).Scan(&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.UpdatedAt, &sess.Version, &state)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if err := json.Unmarshal([]byte(state), &sess.State); err != nil {
		return nil, fmt.Errorf("decode session state: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, flow, created_at
		FROM session_messages WHERE session_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list session messages: %w", err)
	}
	defer rows.Close()

	sess.History = []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.Role, &m.Content, &m.Flow, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session message: %w", err)
		}
		sess.History = append(sess.History, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Save writes the session state and appends any new history messages in one
// transaction, guarded by the version column.
func (s *SQLiteStore) Save(ctx context.Context, sess *models.Session, expectedVersion int64) error {
	state, err := json.Marshal(sess.State)
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}
	now := time.Now().Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if expectedVersion == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, sess.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check session: %w", err)
		}
		if exists > 0 {
			return ErrVersionConflict
		}
		if sess.CreatedAt == 0 {
			sess.CreatedAt = now
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sessions (id, user_id, created_at, updated_at, version, state)
			VALUES (?, ?, ?, ?, 1, ?)
		`, sess.ID, sess.UserID, sess.CreatedAt, now, string(state))
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
	} else {
		res, err := tx.ExecContext(ctx, `
			UPDATE sessions SET state = ?, updated_at = ?, version = version + 1
			WHERE id = ? AND version = ?
		`, string(state), now, sess.ID, expectedVersion)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		if n == 0 {
			var exists int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, sess.ID).Scan(&exists); err != nil {
				return fmt.Errorf("check session: %w", err)
			}
			if exists == 0 {
				return ErrNotFound
			}
			return ErrVersionConflict
		}
	}

	var stored int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_messages WHERE session_id = ?`, sess.ID).Scan(&stored); err != nil {
		return fmt.Errorf("count session messages: %w", err)
	}
	if len(sess.History) < stored {
		return ErrHistoryRewritten
	}
	for i := stored; i < len(sess.History); i++ {
		m := sess.History[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO session_messages (session_id, seq, role, content, flow, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, sess.ID, i+1, m.Role, m.Content, m.Flow, m.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert session message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}

	sess.Version = expectedVersion + 1
	sess.UpdatedAt = now
	return nil
}

// ListByUser returns a user's sessions, most recently updated first.
func (s *SQLiteStore) ListByUser(ctx context.Context, userID string, limit int) ([]models.SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.user_id, s.created_at, s.updated_at, s.version,
		       (SELECT COUNT(*) FROM session_messages m WHERE m.session_id = s.id)
		FROM sessions s
		WHERE s.user_id = ?
		ORDER BY s.updated_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []models.SessionSummary
	for rows.Next() {
		var sum models.SessionSummary
		if err := rows.Scan(&sum.ID, &sum.UserID, &sum.CreatedAt, &sum.UpdatedAt, &sum.Version, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}
