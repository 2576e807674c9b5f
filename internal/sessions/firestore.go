package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/iammorganparry/clive/apps/casegen/internal/models"
)

// FirestoreStore keeps sessions in a "sessions" collection with history in a
// "messages" subcollection. Save runs inside a transaction that compares the
// stored version before writing.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore creates a Firestore-backed store for projectID.
func NewFirestoreStore(ctx context.Context, projectID string) (*FirestoreStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}
	return &FirestoreStore{client: client}, nil
}

// Close releases the underlying client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func (s *FirestoreStore) sessionsCol() *firestore.CollectionRef {
	return s.client.Collection("sessions")
}

func (s *FirestoreStore) sessionDoc(id string) *firestore.DocumentRef {
	return s.sessionsCol().Doc(id)
}

func (s *FirestoreStore) messagesCol(id string) *firestore.CollectionRef {
	return s.sessionDoc(id).Collection("messages")
}

type sessionDoc struct {
	UserID       string `firestore:"user_id"`
	CreatedAt    int64  `firestore:"created_at"`
	UpdatedAt    int64  `firestore:"updated_at"`
	Version      int64  `firestore:"version"`
	State        string `firestore:"state"`
	MessageCount int    `firestore:"message_count"`
}

type messageDoc struct {
	Seq       int    `firestore:"seq"`
	Role      string `firestore:"role"`
	Content   string `firestore:"content"`
	Flow      string `firestore:"flow"`
	CreatedAt int64  `firestore:"created_at"`
}

func (s *FirestoreStore) Create(ctx context.Context, userID string) (*models.Session, error) {
	sess := New(userID)
	if err := s.Save(ctx, sess, 0); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *FirestoreStore) Load(ctx context.Context, id string) (*models.Session, error) {
	snap, err := s.sessionDoc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("firestore Load: %w", err)
	}

	var doc sessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore Load decode: %w", err)
	}

	sess := &models.Session{
		ID:        id,
		UserID:    doc.UserID,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
		Version:   doc.Version,
		History:   []models.Message{},
	}
	if err := json.Unmarshal([]byte(doc.State), &sess.State); err != nil {
		return nil, fmt.Errorf("decode session state: %w", err)
	}

	iter := s.messagesCol(id).OrderBy("seq", firestore.Asc).Documents(ctx)
	defer iter.Stop()
	for {
		msnap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("firestore Load messages: %w", err)
		}
		var m messageDoc
		if err := msnap.DataTo(&m); err != nil {
			return nil, fmt.Errorf("decode messageDoc: %w", err)
		}
		sess.History = append(sess.History, models.Message{
			Role:      models.Role(m.Role),
			Content:   m.Content,
			Flow:      m.Flow,
			CreatedAt: m.CreatedAt,
		})
	}
	return sess, nil
}

func (s *FirestoreStore) Save(ctx context.Context, sess *models.Session, expectedVersion int64) error {
	state, err := json.Marshal(sess.State)
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}
	now := time.Now().Unix()
	ref := s.sessionDoc(sess.ID)

	err = s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		stored := 0
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
			if expectedVersion != 0 {
				return ErrNotFound
			}
		case err != nil:
			return err
		default:
			if expectedVersion == 0 {
				return ErrVersionConflict
			}
			var doc sessionDoc
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode sessionDoc: %w", err)
			}
			if doc.Version != expectedVersion {
				return ErrVersionConflict
			}
			stored = doc.MessageCount
		}
		if len(sess.History) < stored {
			return ErrHistoryRewritten
		}

		createdAt := sess.CreatedAt
		if createdAt == 0 {
			createdAt = now
		}
		if err := tx.Set(ref, sessionDoc{
			UserID:       sess.UserID,
			CreatedAt:    createdAt,
			UpdatedAt:    now,
			Version:      expectedVersion + 1,
			State:        string(state),
			MessageCount: len(sess.History),
		}); err != nil {
			return err
		}

		for i := stored; i < len(sess.History); i++ {
			m := sess.History[i]
			mref := s.messagesCol(sess.ID).Doc(fmt.Sprintf("%08d", i+1))
			if err := tx.Set(mref, messageDoc{
				Seq:       i + 1,
				Role:      string(m.Role),
				Content:   m.Content,
				Flow:      m.Flow,
				CreatedAt: m.CreatedAt,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrHistoryRewritten) {
			return err
		}
		return fmt.Errorf("firestore Save: %w", err)
	}

	sess.Version = expectedVersion + 1
	sess.UpdatedAt = now
	return nil
}

func (s *FirestoreStore) ListByUser(ctx context.Context, userID string, limit int) ([]models.SessionSummary, error) {
	q := s.sessionsCol().Where("user_id", "==", userID).OrderBy("updated_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []models.SessionSummary
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("firestore ListByUser: %w", err)
		}

		var doc sessionDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode sessionDoc: %w", err)
		}
		out = append(out, models.SessionSummary{
			ID:           snap.Ref.ID,
			UserID:       doc.UserID,
			CreatedAt:    doc.CreatedAt,
			UpdatedAt:    doc.UpdatedAt,
			MessageCount: doc.MessageCount,
			Version:      doc.Version,
		})
	}
	return out, nil
}
