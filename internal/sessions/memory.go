package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iammorganparry/clive/apps/casegen/internal/models"
)

// MemoryStore is an in-process Store. Sessions are cloned on the way in and
// out so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*models.Session)}
}

func (s *MemoryStore) Create(ctx context.Context, userID string) (*models.Session, error) {
	sess := New(userID)
	if err := s.Save(ctx, sess, 0); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, sess *models.Session, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[sess.ID]
	switch {
	case expectedVersion == 0 && ok:
		return ErrVersionConflict
	case expectedVersion != 0 && !ok:
		return ErrNotFound
	case ok && current.Version != expectedVersion:
		return ErrVersionConflict
	case ok && len(sess.History) < len(current.History):
		return ErrHistoryRewritten
	}

	stored := sess.Clone()
	stored.Version = expectedVersion + 1
	stored.UpdatedAt = time.Now().Unix()
	s.sessions[sess.ID] = stored

	sess.Version = stored.Version
	sess.UpdatedAt = stored.UpdatedAt
	return nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]models.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.SessionSummary
	for _, sess := range s.sessions {
		if sess.UserID != userID {
			continue
		}
		out = append(out, summarize(sess))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func summarize(sess *models.Session) models.SessionSummary {
	return models.SessionSummary{
		ID:           sess.ID,
		UserID:       sess.UserID,
		CreatedAt:    sess.CreatedAt,
		UpdatedAt:    sess.UpdatedAt,
		MessageCount: len(sess.History),
		Version:      sess.Version,
	}
}
