package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrBusy is returned by Acquire under BusyReject when the session is held.
var ErrBusy = errors.New("session busy")

// BusyPolicy decides what a second request for a held session does.
type BusyPolicy string

const (
	BusyBlock  BusyPolicy = "block"
	BusyReject BusyPolicy = "reject"
)

func (p BusyPolicy) IsValid() bool {
	return p == BusyBlock || p == BusyReject
}

// Locker serializes work per session ID. Slots are reference counted and
// dropped once nobody holds or waits on them, so unrelated sessions never
// contend.
type Locker struct {
	policy BusyPolicy

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocker(policy BusyPolicy) *Locker {
	if !policy.IsValid() {
		policy = BusyBlock
	}
	return &Locker{policy: policy, slots: make(map[string]*slot)}
}

// Policy returns the configured busy policy.
func (l *Locker) Policy() BusyPolicy {
	return l.policy
}

// Acquire takes the session's slot. The returned release func must be called
// exactly once.
func (l *Locker) Acquire(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[id]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[id] = s
	}
	s.refs++
	l.mu.Unlock()

	switch l.policy {
	case BusyReject:
		select {
		case s.ch <- struct{}{}:
		default:
			l.drop(id, s)
			return nil, fmt.Errorf("%w: %s", ErrBusy, id)
		}
	default:
		select {
		case s.ch <- struct{}{}:
		case <-ctx.Done():
			l.drop(id, s)
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.drop(id, s)
		})
	}, nil
}

func (l *Locker) drop(id string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, id)
	}
}

// held returns the number of tracked slots.
func (l *Locker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
