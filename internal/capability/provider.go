// Package capability defines the read-only query contract stages use to
// reach retrieval and knowledge-base lookups.
package capability

import (
	"context"
	"errors"
	"fmt"

	"github.com/iammorganparry/clive/apps/casegen/internal/models"
)

// Query is a structured lookup against one corpus.
type Query struct {
	Corpus models.Corpus
	Text   string
	TopK   int
}

// Snippet is one piece of content returned by a provider.
type Snippet struct {
	DocumentID string  `json:"documentId"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

// Provider answers content queries.
type Provider interface {
	Query(ctx context.Context, q Query) ([]Snippet, error)
}

// ErrorKind classifies provider failures.
type ErrorKind int

const (
	Unavailable ErrorKind = iota
	NotFound
	Malformed
)

func (k ErrorKind) String() string {
	switch k {
	case Unavailable:
		return "unavailable"
	case NotFound:
		return "not_found"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error is returned by providers for every failed query.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "capability " + e.Kind.String()
	}
	return fmt.Sprintf("capability %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a provider error of the given kind.
func Errorf(kind ErrorKind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err is a provider failure worth retrying.
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == Unavailable
}

// Validate checks a query before it reaches a backend.
func (q Query) Validate() error {
	if !q.Corpus.IsValid() {
		return Errorf(Malformed, "unknown corpus %q", q.Corpus)
	}
	if q.Text == "" {
		return Errorf(Malformed, "query text is required")
	}
	return nil
}
