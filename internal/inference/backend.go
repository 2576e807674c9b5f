// Package inference wraps the text-generation models stages call.
package inference

import (
	"context"
	"errors"
	"fmt"
)

// Task tags what a prompt asks for. Backends only use it for logging and the
// mock backend keys its canned answers on it.
type Task string

const (
	TaskAnalyze  Task = "analyze"
	TaskGenerate Task = "generate"
	TaskReview   Task = "review"
	TaskRefine   Task = "refine"
	TaskEnhance  Task = "enhance"
)

// Prompt is the context handed to a backend for one generation.
type Prompt struct {
	Task   Task
	System string
	User   string
	// Temperature is optional; zero lets the backend use its default.
	Temperature float32
}

// Backend generates text from a prompt.
type Backend interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

// ErrorKind classifies backend failures.
type ErrorKind int

const (
	RateLimited ErrorKind = iota
	Unavailable
	InvalidResponse
)

func (k ErrorKind) String() string {
	switch k {
	case RateLimited:
		return "rate_limited"
	case Unavailable:
		return "unavailable"
	case InvalidResponse:
		return "invalid_response"
	default:
		return "unknown"
	}
}

// Error is returned by backends for every failed generation except
// caller cancellation, which is returned as the context error.
type Error struct {
	Kind    ErrorKind
	Backend string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether a retry might succeed. A malformed answer is
// worth another sample, so InvalidResponse counts too.
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// kindForStatus maps an HTTP status from a model server to an error kind.
func kindForStatus(status int) ErrorKind {
	switch {
	case status == 429:
		return RateLimited
	case status >= 500, status == 404, status == 408:
		return Unavailable
	default:
		return InvalidResponse
	}
}
