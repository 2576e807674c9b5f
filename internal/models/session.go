package models

// Role identifies who authored a history message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is one entry in a session's append-only history.
type Message struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Flow      string `json:"flow,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

// Session is one user's ongoing interaction. Version is the optimistic
// concurrency token; zero means the session has never been saved.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	CreatedAt int64     `json:"createdAt"`
	UpdatedAt int64     `json:"updatedAt"`
	State     State     `json:"state"`
	History   []Message `json:"history"`
	Version   int64     `json:"version"`
}

// Clone returns a deep copy so callers can mutate freely and discard on failure.
func (s *Session) Clone() *Session {
	out := *s
	out.State = s.State.Clone()
	out.History = make([]Message, len(s.History))
	copy(out.History, s.History)
	return &out
}

// SessionSummary is the list view of a session.
type SessionSummary struct {
	ID           string `json:"id"`
	UserID       string `json:"userId"`
	CreatedAt    int64  `json:"createdAt"`
	UpdatedAt    int64  `json:"updatedAt"`
	MessageCount int    `json:"messageCount"`
	Version      int64  `json:"version"`
}
