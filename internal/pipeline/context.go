package pipeline

import (
	"github.com/iammorganparry/clive/apps/casegen/internal/models"
)

// TaskInput is the user's request as seen by the stages.
type TaskInput struct {
	UserID    string
	SessionID string
	Message   string
	Flow      models.FlowName
	// Artifact is an existing suite supplied with the request, used by the
	// enhancement flow.
	Artifact *models.TestSuite
}

// StageOutput is what one invocation produced. Data is stored under the
// stage's role; a non-nil Candidate replaces the run's artifact.
type StageOutput struct {
	Data      any
	Candidate *models.TestSuite
}

// Context is the transient state of one orchestrator run. Only the
// orchestrator mutates it; stages receive a copy.
type Context struct {
	Input   TaskInput
	State   models.State
	History []models.Message

	Intermediate map[Role]any
	Attempts     map[Role]int
	Faults       map[Role]int
	Artifact     *models.TestSuite
	// Feedback is the most recent refinement feedback routed back to the
	// stage being re-entered.
	Feedback string
}

// NewContext starts a run from a session snapshot. The state and history are
// copied.
func NewContext(input TaskInput, state models.State, history []models.Message) *Context {
	h := make([]models.Message, len(history))
	copy(h, history)
	return &Context{
		Input:        input,
		State:        state.Clone(),
		History:      h,
		Intermediate: make(map[Role]any),
		Attempts:     make(map[Role]int),
		Faults:       make(map[Role]int),
	}
}

// Output returns the typed output a stage stored in the context.
func Output[T any](c *Context, role Role) (T, bool) {
	v, ok := c.Intermediate[role]
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// view returns a copy a stage can read without touching the run's maps.
func (c *Context) view() *Context {
	v := &Context{
		Input:        c.Input,
		State:        c.State.Clone(),
		History:      c.History,
		Intermediate: make(map[Role]any, len(c.Intermediate)),
		Attempts:     make(map[Role]int, len(c.Attempts)),
		Faults:       make(map[Role]int, len(c.Faults)),
		Artifact:     c.Artifact.Clone(),
		Feedback:     c.Feedback,
	}
	v.Input.Artifact = c.Input.Artifact.Clone()
	for k, val := range c.Intermediate {
		v.Intermediate[k] = val
	}
	for k, n := range c.Attempts {
		v.Attempts[k] = n
	}
	for k, n := range c.Faults {
		v.Faults[k] = n
	}
	return v
}

func (c *Context) merge(role Role, out StageOutput) {
	if out.Data != nil {
		c.Intermediate[role] = out.Data
	}
	if out.Candidate != nil {
		c.Artifact = out.Candidate.Clone()
	}
}

func (c *Context) copyAttempts() map[Role]int {
	out := make(map[Role]int, len(c.Attempts))
	for k, n := range c.Attempts {
		out[k] = n
	}
	return out
}
