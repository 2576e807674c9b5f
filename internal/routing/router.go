// Package routing is the entry point for user requests: it resolves the
// session, picks a flow, runs it and commits the outcome.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/iammorganparry/clive/apps/casegen/internal/models"
	"github.com/iammorganparry/clive/apps/casegen/internal/pipeline"
	"github.com/iammorganparry/clive/apps/casegen/internal/privacy"
	"github.com/iammorganparry/clive/apps/casegen/internal/sessions"
	"github.com/iammorganparry/clive/apps/casegen/internal/stages"
)

// Request is one inbound user message.
type Request struct {
	UserID     string
	SessionID  string
	Message    string
	FlowHint   models.FlowName
	NewSession bool
	Artifact   *models.TestSuite
}

// Response is a successful dispatch.
type Response struct {
	SessionID string
	Flow      models.FlowName
	Artifact  *models.TestSuite
	Markdown  string
	Attempts  map[pipeline.Role]int
	Trace     []pipeline.TraceEntry
}

// Runner executes a flow. *pipeline.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, flow pipeline.FlowDefinition, pc *pipeline.Context) (*pipeline.Result, error)
}

// Options configures a Router. Zero values select the built-in flows, the
// default classifier and a blocking locker.
type Options struct {
	Flows      map[models.FlowName]pipeline.FlowDefinition
	Classifier Classifier
	Locker     *sessions.Locker
	Logger     *slog.Logger
}

// Router dispatches requests. It holds no per-session state beyond the lock
// table.
type Router struct {
	store      sessions.Store
	runner     Runner
	flows      map[models.FlowName]pipeline.FlowDefinition
	classifier Classifier
	locker     *sessions.Locker
	logger     *slog.Logger
}

func New(store sessions.Store, runner Runner, opts Options) *Router {
	if opts.Flows == nil {
		opts.Flows = pipeline.DefaultFlows()
	}
	if opts.Classifier == nil {
		opts.Classifier = DefaultClassifier()
	}
	if opts.Locker == nil {
		opts.Locker = sessions.NewLocker(sessions.BusyBlock)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Router{
		store:      store,
		runner:     runner,
		flows:      opts.Flows,
		classifier: opts.Classifier,
		locker:     opts.Locker,
		logger:     opts.Logger,
	}
}

// Dispatch runs one request to completion. The session is saved only when
// the run succeeds; any error leaves the stored session untouched.
func (r *Router) Dispatch(ctx context.Context, req Request) (*Response, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	message := privacy.StripPrivateTags(req.Message)
	if message == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}
	if req.FlowHint != "" && !req.FlowHint.IsValid() {
		return nil, fmt.Errorf("%w: unknown flow %q", ErrInvalidRequest, req.FlowHint)
	}

	var sess *models.Session
	if req.SessionID == "" || req.NewSession {
		sess = sessions.New(userID)
	}
	sessionID := req.SessionID
	if sess != nil {
		sessionID = sess.ID
	}

	release, err := r.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	if sess == nil {
		sess, err = r.load(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if sess.UserID != userID {
			return nil, ErrSessionOwnership
		}
	}
	expected := sess.Version

	req.Message = message
	req.Artifact = privacy.StripSuite(req.Artifact)
	flowName := r.classifier.Classify(req, hasSuite(req, sess))
	flow, ok := r.flows[flowName]
	if !ok {
		return nil, fmt.Errorf("flow %s is not configured", flowName)
	}

	logger := r.logger.With("session_id", sessionID, "flow", flowName)
	logger.Info("dispatching", "new_session", expected == 0, "message_len", len(message))

	working := sess.Clone()
	now := time.Now().Unix()
	working.History = append(working.History, models.Message{
		Role:      models.RoleUser,
		Content:   message,
		Flow:      string(flowName),
		CreatedAt: now,
	})

	pc := pipeline.NewContext(pipeline.TaskInput{
		UserID:    userID,
		SessionID: sessionID,
		Message:   message,
		Flow:      flowName,
		Artifact:  req.Artifact,
	}, working.State, working.History)

	res, err := r.runner.Run(ctx, flow, pc)
	if err != nil {
		logger.Warn("run failed", "error", err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrCancelled, err)
	}

	if err := applyState(&working.State, flowName, res, now); err != nil {
		return nil, err
	}
	markdown := stages.RenderTable(res.Artifact)
	working.History = append(working.History, models.Message{
		Role:      models.RoleAssistant,
		Content:   markdown,
		Flow:      string(flowName),
		CreatedAt: time.Now().Unix(),
	})
	working.UpdatedAt = time.Now().Unix()

	if err := r.store.Save(ctx, working, expected); err != nil {
		if errors.Is(err, sessions.ErrVersionConflict) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", pipeline.ErrCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("save session: %w", err)
	}

	logger.Info("dispatch complete",
		"test_cases", len(res.Artifact.TestCases),
		"refinements", res.Attempts[pipeline.RoleRefiner],
		"version", working.Version,
	)

	return &Response{
		SessionID: working.ID,
		Flow:      flowName,
		Artifact:  res.Artifact,
		Markdown:  markdown,
		Attempts:  res.Attempts,
		Trace:     res.Trace,
	}, nil
}

// ClearSessionState empties the session's state, keeping its ID and
// history. Clearing an already empty state writes nothing. It returns the
// keys that were removed.
func (r *Router) ClearSessionState(ctx context.Context, sessionID string) ([]string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidRequest)
	}

	release, err := r.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := r.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.State.Len() == 0 {
		return []string{}, nil
	}

	keys := sess.State.Keys()
	expected := sess.Version
	sess.State.Clear()
	sess.UpdatedAt = time.Now().Unix()
	if err := r.store.Save(ctx, sess, expected); err != nil {
		return nil, fmt.Errorf("clear session state: %w", err)
	}

	r.logger.Info("session state cleared", "session_id", sessionID, "keys", len(keys))
	return keys, nil
}

func (r *Router) acquire(ctx context.Context, sessionID string) (func(), error) {
	release, err := r.locker.Acquire(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sessions.ErrBusy) {
			return nil, ErrSessionBusy
		}
		return nil, fmt.Errorf("%w: %w", pipeline.ErrCancelled, err)
	}
	return release, nil
}

// hasSuite reports whether the enhancer would find a suite to work on. It
// checks the same sources, in the same order, as the enhancer does.
func hasSuite(req Request, sess *models.Session) bool {
	if req.Artifact != nil && len(req.Artifact.TestCases) > 0 {
		return true
	}
	var current models.TestSuite
	if found, err := sess.State.Get(models.StateCurrentTestCases, &current); err == nil && found && len(current.TestCases) > 0 {
		return true
	}
	_, ok := stages.ParseTable(req.Message)
	return ok
}

func (r *Router) load(ctx context.Context, id string) (*models.Session, error) {
	sess, err := r.store.Load(ctx, id)
	if errors.Is(err, sessions.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return sess, nil
}

// applyState writes the run's outcome into the session state.
func applyState(st *models.State, flow models.FlowName, res *pipeline.Result, now int64) error {
	if err := st.Set(models.StateCurrentTestCases, res.Artifact); err != nil {
		return err
	}
	if flow == models.FlowGeneration {
		if reqs, ok := res.Intermediate[pipeline.RoleRequirementAnalyst].(models.Requirements); ok {
			if err := st.Set(models.StateRequirements, reqs.Features); err != nil {
				return err
			}
		}
	}

	var history []HistoryEntry
	if _, err := st.Get(models.StateTestCaseHistory, &history); err != nil {
		return err
	}
	history = append(history, HistoryEntry{Flow: flow, CreatedAt: now, Suite: res.Artifact})
	if err := st.Set(models.StateTestCaseHistory, history); err != nil {
		return err
	}

	if err := st.Set(models.StateLastFlow, flow); err != nil {
		return err
	}
	return st.Set(models.StateAttempts, res.Attempts)
}

// HistoryEntry is one accepted suite in all_testcases_history.
type HistoryEntry struct {
	Flow      models.FlowName   `json:"flow"`
	CreatedAt int64             `json:"createdAt"`
	Suite     *models.TestSuite `json:"suite"`
}
