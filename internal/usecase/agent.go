package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"easel-ai/internal/domain"
	"easel-ai/internal/usecase/retry"
)

// maxContinuations caps scheduled/todo chaining per user prompt so a model
// that keeps reopening todos cannot loop forever.
const maxContinuations = 10

// Deps are the agent's collaborators.
type Deps struct {
	Facade   *Facade
	Document domain.Document
	Settings domain.SettingsSource
	Bus      domain.EventBus
	// Transcript is optional; nil disables archiving.
	Transcript Transcript
	Logger     *slog.Logger
}

// Agent owns conversation state and sequences one active request at a time:
// it applies each streamed action to the document with provisional revert
// semantics and chains continuation requests driven by scheduled work and
// outstanding todos.
type Agent struct {
	deps Deps

	mu           sync.Mutex
	history      []domain.HistoryItem
	todos        []domain.TodoItem
	contextItems []domain.ContextItem
	scheduled    *domain.PromptInput
	activeReq    *domain.Request
	activeCancel context.CancelFunc

	session sessionTracker

	// validator caches the compiled custom schema; guarded by mu so a
	// request starting while its predecessor is still tearing down sees a
	// consistent value.
	validator *actionValidator
}

// NewAgent wires an agent from its collaborators.
func NewAgent(deps Deps) (*Agent, error) {
	if deps.Facade == nil {
		return nil, fmt.Errorf("agent: facade is required")
	}
	if deps.Document == nil {
		return nil, fmt.Errorf("agent: document is required")
	}
	if deps.Settings == nil {
		return nil, fmt.Errorf("agent: settings source is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Agent{deps: deps}, nil
}

// Prompt submits user input and blocks until the request and every chained
// continuation finish. A nil error with no panic means the conversation is
// idle again; cancellation is not an error.
func (ag *Agent) Prompt(ctx context.Context, input domain.PromptInput) error {
	if input.Type == "" {
		input.Type = domain.RequestUser
	}
	return ag.runLoop(ctx, ag.buildRequest(input))
}

// Schedule queues follow-up work to run once the active request finishes.
// Merging into an already-pending schedule concatenates list fields and
// overrides scalar fields only when supplied.
func (ag *Agent) Schedule(input domain.PromptInput) {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	if ag.scheduled == nil {
		merged := input
		merged.Messages = input.AllMessages()
		merged.Message = ""
		ag.scheduled = &merged
		return
	}
	s := ag.scheduled
	s.Messages = append(s.Messages, input.AllMessages()...)
	s.ContextItems = append(s.ContextItems, input.ContextItems...)
	s.SelectedShapes = append(s.SelectedShapes, input.SelectedShapes...)
	s.Data = append(s.Data, input.Data...)
	if input.Bounds != nil {
		s.Bounds = input.Bounds
	}
	if input.ModelName != "" {
		s.ModelName = input.ModelName
	}
}

// Cancel aborts the active request and drops any scheduled one. Idempotent.
func (ag *Agent) Cancel() {
	ag.mu.Lock()
	cancel := ag.activeCancel
	ag.scheduled = nil
	ag.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Reset cancels and returns the agent to a fresh conversation origin:
// history, todos, context items, and provider session state are all cleared.
func (ag *Agent) Reset() {
	ag.Cancel()
	ag.mu.Lock()
	ag.history = nil
	ag.todos = nil
	ag.contextItems = nil
	ag.mu.Unlock()
	ag.session.Reset()
}

// AddContextItem attaches host context to every subsequent request until
// Reset.
func (ag *Agent) AddContextItem(item domain.ContextItem) {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	ag.contextItems = append(ag.contextItems, item)
}

// Accept marks an action history item accepted. Accepting a previously
// rejected action re-applies its diff.
func (ag *Agent) Accept(historyID string) error {
	return ag.setAcceptance(historyID, domain.AcceptanceAccepted)
}

// Reject marks an action history item rejected and inverse-applies its diff.
func (ag *Agent) Reject(historyID string) error {
	return ag.setAcceptance(historyID, domain.AcceptanceRejected)
}

func (ag *Agent) setAcceptance(historyID string, to domain.Acceptance) error {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	for i := range ag.history {
		item := &ag.history[i]
		if item.ID != historyID {
			continue
		}
		if item.Kind != domain.HistoryAction || item.Action == nil {
			return fmt.Errorf("history item %q is not an action", historyID)
		}
		from := item.Action.Acceptance
		if from == to {
			return nil
		}
		switch {
		case to == domain.AcceptanceRejected:
			ag.deps.Document.ApplyInverseDiff(item.Action.Diff)
		case from == domain.AcceptanceRejected:
			ag.deps.Document.ApplyDiff(item.Action.Diff)
		}
		item.Action.Acceptance = to
		return nil
	}
	return fmt.Errorf("history item %q not found", historyID)
}

// Todos returns a copy of the current todo list.
func (ag *Agent) Todos() []domain.TodoItem {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	return slices.Clone(ag.todos)
}

// History returns a copy of the conversation history.
func (ag *Agent) History() []domain.HistoryItem {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	return slices.Clone(ag.history)
}

// SessionState returns a snapshot of provider continuity state.
func (ag *Agent) SessionState() domain.ProviderSessionState {
	return ag.session.Snapshot()
}

// buildRequest merges a partial input with defaults drawn from the currently
// active request and the document.
func (ag *Agent) buildRequest(in domain.PromptInput) domain.Request {
	ag.mu.Lock()
	defer ag.mu.Unlock()

	req := domain.Request{
		ID:             ulid.Make().String(),
		Type:           in.Type,
		Messages:       in.AllMessages(),
		ContextItems:   append(slices.Clone(ag.contextItems), in.ContextItems...),
		SelectedShapes: in.SelectedShapes,
		Data:           in.Data,
		ModelName:      in.ModelName,
	}
	if req.Type == "" {
		req.Type = domain.RequestUser
	}
	switch {
	case in.Bounds != nil:
		req.Bounds = *in.Bounds
	case ag.activeReq != nil:
		req.Bounds = ag.activeReq.Bounds
	default:
		req.Bounds = ag.deps.Document.GetViewportBounds()
	}
	if req.ModelName == "" && ag.activeReq != nil {
		req.ModelName = ag.activeReq.ModelName
	}
	if len(req.SelectedShapes) == 0 {
		for _, rec := range ag.deps.Document.GetSelectedRecords() {
			req.SelectedShapes = append(req.SelectedShapes, domain.ShapeRef{ID: rec.ID, Type: rec.Type})
		}
	}
	return req
}

func (ag *Agent) runLoop(ctx context.Context, req domain.Request) error {
	for hops := 0; ; hops++ {
		cancelled, err := ag.runRequest(ctx, req)
		if err != nil || cancelled {
			return err
		}
		next, ok := ag.nextContinuation()
		if !ok {
			return nil
		}
		if hops >= maxContinuations {
			ag.deps.Logger.Warn("continuation cap reached, stopping chain", "hops", hops)
			return nil
		}
		ag.appendContinuation(next.Data)
		req = ag.buildRequest(next)
	}
}

// nextContinuation picks the follow-up after a non-cancelled completion:
// work the agent scheduled for itself wins, otherwise any todo not yet done
// triggers a todo continuation.
func (ag *Agent) nextContinuation() (domain.PromptInput, bool) {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	if ag.scheduled != nil {
		in := *ag.scheduled
		ag.scheduled = nil
		in.Type = domain.RequestSchedule
		return in, true
	}
	for _, t := range ag.todos {
		if t.Status != domain.TodoDone {
			return domain.PromptInput{Type: domain.RequestTodo}, true
		}
	}
	return domain.PromptInput{}, false
}

// runRequest drives one request end to end. The returned cancelled flag is
// distinct from the error: a cancelled request is not a failure and issues no
// continuation.
func (ag *Agent) runRequest(ctx context.Context, req domain.Request) (bool, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ag.mu.Lock()
	if ag.activeCancel != nil {
		ag.activeCancel()
	}
	ag.activeReq = &req
	ag.activeCancel = cancel
	historySnap := slices.Clone(ag.history)
	ag.mu.Unlock()

	// Each request carries its own provisional-action state: a request that
	// is preempted mid-stream must only ever unwind its own work, never its
	// successor's.
	st := &streamState{validator: ag.refreshValidator()}

	if req.Type != domain.RequestTodo {
		ag.appendPromptItem(req)
	}
	ag.publish(ctx, domain.EventStreamStarted, req.ID, req)

	ch, provider, err := ag.deps.Facade.StreamRequest(reqCtx, req, historySnap, ag.session.Snapshot())
	if err != nil {
		return ag.finishRequest(ctx, req, reqCtx, st, provider, err)
	}

	var streamErr error
	for ev := range ch {
		switch {
		case ev.Err != nil:
			streamErr = retry.AppendDelayHint(ev.Err)
		case ev.Action != nil:
			ag.handleStreamedAction(ctx, st, req.ID, *ev.Action)
		case ev.Meta != nil:
			ag.session.Update(provider, domain.SessionUpdate{
				ResponseID: ev.Meta.ResponseID,
				Cache:      &ev.Meta.Cache,
			})
			ag.publish(ctx, domain.EventStreamCompleted, req.ID, *ev.Meta)
		}
	}
	return ag.finishRequest(ctx, req, reqCtx, st, provider, streamErr)
}

func (ag *Agent) finishRequest(ctx context.Context, req domain.Request, reqCtx context.Context, st *streamState, provider string, err error) (bool, error) {
	ag.mu.Lock()
	if ag.activeReq != nil && ag.activeReq.ID == req.ID {
		ag.activeReq = nil
		ag.activeCancel = nil
	}
	ag.mu.Unlock()

	cancelled := reqCtx.Err() != nil || domain.IsCancellation(err)
	if cancelled || err != nil {
		ag.discardProvisional(st)
	} else {
		st.clear()
	}
	if cancelled {
		ag.deps.Logger.Info("request cancelled", "request_id", req.ID)
		return true, nil
	}
	if err != nil {
		aiErr := domain.NormalizeError(provider, err)
		ag.deps.Logger.Error("request failed", "request_id", req.ID, "error", err)
		ag.publish(ctx, domain.EventStreamError, req.ID, domain.StreamErrorPayload{Error: aiErr})
		return false, err
	}
	ag.archive(ctx, req.ID)
	return false, nil
}

func (ag *Agent) refreshValidator() *actionValidator {
	raw := ag.deps.Settings.GetSettings().CustomSchema
	ag.mu.Lock()
	defer ag.mu.Unlock()
	if ag.validator.matches(raw) {
		return ag.validator
	}
	v, err := newActionValidator(raw)
	if err != nil {
		ag.deps.Logger.Warn("custom action schema rejected, validation disabled", "error", err)
		v = &actionValidator{}
	}
	ag.validator = v
	return v
}

func (ag *Agent) appendPromptItem(req domain.Request) {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	ag.history = append(ag.history, domain.HistoryItem{
		ID:   ulid.Make().String(),
		Kind: domain.HistoryPrompt,
		Time: time.Now(),
		Prompt: &domain.PromptRecord{
			Messages:       req.Messages,
			ContextItems:   req.ContextItems,
			SelectedShapes: req.SelectedShapes,
			Bounds:         req.Bounds,
		},
	})
}

func (ag *Agent) appendContinuation(data []any) {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	ag.history = append(ag.history, domain.HistoryItem{
		ID:           ulid.Make().String(),
		Kind:         domain.HistoryContinuation,
		Time:         time.Now(),
		Continuation: &domain.ContinuationRecord{Data: data},
	})
}

func (ag *Agent) archive(ctx context.Context, requestID string) {
	if ag.deps.Transcript == nil {
		return
	}
	if err := ag.deps.Transcript.Archive(ctx, requestID, ag.History()); err != nil {
		ag.deps.Logger.Warn("transcript archive failed", "request_id", requestID, "error", err)
	}
}

func (ag *Agent) publish(ctx context.Context, t domain.EventType, requestID string, payload any) {
	if ag.deps.Bus == nil {
		return
	}
	ag.deps.Bus.Publish(ctx, domain.Event{Type: t, RequestID: requestID, Payload: payload})
}
