package usecase

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"easel-ai/internal/domain"
	"easel-ai/internal/infra/tracer"
)

// streamState is the provisional-action working set of a single request.
// Each runRequest goroutine owns its own instance, so a request that dies
// mid-stream can only ever unwind diffs and history it produced itself.
type streamState struct {
	validator            *actionValidator
	provisionalDiff      *domain.Diff
	provisionalHistoryID string
	pendingCreateID      string
}

func (st *streamState) clear() {
	st.provisionalDiff = nil
	st.provisionalHistoryID = ""
	st.pendingCreateID = ""
}

// handleStreamedAction applies one emission from the parser in arrival order.
// Provisional emissions apply-then-track; before the next emission of the
// same logical action, the tracked diff is inverse-applied so re-application
// never double-counts.
func (a *Agent) handleStreamedAction(ctx context.Context, st *streamState, reqID string, act domain.Action) {
	if act.Type == domain.ActionThink {
		// Thinking is progress signal only: no document effect, no history.
		a.publish(ctx, domain.EventThinkingDelta, reqID, domain.ThinkingDeltaPayload{Text: act.Text("text")})
		return
	}

	a.publish(ctx, domain.EventStreamDelta, reqID, act)

	if st.provisionalDiff != nil {
		a.deps.Document.ApplyInverseDiff(*st.provisionalDiff)
		st.provisionalDiff = nil
	}

	if act.Complete && !st.validator.Valid(act) {
		a.deps.Logger.Warn("action failed custom schema validation, recording without applying",
			"type", act.Type, "request_id", reqID)
		a.recordAction(st, act, domain.Diff{})
		st.clear()
		return
	}

	diff := a.deps.Document.ExtractDiff(func() {
		a.applyAction(st, act)
	})
	a.recordAction(st, act, diff)

	if act.Complete {
		st.clear()
		a.publish(ctx, domain.EventActionApplied, reqID, domain.ActionAppliedPayload{Action: act, Diff: diff})
		_, span := tracer.StartSpan(ctx, "agent.apply_action",
			trace.WithAttributes(tracer.StringAttr("action.type", act.Type)))
		tracer.SetOK(span)
		span.End()
	} else {
		st.provisionalDiff = &diff
	}
}

// discardProvisional undoes a half-applied action when a stream ends before
// its completing emission arrives.
func (a *Agent) discardProvisional(st *streamState) {
	if st.provisionalDiff != nil {
		a.deps.Document.ApplyInverseDiff(*st.provisionalDiff)
	}
	if st.provisionalHistoryID != "" {
		a.mu.Lock()
		for i := len(a.history) - 1; i >= 0; i-- {
			if a.history[i].ID == st.provisionalHistoryID {
				a.history = append(a.history[:i], a.history[i+1:]...)
				break
			}
		}
		a.mu.Unlock()
	}
	st.clear()
}

// recordAction appends an action history item, or replaces the provisional
// item in place when this emission supersedes one.
func (a *Agent) recordAction(st *streamState, act domain.Action, diff domain.Diff) {
	rec := &domain.ActionRecord{Action: act, Diff: diff, Acceptance: domain.AcceptancePending}

	a.mu.Lock()
	defer a.mu.Unlock()
	if st.provisionalHistoryID != "" {
		for i := len(a.history) - 1; i >= 0; i-- {
			if a.history[i].ID == st.provisionalHistoryID {
				a.history[i].Action = rec
				a.history[i].Time = time.Now()
				return
			}
		}
	}
	item := domain.HistoryItem{
		ID:     ulid.Make().String(),
		Kind:   domain.HistoryAction,
		Time:   time.Now(),
		Action: rec,
	}
	a.history = append(a.history, item)
	st.provisionalHistoryID = item.ID
}

func (a *Agent) applyAction(st *streamState, act domain.Action) {
	switch act.Type {
	case domain.ActionCreate:
		a.applyCreate(st, act)
	case domain.ActionUpdate:
		a.applyUpdate(act)
	case domain.ActionMove:
		a.applyMove(act)
	case domain.ActionDelete:
		if id := act.Text("id"); id != "" {
			a.deps.Document.DeleteRecord(id)
		}
	case domain.ActionTodo:
		// Todo state lives outside the document diff, so provisional
		// emissions are recorded but only the completing one mutates the
		// list.
		if act.Complete {
			a.applyTodo(act)
		}
	case domain.ActionMessage:
		// Chat output only; history records it, the document is untouched.
	default:
		if act.Complete {
			a.deps.Logger.Warn("unrecognized action type, recording without applying", "type", act.Type)
		}
	}
}

func (a *Agent) applyCreate(st *streamState, act domain.Action) {
	id := act.Text("id")
	if id == "" {
		// Keep the record id stable across provisional re-emissions of the
		// same create.
		if st.pendingCreateID == "" {
			st.pendingCreateID = ulid.Make().String()
		}
		id = st.pendingCreateID
	}
	props, _ := act.Fields["props"].(map[string]any)
	a.deps.Document.CreateRecord(domain.Record{ID: id, Type: act.Text("type"), Props: props})
}

func (a *Agent) applyUpdate(act domain.Action) {
	rec, ok := a.deps.Document.GetRecord(act.Text("id"))
	if !ok {
		return
	}
	rec = domain.CloneRecord(rec)
	if props, ok := act.Fields["props"].(map[string]any); ok {
		if rec.Props == nil {
			rec.Props = make(map[string]any, len(props))
		}
		for k, v := range props {
			rec.Props[k] = v
		}
	}
	a.deps.Document.UpdateRecord(rec)
}

func (a *Agent) applyMove(act domain.Action) {
	rec, ok := a.deps.Document.GetRecord(act.Text("id"))
	if !ok {
		return
	}
	rec = domain.CloneRecord(rec)
	if rec.Props == nil {
		rec.Props = make(map[string]any, 2)
	}
	if act.Has("x") {
		rec.Props["x"] = act.Number("x")
	}
	if act.Has("y") {
		rec.Props["y"] = act.Number("y")
	}
	a.deps.Document.UpdateRecord(rec)
}

func (a *Agent) applyTodo(act domain.Action) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if raw, ok := act.Fields["todos"].([]any); ok {
		// Full-list replacement.
		items := make([]domain.TodoItem, 0, len(raw))
		for _, e := range raw {
			m, ok := e.(map[string]any)
			if !ok {
				continue
			}
			item := domain.TodoItem{Status: domain.TodoPending}
			if id, ok := m["id"].(string); ok && id != "" {
				item.ID = id
			} else {
				item.ID = ulid.Make().String()
			}
			if text, ok := m["text"].(string); ok {
				item.Text = text
			}
			if status, ok := m["status"].(string); ok && status != "" {
				item.Status = domain.TodoStatus(status)
			}
			items = append(items, item)
		}
		a.todos = items
		return
	}

	// Single upsert by id, append otherwise.
	id := act.Text("id")
	text := act.Text("text")
	status := domain.TodoStatus(act.Text("status"))
	if id != "" {
		for i := range a.todos {
			if a.todos[i].ID == id {
				if text != "" {
					a.todos[i].Text = text
				}
				if status != "" {
					a.todos[i].Status = status
				}
				return
			}
		}
	}
	if id == "" {
		id = ulid.Make().String()
	}
	if status == "" {
		status = domain.TodoPending
	}
	a.todos = append(a.todos, domain.TodoItem{ID: id, Text: text, Status: status})
}
