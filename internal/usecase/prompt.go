package usecase

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"easel-ai/internal/domain"
)

const baseSystemPrompt = `You are an assistant that manipulates a shared canvas by emitting actions.

Respond with a single JSON object of the form {"actions": [...]}. Each action
is an object whose "_type" field is one of:

  think   - reasoning visible to the user but not kept in history ({"_type":"think","text":...})
  message - a chat reply to the user ({"_type":"message","text":...})
  create  - create a canvas record ({"_type":"create","type":...,"props":{...}})
  update  - update a canvas record by id ({"_type":"update","id":...,"props":{...}})
  move    - move a canvas record ({"_type":"move","id":...,"x":...,"y":...})
  delete  - delete a canvas record ({"_type":"delete","id":...})
  todo    - manage the todo list ({"_type":"todo","text":...} or {"_type":"todo","todos":[...]})

Emit actions in the order they should be applied. Keep each action focused on
a single change. Do not emit any text outside the JSON object.`

// BuildSystemPrompt combines the base system prompt with any user-provided
// extension.
func BuildSystemPrompt(custom string) string {
	if custom == "" {
		return baseSystemPrompt
	}
	return baseSystemPrompt + "\n\n" + custom
}

// BuildMessages converts accepted history plus the current request into the
// provider-neutral message list. Think actions never re-enter the context,
// and neither do rejected ones.
func BuildMessages(history []domain.HistoryItem, req domain.Request) []domain.ModelMessage {
	msgs := make([]domain.ModelMessage, 0, len(history)+1)
	for _, item := range history {
		switch item.Kind {
		case domain.HistoryPrompt:
			if item.Prompt == nil {
				continue
			}
			p := item.Prompt
			msgs = append(msgs, buildUserMessage("", p.Messages, p.ContextItems, p.SelectedShapes, p.Bounds))
		case domain.HistoryAction:
			if item.Action == nil || item.Action.Action.SkipsHistory() {
				continue
			}
			if item.Action.Acceptance == domain.AcceptanceRejected {
				continue
			}
			raw, err := json.Marshal(map[string]any{"actions": []domain.Action{item.Action.Action}})
			if err != nil {
				continue
			}
			msgs = append(msgs, domain.ModelMessage{
				Role:  "assistant",
				Parts: []domain.ContentPart{{Text: string(raw)}},
			})
		case domain.HistoryContinuation:
			if item.Continuation == nil {
				continue
			}
			raw, err := json.Marshal(item.Continuation.Data)
			if err != nil {
				continue
			}
			msgs = append(msgs, domain.TextMessage("user", "Continue with the following follow-up work: "+string(raw)))
		}
	}
	msgs = append(msgs, requestToMessage(req))
	return msgs
}

func requestToMessage(req domain.Request) domain.ModelMessage {
	var prefix string
	switch req.Type {
	case domain.RequestSchedule:
		prefix = "[scheduled follow-up]"
	case domain.RequestTodo:
		prefix = "[todo follow-up] Work on the open todo items."
	}
	msg := buildUserMessage(prefix, req.Messages, req.ContextItems, req.SelectedShapes, req.Bounds)
	if len(req.Data) > 0 {
		raw, err := json.Marshal(req.Data)
		if err == nil {
			msg.Parts = append(msg.Parts, domain.ContentPart{Text: "Carried data: " + string(raw)})
		}
	}
	return msg
}

func buildUserMessage(prefix string, messages []string, items []domain.ContextItem, selected []domain.ShapeRef, bounds domain.Rect) domain.ModelMessage {
	msg := domain.ModelMessage{Role: "user"}

	var b strings.Builder
	if prefix != "" {
		b.WriteString(prefix)
	}
	for _, m := range messages {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m)
	}

	flush := func() {
		if b.Len() > 0 {
			msg.Parts = append(msg.Parts, domain.ContentPart{Text: b.String()})
			b.Reset()
		}
	}

	for _, item := range items {
		switch {
		case item.Image != "":
			flush()
			msg.Parts = append(msg.Parts, domain.ContentPart{
				Image: &domain.ImagePart{MimeType: item.MimeType, Data: item.Image},
			})
		case item.Shape != nil:
			raw, err := json.Marshal(item.Shape)
			if err == nil {
				b.WriteString("\n\nContext shape: ")
				b.Write(raw)
			}
		case item.Text != "":
			b.WriteString("\n\nContext: ")
			b.WriteString(item.Text)
		}
	}

	if len(selected) > 0 {
		raw, err := json.Marshal(selected)
		if err == nil {
			b.WriteString("\n\nSelected shapes: ")
			b.Write(raw)
		}
	}
	if bounds.W > 0 || bounds.H > 0 {
		fmt.Fprintf(&b, "\n\nViewport: x=%.0f y=%.0f w=%.0f h=%.0f",
			bounds.X, bounds.Y, bounds.W, bounds.H)
	}
	flush()
	if len(msg.Parts) == 0 {
		msg.Parts = []domain.ContentPart{{Text: ""}}
	}
	return msg
}

// modelContextWindow returns a conservative context window for the model
// family. Unknown models get a generous default so the guard only trips on
// clearly oversized prompts.
func modelContextWindow(model string) int {
	switch {
	case strings.HasPrefix(model, "claude"):
		return 200_000
	case strings.HasPrefix(model, "gemini"):
		return 1_000_000
	default:
		return 128_000
	}
}

// GuardContextSize estimates the prompt token count and fails fast with
// ErrContextOverflow before the provider would reject the request anyway.
// The cl100k estimate is approximate across vendors but close enough for a
// pre-flight guard.
func GuardContextSize(model string, opts domain.StreamOptions) error {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		// Encoding data unavailable; let the provider enforce its own limit.
		return nil
	}
	total := len(enc.Encode(opts.System, nil, nil))
	for _, msg := range opts.Messages {
		total += len(enc.Encode(msg.JoinedText(), nil, nil))
		for _, part := range msg.Parts {
			if part.Image != nil {
				// Flat estimate per image attachment.
				total += 1500
			}
		}
	}
	window := modelContextWindow(model)
	limit := window - opts.MaxTokens
	if limit <= 0 {
		limit = window
	}
	if total > limit {
		return fmt.Errorf("%w: estimated %d prompt tokens exceeds %d for %s",
			domain.ErrContextOverflow, total, limit, model)
	}
	return nil
}
