package usecase

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"easel-ai/internal/domain"
)

func TestBuildMessagesFiltersHistory(t *testing.T) {
	history := []domain.HistoryItem{
		{
			Kind:   domain.HistoryPrompt,
			Prompt: &domain.PromptRecord{Messages: []string{"draw a box"}},
		},
		{
			Kind: domain.HistoryAction,
			Action: &domain.ActionRecord{
				Action:     domain.Action{Type: domain.ActionThink, Complete: true, Fields: map[string]any{"_type": "think", "text": "hmm"}},
				Acceptance: domain.AcceptancePending,
			},
		},
		{
			Kind: domain.HistoryAction,
			Action: &domain.ActionRecord{
				Action:     domain.Action{Type: domain.ActionCreate, Complete: true, Fields: map[string]any{"_type": "create", "type": "rect"}},
				Acceptance: domain.AcceptancePending,
			},
		},
		{
			Kind: domain.HistoryAction,
			Action: &domain.ActionRecord{
				Action:     domain.Action{Type: domain.ActionCreate, Complete: true, Fields: map[string]any{"_type": "create", "type": "oops"}},
				Acceptance: domain.AcceptanceRejected,
			},
		},
		{
			Kind:         domain.HistoryContinuation,
			Continuation: &domain.ContinuationRecord{Data: []any{"carried"}},
		},
	}

	msgs := BuildMessages(history, domain.Request{Type: domain.RequestUser, Messages: []string{"now move it"}})

	// prompt, surviving action, continuation, current request.
	require.Len(t, msgs, 4)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "draw a box", msgs[0].JoinedText())

	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Contains(t, msgs[1].JoinedText(), `"rect"`)
	for _, m := range msgs {
		assert.NotContains(t, m.JoinedText(), "hmm", "think actions never re-enter context")
		assert.NotContains(t, m.JoinedText(), "oops", "rejected actions never re-enter context")
	}

	assert.Contains(t, msgs[2].JoinedText(), "carried")
	assert.Equal(t, "now move it", msgs[3].JoinedText())
}

func TestRequestMessageIncludesContextAndSelection(t *testing.T) {
	req := domain.Request{
		Type:     domain.RequestUser,
		Messages: []string{"align these"},
		ContextItems: []domain.ContextItem{
			{Type: "text", Text: "the header row"},
			{Type: "shape", Shape: map[string]any{"id": "s1", "type": "rect"}},
			{Type: "image", Image: "aGVsbG8=", MimeType: "image/png"},
		},
		SelectedShapes: []domain.ShapeRef{{ID: "s1", Type: "rect"}},
		Bounds:         domain.Rect{X: 0, Y: 0, W: 1920, H: 1080},
	}

	msgs := BuildMessages(nil, req)
	require.Len(t, msgs, 1)
	msg := msgs[0]
	assert.Equal(t, "user", msg.Role)

	var imageParts int
	for _, p := range msg.Parts {
		if p.Image != nil {
			imageParts++
			assert.Equal(t, "image/png", p.Image.MimeType)
			assert.Equal(t, "aGVsbG8=", p.Image.Data)
		}
	}
	assert.Equal(t, 1, imageParts)

	joined := msg.JoinedText()
	assert.Contains(t, joined, "align these")
	assert.Contains(t, joined, "the header row")
	assert.Contains(t, joined, `"s1"`)
	assert.Contains(t, joined, "Viewport: x=0 y=0 w=1920 h=1080")
}

func TestRequestTypePrefixes(t *testing.T) {
	todo := BuildMessages(nil, domain.Request{Type: domain.RequestTodo})
	assert.Contains(t, todo[0].JoinedText(), "[todo follow-up]")

	sched := BuildMessages(nil, domain.Request{Type: domain.RequestSchedule, Messages: []string{"later"}})
	assert.Contains(t, sched[0].JoinedText(), "[scheduled follow-up]")
	assert.Contains(t, sched[0].JoinedText(), "later")
}

func TestBuildSystemPrompt(t *testing.T) {
	base := BuildSystemPrompt("")
	assert.Contains(t, base, `{"actions": [...]}`)

	custom := BuildSystemPrompt("Always use blue.")
	assert.True(t, strings.HasSuffix(custom, "Always use blue."))
	assert.Contains(t, custom, `{"actions": [...]}`)
}

func TestGuardContextSizeRejectsOversizedPrompt(t *testing.T) {
	huge := strings.Repeat("canvas layout planning ", 40_000)
	opts := domain.StreamOptions{
		Messages:  []domain.ModelMessage{domain.TextMessage("user", huge)},
		MaxTokens: 1024,
	}
	err := GuardContextSize("llama3.2", opts)
	require.ErrorIs(t, err, domain.ErrContextOverflow)
}

func TestGuardContextSizeAllowsNormalPrompt(t *testing.T) {
	opts := domain.StreamOptions{
		System:    BuildSystemPrompt(""),
		Messages:  []domain.ModelMessage{domain.TextMessage("user", "draw a rectangle")},
		MaxTokens: 1024,
	}
	assert.NoError(t, GuardContextSize("claude-sonnet-4-5", opts))
}
