package domain

import "time"

// HistoryKind tags the chat history union.
type HistoryKind string

const (
	HistoryPrompt       HistoryKind = "prompt"
	HistoryAction       HistoryKind = "action"
	HistoryContinuation HistoryKind = "continuation"
)

// Acceptance is the user-facing state of an applied action's diff.
type Acceptance string

const (
	AcceptancePending  Acceptance = "pending"
	AcceptanceAccepted Acceptance = "accepted"
	AcceptanceRejected Acceptance = "rejected"
)

// PromptRecord snapshots a user message and its context at submission time.
type PromptRecord struct {
	Messages       []string
	ContextItems   []ContextItem
	SelectedShapes []ShapeRef
	Bounds         Rect
}

// ActionRecord pairs an applied action with the document diff it produced.
type ActionRecord struct {
	Action     Action
	Diff       Diff
	Acceptance Acceptance
}

// ContinuationRecord bridges two chained requests, carrying any
// asynchronously resolved data from the previous one.
type ContinuationRecord struct {
	Data []any
}

// HistoryItem is one entry of the conversation. Exactly one of the record
// pointers matching Kind is non-nil. Append-only during a request; the
// acceptance state of action items is mutated later by the consumer.
type HistoryItem struct {
	ID           string
	Kind         HistoryKind
	Time         time.Time
	Prompt       *PromptRecord
	Action       *ActionRecord
	Continuation *ContinuationRecord
}
