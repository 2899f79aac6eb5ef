package domain

import (
	"context"
	"time"
)

// EventType tags progress events published by the pipeline.
type EventType string

const (
	EventStreamStarted   EventType = "stream.started"
	EventStreamDelta     EventType = "stream.delta"
	EventStreamCompleted EventType = "stream.completed"
	EventStreamError     EventType = "stream.error"
	EventThinkingDelta   EventType = "thinking.delta"
	EventActionApplied   EventType = "action.applied"
)

// Event is one progress notification. Payload shape depends on Type.
type Event struct {
	Type      EventType
	RequestID string
	Payload   any
	Time      time.Time
}

// ThinkingDeltaPayload carries filtered thinking text as a progress signal.
type ThinkingDeltaPayload struct {
	Text string `json:"text"`
}

// ActionAppliedPayload carries a completed action and the diff it produced.
type ActionAppliedPayload struct {
	Action Action `json:"action"`
	Diff   Diff   `json:"diff"`
}

// StreamErrorPayload carries a terminal stream error.
type StreamErrorPayload struct {
	Error *AIError `json:"error"`
}

// EventHandler consumes published events.
type EventHandler func(ctx context.Context, event Event)

// EventBus fans events out to subscribers.
type EventBus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(eventType EventType, handler EventHandler) (unsubscribe func())
	SubscribeAll(handler EventHandler) (unsubscribe func())
}
