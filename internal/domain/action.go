package domain

import "encoding/json"

// Known action types emitted by the model. The set is open: unknown types are
// routed to the orchestrator's fallback handler rather than rejected.
const (
	ActionMessage = "message"
	ActionThink   = "think"
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionMove    = "move"
	ActionDelete  = "delete"
	ActionTodo    = "todo"
)

// Action is one discrete unit of agent output: a canvas edit, a chat message,
// a todo update. Fields holds the type-specific payload as decoded JSON.
//
// Complete=false actions are provisional: the same logical action may be
// re-emitted with more fields as the stream grows, and exactly one
// Complete=true emission follows, no earlier than every provisional one.
type Action struct {
	Type     string
	Complete bool
	TimeMs   int64
	Fields   map[string]any
}

// ActionFromRaw decodes a raw action object. A payload without a "_type"
// discriminator yields an Action with empty Type; it is still returned so the
// orchestrator can route it to the fallback handler.
func ActionFromRaw(raw map[string]any) Action {
	a := Action{Fields: raw}
	if t, ok := raw["_type"].(string); ok {
		a.Type = t
	}
	return a
}

// Text returns the string value of a payload field, or "" when absent.
func (a Action) Text(key string) string {
	s, _ := a.Fields[key].(string)
	return s
}

// Number returns the numeric value of a payload field, or 0 when absent.
func (a Action) Number(key string) float64 {
	n, _ := a.Fields[key].(float64)
	return n
}

// Has reports whether the payload contains the given field.
func (a Action) Has(key string) bool {
	_, ok := a.Fields[key]
	return ok
}

// Clone returns a copy with an independent shallow copy of Fields.
func (a Action) Clone() Action {
	fields := make(map[string]any, len(a.Fields))
	for k, v := range a.Fields {
		fields[k] = v
	}
	a.Fields = fields
	return a
}

// MarshalJSON renders the action as its payload plus the pipeline-stamped
// "complete" and "time_ms" fields.
func (a Action) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(a.Fields)+2)
	for k, v := range a.Fields {
		out[k] = v
	}
	out["complete"] = a.Complete
	out["time_ms"] = a.TimeMs
	return json.Marshal(out)
}

// SkipsHistory reports whether this action type is informational and is
// applied without being recorded in chat history.
func (a Action) SkipsHistory() bool {
	return a.Type == ActionThink
}

// StreamMeta is vendor metadata attached to the final event of a stream.
type StreamMeta struct {
	Usage      Usage
	Cache      CacheMetrics
	ResponseID string
}

// Usage tracks token consumption for one request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CacheMetrics is provider-reported prompt cache activity, informational only.
type CacheMetrics struct {
	Created int `json:"created"`
	Read    int `json:"read"`
}

// ActionEvent is one element of a provider's normalized action stream.
// Exactly one of Action, Meta, Err is meaningful per event; Meta arrives on
// the final event before the channel closes, Err terminates the stream.
type ActionEvent struct {
	Action *Action
	Meta   *StreamMeta
	Err    error
}
