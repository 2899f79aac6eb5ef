package domain

// RequestType distinguishes how a request entered the pipeline.
type RequestType string

const (
	RequestUser     RequestType = "user"     // direct user prompt
	RequestSchedule RequestType = "schedule" // agent scheduled it mid-stream
	RequestTodo     RequestType = "todo"     // continuation driven by open todos
)

// Rect is an axis-aligned region of the canvas.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// ContextItem is a piece of host-supplied context attached to a request:
// a record snapshot, an image, or free text.
type ContextItem struct {
	Type string `json:"type"` // "text", "shape", "image"
	Text string `json:"text,omitempty"`
	// Shape holds a record snapshot for "shape" items.
	Shape map[string]any `json:"shape,omitempty"`
	// Image holds base64 data for "image" items.
	Image    string `json:"image,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ShapeRef identifies a selected canvas record.
type ShapeRef struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
}

// Request is one unit of scheduled work for the agent. Immutable once
// submitted; built by merging a partial input with defaults drawn from the
// currently active request.
type Request struct {
	ID             string
	Type           RequestType
	Messages       []string
	ContextItems   []ContextItem
	SelectedShapes []ShapeRef
	Data           []any
	Bounds         Rect
	ModelName      string
}

// PromptInput is the partial form accepted by Prompt and Schedule. A bare
// string and a string list are both expressed through it; Message, when set,
// is prepended to Messages.
type PromptInput struct {
	Message        string
	Messages       []string
	ContextItems   []ContextItem
	SelectedShapes []ShapeRef
	Data           []any
	Bounds         *Rect
	ModelName      string
	Type           RequestType
}

// AllMessages returns Message prepended to Messages.
func (in PromptInput) AllMessages() []string {
	if in.Message == "" {
		return in.Messages
	}
	return append([]string{in.Message}, in.Messages...)
}
