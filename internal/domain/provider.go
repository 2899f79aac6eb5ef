package domain

import "context"

// Message roles on the provider wire.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ContentPart is one ordered part of a message: text, or an inline image.
type ContentPart struct {
	Text  string
	Image *ImagePart
}

// ImagePart is an inline image, base64-encoded. Each provider client
// translates it to the vendor's representation (base64 source block or
// data URL).
type ImagePart struct {
	MimeType string
	Data     string
}

// ModelMessage is one conversation message sent to a provider.
type ModelMessage struct {
	Role  string
	Parts []ContentPart
}

// TextMessage builds a single-part text message.
func TextMessage(role, text string) ModelMessage {
	return ModelMessage{Role: role, Parts: []ContentPart{{Text: text}}}
}

// JoinedText returns the concatenation of the message's text parts.
func (m ModelMessage) JoinedText() string {
	var out string
	for _, p := range m.Parts {
		out += p.Text
	}
	return out
}

// StreamOptions is the normalized input every provider client accepts.
type StreamOptions struct {
	APIKey      string
	Model       string
	Messages    []ModelMessage
	System      string
	MaxTokens   int
	Temperature float64
	// BaseURL overrides the vendor endpoint (self-hosted only).
	BaseURL string
	// PreviousResponseID selects the stateful continuation path where the
	// vendor supports one.
	PreviousResponseID string
	EnableCaching      bool
}

// ConnectionResult is the outcome of a successful connection test.
type ConnectionResult struct {
	Models []string
}

// ProviderClient is the uniform contract over the four backends. Clients are
// stateless; the registry owns the only shared instance cache.
type ProviderClient interface {
	Name() string
	// StreamActions opens a vendor stream and yields normalized actions.
	// The channel closes at stream end; a terminal failure arrives as a
	// single ActionEvent with Err set. Cancelling ctx aborts the stream.
	StreamActions(ctx context.Context, opts StreamOptions) (<-chan ActionEvent, error)
	// TestConnection verifies the key and lists available models.
	TestConnection(ctx context.Context, apiKey string) (*ConnectionResult, error)
	// ParseError normalizes a vendor-native error into an AIError.
	ParseError(err error) *AIError
}
