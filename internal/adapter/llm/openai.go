package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"easel-ai/internal/domain"
	"easel-ai/internal/infra/config"
	"easel-ai/internal/infra/tracer"
)

// OpenAIClient implements domain.ProviderClient for the OpenAI API. The
// stateless chat completions endpoint is the default; when a previous
// response ID is present the stateful Responses endpoint is used instead,
// falling back to chat completions if that path fails.
type OpenAIClient struct {
	name    string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewOpenAIClient creates a client for the OpenAI API.
func NewOpenAIClient(cfg config.ProviderConfig, logger *slog.Logger) *OpenAIClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &OpenAIClient{
		name:    "openai",
		baseURL: baseURL,
		client:  NewHTTPClient(cfg),
		logger:  logger,
	}
}

// Name implements domain.ProviderClient.
func (c *OpenAIClient) Name() string { return c.name }

// ParseError implements domain.ProviderClient.
func (c *OpenAIClient) ParseError(err error) *domain.AIError {
	return domain.NormalizeError(c.name, err)
}

// --- chat completions wire types ---

type openaiChatRequest struct {
	Model          string               `json:"model"`
	Messages       []openaiChatMessage  `json:"messages"`
	MaxTokens      int                  `json:"max_completion_tokens,omitempty"`
	Temperature    *float64             `json:"temperature,omitempty"`
	Stream         bool                 `json:"stream"`
	StreamOptions  *openaiStreamOptions `json:"stream_options,omitempty"`
	ResponseFormat *openaiRespFormat    `json:"response_format,omitempty"`
}

type openaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiRespFormat struct {
	Type string `json:"type"`
}

type openaiChatMessage struct {
	Role    string              `json:"role"`
	Content []openaiContentPart `json:"content"`
}

type openaiContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openaiImageURL `json:"image_url,omitempty"`
}

type openaiImageURL struct {
	URL string `json:"url"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiStreamChunk struct {
	ID      string `json:"id"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openaiUsage `json:"usage,omitempty"`
}

// --- Responses endpoint wire types ---

type openaiResponsesRequest struct {
	Model              string           `json:"model"`
	Input              []openaiRespItem `json:"input"`
	Instructions       string           `json:"instructions,omitempty"`
	PreviousResponseID string           `json:"previous_response_id,omitempty"`
	MaxOutputTokens    int              `json:"max_output_tokens,omitempty"`
	Temperature        *float64         `json:"temperature,omitempty"`
	Stream             bool             `json:"stream"`
	Store              bool             `json:"store"`
}

type openaiRespItem struct {
	Role    string              `json:"role"`
	Content []openaiRespContent `json:"content"`
}

type openaiRespContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type openaiRespStreamEvent struct {
	Type     string `json:"type"`
	Delta    string `json:"delta,omitempty"`
	Response *struct {
		ID    string `json:"id"`
		Usage *struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
			TotalTokens  int `json:"total_tokens"`
		} `json:"usage"`
	} `json:"response,omitempty"`
}

type openaiModelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// StreamActions implements domain.ProviderClient.
func (c *OpenAIClient) StreamActions(ctx context.Context, opts domain.StreamOptions) (<-chan domain.ActionEvent, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.stream",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", c.name),
			tracer.StringAttr("llm.model", opts.Model),
		),
	)
	defer span.End()

	var ch <-chan textChunk
	var err error

	if opts.PreviousResponseID != "" {
		ch, err = c.openResponsesStream(ctx, opts)
		if err != nil && !domain.IsCancellation(err) {
			// The server-side conversation may have expired; the chat path
			// rebuilds the full context from our own history instead.
			c.logger.Warn("responses endpoint failed, falling back to chat completions",
				"error", err)
			ch, err = c.openChatStream(ctx, opts)
		}
	} else {
		ch, err = c.openChatStream(ctx, opts)
	}
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)

	return runActionPipeline(ctx, ch, pipelineOptions{}), nil
}

func (c *OpenAIClient) openChatStream(ctx context.Context, opts domain.StreamOptions) (<-chan textChunk, error) {
	req := openaiChatRequest{
		Model:          opts.Model,
		MaxTokens:      opts.MaxTokens,
		Stream:         true,
		StreamOptions:  &openaiStreamOptions{IncludeUsage: true},
		ResponseFormat: &openaiRespFormat{Type: "json_object"},
	}
	if opts.Temperature != 0 {
		t := opts.Temperature
		req.Temperature = &t
	}
	if opts.System != "" {
		req.Messages = append(req.Messages, openaiChatMessage{
			Role:    "system",
			Content: []openaiContentPart{{Type: "text", Text: opts.System}},
		})
	}
	for _, m := range opts.Messages {
		req.Messages = append(req.Messages, openaiChatMessage{
			Role:    m.Role,
			Content: toOpenAIParts(m.Parts),
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpResp, err := doStreamRequest(ctx, c.client, c.baseURL+"/chat/completions", body, c.authHeaders(opts.APIKey))
	if err != nil {
		return nil, err
	}

	return parseSSEStream(ctx, httpResp.Body, func(data []byte) (*textChunk, error) {
		var chunk openaiStreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return nil, err
		}

		// The chat path never emits a response ID: only the Responses
		// endpoint produces continuable server-side state. The usage chunk
		// follows finish_reason, so only [DONE] terminates the stream.
		out := &textChunk{}
		if len(chunk.Choices) > 0 {
			out.Text = chunk.Choices[0].Delta.Content
		}
		if chunk.Usage != nil {
			out.Usage = &domain.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		return out, nil
	}), nil
}

func (c *OpenAIClient) openResponsesStream(ctx context.Context, opts domain.StreamOptions) (<-chan textChunk, error) {
	req := openaiResponsesRequest{
		Model:              opts.Model,
		Instructions:       opts.System,
		PreviousResponseID: opts.PreviousResponseID,
		MaxOutputTokens:    opts.MaxTokens,
		Stream:             true,
		Store:              true,
	}
	if opts.Temperature != 0 {
		t := opts.Temperature
		req.Temperature = &t
	}
	for _, m := range opts.Messages {
		req.Input = append(req.Input, openaiRespItem{
			Role:    m.Role,
			Content: toOpenAIRespContent(m),
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpResp, err := doStreamRequest(ctx, c.client, c.baseURL+"/responses", body, c.authHeaders(opts.APIKey))
	if err != nil {
		return nil, err
	}

	return parseSSEStream(ctx, httpResp.Body, func(data []byte) (*textChunk, error) {
		var evt openaiRespStreamEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, err
		}

		switch evt.Type {
		case "response.output_text.delta":
			return &textChunk{Text: evt.Delta}, nil

		case "response.completed":
			out := &textChunk{Done: true}
			if evt.Response != nil {
				out.ResponseID = evt.Response.ID
				if evt.Response.Usage != nil {
					out.Usage = &domain.Usage{
						PromptTokens:     evt.Response.Usage.InputTokens,
						CompletionTokens: evt.Response.Usage.OutputTokens,
						TotalTokens:      evt.Response.Usage.TotalTokens,
					}
				}
			}
			return out, nil

		case "response.failed", "error":
			return &textChunk{Err: fmt.Errorf("%w: responses stream failed", domain.ErrServer)}, nil

		default:
			return nil, nil
		}
	}), nil
}

func (c *OpenAIClient) authHeaders(apiKey string) map[string]string {
	headers := map[string]string{}
	if apiKey != "" {
		headers["Authorization"] = "Bearer " + apiKey
	}
	return headers
}

func toOpenAIParts(parts []domain.ContentPart) []openaiContentPart {
	out := make([]openaiContentPart, 0, len(parts))
	for _, p := range parts {
		if p.Image != nil {
			out = append(out, openaiContentPart{
				Type:     "image_url",
				ImageURL: &openaiImageURL{URL: dataURL(p.Image)},
			})
			continue
		}
		out = append(out, openaiContentPart{Type: "text", Text: p.Text})
	}
	return out
}

func toOpenAIRespContent(m domain.ModelMessage) []openaiRespContent {
	textType := "input_text"
	if m.Role == domain.RoleAssistant {
		textType = "output_text"
	}
	out := make([]openaiRespContent, 0, len(m.Parts))
	for _, p := range m.Parts {
		if p.Image != nil {
			out = append(out, openaiRespContent{Type: "input_image", ImageURL: dataURL(p.Image)})
			continue
		}
		out = append(out, openaiRespContent{Type: textType, Text: p.Text})
	}
	return out
}

func dataURL(img *domain.ImagePart) string {
	return fmt.Sprintf("data:%s;base64,%s", img.MimeType, img.Data)
}

// TestConnection implements domain.ProviderClient.
func (c *OpenAIClient) TestConnection(ctx context.Context, apiKey string) (*domain.ConnectionResult, error) {
	respBody, err := doGetRequest(ctx, c.client, c.baseURL+"/models", c.authHeaders(apiKey))
	if err != nil {
		return nil, err
	}

	var list openaiModelList
	if err := json.Unmarshal(respBody, &list); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	result := &domain.ConnectionResult{}
	for _, m := range list.Data {
		result.Models = append(result.Models, m.ID)
	}
	return result, nil
}

var _ domain.ProviderClient = (*OpenAIClient)(nil)
