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

// GoogleClient implements domain.ProviderClient for the Gemini API.
// Thought parts are filtered out of the response buffer and surfaced as
// thinking progress instead.
type GoogleClient struct {
	name    string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewGoogleClient creates a client for the Gemini API.
func NewGoogleClient(cfg config.ProviderConfig, logger *slog.Logger) *GoogleClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}

	return &GoogleClient{
		name:    "google",
		baseURL: baseURL,
		client:  NewHTTPClient(cfg),
		logger:  logger,
	}
}

// Name implements domain.ProviderClient.
func (c *GoogleClient) Name() string { return c.name }

// ParseError implements domain.ProviderClient.
func (c *GoogleClient) ParseError(err error) *domain.AIError {
	return domain.NormalizeError(c.name, err)
}

// --- Gemini wire types ---

type geminiRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenConfig  `json:"generationConfig,omitempty"`
}

type geminiGenConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	Thought    bool              `json:"thought,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiStreamChunk struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata,omitempty"`
}

type geminiModelList struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// StreamActions implements domain.ProviderClient.
func (c *GoogleClient) StreamActions(ctx context.Context, opts domain.StreamOptions) (<-chan domain.ActionEvent, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.stream",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", c.name),
			tracer.StringAttr("llm.model", opts.Model),
		),
	)
	defer span.End()

	req := c.buildRequest(opts)
	body, err := json.Marshal(req)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse&key=%s",
		c.baseURL, opts.Model, opts.APIKey)

	httpResp, err := doStreamRequest(ctx, c.client, url, body, nil)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)

	ch := parseSSEStream(ctx, httpResp.Body, func(data []byte) (*textChunk, error) {
		var chunk geminiStreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return nil, err
		}

		out := &textChunk{}
		if len(chunk.Candidates) > 0 {
			for _, part := range chunk.Candidates[0].Content.Parts {
				if part.Text == "" {
					continue
				}
				// Thought parts never reach the action buffer.
				if part.Thought {
					out.Thinking += part.Text
					continue
				}
				out.Text += part.Text
			}
		}
		if chunk.UsageMetadata != nil {
			out.Usage = &domain.Usage{
				PromptTokens:     chunk.UsageMetadata.PromptTokenCount,
				CompletionTokens: chunk.UsageMetadata.CandidatesTokenCount,
				TotalTokens:      chunk.UsageMetadata.TotalTokenCount,
			}
		}
		return out, nil
	})

	return runActionPipeline(ctx, ch, pipelineOptions{}), nil
}

func (c *GoogleClient) buildRequest(opts domain.StreamOptions) geminiRequest {
	req := geminiRequest{
		GenerationConfig: &geminiGenConfig{
			MaxOutputTokens:  opts.MaxTokens,
			ResponseMimeType: "application/json",
		},
	}
	if opts.Temperature != 0 {
		t := opts.Temperature
		req.GenerationConfig.Temperature = &t
	}
	if opts.System != "" {
		req.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: opts.System}},
		}
	}

	for _, m := range opts.Messages {
		role := "user"
		if m.Role == domain.RoleAssistant {
			role = "model"
		}
		req.Contents = append(req.Contents, geminiContent{
			Role:  role,
			Parts: toGeminiParts(m.Parts),
		})
	}

	return req
}

func toGeminiParts(parts []domain.ContentPart) []geminiPart {
	out := make([]geminiPart, 0, len(parts))
	for _, p := range parts {
		if p.Image != nil {
			out = append(out, geminiPart{
				InlineData: &geminiInlineData{
					MimeType: p.Image.MimeType,
					Data:     p.Image.Data,
				},
			})
			continue
		}
		out = append(out, geminiPart{Text: p.Text})
	}
	return out
}

// TestConnection implements domain.ProviderClient.
func (c *GoogleClient) TestConnection(ctx context.Context, apiKey string) (*domain.ConnectionResult, error) {
	url := fmt.Sprintf("%s/v1beta/models?key=%s", c.baseURL, apiKey)
	respBody, err := doGetRequest(ctx, c.client, url, nil)
	if err != nil {
		return nil, err
	}

	var list geminiModelList
	if err := json.Unmarshal(respBody, &list); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	result := &domain.ConnectionResult{}
	for _, m := range list.Models {
		result.Models = append(result.Models, strings.TrimPrefix(m.Name, "models/"))
	}
	return result, nil
}

var _ domain.ProviderClient = (*GoogleClient)(nil)
