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

const (
	defaultAnthropicVersion = "2023-06-01"

	// anthropicPrefill forces the response to open as an actions object, so
	// the very first streamed bytes are parseable action payload.
	anthropicPrefill = `{"actions": [{"_type":`
)

// AnthropicClient implements domain.ProviderClient for the Anthropic
// Messages API, with prompt caching and assistant prefill.
type AnthropicClient struct {
	name    string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
	version string
}

// NewAnthropicClient creates a client for the Anthropic Messages API.
func NewAnthropicClient(cfg config.ProviderConfig, logger *slog.Logger) *AnthropicClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	return &AnthropicClient{
		name:    "anthropic",
		baseURL: baseURL,
		client:  NewHTTPClient(cfg),
		logger:  logger,
		version: defaultAnthropicVersion,
	}
}

// Name implements domain.ProviderClient.
func (c *AnthropicClient) Name() string { return c.name }

// ParseError implements domain.ProviderClient.
func (c *AnthropicClient) ParseError(err error) *domain.AIError {
	return domain.NormalizeError(c.name, err)
}

// --- Anthropic wire types ---

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      []anthropicBlock   `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type         string                `json:"type"`
	Text         string                `json:"text,omitempty"`
	Source       *anthropicImageSource `json:"source,omitempty"`
	CacheControl *anthropicCacheCtl    `json:"cache_control,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicCacheCtl struct {
	Type string `json:"type"`
}

type anthropicStreamEvent struct {
	Type    string          `json:"type"`
	Delta   json.RawMessage `json:"delta,omitempty"`
	Usage   json.RawMessage `json:"usage,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
	Error   *anthropicError `json:"error,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type anthropicDeltaText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

type anthropicModelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// StreamActions implements domain.ProviderClient. When prompt caching is
// enabled and the vendor rejects the cache markers, the request is reissued
// once without them.
func (c *AnthropicClient) StreamActions(ctx context.Context, opts domain.StreamOptions) (<-chan domain.ActionEvent, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.stream",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", c.name),
			tracer.StringAttr("llm.model", opts.Model),
		),
	)
	defer span.End()

	ch, err := c.openStream(ctx, opts, opts.EnableCaching)
	if err != nil && opts.EnableCaching && strings.Contains(strings.ToLower(err.Error()), "cache") {
		c.logger.Warn("prompt caching rejected, retrying without cache markers", "error", err)
		ch, err = c.openStream(ctx, opts, false)
	}
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)

	return runActionPipeline(ctx, ch, pipelineOptions{Seed: anthropicPrefill}), nil
}

func (c *AnthropicClient) openStream(ctx context.Context, opts domain.StreamOptions, caching bool) (<-chan textChunk, error) {
	req := c.buildRequest(opts, caching)
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	headers := map[string]string{
		"x-api-key":         opts.APIKey,
		"anthropic-version": c.version,
	}

	httpResp, err := doStreamRequest(ctx, c.client, c.baseURL+"/v1/messages", body, headers)
	if err != nil {
		return nil, err
	}

	cache := &domain.CacheMetrics{}
	return parseSSEStream(ctx, httpResp.Body, func(data []byte) (*textChunk, error) {
		var evt anthropicStreamEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, err
		}

		switch evt.Type {
		case "message_start":
			var msg struct {
				Usage anthropicUsage `json:"usage"`
			}
			if len(evt.Message) > 0 && json.Unmarshal(evt.Message, &msg) == nil {
				cache.Created = msg.Usage.CacheCreationInputTokens
				cache.Read = msg.Usage.CacheReadInputTokens
				return &textChunk{
					Cache: cache,
					Usage: &domain.Usage{PromptTokens: msg.Usage.InputTokens},
				}, nil
			}
			return nil, nil

		case "content_block_delta":
			var td anthropicDeltaText
			if err := json.Unmarshal(evt.Delta, &td); err == nil && td.Type == "text_delta" {
				return &textChunk{Text: td.Text}, nil
			}
			return nil, nil

		case "message_delta":
			chunk := &textChunk{}
			if len(evt.Usage) > 0 {
				var u anthropicUsage
				if json.Unmarshal(evt.Usage, &u) == nil {
					chunk.Usage = &domain.Usage{
						CompletionTokens: u.OutputTokens,
					}
				}
			}
			return chunk, nil

		case "message_stop":
			return &textChunk{Done: true}, nil

		case "error":
			msg := "stream error"
			if evt.Error != nil {
				msg = evt.Error.Message
			}
			return &textChunk{Err: fmt.Errorf("%w: %s", domain.ErrServer, msg)}, nil

		default:
			return nil, nil
		}
	}), nil
}

func (c *AnthropicClient) buildRequest(opts domain.StreamOptions, caching bool) anthropicRequest {
	req := anthropicRequest{
		Model:     opts.Model,
		MaxTokens: opts.MaxTokens,
		Stream:    true,
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = 4096
	}
	if opts.Temperature != 0 {
		t := opts.Temperature
		req.Temperature = &t
	}

	if opts.System != "" {
		block := anthropicBlock{Type: "text", Text: opts.System}
		if caching {
			block.CacheControl = &anthropicCacheCtl{Type: "ephemeral"}
		}
		req.System = []anthropicBlock{block}
	}

	for _, m := range opts.Messages {
		req.Messages = append(req.Messages, anthropicMessage{
			Role:    m.Role,
			Content: toAnthropicBlocks(m.Parts),
		})
	}

	// Caching boundary on the last user turn keeps the stable prefix of
	// long conversations cached across requests.
	if caching {
		for i := len(req.Messages) - 1; i >= 0; i-- {
			if req.Messages[i].Role == domain.RoleUser && len(req.Messages[i].Content) > 0 {
				last := len(req.Messages[i].Content) - 1
				req.Messages[i].Content[last].CacheControl = &anthropicCacheCtl{Type: "ephemeral"}
				break
			}
		}
	}

	// Assistant prefill: the response continues from this exact opening.
	req.Messages = append(req.Messages, anthropicMessage{
		Role:    domain.RoleAssistant,
		Content: []anthropicBlock{{Type: "text", Text: anthropicPrefill}},
	})

	return req
}

func toAnthropicBlocks(parts []domain.ContentPart) []anthropicBlock {
	blocks := make([]anthropicBlock, 0, len(parts))
	for _, p := range parts {
		if p.Image != nil {
			blocks = append(blocks, anthropicBlock{
				Type: "image",
				Source: &anthropicImageSource{
					Type:      "base64",
					MediaType: p.Image.MimeType,
					Data:      p.Image.Data,
				},
			})
			continue
		}
		blocks = append(blocks, anthropicBlock{Type: "text", Text: p.Text})
	}
	return blocks
}

// TestConnection implements domain.ProviderClient.
func (c *AnthropicClient) TestConnection(ctx context.Context, apiKey string) (*domain.ConnectionResult, error) {
	headers := map[string]string{
		"x-api-key":         apiKey,
		"anthropic-version": c.version,
	}
	respBody, err := doGetRequest(ctx, c.client, c.baseURL+"/v1/models", headers)
	if err != nil {
		return nil, err
	}

	var list anthropicModelList
	if err := json.Unmarshal(respBody, &list); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	result := &domain.ConnectionResult{}
	for _, m := range list.Data {
		result.Models = append(result.Models, m.ID)
	}
	return result, nil
}

var _ domain.ProviderClient = (*AnthropicClient)(nil)
