package llm

import (
	"bytes"
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

// compatActionMarker prefixes per-line action payloads emitted by models
// that cannot hold a single JSON object across a long response.
const compatActionMarker = "ACTION:"

// compatPlaceholderKey satisfies servers that require a bearer token even
// when authentication is disabled.
const compatPlaceholderKey = "not-needed"

// CompatClient implements domain.ProviderClient for self-hosted
// OpenAI-compatible servers (llama.cpp, vLLM, LM Studio, Ollama). It speaks
// the chat completions dialect but tolerates two looser response syntaxes:
// a plain actions object, or one action per marker line.
type CompatClient struct {
	name    string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewCompatClient creates a client for an OpenAI-compatible server.
// The base URL comes from per-request options when empty here.
func NewCompatClient(cfg config.ProviderConfig, logger *slog.Logger) *CompatClient {
	return &CompatClient{
		name:    "compat",
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  NewHTTPClient(cfg),
		logger:  logger,
	}
}

// Name implements domain.ProviderClient.
func (c *CompatClient) Name() string { return c.name }

// ParseError implements domain.ProviderClient.
func (c *CompatClient) ParseError(err error) *domain.AIError {
	return domain.NormalizeError(c.name, err)
}

func (c *CompatClient) resolveBaseURL(opts domain.StreamOptions) (string, error) {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = c.baseURL
	}
	if base == "" {
		return "", fmt.Errorf("compat provider requires a base URL")
	}
	return base, nil
}

// StreamActions implements domain.ProviderClient. Servers that reject the
// structured-output request parameter get one retry without it.
func (c *CompatClient) StreamActions(ctx context.Context, opts domain.StreamOptions) (<-chan domain.ActionEvent, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.stream",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", c.name),
			tracer.StringAttr("llm.model", opts.Model),
		),
	)
	defer span.End()

	ch, err := c.openStream(ctx, opts, true)
	if rejectsStructuredOutput(err) {
		c.logger.Warn("structured output rejected, retrying without response_format",
			"error", err)
		ch, err = c.openStream(ctx, opts, false)
	}
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)

	return runActionPipeline(ctx, ch, pipelineOptions{
		Transform: transformCompatBuffer,
	}), nil
}

// rejectsStructuredOutput reports whether err is a server complaint about
// the structured-output parameter, as opposed to a transient failure that a
// reissue without response_format would not help.
func rejectsStructuredOutput(err error) bool {
	if err == nil || domain.IsCancellation(err) || domain.IsRetryableError(err) {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "response_format") ||
		strings.Contains(msg, "json_object") ||
		strings.Contains(msg, "json mode") ||
		strings.Contains(msg, "unknown field") ||
		strings.Contains(msg, "unsupported")
}

func (c *CompatClient) openStream(ctx context.Context, opts domain.StreamOptions, structured bool) (<-chan textChunk, error) {
	base, err := c.resolveBaseURL(opts)
	if err != nil {
		return nil, err
	}

	req := openaiChatRequest{
		Model:         opts.Model,
		MaxTokens:     opts.MaxTokens,
		Stream:        true,
		StreamOptions: &openaiStreamOptions{IncludeUsage: true},
	}
	if structured {
		req.ResponseFormat = &openaiRespFormat{Type: "json_object"}
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

	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = compatPlaceholderKey
	}
	headers := map[string]string{"Authorization": "Bearer " + apiKey}

	httpResp, err := doStreamRequest(ctx, c.client, base+"/chat/completions", body, headers)
	if err != nil {
		return nil, err
	}

	return parseSSEStream(ctx, httpResp.Body, func(data []byte) (*textChunk, error) {
		var chunk openaiStreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return nil, err
		}

		// Some compat servers skip the [DONE] sentinel; stream EOF then
		// finalizes the pipeline the same way.
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

// transformCompatBuffer normalizes either accepted response syntax into the
// actions-object form the incremental parser understands. A response whose
// first byte is '{' passes through untouched; otherwise marker lines are
// collected into a synthetic actions array, left open so the repair pass
// and one-behind protocol apply unchanged.
func transformCompatBuffer(buf []byte) []byte {
	trimmed := bytes.TrimSpace(buf)
	if len(trimmed) == 0 || trimmed[0] == '{' {
		return buf
	}

	var payloads []string
	for _, line := range strings.Split(string(trimmed), "\n") {
		line = strings.TrimSpace(line)
		rest, ok := strings.CutPrefix(line, compatActionMarker)
		if !ok {
			continue
		}
		rest = strings.TrimSpace(rest)
		if rest != "" {
			payloads = append(payloads, rest)
		}
	}

	return []byte(`{"actions": [` + strings.Join(payloads, ", "))
}

// TestConnection implements domain.ProviderClient. The configured base URL
// is probed; compat servers usually expose the models listing unauthenticated.
func (c *CompatClient) TestConnection(ctx context.Context, apiKey string) (*domain.ConnectionResult, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("compat provider requires a base URL")
	}
	if apiKey == "" {
		apiKey = compatPlaceholderKey
	}
	headers := map[string]string{"Authorization": "Bearer " + apiKey}

	respBody, err := doGetRequest(ctx, c.client, c.baseURL+"/models", headers)
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

var _ domain.ProviderClient = (*CompatClient)(nil)
