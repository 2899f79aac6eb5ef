package llm

import (
	"context"
	"time"

	"easel-ai/internal/domain"
	"easel-ai/internal/usecase/streamparse"
)

// pipelineOptions tunes the chunk-to-action conversion for one stream.
type pipelineOptions struct {
	// Seed pre-populates the response buffer. Used when the request forces
	// the model to continue from a fixed opening (assistant prefill).
	Seed string
	// Transform rewrites the accumulated buffer before each parse attempt.
	// Used for backends that emit actions in a non-JSON line syntax.
	Transform func(buf []byte) []byte
}

// runActionPipeline consumes normalized stream chunks, incrementally parses
// the growing response buffer, and emits ActionEvents. The action channel
// closes after the final metadata event, a terminal error, or cancellation.
func runActionPipeline(ctx context.Context, chunks <-chan textChunk, opts pipelineOptions) <-chan domain.ActionEvent {
	out := make(chan domain.ActionEvent, 16)
	go func() {
		defer close(out)

		buf := []byte(opts.Seed)
		extractor := streamparse.NewExtractor()
		meta := domain.StreamMeta{}
		started := time.Now()

		send := func(ev domain.ActionEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		emit := func(ems []streamparse.Emission) bool {
			for _, em := range ems {
				action := domain.ActionFromRaw(em.Raw)
				action.Complete = em.Complete
				action.TimeMs = time.Since(started).Milliseconds()
				if !send(domain.ActionEvent{Action: &action}) {
					return false
				}
			}
			return true
		}
		parseView := func() []byte {
			if opts.Transform != nil {
				return opts.Transform(buf)
			}
			return buf
		}

		for chunk := range chunks {
			if chunk.Err != nil {
				send(domain.ActionEvent{Err: chunk.Err})
				return
			}
			if chunk.Thinking != "" {
				// Thinking is progress signal only: a provisional think
				// action that never finalizes through this path.
				think := domain.Action{
					Type:   domain.ActionThink,
					TimeMs: time.Since(started).Milliseconds(),
					Fields: map[string]any{"_type": domain.ActionThink, "text": chunk.Thinking},
				}
				if !send(domain.ActionEvent{Action: &think}) {
					return
				}
			}
			if chunk.Text != "" {
				buf = append(buf, chunk.Text...)
				if !emit(extractor.Push(parseView())) {
					return
				}
			}
			if chunk.Usage != nil {
				// Vendors split usage across events; merge field-wise.
				if chunk.Usage.PromptTokens > 0 {
					meta.Usage.PromptTokens = chunk.Usage.PromptTokens
				}
				if chunk.Usage.CompletionTokens > 0 {
					meta.Usage.CompletionTokens = chunk.Usage.CompletionTokens
				}
				if chunk.Usage.TotalTokens > 0 {
					meta.Usage.TotalTokens = chunk.Usage.TotalTokens
				}
			}
			if chunk.Cache != nil {
				meta.Cache = *chunk.Cache
			}
			if chunk.ResponseID != "" {
				meta.ResponseID = chunk.ResponseID
			}
			if chunk.Done {
				break
			}
		}

		if ctx.Err() != nil {
			return
		}

		if !emit(extractor.Finish()) {
			return
		}
		if meta.Usage.TotalTokens == 0 {
			meta.Usage.TotalTokens = meta.Usage.PromptTokens + meta.Usage.CompletionTokens
		}
		send(domain.ActionEvent{Meta: &meta})
	}()
	return out
}
