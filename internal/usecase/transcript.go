package usecase

import (
	"context"

	"easel-ai/internal/domain"
)

// Transcript archives completed requests. Write-only from the pipeline's
// perspective; nothing here ever reads an archive back into conversation
// state.
type Transcript interface {
	Archive(ctx context.Context, requestID string, items []domain.HistoryItem) error
}
