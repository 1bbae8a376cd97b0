package port

import (
	"context"

	"github.com/tvh0522/mintbay/internal/core/domain"
)

// EventPublisher fans settled transactions out to the activity feed.
// Publishing is best-effort; delivery failures never affect settlement.
type EventPublisher interface {
	PublishTransaction(ctx context.Context, tx domain.Transaction) error
	Close() error
}
