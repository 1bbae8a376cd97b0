package port

import "context"

type CacheRepository interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency removes a key so a failed request may be retried
	ReleaseIdempotency(ctx context.Context, key string) error

	// SetEditionsRemaining mirrors the unclaimed-edition count for fast reads
	SetEditionsRemaining(ctx context.Context, itemID string, remaining int) error

	// DecrementEditionsRemaining atomically decreases the mirror, returns false
	// only when the mirror exists and reports no remaining editions; a missing
	// mirror reports true so the caller falls through to the edition tracker
	DecrementEditionsRemaining(ctx context.Context, itemID string) (bool, error)

	// IncrementEditionsRemaining restores a decremented mirror after a failed
	// settlement; a missing mirror is left absent
	IncrementEditionsRemaining(ctx context.Context, itemID string) error

	// EditionsRemaining returns the mirrored count; ok is false when no mirror exists
	EditionsRemaining(ctx context.Context, itemID string) (int, bool, error)
}
