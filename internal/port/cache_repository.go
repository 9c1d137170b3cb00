package port

import "context"

type CacheRepository interface {
	// GetStock returns the cached advisory stock, found=false on a miss
	GetStock(ctx context.Context, itemID string) (stock int, found bool, err error)

	// SetStock stores stock unless the cache already holds an equal or newer version
	SetStock(ctx context.Context, itemID string, stock, version int) (bool, error)

	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency removes the key so a failed request can be retried
	ReleaseIdempotency(ctx context.Context, key string) error
}
