package port

import "context"

// KeyLocker serializes mutations across processes.
type KeyLocker interface {
	// Lock blocks until the key is held or ctx ends; the returned func releases it
	Lock(ctx context.Context, key string) (func(), error)
}

// Sequencer issues monotonic numbers per scope.
type Sequencer interface {
	Next(ctx context.Context, scope string) (int64, error)
}

type IdempotencyStore interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency forgets a key so the request may be retried
	ReleaseIdempotency(ctx context.Context, key string) error
}
