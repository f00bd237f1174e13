package store

import (
	"context"
	"time"
)

// HeadStore persists the registry head reference with compare-and-swap.
type HeadStore interface {
	LoadHead(ctx context.Context) (string, error)
	CompareAndSwapHead(ctx context.Context, old, next string) (bool, error)
}

// ClaimStore provides expiring per-prediction in-flight markers.
type ClaimStore interface {
	ClaimPrediction(ctx context.Context, id, owner string, ttl time.Duration) (bool, error)
	ReleasePrediction(ctx context.Context, id, owner string) error
}
