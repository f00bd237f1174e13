// Package registry maintains the prediction list as a chain of immutable
// snapshots in a proof store, addressed through a mutable head reference.
//
// Every write reads the current snapshot, applies a change, publishes a new
// snapshot and moves the head with compare-and-swap. Writers within a process
// are serialized by a mutex; writers in other processes are detected by the
// swap failing, in which case the change is re-applied to the fresh snapshot.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yangwenmai/oracle-avs/internal/model"
	"github.com/yangwenmai/oracle-avs/internal/proofstore"
)

// Head holds the reference to the latest snapshot.
type Head interface {
	// LoadHead returns the current reference, or "" if none exists yet.
	LoadHead(ctx context.Context) (string, error)
	// CompareAndSwapHead moves the reference from old to next, reporting
	// false if the current value is not old.
	CompareAndSwapHead(ctx context.Context, old, next string) (bool, error)
}

// DefaultMaxRetries bounds re-application after a lost head swap.
const DefaultMaxRetries = 5

// Registry is the PredictionRegistry.
type Registry struct {
	mu         sync.Mutex
	head       Head
	blobs      proofstore.Store
	maxRetries int
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxRetries sets how often a conflicting write is retried.
func WithMaxRetries(n int) Option {
	return func(r *Registry) {
		if n >= 0 {
			r.maxRetries = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithClock overrides the time source used for lastUpdated.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a Registry over head and blobs.
func New(head Head, blobs proofstore.Store, opts ...Option) *Registry {
	r := &Registry{
		head:       head,
		blobs:      blobs,
		maxRetries: DefaultMaxRetries,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Seed points an empty head at an existing snapshot. It is a no-op when a
// head already exists or cid is empty. The snapshot must be fetchable.
func (r *Registry) Seed(ctx context.Context, cid string) error {
	if cid == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var snap model.Snapshot
	if err := proofstore.Fetch(ctx, r.blobs, cid, &snap); err != nil {
		return fmt.Errorf("seed registry from %s: %w", cid, err)
	}
	ok, err := r.head.CompareAndSwapHead(ctx, "", cid)
	if err != nil {
		return fmt.Errorf("%w: seed head: %w", model.ErrStoreUnavailable, err)
	}
	if ok {
		r.logger.Info("registry seeded", "registry_cid", cid, "predictions", len(snap.Predictions))
	}
	return nil
}

// Head returns the current snapshot reference.
func (r *Registry) Head(ctx context.Context) (string, error) {
	cid, err := r.head.LoadHead(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	return cid, nil
}

// List returns every prediction in the current snapshot.
func (r *Registry) List(ctx context.Context) ([]model.Prediction, error) {
	_, preds, err := r.load(ctx)
	return preds, err
}

// Get returns the prediction with id.
func (r *Registry) Get(ctx context.Context, id string) (model.Prediction, error) {
	preds, err := r.List(ctx)
	if err != nil {
		return model.Prediction{}, err
	}
	for _, p := range preds {
		if p.ID == id {
			return p, nil
		}
	}
	return model.Prediction{}, fmt.Errorf("%w: %s", model.ErrPredictionNotFound, id)
}

// Append adds a new prediction. Ids must be unique.
func (r *Registry) Append(ctx context.Context, p model.Prediction) error {
	return r.commit(ctx, func(preds []model.Prediction) ([]model.Prediction, error) {
		for _, existing := range preds {
			if existing.ID == p.ID {
				return nil, fmt.Errorf("%w: %s", model.ErrDuplicatePrediction, p.ID)
			}
		}
		return append(preds, p.Clone()), nil
	})
}

// Update applies mutate to the prediction with id and publishes the result.
// mutate may run more than once if the head moves concurrently; it always
// receives a fresh copy. The updated record is returned.
func (r *Registry) Update(ctx context.Context, id string, mutate func(*model.Prediction) error) (model.Prediction, error) {
	var updated model.Prediction
	err := r.commit(ctx, func(preds []model.Prediction) ([]model.Prediction, error) {
		for i := range preds {
			if preds[i].ID != id {
				continue
			}
			if err := mutate(&preds[i]); err != nil {
				return nil, err
			}
			updated = preds[i].Clone()
			return preds, nil
		}
		return nil, fmt.Errorf("%w: %s", model.ErrPredictionNotFound, id)
	})
	return updated, err
}

// commit runs one read-modify-publish-swap cycle, retrying lost swaps.
func (r *Registry) commit(ctx context.Context, change func([]model.Prediction) ([]model.Prediction, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		old, preds, err := r.load(ctx)
		if err != nil {
			return err
		}
		next, err := change(preds)
		if err != nil {
			return err
		}

		snap := model.Snapshot{
			Predictions: next,
			LastUpdated: r.now().UTC().Format(time.RFC3339),
		}
		cid, err := proofstore.Publish(ctx, r.blobs, snap)
		if err != nil {
			return fmt.Errorf("publish snapshot: %w", err)
		}

		ok, err := r.head.CompareAndSwapHead(ctx, old, cid)
		if err != nil {
			return fmt.Errorf("%w: move head: %w", model.ErrStoreUnavailable, err)
		}
		if ok {
			r.logger.Info("registry updated", "registry_cid", cid, "predictions", len(next))
			return nil
		}
		r.logger.Warn("registry head moved concurrently, retrying", "attempt", attempt+1, "expected", old)
	}
	return fmt.Errorf("%w: gave up after %d attempts", model.ErrRegistryConflict, r.maxRetries+1)
}

// load reads the head and its snapshot. The returned slice is a deep copy.
func (r *Registry) load(ctx context.Context) (string, []model.Prediction, error) {
	cid, err := r.Head(ctx)
	if err != nil {
		return "", nil, err
	}
	if cid == "" {
		return "", []model.Prediction{}, nil
	}
	var snap model.Snapshot
	if err := proofstore.Fetch(ctx, r.blobs, cid, &snap); err != nil {
		return "", nil, fmt.Errorf("%w: load snapshot %s: %w", model.ErrStoreUnavailable, cid, err)
	}
	preds := make([]model.Prediction, 0, len(snap.Predictions))
	for _, p := range snap.Predictions {
		preds = append(preds, p.Clone())
	}
	return cid, preds, nil
}

// ---------------------------------------------------------------------------
// MemoryHead
// ---------------------------------------------------------------------------

// MemoryHead is an in-process Head.
type MemoryHead struct {
	mu  sync.Mutex
	cid string
}

func (h *MemoryHead) LoadHead(context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cid, nil
}

func (h *MemoryHead) CompareAndSwapHead(_ context.Context, old, next string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cid != old {
		return false, nil
	}
	h.cid = next
	return true, nil
}
