// Package lease provides per-prediction in-flight markers so a due
// prediction is executed by at most one runner at a time.
package lease

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Claimer takes and releases in-flight markers.
type Claimer interface {
	// Claim reports true if the caller now holds the marker for id.
	Claim(ctx context.Context, id string) (bool, error)
	// Release drops a marker held by the caller.
	Release(ctx context.Context, id string) error
}

// Verify at compile time that all claimers implement Claimer.
var (
	_ Claimer = (*Local)(nil)
	_ Claimer = (*SQL)(nil)
	_ Claimer = (*Redis)(nil)
)

// NewOwnerID returns a random identity for this process.
func NewOwnerID() string {
	return uuid.NewString()
}

// ---------------------------------------------------------------------------
// Local
// ---------------------------------------------------------------------------

// Local keeps markers in memory. It only guards runners in one process.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal creates an empty Local claimer.
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

func (l *Local) Claim(_ context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[id]; ok {
		return false, nil
	}
	l.held[id] = struct{}{}
	return true, nil
}

func (l *Local) Release(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, id)
	return nil
}

// ---------------------------------------------------------------------------
// SQL
// ---------------------------------------------------------------------------

// ClaimStore is the persistence a SQL claimer needs.
type ClaimStore interface {
	ClaimPrediction(ctx context.Context, id, owner string, ttl time.Duration) (bool, error)
	ReleasePrediction(ctx context.Context, id, owner string) error
}

// SQL keeps expiring markers in the state database, shared by every node
// using the same database.
type SQL struct {
	store ClaimStore
	owner string
	ttl   time.Duration
}

// NewSQL creates a claimer acting as owner. Markers expire after ttl so a
// crashed runner does not block a prediction forever.
func NewSQL(store ClaimStore, owner string, ttl time.Duration) *SQL {
	return &SQL{store: store, owner: owner, ttl: ttl}
}

func (s *SQL) Claim(ctx context.Context, id string) (bool, error) {
	return s.store.ClaimPrediction(ctx, id, s.owner, s.ttl)
}

func (s *SQL) Release(ctx context.Context, id string) error {
	return s.store.ReleasePrediction(ctx, id, s.owner)
}

// ---------------------------------------------------------------------------
// Redis
// ---------------------------------------------------------------------------

// releaseScript deletes KEYS[1] only if it still holds ARGV[1] (the owner).
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis keeps expiring markers in Redis under <prefix><id>.
type Redis struct {
	client redis.Cmdable
	owner  string
	ttl    time.Duration
	prefix string
}

// NewRedisClient connects to Redis at addr.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewRedis creates a Redis claimer acting as owner.
func NewRedis(client redis.Cmdable, owner string, ttl time.Duration) *Redis {
	return &Redis{client: client, owner: owner, ttl: ttl, prefix: "oracle:inflight:"}
}

func (r *Redis) Claim(ctx context.Context, id string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+id, r.owner, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim %s: %w", id, err)
	}
	return ok, nil
}

func (r *Redis) Release(ctx context.Context, id string) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.prefix + id}, r.owner).Err(); err != nil {
		return fmt.Errorf("redis release %s: %w", id, err)
	}
	return nil
}
