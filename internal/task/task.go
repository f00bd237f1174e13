// Package task carries executed predictions to validators. A performer
// submits a task per proof; a validator consumes tasks and publishes votes.
package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/yangwenmai/oracle-avs/internal/metrics"
	"github.com/yangwenmai/oracle-avs/internal/model"
)

// Submitter hands a task to the transport. Submitting the same
// IdempotencyKey twice delivers the task once.
type Submitter interface {
	Submit(ctx context.Context, t model.Task) error
}

// Handler processes one consumed task. A returned error asks the transport
// to redeliver.
type Handler func(ctx context.Context, t model.Task) error

// Consumer delivers tasks to a Handler until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, h Handler) error
}

// VotePublisher announces validation votes.
type VotePublisher interface {
	PublishVote(ctx context.Context, v model.ValidationVote) error
}

// Verify at compile time that all transports implement the interfaces.
var (
	_ Submitter     = (*Memory)(nil)
	_ Consumer      = (*Memory)(nil)
	_ VotePublisher = (*Memory)(nil)
	_ Submitter     = (*NATS)(nil)
	_ Consumer      = (*NATS)(nil)
	_ VotePublisher = (*NATS)(nil)
)

// Encode serializes a task for the wire.
func Encode(t model.Task) ([]byte, error) {
	return json.Marshal(t)
}

// Decode parses a wire task. The proof reference is mandatory.
func Decode(data []byte) (model.Task, error) {
	var t model.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return model.Task{}, fmt.Errorf("decode task: %w", err)
	}
	if t.ProofCID == "" {
		return model.Task{}, fmt.Errorf("decode task: missing proofCid")
	}
	return t, nil
}

// ---------------------------------------------------------------------------
// Memory
// ---------------------------------------------------------------------------

const transportMemory = "memory"

// Memory is an in-process queue for single-node and development setups.
// It drops resubmitted idempotency keys.
type Memory struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	ch     chan model.Task
	votes  []model.ValidationVote
	logger *slog.Logger
}

// NewMemory creates a queue holding up to buffer undelivered tasks.
func NewMemory(buffer int, logger *slog.Logger) *Memory {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		seen:   make(map[string]struct{}),
		ch:     make(chan model.Task, buffer),
		logger: logger,
	}
}

func (m *Memory) Submit(ctx context.Context, t model.Task) error {
	m.mu.Lock()
	if t.IdempotencyKey != "" {
		if _, dup := m.seen[t.IdempotencyKey]; dup {
			m.mu.Unlock()
			metrics.TasksSubmitted.WithLabelValues(transportMemory, "duplicate").Inc()
			m.logger.Warn("duplicate task dropped", "prediction_id", t.IdempotencyKey, "proof_cid", t.ProofCID)
			return nil
		}
		m.seen[t.IdempotencyKey] = struct{}{}
	}
	m.mu.Unlock()

	select {
	case m.ch <- t:
		metrics.TasksSubmitted.WithLabelValues(transportMemory, "ok").Inc()
		m.logger.Info("task submitted", "prediction_id", t.IdempotencyKey, "proof_cid", t.ProofCID)
		return nil
	case <-ctx.Done():
		m.forget(t.IdempotencyKey)
		metrics.TasksSubmitted.WithLabelValues(transportMemory, "error").Inc()
		return ctx.Err()
	}
}

func (m *Memory) forget(key string) {
	if key == "" {
		return
	}
	m.mu.Lock()
	delete(m.seen, key)
	m.mu.Unlock()
}

// Consume runs h for each queued task until ctx is done. Handler errors are
// logged; the in-process queue does not redeliver.
func (m *Memory) Consume(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-m.ch:
			metrics.TasksReceived.WithLabelValues(transportMemory).Inc()
			if err := h(ctx, t); err != nil {
				m.logger.Error("task handler failed", "proof_cid", t.ProofCID, "error", err)
			}
		}
	}
}

// Pending returns the number of undelivered tasks.
func (m *Memory) Pending() int {
	return len(m.ch)
}

func (m *Memory) PublishVote(_ context.Context, v model.ValidationVote) error {
	m.mu.Lock()
	m.votes = append(m.votes, v)
	m.mu.Unlock()
	m.logger.Info("vote", "proof_cid", v.ProofCID, "approved", v.Approved)
	return nil
}

// Votes returns every vote published so far.
func (m *Memory) Votes() []model.ValidationVote {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ValidationVote(nil), m.votes...)
}
