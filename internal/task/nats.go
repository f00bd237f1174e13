package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/yangwenmai/oracle-avs/internal/metrics"
	"github.com/yangwenmai/oracle-avs/internal/model"
)

const transportNATS = "nats"

// NATSConfig names the JetStream resources used for tasks and votes.
type NATSConfig struct {
	URL         string
	Stream      string
	TaskSubject string
	VoteSubject string
	Durable     string
	Timeout     time.Duration
}

// NATS submits tasks to a JetStream stream and consumes them through a
// durable consumer. Task ids ride in the Nats-Msg-Id header so the stream's
// duplicate window drops resubmissions.
type NATS struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	cfg    NATSConfig
	logger *slog.Logger
}

// NewNATS connects to the server and makes sure the task stream exists.
func NewNATS(cfg NATSConfig, logger *slog.Logger) (*NATS, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	log := logger.With("transport", transportNATS)

	conn, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	n := &NATS{conn: conn, js: js, cfg: cfg, logger: log}
	if err := n.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}
	return n, nil
}

func (n *NATS) ensureStream() error {
	if _, err := n.js.StreamInfo(n.cfg.Stream); err == nil {
		return nil
	}
	_, err := n.js.AddStream(&nats.StreamConfig{
		Name:       n.cfg.Stream,
		Subjects:   []string{n.cfg.TaskSubject},
		Retention:  nats.LimitsPolicy,
		MaxAge:     24 * time.Hour,
		Storage:    nats.FileStorage,
		Duplicates: time.Hour,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", n.cfg.Stream, err)
	}
	n.logger.Info("stream created", "stream", n.cfg.Stream, "subject", n.cfg.TaskSubject)
	return nil
}

func (n *NATS) Submit(ctx context.Context, t model.Task) error {
	data, err := Encode(t)
	if err != nil {
		return err
	}
	opts := []nats.PubOpt{nats.Context(ctx)}
	if t.IdempotencyKey != "" {
		opts = append(opts, nats.MsgId(t.IdempotencyKey))
	}
	ack, err := n.js.Publish(n.cfg.TaskSubject, data, opts...)
	if err != nil {
		metrics.TasksSubmitted.WithLabelValues(transportNATS, "error").Inc()
		return fmt.Errorf("publish task: %w", err)
	}
	if ack.Duplicate {
		metrics.TasksSubmitted.WithLabelValues(transportNATS, "duplicate").Inc()
		n.logger.Warn("duplicate task dropped by stream", "prediction_id", t.IdempotencyKey, "proof_cid", t.ProofCID)
		return nil
	}
	metrics.TasksSubmitted.WithLabelValues(transportNATS, "ok").Inc()
	n.logger.Info("task submitted", "prediction_id", t.IdempotencyKey, "proof_cid", t.ProofCID, "seq", ack.Sequence)
	return nil
}

// Consume subscribes the durable consumer and runs h per task until ctx is
// done. Handled tasks are acked; handler errors nak for redelivery and
// undecodable messages are terminated.
func (n *NATS) Consume(ctx context.Context, h Handler) error {
	sub, err := n.js.Subscribe(n.cfg.TaskSubject, func(msg *nats.Msg) {
		metrics.TasksReceived.WithLabelValues(transportNATS).Inc()
		t, err := Decode(msg.Data)
		if err != nil {
			n.logger.Error("bad task message", "error", err)
			msg.Term()
			return
		}
		if err := h(ctx, t); err != nil {
			n.logger.Error("task handler failed", "proof_cid", t.ProofCID, "error", err)
			msg.Nak()
			return
		}
		msg.Ack()
	}, nats.Durable(n.cfg.Durable), nats.ManualAck(), nats.AckExplicit(), nats.DeliverAll())
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", n.cfg.TaskSubject, err)
	}
	n.logger.Info("consuming tasks", "subject", n.cfg.TaskSubject, "durable", n.cfg.Durable)

	<-ctx.Done()
	return sub.Drain()
}

func (n *NATS) PublishVote(_ context.Context, v model.ValidationVote) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.cfg.VoteSubject, data); err != nil {
		return fmt.Errorf("publish vote: %w", err)
	}
	return nil
}

// Close drains and closes the connection.
func (n *NATS) Close() {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
	}
}
