package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/yangwenmai/oracle-avs/internal/config"
	"github.com/yangwenmai/oracle-avs/internal/engine"
	"github.com/yangwenmai/oracle-avs/internal/evidence"
	"github.com/yangwenmai/oracle-avs/internal/lease"
	"github.com/yangwenmai/oracle-avs/internal/model"
	"github.com/yangwenmai/oracle-avs/internal/proofstore"
	"github.com/yangwenmai/oracle-avs/internal/registry"
	"github.com/yangwenmai/oracle-avs/internal/store"
	"github.com/yangwenmai/oracle-avs/internal/task"
)

// node holds the shared dependencies of one process.
type node struct {
	cfg    config.Config
	logger *slog.Logger

	state   *store.Store
	proofs  proofstore.Store
	reg     *registry.Registry
	closers []func()
}

func (n *node) Close() {
	for i := len(n.closers) - 1; i >= 0; i-- {
		n.closers[i]()
	}
}

// openState opens the SQL state store (registry head, claims, blobs).
func (n *node) openState() error {
	db, err := store.Open(n.cfg.DBDriver, n.cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	n.closers = append(n.closers, func() { db.Close() })

	s, err := store.New(db, n.cfg.DBDriver)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	n.state = s
	return nil
}

// openProofs selects the content-addressed backend.
func (n *node) openProofs(ctx context.Context) error {
	switch n.cfg.ProofStore {
	case "file", "":
		fs, err := proofstore.NewFileStore(filepath.Join(n.cfg.DataDir, "proofs"))
		if err != nil {
			return err
		}
		n.proofs = fs
	case "sql":
		if n.state == nil {
			if err := n.openState(); err != nil {
				return err
			}
		}
		n.proofs = n.state
	case "s3":
		s3, err := proofstore.NewS3Store(ctx, proofstore.S3Config{
			Bucket:   n.cfg.S3Bucket,
			Region:   n.cfg.S3Region,
			Endpoint: n.cfg.S3Endpoint,
			Prefix:   n.cfg.S3Prefix,
		})
		if err != nil {
			return err
		}
		n.proofs = s3
	case "ipfs":
		n.proofs = proofstore.NewIPFSStore(n.cfg.IPFSAPIURL, n.cfg.IPFSGatewayURL)
	case "memory":
		n.proofs = proofstore.NewMemoryStore()
	default:
		return fmt.Errorf("unknown proof store %q", n.cfg.ProofStore)
	}
	n.logger.Info("proof store ready", "backend", n.cfg.ProofStore)
	return nil
}

// openRegistry builds the registry over the SQL head and seeds it.
func (n *node) openRegistry(ctx context.Context) error {
	if n.state == nil {
		if err := n.openState(); err != nil {
			return err
		}
	}
	if n.proofs == nil {
		if err := n.openProofs(ctx); err != nil {
			return err
		}
	}
	n.reg = registry.New(n.state, n.proofs,
		registry.WithLogger(n.logger),
		registry.WithMaxRetries(n.cfg.RegistryMaxRetries),
	)
	if err := n.reg.Seed(ctx, n.cfg.RegistryCID); err != nil {
		return err
	}
	return nil
}

func (n *node) newClaimer() (lease.Claimer, error) {
	owner := lease.NewOwnerID()
	switch n.cfg.LeaseBackend {
	case "local":
		return lease.NewLocal(), nil
	case "sql", "":
		return lease.NewSQL(n.state, owner, n.cfg.LeaseTTL), nil
	case "redis":
		client := lease.NewRedisClient(n.cfg.RedisAddr, n.cfg.RedisPassword, n.cfg.RedisDB)
		n.closers = append(n.closers, func() { client.Close() })
		return lease.NewRedis(client, owner, n.cfg.LeaseTTL), nil
	default:
		return nil, fmt.Errorf("unknown lease backend %q", n.cfg.LeaseBackend)
	}
}

func (n *node) newGatherer() (*evidence.Gatherer, error) {
	var (
		selector evidence.Selector
		source   evidence.Source
	)
	limiter := evidence.NewLimiter(n.cfg.EvidenceRateDelay)

	switch n.cfg.EvidenceSource {
	case "nitter", "":
		source = evidence.NewNitterSource(n.cfg.NitterURL, evidence.WithLimiter(limiter))
	case "pages":
		if n.cfg.EvidencePagesFile == "" {
			return nil, errors.New("EVIDENCE_PAGES_FILE is required for the pages source")
		}
		pages, err := evidence.LoadPages(n.cfg.EvidencePagesFile)
		if err != nil {
			return nil, err
		}
		ps := evidence.NewPageSource(pages, limiter)
		source, selector = ps, ps.Accounts()
	case "stub":
		source = &evidence.StubSource{}
	default:
		return nil, fmt.Errorf("unknown evidence source %q", n.cfg.EvidenceSource)
	}

	if selector == nil {
		dir := evidence.DefaultDirectory()
		if n.cfg.EvidenceDirectoryFile != "" {
			loaded, err := evidence.LoadDirectory(n.cfg.EvidenceDirectoryFile)
			if err != nil {
				return nil, err
			}
			dir = loaded
		}
		selector = dir
	}

	n.logger.Info("evidence source ready", "source", n.cfg.EvidenceSource)
	return evidence.NewGatherer(selector, source,
		evidence.WithFetchCount(n.cfg.EvidenceFetchCount),
		evidence.WithLogger(n.logger),
	), nil
}

// transport is both sides of the task channel.
type transport interface {
	task.Submitter
	task.Consumer
	task.VotePublisher
}

// newTransport returns NATS JetStream when configured, else the in-process
// queue. The second result reports whether the queue is in-process.
func (n *node) newTransport() (transport, bool, error) {
	if n.cfg.NATSURL == "" {
		n.logger.Warn("NATS_URL not set, using in-process task queue")
		return task.NewMemory(0, n.logger), true, nil
	}
	nc, err := task.NewNATS(task.NATSConfig{
		URL:         n.cfg.NATSURL,
		Stream:      n.cfg.NATSStream,
		TaskSubject: n.cfg.NATSTaskSubject,
		VoteSubject: n.cfg.NATSVoteSubject,
		Durable:     n.cfg.NATSDurable,
	}, n.logger)
	if err != nil {
		return nil, false, err
	}
	n.closers = append(n.closers, nc.Close)
	return nc, false, nil
}

func (n *node) newOracle(role string) *engine.Oracle {
	mc := n.cfg.Performer
	if role == engine.RoleValidator {
		mc = n.cfg.Validator
	}
	client := engine.NewModelClient(mc)
	if mc.UseStub() {
		n.logger.Warn("no model credentials, using stub oracle", "role", role)
	} else {
		n.logger.Info("oracle ready", "role", role, "provider", mc.Provider, "model", mc.Model)
	}
	return engine.NewOracle(role, client, n.logger)
}

// newValidation builds the validator pipeline. Write-back needs the registry.
func (n *node) newValidation(ctx context.Context) (*engine.ValidationPipeline, error) {
	opts := []engine.PipelineOption{
		engine.WithPipelineLogger(n.logger),
		engine.WithCallTimeout(n.cfg.CallTimeout),
	}
	if n.cfg.ValidatorWriteback {
		if n.reg == nil {
			if err := n.openRegistry(ctx); err != nil {
				return nil, err
			}
		}
		opts = append(opts, engine.WithWriteback(n.reg))
		n.logger.Info("validator write-back enabled")
	}
	return engine.NewValidationPipeline(n.proofs, n.newOracle(engine.RoleValidator), opts...), nil
}

// voteHandler validates each consumed task and publishes the vote.
func voteHandler(v *engine.ValidationPipeline, votes task.VotePublisher, logger *slog.Logger) task.Handler {
	return func(ctx context.Context, t model.Task) error {
		vote := v.Validate(ctx, t.ProofCID)
		logger.Info("vote",
			"proof_cid", t.ProofCID,
			"prediction_id", t.IdempotencyKey,
			"approved", vote.Approved,
			"performer_result", vote.PerformerResult,
			"validator_result", vote.ValidatorResult,
		)
		return votes.PublishVote(ctx, vote)
	}
}
