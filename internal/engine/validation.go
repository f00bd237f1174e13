package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yangwenmai/oracle-avs/internal/metrics"
	"github.com/yangwenmai/oracle-avs/internal/model"
	"github.com/yangwenmai/oracle-avs/internal/proofstore"
)

const proofSchemaJSON = `{
  "type": "object",
  "required": ["inputString", "result"],
  "properties": {
    "inputString": {"type": "string", "minLength": 1},
    "result": {"type": "string"},
    "timestamp": {"type": "string"},
    "predictionId": {"type": "string"},
    "evidenceIds": {"type": "array", "items": {"type": "string"}}
  }
}`

var proofSchema = jsonschema.MustCompileString("proof-artifact.json", proofSchemaJSON)

// WithWriteback lets approved votes move the proof's prediction from
// executed to validated. Without it validation is read-only.
func WithWriteback(r PredictionUpdater) PipelineOption {
	return func(o *pipelineOptions) { o.writeback = r }
}

// ValidationPipeline re-judges a published proof and votes on it.
type ValidationPipeline struct {
	proofs      proofstore.Store
	oracle      Judger
	writeback   PredictionUpdater
	callTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewValidationPipeline creates a validation pipeline.
func NewValidationPipeline(proofs proofstore.Store, oracle Judger, opts ...PipelineOption) *ValidationPipeline {
	o := buildOptions(opts)
	return &ValidationPipeline{
		proofs:      proofs,
		oracle:      oracle,
		writeback:   o.writeback,
		callTimeout: o.callTimeout,
		logger:      o.logger,
		now:         o.now,
	}
}

// Validate fetches the proof at cid, re-judges its inputString and approves
// only when both results are exactly equal. Every failure is a rejection
// carrying the error text.
func (v *ValidationPipeline) Validate(ctx context.Context, cid string) model.ValidationVote {
	ctx, span := tracer.Start(ctx, "validate")
	span.SetAttributes(attribute.String("proof.cid", cid))
	defer span.End()

	log := v.logger.With("proof_cid", cid)
	vote := model.ValidationVote{ProofCID: cid}

	artifact, err := v.fetch(ctx, cid)
	if err != nil {
		return v.reject(vote, err, span, log)
	}
	vote.InputString = artifact.InputString
	vote.PerformerResult = artifact.Result

	var j Judgment
	cctx, cancel := context.WithTimeout(ctx, v.callTimeout)
	j, err = v.oracle.Judge(cctx, artifact.InputString)
	cancel()
	if err != nil {
		return v.reject(vote, err, span, log)
	}
	vote.ValidatorResult = j.Result
	vote.Approved = j.Result == artifact.Result

	if vote.Approved {
		metrics.ValidationVotes.WithLabelValues("approved").Inc()
		v.markValidated(ctx, artifact.PredictionID, log)
	} else {
		metrics.ValidationVotes.WithLabelValues("rejected").Inc()
	}
	span.SetAttributes(attribute.Bool("vote.approved", vote.Approved))
	log.Info("validation vote", "approved", vote.Approved, "performer_result", vote.PerformerResult, "validator_result", vote.ValidatorResult)
	return vote
}

func (v *ValidationPipeline) fetch(ctx context.Context, cid string) (model.ProofArtifact, error) {
	cctx, cancel := context.WithTimeout(ctx, v.callTimeout)
	defer cancel()

	raw, err := v.proofs.Get(cctx, cid)
	if err != nil {
		if errors.Is(err, model.ErrProofNotFound) {
			return model.ProofArtifact{}, err
		}
		return model.ProofArtifact{}, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	return DecodeProof(raw)
}

// DecodeProof checks raw against the proof artifact schema and decodes it.
// Unknown fields are tolerated.
func DecodeProof(raw []byte) (model.ProofArtifact, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return model.ProofArtifact{}, fmt.Errorf("%w: %v", model.ErrMalformedProof, err)
	}
	if err := proofSchema.Validate(doc); err != nil {
		return model.ProofArtifact{}, fmt.Errorf("%w: %v", model.ErrMalformedProof, err)
	}
	var a model.ProofArtifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return model.ProofArtifact{}, fmt.Errorf("%w: %v", model.ErrMalformedProof, err)
	}
	return a, nil
}

func (v *ValidationPipeline) markValidated(ctx context.Context, id string, log *slog.Logger) {
	if v.writeback == nil || id == "" {
		return
	}
	at := v.now()
	if _, err := v.writeback.Update(ctx, id, func(rec *model.Prediction) error {
		return rec.MarkValidated(at)
	}); err != nil {
		log.Warn("validated write-back failed", "prediction_id", id, "error", err)
		return
	}
	log.Info("prediction validated", "prediction_id", id)
}

func (v *ValidationPipeline) reject(vote model.ValidationVote, err error, span trace.Span, log *slog.Logger) model.ValidationVote {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	metrics.ValidationVotes.WithLabelValues("error").Inc()
	log.Warn("validation failed", "error", err)
	vote.Approved = false
	vote.Error = err.Error()
	return vote
}
