package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yangwenmai/oracle-avs/internal/condition"
	"github.com/yangwenmai/oracle-avs/internal/metrics"
	"github.com/yangwenmai/oracle-avs/internal/model"
	"github.com/yangwenmai/oracle-avs/internal/proofstore"
)

// Execution step names, as recorded in StepError and ErrorInfo.
const (
	StepLoad    = "load"
	StepParse   = "parse"
	StepGather  = "gather"
	StepCompose = "compose"
	StepJudge   = "judge"
	StepPublish = "publish"
	StepRecord  = "record"
	StepSubmit  = "submit"
	StepUpdate  = "update"
)

var tracer = otel.Tracer("github.com/yangwenmai/oracle-avs/internal/engine")

// EvidenceGatherer collects evidence for a condition. It never fails; systemic
// problems come back as a synthetic error item.
type EvidenceGatherer interface {
	Gather(ctx context.Context, condition string) []model.EvidenceItem
}

// TaskSubmitter hands a task to the attestation layer.
type TaskSubmitter interface {
	Submit(ctx context.Context, t model.Task) error
}

// PredictionUpdater applies a mutation to one registry record.
type PredictionUpdater interface {
	Update(ctx context.Context, id string, mutate func(*model.Prediction) error) (model.Prediction, error)
}

// PredictionRegistry reads and updates registry records.
type PredictionRegistry interface {
	PredictionUpdater
	Get(ctx context.Context, id string) (model.Prediction, error)
}

// ExecutionPipeline resolves one due prediction end to end.
type ExecutionPipeline struct {
	gatherer    EvidenceGatherer
	oracle      Judger
	proofs      proofstore.Store
	tasks       TaskSubmitter
	registry    PredictionRegistry
	callTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// PipelineOption configures an ExecutionPipeline or ValidationPipeline.
type PipelineOption func(*pipelineOptions)

type pipelineOptions struct {
	callTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
	writeback   PredictionUpdater
}

// WithCallTimeout bounds every external call made by a pipeline.
func WithCallTimeout(d time.Duration) PipelineOption {
	return func(o *pipelineOptions) { o.callTimeout = d }
}

// WithPipelineLogger sets the pipeline logger.
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(o *pipelineOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithPipelineClock overrides the time source.
func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(o *pipelineOptions) { o.now = now }
}

func buildOptions(opts []PipelineOption) pipelineOptions {
	o := pipelineOptions{
		callTimeout: 60 * time.Second,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewExecutionPipeline creates an execution pipeline with the given dependencies.
func NewExecutionPipeline(g EvidenceGatherer, oracle Judger, proofs proofstore.Store, tasks TaskSubmitter, registry PredictionRegistry, opts ...PipelineOption) *ExecutionPipeline {
	o := buildOptions(opts)
	return &ExecutionPipeline{
		gatherer:    g,
		oracle:      oracle,
		proofs:      proofs,
		tasks:       tasks,
		registry:    registry,
		callTimeout: o.callTimeout,
		logger:      o.logger,
		now:         o.now,
	}
}

// Execute runs parse, gather, compose, judge, publish, record, submit and
// update for pred. On success the registry record is executed and returned.
// A failure in any step before update marks the record failed and returns a
// *StepError; the oracle's answer is never written when a later step fails.
//
// The current registry record is read first. Anything but a pending record
// is rejected with ErrInvalidTransition before any collaborator is called.
// A pending record that already carries a submission had its task delivered
// by an earlier run; that task is re-submitted as is and its proof recorded.
func (p *ExecutionPipeline) Execute(ctx context.Context, pred model.Prediction) (model.Prediction, error) {
	start := p.now()
	ctx, span := tracer.Start(ctx, "execute")
	span.SetAttributes(attribute.String("prediction.id", pred.ID))
	defer span.End()
	defer func() { metrics.ExecutionDuration.Observe(time.Since(start).Seconds()) }()

	log := p.logger.With("prediction_id", pred.ID)

	var rec model.Prediction
	err := p.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		rec, err = p.registry.Get(ctx, pred.ID)
		return err
	})
	if err != nil {
		err = &StepError{Step: StepLoad, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.fail(ctx, pred.ID, err, log)
		return model.Prediction{}, err
	}
	if rec.Status != model.StatusPending {
		err := &StepError{Step: StepLoad, Err: rec.ValidateTransition(model.StatusExecuted)}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("prediction is not pending, skipping", "status", rec.Status)
		return model.Prediction{}, err
	}

	var sub model.Submission
	if rec.Submission != nil {
		sub = *rec.Submission
		log.Info("resuming submitted task", "proof_cid", sub.ProofCID, "submitted_at", sub.SubmittedAt)
		err = p.submit(ctx, rec, sub)
	} else {
		sub, err = p.run(ctx, rec, log)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.fail(ctx, pred.ID, err, log)
		return model.Prediction{}, err
	}

	executedAt := p.now()
	updated, err := p.registry.Update(ctx, pred.ID, func(rec *model.Prediction) error {
		return rec.MarkExecuted(sub.Result, sub.ProofCID, sub.TweetIDs, executedAt)
	})
	if err != nil {
		stepErr := &StepError{Step: StepUpdate, Err: err}
		span.RecordError(stepErr)
		span.SetStatus(codes.Error, stepErr.Error())
		metrics.Executions.WithLabelValues("failed").Inc()
		metrics.ExecutionStepFailures.WithLabelValues(StepUpdate).Inc()
		log.Error("registry update failed after task submission", "proof_cid", sub.ProofCID, "error", err)
		return model.Prediction{}, stepErr
	}

	metrics.Executions.WithLabelValues("executed").Inc()
	log.Info("prediction executed", "result", sub.Result, "proof_cid", sub.ProofCID, "evidence", len(sub.TweetIDs), "elapsed", time.Since(start))
	return updated, nil
}

func (p *ExecutionPipeline) run(ctx context.Context, pred model.Prediction, log *slog.Logger) (model.Submission, error) {
	// Step 1: Parse
	tmpl, err := condition.Parse(pred.InputString)
	if err != nil {
		return model.Submission{}, &StepError{Step: StepParse, Err: err}
	}

	// Step 2: Gather
	var items []model.EvidenceItem
	err = p.withTimeout(ctx, func(ctx context.Context) error {
		items = p.gatherer.Gather(ctx, tmpl.Condition)
		return nil
	})
	if err != nil {
		return model.Submission{}, &StepError{Step: StepGather, Err: err}
	}
	tweetIDs := make([]string, 0, len(items))
	for _, it := range items {
		tweetIDs = append(tweetIDs, it.ID)
	}
	log.Debug("evidence gathered", "count", len(items))

	// Step 3: Compose
	prompt := ComposePrompt(pred.InputString, tmpl.Condition, items)
	if err := ctx.Err(); err != nil {
		return model.Submission{}, &StepError{Step: StepCompose, Err: err}
	}

	// Step 4: Judge
	var j Judgment
	err = p.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		j, err = p.oracle.Judge(ctx, prompt)
		return err
	})
	if err != nil {
		return model.Submission{}, &StepError{Step: StepJudge, Err: err}
	}

	// Step 5: Publish proof
	var cid string
	err = p.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		artifact := model.NewProofArtifact(prompt, j.Result, pred.ID, tweetIDs)
		cid, err = proofstore.Publish(ctx, p.proofs, artifact)
		return err
	})
	if err != nil {
		return model.Submission{}, &StepError{Step: StepPublish, Err: err}
	}

	// Step 6: Record the submission, then submit the task
	data, err := json.Marshal(model.TaskPayload{InputString: prompt, Result: j.Result})
	if err != nil {
		return model.Submission{}, &StepError{Step: StepSubmit, Err: err}
	}
	sub := model.Submission{
		ProofCID:    cid,
		Result:      j.Result,
		TweetIDs:    tweetIDs,
		Data:        string(data),
		SubmittedAt: p.now(),
	}
	err = p.withTimeout(ctx, func(ctx context.Context) error {
		_, err := p.registry.Update(ctx, pred.ID, func(rec *model.Prediction) error {
			return rec.RecordSubmission(sub)
		})
		return err
	})
	if err != nil {
		return model.Submission{}, &StepError{Step: StepRecord, Err: err}
	}

	if err := p.submit(ctx, pred, sub); err != nil {
		return model.Submission{}, err
	}
	return sub, nil
}

// submit hands sub to the attestation layer, keyed by the prediction id.
func (p *ExecutionPipeline) submit(ctx context.Context, pred model.Prediction, sub model.Submission) error {
	task := model.Task{
		ProofCID:         sub.ProofCID,
		Data:             sub.Data,
		TaskDefinitionID: pred.TaskDefinitionID,
		IdempotencyKey:   pred.ID,
	}
	err := p.withTimeout(ctx, func(ctx context.Context) error {
		return p.tasks.Submit(ctx, task)
	})
	if err != nil {
		return &StepError{Step: StepSubmit, Err: err}
	}
	return nil
}

// fail records err on the prediction. The write uses a context detached from
// ctx so a cancelled execution still leaves a failed record behind.
func (p *ExecutionPipeline) fail(ctx context.Context, id string, err error, log *slog.Logger) {
	step := "unknown"
	var se *StepError
	if errors.As(err, &se) {
		step = se.Step
	}
	metrics.Executions.WithLabelValues("failed").Inc()
	metrics.ExecutionStepFailures.WithLabelValues(step).Inc()
	log.Error("prediction execution failed", "step", step, "error", err)

	info := buildErrorInfo(step, err, p.now())
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.callTimeout)
	defer cancel()
	if _, uerr := p.registry.Update(wctx, id, func(rec *model.Prediction) error {
		return rec.MarkFailed(info)
	}); uerr != nil {
		log.Error("failed to record execution failure", "error", uerr)
	}
}

func (p *ExecutionPipeline) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	if err := fn(cctx); err != nil {
		return err
	}
	return ctx.Err()
}

// ComposePrompt builds the judgment input. Real evidence is rendered under
// the condition; with only synthetic items the original input is used.
func ComposePrompt(inputString, cond string, items []model.EvidenceItem) string {
	var texts []string
	for _, it := range items {
		if !it.Synthetic {
			texts = append(texts, it.Text)
		}
	}
	if len(texts) == 0 {
		return inputString
	}
	return condition.Render(cond, texts)
}

// buildErrorInfo creates the structured error JSON stored on failed records.
func buildErrorInfo(step string, err error, at time.Time) string {
	return model.ErrorInfo{
		FailedStep: step,
		Message:    err.Error(),
		FailedAt:   at.UTC().Format(time.RFC3339),
	}.ToJSON()
}

// StepError wraps an error with the step name that failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
