package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yangwenmai/oracle-avs/internal/evidence"
	"github.com/yangwenmai/oracle-avs/internal/model"
	"github.com/yangwenmai/oracle-avs/internal/proofstore"
	"github.com/yangwenmai/oracle-avs/internal/registry"
	"github.com/yangwenmai/oracle-avs/internal/task"
)

var (
	testNow    = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	quietLog   = slog.New(slog.NewTextHandler(io.Discard, nil))
	testClock  = func() time.Time { return testNow }
	errBackend = errors.New("backend down")
)

// recordingSubmitter records submitted tasks.
type recordingSubmitter struct {
	mu    sync.Mutex
	tasks []model.Task
	err   error
}

func (s *recordingSubmitter) Submit(_ context.Context, t model.Task) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, t)
	return nil
}

func (s *recordingSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// failingStore fails every Put and delegates Get.
type failingStore struct {
	*proofstore.MemoryStore
}

func (failingStore) Put(context.Context, []byte) (string, error) {
	return "", errBackend
}

type fixture struct {
	reg    *registry.Registry
	proofs *proofstore.MemoryStore
	tasks  *recordingSubmitter
	model  *StubModelClient
	source *evidence.StubSource
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		reg:    registry.New(&registry.MemoryHead{}, proofstore.NewMemoryStore(), registry.WithLogger(quietLog)),
		proofs: proofstore.NewMemoryStore(),
		tasks:  &recordingSubmitter{},
		model:  &StubModelClient{},
		source: &evidence.StubSource{},
	}
}

func (f *fixture) pipeline(proofs proofstore.Store) *ExecutionPipeline {
	g := evidence.NewGatherer(evidence.DefaultDirectory(), f.source,
		evidence.WithLogger(quietLog), evidence.WithClock(testClock))
	return NewExecutionPipeline(g, NewOracle(RolePerformer, f.model, quietLog), proofs, f.tasks, f.reg,
		WithCallTimeout(time.Second), WithPipelineLogger(quietLog), WithPipelineClock(testClock))
}

func (f *fixture) seed(t *testing.T, id, input string) model.Prediction {
	t.Helper()
	p := model.NewPrediction(id, "", input, testNow.Add(-time.Minute), 7)
	if err := f.reg.Append(context.Background(), p); err != nil {
		t.Fatalf("Append: %v", err)
	}
	return p
}

func TestExecute_PlaceholderEvidence(t *testing.T) {
	// No account has anything about the condition.
	f := newFixture(t)
	f.model.Reply = func(string) (string, error) { return "No", nil }
	input := "Condition: CEO of XYZ resigned\nX post: rumours this morning"
	pred := f.seed(t, "pred-a", input)

	got, err := f.pipeline(f.proofs).Execute(context.Background(), pred)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if got.Status != model.StatusExecuted || got.ResultOr("") != model.ResultNo {
		t.Errorf("record = %s/%s, want executed/no", got.Status, got.ResultOr("<null>"))
	}
	if len(got.TweetIDs) != 1 || got.TweetIDs[0] != model.EvidencePlaceholderID {
		t.Errorf("TweetIDs = %v, want [placeholder]", got.TweetIDs)
	}
	if prompts := f.model.Prompts(); len(prompts) != 1 || prompts[0] != input {
		t.Errorf("oracle prompts = %q, want original input", prompts)
	}

	var artifact model.ProofArtifact
	if err := proofstore.Fetch(context.Background(), f.proofs, got.ProofCID, &artifact); err != nil {
		t.Fatalf("Fetch proof: %v", err)
	}
	if artifact.InputString != input || artifact.Result != "no" || artifact.PredictionID != "pred-a" {
		t.Errorf("artifact = %+v", artifact)
	}

	if f.tasks.count() != 1 {
		t.Fatalf("tasks = %d, want 1", f.tasks.count())
	}
	task := f.tasks.tasks[0]
	if task.ProofCID != got.ProofCID || task.IdempotencyKey != "pred-a" || task.TaskDefinitionID != 7 {
		t.Errorf("task = %+v", task)
	}
	if !strings.Contains(task.Data, `"result":"no"`) {
		t.Errorf("task data = %s", task.Data)
	}
}

func TestExecute_RealEvidenceComposesPrompt(t *testing.T) {
	f := newFixture(t)
	f.source.Items = map[string][]model.EvidenceItem{
		"Tesla": {{ID: "t1", Text: "Tesla confirms Q3 deliveries", Author: "Tesla", CreatedAt: testNow.Add(-time.Hour)}},
	}
	pred := f.seed(t, "pred-real", "Condition: Tesla confirms deliveries")

	got, err := f.pipeline(f.proofs).Execute(context.Background(), pred)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := "Condition: Tesla confirms deliveries\nX post: Tesla confirms Q3 deliveries"
	if prompts := f.model.Prompts(); len(prompts) != 1 || prompts[0] != want {
		t.Errorf("oracle prompt = %q, want %q", prompts, want)
	}
	if got.ResultOr("") != "yes" || len(got.TweetIDs) != 1 || got.TweetIDs[0] != "t1" {
		t.Errorf("record = %+v", got)
	}
}

func TestExecute_AllAccountsFail(t *testing.T) {
	f := newFixture(t)
	f.source.Failing = map[string]error{
		"Tesla": errBackend, "elonmusk": errBackend, "TeslaMotors": errBackend,
	}
	input := "Condition: Tesla recalls Cybertruck"
	pred := f.seed(t, "pred-b", input)

	got, err := f.pipeline(f.proofs).Execute(context.Background(), pred)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if prompts := f.model.Prompts(); len(prompts) != 1 || prompts[0] != input {
		t.Errorf("oracle should see the original input, got %q", prompts)
	}
	if got.Status != model.StatusExecuted {
		t.Errorf("Status = %s, want executed", got.Status)
	}
	if len(got.TweetIDs) != 1 || got.TweetIDs[0] != model.EvidenceErrorID {
		t.Errorf("TweetIDs = %v, want [error]", got.TweetIDs)
	}
}

func TestExecute_AllAccountsFail_OracleDown(t *testing.T) {
	f := newFixture(t)
	f.source.Failing = map[string]error{
		"Tesla": errBackend, "elonmusk": errBackend, "TeslaMotors": errBackend,
	}
	f.model.Reply = func(string) (string, error) { return "", errBackend }
	pred := f.seed(t, "pred-b2", "Condition: Tesla recalls Cybertruck")

	_, err := f.pipeline(f.proofs).Execute(context.Background(), pred)
	if !errors.Is(err, model.ErrOracleUnavailable) {
		t.Fatalf("err = %v, want ErrOracleUnavailable", err)
	}
	rec, _ := f.reg.Get(context.Background(), "pred-b2")
	if rec.Status != model.StatusFailed {
		t.Errorf("Status = %s, want failed", rec.Status)
	}
	if !strings.Contains(rec.Error, `"failed_step":"judge"`) {
		t.Errorf("Error = %s", rec.Error)
	}
}

func TestExecute_PublishFailureDiscardsResult(t *testing.T) {
	f := newFixture(t)
	pred := f.seed(t, "pred-c", "Condition: CEO of XYZ resigned")

	_, err := f.pipeline(failingStore{proofstore.NewMemoryStore()}).Execute(context.Background(), pred)

	var se *StepError
	if !errors.As(err, &se) || se.Step != StepPublish {
		t.Fatalf("err = %v, want publish StepError", err)
	}
	if !errors.Is(err, model.ErrStoreUnavailable) {
		t.Errorf("err = %v, want ErrStoreUnavailable", err)
	}
	if len(f.model.Prompts()) != 1 {
		t.Errorf("oracle should have been called once")
	}
	if f.tasks.count() != 0 {
		t.Errorf("tasks = %d, want none after publish failure", f.tasks.count())
	}

	rec, err := f.reg.Get(context.Background(), "pred-c")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != model.StatusFailed || rec.Result != nil || rec.ProofCID != "" || rec.Submission != nil {
		t.Errorf("record = %+v, want failed with no result", rec)
	}
	if !strings.Contains(rec.Error, `"failed_step":"publish"`) {
		t.Errorf("Error = %s", rec.Error)
	}
}

func TestExecute_SubmitFailure(t *testing.T) {
	f := newFixture(t)
	f.tasks.err = errBackend
	pred := f.seed(t, "pred-s", "Condition: anything at all")

	_, err := f.pipeline(f.proofs).Execute(context.Background(), pred)
	var se *StepError
	if !errors.As(err, &se) || se.Step != StepSubmit {
		t.Fatalf("err = %v, want submit StepError", err)
	}
	rec, _ := f.reg.Get(context.Background(), "pred-s")
	if rec.Status != model.StatusFailed || rec.Result != nil {
		t.Errorf("record = %+v", rec)
	}
	if rec.Submission == nil || rec.Submission.ProofCID == "" {
		t.Errorf("failed submit should keep the recorded submission: %+v", rec.Submission)
	}
}

func TestExecute_MalformedInput(t *testing.T) {
	f := newFixture(t)
	pred := f.seed(t, "pred-m", "no condition line here")

	_, err := f.pipeline(f.proofs).Execute(context.Background(), pred)
	if !errors.Is(err, model.ErrMalformedInput) {
		t.Fatalf("err = %v, want ErrMalformedInput", err)
	}
	if len(f.model.Prompts()) != 0 {
		t.Error("oracle should not be called for malformed input")
	}
	rec, _ := f.reg.Get(context.Background(), "pred-m")
	if rec.Status != model.StatusFailed {
		t.Errorf("Status = %s, want failed", rec.Status)
	}
}

func TestExecute_CancelledStillRecordsFailure(t *testing.T) {
	f := newFixture(t)
	pred := f.seed(t, "pred-x", "Condition: anything at all")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.pipeline(f.proofs).Execute(ctx, pred)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	rec, _ := f.reg.Get(context.Background(), "pred-x")
	if rec.Status != model.StatusFailed {
		t.Errorf("Status = %s, want failed", rec.Status)
	}
}

func TestExecute_AlreadyExecutedRecord(t *testing.T) {
	f := newFixture(t)
	pred := f.seed(t, "pred-twice", "Condition: anything at all")
	p := f.pipeline(f.proofs)

	if _, err := p.Execute(context.Background(), pred); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	_, err := p.Execute(context.Background(), pred)
	if !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("second Execute err = %v, want ErrInvalidTransition", err)
	}
	rec, _ := f.reg.Get(context.Background(), "pred-twice")
	if rec.Status != model.StatusExecuted {
		t.Errorf("Status = %s, executed record must not regress", rec.Status)
	}
	if f.tasks.count() != 1 {
		t.Errorf("tasks = %d, want 1", f.tasks.count())
	}
	if n := len(f.model.Prompts()); n != 1 {
		t.Errorf("oracle called %d times, want 1", n)
	}
}

// flakyRegistry fails the next n updates that would mark a record executed.
type flakyRegistry struct {
	*registry.Registry
	mu sync.Mutex
	n  int
}

func (r *flakyRegistry) Update(ctx context.Context, id string, mutate func(*model.Prediction) error) (model.Prediction, error) {
	return r.Registry.Update(ctx, id, func(rec *model.Prediction) error {
		if err := mutate(rec); err != nil {
			return err
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if rec.Status == model.StatusExecuted && r.n > 0 {
			r.n--
			return errBackend
		}
		return nil
	})
}

// drain returns every task queued on m.
func drain(m *task.Memory) []model.Task {
	var got []model.Task
	if m.Pending() == 0 {
		return got
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = m.Consume(ctx, func(_ context.Context, tk model.Task) error {
		got = append(got, tk)
		if m.Pending() == 0 {
			cancel()
		}
		return nil
	})
	return got
}

// A run whose final update fails leaves the submitted task behind. The next
// run must record that task's proof, not judge again.
func TestExecute_ResumesAfterUpdateFailure(t *testing.T) {
	f := newFixture(t)
	answers := []string{"yes", "no"}
	var calls int
	f.model.Reply = func(string) (string, error) {
		a := answers[calls%len(answers)]
		calls++
		return a, nil
	}
	pred := f.seed(t, "pred-r", "Condition: anything at all")

	queue := task.NewMemory(0, quietLog)
	reg := &flakyRegistry{Registry: f.reg, n: 1}
	g := evidence.NewGatherer(evidence.DefaultDirectory(), f.source,
		evidence.WithLogger(quietLog), evidence.WithClock(testClock))
	p := NewExecutionPipeline(g, NewOracle(RolePerformer, f.model, quietLog), f.proofs, queue, reg,
		WithCallTimeout(time.Second), WithPipelineLogger(quietLog), WithPipelineClock(testClock))

	_, err := p.Execute(context.Background(), pred)
	var se *StepError
	if !errors.As(err, &se) || se.Step != StepUpdate {
		t.Fatalf("first Execute err = %v, want update StepError", err)
	}
	rec, _ := f.reg.Get(context.Background(), "pred-r")
	if rec.Status != model.StatusPending || rec.Submission == nil {
		t.Fatalf("record = %+v, want pending with a submission", rec)
	}

	got, err := p.Execute(context.Background(), rec)
	if err != nil {
		t.Fatalf("second Execute: %v", err)
	}

	delivered := drain(queue)
	if len(delivered) != 1 {
		t.Fatalf("delivered %d tasks, want 1", len(delivered))
	}
	if got.ProofCID != delivered[0].ProofCID {
		t.Errorf("registry proof %s, delivered proof %s", got.ProofCID, delivered[0].ProofCID)
	}
	if got.Status != model.StatusExecuted || got.ResultOr("") != "yes" || got.Submission != nil {
		t.Errorf("record = %+v, want executed/yes", got)
	}
	if calls != 1 {
		t.Errorf("oracle called %d times, want 1", calls)
	}

	var artifact model.ProofArtifact
	if err := proofstore.Fetch(context.Background(), f.proofs, got.ProofCID, &artifact); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if artifact.Result != "yes" {
		t.Errorf("proof result = %q, want yes", artifact.Result)
	}
}

func TestExecute_MissingRecord(t *testing.T) {
	f := newFixture(t)
	pred := model.NewPrediction("pred-gone", "", "Condition: anything", testNow.Add(-time.Minute), 0)

	_, err := f.pipeline(f.proofs).Execute(context.Background(), pred)
	var se *StepError
	if !errors.As(err, &se) || se.Step != StepLoad {
		t.Fatalf("err = %v, want load StepError", err)
	}
	if !errors.Is(err, model.ErrPredictionNotFound) {
		t.Errorf("err = %v, want ErrPredictionNotFound", err)
	}
	if len(f.model.Prompts()) != 0 || f.tasks.count() != 0 {
		t.Error("nothing should run for a missing record")
	}
}

func TestOracle_Normalizes(t *testing.T) {
	o := NewOracle(RolePerformer, &StubModelClient{Reply: func(string) (string, error) { return "  YES  \n", nil }}, quietLog)
	j, err := o.Judge(context.Background(), "Condition: x")
	if err != nil {
		t.Fatalf("Judge: %v", err)
	}
	if j.Result != "yes" || j.Raw != "  YES  \n" {
		t.Errorf("Judgment = %+v", j)
	}
}

func TestOracle_EmptyReplyIsAResult(t *testing.T) {
	o := NewOracle(RoleValidator, &StubModelClient{Reply: func(string) (string, error) { return " \n", nil }}, quietLog)
	j, err := o.Judge(context.Background(), "Condition: x")
	if err != nil {
		t.Fatalf("Judge: %v", err)
	}
	if j.Result != "" {
		t.Errorf("Result = %q, want empty", j.Result)
	}
}

func TestComposePrompt(t *testing.T) {
	items := []model.EvidenceItem{
		{ID: "1", Text: "first"},
		{ID: model.EvidencePlaceholderID, Text: "placeholder", Synthetic: true},
		{ID: "2", Text: "second"},
	}
	got := ComposePrompt("raw", "c", items)
	if got != "Condition: c\nX post: first\n\nsecond" {
		t.Errorf("ComposePrompt = %q", got)
	}
	if got := ComposePrompt("raw", "c", items[1:2]); got != "raw" {
		t.Errorf("synthetic only = %q, want raw input", got)
	}
}

func TestStepError_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	se := &StepError{Step: "judge", Err: inner}

	if se.Error() != "judge: root cause" {
		t.Errorf("Error() = %q", se.Error())
	}
	if !errors.Is(se, inner) {
		t.Error("Unwrap should make inner error accessible via errors.Is")
	}
}
