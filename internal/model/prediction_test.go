package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewPrediction(t *testing.T) {
	p := NewPrediction("pred-1", "CEO resigned", "Condition: CEO resigned", time.Time{}, 0)

	if p.Status != StatusPending {
		t.Errorf("Status = %q, want %q", p.Status, StatusPending)
	}
	if p.Result != nil {
		t.Errorf("Result = %q, want null", *p.Result)
	}
	if p.ExecutedAt != nil {
		t.Error("ExecutedAt should be nil for new predictions")
	}
	if p.TweetIDs == nil || len(p.TweetIDs) != 0 {
		t.Errorf("TweetIDs = %v, want empty non-nil slice", p.TweetIDs)
	}
	want := p.CreatedAt.Add(DefaultPredictionWindow)
	if !p.EndTime.Equal(want) {
		t.Errorf("EndTime = %v, want %v", p.EndTime, want)
	}
}

func TestIsDue(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		status string
		end    time.Time
		want   bool
	}{
		{"pending past end", StatusPending, now.Add(-time.Minute), true},
		{"pending at end", StatusPending, now, true},
		{"pending future end", StatusPending, now.Add(time.Minute), false},
		{"executed past end", StatusExecuted, now.Add(-time.Minute), false},
		{"failed past end", StatusFailed, now.Add(-time.Minute), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Prediction{Status: tt.status, EndTime: tt.end}
			if got := p.IsDue(now); got != tt.want {
				t.Errorf("IsDue = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		to      string
		wantErr bool
	}{
		{"pending to executed", StatusPending, StatusExecuted, false},
		{"pending to failed", StatusPending, StatusFailed, false},
		{"executed to validated", StatusExecuted, StatusValidated, false},

		{"pending to validated forbidden", StatusPending, StatusValidated, true},
		{"executed to pending forbidden", StatusExecuted, StatusPending, true},
		{"failed to pending forbidden", StatusFailed, StatusPending, true},
		{"failed to executed forbidden", StatusFailed, StatusExecuted, true},
		{"executed to executed forbidden", StatusExecuted, StatusExecuted, true},
		{"validated is terminal", StatusValidated, StatusFailed, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Prediction{Status: tt.from}
			err := p.ValidateTransition(tt.to)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateTransition(%q->%q) error = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("error = %v, want ErrInvalidTransition", err)
			}
		})
	}
}

func TestMarkExecuted(t *testing.T) {
	p := NewPrediction("pred-1", "c", "Condition: c", time.Time{}, 0)
	at := time.Now()
	ids := []string{"placeholder"}

	if err := p.MarkExecuted(ResultNo, "sha256:abc", ids, at); err != nil {
		t.Fatalf("MarkExecuted: %v", err)
	}
	ids[0] = "mutated"

	if p.Status != StatusExecuted || p.ResultOr("") != ResultNo || p.ProofCID != "sha256:abc" {
		t.Errorf("unexpected record: %+v", p)
	}
	if p.ExecutedAt == nil {
		t.Fatal("ExecutedAt should be set")
	}
	if p.TweetIDs[0] != "placeholder" {
		t.Errorf("TweetIDs should be copied, got %v", p.TweetIDs)
	}

	if err := p.MarkExecuted(ResultYes, "sha256:def", nil, at); err == nil {
		t.Error("second MarkExecuted should fail")
	}
}

func TestMarkFailed_KeepsResultEmpty(t *testing.T) {
	p := NewPrediction("pred-1", "c", "Condition: c", time.Time{}, 0)
	if err := p.MarkFailed("publish: store unavailable"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if p.Result != nil || p.ProofCID != "" {
		t.Errorf("failed record leaked result/proof: %+v", p)
	}
	if !strings.Contains(p.Error, "store unavailable") {
		t.Errorf("Error = %q", p.Error)
	}
}

func TestClone_IsDeep(t *testing.T) {
	at := time.Now()
	result := ResultYes
	p := Prediction{
		TweetIDs:   []string{"a"},
		ExecutedAt: &at,
		Result:     &result,
		Submission: &Submission{ProofCID: "sha256:1", TweetIDs: []string{"t1"}},
	}
	c := p.Clone()
	c.TweetIDs[0] = "b"
	*c.ExecutedAt = at.Add(time.Hour)
	*c.Result = ResultNo
	c.Submission.ProofCID = "sha256:2"
	c.Submission.TweetIDs[0] = "t2"

	if *p.Result != ResultYes {
		t.Error("Clone shares Result pointer")
	}
	if p.Submission.ProofCID != "sha256:1" || p.Submission.TweetIDs[0] != "t1" {
		t.Errorf("Clone shares Submission: %+v", p.Submission)
	}

	if p.TweetIDs[0] != "a" {
		t.Error("Clone shares TweetIDs backing array")
	}
	if !p.ExecutedAt.Equal(at) {
		t.Error("Clone shares ExecutedAt pointer")
	}
}

func TestRecordSubmission(t *testing.T) {
	p := NewPrediction("pred-1", "c", "Condition: c", time.Time{}, 0)
	ids := []string{"t1"}
	if err := p.RecordSubmission(Submission{ProofCID: "sha256:abc", Result: ResultYes, TweetIDs: ids}); err != nil {
		t.Fatalf("RecordSubmission: %v", err)
	}
	ids[0] = "mutated"

	if p.Status != StatusPending || p.Result != nil {
		t.Errorf("submission should leave the record pending without a result: %+v", p)
	}
	if p.Submission == nil || p.Submission.TweetIDs[0] != "t1" {
		t.Fatalf("Submission = %+v", p.Submission)
	}

	err := p.RecordSubmission(Submission{ProofCID: "sha256:def"})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second RecordSubmission error = %v, want ErrInvalidTransition", err)
	}
	if p.Submission.ProofCID != "sha256:abc" {
		t.Errorf("submission replaced: %s", p.Submission.ProofCID)
	}

	if err := p.MarkExecuted(p.Submission.Result, p.Submission.ProofCID, p.Submission.TweetIDs, time.Now()); err != nil {
		t.Fatalf("MarkExecuted: %v", err)
	}
	if p.Submission != nil {
		t.Error("MarkExecuted should clear the submission")
	}
	if err := p.RecordSubmission(Submission{ProofCID: "sha256:ghi"}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("RecordSubmission on executed = %v, want ErrInvalidTransition", err)
	}
}

// An executed empty reply is distinguishable from no result at all.
func TestResult_EmptyIsNotNull(t *testing.T) {
	pending := NewPrediction("pred-1", "c", "Condition: c", time.Time{}, 0)
	executed := pending.Clone()
	if err := executed.MarkExecuted("", "sha256:abc", nil, time.Now()); err != nil {
		t.Fatalf("MarkExecuted: %v", err)
	}

	pj, err := json.Marshal(pending)
	if err != nil {
		t.Fatal(err)
	}
	ej, err := json.Marshal(executed)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(pj), `"result":null`) {
		t.Errorf("pending JSON = %s, want result null", pj)
	}
	if !strings.Contains(string(ej), `"result":""`) {
		t.Errorf("executed JSON = %s, want empty result", ej)
	}
	if executed.ResultOr("-") != "" || pending.ResultOr("-") != "-" {
		t.Errorf("ResultOr mismatch")
	}
}

func TestErrorInfoToJSON(t *testing.T) {
	info := ErrorInfo{FailedStep: "judge", Message: "timeout", FailedAt: "2026-01-01T00:00:00Z"}
	j := info.ToJSON()
	if !strings.Contains(j, `"failed_step":"judge"`) {
		t.Errorf("ToJSON missing failed_step, got %s", j)
	}
}
