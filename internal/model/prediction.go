package model

import (
	"fmt"
	"time"
)

// Prediction status constants
const (
	StatusPending   = "pending"
	StatusExecuted  = "executed"
	StatusValidated = "validated"
	StatusFailed    = "failed"
)

// Result constants. The oracle is not bound to these; any normalized
// one-word reply is stored as-is.
const (
	ResultYes          = "yes"
	ResultNo           = "no"
	ResultUndetermined = "undetermined"
)

// DefaultPredictionWindow is the end time offset applied when none is given.
const DefaultPredictionWindow = 24 * time.Hour

// Prediction is a single prediction-market condition tracked by the registry.
type Prediction struct {
	ID               string      `json:"id"`
	Condition        string      `json:"condition"`
	InputString      string      `json:"inputString"`
	Status           string      `json:"status"`
	Result           *string     `json:"result"`
	EndTime          time.Time   `json:"endTime"`
	CreatedAt        time.Time   `json:"createdAt"`
	ExecutedAt       *time.Time  `json:"executedAt,omitempty"`
	ValidatedAt      *time.Time  `json:"validatedAt,omitempty"`
	TaskDefinitionID int         `json:"taskDefinitionId"`
	TweetIDs         []string    `json:"tweetIds"`
	ProofCID         string      `json:"proofCid,omitempty"`
	PredictionCID    string      `json:"predictionCid,omitempty"`
	Error            string      `json:"error,omitempty"`
	Submission       *Submission `json:"submission,omitempty"`
}

// Submission is a task handed to the attestation layer while the record was
// still pending. Re-executing such a record finishes the submission instead
// of judging again, so the registry cites the proof validators received.
type Submission struct {
	ProofCID    string    `json:"proofCid"`
	Result      string    `json:"result"`
	TweetIDs    []string  `json:"tweetIds"`
	Data        string    `json:"data"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// NewPrediction creates a pending Prediction. A zero endTime defaults to
// now + DefaultPredictionWindow.
func NewPrediction(id, condition, inputString string, endTime time.Time, taskDefinitionID int) Prediction {
	now := time.Now().UTC()
	if endTime.IsZero() {
		endTime = now.Add(DefaultPredictionWindow)
	}
	return Prediction{
		ID:               id,
		Condition:        condition,
		InputString:      inputString,
		Status:           StatusPending,
		EndTime:          endTime.UTC(),
		CreatedAt:        now,
		TaskDefinitionID: taskDefinitionID,
		TweetIDs:         []string{},
	}
}

// IsDue reports whether the prediction should be executed at now.
func (p *Prediction) IsDue(now time.Time) bool {
	return p.Status == StatusPending && !p.EndTime.After(now)
}

// MarkExecuted records a successful execution.
func (p *Prediction) MarkExecuted(result, proofCID string, tweetIDs []string, at time.Time) error {
	if err := p.ValidateTransition(StatusExecuted); err != nil {
		return err
	}
	at = at.UTC()
	p.Status = StatusExecuted
	p.Result = &result
	p.ProofCID = proofCID
	p.ExecutedAt = &at
	p.TweetIDs = append([]string{}, tweetIDs...)
	p.Error = ""
	p.Submission = nil
	return nil
}

// RecordSubmission notes the task about to be submitted. Only pending
// records accept one, and a recorded submission is never replaced.
func (p *Prediction) RecordSubmission(s Submission) error {
	if p.Status != StatusPending {
		return fmt.Errorf("%w: record submission on %s prediction", ErrInvalidTransition, p.Status)
	}
	if p.Submission != nil {
		return fmt.Errorf("%w: prediction already submitted %s", ErrInvalidTransition, p.Submission.ProofCID)
	}
	s.TweetIDs = append([]string{}, s.TweetIDs...)
	s.SubmittedAt = s.SubmittedAt.UTC()
	p.Submission = &s
	return nil
}

// ResultOr returns the stored result, or def when there is none yet.
func (p *Prediction) ResultOr(def string) string {
	if p.Result == nil {
		return def
	}
	return *p.Result
}

// MarkFailed records a failed execution. Result and proof are left unset so
// a discarded oracle answer never reaches the registry. A recorded
// submission is kept; its task may have been delivered.
func (p *Prediction) MarkFailed(msg string) error {
	if err := p.ValidateTransition(StatusFailed); err != nil {
		return err
	}
	p.Status = StatusFailed
	p.Error = msg
	return nil
}

// MarkValidated records an approved validator vote.
func (p *Prediction) MarkValidated(at time.Time) error {
	if err := p.ValidateTransition(StatusValidated); err != nil {
		return err
	}
	at = at.UTC()
	p.Status = StatusValidated
	p.ValidatedAt = &at
	return nil
}

// ValidateTransition checks the forward-only status machine:
// pending -> executed | failed, executed -> validated.
func (p *Prediction) ValidateTransition(to string) error {
	switch {
	case p.Status == StatusPending && (to == StatusExecuted || to == StatusFailed):
		return nil
	case p.Status == StatusExecuted && to == StatusValidated:
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, to)
}

// Clone returns a deep copy.
func (p Prediction) Clone() Prediction {
	c := p
	c.TweetIDs = append([]string{}, p.TweetIDs...)
	if p.Result != nil {
		r := *p.Result
		c.Result = &r
	}
	if p.Submission != nil {
		s := *p.Submission
		s.TweetIDs = append([]string{}, p.Submission.TweetIDs...)
		c.Submission = &s
	}
	if p.ExecutedAt != nil {
		t := *p.ExecutedAt
		c.ExecutedAt = &t
	}
	if p.ValidatedAt != nil {
		t := *p.ValidatedAt
		c.ValidatedAt = &t
	}
	return c
}
