package model

import "time"

// Evidence sentinel ids for synthetic items.
const (
	EvidencePlaceholderID = "placeholder"
	EvidenceErrorID       = "error"
)

// EvidenceItem is a single piece of external text used as judgment input.
type EvidenceItem struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	Synthetic bool      `json:"synthetic,omitempty"`
}

// ProofArtifact is the immutable record published to the proof store.
// Only inputString and result are required by validators; the rest are
// informational and may be absent in artifacts from other performers.
type ProofArtifact struct {
	InputString  string   `json:"inputString"`
	Result       string   `json:"result"`
	Timestamp    string   `json:"timestamp"`
	PredictionID string   `json:"predictionId,omitempty"`
	EvidenceIDs  []string `json:"evidenceIds,omitempty"`
}

// NewProofArtifact stamps a proof artifact with the current time.
func NewProofArtifact(inputString, result, predictionID string, evidenceIDs []string) ProofArtifact {
	return ProofArtifact{
		InputString:  inputString,
		Result:       result,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		PredictionID: predictionID,
		EvidenceIDs:  evidenceIDs,
	}
}

// TaskPayload is the serialized data carried by a submitted task.
type TaskPayload struct {
	InputString string `json:"inputString"`
	Result      string `json:"result"`
}

// ValidationVote is the validator's verdict on a proof. It is not persisted.
type ValidationVote struct {
	Approved        bool   `json:"approved"`
	ProofCID        string `json:"proofCid,omitempty"`
	PerformerResult string `json:"performerResult,omitempty"`
	ValidatorResult string `json:"validatorResult,omitempty"`
	InputString     string `json:"inputString,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Snapshot is the registry document published on every write.
type Snapshot struct {
	Predictions []Prediction `json:"predictions"`
	LastUpdated string       `json:"lastUpdated"`
}

// Task is the unit handed to the attestation layer after a proof is
// published. IdempotencyKey lets transports drop duplicate submissions.
type Task struct {
	ProofCID         string `json:"proofCid"`
	Data             string `json:"data"`
	TaskDefinitionID int    `json:"taskDefinitionId"`
	IdempotencyKey   string `json:"idempotencyKey"`
}
