package model

import (
	"encoding/json"
	"errors"
)

var (
	// ErrMalformedInput means no condition could be parsed from an input string.
	ErrMalformedInput = errors.New("malformed input")
	// ErrEvidenceFetch is a per-account evidence failure; callers skip the account.
	ErrEvidenceFetch = errors.New("evidence fetch failed")
	// ErrEvidenceSourceUnavailable is a systemic evidence failure.
	ErrEvidenceSourceUnavailable = errors.New("evidence source unavailable")
	// ErrOracleUnavailable wraps any transport or parse failure of a judgment call.
	ErrOracleUnavailable = errors.New("oracle unavailable")
	// ErrStoreUnavailable means a proof store or registry write did not commit.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrProofNotFound means no artifact exists for a content id.
	ErrProofNotFound = errors.New("proof not found")
	// ErrMalformedProof means a fetched artifact lacks inputString or result.
	ErrMalformedProof = errors.New("malformed proof")
	// ErrPredictionNotFound means the registry has no record with that id.
	ErrPredictionNotFound = errors.New("prediction not found")
	// ErrDuplicatePrediction means an append reused an existing id.
	ErrDuplicatePrediction = errors.New("prediction already exists")
	// ErrInvalidTransition means a status change violates the forward-only machine.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrRegistryConflict means the registry head kept moving under a writer.
	ErrRegistryConflict = errors.New("registry conflict")
)

// ErrorInfo holds structured failure information for logs and API replies.
type ErrorInfo struct {
	FailedStep string `json:"failed_step"`
	Message    string `json:"message"`
	FailedAt   string `json:"failed_at"`
}

// ToJSON serializes ErrorInfo to a JSON string.
func (e ErrorInfo) ToJSON() string {
	b, _ := json.Marshal(e)
	return string(b)
}
