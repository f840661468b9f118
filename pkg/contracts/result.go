package contracts

import (
	"encoding/json"
	"time"
)

// AdmissionResult is the outcome of evaluating one exit marker against one
// policy. Reasons is empty iff Admitted is true.
type AdmissionResult struct {
	Admitted    bool      `json:"admitted"`
	Reasons     []string  `json:"reasons"`
	Policy      string    `json:"policy"`
	EvaluatedAt time.Time `json:"evaluatedAt"`
}

// ContinuityResult covers causal linkage only: reference and ordering.
type ContinuityResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// TransferRecord is the outcome of verifying an exit/arrival pair.
type TransferRecord struct {
	Verified     bool             `json:"verified"`
	TransferTime time.Duration    `json:"-"`
	Errors       []string         `json:"errors"`
	Continuity   ContinuityResult `json:"continuity"`
}

// MarshalJSON renders TransferTime as whole milliseconds.
func (r TransferRecord) MarshalJSON() ([]byte, error) {
	type alias TransferRecord
	return json.Marshal(struct {
		alias
		TransferTimeMs int64 `json:"transferTimeMs"`
	}{
		alias:          alias(r),
		TransferTimeMs: r.TransferTime.Milliseconds(),
	})
}
