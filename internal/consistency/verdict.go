package consistency

import (
	"encoding/json"
	"time"
)

// Classification is the terminal outcome of a correlation pass for one
// aircraft. A track with too little data is insufficient-data, never
// silently nominal.
type Classification uint8

const (
	ClassInsufficientData Classification = iota
	ClassNominal
	ClassAnomalous
)

func (c Classification) String() string {
	switch c {
	case ClassNominal:
		return "nominal"
	case ClassAnomalous:
		return "anomalous"
	default:
		return "insufficient-data"
	}
}

// MarshalJSON writes the classification as its string form so downstream
// consumers never depend on enum ordering.
func (c Classification) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// Check names used in verdicts and metrics.
const (
	CheckSignalDecay = "signal-decay"
	CheckKinematics  = "kinematics"
	CheckAgreement   = "cross-receiver-agreement"
	CheckAbsence     = "line-of-sight-absence"
)

// CheckResult records one check's outcome. Evaluated is false when the
// window held too few reports to run the check at all.
type CheckResult struct {
	Name      string `json:"name"`
	Evaluated bool   `json:"evaluated"`
	Passed    bool   `json:"passed"`
	Detail    string `json:"detail,omitempty"`
}

// Verdict is the immutable audit record produced for one aircraft by one
// correlation pass. It is never mutated after emission.
type Verdict struct {
	ID                string         `json:"id"`
	ICAO              uint32         `json:"icao"`
	ICAOHex           string         `json:"icao_hex"`
	Receivers         []string       `json:"receivers"`
	PlausibilityScore float64        `json:"plausibility_score"`
	AgreementScore    float64        `json:"agreement_score"`
	Classification    Classification `json:"classification"`
	Checks            []CheckResult  `json:"checks"`
	WindowStart       time.Time      `json:"window_start"`
	WindowEnd         time.Time      `json:"window_end"`
	GeneratedAt       time.Time      `json:"generated_at"`
}
