package model

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// SchemaVersion is the current result-artifact schema. Bump whenever fields
// are added; ReadAssessment stays tolerant of older artifacts.
const SchemaVersion = 2

// EvidenceBalance reports the directional composition of the evidence pool
type EvidenceBalance struct {
	Supporting    int     `json:"supporting"`
	Contradicting int     `json:"contradicting"`
	Neutral       int     `json:"neutral"`
	Ratio         float64 `json:"ratio"`     // supporting / (supporting + contradicting)
	Evaluated     bool    `json:"evaluated"` // false below the minimum directional count
	Skewed        bool    `json:"skewed"`
	Threshold     float64 `json:"threshold"`
}

// QualityGate is one named pass/fail check in the assessment summary
type QualityGate struct {
	Name   string         `json:"name"`
	Passed bool           `json:"passed"`
	Detail string         `json:"detail,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// Assessment is the terminal artifact of one analysis run. Immutable once
// emitted.
type Assessment struct {
	SchemaVersion   int             `json:"schema_version"`
	RunID           string          `json:"run_id"`
	Thesis          string          `json:"thesis"`
	GeneratedAt     time.Time       `json:"generated_at"`
	OverallVerdict  float64         `json:"overall_verdict"` // 0-100 weighted truth
	Confidence      float64         `json:"confidence"`      // 0-100 weighted confidence
	Classification  Classification  `json:"classification"`
	Narrative       string          `json:"narrative,omitempty"`
	ClaimVerdicts   []ClaimVerdict  `json:"claim_verdicts"`
	ClaimBoundaries []ClaimBoundary `json:"claim_boundaries"`
	Coverage        *CoverageMatrix `json:"coverage_matrix,omitempty"`
	EvidenceBalance EvidenceBalance `json:"evidence_balance"`
	QualityGates    []QualityGate   `json:"quality_gates"`
	ResearchState   string          `json:"research_state"`
	EvidenceCount   int             `json:"evidence_count"`
	Warnings        []Warning       `json:"warnings,omitempty"`
	Degraded        bool            `json:"degraded"`
}

// ReadAssessment decodes a stored artifact, tolerating older schema versions.
// Artifacts written before the schema_version field carry version 0 and are
// treated as version 1; fields added since simply default.
func ReadAssessment(data []byte) (*Assessment, error) {
	var a Assessment
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode assessment: %w", err)
	}
	if a.SchemaVersion == 0 {
		a.SchemaVersion = 1
	}
	if a.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("assessment schema version %d is newer than supported %d", a.SchemaVersion, SchemaVersion)
	}
	return &a, nil
}

// WarningType classifies a non-fatal anomaly recorded during a run
type WarningType string

const (
	WarnCapacityFallback WarningType = "capacity_fallback"
	WarnFallback         WarningType = "fallback"
	WarnSearchFailure    WarningType = "search_failure"
	WarnFetchFailure     WarningType = "fetch_failure"
	WarnOracleUnset      WarningType = "oracle_unset"
	WarnBudgetExhausted  WarningType = "budget_exhausted"
	WarnImbalance        WarningType = "evidence_imbalance"
	WarnDataRepair       WarningType = "data_repair"
	WarnValidationFlag   WarningType = "validation_flag"
)

// Warning is a typed, non-fatal anomaly carried in the result artifact
type Warning struct {
	Type    WarningType    `json:"type"`
	Stage   string         `json:"stage"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// degradedTypes are the warning types that mark a run as degraded: the output
// is usable but some fallback path replaced the primary one.
var degradedTypes = map[WarningType]bool{
	WarnCapacityFallback: true,
	WarnFallback:         true,
	WarnBudgetExhausted:  true,
}

// Degrading reports whether the warning marks the run as degraded
func (w Warning) Degrading() bool {
	return degradedTypes[w.Type]
}

// WarningLog is an append-only, concurrency-safe collector of warnings.
// Components append; only the aggregation stage reads the final list.
type WarningLog struct {
	mu    sync.Mutex
	items []Warning
}

// Add appends a warning to the log
func (l *WarningLog) Add(w Warning) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, w)
}

// All returns a copy of the collected warnings
func (l *WarningLog) All() []Warning {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Warning, len(l.items))
	copy(out, l.items)
	return out
}
