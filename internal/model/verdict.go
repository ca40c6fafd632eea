package model

// Classification is the categorical reading of a claim verdict
type Classification string

const (
	ClassSupported          Classification = "supported"
	ClassPartiallySupported Classification = "partially_supported"
	ClassContested          Classification = "contested"
	ClassRefuted            Classification = "refuted"
	ClassUnverified         Classification = "unverified"
	ClassNoVerdict          Classification = "no_verdict"
)

// Valid reports whether the classification is a known value
func (c Classification) Valid() bool {
	switch c {
	case ClassSupported, ClassPartiallySupported, ClassContested, ClassRefuted, ClassUnverified, ClassNoVerdict:
		return true
	}
	return false
}

// ClassifyTruth maps a truth percentage to the deterministic default
// classification, used when the model omits or mangles its own label.
func ClassifyTruth(truthPct float64) Classification {
	switch {
	case truthPct >= 75:
		return ClassSupported
	case truthPct >= 55:
		return ClassPartiallySupported
	case truthPct >= 35:
		return ClassContested
	default:
		return ClassRefuted
	}
}

// ValidationFlags carries the advisory results of the post-debate checks.
// Flags never rewrite a verdict; they only annotate it.
type ValidationFlags struct {
	GroundingChecked    bool     `json:"grounding_checked"`
	Grounded            bool     `json:"grounded"`
	UngroundedPoints    []string `json:"ungrounded_points,omitempty"`
	DirectionChecked    bool     `json:"direction_checked"`
	DirectionConsistent bool     `json:"direction_consistent"`
}

// ClaimVerdict is the calibrated per-claim outcome of the debate protocol.
// Produced once per claim per run; after production its confidence may only be
// lowered (harm floor), never raised.
type ClaimVerdict struct {
	ClaimID            string            `json:"claim_id"`
	TruthPercentage    float64           `json:"truth_percentage"` // 0-100
	Confidence         float64           `json:"confidence"`       // 0-100, post-multiplier
	BaseConfidence     float64           `json:"base_confidence"`  // 0-100, pre-multiplier
	RawSpread          float64           `json:"raw_spread"`       // self-consistency spread in pp
	SpreadMultiplier   float64           `json:"spread_multiplier"`
	Classification     Classification    `json:"classification"`
	HarmFloorApplied   bool              `json:"harm_floor_applied"`
	Reasoning          string            `json:"reasoning,omitempty"`
	CitedEvidenceIDs   []string          `json:"cited_evidence_ids,omitempty"`
	BoundaryFindings   []BoundaryFinding `json:"boundary_findings,omitempty"`
	TriangulationScore float64           `json:"triangulation_score"`
	Validation         ValidationFlags   `json:"validation"`
	Fallback           bool              `json:"fallback,omitempty"` // placeholder verdict after structural failure
}

// NoVerdict returns the explicit placeholder used when the debate protocol
// failed structurally for a claim. Confidence 0, never silently dropped.
func NoVerdict(claimID string) ClaimVerdict {
	return ClaimVerdict{
		ClaimID:          claimID,
		Confidence:       0,
		SpreadMultiplier: 1.0,
		Classification:   ClassNoVerdict,
		Fallback:         true,
	}
}
