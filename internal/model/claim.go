package model

// AtomicClaim is a single verifiable assertion handed over by the extraction
// stage. Claims are immutable once admitted to a run, except for harm-potential
// reclassification which the pipeline performs independent of extraction context.
type AtomicClaim struct {
	ID            string        `json:"id"`
	Statement     string        `json:"statement"`
	Centrality    Centrality    `json:"centrality"`
	HarmPotential HarmPotential `json:"harm_potential"`
	Direction     Direction     `json:"direction"` // relative to the overall thesis
}

// Centrality describes how load-bearing a claim is for the overall thesis
type Centrality string

const (
	CentralityCentral Centrality = "central"
	CentralityHigh    Centrality = "high"
	CentralityLow     Centrality = "low"
)

// Weight returns the aggregation weight contribution of the centrality tier
func (c Centrality) Weight() float64 {
	switch c {
	case CentralityCentral:
		return 1.5
	case CentralityHigh:
		return 1.2
	default:
		return 1.0
	}
}

// Rank orders centrality tiers, highest first (used for tie-breaking)
func (c Centrality) Rank() int {
	switch c {
	case CentralityCentral:
		return 2
	case CentralityHigh:
		return 1
	default:
		return 0
	}
}

// HarmPotential indicates the real-world stakes of getting a verdict wrong
type HarmPotential string

const (
	HarmCritical HarmPotential = "critical"
	HarmHigh     HarmPotential = "high"
	HarmMedium   HarmPotential = "medium"
	HarmLow      HarmPotential = "low"
)

// Valid reports whether the value is one of the four known tiers
func (h HarmPotential) Valid() bool {
	switch h {
	case HarmCritical, HarmHigh, HarmMedium, HarmLow:
		return true
	}
	return false
}

// Multiplier returns the four-tier aggregation weight for the harm tier
func (h HarmPotential) Multiplier() float64 {
	switch h {
	case HarmCritical:
		return 1.5
	case HarmHigh:
		return 1.25
	case HarmMedium:
		return 1.0
	default:
		return 0.9
	}
}

// Gated reports whether the harm-confidence floor applies to this tier
func (h HarmPotential) Gated() bool {
	return h == HarmCritical || h == HarmHigh
}

// Direction classifies an item's stance relative to a claim or thesis
type Direction string

const (
	DirectionSupports    Direction = "supports"
	DirectionContradicts Direction = "contradicts"
	DirectionNeutral     Direction = "neutral"
)

// Valid reports whether the direction is one of the known values
func (d Direction) Valid() bool {
	switch d {
	case DirectionSupports, DirectionContradicts, DirectionNeutral:
		return true
	}
	return false
}

// Invert flips supports/contradicts; neutral stays neutral
func (d Direction) Invert() Direction {
	switch d {
	case DirectionSupports:
		return DirectionContradicts
	case DirectionContradicts:
		return DirectionSupports
	default:
		return DirectionNeutral
	}
}

// ClaimSet is the hand-off artifact from the extraction stage: validated atomic
// claims, the thesis they decompose, and the seed evidence pool from the
// extraction stage's preliminary search.
type ClaimSet struct {
	Thesis       string         `json:"thesis"`
	Claims       []AtomicClaim  `json:"claims"`
	SeedEvidence []EvidenceItem `json:"seed_evidence,omitempty"`
}
