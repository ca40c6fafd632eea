package model

import "strings"

// EvidenceItem is one piece of extracted evidence. Items are created during
// research, never mutated after filtering, and are owned by the analysis run.
type EvidenceItem struct {
	ID               string         `json:"id"`
	Statement        string         `json:"statement"`
	SourceType       SourceType     `json:"source_type"`
	SourceURL        string         `json:"source_url,omitempty"`
	Direction        Direction      `json:"direction"`
	ProbativeValue   float64        `json:"probative_value"` // 0-1
	RelevantClaimIDs []string       `json:"relevant_claim_ids"`
	Scope            EvidenceScope  `json:"scope"`
	SearchStrategy   SearchStrategy `json:"search_strategy,omitempty"`
}

// Relevant reports whether the item bears on the given claim
func (e *EvidenceItem) Relevant(claimID string) bool {
	for _, id := range e.RelevantClaimIDs {
		if id == claimID {
			return true
		}
	}
	return false
}

// SourceType classifies where a piece of evidence came from
type SourceType string

const (
	SourcePrimary   SourceType = "primary"   // laws, papers, official records
	SourceSecondary SourceType = "secondary" // encyclopedias, major media
	SourceTertiary  SourceType = "tertiary"  // blogs, forums, aggregators
)

// SearchStrategy tags how the query that surfaced the item was generated
type SearchStrategy string

const (
	SearchStrategyStandard   SearchStrategy = "standard"
	SearchStrategySeed       SearchStrategy = "seed"
	SearchStrategyContrarian SearchStrategy = "contrarian"
)

// EvidenceScope describes the applicability boundaries of one evidence item.
// All three axes are mandatory at extraction; "unspecified" is an accepted
// value, absence is not.
type EvidenceScope struct {
	Temporal       string `json:"temporal"`
	Geographic     string `json:"geographic"`
	Methodological string `json:"methodological"`
}

// Complete reports whether all scope axes were populated
func (s EvidenceScope) Complete() bool {
	return s.Temporal != "" && s.Geographic != "" && s.Methodological != ""
}

// Key returns the scope identity used for boundary assignment
func (s EvidenceScope) Key() string {
	norm := func(v string) string {
		return strings.ToLower(strings.TrimSpace(v))
	}
	return norm(s.Temporal) + "|" + norm(s.Geographic) + "|" + norm(s.Methodological)
}

// Describe renders the scope as prose for classification prompts
func (s EvidenceScope) Describe() string {
	return "temporal: " + s.Temporal + "; geographic: " + s.Geographic + "; methodological: " + s.Methodological
}
