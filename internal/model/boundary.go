package model

import "sort"

// ClaimBoundary is a coherent analytical framing under which a subset of
// evidence is jointly interpretable (a jurisdiction, a time period, a
// methodology). Created once by clustering; every evidence scope belongs to
// exactly one boundary.
type ClaimBoundary struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	InternalCoherence float64  `json:"internal_coherence"` // 0-1
	ScopeKeys         []string `json:"scope_keys"`
}

// BoundaryFinding is a local verdict contribution for one (claim, boundary)
// pair. Computed during debate, read-only downstream.
type BoundaryFinding struct {
	BoundaryID    string    `json:"boundary_id"`
	Direction     Direction `json:"direction"`
	Strength      float64   `json:"strength"` // 0-1
	EvidenceCount int       `json:"evidence_count"`
}

// CoverageMatrix is a dense claim x boundary grid marking which claims have
// evidence in which boundary. Used to detect coverage gaps.
type CoverageMatrix struct {
	ClaimIDs    []string        `json:"claim_ids"`
	BoundaryIDs []string        `json:"boundary_ids"`
	Cells       map[string]bool `json:"cells"` // claimID + "/" + boundaryID
}

// NewCoverageMatrix creates an empty matrix over the given axes
func NewCoverageMatrix(claimIDs, boundaryIDs []string) *CoverageMatrix {
	c := make([]string, len(claimIDs))
	copy(c, claimIDs)
	b := make([]string, len(boundaryIDs))
	copy(b, boundaryIDs)
	sort.Strings(c)
	sort.Strings(b)
	return &CoverageMatrix{
		ClaimIDs:    c,
		BoundaryIDs: b,
		Cells:       make(map[string]bool),
	}
}

// Set marks the claim as covered in the boundary
func (m *CoverageMatrix) Set(claimID, boundaryID string) {
	m.Cells[claimID+"/"+boundaryID] = true
}

// Has reports whether the claim has evidence in the boundary
func (m *CoverageMatrix) Has(claimID, boundaryID string) bool {
	return m.Cells[claimID+"/"+boundaryID]
}

// GapCount returns the number of empty (claim, boundary) cells
func (m *CoverageMatrix) GapCount() int {
	gaps := 0
	for _, c := range m.ClaimIDs {
		for _, b := range m.BoundaryIDs {
			if !m.Has(c, b) {
				gaps++
			}
		}
	}
	return gaps
}

// BoundariesFor returns the boundary ids covering the claim
func (m *CoverageMatrix) BoundariesFor(claimID string) []string {
	var out []string
	for _, b := range m.BoundaryIDs {
		if m.Has(claimID, b) {
			out = append(out, b)
		}
	}
	return out
}
