// Package boundary groups evidence scopes into coherent analytical framings
// ("claim boundaries") and assigns every evidence item to exactly one.
package boundary

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/claimlens/claimlens/internal/llm"
	"github.com/claimlens/claimlens/internal/model"
	"github.com/claimlens/claimlens/internal/oracle"
)

// Stage is the pipeline stage name used in metrics and warnings
const Stage = "clustering"

// RoleClusterer is the gateway role for the clustering classifier
const RoleClusterer = "clusterer"

// CatchAllName is the fallback boundary when clustering proposes nothing usable
const CatchAllName = "General"

// Result is the clustering output: the boundary set, the scope-to-boundary
// assignment, and the claim x boundary coverage matrix.
type Result struct {
	Boundaries []model.ClaimBoundary
	Assignment map[string]string // scope key -> boundary id
	Coverage   *model.CoverageMatrix
}

// Clusterer proposes boundaries via the oracle-backed classifier and then
// repairs the proposal deterministically
type Clusterer struct {
	gw       *llm.Gateway
	oracle   *oracle.Oracle
	cfg      model.BoundaryConfig
	warnings *model.WarningLog
}

// New creates a clusterer
func New(gw *llm.Gateway, orc *oracle.Oracle, cfg model.BoundaryConfig, warnings *model.WarningLog) *Clusterer {
	if cfg.MaxBoundaries <= 0 {
		cfg.MaxBoundaries = 5
	}
	return &Clusterer{gw: gw, oracle: orc, cfg: cfg, warnings: warnings}
}

type proposedBoundary struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Coherence   float64  `json:"coherence"`
	ScopeKeys   []string `json:"scope_keys"`
}

type clusterProposal struct {
	Boundaries []proposedBoundary `json:"boundaries"`
}

// Cluster groups the evidence pool's scopes into boundaries. Evidence is
// never dropped: a failed or empty proposal falls back to a single catch-all
// boundary containing every scope.
func (c *Clusterer) Cluster(ctx context.Context, claims []model.AtomicClaim, evidence []model.EvidenceItem) *Result {
	scopes := collectScopes(evidence)
	if len(scopes) == 0 {
		return c.finalize(claims, evidence, nil, map[string]string{})
	}

	var proposal clusterProposal
	fail := c.gw.Call(ctx, llm.CallRequest{
		Stage:     Stage,
		PromptKey: "boundary_clustering",
		Role:      RoleClusterer,
		System:    clusterSystem,
		Prompt:    clusterPrompt(scopes),
		Out:       &proposal,
		Validate:  func() error { return validateProposal(proposal) },
	})

	var boundaries []model.ClaimBoundary
	if fail != nil {
		c.warn(model.WarnFallback, fmt.Sprintf("clustering call failed, using catch-all boundary: %v", fail), nil)
	} else {
		for _, p := range proposal.Boundaries {
			boundaries = append(boundaries, model.ClaimBoundary{
				ID:                uuid.NewString(),
				Name:              p.Name,
				Description:       p.Description,
				InternalCoherence: clamp01(p.Coherence),
				ScopeKeys:         p.ScopeKeys,
			})
		}
	}

	if len(boundaries) == 0 {
		boundaries = []model.ClaimBoundary{catchAll(scopes)}
	}

	assignment := c.repairAssignment(ctx, scopes, boundaries)
	boundaries = rebuildScopeKeys(boundaries, assignment)
	boundaries = c.mergeOverCap(ctx, boundaries, assignment)

	return c.finalize(claims, evidence, boundaries, assignment)
}

// scopeInfo pairs a scope key with a representative description
type scopeInfo struct {
	Key      string
	Describe string
}

func collectScopes(evidence []model.EvidenceItem) []scopeInfo {
	seen := map[string]bool{}
	var out []scopeInfo
	for i := range evidence {
		key := evidence[i].Scope.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, scopeInfo{Key: key, Describe: evidence[i].Scope.Describe()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// repairAssignment enforces the exactly-one-boundary invariant: duplicate
// assignments keep the first boundary, orphans are attached to the most
// similar boundary (oracle score; unset defaults to the largest boundary).
func (c *Clusterer) repairAssignment(ctx context.Context, scopes []scopeInfo, boundaries []model.ClaimBoundary) map[string]string {
	known := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		known[s.Key] = true
	}

	assignment := make(map[string]string, len(scopes))
	for _, b := range boundaries {
		for _, key := range b.ScopeKeys {
			// Proposals can invent scope keys; only keys backed by collected
			// evidence enter the assignment.
			if !known[key] {
				continue
			}
			if _, taken := assignment[key]; taken {
				continue
			}
			assignment[key] = b.ID
		}
	}

	var orphans []scopeInfo
	for _, s := range scopes {
		if _, ok := assignment[s.Key]; !ok {
			orphans = append(orphans, s)
		}
	}
	if len(orphans) == 0 {
		return assignment
	}

	c.warn(model.WarnDataRepair, fmt.Sprintf("%d evidence scopes were unassigned by clustering; re-assigning", len(orphans)), map[string]any{"orphans": len(orphans)})

	var pairs []oracle.Pair
	for oi, s := range orphans {
		for bi, b := range boundaries {
			pairs = append(pairs, oracle.Pair{
				ID:    fmt.Sprintf("o%d-b%d", oi, bi),
				TextA: s.Describe,
				TextB: b.Name + ": " + b.Description,
			})
		}
	}
	scores := c.oracle.BatchScore(ctx, Stage, pairs)

	fallbackID := largestBoundary(boundaries, assignment)
	for oi, s := range orphans {
		bestID := ""
		bestScore := -1.0
		for bi, b := range boundaries {
			id := fmt.Sprintf("o%d-b%d", oi, bi)
			score, ok := scores[id]
			if !ok {
				continue
			}
			if score > bestScore {
				bestScore = score
				bestID = b.ID
			}
		}
		if bestID == "" {
			// Oracle left every candidate unset; the deterministic default
			// is the largest boundary, never dropped evidence.
			bestID = fallbackID
		}
		assignment[s.Key] = bestID
	}
	return assignment
}

// mergeOverCap repeatedly merges the two most similar boundaries until the
// count is within the configured maximum
func (c *Clusterer) mergeOverCap(ctx context.Context, boundaries []model.ClaimBoundary, assignment map[string]string) []model.ClaimBoundary {
	for len(boundaries) > c.cfg.MaxBoundaries {
		ai, bi := c.mostSimilarPair(ctx, boundaries)

		a, b := &boundaries[ai], &boundaries[bi]
		c.warn(model.WarnDataRepair, fmt.Sprintf("boundary count %d over cap %d; merging %q into %q", len(boundaries), c.cfg.MaxBoundaries, b.Name, a.Name), nil)

		for key, id := range assignment {
			if id == b.ID {
				assignment[key] = a.ID
			}
		}
		a.ScopeKeys = append(a.ScopeKeys, b.ScopeKeys...)
		if b.InternalCoherence < a.InternalCoherence {
			a.InternalCoherence = b.InternalCoherence
		}

		boundaries = append(boundaries[:bi], boundaries[bi+1:]...)
	}
	return boundaries
}

// mostSimilarPair returns the indices (i < j) of the most similar boundary
// pair. Unset oracle scores default to 0: with no semantic judgment available
// the smallest boundaries merge, which is the least destructive choice.
func (c *Clusterer) mostSimilarPair(ctx context.Context, boundaries []model.ClaimBoundary) (int, int) {
	var pairs []oracle.Pair
	for i := 0; i < len(boundaries); i++ {
		for j := i + 1; j < len(boundaries); j++ {
			pairs = append(pairs, oracle.Pair{
				ID:    fmt.Sprintf("m%d-%d", i, j),
				TextA: boundaries[i].Name + ": " + boundaries[i].Description,
				TextB: boundaries[j].Name + ": " + boundaries[j].Description,
			})
		}
	}
	scores := c.oracle.BatchScore(ctx, Stage, pairs)

	bestI, bestJ := 0, 1
	bestScore := -1.0
	for i := 0; i < len(boundaries); i++ {
		for j := i + 1; j < len(boundaries); j++ {
			score := oracle.ScoreOr(scores, fmt.Sprintf("m%d-%d", i, j), 0)
			// Tie-break toward merging the pair with fewer scopes
			size := len(boundaries[i].ScopeKeys) + len(boundaries[j].ScopeKeys)
			bestSize := len(boundaries[bestI].ScopeKeys) + len(boundaries[bestJ].ScopeKeys)
			if score > bestScore || (score == bestScore && size < bestSize) {
				bestScore = score
				bestI, bestJ = i, j
			}
		}
	}
	return bestI, bestJ
}

// rebuildScopeKeys makes each boundary's scope list match the repaired
// assignment exactly
func rebuildScopeKeys(boundaries []model.ClaimBoundary, assignment map[string]string) []model.ClaimBoundary {
	byID := make(map[string][]string)
	for key, id := range assignment {
		byID[id] = append(byID[id], key)
	}
	var out []model.ClaimBoundary
	for _, b := range boundaries {
		keys := byID[b.ID]
		sort.Strings(keys)
		b.ScopeKeys = keys
		if len(keys) == 0 {
			continue // empty boundaries carry no evidence and are dropped
		}
		out = append(out, b)
	}
	return out
}

func (c *Clusterer) finalize(claims []model.AtomicClaim, evidence []model.EvidenceItem, boundaries []model.ClaimBoundary, assignment map[string]string) *Result {
	if len(boundaries) == 0 {
		b := catchAll(collectScopes(evidence))
		for _, key := range b.ScopeKeys {
			assignment[key] = b.ID
		}
		boundaries = []model.ClaimBoundary{b}
	}

	claimIDs := make([]string, 0, len(claims))
	for _, c := range claims {
		claimIDs = append(claimIDs, c.ID)
	}
	boundaryIDs := make([]string, 0, len(boundaries))
	for _, b := range boundaries {
		boundaryIDs = append(boundaryIDs, b.ID)
	}

	coverage := model.NewCoverageMatrix(claimIDs, boundaryIDs)
	for i := range evidence {
		boundaryID, ok := assignment[evidence[i].Scope.Key()]
		if !ok {
			continue
		}
		for _, claimID := range evidence[i].RelevantClaimIDs {
			coverage.Set(claimID, boundaryID)
		}
	}

	return &Result{
		Boundaries: boundaries,
		Assignment: assignment,
		Coverage:   coverage,
	}
}

func catchAll(scopes []scopeInfo) model.ClaimBoundary {
	keys := make([]string, 0, len(scopes))
	for _, s := range scopes {
		keys = append(keys, s.Key)
	}
	return model.ClaimBoundary{
		ID:                uuid.NewString(),
		Name:              CatchAllName,
		Description:       "Catch-all framing containing all evidence scopes",
		InternalCoherence: 0.5,
		ScopeKeys:         keys,
	}
}

func largestBoundary(boundaries []model.ClaimBoundary, assignment map[string]string) string {
	counts := map[string]int{}
	for _, id := range assignment {
		counts[id]++
	}
	bestID := boundaries[0].ID
	for _, b := range boundaries[1:] {
		if counts[b.ID] > counts[bestID] {
			bestID = b.ID
		}
	}
	return bestID
}

func validateProposal(p clusterProposal) error {
	for i, b := range p.Boundaries {
		if strings.TrimSpace(b.Name) == "" {
			return fmt.Errorf("boundary %d: empty name", i)
		}
		if b.Coherence < 0 || b.Coherence > 1 {
			return fmt.Errorf("boundary %d: coherence %f out of range", i, b.Coherence)
		}
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (c *Clusterer) warn(t model.WarningType, msg string, data map[string]any) {
	if c.warnings == nil {
		return
	}
	c.warnings.Add(model.Warning{Type: t, Stage: Stage, Message: msg, Data: data})
}

const clusterSystem = `You cluster evidence scopes into coherent analytical framings. Respond with JSON only.`

func clusterPrompt(scopes []scopeInfo) string {
	var b strings.Builder
	b.WriteString("Group the following evidence scopes into analytical framings (\"claim boundaries\"): ")
	b.WriteString("sets of scopes that are jointly interpretable, such as shared jurisdictions, time periods, or methodologies.\n\nScopes:\n")
	for _, s := range scopes {
		fmt.Fprintf(&b, "- key: %s\n  %s\n", s.Key, s.Describe)
	}
	b.WriteString(`
For each framing give: name, description, coherence (0.0-1.0, how jointly interpretable
its scopes are), and scope_keys (every key above must appear in exactly one framing).
Respond with JSON: {"boundaries": [{"name": "...", "description": "...", "coherence": 0.0, "scope_keys": ["..."]}]}`)
	return b.String()
}
