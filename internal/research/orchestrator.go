// Package research implements the budgeted, iterative evidence research loop:
// pick the least-evidenced claim, generate queries, search, fetch, extract,
// filter, and decide when to stop.
package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/claimlens/claimlens/internal/llm"
	"github.com/claimlens/claimlens/internal/model"
	"github.com/claimlens/claimlens/internal/oracle"
	"github.com/claimlens/claimlens/internal/search"
)

// Stage is the pipeline stage name used in metrics and warnings
const Stage = "research"

// RoleResearcher is the gateway role for query generation and extraction
const RoleResearcher = "researcher"

// State is the orchestrator's position in its run lifecycle
type State int

const (
	StateSeeded State = iota
	StateIterating
	StateContradictionPass
	StateDone
	StateBudgetExhausted
)

func (s State) String() string {
	switch s {
	case StateSeeded:
		return "SEEDED"
	case StateIterating:
		return "ITERATING"
	case StateContradictionPass:
		return "CONTRADICTION_PASS"
	case StateDone:
		return "DONE"
	case StateBudgetExhausted:
		return "BUDGET_EXHAUSTED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the state ends a run
func (s State) Terminal() bool {
	return s == StateDone || s == StateBudgetExhausted
}

// Result is the orchestrator's output. BUDGET_EXHAUSTED is a normal terminal
// state: its partial evidence pool is still usable downstream.
type Result struct {
	Evidence   []model.EvidenceItem
	State      State
	Iterations int

	// AttemptedDry marks claims that were researched and yielded no new
	// evidence; they are never re-selected within the run.
	AttemptedDry map[string]bool
}

// Orchestrator runs the research loop under iteration and time budgets
type Orchestrator struct {
	gw       *llm.Gateway
	oracle   *oracle.Oracle
	searcher search.Searcher
	fetcher  *search.Fetcher
	cfg      model.ResearchConfig
	warnings *model.WarningLog
}

// New creates an orchestrator
func New(gw *llm.Gateway, orc *oracle.Oracle, searcher search.Searcher, fetcher *search.Fetcher, cfg model.ResearchConfig, warnings *model.WarningLog) *Orchestrator {
	return &Orchestrator{
		gw:       gw,
		oracle:   orc,
		searcher: searcher,
		fetcher:  fetcher,
		cfg:      cfg,
		warnings: warnings,
	}
}

// session holds the single-writer run state: only the orchestrator appends
// evidence within a run.
type session struct {
	thesis    string
	claims    []model.AtomicClaim
	pool      []model.EvidenceItem
	counts    map[string]int // claimID -> evidence count
	attempted map[string]bool
	state     State
}

// Run executes the research loop. The context deadline is the time budget;
// expiry is not an error, it transitions the run to BUDGET_EXHAUSTED.
func (o *Orchestrator) Run(ctx context.Context, thesis string, claims []model.AtomicClaim, seed []model.EvidenceItem) *Result {
	s := &session{
		thesis:    thesis,
		claims:    claims,
		counts:    make(map[string]int, len(claims)),
		attempted: make(map[string]bool),
		state:     StateSeeded,
	}

	// Seed evidence from the extraction stage is admitted first
	for _, item := range seed {
		if item.SearchStrategy == "" {
			item.SearchStrategy = model.SearchStrategySeed
		}
		s.admit(item)
	}

	mainIterations := o.cfg.MaxIterations - o.cfg.ContrarianIterations
	if mainIterations < 0 {
		mainIterations = 0
	}

	s.state = StateIterating
	iterations, expired := o.standardPass(ctx, s, mainIterations, 0)
	if expired {
		return o.finish(s, iterations, StateBudgetExhausted)
	}

	// Contradiction pass: a reserved tail of iterations spent on inverted
	// queries against the least directionally balanced claims.
	s.state = StateContradictionPass
	for i := 0; i < o.cfg.ContrarianIterations; i++ {
		if ctx.Err() != nil {
			return o.finish(s, iterations, StateBudgetExhausted)
		}
		target := o.selectSkewedTarget(s)
		if target == nil {
			break
		}
		iterations++
		o.researchClaim(ctx, s, target, true)
	}

	// If the contradiction pass broke early, its unused tail goes back to
	// the standard strategy rather than being forfeited.
	s.state = StateIterating
	iterations, expired = o.standardPass(ctx, s, o.cfg.MaxIterations, iterations)
	if expired {
		return o.finish(s, iterations, StateBudgetExhausted)
	}

	// DONE demands either sufficiency or saturation: every remaining claim
	// attempted dry. Running out of iterations with selectable claims left
	// is budget exhaustion, not completion.
	if o.allSufficient(s) || o.selectTarget(s) == nil {
		return o.finish(s, iterations, StateDone)
	}
	return o.finish(s, iterations, StateBudgetExhausted)
}

// standardPass runs standard-strategy iterations until the limit is reached,
// every claim is sufficient, or no selectable claim remains. Returns the
// updated iteration count and whether the context expired mid-pass.
func (o *Orchestrator) standardPass(ctx context.Context, s *session, limit, iterations int) (int, bool) {
	for iterations < limit {
		if ctx.Err() != nil {
			return iterations, true
		}
		if o.allSufficient(s) {
			return iterations, false
		}

		target := o.selectTarget(s)
		if target == nil {
			// Every claim has been attempted dry; more of the same query
			// strategy yields zero information gain.
			return iterations, false
		}

		iterations++
		admitted := o.researchClaim(ctx, s, target, false)
		if admitted == 0 {
			s.attempted[target.ID] = true
		}
	}
	return iterations, false
}

func (o *Orchestrator) finish(s *session, iterations int, state State) *Result {
	s.state = state
	if state == StateBudgetExhausted && o.warnings != nil {
		o.warnings.Add(model.Warning{
			Type:    model.WarnBudgetExhausted,
			Stage:   Stage,
			Message: fmt.Sprintf("research budget exhausted after %d iterations with %d evidence items", iterations, len(s.pool)),
			Data:    map[string]any{"iterations": iterations, "evidence": len(s.pool)},
		})
	}
	return &Result{
		Evidence:     s.pool,
		State:        state,
		Iterations:   iterations,
		AttemptedDry: s.attempted,
	}
}

// admit appends an item to the pool and updates per-claim counts
func (s *session) admit(item model.EvidenceItem) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	s.pool = append(s.pool, item)
	for _, claimID := range item.RelevantClaimIDs {
		s.counts[claimID]++
	}
}

// allSufficient reports whether every claim reached the sufficiency threshold
func (o *Orchestrator) allSufficient(s *session) bool {
	for _, c := range s.claims {
		if s.counts[c.ID] < o.cfg.SufficiencyCount {
			return false
		}
	}
	return true
}

// selectTarget picks the least-evidenced claim that has not been attempted
// dry, breaking ties by centrality (highest first)
func (o *Orchestrator) selectTarget(s *session) *model.AtomicClaim {
	var best *model.AtomicClaim
	for i := range s.claims {
		c := &s.claims[i]
		if s.attempted[c.ID] {
			continue
		}
		if s.counts[c.ID] >= o.cfg.SufficiencyCount {
			continue
		}
		if best == nil ||
			s.counts[c.ID] < s.counts[best.ID] ||
			(s.counts[c.ID] == s.counts[best.ID] && c.Centrality.Rank() > best.Centrality.Rank()) {
			best = c
		}
	}
	return best
}

// selectSkewedTarget picks the claim whose directional evidence is most
// one-sided, for the contradiction pass
func (o *Orchestrator) selectSkewedTarget(s *session) *model.AtomicClaim {
	var best *model.AtomicClaim
	bestDominance := 0.0
	for i := range s.claims {
		c := &s.claims[i]
		sup, con := s.directionalCounts(c.ID)
		total := sup + con
		if total == 0 {
			continue
		}
		dominance := float64(max(sup, con)) / float64(total)
		if best == nil || dominance > bestDominance ||
			(dominance == bestDominance && c.Centrality.Rank() > best.Centrality.Rank()) {
			best = c
			bestDominance = dominance
		}
	}
	return best
}

func (s *session) directionalCounts(claimID string) (supporting, contradicting int) {
	for i := range s.pool {
		if !s.pool[i].Relevant(claimID) {
			continue
		}
		switch s.pool[i].Direction {
		case model.DirectionSupports:
			supporting++
		case model.DirectionContradicts:
			contradicting++
		}
	}
	return supporting, contradicting
}

// researchClaim runs one iteration for one claim and returns the number of
// items admitted that are relevant to that claim
func (o *Orchestrator) researchClaim(ctx context.Context, s *session, claim *model.AtomicClaim, contrarian bool) int {
	strategy := model.SearchStrategyStandard
	if contrarian {
		strategy = model.SearchStrategyContrarian
	}

	queries := o.generateQueries(ctx, s, claim, contrarian)
	if len(queries) > o.cfg.QueriesPerClaim {
		queries = queries[:o.cfg.QueriesPerClaim]
	}

	admittedForClaim := 0
	sources := 0

	for _, query := range queries {
		if sources >= o.cfg.MaxSourcesPerIteration || ctx.Err() != nil {
			break
		}

		results, err := o.searcher.Search(ctx, query, o.cfg.MaxSourcesPerIteration-sources)
		if err != nil {
			o.warn(model.WarnSearchFailure, fmt.Sprintf("search %q failed: %v", query, err), nil)
			continue
		}

		for _, res := range results {
			if sources >= o.cfg.MaxSourcesPerIteration || ctx.Err() != nil {
				break
			}

			text, err := o.fetcher.FetchText(ctx, res.URL)
			if err != nil {
				o.warn(model.WarnFetchFailure, fmt.Sprintf("fetch %s failed: %v", res.URL, err), nil)
				continue
			}
			sources++

			candidates := o.extractEvidence(ctx, s, res.URL, text, strategy)
			for _, item := range candidates {
				if item.ProbativeValue < o.cfg.MinProbativeValue {
					continue
				}
				if o.isDuplicate(ctx, s, item) {
					continue
				}
				s.admit(item)
				if item.Relevant(claim.ID) {
					admittedForClaim++
				}
			}
		}
	}

	return admittedForClaim
}

type queryPlan struct {
	Queries []string `json:"queries"`
}

// generateQueries asks the model for 2-3 search queries. On gateway failure
// the claim statement itself is used as the query: an explicit, logged
// degradation, not a silent substitute.
func (o *Orchestrator) generateQueries(ctx context.Context, s *session, claim *model.AtomicClaim, contrarian bool) []string {
	promptKey := "research_queries"
	if contrarian {
		promptKey = "contrarian_queries"
	}

	var plan queryPlan
	fail := o.gw.Call(ctx, llm.CallRequest{
		Stage:     Stage,
		PromptKey: promptKey,
		Role:      RoleResearcher,
		System:    querySystem,
		Prompt:    o.queryPrompt(s, claim, contrarian),
		Out:       &plan,
		Validate: func() error {
			if len(plan.Queries) < 2 || len(plan.Queries) > 3 {
				return fmt.Errorf("expected 2-3 queries, got %d", len(plan.Queries))
			}
			for _, q := range plan.Queries {
				if strings.TrimSpace(q) == "" {
					return fmt.Errorf("empty query in plan")
				}
			}
			return nil
		},
	})
	if fail != nil {
		o.warn(model.WarnFallback, fmt.Sprintf("query generation failed for claim %s, using claim statement: %v", claim.ID, fail), map[string]any{"claim_id": claim.ID})
		return []string{claim.Statement}
	}
	return plan.Queries
}

const querySystem = `You generate focused web-search queries for fact verification. Respond with JSON only.`

func (o *Orchestrator) queryPrompt(s *session, claim *model.AtomicClaim, contrarian bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Thesis under analysis: %s\n\nClaim to research: %s\n\n", s.thesis, claim.Statement)
	if contrarian {
		sup, con := s.directionalCounts(claim.ID)
		dominant := "supporting"
		if con > sup {
			dominant = "contradicting"
		}
		fmt.Fprintf(&b, "Existing evidence is mostly %s (%d supporting, %d contradicting). ", dominant, sup, con)
		b.WriteString("Generate 2-3 adversarial queries that would surface evidence for the OPPOSITE position: ")
		b.WriteString("invert assumptions, search for rebuttals, criticisms, and counterexamples.\n")
	} else {
		b.WriteString("Generate 2-3 diverse queries that would surface primary and secondary sources for or against this claim.\n")
	}
	b.WriteString("Respond with JSON: {\"queries\": [\"...\"]}")
	return b.String()
}

type extractedItem struct {
	Statement        string              `json:"statement"`
	SourceType       string              `json:"source_type"`
	Direction        string              `json:"direction"`
	ProbativeValue   float64             `json:"probative_value"`
	RelevantClaimIDs []string            `json:"relevant_claim_ids"`
	Scope            model.EvidenceScope `json:"scope"`
}

// extractEvidence pulls evidence items from one document. Scope population is
// mandatory: items without a complete scope are rejected at validation.
func (o *Orchestrator) extractEvidence(ctx context.Context, s *session, sourceURL, text string, strategy model.SearchStrategy) []model.EvidenceItem {
	if len(text) > o.cfg.MaxDocChars {
		text = text[:o.cfg.MaxDocChars]
	}

	var out []extractedItem
	fail := o.gw.Call(ctx, llm.CallRequest{
		Stage:     Stage,
		PromptKey: "evidence_extraction",
		Role:      RoleResearcher,
		System:    extractionSystem,
		Prompt:    o.extractionPrompt(s, sourceURL, text),
		Out:       &out,
		Validate:  func() error { return validateExtraction(out, s.claims) },
	})
	if fail != nil {
		o.warn(model.WarnFallback, fmt.Sprintf("evidence extraction failed for %s: %v", sourceURL, fail), map[string]any{"url": sourceURL})
		return nil
	}

	items := make([]model.EvidenceItem, 0, len(out))
	for _, e := range out {
		items = append(items, model.EvidenceItem{
			ID:               uuid.NewString(),
			Statement:        e.Statement,
			SourceType:       model.SourceType(e.SourceType),
			SourceURL:        sourceURL,
			Direction:        model.Direction(e.Direction),
			ProbativeValue:   e.ProbativeValue,
			RelevantClaimIDs: e.RelevantClaimIDs,
			Scope:            e.Scope,
			SearchStrategy:   strategy,
		})
	}
	return items
}

func validateExtraction(out []extractedItem, claims []model.AtomicClaim) error {
	known := make(map[string]bool, len(claims))
	for _, c := range claims {
		known[c.ID] = true
	}
	for i, e := range out {
		if strings.TrimSpace(e.Statement) == "" {
			return fmt.Errorf("item %d: empty statement", i)
		}
		if !model.Direction(e.Direction).Valid() {
			return fmt.Errorf("item %d: invalid direction %q", i, e.Direction)
		}
		if e.ProbativeValue < 0 || e.ProbativeValue > 1 {
			return fmt.Errorf("item %d: probative value %f out of range", i, e.ProbativeValue)
		}
		if !e.Scope.Complete() {
			return fmt.Errorf("item %d: incomplete evidence scope", i)
		}
		if len(e.RelevantClaimIDs) == 0 {
			return fmt.Errorf("item %d: no relevant claims", i)
		}
		for _, id := range e.RelevantClaimIDs {
			if !known[id] {
				return fmt.Errorf("item %d: unknown claim id %q", i, id)
			}
		}
	}
	return nil
}

const extractionSystem = `You extract atomic evidence statements from documents for claim verification. Respond with JSON only.`

func (o *Orchestrator) extractionPrompt(s *session, sourceURL, text string) string {
	var b strings.Builder
	b.WriteString("Claims under verification:\n")
	for _, c := range s.claims {
		fmt.Fprintf(&b, "- id: %s  statement: %s\n", c.ID, c.Statement)
	}
	fmt.Fprintf(&b, "\nSource URL: %s\n\nDocument text:\n%s\n\n", sourceURL, text)
	b.WriteString(`Extract every evidence statement bearing on any claim. For each, give:
statement, source_type (primary|secondary|tertiary), direction (supports|contradicts|neutral),
probative_value (0.0-1.0), relevant_claim_ids, and scope with temporal, geographic, and
methodological applicability (use "unspecified" when the document does not narrow an axis
- never omit a scope field).
Respond with a JSON array of items.`)
	return b.String()
}

// dedupCompareLimit caps how many existing items one candidate is compared to
const dedupCompareLimit = 25

// isDuplicate checks the candidate against pool items sharing a claim. An
// unset oracle score means NOT a duplicate: dropping evidence on a failed
// similarity call would silently shrink the pool.
func (o *Orchestrator) isDuplicate(ctx context.Context, s *session, item model.EvidenceItem) bool {
	var pairs []oracle.Pair
	for i := range s.pool {
		if !sharesClaim(&s.pool[i], &item) {
			continue
		}
		pairs = append(pairs, oracle.Pair{
			ID:    fmt.Sprintf("d%d", i),
			TextA: item.Statement,
			TextB: s.pool[i].Statement,
		})
		if len(pairs) >= dedupCompareLimit {
			break
		}
	}
	if len(pairs) == 0 {
		return false
	}

	scores := o.oracle.BatchScore(ctx, Stage, pairs)
	for _, p := range pairs {
		if oracle.ScoreOr(scores, p.ID, 0) > o.oracle.DedupThreshold() {
			return true
		}
	}
	return false
}

func sharesClaim(a, b *model.EvidenceItem) bool {
	for _, id := range a.RelevantClaimIDs {
		if b.Relevant(id) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) warn(t model.WarningType, msg string, data map[string]any) {
	if o.warnings == nil {
		return
	}
	o.warnings.Add(model.Warning{Type: t, Stage: Stage, Message: msg, Data: data})
}
