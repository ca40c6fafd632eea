// Package debate runs the five-step adversarial verdict protocol per claim:
// advocate, parallel self-consistency and challenger, reconciliation,
// advisory validation, and the deterministic harm-confidence floor.
package debate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/claimlens/claimlens/internal/llm"
	"github.com/claimlens/claimlens/internal/model"
	"github.com/claimlens/claimlens/internal/worker"
)

// Stage is the pipeline stage name used in metrics and warnings
const Stage = "debate"

// Gateway roles, each independently tierable in configuration
const (
	RoleAdvocate   = "advocate"
	RoleChallenger = "challenger"
	RoleReconciler = "reconciler"
	RoleValidator  = "validator"
)

// Engine produces one calibrated verdict per claim. Claims own disjoint
// result state, so the engine may debate them concurrently.
type Engine struct {
	gw       *llm.Gateway
	cfg      model.DebateConfig
	workers  int
	warnings *model.WarningLog
}

// New creates a debate engine. workers bounds cross-claim parallelism.
func New(gw *llm.Gateway, cfg model.DebateConfig, workers int, warnings *model.WarningLog) *Engine {
	if workers <= 0 {
		workers = 1
	}
	return &Engine{gw: gw, cfg: cfg, workers: workers, warnings: warnings}
}

// debateJob debates one claim on the worker pool. It carries the stage
// context because each claim debate shares the stage deadline.
type debateJob struct {
	ctx        context.Context
	engine     *Engine
	index      int
	claim      *model.AtomicClaim
	evidence   []model.EvidenceItem
	boundaries []model.ClaimBoundary
	assignment map[string]string
}

type debateResult struct {
	index   int
	verdict model.ClaimVerdict
}

func (r debateResult) GetError() error { return nil }

func (j debateJob) Execute(_ context.Context) worker.Result {
	return debateResult{
		index:   j.index,
		verdict: j.engine.debateClaim(j.ctx, j.claim, j.evidence, j.boundaries, j.assignment),
	}
}

// Verdicts runs the debate protocol for every claim, concurrently across
// claims. A structural failure on one claim yields an explicit no-verdict
// placeholder for that claim only.
func (e *Engine) Verdicts(ctx context.Context, claims []model.AtomicClaim, evidence []model.EvidenceItem, boundaries []model.ClaimBoundary, assignment map[string]string) []model.ClaimVerdict {
	verdicts := make([]model.ClaimVerdict, len(claims))
	for i := range verdicts {
		verdicts[i] = model.NoVerdict(claims[i].ID)
	}

	pool := worker.NewPool(e.workers)
	pool.Start()
	for i := range claims {
		pool.Submit(debateJob{
			ctx:        ctx,
			engine:     e,
			index:      i,
			claim:      &claims[i],
			evidence:   evidence,
			boundaries: boundaries,
			assignment: assignment,
		})
	}
	for _, res := range pool.Wait() {
		if r, ok := res.(debateResult); ok {
			verdicts[r.index] = r.verdict
		}
	}

	return verdicts
}

// verdictDraft is the structured output shared by advocate and reconciler
type verdictDraft struct {
	TruthPercentage  float64                 `json:"truth_percentage"`
	Confidence       float64                 `json:"confidence"`
	Classification   string                  `json:"classification"`
	Reasoning        string                  `json:"reasoning"`
	CitedEvidenceIDs []string                `json:"cited_evidence_ids"`
	Findings         []model.BoundaryFinding `json:"boundary_findings"`
}

type challengeResult struct {
	StrongestPoint       string   `json:"strongest_point"`
	CitedEvidenceIDs     []string `json:"cited_evidence_ids"`
	OpposingTruthPercent float64  `json:"opposing_truth_percentage"`
}

// debateClaim runs the fixed five-step topology for one claim
func (e *Engine) debateClaim(ctx context.Context, claim *model.AtomicClaim, pool []model.EvidenceItem, boundaries []model.ClaimBoundary, assignment map[string]string) model.ClaimVerdict {
	relevant := relevantEvidence(claim.ID, pool)
	brief := evidenceBrief(relevant, boundaries, assignment)

	// Step 1: advocate
	advocate, fail := e.draftCall(ctx, "debate_advocate", RoleAdvocate, advocatePrompt(claim, brief), 0, relevant, boundaries)
	if fail != nil {
		e.warn(model.WarnFallback, fmt.Sprintf("advocate failed for claim %s: %v", claim.ID, fail), map[string]any{"claim_id": claim.ID})
		return model.NoVerdict(claim.ID)
	}

	// Step 2: self-consistency and challenger run concurrently. Failed
	// samples are dropped rather than counted as zero.
	sampled := make([]float64, e.cfg.SelfConsistencyCalls)
	sampleOK := make([]bool, e.cfg.SelfConsistencyCalls)
	var challenge *challengeResult

	var degraded []error
	var degradedMu sync.Mutex
	note := func(err error) {
		degradedMu.Lock()
		degraded = append(degraded, err)
		degradedMu.Unlock()
	}

	var g errgroup.Group
	for i := 0; i < e.cfg.SelfConsistencyCalls; i++ {
		i := i
		g.Go(func() error {
			draft, fail := e.draftCall(ctx, "debate_advocate", RoleAdvocate, advocatePrompt(claim, brief), e.cfg.SelfConsistencyTemperature, relevant, boundaries)
			if fail != nil {
				note(fail)
				return nil
			}
			sampled[i], sampleOK[i] = draft.TruthPercentage, true
			return nil
		})
	}
	g.Go(func() error {
		var out challengeResult
		fail := e.gw.Call(ctx, llm.CallRequest{
			Stage:     Stage,
			PromptKey: "debate_challenger",
			Role:      RoleChallenger,
			System:    debateSystem,
			Prompt:    challengerPrompt(claim, advocate, brief),
			Out:       &out,
			Validate: func() error {
				if strings.TrimSpace(out.StrongestPoint) == "" {
					return fmt.Errorf("empty strongest point")
				}
				return validateCitations(out.CitedEvidenceIDs, relevant)
			},
		})
		if fail != nil {
			note(fail)
			return nil
		}
		challenge = &out
		return nil
	})
	_ = g.Wait()
	for _, err := range degraded {
		// Degraded but not fatal: reconcile with whatever step 2 produced
		e.warn(model.WarnFallback, fmt.Sprintf("debate step 2 degraded for claim %s: %v", claim.ID, err), map[string]any{"claim_id": claim.ID})
	}

	var samples []float64
	for i, ok := range sampleOK {
		if ok {
			samples = append(samples, sampled[i])
		}
	}
	spread := verdictSpread(advocate.TruthPercentage, samples)

	// Step 3: reconciliation must address the challenge and the spread
	working, fail := e.reconcile(ctx, claim, advocate, challenge, spread, brief, relevant, boundaries)
	if fail != nil {
		e.warn(model.WarnFallback, fmt.Sprintf("reconciliation failed for claim %s: %v", claim.ID, fail), map[string]any{"claim_id": claim.ID})
		return model.NoVerdict(claim.ID)
	}

	multiplier := e.spreadMultiplier(spread)
	verdict := model.ClaimVerdict{
		ClaimID:          claim.ID,
		TruthPercentage:  clampPct(working.TruthPercentage),
		BaseConfidence:   clampPct(working.Confidence),
		Confidence:       clampPct(working.Confidence) * multiplier,
		RawSpread:        spread,
		SpreadMultiplier: multiplier,
		Classification:   model.Classification(working.Classification),
		Reasoning:        working.Reasoning,
		CitedEvidenceIDs: working.CitedEvidenceIDs,
		BoundaryFindings: working.Findings,
	}
	if !verdict.Classification.Valid() || verdict.Classification == model.ClassNoVerdict {
		verdict.Classification = model.ClassifyTruth(verdict.TruthPercentage)
	}

	// Step 4: advisory validation, concurrent, flags only
	e.validate(ctx, claim, &verdict, relevant)

	// Step 5: harm-confidence floor, deterministic and one-directional
	if claim.HarmPotential.Gated() && verdict.Confidence < e.cfg.HarmConfidenceFloor {
		verdict.Classification = model.ClassUnverified
		verdict.HarmFloorApplied = true
	}

	return verdict
}

// draftCall runs one advocate-shaped call and validates its structure
func (e *Engine) draftCall(ctx context.Context, promptKey, role, prompt string, temperature float64, relevant []model.EvidenceItem, boundaries []model.ClaimBoundary) (*verdictDraft, *llm.Failure) {
	var out verdictDraft
	fail := e.gw.Call(ctx, llm.CallRequest{
		Stage:       Stage,
		PromptKey:   promptKey,
		Role:        role,
		System:      debateSystem,
		Prompt:      prompt,
		Temperature: temperature,
		Out:         &out,
		Validate:    func() error { return validateDraft(&out, relevant, boundaries) },
	})
	if fail != nil {
		return nil, fail
	}
	return &out, nil
}

func (e *Engine) reconcile(ctx context.Context, claim *model.AtomicClaim, advocate *verdictDraft, challenge *challengeResult, spread float64, brief string, relevant []model.EvidenceItem, boundaries []model.ClaimBoundary) (*verdictDraft, *llm.Failure) {
	var out verdictDraft
	fail := e.gw.Call(ctx, llm.CallRequest{
		Stage:     Stage,
		PromptKey: "debate_reconcile",
		Role:      RoleReconciler,
		System:    debateSystem,
		Prompt:    reconcilePrompt(claim, advocate, challenge, spread, brief),
		Out:       &out,
		Validate:  func() error { return validateDraft(&out, relevant, boundaries) },
	})
	if fail != nil {
		return nil, fail
	}
	return &out, nil
}

type groundingCheck struct {
	Grounded         bool     `json:"grounded"`
	UngroundedPoints []string `json:"ungrounded_points"`
}

type directionCheck struct {
	Consistent bool   `json:"consistent"`
	Detail     string `json:"detail"`
}

// validate runs the two lightweight validation calls concurrently. They are
// advisory: they flag the verdict, they never rewrite it.
func (e *Engine) validate(ctx context.Context, claim *model.AtomicClaim, verdict *model.ClaimVerdict, relevant []model.EvidenceItem) {
	tally := directionTally(relevant)

	g, gctx := errgroup.WithContext(ctx)

	var grounding groundingCheck
	groundingOK := false
	g.Go(func() error {
		fail := e.gw.Call(gctx, llm.CallRequest{
			Stage:     Stage,
			PromptKey: "verdict_grounding",
			Role:      RoleValidator,
			System:    debateSystem,
			Prompt:    groundingPrompt(verdict, relevant),
			Out:       &grounding,
		})
		if fail == nil {
			groundingOK = true
		}
		return nil
	})

	var direction directionCheck
	directionOK := false
	g.Go(func() error {
		fail := e.gw.Call(gctx, llm.CallRequest{
			Stage:     Stage,
			PromptKey: "verdict_direction",
			Role:      RoleValidator,
			System:    debateSystem,
			Prompt:    directionPrompt(claim, verdict, tally),
			Out:       &direction,
		})
		if fail == nil {
			directionOK = true
		}
		return nil
	})

	_ = g.Wait()

	verdict.Validation = model.ValidationFlags{
		GroundingChecked:    groundingOK,
		Grounded:            grounding.Grounded,
		UngroundedPoints:    grounding.UngroundedPoints,
		DirectionChecked:    directionOK,
		DirectionConsistent: direction.Consistent,
	}
	if groundingOK && !grounding.Grounded {
		e.warn(model.WarnValidationFlag, fmt.Sprintf("verdict for claim %s has ungrounded points", claim.ID), map[string]any{"claim_id": claim.ID, "points": grounding.UngroundedPoints})
	}
	if directionOK && !direction.Consistent {
		e.warn(model.WarnValidationFlag, fmt.Sprintf("verdict direction for claim %s disagrees with evidence tally: %s", claim.ID, direction.Detail), map[string]any{"claim_id": claim.ID})
	}
}

// spreadMultiplier maps the self-consistency spread to the configured
// confidence multiplier bucket
func (e *Engine) spreadMultiplier(spread float64) float64 {
	for _, bucket := range e.cfg.SpreadBuckets {
		if spread <= bucket.MaxSpread {
			return bucket.Multiplier
		}
	}
	if e.cfg.OverflowMultiplier > 0 {
		return e.cfg.OverflowMultiplier
	}
	return 1.0
}

// verdictSpread is the max-min range over the advocate verdict and the
// self-consistency samples, in percentage points. Zero samples means zero
// measured spread, not unknown spread.
func verdictSpread(advocate float64, samples []float64) float64 {
	lo, hi := advocate, advocate
	for _, s := range samples {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	return hi - lo
}

func relevantEvidence(claimID string, pool []model.EvidenceItem) []model.EvidenceItem {
	var out []model.EvidenceItem
	for i := range pool {
		if pool[i].Relevant(claimID) {
			out = append(out, pool[i])
		}
	}
	return out
}

func directionTally(items []model.EvidenceItem) (tally struct{ Supporting, Contradicting, Neutral int }) {
	for i := range items {
		switch items[i].Direction {
		case model.DirectionSupports:
			tally.Supporting++
		case model.DirectionContradicts:
			tally.Contradicting++
		default:
			tally.Neutral++
		}
	}
	return tally
}

func validateDraft(d *verdictDraft, relevant []model.EvidenceItem, boundaries []model.ClaimBoundary) error {
	if d.TruthPercentage < 0 || d.TruthPercentage > 100 {
		return fmt.Errorf("truth percentage %f out of range", d.TruthPercentage)
	}
	if d.Confidence < 0 || d.Confidence > 100 {
		return fmt.Errorf("confidence %f out of range", d.Confidence)
	}
	if err := validateCitations(d.CitedEvidenceIDs, relevant); err != nil {
		return err
	}
	known := make(map[string]bool, len(boundaries))
	for _, b := range boundaries {
		known[b.ID] = true
	}
	for _, f := range d.Findings {
		if !known[f.BoundaryID] {
			return fmt.Errorf("unknown boundary id %q in findings", f.BoundaryID)
		}
		if !f.Direction.Valid() {
			return fmt.Errorf("invalid finding direction %q", f.Direction)
		}
	}
	return nil
}

func validateCitations(ids []string, relevant []model.EvidenceItem) error {
	known := make(map[string]bool, len(relevant))
	for i := range relevant {
		known[relevant[i].ID] = true
	}
	for _, id := range ids {
		if !known[id] {
			return fmt.Errorf("cited evidence id %q is not in the claim's evidence", id)
		}
	}
	return nil
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func (e *Engine) warn(t model.WarningType, msg string, data map[string]any) {
	if e.warnings == nil {
		return
	}
	e.warnings.Add(model.Warning{Type: t, Stage: Stage, Message: msg, Data: data})
}

const debateSystem = `You are part of an adversarial fact-verification debate. Argue only from the evidence ids given. Respond with JSON only.`

// evidenceBrief renders the claim's evidence organized by boundary
func evidenceBrief(relevant []model.EvidenceItem, boundaries []model.ClaimBoundary, assignment map[string]string) string {
	byBoundary := make(map[string][]model.EvidenceItem)
	for i := range relevant {
		id := assignment[relevant[i].Scope.Key()]
		byBoundary[id] = append(byBoundary[id], relevant[i])
	}

	var b strings.Builder
	ordered := make([]model.ClaimBoundary, len(boundaries))
	copy(ordered, boundaries)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	for _, bd := range ordered {
		items := byBoundary[bd.ID]
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(&b, "Boundary %s (%s): %s\n", bd.ID, bd.Name, bd.Description)
		for i := range items {
			fmt.Fprintf(&b, "  - [%s] (%s, probative %.2f) %s\n", items[i].ID, items[i].Direction, items[i].ProbativeValue, items[i].Statement)
		}
	}
	if b.Len() == 0 {
		b.WriteString("(no evidence gathered for this claim)\n")
	}
	return b.String()
}

func advocatePrompt(claim *model.AtomicClaim, brief string) string {
	return fmt.Sprintf(`Claim: %s

Evidence by boundary:
%s
Produce an initial verdict for the claim from this evidence. Give truth_percentage (0-100),
confidence (0-100), classification (supported|partially_supported|contested|refuted|unverified),
reasoning, cited_evidence_ids (only ids listed above), and boundary_findings: for each boundary
with evidence, {"boundary_id", "direction" (supports|contradicts|neutral), "strength" (0.0-1.0),
"evidence_count"}.
Respond with a single JSON object.`, claim.Statement, brief)
}

func challengerPrompt(claim *model.AtomicClaim, advocate *verdictDraft, brief string) string {
	return fmt.Sprintf(`Claim: %s

The advocate concluded truth %.0f%% with this reasoning: %s

Evidence by boundary:
%s
Argue the OPPOSING position using only cited evidence ids from the list above. Give your
strongest_point, cited_evidence_ids, and opposing_truth_percentage (0-100).
Respond with a single JSON object.`, claim.Statement, advocate.TruthPercentage, advocate.Reasoning, brief)
}

func reconcilePrompt(claim *model.AtomicClaim, advocate *verdictDraft, challenge *challengeResult, spread float64, brief string) string {
	challengeText := "(challenger unavailable; reconcile against the evidence alone)"
	if challenge != nil {
		challengeText = challenge.StrongestPoint
	}
	return fmt.Sprintf(`Claim: %s

Advocate verdict: truth %.0f%%, confidence %.0f%%. Reasoning: %s

Challenger's strongest point: %s

Measured self-consistency spread: %.1f percentage points.

Evidence by boundary:
%s
Produce the working verdict. You MUST explicitly address the challenger's strongest point and
the measured spread in your reasoning. Same JSON shape as the advocate verdict.`,
		claim.Statement, advocate.TruthPercentage, advocate.Confidence, advocate.Reasoning,
		challengeText, spread, brief)
}

func groundingPrompt(verdict *model.ClaimVerdict, relevant []model.EvidenceItem) string {
	var b strings.Builder
	b.WriteString("Evidence ids available:\n")
	for i := range relevant {
		fmt.Fprintf(&b, "- %s: %s\n", relevant[i].ID, relevant[i].Statement)
	}
	fmt.Fprintf(&b, `
Verdict reasoning:
%s

Cited ids: %s

Is every assertion in the reasoning backed by a cited evidence id? Respond with JSON:
{"grounded": true|false, "ungrounded_points": ["..."]}`, verdict.Reasoning, strings.Join(verdict.CitedEvidenceIDs, ", "))
	return b.String()
}

func directionPrompt(claim *model.AtomicClaim, verdict *model.ClaimVerdict, tally struct{ Supporting, Contradicting, Neutral int }) string {
	return fmt.Sprintf(`Claim: %s
Verdict: truth %.0f%%, classification %s.
Evidence tally: %d supporting, %d contradicting, %d neutral.

Does the verdict's stated direction match the evidence tally? Respond with JSON:
{"consistent": true|false, "detail": "..."}`, claim.Statement, verdict.TruthPercentage, verdict.Classification,
		tally.Supporting, tally.Contradicting, tally.Neutral)
}
