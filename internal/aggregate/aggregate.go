// Package aggregate folds per-claim verdicts into the single overall
// assessment: triangulation, weighted averaging, balance and quality gates,
// and the narrative synthesis call.
package aggregate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/claimlens/claimlens/internal/llm"
	"github.com/claimlens/claimlens/internal/model"
)

// Stage is the pipeline stage name used in metrics and warnings
const Stage = "aggregate"

// RoleNarrator tiers the narrative synthesis call
const RoleNarrator = "narrator"

// Input gathers everything the aggregation stage folds together
type Input struct {
	Set             model.ClaimSet
	Verdicts        []model.ClaimVerdict
	Boundaries      []model.ClaimBoundary
	Coverage        *model.CoverageMatrix
	Evidence        []model.EvidenceItem
	ResearchState   string
	BudgetExhausted bool
}

// Aggregator produces the terminal Assessment for a run
type Aggregator struct {
	gw       *llm.Gateway
	cfg      model.AggregateConfig
	warnings *model.WarningLog
}

func New(gw *llm.Gateway, cfg model.AggregateConfig, warnings *model.WarningLog) *Aggregator {
	return &Aggregator{gw: gw, cfg: cfg, warnings: warnings}
}

// Run assembles the assessment. All numbers are settled before the narrative
// call; the narrative can never alter them.
func (a *Aggregator) Run(ctx context.Context, in Input) *model.Assessment {
	verdicts := make([]model.ClaimVerdict, len(in.Verdicts))
	copy(verdicts, in.Verdicts)
	for i := range verdicts {
		verdicts[i].TriangulationScore = triangulationScore(verdicts[i].BoundaryFindings)
	}

	overall, confidence := weightedMeans(in.Set.Claims, verdicts)
	if in.BudgetExhausted {
		confidence *= a.cfg.BudgetConfidenceFactor
	}

	balance := AssessEvidenceBalance(in.Evidence, a.cfg)
	if balance.Skewed {
		a.warn(model.WarnImbalance, fmt.Sprintf("evidence pool is one-sided: %d supporting vs %d contradicting", balance.Supporting, balance.Contradicting), map[string]any{
			"ratio": balance.Ratio,
		})
	}

	assessment := &model.Assessment{
		SchemaVersion:   model.SchemaVersion,
		RunID:           uuid.NewString(),
		Thesis:          in.Set.Thesis,
		GeneratedAt:     time.Now().UTC(),
		OverallVerdict:  overall,
		Confidence:      confidence,
		Classification:  overallClassification(overall, verdicts),
		ClaimVerdicts:   verdicts,
		ClaimBoundaries: in.Boundaries,
		Coverage:        in.Coverage,
		EvidenceBalance: balance,
		ResearchState:   in.ResearchState,
		EvidenceCount:   len(in.Evidence),
	}

	assessment.QualityGates = a.qualityGates(in, verdicts, balance)

	assessment.Narrative = a.narrative(ctx, assessment)

	assessment.Warnings = a.warnings.All()
	for _, w := range assessment.Warnings {
		if w.Degrading() {
			assessment.Degraded = true
			break
		}
	}

	return assessment
}

// triangulationScore measures cross-boundary agreement for one claim's
// findings: the share of directional finding strength behind the dominant
// direction. A claim seen through fewer than two directional boundaries has
// nothing to triangulate and scores the neutral 0.5.
func triangulationScore(findings []model.BoundaryFinding) float64 {
	var supporting, contradicting float64
	directional := 0
	for _, f := range findings {
		switch f.Direction {
		case model.DirectionSupports:
			supporting += f.Strength
			directional++
		case model.DirectionContradicts:
			contradicting += f.Strength
			directional++
		}
	}
	if directional < 2 {
		return 0.5
	}
	total := supporting + contradicting
	if total == 0 {
		return 0.5
	}
	dominant := supporting
	if contradicting > dominant {
		dominant = contradicting
	}
	return dominant / total
}

// triangulationFactor maps the agreement score into a weight component around
// 1.0: full cross-boundary agreement weighs a claim up, an even split weighs
// it down.
func triangulationFactor(score float64) float64 {
	return 0.8 + 0.4*score
}

// weightedMeans computes the overall verdict and confidence. Weight per claim
// is centrality x harm multiplier x triangulation factor. Placeholder
// no-verdict entries carry no truth value and are excluded from the means.
func weightedMeans(claims []model.AtomicClaim, verdicts []model.ClaimVerdict) (overall, confidence float64) {
	byID := make(map[string]*model.AtomicClaim, len(claims))
	for i := range claims {
		byID[claims[i].ID] = &claims[i]
	}

	var truthSum, confSum, weightSum float64
	for i := range verdicts {
		v := &verdicts[i]
		if v.Fallback {
			continue
		}
		claim, ok := byID[v.ClaimID]
		if !ok {
			continue
		}
		w := claim.Centrality.Weight() * claim.HarmPotential.Multiplier() * triangulationFactor(v.TriangulationScore)
		truthSum += v.TruthPercentage * w
		confSum += v.Confidence * w
		weightSum += w
	}
	if weightSum == 0 {
		return 0, 0
	}
	return truthSum / weightSum, confSum / weightSum
}

func overallClassification(overall float64, verdicts []model.ClaimVerdict) model.Classification {
	any := false
	for i := range verdicts {
		if !verdicts[i].Fallback {
			any = true
			break
		}
	}
	if !any {
		return model.ClassNoVerdict
	}
	return model.ClassifyTruth(overall)
}

// qualityGates summarizes the structural health of the run as named checks
func (a *Aggregator) qualityGates(in Input, verdicts []model.ClaimVerdict, balance model.EvidenceBalance) []model.QualityGate {
	gates := make([]model.QualityGate, 0, 4)

	evidenced := make(map[string]bool)
	for i := range in.Evidence {
		for _, id := range in.Evidence[i].RelevantClaimIDs {
			evidenced[id] = true
		}
	}
	var dry []string
	for i := range in.Set.Claims {
		if !evidenced[in.Set.Claims[i].ID] {
			dry = append(dry, in.Set.Claims[i].ID)
		}
	}
	gates = append(gates, model.QualityGate{
		Name:   "evidence_coverage",
		Passed: len(dry) == 0,
		Detail: gateDetail(len(dry) == 0, fmt.Sprintf("%d claims have no evidence: %s", len(dry), strings.Join(dry, ", "))),
	})

	gaps := 0
	if in.Coverage != nil {
		gaps = in.Coverage.GapCount()
	}
	gates = append(gates, model.QualityGate{
		Name:   "boundary_coverage",
		Passed: gaps == 0,
		Detail: gateDetail(gaps == 0, fmt.Sprintf("%d claim/boundary cells lack evidence", gaps)),
		Data:   map[string]any{"gap_count": gaps},
	})

	gates = append(gates, model.QualityGate{
		Name:   "evidence_balance",
		Passed: !balance.Skewed,
		Detail: gateDetail(!balance.Skewed, fmt.Sprintf("directional ratio %.2f exceeds threshold %.2f", balance.Ratio, balance.Threshold)),
	})

	fallbacks := 0
	for i := range verdicts {
		if verdicts[i].Fallback {
			fallbacks++
		}
	}
	gates = append(gates, model.QualityGate{
		Name:   "verdict_completeness",
		Passed: fallbacks == 0,
		Detail: gateDetail(fallbacks == 0, fmt.Sprintf("%d of %d claims received no verdict", fallbacks, len(verdicts))),
	})

	return gates
}

func gateDetail(passed bool, failDetail string) string {
	if passed {
		return ""
	}
	return failDetail
}

type narrativeOut struct {
	Narrative string `json:"narrative"`
}

// narrative synthesizes prose from the settled numbers. On failure the
// deterministic fallback summarizes the same numbers without a model call.
func (a *Aggregator) narrative(ctx context.Context, assessment *model.Assessment) string {
	var out narrativeOut
	fail := a.gw.Call(ctx, llm.CallRequest{
		Stage:     Stage,
		PromptKey: "narrative_synthesis",
		Role:      RoleNarrator,
		System:    "You summarize fact-verification results. Report the numbers you are given; never change them. Respond with JSON only.",
		Prompt:    narrativePrompt(assessment),
		Out:       &out,
		Validate: func() error {
			if strings.TrimSpace(out.Narrative) == "" {
				return fmt.Errorf("empty narrative")
			}
			return nil
		},
	})
	if fail != nil {
		a.warn(model.WarnFallback, fmt.Sprintf("narrative synthesis failed: %v", fail), nil)
		return fallbackNarrative(assessment)
	}
	return out.Narrative
}

func narrativePrompt(a *model.Assessment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Thesis: %s\n", a.Thesis)
	fmt.Fprintf(&b, "Overall verdict: %.1f%% true, confidence %.1f%%, classification %s.\n", a.OverallVerdict, a.Confidence, a.Classification)
	fmt.Fprintf(&b, "Evidence: %d items (%d supporting, %d contradicting, %d neutral).\n",
		a.EvidenceCount, a.EvidenceBalance.Supporting, a.EvidenceBalance.Contradicting, a.EvidenceBalance.Neutral)
	b.WriteString("Per-claim verdicts:\n")
	for i := range a.ClaimVerdicts {
		v := &a.ClaimVerdicts[i]
		fmt.Fprintf(&b, "- %s: truth %.0f%%, confidence %.0f%%, %s", v.ClaimID, v.TruthPercentage, v.Confidence, v.Classification)
		if v.HarmFloorApplied {
			b.WriteString(" (confidence floor applied)")
		}
		b.WriteString("\n")
	}
	b.WriteString(`
Write a short factual narrative (3-6 sentences) of these results for a reader
who has not seen the evidence. Do not introduce numbers beyond those above.
Respond with JSON: {"narrative": "..."}`)
	return b.String()
}

func fallbackNarrative(a *model.Assessment) string {
	return fmt.Sprintf(
		"Analysis of the thesis %q produced an overall verdict of %.1f%% true with %.1f%% confidence (%s), based on %d evidence items across %d claims.",
		a.Thesis, a.OverallVerdict, a.Confidence, a.Classification, a.EvidenceCount, len(a.ClaimVerdicts))
}

func (a *Aggregator) warn(t model.WarningType, msg string, data map[string]any) {
	if a.warnings == nil {
		return
	}
	a.warnings.Add(model.Warning{Type: t, Stage: Stage, Message: msg, Data: data})
}
