package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/claimlens/claimlens/internal/model"
)

// Renderer writes an assessment as a JSON artifact, a Markdown report, and a
// short stdout summary
type Renderer struct {
	includeFooter bool
}

// NewRenderer creates a renderer
func NewRenderer(includeFooter bool) *Renderer {
	return &Renderer{includeFooter: includeFooter}
}

// RenderJSON writes the assessment artifact to path
func (r *Renderer) RenderJSON(a *model.Assessment, path string) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal assessment: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// RenderMarkdown writes the human-readable report to path
func (r *Renderer) RenderMarkdown(a *model.Assessment, path string) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# Claim Verification Report\n\n")
	fmt.Fprintf(&b, "**Thesis:** %s\n\n", a.Thesis)
	fmt.Fprintf(&b, "**Overall verdict:** %.1f%% true, %s (confidence %.1f%%)\n\n",
		a.OverallVerdict, formatClassification(a.Classification), a.Confidence)
	if a.Degraded {
		b.WriteString("> ⚠ This run is degraded: one or more fallback paths replaced the primary one. See warnings below.\n\n")
	}

	if a.Narrative != "" {
		b.WriteString("## Summary\n\n")
		b.WriteString(a.Narrative)
		b.WriteString("\n\n")
	}

	b.WriteString("## Claim Verdicts\n\n")
	b.WriteString("| Claim | Truth | Confidence | Classification | Spread |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for i := range a.ClaimVerdicts {
		v := &a.ClaimVerdicts[i]
		notes := ""
		if v.HarmFloorApplied {
			notes = " †"
		}
		fmt.Fprintf(&b, "| %s | %.0f%% | %.0f%% | %s%s | %.1fpp (×%.1f) |\n",
			v.ClaimID, v.TruthPercentage, v.Confidence, formatClassification(v.Classification), notes,
			v.RawSpread, v.SpreadMultiplier)
	}
	b.WriteString("\n† confidence floor applied due to harm potential\n\n")

	if len(a.ClaimBoundaries) > 0 {
		b.WriteString("## Claim Boundaries\n\n")
		for i := range a.ClaimBoundaries {
			bd := &a.ClaimBoundaries[i]
			fmt.Fprintf(&b, "- **%s** (coherence %.2f): %s\n", bd.Name, bd.InternalCoherence, bd.Description)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Evidence Balance\n\n")
	eb := a.EvidenceBalance
	fmt.Fprintf(&b, "%d supporting, %d contradicting, %d neutral", eb.Supporting, eb.Contradicting, eb.Neutral)
	if eb.Evaluated {
		fmt.Fprintf(&b, " (ratio %.2f", eb.Ratio)
		if eb.Skewed {
			b.WriteString(", **skewed**")
		}
		b.WriteString(")")
	}
	b.WriteString("\n\n")

	b.WriteString("## Quality Gates\n\n")
	for _, g := range a.QualityGates {
		mark := "✓"
		if !g.Passed {
			mark = "✗"
		}
		fmt.Fprintf(&b, "- %s %s", mark, g.Name)
		if g.Detail != "" {
			fmt.Fprintf(&b, " (%s)", g.Detail)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if len(a.Warnings) > 0 {
		b.WriteString("## Warnings\n\n")
		for _, w := range sortedWarnings(a.Warnings) {
			fmt.Fprintf(&b, "- [%s/%s] %s\n", w.Stage, w.Type, w.Message)
		}
		b.WriteString("\n")
	}

	if r.includeFooter {
		fmt.Fprintf(&b, "---\n\n*Generated %s · run %s · research state %s · %d evidence items · schema v%d*\n",
			a.GeneratedAt.Format("2006-01-02 15:04 UTC"), a.RunID, a.ResearchState, a.EvidenceCount, a.SchemaVersion)
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// RenderSummary prints a short result summary to stdout
func (r *Renderer) RenderSummary(a *model.Assessment) {
	fmt.Printf("\nThesis: %s\n", a.Thesis)
	fmt.Printf("Verdict: %.1f%% true, %s (confidence %.1f%%)\n",
		a.OverallVerdict, formatClassification(a.Classification), a.Confidence)
	fmt.Printf("Evidence: %d items, %d boundaries, research %s\n",
		a.EvidenceCount, len(a.ClaimBoundaries), a.ResearchState)

	failed := 0
	for _, g := range a.QualityGates {
		if !g.Passed {
			failed++
		}
	}
	if failed > 0 {
		fmt.Printf("Quality gates: %d of %d failed\n", failed, len(a.QualityGates))
	}
	if a.Degraded {
		fmt.Printf("⚠ Degraded run: %d warnings\n", len(a.Warnings))
	}
}

func formatClassification(c model.Classification) string {
	return strings.ReplaceAll(string(c), "_", " ")
}

func sortedWarnings(ws []model.Warning) []model.Warning {
	out := make([]model.Warning, len(ws))
	copy(out, ws)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Stage != out[j].Stage {
			return out[i].Stage < out[j].Stage
		}
		return out[i].Type < out[j].Type
	})
	return out
}
