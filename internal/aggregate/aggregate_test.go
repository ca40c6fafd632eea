package aggregate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/claimlens/claimlens/internal/llm"
	"github.com/claimlens/claimlens/internal/model"
)

func gatewayFor(t *testing.T, handler http.HandlerFunc) (*llm.Gateway, *model.WarningLog, func()) {
	t.Helper()
	server := httptest.NewServer(handler)
	warnings := &model.WarningLog{}
	cfg := model.LLMConfig{
		Default:     model.ModelRef{Provider: "ollama", Model: "test-model"},
		Providers:   map[string]model.ProviderConfig{"ollama": {BaseURL: server.URL}},
		MaxRetries:  1,
		BackoffBase: time.Millisecond,
	}
	gw, err := llm.NewGateway(cfg, model.HTTPConfig{}, nil, warnings)
	if err != nil {
		server.Close()
		t.Fatalf("NewGateway: %v", err)
	}
	return gw, warnings, server.Close
}

func ollamaOK(text string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"response": text, "done": true})
	}
}

func ollamaFail() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func testClaims() []model.AtomicClaim {
	return []model.AtomicClaim{
		{ID: "c1", Statement: "s1", Centrality: model.CentralityCentral, HarmPotential: model.HarmMedium},
		{ID: "c2", Statement: "s2", Centrality: model.CentralityLow, HarmPotential: model.HarmMedium},
	}
}

func TestTriangulationScore(t *testing.T) {
	tests := []struct {
		name     string
		findings []model.BoundaryFinding
		want     float64
	}{
		{"no findings", nil, 0.5},
		{"single boundary", []model.BoundaryFinding{
			{BoundaryID: "b1", Direction: model.DirectionSupports, Strength: 1.0},
		}, 0.5},
		{"full agreement", []model.BoundaryFinding{
			{BoundaryID: "b1", Direction: model.DirectionSupports, Strength: 0.8},
			{BoundaryID: "b2", Direction: model.DirectionSupports, Strength: 0.6},
		}, 1.0},
		{"even split", []model.BoundaryFinding{
			{BoundaryID: "b1", Direction: model.DirectionSupports, Strength: 0.5},
			{BoundaryID: "b2", Direction: model.DirectionContradicts, Strength: 0.5},
		}, 0.5},
		{"neutral findings do not triangulate", []model.BoundaryFinding{
			{BoundaryID: "b1", Direction: model.DirectionNeutral, Strength: 1.0},
			{BoundaryID: "b2", Direction: model.DirectionSupports, Strength: 1.0},
		}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := triangulationScore(tt.findings); got != tt.want {
				t.Errorf("triangulationScore = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestWeightedMeansExcludesPlaceholders(t *testing.T) {
	claims := testClaims()
	verdicts := []model.ClaimVerdict{
		{ClaimID: "c1", TruthPercentage: 80, Confidence: 70, TriangulationScore: 0.5},
		model.NoVerdict("c2"),
	}

	overall, confidence := weightedMeans(claims, verdicts)
	if overall != 80 {
		t.Errorf("overall = %f, want 80 (placeholder excluded)", overall)
	}
	if confidence != 70 {
		t.Errorf("confidence = %f, want 70", confidence)
	}
}

func TestWeightedMeansFavorsCentralClaims(t *testing.T) {
	claims := testClaims()
	verdicts := []model.ClaimVerdict{
		{ClaimID: "c1", TruthPercentage: 100, Confidence: 100, TriangulationScore: 0.5},
		{ClaimID: "c2", TruthPercentage: 0, Confidence: 100, TriangulationScore: 0.5},
	}

	overall, _ := weightedMeans(claims, verdicts)
	// central weight 1.5 vs low weight 1.0: 100*1.5/2.5 = 60
	if overall != 60 {
		t.Errorf("overall = %f, want 60", overall)
	}
}

func TestRunAppliesBudgetConfidenceFactor(t *testing.T) {
	gw, warnings, done := gatewayFor(t, ollamaOK(`{"narrative": "summary"}`))
	defer done()

	cfg := model.AggregateConfig{BalanceSkewThreshold: 0.8, MinDirectionalItems: 3, BudgetConfidenceFactor: 0.85}
	agg := New(gw, cfg, warnings)

	in := Input{
		Set: model.ClaimSet{Thesis: "t", Claims: testClaims()[:1]},
		Verdicts: []model.ClaimVerdict{
			{ClaimID: "c1", TruthPercentage: 80, Confidence: 100},
		},
		ResearchState:   "BUDGET_EXHAUSTED",
		BudgetExhausted: true,
	}
	a := agg.Run(context.Background(), in)
	if a.Confidence != 85 {
		t.Errorf("confidence = %f, want 85 after budget factor", a.Confidence)
	}
	if a.Narrative != "summary" {
		t.Errorf("narrative = %q, want synthesized text", a.Narrative)
	}
	if a.SchemaVersion != model.SchemaVersion {
		t.Errorf("schema version = %d, want %d", a.SchemaVersion, model.SchemaVersion)
	}
}

func TestRunFallsBackOnNarrativeFailure(t *testing.T) {
	gw, warnings, done := gatewayFor(t, ollamaFail())
	defer done()

	cfg := model.AggregateConfig{BalanceSkewThreshold: 0.8, MinDirectionalItems: 3, BudgetConfidenceFactor: 0.85}
	agg := New(gw, cfg, warnings)

	in := Input{
		Set:           model.ClaimSet{Thesis: "the thesis", Claims: testClaims()[:1]},
		Verdicts:      []model.ClaimVerdict{{ClaimID: "c1", TruthPercentage: 50, Confidence: 50}},
		ResearchState: "DONE",
	}
	a := agg.Run(context.Background(), in)

	if a.Narrative == "" {
		t.Fatal("fallback narrative is empty")
	}
	if !a.Degraded {
		t.Error("run with narrative fallback should be marked degraded")
	}
	var sawFallback bool
	for _, w := range a.Warnings {
		if w.Type == model.WarnFallback && w.Stage == Stage {
			sawFallback = true
		}
	}
	if !sawFallback {
		t.Error("no fallback warning recorded for failed narrative")
	}
}

func TestRunFlagsSkewedPool(t *testing.T) {
	gw, warnings, done := gatewayFor(t, ollamaOK(`{"narrative": "n"}`))
	defer done()

	cfg := model.AggregateConfig{BalanceSkewThreshold: 0.8, MinDirectionalItems: 3}
	agg := New(gw, cfg, warnings)

	in := Input{
		Set:           model.ClaimSet{Thesis: "t", Claims: testClaims()[:1]},
		Verdicts:      []model.ClaimVerdict{{ClaimID: "c1", TruthPercentage: 90, Confidence: 90}},
		Evidence:      pool(9, 1, 0),
		ResearchState: "DONE",
	}
	a := agg.Run(context.Background(), in)

	if !a.EvidenceBalance.Skewed {
		t.Error("9:1 pool should be flagged skewed")
	}
	var gate *model.QualityGate
	for i := range a.QualityGates {
		if a.QualityGates[i].Name == "evidence_balance" {
			gate = &a.QualityGates[i]
		}
	}
	if gate == nil || gate.Passed {
		t.Errorf("evidence_balance gate = %+v, want failed", gate)
	}
	var sawImbalance bool
	for _, w := range a.Warnings {
		if w.Type == model.WarnImbalance {
			sawImbalance = true
		}
	}
	if !sawImbalance {
		t.Error("no evidence_imbalance warning recorded")
	}
}

func TestRunAllPlaceholdersYieldsNoVerdict(t *testing.T) {
	gw, warnings, done := gatewayFor(t, ollamaOK(`{"narrative": "n"}`))
	defer done()

	agg := New(gw, model.AggregateConfig{BalanceSkewThreshold: 0.8, MinDirectionalItems: 3}, warnings)
	in := Input{
		Set:           model.ClaimSet{Thesis: "t", Claims: testClaims()},
		Verdicts:      []model.ClaimVerdict{model.NoVerdict("c1"), model.NoVerdict("c2")},
		ResearchState: "DONE",
	}
	a := agg.Run(context.Background(), in)
	if a.Classification != model.ClassNoVerdict {
		t.Errorf("classification = %q, want no_verdict", a.Classification)
	}
	if a.OverallVerdict != 0 || a.Confidence != 0 {
		t.Errorf("overall = %f/%f, want 0/0", a.OverallVerdict, a.Confidence)
	}
}
