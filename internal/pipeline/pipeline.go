// Package pipeline wires the analysis stages together: harm triage, evidence
// research, boundary clustering, verdict debate, and aggregation.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/claimlens/claimlens/internal/aggregate"
	"github.com/claimlens/claimlens/internal/boundary"
	"github.com/claimlens/claimlens/internal/cache"
	"github.com/claimlens/claimlens/internal/debate"
	"github.com/claimlens/claimlens/internal/llm"
	"github.com/claimlens/claimlens/internal/metrics"
	"github.com/claimlens/claimlens/internal/model"
	"github.com/claimlens/claimlens/internal/oracle"
	"github.com/claimlens/claimlens/internal/research"
	"github.com/claimlens/claimlens/internal/search"
	"github.com/claimlens/claimlens/internal/worker"
)

// RoleTriage tiers the harm-reclassification call at intake
const RoleTriage = "triage"

// Pipeline orchestrates one complete analysis run
type Pipeline struct {
	gateway      *llm.Gateway
	orchestrator *research.Orchestrator
	clusterer    *boundary.Clusterer
	debater      *debate.Engine
	aggregator   *aggregate.Aggregator
	renderer     *Renderer
	recorder     *metrics.Recorder
	warnings     *model.WarningLog
	config       model.Config
}

// New builds a pipeline from the configuration snapshot. Construction fails
// only when the default model provider cannot be built; everything downstream
// degrades at run time instead.
func New(cfg model.Config) (*Pipeline, error) {
	warnings := &model.WarningLog{}
	recorder := metrics.NewRecorder()

	gw, err := llm.NewGateway(cfg.LLM, cfg.HTTP, recorder, warnings)
	if err != nil {
		return nil, fmt.Errorf("build gateway: %w", err)
	}

	var store cache.Cache
	if cfg.Cache.Enabled && cfg.Cache.Dir != "" {
		store = cache.NewLayeredCache(cfg.Cache.MemoryTTL, cfg.Cache.Dir, cfg.Cache.DiskTTL)
	} else {
		store = cache.NewMemoryCache(cfg.Cache.MemoryTTL, 10*time.Minute)
	}

	orc := oracle.New(gw, cfg.Oracle, store, warnings)

	limiter := worker.NewLimiter(cfg.Search.RatePerSecond, cfg.Search.Burst)
	searcher, err := search.NewHTTPSearcher(cfg.Search, cfg.HTTP, limiter)
	if err != nil {
		return nil, fmt.Errorf("build searcher: %w", err)
	}
	fetcher := search.NewFetcher(cfg.HTTP, limiter, store)

	return &Pipeline{
		gateway:      gw,
		orchestrator: research.New(gw, orc, searcher, fetcher, cfg.Research, warnings),
		clusterer:    boundary.New(gw, orc, cfg.Boundary, warnings),
		debater:      debate.New(gw, cfg.Debate, cfg.Concurrency.DebateWorkers, warnings),
		aggregator:   aggregate.New(gw, cfg.Aggregate, warnings),
		renderer:     NewRenderer(cfg.Output.IncludeFooter),
		recorder:     recorder,
		warnings:     warnings,
		config:       cfg,
	}, nil
}

// Recorder exposes the metrics sink for export after a run
func (p *Pipeline) Recorder() *metrics.Recorder { return p.recorder }

// Analyze runs the full pipeline over one claim set and always returns an
// assessment. Partial data lowers confidence; it never aborts the run.
func (p *Pipeline) Analyze(ctx context.Context, set model.ClaimSet) *model.Assessment {
	claims := p.reclassifyHarm(ctx, set.Claims)

	// Research under its own time budget
	researchCtx := ctx
	if p.config.Research.TimeBudget > 0 {
		var cancel context.CancelFunc
		researchCtx, cancel = context.WithTimeout(ctx, p.config.Research.TimeBudget)
		defer cancel()
	}
	researchStart := time.Now()
	researched := p.orchestrator.Run(researchCtx, set.Thesis, claims, set.SeedEvidence)
	p.recorder.RecordStage(metrics.StageRecord{
		Stage:    research.Stage,
		Duration: time.Since(researchStart),
		Outcome:  researched.State.String(),
	})

	clusterStart := time.Now()
	clustered := p.clusterer.Cluster(ctx, claims, researched.Evidence)
	p.recorder.RecordStage(metrics.StageRecord{
		Stage:    boundary.Stage,
		Duration: time.Since(clusterStart),
		Outcome:  fmt.Sprintf("%d boundaries", len(clustered.Boundaries)),
	})

	debateCtx := ctx
	if p.config.Debate.StageTimeout > 0 {
		var cancel context.CancelFunc
		debateCtx, cancel = context.WithTimeout(ctx, p.config.Debate.StageTimeout)
		defer cancel()
	}
	debateStart := time.Now()
	verdicts := p.debater.Verdicts(debateCtx, claims, researched.Evidence, clustered.Boundaries, clustered.Assignment)
	p.recorder.RecordStage(metrics.StageRecord{
		Stage:    debate.Stage,
		Duration: time.Since(debateStart),
		Outcome:  fmt.Sprintf("%d verdicts", len(verdicts)),
	})

	aggStart := time.Now()
	assessment := p.aggregator.Run(ctx, aggregate.Input{
		Set:             model.ClaimSet{Thesis: set.Thesis, Claims: claims, SeedEvidence: set.SeedEvidence},
		Verdicts:        verdicts,
		Boundaries:      clustered.Boundaries,
		Coverage:        clustered.Coverage,
		Evidence:        researched.Evidence,
		ResearchState:   researched.State.String(),
		BudgetExhausted: researched.State == research.StateBudgetExhausted,
	})
	p.recorder.RecordStage(metrics.StageRecord{
		Stage:    aggregate.Stage,
		Duration: time.Since(aggStart),
		Outcome:  string(assessment.Classification),
	})

	return assessment
}

// RenderAssessment renders the assessment to the requested outputs
func (p *Pipeline) RenderAssessment(a *model.Assessment, jsonPath, mdPath string, verbose bool) error {
	if jsonPath != "" {
		if err := p.renderer.RenderJSON(a, jsonPath); err != nil {
			return fmt.Errorf("render JSON: %w", err)
		}
		if verbose {
			fmt.Printf("✓ Wrote JSON: %s\n", jsonPath)
		}
	}

	if mdPath != "" {
		if err := p.renderer.RenderMarkdown(a, mdPath); err != nil {
			return fmt.Errorf("render markdown: %w", err)
		}
		if verbose {
			fmt.Printf("✓ Wrote Markdown: %s\n", mdPath)
		}
	}

	p.renderer.RenderSummary(a)
	return nil
}

type harmTriage struct {
	Claims []struct {
		ID            string `json:"id"`
		HarmPotential string `json:"harm_potential"`
	} `json:"claims"`
}

// reclassifyHarm re-assesses harm potential at intake, independent of whatever
// the extraction stage decided. Failure keeps the incoming tiers; the claims
// themselves are never otherwise mutated.
func (p *Pipeline) reclassifyHarm(ctx context.Context, claims []model.AtomicClaim) []model.AtomicClaim {
	out := make([]model.AtomicClaim, len(claims))
	copy(out, claims)
	if len(out) == 0 {
		return out
	}

	var triage harmTriage
	fail := p.gateway.Call(ctx, llm.CallRequest{
		Stage:     "intake",
		PromptKey: "harm_reclassify",
		Role:      RoleTriage,
		System:    "You assess the real-world stakes of fact-check claims. Respond with JSON only.",
		Prompt:    harmPrompt(out),
		Out:       &triage,
		Validate: func() error {
			for _, c := range triage.Claims {
				if !model.HarmPotential(c.HarmPotential).Valid() {
					return fmt.Errorf("invalid harm tier %q for claim %s", c.HarmPotential, c.ID)
				}
			}
			return nil
		},
	})
	if fail != nil {
		p.warnings.Add(model.Warning{
			Type:    model.WarnFallback,
			Stage:   "intake",
			Message: fmt.Sprintf("harm reclassification failed, keeping incoming tiers: %v", fail),
		})
		return out
	}

	tiers := make(map[string]model.HarmPotential, len(triage.Claims))
	for _, c := range triage.Claims {
		tiers[c.ID] = model.HarmPotential(c.HarmPotential)
	}
	for i := range out {
		if tier, ok := tiers[out[i].ID]; ok {
			out[i].HarmPotential = tier
		}
	}
	return out
}

func harmPrompt(claims []model.AtomicClaim) string {
	b := "Classify the harm potential of each claim: the real-world stakes of publishing a wrong verdict about it. Tiers: critical, high, medium, low.\n\nClaims:\n"
	for i := range claims {
		b += fmt.Sprintf("- %s: %s\n", claims[i].ID, claims[i].Statement)
	}
	b += `
Respond with JSON: {"claims": [{"id": "...", "harm_potential": "critical|high|medium|low"}]}`
	return b
}
