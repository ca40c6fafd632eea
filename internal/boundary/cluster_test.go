package boundary

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/claimlens/claimlens/internal/llm"
	"github.com/claimlens/claimlens/internal/model"
	"github.com/claimlens/claimlens/internal/oracle"
)

func newTestClusterer(t *testing.T, handler http.HandlerFunc, maxBoundaries int) (*Clusterer, *model.WarningLog, func()) {
	t.Helper()
	server := httptest.NewServer(handler)
	warnings := &model.WarningLog{}
	llmCfg := model.LLMConfig{
		Default:     model.ModelRef{Provider: "ollama", Model: "test-model"},
		Providers:   map[string]model.ProviderConfig{"ollama": {BaseURL: server.URL}},
		MaxRetries:  1,
		BackoffBase: time.Millisecond,
	}
	gw, err := llm.NewGateway(llmCfg, model.HTTPConfig{}, nil, warnings)
	if err != nil {
		server.Close()
		t.Fatalf("NewGateway: %v", err)
	}
	orc := oracle.New(gw, model.OracleConfig{ChunkSize: 50}, nil, warnings)
	return New(gw, orc, model.BoundaryConfig{MaxBoundaries: maxBoundaries}, warnings), warnings, server.Close
}

// promptRouter dispatches canned completions by prompt content
func promptRouter(t *testing.T, clustering, similarity string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var text string
		switch {
		case strings.Contains(req.Prompt, "Group the following evidence scopes"):
			text = clustering
		case strings.Contains(req.Prompt, "semantic equivalence"):
			text = similarity
		default:
			t.Errorf("unexpected prompt: %.80s", req.Prompt)
			text = "{}"
		}
		if text == "FAIL" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"response": text, "done": true})
	}
}

func evidenceWithScopes(scopes ...model.EvidenceScope) []model.EvidenceItem {
	out := make([]model.EvidenceItem, len(scopes))
	for i, s := range scopes {
		out[i] = model.EvidenceItem{
			ID:               fmt.Sprintf("e%d", i+1),
			Statement:        fmt.Sprintf("statement %d", i+1),
			Direction:        model.DirectionSupports,
			ProbativeValue:   0.8,
			RelevantClaimIDs: []string{"c1"},
			Scope:            s,
		}
	}
	return out
}

var (
	scopeUS = model.EvidenceScope{Temporal: "2020s", Geographic: "US", Methodological: "survey"}
	scopeEU = model.EvidenceScope{Temporal: "2020s", Geographic: "EU", Methodological: "survey"}
	scopeJP = model.EvidenceScope{Temporal: "2010s", Geographic: "JP", Methodological: "trial"}
)

func testClaimSet() []model.AtomicClaim {
	return []model.AtomicClaim{{ID: "c1", Statement: "s1"}}
}

func TestClusterZeroEvidence(t *testing.T) {
	c, _, done := newTestClusterer(t, promptRouter(t, "FAIL", "FAIL"), 5)
	defer done()

	res := c.Cluster(context.Background(), testClaimSet(), nil)
	if len(res.Boundaries) != 1 {
		t.Fatalf("got %d boundaries, want 1 catch-all", len(res.Boundaries))
	}
	if res.Boundaries[0].Name != CatchAllName {
		t.Errorf("boundary name = %q, want %q", res.Boundaries[0].Name, CatchAllName)
	}
}

func TestClusterFallsBackToCatchAll(t *testing.T) {
	c, warnings, done := newTestClusterer(t, promptRouter(t, "FAIL", "FAIL"), 5)
	defer done()

	evidence := evidenceWithScopes(scopeUS, scopeEU)
	res := c.Cluster(context.Background(), testClaimSet(), evidence)

	if len(res.Boundaries) != 1 || res.Boundaries[0].Name != CatchAllName {
		t.Fatalf("boundaries = %+v, want single catch-all", res.Boundaries)
	}
	for _, e := range evidence {
		if res.Assignment[e.Scope.Key()] != res.Boundaries[0].ID {
			t.Errorf("scope %q not assigned to catch-all", e.Scope.Key())
		}
	}

	var sawFallback bool
	for _, w := range warnings.All() {
		if w.Type == model.WarnFallback {
			sawFallback = true
		}
	}
	if !sawFallback {
		t.Error("no fallback warning for failed clustering call")
	}
}

func TestClusterRepairsDuplicatesAndOrphans(t *testing.T) {
	// Proposal assigns the US scope twice and never mentions the JP scope
	clustering := fmt.Sprintf(`{"boundaries": [
		{"name": "Western surveys", "description": "US and EU survey data", "coherence": 0.8, "scope_keys": [%q, %q]},
		{"name": "Duplicated", "description": "overlapping framing", "coherence": 0.6, "scope_keys": [%q]}
	]}`, scopeUS.Key(), scopeEU.Key(), scopeUS.Key())

	// The orphan-repair similarity call fails, so the orphan lands on the
	// largest boundary rather than being dropped
	c, warnings, done := newTestClusterer(t, promptRouter(t, clustering, "FAIL"), 5)
	defer done()

	evidence := evidenceWithScopes(scopeUS, scopeEU, scopeJP)
	res := c.Cluster(context.Background(), testClaimSet(), evidence)

	// Exactly-one-boundary invariant over every scope
	seen := map[string]bool{}
	for _, e := range evidence {
		key := e.Scope.Key()
		id, ok := res.Assignment[key]
		if !ok {
			t.Fatalf("scope %q has no boundary", key)
		}
		known := false
		for _, b := range res.Boundaries {
			if b.ID == id {
				known = true
			}
		}
		if !known {
			t.Errorf("scope %q assigned to unknown boundary %q", key, id)
		}
		seen[key] = true
	}
	if len(seen) != 3 {
		t.Errorf("assigned %d scopes, want 3", len(seen))
	}

	// The duplicate scope keeps its first assignment, so the empty duplicate
	// boundary is dropped
	for _, b := range res.Boundaries {
		if b.Name == "Duplicated" {
			t.Error("empty duplicate boundary survived rebuild")
		}
	}

	var sawRepair bool
	for _, w := range warnings.All() {
		if w.Type == model.WarnDataRepair {
			sawRepair = true
		}
	}
	if !sawRepair {
		t.Error("no data_repair warning for orphan re-assignment")
	}
}

func TestClusterDropsInventedScopeKeys(t *testing.T) {
	// Proposal mentions a scope key no evidence item carries
	clustering := fmt.Sprintf(`{"boundaries": [
		{"name": "Surveys", "description": "survey data", "coherence": 0.8, "scope_keys": [%q, %q, "1990s|mars|census"]}
	]}`, scopeUS.Key(), scopeEU.Key())

	c, _, done := newTestClusterer(t, promptRouter(t, clustering, "FAIL"), 5)
	defer done()

	evidence := evidenceWithScopes(scopeUS, scopeEU)
	res := c.Cluster(context.Background(), testClaimSet(), evidence)

	if _, ok := res.Assignment["1990s|mars|census"]; ok {
		t.Error("invented scope key entered the assignment")
	}
	for _, b := range res.Boundaries {
		for _, key := range b.ScopeKeys {
			if key == "1990s|mars|census" {
				t.Errorf("boundary %q lists a scope no evidence carries", b.Name)
			}
		}
	}
	for _, e := range evidence {
		if _, ok := res.Assignment[e.Scope.Key()]; !ok {
			t.Errorf("real scope %q lost its assignment", e.Scope.Key())
		}
	}
}

func TestClusterMergesOverCap(t *testing.T) {
	clustering := fmt.Sprintf(`{"boundaries": [
		{"name": "A", "description": "da", "coherence": 0.9, "scope_keys": [%q]},
		{"name": "B", "description": "db", "coherence": 0.7, "scope_keys": [%q]},
		{"name": "C", "description": "dc", "coherence": 0.8, "scope_keys": [%q]}
	]}`, scopeUS.Key(), scopeEU.Key(), scopeJP.Key())
	similarity := `[{"id": "m0-1", "score": 0.9}, {"id": "m0-2", "score": 0.1}, {"id": "m1-2", "score": 0.2}]`

	c, _, done := newTestClusterer(t, promptRouter(t, clustering, similarity), 2)
	defer done()

	evidence := evidenceWithScopes(scopeUS, scopeEU, scopeJP)
	res := c.Cluster(context.Background(), testClaimSet(), evidence)

	if len(res.Boundaries) != 2 {
		t.Fatalf("got %d boundaries, want 2 after merge", len(res.Boundaries))
	}

	// A absorbed B: both scopes point at the surviving boundary
	var merged *model.ClaimBoundary
	for i := range res.Boundaries {
		if res.Boundaries[i].Name == "A" {
			merged = &res.Boundaries[i]
		}
	}
	if merged == nil {
		t.Fatal("boundary A missing after merge")
	}
	if res.Assignment[scopeUS.Key()] != merged.ID || res.Assignment[scopeEU.Key()] != merged.ID {
		t.Error("merged scopes not reassigned to the surviving boundary")
	}
	// Merge keeps the weaker coherence of the pair
	if merged.InternalCoherence != 0.7 {
		t.Errorf("merged coherence = %f, want 0.7", merged.InternalCoherence)
	}
}

func TestClusterCoverageMatrix(t *testing.T) {
	clustering := fmt.Sprintf(`{"boundaries": [
		{"name": "Surveys", "description": "survey data", "coherence": 0.8, "scope_keys": [%q, %q]},
		{"name": "Trials", "description": "trial data", "coherence": 0.9, "scope_keys": [%q]}
	]}`, scopeUS.Key(), scopeEU.Key(), scopeJP.Key())

	c, _, done := newTestClusterer(t, promptRouter(t, clustering, "FAIL"), 5)
	defer done()

	claims := []model.AtomicClaim{
		{ID: "c1", Statement: "s1"},
		{ID: "c2", Statement: "s2"},
	}
	evidence := evidenceWithScopes(scopeUS, scopeJP)
	evidence[1].RelevantClaimIDs = []string{"c2"}

	res := c.Cluster(context.Background(), claims, evidence)

	var surveys, trials string
	for _, b := range res.Boundaries {
		switch b.Name {
		case "Surveys":
			surveys = b.ID
		case "Trials":
			trials = b.ID
		}
	}
	if !res.Coverage.Has("c1", surveys) {
		t.Error("c1 should be covered in the survey boundary")
	}
	if !res.Coverage.Has("c2", trials) {
		t.Error("c2 should be covered in the trial boundary")
	}
	if res.Coverage.Has("c1", trials) || res.Coverage.Has("c2", surveys) {
		t.Error("coverage matrix contains cells with no evidence")
	}
}
