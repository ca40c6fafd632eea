package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/claimlens/claimlens/internal/cache"
	"github.com/claimlens/claimlens/internal/llm"
	"github.com/claimlens/claimlens/internal/model"
)

// ollamaStub serves the local-model generate API with a canned completion
func ollamaStub(t *testing.T, respond func(prompt string) (string, int)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode stub request: %v", err)
		}
		text, status := respond(req.Prompt)
		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprintf(w, `{"error": "stub failure"}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"response": text, "done": true})
	}))
}

func gatewayFor(t *testing.T, serverURL string) (*llm.Gateway, *model.WarningLog) {
	t.Helper()
	warnings := &model.WarningLog{}
	cfg := model.LLMConfig{
		Default:     model.ModelRef{Provider: "ollama", Model: "test-model"},
		Providers:   map[string]model.ProviderConfig{"ollama": {BaseURL: serverURL}},
		MaxRetries:  1,
		BackoffBase: time.Millisecond,
	}
	gw, err := llm.NewGateway(cfg, model.HTTPConfig{}, nil, warnings)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	return gw, warnings
}

func TestBatchScoreReturnsScores(t *testing.T) {
	server := ollamaStub(t, func(string) (string, int) {
		return `[{"id": "p1", "score": 0.9}, {"id": "p2", "score": 0.1}]`, http.StatusOK
	})
	defer server.Close()

	gw, _ := gatewayFor(t, server.URL)
	o := New(gw, model.OracleConfig{ChunkSize: 20, DedupThreshold: 0.85}, nil, nil)

	scores := o.BatchScore(context.Background(), "test", []Pair{
		{ID: "p1", TextA: "a", TextB: "b"},
		{ID: "p2", TextA: "c", TextB: "d"},
	})
	if got := scores["p1"]; got != 0.9 {
		t.Errorf("score p1 = %f, want 0.9", got)
	}
	if got := scores["p2"]; got != 0.1 {
		t.Errorf("score p2 = %f, want 0.1", got)
	}
}

func TestBatchScoreLeavesFailedChunkUnset(t *testing.T) {
	server := ollamaStub(t, func(string) (string, int) {
		return "", http.StatusInternalServerError
	})
	defer server.Close()

	gw, warnings := gatewayFor(t, server.URL)
	o := New(gw, model.OracleConfig{ChunkSize: 20}, nil, warnings)

	scores := o.BatchScore(context.Background(), "test", []Pair{{ID: "p1", TextA: "a", TextB: "b"}})

	if _, ok := scores["p1"]; ok {
		t.Error("failed chunk produced a score; ids must be left unset")
	}
	ws := warnings.All()
	if len(ws) != 1 || ws[0].Type != model.WarnOracleUnset {
		t.Errorf("warnings = %+v, want one oracle_unset", ws)
	}

	// The caller's documented default applies, not a synthetic neutral
	if got := ScoreOr(scores, "p1", 0); got != 0 {
		t.Errorf("ScoreOr default = %f, want 0", got)
	}
	if got := ScoreOr(scores, "p1", 1); got != 1 {
		t.Errorf("ScoreOr default = %f, want 1", got)
	}
}

func TestBatchScoreMemoizesPairs(t *testing.T) {
	requests := 0
	server := ollamaStub(t, func(string) (string, int) {
		requests++
		return `[{"id": "p1", "score": 0.7}]`, http.StatusOK
	})
	defer server.Close()

	gw, _ := gatewayFor(t, server.URL)
	memo := cache.NewMemoryCache(time.Minute, time.Minute)
	o := New(gw, model.OracleConfig{ChunkSize: 20}, memo, nil)

	pair := Pair{ID: "p1", TextA: "same text", TextB: "other text"}
	first := o.BatchScore(context.Background(), "test", []Pair{pair})
	second := o.BatchScore(context.Background(), "test", []Pair{pair})

	if first["p1"] != 0.7 || second["p1"] != 0.7 {
		t.Errorf("scores = %f / %f, want 0.7 both times", first["p1"], second["p1"])
	}
	if requests != 1 {
		t.Errorf("server saw %d requests, want 1 (second call memoized)", requests)
	}
}

func TestClassifyDirection(t *testing.T) {
	server := ollamaStub(t, func(string) (string, int) {
		return `[{"id": "e1", "direction": "supports"}, {"id": "e2", "direction": "contradicts"}]`, http.StatusOK
	})
	defer server.Close()

	gw, _ := gatewayFor(t, server.URL)
	o := New(gw, model.OracleConfig{ChunkSize: 20}, nil, nil)

	dirs := o.ClassifyDirection(context.Background(), "test", []Item{
		{ID: "e1", Statement: "x", Reference: "y"},
		{ID: "e2", Statement: "z", Reference: "y"},
	})
	if dirs["e1"] != model.DirectionSupports {
		t.Errorf("e1 direction = %q, want supports", dirs["e1"])
	}
	if dirs["e2"] != model.DirectionContradicts {
		t.Errorf("e2 direction = %q, want contradicts", dirs["e2"])
	}
}

func TestClassifyDirectionRejectsUnknownLabels(t *testing.T) {
	server := ollamaStub(t, func(string) (string, int) {
		return `[{"id": "e1", "direction": "maybe"}]`, http.StatusOK
	})
	defer server.Close()

	gw, warnings := gatewayFor(t, server.URL)
	o := New(gw, model.OracleConfig{ChunkSize: 20}, nil, warnings)

	dirs := o.ClassifyDirection(context.Background(), "test", []Item{{ID: "e1", Statement: "x", Reference: "y"}})
	if _, ok := dirs["e1"]; ok {
		t.Error("invalid direction label was accepted")
	}
	if ws := warnings.All(); len(ws) != 1 || ws[0].Type != model.WarnOracleUnset {
		t.Errorf("warnings = %+v, want one oracle_unset", ws)
	}
}
