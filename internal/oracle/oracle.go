// Package oracle provides batched semantic comparison and classification on
// top of the model gateway. It is the load-bearing judgment service for
// deduplication, boundary decisions, and balance checks.
//
// On exhausted retries the affected ids are left UNSET in the result map.
// There is no system-wide neutral constant and no lexical fallback: every
// caller applies its own documented conservative default.
package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/claimlens/claimlens/internal/cache"
	"github.com/claimlens/claimlens/internal/llm"
	"github.com/claimlens/claimlens/internal/model"
)

// RoleOracle is the gateway role used for all oracle calls
const RoleOracle = "oracle"

// Pair is one comparison task: how semantically equivalent are TextA and TextB
type Pair struct {
	ID    string
	TextA string
	TextB string
}

// Item is one classification task for ClassifyDirection
type Item struct {
	ID        string
	Statement string
	Reference string // the claim or thesis the statement is classified against
}

// Oracle batches semantic scoring through the gateway
type Oracle struct {
	gw       *llm.Gateway
	cfg      model.OracleConfig
	memo     cache.Cache
	warnings *model.WarningLog
}

// New creates an oracle. memo may be nil to disable score memoization.
func New(gw *llm.Gateway, cfg model.OracleConfig, memo cache.Cache, warnings *model.WarningLog) *Oracle {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 20
	}
	return &Oracle{gw: gw, cfg: cfg, memo: memo, warnings: warnings}
}

type scoredPair struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// BatchScore scores semantic similarity for each pair in [0,1]. Pairs whose
// chunk exhausted its retries are absent from the returned map; callers must
// apply their own conservative default via ScoreOr.
func (o *Oracle) BatchScore(ctx context.Context, stage string, pairs []Pair) map[string]float64 {
	scores := make(map[string]float64, len(pairs))

	var pending []Pair
	for _, p := range pairs {
		if s, ok := o.memoGet(p); ok {
			scores[p.ID] = s
			continue
		}
		pending = append(pending, p)
	}

	for start := 0; start < len(pending); start += o.cfg.ChunkSize {
		end := start + o.cfg.ChunkSize
		if end > len(pending) {
			end = len(pending)
		}
		chunk := pending[start:end]

		var out []scoredPair
		fail := o.gw.Call(ctx, llm.CallRequest{
			Stage:     stage,
			PromptKey: "similarity_batch",
			Role:      RoleOracle,
			System:    similaritySystem,
			Prompt:    similarityPrompt(chunk),
			Out:       &out,
			Validate:  func() error { return validateScores(out, chunk) },
		})
		if fail != nil {
			// Leave the chunk's ids unset; never inject a synthetic neutral.
			if o.warnings != nil {
				o.warnings.Add(model.Warning{
					Type:    model.WarnOracleUnset,
					Stage:   stage,
					Message: fmt.Sprintf("similarity chunk of %d pairs left unset: %v", len(chunk), fail),
					Data:    map[string]any{"pairs": len(chunk)},
				})
			}
			continue
		}

		byID := make(map[string]float64, len(out))
		for _, sp := range out {
			byID[sp.ID] = sp.Score
		}
		for _, p := range chunk {
			if s, ok := byID[p.ID]; ok {
				scores[p.ID] = s
				o.memoSet(p, s)
			}
		}
	}

	return scores
}

type classifiedItem struct {
	ID        string `json:"id"`
	Direction string `json:"direction"`
}

// ClassifyDirection classifies each statement as supporting, contradicting,
// or neutral relative to its reference. Same unset semantics as BatchScore.
func (o *Oracle) ClassifyDirection(ctx context.Context, stage string, items []Item) map[string]model.Direction {
	result := make(map[string]model.Direction, len(items))

	for start := 0; start < len(items); start += o.cfg.ChunkSize {
		end := start + o.cfg.ChunkSize
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]

		var out []classifiedItem
		fail := o.gw.Call(ctx, llm.CallRequest{
			Stage:     stage,
			PromptKey: "direction_batch",
			Role:      RoleOracle,
			System:    directionSystem,
			Prompt:    directionPrompt(chunk),
			Out:       &out,
			Validate:  func() error { return validateDirections(out) },
		})
		if fail != nil {
			if o.warnings != nil {
				o.warnings.Add(model.Warning{
					Type:    model.WarnOracleUnset,
					Stage:   stage,
					Message: fmt.Sprintf("direction chunk of %d items left unset: %v", len(chunk), fail),
					Data:    map[string]any{"items": len(chunk)},
				})
			}
			continue
		}

		for _, ci := range out {
			result[ci.ID] = model.Direction(ci.Direction)
		}
	}

	return result
}

// DedupThreshold returns the configured similarity threshold above which two
// statements are treated as duplicates
func (o *Oracle) DedupThreshold() float64 {
	return o.cfg.DedupThreshold
}

// ScoreOr returns the score for id, or the caller's conservative default when
// the oracle left it unset
func ScoreOr(scores map[string]float64, id string, def float64) float64 {
	if s, ok := scores[id]; ok {
		return s
	}
	return def
}

func validateScores(out []scoredPair, chunk []Pair) error {
	if len(out) == 0 {
		return fmt.Errorf("no scores returned for %d pairs", len(chunk))
	}
	known := make(map[string]bool, len(chunk))
	for _, p := range chunk {
		known[p.ID] = true
	}
	for _, sp := range out {
		if !known[sp.ID] {
			return fmt.Errorf("unknown pair id %q in response", sp.ID)
		}
		if sp.Score < 0 || sp.Score > 1 {
			return fmt.Errorf("score %f for pair %q out of range", sp.Score, sp.ID)
		}
	}
	return nil
}

func validateDirections(out []classifiedItem) error {
	if len(out) == 0 {
		return fmt.Errorf("no classifications returned")
	}
	for _, ci := range out {
		if !model.Direction(ci.Direction).Valid() {
			return fmt.Errorf("invalid direction %q for item %q", ci.Direction, ci.ID)
		}
	}
	return nil
}

func (o *Oracle) memoGet(p Pair) (float64, bool) {
	if o.memo == nil {
		return 0, false
	}
	data, ok := o.memo.Get(pairKey(p))
	if !ok {
		return 0, false
	}
	var s float64
	if err := json.Unmarshal(data, &s); err != nil {
		return 0, false
	}
	return s, true
}

func (o *Oracle) memoSet(p Pair, score float64) {
	if o.memo == nil {
		return
	}
	data, err := json.Marshal(score)
	if err != nil {
		return
	}
	_ = o.memo.Set(pairKey(p), data, 0)
}

// pairKey is order-sensitive on purpose: A-vs-B and B-vs-A are distinct tasks
func pairKey(p Pair) string {
	hash := sha256.Sum256([]byte(p.TextA + "\x00" + p.TextB))
	return "claimlens:v1:sim:" + hex.EncodeToString(hash[:])
}

const similaritySystem = `You are a semantic similarity judge. Respond with JSON only.`

func similarityPrompt(chunk []Pair) string {
	var b strings.Builder
	b.WriteString("Score the semantic equivalence of each pair from 0.0 (unrelated) to 1.0 (same assertion).\n")
	b.WriteString("Respond with a JSON array: [{\"id\": \"...\", \"score\": 0.0}]\n\nPairs:\n")
	for _, p := range chunk {
		fmt.Fprintf(&b, "- id: %s\n  a: %s\n  b: %s\n", p.ID, p.TextA, p.TextB)
	}
	return b.String()
}

const directionSystem = `You classify evidence stance. Respond with JSON only.`

func directionPrompt(chunk []Item) string {
	var b strings.Builder
	b.WriteString("Classify each statement as \"supports\", \"contradicts\", or \"neutral\" relative to its reference.\n")
	b.WriteString("Respond with a JSON array: [{\"id\": \"...\", \"direction\": \"...\"}]\n\nItems:\n")
	for _, it := range chunk {
		fmt.Fprintf(&b, "- id: %s\n  statement: %s\n  reference: %s\n", it.ID, it.Statement, it.Reference)
	}
	return b.String()
}
