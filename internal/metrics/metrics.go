// Package metrics collects per-call and per-stage timing/outcome records for
// the external calibration harness. The pipeline itself never reads them.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// CallRecord is emitted once per model gateway attempt
type CallRecord struct {
	Stage     string        `json:"stage"`
	PromptKey string        `json:"prompt_key"`
	Role      string        `json:"role"`
	Provider  string        `json:"provider"`
	Model     string        `json:"model"`
	Latency   time.Duration `json:"latency_ns"`
	Outcome   string        `json:"outcome"` // ok, malformed, capacity, timeout, provider_error, capacity_fallback
	Attempt   int           `json:"attempt"`
}

// StageRecord is emitted once per pipeline stage
type StageRecord struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration_ns"`
	Outcome  string        `json:"outcome"`
}

// Recorder is an append-only, concurrency-safe metrics sink
type Recorder struct {
	mu     sync.Mutex
	calls  []CallRecord
	stages []StageRecord
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordCall appends a gateway call record
func (r *Recorder) RecordCall(rec CallRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, rec)
}

// RecordStage appends a pipeline stage record
func (r *Recorder) RecordStage(rec StageRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, rec)
}

// Calls returns a copy of the collected call records
func (r *Recorder) Calls() []CallRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallRecord, len(r.calls))
	copy(out, r.calls)
	return out
}

// Stages returns a copy of the collected stage records
func (r *Recorder) Stages() []StageRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StageRecord, len(r.stages))
	copy(out, r.stages)
	return out
}

// WriteJSONL streams every record to w, one JSON object per line
func (r *Recorder) WriteJSONL(w io.Writer) error {
	enc := json.NewEncoder(w)
	for _, c := range r.Calls() {
		if err := enc.Encode(struct {
			Kind string `json:"kind"`
			CallRecord
		}{Kind: "call", CallRecord: c}); err != nil {
			return fmt.Errorf("encode call record: %w", err)
		}
	}
	for _, s := range r.Stages() {
		if err := enc.Encode(struct {
			Kind string `json:"kind"`
			StageRecord
		}{Kind: "stage", StageRecord: s}); err != nil {
			return fmt.Errorf("encode stage record: %w", err)
		}
	}
	return nil
}
