package model

import (
	"sync"
	"testing"
)

func TestReadAssessmentVersionTolerance(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    int
		wantErr bool
	}{
		{"current version", `{"schema_version": 2, "thesis": "t"}`, 2, false},
		{"previous version", `{"schema_version": 1, "thesis": "t"}`, 1, false},
		{"pre-versioning artifact", `{"thesis": "t"}`, 1, false},
		{"future version", `{"schema_version": 3, "thesis": "t"}`, 0, true},
		{"garbage", `{not json`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := ReadAssessment([]byte(tt.data))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadAssessment: %v", err)
			}
			if a.SchemaVersion != tt.want {
				t.Errorf("schema version = %d, want %d", a.SchemaVersion, tt.want)
			}
		})
	}
}

func TestWarningDegrading(t *testing.T) {
	degrading := []WarningType{WarnCapacityFallback, WarnFallback, WarnBudgetExhausted}
	for _, wt := range degrading {
		if !(Warning{Type: wt}).Degrading() {
			t.Errorf("%s should mark the run degraded", wt)
		}
	}
	benign := []WarningType{WarnSearchFailure, WarnFetchFailure, WarnOracleUnset, WarnImbalance, WarnDataRepair, WarnValidationFlag}
	for _, wt := range benign {
		if (Warning{Type: wt}).Degrading() {
			t.Errorf("%s should not mark the run degraded", wt)
		}
	}
}

func TestWarningLogConcurrentAppend(t *testing.T) {
	log := &WarningLog{}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Add(Warning{Type: WarnFetchFailure, Stage: "research"})
		}()
	}
	wg.Wait()
	if got := len(log.All()); got != 20 {
		t.Errorf("collected %d warnings, want 20", got)
	}
}

func TestClassifyTruth(t *testing.T) {
	tests := []struct {
		pct  float64
		want Classification
	}{
		{100, ClassSupported},
		{75, ClassSupported},
		{74.9, ClassPartiallySupported},
		{55, ClassPartiallySupported},
		{54.9, ClassContested},
		{35, ClassContested},
		{34.9, ClassRefuted},
		{0, ClassRefuted},
	}
	for _, tt := range tests {
		if got := ClassifyTruth(tt.pct); got != tt.want {
			t.Errorf("ClassifyTruth(%.1f) = %q, want %q", tt.pct, got, tt.want)
		}
	}
}

func TestNoVerdictPlaceholder(t *testing.T) {
	v := NoVerdict("c1")
	if v.ClaimID != "c1" || v.Confidence != 0 || v.Classification != ClassNoVerdict || !v.Fallback {
		t.Errorf("NoVerdict = %+v, want confidence 0, no_verdict, fallback", v)
	}
}

func TestCentralityAndHarmTables(t *testing.T) {
	if CentralityCentral.Weight() <= CentralityHigh.Weight() || CentralityHigh.Weight() <= CentralityLow.Weight() {
		t.Error("centrality weights are not strictly decreasing")
	}
	if HarmCritical.Multiplier() <= HarmHigh.Multiplier() || HarmHigh.Multiplier() <= HarmMedium.Multiplier() || HarmMedium.Multiplier() <= HarmLow.Multiplier() {
		t.Error("harm multipliers are not strictly decreasing")
	}
	if !HarmCritical.Gated() || !HarmHigh.Gated() {
		t.Error("critical and high harm must gate the confidence floor")
	}
	if HarmMedium.Gated() || HarmLow.Gated() {
		t.Error("medium and low harm must not gate the confidence floor")
	}
}

func TestDirectionInvert(t *testing.T) {
	if DirectionSupports.Invert() != DirectionContradicts {
		t.Error("supports should invert to contradicts")
	}
	if DirectionContradicts.Invert() != DirectionSupports {
		t.Error("contradicts should invert to supports")
	}
	if DirectionNeutral.Invert() != DirectionNeutral {
		t.Error("neutral should invert to itself")
	}
}

func TestCoverageMatrix(t *testing.T) {
	m := NewCoverageMatrix([]string{"c1", "c2"}, []string{"b1", "b2"})
	m.Set("c1", "b1")
	m.Set("c1", "b2")
	m.Set("c2", "b1")

	if !m.Has("c1", "b1") || !m.Has("c2", "b1") {
		t.Error("set cells not reported by Has")
	}
	if m.Has("c2", "b2") {
		t.Error("unset cell reported by Has")
	}
	if got := m.GapCount(); got != 1 {
		t.Errorf("GapCount = %d, want 1", got)
	}
	if got := m.BoundariesFor("c1"); len(got) != 2 {
		t.Errorf("BoundariesFor(c1) = %v, want two boundaries", got)
	}
}
