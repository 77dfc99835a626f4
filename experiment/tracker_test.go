package experiment

import (
	"math/rand"
	"testing"
	"time"

	"github.com/aschepis/switchboard/backend"
	"github.com/rs/zerolog"
)

func testTracker(opts ...TrackerOption) *Tracker {
	return NewTracker("default-variant", zerolog.Nop(), opts...)
}

func TestCreate_ValidDistribution(t *testing.T) {
	tracker := testTracker()

	err := tracker.Create(Config{
		ID:           "exp-1",
		Variants:     []string{"a", "b"},
		Distribution: map[string]float64{"a": 70, "b": 30},
	})
	if err != nil {
		t.Fatalf("expected valid config to be accepted: %v", err)
	}

	cfg, ok := tracker.Get("exp-1")
	if !ok {
		t.Fatal("expected experiment to be stored")
	}
	if !cfg.Active {
		t.Error("new experiments should be active")
	}
	if cfg.MinSampleSize != DefaultMinSampleSize {
		t.Errorf("expected default min sample size, got %d", cfg.MinSampleSize)
	}
}

func TestCreate_RejectsNonSummingDistribution(t *testing.T) {
	tracker := testTracker()

	err := tracker.Create(Config{
		ID:           "exp-bad",
		Variants:     []string{"a", "b"},
		Distribution: map[string]float64{"a": 70, "b": 40},
	})
	if err == nil {
		t.Fatal("expected distribution summing to 110 to be rejected")
	}
	if !backend.IsConfigurationError(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
	if _, ok := tracker.Get("exp-bad"); ok {
		t.Error("rejected experiment must not be stored")
	}
}

func TestCreate_ToleratesTinyRoundingError(t *testing.T) {
	tracker := testTracker()

	err := tracker.Create(Config{
		ID:           "exp-thirds",
		Variants:     []string{"a", "b", "c"},
		Distribution: map[string]float64{"a": 33.33, "b": 33.33, "c": 33.34},
	})
	if err != nil {
		t.Fatalf("expected distribution within tolerance to be accepted: %v", err)
	}
}

func TestCreate_RejectsDistributionVariantMismatch(t *testing.T) {
	tracker := testTracker()

	err := tracker.Create(Config{
		ID:           "exp-mismatch",
		Variants:     []string{"a", "b"},
		Distribution: map[string]float64{"a": 50, "c": 50},
	})
	if !backend.IsConfigurationError(err) {
		t.Errorf("expected configuration error for unknown distribution key, got %v", err)
	}
}

func TestSelectVariant_SeededFrequencies(t *testing.T) {
	tracker := testTracker(WithRand(rand.New(rand.NewSource(42)))) //nolint:gosec // deterministic test source

	err := tracker.Create(Config{
		ID:           "split-70-30",
		Variants:     []string{"a", "b"},
		Distribution: map[string]float64{"a": 70, "b": 30},
	})
	if err != nil {
		t.Fatal(err)
	}

	counts := map[string]int{}
	for i := 0; i < 10000; i++ {
		variant, experimentID := tracker.SelectVariant(Selection{})
		if experimentID != "split-70-30" {
			t.Fatalf("expected selection via experiment, got %q", experimentID)
		}
		counts[variant]++
	}

	// Law-of-large-numbers check, not exact equality.
	if counts["a"] < 6800 || counts["a"] > 7200 {
		t.Errorf("expected ~7000 selections of 'a', got %d", counts["a"])
	}
	if counts["a"]+counts["b"] != 10000 {
		t.Errorf("every draw must pick a participant, got %v", counts)
	}
}

func TestSelectVariant_FallsBackToPreferredThenDefault(t *testing.T) {
	tracker := testTracker()

	variant, experimentID := tracker.SelectVariant(Selection{Preferred: "preferred-variant"})
	if variant != "preferred-variant" || experimentID != "" {
		t.Errorf("expected preferred variant without experiment, got %q / %q", variant, experimentID)
	}

	variant, _ = tracker.SelectVariant(Selection{})
	if variant != "default-variant" {
		t.Errorf("expected process-wide default, got %q", variant)
	}
}

func TestSelectVariant_RespectsExclusions(t *testing.T) {
	tracker := testTracker()

	if err := tracker.Create(Config{
		ID:           "excluded",
		Variants:     []string{"a"},
		Distribution: map[string]float64{"a": 100},
	}); err != nil {
		t.Fatal(err)
	}

	variant, experimentID := tracker.SelectVariant(Selection{
		ExcludeExperiments: []string{"excluded"},
	})
	if experimentID != "" {
		t.Errorf("excluded experiment must not drive selection, got %q", experimentID)
	}
	if variant != "default-variant" {
		t.Errorf("expected default variant, got %q", variant)
	}
}

func TestSelectVariant_LazyExpiry(t *testing.T) {
	tracker := testTracker()

	past := time.Now().Add(-time.Minute)
	if err := tracker.Create(Config{
		ID:           "ended",
		Variants:     []string{"a"},
		Distribution: map[string]float64{"a": 100},
		End:          &past,
	}); err != nil {
		t.Fatal(err)
	}

	// Consulting the tracker flips the ended experiment inactive.
	_, experimentID := tracker.SelectVariant(Selection{})
	if experimentID != "" {
		t.Errorf("ended experiment must not be selected, got %q", experimentID)
	}

	cfg, _ := tracker.Get("ended")
	if cfg.Active {
		t.Error("expected ended experiment to be flipped inactive on consultation")
	}
}

func TestGetOrCreateComparison_MatchesExistingSet(t *testing.T) {
	tracker := testTracker()

	first, err := tracker.GetOrCreateComparison([]string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}

	// Same set in different order should return the existing experiment.
	second, err := tracker.GetOrCreateComparison([]string{"c", "a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("expected existing comparison %q, got new %q", first.ID, second.ID)
	}

	for _, pct := range first.Distribution {
		if pct < 33.3 || pct > 33.4 {
			t.Errorf("expected equal split around 33.33, got %f", pct)
		}
	}
}

func TestStop_ConcludesExperiment(t *testing.T) {
	tracker := testTracker()

	if err := tracker.Create(Config{
		ID:           "to-stop",
		Variants:     []string{"a"},
		Distribution: map[string]float64{"a": 100},
	}); err != nil {
		t.Fatal(err)
	}
	tracker.Stop("to-stop")

	_, experimentID := tracker.SelectVariant(Selection{})
	if experimentID != "" {
		t.Error("stopped experiment must not participate in selection")
	}
}

func TestUpdateDistribution_Validates(t *testing.T) {
	tracker := testTracker()

	if err := tracker.Create(Config{
		ID:           "adjustable",
		Variants:     []string{"a", "b"},
		Distribution: map[string]float64{"a": 50, "b": 50},
	}); err != nil {
		t.Fatal(err)
	}

	if err := tracker.UpdateDistribution("adjustable", map[string]float64{"a": 90, "b": 10}); err != nil {
		t.Fatalf("valid redistribution rejected: %v", err)
	}
	if err := tracker.UpdateDistribution("adjustable", map[string]float64{"a": 90, "b": 20}); !backend.IsConfigurationError(err) {
		t.Errorf("expected configuration error for bad redistribution, got %v", err)
	}
	if err := tracker.UpdateDistribution("missing", map[string]float64{"a": 100}); !backend.IsNotFoundError(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestRecordOutcome_ConcurrentAppends(t *testing.T) {
	tracker := testTracker()

	if err := tracker.Create(Config{
		ID:           "concurrent",
		Variants:     []string{"a"},
		Distribution: map[string]float64{"a": 100},
	}); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				tracker.RecordOutcome(Outcome{
					ExperimentID: "concurrent",
					VariantID:    "a",
					ResponseTime: time.Millisecond,
				})
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	analysis, err := tracker.Analyze("concurrent")
	if err != nil {
		t.Fatal(err)
	}
	if analysis.Stats["a"].Samples != 1000 {
		t.Errorf("expected 1000 recorded outcomes, got %d", analysis.Stats["a"].Samples)
	}
}
