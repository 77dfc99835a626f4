package catalog

import (
	"testing"
	"time"

	"github.com/aschepis/switchboard/backend"
)

func testCatalog() *Catalog {
	c := New()
	c.Register(Descriptor{
		ID:     "fast",
		Name:   "Fast Model",
		Family: "small",
		Capabilities: backend.Capabilities{
			Reasoning: backend.ReasoningBasic,
			Speed:     backend.SpeedFast,
		},
		Pricing:        Pricing{InputPer1K: 0.0003, OutputPer1K: 0.0005},
		Performance:    Performance{AvgLatency: 200 * time.Millisecond, Reliability: 0.99},
		RecommendedFor: []string{"classification", "summarization"},
	})
	c.Register(Descriptor{
		ID:     "smart",
		Name:   "Smart Model",
		Family: "large",
		Capabilities: backend.Capabilities{
			Reasoning:       backend.ReasoningSuperhuman,
			Speed:           backend.SpeedSlow,
			Vision:          true,
			FunctionCalling: true,
		},
		Pricing:        Pricing{InputPer1K: 0.003, OutputPer1K: 0.008},
		Performance:    Performance{AvgLatency: 1500 * time.Millisecond, Reliability: 0.97},
		RecommendedFor: []string{"reasoning", "code"},
	})
	return c
}

func TestRegister_LaterRegistrationWins(t *testing.T) {
	c := testCatalog()

	c.Register(Descriptor{ID: "fast", Name: "Fast Model v2"})
	desc, ok := c.Get("fast")
	if !ok {
		t.Fatal("expected 'fast' to be registered")
	}
	if desc.Name != "Fast Model v2" {
		t.Errorf("expected re-registration to win, got name %q", desc.Name)
	}
	if len(c.All()) != 2 {
		t.Errorf("re-registration should not grow the catalog, got %d entries", len(c.All()))
	}
}

func TestGet_UnknownID(t *testing.T) {
	c := testCatalog()
	if _, ok := c.Get("nope"); ok {
		t.Error("expected miss for unknown id")
	}
}

func TestActive_ExcludesDeprecated(t *testing.T) {
	c := testCatalog()
	c.Deprecate("fast")

	if len(c.All()) != 2 {
		t.Errorf("All should still include deprecated entries, got %d", len(c.All()))
	}
	active := c.Active()
	if len(active) != 1 || active[0].ID != "smart" {
		t.Errorf("Active should exclude deprecated entries, got %v", active)
	}
}

func TestAll_ReturnsSnapshot(t *testing.T) {
	c := testCatalog()
	snapshot := c.All()

	c.Register(Descriptor{ID: "third"})
	if len(snapshot) != 2 {
		t.Errorf("snapshot should not reflect later registrations, got %d entries", len(snapshot))
	}
}

func TestBestFor_LatencyCeiling(t *testing.T) {
	c := testCatalog()

	desc, ok := c.BestFor(Requirements{MaxLatency: 300 * time.Millisecond})
	if !ok {
		t.Fatal("expected a candidate under the latency ceiling")
	}
	if desc.ID != "fast" {
		t.Errorf("expected 'fast', got %q", desc.ID)
	}
}

func TestBestFor_ReasoningFloor(t *testing.T) {
	c := testCatalog()

	desc, ok := c.BestFor(Requirements{MinReasoning: backend.ReasoningSuperhuman})
	if !ok {
		t.Fatal("expected a superhuman-tier candidate")
	}
	if desc.ID != "smart" {
		t.Errorf("expected 'smart', got %q", desc.ID)
	}

	// An expert floor must never surface basic or advanced variants.
	desc, ok = c.BestFor(Requirements{MinReasoning: backend.ReasoningExpert})
	if !ok {
		t.Fatal("expected a candidate for the expert floor")
	}
	if !desc.Capabilities.Reasoning.AtLeast(backend.ReasoningExpert) {
		t.Errorf("reasoning floor violated: got tier %q", desc.Capabilities.Reasoning)
	}
}

func TestBestFor_ContradictoryRequirements(t *testing.T) {
	c := testCatalog()

	// Superhuman reasoning under a tight cost ceiling matches nothing.
	_, ok := c.BestFor(Requirements{
		MinReasoning: backend.ReasoningSuperhuman,
		MaxCostPer1K: 0.001,
	})
	if ok {
		t.Error("contradictory requirements should yield no candidate, not an error")
	}
}

func TestBestFor_TaskHintOrdering(t *testing.T) {
	c := testCatalog()

	// Without the hint, 'fast' wins by registration order; the hint should
	// stable-sort 'smart' (recommended for code) to the front.
	desc, ok := c.BestFor(Requirements{TaskHint: "code"})
	if !ok {
		t.Fatal("expected a candidate")
	}
	if desc.ID != "smart" {
		t.Errorf("expected hint match 'smart' first, got %q", desc.ID)
	}
}

func TestBestFor_RequiresVision(t *testing.T) {
	c := testCatalog()

	desc, ok := c.BestFor(Requirements{RequiresVision: true})
	if !ok {
		t.Fatal("expected a vision-capable candidate")
	}
	if desc.ID != "smart" {
		t.Errorf("expected 'smart', got %q", desc.ID)
	}
}

func TestEstimateCost(t *testing.T) {
	c := testCatalog()

	got := c.EstimateCost("smart", 2000, 500)
	want := 2.0*0.003 + 0.5*0.008
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected cost %f, got %f", want, got)
	}
}

func TestEstimateCost_UnknownIDReturnsZero(t *testing.T) {
	c := testCatalog()

	if got := c.EstimateCost("unknown", 100000, 100000); got != 0 {
		t.Errorf("unknown id should cost 0, got %f", got)
	}
}
