package dispatch

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aschepis/switchboard/backend"
	"github.com/aschepis/switchboard/catalog"
	"github.com/aschepis/switchboard/experiment"
)

// stubBackend scripts Execute behavior for dispatcher tests.
type stubBackend struct {
	calls     atomic.Int64
	available bool
	execute   func(ctx context.Context, req *backend.Request) *backend.Response
}

func (s *stubBackend) Execute(ctx context.Context, req *backend.Request) *backend.Response {
	s.calls.Add(1)
	return s.execute(ctx, req)
}

func (s *stubBackend) IsAvailable(ctx context.Context) bool { return s.available }

func (s *stubBackend) Capabilities() backend.Capabilities { return backend.Capabilities{} }

func okBackend(variant string) *stubBackend {
	return &stubBackend{
		available: true,
		execute: func(ctx context.Context, req *backend.Request) *backend.Response {
			start := time.Now()
			return &backend.Response{
				Output:    "ok from " + variant,
				Variant:   variant,
				Timestamp: start,
				Duration:  time.Millisecond,
				Usage:     &backend.Usage{InputTokens: 100, OutputTokens: 50, TotalTokens: 150},
			}
		},
	}
}

func failingBackend(variant string) *stubBackend {
	return &stubBackend{
		available: true,
		execute: func(ctx context.Context, req *backend.Request) *backend.Response {
			return backend.NewErrorResponse(variant, time.Now(),
				backend.NewTransportError("connection refused", nil))
		},
	}
}

func testDispatcher(variants ...string) (*Dispatcher, *experiment.Tracker) {
	cat := catalog.New()
	for _, id := range variants {
		cat.Register(catalog.Descriptor{
			ID:   id,
			Name: id,
			Pricing: catalog.Pricing{
				InputPer1K:  0.001,
				OutputPer1K: 0.002,
			},
		})
	}
	tracker := experiment.NewTracker("", zerolog.Nop())
	return New(cat, tracker, 5*time.Second, zerolog.Nop()), tracker
}

func TestDispatch_Success(t *testing.T) {
	d, _ := testDispatcher("primary")
	d.RegisterBackend("primary", okBackend("primary"))

	resp := d.Dispatch(context.Background(), &backend.Request{Prompt: "hi"}, Options{Variant: "primary"})
	if !resp.Succeeded() {
		t.Fatalf("expected success, got error %q", resp.Error)
	}
	if resp.Output != "ok from primary" {
		t.Errorf("unexpected output %q", resp.Output)
	}
	if resp.Metadata[MetaRequestID] == "" {
		t.Error("expected a generated request id in metadata")
	}
	// 100 input at 0.001/1K plus 50 output at 0.002/1K.
	if got := resp.Metadata[MetaEstimatedCost]; got != "0.0002" {
		t.Errorf("expected estimated cost 0.0002, got %q", got)
	}
}

func TestDispatch_UnknownVariantSkipsNetwork(t *testing.T) {
	d, _ := testDispatcher("primary")
	stub := okBackend("primary")
	d.RegisterBackend("primary", stub)

	resp := d.Dispatch(context.Background(), &backend.Request{Prompt: "hi"}, Options{Variant: "ghost"})
	if resp.Succeeded() {
		t.Fatal("expected failure for unknown variant")
	}
	if resp.Metadata[backend.MetaErrorType] != string(backend.ErrorTypeNotFound) {
		t.Errorf("expected not_found error, got %q", resp.Metadata[backend.MetaErrorType])
	}
	if stub.calls.Load() != 0 {
		t.Error("catalog miss must not reach any backend")
	}
}

func TestDispatch_MissingBackendRegistration(t *testing.T) {
	d, _ := testDispatcher("orphan")

	resp := d.Dispatch(context.Background(), &backend.Request{Prompt: "hi"}, Options{Variant: "orphan"})
	if resp.Metadata[backend.MetaErrorType] != string(backend.ErrorTypeConfiguration) {
		t.Errorf("expected configuration error, got %q", resp.Metadata[backend.MetaErrorType])
	}
}

func TestDispatch_Timeout(t *testing.T) {
	d, _ := testDispatcher("slow")
	d.RegisterBackend("slow", &stubBackend{
		available: true,
		execute: func(ctx context.Context, req *backend.Request) *backend.Response {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond) // Adapter drags past cancellation.
			return &backend.Response{Output: "too late", Variant: "slow"}
		},
	})

	start := time.Now()
	resp := d.Dispatch(context.Background(), &backend.Request{Prompt: "hi"}, Options{
		Variant: "slow",
		Timeout: 50 * time.Millisecond,
	})
	elapsed := time.Since(start)

	if resp.Succeeded() {
		t.Fatal("expected timeout failure")
	}
	if resp.Metadata[backend.MetaErrorType] != string(backend.ErrorTypeTimeout) {
		t.Errorf("expected timeout error, got %q", resp.Metadata[backend.MetaErrorType])
	}
	if elapsed > time.Second {
		t.Errorf("dispatch must return promptly after the deadline, took %s", elapsed)
	}
	if resp.Duration <= 0 {
		t.Error("duration must be populated on failure")
	}
}

func TestDispatch_Cancellation(t *testing.T) {
	d, _ := testDispatcher("slow")
	d.RegisterBackend("slow", &stubBackend{
		available: true,
		execute: func(ctx context.Context, req *backend.Request) *backend.Response {
			<-ctx.Done()
			return backend.NewErrorResponse("slow", time.Now(),
				backend.NewTransportError("cancelled", ctx.Err()))
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	resp := d.Dispatch(ctx, &backend.Request{Prompt: "hi"}, Options{Variant: "slow"})
	if resp.Succeeded() {
		t.Fatal("expected cancellation failure")
	}
}

func TestDispatch_PanicRecovered(t *testing.T) {
	d, _ := testDispatcher("broken")
	d.RegisterBackend("broken", &stubBackend{
		available: true,
		execute: func(ctx context.Context, req *backend.Request) *backend.Response {
			panic("adapter bug")
		},
	})

	resp := d.Dispatch(context.Background(), &backend.Request{Prompt: "hi"}, Options{Variant: "broken"})
	if resp.Succeeded() {
		t.Fatal("expected panic to surface as a failed response")
	}
	if !strings.Contains(resp.Error, "panicked") {
		t.Errorf("expected panic in error message, got %q", resp.Error)
	}
	if resp.Metadata[backend.MetaErrorType] != string(backend.ErrorTypeTransport) {
		t.Errorf("expected transport error, got %q", resp.Metadata[backend.MetaErrorType])
	}
}

func TestDispatch_FallbackOnTransportFailure(t *testing.T) {
	d, _ := testDispatcher("primary", "backup")
	d.RegisterBackend("primary", failingBackend("primary"))
	d.RegisterBackend("backup", okBackend("backup"))

	resp := d.Dispatch(context.Background(), &backend.Request{Prompt: "hi"}, Options{
		Variant:  "primary",
		Fallback: "backup",
	})
	if !resp.Succeeded() {
		t.Fatalf("expected fallback success, got %q", resp.Error)
	}
	if resp.Metadata[MetaFallback] != "true" {
		t.Error("fallback responses must be tagged")
	}
	if !strings.Contains(resp.Metadata[MetaPrimaryError], "connection refused") {
		t.Errorf("expected primary error in metadata, got %q", resp.Metadata[MetaPrimaryError])
	}
}

func TestDispatch_NoFallbackOnCatalogMiss(t *testing.T) {
	d, _ := testDispatcher("backup")
	backup := okBackend("backup")
	d.RegisterBackend("backup", backup)

	resp := d.Dispatch(context.Background(), &backend.Request{Prompt: "hi"}, Options{
		Variant:  "ghost",
		Fallback: "backup",
	})
	if resp.Succeeded() {
		t.Fatal("catalog misses must not trigger the fallback")
	}
	if backup.calls.Load() != 0 {
		t.Error("fallback backend must not be called")
	}
}

func TestDispatch_BothFailReturnsPrimaryError(t *testing.T) {
	d, _ := testDispatcher("primary", "backup")
	d.RegisterBackend("primary", failingBackend("primary"))
	d.RegisterBackend("backup", failingBackend("backup"))

	resp := d.Dispatch(context.Background(), &backend.Request{Prompt: "hi"}, Options{
		Variant:  "primary",
		Fallback: "backup",
	})
	if resp.Succeeded() {
		t.Fatal("expected double failure")
	}
	if resp.Variant != "primary" {
		t.Errorf("primary failure is the one reported, got variant %q", resp.Variant)
	}
	if resp.Metadata[MetaFallbackError] == "" {
		t.Error("expected fallback error recorded in metadata")
	}
}

func TestDispatch_ProbeFirst(t *testing.T) {
	d, _ := testDispatcher("down")
	stub := okBackend("down")
	stub.available = false
	d.RegisterBackend("down", stub)

	resp := d.Dispatch(context.Background(), &backend.Request{Prompt: "hi"}, Options{
		Variant:    "down",
		ProbeFirst: true,
	})
	if resp.Succeeded() {
		t.Fatal("expected unavailable variant to fail fast")
	}
	if stub.calls.Load() != 0 {
		t.Error("failed probe must prevent the execute call")
	}
}

func TestDispatch_RecordsExperimentOutcomes(t *testing.T) {
	d, tracker := testDispatcher("a", "b")
	d.RegisterBackend("a", okBackend("a"))
	d.RegisterBackend("b", okBackend("b"))

	if err := tracker.Create(experiment.Config{
		ID:           "live",
		Variants:     []string{"a", "b"},
		Distribution: map[string]float64{"a": 50, "b": 50},
	}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 20; i++ {
		resp := d.Dispatch(context.Background(), &backend.Request{Prompt: "hi"}, Options{})
		if !resp.Succeeded() {
			t.Fatalf("unexpected failure: %q", resp.Error)
		}
		if resp.Metadata[MetaExperimentID] != "live" {
			t.Fatalf("expected experiment tag on response, got %q", resp.Metadata[MetaExperimentID])
		}
	}

	analysis, err := tracker.Analyze("live")
	if err != nil {
		t.Fatal(err)
	}
	total := 0
	for _, s := range analysis.Stats {
		total += s.Samples
	}
	if total != 20 {
		t.Errorf("expected 20 recorded outcomes, got %d", total)
	}
}

func TestMultiShot_IndependentResults(t *testing.T) {
	d, tracker := testDispatcher("good", "bad")
	d.RegisterBackend("good", okBackend("good"))
	d.RegisterBackend("bad", failingBackend("bad"))

	results, err := d.MultiShot(context.Background(), &backend.Request{Prompt: "hi"},
		[]string{"good", "bad"}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected a response per variant, got %d", len(results))
	}
	if !results["good"].Succeeded() {
		t.Errorf("good variant should succeed: %q", results["good"].Error)
	}
	if results["bad"].Succeeded() {
		t.Error("bad variant should fail independently")
	}

	// A comparison experiment covering the set records both outcomes.
	experiments := tracker.Experiments()
	if len(experiments) != 1 {
		t.Fatalf("expected one comparison experiment, got %d", len(experiments))
	}
	analysis, err := tracker.Analyze(experiments[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(analysis.Stats) != 2 {
		t.Errorf("expected outcomes for both variants, got %v", analysis.Stats)
	}
}

func TestMultiShot_ReusesComparison(t *testing.T) {
	d, tracker := testDispatcher("a", "b")
	d.RegisterBackend("a", okBackend("a"))
	d.RegisterBackend("b", okBackend("b"))

	for i := 0; i < 3; i++ {
		if _, err := d.MultiShot(context.Background(), &backend.Request{Prompt: "hi"},
			[]string{"a", "b"}, Options{}); err != nil {
			t.Fatal(err)
		}
	}

	if got := len(tracker.Experiments()); got != 1 {
		t.Errorf("repeated comparisons over the same set must share one experiment, got %d", got)
	}
}

func TestDispatchWithRetry_EventualSuccess(t *testing.T) {
	d, _ := testDispatcher("flaky")

	var attempts atomic.Int64
	d.RegisterBackend("flaky", &stubBackend{
		available: true,
		execute: func(ctx context.Context, req *backend.Request) *backend.Response {
			if attempts.Add(1) < 3 {
				return backend.NewErrorResponse("flaky", time.Now(),
					backend.NewTransportError("transient", nil))
			}
			return &backend.Response{Output: "recovered", Variant: "flaky", Timestamp: time.Now(), Duration: time.Millisecond}
		},
	})

	resp := d.DispatchWithRetry(context.Background(), &backend.Request{Prompt: "hi"},
		Options{Variant: "flaky"},
		RetryOptions{MaxRetries: 5, InitialDelay: time.Millisecond, MaxInterval: 5 * time.Millisecond})
	if !resp.Succeeded() {
		t.Fatalf("expected eventual success, got %q", resp.Error)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestDispatchWithRetry_PermanentFailureStops(t *testing.T) {
	d, _ := testDispatcher()

	resp := d.DispatchWithRetry(context.Background(), &backend.Request{Prompt: "hi"},
		Options{Variant: "ghost"},
		RetryOptions{MaxRetries: 5, InitialDelay: time.Millisecond})
	if resp.Succeeded() {
		t.Fatal("expected failure for unknown variant")
	}
	if resp.Metadata[backend.MetaErrorType] != string(backend.ErrorTypeNotFound) {
		t.Errorf("expected not_found error, got %q", resp.Metadata[backend.MetaErrorType])
	}
}
