// Package dispatch routes single prompts to backend variants, enforcing
// per-call timeouts, recording experiment outcomes, and falling back once on
// transport failure.
package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/aschepis/switchboard/backend"
	"github.com/aschepis/switchboard/catalog"
	"github.com/aschepis/switchboard/experiment"
)

// DefaultTimeout bounds a single backend call when neither the dispatcher nor
// the caller sets one. Every call runs under some timeout.
const DefaultTimeout = 60 * time.Second

// Response metadata keys written by the dispatcher.
const (
	MetaRequestID     = "request_id"
	MetaExperimentID  = "experiment_id"
	MetaEstimatedCost = "estimated_cost"
	MetaFallback      = "fallback"
	MetaPrimaryError  = "primary_error"
	MetaFallbackError = "fallback_error"
)

// Options carries the per-call dispatch knobs. The zero value asks for
// default routing: experiment-driven selection with the dispatcher's default
// timeout and no fallback.
type Options struct {
	// Variant is the caller's preferred variant id. An active experiment
	// still overrides it unless the experiment is excluded.
	Variant string
	// Fallback, when set, is tried once after a transport or timeout failure
	// of the selected variant. Configuration and catalog-miss failures do not
	// trigger it.
	Fallback string
	// Timeout bounds this call. Zero means the dispatcher default.
	Timeout time.Duration
	// ExcludeExperiments lists experiment ids this call must not join.
	ExcludeExperiments []string
	// ProbeFirst checks IsAvailable before executing and fails fast with a
	// transport error when the probe says no.
	ProbeFirst bool
	// RequestID correlates the response and recorded outcome with the
	// caller's own tracking. Generated when empty.
	RequestID string
}

// Dispatcher is the execution front door: it resolves a variant through the
// experiment tracker and the catalog, runs the call on the matching backend,
// and records the outcome.
//
// Backends are registered by variant id at startup. A variant present in the
// catalog but without a registered backend is a wiring mistake and fails as a
// configuration error.
type Dispatcher struct {
	catalog  *catalog.Catalog
	tracker  *experiment.Tracker
	backends map[string]backend.Backend
	timeout  time.Duration
	logger   zerolog.Logger
}

// New creates a Dispatcher. defaultTimeout of zero means DefaultTimeout.
func New(cat *catalog.Catalog, tracker *experiment.Tracker, defaultTimeout time.Duration, logger zerolog.Logger) *Dispatcher {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Dispatcher{
		catalog:  cat,
		tracker:  tracker,
		backends: make(map[string]backend.Backend),
		timeout:  defaultTimeout,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// RegisterBackend binds a backend implementation to a variant id.
func (d *Dispatcher) RegisterBackend(variantID string, b backend.Backend) {
	d.backends[variantID] = b
}

// Dispatch executes one request. The variant is chosen by the experiment
// tracker (falling back to the caller's preference and then the process
// default), the call runs under a timeout, and the normalized response is
// returned. Dispatch never returns nil: failures come back as responses with
// the error field set and output empty.
func (d *Dispatcher) Dispatch(ctx context.Context, req *backend.Request, opts Options) *backend.Response {
	requestID := opts.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	variantID, experimentID := d.tracker.SelectVariant(experiment.Selection{
		Preferred:          opts.Variant,
		ExcludeExperiments: opts.ExcludeExperiments,
	})

	resp := d.attempt(ctx, req, variantID, requestID, opts)
	d.record(experimentID, variantID, requestID, resp)
	if resp.Succeeded() {
		return resp
	}

	if opts.Fallback == "" || opts.Fallback == variantID || !transportFailure(resp) {
		return resp
	}

	d.logger.Warn().
		Str("variant", variantID).
		Str("fallback", opts.Fallback).
		Str("error", resp.Error).
		Msg("Primary variant failed, trying fallback")

	fallbackResp := d.attempt(ctx, req, opts.Fallback, requestID, opts)
	fallbackResp.SetMeta(MetaFallback, "true")
	fallbackResp.SetMeta(MetaPrimaryError, resp.Error)
	// Fallback calls are recorded against the same experiment only when the
	// fallback variant is itself a participant; outcomes from off-experiment
	// variants would skew the comparison.
	d.record(experimentID, opts.Fallback, requestID, fallbackResp)
	if fallbackResp.Succeeded() {
		return fallbackResp
	}

	// Both failed. The primary failure is the one the caller asked about.
	resp.SetMeta(MetaFallbackError, fallbackResp.Error)
	return resp
}

// attempt resolves and executes a single variant. Catalog misses and missing
// backend registrations fail without any network call.
func (d *Dispatcher) attempt(ctx context.Context, req *backend.Request, variantID, requestID string, opts Options) *backend.Response {
	start := time.Now()

	desc, ok := d.catalog.Get(variantID)
	if !ok {
		resp := backend.NewErrorResponse(variantID, start,
			backend.NewNotFoundError(fmt.Sprintf("variant %q not in catalog", variantID)))
		resp.SetMeta(MetaRequestID, requestID)
		return resp
	}

	b, ok := d.backends[variantID]
	if !ok {
		resp := backend.NewErrorResponse(variantID, start,
			backend.NewConfigurationError(fmt.Sprintf("no backend registered for variant %q", variantID)))
		resp.SetMeta(MetaRequestID, requestID)
		return resp
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = d.timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if opts.ProbeFirst && !b.IsAvailable(callCtx) {
		resp := backend.NewErrorResponse(variantID, start,
			backend.NewTransportError(fmt.Sprintf("variant %q unavailable", variantID), nil))
		resp.SetMeta(MetaRequestID, requestID)
		return resp
	}

	resp := d.execute(callCtx, b, req, variantID, start)
	resp.SetMeta(MetaRequestID, requestID)

	if resp.Succeeded() && resp.Usage != nil {
		cost := d.catalog.EstimateCost(desc.ID, resp.Usage.InputTokens, resp.Usage.OutputTokens)
		resp.SetMeta(MetaEstimatedCost, strconv.FormatFloat(cost, 'f', -1, 64))
	}

	d.logger.Debug().
		Str("variant", variantID).
		Str("request_id", requestID).
		Dur("duration", resp.Duration).
		Bool("success", resp.Succeeded()).
		Msg("Dispatch attempt finished")
	return resp
}

// execute runs the backend call in its own goroutine so a misbehaving
// adapter cannot outlive the call context. Panics surface as transport
// failures rather than taking down the process.
func (d *Dispatcher) execute(ctx context.Context, b backend.Backend, req *backend.Request, variantID string, start time.Time) *backend.Response {
	done := make(chan *backend.Response, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error().
					Str("variant", variantID).
					Interface("panic", r).
					Msg("Backend panicked during execute")
				done <- backend.NewErrorResponse(variantID, start,
					backend.NewTransportError(fmt.Sprintf("backend panicked: %v", r), nil))
			}
		}()
		done <- b.Execute(ctx, req)
	}()

	select {
	case resp := <-done:
		if resp == nil {
			return backend.NewErrorResponse(variantID, start,
				backend.NewTransportError("backend returned nil response", nil))
		}
		return resp
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return backend.NewErrorResponse(variantID, start,
				backend.NewTimeoutError(fmt.Sprintf("variant %q timed out", variantID), ctx.Err()))
		}
		return backend.NewErrorResponse(variantID, start,
			backend.NewTransportError("dispatch cancelled", ctx.Err()))
	}
}

// record appends an experiment outcome when an experiment drove or could
// observe this call. Calls outside any experiment leave no outcome, as do
// variants that are not participants of the experiment.
func (d *Dispatcher) record(experimentID, variantID, requestID string, resp *backend.Response) {
	if experimentID == "" {
		return
	}
	cfg, ok := d.tracker.Get(experimentID)
	if !ok || !lo.Contains(cfg.Variants, variantID) {
		return
	}

	outcome := experiment.Outcome{
		ExperimentID: experimentID,
		VariantID:    variantID,
		RequestID:    requestID,
		Timestamp:    resp.Timestamp,
		ResponseTime: resp.Duration,
		Errored:      !resp.Succeeded(),
	}
	if resp.Usage != nil {
		outcome.Usage = *resp.Usage
		outcome.Cost = d.catalog.EstimateCost(variantID, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}
	d.tracker.RecordOutcome(outcome)
	resp.SetMeta(MetaExperimentID, experimentID)
}

// transportFailure reports whether the failed response came from a transport
// or timeout error, the only categories eligible for fallback.
func transportFailure(resp *backend.Response) bool {
	t := resp.Metadata[backend.MetaErrorType]
	return t == string(backend.ErrorTypeTransport) || t == string(backend.ErrorTypeTimeout)
}
