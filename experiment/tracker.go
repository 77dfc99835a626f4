package experiment

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/aschepis/switchboard/backend"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// DistributionTolerance is the allowed deviation from 100 for an
// experiment's distribution percentages.
const DistributionTolerance = 0.01

// DefaultMinSampleSize is applied when a config does not declare a minimum
// per-variant sample size.
const DefaultMinSampleSize = 30

// Selection carries the per-call context consulted by SelectVariant.
type Selection struct {
	// Preferred is the caller's explicit variant preference, used when no
	// active experiment applies.
	Preferred string
	// ExcludeExperiments lists experiment ids this call must not
	// participate in.
	ExcludeExperiments []string
}

// Tracker owns the experiment configs and their outcome collections.
// It splits live traffic across variants by weighted probability, records
// per-call outcomes, and computes comparative statistics on demand.
//
// Construct one Tracker per process and pass it by reference into the
// dispatcher; there is no package-level instance.
type Tracker struct {
	mu          sync.Mutex
	experiments map[string]*Config
	order       []string // Creation order, for deterministic consultation
	// outcomes is keyed by variant id; analysis filters by experiment id.
	// Appends are mutex-guarded; reads snapshot under the same lock.
	outcomes map[string][]Outcome

	rngMu sync.Mutex
	rng   *rand.Rand

	defaultVariant string
	logger         zerolog.Logger
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithRand sets the random source used for traffic splitting. Tests pass a
// seeded source to make selection reproducible.
func WithRand(rng *rand.Rand) TrackerOption {
	return func(t *Tracker) {
		t.rng = rng
	}
}

// NewTracker creates a Tracker. defaultVariant is the process-wide variant
// returned when neither an experiment nor a caller preference applies;
// selection never fails.
func NewTracker(defaultVariant string, logger zerolog.Logger, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		experiments:    make(map[string]*Config),
		outcomes:       make(map[string][]Outcome),
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // G404: traffic splitting, not cryptography
		defaultVariant: defaultVariant,
		logger:         logger.With().Str("component", "tracker").Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Create validates and stores an experiment as active.
// Malformed distributions are rejected here, never at selection time.
func (t *Tracker) Create(cfg Config) error {
	if cfg.ID == "" {
		return backend.NewConfigurationError("experiment id is required")
	}
	if len(cfg.Variants) == 0 {
		return backend.NewConfigurationError("experiment needs at least one variant")
	}
	if err := validateDistribution(cfg.Variants, cfg.Distribution); err != nil {
		return err
	}

	if cfg.Start.IsZero() {
		cfg.Start = time.Now()
	}
	if cfg.MinSampleSize <= 0 {
		cfg.MinSampleSize = DefaultMinSampleSize
	}
	if cfg.Criteria.Primary == "" {
		cfg.Criteria.Primary = MetricQuality
	}
	cfg.Active = true

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.experiments[cfg.ID]; !exists {
		t.order = append(t.order, cfg.ID)
	}
	t.experiments[cfg.ID] = &cfg

	t.logger.Info().
		Str("experiment_id", cfg.ID).
		Strs("variants", cfg.Variants).
		Msg("Experiment created")
	return nil
}

// validateDistribution checks that the distribution covers exactly the
// variant set and sums to 100 within DistributionTolerance.
func validateDistribution(variants []string, dist map[string]float64) error {
	if len(dist) != len(variants) {
		return backend.NewConfigurationError("distribution must cover exactly the variant set")
	}
	sum := 0.0
	for _, id := range variants {
		pct, ok := dist[id]
		if !ok {
			return backend.NewConfigurationError(fmt.Sprintf("distribution missing variant %q", id))
		}
		if pct < 0 {
			return backend.NewConfigurationError(fmt.Sprintf("distribution for %q is negative", id))
		}
		sum += pct
	}
	if math.Abs(sum-100) > DistributionTolerance {
		return backend.NewConfigurationError(fmt.Sprintf("distribution sums to %.4f, expected 100", sum))
	}
	return nil
}

// GetOrCreateComparison returns an existing active experiment whose variant
// set exactly matches the given ids (order-independent), or creates an
// equal-split comparison across them.
func (t *Tracker) GetOrCreateComparison(variantIDs []string) (*Config, error) {
	if len(variantIDs) == 0 {
		return nil, backend.NewConfigurationError("comparison needs at least one variant")
	}

	t.mu.Lock()
	for _, id := range t.order {
		cfg := t.experiments[id]
		t.maybeExpireUnlocked(cfg)
		if cfg.Active && sameVariantSet(cfg.Variants, variantIDs) {
			snapshot := *cfg
			t.mu.Unlock()
			return &snapshot, nil
		}
	}
	t.mu.Unlock()

	pct := 100.0 / float64(len(variantIDs))
	dist := make(map[string]float64, len(variantIDs))
	for _, id := range variantIDs {
		dist[id] = pct
	}

	cfg := Config{
		ID:           "comparison-" + uuid.NewString()[:8],
		Name:         fmt.Sprintf("Comparison of %d variants", len(variantIDs)),
		Variants:     append([]string(nil), variantIDs...),
		Distribution: dist,
	}
	if err := t.Create(cfg); err != nil {
		return nil, err
	}
	created, _ := t.Get(cfg.ID)
	return created, nil
}

// sameVariantSet reports whether two id lists contain the same set,
// ignoring order.
func sameVariantSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	left, right := lo.Uniq(a), lo.Uniq(b)
	if len(left) != len(right) {
		return false
	}
	return len(lo.Without(left, right...)) == 0
}

// Get returns a copy of the experiment config, or ok=false if unknown.
func (t *Tracker) Get(id string) (*Config, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cfg, ok := t.experiments[id]
	if !ok {
		return nil, false
	}
	t.maybeExpireUnlocked(cfg)
	snapshot := *cfg
	return &snapshot, true
}

// Experiments returns a snapshot of all experiment configs in creation order.
func (t *Tracker) Experiments() []Config {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make([]Config, 0, len(t.order))
	for _, id := range t.order {
		cfg := t.experiments[id]
		t.maybeExpireUnlocked(cfg)
		result = append(result, *cfg)
	}
	return result
}

// Stop manually concludes an experiment. Stopped experiments no longer
// participate in selection but remain analyzable.
func (t *Tracker) Stop(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cfg, ok := t.experiments[id]; ok && cfg.Active {
		cfg.Active = false
		t.logger.Info().Str("experiment_id", id).Msg("Experiment stopped")
	}
}

// UpdateDistribution replaces an experiment's traffic split. The new
// distribution is validated against the existing variant set; everything
// else about the config stays immutable.
func (t *Tracker) UpdateDistribution(id string, dist map[string]float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cfg, ok := t.experiments[id]
	if !ok {
		return backend.NewNotFoundError(fmt.Sprintf("experiment %q not found", id))
	}
	if err := validateDistribution(cfg.Variants, dist); err != nil {
		return err
	}
	cfg.Distribution = dist
	return nil
}

// maybeExpireUnlocked lazily concludes an experiment whose end time has
// passed. Must be called with t.mu held. No background timer exists; expiry
// happens the next time the experiment is consulted.
func (t *Tracker) maybeExpireUnlocked(cfg *Config) {
	if cfg.Active && cfg.End != nil && time.Now().After(*cfg.End) {
		cfg.Active = false
		t.logger.Info().Str("experiment_id", cfg.ID).Msg("Experiment expired")
	}
}

// ExpireEnded sweeps all experiments, concluding any whose end time has
// passed, and returns the ids it flipped. Lazy expiry on consultation
// remains the correctness mechanism; this is operational convenience for a
// periodic job.
func (t *Tracker) ExpireEnded() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []string
	for _, id := range t.order {
		cfg := t.experiments[id]
		wasActive := cfg.Active
		t.maybeExpireUnlocked(cfg)
		if wasActive && !cfg.Active {
			expired = append(expired, id)
		}
	}
	return expired
}

// SelectVariant picks a variant for one call. If an active experiment
// applies, a single uniform draw in [0,100) is walked through the
// distribution in deterministic order; otherwise the caller's preferred
// variant is used, and failing that the process-wide default.
// Selection never fails.
//
// The returned experiment id is empty when no experiment drove the choice.
func (t *Tracker) SelectVariant(sel Selection) (variantID, experimentID string) {
	t.mu.Lock()
	now := time.Now()
	var chosen *Config
	for _, id := range t.order {
		cfg := t.experiments[id]
		t.maybeExpireUnlocked(cfg)
		if !cfg.Active || now.Before(cfg.Start) {
			continue
		}
		if lo.Contains(sel.ExcludeExperiments, cfg.ID) {
			continue
		}
		chosen = cfg
		break
	}
	var dist map[string]float64
	var chosenID string
	if chosen != nil {
		chosenID = chosen.ID
		dist = make(map[string]float64, len(chosen.Distribution))
		for k, v := range chosen.Distribution {
			dist[k] = v
		}
	}
	t.mu.Unlock()

	if chosen == nil {
		if sel.Preferred != "" {
			return sel.Preferred, ""
		}
		return t.defaultVariant, ""
	}

	return t.draw(dist), chosenID
}

// draw performs one weighted draw over the distribution. Iteration is in
// sorted key order so the walk is deterministic for a given random value;
// the long-run frequency converges to the configured percentages.
func (t *Tracker) draw(dist map[string]float64) string {
	keys := lo.Keys(dist)
	sort.Strings(keys)

	t.rngMu.Lock()
	value := t.rng.Float64() * 100
	t.rngMu.Unlock()

	cumulative := 0.0
	for _, id := range keys {
		cumulative += dist[id]
		if value <= cumulative {
			return id
		}
	}
	// Float drift: the draw landed past the accumulated total.
	return keys[len(keys)-1]
}

// RecordOutcome appends one outcome to its variant's collection. The append
// is mutex-guarded and O(1); it never blocks the request path behind reads.
func (t *Tracker) RecordOutcome(outcome Outcome) {
	if outcome.Timestamp.IsZero() {
		outcome.Timestamp = time.Now()
	}

	t.mu.Lock()
	t.outcomes[outcome.VariantID] = append(t.outcomes[outcome.VariantID], outcome)
	t.mu.Unlock()
}

// outcomesFor snapshots all outcomes belonging to the given experiment,
// ordered by timestamp.
func (t *Tracker) outcomesFor(experimentID string, variants []string) []Outcome {
	t.mu.Lock()
	var result []Outcome
	for _, variantID := range variants {
		for _, o := range t.outcomes[variantID] {
			if o.ExperimentID == experimentID {
				result = append(result, o)
			}
		}
	}
	t.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result
}

// Export produces the serializable snapshot of one experiment: its config,
// the full outcome list, and the computed analysis. External stores persist
// this across process restarts.
func (t *Tracker) Export(experimentID string) (*Snapshot, error) {
	cfg, ok := t.Get(experimentID)
	if !ok {
		return nil, backend.NewNotFoundError(fmt.Sprintf("experiment %q not found", experimentID))
	}

	analysis, err := t.Analyze(experimentID)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Config:   *cfg,
		Outcomes: t.outcomesFor(experimentID, cfg.Variants),
		Analysis: analysis,
	}, nil
}
