package experiment

import (
	"time"

	"github.com/aschepis/switchboard/backend"
)

// Metric identifies an evaluation metric for an experiment.
type Metric string

const (
	MetricQuality        Metric = "quality"
	MetricSpeed          Metric = "speed"
	MetricCost           Metric = "cost"
	MetricUserPreference Metric = "user_preference"
)

// Criteria describes how an experiment's outcomes are judged.
type Criteria struct {
	// Primary determines the winner: quality and user_preference are
	// higher-wins, speed and cost are lower-wins.
	Primary Metric `json:"primary" yaml:"primary"`
	// Secondary metrics are reported but do not pick the winner.
	Secondary []Metric `json:"secondary,omitempty" yaml:"secondary,omitempty"`
	// SuccessThreshold, when set, is the value the winner must clear on the
	// primary metric for a winner to be declared at all.
	SuccessThreshold *float64 `json:"success_threshold,omitempty" yaml:"success_threshold,omitempty"`
}

// Config defines one experiment: a named, time-bounded traffic split across
// a fixed set of variants. After creation only the active flag and the
// distribution are ever mutated.
type Config struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Variants are the participating variant identifiers.
	Variants []string `json:"variants" yaml:"variants"`
	// Distribution maps each variant id to a traffic percentage. The values
	// must sum to 100 within DistributionTolerance.
	Distribution map[string]float64 `json:"distribution" yaml:"distribution"`
	Start        time.Time          `json:"start" yaml:"start"`
	End          *time.Time         `json:"end,omitempty" yaml:"end,omitempty"`
	// MinSampleSize is the per-variant sample count below which conclusions
	// are not trusted; it feeds the confidence heuristic.
	MinSampleSize int      `json:"min_sample_size" yaml:"min_sample_size"`
	Active        bool     `json:"active" yaml:"active"`
	Criteria      Criteria `json:"criteria" yaml:"criteria"`
}

// Outcome is one measured result of a single backend call, used as
// experiment evidence. Outcomes are append-only and never mutated.
//
// The owning experiment is identified by an explicit ExperimentID field
// rather than by request-id prefix matching; the correlation is structural,
// not textual.
type Outcome struct {
	ExperimentID string        `json:"experiment_id"`
	VariantID    string        `json:"variant_id"`
	RequestID    string        `json:"request_id"`
	Timestamp    time.Time     `json:"timestamp"`
	ResponseTime time.Duration `json:"response_time"`
	Usage        backend.Usage `json:"usage"`
	Cost         float64       `json:"cost"`
	// Quality is an optional score in [0,100].
	Quality *float64 `json:"quality,omitempty"`
	// Rating is an optional user rating in [1,5].
	Rating  *int `json:"rating,omitempty"`
	Errored bool `json:"errored"`
}

// VariantStats is the derived per-variant view of an experiment's outcomes.
// It is recomputed on demand and never stored independently.
type VariantStats struct {
	VariantID       string        `json:"variant_id"`
	Samples         int           `json:"samples"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	P95ResponseTime time.Duration `json:"p95_response_time"`
	AvgCost         float64       `json:"avg_cost"`
	AvgQuality      float64       `json:"avg_quality"`
	SuccessRate     float64       `json:"success_rate"`
	// Ratings is the number of outcomes that carried a user rating.
	Ratings int `json:"ratings"`
	// PreferencePct is the share of user ratings that are 4 or 5, in [0,100].
	PreferencePct float64 `json:"preference_pct"`
}

// Analysis is the computed comparison for one experiment.
type Analysis struct {
	ExperimentID string    `json:"experiment_id"`
	GeneratedAt  time.Time `json:"generated_at"`
	// Stats holds per-variant statistics. Variants with zero recorded
	// outcomes are omitted rather than reported as zeroes.
	Stats map[string]VariantStats `json:"model_stats"`
	// Winner is the best variant by the primary metric, or empty when no
	// variant clears the configured success threshold.
	Winner string `json:"winner,omitempty"`
	// Confidence is a sample-size heuristic in [0,95], not a p-value.
	Confidence      float64  `json:"confidence"`
	Recommendations []string `json:"recommendations"`
}

// Snapshot is the serializable export of one experiment: its config, the
// full outcome list, and the computed analysis. Persistence across process
// restarts is an external responsibility; this is the handoff format.
type Snapshot struct {
	Config   Config    `json:"config"`
	Outcomes []Outcome `json:"outcomes"`
	Analysis *Analysis `json:"analysis,omitempty"`
}
