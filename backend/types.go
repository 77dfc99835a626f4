package backend

import (
	"time"
)

// Request represents a single prompt to be executed by a backend.
// It is an immutable value constructed per call and carries no identity.
type Request struct {
	Prompt   string
	System   string            // Optional system/instruction text
	Context  map[string]string // Optional free-form context values
	Metadata map[string]string // Optional caller metadata, passed through untouched
}

// Usage represents token usage reported by a backend for one invocation.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// Response represents the normalized result of one backend invocation.
// Exactly one of output text and error string is the success signal: a
// non-empty Error implies Output is empty. Duration is always populated,
// even on failure.
type Response struct {
	Output    string
	Variant   string // Identifier of the variant that actually executed
	Timestamp time.Time
	Duration  time.Duration
	Usage     *Usage
	Error     string
	Metadata  map[string]string
}

// Succeeded reports whether the invocation produced usable output.
func (r *Response) Succeeded() bool {
	return r != nil && r.Error == ""
}

// SetMeta sets a metadata key on the response, allocating the map if needed.
func (r *Response) SetMeta(key, value string) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]string)
	}
	r.Metadata[key] = value
}

// ReasoningTier classifies the reasoning capability of a backend variant.
type ReasoningTier string

const (
	ReasoningBasic      ReasoningTier = "basic"
	ReasoningAdvanced   ReasoningTier = "advanced"
	ReasoningExpert     ReasoningTier = "expert"
	ReasoningSuperhuman ReasoningTier = "superhuman"
)

// reasoningRank orders tiers as basic < advanced < expert < superhuman.
// Unknown tiers rank below basic so they never satisfy a floor.
func reasoningRank(t ReasoningTier) int {
	switch t {
	case ReasoningBasic:
		return 1
	case ReasoningAdvanced:
		return 2
	case ReasoningExpert:
		return 3
	case ReasoningSuperhuman:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether the tier meets or exceeds the given minimum.
func (t ReasoningTier) AtLeast(min ReasoningTier) bool {
	return reasoningRank(t) >= reasoningRank(min)
}

// SpeedTier classifies the relative speed of a backend variant.
type SpeedTier string

const (
	SpeedFast   SpeedTier = "fast"
	SpeedMedium SpeedTier = "medium"
	SpeedSlow   SpeedTier = "slow"
)

// Capabilities is a static summary of what a backend variant can do.
// It is derived from configuration and involves no I/O to compute.
type Capabilities struct {
	MaxTokens       int64         `json:"max_tokens" yaml:"max_tokens"`
	ContextWindow   int64         `json:"context_window" yaml:"context_window"`
	Reasoning       ReasoningTier `json:"reasoning" yaml:"reasoning"`
	Speed           SpeedTier     `json:"speed" yaml:"speed"`
	Vision          bool          `json:"vision" yaml:"vision"`
	FunctionCalling bool          `json:"function_calling" yaml:"function_calling"`
	Streaming       bool          `json:"streaming" yaml:"streaming"`
	Specializations []string      `json:"specializations,omitempty" yaml:"specializations,omitempty"`
}
