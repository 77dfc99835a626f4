// Package catalog maintains the registry of known backend variants and the
// best-fit search over their capability, pricing, and performance metadata.
package catalog

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aschepis/switchboard/backend"
	"github.com/samber/lo"
)

// Pricing describes per-token cost for a variant.
type Pricing struct {
	InputPer1K    float64 `json:"input_per_1k" yaml:"input_per_1k"`       // USD per 1K input tokens
	OutputPer1K   float64 `json:"output_per_1k" yaml:"output_per_1k"`     // USD per 1K output tokens
	BatchDiscount float64 `json:"batch_discount" yaml:"batch_discount"`   // Optional fraction in [0,1)
}

// Performance is the observed performance profile of a variant.
type Performance struct {
	AvgLatency      time.Duration `json:"avg_latency" yaml:"avg_latency"`
	P95Latency      time.Duration `json:"p95_latency" yaml:"p95_latency"`
	TokensPerSecond float64       `json:"tokens_per_second" yaml:"tokens_per_second"`
	Reliability     float64       `json:"reliability" yaml:"reliability"` // Score in [0,1]
}

// Descriptor is one catalog entry: a concrete, selectable backend variant
// with its capability, pricing, and performance metadata.
// Descriptors are immutable after registration except the Deprecated flag,
// which may be flipped to retire a variant without deleting its history.
type Descriptor struct {
	ID                string               `json:"id" yaml:"id"`
	Name              string               `json:"name" yaml:"name"`
	Family            string               `json:"family" yaml:"family"`
	Tier              string               `json:"tier" yaml:"tier"`
	Capabilities      backend.Capabilities `json:"capabilities" yaml:"capabilities"`
	Pricing           Pricing              `json:"pricing" yaml:"pricing"`
	Performance       Performance          `json:"performance" yaml:"performance"`
	Released          time.Time            `json:"released" yaml:"released"`
	Deprecated        bool                 `json:"deprecated" yaml:"deprecated"`
	RecommendedFor    []string             `json:"recommended_for,omitempty" yaml:"recommended_for,omitempty"`
	NotRecommendedFor []string             `json:"not_recommended_for,omitempty" yaml:"not_recommended_for,omitempty"`
}

// Requirements describes the hard constraints and optional task hint used by
// BestFor. Zero values mean "no constraint".
type Requirements struct {
	RequiresVision          bool
	RequiresFunctionCalling bool
	MaxLatency              time.Duration         // Ceiling on average latency
	MaxCostPer1K            float64               // Ceiling on output-token cost per 1K
	MinReasoning            backend.ReasoningTier // Floor on reasoning tier
	TaskHint                string                // Free-text task type, matched against recommended-for tags
}

// Catalog is the registry of known variants. It is initialized once at
// process start and read-mostly thereafter; registration remains permitted
// but in-flight dispatches are not guaranteed to observe it.
type Catalog struct {
	mu       sync.RWMutex
	variants map[string]Descriptor
	order    []string // Registration order, for deterministic iteration
}

// New creates an empty Catalog.
func New() *Catalog {
	return &Catalog{
		variants: make(map[string]Descriptor),
	}
}

// Register adds or replaces a descriptor by identifier.
// Registering the same id twice is an idempotent upsert (config reload):
// the later registration wins, keeping its position in registration order.
func (c *Catalog) Register(desc Descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.variants[desc.ID]; !exists {
		c.order = append(c.order, desc.ID)
	}
	c.variants[desc.ID] = desc
}

// Get returns the descriptor for the given id. The second return value
// reports whether the id is known; a miss is not an error.
func (c *Catalog) Get(id string) (Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	desc, ok := c.variants[id]
	return desc, ok
}

// All returns a snapshot of every registered descriptor in registration
// order. The returned slice does not reflect later registrations.
func (c *Catalog) All() []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotUnlocked(false)
}

// Active returns a snapshot of all non-deprecated descriptors in
// registration order.
func (c *Catalog) Active() []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotUnlocked(true)
}

// snapshotUnlocked copies descriptors out in registration order.
// Must be called with c.mu held.
func (c *Catalog) snapshotUnlocked(activeOnly bool) []Descriptor {
	result := make([]Descriptor, 0, len(c.order))
	for _, id := range c.order {
		desc := c.variants[id]
		if activeOnly && desc.Deprecated {
			continue
		}
		result = append(result, desc)
	}
	return result
}

// Deprecate flips the deprecated flag on a variant, retiring it from Active
// and BestFor without deleting its history. Unknown ids are ignored.
func (c *Catalog) Deprecate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if desc, ok := c.variants[id]; ok {
		desc.Deprecated = true
		c.variants[id] = desc
	}
}

// BestFor searches the active catalog for the best-fit variant.
// Hard constraints filter first; then, if a task hint is given, candidates
// whose recommended-for tags match the hint are stable-sorted to the front.
// An empty result is legitimate (contradictory requirements) and reported
// via ok=false, never as an error.
func (c *Catalog) BestFor(req Requirements) (Descriptor, bool) {
	candidates := lo.Filter(c.Active(), func(desc Descriptor, _ int) bool {
		return meetsRequirements(desc, req)
	})
	if len(candidates) == 0 {
		return Descriptor{}, false
	}

	if req.TaskHint != "" {
		sort.SliceStable(candidates, func(i, j int) bool {
			return matchesHint(candidates[i], req.TaskHint) && !matchesHint(candidates[j], req.TaskHint)
		})
	}

	return candidates[0], true
}

// meetsRequirements applies the hard constraints.
func meetsRequirements(desc Descriptor, req Requirements) bool {
	if req.RequiresVision && !desc.Capabilities.Vision {
		return false
	}
	if req.RequiresFunctionCalling && !desc.Capabilities.FunctionCalling {
		return false
	}
	if req.MaxLatency > 0 && desc.Performance.AvgLatency > req.MaxLatency {
		return false
	}
	if req.MaxCostPer1K > 0 && desc.Pricing.OutputPer1K > req.MaxCostPer1K {
		return false
	}
	if req.MinReasoning != "" && !desc.Capabilities.Reasoning.AtLeast(req.MinReasoning) {
		return false
	}
	return true
}

// matchesHint reports whether any recommended-for tag textually matches the
// task hint (case-insensitive, substring in either direction).
func matchesHint(desc Descriptor, hint string) bool {
	needle := strings.ToLower(strings.TrimSpace(hint))
	if needle == "" {
		return false
	}
	return lo.SomeBy(desc.RecommendedFor, func(tag string) bool {
		t := strings.ToLower(strings.TrimSpace(tag))
		return t != "" && (strings.Contains(t, needle) || strings.Contains(needle, t))
	})
}

// EstimateCost returns the estimated USD cost of a call with the given token
// counts, from the variant's pricing fields. Cost estimation is advisory, so
// an unknown id yields zero rather than an error.
func (c *Catalog) EstimateCost(id string, inputTokens, outputTokens int64) float64 {
	desc, ok := c.Get(id)
	if !ok {
		return 0
	}
	return float64(inputTokens)/1000*desc.Pricing.InputPer1K +
		float64(outputTokens)/1000*desc.Pricing.OutputPer1K
}
