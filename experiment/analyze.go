package experiment

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aschepis/switchboard/backend"
	"github.com/samber/lo"
)

// confidenceCap is the ceiling on the sample-size confidence heuristic.
// The figure is deliberately never presented as statistical significance.
const confidenceCap = 95.0

// StatsFromOutcomes computes per-variant statistics from a flat outcome
// list. Variants with zero outcomes simply do not appear in the result.
// This is the same computation Analyze performs, exposed so exported
// snapshots can be re-derived by external consumers.
func StatsFromOutcomes(outcomes []Outcome) map[string]VariantStats {
	grouped := lo.GroupBy(outcomes, func(o Outcome) string { return o.VariantID })

	stats := make(map[string]VariantStats, len(grouped))
	for variantID, outs := range grouped {
		stats[variantID] = computeVariantStats(variantID, outs)
	}
	return stats
}

// computeVariantStats aggregates one variant's outcomes.
func computeVariantStats(variantID string, outs []Outcome) VariantStats {
	n := len(outs)
	s := VariantStats{VariantID: variantID, Samples: n}

	var totalTime time.Duration
	var totalCost float64
	var qualitySum float64
	var qualityCount int
	var positiveRatings int
	var errored int

	durations := make([]time.Duration, 0, n)
	for _, o := range outs {
		totalTime += o.ResponseTime
		durations = append(durations, o.ResponseTime)
		totalCost += o.Cost
		if o.Quality != nil {
			qualitySum += *o.Quality
			qualityCount++
		}
		if o.Rating != nil {
			s.Ratings++
			if *o.Rating >= 4 {
				positiveRatings++
			}
		}
		if o.Errored {
			errored++
		}
	}

	s.AvgResponseTime = totalTime / time.Duration(n)
	s.P95ResponseTime = percentile95(durations)
	s.AvgCost = totalCost / float64(n)
	if qualityCount > 0 {
		s.AvgQuality = qualitySum / float64(qualityCount)
	}
	s.SuccessRate = float64(n-errored) / float64(n)
	if s.Ratings > 0 {
		s.PreferencePct = float64(positiveRatings) / float64(s.Ratings) * 100
	}
	return s
}

// percentile95 returns the 95th-percentile duration of a non-empty sample.
func percentile95(durations []time.Duration) time.Duration {
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(math.Ceil(0.95*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// Analyze computes per-variant statistics for one experiment from only the
// outcomes tagged with its id, determines a winner by the primary metric,
// and derives a coarse confidence figure plus plain-language
// recommendations.
func (t *Tracker) Analyze(experimentID string) (*Analysis, error) {
	cfg, ok := t.Get(experimentID)
	if !ok {
		return nil, backend.NewNotFoundError(fmt.Sprintf("experiment %q not found", experimentID))
	}

	outcomes := t.outcomesFor(experimentID, cfg.Variants)
	stats := StatsFromOutcomes(outcomes)

	analysis := &Analysis{
		ExperimentID: experimentID,
		GeneratedAt:  time.Now(),
		Stats:        stats,
	}
	if len(stats) == 0 {
		analysis.Recommendations = []string{"No outcomes recorded yet"}
		return analysis, nil
	}

	// Participants in config order, restricted to variants with data.
	participants := lo.Filter(cfg.Variants, func(id string, _ int) bool {
		_, present := stats[id]
		return present
	})

	winner := bestByMetric(cfg.Criteria.Primary, participants, stats)
	if winner != "" && cfg.Criteria.SuccessThreshold != nil {
		if !clearsThreshold(cfg.Criteria.Primary, stats[winner], *cfg.Criteria.SuccessThreshold) {
			winner = ""
		}
	}
	analysis.Winner = winner
	analysis.Confidence = confidence(participants, stats, cfg.MinSampleSize)
	analysis.Recommendations = recommendations(participants, stats)

	return analysis, nil
}

// bestByMetric picks the best participant on one metric. Quality and user
// preference are higher-wins; speed and cost are lower-wins. Ties keep the
// earlier participant.
func bestByMetric(metric Metric, participants []string, stats map[string]VariantStats) string {
	if len(participants) == 0 {
		return ""
	}

	best := participants[0]
	for _, id := range participants[1:] {
		if metricBeats(metric, stats[id], stats[best]) {
			best = id
		}
	}
	return best
}

// metricBeats reports whether a strictly beats b on the metric.
func metricBeats(metric Metric, a, b VariantStats) bool {
	switch metric {
	case MetricSpeed:
		return a.AvgResponseTime < b.AvgResponseTime
	case MetricCost:
		return a.AvgCost < b.AvgCost
	case MetricUserPreference:
		return a.PreferencePct > b.PreferencePct
	default: // MetricQuality
		return a.AvgQuality > b.AvgQuality
	}
}

// clearsThreshold checks the winner's primary-metric value against the
// configured success threshold. For lower-wins metrics the threshold is a
// ceiling; for higher-wins metrics it is a floor. Speed thresholds are in
// milliseconds.
func clearsThreshold(metric Metric, s VariantStats, threshold float64) bool {
	switch metric {
	case MetricSpeed:
		return float64(s.AvgResponseTime.Milliseconds()) <= threshold
	case MetricCost:
		return s.AvgCost <= threshold
	case MetricUserPreference:
		return s.PreferencePct >= threshold
	default:
		return s.AvgQuality >= threshold
	}
}

// confidence derives the coarse sample-size heuristic: the smallest
// per-variant sample relative to the declared minimum, capped at 95%.
func confidence(participants []string, stats map[string]VariantStats, minSampleSize int) float64 {
	if len(participants) == 0 || minSampleSize <= 0 {
		return 0
	}

	minSamples := stats[participants[0]].Samples
	for _, id := range participants[1:] {
		if stats[id].Samples < minSamples {
			minSamples = stats[id].Samples
		}
	}

	ratio := float64(minSamples) / float64(minSampleSize)
	if ratio > 1 {
		ratio = 1
	}
	return ratio * confidenceCap
}

// recommendations emits the plain-language best-by-each-metric picks plus a
// single balanced pick.
func recommendations(participants []string, stats map[string]VariantStats) []string {
	recs := make([]string, 0, 5)

	if id := bestByMetric(MetricQuality, participants, stats); id != "" && stats[id].AvgQuality > 0 {
		recs = append(recs, fmt.Sprintf("Best quality: %s (avg score %.1f)", id, stats[id].AvgQuality))
	}
	if id := bestByMetric(MetricSpeed, participants, stats); id != "" {
		recs = append(recs, fmt.Sprintf("Fastest: %s (avg %s)", id, stats[id].AvgResponseTime.Round(time.Millisecond)))
	}
	if id := bestByMetric(MetricCost, participants, stats); id != "" {
		recs = append(recs, fmt.Sprintf("Cheapest: %s (avg $%.4f per call)", id, stats[id].AvgCost))
	}
	if id := bestByMetric(MetricUserPreference, participants, stats); id != "" && stats[id].Ratings > 0 {
		recs = append(recs, fmt.Sprintf("Most preferred: %s (%.0f%% positive ratings)", id, stats[id].PreferencePct))
	}
	if id := balancedPick(participants, stats); id != "" {
		recs = append(recs, fmt.Sprintf("Balanced pick: %s (quality 40%%, latency 30%%, cost 30%%)", id))
	}
	return recs
}

// balancedPick scores each participant with a fixed weighted blend of
// quality (40%), inverted latency (30%), and inverted cost (30%).
// Latency and cost are normalized relative to the best participant so the
// fastest and cheapest each score 1.0 on their component. The blend is a
// default recommendation heuristic, not a statistical claim.
func balancedPick(participants []string, stats map[string]VariantStats) string {
	if len(participants) == 0 {
		return ""
	}

	minLatency := stats[participants[0]].AvgResponseTime
	minCost := stats[participants[0]].AvgCost
	for _, id := range participants[1:] {
		if stats[id].AvgResponseTime < minLatency {
			minLatency = stats[id].AvgResponseTime
		}
		if stats[id].AvgCost < minCost {
			minCost = stats[id].AvgCost
		}
	}

	best := ""
	bestScore := math.Inf(-1)
	for _, id := range participants {
		s := stats[id]

		invLatency := 1.0
		if s.AvgResponseTime > 0 {
			invLatency = float64(minLatency) / float64(s.AvgResponseTime)
		}
		invCost := 1.0
		if s.AvgCost > 0 {
			invCost = minCost / s.AvgCost
		}

		score := 0.4*(s.AvgQuality/100) + 0.3*invLatency + 0.3*invCost
		if score > bestScore {
			bestScore = score
			best = id
		}
	}
	return best
}
