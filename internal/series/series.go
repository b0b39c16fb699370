// Package series collapses and aligns time series keyed by sortable time codes.
package series

import (
	"sort"

	"turismo/internal/domain"
)

// Sum collapses points into one amount. StrategySum adds every value;
// StrategyLast takes the value at the greatest time key regardless of list
// order. Empty input yields 0.
func Sum(points []domain.SeriesPoint, strategy domain.SumStrategy) float64 {
	if len(points) == 0 {
		return 0
	}
	if strategy == domain.StrategyLast {
		last := points[0]
		for _, p := range points[1:] {
			if p.Time >= last.Time {
				last = p
			}
		}
		return last.Value
	}
	var total float64
	for _, p := range points {
		total += p.Value
	}
	return total
}

// AggregateByTime sums values sharing a time key and returns them ascending
// by key. Time keys are zero-padded, so lexicographic order is chronological.
func AggregateByTime(points []domain.SeriesPoint) []domain.SeriesPoint {
	if len(points) == 0 {
		return []domain.SeriesPoint{}
	}
	byTime := make(map[string]float64, len(points))
	for _, p := range points {
		byTime[p.Time] += p.Value
	}
	out := make([]domain.SeriesPoint, 0, len(byTime))
	for t, v := range byTime {
		out = append(out, domain.SeriesPoint{Time: t, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

// Merge aligns several series into one.
func Merge(all ...[]domain.SeriesPoint) []domain.SeriesPoint {
	n := 0
	for _, s := range all {
		n += len(s)
	}
	flat := make([]domain.SeriesPoint, 0, n)
	for _, s := range all {
		flat = append(flat, s...)
	}
	return AggregateByTime(flat)
}

// Values indexes an aggregated series by time key.
func Values(points []domain.SeriesPoint) map[string]float64 {
	out := make(map[string]float64, len(points))
	for _, p := range points {
		out[p.Time] += p.Value
	}
	return out
}
