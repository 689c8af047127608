package core

import "time"

// AggKey identifies one hourly aggregation bucket.
type AggKey struct {
	Code       string
	HourBucket time.Time
}

// ClickAggregation accumulates one (code, hour) bucket of detailed
// clicks before it is merged into the rollup tables.
type ClickAggregation struct {
	Count     int64
	Referrers map[string]int64
	Countries map[string]int64
	Sources   map[string]int64
}

// NewClickAggregation returns an empty accumulator.
func NewClickAggregation() *ClickAggregation {
	return &ClickAggregation{
		Referrers: make(map[string]int64),
		Countries: make(map[string]int64),
		Sources:   make(map[string]int64),
	}
}

// Add folds one click detail into the accumulator.
func (a *ClickAggregation) Add(d *ClickDetail) {
	a.Count++
	if d.Referrer != "" {
		a.Referrers[d.Referrer]++
	}
	if d.Country != "" {
		a.Countries[d.Country]++
	}
	a.Sources[d.Source()]++
}

// Merge folds counts from other into a.
func (a *ClickAggregation) Merge(other *ClickAggregation) {
	a.Count += other.Count
	for k, v := range other.Referrers {
		a.Referrers[k] += v
	}
	for k, v := range other.Countries {
		a.Countries[k] += v
	}
	for k, v := range other.Sources {
		a.Sources[k] += v
	}
}

// TruncateToHour floors ts to its hour bucket in UTC.
func TruncateToHour(ts time.Time) time.Time {
	return ts.UTC().Truncate(time.Hour)
}

// TruncateToDay floors ts to its day bucket in UTC.
func TruncateToDay(ts time.Time) time.Time {
	return ts.UTC().Truncate(24 * time.Hour)
}

// AggregateDetails folds click details into per-(code, hour) buckets.
func AggregateDetails(details []ClickDetail) map[AggKey]*ClickAggregation {
	out := make(map[AggKey]*ClickAggregation)
	for i := range details {
		d := &details[i]
		key := AggKey{Code: d.Code, HourBucket: TruncateToHour(d.Timestamp)}
		agg, ok := out[key]
		if !ok {
			agg = NewClickAggregation()
			out[key] = agg
		}
		agg.Add(d)
	}
	return out
}
