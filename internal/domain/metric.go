package domain

import "time"

// MetricSample is one timestamped observation for an operation key.
type MetricSample struct {
	Key        string
	Value      float64
	Failed     bool
	RecordedAt time.Time
}

// MetricAggregate summarises samples for a key inside a trailing window.
type MetricAggregate struct {
	Key           string
	Window        time.Duration
	Count         int
	Mean          float64
	Min           float64
	Max           float64
	P50           float64
	P95           float64
	P99           float64
	ErrorRate     float64
	PerMinute     float64
	ComputedAt    time.Time
	OldestInScope time.Time
}
