package metrics

// Histogram bucket layout for job durations: 10ms doubling to ~80s.
const (
	bucketStart10ms = 0.01
	bucketFactor2   = 2
	bucketCount14   = 14
)

// Job outcome labels.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)
