/*
Package statsbeam holds application-level constants and shared resources
for the telemetry aggregation engine: the atom matchers, condition
trackers, and metric producers that turn a raw event stream into
bucketed, dimensioned metric reports live in the subpackages; this file
holds the constants every one of them shares.
*/
package statsbeam

import "time"

// BuildRevision stores the commit in the git repository at build time and is
// specified with -ldflags at build time.
var BuildRevision = ""

const (
	// DefaultMaxPullDelay is the deadline (§4.3) after which a pulled
	// atom's data is considered stale and discarded.
	DefaultMaxPullDelay = 10 * time.Second

	// DefaultDimensionSoftLimit and DefaultDimensionHardLimit are the
	// reference cardinality guardrails from spec.md §4.3.
	DefaultDimensionSoftLimit = 500
	DefaultDimensionHardLimit = 750

	// MaxDropEventsPerBucket caps how many drop reasons a single
	// skipped bucket records (spec.md §7, §9 Open Question).
	MaxDropEventsPerBucket = 10
)
