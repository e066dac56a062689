package model

import "time"

// MetricKind mirrors package producer's Kind enum. It lives in model,
// not producer, because configuration specs are parsed before any
// producer exists and must not import the layer that consumes them.
type MetricKind int

const (
	MetricEvent MetricKind = iota
	MetricCount
	MetricDuration
	MetricGauge
	MetricNumericValue
	MetricKll
)

// NumericMode mirrors producer.NumericMode.
type NumericMode int

const (
	NumericSum NumericMode = iota
	NumericMin
	NumericMax
	NumericAvg
	NumericDiff
)

// DurationMode mirrors producer.DurationMode.
type DurationMode int

const (
	DurationSum DurationMode = iota
	DurationMaxSparse
)

// GaugeSamplingMode mirrors producer.GaugeSamplingMode.
type GaugeSamplingMode int

const (
	GaugeRandomOneSample GaugeSamplingMode = iota
	GaugeFirstNSamples
	GaugeConditionChangeToTrue
	GaugeAllConditionChanges
)

// MetricSpec is read from configuration and describes one metric
// producer to construct (spec.md §3, §6). Index is this metric's
// position in the manager's metric arena. ProtoHash is supplied by the
// configuration system as the stable content hash used to decide,
// across an UpdateConfig call, whether an existing producer's state
// carries over (same ID, same ProtoHash) or is destroyed and rebuilt
// (same ID, different ProtoHash) — spec.md §4.5, §8 scenario 6.
type MetricSpec struct {
	ID        int64
	Index     int
	ConfigKey string
	ProtoHash uint64
	Kind      MetricKind

	// Matcher wiring, indices into the manager's matcher arena. Matcher
	// is used by every kind except DURATION, which instead wires up to
	// three matchers for its start/stop/stop-all roles.
	Matcher int

	DurationStartMatcher   int
	DurationStopMatcher    int
	HasDurationStopMatcher bool
	DurationStopAllMatcher int
	HasDurationStopAll     bool

	// ActivationTriggerMatcher/ActivationDeactivateMatcher wire Activation
	// (spec.md §3: a named, TTL-bounded permission to accumulate) to
	// genuine qualifying/deactivating matcher events. A metric that sets
	// neither is permanently active. ActivationTTLNanos bounds how long a
	// trigger's activation lasts before it needs retriggering; zero means
	// the activation only ends via ActivationDeactivateMatcher.
	ActivationTriggerMatcher        int
	HasActivationTrigger            bool
	ActivationDeactivateMatcher     int
	HasActivationDeactivateMatcher  bool
	ActivationTTLNanos              int64

	// ConditionIndex, if set, is the index into the manager's condition
	// arena this metric consults on every matched event before recording
	// (spec.md §4.2 line 20, §4.3 on_matched_event): a event is recorded
	// only when the condition reads True at the condition_key translated
	// from ConditionFieldLinks. This is independent of Activation above —
	// a condition is a per-event query, not a TTL state — and it is also
	// the "condition changed" GaugeMode variants key off of.
	ConditionIndex      int
	HasCondition        bool
	ConditionFieldLinks []FieldPath

	DimensionPathInWhat []FieldPath
	StatePaths          []FieldPath

	TimeBaseNanos      int64
	BucketSizeNanos    int64
	MinBucketSizeNanos int64

	DimensionSoftLimit int
	DimensionHardLimit int

	// Pulled-atom wiring (spec.md §4.3). Zero value means this metric is
	// driven purely by dispatched events, never pulled.
	Pulled            bool
	MaxPullDelayNanos int64
	FirstPullTime     time.Time
	PullPeriod        time.Duration

	// Kind-specific parameters.
	NumericPaths            []FieldPath
	NumericAggMode          NumericMode
	UseAbsoluteValueOnReset bool

	DurationAggMode DurationMode
	DurationNesting NestingMode

	GaugeMode       GaugeSamplingMode
	GaugeMaxSamples int

	KllPaths         []FieldPath
	KllMaxSampleSize int

	HasCountUploadThreshold bool
	CountUploadThresholdMin int64
	CountUploadThresholdMax int64

	AnomalyWindowSize int
	AnomalyThreshold  float64

	// ChangePointDetection enables an e-divisive change-point alarm
	// alongside (or instead of) the sliding-window one above, for
	// metrics whose baseline shifts are more meaningful than a
	// threshold crossing (SPEC_FULL.md's anomaly-detection section).
	ChangePointDetection    bool
	ChangePointPValue       float64
	ChangePointPermutations int
	ChangePointSeed         int64
	ChangePointMaxSeriesLen int
}

// ConfigGraph is the full configuration read from the configuration
// collaborator (spec.md §6): every matcher, condition, and metric,
// indexed by their position in their respective arenas.
type ConfigGraph struct {
	Matchers   []MatcherSpec
	Conditions []ConditionSpec
	Metrics    []MetricSpec
}
