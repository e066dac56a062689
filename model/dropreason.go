package model

// DropReason is the closed enumeration of operational-drop causes from
// spec.md §6. A skipped bucket carries up to MaxDropEventsPerBucket of
// these, in the order they occurred.
type DropReason int

const (
	DropReasonUnspecified DropReason = iota
	BucketTooSmall
	NoData
	ConditionUnknown
	PullFailed
	PullDelayed
	DimensionGuardrailReached
	MultipleBucketsSkipped
	BucketError
	ConditionChanged
	ActiveStateChanged
	UploadTimeout
	NoDumpBecauseMemory
)

func (r DropReason) String() string {
	switch r {
	case BucketTooSmall:
		return "BUCKET_TOO_SMALL"
	case NoData:
		return "NO_DATA"
	case ConditionUnknown:
		return "CONDITION_UNKNOWN"
	case PullFailed:
		return "PULL_FAILED"
	case PullDelayed:
		return "PULL_DELAYED"
	case DimensionGuardrailReached:
		return "DIMENSION_GUARDRAIL_REACHED"
	case MultipleBucketsSkipped:
		return "MULTIPLE_BUCKETS_SKIPPED"
	case BucketError:
		return "BUCKET_ERROR"
	case ConditionChanged:
		return "CONDITION_CHANGED"
	case ActiveStateChanged:
		return "ACTIVE_STATE_CHANGED"
	case UploadTimeout:
		return "UPLOAD_TIMEOUT"
	case NoDumpBecauseMemory:
		return "NO_DUMP_BECAUSE_MEMORY"
	default:
		return "UNSPECIFIED"
	}
}

// DropEvent records a single operational drop within a bucket: the
// reason and the elapsed-nanos time it was recorded (spec.md §6).
type DropEvent struct {
	Reason   DropReason
	DropTime int64
}

// SkippedBucket records a bucket that was never placed into past-buckets
// storage, together with up to MaxDropEventsPerBucket reasons why
// (spec.md §4.3, §7).
type SkippedBucket struct {
	StartNanos int64
	EndNanos   int64
	DropEvents []DropEvent
}
