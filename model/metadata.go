package model

import "context"

// MetricMetadata is the small amount of producer state that survives a
// process restart when a metadata collaborator is wired in: enough to
// resume bucket alignment without replaying history. The core treats
// this purely as a value object; reading and writing it to disk is
// delegated (spec.md §1, §6 "Persisted state").
type MetricMetadata struct {
	MetricID        int64
	ConfigKey       string
	TimeBaseNanos   int64
	CurrentBucketNo int64
	Version         int
}

// MetadataStore is the named interface spec.md §6 calls for: a
// collaborator that persists and restores MetricMetadata per producer.
// Implementations must be idempotent (writing the same metadata twice
// is a no-op) and must tolerate the key being absent on load. No
// concrete implementation ships in this repo; see DESIGN.md.
type MetadataStore interface {
	WriteMetricMetadata(ctx context.Context, meta MetricMetadata) error
	LoadMetricMetadata(ctx context.Context, metricID int64, configKey string) (MetricMetadata, bool, error)
}
