package statsbeam

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/evergreen-ci/statsbeam/model"
	"github.com/mongodb/anser/bsonutil"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/grip/recovery"
	"github.com/pkg/errors"
)

// StatsWindow is the wall-clock span a StatsSnapshot covers.
type StatsWindow struct {
	StartAt time.Time `bson:"start" json:"start" yaml:"start"`
	EndAt   time.Time `bson:"end" json:"end" yaml:"end"`
}

var (
	statsWindowStartKey = bsonutil.MustHaveTag(StatsWindow{}, "StartAt")
	statsWindowEndKey   = bsonutil.MustHaveTag(StatsWindow{}, "EndAt")
)

func newStatsWindow(start time.Time, dur time.Duration) StatsWindow {
	return StatsWindow{StartAt: start, EndAt: start.Add(dur)}
}

const (
	statsTopN             = 10
	statsChanBufferSize   = 4096
	statsLogInterval      = time.Minute
)

// StatsEvent is a single thing worth counting that happened somewhere in
// the engine: a dimension guardrail crossing, a dropped bucket, a
// delayed or failed pull. It is the payload carried on StatsCache's
// internal channel (spec.md §5 "shared resources").
type StatsEvent struct {
	MetricID  int64
	ConfigKey string
	TagID     int32

	GuardrailSoftCrossed bool
	GuardrailHardHit     bool
	DropReason           model.DropReason
	HasDropReason         bool
	PullDelayExceeded    bool
	PullFailed           bool
}

// StatsCache is the process-scoped statistics-about-statistics
// singleton from spec.md §5 and Design Notes: the only shared mutable
// state in the engine, updated under its own mutex and exposed as a
// snapshot. It is constructed explicitly and passed into collaborators
// rather than reached through a package-level global, so tests can
// substitute a local instance.
type StatsCache struct {
	mu       sync.Mutex
	eventCh  chan StatsEvent

	windowStart time.Time

	calls                int
	guardrailSoftCrossed map[int64]int
	guardrailHardHit     map[int64]int
	dropsByReason        map[model.DropReason]int
	dropsByMetric        map[int64]int
	pullDelaysExceeded   map[int32]int
	pullFailures         map[int32]int
}

// NewStatsCache constructs an empty StatsCache. Call Start to begin
// draining its event channel in the background; until then, AddEvent
// still succeeds (up to the channel buffer) but nothing is aggregated.
func NewStatsCache() *StatsCache {
	return &StatsCache{
		eventCh:              make(chan StatsEvent, statsChanBufferSize),
		windowStart:          time.Now(),
		guardrailSoftCrossed: make(map[int64]int),
		guardrailHardHit:     make(map[int64]int),
		dropsByReason:        make(map[model.DropReason]int),
		dropsByMetric:        make(map[int64]int),
		pullDelaysExceeded:   make(map[int32]int),
		pullFailures:         make(map[int32]int),
	}
}

// AddEvent queues a stats event for aggregation. It never blocks: a full
// channel drops the event and returns an error, since nothing in the
// hot path may stall on the stats cache (spec.md §5).
func (s *StatsCache) AddEvent(ev StatsEvent) error {
	select {
	case s.eventCh <- ev:
		return nil
	default:
		return fmt.Errorf("stats cache channel is full, dropping event for metric %d", ev.MetricID)
	}
}

// NotifyGuardrailSoftCrossed implements producer.StatsNotifier.
func (s *StatsCache) NotifyGuardrailSoftCrossed(metricID int64) {
	_ = s.AddEvent(StatsEvent{MetricID: metricID, GuardrailSoftCrossed: true})
}

// NotifyGuardrailHardHit implements producer.StatsNotifier.
func (s *StatsCache) NotifyGuardrailHardHit(metricID int64) {
	_ = s.AddEvent(StatsEvent{MetricID: metricID, GuardrailHardHit: true})
}

// NotifyDrop implements producer.StatsNotifier.
func (s *StatsCache) NotifyDrop(metricID int64, reason model.DropReason) {
	_ = s.AddEvent(StatsEvent{MetricID: metricID, HasDropReason: true, DropReason: reason})
}

// NotifyPullDelayExceeded implements producer.StatsNotifier.
func (s *StatsCache) NotifyPullDelayExceeded(tagID int32) {
	_ = s.AddEvent(StatsEvent{TagID: tagID, PullDelayExceeded: true})
}

// NotifyPullFailed implements producer.StatsNotifier.
func (s *StatsCache) NotifyPullFailed(tagID int32) {
	_ = s.AddEvent(StatsEvent{TagID: tagID, PullFailed: true})
}

// Start launches the consumer and periodic logger loops, bound to ctx.
func (s *StatsCache) Start(ctx context.Context) {
	go s.consumerLoop(ctx)
	go s.loggerLoop(ctx)
}

func (s *StatsCache) consumerLoop(ctx context.Context) {
	defer func() {
		if err := recovery.HandlePanicWithError(recover(), nil, "stats cache consumer"); err != nil {
			grip.Error(message.WrapError(err, message.Fields{
				"message": "panic in stats cache consumer loop",
			}))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.eventCh:
			s.apply(ev)
		}
	}
}

func (s *StatsCache) apply(ev StatsEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if ev.GuardrailSoftCrossed {
		s.guardrailSoftCrossed[ev.MetricID]++
	}
	if ev.GuardrailHardHit {
		s.guardrailHardHit[ev.MetricID]++
	}
	if ev.HasDropReason {
		s.dropsByReason[ev.DropReason]++
		s.dropsByMetric[ev.MetricID]++
	}
	if ev.PullDelayExceeded {
		s.pullDelaysExceeded[ev.TagID]++
	}
	if ev.PullFailed {
		s.pullFailures[ev.TagID]++
	}
}

func (s *StatsCache) loggerLoop(ctx context.Context) {
	defer func() {
		if err := recovery.HandlePanicWithError(recover(), nil, "stats cache logger"); err != nil {
			grip.Error(message.WrapError(err, message.Fields{
				"message": "panic in stats cache logger loop",
			}))
		}
	}()

	ticker := time.NewTicker(statsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logAndReset()
		}
	}
}

func (s *StatsCache) logAndReset() {
	snap := s.Snapshot()

	grip.Info(message.Fields{
		"message":            "telemetry engine stats",
		"calls":              snap.Calls,
		"guardrail_soft_hit":  topNCounts(snap.GuardrailSoftCrossed, statsTopN),
		"guardrail_hard_hit":  topNCounts(snap.GuardrailHardHit, statsTopN),
		"drops_by_reason":     snap.DropsByReason,
		"drops_by_metric":     topNCounts(snap.DropsByMetric, statsTopN),
		"pull_delays_exceeded": snap.PullDelaysExceeded,
		"pull_failures":        snap.PullFailures,
		statsWindowStartKey:   snap.Window.StartAt,
		statsWindowEndKey:     snap.Window.EndAt,
	})

	s.mu.Lock()
	s.calls = 0
	s.windowStart = time.Now()
	s.guardrailSoftCrossed = make(map[int64]int)
	s.guardrailHardHit = make(map[int64]int)
	s.dropsByReason = make(map[model.DropReason]int)
	s.dropsByMetric = make(map[int64]int)
	s.pullDelaysExceeded = make(map[int32]int)
	s.pullFailures = make(map[int32]int)
	s.mu.Unlock()
}

// StatsSnapshot is an immutable copy of the counters held by StatsCache
// at the moment Snapshot was called.
type StatsSnapshot struct {
	Window               StatsWindow
	Calls                int
	GuardrailSoftCrossed map[int64]int
	GuardrailHardHit     map[int64]int
	DropsByReason        map[model.DropReason]int
	DropsByMetric        map[int64]int
	PullDelaysExceeded   map[int32]int
	PullFailures         map[int32]int
	TotalDrops           int64
	AverageDropsPerMetric float64
}

// Snapshot returns a copy of the current counters without resetting them.
func (s *StatsCache) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropCounts := make([]int64, 0, len(s.dropsByMetric))
	for _, v := range s.dropsByMetric {
		dropCounts = append(dropCounts, int64(v))
	}
	total := sumInt64(dropCounts)
	avg := averageDropsPerMetric(dropCounts)

	return StatsSnapshot{
		Window:                newStatsWindow(s.windowStart, time.Since(s.windowStart)),
		Calls:                 s.calls,
		GuardrailSoftCrossed:  copyInt64Map(s.guardrailSoftCrossed),
		GuardrailHardHit:      copyInt64Map(s.guardrailHardHit),
		DropsByReason:         copyDropReasonMap(s.dropsByReason),
		DropsByMetric:         copyInt64Map(s.dropsByMetric),
		PullDelaysExceeded:    copyInt32Map(s.pullDelaysExceeded),
		PullFailures:          copyInt32Map(s.pullFailures),
		TotalDrops:            total,
		AverageDropsPerMetric: avg,
	}
}

// DumpToFile writes the current snapshot to path as indented JSON,
// fsyncing before returning so an operator tailing the file never reads
// a truncated write. Intended for operator debugging, not the hot path.
func (s *StatsCache) DumpToFile(path string) error {
	out, err := json.MarshalIndent(s.Snapshot(), "", "   ")
	if err != nil {
		return errors.Wrap(err, "marshaling stats snapshot")
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()

	if _, err := f.Write(out); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(f.Sync())
}

// PrintSnapshot writes the current snapshot to stdout as indented JSON.
func (s *StatsCache) PrintSnapshot() error {
	out, err := json.MarshalIndent(s.Snapshot(), "", "   ")
	if err != nil {
		return errors.Wrap(err, "marshaling stats snapshot")
	}

	fmt.Println(string(out))
	return nil
}

// sumInt64 returns the sum of vals.
func sumInt64(vals []int64) int64 {
	var sum int64
	for _, v := range vals {
		sum += v
	}
	return sum
}

// averageDropsPerMetric returns the mean of vals rounded up to two
// decimal places, or zero if vals is empty.
func averageDropsPerMetric(vals []int64) float64 {
	if len(vals) == 0 {
		return 0
	}

	var total float64
	for _, v := range vals {
		total += float64(v)
	}
	avg := total / float64(len(vals))

	const places = 2
	pow := math.Pow(10, places)
	return math.Ceil(avg*pow) / pow
}

func copyInt64Map(m map[int64]int) map[int64]int {
	out := make(map[int64]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyInt32Map(m map[int32]int) map[int32]int {
	out := make(map[int32]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyDropReasonMap(m map[model.DropReason]int) map[model.DropReason]int {
	out := make(map[model.DropReason]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type countItem struct {
	ID    int64 `json:"id"`
	Count int   `json:"count"`
}

func topNCounts(m map[int64]int, n int) []countItem {
	items := make([]countItem, 0, len(m))
	for id, count := range m {
		items = append(items, countItem{ID: id, Count: count})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Count > items[j].Count })
	if len(items) < n {
		n = len(items)
	}
	return items[:n]
}
