// Package pull coordinates pulled atoms: metric sources that do not
// arrive on the hot ingestion path but must be fetched periodically
// from an external surface (a platform counter, a /proc file, a
// statsd-style gauge) and fed into the same matcher/condition/producer
// pipeline as pushed events (spec.md §4.3).
package pull

import (
	"context"
	"sync"
	"time"

	"github.com/evergreen-ci/statsbeam/model"
	"github.com/mongodb/amboy"
	"github.com/pkg/errors"
)

// Receiver fetches the current value(s) of a pulled atom as of ts. It is
// supplied by the platform integration layer; package pull only
// schedules and times the call.
type Receiver interface {
	Fetch(ctx context.Context, ts time.Time) ([]model.Event, error)
}

// Key identifies a registered pulled atom.
type Key struct {
	TagID     int32
	ConfigKey string
}

// Manager registers pulled atoms and schedules their periodic fetch,
// per SPEC_FULL.md §10.
type Manager interface {
	Register(tagID int32, configKey string, recv Receiver, firstPullTime time.Time, period time.Duration) error
	Unregister(tagID int32, configKey string)
	Pull(ctx context.Context, tagID int32, configKey string, ts time.Time) ([]model.Event, error)
}

type entry struct {
	recv      Receiver
	cancel    context.CancelFunc
	callCount int64
}

// QueueManager is the concrete Manager: one registration schedules one
// amboy.IntervalQueueOperation against the supplied queue, grounded on
// units/crons.go's StartCrons wiring. The synchronous Pull path used by
// units.PullTickJob.Run does not go through the queue at all; it calls
// the registered Receiver directly under a context deadline.
type QueueManager struct {
	queue       amboy.Queue
	pullTimeout time.Duration
	newTickJob  func(tagID int32, configKey string, ts time.Time) amboy.Job

	mu      sync.Mutex
	entries map[Key]*entry
}

// NewQueueManager builds a Manager backed by queue. newTickJob builds
// the amboy.Job enqueued on each tick; passing it in (rather than
// importing package units directly) keeps pull free of units, since
// units.PullTickJob itself depends on a Manager to execute against.
func NewQueueManager(queue amboy.Queue, pullTimeout time.Duration, newTickJob func(tagID int32, configKey string, ts time.Time) amboy.Job) *QueueManager {
	return &QueueManager{
		queue:       queue,
		pullTimeout: pullTimeout,
		newTickJob:  newTickJob,
		entries:     make(map[Key]*entry),
	}
}

func (m *QueueManager) Register(tagID int32, configKey string, recv Receiver, firstPullTime time.Time, period time.Duration) error {
	if recv == nil {
		return errors.New("pull: nil receiver")
	}
	if period <= 0 {
		return errors.Errorf("pull: period must be positive, got %s", period)
	}

	key := Key{TagID: tagID, ConfigKey: configKey}

	// A zero firstPullTime means "start on the next minute boundary"
	// rather than "start immediately", so a batch of registrations at
	// process startup doesn't all fire within the same instant.
	if firstPullTime.IsZero() {
		firstPullTime = nextMinuteBoundary(time.Now())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; ok {
		return errors.Errorf("pull: %s/%v already registered", configKey, key)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{recv: recv, cancel: cancel}
	m.entries[key] = e

	opts := amboy.QueueOperationConfig{ContinueOnError: true}
	amboy.IntervalQueueOperation(ctx, m.queue, period, firstPullTime, opts, func(ctx context.Context, queue amboy.Queue) error {
		if m.newTickJob == nil {
			return nil
		}
		return queue.Put(ctx, m.newTickJob(tagID, configKey, time.Now()))
	})

	return nil
}

func (m *QueueManager) Unregister(tagID int32, configKey string) {
	key := Key{TagID: tagID, ConfigKey: configKey}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		e.cancel()
		delete(m.entries, key)
	}
}

// Pull synchronously fetches the pulled atom's current events. ctx
// governs the deadline; if ctx carries no deadline, pullTimeout (if
// positive) is applied.
func (m *QueueManager) Pull(ctx context.Context, tagID int32, configKey string, ts time.Time) ([]model.Event, error) {
	key := Key{TagID: tagID, ConfigKey: configKey}

	m.mu.Lock()
	e, ok := m.entries[key]
	if ok {
		e.callCount++
	}
	m.mu.Unlock()

	if !ok {
		return nil, errors.Errorf("pull: no receiver registered for %s/%d", configKey, tagID)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && m.pullTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.pullTimeout)
		defer cancel()
	}

	events, err := e.recv.Fetch(ctx, ts)
	if err != nil {
		return nil, errors.Wrapf(err, "pulling %s/%d", configKey, tagID)
	}
	return events, nil
}

// nextMinuteBoundary rounds now down to the start of its minute and
// advances one minute, so a schedule built from it lands on the next
// whole-minute tick rather than now itself.
func nextMinuteBoundary(now time.Time) time.Time {
	start := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), 0, 0, now.Location())
	return start.Add(time.Minute)
}
