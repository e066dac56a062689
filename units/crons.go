package units

import (
	"context"
	"time"

	"github.com/mongodb/amboy"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
)

// StartCrons wires up the periodic off-hot-path work: a report dump for
// each active metricID at dumpPeriod, and a config-update poll at
// configPollPeriod (ground: units/crons.go's StartCrons, trimmed to the
// two side-channels this engine needs).
func StartCrons(ctx context.Context, queue amboy.Queue, metricIDs []int64, dumpPeriod, configPollPeriod time.Duration) {
	opts := amboy.QueueOperationConfig{ContinueOnError: true}

	grip.Info(message.Fields{
		"message":     "starting background unit jobs",
		"metrics":     len(metricIDs),
		"dump_period": dumpPeriod,
	})

	for _, metricID := range metricIDs {
		metricID := metricID
		amboy.IntervalQueueOperation(ctx, queue, dumpPeriod, time.Now(), opts, func(ctx context.Context, queue amboy.Queue) error {
			now := time.Now().UnixNano()
			return queue.Put(ctx, NewReportDumpJob(metricID, now, true, true))
		})
	}

	amboy.IntervalQueueOperation(ctx, queue, configPollPeriod, time.Now(), opts, func(ctx context.Context, queue amboy.Queue) error {
		return queue.Put(ctx, NewConfigUpdateJob(time.Now().Format(time.RFC3339Nano), "periodic poll"))
	})
}
