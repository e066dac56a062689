package units

import (
	"context"
	"fmt"
	"time"

	"github.com/mongodb/amboy"
	"github.com/mongodb/amboy/dependency"
	"github.com/mongodb/amboy/job"
	"github.com/mongodb/amboy/registry"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

const pullTickJobName = "pull-tick"

// PullTickJob fetches one pulled atom's current events and dispatches
// them into the matcher/condition/producer pipeline. One instance is
// enqueued per scheduled tick by pull.QueueManager (ground:
// units/ftdc_rollups.go job shape).
type PullTickJob struct {
	TagID     int32     `bson:"tag_id" json:"tag_id" yaml:"tag_id"`
	ConfigKey string    `bson:"config_key" json:"config_key" yaml:"config_key"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp" yaml:"timestamp"`

	job.Base `bson:"metadata" json:"metadata" yaml:"metadata"`
}

func init() {
	registry.AddJobType(pullTickJobName, func() amboy.Job { return makePullTickJob() })
}

func makePullTickJob() *PullTickJob {
	j := &PullTickJob{
		Base: job.Base{
			JobType: amboy.JobType{
				Name:    pullTickJobName,
				Version: 1,
			},
		},
	}
	j.SetDependency(dependency.NewAlways())
	return j
}

// NewPullTickJob builds a PullTickJob for tagID/configKey, matching the
// func(tagID, configKey, ts) amboy.Job signature pull.QueueManager
// requires to stay decoupled from package units.
func NewPullTickJob(tagID int32, configKey string, ts time.Time) amboy.Job {
	j := makePullTickJob()
	j.TagID = tagID
	j.ConfigKey = configKey
	j.Timestamp = ts
	j.SetID(fmt.Sprintf("%s.%s.%d.%d", pullTickJobName, configKey, tagID, ts.UnixNano()))
	return j
}

func (j *PullTickJob) Run(ctx context.Context) {
	defer j.MarkComplete()

	env := GetEnvironment()
	if env == nil {
		j.AddError(errors.New("pull tick job: no environment installed"))
		return
	}

	events, err := env.Puller().Pull(ctx, j.TagID, j.ConfigKey, j.Timestamp)
	if err != nil {
		j.AddError(errors.Wrapf(err, "pulling tag %d config %s", j.TagID, j.ConfigKey))
		return
	}

	dispatcher := env.Dispatcher()
	for i := range events {
		dispatcher.Dispatch(events[i])
	}

	grip.Debug(message.Fields{
		"message":    "completed pull tick",
		"tag_id":     j.TagID,
		"config_key": j.ConfigKey,
		"events":     len(events),
	})
}
