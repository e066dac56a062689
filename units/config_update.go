package units

import (
	"context"
	"fmt"

	"github.com/mongodb/amboy"
	"github.com/mongodb/amboy/dependency"
	"github.com/mongodb/amboy/job"
	"github.com/mongodb/amboy/registry"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

const configUpdateJobName = "config-update"

// ConfigUpdateJob drives manager.Manager.UpdateConfig off the hot path
// (ground: units/recalculate_change_points_periodic.go).
type ConfigUpdateJob struct {
	Reason string `bson:"reason" json:"reason" yaml:"reason"`

	job.Base `bson:"metadata" json:"metadata" yaml:"metadata"`
}

func init() {
	registry.AddJobType(configUpdateJobName, func() amboy.Job { return makeConfigUpdateJob() })
}

func makeConfigUpdateJob() *ConfigUpdateJob {
	j := &ConfigUpdateJob{
		Base: job.Base{
			JobType: amboy.JobType{
				Name:    configUpdateJobName,
				Version: 1,
			},
		},
	}
	j.SetDependency(dependency.NewAlways())
	return j
}

// NewConfigUpdateJob builds a ConfigUpdateJob. reason is a short,
// human-readable description of why the update was triggered (new
// config push, watcher poll, manual request), logged but not acted on.
func NewConfigUpdateJob(id, reason string) amboy.Job {
	j := makeConfigUpdateJob()
	j.Reason = reason
	j.SetID(fmt.Sprintf("%s.%s", configUpdateJobName, id))
	return j
}

func (j *ConfigUpdateJob) Run(ctx context.Context) {
	defer j.MarkComplete()

	env := GetEnvironment()
	if env == nil {
		j.AddError(errors.New("config update job: no environment installed"))
		return
	}

	if err := env.ConfigUpdater().UpdateConfig(ctx); err != nil {
		j.AddError(errors.Wrap(err, "updating config"))
		return
	}

	grip.Info(message.Fields{
		"message": "applied config update",
		"reason":  j.Reason,
	})
}
