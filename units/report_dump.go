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
	"github.com/mongodb/grip/recovery"
	"github.com/pkg/errors"
)

const reportDumpJobName = "report-dump"

// ReportDumpJob asynchronously triggers one metric producer's report
// serialization and upload, off the hot ingestion path (ground:
// units/time_series_update_periodic.go).
type ReportDumpJob struct {
	MetricID              int64 `bson:"metric_id" json:"metric_id" yaml:"metric_id"`
	DumpNanos             int64 `bson:"dump_nanos" json:"dump_nanos" yaml:"dump_nanos"`
	IncludeCurrentPartial bool  `bson:"include_partial" json:"include_partial" yaml:"include_partial"`
	EraseData             bool  `bson:"erase_data" json:"erase_data" yaml:"erase_data"`

	job.Base `bson:"metadata" json:"metadata" yaml:"metadata"`
}

func init() {
	registry.AddJobType(reportDumpJobName, func() amboy.Job { return makeReportDumpJob() })
}

func makeReportDumpJob() *ReportDumpJob {
	j := &ReportDumpJob{
		Base: job.Base{
			JobType: amboy.JobType{
				Name:    reportDumpJobName,
				Version: 1,
			},
		},
	}
	j.SetDependency(dependency.NewAlways())
	return j
}

// NewReportDumpJob builds a ReportDumpJob for metricID.
func NewReportDumpJob(metricID int64, dumpNanos int64, includeCurrentPartial, eraseData bool) amboy.Job {
	j := makeReportDumpJob()
	j.MetricID = metricID
	j.DumpNanos = dumpNanos
	j.IncludeCurrentPartial = includeCurrentPartial
	j.EraseData = eraseData
	j.SetID(fmt.Sprintf("%s.%d.%d", reportDumpJobName, metricID, dumpNanos))
	return j
}

func (j *ReportDumpJob) Run(ctx context.Context) {
	defer j.MarkComplete()
	defer func() {
		if err := recovery.HandlePanicWithError(recover(), nil, "report dump job"); err != nil {
			j.AddError(err)
		}
	}()

	env := GetEnvironment()
	if env == nil {
		j.AddError(errors.New("report dump job: no environment installed"))
		return
	}

	dumper, ok := env.ReportDumper(j.MetricID)
	if !ok {
		j.AddError(errors.Errorf("report dump job: no producer registered for metric %d", j.MetricID))
		return
	}

	rep := dumper.OnDumpReport(j.DumpNanos, j.IncludeCurrentPartial, j.EraseData)
	if err := env.ReportSink().Sink(ctx, rep); err != nil {
		j.AddError(errors.Wrapf(err, "sinking report for metric %d", j.MetricID))
		return
	}

	grip.Info(message.Fields{
		"message":   "dumped report",
		"metric_id": j.MetricID,
		"buckets":   len(rep.Buckets),
		"skipped":   len(rep.Skipped),
	})
}
