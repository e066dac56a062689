// Package units holds the amboy jobs that carry the telemetry engine's
// side-channel work off the hot ingestion path: pull ticks, report
// dumps, and config updates (SPEC_FULL.md §13). Grounded on
// evergreen-ci/cedar's units package: job.Base embedding,
// registry.AddJobType, dependency.NewAlways, and a package-level
// environment singleton the jobs pull their dependencies from at Run
// time (cedar.Environment / cedar.GetEnvironment).
package units

import (
	"context"
	"sync"
	"time"

	"github.com/evergreen-ci/statsbeam/model"
	"github.com/evergreen-ci/statsbeam/producer"
)

// Dispatcher routes a pulled-atom event into the matcher/condition/
// producer pipeline. Satisfied by package manager's Manager.
type Dispatcher interface {
	Dispatch(ev model.Event)
}

// Puller executes a synchronous pull against a registered receiver.
// Satisfied by pull.Manager.
type Puller interface {
	Pull(ctx context.Context, tagID int32, configKey string, ts time.Time) ([]model.Event, error)
}

// ReportDumper produces a producer.Report for one metric, as of
// dumpNanos. Satisfied by producer.Base.
type ReportDumper interface {
	OnDumpReport(dumpNanos int64, includeCurrentPartial, eraseData bool) producer.Report
}

// ReportSink accepts a finished Report for serialization/upload.
// Satisfied by report.HTTPSink.
type ReportSink interface {
	Sink(ctx context.Context, rep producer.Report) error
}

// ConfigUpdater applies the latest configuration graph off the hot
// path. Satisfied by package manager's Manager.
type ConfigUpdater interface {
	UpdateConfig(ctx context.Context) error
}

// Environment is the dependency bag units jobs read from at Run time,
// mirroring cedar.Environment's role as a package-level singleton the
// jobs look up rather than carry by value (job instances are
// serialized through amboy's registry and cannot hold live pointers
// across a process boundary).
type Environment interface {
	Dispatcher() Dispatcher
	Puller() Puller
	ReportDumper(metricID int64) (ReportDumper, bool)
	ReportSink() ReportSink
	ConfigUpdater() ConfigUpdater
}

var (
	envMu  sync.RWMutex
	envSet Environment
)

// SetEnvironment installs the process-wide Environment. cmd/statsbeamd
// calls this once during startup, before any job runs.
func SetEnvironment(env Environment) {
	envMu.Lock()
	defer envMu.Unlock()
	envSet = env
}

// GetEnvironment returns the installed Environment, or nil if none has
// been set.
func GetEnvironment() Environment {
	envMu.RLock()
	defer envMu.RUnlock()
	return envSet
}
