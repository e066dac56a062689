// Command statsbeamd runs the telemetry aggregation engine as a
// standalone process: it reads a configuration graph, builds the
// manager, pull, and report collaborators, installs the units.Environment
// singleton, and starts the periodic off-hot-path jobs (SPEC_FULL.md
// §13). Grounded on cmd/cedar's urfave/cli entrypoint and
// operations/service.go's configure-then-run shape.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evergreen-ci/statsbeam"
	"github.com/evergreen-ci/statsbeam/manager"
	"github.com/evergreen-ci/statsbeam/pull"
	"github.com/evergreen-ci/statsbeam/report"
	"github.com/evergreen-ci/statsbeam/units"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

func main() {
	app := buildApp()
	err := app.Run(os.Args)
	grip.CatchEmergencyFatal(err)
}

func buildApp() *cli.App {
	app := cli.NewApp()
	app.Name = "statsbeamd"
	app.Usage = "runs the telemetry aggregation engine"
	app.Version = "0.0.1-pre"

	app.Commands = []cli.Command{serviceCommand()}

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "level",
			Value: "info",
			Usage: "lowest visible log level",
		},
	}

	app.Before = func(c *cli.Context) error {
		return errors.WithStack(loggingSetup(app.Name, c.String("level")))
	}

	return app
}

func loggingSetup(name, logLevel string) error {
	sender := grip.GetSender()
	sender.SetName(name)

	lvl := sender.Level()
	lvl.Threshold = level.FromString(logLevel)
	return errors.WithStack(sender.SetLevel(lvl))
}

func serviceCommand() cli.Command {
	return cli.Command{
		Name:  "service",
		Usage: "run the engine until interrupted",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "config", Usage: "path to the YAML configuration graph", EnvVar: "STATSBEAM_CONFIG"},
			cli.StringFlag{Name: "sink-url", Usage: "endpoint to upload serialized reports to", EnvVar: "STATSBEAM_SINK_URL"},
			cli.IntFlag{Name: "workers", Value: 4, Usage: "number of background job queue workers"},
			cli.DurationFlag{Name: "dump-period", Value: time.Minute, Usage: "how often each metric's report is dumped and uploaded"},
			cli.DurationFlag{Name: "poll-period", Value: 5 * time.Minute, Usage: "how often the configuration graph is refetched"},
			cli.DurationFlag{Name: "pull-timeout", Value: 10 * time.Second, Usage: "deadline applied to a pulled-atom fetch with no caller deadline"},
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			go func() {
				sig := make(chan os.Signal, 1)
				signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
				<-sig
				cancel()
			}()

			return errors.WithStack(run(ctx, c))
		},
	}
}

func run(ctx context.Context, c *cli.Context) error {
	conf := &statsbeam.Configuration{
		NumQueueWorkers:      c.Int("workers"),
		DefaultBucketSize:    time.Minute,
		DefaultMinBucketSize: time.Second,
		MaxPullDelay:         c.Duration("pull-timeout"),
	}
	env := statsbeam.GetEnvironment()
	if err := env.Configure(conf); err != nil {
		return errors.Wrap(err, "configuring engine environment")
	}
	env.Stats().Start(ctx)

	queue, err := env.GetQueue()
	if err != nil {
		return errors.Wrap(err, "retrieving background job queue")
	}
	if err := queue.Start(ctx); err != nil {
		return errors.Wrap(err, "starting background job queue")
	}

	configPath := c.String("config")
	if configPath == "" {
		return errors.New("statsbeamd: --config is required")
	}
	configSource := manager.NewYAMLConfigSource(configPath)
	graph, err := configSource.FetchConfigGraph()
	if err != nil {
		return errors.Wrap(err, "loading initial configuration graph")
	}

	mgr, err := manager.New(graph, env.Stats(), configSource, conf.MaxDropEventsPerBucket)
	if err != nil {
		return errors.Wrap(err, "constructing manager")
	}

	puller := pull.NewQueueManager(queue, c.Duration("pull-timeout"), units.NewPullTickJob)

	sinkURL := c.String("sink-url")
	if sinkURL == "" {
		return errors.New("statsbeamd: --sink-url is required")
	}
	sink := report.NewHTTPSink(sinkURL)

	metricIDs := make([]int64, len(graph.Metrics))
	for i, spec := range graph.Metrics {
		metricIDs[i] = spec.ID
	}

	units.SetEnvironment(&engineEnvironment{
		manager: mgr,
		puller:  puller,
		sink:    sink,
	})

	units.StartCrons(ctx, queue, metricIDs, c.Duration("dump-period"), c.Duration("poll-period"))

	grip.Noticef("statsbeamd running with %d metrics configured", len(metricIDs))
	<-ctx.Done()
	grip.Info("shutting down")
	return nil
}

// engineEnvironment implements units.Environment by delegating to the
// collaborators run builds.
type engineEnvironment struct {
	manager *manager.Manager
	puller  *pull.QueueManager
	sink    *report.HTTPSink
}

func (e *engineEnvironment) Dispatcher() units.Dispatcher { return e.manager }
func (e *engineEnvironment) Puller() units.Puller         { return e.puller }
func (e *engineEnvironment) ReportSink() units.ReportSink { return e.sink }
func (e *engineEnvironment) ConfigUpdater() units.ConfigUpdater { return e.manager }

func (e *engineEnvironment) ReportDumper(metricID int64) (units.ReportDumper, bool) {
	return e.manager.MetricReport(metricID)
}
