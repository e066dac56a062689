package statsbeam

import (
	"sync"

	"github.com/mongodb/amboy"
	"github.com/mongodb/amboy/queue"
	"github.com/mongodb/grip"
	"github.com/pkg/errors"
)

var globalEnv *envState

func init()                       { resetEnv() }
func GetEnvironment() Environment { return globalEnv }

func resetEnv() { globalEnv = &envState{name: "global", conf: &Configuration{}, stats: NewStatsCache()} }

// Environment provides access to the shared, process-scoped state the
// engine's background jobs need: the job queue that the puller-tick,
// report-dump, and config-update jobs run on (§5 "additional threads"),
// and the statistics-about-statistics singleton (§5 "shared resources").
// A single process-wide instance is reached through GetEnvironment; the
// StatsCache it holds is what gets passed explicitly into constructors
// such as manager.New.
type Environment interface {
	Configure(*Configuration) error
	GetConf() (*Configuration, error)

	// GetQueue retrieves the background job queue used by the
	// puller-tick, report-dump, and config-update jobs in package
	// units. It is never used for event ingestion, which has its own
	// single-writer dispatch path (§5).
	GetQueue() (amboy.Queue, error)
	SetQueue(amboy.Queue) error

	// Stats returns the process-wide statistics-about-statistics
	// singleton that records drops, pull delays, and guardrail hits.
	Stats() *StatsCache
}

type envState struct {
	name  string
	queue amboy.Queue
	conf  *Configuration
	stats *StatsCache
	mutex sync.RWMutex
}

func (c *envState) Configure(conf *Configuration) error {
	if err := conf.Validate(); err != nil {
		return errors.WithStack(err)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.conf = conf
	c.queue = queue.NewLocalLimitedSize(conf.NumQueueWorkers, 1024)
	grip.Infof("configured local queue with %d workers", conf.NumQueueWorkers)

	if conf.UseSystemLogger {
		if err := grip.SetSender(systemLogger()); err != nil {
			return errors.Wrap(err, "setting system logger")
		}
	}

	return nil
}

func (c *envState) SetQueue(q amboy.Queue) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.queue != nil {
		return errors.New("queue exists, cannot overwrite")
	}
	if q == nil {
		return errors.New("cannot set queue to nil")
	}

	c.queue = q
	grip.Noticef("caching a '%T' queue in the '%s' environment for use by background jobs", q, c.name)
	return nil
}

func (c *envState) GetQueue() (amboy.Queue, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if c.queue == nil {
		return nil, errors.New("no queue defined in the environment")
	}

	return c.queue, nil
}

func (c *envState) GetConf() (*Configuration, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if c.conf == nil {
		return nil, errors.New("configuration is not set")
	}

	out := &Configuration{}
	*out = *c.conf
	return out, nil
}

func (c *envState) Stats() *StatsCache { return c.stats }
