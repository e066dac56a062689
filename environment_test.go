package statsbeam

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvironmentConfigureRejectsInvalidConfig(t *testing.T) {
	env := &envState{name: "test"}
	err := env.Configure(&Configuration{})
	assert.Error(t, err)
}

func TestEnvironmentConfigureSetsQueue(t *testing.T) {
	env := &envState{name: "test"}
	err := env.Configure(&Configuration{
		NumQueueWorkers:   2,
		DefaultBucketSize: time.Second,
	})
	require.NoError(t, err)

	q, err := env.GetQueue()
	require.NoError(t, err)
	assert.NotNil(t, q)
}

func TestEnvironmentGetConfReturnsCopy(t *testing.T) {
	env := &envState{name: "test"}
	require.NoError(t, env.Configure(&Configuration{NumQueueWorkers: 1, DefaultBucketSize: time.Second}))

	conf, err := env.GetConf()
	require.NoError(t, err)
	conf.NumQueueWorkers = 99

	again, err := env.GetConf()
	require.NoError(t, err)
	assert.Equal(t, 1, again.NumQueueWorkers, "GetConf must return an independent copy")
}

func TestEnvironmentSetQueueRejectsOverwrite(t *testing.T) {
	env := &envState{name: "test"}
	require.NoError(t, env.Configure(&Configuration{NumQueueWorkers: 1, DefaultBucketSize: time.Second}))

	q, err := env.GetQueue()
	require.NoError(t, err)

	assert.Error(t, env.SetQueue(q))
	assert.Error(t, env.SetQueue(nil))
}
