package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peaceseal.io/herald/internal/api/handlers"
	"peaceseal.io/herald/internal/app/modules"
	"peaceseal.io/herald/internal/config"
	"peaceseal.io/herald/internal/pkg/logger"
	"peaceseal.io/herald/internal/pkg/worker"
)

func init() {
	_ = logger.Init("error", "json")
}

func TestBootstrap_UnreachableDatabase(t *testing.T) {
	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Host:     "localhost",
			Port:     65432,
			User:     "herald",
			Password: "herald",
			Database: "herald",
			SSLMode:  "disable",
			MaxConns: 5,
			MinConns: 1,
		},
		Worker: config.WorkerConfig{
			GeneralPoolSize: 10,
			FanoutPoolSize:  5,
		},
	}

	app, err := Bootstrap(context.Background(), cfg)
	require.Error(t, err)
	assert.Nil(t, app)
}

// drainModule records how it was shut down. While it drains, the worker
// pools must still accept work.
type drainModule struct {
	pools       *worker.Pools
	called      atomic.Int32
	hadDeadline atomic.Bool
	poolsOpen   atomic.Bool
	err         error
}

func (m *drainModule) Name() string { return "drain" }
func (m *drainModule) ContributeServerDeps(*handlers.ServerDeps) {}
func (m *drainModule) RegisterWorkers(*river.Workers) {}

func (m *drainModule) Shutdown(ctx context.Context) error {
	m.called.Add(1)
	_, ok := ctx.Deadline()
	m.hadDeadline.Store(ok)
	m.poolsOpen.Store(m.pools.SubmitDetached("fanout", func(context.Context) {}) == nil)
	return m.err
}

func TestApplication_ShutdownDrainsModulesBeforePools(t *testing.T) {
	pools, err := worker.NewPools(context.Background(), worker.PoolConfig{GeneralPoolSize: 2, FanoutPoolSize: 2})
	require.NoError(t, err)

	// A fan-out batch in flight when shutdown starts.
	started := make(chan struct{})
	cancelled := make(chan struct{})
	require.NoError(t, pools.SubmitDetached("fanout", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	}))
	<-started

	first := &drainModule{pools: pools, err: errors.New("hint store flush failed")}
	second := &drainModule{pools: pools}
	app := &Application{
		Pools:   pools,
		Modules: []modules.Module{first, nil, second},
	}

	app.Shutdown()

	for _, m := range []*drainModule{first, second} {
		assert.EqualValues(t, 1, m.called.Load())
		assert.True(t, m.hadDeadline.Load())
		assert.True(t, m.poolsOpen.Load())
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("in-flight fan-out task did not observe shutdown")
	}

	err = pools.SubmitDetached("general", func(context.Context) {})
	assert.ErrorIs(t, err, worker.ErrPoolClosed)
}

func TestApplication_Shutdown_Empty(t *testing.T) {
	app := &Application{}
	assert.NotPanics(t, app.Shutdown)
}
