package modules

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peaceseal.io/herald/internal/api/handlers"
	"peaceseal.io/herald/internal/config"
	"peaceseal.io/herald/internal/stream"
)

func TestNewNotificationModule_RequiresInfraDependencies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		infra *Infrastructure
	}{
		{name: "nil infra", infra: nil},
		{name: "missing all core deps", infra: &Infrastructure{}},
		{name: "missing pool", infra: &Infrastructure{Config: &config.Config{}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewNotificationModule(tc.infra)
			assert.Error(t, err)
		})
	}
}

func newTestInfra(cfg *config.Config) *Infrastructure {
	// The pool is never dialed: stores connect lazily on first use.
	return &Infrastructure{Config: cfg, Pool: &pgxpool.Pool{}}
}

func TestNotificationModule_Wiring(t *testing.T) {
	t.Parallel()

	notif, err := NewNotificationModule(newTestInfra(&config.Config{}))
	require.NoError(t, err)
	assert.Equal(t, "notification", notif.Name())
	assert.Nil(t, notif.hints, "hints stay off without redis")

	workers := river.NewWorkers()
	assert.NotPanics(t, func() { notif.RegisterWorkers(workers) })

	var deps handlers.ServerDeps
	notif.ContributeServerDeps(&deps)
	assert.NotNil(t, deps.Store)
	assert.NotNil(t, deps.ReadTracker)
	assert.NotNil(t, deps.Preferences)
	assert.Nil(t, deps.Hints)
}

func TestNewDeliveryModule(t *testing.T) {
	t.Parallel()

	_, err := NewDeliveryModule(nil, nil)
	assert.Error(t, err)

	infra := newTestInfra(&config.Config{})
	notif, err := NewNotificationModule(infra)
	require.NoError(t, err)

	delivery, err := NewDeliveryModule(infra, notif)
	require.NoError(t, err)

	var deps handlers.ServerDeps
	delivery.ContributeServerDeps(&deps)
	assert.NotNil(t, deps.Writer)
	assert.NotNil(t, deps.Dispatcher)
	require.NotNil(t, deps.Events)
	assert.True(t, deps.Events.Handles("CONTENT_REPORTED"))
}

func TestNewDeliveryModule_EmailRequiresRiver(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Notification: config.NotificationConfig{EmailEnabled: true}}
	infra := newTestInfra(cfg)
	notif, err := NewNotificationModule(infra)
	require.NoError(t, err)

	_, err = NewDeliveryModule(infra, notif)
	assert.Error(t, err)
}

func TestNewServerDeps(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Security: config.SecurityConfig{
			JWTSecret:           "current-secret-0123456789abcdef0123",
			JWTVerificationKeys: []string{" previous-secret ", ""},
			JWTIssuer:           "peace-auth",
			DevTokenTTL:         time.Hour,
		},
		Stream: config.StreamConfig{CallBudget: 20, PollFloor: time.Second},
	}
	infra := newTestInfra(cfg)
	notif, err := NewNotificationModule(infra)
	require.NoError(t, err)

	deps := NewServerDeps(cfg, infra, []Module{notif, nil})
	assert.Equal(t, []byte(cfg.Security.JWTSecret), deps.JWTCfg.SigningKey)
	assert.Equal(t, [][]byte{[]byte("previous-secret")}, deps.JWTCfg.VerificationKeys)
	assert.Equal(t, "peace-auth", deps.JWTCfg.Issuer)
	assert.Equal(t, 20, deps.StreamCfg.CallBudget)
	assert.Equal(t, time.Second, deps.StreamCfg.PollFloor)
	assert.Equal(t, stream.DefaultConfig().PollCeiling, deps.StreamCfg.PollCeiling)
	assert.NotNil(t, deps.Store)
}
