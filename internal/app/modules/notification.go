package modules

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"

	"peaceseal.io/herald/internal/api/handlers"
	"peaceseal.io/herald/internal/jobs"
	"peaceseal.io/herald/internal/notification"
)

// NotificationModule owns the persisted side of notifications: the record
// store, the user directory, preferences, read state and latest hints.
// It registers the retention and email workers.
type NotificationModule struct {
	store     notification.Store
	directory notification.Directory
	prefs     notification.PreferenceStore
	hints     notification.HintStore
	reads     *notification.ReadTracker
	mailer    notification.Mailer
	retention time.Duration
}

// NewNotificationModule creates the module on the shared pool. Latest hints
// are enabled only when Redis is configured.
func NewNotificationModule(infra *Infrastructure) (*NotificationModule, error) {
	if infra == nil || infra.Pool == nil || infra.Config == nil {
		return nil, fmt.Errorf("notification module requires config and pgx pool")
	}

	store := notification.NewPostgresStore(infra.Pool)
	directory := notification.NewPostgresDirectory(infra.Pool)

	m := &NotificationModule{
		store:     store,
		directory: directory,
		prefs:     notification.NewPostgresPreferenceStore(infra.Pool),
		reads:     notification.NewReadTracker(store, directory),
		mailer:    notification.LogMailer{},
		retention: infra.Config.Notification.Retention,
	}
	if infra.Redis != nil {
		m.hints = notification.NewRedisHintStore(infra.Redis, infra.Config.Notification.HintTTL)
	}
	return m, nil
}

func (m *NotificationModule) Name() string { return "notification" }

func (m *NotificationModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Store = m.store
	deps.ReadTracker = m.reads
	deps.Preferences = m.prefs
	if m.hints != nil {
		deps.Hints = m.hints
	}
}

// RegisterWorkers registers the retention and email workers. The email
// worker is registered even when the channel is off so queued jobs drain.
func (m *NotificationModule) RegisterWorkers(workers *river.Workers) {
	river.AddWorker(workers, jobs.NewNotificationCleanupWorker(m.store, m.retention))
	river.AddWorker(workers, jobs.NewNotificationEmailWorker(m.prefs, m.directory, m.mailer))
}

func (m *NotificationModule) Shutdown(context.Context) error { return nil }
