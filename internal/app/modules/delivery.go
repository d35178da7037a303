package modules

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"

	"peaceseal.io/herald/internal/api/handlers"
	"peaceseal.io/herald/internal/domain"
	"peaceseal.io/herald/internal/jobs"
	"peaceseal.io/herald/internal/notification"
)

// DeliveryModule wires the write path: Writer, fan-out Dispatcher and the
// domain event triggers. It is created after the River client because the
// email outbox enqueues through it.
type DeliveryModule struct {
	writer     *notification.Writer
	dispatcher *notification.Dispatcher
	events     *domain.EventDispatcher
}

// NewDeliveryModule creates the delivery module on top of the persisted side.
func NewDeliveryModule(infra *Infrastructure, notif *NotificationModule) (*DeliveryModule, error) {
	if infra == nil || infra.Config == nil || notif == nil {
		return nil, fmt.Errorf("delivery module requires infrastructure and notification module")
	}

	var opts []notification.WriterOption
	if notif.hints != nil {
		opts = append(opts, notification.WithHints(notif.hints))
	}
	if infra.Config.Notification.EmailEnabled {
		if infra.RiverClient == nil {
			return nil, fmt.Errorf("email channel requires river client")
		}
		opts = append(opts, notification.WithOutbox(jobs.NewRiverOutbox(infra.RiverClient)))
	}
	writer := notification.NewWriter(notif.store, opts...)

	// A nil pool makes the dispatcher write recipients inline.
	var fanout notification.Submitter
	if infra.Pools != nil {
		fanout = infra.Pools.Fanout
	}
	dispatcher := notification.NewDispatcher(writer, notif.directory, fanout)

	events := domain.NewEventDispatcher()
	notification.NewTriggers(writer, dispatcher).Register(events)

	return &DeliveryModule{writer: writer, dispatcher: dispatcher, events: events}, nil
}

func (m *DeliveryModule) Name() string { return "delivery" }

func (m *DeliveryModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Writer = m.writer
	deps.Dispatcher = m.dispatcher
	deps.Events = m.events
}

func (m *DeliveryModule) RegisterWorkers(_ *river.Workers) {}

func (m *DeliveryModule) Shutdown(context.Context) error { return nil }
