package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"peaceseal.io/herald/internal/notification"
	"peaceseal.io/herald/internal/pkg/logger"
)

// NotificationEmailArgs carries a snapshot of the written record. Records are
// immutable apart from readAt, so the snapshot is as good as a re-read.
type NotificationEmailArgs struct {
	Record notification.Record `json:"record"`
}

// Kind returns the job kind identifier for notification email delivery.
func (NotificationEmailArgs) Kind() string { return "notification_email" }

// InsertOpts deduplicates on the record snapshot and retries transient
// mailer failures.
func (NotificationEmailArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 5,
		UniqueOpts: river.UniqueOpts{
			ByArgs:  true,
			ByQueue: true,
		},
	}
}

// NotificationEmailWorker delivers one notification by email when the
// recipient has the email channel enabled.
//
// Execution flow:
//  1. Read the recipient's preferences; skip when email is disabled
//  2. Resolve the address in the directory; cancel when unknown
//  3. Render and hand the email to the Mailer; a Mailer error is retried
type NotificationEmailWorker struct {
	river.WorkerDefaults[NotificationEmailArgs]
	prefs     notification.PreferenceStore
	directory notification.Directory
	mailer    notification.Mailer
}

// NewNotificationEmailWorker creates the worker. A nil mailer logs instead
// of sending.
func NewNotificationEmailWorker(prefs notification.PreferenceStore, directory notification.Directory, mailer notification.Mailer) *NotificationEmailWorker {
	if mailer == nil {
		mailer = notification.LogMailer{}
	}
	return &NotificationEmailWorker{prefs: prefs, directory: directory, mailer: mailer}
}

// Work implements river.Worker.
func (w *NotificationEmailWorker) Work(ctx context.Context, job *river.Job[NotificationEmailArgs]) error {
	if w == nil || w.prefs == nil || w.directory == nil {
		return fmt.Errorf("notification email worker is not initialized")
	}
	rec := job.Args.Record
	log := logger.From(ctx).With(
		zap.String("user_id", rec.UserID),
		zap.String("notification_id", rec.ID),
	)

	prefs, err := w.prefs.Get(ctx, rec.UserID)
	if err != nil {
		return fmt.Errorf("load preferences for %s: %w", rec.UserID, err)
	}
	if !prefs.EmailEnabled {
		log.Debug("email channel disabled, skipping")
		return nil
	}

	to, err := w.directory.LookupEmail(ctx, rec.UserID)
	if errors.Is(err, notification.ErrUserNotFound) {
		return river.JobCancel(fmt.Errorf("recipient %s: %w", rec.UserID, err))
	}
	if err != nil {
		return fmt.Errorf("lookup email for %s: %w", rec.UserID, err)
	}
	to = strings.TrimSpace(to)
	if to == "" {
		log.Debug("recipient has no email address, skipping")
		return nil
	}

	if err := w.mailer.Send(ctx, notification.EmailFor(rec, to)); err != nil {
		return fmt.Errorf("send notification email: %w", err)
	}
	log.Info("notification email sent")
	return nil
}

// InsertFunc enqueues a job. (*river.Client).Insert adapts to it.
type InsertFunc func(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) error

// RiverOutbox implements notification.Outbox by enqueueing
// NotificationEmailArgs.
type RiverOutbox struct {
	insert InsertFunc
}

// NewRiverOutbox creates an outbox on top of a started or unstarted client.
func NewRiverOutbox(client *river.Client[pgx.Tx]) *RiverOutbox {
	return NewOutbox(func(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) error {
		_, err := client.Insert(ctx, args, opts)
		return err
	})
}

// NewOutbox creates an outbox over an arbitrary insert function.
func NewOutbox(insert InsertFunc) *RiverOutbox {
	return &RiverOutbox{insert: insert}
}

// EnqueueEmail implements notification.Outbox.
func (o *RiverOutbox) EnqueueEmail(ctx context.Context, rec notification.Record) error {
	if err := o.insert(ctx, NotificationEmailArgs{Record: rec}, nil); err != nil {
		return fmt.Errorf("enqueue notification email: %w", err)
	}
	return nil
}

var _ notification.Outbox = (*RiverOutbox)(nil)
