package notification

import (
	"context"

	"go.uber.org/zap"

	"peaceseal.io/herald/internal/pkg/logger"
)

// Email is one outgoing notification email.
type Email struct {
	To      string
	Subject string
	Body    string
	Link    string
}

// Mailer delivers Email through a vendor. Vendor integrations live outside
// this repository.
type Mailer interface {
	Send(ctx context.Context, msg Email) error
}

// LogMailer writes emails to the log instead of sending them.
type LogMailer struct{}

// Send implements Mailer.
func (LogMailer) Send(ctx context.Context, msg Email) error {
	logger.From(ctx).Info("notification email",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("link", msg.Link),
	)
	return nil
}

// EmailFor renders rec as an email addressed to to.
func EmailFor(rec Record, to string) Email {
	return Email{
		To:      to,
		Subject: rec.Title,
		Body:    rec.Body,
		Link:    rec.Href,
	}
}
