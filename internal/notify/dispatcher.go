// Package notify delivers document notifications and operational alerts by
// email.
package notify

import (
	"context"
	"os"
	"strings"
	"time"

	"golang.org/x/net/html"

	docerrors "github.com/conneroisu/docrelay/internal/errors"
	"github.com/conneroisu/docrelay/internal/logging"
)

const (
	DefaultAttempts = 3
	DefaultBackoff  = 2 * time.Second
)

// Message is what callers ask the dispatcher to send. Subject is always
// HTML-escaped; Body is escaped unless HTML is set.
type Message struct {
	To             []string
	Cc             []string
	Subject        string
	Body           string
	AttachmentPath string
	HTML           bool
}

// Sender is the dispatch capability the pipeline and alerting depend on.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Dispatcher wraps a Transport with escaping, attachment checks and retry.
type Dispatcher struct {
	from      string
	transport Transport
	attempts  int
	backoff   time.Duration
	logger    logging.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithRetry overrides the attempt count and the fixed backoff between them.
func WithRetry(attempts int, backoff time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if attempts > 0 {
			d.attempts = attempts
		}
		if backoff >= 0 {
			d.backoff = backoff
		}
	}
}

// NewDispatcher creates a dispatcher sending as from.
func NewDispatcher(from string, transport Transport, logger logging.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	d := &Dispatcher{
		from:      from,
		transport: transport,
		attempts:  DefaultAttempts,
		backoff:   DefaultBackoff,
		logger:    logger.WithComponent("dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send delivers msg, retrying transport failures with a fixed backoff. It
// returns a delivery error once attempts are exhausted; it never panics.
func (d *Dispatcher) Send(ctx context.Context, msg Message) error {
	env := Envelope{
		From:           d.from,
		To:             msg.To,
		Cc:             msg.Cc,
		// template subjects arrive with their groups already escaped and
		// are escaped once more here, as the notification format requires
		Subject:        html.EscapeString(msg.Subject),
		Body:           msg.Body,
		HTML:           msg.HTML,
		AttachmentPath: msg.AttachmentPath,
	}
	if !msg.HTML {
		env.Body = html.EscapeString(msg.Body)
	}

	if len(env.To) == 0 {
		return docerrors.NewDeliveryError(docerrors.ErrCodeSendFailed, "no recipients", nil)
	}

	if env.AttachmentPath != "" {
		f, err := os.Open(env.AttachmentPath)
		if err != nil {
			d.logger.Error(ctx, err, "Failed to attach file", "path", logging.MaskPath(env.AttachmentPath))
			return docerrors.WrapDelivery(err, docerrors.ErrCodeAttachFailed, "attachment unreadable")
		}
		_ = f.Close()
	}

	to := strings.Join(logging.MaskEmails(env.To), ", ")
	cc := strings.Join(logging.MaskEmails(env.Cc), ", ")

	var lastErr error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		lastErr = d.transport.Send(ctx, env)
		if lastErr == nil {
			if cc != "" {
				d.logger.Info(ctx, "Email sent", "to", to, "cc", cc, "attached", env.AttachmentPath != "")
			} else {
				d.logger.Info(ctx, "Email sent", "to", to, "attached", env.AttachmentPath != "")
			}
			return nil
		}

		d.logger.Warn(ctx, lastErr, "Email send attempt failed", "attempt", attempt, "max_attempts", d.attempts)
		if attempt == d.attempts {
			break
		}
		if !sleepCtx(ctx, d.backoff) {
			lastErr = ctx.Err()
			break
		}
	}

	d.logger.Error(ctx, lastErr, "Failed to send email", "attempts", d.attempts, "to", to)
	return docerrors.WrapDelivery(lastErr, docerrors.ErrCodeSendFailed, "email not sent")
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
