package notify

import (
	"context"
	"path/filepath"
	"time"

	"github.com/wneessen/go-mail"

	docerrors "github.com/conneroisu/docrelay/internal/errors"
)

// ImplicitTLSPort selects TLS-on-connect instead of STARTTLS.
const ImplicitTLSPort = 465

// Envelope is a fully prepared message: escaping is already applied.
type Envelope struct {
	From           string
	To             []string
	Cc             []string
	Subject        string
	Body           string
	HTML           bool
	AttachmentPath string
}

// Transport delivers one envelope. Implementations do not retry.
type Transport interface {
	Send(ctx context.Context, env Envelope) error
}

// SMTPConfig describes the outbound relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

// MailTransport sends through an SMTP relay with go-mail, opening one
// connection per message.
type MailTransport struct {
	cfg SMTPConfig
}

// NewMailTransport creates a transport for cfg.
func NewMailTransport(cfg SMTPConfig) *MailTransport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &MailTransport{cfg: cfg}
}

// ClientOptions returns the go-mail options for the configured relay.
// Port 465 uses implicit TLS, any other port requires STARTTLS.
func (t *MailTransport) ClientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(t.cfg.Port),
		mail.WithTimeout(t.cfg.Timeout),
	}
	if t.cfg.Port == ImplicitTLSPort {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	if t.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(t.cfg.Username),
			mail.WithPassword(t.cfg.Password),
		)
	}
	return opts
}

// Send implements Transport.
func (t *MailTransport) Send(ctx context.Context, env Envelope) error {
	msg, err := BuildMessage(env)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(t.cfg.Host, t.ClientOptions()...)
	if err != nil {
		return docerrors.WrapDelivery(err, docerrors.ErrCodeSendFailed, "configuring SMTP client")
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return docerrors.WrapDelivery(err, docerrors.ErrCodeSendFailed, "SMTP delivery failed")
	}
	return nil
}

// BuildMessage renders env as a MIME message.
func BuildMessage(env Envelope) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(env.From); err != nil {
		return nil, docerrors.WrapDelivery(err, docerrors.ErrCodeSendFailed, "invalid sender address")
	}
	if err := msg.To(env.To...); err != nil {
		return nil, docerrors.WrapDelivery(err, docerrors.ErrCodeSendFailed, "invalid recipient address")
	}
	if len(env.Cc) > 0 {
		if err := msg.Cc(env.Cc...); err != nil {
			return nil, docerrors.WrapDelivery(err, docerrors.ErrCodeSendFailed, "invalid cc address")
		}
	}
	msg.Subject(env.Subject)

	bodyType := mail.TypeTextPlain
	if env.HTML {
		bodyType = mail.TypeTextHTML
	}
	msg.SetBodyString(bodyType, env.Body)

	if env.AttachmentPath != "" {
		msg.AttachFile(env.AttachmentPath,
			mail.WithFileName(filepath.Base(env.AttachmentPath)),
			mail.WithFileContentType(mail.ContentType("application/pdf")))
	}
	return msg, nil
}
