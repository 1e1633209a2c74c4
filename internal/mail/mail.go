// Package mail delivers plain-text email over SMTP (STARTTLS, PLAIN auth).
package mail

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	gomail "github.com/wneessen/go-mail"

	logx "unibot/pkg/logx"
)

const (
	DefaultHost    = "smtp.gmail.com"
	DefaultPort    = 587
	DefaultTimeout = 15 * time.Second
)

var ErrNotConfigured = errors.New("mail: smtp credentials not configured")

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// From defaults to Username.
	From    string
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Host) == "" {
		c.Host = DefaultHost
	}
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.From == "" {
		c.From = c.Username
	}
	return c
}

// Sender is the capability the rest of the bot depends on.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Mailer sends through a fresh SMTP session per message. A failed delivery is retried once
// on a new connection.
type Mailer struct {
	cfg     Config
	log     logx.Logger
	deliver func(ctx context.Context, msg *gomail.Msg) error
}

func New(cfg Config, log logx.Logger) *Mailer {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Mailer{cfg: cfg.withDefaults(), log: log.With(logx.String("comp", "mail"))}
	m.deliver = m.dialAndSend
	return m
}

func (m *Mailer) Configured() bool {
	return m.cfg.Username != "" && m.cfg.Password != ""
}

func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	if !m.Configured() {
		return ErrNotConfigured
	}
	msg, err := m.message(to, subject, body)
	if err != nil {
		return err
	}

	err = m.deliver(ctx, msg)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return errors.Wrap(err, "send mail")
	}
	m.log.Warn("smtp delivery failed; reconnecting", logx.String("to", to), logx.Err(err))
	if err2 := m.deliver(ctx, msg); err2 != nil {
		return errors.Wrap(errors.CombineErrors(err2, err), "send mail")
	}
	return nil
}

func (m *Mailer) message(to, subject, body string) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return nil, errors.Wrap(err, "mail from")
	}
	if err := msg.To(to); err != nil {
		return nil, errors.Wrapf(err, "mail to %q", to)
	}
	msg.Subject(subject)
	msg.SetDate()
	msg.SetMessageID()
	msg.SetBodyString(gomail.TypeTextPlain, body)
	return msg, nil
}

func (m *Mailer) dialAndSend(ctx context.Context, msg *gomail.Msg) error {
	c, err := gomail.NewClient(m.cfg.Host,
		gomail.WithPort(m.cfg.Port),
		gomail.WithTLSPortPolicy(gomail.TLSMandatory),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(m.cfg.Username),
		gomail.WithPassword(m.cfg.Password),
		gomail.WithTimeout(m.cfg.Timeout),
	)
	if err != nil {
		return errors.Wrap(err, "smtp client")
	}
	return c.DialAndSendWithContext(ctx, msg)
}
