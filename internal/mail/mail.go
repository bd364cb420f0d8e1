// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package mail delivers notification emails. The dispatcher only sees the
// Mailer interface; retries are its concern, not the transport's.
package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// Mailer sends a single plain-text message to one recipient.
type Mailer interface {
	Send(ctx context.Context, subject, body, recipient string) error
}

// ErrInvalidRecipient is returned for addresses that can never be delivered.
var ErrInvalidRecipient = errors.New("mail: invalid recipient")

// DefaultTimeout bounds one delivery when SMTPConfig.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// SMTPConfig describes the relay and the envelope sender.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string // PLAIN auth is used when set
	Password string
	From     string
	Timeout  time.Duration
	// Now stamps the Date header. Defaults to time.Now.
	Now func() time.Time
}

// SMTPMailer sends mail through an SMTP relay.
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer creates an SMTPMailer.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SMTPMailer{cfg: cfg}
}

// Send delivers the message over a fresh connection. The whole exchange,
// greeting included, ends at the earlier of the configured timeout and
// the ctx deadline; canceling ctx aborts it.
func (m *SMTPMailer) Send(ctx context.Context, subject, body, recipient string) error {
	if err := validRecipient(recipient); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}

	msg, err := m.message(subject, body, recipient)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(m.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if time.Until(deadline) <= 0 {
		return fmt.Errorf("send mail to %s: %w", recipient, context.DeadlineExceeded)
	}

	var release func() bool
	defer func() {
		if release != nil {
			release()
		}
	}()
	dial := func(dialCtx context.Context, network, addr string) (net.Conn, error) {
		d := net.Dialer{Deadline: deadline}
		conn, err := d.DialContext(dialCtx, network, addr)
		if err != nil {
			return nil, err
		}
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return nil, err
		}
		release = context.AfterFunc(ctx, func() { conn.Close() })
		return conn, nil
	}

	opts := []gomail.Option{
		gomail.WithPort(m.cfg.Port),
		gomail.WithTimeout(time.Until(deadline)),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
		gomail.WithDialContextFunc(dial),
	}
	if m.cfg.User != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(m.cfg.User),
			gomail.WithPassword(m.cfg.Password),
		)
	}

	client, err := gomail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("send mail to %s: %w", recipient, errors.Join(ctxErr, err))
		}
		return fmt.Errorf("send mail to %s: %w", recipient, err)
	}
	return nil
}

// message builds the plain-text message. Header values are RFC 2047
// encoded by go-mail, so non-ASCII names and titles survive the relay.
func (m *SMTPMailer) message(subject, body, recipient string) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return nil, fmt.Errorf("mail from %q: %w", m.cfg.From, err)
	}
	if err := msg.To(recipient); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRecipient, recipient, err)
	}
	msg.Subject(sanitizeHeader(subject))
	msg.SetDateWithValue(m.cfg.Now())
	msg.SetBodyString(gomail.TypeTextPlain, body)
	return msg, nil
}

// LogMailer logs messages instead of sending them. Used in development.
type LogMailer struct{}

// Send logs the message at info level.
func (LogMailer) Send(_ context.Context, subject, body, recipient string) error {
	if err := validRecipient(recipient); err != nil {
		return err
	}
	slog.Info("mail (not sent)", "to", recipient, "subject", subject, "body", body)
	return nil
}

func validRecipient(addr string) error {
	if addr == "" || strings.ContainsAny(addr, "\r\n") || !strings.Contains(addr, "@") {
		return fmt.Errorf("%w: %q", ErrInvalidRecipient, addr)
	}
	return nil
}

// sanitizeHeader strips line breaks so a header value cannot inject more headers.
func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}
