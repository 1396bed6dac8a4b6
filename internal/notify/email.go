package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/gomail.v2"
)

const (
	smtpDialTimeout = 10 * time.Second
	// smtpSessionTimeout bounds a session whatever the caller's context.
	smtpSessionTimeout = 2 * time.Minute
	smtpsPort          = 465
)

// EmailConfig configures SMTP delivery.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// EmailNotifier sends the report as a plain-text email with attachments.
type EmailNotifier struct {
	cfg  EmailConfig
	send func(context.Context, *gomail.Message) error
}

// NewEmailNotifier creates an SMTP notifier.
func NewEmailNotifier(cfg EmailConfig) (*EmailNotifier, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.From == "" {
		return nil, errors.New("smtp sender address is required")
	}

	e := &EmailNotifier{cfg: cfg}
	e.send = e.deliver
	return e, nil
}

func (e *EmailNotifier) Name() string { return "email" }

// Notify sends msg. It returns once the SMTP session ends or ctx is done,
// whichever comes first.
func (e *EmailNotifier) Notify(ctx context.Context, msg Message) error {
	to := e.recipients(msg)
	if len(to) == 0 {
		return errors.New("no email recipients configured")
	}

	if err := e.send(ctx, e.buildMessage(msg, to)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("send email: %w", ctxErr)
		}
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// deliver runs one SMTP session for m. Pending I/O is interrupted as soon
// as ctx is done, so the session never outlives the caller.
func (e *EmailNotifier) deliver(ctx context.Context, m *gomail.Message) error {
	dialer := &net.Dialer{Timeout: smtpDialTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port)))
	if err != nil {
		return err
	}
	defer raw.Close()

	if err := raw.SetDeadline(time.Now().Add(smtpSessionTimeout)); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = raw.SetDeadline(time.Now()) })
	defer stop()

	tlsConfig := &tls.Config{ServerName: e.cfg.Host}
	conn := raw
	if e.cfg.Port == smtpsPort {
		conn = tls.Client(raw, tlsConfig)
	}

	c, err := smtp.NewClient(conn, e.cfg.Host)
	if err != nil {
		return err
	}
	defer c.Close()

	if e.cfg.Port != smtpsPort {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsConfig); err != nil {
				return err
			}
		}
	}
	if e.cfg.Username != "" {
		if ok, mechs := c.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
			if strings.Contains(mechs, "CRAM-MD5") {
				auth = smtp.CRAMMD5Auth(e.cfg.Username, e.cfg.Password)
			}
			if err := c.Auth(auth); err != nil {
				return err
			}
		}
	}

	send := gomail.SendFunc(func(from string, to []string, msg io.WriterTo) error {
		if err := c.Mail(from); err != nil {
			return err
		}
		for _, addr := range to {
			if err := c.Rcpt(addr); err != nil {
				return err
			}
		}
		w, err := c.Data()
		if err != nil {
			return err
		}
		if _, err := msg.WriteTo(w); err != nil {
			w.Close()
			return err
		}
		return w.Close()
	})
	if err := gomail.Send(send, m); err != nil {
		return err
	}
	return c.Quit()
}

func (e *EmailNotifier) recipients(msg Message) []string {
	seen := make(map[string]bool)
	var out []string
	for _, addr := range append(append([]string{}, e.cfg.To...), msg.Recipients...) {
		addr = strings.TrimSpace(addr)
		key := strings.ToLower(addr)
		if addr == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, addr)
	}
	return out
}

func (e *EmailNotifier) buildMessage(msg Message, to []string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", e.cfg.From)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)

	for _, a := range msg.Attachments {
		data := a.Data
		settings := []gomail.FileSetting{
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(data)
				return err
			}),
		}
		if a.ContentType != "" {
			settings = append(settings, gomail.SetHeader(map[string][]string{
				"Content-Type": {a.ContentType},
			}))
		}
		m.Attach(a.Name, settings...)
	}
	return m
}
