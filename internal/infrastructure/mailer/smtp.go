package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/hilthontt/socialbook/internal/infrastructure/configs"
	"github.com/hilthontt/socialbook/internal/infrastructure/logging"
)

const implicitTLSPort = 465

type Email struct {
	From    string
	To      string
	Subject string
	Body    string
}

type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// emailSender abstracts the transport for testing.
type emailSender interface {
	send(ctx context.Context, from string, to []string, msg []byte) error
}

// SMTPMailer sends plain-text mail through a relay. Port 465 uses implicit TLS;
// other ports upgrade with STARTTLS when the server offers it.
type SMTPMailer struct {
	cfg    configs.SMTPConfig
	sender emailSender
	logger logging.Logger
	now    func() time.Time
}

func NewSMTPMailer(cfg configs.SMTPConfig, logger logging.Logger) *SMTPMailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPMailer{
		cfg:    cfg,
		sender: &smtpSender{config: cfg, timeout: 30 * time.Second},
		logger: logger,
		now:    time.Now,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, email Email) error {
	if email.From == "" {
		email.From = m.cfg.From
	}
	if email.To == "" {
		return fmt.Errorf("email recipient is required")
	}

	start := m.now()
	if err := m.sender.send(ctx, email.From, []string{email.To}, buildMessage(email, m.now())); err != nil {
		return fmt.Errorf("send to %s: %w", email.To, err)
	}

	m.logger.Info(logging.SMTP, logging.SendEmail, "email sent", map[logging.ExtraKey]any{
		logging.Recipient: email.To,
		logging.Latency:   m.now().Sub(start).String(),
	})
	return nil
}

func buildMessage(email Email, date time.Time) []byte {
	var b strings.Builder
	b.WriteString("From: " + headerValue(email.From) + "\r\n")
	b.WriteString("To: " + headerValue(email.To) + "\r\n")
	b.WriteString("Subject: " + headerValue(email.Subject) + "\r\n")
	b.WriteString("Date: " + date.UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(email.Body)
	return []byte(b.String())
}

func headerValue(v string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(v)
}

type smtpSender struct {
	config  configs.SMTPConfig
	timeout time.Duration
}

func (s *smtpSender) send(ctx context.Context, from string, to []string, msg []byte) error {
	client, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish message: %w", err)
	}

	return client.Quit()
}

func (s *smtpSender) dial(ctx context.Context) (*smtp.Client, error) {
	host := s.config.Host
	addr := net.JoinHostPort(host, strconv.Itoa(s.config.Port))
	dialer := &net.Dialer{Timeout: s.timeout}
	tlsConfig := &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}

	var conn net.Conn
	var err error
	if s.config.Port == implicitTLSPort {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(s.timeout))
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("smtp handshake: %w", err)
	}

	if s.config.Port != implicitTLSPort {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				_ = client.Close()
				return nil, fmt.Errorf("STARTTLS: %w", err)
			}
		}
	}

	if s.config.User != "" && s.config.Pass != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(smtp.PlainAuth("", s.config.User, s.config.Pass, host)); err != nil {
				_ = client.Close()
				return nil, fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	return client, nil
}
