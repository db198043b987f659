// Package mailer delivers password-reset mail. The queue mailer hands the
// job to a broker for an external mail worker; the SMTP mailer sends
// directly; the noop mailer drops mail on the floor for local development.
package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/akram-events/apiserver/config"
	"github.com/akram-events/apiserver/internal/mq"
)

// QueueMailer publishes reset-mail jobs to a broker queue.
type QueueMailer struct {
	publisher mq.Publisher
	queue     string
	from      string
	resetURL  string
}

// resetMailJob is the payload the external mail worker consumes. It carries
// the plaintext token; the queue is a delivery channel, not a store.
type resetMailJob struct {
	Type     string `json:"type"`
	To       string `json:"to"`
	Name     string `json:"name"`
	From     string `json:"from"`
	ResetURL string `json:"reset_url"`
}

func NewQueueMailer(publisher mq.Publisher, cfg config.MailConfig) *QueueMailer {
	return &QueueMailer{
		publisher: publisher,
		queue:     cfg.Queue,
		from:      cfg.From,
		resetURL:  strings.TrimRight(cfg.ResetURL, "/"),
	}
}

func (m *QueueMailer) SendPasswordReset(ctx context.Context, to, name, token string) error {
	job := resetMailJob{
		Type:     "password_reset",
		To:       to,
		Name:     name,
		From:     m.from,
		ResetURL: fmt.Sprintf("%s/%s", m.resetURL, token),
	}
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = m.publisher.Publish(ctx, m.queue, data, map[string]string{"type": job.Type})
	return err
}

// Close closes the underlying publisher.
func (m *QueueMailer) Close() error {
	return m.publisher.Close()
}

// SMTPMailer sends reset mail directly over SMTP.
type SMTPMailer struct {
	cfg      config.SMTPConfig
	from     string
	resetURL string
}

func NewSMTPMailer(cfg config.MailConfig) (*SMTPMailer, error) {
	if strings.TrimSpace(cfg.SMTP.Host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	return &SMTPMailer{
		cfg:      cfg.SMTP,
		from:     cfg.From,
		resetURL: strings.TrimRight(cfg.ResetURL, "/"),
	}, nil
}

func (m *SMTPMailer) SendPasswordReset(_ context.Context, to, name, token string) error {
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	link := fmt.Sprintf("%s/%s", m.resetURL, token)

	body := fmt.Sprintf(
		"Hi %s,\r\n\r\n"+
			"A password reset was requested for your account. "+
			"Follow the link below to choose a new password:\r\n\r\n%s\r\n\r\n"+
			"If you did not request this, you can ignore this mail.\r\n",
		name, link,
	)
	msg := "From: " + m.from + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: Password reset\r\n" +
		"Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n" +
		body

	var auth smtp.Auth
	if m.cfg.User != "" {
		auth = smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)
	}
	return smtp.SendMail(addr, auth, m.from, []string{to}, []byte(msg))
}

// NoopMailer discards mail. It logs that a send was skipped but never the
// token itself.
type NoopMailer struct{}

func (NoopMailer) SendPasswordReset(_ context.Context, to, _, _ string) error {
	slog.Warn("mail backend not configured, dropping password reset mail", "to", to)
	return nil
}
