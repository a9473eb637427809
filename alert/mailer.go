package alert

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

// Mailer delivers one plain-text message.
type Mailer interface {
	Send(subject, body string) error
}

// SMTPConfig configures the SMTP mail submission transport.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       []string
}

// SMTPMailer sends alerts over authenticated SMTP.
type SMTPMailer struct {
	config SMTPConfig
}

// NewSMTPMailer builds a mailer, or returns an error when the transport is
// not fully configured.
func NewSMTPMailer(config SMTPConfig) (*SMTPMailer, error) {
	if config.Host == "" || config.From == "" || len(config.To) == 0 {
		return nil, fmt.Errorf("smtp mailer requires host, from and at least one recipient")
	}
	if config.Port == 0 {
		config.Port = 587
	}
	return &SMTPMailer{config: config}, nil
}

// Send submits one message. PLAIN auth is used when credentials are set.
func (m *SMTPMailer) Send(subject, body string) error {
	addr := fmt.Sprintf("%s:%d", m.config.Host, m.config.Port)

	var auth smtp.Auth
	if m.config.User != "" {
		auth = smtp.PlainAuth("", m.config.User, m.config.Password, m.config.Host)
	}

	msg := strings.Join([]string{
		"Date: " + time.Now().Format(time.RFC1123Z),
		"From: " + m.config.From,
		"To: " + strings.Join(m.config.To, ", "),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")

	return smtp.SendMail(addr, auth, m.config.From, m.config.To, []byte(msg))
}
