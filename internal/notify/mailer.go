package notify

import (
	"bytes"
	"fmt"
	"net/smtp"
	"strconv"
	"strings"
)

// MailConfig holds SMTP settings.
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// Mailer sends HTML email.
type Mailer interface {
	IsConfigured() bool
	SendHTML(to []string, subject, htmlBody string) error
}

// SMTPMailer sends mail through an SMTP relay.
type SMTPMailer struct {
	config MailConfig
	server string
	auth   smtp.Auth
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer creates a mailer. Credentials are optional.
func NewSMTPMailer(config MailConfig) *SMTPMailer {
	m := &SMTPMailer{
		config: config,
		server: config.Host + ":" + strconv.Itoa(config.Port),
		send:   smtp.SendMail,
	}
	if config.Username != "" {
		m.auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return m
}

// IsConfigured reports whether host, port and sender are set.
func (m *SMTPMailer) IsConfigured() bool {
	return m.config.Host != "" && m.config.Port != 0 && m.config.From != ""
}

func (m *SMTPMailer) SendHTML(to []string, subject, htmlBody string) error {
	if !m.IsConfigured() {
		return fmt.Errorf("mail not configured")
	}

	from := m.config.From
	if m.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", m.config.FromName, m.config.From)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)

	return m.send(m.server, m.auth, m.config.From, to, msg.Bytes())
}
