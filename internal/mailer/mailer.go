package mailer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"task-tracker/internal/config"
)

type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

func (m Message) validate() error {
	if m.From == "" {
		return errors.New("sender is required")
	}
	if len(m.To) == 0 {
		return errors.New("at least one recipient is required")
	}
	for _, addr := range append([]string{m.From}, m.To...) {
		if strings.ContainsAny(addr, "\r\n") {
			return fmt.Errorf("invalid address %q", addr)
		}
	}
	if strings.ContainsAny(m.Subject, "\r\n") {
		return errors.New("subject must be a single line")
	}
	return nil
}

// Bytes renders the message in RFC 5322 form.
func (m Message) Bytes() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(m.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", m.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(m.Body, "\n", "\r\n"))
	return []byte(b.String())
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

type SMTPMailer struct {
	addr string
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(addr, host, username, password string) *SMTPMailer {
	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &SMTPMailer{addr: addr, auth: auth, send: smtp.SendMail}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := m.send(m.addr, m.auth, msg.From, msg.To, msg.Bytes()); err != nil {
		return fmt.Errorf("smtp send to %s: %w", strings.Join(msg.To, ","), err)
	}
	return nil
}

// LogMailer writes messages to the log instead of delivering them. It keeps
// what it sent so callers can inspect it.
type LogMailer struct {
	mu   sync.Mutex
	sent []Message
}

func NewLogMailer() *LogMailer {
	return &LogMailer{}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()

	log.Printf("Mail to %s: %q (%d bytes)", strings.Join(msg.To, ","), msg.Subject, len(msg.Body))
	return nil
}

func (m *LogMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}

// New picks SMTP delivery when a host is configured and logs otherwise.
func New(cfg *config.Config) Mailer {
	if cfg.Digest.SMTPHost == "" {
		log.Printf("SMTP host not configured, digest mails will be logged")
		return NewLogMailer()
	}
	return NewSMTPMailer(cfg.GetSMTPAddr(), cfg.Digest.SMTPHost, cfg.Digest.SMTPUsername, cfg.Digest.SMTPPassword)
}
