package effects

import (
	"bytes"
	"fmt"
	"io"
	"net/smtp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/convoflow/convoflow/pkg/config"
)

// EmailSender sends plain-text notification emails over SMTP.
type EmailSender struct {
	cfg config.EmailConfig
}

// NewEmailSender creates an email sender from configuration. Returns
// nil when no SMTP host is configured, in which case email effects are
// logged and dropped.
func NewEmailSender(cfg config.EmailConfig) *EmailSender {
	if cfg.Host == "" {
		return nil
	}
	return &EmailSender{cfg: cfg}
}

// Send builds a MIME message and delivers it to the recipients. The
// "to" value may be a comma separated list.
func (s *EmailSender) Send(to, subject, body string) error {
	recipients := splitAddresses(to)
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients")
	}

	var buf bytes.Buffer
	var header mail.Header
	header.SetDate(time.Now())
	header.SetAddressList("From", []*mail.Address{{Address: s.cfg.From}})
	toList := make([]*mail.Address, 0, len(recipients))
	for _, addr := range recipients {
		toList = append(toList, &mail.Address{Address: addr})
	}
	header.SetAddressList("To", toList)
	header.SetSubject(subject)

	w, err := mail.CreateSingleInlineWriter(&buf, header)
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish message: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	if err := smtp.SendMail(addr, auth, s.cfg.From, recipients, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func splitAddresses(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
