package alerts

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/scrapewall/backend/internal/events"
)

// SMTPConfig describes the mail relay. Password may be inline or loaded
// from a file at send time; a missing file downgrades to unauthenticated
// delivery rather than failing the alert.
type SMTPConfig struct {
	Host         string
	Port         int
	Username     string
	Password     string
	PasswordFile string
	UseTLS       bool // STARTTLS upgrade on port 587
	From         string
	To           []string
}

// SMTPSink delivers alerts as plain-text email.
type SMTPSink struct {
	cfg SMTPConfig
}

// NewSMTPSink builds the sink. Returns nil unless host, from, and at least
// one recipient are configured.
func NewSMTPSink(cfg SMTPConfig) *SMTPSink {
	if cfg.Host == "" || cfg.From == "" || len(cfg.To) == 0 {
		return nil
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPSink{cfg: cfg}
}

func (s *SMTPSink) Name() string { return "smtp" }

// Send composes and delivers the alert email. Port 465 means implicit TLS,
// 587 with the TLS flag means STARTTLS, anything else goes plain.
func (s *SMTPSink) Send(ctx context.Context, v events.Verdict) error {
	msg, err := s.compose(v)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	client, err := s.dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	defer client.Close()

	if auth := s.auth(); auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range s.cfg.To {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}

	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := wc.Write(msg); err != nil {
		wc.Close()
		return fmt.Errorf("smtp write body: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("smtp close body: %w", err)
	}
	return client.Quit()
}

// dial opens the SMTP session with the transport the port implies.
func (s *SMTPSink) dial(ctx context.Context, addr string) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: 15 * time.Second}

	if s.cfg.Port == 465 {
		conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: s.cfg.Host})
		if err != nil {
			return nil, err
		}
		return smtp.NewClient(conn, s.cfg.Host)
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if s.cfg.Port == 587 && s.cfg.UseTLS {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
			client.Close()
			return nil, fmt.Errorf("starttls: %w", err)
		}
	}
	return client, nil
}

// auth resolves credentials. Authentication happens only when both a user
// and a password are available; an unreadable password file is logged and
// skipped.
func (s *SMTPSink) auth() smtp.Auth {
	if s.cfg.Username == "" {
		return nil
	}
	password := s.cfg.Password
	if password == "" && s.cfg.PasswordFile != "" {
		data, err := os.ReadFile(s.cfg.PasswordFile)
		if err != nil {
			slog.Error("smtp password file unreadable, sending unauthenticated",
				"path", s.cfg.PasswordFile, "error", err)
			return nil
		}
		password = strings.TrimSpace(string(data))
	}
	if password == "" {
		return nil
	}
	return smtp.PlainAuth("", s.cfg.Username, password, s.cfg.Host)
}

// compose renders the MIME message.
func (s *SMTPSink) compose(v events.Verdict) ([]byte, error) {
	details, err := json.MarshalIndent(v.Details, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal alert details: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(s.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: [AI Defense Alert] Suspicious Activity Detected - %s\r\n", v.Reason)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "Suspicious activity was detected by the defense pipeline.\r\n\r\n")
	fmt.Fprintf(&b, "Reason:     %s\r\n", v.Reason)
	fmt.Fprintf(&b, "Timestamp:  %s\r\n", v.Timestamp)
	fmt.Fprintf(&b, "Address:    %s\r\n", v.Details.SourceAddress)
	fmt.Fprintf(&b, "User agent: %s\r\n\r\n", v.Details.UserAgent)
	fmt.Fprintf(&b, "Details:\r\n%s\r\n", details)
	return []byte(b.String()), nil
}
