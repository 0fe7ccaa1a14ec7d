package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

type Message struct {
	ToEmail  string
	Subject  string
	TextBody string
}

type SMTPSettings struct {
	Host      string
	Port      int
	Username  string
	Password  string
	TLSMode   string // tls, starttls (default) or none
	FromEmail string
	FromName  string
}

func (s SMTPSettings) Validate() error {
	if s.Host == "" {
		return errors.New("smtp host required")
	}
	if s.Port <= 0 || s.Port > 65535 {
		return errors.New("smtp port out of range")
	}
	if s.FromEmail == "" {
		return errors.New("smtp from email required")
	}
	switch s.TLSMode {
	case "", "tls", "starttls", "none":
	default:
		return fmt.Errorf("smtp tls mode %q: must be tls, starttls or none", s.TLSMode)
	}
	return nil
}

// Sender delivers plain-text mail over SMTP. The context bounds the dial and
// every command that follows.
type Sender struct {
	Settings SMTPSettings
	Timeout  time.Duration
}

func (s *Sender) Send(ctx context.Context, msg Message) error {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	st := s.Settings
	if st.Username != "" {
		auth := smtp.PlainAuth("", st.Username, st.Password, st.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(st.FromEmail); err != nil {
		return fmt.Errorf("smtp from: %w", err)
	}
	if err := client.Rcpt(msg.ToEmail); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	from := st.FromEmail
	if st.FromName != "" {
		from = fmt.Sprintf("%s <%s>", headerValue(st.FromName), st.FromEmail)
	}
	if _, err := w.Write([]byte(buildMessage(from, msg.ToEmail, msg.Subject, msg.TextBody))); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close: %w", err)
	}
	if err := client.Quit(); err != nil && !strings.Contains(err.Error(), "use of closed network connection") {
		return fmt.Errorf("smtp quit: %w", err)
	}
	return nil
}

func (s *Sender) connect(ctx context.Context) (*smtp.Client, error) {
	st := s.Settings
	addr := net.JoinHostPort(st.Host, strconv.Itoa(st.Port))
	tlsCfg := &tls.Config{ServerName: st.Host, MinVersion: tls.VersionTLS12}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("smtp dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	mode := st.TLSMode
	if mode == "" {
		mode = "starttls"
	}
	if mode == "tls" {
		conn = tls.Client(conn, tlsCfg)
	}

	client, err := smtp.NewClient(conn, st.Host)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	if mode == "starttls" {
		if err := client.StartTLS(tlsCfg); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("smtp starttls: %w", err)
		}
	}
	return client, nil
}

func buildMessage(from, to, subject, body string) string {
	lines := []string{
		"From: " + from,
		"To: " + headerValue(to),
		"Subject: " + headerValue(subject),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		strings.ReplaceAll(body, "\n", "\r\n"),
	}
	return strings.Join(lines, "\r\n")
}

// headerValue drops CR and LF so a value cannot start a new header.
func headerValue(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}
