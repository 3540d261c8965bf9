package service

import (
	"context"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Mailer delivers transactional email.
type Mailer interface {
	SendVerification(ctx context.Context, to, userID, link string) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPMailer struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
}

var verificationTemplate = template.Must(template.New("verify").Parse(`<!DOCTYPE html>
<html>
  <body style="font-family: sans-serif; color: #222;">
    <h2>Welcome to EchoPersona, {{.UserID}}!</h2>
    <p>Confirm your email address to finish setting up your account.</p>
    <p><a href="{{.Link}}" style="background:#4f46e5;color:#fff;padding:10px 16px;border-radius:6px;text-decoration:none;">Verify email</a></p>
    <p>If the button does not work, paste this link into your browser:<br>{{.Link}}</p>
    <p>The link expires in 24 hours.</p>
  </body>
</html>
`))

func (m *SMTPMailer) SendVerification(ctx context.Context, to, userID, link string) error {
	var body strings.Builder
	if err := verificationTemplate.Execute(&body, struct{ UserID, Link string }{userID, link}); err != nil {
		return fmt.Errorf("render verification email: %w", err)
	}

	msg := buildMessage(m.cfg.From, to, "Verify your EchoPersona account", body.String())

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))

	// smtp.SendMail has no context; run it aside so ctx bounds the wait.
	done := make(chan error, 1)
	go func() {
		done <- m.send(addr, auth, envelopeAddress(m.cfg.From), []string{to}, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send verification email: %w", err)
		}
	case <-ctx.Done():
		return fmt.Errorf("send verification email: %w", ctx.Err())
	}

	log.Info().Str("userId", userID).Msg("verification email sent")
	return nil
}

func buildMessage(from, to, subject, html string) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", from)
	fmt.Fprintf(&sb, "To: %s\r\n", to)
	fmt.Fprintf(&sb, "Subject: %s\r\n", subject)
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	sb.WriteString(html)
	return []byte(sb.String())
}

// envelopeAddress extracts the bare address from "Name <addr>".
func envelopeAddress(from string) string {
	if i := strings.LastIndex(from, "<"); i >= 0 {
		if j := strings.LastIndex(from, ">"); j > i {
			return from[i+1 : j]
		}
	}
	return from
}

// NoopMailer logs instead of sending. Used when SMTP is not configured.
type NoopMailer struct{}

func (NoopMailer) SendVerification(_ context.Context, _, userID, link string) error {
	log.Warn().Str("userId", userID).Str("link", link).Msg("mail disabled, verification link not sent")
	return nil
}
