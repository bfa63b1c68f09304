// Package mailer delivers verification emails. A Notifier is what the
// accounts flow talks to; it either renders and sends the email itself
// (VerificationMailer over a Transport) or hands the request to Kafka
// (KafkaPublisher) for cmd/mailer to deliver.
package mailer

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

//go:embed templates/*.html
var templateFS embed.FS

var verifyTmpl = template.Must(template.ParseFS(templateFS, "templates/verify_email.html"))

const VerificationSubject = "Verify Your VeXeKhach Account"

// Notifier requests delivery of a verification email for token to address to.
type Notifier interface {
	SendVerification(ctx context.Context, to, token string) error
}

// Message is one outgoing HTML email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Transport hands a finished message to a mail system.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// VerificationMailer renders the verification email and sends it.
type VerificationMailer struct {
	Transport Transport
	BaseURL   string
	Brand     string
	TTL       time.Duration
}

func NewVerificationMailer(t Transport, baseURL string, ttl time.Duration) *VerificationMailer {
	return &VerificationMailer{Transport: t, BaseURL: strings.TrimRight(baseURL, "/"), Brand: "VeXeKhach", TTL: ttl}
}

// VerifyLink is the URL a user follows to confirm their address.
func VerifyLink(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/users/verify-email?token=" + url.QueryEscape(token)
}

func (m *VerificationMailer) SendVerification(ctx context.Context, to, token string) error {
	body, err := m.Render(to, token)
	if err != nil {
		return err
	}
	return m.Transport.Send(ctx, Message{To: to, Subject: VerificationSubject, HTML: body})
}

// Render builds the HTML body of the verification email.
func (m *VerificationMailer) Render(to, token string) (string, error) {
	name := to
	if i := strings.IndexByte(to, '@'); i > 0 {
		name = to[:i]
	}
	var buf bytes.Buffer
	err := verifyTmpl.Execute(&buf, map[string]string{
		"Name":      name,
		"Brand":     m.Brand,
		"Link":      VerifyLink(m.BaseURL, token),
		"ExpiresIn": humanDuration(m.TTL),
	})
	if err != nil {
		return "", fmt.Errorf("render verification email: %w", err)
	}
	return buf.String(), nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "24 hours"
	case d%time.Hour == 0:
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	default:
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	}
}

// LogTransport only logs what it would have sent. Used when SMTP is not
// configured, e.g. in development.
type LogTransport struct {
	Log logrus.FieldLogger
}

func (t LogTransport) Send(_ context.Context, msg Message) error {
	t.Log.WithFields(logrus.Fields{"to": msg.To, "subject": msg.Subject}).Info("smtp not configured, email not sent")
	return nil
}
