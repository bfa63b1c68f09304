package mailer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTransport struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (t *recordingTransport) Send(_ context.Context, msg Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, msg)
	return t.err
}

func TestVerifyLink(t *testing.T) {
	assert.Equal(t, "http://localhost:8000/users/verify-email?token=abc_-1",
		VerifyLink("http://localhost:8000/", "abc_-1"))
}

func TestRender(t *testing.T) {
	m := NewVerificationMailer(&recordingTransport{}, "https://api.example.com", 24*time.Hour)

	body, err := m.Render("alice@example.com", "tok123")
	require.NoError(t, err)
	assert.Contains(t, body, "Hello alice,")
	assert.Contains(t, body, `href="https://api.example.com/users/verify-email?token=tok123"`)
	assert.Contains(t, body, "This link will expire in 24 hours.")
	assert.Contains(t, body, "VeXeKhach Team")
}

func TestRenderEscapesName(t *testing.T) {
	m := NewVerificationMailer(&recordingTransport{}, "http://x", time.Hour)

	body, err := m.Render("<b>evil</b>@example.com", "t")
	require.NoError(t, err)
	assert.NotContains(t, body, "<b>evil</b>")
	assert.Contains(t, body, "expire in 1 hour.")
}

func TestSendVerification(t *testing.T) {
	tr := &recordingTransport{}
	m := NewVerificationMailer(tr, "http://x", 24*time.Hour)

	require.NoError(t, m.SendVerification(context.Background(), "bob@example.com", "tok"))
	require.Len(t, tr.sent, 1)
	assert.Equal(t, "bob@example.com", tr.sent[0].To)
	assert.Equal(t, VerificationSubject, tr.sent[0].Subject)
	assert.Contains(t, tr.sent[0].HTML, "token=tok")
}

func TestSendVerificationTransportError(t *testing.T) {
	tr := &recordingTransport{err: errors.New("relay down")}
	m := NewVerificationMailer(tr, "http://x", 24*time.Hour)

	err := m.SendVerification(context.Background(), "bob@example.com", "tok")
	assert.EqualError(t, err, "relay down")
}

func TestHumanDuration(t *testing.T) {
	assert.Equal(t, "24 hours", humanDuration(24*time.Hour))
	assert.Equal(t, "1 hour", humanDuration(time.Hour))
	assert.Equal(t, "90 minutes", humanDuration(90*time.Minute))
	assert.Equal(t, "24 hours", humanDuration(0))
}

func TestLogTransport(t *testing.T) {
	log, hook := test.NewNullLogger()
	require.NoError(t, LogTransport{Log: log}.Send(context.Background(), Message{To: "a@x.com", Subject: "s"}))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "a@x.com", hook.LastEntry().Data["to"])
}

func TestBuildMessage(t *testing.T) {
	tr := &SMTPTransport{Host: "smtp.example.com", Port: 587, FromEmail: "noreply@example.com", FromName: "VeXeKhach"}
	raw := string(tr.BuildMessage(Message{To: "a@x.com", Subject: VerificationSubject, HTML: "<p>hi</p>"}))

	head, body, ok := strings.Cut(raw, "\r\n\r\n")
	require.True(t, ok)
	assert.Equal(t, "<p>hi</p>", body)
	assert.Contains(t, head, "From: VeXeKhach <noreply@example.com>")
	assert.Contains(t, head, "To: a@x.com")
	assert.Contains(t, head, "Subject: "+VerificationSubject)
	assert.Contains(t, head, `Content-Type: text/html; charset="UTF-8"`)
	assert.Equal(t, "smtp.example.com:587", tr.addr())
}

func TestSMTPRejectsHeaderInjection(t *testing.T) {
	tr := &SMTPTransport{Host: "127.0.0.1", Port: 1}
	err := tr.Send(context.Background(), Message{To: "a@x.com\r\nBcc: b@x.com"})
	assert.EqualError(t, err, "invalid recipient")
}
