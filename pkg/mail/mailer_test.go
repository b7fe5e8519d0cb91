package mail

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/smtp"
	"strings"
	"testing"
	"time"
)

// fakeSMTPClient records the SMTP conversation.
type fakeSMTPClient struct {
	from    string
	rcpts   []string
	payload strings.Builder
	quit    bool
}

func (f *fakeSMTPClient) Mail(from string) error { f.from = from; return nil }
func (f *fakeSMTPClient) Rcpt(to string) error   { f.rcpts = append(f.rcpts, to); return nil }
func (f *fakeSMTPClient) Data() (io.WriteCloser, error) {
	return nopWriteCloser{&f.payload}, nil
}
func (f *fakeSMTPClient) Quit() error                     { f.quit = true; return nil }
func (f *fakeSMTPClient) Close() error                    { return nil }
func (f *fakeSMTPClient) StartTLS(*tls.Config) error      { return nil }
func (f *fakeSMTPClient) Auth(smtp.Auth) error            { return nil }
func (f *fakeSMTPClient) Extension(string) (bool, string) { return false, "" }

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func newTestMailer(cfg SMTPSettings, client *fakeSMTPClient) *smtpMailer {
	server, _ := net.Pipe()
	return &smtpMailer{
		cfg: cfg,
		dialFn: func(context.Context, SMTPSettings) (net.Conn, smtpClient, error) {
			return server, client, nil
		},
		authFn: func(smtpClient, SMTPSettings) error { return nil },
	}
}

func TestNewSMTPMailerValidatesConfig(t *testing.T) {
	_, err := NewSMTPMailer(SMTPSettings{
		Enabled: true,
	})
	if err == nil || !strings.Contains(err.Error(), "host is required") {
		t.Fatalf("expected host validation error, got %v", err)
	}

	mailer, err := NewSMTPMailer(SMTPSettings{
		Enabled: false,
	})
	if err != nil {
		t.Fatalf("expected disabled configuration to succeed: %v", err)
	}

	if mailer == nil {
		t.Fatal("expected mailer to be returned")
	}
}

func TestSMTPMailerSendDisabled(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{
		Enabled: false,
	})
	if err != nil {
		t.Fatalf("unexpected error creating mailer: %v", err)
	}

	err = mailer.Send(context.Background(), RecoveryCode("test@example.com", "123456", 30*time.Minute))
	if err != ErrSMTPDisabled {
		t.Fatalf("expected ErrSMTPDisabled, got %v", err)
	}
}

func TestSMTPMailerSendDeliversRecoveryCode(t *testing.T) {
	client := &fakeSMTPClient{}
	mailer := newTestMailer(SMTPSettings{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    587,
		From:    "no-reply@example.com",
	}, client)

	err := mailer.Send(context.Background(), RecoveryCode("user@example.com", "482913", 30*time.Minute))
	if err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	if client.from != "no-reply@example.com" {
		t.Fatalf("expected configured sender, got %q", client.from)
	}
	if len(client.rcpts) != 1 || client.rcpts[0] != "user@example.com" {
		t.Fatalf("unexpected recipients: %v", client.rcpts)
	}
	if !client.quit {
		t.Fatal("expected the session to end with QUIT")
	}

	payload := client.payload.String()
	if !strings.Contains(payload, "To: user@example.com") {
		t.Fatalf("expected recipient header, got %q", payload)
	}
	if !strings.Contains(payload, "482913") {
		t.Fatalf("expected code in body, got %q", payload)
	}
	if !strings.Contains(payload, "expires in 30 minutes") {
		t.Fatalf("expected expiry notice, got %q", payload)
	}
}

func TestSMTPMailerDefaultTimeout(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    587,
		From:    "no-reply@example.com",
		UseTLS:  true,
	})
	if err != nil {
		t.Fatalf("unexpected error creating mailer: %v", err)
	}

	sm, ok := mailer.(*smtpMailer)
	if !ok {
		t.Fatalf("expected smtpMailer type")
	}

	if sm.cfg.Timeout != 10*time.Second {
		t.Fatalf("expected timeout to be 10s, got %v", sm.cfg.Timeout)
	}
}

func TestSMTPMailerSendRequiresRecipient(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    587,
		From:    "no-reply@example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error creating mailer: %v", err)
	}

	err = mailer.Send(context.Background(), Message{
		To:      "   ",
		Subject: "No recipient",
		Body:    "Body",
	})
	if err == nil || !strings.Contains(err.Error(), "recipient is required") {
		t.Fatalf("expected missing recipient error, got %v", err)
	}

	err = mailer.Send(context.Background(), Message{To: "bad-address"})
	if err == nil || !strings.Contains(err.Error(), "invalid recipient address") {
		t.Fatalf("expected invalid recipient error, got %v", err)
	}
}

func TestSMTPMailerSendValidatesFromAddress(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    587,
		From:    "",
	})
	if err != nil {
		t.Fatalf("unexpected error creating mailer: %v", err)
	}

	err = mailer.Send(context.Background(), Message{To: "user@example.com"})
	if err == nil || !strings.Contains(err.Error(), "sender address is required") {
		t.Fatalf("expected missing sender error, got %v", err)
	}
}

func TestRenderMessageSanitizesSubject(t *testing.T) {
	content := renderMessage("from@example.com", "to@example.com", "Subject\r\nBreak", "Body")
	if !strings.Contains(content, "From: from@example.com") {
		t.Fatalf("expected from header, got %q", content)
	}
	if !strings.Contains(content, "Subject: Subject  Break") {
		t.Fatalf("expected sanitised subject, got %q", content)
	}
	if !strings.HasSuffix(content, "Body") {
		t.Fatalf("expected body suffix, got %q", content)
	}
}

func TestRecoveryCodeFloorsExpiryAtOneMinute(t *testing.T) {
	msg := RecoveryCode("user@example.com", "123456", 10*time.Second)
	if !strings.Contains(msg.Body, "expires in 1 minute") {
		t.Fatalf("expected expiry floor, got %q", msg.Body)
	}
}
