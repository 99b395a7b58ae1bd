package channel

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"exam_dispatch_engine/internal/domain/notification"

	"github.com/google/uuid"
)

// SMTPConfig holds the mail relay settings.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// SMTPEmailSender delivers reminder emails through an SMTP relay.
// Port 465 uses implicit TLS; any other port upgrades with STARTTLS when offered.
type SMTPEmailSender struct {
	cfg       SMTPConfig
	examTitle string
}

func NewSMTPEmailSender(cfg SMTPConfig, examTitle string) *SMTPEmailSender {
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &SMTPEmailSender{cfg: cfg, examTitle: examTitle}
}

func (e *SMTPEmailSender) SendReminderEmail(ctx context.Context, to string, params notification.ReminderParams) (notification.Receipt, error) {
	rendered, err := RenderReminderEmail(e.examTitle, params)
	if err != nil {
		return notification.Receipt{}, err
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), e.cfg.Host)
	msg := buildMessage(e.cfg.From, to, messageID, rendered)

	if err := e.deliver(ctx, to, msg); err != nil {
		return notification.Receipt{}, fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return notification.Receipt{ProviderRef: messageID}, nil
}

func (e *SMTPEmailSender) deliver(ctx context.Context, to string, msg []byte) error {
	serverAddr := net.JoinHostPort(e.cfg.Host, e.cfg.Port)
	tlsConfig := &tls.Config{ServerName: e.cfg.Host}

	var conn net.Conn
	var err error
	if e.cfg.Port == "465" {
		dialer := &tls.Dialer{Config: tlsConfig}
		conn, err = dialer.DialContext(ctx, "tcp", serverAddr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", serverAddr)
	}
	if err != nil {
		return err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, e.cfg.Host)
	if err != nil {
		return err
	}
	defer client.Close()

	if e.cfg.Port != "465" {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return err
			}
		}
	}
	if e.cfg.Username != "" {
		auth := smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return err
		}
	}
	if err := client.Mail(e.cfg.From); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func buildMessage(from, to, messageID string, email RenderedEmail) []byte {
	boundary := strings.ReplaceAll(uuid.NewString(), "-", "")
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", email.Subject)
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(email.BodyText)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(email.BodyHTML)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return []byte(b.String())
}
