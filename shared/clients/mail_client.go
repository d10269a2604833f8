package clients

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/google/uuid"

	"mailverify-backend/shared/config"
)

// Mailer is the narrow outbound-mail interface the verification service
// depends on. Send attempts delivery of an already rendered message and
// returns an opaque delivery id on success.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody, textBody string) (string, error)
}

// SMTPMailer sends mail through the configured SMTP relay
type SMTPMailer struct {
	config *config.Config
}

// NewSMTPMailer creates a new SMTP mailer
func NewSMTPMailer(cfg *config.Config) *SMTPMailer {
	return &SMTPMailer{config: cfg}
}

// Send delivers a message via SMTP. The caller's context is checked before
// the network dial; net/smtp itself does not support cancellation mid-send.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, htmlBody, textBody string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if to == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	if subject == "" {
		return "", fmt.Errorf("subject cannot be empty")
	}
	if htmlBody == "" && textBody == "" {
		return "", fmt.Errorf("body cannot be empty")
	}

	host := m.config.SMTPHost
	port := m.config.SMTPPort
	username := m.config.SMTPUsername
	password := m.config.SMTPPassword
	from := m.config.EmailFrom

	if host == "" || username == "" || password == "" {
		return "", fmt.Errorf("SMTP configuration is incomplete")
	}

	deliveryID := uuid.New().String()
	message := m.buildMessage(to, subject, htmlBody, textBody, deliveryID)

	auth := smtp.PlainAuth("", username, password, host)
	addr := fmt.Sprintf("%s:%s", host, port)

	// Port 465 uses implicit TLS (SSL), other ports may use explicit TLS (STARTTLS)
	var err error
	if port == "465" || m.config.SMTPUseTLS {
		err = m.sendWithTLS(addr, auth, from, []string{to}, []byte(message))
	} else {
		err = smtp.SendMail(addr, auth, from, []string{to}, []byte(message))
	}
	if err != nil {
		return "", fmt.Errorf("smtp send failed: %w", err)
	}

	return deliveryID, nil
}

// sendWithTLS sends email over an implicit TLS connection
func (m *SMTPMailer) sendWithTLS(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	host := strings.Split(addr, ":")[0]

	conn, err := tls.Dial("tcp", addr, &tls.Config{
		ServerName: host,
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return err
	}
	defer client.Quit()

	if err = client.Auth(auth); err != nil {
		return err
	}

	if err = client.Mail(from); err != nil {
		return err
	}

	for _, recipient := range to {
		if err = client.Rcpt(recipient); err != nil {
			return err
		}
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	defer w.Close()

	_, err = w.Write(msg)
	return err
}

// buildMessage builds a multipart/alternative message when both bodies are
// present, otherwise a single-part message.
func (m *SMTPMailer) buildMessage(to, subject, htmlBody, textBody, deliveryID string) string {
	from := m.config.EmailFrom
	fromName := m.config.EmailFromName

	var msg strings.Builder

	msg.WriteString(fmt.Sprintf("From: %s <%s>\r\n", fromName, from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString(fmt.Sprintf("Message-ID: <%s@%s>\r\n", deliveryID, m.config.SMTPHost))
	msg.WriteString("MIME-Version: 1.0\r\n")

	switch {
	case htmlBody != "" && textBody != "":
		boundary := "mv-" + deliveryID
		msg.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary))
		msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		msg.WriteString(textBody)
		msg.WriteString(fmt.Sprintf("\r\n--%s\r\n", boundary))
		msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		msg.WriteString(htmlBody)
		msg.WriteString(fmt.Sprintf("\r\n--%s--\r\n", boundary))
	case htmlBody != "":
		msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		msg.WriteString(htmlBody)
	default:
		msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		msg.WriteString(textBody)
	}

	return msg.String()
}
