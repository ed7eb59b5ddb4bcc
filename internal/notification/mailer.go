package notification

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/gatherly/gatherly-api/internal/config"
)

// Mailer delivers security tokens out-of-band. Callers on
// enumeration-sensitive paths must treat delivery as fire-and-forget:
// log failures, never surface them to the client.
type Mailer interface {
	SendMagicLink(recipientEmail, magicLinkURL, fullName string, isNewUser bool) error
	SendGuestOTP(recipientEmail, code, projectName string) error
	SendOrganizationInvite(recipientEmail, orgName, inviterName, role, inviteURL string) error
}

// SMTPMailer sends mail through a plain SMTP server.
type SMTPMailer struct {
	host     string
	port     int
	username string
	password string
	from     string
}

// NewSMTPMailer constructs an SMTPMailer from config.
func NewSMTPMailer(cfg config.EmailConfig) (*SMTPMailer, error) {
	if strings.TrimSpace(cfg.SMTPHost) == "" {
		return nil, fmt.Errorf("smtp_host is required")
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 587
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("email from address is required")
	}

	return &SMTPMailer{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
	}, nil
}

func (m *SMTPMailer) SendMagicLink(recipientEmail, magicLinkURL, fullName string, isNewUser bool) error {
	subject := "Your Gatherly sign-in link"
	if isNewUser {
		subject = "Welcome to Gatherly - confirm your email"
	}

	greeting := "Hello,"
	if strings.TrimSpace(fullName) != "" {
		greeting = fmt.Sprintf("Hello %s,", strings.TrimSpace(fullName))
	}

	body := strings.Builder{}
	body.WriteString(greeting + "\n\n")
	body.WriteString("Click the link below to sign in to Gatherly:\n\n")
	body.WriteString(magicLinkURL + "\n\n")
	body.WriteString("This link is valid for 15 minutes and can only be used once.\n")
	body.WriteString("If you did not request it, you can safely ignore this email.\n\n")
	body.WriteString("Thanks,\nThe Gatherly Team\n")

	return m.send(recipientEmail, subject, body.String())
}

func (m *SMTPMailer) SendGuestOTP(recipientEmail, code, projectName string) error {
	subject := fmt.Sprintf("Your access code for %s", projectName)

	body := strings.Builder{}
	body.WriteString("Hello,\n\n")
	body.WriteString(fmt.Sprintf("Your one-time access code for %s is:\n\n", projectName))
	body.WriteString("    " + code + "\n\n")
	body.WriteString("The code expires in 10 minutes.\n")
	body.WriteString("If you did not request it, you can safely ignore this email.\n\n")
	body.WriteString("Thanks,\nThe Gatherly Team\n")

	return m.send(recipientEmail, subject, body.String())
}

func (m *SMTPMailer) SendOrganizationInvite(recipientEmail, orgName, inviterName, role, inviteURL string) error {
	subject := fmt.Sprintf("You have been invited to join %s", orgName)

	body := strings.Builder{}
	body.WriteString("Hello,\n\n")
	body.WriteString(fmt.Sprintf("%s invited you to join %s on Gatherly as %s.\n", inviterName, orgName, role))
	body.WriteString("Click the link below to accept the invitation:\n\n")
	body.WriteString(inviteURL + "\n\n")
	body.WriteString("This invite is valid for a limited time. If you did not expect this email, you can ignore it.\n\n")
	body.WriteString("Thanks,\nThe Gatherly Team\n")

	return m.send(recipientEmail, subject, body.String())
}

func (m *SMTPMailer) send(recipientEmail, subject, body string) error {
	headers := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n",
		m.from, recipientEmail, subject)

	message := []byte(headers + body)
	addr := fmt.Sprintf("%s:%d", m.host, m.port)

	var auth smtp.Auth
	if strings.TrimSpace(m.username) != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	return smtp.SendMail(addr, auth, m.from, []string{recipientEmail}, message)
}
