package services

import (
	"fmt"
	"log"

	"gopkg.in/gomail.v2"
)

// Mailer is the email-delivery capability the auth flows consume. Every send
// in this subsystem is best-effort: a failed dispatch is logged by the caller
// and never fails the surrounding operation.
type Mailer interface {
	Send(to, template string, data map[string]string) error
}

const (
	MailTemplateVerifyEmail = "verify-email"
	MailTemplateWelcome     = "welcome"
)

type smtpMailer struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTPMailer delivers mail over SMTP via gomail.
func NewSMTPMailer(host string, port int, username, password, from string) Mailer {
	return &smtpMailer{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

func (m *smtpMailer) Send(to, template string, data map[string]string) error {
	subject, body, err := renderMail(template, data)
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send %s mail: %w", template, err)
	}
	return nil
}

func renderMail(template string, data map[string]string) (subject, body string, err error) {
	switch template {
	case MailTemplateVerifyEmail:
		subject = "Verify your FlowCRM email address"
		body = fmt.Sprintf(
			`<p>Hi %s,</p><p>Confirm your email address to finish setting up your account:</p><p><a href="%s">Verify email</a></p><p>The link expires in 24 hours.</p>`,
			data["first_name"], data["verification_url"])
	case MailTemplateWelcome:
		subject = "Welcome to FlowCRM"
		body = fmt.Sprintf(
			`<p>Hi %s,</p><p>Your email address is verified and your account is ready to use.</p>`,
			data["first_name"])
	default:
		return "", "", fmt.Errorf("unknown mail template %q", template)
	}
	return subject, body, nil
}

type logMailer struct{}

// NewLogMailer logs instead of sending; used in development when SMTP is not
// configured.
func NewLogMailer() Mailer {
	return &logMailer{}
}

func (m *logMailer) Send(to, template string, data map[string]string) error {
	log.Printf("mail (dev): to=%s template=%s data=%v", to, template, data)
	return nil
}
