// Package email renders the engine's notification templates and delivers
// them over SMTP.
package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"

	"github.com/jordan-wright/email"
)

// Template names the engine sends with.
const (
	TemplateEmailConfirmation      = "email-confirmation"
	TemplatePasswordReset          = "password-reset"
	TemplatePasswordChanged        = "password-changed"
	TemplatePasswordResetConfirmed = "password-reset-confirmed"
)

var defaultTemplates = map[string]string{
	TemplateEmailConfirmation: `<p>Please confirm your email by clicking on the following link: <a href="{{.URL}}">Confirm Email</a></p>`,
	TemplatePasswordReset:     `<p>You requested a password reset. Please click the link to reset your password: <a href="{{.URL}}">Reset Password</a></p>`,
	TemplatePasswordChanged: `<p>Dear {{.Name}},</p><p>Your password has been successfully changed.</p>` +
		`<p>If you did not initiate this change, please contact support immediately.</p>`,
	TemplatePasswordResetConfirmed: `<p>Dear {{.Name}},</p><p>Your password has been successfully reset.</p>` +
		`<p>If you did not initiate this change, please contact support immediately.</p>`,
}

// TemplateSet holds parsed notification templates keyed by name.
type TemplateSet struct {
	templates map[string]*template.Template
}

// DefaultTemplates parses the built-in notification bodies.
func DefaultTemplates() *TemplateSet {
	set := &TemplateSet{templates: make(map[string]*template.Template, len(defaultTemplates))}
	for name, body := range defaultTemplates {
		set.templates[name] = template.Must(template.New(name).Parse(body))
	}
	return set
}

// Render produces the HTML body for the named template.
func (s *TemplateSet) Render(name string, data map[string]string) (string, error) {
	tmpl, ok := s.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown email template %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SMTPSender delivers rendered templates through a single SMTP server.
type SMTPSender struct {
	addr      string
	auth      smtp.Auth
	from      string
	templates *TemplateSet
}

func NewSMTPSender(addr string, auth smtp.Auth, from string, templates *TemplateSet) *SMTPSender {
	if templates == nil {
		templates = DefaultTemplates()
	}
	return &SMTPSender{
		addr:      addr,
		auth:      auth,
		from:      from,
		templates: templates,
	}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, templateName string, data map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	html, err := s.templates.Render(templateName, data)
	if err != nil {
		return err
	}

	msg := email.NewEmail()
	msg.From = s.from
	msg.To = []string{to}
	msg.Subject = subject
	msg.HTML = []byte(html)

	return msg.Send(s.addr, s.auth)
}
