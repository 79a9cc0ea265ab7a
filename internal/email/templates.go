package email

import (
	"context"
	"fmt"
	"net/url"
)

// Mailer renders the account emails and hands them to the SMTP sender.
// BaseURL is the public origin links are built against.
type Mailer struct {
	sender  *Sender
	baseURL string
}

func NewMailer(sender *Sender, baseURL string) *Mailer {
	return &Mailer{sender: sender, baseURL: baseURL}
}

func (m *Mailer) SendVerification(ctx context.Context, to, code string) error {
	text := fmt.Sprintf("Your verification code is %s. It is valid for 10 minutes.", code)
	html := "<p>Verify your email</p>" +
		"<p>Use the code below to verify your email address.</p>" +
		fmt.Sprintf("<p><strong>%s</strong></p>", code) +
		"<p>The code expires in 10 minutes.</p>" +
		"<p>If you did not request this, you can ignore this email.</p>"
	return m.sender.Send(ctx, to, "Verify your email", text, html)
}

func (m *Mailer) SendPasswordReset(ctx context.Context, to, token string) error {
	link := fmt.Sprintf("%s/reset-password?token=%s", m.baseURL, url.QueryEscape(token))
	text := fmt.Sprintf("Reset your password: %s\nThe link expires in 1 hour.\nIf you did not request this, ignore this email.", link)
	html := "<p>Password reset</p>" +
		"<p>Click the button to reset your password.</p>" +
		fmt.Sprintf("<p><a href=%q>Reset password</a></p>", link) +
		"<p>The link expires in 1 hour.</p>" +
		"<p>If you did not request this, ignore this email.</p>"
	return m.sender.Send(ctx, to, "Reset your password", text, html)
}

func (m *Mailer) SendMagicLink(ctx context.Context, to, token, redirect string) error {
	link := fmt.Sprintf("%s/magic-link?token=%s", m.baseURL, url.QueryEscape(token))
	if redirect != "" {
		link += "&redirect=" + url.QueryEscape(redirect)
	}
	text := fmt.Sprintf("Sign in: %s\nThe link expires in 15 minutes and can be used once.\nIf you did not request this, ignore this email.", link)
	html := "<p>Sign in to your account</p>" +
		fmt.Sprintf("<p><a href=%q>Sign in</a></p>", link) +
		"<p>The link expires in 15 minutes and can be used once.</p>" +
		"<p>If you did not request this, ignore this email.</p>"
	return m.sender.Send(ctx, to, "Your sign-in link", text, html)
}
