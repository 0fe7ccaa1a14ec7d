package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"accountsvc/internal/domain"
	"accountsvc/internal/email"
)

type MailSender interface {
	Send(ctx context.Context, msg email.Message) error
}

// MailNotifier renders a plain-text email per notification kind.
type MailNotifier struct {
	Sender  MailSender
	Links   Links
	Product string
}

func (n *MailNotifier) Notify(ctx context.Context, msg domain.Notification) error {
	subject, body := n.render(msg)
	if err := n.Sender.Send(ctx, email.Message{
		ToEmail:  msg.Email,
		Subject:  subject,
		TextBody: body,
	}); err != nil {
		return fmt.Errorf("send %s email: %w", msg.Kind, err)
	}
	return nil
}

func (n *MailNotifier) render(msg domain.Notification) (string, string) {
	product := n.Product
	if product == "" {
		product = "your account"
	}
	greeting := "Hi,"
	if msg.FirstName != "" {
		greeting = "Hi " + msg.FirstName + ","
	}
	link := n.Links.For(msg)
	valid := "This link expires at " + msg.ExpiresAt.UTC().Format(time.RFC1123) + "."

	switch msg.Kind {
	case domain.NotifyPasswordReset:
		return "Reset your password for " + product, strings.Join([]string{
			greeting,
			"",
			"You requested a password reset.",
			"",
			"Reset your password using this link:",
			link,
			"",
			valid,
			"If you did not request this, you can ignore this email.",
		}, "\n")
	case domain.NotifyMagicLink:
		lines := []string{
			greeting,
			"",
			"Sign in using this link:",
			link,
			"",
			valid,
		}
		if msg.OTP != 0 {
			lines = append(lines, "", fmt.Sprintf("Or enter this one-time code: %d", msg.OTP))
		}
		return "Your sign-in link for " + product, strings.Join(lines, "\n")
	default:
		return "Verify your email for " + product, strings.Join([]string{
			greeting,
			"",
			"Confirm your email address using this link:",
			link,
			"",
			valid,
		}, "\n")
	}
}
