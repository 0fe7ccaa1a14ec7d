package notify

import (
	"context"
	"log/slog"

	"accountsvc/internal/domain"
)

// LogNotifier writes notifications to the log instead of delivering them.
// RevealSecrets includes the link and OTP; never set it outside dev.
type LogNotifier struct {
	Logger        *slog.Logger
	Links         Links
	RevealSecrets bool
}

func (n *LogNotifier) Notify(ctx context.Context, msg domain.Notification) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}

	attrs := []any{
		"kind", string(msg.Kind),
		"email", msg.Email,
		"expires_at", msg.ExpiresAt,
	}
	if n.RevealSecrets {
		attrs = append(attrs, "link", n.Links.For(msg))
		if msg.OTP != 0 {
			attrs = append(attrs, "otp", msg.OTP)
		}
	}
	logger.InfoContext(ctx, "notification", attrs...)
	return nil
}
