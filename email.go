package lmsauth

import (
	"context"
	"log/slog"
)

// SendEmail allows applications to provide their own email delivery
type SendEmail interface {
	SendPasswordResetCode(ctx context.Context, to, code string) error
}

// ConsoleEmailSender is a development implementation that logs emails
type ConsoleEmailSender struct {
	Logger *slog.Logger
}

func (c *ConsoleEmailSender) SendPasswordResetCode(ctx context.Context, to, code string) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "email: password reset",
		"to", to,
		"subject", "Your password reset code",
		"code", code)
	return nil
}
