package service

import (
	"context"
	"time"

	"github.com/atinyakov/CargoDesk/internal/logger"
	"github.com/atinyakov/CargoDesk/internal/repository"
	"go.uber.org/zap"
)

// Mailer delivers one-time codes.
type Mailer interface {
	SendCode(ctx context.Context, purpose repository.CodePurpose, email, code string, ttl time.Duration) error
}

// LogMailer writes codes to the log instead of sending mail. For
// development only.
type LogMailer struct {
	Log *zap.Logger
}

// SendCode implements Mailer.
func (m LogMailer) SendCode(_ context.Context, purpose repository.CodePurpose, email, code string, ttl time.Duration) error {
	m.Log.Info("one-time code",
		zap.String("purpose", string(purpose)),
		zap.String("email", logger.MaskEmail(email)),
		zap.String("code", code),
		zap.Duration("ttl", ttl),
	)
	return nil
}
