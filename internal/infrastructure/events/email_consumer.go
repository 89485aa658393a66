package events

import (
	"context"
	"fmt"
	"strings"

	"github.com/hilthontt/socialbook/internal/infrastructure/configs"
	"github.com/hilthontt/socialbook/internal/infrastructure/contracts"
	"github.com/hilthontt/socialbook/internal/infrastructure/identity"
	"github.com/hilthontt/socialbook/internal/infrastructure/logging"
	"github.com/hilthontt/socialbook/internal/infrastructure/mailer"
	"github.com/hilthontt/socialbook/internal/infrastructure/messaging"
)

const EmailSubject = "Socialbook event"

// EmailConsumer mails the raw event to the commented user, or to the operator address
// when the user's email cannot be resolved.
type EmailConsumer struct {
	cfg       configs.SMTPConfig
	mailer    mailer.Mailer
	directory identity.UserDirectory
	logger    logging.Logger
}

var _ messaging.Handler = (*EmailConsumer)(nil)

// NewEmailConsumer accepts a nil directory, in which case every email goes to the operator address.
func NewEmailConsumer(cfg configs.SMTPConfig, m mailer.Mailer, directory identity.UserDirectory, logger logging.Logger) *EmailConsumer {
	return &EmailConsumer{
		cfg:       cfg,
		mailer:    m,
		directory: directory,
		logger:    logger,
	}
}

func (c *EmailConsumer) Handle(ctx context.Context, msg messaging.Message) error {
	payload, err := contracts.DecodeCommented(msg.Body)
	if err != nil {
		return err
	}

	if !c.cfg.Enabled() || c.mailer == nil {
		c.logger.Info(logging.SMTP, logging.SendEmail, "missing SMTP config", map[logging.ExtraKey]any{
			logging.Queue:   msg.Queue,
			logging.Payload: string(msg.Body),
		})
		return nil
	}

	to := c.recipient(ctx, payload.TargetUser)

	err = c.mailer.Send(ctx, mailer.Email{
		From:    c.cfg.From,
		To:      to,
		Subject: EmailSubject,
		Body:    string(msg.Body),
	})
	if err != nil {
		c.logger.Error(logging.SMTP, logging.SendEmail, "send failed", map[logging.ExtraKey]any{
			logging.Recipient:    to,
			logging.MessageID:    msg.MessageID,
			logging.ErrorMessage: err.Error(),
		})
		return fmt.Errorf("send email: %w", err)
	}

	return nil
}

func (c *EmailConsumer) recipient(ctx context.Context, targetUser string) string {
	if c.directory == nil || strings.TrimSpace(targetUser) == "" {
		return c.cfg.To
	}

	email, err := identity.EmailFor(ctx, c.directory, targetUser)
	if err != nil {
		c.logger.Warn(logging.Identity, logging.LookupUser, "could not resolve user email; using fallback address", map[logging.ExtraKey]any{
			logging.TargetUser:   targetUser,
			logging.Recipient:    c.cfg.To,
			logging.ErrorMessage: err.Error(),
		})
		return c.cfg.To
	}
	return email
}
