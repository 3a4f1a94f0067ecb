// Package email delivers customer notifications over SMTP.
package email

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/garyjia/printshop-workflow/internal/application/port"
)

// Config holds SMTP settings
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	// TLS is one of "mandatory", "opportunistic" or "none"
	TLS string
}

// SMTPSender implements port.EmailSender with go-mail
type SMTPSender struct {
	cfg    Config
	client *mail.Client
	logger *zap.Logger
}

// NewSMTPSender creates an SMTP sender. The connection is opened per message.
func NewSMTPSender(cfg Config, logger *zap.Logger) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}

	opts := []mail.Option{
		mail.WithTLSPolicy(tlsPolicy(cfg.TLS)),
	}
	if cfg.Port > 0 {
		opts = append(opts, mail.WithPort(cfg.Port))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}

	return &SMTPSender{
		cfg:    cfg,
		client: client,
		logger: logger,
	}, nil
}

// Send delivers one message
func (s *SMTPSender) Send(ctx context.Context, msg port.EmailMessage) error {
	m, err := s.newMessage(msg)
	if err != nil {
		return err
	}

	if err := s.client.DialAndSendWithContext(ctx, m); err != nil {
		s.logger.Error("Failed to send email",
			zap.String("to", msg.To),
			zap.String("subject", msg.Subject),
			zap.Error(err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("Email sent",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject))
	return nil
}

func (s *SMTPSender) newMessage(msg port.EmailMessage) (*mail.Msg, error) {
	m := mail.NewMsg()

	var err error
	if s.cfg.FromName != "" {
		err = m.FromFormat(s.cfg.FromName, s.cfg.From)
	} else {
		err = m.From(s.cfg.From)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}

	if msg.ToName != "" {
		err = m.AddToFormat(msg.ToName, msg.To)
	} else {
		err = m.To(msg.To)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}

	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	return m, nil
}

func tlsPolicy(name string) mail.TLSPolicy {
	switch name {
	case "mandatory":
		return mail.TLSMandatory
	case "none":
		return mail.NoTLS
	default:
		return mail.TLSOpportunistic
	}
}

var _ port.EmailSender = (*SMTPSender)(nil)
