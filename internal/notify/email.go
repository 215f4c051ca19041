package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
)

// EmailConfig holds SMTP delivery settings.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string // sender address
	FromName string // display name
	Domain   string // recipients are <username>@<Domain>
}

type sendFunc func(ctx context.Context, msg *mail.Msg) error

// Email sends notifications over SMTP. STARTTLS is used when the server
// offers it.
type Email struct {
	cfg  EmailConfig
	send sendFunc
	now  func() time.Time
}

func NewEmail(cfg EmailConfig) *Email {
	e := &Email{cfg: cfg, now: time.Now}
	e.send = e.dialAndSend
	return e
}

// Address returns the mailbox for username.
func (e *Email) Address(username string) string {
	return username + "@" + e.cfg.Domain
}

func (e *Email) Notify(ctx context.Context, recipient string, content Content) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to := e.Address(recipient)
	msg, err := e.buildMessage(to, content)
	if err != nil {
		return fmt.Errorf("notify: build email to %s: %w", to, err)
	}
	if err := e.send(ctx, msg); err != nil {
		return fmt.Errorf("notify: send email to %s: %w", to, err)
	}
	return nil
}

func (e *Email) buildMessage(to string, content Content) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.FromFormat(e.cfg.FromName, e.cfg.From); err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	msg.Subject(content.Subject)
	msg.SetDateWithValue(e.now())
	msg.SetBodyString(mail.TypeTextPlain, content.Body)
	return msg, nil
}

func (e *Email) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(e.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if e.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(e.cfg.Username),
			mail.WithPassword(e.cfg.Password),
		)
	}
	client, err := mail.NewClient(e.cfg.Host, opts...)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, msg)
}
