// Package notify tells participants about the match they were placed in.
// Delivery is best effort: a failed notification never undoes a match.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adlib/coffee-chat/internal/matching"
)

// Content is what a recipient is told.
type Content struct {
	Subject string
	Body    string
	Match   *matching.Match
}

// Notifier delivers content to one recipient, identified by username.
type Notifier interface {
	Notify(ctx context.Context, recipient string, content Content) error
}

// MatchContent builds the message sent to recipient about m.
func MatchContent(m *matching.Match, recipient string) Content {
	partner := m.Partner(recipient)
	return Content{
		Subject: "You have an Ad-lib coffee chat",
		Body: fmt.Sprintf(
			"Hi %s,\n\nYou have been matched with %s for a %d minute chat. Reach out to them to pick a spot.\n\nThe Ad-lib team\n",
			recipient, partner, int(m.Duration/time.Minute),
		),
		Match: m,
	}
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Notify(context.Context, string, Content) error { return nil }

// Multi fans a notification out to every notifier, returning the joined
// errors of those that failed.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, recipient string, content Content) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, recipient, content); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
