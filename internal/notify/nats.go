package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Publisher is the part of the NATS client used for notifications.
type Publisher interface {
	PublishMatchFound(username string, data []byte) error
}

// MatchResult is the payload published on match.found.<username>.
type MatchResult struct {
	MatchID         string    `json:"matchId"`
	Partner         string    `json:"partner"`
	DurationMinutes int       `json:"durationMinutes"`
	Preference      string    `json:"matchPreference"`
	SameFields      int       `json:"sameFields"`
	CreatedAt       time.Time `json:"createdAt"`
	Subject         string    `json:"subject"`
	Body            string    `json:"body"`
}

// NATS publishes match results so that other services can relay them.
type NATS struct {
	pub Publisher
}

func NewNATS(pub Publisher) *NATS {
	return &NATS{pub: pub}
}

func (n *NATS) Notify(_ context.Context, recipient string, content Content) error {
	res := MatchResult{Subject: content.Subject, Body: content.Body}
	if m := content.Match; m != nil {
		res.MatchID = m.ID
		res.Partner = m.Partner(recipient)
		res.DurationMinutes = int(m.Duration / time.Minute)
		res.Preference = string(m.Preference)
		res.SameFields = m.SameFields
		res.CreatedAt = m.CreatedAt
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("notify: marshal match result: %w", err)
	}
	if err := n.pub.PublishMatchFound(recipient, data); err != nil {
		return fmt.Errorf("notify: publish to %s: %w", recipient, err)
	}
	return nil
}
