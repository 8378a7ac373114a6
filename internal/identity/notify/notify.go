// Package notify delivers out-of-band messages: MFA challenge codes and registration mail.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

type Kind string

const (
	KindOOBChallenge Kind = "oob_challenge"
	KindRegistration Kind = "registration"
	KindCourtesy     Kind = "registration_courtesy"
)

// Message is a single outbound notification. Secret holds the code or token the recipient needs.
type Message struct {
	Kind    Kind
	Channel Channel
	To      string
	UserID  string
	Secret  string
}

// Notifier delivers a message. A returned error fails the calling operation.
type Notifier interface {
	Notify(ctx context.Context, m Message) error
}

var ErrNoRecipient = errors.New("notify: no recipient")

// LogNotifier hands messages to a structured logger. Secrets are only written when
// IncludeSecrets is set, which is meant for local development.
type LogNotifier struct {
	Logger         *slog.Logger
	IncludeSecrets bool
}

func (n *LogNotifier) Notify(ctx context.Context, m Message) error {
	if m.To == "" {
		return ErrNoRecipient
	}
	attrs := []slog.Attr{
		slog.String("kind", string(m.Kind)),
		slog.String("channel", string(m.Channel)),
		slog.String("to", m.To),
		slog.String("user_id", m.UserID),
	}
	if n.IncludeSecrets {
		attrs = append(attrs, slog.String("secret", m.Secret))
	}
	n.Logger.LogAttrs(ctx, slog.LevelInfo, "notification_sent", attrs...)
	return nil
}

// Recorder captures messages in memory. When Err is set every Notify fails with it.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
	Err  error
}

func (r *Recorder) Notify(_ context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

// Last returns the most recent message of the given kind.
func (r *Recorder) Last(kind Kind) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.msgs) - 1; i >= 0; i-- {
		if r.msgs[i].Kind == kind {
			return r.msgs[i], true
		}
	}
	return Message{}, false
}

func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.Kind == kind {
			n++
		}
	}
	return n
}
