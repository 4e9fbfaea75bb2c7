// Package notify forwards round settlement and error notifications to
// operator chat channels. Each event type can be filtered so operators only
// receive the alerts they ask for.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Event types emitted by the service.
const (
	EventRoundSettled = "round_settled"
	EventError        = "error"
)

// Sender delivers one notification over a single channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Options selects the channels a Notifier delivers to. A channel is enabled
// when its credentials are set.
type Options struct {
	TelegramToken     string
	TelegramChatID    string
	DiscordWebhookURL string
	Events            []string
}

// Notifier fans a notification out to every Sender whose event type passes
// the filter. An empty filter passes every event.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// New builds a Notifier from opts. It returns nil when no channel is
// configured so callers can skip wiring it.
func New(opts Options, logger *slog.Logger) *Notifier {
	var senders []Sender
	if opts.TelegramToken != "" && opts.TelegramChatID != "" {
		senders = append(senders, NewTelegramSender(opts.TelegramToken, opts.TelegramChatID))
	}
	if opts.DiscordWebhookURL != "" {
		senders = append(senders, NewDiscordSender(opts.DiscordWebhookURL))
	}
	if len(senders) == 0 {
		return nil
	}
	return NewNotifier(senders, opts.Events, logger)
}

// NewNotifier creates a Notifier delivering the listed events to senders.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers title and message to every sender if event passes the
// filter. A failing sender does not stop delivery to the rest; their errors
// are joined.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", event),
		)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}
