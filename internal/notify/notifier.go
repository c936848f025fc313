// Package notify delivers operational alerts about the trading loop to
// external channels. Every registered sender receives each alert; the event
// filter lets operators subscribe to just the events they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Event types emitted by the trading loop.
const (
	EventRebalanceComplete = "rebalance_complete"
	EventBrokerError       = "broker_error"
	EventFeedDisconnect    = "feed_disconnect"
	EventArchiveComplete   = "archive_complete"
)

// Sender is one notification channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name identifies the sender, e.g. "telegram".
	Name() string
}

// Notifier fans alerts out to its senders. Notify forwards only events in
// the allowed set; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders, filtered
// to the given event types.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends a notification to all senders if the event type passes the
// filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// RebalanceComplete reports a finished rebalance cycle.
func (n *Notifier) RebalanceComplete(ctx context.Context, cycleID string, targets int) error {
	return n.Notify(ctx, EventRebalanceComplete,
		"Rebalance complete",
		fmt.Sprintf("cycle %s: %d instruments targeted", cycleID, targets))
}

// BrokerError reports a broker interaction failure.
func (n *Notifier) BrokerError(ctx context.Context, op string, err error) error {
	return n.Notify(ctx, EventBrokerError,
		"Broker error",
		fmt.Sprintf("%s: %v", op, err))
}

// FeedDisconnected reports a dropped trade-stream connection.
func (n *Notifier) FeedDisconnected(ctx context.Context, backoff time.Duration) error {
	return n.Notify(ctx, EventFeedDisconnect,
		"Trade feed disconnected",
		fmt.Sprintf("reconnecting in %s", backoff))
}

// ArchiveComplete reports a finished retention sweep.
func (n *Notifier) ArchiveComplete(ctx context.Context, cutoff time.Time) error {
	return n.Notify(ctx, EventArchiveComplete,
		"Archive sweep complete",
		fmt.Sprintf("rows before %s moved to object storage", cutoff.Format(time.RFC3339)))
}

// dispatch fans the notification out to every sender. Individual sender
// failures are collected so one broken channel never blocks the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()))
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title))
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
