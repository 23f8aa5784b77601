// Package notify delivers sync lifecycle notifications to one or more
// channels (Telegram, Discord). Events can be filtered so the operator only
// hears about the outcomes they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"tradejournal/internal/domain"
)

// Sync lifecycle event types.
const (
	EventSyncCompleted        = "sync_completed"
	EventSyncFailed           = "sync_failed"
	EventPartialSyncCompleted = "partial_sync_completed"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans a notification out to every sender, filtered by event type.
// An empty event list allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders.
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

// Notify delivers to all senders when the event type passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// SyncResult formats one position sync outcome and sends the matching event.
func (n *Notifier) SyncResult(ctx context.Context, result domain.SyncResult) error {
	if result.Status == domain.SyncStatusFailed {
		title := fmt.Sprintf("Sync failed: %s", result.Exchange)
		return n.Notify(ctx, EventSyncFailed, title, strings.Join(result.Errors, "\n"))
	}

	title := fmt.Sprintf("Sync completed: %s", result.Exchange)
	message := fmt.Sprintf("fetched %d, added %d, updated %d, skipped %d (%.1fs)",
		result.PositionsFetched, result.PositionsAdded,
		result.PositionsUpdated, result.PositionsSkipped,
		result.Duration().Seconds(),
	)
	return n.Notify(ctx, EventSyncCompleted, title, message)
}

// TradeSyncResult formats one trade sync outcome and sends the matching
// event.
func (n *Notifier) TradeSyncResult(ctx context.Context, result domain.TradeSyncResult) error {
	if result.Status == domain.SyncStatusFailed {
		title := fmt.Sprintf("Trade sync failed: %s", result.Exchange)
		return n.Notify(ctx, EventSyncFailed, title, strings.Join(result.Errors, "\n"))
	}

	title := fmt.Sprintf("Trade sync completed: %s", result.Exchange)
	message := fmt.Sprintf("processed %d positions, created %d, updated %d, skipped %d (%.1fs)",
		result.PositionsProcessed, result.TradesCreated,
		result.TradesUpdated, result.TradesSkipped,
		result.Duration().Seconds(),
	)
	return n.Notify(ctx, EventSyncCompleted, title, message)
}

// PartialSyncResult formats a partial-position re-poll outcome.
func (n *Notifier) PartialSyncResult(ctx context.Context, result domain.SyncResult) error {
	if result.Status == domain.SyncStatusFailed {
		title := fmt.Sprintf("Partial sync failed: %s", result.Exchange)
		return n.Notify(ctx, EventSyncFailed, title, strings.Join(result.Errors, "\n"))
	}

	title := fmt.Sprintf("Partial sync completed: %s", result.Exchange)
	message := fmt.Sprintf("refetched %d, updated %d", result.PositionsFetched, result.PositionsUpdated)
	return n.Notify(ctx, EventPartialSyncCompleted, title, message)
}

// dispatch sends to every sender; one failing sender never blocks the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
