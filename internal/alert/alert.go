// Package alert turns collector failures into operator notifications,
// rate-limited per source so a flapping integration does not flood the chat.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"digestd/internal/digest"
	"digestd/internal/event"
	"digestd/internal/format"
	"digestd/internal/storage"
)

// Cooldown is the minimum gap between two alerts for the same source.
const Cooldown = 30 * time.Minute

// Sender delivers a rendered alert message.
type Sender interface {
	Send(ctx context.Context, text string) (int64, error)
}

// Store is the lookup surface the notifier needs.
type Store interface {
	GetSource(id string) (storage.Source, error)
	GetSetting(key string) (string, error)
}

// Notifier subscribes to CollectorFailed events and forwards them to the
// operator. Alerts for a source within Cooldown of the previous one are
// dropped.
type Notifier struct {
	store    Store
	sender   Sender
	cooldown time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu        sync.Mutex
	lastAlert map[string]time.Time
}

func NewNotifier(store Store, sender Sender) *Notifier {
	return &Notifier{
		store:     store,
		sender:    sender,
		cooldown:  Cooldown,
		now:       time.Now,
		logger:    slog.Default(),
		lastAlert: make(map[string]time.Time),
	}
}

// HandleCollectorFailed is the bus handler for CollectorFailed events.
// Delivery failures are logged, never propagated, and do not consume the
// cooldown window.
func (n *Notifier) HandleCollectorFailed(ctx context.Context, ev event.Event) error {
	failed, ok := ev.(event.CollectorFailed)
	if !ok {
		return fmt.Errorf("unexpected event type %T", ev)
	}

	if !n.shouldAlert(failed.SourceID) {
		n.logger.Debug("alert suppressed by cooldown", "source_id", failed.SourceID)
		return nil
	}

	text := format.ErrorAlert(n.sourceName(failed.SourceID), failed.ErrorKind, failed.ErrorMessage, n.language())
	if _, err := n.sender.Send(ctx, text); err != nil {
		n.logger.Error("sending error alert", "source_id", failed.SourceID, "error", err)
		return nil
	}

	n.recordAlert(failed.SourceID)
	n.logger.Info("error alert sent", "source_id", failed.SourceID, "error_kind", failed.ErrorKind)
	return nil
}

func (n *Notifier) shouldAlert(sourceID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	last, seen := n.lastAlert[sourceID]
	return !seen || n.now().Sub(last) >= n.cooldown
}

func (n *Notifier) recordAlert(sourceID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastAlert[sourceID] = n.now()
}

func (n *Notifier) sourceName(sourceID string) string {
	src, err := n.store.GetSource(sourceID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			n.logger.Warn("looking up source for alert", "source_id", sourceID, "error", err)
		}
		return fmt.Sprintf("Unknown (%s)", sourceID)
	}
	return src.Name
}

func (n *Notifier) language() string {
	lang, err := n.store.GetSetting(digest.LanguageSetting)
	if err != nil {
		return "en"
	}
	return lang
}
