// Package deliver pushes formatted digests out and closes the loop on their
// lifecycle.
package deliver

import (
	"context"
	"fmt"
	"log/slog"

	"digestd/internal/event"
)

// Sender delivers the digest body and returns the provider's message ID.
type Sender interface {
	Send(ctx context.Context, text string) (int64, error)
}

// Digests is the lifecycle surface for confirming or failing a digest.
type Digests interface {
	MarkSent(ctx context.Context, digestID string, messageID int64, content string, itemCount int) error
	MarkFailed(ctx context.Context, digestID, reason string) error
}

// Deliverer subscribes to DigestReady events and sends each digest exactly
// once, recording the outcome.
type Deliverer struct {
	sender  Sender
	digests Digests
	logger  *slog.Logger
}

func New(sender Sender, digests Digests) *Deliverer {
	return &Deliverer{sender: sender, digests: digests, logger: slog.Default()}
}

// HandleDigestReady is the bus handler for DigestReady events.
func (d *Deliverer) HandleDigestReady(ctx context.Context, ev event.Event) error {
	ready, ok := ev.(event.DigestReady)
	if !ok {
		return fmt.Errorf("unexpected event type %T", ev)
	}

	messageID, err := d.sender.Send(ctx, ready.Content)
	if err != nil {
		d.logger.Error("delivering digest", "digest_id", ready.DigestID, "error", err)
		if failErr := d.digests.MarkFailed(ctx, ready.DigestID, err.Error()); failErr != nil {
			d.logger.Error("recording delivery failure", "digest_id", ready.DigestID, "error", failErr)
		}
		return fmt.Errorf("delivering digest %s: %w", ready.DigestID, err)
	}

	if err := d.digests.MarkSent(ctx, ready.DigestID, messageID, ready.Content, ready.ItemCount); err != nil {
		return fmt.Errorf("confirming digest %s: %w", ready.DigestID, err)
	}

	d.logger.Info("digest delivered", "digest_id", ready.DigestID, "message_id", messageID, "item_count", ready.ItemCount)
	return nil
}
