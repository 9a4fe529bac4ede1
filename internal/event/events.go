// Package event defines the immutable domain events exchanged over the bus.
package event

import "time"

// Event names used for exact-type subscription matching.
const (
	NameDigestScheduled     = "digest_scheduled"
	NameCollectionStarted   = "collection_started"
	NameCollectionCompleted = "collection_completed"
	NameCollectorFailed     = "collector_failed"
	NameDigestReady         = "digest_ready"
	NameDigestSent          = "digest_sent"
	NameDigestFailed        = "digest_failed"
)

// Event is implemented by all domain events. Events are value types and are
// never mutated after construction.
type Event interface {
	Name() string
	OccurredAt() time.Time
}

type base struct {
	Timestamp time.Time
}

func (b base) OccurredAt() time.Time { return b.Timestamp }

func newBase() base {
	return base{Timestamp: time.Now().UTC()}
}

// DigestScheduled is published when a schedule fires.
type DigestScheduled struct {
	base
	ScheduleID string
	DigestType string
	ProjectIDs []string
}

func NewDigestScheduled(scheduleID, digestType string, projectIDs []string) DigestScheduled {
	return DigestScheduled{base: newBase(), ScheduleID: scheduleID, DigestType: digestType, ProjectIDs: projectIDs}
}

func (DigestScheduled) Name() string { return NameDigestScheduled }

// CollectionStarted is published before a source's collector is invoked.
type CollectionStarted struct {
	base
	SourceID string
	DigestID string
}

func NewCollectionStarted(sourceID, digestID string) CollectionStarted {
	return CollectionStarted{base: newBase(), SourceID: sourceID, DigestID: digestID}
}

func (CollectionStarted) Name() string { return NameCollectionStarted }

// CollectionCompleted is published after a source collected successfully.
type CollectionCompleted struct {
	base
	SourceID      string
	DigestID      string
	ItemsCount    int
	NewItemsCount int
}

func NewCollectionCompleted(sourceID, digestID string, itemsCount, newItemsCount int) CollectionCompleted {
	return CollectionCompleted{
		base: newBase(), SourceID: sourceID, DigestID: digestID,
		ItemsCount: itemsCount, NewItemsCount: newItemsCount,
	}
}

func (CollectionCompleted) Name() string { return NameCollectionCompleted }

// CollectorFailed is published when one source's collection fails. The failure
// is isolated to that source; digest generation continues.
type CollectorFailed struct {
	base
	SourceID     string
	ErrorKind    string
	ErrorMessage string
}

func NewCollectorFailed(sourceID, errorKind, errorMessage string) CollectorFailed {
	return CollectorFailed{base: newBase(), SourceID: sourceID, ErrorKind: errorKind, ErrorMessage: errorMessage}
}

func (CollectorFailed) Name() string { return NameCollectorFailed }

// DigestReady is published when a digest has been formatted and is ready for delivery.
type DigestReady struct {
	base
	DigestID  string
	Content   string
	ItemCount int
}

func NewDigestReady(digestID, content string, itemCount int) DigestReady {
	return DigestReady{base: newBase(), DigestID: digestID, Content: content, ItemCount: itemCount}
}

func (DigestReady) Name() string { return NameDigestReady }

// DigestSent is published after delivery is confirmed.
type DigestSent struct {
	base
	DigestID  string
	MessageID int64
}

func NewDigestSent(digestID string, messageID int64) DigestSent {
	return DigestSent{base: newBase(), DigestID: digestID, MessageID: messageID}
}

func (DigestSent) Name() string { return NameDigestSent }

// DigestFailed is published when digest generation fails outside the
// per-source error boundary.
type DigestFailed struct {
	base
	DigestID     string
	ErrorMessage string
}

func NewDigestFailed(digestID, errorMessage string) DigestFailed {
	return DigestFailed{base: newBase(), DigestID: digestID, ErrorMessage: errorMessage}
}

func (DigestFailed) Name() string { return NameDigestFailed }
