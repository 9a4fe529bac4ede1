package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Digest lifecycle states. A digest is terminal once sent or failed.
const (
	DigestPending    = "pending"
	DigestCollecting = "collecting"
	DigestFormatting = "formatting"
	DigestSent       = "sent"
	DigestFailed     = "failed"
)

// Digest types.
const (
	DigestMorning  = "morning"
	DigestEvening  = "evening"
	DigestWeekly   = "weekly"
	DigestMonthly  = "monthly"
	DigestOnDemand = "on_demand"
)

// Item types.
const (
	ItemIssue       = "issue"
	ItemComment     = "comment"
	ItemEmail       = "email"
	ItemEvent       = "event"
	ItemMessage     = "message"
	ItemThreadReply = "thread_reply"
	ItemMention     = "mention"
	ItemArticle     = "article"
)

// Project groups multiple sources under one name.
type Project struct {
	ID        string
	Name      string
	Color     string
	CreatedAt time.Time
}

// Source is one configured connection to an external work tool.
// Credentials and Config are opaque to the pipeline; collectors interpret them.
type Source struct {
	ID           string
	ProjectID    string
	Type         string
	Name         string
	Credentials  map[string]any
	Config       map[string]any
	Active       bool
	LastSyncedAt *time.Time
	CreatedAt    time.Time
}

// Item is one unit of content fetched from a source. The pipeline upserts
// items on (source_id, external_id) and never deletes them.
type Item struct {
	SourceID          string
	ExternalID        string
	Type              string
	Title             string
	Content           map[string]any
	ContentHash       string
	Metadata          map[string]any
	URL               string
	ExternalCreatedAt *time.Time
	ExternalUpdatedAt *time.Time
	FetchedAt         time.Time
}

// StoredItem is an Item together with its row ID.
type StoredItem struct {
	ID string
	Item
}

// Digest is one generation attempt.
type Digest struct {
	ID           string
	Type         string
	Status       string
	ScheduledAt  *time.Time
	SentAt       *time.Time
	MessageID    int64
	Content      string
	ItemCount    int
	ErrorMessage string
	CreatedAt    time.Time
}

// CollectorError records one collection failure for a source. Errors are
// bulk-resolved the next time the source collects successfully.
type CollectorError struct {
	ID        string
	SourceID  string
	Kind      string
	Message   string
	Resolved  bool
	CreatedAt time.Time
}

// Schedule is a recurring digest trigger. At is a local wall-clock time in
// HH:MM form, interpreted in Timezone.
type Schedule struct {
	ID         string
	Name       string
	DigestType string
	At         string
	Timezone   string
	Active     bool
	ProjectIDs []string
	CreatedAt  time.Time
}

// Setting is a key-value configuration row editable at runtime.
type Setting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}
