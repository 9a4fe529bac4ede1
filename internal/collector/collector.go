// Package collector defines the uniform contract source adapters implement,
// the registry that maps source-type tags to constructors, and the content
// hashing used for change detection.
package collector

import (
	"context"
	"time"

	"digestd/internal/storage"
)

// Collector fetches items from one kind of external source. Implementations
// must be idempotent with respect to the (source, external_id) upsert key:
// re-collecting the same remote item overwrites rather than duplicates.
type Collector interface {
	// SourceType returns the tag this collector is registered under.
	SourceType() string

	// Collect fetches items updated since the given time. A zero since falls
	// back to the implementation's configured lookback window. Failures are
	// reported through the *Error taxonomy of this package.
	Collect(ctx context.Context, sourceID string, credentials, config map[string]any, since time.Time) ([]storage.Item, error)

	// ValidateCredentials reports whether the credentials grant access.
	ValidateCredentials(ctx context.Context, credentials map[string]any) (bool, error)
}

// Factory constructs a fresh collector instance.
type Factory func() Collector

// Registry maps source-type tags to collector factories. It is populated once
// at process start and read-only thereafter, so lookups need no locking.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds a tag to a factory. Later registrations for the same tag win.
func (r *Registry) Register(tag string, f Factory) {
	r.factories[tag] = f
}

// Get returns the factory for a tag. A missing tag is a normal, checked
// outcome, not an error.
func (r *Registry) Get(tag string) (Factory, bool) {
	f, ok := r.factories[tag]
	return f, ok
}

// Create instantiates a collector for a tag, or reports false for unknown tags.
func (r *Registry) Create(tag string) (Collector, bool) {
	f, ok := r.factories[tag]
	if !ok {
		return nil, false
	}
	return f(), true
}

// Tags returns all registered tags.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.factories))
	for tag := range r.factories {
		tags = append(tags, tag)
	}
	return tags
}
