package storage

import (
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestSource(t *testing.T, s *Store) Source {
	t.Helper()
	p, err := s.CreateProject(Project{Name: "Test Project " + time.Now().Format(time.RFC3339Nano)})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	src, err := s.CreateSource(Source{
		ProjectID:   p.ID,
		Type:        "jira",
		Name:        "Team Jira",
		Credentials: map[string]any{"url": "https://example.atlassian.net"},
		Config:      map[string]any{"max_results": float64(50)},
		Active:      true,
	})
	if err != nil {
		t.Fatalf("CreateSource: %v", err)
	}
	return src
}

func TestOpenRunsMigrations(t *testing.T) {
	s := openTestStore(t)

	var count int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		t.Fatalf("querying schema_version: %v", err)
	}
	if count == 0 {
		t.Fatal("no migrations recorded")
	}
}

func TestSourceRoundTrip(t *testing.T) {
	s := openTestStore(t)
	src := createTestSource(t, s)

	got, err := s.GetSource(src.ID)
	if err != nil {
		t.Fatalf("GetSource: %v", err)
	}
	if got.Name != "Team Jira" {
		t.Errorf("Name = %q, want %q", got.Name, "Team Jira")
	}
	if got.Credentials["url"] != "https://example.atlassian.net" {
		t.Errorf("Credentials[url] = %v", got.Credentials["url"])
	}
	if !got.Active {
		t.Error("Active = false, want true")
	}
	if got.LastSyncedAt != nil {
		t.Errorf("LastSyncedAt = %v, want nil", got.LastSyncedAt)
	}
}

func TestGetActiveSourcesFiltersInactive(t *testing.T) {
	s := openTestStore(t)
	active := createTestSource(t, s)
	inactive := createTestSource(t, s)
	if err := s.SetSourceActive(inactive.ID, false); err != nil {
		t.Fatalf("SetSourceActive: %v", err)
	}

	sources, err := s.GetActiveSources()
	if err != nil {
		t.Fatalf("GetActiveSources: %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("got %d active sources, want 1", len(sources))
	}
	if sources[0].ID != active.ID {
		t.Errorf("active source = %s, want %s", sources[0].ID, active.ID)
	}
}

func TestUpdateSourceLastSynced(t *testing.T) {
	s := openTestStore(t)
	src := createTestSource(t, s)

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	if err := s.UpdateSourceLastSynced(src.ID, at); err != nil {
		t.Fatalf("UpdateSourceLastSynced: %v", err)
	}

	got, err := s.GetSource(src.ID)
	if err != nil {
		t.Fatalf("GetSource: %v", err)
	}
	if got.LastSyncedAt == nil || !got.LastSyncedAt.Equal(at) {
		t.Errorf("LastSyncedAt = %v, want %v", got.LastSyncedAt, at)
	}
}

func TestUpsertItemsOverwritesOnSameExternalID(t *testing.T) {
	s := openTestStore(t)
	src := createTestSource(t, s)

	item := Item{
		SourceID:    src.ID,
		ExternalID:  "PROJ-1",
		Type:        ItemIssue,
		Title:       "First title",
		Content:     map[string]any{"status": "Open"},
		ContentHash: "hash-v1",
	}

	ids1, err := s.UpsertItems([]Item{item})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	item.Title = "Second title"
	item.ContentHash = "hash-v2"
	ids2, err := s.UpsertItems([]Item{item})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if ids1[0] != ids2[0] {
		t.Errorf("upsert created a second row: %s vs %s", ids1[0], ids2[0])
	}

	var count int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM items").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("item rows = %d, want 1", count)
	}

	got, err := s.GetItem(ids1[0])
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got.Title != "Second title" || got.ContentHash != "hash-v2" {
		t.Errorf("item not overwritten: title=%q hash=%q", got.Title, got.ContentHash)
	}
}

func TestChangedSinceLastDigest(t *testing.T) {
	s := openTestStore(t)
	src := createTestSource(t, s)

	ids, err := s.UpsertItems([]Item{
		{SourceID: src.ID, ExternalID: "A", Type: ItemIssue, Title: "A", ContentHash: "h1"},
		{SourceID: src.ID, ExternalID: "B", Type: ItemIssue, Title: "B", ContentHash: "h2"},
	})
	if err != nil {
		t.Fatalf("UpsertItems: %v", err)
	}
	itemA, itemB := ids[0], ids[1]

	// Nothing shown yet: both items are changed.
	changed, err := s.ChangedSinceLastDigest(src.ID)
	if err != nil {
		t.Fatalf("ChangedSinceLastDigest: %v", err)
	}
	if len(changed) != 2 {
		t.Fatalf("got %d changed items, want 2", len(changed))
	}

	// Show A with its current hash in a sent digest.
	d, err := s.CreateDigest(DigestMorning, time.Now().UTC())
	if err != nil {
		t.Fatalf("CreateDigest: %v", err)
	}
	if err := s.AddDigestItems(d.ID, []LedgerEntry{{ItemID: itemA, ContentHash: "h1"}}); err != nil {
		t.Fatalf("AddDigestItems: %v", err)
	}
	if err := s.MarkDigestSent(d.ID, 100, "digest body", 1); err != nil {
		t.Fatalf("MarkDigestSent: %v", err)
	}

	changed, err = s.ChangedSinceLastDigest(src.ID)
	if err != nil {
		t.Fatalf("ChangedSinceLastDigest: %v", err)
	}
	if len(changed) != 1 || changed[0].ID != itemB {
		t.Fatalf("changed = %v, want only item B", changedIDs(changed))
	}

	// A's hash changes: it is due again.
	if _, err := s.UpsertItems([]Item{
		{SourceID: src.ID, ExternalID: "A", Type: ItemIssue, Title: "A", ContentHash: "h1-updated"},
	}); err != nil {
		t.Fatalf("UpsertItems: %v", err)
	}
	changed, err = s.ChangedSinceLastDigest(src.ID)
	if err != nil {
		t.Fatalf("ChangedSinceLastDigest: %v", err)
	}
	if len(changed) != 2 {
		t.Errorf("got %d changed items after hash change, want 2", len(changed))
	}
}

func TestChangedSinceLastDigestIgnoresUnsentDigests(t *testing.T) {
	s := openTestStore(t)
	src := createTestSource(t, s)

	ids, err := s.UpsertItems([]Item{
		{SourceID: src.ID, ExternalID: "A", Type: ItemIssue, Title: "A", ContentHash: "h1"},
	})
	if err != nil {
		t.Fatalf("UpsertItems: %v", err)
	}

	// Ledger entry on a digest that failed before sending does not count.
	d, err := s.CreateDigest(DigestMorning, time.Now().UTC())
	if err != nil {
		t.Fatalf("CreateDigest: %v", err)
	}
	if err := s.AddDigestItems(d.ID, []LedgerEntry{{ItemID: ids[0], ContentHash: "h1"}}); err != nil {
		t.Fatalf("AddDigestItems: %v", err)
	}
	if err := s.UpdateDigestStatus(d.ID, DigestFailed, "boom"); err != nil {
		t.Fatalf("UpdateDigestStatus: %v", err)
	}

	changed, err := s.ChangedSinceLastDigest(src.ID)
	if err != nil {
		t.Fatalf("ChangedSinceLastDigest: %v", err)
	}
	if len(changed) != 1 {
		t.Errorf("got %d changed items, want 1 (failed digest must not dedup)", len(changed))
	}
}

func TestChangedSinceLastDigestUsesLatestSent(t *testing.T) {
	s := openTestStore(t)
	src := createTestSource(t, s)

	ids, err := s.UpsertItems([]Item{
		{SourceID: src.ID, ExternalID: "A", Type: ItemIssue, Title: "A", ContentHash: "h2"},
	})
	if err != nil {
		t.Fatalf("UpsertItems: %v", err)
	}

	// Older sent digest shows h1, newer sent digest shows h2 (the current hash).
	old, err := s.CreateDigest(DigestMorning, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddDigestItems(old.ID, []LedgerEntry{{ItemID: ids[0], ContentHash: "h1"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkDigestSent(old.ID, 1, "old", 1); err != nil {
		t.Fatal(err)
	}

	time.Sleep(5 * time.Millisecond)

	latest, err := s.CreateDigest(DigestEvening, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddDigestItems(latest.ID, []LedgerEntry{{ItemID: ids[0], ContentHash: "h2"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkDigestSent(latest.ID, 2, "latest", 1); err != nil {
		t.Fatal(err)
	}

	changed, err := s.ChangedSinceLastDigest(src.ID)
	if err != nil {
		t.Fatalf("ChangedSinceLastDigest: %v", err)
	}
	if len(changed) != 0 {
		t.Errorf("got %d changed items, want 0 (latest sent digest already shows current hash)", len(changed))
	}
}

func TestDigestLifecycle(t *testing.T) {
	s := openTestStore(t)

	d, err := s.CreateDigest(DigestEvening, time.Now().UTC())
	if err != nil {
		t.Fatalf("CreateDigest: %v", err)
	}
	if d.Status != DigestPending {
		t.Errorf("initial status = %q, want pending", d.Status)
	}

	if err := s.UpdateDigestStatus(d.ID, DigestCollecting, ""); err != nil {
		t.Fatalf("UpdateDigestStatus: %v", err)
	}
	if err := s.MarkDigestSent(d.ID, 42, "rendered", 3); err != nil {
		t.Fatalf("MarkDigestSent: %v", err)
	}

	got, err := s.GetDigest(d.ID)
	if err != nil {
		t.Fatalf("GetDigest: %v", err)
	}
	if got.Status != DigestSent {
		t.Errorf("status = %q, want sent", got.Status)
	}
	if got.MessageID != 42 || got.ItemCount != 3 || got.Content != "rendered" {
		t.Errorf("sent fields = (%d, %d, %q)", got.MessageID, got.ItemCount, got.Content)
	}
	if got.SentAt == nil {
		t.Error("SentAt not set")
	}
}

func TestCollectorErrorsResolve(t *testing.T) {
	s := openTestStore(t)
	src := createTestSource(t, s)

	if _, err := s.CreateCollectorError(src.ID, "auth", "401 from upstream"); err != nil {
		t.Fatalf("CreateCollectorError: %v", err)
	}
	if _, err := s.CreateCollectorError(src.ID, "network", "connection reset"); err != nil {
		t.Fatalf("CreateCollectorError: %v", err)
	}

	open, err := s.UnresolvedErrors(src.ID)
	if err != nil {
		t.Fatalf("UnresolvedErrors: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("got %d unresolved errors, want 2", len(open))
	}

	if err := s.MarkErrorsResolved(src.ID); err != nil {
		t.Fatalf("MarkErrorsResolved: %v", err)
	}
	open, err = s.UnresolvedErrors(src.ID)
	if err != nil {
		t.Fatalf("UnresolvedErrors: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("got %d unresolved errors after resolve, want 0", len(open))
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetSetting("digest_language"); err != ErrNotFound {
		t.Fatalf("GetSetting on empty store: err = %v, want ErrNotFound", err)
	}

	if err := s.SetSetting("digest_language", "en"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := s.SetSetting("digest_language", "ru"); err != nil {
		t.Fatalf("SetSetting overwrite: %v", err)
	}

	v, err := s.GetSetting("digest_language")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if v != "ru" {
		t.Errorf("value = %q, want %q", v, "ru")
	}
}

func TestSchedules(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.CreateSchedule(Schedule{Name: "morning", DigestType: DigestMorning, At: "08:00", Active: true}); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	if _, err := s.CreateSchedule(Schedule{Name: "paused", DigestType: DigestEvening, At: "19:00", Active: false}); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	active, err := s.GetActiveSchedules()
	if err != nil {
		t.Fatalf("GetActiveSchedules: %v", err)
	}
	if len(active) != 1 || active[0].Name != "morning" {
		t.Fatalf("active schedules = %v", active)
	}
	if active[0].Timezone != "UTC" {
		t.Errorf("default timezone = %q, want UTC", active[0].Timezone)
	}
}

func changedIDs(items []StoredItem) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}
