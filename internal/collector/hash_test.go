package collector

import (
	"testing"
	"time"
)

func TestContentHashIgnoresKeyOrder(t *testing.T) {
	// Maps built from differently ordered literals; canonical JSON must make
	// them hash identically.
	a := map[string]any{"title": "Fix login", "status": "Open", "priority": "High"}
	b := map[string]any{"priority": "High", "title": "Fix login", "status": "Open"}

	if ContentHash(a) != ContentHash(b) {
		t.Error("hashes differ for semantically identical maps")
	}
}

func TestContentHashDiffersOnFieldChange(t *testing.T) {
	base := map[string]any{"title": "Fix login", "status": "Open", "assignee": "ana"}

	variants := []map[string]any{
		{"title": "Fix login!", "status": "Open", "assignee": "ana"},
		{"title": "Fix login", "status": "Done", "assignee": "ana"},
		{"title": "Fix login", "status": "Open", "assignee": "bo"},
		{"title": "Fix login", "status": "Open"},
	}

	baseHash := ContentHash(base)
	for i, v := range variants {
		if ContentHash(v) == baseHash {
			t.Errorf("variant %d hashes equal to base", i)
		}
	}
}

func TestContentHashStableAcrossNesting(t *testing.T) {
	a := map[string]any{"outer": map[string]any{"x": 1.0, "y": 2.0}}
	b := map[string]any{"outer": map[string]any{"y": 2.0, "x": 1.0}}
	if ContentHash(a) != ContentHash(b) {
		t.Error("nested maps with same entries hash differently")
	}
}

func TestNewItemHashTracksChangeRelevantFields(t *testing.T) {
	updated := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	item1 := NewItem("src", "PROJ-1", "issue", "Fix login",
		map[string]any{"status": "Open", "description": "long text"}, nil, "", nil, &updated)
	// Description changes do not affect the hash.
	item2 := NewItem("src", "PROJ-1", "issue", "Fix login",
		map[string]any{"status": "Open", "description": "different text"}, nil, "", nil, &updated)
	if item1.ContentHash != item2.ContentHash {
		t.Error("hash changed for a non-change-relevant field")
	}

	// Status changes do.
	item3 := NewItem("src", "PROJ-1", "issue", "Fix login",
		map[string]any{"status": "Done", "description": "long text"}, nil, "", nil, &updated)
	if item1.ContentHash == item3.ContentHash {
		t.Error("hash unchanged for a status change")
	}

	// So does the external update time.
	later := updated.Add(time.Hour)
	item4 := NewItem("src", "PROJ-1", "issue", "Fix login",
		map[string]any{"status": "Open", "description": "long text"}, nil, "", nil, &later)
	if item1.ContentHash == item4.ContentHash {
		t.Error("hash unchanged for an updated_at change")
	}
}
