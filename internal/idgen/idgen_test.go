package idgen

import (
	"sort"
	"strings"
	"testing"
	"time"
)

func TestNewEventID_Format(t *testing.T) {
	id, err := NewEventID()
	if err != nil {
		t.Fatalf("NewEventID: %v", err)
	}
	if !strings.HasPrefix(id, "ev-") {
		t.Fatalf("expected ev- prefix, got %q", id)
	}
	// "ev-" + 9 timestamp digits + 8 random characters.
	if len(id) != 3+eventTimestampWidth+8 {
		t.Fatalf("unexpected length %d for %q", len(id), id)
	}
}

func TestNewEventID_Unique(t *testing.T) {
	seen := make(map[string]struct{})
	for range 1000 {
		id, err := NewEventID()
		if err != nil {
			t.Fatalf("NewEventID: %v", err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate ID generated: %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestNewEventID_TimeSortable(t *testing.T) {
	var ids []string
	for range 3 {
		id, err := NewEventID()
		if err != nil {
			t.Fatalf("NewEventID: %v", err)
		}
		ids = append(ids, id)
		time.Sleep(2 * time.Millisecond)
	}
	if !sort.StringsAreSorted(ids) {
		t.Fatalf("expected IDs to sort by generation time, got %v", ids)
	}
}

func TestNewConnectionID(t *testing.T) {
	a, err := NewConnectionID()
	if err != nil {
		t.Fatalf("NewConnectionID: %v", err)
	}
	b, err := NewConnectionID()
	if err != nil {
		t.Fatalf("NewConnectionID: %v", err)
	}
	if !strings.HasPrefix(a, "conn-") {
		t.Fatalf("expected conn- prefix, got %q", a)
	}
	if a == b {
		t.Fatalf("expected distinct IDs, got %q twice", a)
	}
}
