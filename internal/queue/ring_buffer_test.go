package queue

import (
	"fmt"
	"testing"
	"time"

	"sentinel-ueba/internal/schema"
)

func makeEvent(userID string, ts time.Time) *schema.Event {
	return &schema.Event{
		UserID:    userID,
		EventType: "login",
		Timestamp: ts,
	}
}

func TestEventRing_AppendAndSnapshot(t *testing.T) {
	r := NewEventRing(5)

	base := time.Now()
	for i := 0; i < 3; i++ {
		r.Append(makeEvent(fmt.Sprintf("user-%d", i), base.Add(time.Duration(i)*time.Second)))
	}

	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}

	snap := r.Snapshot()
	for i, event := range snap {
		want := fmt.Sprintf("user-%d", i)
		if event.UserID != want {
			t.Errorf("snapshot[%d].UserID = %s, want %s", i, event.UserID, want)
		}
	}
}

func TestEventRing_OverwriteKeepsLastN(t *testing.T) {
	const size = 10
	const extra = 7
	r := NewEventRing(size)

	base := time.Now()
	for i := 0; i < size+extra; i++ {
		r.Append(makeEvent(fmt.Sprintf("user-%d", i), base.Add(time.Duration(i)*time.Second)))
	}

	if r.Len() != size {
		t.Fatalf("Len() = %d, want %d", r.Len(), size)
	}

	snap := r.Snapshot()
	if len(snap) != size {
		t.Fatalf("snapshot length = %d, want %d", len(snap), size)
	}

	// Exactly the last `size` events, oldest-first.
	for i, event := range snap {
		want := fmt.Sprintf("user-%d", extra+i)
		if event.UserID != want {
			t.Errorf("snapshot[%d].UserID = %s, want %s", i, event.UserID, want)
		}
	}

	m := r.Metrics()
	if m.Evicted != extra {
		t.Errorf("Evicted = %d, want %d", m.Evicted, extra)
	}
	if m.Appended != size+extra {
		t.Errorf("Appended = %d, want %d", m.Appended, size+extra)
	}
}

func TestEventRing_Window(t *testing.T) {
	r := NewEventRing(100)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		r.Append(makeEvent("alice", base.Add(time.Duration(i)*time.Minute)))
	}

	got := r.Window(base.Add(3*time.Minute), base.Add(6*time.Minute))
	if len(got) != 4 {
		t.Fatalf("Window() returned %d events, want 4", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp) {
			t.Error("Window() events out of order")
		}
	}
}

func TestEventRing_DefaultSize(t *testing.T) {
	r := NewEventRing(0)
	if r.Cap() != 1000 {
		t.Errorf("Cap() = %d, want default 1000", r.Cap())
	}
}
