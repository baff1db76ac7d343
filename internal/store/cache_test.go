package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/gigtree/realtime/internal/model"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func rec(id string, createdAt time.Time) model.NotificationRecord {
	return model.NotificationRecord{
		ID:        id,
		Type:      "message",
		Title:     "title " + id,
		Message:   "body " + id,
		CreatedAt: createdAt,
	}
}

func TestCache_UpsertAndList(t *testing.T) {
	c := openTestCache(t)
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	r1 := rec("n1", base)
	r1.Payload = json.RawMessage(`{"jobId":"j9"}`)
	r1.ActionTarget = "/jobs/j9"

	if err := c.Upsert(r1); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := c.Upsert(rec("n2", base.Add(time.Minute))); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	recs, err := c.List(10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].ID != "n2" || recs[1].ID != "n1" {
		t.Errorf("order = [%s, %s], want newest first", recs[0].ID, recs[1].ID)
	}
	if string(recs[1].Payload) != `{"jobId":"j9"}` {
		t.Errorf("payload = %s", recs[1].Payload)
	}
	if recs[1].ActionTarget != "/jobs/j9" {
		t.Errorf("action target = %s", recs[1].ActionTarget)
	}
}

func TestCache_UpsertReplacesExisting(t *testing.T) {
	c := openTestCache(t)
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	if err := c.Upsert(rec("n1", base)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	updated := rec("n1", base)
	updated.Title = "updated title"
	if err := c.Upsert(updated); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}

	recs, err := c.List(10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1 (id is unique)", len(recs))
	}
	if recs[0].Title != "updated title" {
		t.Errorf("title = %q, want replacement", recs[0].Title)
	}
}

func TestCache_MarkRead(t *testing.T) {
	c := openTestCache(t)
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	c.Upsert(rec("n1", base))
	c.Upsert(rec("n2", base.Add(time.Second)))

	at := base.Add(time.Minute)
	if err := c.MarkRead("n1", at); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}

	recs, _ := c.List(10)
	for _, r := range recs {
		switch r.ID {
		case "n1":
			if !r.Read || !r.ReadAt.Equal(at) {
				t.Errorf("n1 = read %v at %v, want read at %v", r.Read, r.ReadAt, at)
			}
		case "n2":
			if r.Read {
				t.Error("n2 unexpectedly read")
			}
		}
	}

	if err := c.MarkAllRead(at.Add(time.Minute)); err != nil {
		t.Fatalf("MarkAllRead failed: %v", err)
	}
	recs, _ = c.List(10)
	for _, r := range recs {
		if !r.Read {
			t.Errorf("%s unread after MarkAllRead", r.ID)
		}
	}
}

func TestCache_Prune(t *testing.T) {
	c := openTestCache(t)
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		r := rec(string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute))
		if i < 2 {
			r.Read = true // read state must not protect a row
			r.ReadAt = base.Add(time.Hour)
		}
		if err := c.Upsert(r); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	if err := c.Prune(3); err != nil {
		t.Fatalf("Prune failed: %v", err)
	}

	recs, _ := c.List(10)
	if len(recs) != 3 {
		t.Fatalf("got %d records after prune, want 3", len(recs))
	}
	// The three newest survive: e, d, c.
	want := []string{"e", "d", "c"}
	for i, w := range want {
		if recs[i].ID != w {
			t.Errorf("recs[%d] = %s, want %s", i, recs[i].ID, w)
		}
	}
}

func TestCache_ReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")

	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	c.Upsert(rec("n1", time.Now().UTC()))
	c.Close()

	c2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer c2.Close()

	recs, err := c2.List(10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "n1" {
		t.Errorf("records after reopen = %+v", recs)
	}
}
