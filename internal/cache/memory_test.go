package cache

import (
	"context"
	"testing"
	"time"

	"github.com/yatagarasu/yatagarasu/internal/fingerprint"
)

func TestMemorySetGetRoundTrip(t *testing.T) {
	m := NewMemory(1<<20, 1<<20)
	fp := fingerprint.Build("prod", "foo.txt")
	entry := &Entry{Data: []byte("hello")}

	if err := m.Set(context.Background(), fp, entry); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := m.Get(context.Background(), fp)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if string(got.Data) != "hello" {
		t.Fatalf("unexpected data: %s", got.Data)
	}
}

func TestMemoryRejectsOversizedEntry(t *testing.T) {
	m := NewMemory(1<<20, 4)
	fp := fingerprint.Build("prod", "foo.txt")
	entry := &Entry{Data: []byte("too big")}

	_ = m.Set(context.Background(), fp, entry)
	_, ok, _ := m.Get(context.Background(), fp)
	if ok {
		t.Fatalf("expected entry exceeding max_item_size to be rejected")
	}
}

func TestMemoryEvictsUnderByteBudget(t *testing.T) {
	m := NewMemory(10, 10)
	a := fingerprint.Build("prod", "a")
	b := fingerprint.Build("prod", "b")

	_ = m.Set(context.Background(), a, &Entry{Data: []byte("0123456789")})
	_ = m.Set(context.Background(), b, &Entry{Data: []byte("9876543210")})

	_, okA, _ := m.Get(context.Background(), a)
	_, okB, _ := m.Get(context.Background(), b)
	if okA {
		t.Fatalf("expected oldest entry evicted once byte budget exceeded")
	}
	if !okB {
		t.Fatalf("expected newest entry to survive")
	}
}

func TestMemoryTreatsExpiredEntryAsMiss(t *testing.T) {
	m := NewMemory(1<<20, 1<<20)
	fp := fingerprint.Build("prod", "foo.txt")
	entry := &Entry{Data: []byte("x"), ExpiresAt: time.Now().Add(-time.Second)}

	_ = m.Set(context.Background(), fp, entry)
	_, ok, _ := m.Get(context.Background(), fp)
	if ok {
		t.Fatalf("expected expired entry to be treated as a miss")
	}
}

func TestMemoryDeleteAndClear(t *testing.T) {
	m := NewMemory(1<<20, 1<<20)
	fp := fingerprint.Build("prod", "foo.txt")
	_ = m.Set(context.Background(), fp, &Entry{Data: []byte("x")})

	deleted, _ := m.Delete(context.Background(), fp)
	if !deleted {
		t.Fatalf("expected delete to report true")
	}
	_, ok, _ := m.Get(context.Background(), fp)
	if ok {
		t.Fatalf("expected miss after delete")
	}

	_ = m.Set(context.Background(), fp, &Entry{Data: []byte("x")})
	_ = m.Clear(context.Background())
	if m.Stats().Items != 0 {
		t.Fatalf("expected zero items after clear")
	}
}
