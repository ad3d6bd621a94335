package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/yatagarasu/yatagarasu/internal/fingerprint"
)

func TestDiskSetGetRoundTrip(t *testing.T) {
	root := t.TempDir()
	d, err := NewDisk(root, 1<<20, 1<<20, 0)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}

	fp := fingerprint.Build("prod", "foo.txt")
	if err := d.Set(context.Background(), fp, &Entry{Data: []byte("hello")}); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok, err := d.Get(context.Background(), fp)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if string(got.Data) != "hello" {
		t.Fatalf("unexpected data: %s", got.Data)
	}
}

func TestDiskPersistsIndexAcrossReopen(t *testing.T) {
	root := t.TempDir()
	d1, err := NewDisk(root, 1<<20, 1<<20, 0)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	fp := fingerprint.Build("prod", "foo.txt")
	if err := d1.Set(context.Background(), fp, &Entry{Data: []byte("hello")}); err != nil {
		t.Fatalf("set: %v", err)
	}

	d2, err := NewDisk(root, 1<<20, 1<<20, 0)
	if err != nil {
		t.Fatalf("reopen NewDisk: %v", err)
	}
	got, ok, err := d2.Get(context.Background(), fp)
	if err != nil || !ok {
		t.Fatalf("expected hit after reopen, got ok=%v err=%v", ok, err)
	}
	if string(got.Data) != "hello" {
		t.Fatalf("unexpected data after reopen: %s", got.Data)
	}
}

func TestDiskReconcileDropsOrphanFiles(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "entries"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	orphan := filepath.Join(root, "entries", "orphan.data")
	if err := os.WriteFile(orphan, []byte("stale"), 0o644); err != nil {
		t.Fatalf("write orphan: %v", err)
	}

	if _, err := NewDisk(root, 1<<20, 1<<20, 0); err != nil {
		t.Fatalf("NewDisk: %v", err)
	}

	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Fatalf("expected orphan file to be removed during reconciliation")
	}
}

func TestDiskEvictsUnderByteBudget(t *testing.T) {
	root := t.TempDir()
	d, err := NewDisk(root, 10, 10, 0)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}

	a := fingerprint.Build("prod", "a")
	b := fingerprint.Build("prod", "b")
	_ = d.Set(context.Background(), a, &Entry{Data: []byte("0123456789")})
	_ = d.Set(context.Background(), b, &Entry{Data: []byte("9876543210")})

	_, okA, _ := d.Get(context.Background(), a)
	_, okB, _ := d.Get(context.Background(), b)
	if okA {
		t.Fatalf("expected first entry evicted once byte budget exceeded")
	}
	if !okB {
		t.Fatalf("expected second entry to survive")
	}
}

func TestDiskDeleteRemovesFile(t *testing.T) {
	root := t.TempDir()
	d, err := NewDisk(root, 1<<20, 1<<20, 0)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	fp := fingerprint.Build("prod", "foo.txt")
	_ = d.Set(context.Background(), fp, &Entry{Data: []byte("hello")})

	deleted, err := d.Delete(context.Background(), fp)
	if err != nil || !deleted {
		t.Fatalf("expected delete true, got %v err=%v", deleted, err)
	}
	_, ok, _ := d.Get(context.Background(), fp)
	if ok {
		t.Fatalf("expected miss after delete")
	}
}

func TestDiskGetSendfileRespectsMinimumSize(t *testing.T) {
	root := t.TempDir()
	d, err := NewDisk(root, 1<<20, 1<<20, 100)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	fp := fingerprint.Build("prod", "foo.txt")
	_ = d.Set(context.Background(), fp, &Entry{Data: []byte("small")})

	_, _, ok, err := d.GetSendfile(context.Background(), fp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected entry below sendfile_min to be rejected")
	}
}
