package cache

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yatagarasu/yatagarasu/internal/fingerprint"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestTieredGetPromotesOnHitInSlowerLayer(t *testing.T) {
	mem := NewMemory(1<<20, 1<<20)
	disk, err := NewDisk(t.TempDir(), 1<<20, 1<<20, 0)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}

	fp := fingerprint.Build("prod", "foo.txt")
	if err := disk.Set(context.Background(), fp, &Entry{Data: []byte("hello")}); err != nil {
		t.Fatalf("disk set: %v", err)
	}

	tiered := NewTiered(testLogger(), mem, disk)
	res, ok := tiered.Get(context.Background(), fp)
	if !ok {
		t.Fatalf("expected hit")
	}
	if res.LayerName != "disk" || res.LayerIdx != 1 {
		t.Fatalf("expected hit attributed to disk layer, got %+v", res)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok, _ := mem.Get(context.Background(), fp); ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected async promotion to populate faster layer")
}

func TestTieredGetSkipsLayerOnError(t *testing.T) {
	fp := fingerprint.Build("prod", "foo.txt")
	failing := &erroringLayer{}
	mem := NewMemory(1<<20, 1<<20)
	_ = mem.Set(context.Background(), fp, &Entry{Data: []byte("hello")})

	tiered := NewTiered(testLogger(), failing, mem)
	res, ok := tiered.Get(context.Background(), fp)
	if !ok {
		t.Fatalf("expected tiered Get to fall through erroring layer to the next")
	}
	if res.LayerName != "memory" {
		t.Fatalf("expected fallback to memory layer, got %s", res.LayerName)
	}
}

func TestTieredSetWritesToEveryLayer(t *testing.T) {
	mem := NewMemory(1<<20, 1<<20)
	disk, err := NewDisk(t.TempDir(), 1<<20, 1<<20, 0)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	tiered := NewTiered(testLogger(), mem, disk)

	fp := fingerprint.Build("prod", "foo.txt")
	tiered.Set(context.Background(), fp, &Entry{Data: []byte("hello")})

	if _, ok, _ := mem.Get(context.Background(), fp); !ok {
		t.Fatalf("expected memory layer populated")
	}
	if _, ok, _ := disk.Get(context.Background(), fp); !ok {
		t.Fatalf("expected disk layer populated")
	}
}

func TestAcceptsEncodingIdentityAlwaysMatches(t *testing.T) {
	if !AcceptsEncoding("", "gzip") {
		t.Fatalf("expected empty encoding to always be accepted")
	}
	if !AcceptsEncoding("identity", "gzip") {
		t.Fatalf("expected identity encoding to always be accepted")
	}
}

func TestAcceptsEncodingRequiresTokenMatch(t *testing.T) {
	if !AcceptsEncoding("gzip", "br, gzip") {
		t.Fatalf("expected gzip to match variant axis containing gzip")
	}
	if AcceptsEncoding("gzip", "br") {
		t.Fatalf("expected gzip not to match variant axis without gzip")
	}
}

func TestNewExpiryZeroTTLMeansNoExpiry(t *testing.T) {
	now := time.Now()
	if exp := NewExpiry(0, now); !exp.IsZero() {
		t.Fatalf("expected zero TTL to produce zero expiry, got %v", exp)
	}
	if exp := NewExpiry(60, now); exp.Before(now) {
		t.Fatalf("expected positive TTL to produce future expiry")
	}
}

type erroringLayer struct{}

func (e *erroringLayer) Get(context.Context, fingerprint.Fingerprint) (*Entry, bool, error) {
	return nil, false, context.DeadlineExceeded
}
func (e *erroringLayer) GetSendfile(context.Context, fingerprint.Fingerprint) (string, int64, bool, error) {
	return "", 0, false, nil
}
func (e *erroringLayer) Set(context.Context, fingerprint.Fingerprint, *Entry) error { return nil }
func (e *erroringLayer) Delete(context.Context, fingerprint.Fingerprint) (bool, error) {
	return false, nil
}
func (e *erroringLayer) Clear(context.Context) error { return nil }
func (e *erroringLayer) Stats() Stats                { return Stats{} }
func (e *erroringLayer) Name() string                { return "erroring" }
