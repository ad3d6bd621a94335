package fingerprint

import "testing"

func TestBuildNormalizesVariantAxis(t *testing.T) {
	a := Build("prod", "foo.txt", "gzip, br")
	b := Build("prod", "foo.txt", " br,gzip ")
	if a.VariantAxis != b.VariantAxis {
		t.Fatalf("expected equal variant axes, got %q and %q", a.VariantAxis, b.VariantAxis)
	}
	if a.Hash() != b.Hash() {
		t.Fatalf("expected equal hashes for equal fingerprints")
	}
}

func TestBuildDistinguishesVariants(t *testing.T) {
	identity := Build("prod", "foo.txt", "identity")
	gzip := Build("prod", "foo.txt", "gzip")
	if identity.Hash() == gzip.Hash() {
		t.Fatalf("expected distinct hashes for distinct variants")
	}
}

func TestNotCacheableFingerprintIsMarked(t *testing.T) {
	fp := NotCacheable("prod", "foo.txt")
	if fp.Cacheable {
		t.Fatalf("expected Cacheable=false")
	}
}

func TestHashHexIsA256BitDigest(t *testing.T) {
	fp := Build("prod", "foo.txt", "gzip")
	hex := fp.HashHex()
	if len(hex) != 64 {
		t.Fatalf("expected a 64-character hex digest (256 bits), got %d characters: %q", len(hex), hex)
	}
}

func TestDigestIsStableAndDistinguishesVariants(t *testing.T) {
	a := Build("prod", "foo.txt", "gzip, br")
	b := Build("prod", "foo.txt", " br,gzip ")
	if a.HashHex() != b.HashHex() {
		t.Fatalf("expected equal digests for equal fingerprints")
	}

	other := Build("prod", "foo.txt", "identity")
	if a.HashHex() == other.HashHex() {
		t.Fatalf("expected distinct digests for distinct variants")
	}
}

func TestRoundTripStringEncoding(t *testing.T) {
	fp := Build("prod", "a/b/c.txt", "gzip")
	again := Fingerprint{Bucket: fp.Bucket, Key: fp.Key, VariantAxis: fp.VariantAxis, Cacheable: true}
	if fp.String() != again.String() {
		t.Fatalf("expected identical canonical encoding for identical fields")
	}
}
