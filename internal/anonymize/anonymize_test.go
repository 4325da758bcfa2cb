package anonymize

import "testing"

func TestHMACAnonymizer_DeterministicAndKeySensitive(t *testing.T) {
	a := New([]byte("secret-one"))
	b := New([]byte("secret-two"))

	d1, err := a.Anonymize(0x01010101)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d2, err := a.Anonymize(0x01010101)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d1 != d2 {
		t.Errorf("expected same key+ip to produce the same digest, got %x and %x", d1, d2)
	}

	d3, err := b.Anonymize(0x01010101)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d1 == d3 {
		t.Errorf("expected different keys to produce different digests")
	}
}

func TestHMACAnonymizer_DifferentIPsDiffer(t *testing.T) {
	a := New([]byte("secret"))
	d1, _ := a.Anonymize(0x01010101)
	d2, _ := a.Anonymize(0x02020202)
	if d1 == d2 {
		t.Errorf("expected different IPs to produce different digests")
	}
}

func TestIdentity_ReturnsRawIPWidened(t *testing.T) {
	id := Identity()
	d, err := id.Anonymize(0xC0A80001)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != 0xC0A80001 {
		t.Errorf("expected identity digest to equal the raw IP, got %x", d)
	}
}
