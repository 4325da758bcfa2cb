// Package anonymize implements the IP-address anonymization primitive
// the flow table's update writer calls out to: a pure function mapping
// a raw 32-bit IPv4 address to a 64-bit digest. It is deliberately kept
// outside internal/flowtable and internal/writer so either can accept
// any implementation satisfying the Anonymizer interface.
package anonymize

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
)

// Anonymizer turns a raw IPv4 address into a 64-bit digest. It returns
// an error so callers (the update writer) can abort the whole update on
// failure rather than emit a partially-anonymized record.
type Anonymizer interface {
	Anonymize(ip uint32) (uint64, error)
}

// hmacAnonymizer derives a deterministic digest via HMAC-SHA256 keyed
// with an operator-provided secret, truncated to 64 bits: a
// HMAC-and-truncate construction for privacy-preserving identifiers
// that must still support equality comparisons (same input, same
// digest) without revealing the raw value.
type hmacAnonymizer struct {
	key []byte
}

// New returns an Anonymizer keyed with key. An empty key still produces
// a deterministic digest; operators are expected to supply a real
// secret via config for production deployments.
func New(key []byte) Anonymizer {
	return &hmacAnonymizer{key: key}
}

func (a *hmacAnonymizer) Anonymize(ip uint32) (uint64, error) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], ip)

	mac := hmac.New(sha256.New, a.key)
	if _, err := mac.Write(buf[:]); err != nil {
		return 0, err
	}
	sum := mac.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8]), nil
}

// Identity returns an Anonymizer whose digest is the raw IP widened to
// 64 bits. It exists so callers can satisfy the Anonymizer interface
// when the anonymization policy switch is disabled without
// special-casing the writer's call site.
func Identity() Anonymizer { return identityAnonymizer{} }

type identityAnonymizer struct{}

func (identityAnonymizer) Anonymize(ip uint32) (uint64, error) {
	return uint64(ip), nil
}
