package lightning

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
)

// Secret is a payment-hash/preimage pair for a trade's hold invoice: the
// seller generates the secret once and only ever needs to prove knowledge
// of it by revealing the preimage at release time.
type Secret struct {
	preimage []byte
	hash     []byte
}

// GenerateSecret creates a fresh random 32-byte preimage and its SHA-256
// hash, used when a seller opens a new trade.
func GenerateSecret() (*Secret, error) {
	preimage := make([]byte, 32)
	if _, err := rand.Read(preimage); err != nil {
		return nil, fmt.Errorf("lightning: generate secret: %w", err)
	}
	sum := sha256.Sum256(preimage)
	return &Secret{preimage: preimage, hash: sum[:]}, nil
}

// SecretFromHash wraps a known payment hash with no preimage yet, used when
// reconstructing an in-flight trade's HTLC state from storage.
func SecretFromHash(hash []byte) *Secret {
	return &Secret{hash: append([]byte(nil), hash...)}
}

// Hash returns the 32-byte payment hash.
func (s *Secret) Hash() []byte { return s.hash }

// HasPreimage reports whether the preimage is currently known locally.
func (s *Secret) HasPreimage() bool { return len(s.preimage) == 32 }

// Preimage returns the 32-byte preimage, or nil if not yet known.
func (s *Secret) Preimage() []byte { return s.preimage }

// SetPreimage records a preimage revealed by settlement, verifying it
// actually hashes to this secret's payment hash.
func (s *Secret) SetPreimage(preimage []byte) error {
	if !VerifyPreimage(s.hash, preimage) {
		return fmt.Errorf("lightning: preimage does not match payment hash")
	}
	s.preimage = append([]byte(nil), preimage...)
	return nil
}

// VerifyPreimage reports whether preimage hashes to hash, using a
// constant-time comparison since this gates fund release.
func VerifyPreimage(hash, preimage []byte) bool {
	sum := sha256.Sum256(preimage)
	return subtle.ConstantTimeCompare(sum[:], hash) == 1
}
