package store

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"os"
	"testing"
)

// newKeyedTestStore opens a store with an encryption-at-rest key configured,
// so sealed secrets actually round-trip through the AEAD instead of the
// plaintext dev-mode path.
func newKeyedTestStore(t *testing.T) *Store {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "mostrod-store-secret-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	st, err := New(&Config{DataDir: tmpDir, DBKeyHex: hex.EncodeToString(key)})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSealOpenSecretRoundTrip(t *testing.T) {
	s := newKeyedTestStore(t)
	o := newTestOrder("order-secret-1")
	if err := s.CreateOrder(o); err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}

	preimage := []byte("0123456789abcdef0123456789abcdef")
	if err := s.SealSecret("hash-1", o.ID, preimage); err != nil {
		t.Fatalf("SealSecret() error = %v", err)
	}

	got, err := s.OpenSecret("hash-1")
	if err != nil {
		t.Fatalf("OpenSecret() error = %v", err)
	}
	if !bytes.Equal(got, preimage) {
		t.Errorf("OpenSecret() = %x, want the sealed preimage", got)
	}

	// The stored blob must not be the raw preimage.
	ciphertext, _, err := s.GetSecret("hash-1")
	if err != nil {
		t.Fatalf("GetSecret() error = %v", err)
	}
	if bytes.Equal(ciphertext, preimage) {
		t.Error("secret stored in the clear despite a configured database key")
	}
}

func TestOpenSecretMissingReturnsNil(t *testing.T) {
	s := newKeyedTestStore(t)
	got, err := s.OpenSecret("no-such-hash")
	if err != nil {
		t.Fatalf("OpenSecret() error = %v", err)
	}
	if got != nil {
		t.Errorf("OpenSecret() = %x, want nil for an unknown hash", got)
	}
}

func TestSealSecretOverwrites(t *testing.T) {
	s := newKeyedTestStore(t)
	o := newTestOrder("order-secret-2")
	if err := s.CreateOrder(o); err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}

	if err := s.SealSecret("hash-2", o.ID, []byte("first-preimage-first-preimage-xx")); err != nil {
		t.Fatalf("SealSecret() error = %v", err)
	}
	second := []byte("second-preimage-second-preimage-")
	if err := s.SealSecret("hash-2", o.ID, second); err != nil {
		t.Fatalf("second SealSecret() error = %v", err)
	}

	got, err := s.OpenSecret("hash-2")
	if err != nil {
		t.Fatalf("OpenSecret() error = %v", err)
	}
	if !bytes.Equal(got, second) {
		t.Errorf("OpenSecret() = %q, want the replacement preimage", got)
	}
}
