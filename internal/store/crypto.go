package store

import (
	aeadcipher "crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// cipher seals and opens the master buyer/seller pubkeys kept on orders.
// A nil cipher (no MOSTRO_DB_KEY configured) stores those columns in the
// clear, matching a dev/test deployment with no encryption-at-rest key.
type cipher struct {
	aead aeadcipher.AEAD
}

func newCipher(keyHex string) (*cipher, error) {
	if keyHex == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode MOSTRO_DB_KEY: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("MOSTRO_DB_KEY must be %d bytes hex-encoded", chacha20poly1305.KeySize)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &cipher{aead: aead}, nil
}

// sealPubkey encrypts plaintext pubkey bytes, returning ciphertext and nonce
// separately since both are stored in their own columns.
func (c *cipher) sealPubkey(plaintext []byte) (ciphertext, nonce []byte, err error) {
	if c == nil || plaintext == nil {
		return plaintext, nil, nil
	}
	nonce = make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("nonce: %w", err)
	}
	return c.aead.Seal(nil, nonce, plaintext, nil), nonce, nil
}

func (c *cipher) openPubkey(ciphertext, nonce []byte) ([]byte, error) {
	if c == nil || ciphertext == nil {
		return ciphertext, nil
	}
	if nonce == nil {
		return nil, fmt.Errorf("missing nonce for encrypted pubkey")
	}
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt pubkey: %w", err)
	}
	return plaintext, nil
}
