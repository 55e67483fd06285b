package store

import (
	"database/sql"
	"fmt"
	"time"
)

// PutSecret stores a preimage blob and its nonce keyed by its payment hash,
// exactly as given; it does no encryption of its own. SealSecret is the
// caller that seals the blob first.
func (s *Store) PutSecret(paymentHash, orderID string, ciphertext, nonce []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO secrets (payment_hash, order_id, ciphertext, nonce, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(payment_hash) DO UPDATE SET ciphertext = excluded.ciphertext, nonce = excluded.nonce`,
		paymentHash, orderID, ciphertext, nonce, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store: put secret: %w", err)
	}
	return nil
}

// SealSecret encrypts a raw preimage under the process-wide database key
// and stores it keyed by its payment hash. With no key configured the
// preimage is stored in the clear, matching the master-pubkey columns'
// behavior.
func (s *Store) SealSecret(paymentHash, orderID string, preimage []byte) error {
	ciphertext, nonce, err := s.crypt.sealPubkey(preimage)
	if err != nil {
		return fmt.Errorf("store: seal secret: %w", err)
	}
	return s.PutSecret(paymentHash, orderID, ciphertext, nonce)
}

// OpenSecret decrypts and returns the preimage stored for paymentHash, or
// nil if none is stored.
func (s *Store) OpenSecret(paymentHash string) ([]byte, error) {
	ciphertext, nonce, err := s.GetSecret(paymentHash)
	if err != nil || ciphertext == nil {
		return nil, err
	}
	preimage, err := s.crypt.openPubkey(ciphertext, nonce)
	if err != nil {
		return nil, fmt.Errorf("store: open secret: %w", err)
	}
	return preimage, nil
}

// GetSecret returns the encrypted preimage blob for paymentHash, or nil if
// none is stored yet.
func (s *Store) GetSecret(paymentHash string) (ciphertext, nonce []byte, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT ciphertext, nonce FROM secrets WHERE payment_hash = ?`, paymentHash)
	err = row.Scan(&ciphertext, &nonce)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("store: get secret: %w", err)
	}
	return ciphertext, nonce, nil
}
