package store

import (
	"fmt"
	"strings"
	"time"
)

// Outbox message statuses.
const (
	OutboxPending = "pending"
	OutboxSent    = "sent"
	OutboxAcked   = "acked"
	OutboxFailed  = "failed"
	OutboxExpired = "expired"
)

// OutboxMessage is a gift-wrap queued for delivery to a peer, retried until
// acked or until its delivery deadline passes.
type OutboxMessage struct {
	MessageID    string
	TradeID      string
	PeerID       string
	MessageType  string
	Payload      []byte
	SequenceNum  int64
	ExpiresAt    int64 // unix deadline after which delivery is abandoned
	CreatedAt    int64
	RetryCount   int
	LastAttempt  int64
	NextRetryAt  int64
	AckedAt      int64
	Status       string
	ErrorMessage string
}

// Enqueue persists a new outbound message and assigns it the next local
// sequence number for its trade.
func (s *Store) Enqueue(m *OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	m.CreatedAt, m.NextRetryAt, m.Status = now, now, OutboxPending

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: enqueue begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO message_sequences (trade_id, local_seq, updated_at)
		VALUES (?, 1, ?)
		ON CONFLICT(trade_id) DO UPDATE SET local_seq = local_seq + 1, updated_at = excluded.updated_at`,
		m.TradeID, now); err != nil {
		return fmt.Errorf("store: bump sequence: %w", err)
	}
	row := tx.QueryRow(`SELECT local_seq FROM message_sequences WHERE trade_id = ?`, m.TradeID)
	if err := row.Scan(&m.SequenceNum); err != nil {
		return fmt.Errorf("store: read sequence: %w", err)
	}

	_, err = tx.Exec(`INSERT INTO message_outbox
		(message_id, trade_id, peer_id, message_type, payload, sequence_num,
		 expires_at, created_at, next_retry_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.MessageID, m.TradeID, m.PeerID, m.MessageType, m.Payload, m.SequenceNum,
		m.ExpiresAt, m.CreatedAt, m.NextRetryAt, m.Status)
	if err != nil {
		return fmt.Errorf("store: enqueue insert: %w", err)
	}
	return tx.Commit()
}

// DuePending returns pending/sent messages whose next_retry_at has passed.
func (s *Store) DuePending(now int64, limit int) ([]*OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT message_id, trade_id, peer_id, message_type,
		payload, sequence_num, expires_at, created_at, retry_count,
		COALESCE(last_attempt_at,0), next_retry_at, COALESCE(acked_at,0), status
		FROM message_outbox
		WHERE (status = ? OR status = ?) AND next_retry_at <= ?
		ORDER BY next_retry_at ASC LIMIT ?`, OutboxPending, OutboxSent, now, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query due pending: %w", err)
	}
	defer rows.Close()

	var out []*OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		if err := rows.Scan(&m.MessageID, &m.TradeID, &m.PeerID, &m.MessageType,
			&m.Payload, &m.SequenceNum, &m.ExpiresAt, &m.CreatedAt, &m.RetryCount,
			&m.LastAttempt, &m.NextRetryAt, &m.AckedAt, &m.Status); err != nil {
			return nil, fmt.Errorf("store: scan outbox row: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// ExpireOverdue moves undelivered messages past their deadline to expired,
// so the drain loop stops republishing them. Returns how many were expired.
func (s *Store) ExpireOverdue(now int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE message_outbox SET status = ?, error_message = ?
		WHERE (status = ? OR status = ?) AND expires_at > 0 AND expires_at <= ?`,
		OutboxExpired, "delivery deadline passed", OutboxPending, OutboxSent, now)
	if err != nil {
		return 0, fmt.Errorf("store: expire overdue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: rows affected: %w", err)
	}
	return int(n), nil
}

// MarkSent records a delivery attempt and schedules the next retry.
func (s *Store) MarkSent(messageID string, now, nextRetry int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE message_outbox SET status = ?, retry_count = retry_count + 1,
		last_attempt_at = ?, next_retry_at = ? WHERE message_id = ?`,
		OutboxSent, now, nextRetry, messageID)
	if err != nil {
		return fmt.Errorf("store: mark sent: %w", err)
	}
	return nil
}

// MarkAcked finalizes a delivered message.
func (s *Store) MarkAcked(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE message_outbox SET status = ?, acked_at = ? WHERE message_id = ?`,
		OutboxAcked, time.Now().Unix(), messageID)
	if err != nil {
		return fmt.Errorf("store: mark acked: %w", err)
	}
	return nil
}

// MarkFailed finalizes a message whose publish attempt errored terminally,
// recording why.
func (s *Store) MarkFailed(messageID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE message_outbox SET status = ?, error_message = ? WHERE message_id = ?`,
		OutboxFailed, reason, messageID)
	if err != nil {
		return fmt.Errorf("store: mark failed: %w", err)
	}
	return nil
}

// PendingForPeer returns still-undelivered messages addressed to peerID, in
// sequence order, for a fresh connection's catch-up flush.
func (s *Store) PendingForPeer(peerID string) ([]*OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT message_id, trade_id, peer_id, message_type,
		payload, sequence_num, expires_at, created_at, retry_count,
		COALESCE(last_attempt_at,0), next_retry_at, COALESCE(acked_at,0), status
		FROM message_outbox WHERE peer_id = ? AND (status = ? OR status = ?)
		ORDER BY trade_id, sequence_num ASC`, peerID, OutboxPending, OutboxSent)
	if err != nil {
		return nil, fmt.Errorf("store: query pending for peer: %w", err)
	}
	defer rows.Close()

	var out []*OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		if err := rows.Scan(&m.MessageID, &m.TradeID, &m.PeerID, &m.MessageType,
			&m.Payload, &m.SequenceNum, &m.ExpiresAt, &m.CreatedAt, &m.RetryCount,
			&m.LastAttempt, &m.NextRetryAt, &m.AckedAt, &m.Status); err != nil {
			return nil, fmt.Errorf("store: scan outbox row: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// RecordInbound logs an inbound message for dedup/idempotency, returning
// false if message_id was already seen.
func (s *Store) RecordInbound(messageID, tradeID, peerID, msgType string, seq int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO message_inbox
		(message_id, trade_id, peer_id, message_type, sequence_num, received_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		messageID, tradeID, peerID, msgType, seq, time.Now().Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("store: record inbound: %w", err)
	}
	return true, nil
}

// isUniqueViolation detects a sqlite UNIQUE constraint failure by message,
// since mattn/go-sqlite3 exposes this via a typed error we'd rather not
// import the driver package just to assert against.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToUpper(err.Error()), "UNIQUE CONSTRAINT")
}
