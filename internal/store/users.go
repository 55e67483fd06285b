package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UserRecord is the persisted reputation/admin state of an identity pubkey.
// Rating fields track a running mean rather than a sum, per the reputation
// engine's incremental-update algorithm (see internal/reputation).
type UserRecord struct {
	Pubkey         string
	IsAdmin        bool
	IsSolver       bool
	IsBanned       bool
	TotalReviews   int
	TotalRating    float64 // running mean, valid when TotalReviews > 0
	LastRating     int
	MinRating      int
	MaxRating      int
	LastTradeIndex int64
	CreatedAt      int64
	LastSeen       int64
}

// TouchUser ensures a users row exists for pubkey and updates last_seen.
func (s *Store) TouchUser(pubkey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	_, err := s.db.Exec(`INSERT INTO users (pubkey, created_at, last_seen)
		VALUES (?, ?, ?)
		ON CONFLICT(pubkey) DO UPDATE SET last_seen = excluded.last_seen`,
		pubkey, now, now)
	if err != nil {
		return fmt.Errorf("store: touch user: %w", err)
	}
	return nil
}

// GetUser fetches a user's reputation record, or nil if unseen.
func (s *Store) GetUser(pubkey string) (*UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT pubkey, is_admin, is_solver, is_banned,
		total_reviews, total_rating, last_rating, min_rating, max_rating,
		last_trade_index, created_at, last_seen
		FROM users WHERE pubkey = ?`, pubkey)
	var u UserRecord
	var admin, solver, banned int
	err := row.Scan(&u.Pubkey, &admin, &solver, &banned, &u.TotalReviews,
		&u.TotalRating, &u.LastRating, &u.MinRating, &u.MaxRating,
		&u.LastTradeIndex, &u.CreatedAt, &u.LastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	u.IsAdmin, u.IsSolver, u.IsBanned = admin != 0, solver != 0, banned != 0
	return &u, nil
}

// RecordRating applies a new 1-5 rating to pubkey using the running-mean
// update: mean += (rating - mean) / n. The caller (internal/reputation)
// computes the new mean/min/max and passes the full resulting tuple so the
// whole update is one atomic write.
func (s *Store) RecordRating(pubkey string, totalReviews int, mean float64, last, min, max int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	_, err := s.db.Exec(`INSERT INTO users
		(pubkey, total_reviews, total_rating, last_rating, min_rating, max_rating, created_at, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pubkey) DO UPDATE SET
			total_reviews = excluded.total_reviews,
			total_rating = excluded.total_rating,
			last_rating = excluded.last_rating,
			min_rating = excluded.min_rating,
			max_rating = excluded.max_rating,
			last_seen = excluded.last_seen`,
		pubkey, totalReviews, mean, last, min, max, now, now)
	if err != nil {
		return fmt.Errorf("store: record rating: %w", err)
	}
	return nil
}

// SetAdmin grants or revokes admin status.
func (s *Store) SetAdmin(pubkey string, admin bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO users (pubkey, is_admin, created_at, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(pubkey) DO UPDATE SET is_admin = excluded.is_admin`,
		pubkey, boolToInt(admin), time.Now().Unix(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store: set admin: %w", err)
	}
	return nil
}

// SetSolver grants or revokes dispute-solver status.
func (s *Store) SetSolver(pubkey string, solver bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO users (pubkey, is_solver, created_at, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(pubkey) DO UPDATE SET is_solver = excluded.is_solver`,
		pubkey, boolToInt(solver), time.Now().Unix(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store: set solver: %w", err)
	}
	return nil
}

// SetBanned grants or revokes banned status.
func (s *Store) SetBanned(pubkey string, banned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO users (pubkey, is_banned, created_at, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(pubkey) DO UPDATE SET is_banned = excluded.is_banned`,
		pubkey, boolToInt(banned), time.Now().Unix(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store: set banned: %w", err)
	}
	return nil
}

// NextTradeIndex atomically increments and returns pubkey's trade index,
// used by outbound rumors this daemon authors on a caller's behalf.
func (s *Store) NextTradeIndex(pubkey string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO users (pubkey, last_trade_index, created_at, last_seen)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(pubkey) DO UPDATE SET last_trade_index = last_trade_index + 1`,
		pubkey, time.Now().Unix(), time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("store: next trade index: %w", err)
	}
	row := s.db.QueryRow(`SELECT last_trade_index FROM users WHERE pubkey = ?`, pubkey)
	var idx int64
	if err := row.Scan(&idx); err != nil {
		return 0, fmt.Errorf("store: read trade index: %w", err)
	}
	return idx, nil
}

// CheckAndAdvanceTradeIndex enforces the monotonic trade-index invariant on
// an inbound rumor authored by pubkey: claimed must be strictly greater than
// the index already on record, or the message is a replay (or reorder) and
// is rejected. On acceptance the stored index advances to claimed. The
// whole check-then-set runs under the store's write lock so two concurrent
// deliveries of the same claimed index can't both pass.
func (s *Store) CheckAndAdvanceTradeIndex(pubkey string, claimed int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	_, err := s.db.Exec(`INSERT INTO users (pubkey, last_trade_index, created_at, last_seen)
		VALUES (?, 0, ?, ?)
		ON CONFLICT(pubkey) DO NOTHING`, pubkey, now, now)
	if err != nil {
		return false, fmt.Errorf("store: seed trade index: %w", err)
	}

	res, err := s.db.Exec(`UPDATE users SET last_trade_index = ?, last_seen = ?
		WHERE pubkey = ? AND last_trade_index < ?`,
		claimed, now, pubkey, claimed)
	if err != nil {
		return false, fmt.Errorf("store: advance trade index: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: rows affected: %w", err)
	}
	return n > 0, nil
}
