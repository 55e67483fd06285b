package store

import (
	"database/sql"
	"fmt"
	"math/rand"
	"time"
)

// DisputeRecord is the persisted form of a dispute. BuyerToken/SellerToken
// are short random numbers each side must quote back to the assigned solver
// out-of-band, so the solver can match a support conversation to a dispute
// without trusting either party's self-reported identity.
type DisputeRecord struct {
	ID              string
	OrderID         string
	Status          string
	InitiatorPubkey string
	SolverPubkey    string
	BuyerToken      int
	SellerToken     int
	CreatedAt       int64
	TakenAt         int64
	ResolvedAt      int64
}

// Dispute statuses, matching the solver-facing lifecycle: a dispute starts
// initiated, moves to in-progress once a solver takes it, and ends in one of
// three outcomes depending on which admin action resolved it.
const (
	DisputeInitiated     = "initiated"
	DisputeInProgress    = "in-progress"
	DisputeSellerRefunded = "seller-refunded"
	DisputeSettled       = "settled"
	DisputeReleased      = "released"
)

// randomToken returns a 4-digit token (1000-9999) for dispute matching.
func randomToken() int {
	return 1000 + rand.Intn(9000)
}

// CreateDispute inserts a new dispute in initiated status with fresh tokens.
func (s *Store) CreateDispute(d *DisputeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d.CreatedAt = time.Now().Unix()
	d.BuyerToken, d.SellerToken = randomToken(), randomToken()
	_, err := s.db.Exec(`INSERT INTO disputes
		(id, order_id, status, initiator_pubkey, buyer_token, seller_token, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.OrderID, DisputeInitiated, d.InitiatorPubkey, d.BuyerToken, d.SellerToken, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create dispute: %w", err)
	}
	return nil
}

// GetDisputeByOrder fetches the dispute for an order, if any.
func (s *Store) GetDisputeByOrder(orderID string) (*DisputeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT id, order_id, status, initiator_pubkey,
		COALESCE(solver_pubkey,''), buyer_token, seller_token,
		created_at, COALESCE(taken_at,0), COALESCE(resolved_at,0)
		FROM disputes WHERE order_id = ?`, orderID)
	return scanDispute(row)
}

// GetDispute fetches a dispute by its own ID.
func (s *Store) GetDispute(id string) (*DisputeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT id, order_id, status, initiator_pubkey,
		COALESCE(solver_pubkey,''), buyer_token, seller_token,
		created_at, COALESCE(taken_at,0), COALESCE(resolved_at,0)
		FROM disputes WHERE id = ?`, id)
	return scanDispute(row)
}

func scanDispute(row *sql.Row) (*DisputeRecord, error) {
	var d DisputeRecord
	err := row.Scan(&d.ID, &d.OrderID, &d.Status, &d.InitiatorPubkey,
		&d.SolverPubkey, &d.BuyerToken, &d.SellerToken, &d.CreatedAt, &d.TakenAt, &d.ResolvedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get dispute: %w", err)
	}
	return &d, nil
}

// AssignSolver takes an open dispute for solver, failing if it's already
// assigned (optimistic concurrency: only one solver can take a dispute).
func (s *Store) AssignSolver(disputeID, solver string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE disputes SET status = ?, solver_pubkey = ?, taken_at = ?
		WHERE id = ? AND status = ?`,
		DisputeInProgress, solver, time.Now().Unix(), disputeID, DisputeInitiated)
	if err != nil {
		return fmt.Errorf("store: assign solver: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: dispute %s already taken", disputeID)
	}
	return nil
}

// ResolveDispute marks a dispute resolved with the given terminal outcome
// (one of DisputeSellerRefunded, DisputeSettled, DisputeReleased).
func (s *Store) ResolveDispute(disputeID, outcome string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE disputes SET status = ?, resolved_at = ? WHERE id = ?`,
		outcome, time.Now().Unix(), disputeID)
	if err != nil {
		return fmt.Errorf("store: resolve dispute: %w", err)
	}
	return nil
}

// ListOpenDisputes returns disputes not yet resolved, for the admin surface.
func (s *Store) ListOpenDisputes() ([]*DisputeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id, order_id, status, initiator_pubkey,
		COALESCE(solver_pubkey,''), buyer_token, seller_token,
		created_at, COALESCE(taken_at,0), COALESCE(resolved_at,0)
		FROM disputes WHERE status IN (?, ?) ORDER BY created_at ASC`,
		DisputeInitiated, DisputeInProgress)
	if err != nil {
		return nil, fmt.Errorf("store: list open disputes: %w", err)
	}
	defer rows.Close()

	var out []*DisputeRecord
	for rows.Next() {
		var d DisputeRecord
		if err := rows.Scan(&d.ID, &d.OrderID, &d.Status, &d.InitiatorPubkey,
			&d.SolverPubkey, &d.BuyerToken, &d.SellerToken, &d.CreatedAt, &d.TakenAt, &d.ResolvedAt); err != nil {
			return nil, fmt.Errorf("store: scan dispute row: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
