package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mostro-exchange/mostrod/internal/message"
)

// OrderRecord is the persisted form of an order, covering its full Mostro
// trade lifecycle: taker identities, hold-invoice bookkeeping, cooperative
// cancel/dispute flags, per-identity trade indices, and rating bits.
type OrderRecord struct {
	ID            string
	Kind          message.Kind
	Status        message.Status
	CreatorPubkey string
	BuyerPubkey   string
	SellerPubkey  string

	// MasterBuyerPubkey/MasterSellerPubkey are the long-lived identity keys
	// behind each side's disposable per-trade key, stored encrypted at rest
	// when a MOSTRO_DB_KEY is configured (see crypto.go).
	MasterBuyerPubkey  []byte
	MasterSellerPubkey []byte

	Amount        int64
	PriceFromAPI  bool
	FiatCode      string
	FiatAmount    float64
	MinAmount     float64
	MaxAmount     float64
	PaymentMethod string
	PremiumPct    float64

	BuyerInvoice    string
	PaymentHash     string
	Preimage        string
	PaymentAttempts int
	FailedPayment   bool
	RoutingFee      int64

	TradeIndexBuyer        int64
	TradeIndexSeller       int64
	CancelInitiatorPubkey  string
	BuyerCooperativeCancel bool
	SellerCooperativeCancel bool
	BuyerDispute           bool
	SellerDispute          bool
	BuyerSentRate          bool
	SellerSentRate         bool

	EventID string

	CreatedAt     int64
	TakenAt       int64
	InvoiceHeldAt int64
	ExpiresAt     int64
	UpdatedAt     int64
}

const orderColumns = `id, kind, status, creator_pubkey,
	COALESCE(buyer_pubkey, ''), COALESCE(seller_pubkey, ''),
	master_buyer_pubkey, master_seller_pubkey,
	amount, price_from_api, fiat_code, fiat_amount,
	COALESCE(min_amount,0), COALESCE(max_amount,0),
	payment_method, premium_pct, COALESCE(buyer_invoice,''),
	COALESCE(payment_hash,''), COALESCE(preimage,''),
	payment_attempts, failed_payment, routing_fee,
	trade_index_buyer, trade_index_seller, COALESCE(cancel_initiator_pubkey,''),
	buyer_cooperativecancel, seller_cooperativecancel,
	buyer_dispute, seller_dispute, buyer_sent_rate, seller_sent_rate,
	COALESCE(event_id,''),
	created_at, COALESCE(taken_at,0), COALESCE(invoice_held_at,0),
	COALESCE(expires_at,0), COALESCE(updated_at,0)`

// CreateOrder inserts a new order row in pending status.
func (s *Store) CreateOrder(o *OrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	o.CreatedAt, o.UpdatedAt = now, now
	_, err := s.db.Exec(`INSERT INTO orders
		(id, kind, status, creator_pubkey, amount, price_from_api, fiat_code,
		 fiat_amount, min_amount, max_amount, payment_method, premium_pct,
		 created_at, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, string(o.Kind), string(o.Status), o.CreatorPubkey, o.Amount,
		boolToInt(o.PriceFromAPI), o.FiatCode, o.FiatAmount, o.MinAmount,
		o.MaxAmount, o.PaymentMethod, o.PremiumPct, o.CreatedAt, o.ExpiresAt,
		o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create order: %w", err)
	}
	return nil
}

// GetOrder fetches a single order by ID.
func (s *Store) GetOrder(id string) (*OrderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	return s.scanOrder(row)
}

func (s *Store) scanOrder(row *sql.Row) (*OrderRecord, error) {
	var o OrderRecord
	var kind, status string
	var priceFromAPI, failedPayment int
	var buyerCC, sellerCC, buyerDisp, sellerDisp, buyerRate, sellerRate int
	err := row.Scan(&o.ID, &kind, &status, &o.CreatorPubkey, &o.BuyerPubkey,
		&o.SellerPubkey, &o.MasterBuyerPubkey, &o.MasterSellerPubkey,
		&o.Amount, &priceFromAPI, &o.FiatCode, &o.FiatAmount, &o.MinAmount,
		&o.MaxAmount, &o.PaymentMethod, &o.PremiumPct, &o.BuyerInvoice,
		&o.PaymentHash, &o.Preimage, &o.PaymentAttempts, &failedPayment,
		&o.RoutingFee, &o.TradeIndexBuyer, &o.TradeIndexSeller,
		&o.CancelInitiatorPubkey, &buyerCC, &sellerCC, &buyerDisp, &sellerDisp,
		&buyerRate, &sellerRate, &o.EventID, &o.CreatedAt, &o.TakenAt,
		&o.InvoiceHeldAt, &o.ExpiresAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan order: %w", err)
	}
	o.Kind, o.Status = message.Kind(kind), message.Status(status)
	o.PriceFromAPI, o.FailedPayment = priceFromAPI != 0, failedPayment != 0
	o.BuyerCooperativeCancel, o.SellerCooperativeCancel = buyerCC != 0, sellerCC != 0
	o.BuyerDispute, o.SellerDispute = buyerDisp != 0, sellerDisp != 0
	o.BuyerSentRate, o.SellerSentRate = buyerRate != 0, sellerRate != 0
	return &o, nil
}

// FindOrderByHash fetches the order carrying paymentHash, the lookup
// hold-invoice callbacks use since a subscription only knows the hash.
func (s *Store) FindOrderByHash(paymentHash string) (*OrderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+orderColumns+` FROM orders WHERE payment_hash = ?`, paymentHash)
	return s.scanOrder(row)
}

// ListOrdersByStatus returns orders matching status, newest first.
func (s *Store) ListOrdersByStatus(status message.Status) ([]*OrderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT `+orderColumns+`
		FROM orders WHERE status = ? ORDER BY created_at DESC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("store: list orders: %w", err)
	}
	defer rows.Close()
	return scanOrderRows(rows)
}

// GetUserOrdersByID fetches the subset of ids that belong to userPubkey
// (as creator, buyer, or seller), preserving the caller's requested order.
// This backs session restore: a client that lost its local order cache
// reconnects with the list of order IDs it remembers and gets back only
// the ones it still has standing in, in the order it asked for them.
func (s *Store) GetUserOrdersByID(ids []string, userPubkey string) ([]*OrderRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	placeholders := make([]string, len(ids))
	args := make([]interface{}, 0, len(ids)+1)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	args = append(args, userPubkey)

	query := fmt.Sprintf(`SELECT `+orderColumns+`
		FROM orders WHERE id IN (%s)
		AND (creator_pubkey = ? OR buyer_pubkey = ? OR seller_pubkey = ?)`,
		joinPlaceholders(placeholders))
	args = append(args, userPubkey, userPubkey)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		s.mu.RUnlock()
		return nil, fmt.Errorf("store: get user orders by id: %w", err)
	}
	found, err := scanOrderRows(rows)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*OrderRecord, len(found))
	for _, o := range found {
		byID[o.ID] = o
	}
	out := make([]*OrderRecord, 0, len(ids))
	for _, id := range ids {
		if o, ok := byID[id]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

func joinPlaceholders(placeholders []string) string {
	out := placeholders[0]
	for _, p := range placeholders[1:] {
		out += "," + p
	}
	return out
}

// ListActiveOrders returns every order not in a terminal status, used by the
// order-book publisher to rebuild its replaceable-event cache on startup.
func (s *Store) ListActiveOrders() ([]*OrderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT ` + orderColumns + `
		FROM orders WHERE status NOT IN (?, ?, ?, ?, ?, ?) ORDER BY created_at DESC`,
		string(message.StatusSuccess), string(message.StatusCanceled),
		string(message.StatusExpired), string(message.StatusCooperativelyC),
		string(message.StatusCanceledByAdmin), string(message.StatusCompletedByAdmin))
	if err != nil {
		return nil, fmt.Errorf("store: list active orders: %w", err)
	}
	defer rows.Close()
	return scanOrderRows(rows)
}

func scanOrderRows(rows *sql.Rows) ([]*OrderRecord, error) {
	var out []*OrderRecord
	for rows.Next() {
		var o OrderRecord
		var kind, status string
		var priceFromAPI, failedPayment int
		var buyerCC, sellerCC, buyerDisp, sellerDisp, buyerRate, sellerRate int
		if err := rows.Scan(&o.ID, &kind, &status, &o.CreatorPubkey, &o.BuyerPubkey,
			&o.SellerPubkey, &o.MasterBuyerPubkey, &o.MasterSellerPubkey,
			&o.Amount, &priceFromAPI, &o.FiatCode, &o.FiatAmount, &o.MinAmount,
			&o.MaxAmount, &o.PaymentMethod, &o.PremiumPct, &o.BuyerInvoice,
			&o.PaymentHash, &o.Preimage, &o.PaymentAttempts, &failedPayment,
			&o.RoutingFee, &o.TradeIndexBuyer, &o.TradeIndexSeller,
			&o.CancelInitiatorPubkey, &buyerCC, &sellerCC, &buyerDisp, &sellerDisp,
			&buyerRate, &sellerRate, &o.EventID, &o.CreatedAt, &o.TakenAt,
			&o.InvoiceHeldAt, &o.ExpiresAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan order row: %w", err)
		}
		o.Kind, o.Status = message.Kind(kind), message.Status(status)
		o.PriceFromAPI, o.FailedPayment = priceFromAPI != 0, failedPayment != 0
		o.BuyerCooperativeCancel, o.SellerCooperativeCancel = buyerCC != 0, sellerCC != 0
		o.BuyerDispute, o.SellerDispute = buyerDisp != 0, sellerDisp != 0
		o.BuyerSentRate, o.SellerSentRate = buyerRate != 0, sellerRate != 0
		out = append(out, &o)
	}
	return out, rows.Err()
}

// UpdateOrderStatus transitions an order's status, enforcing that expected
// is still its current status (optimistic concurrency for the FSM).
func (s *Store) UpdateOrderStatus(id string, expected, next message.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE orders SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`, string(next), time.Now().Unix(), id, string(expected))
	if err != nil {
		return fmt.Errorf("store: update order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: order %s not in expected status %s", id, expected)
	}
	return nil
}

// TakeOrder records the taker's pubkey and master pubkey, moves the order to
// waiting status, and stamps taken_at. kind is the ORIGINAL order kind (the
// taker becomes the opposite counterparty role).
func (s *Store) TakeOrder(id string, kind message.Kind, takerPubkey string, masterPubkey []byte, next message.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, masterCol := "buyer_pubkey", "master_buyer_pubkey"
	if kind == message.KindBuy {
		col, masterCol = "seller_pubkey", "master_seller_pubkey"
	}

	ciphertext, nonce, err := s.crypt.sealPubkey(masterPubkey)
	if err != nil {
		return fmt.Errorf("store: seal master pubkey: %w", err)
	}
	nonceCol := masterCol[:len(masterCol)-len("_pubkey")] + "_nonce"

	query := fmt.Sprintf(`UPDATE orders SET %s = ?, %s = ?, %s = ?,
		status = ?, taken_at = ?, updated_at = ? WHERE id = ?`, col, masterCol, nonceCol)
	now := time.Now().Unix()
	_, err = s.db.Exec(query, takerPubkey, ciphertext, nonce, string(next), now, now, id)
	if err != nil {
		return fmt.Errorf("store: take order: %w", err)
	}
	return nil
}

// SetMakerPubkey records the order creator's own counterparty-role pubkey
// (seller for a sell order, buyer for a buy order) and its sealed master
// pubkey, without touching status. Mirrors TakeOrder's column selection and
// sealing but runs once at order creation instead of at take time.
func (s *Store) SetMakerPubkey(id string, kind message.Kind, makerPubkey string, masterPubkey []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, masterCol := "seller_pubkey", "master_seller_pubkey"
	if kind == message.KindBuy {
		col, masterCol = "buyer_pubkey", "master_buyer_pubkey"
	}

	ciphertext, nonce, err := s.crypt.sealPubkey(masterPubkey)
	if err != nil {
		return fmt.Errorf("store: seal master pubkey: %w", err)
	}
	nonceCol := masterCol[:len(masterCol)-len("_pubkey")] + "_nonce"

	query := fmt.Sprintf(`UPDATE orders SET %s = ?, %s = ?, %s = ?, updated_at = ? WHERE id = ?`,
		col, masterCol, nonceCol)
	_, err = s.db.Exec(query, makerPubkey, ciphertext, nonce, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("store: set maker pubkey: %w", err)
	}
	return nil
}

// SetBuyerInvoice records the invoice the buyer supplied to receive funds.
func (s *Store) SetBuyerInvoice(id, invoice string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE orders SET buyer_invoice = ?, updated_at = ? WHERE id = ?`,
		invoice, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("store: set buyer invoice: %w", err)
	}
	return nil
}

// SetHoldInvoice records the seller's hold invoice payment hash.
func (s *Store) SetHoldInvoice(id, paymentHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE orders SET payment_hash = ?, updated_at = ? WHERE id = ?`,
		paymentHash, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("store: set hold invoice: %w", err)
	}
	return nil
}

// MarkInvoiceHeld stamps invoice_held_at once the hold invoice reaches the
// ACCEPTED state, so expiry/timeout logic can measure hold duration.
func (s *Store) MarkInvoiceHeld(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	_, err := s.db.Exec(`UPDATE orders SET invoice_held_at = ?, updated_at = ? WHERE id = ?`,
		now, now, id)
	if err != nil {
		return fmt.Errorf("store: mark invoice held: %w", err)
	}
	return nil
}

// SetAmount records the trade's final satoshi amount, filled in once a
// market-price order's quote has been resolved at take time.
func (s *Store) SetAmount(id string, amountSats int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE orders SET amount = ?, updated_at = ? WHERE id = ?`,
		amountSats, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("store: set amount: %w", err)
	}
	return nil
}

// SetFiatAmount pins the concrete fiat amount a taker picked inside a range
// order's [min,max] interval.
func (s *Store) SetFiatAmount(id string, fiatAmount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE orders SET fiat_amount = ?, updated_at = ? WHERE id = ?`,
		fiatAmount, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("store: set fiat amount: %w", err)
	}
	return nil
}

// SetPreimage records the revealed preimage once the hold invoice settles.
func (s *Store) SetPreimage(id, preimage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE orders SET preimage = ?, updated_at = ? WHERE id = ?`,
		preimage, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("store: set preimage: %w", err)
	}
	return nil
}

// RecordPaymentAttempt increments payment_attempts and, on failure, sets
// failed_payment so the FSM knows to retry buy-side payout later.
func (s *Store) RecordPaymentAttempt(id string, failed bool, routingFee int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE orders SET payment_attempts = payment_attempts + 1,
		failed_payment = ?, routing_fee = ?, updated_at = ? WHERE id = ?`,
		boolToInt(failed), routingFee, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("store: record payment attempt: %w", err)
	}
	return nil
}

// SetCooperativeCancel records which side requested or accepted a
// cooperative cancel; when both flags end up set the caller finalizes the
// cancel separately.
func (s *Store) SetCooperativeCancel(id string, buyer, seller bool, initiator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE orders SET buyer_cooperativecancel = ?,
		seller_cooperativecancel = ?, cancel_initiator_pubkey = ?, updated_at = ?
		WHERE id = ?`, boolToInt(buyer), boolToInt(seller), initiator, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("store: set cooperative cancel: %w", err)
	}
	return nil
}

// ResetTaker republishes an order after a taker-side cancel in
// waiting-payment/waiting-buyer-invoice: the taker's identity and the
// invoice/amount state they produced are cleared and the order returns to
// pending so a fresh taker can pick it up (a market-price amount must be
// re-quoted at the next take).
func (s *Store) ResetTaker(id string, kind message.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, masterCol := "buyer_pubkey", "master_buyer_pubkey"
	if kind == message.KindBuy {
		col, masterCol = "seller_pubkey", "master_seller_pubkey"
	}
	nonceCol := masterCol[:len(masterCol)-len("_pubkey")] + "_nonce"

	query := fmt.Sprintf(`UPDATE orders SET %s = NULL, %s = NULL, %s = NULL,
		buyer_invoice = NULL, payment_hash = NULL, preimage = NULL,
		taken_at = NULL, status = ?, updated_at = ?
		WHERE id = ?`, col, masterCol, nonceCol)
	now := time.Now().Unix()
	if _, err := s.db.Exec(query, string(message.StatusPending), now, id); err != nil {
		return fmt.Errorf("store: reset taker: %w", err)
	}
	if _, err := s.db.Exec(`UPDATE orders SET amount = 0, updated_at = ?
		WHERE id = ? AND price_from_api = 1`, now, id); err != nil {
		return fmt.Errorf("store: reset taker amount: %w", err)
	}
	return nil
}

// SetDisputeFlag marks that buyer or seller has opened a dispute on id.
func (s *Store) SetDisputeFlag(id string, buyer bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col := "seller_dispute"
	if buyer {
		col = "buyer_dispute"
	}
	_, err := s.db.Exec(fmt.Sprintf(`UPDATE orders SET %s = 1, updated_at = ? WHERE id = ?`, col),
		time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("store: set dispute flag: %w", err)
	}
	return nil
}

// SetRateSent marks that buyer or seller has submitted their post-trade
// rating, so the FSM can tell when both sides have rated.
func (s *Store) SetRateSent(id string, buyer bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col := "seller_sent_rate"
	if buyer {
		col = "buyer_sent_rate"
	}
	_, err := s.db.Exec(fmt.Sprintf(`UPDATE orders SET %s = 1, updated_at = ? WHERE id = ?`, col),
		time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("store: set rate sent: %w", err)
	}
	return nil
}

// SetEventID records the replaceable order-book event ID currently
// representing this order, so a later republish can reference it.
func (s *Store) SetEventID(id, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE orders SET event_id = ?, updated_at = ? WHERE id = ?`,
		eventID, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("store: set event id: %w", err)
	}
	return nil
}

// ExpireStaleOrders marks pending orders past their expiry as expired and
// returns the affected IDs, so the caller can notify makers.
func (s *Store) ExpireStaleOrders(now int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT id FROM orders
		WHERE status = ? AND expires_at > 0 AND expires_at <= ?`,
		string(message.StatusPending), now)
	if err != nil {
		return nil, fmt.Errorf("store: query stale orders: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scan stale order: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	for _, id := range ids {
		if _, err := s.db.Exec(`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`,
			string(message.StatusExpired), now, id); err != nil {
			return nil, fmt.Errorf("store: expire order %s: %w", id, err)
		}
	}
	return ids, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
