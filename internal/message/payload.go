package message

import "time"

// Order describes a maker's buy or sell intent, as carried in a new-order
// message and as republished on the order-book topic.
type Order struct {
	ID             string   `json:"id"`
	Kind           Kind     `json:"kind"`
	Status         Status   `json:"status"`
	Amount         int64    `json:"amount"` // satoshis, 0 means market price
	FiatCode       string   `json:"fiat_code"`
	MinAmount      float64  `json:"min_amount,omitempty"`
	MaxAmount      float64  `json:"max_amount,omitempty"`
	FiatAmount     float64  `json:"fiat_amount"`
	PaymentMethod  string   `json:"payment_method"`
	PremiumPct     float64  `json:"premium"`
	BuyerPubkey    string   `json:"buyer_pubkey,omitempty"`
	SellerPubkey   string   `json:"seller_pubkey,omitempty"`
	BuyerInvoice   string   `json:"buyer_invoice,omitempty"`
	CreatedAt      int64    `json:"created_at"`
	ExpiresAt      int64    `json:"expires_at"`
}

// PaymentRequest carries a Lightning invoice or its hash/hold-status between
// parties.
type PaymentRequest struct {
	OrderID    string `json:"order_id"`
	Invoice    string `json:"invoice,omitempty"`
	PaymentHash string `json:"payment_hash,omitempty"`
	Amount     int64  `json:"amount"`
}

// Peer carries an identity pubkey beside a message's main payload: the
// dispatcher reads PubKey as the sender's master pubkey, and on
// admin-add-solver as the identity to grant solver status.
type Peer struct {
	PubKey  string   `json:"pubkey"`
	PeerID  string   `json:"peer_id,omitempty"`
	Reputation *ReputationSnapshot `json:"reputation,omitempty"`
}

// ReputationSnapshot is the reputation figure attached to a Peer when shown
// to a prospective counterparty.
type ReputationSnapshot struct {
	TotalRatings int     `json:"total_ratings"`
	TotalReviews int     `json:"total_reviews"`
	AvgRating    float64 `json:"avg_rating"`
}

// Dispute carries the state of an opened dispute.
type Dispute struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	Solver    string `json:"solver,omitempty"`
	Token     int    `json:"token,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// RatingUser carries a post-trade rating of the counterparty.
type RatingUser struct {
	OrderID string `json:"order_id"`
	Rating  int    `json:"rating"`
}

// CantDo carries the reason an action was rejected.
type CantDo struct {
	OrderID string       `json:"order_id,omitempty"`
	Reason  CantDoReason `json:"reason"`
}

// TextMessage carries free-form text, the send-dm action's payload for
// peer-to-peer messages routed through the daemon (e.g. a dispute solver
// reaching out to a trader out-of-band).
type TextMessage struct {
	OrderID string `json:"order_id,omitempty"`
	Text    string `json:"text"`
	// To optionally names the recipient pubkey. Traders messaging their
	// order counterparty leave this empty since the counterparty is
	// implied; an admin or solver messaging into a dispute sets it to
	// pick which of the two parties receives the message.
	To string `json:"to,omitempty"`
}

// RestoreRequest carries the order IDs a reconnecting client still
// remembers locally, so it can recover its session without the daemon
// ever learning the client's long-lived identity from this request alone.
type RestoreRequest struct {
	OrderIDs []string `json:"order_ids"`
}

// RestoredOrder is one order returned by a restore-session query.
type RestoredOrder struct {
	ID     string `json:"id"`
	Kind   Kind   `json:"kind"`
	Status Status `json:"status"`
}

// RestoredDispute is one dispute returned by a restore-session query.
type RestoredDispute struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// RestoreData answers a restore-session request with whichever of the
// requested orders (and their disputes, if any) the caller still has
// standing in.
type RestoreData struct {
	Orders   []RestoredOrder   `json:"orders,omitempty"`
	Disputes []RestoredDispute `json:"disputes,omitempty"`
}

func unixNow() int64 { return time.Now().Unix() }
