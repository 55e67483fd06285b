package message

// Status is the lifecycle state of an order or trade.
type Status string

const (
	StatusPending          Status = "pending"
	StatusWaitingPayment   Status = "waiting-payment"
	StatusWaitingBuyerInv  Status = "waiting-buyer-invoice"
	StatusActive           Status = "active"
	StatusFiatSent         Status = "fiat-sent"
	StatusSettled          Status = "settled"
	StatusSuccess          Status = "success"
	StatusCanceled         Status = "canceled"
	StatusCancelRequested  Status = "cancel-requested"
	StatusCooperativelyC   Status = "cooperatively-canceled"
	StatusDispute          Status = "dispute"
	StatusExpired          Status = "expired"
	StatusCanceledByAdmin  Status = "canceled-by-admin"
	StatusSettledByAdmin   Status = "settled-by-admin"
	StatusCompletedByAdmin Status = "completed-by-admin"
)

// Valid reports whether s is one of the recognized order/trade statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusWaitingPayment, StatusWaitingBuyerInv, StatusActive,
		StatusFiatSent, StatusSettled, StatusSuccess, StatusCanceled,
		StatusCancelRequested, StatusCooperativelyC, StatusDispute, StatusExpired,
		StatusCanceledByAdmin, StatusSettledByAdmin, StatusCompletedByAdmin:
		return true
	}
	return false
}

// Terminal reports whether s is a final state an order/trade never leaves.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusCanceled, StatusCooperativelyC, StatusExpired,
		StatusCanceledByAdmin, StatusCompletedByAdmin:
		return true
	}
	return false
}

// Kind distinguishes a sell order (maker sells sats for fiat) from a buy
// order (maker buys sats with fiat).
type Kind string

const (
	KindSell Kind = "sell"
	KindBuy  Kind = "buy"
)

// Valid reports whether k is sell or buy.
func (k Kind) Valid() bool {
	return k == KindSell || k == KindBuy
}

// Opposite returns the counterparty's order kind for a trade.
func (k Kind) Opposite() Kind {
	if k == KindSell {
		return KindBuy
	}
	return KindSell
}

// CantDoReason explains why an Action was rejected, carried in the payload
// of a cant-do message.
type CantDoReason string

const (
	CantDoInvalidSignature   CantDoReason = "invalid-signature"
	CantDoInvalidTradeIndex  CantDoReason = "invalid-trade-index"
	CantDoInvalidAmount      CantDoReason = "invalid-amount"
	CantDoInvalidInvoice     CantDoReason = "invalid-invoice"
	CantDoInvalidPeer        CantDoReason = "invalid-peer"
	CantDoOrderNotFound      CantDoReason = "order-not-found"
	CantDoNotAllowedByStatus CantDoReason = "not-allowed-by-status"
	CantDoOutOfRangeFiat     CantDoReason = "out-of-range-fiat-amount"
	CantDoOutOfRangeSats     CantDoReason = "out-of-range-satoshis-amount"
	CantDoIsNotYourOrder     CantDoReason = "is-not-your-order"
	CantDoPendingOrderExists CantDoReason = "pending-order-exists"
	CantDoNotFound           CantDoReason = "not-found"
)
