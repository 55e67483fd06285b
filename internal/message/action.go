package message

// Action identifies the operation a Message carries. It is transmitted as a
// lowercase, hyphenated string on the wire so it reads the same in logs and
// in the envelope payload.
type Action string

const (
	ActionNewOrder        Action = "new-order"
	ActionTakeSell        Action = "take-sell"
	ActionTakeBuy         Action = "take-buy"
	ActionPayInvoice      Action = "pay-invoice"
	ActionFiatSent        Action = "fiat-sent"
	ActionFiatSentOk      Action = "fiat-sent-ok"
	ActionRelease         Action = "release"
	ActionReleaseOk       Action = "release-ok"
	ActionCancel          Action = "cancel"
	ActionCancelOk        Action = "cancel-ok"
	ActionCooperativeCan  Action = "cooperative-cancel-initiated"
	ActionCoopCancelInitByYou  Action = "cooperative-cancel-initiated-by-you"
	ActionCoopCancelInitByPeer Action = "cooperative-cancel-initiated-by-peer"
	ActionDispute         Action = "dispute"
	ActionDisputeInit     Action = "dispute-initiated"
	ActionDisputeInitByYou  Action = "dispute-initiated-by-you"
	ActionDisputeInitByPeer Action = "dispute-initiated-by-peer"
	ActionAdminCancel     Action = "admin-cancel"
	ActionAdminSettle     Action = "admin-settle"
	ActionAdminAddSolver  Action = "admin-add-solver"
	ActionAdminTakeDisp   Action = "admin-take-dispute"
	ActionRateUser        Action = "rate-user"
	ActionRateReceived    Action = "rate-received"
	ActionBuyerInvoice    Action = "buyer-invoice"
	ActionHoldInvoicePaid Action = "hold-invoice-payment-accepted"
	ActionHoldInvoiceSet  Action = "hold-invoice-payment-settled"
	ActionWaitingBuyerInv Action = "waiting-buyer-invoice"
	ActionWaitingSellerPg Action = "waiting-seller-to-pay"
	ActionOutOfRange      Action = "out-of-range-fiat-amount"
	ActionCantDo          Action = "cant-do"
	ActionOrderExpired    Action = "order-expired"
	ActionOrderUpdated    Action = "order-updated"
	ActionPaymentFailed   Action = "payment-failed"
	ActionCoopCancelAccepted Action = "cooperative-cancel-accepted"
	ActionPurchaseCompleted Action = "purchase-completed"
	ActionAdminCanceled   Action = "admin-canceled"
	ActionAdminSettled    Action = "admin-settled"
	ActionSendDm          Action = "send-dm"
	ActionRestoreSession  Action = "restore-session"
)

// Valid reports whether a is one of the recognized actions.
func (a Action) Valid() bool {
	switch a {
	case ActionNewOrder, ActionTakeSell, ActionTakeBuy, ActionPayInvoice,
		ActionFiatSent, ActionFiatSentOk, ActionRelease, ActionReleaseOk,
		ActionCancel, ActionCancelOk, ActionCooperativeCan,
		ActionCoopCancelInitByYou, ActionCoopCancelInitByPeer,
		ActionDispute, ActionDisputeInit, ActionDisputeInitByYou, ActionDisputeInitByPeer,
		ActionAdminCancel, ActionAdminSettle, ActionAdminAddSolver, ActionAdminTakeDisp,
		ActionRateUser, ActionRateReceived, ActionBuyerInvoice, ActionHoldInvoicePaid,
		ActionHoldInvoiceSet, ActionWaitingBuyerInv, ActionWaitingSellerPg,
		ActionOutOfRange, ActionCantDo, ActionOrderExpired, ActionOrderUpdated,
		ActionPaymentFailed, ActionCoopCancelAccepted, ActionPurchaseCompleted,
		ActionAdminCanceled, ActionAdminSettled, ActionSendDm, ActionRestoreSession:
		return true
	}
	return false
}

// RequiresAdmin reports whether a may only be issued by a registered admin
// or dispute solver identity.
func (a Action) RequiresAdmin() bool {
	switch a {
	case ActionAdminCancel, ActionAdminSettle, ActionAdminAddSolver, ActionAdminTakeDisp:
		return true
	}
	return false
}
