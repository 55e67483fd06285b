package trade

import (
	"errors"

	"github.com/mostro-exchange/mostrod/internal/message"
	"github.com/mostro-exchange/mostrod/internal/mostroerr"
)

// cantDoReason maps a sentinel error from internal/mostroerr onto the
// CantDoReason sent back over the wire. Several errors share one reason;
// for an error it does not cover it reports false.
func cantDoReason(err error) (message.CantDoReason, bool) {
	switch {
	case errors.Is(err, mostroerr.ErrOrderNotFound):
		return message.CantDoOrderNotFound, true
	case errors.Is(err, mostroerr.ErrInvalidAmount):
		return message.CantDoInvalidAmount, true
	case errors.Is(err, mostroerr.ErrOutOfRangeFiatAmt):
		return message.CantDoOutOfRangeFiat, true
	case errors.Is(err, mostroerr.ErrIsNotYourOrder):
		return message.CantDoIsNotYourOrder, true
	case errors.Is(err, mostroerr.ErrNotAllowedByStatus), errors.Is(err, mostroerr.ErrInvalidOrderStatus):
		return message.CantDoNotAllowedByStatus, true
	case errors.Is(err, mostroerr.ErrPendingOrderExists):
		return message.CantDoPendingOrderExists, true
	case errors.Is(err, mostroerr.ErrInvalidPeer):
		return message.CantDoInvalidPeer, true
	case errors.Is(err, mostroerr.ErrInvoiceInvalid), errors.Is(err, mostroerr.ErrInvoiceExpired),
		errors.Is(err, mostroerr.ErrIncorrectInvoiceAmount):
		return message.CantDoInvalidInvoice, true
	case errors.Is(err, mostroerr.ErrDisputeNotFound):
		return message.CantDoNotFound, true
	}
	return "", false
}

// replyCantDo sends the best-matching cant-do reason for err to pubkey, or
// a generic not-found if err does not map onto a known reason.
func (e *Engine) replyCantDo(pubkey, orderID string, err error) {
	reason, ok := cantDoReason(err)
	if !ok {
		reason = message.CantDoNotFound
	}
	e.cantDo(pubkey, orderID, reason)
}
