// Package mostroerr collects the sentinel errors shared across the daemon.
// Errors are grouped by axis: internal failures that never reach a peer, and
// user-visible failures that get mapped onto a CantDoReason and sent back
// over the wire.
package mostroerr

import "errors"

// Internal errors. These indicate a bug, a storage failure, or a protocol
// violation severe enough that we refuse to continue processing the message
// at all (no CantDo reply is sent). ErrNotAdmin is the exception: the trade
// engine sends a not-allowed-by-status CantDo before returning it.
var (
	ErrInternal        = errors.New("internal error")
	ErrStorageFailure  = errors.New("storage failure")
	ErrEnvelopeInvalid = errors.New("invalid gift-wrap envelope")
	ErrSignatureBad    = errors.New("signature verification failed")
	ErrReplayDetected  = errors.New("trade index replay detected")
	ErrNotAdmin        = errors.New("caller is not an admin or solver")
)

// User-visible errors. Each is reported as a CantDoReason sent back to the
// peer that triggered it; several share one reason, and one with no mapping
// of its own is reported as not-found.
var (
	ErrOrderNotFound          = errors.New("order not found")
	ErrOrderAlreadyTaken      = errors.New("order already taken")
	ErrInvalidOrderStatus     = errors.New("order is not in a valid status for this action")
	ErrInvalidAmount          = errors.New("amount is outside the allowed range")
	ErrInvalidPeer            = errors.New("peer is not a participant in this trade")
	ErrInvoiceExpired         = errors.New("invoice has expired")
	ErrInvoiceInvalid         = errors.New("invoice is malformed or unpayable")
	ErrIncorrectInvoiceAmount = errors.New("invoice amount does not match the agreed payout")
	ErrOutOfRangeFiatAmt      = errors.New("fiat amount is outside the order's range")
	ErrPendingOrderExists     = errors.New("a pending order already exists for this identity")
	ErrIsNotYourOrder         = errors.New("order does not belong to the caller")
	ErrNotAllowedByStatus     = errors.New("action is not allowed in the order's current status")
	ErrDisputeAlreadyOpen     = errors.New("dispute already open for this trade")
	ErrDisputeNotFound        = errors.New("dispute not found")
	ErrCooperativeMismatch    = errors.New("cooperative cancel votes do not match")
	ErrRatingOutOfRange       = errors.New("rating value outside the allowed 1-5 range")
)
