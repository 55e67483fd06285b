package trade

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/mostro-exchange/mostrod/internal/message"
	"github.com/mostro-exchange/mostrod/internal/mostroerr"
	"github.com/mostro-exchange/mostrod/internal/store"
)

// onHoldInvoiceAccepted advances a waiting order to active once the
// seller's hold invoice is accepted, provided the buyer has already
// supplied a payout invoice.
func (e *Engine) onHoldInvoiceAccepted(o *store.OrderRecord) {
	if err := e.store.MarkInvoiceHeld(o.ID); err != nil {
		e.log.Error("mark invoice held", "order", o.ID, "err", err)
		return
	}
	if o.Status != message.StatusWaitingPayment {
		return
	}
	if o.BuyerInvoice == "" {
		return
	}
	if err := e.store.UpdateOrderStatus(o.ID, message.StatusWaitingPayment, message.StatusActive); err != nil {
		e.log.Error("advance to active", "order", o.ID, "err", err)
		return
	}
	e.emitReply(o.BuyerPubkey, &message.Message{Action: message.ActionHoldInvoicePaid, Order: &message.Order{ID: o.ID, Status: message.StatusActive}})
	e.emitReply(o.SellerPubkey, &message.Message{Action: message.ActionHoldInvoicePaid, Order: &message.Order{ID: o.ID, Status: message.StatusActive}})
	e.republish(o.ID)
}

// onHoldInvoiceSettled confirms a settle we ourselves triggered (release or
// admin-settle); there's nothing further to do here since the payout is
// driven synchronously by the caller of SettleInvoice.
func (e *Engine) onHoldInvoiceSettled(o *store.OrderRecord) {
	e.log.Info("hold invoice settled", "order", o.ID)
}

// FiatSent marks that the buyer has sent the agreed fiat payment, moving
// the order from active to fiat-sent.
func (e *Engine) FiatSent(ctx context.Context, orderID, buyerPubkey string) error {
	return e.withOrderLock(orderID, func() error {
		o, err := e.store.GetOrder(orderID)
		if err != nil {
			return err
		}
		if o == nil {
			e.replyCantDo(buyerPubkey, orderID, mostroerr.ErrOrderNotFound)
			return mostroerr.ErrOrderNotFound
		}
		if o.BuyerPubkey != buyerPubkey {
			e.replyCantDo(buyerPubkey, orderID, mostroerr.ErrIsNotYourOrder)
			return mostroerr.ErrIsNotYourOrder
		}
		if o.Status != message.StatusActive {
			e.replyCantDo(buyerPubkey, orderID, mostroerr.ErrNotAllowedByStatus)
			return mostroerr.ErrNotAllowedByStatus
		}
		if err := e.store.UpdateOrderStatus(orderID, message.StatusActive, message.StatusFiatSent); err != nil {
			return err
		}
		e.emitReply(buyerPubkey, &message.Message{Action: message.ActionFiatSentOk, Order: &message.Order{ID: orderID, Status: message.StatusFiatSent}})
		e.emitReply(o.SellerPubkey, &message.Message{Action: message.ActionFiatSentOk, Order: &message.Order{ID: orderID, Status: message.StatusFiatSent}})
		e.republish(orderID)
		return nil
	})
}

// Release settles the seller's hold invoice and attempts the buyer payout,
// valid only from fiat-sent (the resolved policy for this daemon: unlike a
// permissive "active or fiat-sent" reading, the seller must wait for the
// buyer's fiat-sent confirmation before releasing).
func (e *Engine) Release(ctx context.Context, orderID, sellerPubkey string) error {
	return e.withOrderLock(orderID, func() error {
		o, err := e.store.GetOrder(orderID)
		if err != nil {
			return err
		}
		if o == nil {
			e.replyCantDo(sellerPubkey, orderID, mostroerr.ErrOrderNotFound)
			return mostroerr.ErrOrderNotFound
		}
		if o.SellerPubkey != sellerPubkey {
			e.replyCantDo(sellerPubkey, orderID, mostroerr.ErrIsNotYourOrder)
			return mostroerr.ErrIsNotYourOrder
		}
		if o.Status != message.StatusFiatSent {
			e.replyCantDo(sellerPubkey, orderID, mostroerr.ErrNotAllowedByStatus)
			return mostroerr.ErrNotAllowedByStatus
		}

		preimage, err := e.holdPreimage(o)
		if err != nil {
			return err
		}
		node, err := e.lightningNode()
		if err != nil {
			return err
		}
		if err := node.SettleInvoice(ctx, preimage); err != nil {
			return fmt.Errorf("trade: settle hold invoice: %w", err)
		}
		if err := e.store.UpdateOrderStatus(orderID, message.StatusFiatSent, message.StatusSettled); err != nil {
			return err
		}
		e.emitReply(sellerPubkey, &message.Message{Action: message.ActionReleaseOk, Order: &message.Order{ID: orderID, Status: message.StatusSettled}})
		e.republish(orderID)

		o, err = e.store.GetOrder(orderID)
		if err != nil {
			return err
		}
		return e.payoutLocked(o)
	})
}

// holdPreimage recovers the hold-invoice preimage for o: the order row's
// own column first, falling back to the sealed secrets table.
func (e *Engine) holdPreimage(o *store.OrderRecord) ([]byte, error) {
	if o.Preimage != "" {
		preimage, err := hex.DecodeString(o.Preimage)
		if err != nil {
			return nil, fmt.Errorf("trade: decode preimage: %w", err)
		}
		return preimage, nil
	}
	preimage, err := e.store.OpenSecret(o.PaymentHash)
	if err != nil {
		return nil, err
	}
	if preimage == nil {
		return nil, fmt.Errorf("trade: no preimage recorded for order %s", o.ID)
	}
	return preimage, nil
}

// payoutLocked attempts the outbound payment to the buyer's invoice. Must
// be called with orderID's lock already held.
func (e *Engine) payoutLocked(o *store.OrderRecord) error {
	if o.BuyerInvoice == "" {
		e.emitReply(o.BuyerPubkey, &message.Message{Action: message.ActionPaymentFailed, Order: &message.Order{ID: o.ID, Status: o.Status}})
		return nil
	}

	// A payout already in flight for this order must never be raced by a
	// second attempt; the per-order lock serializes callers, this marker
	// guards against a stacked retry firing mid-payment.
	if _, inflight := e.paying.LoadOrStore(o.ID, struct{}{}); inflight {
		return nil
	}
	defer e.paying.Delete(o.ID)

	node, err := e.lightningNode()
	if err != nil {
		return err
	}
	_, _, buyerFee := feeSplit(o.Amount, e.cfg.FeePct)
	payout := o.Amount - buyerFee
	maxFee := routingFeeCap(payout, e.cfg.MaxRoutingFeePct)

	preimage, payErr := node.PayInvoice(e.ctx, o.BuyerInvoice, maxFee)
	if payErr != nil {
		return e.onPayoutFailed(o, payErr)
	}

	if err := e.store.SetPreimage(o.ID, hex.EncodeToString(preimage)); err != nil {
		return err
	}
	if err := e.store.RecordPaymentAttempt(o.ID, false, 0); err != nil {
		return err
	}
	// A payout after an admin settle lands the order in completed-by-admin
	// rather than the ordinary success terminal.
	next := message.StatusSuccess
	if o.Status == message.StatusSettledByAdmin {
		next = message.StatusCompletedByAdmin
	}
	if err := e.store.UpdateOrderStatus(o.ID, o.Status, next); err != nil {
		return err
	}
	e.emitReply(o.BuyerPubkey, &message.Message{Action: message.ActionPurchaseCompleted, Order: &message.Order{ID: o.ID, Status: next}})
	e.emitReply(o.SellerPubkey, &message.Message{Action: message.ActionPurchaseCompleted, Order: &message.Order{ID: o.ID, Status: next}})
	e.republish(o.ID)
	return nil
}

func (e *Engine) onPayoutFailed(o *store.OrderRecord, payErr error) error {
	if err := e.store.RecordPaymentAttempt(o.ID, true, 0); err != nil {
		return err
	}
	e.log.Warn("payout failed", "order", o.ID, "attempt", o.PaymentAttempts+1, "err", payErr)

	maxAttempts := e.cfg.PaymentAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if o.PaymentAttempts+1 >= maxAttempts {
		e.emitReply(o.BuyerPubkey, &message.Message{Action: message.ActionPaymentFailed, Order: &message.Order{ID: o.ID, Status: o.Status}})
		return nil
	}

	interval := e.cfg.PaymentRetriesInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	time.AfterFunc(interval, func() { e.retryPayout(o.ID) })
	return nil
}

// retryPayout re-acquires orderID's lock and retries the buyer payout,
// invoked after payment_retries_interval following a failed attempt.
func (e *Engine) retryPayout(orderID string) {
	_ = e.withOrderLock(orderID, func() error {
		o, err := e.store.GetOrder(orderID)
		if err != nil || o == nil {
			return err
		}
		if o.Status != message.StatusSettled && o.Status != message.StatusSettledByAdmin {
			return nil
		}
		return e.payoutLocked(o)
	})
}

// Rate records a post-trade 1-5 rating of the counterparty, valid only
// after success and idempotent per side.
func (e *Engine) Rate(ctx context.Context, orderID, raterPubkey string, rating int) error {
	return e.withOrderLock(orderID, func() error {
		o, err := e.store.GetOrder(orderID)
		if err != nil {
			return err
		}
		if o == nil {
			e.replyCantDo(raterPubkey, orderID, mostroerr.ErrOrderNotFound)
			return mostroerr.ErrOrderNotFound
		}
		if o.Status != message.StatusSuccess {
			e.replyCantDo(raterPubkey, orderID, mostroerr.ErrNotAllowedByStatus)
			return mostroerr.ErrNotAllowedByStatus
		}

		isBuyer := raterPubkey == o.BuyerPubkey
		isSeller := raterPubkey == o.SellerPubkey
		if !isBuyer && !isSeller {
			e.replyCantDo(raterPubkey, orderID, mostroerr.ErrInvalidPeer)
			return mostroerr.ErrInvalidPeer
		}
		if (isBuyer && o.BuyerSentRate) || (isSeller && o.SellerSentRate) {
			return nil // idempotent double submission
		}

		counterparty := o.SellerPubkey
		if isSeller {
			counterparty = o.BuyerPubkey
		}
		rep, err := e.reputation.Rate(counterparty, rating)
		if err != nil {
			e.replyCantDo(raterPubkey, orderID, mostroerr.ErrRatingOutOfRange)
			return err
		}
		if err := e.store.SetRateSent(orderID, isBuyer); err != nil {
			return err
		}
		e.emitReply(raterPubkey, &message.Message{Action: message.ActionRateReceived, Order: &message.Order{ID: orderID}})
		_ = e.book.PublishRating(ctx, counterparty, rep)
		return nil
	})
}
