package trade

import (
	"context"
	"encoding/hex"

	"github.com/mostro-exchange/mostrod/internal/message"
	"github.com/mostro-exchange/mostrod/internal/mostroerr"
	"github.com/mostro-exchange/mostrod/internal/store"
)

// Cancel dispatches a cancel request to the right rule set for the order's
// current status: a bare cancel in pending or waiting-payment/
// waiting-buyer-invoice, or the cooperative two-step once a counterparty
// exists.
func (e *Engine) Cancel(ctx context.Context, orderID, callerPubkey string) error {
	return e.withOrderLock(orderID, func() error {
		o, err := e.store.GetOrder(orderID)
		if err != nil {
			return err
		}
		if o == nil {
			e.replyCantDo(callerPubkey, orderID, mostroerr.ErrOrderNotFound)
			return mostroerr.ErrOrderNotFound
		}

		isMaker := o.CreatorPubkey == callerPubkey
		isParticipant := isMaker || callerPubkey == o.BuyerPubkey || callerPubkey == o.SellerPubkey
		if !isParticipant {
			e.replyCantDo(callerPubkey, orderID, mostroerr.ErrInvalidPeer)
			return mostroerr.ErrInvalidPeer
		}

		switch o.Status {
		case message.StatusPending:
			return e.cancelPending(ctx, o, callerPubkey, isMaker)
		case message.StatusWaitingPayment, message.StatusWaitingBuyerInv:
			return e.cancelWaiting(ctx, o, callerPubkey, isMaker)
		case message.StatusActive, message.StatusFiatSent, message.StatusDispute:
			return e.cancelCooperative(ctx, o, callerPubkey)
		default:
			e.replyCantDo(callerPubkey, orderID, mostroerr.ErrNotAllowedByStatus)
			return mostroerr.ErrNotAllowedByStatus
		}
	})
}

func (e *Engine) cancelPending(ctx context.Context, o *store.OrderRecord, callerPubkey string, isMaker bool) error {
	if !isMaker {
		e.replyCantDo(callerPubkey, o.ID, mostroerr.ErrNotAllowedByStatus)
		return mostroerr.ErrNotAllowedByStatus
	}
	if err := e.store.UpdateOrderStatus(o.ID, message.StatusPending, message.StatusCanceled); err != nil {
		return err
	}
	e.emitReply(callerPubkey, &message.Message{Action: message.ActionCancelOk, Order: &message.Order{ID: o.ID, Status: message.StatusCanceled}})

	o, err := e.store.GetOrder(o.ID)
	if err != nil {
		return err
	}
	rep, _ := e.reputation.Get(o.CreatorPubkey)
	_ = e.book.PublishOrder(ctx, o, rep)
	return nil
}

func (e *Engine) cancelWaiting(ctx context.Context, o *store.OrderRecord, callerPubkey string, isMaker bool) error {
	e.cancelHoldInvoiceIfAny(o)

	if isMaker {
		if err := e.store.UpdateOrderStatus(o.ID, o.Status, message.StatusCanceled); err != nil {
			return err
		}
		e.emitReply(o.BuyerPubkey, &message.Message{Action: message.ActionCancelOk, Order: &message.Order{ID: o.ID, Status: message.StatusCanceled}})
		e.emitReply(o.SellerPubkey, &message.Message{Action: message.ActionCancelOk, Order: &message.Order{ID: o.ID, Status: message.StatusCanceled}})
		e.republish(o.ID)
		return nil
	}

	if err := e.store.ResetTaker(o.ID, o.Kind); err != nil {
		return err
	}
	o, err := e.store.GetOrder(o.ID)
	if err != nil {
		return err
	}
	e.emitReply(o.CreatorPubkey, &message.Message{
		Action: message.ActionOrderUpdated,
		Order: &message.Order{
			ID: o.ID, Kind: o.Kind, Status: o.Status, FiatCode: o.FiatCode,
			MinAmount: o.MinAmount, MaxAmount: o.MaxAmount, FiatAmount: o.FiatAmount,
			PaymentMethod: o.PaymentMethod, PremiumPct: o.PremiumPct,
		},
	})
	rep, _ := e.reputation.Get(o.CreatorPubkey)
	_ = e.book.PublishOrder(ctx, o, rep)
	return nil
}

func (e *Engine) cancelCooperative(ctx context.Context, o *store.OrderRecord, callerPubkey string) error {
	isBuyer := callerPubkey == o.BuyerPubkey

	if o.CancelInitiatorPubkey == "" {
		if err := e.store.SetCooperativeCancel(o.ID, isBuyer, !isBuyer, callerPubkey); err != nil {
			return err
		}
		counterparty := o.SellerPubkey
		if !isBuyer {
			counterparty = o.BuyerPubkey
		}
		e.emitReply(callerPubkey, &message.Message{Action: message.ActionCoopCancelInitByYou, Order: &message.Order{ID: o.ID, Status: o.Status}})
		e.emitReply(counterparty, &message.Message{Action: message.ActionCoopCancelInitByPeer, Order: &message.Order{ID: o.ID, Status: o.Status}})
		return nil
	}

	if o.CancelInitiatorPubkey == callerPubkey {
		e.replyCantDo(callerPubkey, o.ID, mostroerr.ErrNotAllowedByStatus)
		return mostroerr.ErrNotAllowedByStatus
	}

	e.cancelHoldInvoiceIfAny(o)

	if err := e.store.SetCooperativeCancel(o.ID, true, true, o.CancelInitiatorPubkey); err != nil {
		return err
	}
	if err := e.store.UpdateOrderStatus(o.ID, o.Status, message.StatusCooperativelyC); err != nil {
		return err
	}
	e.emitReply(o.BuyerPubkey, &message.Message{Action: message.ActionCoopCancelAccepted, Order: &message.Order{ID: o.ID, Status: message.StatusCooperativelyC}})
	e.emitReply(o.SellerPubkey, &message.Message{Action: message.ActionCoopCancelAccepted, Order: &message.Order{ID: o.ID, Status: message.StatusCooperativelyC}})
	e.republish(o.ID)
	return nil
}

func (e *Engine) cancelHoldInvoiceIfAny(o *store.OrderRecord) {
	if o.PaymentHash == "" {
		return
	}
	node, err := e.lightningNode()
	if err != nil {
		return
	}
	hash, err := hex.DecodeString(o.PaymentHash)
	if err != nil {
		return
	}
	if err := node.CancelInvoice(e.ctx, hash); err != nil {
		e.log.Warn("cancel hold invoice", "order", o.ID, "err", err)
	}
}
