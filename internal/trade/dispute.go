package trade

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mostro-exchange/mostrod/internal/message"
	"github.com/mostro-exchange/mostrod/internal/mostroerr"
	"github.com/mostro-exchange/mostrod/internal/store"
)

// Dispute opens a dispute on orderID at callerPubkey's request, valid from
// active or fiat-sent. Each side gets a distinct reply carrying its own
// dispute token, which it will need to quote to the admin that eventually
// takes it, so the admin can match an out-of-band conversation to the right
// dispute without trusting either party's self-reported identity.
func (e *Engine) Dispute(ctx context.Context, orderID, callerPubkey string) error {
	return e.withOrderLock(orderID, func() error {
		o, err := e.store.GetOrder(orderID)
		if err != nil {
			return err
		}
		if o == nil {
			e.replyCantDo(callerPubkey, orderID, mostroerr.ErrOrderNotFound)
			return mostroerr.ErrOrderNotFound
		}

		isBuyer := callerPubkey == o.BuyerPubkey
		isSeller := callerPubkey == o.SellerPubkey
		if !isBuyer && !isSeller {
			e.replyCantDo(callerPubkey, orderID, mostroerr.ErrInvalidPeer)
			return mostroerr.ErrInvalidPeer
		}
		if o.Status != message.StatusActive && o.Status != message.StatusFiatSent {
			e.replyCantDo(callerPubkey, orderID, mostroerr.ErrNotAllowedByStatus)
			return mostroerr.ErrNotAllowedByStatus
		}

		existing, err := e.store.GetDisputeByOrder(orderID)
		if err != nil {
			return err
		}

		counterparty := o.SellerPubkey
		if !isBuyer {
			counterparty = o.BuyerPubkey
		}

		if existing != nil {
			// The counterparty already opened this dispute; record our side's
			// flag too but don't create a second dispute row.
			if err := e.store.SetDisputeFlag(orderID, isBuyer); err != nil {
				return err
			}
			e.emitReply(callerPubkey, disputeReply(message.ActionDisputeInitByYou, existing, isBuyer))
			return nil
		}

		d := &store.DisputeRecord{ID: uuid.NewString(), OrderID: orderID, InitiatorPubkey: callerPubkey}
		if err := e.store.CreateDispute(d); err != nil {
			return err
		}
		d.Status = store.DisputeInitiated
		if err := e.store.SetDisputeFlag(orderID, isBuyer); err != nil {
			return err
		}
		if err := e.store.UpdateOrderStatus(orderID, o.Status, message.StatusDispute); err != nil {
			return err
		}

		e.emitReply(callerPubkey, disputeReply(message.ActionDisputeInitByYou, d, isBuyer))
		e.emitReply(counterparty, disputeReply(message.ActionDisputeInitByPeer, d, !isBuyer))

		e.republish(orderID)
		_ = e.book.PublishDispute(ctx, d)
		return nil
	})
}

// disputeReply builds the dispute-initiated payload for one side, carrying
// that side's own token (buyer's token to the buyer, seller's to the
// seller).
func disputeReply(action message.Action, d *store.DisputeRecord, toBuyer bool) *message.Message {
	token := d.SellerToken
	if toBuyer {
		token = d.BuyerToken
	}
	return &message.Message{
		Action: action,
		Dispute: &message.Dispute{
			ID: d.ID, OrderID: d.OrderID, Status: d.Status, Token: token,
		},
	}
}

// AdminTakeDispute lets an admin or a registered solver claim an open
// dispute, first-come-first-served: AssignSolver's optimistic update only
// succeeds once.
func (e *Engine) AdminTakeDispute(ctx context.Context, disputeID, callerPubkey string) error {
	if !e.callerIsSolverOrAdmin(callerPubkey) {
		e.cantDo(callerPubkey, "", message.CantDoNotAllowedByStatus)
		return mostroerr.ErrNotAdmin
	}

	d, err := e.store.GetDispute(disputeID)
	if err != nil {
		return err
	}
	if d == nil {
		e.replyCantDo(callerPubkey, "", mostroerr.ErrDisputeNotFound)
		return mostroerr.ErrDisputeNotFound
	}

	return e.withOrderLock(d.OrderID, func() error {
		if err := e.store.AssignSolver(disputeID, callerPubkey); err != nil {
			e.cantDo(callerPubkey, d.OrderID, message.CantDoNotAllowedByStatus)
			return err
		}
		d, err := e.store.GetDispute(disputeID)
		if err != nil {
			return err
		}
		o, err := e.store.GetOrder(d.OrderID)
		if err != nil {
			return err
		}

		e.emitReply(callerPubkey, &message.Message{
			Action: message.ActionAdminTakeDisp,
			Dispute: &message.Dispute{ID: d.ID, OrderID: d.OrderID, Status: d.Status, Solver: d.SolverPubkey},
		})
		if o != nil {
			e.emitReply(o.BuyerPubkey, &message.Message{Action: message.ActionAdminTakeDisp, Dispute: &message.Dispute{ID: d.ID, OrderID: d.OrderID, Status: d.Status}})
			e.emitReply(o.SellerPubkey, &message.Message{Action: message.ActionAdminTakeDisp, Dispute: &message.Dispute{ID: d.ID, OrderID: d.OrderID, Status: d.Status}})
		}
		_ = e.book.PublishDispute(ctx, d)
		return nil
	})
}

// AdminCancel resolves a dispute by canceling the trade in the seller's
// favor: the seller's hold invoice is canceled (returning their own funds,
// never disbursed) and the order moves to canceled-by-admin. Only the
// solver this specific dispute was assigned to may call it.
func (e *Engine) AdminCancel(ctx context.Context, orderID, callerPubkey string) error {
	return e.withOrderLock(orderID, func() error {
		o, err := e.store.GetOrder(orderID)
		if err != nil {
			return err
		}
		if o == nil {
			e.replyCantDo(callerPubkey, orderID, mostroerr.ErrOrderNotFound)
			return mostroerr.ErrOrderNotFound
		}
		d, err := e.store.GetDisputeByOrder(orderID)
		if err != nil {
			return err
		}
		if d == nil {
			e.replyCantDo(callerPubkey, orderID, mostroerr.ErrDisputeNotFound)
			return mostroerr.ErrDisputeNotFound
		}
		if d.SolverPubkey != callerPubkey {
			e.cantDo(callerPubkey, orderID, message.CantDoNotAllowedByStatus)
			return mostroerr.ErrNotAdmin
		}

		e.cancelHoldInvoiceIfAny(o)

		if err := e.store.UpdateOrderStatus(orderID, o.Status, message.StatusCanceledByAdmin); err != nil {
			return err
		}
		if err := e.store.ResolveDispute(d.ID, store.DisputeSellerRefunded); err != nil {
			return err
		}

		e.emitReply(callerPubkey, &message.Message{Action: message.ActionAdminCanceled, Order: &message.Order{ID: orderID, Status: message.StatusCanceledByAdmin}})
		e.emitReply(o.SellerPubkey, &message.Message{Action: message.ActionAdminCanceled, Order: &message.Order{ID: orderID, Status: message.StatusCanceledByAdmin}})
		e.emitReply(o.BuyerPubkey, &message.Message{Action: message.ActionAdminCanceled, Order: &message.Order{ID: orderID, Status: message.StatusCanceledByAdmin}})
		e.republish(orderID)

		d, err = e.store.GetDispute(d.ID)
		if err == nil && d != nil {
			_ = e.book.PublishDispute(ctx, d)
		}
		return nil
	})
}

// AdminSettle resolves a dispute in the buyer's favor: the seller's hold
// invoice is settled and the ordinary buyer payout runs exactly as a normal
// release would. Only the solver this specific dispute was assigned to may
// call it.
func (e *Engine) AdminSettle(ctx context.Context, orderID, callerPubkey string) error {
	return e.withOrderLock(orderID, func() error {
		o, err := e.store.GetOrder(orderID)
		if err != nil {
			return err
		}
		if o == nil {
			e.replyCantDo(callerPubkey, orderID, mostroerr.ErrOrderNotFound)
			return mostroerr.ErrOrderNotFound
		}
		d, err := e.store.GetDisputeByOrder(orderID)
		if err != nil {
			return err
		}
		if d == nil {
			e.replyCantDo(callerPubkey, orderID, mostroerr.ErrDisputeNotFound)
			return mostroerr.ErrDisputeNotFound
		}
		if d.SolverPubkey != callerPubkey {
			e.cantDo(callerPubkey, orderID, message.CantDoNotAllowedByStatus)
			return mostroerr.ErrNotAdmin
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

		if err := e.store.UpdateOrderStatus(orderID, o.Status, message.StatusSettledByAdmin); err != nil {
			return err
		}
		if err := e.store.ResolveDispute(d.ID, store.DisputeSettled); err != nil {
			return err
		}

		e.emitReply(callerPubkey, &message.Message{Action: message.ActionAdminSettled, Order: &message.Order{ID: orderID, Status: message.StatusSettledByAdmin}})
		e.emitReply(o.SellerPubkey, &message.Message{Action: message.ActionAdminSettled, Order: &message.Order{ID: orderID, Status: message.StatusSettledByAdmin}})
		e.emitReply(o.BuyerPubkey, &message.Message{Action: message.ActionAdminSettled, Order: &message.Order{ID: orderID, Status: message.StatusSettledByAdmin}})
		e.republish(orderID)

		d, err = e.store.GetDispute(d.ID)
		if err == nil && d != nil {
			_ = e.book.PublishDispute(ctx, d)
		}

		o, err = e.store.GetOrder(orderID)
		if err != nil {
			return err
		}
		return e.payoutLocked(o)
	})
}

// AdminAddSolver grants solver status to target, callable only by an
// identity already in the configured admin set (which implicitly includes
// the daemon's own identity, seeded into AdminPubkeys at startup).
func (e *Engine) AdminAddSolver(ctx context.Context, callerPubkey, target string) error {
	if !e.isAdmin(callerPubkey) {
		e.cantDo(callerPubkey, "", message.CantDoNotAllowedByStatus)
		return mostroerr.ErrNotAdmin
	}
	if err := e.store.SetSolver(target, true); err != nil {
		return err
	}
	e.emitReply(callerPubkey, &message.Message{Action: message.ActionAdminAddSolver})
	return nil
}

// callerIsSolverOrAdmin implements the take-dispute authorization rule:
// any configured admin, or any identity already granted solver status.
func (e *Engine) callerIsSolverOrAdmin(pubkey string) bool {
	if e.isAdmin(pubkey) {
		return true
	}
	u, err := e.store.GetUser(pubkey)
	if err != nil || u == nil {
		return false
	}
	return u.IsSolver
}
