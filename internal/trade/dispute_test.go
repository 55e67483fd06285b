package trade

import (
	"context"
	"errors"
	"testing"

	"github.com/mostro-exchange/mostrod/internal/message"
	"github.com/mostro-exchange/mostrod/internal/mostroerr"
	"github.com/mostro-exchange/mostrod/internal/store"
)

// openDispute drives a sell order to active and has the buyer open a
// dispute, returning the dispute row.
func openDispute(t *testing.T, e *Engine, ln *fakeLN, orderID string) *store.DisputeRecord {
	t.Helper()
	takeSellToActive(t, e, ln, orderID)
	if err := e.Dispute(context.Background(), orderID, buyerPK); err != nil {
		t.Fatalf("Dispute() error = %v", err)
	}
	d, err := e.store.GetDisputeByOrder(orderID)
	if err != nil || d == nil {
		t.Fatalf("GetDisputeByOrder() = %v, %v", d, err)
	}
	return d
}

func TestDisputeFromActive(t *testing.T) {
	e, st, ln, rec := newTestEngine(t)
	o := newSellOrder(t, e)
	d := openDispute(t, e, ln, o.ID)

	got, _ := st.GetOrder(o.ID)
	if got.Status != message.StatusDispute {
		t.Errorf("status = %s, want dispute", got.Status)
	}
	if !got.BuyerDispute || got.SellerDispute {
		t.Errorf("dispute flags = buyer %v / seller %v, want only the initiator's set", got.BuyerDispute, got.SellerDispute)
	}
	if d.Status != store.DisputeInitiated {
		t.Errorf("dispute status = %s, want initiated", d.Status)
	}
	if d.BuyerToken == 0 || d.SellerToken == 0 {
		t.Error("expected non-zero tokens for both sides")
	}

	// Each side receives its own token, never the counterparty's.
	mine := rec.waitFor(t, buyerPK, message.ActionDisputeInitByYou)
	if mine.Dispute == nil || mine.Dispute.Token != d.BuyerToken {
		t.Errorf("buyer reply token = %+v, want the buyer token", mine.Dispute)
	}
	theirs := rec.waitFor(t, sellerPK, message.ActionDisputeInitByPeer)
	if theirs.Dispute == nil || theirs.Dispute.Token != d.SellerToken {
		t.Errorf("seller reply token = %+v, want the seller token", theirs.Dispute)
	}
}

func TestDisputeRejectsNonParticipant(t *testing.T) {
	e, _, ln, _ := newTestEngine(t)
	o := newSellOrder(t, e)
	takeSellToActive(t, e, ln, o.ID)

	err := e.Dispute(context.Background(), o.ID, "stranger-pk")
	if !errors.Is(err, mostroerr.ErrInvalidPeer) {
		t.Errorf("err = %v, want ErrInvalidPeer", err)
	}
}

func TestDisputeRejectsPendingOrder(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	o := newSellOrder(t, e)

	err := e.Dispute(context.Background(), o.ID, sellerPK)
	if !errors.Is(err, mostroerr.ErrInvalidPeer) && !errors.Is(err, mostroerr.ErrNotAllowedByStatus) {
		t.Errorf("err = %v, want a rejection before take", err)
	}
}

func TestAdminTakeDisputeRequiresSolver(t *testing.T) {
	e, _, ln, _ := newTestEngine(t)
	o := newSellOrder(t, e)
	d := openDispute(t, e, ln, o.ID)

	if err := e.AdminTakeDispute(context.Background(), d.ID, "random-pk"); !errors.Is(err, mostroerr.ErrNotAdmin) {
		t.Errorf("unauthorized take err = %v, want ErrNotAdmin", err)
	}

	if err := e.store.SetSolver(solverPK, true); err != nil {
		t.Fatalf("SetSolver() error = %v", err)
	}
	if err := e.AdminTakeDispute(context.Background(), d.ID, solverPK); err != nil {
		t.Fatalf("solver AdminTakeDispute() error = %v", err)
	}

	got, _ := e.store.GetDispute(d.ID)
	if got.Status != store.DisputeInProgress || got.SolverPubkey != solverPK {
		t.Errorf("dispute = %s/%q, want in-progress assigned to the solver", got.Status, got.SolverPubkey)
	}

	// First-come-first-served: a second solver cannot take it again.
	if err := e.store.SetSolver("other-solver", true); err != nil {
		t.Fatalf("SetSolver() error = %v", err)
	}
	if err := e.AdminTakeDispute(context.Background(), d.ID, "other-solver"); err == nil {
		t.Error("expected second take of an assigned dispute to fail")
	}
}

func TestAdminCancelRefundsSeller(t *testing.T) {
	e, st, ln, rec := newTestEngine(t)
	o := newSellOrder(t, e)
	d := openDispute(t, e, ln, o.ID)

	if err := e.store.SetSolver(solverPK, true); err != nil {
		t.Fatalf("SetSolver() error = %v", err)
	}
	if err := e.AdminTakeDispute(context.Background(), d.ID, solverPK); err != nil {
		t.Fatalf("AdminTakeDispute() error = %v", err)
	}

	// Only the assigned solver may resolve.
	if err := e.AdminCancel(context.Background(), o.ID, adminPK); !errors.Is(err, mostroerr.ErrNotAdmin) {
		t.Errorf("unassigned-caller err = %v, want ErrNotAdmin", err)
	}

	if err := e.AdminCancel(context.Background(), o.ID, solverPK); err != nil {
		t.Fatalf("AdminCancel() error = %v", err)
	}
	if ln.canceledCount() != 1 {
		t.Errorf("hold invoices canceled = %d, want 1", ln.canceledCount())
	}
	gotOrder, _ := st.GetOrder(o.ID)
	if gotOrder.Status != message.StatusCanceledByAdmin {
		t.Errorf("order status = %s, want canceled-by-admin", gotOrder.Status)
	}
	gotDispute, _ := st.GetDispute(d.ID)
	if gotDispute.Status != store.DisputeSellerRefunded {
		t.Errorf("dispute status = %s, want seller-refunded", gotDispute.Status)
	}
	rec.waitFor(t, sellerPK, message.ActionAdminCanceled)
	rec.waitFor(t, buyerPK, message.ActionAdminCanceled)
}

func TestAdminSettlePaysBuyer(t *testing.T) {
	e, st, ln, rec := newTestEngine(t)
	o := newSellOrder(t, e)
	d := openDispute(t, e, ln, o.ID)

	if err := e.store.SetSolver(solverPK, true); err != nil {
		t.Fatalf("SetSolver() error = %v", err)
	}
	if err := e.AdminTakeDispute(context.Background(), d.ID, solverPK); err != nil {
		t.Fatalf("AdminTakeDispute() error = %v", err)
	}

	if err := e.AdminSettle(context.Background(), o.ID, solverPK); err != nil {
		t.Fatalf("AdminSettle() error = %v", err)
	}
	if ln.settledCount() != 1 {
		t.Errorf("hold invoices settled = %d, want 1", ln.settledCount())
	}
	paid := ln.paidInvoices()
	if len(paid) != 1 || paid[0] != "lnbc-buyer-payout" {
		t.Errorf("paid invoices = %v, want the buyer's payout invoice", paid)
	}
	gotOrder, _ := st.GetOrder(o.ID)
	if gotOrder.Status != message.StatusCompletedByAdmin {
		t.Errorf("order status = %s, want completed-by-admin after payout", gotOrder.Status)
	}
	gotDispute, _ := st.GetDispute(d.ID)
	if gotDispute.Status != store.DisputeSettled {
		t.Errorf("dispute status = %s, want settled", gotDispute.Status)
	}
	rec.waitFor(t, buyerPK, message.ActionPurchaseCompleted)
}

func TestAdminAddSolverRequiresAdmin(t *testing.T) {
	e, st, _, _ := newTestEngine(t)

	if err := e.AdminAddSolver(context.Background(), "random-pk", solverPK); !errors.Is(err, mostroerr.ErrNotAdmin) {
		t.Errorf("non-admin err = %v, want ErrNotAdmin", err)
	}

	if err := e.AdminAddSolver(context.Background(), adminPK, solverPK); err != nil {
		t.Fatalf("AdminAddSolver() error = %v", err)
	}
	u, _ := st.GetUser(solverPK)
	if u == nil || !u.IsSolver {
		t.Errorf("user = %+v, want is_solver set", u)
	}
}
