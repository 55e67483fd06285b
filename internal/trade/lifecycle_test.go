package trade

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mostro-exchange/mostrod/internal/message"
	"github.com/mostro-exchange/mostrod/internal/mostroerr"
)

func TestFiatSentOnlyByBuyerInActive(t *testing.T) {
	e, _, ln, _ := newTestEngine(t)
	o := newSellOrder(t, e)

	if err := e.FiatSent(context.Background(), o.ID, buyerPK); !errors.Is(err, mostroerr.ErrIsNotYourOrder) {
		t.Errorf("pre-take err = %v, want ErrIsNotYourOrder", err)
	}

	takeSellToActive(t, e, ln, o.ID)

	if err := e.FiatSent(context.Background(), o.ID, sellerPK); !errors.Is(err, mostroerr.ErrIsNotYourOrder) {
		t.Errorf("seller caller err = %v, want ErrIsNotYourOrder", err)
	}
	if err := e.FiatSent(context.Background(), o.ID, buyerPK); err != nil {
		t.Fatalf("FiatSent() error = %v", err)
	}
	if err := e.FiatSent(context.Background(), o.ID, buyerPK); !errors.Is(err, mostroerr.ErrNotAllowedByStatus) {
		t.Errorf("repeat err = %v, want ErrNotAllowedByStatus", err)
	}
}

func TestReleaseOnlyBySellerFromFiatSent(t *testing.T) {
	e, _, ln, _ := newTestEngine(t)
	o := newSellOrder(t, e)
	takeSellToActive(t, e, ln, o.ID)

	// The seller must wait for the buyer's fiat-sent confirmation.
	if err := e.Release(context.Background(), o.ID, sellerPK); !errors.Is(err, mostroerr.ErrNotAllowedByStatus) {
		t.Errorf("release-from-active err = %v, want ErrNotAllowedByStatus", err)
	}

	if err := e.FiatSent(context.Background(), o.ID, buyerPK); err != nil {
		t.Fatalf("FiatSent() error = %v", err)
	}
	if err := e.Release(context.Background(), o.ID, buyerPK); !errors.Is(err, mostroerr.ErrIsNotYourOrder) {
		t.Errorf("buyer-release err = %v, want ErrIsNotYourOrder", err)
	}
	if err := e.Release(context.Background(), o.ID, sellerPK); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
}

func TestPayoutFailureThenAutomaticRetry(t *testing.T) {
	e, st, ln, _ := newTestEngine(t)
	o := newSellOrder(t, e)
	takeSellToActive(t, e, ln, o.ID)
	if err := e.FiatSent(context.Background(), o.ID, buyerPK); err != nil {
		t.Fatalf("FiatSent() error = %v", err)
	}

	// First payout attempt fails, the retry succeeds.
	ln.failNextPayments(errors.New("no route"))
	if err := e.Release(context.Background(), o.ID, sellerPK); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	got, _ := st.GetOrder(o.ID)
	if got.Status != message.StatusSettled {
		t.Fatalf("status after failed payout = %s, want settled (funds held, retry pending)", got.Status)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, _ = st.GetOrder(o.ID)
		if got.Status == message.StatusSuccess {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got.Status != message.StatusSuccess {
		t.Errorf("status after retry = %s, want success", got.Status)
	}
	if len(ln.paidInvoices()) != 1 {
		t.Errorf("successful payments = %d, want 1", len(ln.paidInvoices()))
	}
}

func TestPayoutMaxAttemptsThenManualInvoice(t *testing.T) {
	e, st, ln, rec := newTestEngine(t)
	e.cfg.PaymentAttempts = 1
	o := newSellOrder(t, e)
	takeSellToActive(t, e, ln, o.ID)
	if err := e.FiatSent(context.Background(), o.ID, buyerPK); err != nil {
		t.Fatalf("FiatSent() error = %v", err)
	}

	ln.failNextPayments(errors.New("no route"))
	if err := e.Release(context.Background(), o.ID, sellerPK); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	rec.waitFor(t, buyerPK, message.ActionPaymentFailed)

	got, _ := st.GetOrder(o.ID)
	if got.Status != message.StatusSettled {
		t.Fatalf("status = %s, want settled awaiting a fresh invoice", got.Status)
	}

	// The buyer submits a replacement invoice; payout retries immediately.
	if _, err := e.AddInvoice(context.Background(), o.ID, buyerPK, "lnbc-replacement"); err != nil {
		t.Fatalf("AddInvoice() error = %v", err)
	}
	got, _ = st.GetOrder(o.ID)
	if got.Status != message.StatusSuccess {
		t.Errorf("status = %s, want success after replacement payout", got.Status)
	}
	paid := ln.paidInvoices()
	if len(paid) != 1 || paid[0] != "lnbc-replacement" {
		t.Errorf("paid invoices = %v, want only the replacement", paid)
	}
}

// runHappyFlow drives an order to success so rating becomes legal.
func runHappyFlow(t *testing.T, e *Engine, ln *fakeLN, orderID string) {
	t.Helper()
	takeSellToActive(t, e, ln, orderID)
	if err := e.FiatSent(context.Background(), orderID, buyerPK); err != nil {
		t.Fatalf("FiatSent() error = %v", err)
	}
	if err := e.Release(context.Background(), orderID, sellerPK); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
}

func TestRateAfterSuccess(t *testing.T) {
	e, _, ln, rec := newTestEngine(t)
	o := newSellOrder(t, e)
	runHappyFlow(t, e, ln, o.ID)

	if err := e.Rate(context.Background(), o.ID, buyerPK, 5); err != nil {
		t.Fatalf("Rate() error = %v", err)
	}
	rec.waitFor(t, buyerPK, message.ActionRateReceived)

	snap, err := e.reputation.Get(sellerPK)
	if err != nil {
		t.Fatalf("reputation.Get() error = %v", err)
	}
	if snap.TotalReviews != 1 || snap.MinRating != 5 || snap.MaxRating != 5 {
		t.Errorf("seller reputation = %+v, want a single 5 rating", snap)
	}

	// Idempotent double submission.
	if err := e.Rate(context.Background(), o.ID, buyerPK, 1); err != nil {
		t.Fatalf("repeat Rate() error = %v", err)
	}
	snap, _ = e.reputation.Get(sellerPK)
	if snap.TotalReviews != 1 {
		t.Errorf("total reviews after repeat = %d, want still 1", snap.TotalReviews)
	}
}

func TestRateGuards(t *testing.T) {
	e, _, ln, _ := newTestEngine(t)
	o := newSellOrder(t, e)
	takeSellToActive(t, e, ln, o.ID)

	if err := e.Rate(context.Background(), o.ID, buyerPK, 5); !errors.Is(err, mostroerr.ErrNotAllowedByStatus) {
		t.Errorf("pre-success err = %v, want ErrNotAllowedByStatus", err)
	}

	if err := e.FiatSent(context.Background(), o.ID, buyerPK); err != nil {
		t.Fatalf("FiatSent() error = %v", err)
	}
	if err := e.Release(context.Background(), o.ID, sellerPK); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	if err := e.Rate(context.Background(), o.ID, "stranger-pk", 5); !errors.Is(err, mostroerr.ErrInvalidPeer) {
		t.Errorf("stranger err = %v, want ErrInvalidPeer", err)
	}
	if err := e.Rate(context.Background(), o.ID, sellerPK, 6); err == nil {
		t.Error("expected out-of-range rating to be rejected")
	}
	if err := e.Rate(context.Background(), o.ID, sellerPK, 0); err == nil {
		t.Error("expected zero rating to be rejected")
	}
}

func TestSendDmRoutesToCounterparty(t *testing.T) {
	e, _, ln, rec := newTestEngine(t)
	o := newSellOrder(t, e)
	takeSellToActive(t, e, ln, o.ID)

	if err := e.SendDm(o.ID, buyerPK, "hello seller", ""); err != nil {
		t.Fatalf("SendDm() error = %v", err)
	}
	m := rec.waitFor(t, sellerPK, message.ActionSendDm)
	if m.Text == nil || m.Text.Text != "hello seller" {
		t.Errorf("delivered text = %+v, want the buyer's message", m.Text)
	}

	if err := e.SendDm(o.ID, "stranger-pk", "hi", ""); !errors.Is(err, mostroerr.ErrInvalidPeer) {
		t.Errorf("stranger err = %v, want ErrInvalidPeer", err)
	}
}

func TestSendDmBySolverRequiresDispute(t *testing.T) {
	e, _, ln, rec := newTestEngine(t)
	o := newSellOrder(t, e)
	takeSellToActive(t, e, ln, o.ID)
	if err := e.store.SetSolver(solverPK, true); err != nil {
		t.Fatalf("SetSolver() error = %v", err)
	}

	if err := e.SendDm(o.ID, solverPK, "who are you", buyerPK); !errors.Is(err, mostroerr.ErrNotAllowedByStatus) {
		t.Errorf("pre-dispute solver dm err = %v, want ErrNotAllowedByStatus", err)
	}

	if err := e.Dispute(context.Background(), o.ID, buyerPK); err != nil {
		t.Fatalf("Dispute() error = %v", err)
	}
	if err := e.SendDm(o.ID, solverPK, "please explain", buyerPK); err != nil {
		t.Fatalf("solver SendDm() error = %v", err)
	}
	m := rec.waitFor(t, buyerPK, message.ActionSendDm)
	if m.Text == nil || m.Text.Text != "please explain" {
		t.Errorf("delivered text = %+v, want the solver's message", m.Text)
	}
}

func TestRestoreSessionFiltersByOwnership(t *testing.T) {
	e, _, _, rec := newTestEngine(t)
	mine := newSellOrder(t, e)

	other, err := e.NewOrder(context.Background(), &NewOrderRequest{
		CreatorPubkey: "someone-else",
		Kind:          message.KindSell,
		Amount:        40_000,
		FiatCode:      "EUR",
		FiatAmount:    20,
		PaymentMethod: "SEPA",
	})
	if err != nil {
		t.Fatalf("NewOrder() error = %v", err)
	}

	if err := e.RestoreSession(sellerPK, []string{mine.ID, other.ID, "not-a-real-id"}); err != nil {
		t.Fatalf("RestoreSession() error = %v", err)
	}
	m := rec.waitFor(t, sellerPK, message.ActionRestoreSession)
	if m.Restore == nil || len(m.Restore.Orders) != 1 || m.Restore.Orders[0].ID != mine.ID {
		t.Errorf("restored orders = %+v, want only the caller's own order", m.Restore)
	}
}
