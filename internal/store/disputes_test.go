package store

import "testing"

func newTestDispute(id, orderID string) *DisputeRecord {
	return &DisputeRecord{
		ID:              id,
		OrderID:         orderID,
		InitiatorPubkey: "initiator-" + id,
	}
}

func TestCreateDisputeAssignsTokens(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateOrder(newTestOrder("order-d1")); err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}

	d := newTestDispute("dispute-1", "order-d1")
	if err := s.CreateDispute(d); err != nil {
		t.Fatalf("CreateDispute() error = %v", err)
	}
	if d.BuyerToken < 1000 || d.BuyerToken > 9999 {
		t.Errorf("BuyerToken = %d, want a 4-digit token", d.BuyerToken)
	}
	if d.SellerToken < 1000 || d.SellerToken > 9999 {
		t.Errorf("SellerToken = %d, want a 4-digit token", d.SellerToken)
	}

	got, err := s.GetDispute("dispute-1")
	if err != nil {
		t.Fatalf("GetDispute() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetDispute() = nil, want dispute")
	}
	if got.Status != DisputeInitiated {
		t.Errorf("Status = %s, want %s", got.Status, DisputeInitiated)
	}
}

func TestGetDisputeByOrder(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateOrder(newTestOrder("order-d2")); err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}
	if err := s.CreateDispute(newTestDispute("dispute-2", "order-d2")); err != nil {
		t.Fatalf("CreateDispute() error = %v", err)
	}

	got, err := s.GetDisputeByOrder("order-d2")
	if err != nil {
		t.Fatalf("GetDisputeByOrder() error = %v", err)
	}
	if got == nil || got.ID != "dispute-2" {
		t.Errorf("GetDisputeByOrder() = %v, want dispute-2", got)
	}
}

func TestAssignSolverRejectsDoubleAssignment(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateOrder(newTestOrder("order-d3")); err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}
	if err := s.CreateDispute(newTestDispute("dispute-3", "order-d3")); err != nil {
		t.Fatalf("CreateDispute() error = %v", err)
	}

	if err := s.AssignSolver("dispute-3", "solver-a"); err != nil {
		t.Fatalf("AssignSolver() error = %v", err)
	}
	got, _ := s.GetDispute("dispute-3")
	if got.SolverPubkey != "solver-a" || got.Status != DisputeInProgress {
		t.Errorf("SolverPubkey/Status = %s/%s, want solver-a/%s", got.SolverPubkey, got.Status, DisputeInProgress)
	}

	if err := s.AssignSolver("dispute-3", "solver-b"); err == nil {
		t.Error("expected error assigning an already-taken dispute")
	}
}

func TestResolveDisputeAndListOpen(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"order-d4", "order-d5"} {
		if err := s.CreateOrder(newTestOrder(id)); err != nil {
			t.Fatalf("CreateOrder(%s) error = %v", id, err)
		}
	}
	if err := s.CreateDispute(newTestDispute("dispute-4", "order-d4")); err != nil {
		t.Fatalf("CreateDispute() error = %v", err)
	}
	if err := s.CreateDispute(newTestDispute("dispute-5", "order-d5")); err != nil {
		t.Fatalf("CreateDispute() error = %v", err)
	}

	if err := s.ResolveDispute("dispute-4", DisputeReleased); err != nil {
		t.Fatalf("ResolveDispute() error = %v", err)
	}

	open, err := s.ListOpenDisputes()
	if err != nil {
		t.Fatalf("ListOpenDisputes() error = %v", err)
	}
	if len(open) != 1 || open[0].ID != "dispute-5" {
		t.Errorf("ListOpenDisputes() = %v, want [dispute-5]", open)
	}

	resolved, err := s.GetDispute("dispute-4")
	if err != nil {
		t.Fatalf("GetDispute() error = %v", err)
	}
	if resolved.Status != DisputeReleased || resolved.ResolvedAt == 0 {
		t.Errorf("Status/ResolvedAt = %s/%d, want %s/nonzero", resolved.Status, resolved.ResolvedAt, DisputeReleased)
	}
}
