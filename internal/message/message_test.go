package message

import (
	"testing"

	"github.com/mostro-exchange/mostrod/internal/keys"
)

func TestVerifyRejectsUnknownAction(t *testing.T) {
	m := &Message{Action: "not-a-real-action"}
	if err := m.Verify(false); err == nil {
		t.Error("expected error for an unknown action")
	}
}

func TestVerifyRequiresOrderPayload(t *testing.T) {
	m := &Message{Action: ActionNewOrder}
	if err := m.Verify(false); err == nil {
		t.Error("expected error for new-order with no order payload")
	}

	m.Order = &Order{ID: "order-1", Kind: KindSell, FiatCode: "USD"}
	if err := m.Verify(false); err != nil {
		t.Errorf("Verify() error = %v, want nil with an order payload present", err)
	}
}

func TestVerifyRejectsAdminActionFromNonAdmin(t *testing.T) {
	m := &Message{Action: ActionAdminCancel}
	if err := m.Verify(false); err == nil {
		t.Error("expected error for an admin-only action from a non-admin caller")
	}
	if err := m.Verify(true); err != nil {
		t.Errorf("Verify(true) error = %v, want nil for an admin caller", err)
	}
}

func TestVerifyRateUserRejectsOutOfRangeRating(t *testing.T) {
	m := &Message{Action: ActionRateUser, RatingUser: &RatingUser{OrderID: "order-1", Rating: 0}}
	if err := m.Verify(false); err == nil {
		t.Error("expected error for rating 0")
	}

	m.RatingUser.Rating = 6
	if err := m.Verify(false); err == nil {
		t.Error("expected error for rating 6")
	}

	m.RatingUser.Rating = 3
	if err := m.Verify(false); err != nil {
		t.Errorf("Verify() error = %v, want nil for an in-range rating", err)
	}
}

func TestVerifyRequiresTextPayload(t *testing.T) {
	m := &Message{Action: ActionSendDm}
	if err := m.Verify(false); err == nil {
		t.Error("expected error for send-dm with no text payload")
	}

	m.Text = &TextMessage{OrderID: "order-1", Text: "hello"}
	if err := m.Verify(false); err != nil {
		t.Errorf("Verify() error = %v, want nil with a text payload present", err)
	}
}

func TestVerifyRequiresRestoreRequestPayload(t *testing.T) {
	m := &Message{Action: ActionRestoreSession}
	if err := m.Verify(false); err == nil {
		t.Error("expected error for restore-session with no restore_request payload")
	}

	m.RestoreRequest = &RestoreRequest{OrderIDs: []string{"order-1", "order-2"}}
	if err := m.Verify(false); err != nil {
		t.Errorf("Verify() error = %v, want nil with a restore_request payload present", err)
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	m := &Message{
		Action: ActionNewOrder,
		Order: &Order{
			ID:       "order-1",
			Kind:     KindSell,
			FiatCode: "USD",
			Amount:   100000,
		},
	}

	data, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.Action != m.Action {
		t.Errorf("Action = %s, want %s", got.Action, m.Action)
	}
	if got.Order == nil || got.Order.ID != m.Order.ID {
		t.Errorf("Order = %+v, want %+v", got.Order, m.Order)
	}
}

func TestSignedBy(t *testing.T) {
	priv, err := keys.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	m := &Message{Action: ActionFiatSent}

	payload, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	sig, err := priv.Sign(payload)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	ok, err := m.SignedBy(priv.Public(), sig)
	if err != nil {
		t.Fatalf("SignedBy() error = %v", err)
	}
	if !ok {
		t.Error("expected SignedBy() to report a valid signature")
	}

	other, _ := keys.Generate()
	ok, err = m.SignedBy(other.Public(), sig)
	if err != nil {
		t.Fatalf("SignedBy() error = %v", err)
	}
	if ok {
		t.Error("expected SignedBy() to reject a signature from a different key")
	}
}
