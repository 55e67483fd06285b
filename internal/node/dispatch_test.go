package node

import (
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/mostro-exchange/mostrod/internal/message"
	"github.com/mostro-exchange/mostrod/internal/mostroerr"
)

func TestOrderIDOf(t *testing.T) {
	tests := []struct {
		name string
		msg  *message.Message
		want string
	}{
		{"order", &message.Message{Order: &message.Order{ID: "order-1"}}, "order-1"},
		{"dispute", &message.Message{Dispute: &message.Dispute{OrderID: "order-2"}}, "order-2"},
		{"payment request", &message.Message{PaymentRequest: &message.PaymentRequest{OrderID: "order-3"}}, "order-3"},
		{"rating", &message.Message{RatingUser: &message.RatingUser{OrderID: "order-4"}}, "order-4"},
		{"none", &message.Message{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := orderIDOf(tt.msg); got != tt.want {
				t.Errorf("orderIDOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMasterPubkeyOf(t *testing.T) {
	want := "02aabbccddeeff00112233445566778899aabbccddeeff00112233445566778a"
	msg := &message.Message{Peer: &message.Peer{PubKey: want}}

	got := masterPubkeyOf(msg)
	if got == nil {
		t.Fatal("expected decoded pubkey, got nil")
	}
	if hex.EncodeToString(got) != want {
		t.Errorf("masterPubkeyOf() = %x, want %s", got, want)
	}
}

func TestMasterPubkeyOfMissing(t *testing.T) {
	if got := masterPubkeyOf(&message.Message{}); got != nil {
		t.Errorf("expected nil for message with no peer, got %x", got)
	}
	if got := masterPubkeyOf(&message.Message{Peer: &message.Peer{}}); got != nil {
		t.Errorf("expected nil for empty peer pubkey, got %x", got)
	}
}

func TestMasterPubkeyOfInvalidHex(t *testing.T) {
	msg := &message.Message{Peer: &message.Peer{PubKey: "not-hex"}}
	if got := masterPubkeyOf(msg); got != nil {
		t.Errorf("expected nil for invalid hex, got %x", got)
	}
}

func TestFiatAmountOf(t *testing.T) {
	if got := fiatAmountOf(nil); got != nil {
		t.Errorf("expected nil for nil order, got %v", got)
	}
	if got := fiatAmountOf(&message.Order{FiatAmount: 0}); got != nil {
		t.Errorf("expected nil for zero fiat amount, got %v", got)
	}

	got := fiatAmountOf(&message.Order{FiatAmount: 100.5})
	if got == nil {
		t.Fatal("expected non-nil decimal for positive fiat amount")
	}
	if f, _ := got.Float64(); f != 100.5 {
		t.Errorf("fiatAmountOf() = %v, want 100.5", f)
	}
}

func TestCantDoReasonForNewOrderErr(t *testing.T) {
	tests := []struct {
		err    error
		reason message.CantDoReason
	}{
		{mostroerr.ErrPendingOrderExists, message.CantDoPendingOrderExists},
		{mostroerr.ErrOutOfRangeFiatAmt, message.CantDoOutOfRangeFiat},
		{mostroerr.ErrInvalidAmount, message.CantDoInvalidAmount},
		{mostroerr.ErrOrderNotFound, message.CantDoNotFound},
		{fmt.Errorf("wrapped: %w", mostroerr.ErrOutOfRangeFiatAmt), message.CantDoOutOfRangeFiat},
	}

	for _, tt := range tests {
		if got := cantDoReasonForNewOrderErr(tt.err); got != tt.reason {
			t.Errorf("cantDoReasonForNewOrderErr(%v) = %q, want %q", tt.err, got, tt.reason)
		}
	}
}
