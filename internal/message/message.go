// Package message defines the application-level payload carried inside a
// Mostro gift-wrapped rumor: the Action/Status vocabulary, order and trade
// payload shapes, and the envelope-independent signature check applied once
// a rumor has been unwrapped.
package message

import (
	"encoding/json"
	"fmt"

	"github.com/mostro-exchange/mostrod/internal/keys"
)

// Message is the single wire payload type. Each payload field is a typed
// pointer set according to Action, rather than an open interface{} bag;
// some actions carry an auxiliary payload (such as Peer) beside their
// main one.
type Message struct {
	Action     Action `json:"action"`
	TradeIndex int64  `json:"trade_index,omitempty"`
	RequestID  string `json:"request_id,omitempty"`

	Order          *Order          `json:"order,omitempty"`
	PaymentRequest *PaymentRequest `json:"payment_request,omitempty"`
	Peer           *Peer           `json:"peer,omitempty"`
	Dispute        *Dispute        `json:"dispute,omitempty"`
	RatingUser     *RatingUser     `json:"rating_user,omitempty"`
	CantDo         *CantDo         `json:"cant_do,omitempty"`
	Text           *TextMessage    `json:"text,omitempty"`
	RestoreRequest *RestoreRequest `json:"restore_request,omitempty"`
	Restore        *RestoreData    `json:"restore,omitempty"`
	Amount         int64           `json:"amount,omitempty"`
}

// Verify checks that the message is internally consistent: the action is
// known, the payload variant it requires is present, and admin-only
// actions are rejected unless isAdmin is true. Payload fields the action
// does not use are not checked.
func (m *Message) Verify(isAdmin bool) error {
	if !m.Action.Valid() {
		return fmt.Errorf("message: unknown action %q", m.Action)
	}
	if m.Action.RequiresAdmin() && !isAdmin {
		return fmt.Errorf("message: action %q requires an admin or solver identity", m.Action)
	}
	switch m.Action {
	case ActionNewOrder, ActionOrderUpdated:
		if m.Order == nil {
			return fmt.Errorf("message: action %q requires an order payload", m.Action)
		}
	case ActionTakeSell, ActionTakeBuy:
		if m.Order == nil {
			return fmt.Errorf("message: action %q requires an order payload", m.Action)
		}
	case ActionPayInvoice, ActionBuyerInvoice:
		if m.PaymentRequest == nil {
			return fmt.Errorf("message: action %q requires a payment_request payload", m.Action)
		}
	case ActionDisputeInit, ActionDisputeInitByYou, ActionDisputeInitByPeer, ActionAdminTakeDisp:
		if m.Dispute == nil {
			return fmt.Errorf("message: action %q requires a dispute payload", m.Action)
		}
	case ActionRateUser:
		if m.RatingUser == nil {
			return fmt.Errorf("message: action %q requires a rating_user payload", m.Action)
		}
		if m.RatingUser.Rating < 1 || m.RatingUser.Rating > 5 {
			return fmt.Errorf("message: rating %d out of range 1-5", m.RatingUser.Rating)
		}
	case ActionCantDo:
		if m.CantDo == nil {
			return fmt.Errorf("message: action %q requires a cant_do payload", m.Action)
		}
	case ActionSendDm:
		if m.Text == nil {
			return fmt.Errorf("message: action %q requires a text payload", m.Action)
		}
	case ActionRestoreSession:
		if m.RestoreRequest == nil {
			return fmt.Errorf("message: action %q requires a restore_request payload", m.Action)
		}
	}
	return nil
}

// Marshal canonicalizes m to JSON for signing and envelope sealing.
func (m *Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal decodes a Message from its canonical JSON form.
func Unmarshal(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("message: decode: %w", err)
	}
	return &m, nil
}

// SignedBy reports whether sig is a valid BIP340 Schnorr signature over m's
// canonical encoding under pub.
func (m *Message) SignedBy(pub *keys.PublicKey, sig []byte) (bool, error) {
	payload, err := m.Marshal()
	if err != nil {
		return false, err
	}
	return keys.VerifySchnorr(pub, payload, sig)
}
