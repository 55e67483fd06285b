package trade

import (
	"github.com/mostro-exchange/mostrod/internal/message"
	"github.com/mostro-exchange/mostrod/internal/mostroerr"
)

// SendDm relays a free-text message tied to orderID from fromPubkey to a
// counterparty: a buyer/seller pair may message each other, with the
// recipient implied, and an admin or solver may message either party once
// the order is in dispute, naming wantTo to pick which one.
func (e *Engine) SendDm(orderID, fromPubkey, text, wantTo string) error {
	o, err := e.store.GetOrder(orderID)
	if err != nil {
		return err
	}
	if o == nil {
		e.replyCantDo(fromPubkey, orderID, mostroerr.ErrOrderNotFound)
		return mostroerr.ErrOrderNotFound
	}

	var to string
	switch {
	case fromPubkey == o.BuyerPubkey:
		to = o.SellerPubkey
	case fromPubkey == o.SellerPubkey:
		to = o.BuyerPubkey
	case e.IsAdminOrSolver(fromPubkey):
		if o.Status != message.StatusDispute {
			e.replyCantDo(fromPubkey, orderID, mostroerr.ErrNotAllowedByStatus)
			return mostroerr.ErrNotAllowedByStatus
		}
		switch wantTo {
		case o.BuyerPubkey, o.SellerPubkey:
			to = wantTo
		default:
			e.replyCantDo(fromPubkey, orderID, mostroerr.ErrInvalidPeer)
			return mostroerr.ErrInvalidPeer
		}
	default:
		e.replyCantDo(fromPubkey, orderID, mostroerr.ErrInvalidPeer)
		return mostroerr.ErrInvalidPeer
	}
	if to == "" {
		e.replyCantDo(fromPubkey, orderID, mostroerr.ErrInvalidPeer)
		return mostroerr.ErrInvalidPeer
	}

	e.emitReply(to, &message.Message{
		Action: message.ActionSendDm,
		Text:   &message.TextMessage{OrderID: orderID, Text: text},
	})
	return nil
}
