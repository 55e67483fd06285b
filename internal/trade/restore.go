package trade

import "github.com/mostro-exchange/mostrod/internal/message"

// RestoreSession answers a reconnecting client's restore-session request:
// it resolves the subset of the requested order IDs the caller still has
// standing in (as creator, buyer, or seller), attaches any dispute tied to
// one of those orders, and replies on the same action carrying the result.
func (e *Engine) RestoreSession(pubkey string, orderIDs []string) error {
	orders, err := e.store.GetUserOrdersByID(orderIDs, pubkey)
	if err != nil {
		e.emitReply(pubkey, &message.Message{Action: message.ActionRestoreSession, Restore: &message.RestoreData{}})
		return err
	}

	data := &message.RestoreData{}
	for _, o := range orders {
		data.Orders = append(data.Orders, message.RestoredOrder{ID: o.ID, Kind: o.Kind, Status: o.Status})
		if o.Status != message.StatusDispute {
			continue
		}
		d, err := e.store.GetDisputeByOrder(o.ID)
		if err != nil || d == nil {
			continue
		}
		data.Disputes = append(data.Disputes, message.RestoredDispute{ID: d.ID, OrderID: d.OrderID, Status: d.Status})
	}

	e.emitReply(pubkey, &message.Message{Action: message.ActionRestoreSession, Restore: data})
	return nil
}
