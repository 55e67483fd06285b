package node

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pubsub "github.com/libp2p/go-libp2p-pubsub"

	"github.com/mostro-exchange/mostrod/internal/envelope"
	"github.com/mostro-exchange/mostrod/internal/keys"
	"github.com/mostro-exchange/mostrod/internal/message"
	"github.com/mostro-exchange/mostrod/internal/mostroerr"
	"github.com/mostro-exchange/mostrod/internal/store"
	"github.com/mostro-exchange/mostrod/internal/trade"
)

// Publish joins (or reuses) the named gossip topic and publishes body on
// it, satisfying orderbook.Publisher so a Book built on this Node can push
// its replaceable order-book, dispute-board, rating, and daemon-info
// events over the same transport gift-wraps travel on.
func (n *Node) Publish(ctx context.Context, topic string, body []byte) error {
	t, err := n.joinTopic(topic)
	if err != nil {
		return err
	}
	return t.Publish(ctx, body)
}

func (n *Node) joinTopic(name string) (*pubsub.Topic, error) {
	n.topicsMu.Lock()
	defer n.topicsMu.Unlock()
	if t, ok := n.topics[name]; ok {
		return t, nil
	}
	t, err := n.pubsub.Join(name)
	if err != nil {
		return nil, fmt.Errorf("node: join topic %s: %w", name, err)
	}
	n.topics[name] = t
	return t, nil
}

// readGiftWraps pulls every message published on the gift-wrap topic,
// standing in for a Nostr relay's subscription feed: every subscriber sees
// every wrap, and handleGiftWrap silently drops the ones not addressed to
// this identity.
func (n *Node) readGiftWraps() {
	for {
		m, err := n.giftWrapSub.Next(n.ctx)
		if err != nil {
			if n.ctx.Err() != nil {
				return
			}
			n.log.Warn("gift wrap read", "err", err)
			continue
		}
		if m.ReceivedFrom == n.host.ID() {
			continue
		}
		go n.handleGiftWrap(m.Data)
	}
}

// handleGiftWrap unwraps a single gift-wrapped rumor and, if it is
// addressed to this identity, new, and passes its replay and signature
// checks, dispatches it to the trade engine.
func (n *Node) handleGiftWrap(data []byte) {
	var gw envelope.GiftWrap
	if err := json.Unmarshal(data, &gw); err != nil {
		return
	}
	if gw.RecipientP != n.identity.Public().Hex() {
		return
	}

	author, payload, err := envelope.Open(n.identity, &gw)
	if err != nil {
		n.log.Debug("gift wrap open failed", "id", gw.ID, "err", err)
		return
	}
	msg, err := message.Unmarshal(payload)
	if err != nil {
		n.log.Warn("gift wrap payload decode", "id", gw.ID, "err", err)
		return
	}
	authorHex := author.Hex()

	fresh, err := n.store.RecordInbound(gw.ID, orderIDOf(msg), authorHex, string(msg.Action), msg.TradeIndex)
	if err != nil {
		n.log.Error("record inbound", "id", gw.ID, "err", err)
		return
	}
	if !fresh {
		return
	}

	if msg.TradeIndex > 0 {
		ok, err := n.store.CheckAndAdvanceTradeIndex(authorHex, msg.TradeIndex)
		if err != nil {
			n.log.Error("trade index check", "pubkey", authorHex, "err", err)
			return
		}
		if !ok {
			n.log.Warn("replayed trade index", "pubkey", authorHex, "index", msg.TradeIndex)
			n.onEngineReply(trade.Reply{
				To: authorHex,
				Msg: &message.Message{Action: message.ActionCantDo, CantDo: &message.CantDo{
					OrderID: orderIDOf(msg), Reason: message.CantDoInvalidTradeIndex,
				}},
			})
			return
		}
	}

	if err := msg.Verify(n.engine.IsAdminOrSolver(authorHex)); err != nil {
		n.log.Debug("message rejected", "id", gw.ID, "err", err)
		return
	}

	n.dispatch(authorHex, msg)
}

// orderIDOf extracts whatever order or dispute identifier msg carries, used
// both as the outbox/inbound-log's trade id and to route replies back to
// the right order.
func orderIDOf(msg *message.Message) string {
	switch {
	case msg.Order != nil:
		return msg.Order.ID
	case msg.Dispute != nil:
		return msg.Dispute.OrderID
	case msg.PaymentRequest != nil:
		return msg.PaymentRequest.OrderID
	case msg.RatingUser != nil:
		return msg.RatingUser.OrderID
	case msg.Text != nil:
		return msg.Text.OrderID
	}
	return ""
}

// masterPubkeyOf decodes the auxiliary master pubkey a new-order or take
// request carries in its Peer payload, the field Mostro's own protocol
// uses to convey master_buyer_pubkey/master_seller_pubkey alongside the
// trade identity the gift-wrap envelope already authenticates.
func masterPubkeyOf(msg *message.Message) []byte {
	if msg.Peer == nil || msg.Peer.PubKey == "" {
		return nil
	}
	b, err := hex.DecodeString(msg.Peer.PubKey)
	if err != nil {
		return nil
	}
	return b
}

// dispatch routes a verified, fresh message to the trade engine operation
// its Action names. Most engine methods already emit their own cant-do
// reply on a rejected request; NewOrder is the one exception, since it
// validates before any order row (and thus any orderID to reply about)
// exists.
func (n *Node) dispatch(authorHex string, msg *message.Message) {
	ctx := n.ctx

	switch msg.Action {
	case message.ActionNewOrder:
		o := msg.Order
		if o == nil {
			return
		}
		req := &trade.NewOrderRequest{
			CreatorPubkey: authorHex,
			MasterPubkey:  masterPubkeyOf(msg),
			Kind:          o.Kind,
			Amount:        o.Amount,
			FiatCode:      o.FiatCode,
			FiatAmount:    o.FiatAmount,
			MinAmount:     o.MinAmount,
			MaxAmount:     o.MaxAmount,
			PaymentMethod: o.PaymentMethod,
			PremiumPct:    o.PremiumPct,
			BuyerInvoice:  o.BuyerInvoice,
		}
		if _, err := n.engine.NewOrder(ctx, req); err != nil {
			n.replyNewOrderFailed(authorHex, err)
		}

	case message.ActionTakeSell:
		if msg.Order == nil {
			return
		}
		_, _ = n.engine.TakeSell(ctx, msg.Order.ID, authorHex, masterPubkeyOf(msg), fiatAmountOf(msg.Order), msg.Order.BuyerInvoice)

	case message.ActionTakeBuy:
		if msg.Order == nil {
			return
		}
		_, _ = n.engine.TakeBuy(ctx, msg.Order.ID, authorHex, masterPubkeyOf(msg), fiatAmountOf(msg.Order))

	case message.ActionBuyerInvoice:
		if msg.PaymentRequest == nil {
			return
		}
		_, _ = n.engine.AddInvoice(ctx, msg.PaymentRequest.OrderID, authorHex, msg.PaymentRequest.Invoice)

	case message.ActionFiatSent:
		_ = n.engine.FiatSent(ctx, orderIDOf(msg), authorHex)

	case message.ActionRelease:
		_ = n.engine.Release(ctx, orderIDOf(msg), authorHex)

	case message.ActionCancel:
		_ = n.engine.Cancel(ctx, orderIDOf(msg), authorHex)

	case message.ActionDispute:
		_ = n.engine.Dispute(ctx, orderIDOf(msg), authorHex)

	case message.ActionRateUser:
		if msg.RatingUser == nil {
			return
		}
		_ = n.engine.Rate(ctx, msg.RatingUser.OrderID, authorHex, msg.RatingUser.Rating)

	case message.ActionAdminTakeDisp:
		if msg.Dispute == nil {
			return
		}
		_ = n.engine.AdminTakeDispute(ctx, msg.Dispute.ID, authorHex)

	case message.ActionAdminCancel:
		_ = n.engine.AdminCancel(ctx, orderIDOf(msg), authorHex)

	case message.ActionAdminSettle:
		_ = n.engine.AdminSettle(ctx, orderIDOf(msg), authorHex)

	case message.ActionAdminAddSolver:
		target := ""
		if msg.Peer != nil {
			target = msg.Peer.PubKey
		}
		if target == "" {
			return
		}
		_ = n.engine.AdminAddSolver(ctx, authorHex, target)

	case message.ActionSendDm:
		if msg.Text == nil {
			return
		}
		_ = n.engine.SendDm(msg.Text.OrderID, authorHex, msg.Text.Text, msg.Text.To)

	case message.ActionRestoreSession:
		if msg.RestoreRequest == nil {
			return
		}
		_ = n.engine.RestoreSession(authorHex, msg.RestoreRequest.OrderIDs)

	default:
		n.log.Debug("no handler for action", "action", msg.Action)
	}
}

// fiatAmountOf lifts an order payload's fiat_amount into the optional
// *decimal.Decimal a range order's take request needs, nil when the taker
// didn't name one (a fixed-amount order doesn't require it).
func fiatAmountOf(o *message.Order) *decimal.Decimal {
	if o == nil || o.FiatAmount <= 0 {
		return nil
	}
	d := decimal.NewFromFloat(o.FiatAmount)
	return &d
}

// replyNewOrderFailed sends the one cant-do reply the dispatcher itself is
// responsible for: NewOrder's own validation errors, which it returns
// directly rather than emitting through the engine's reply fan-out.
func (n *Node) replyNewOrderFailed(to string, err error) {
	reason := cantDoReasonForNewOrderErr(err)
	n.onEngineReply(trade.Reply{
		To:  to,
		Msg: &message.Message{Action: message.ActionCantDo, CantDo: &message.CantDo{Reason: reason}},
	})
}

// cantDoReasonForNewOrderErr maps a NewOrder validation error onto the
// CantDoReason its peer-facing cant-do reply should carry.
func cantDoReasonForNewOrderErr(err error) message.CantDoReason {
	switch {
	case errors.Is(err, mostroerr.ErrPendingOrderExists):
		return message.CantDoPendingOrderExists
	case errors.Is(err, mostroerr.ErrOutOfRangeFiatAmt):
		return message.CantDoOutOfRangeFiat
	case errors.Is(err, mostroerr.ErrInvalidAmount):
		return message.CantDoInvalidAmount
	default:
		return message.CantDoNotFound
	}
}

// drainOutbox periodically republishes due outbound gift-wraps, the
// durable-delivery half of the outbound path: onEngineReply enqueues, this
// loop is what actually puts bytes on the wire and retries them. The drain
// tick is sub-second so a freshly enqueued reply goes out almost
// immediately; once sent, a message only comes due again after the longer
// retry interval, and a message past its delivery deadline is expired
// instead of republished.
func (n *Node) drainOutbox() {
	drain := n.config.Mostro.OutboxDrainInterval
	if drain <= 0 {
		drain = 300 * time.Millisecond
	}
	retry := n.config.Mostro.OutboxRetryInterval
	if retry <= 0 {
		retry = 30 * time.Second
	}
	batch := n.config.Mostro.OutboxBatchSize
	if batch <= 0 {
		batch = 50
	}
	ticker := time.NewTicker(drain)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.drainOutboxOnce(batch, retry)
		}
	}
}

func (n *Node) drainOutboxOnce(limit int, retryInterval time.Duration) {
	now := time.Now().Unix()
	if expired, err := n.store.ExpireOverdue(now); err != nil {
		n.log.Error("drain outbox: expire overdue", "err", err)
	} else if expired > 0 {
		n.log.Warn("drain outbox: abandoned undelivered messages", "count", expired)
	}

	due, err := n.store.DuePending(now, limit)
	if err != nil {
		n.log.Error("drain outbox: list due", "err", err)
		return
	}
	for _, m := range due {
		if err := n.Publish(n.ctx, giftWrapTopic, m.Payload); err != nil {
			n.log.Warn("drain outbox: publish", "message", m.MessageID, "err", err)
			_ = n.store.MarkFailed(m.MessageID, err.Error())
			continue
		}
		next := time.Now().Add(retryInterval).Unix()
		if err := n.store.MarkSent(m.MessageID, time.Now().Unix(), next); err != nil {
			n.log.Error("drain outbox: mark sent", "message", m.MessageID, "err", err)
		}
	}
}

// onEngineReply is the trade.ReplyHandler registered in Start: it assigns
// the daemon's next trade index, wraps the reply as a gift-wrap addressed
// to the recipient, and hands it to the durable outbox rather than
// publishing it directly, so delivery survives a restart mid-retry.
func (n *Node) onEngineReply(r trade.Reply) {
	recipient, err := keys.PublicFromHex(r.To)
	if err != nil {
		n.log.Error("reply: bad recipient pubkey", "to", r.To, "err", err)
		return
	}

	idx, err := n.store.NextTradeIndex(n.identity.Public().Hex())
	if err != nil {
		n.log.Error("reply: next trade index", "err", err)
		return
	}
	r.Msg.TradeIndex = idx

	payload, err := r.Msg.Marshal()
	if err != nil {
		n.log.Error("reply: marshal message", "err", err)
		return
	}

	id := uuid.NewString()
	gw, err := envelope.Wrap(n.identity, recipient, id, payload)
	if err != nil {
		n.log.Error("reply: wrap envelope", "err", err)
		return
	}
	body, err := json.Marshal(gw)
	if err != nil {
		n.log.Error("reply: marshal gift wrap", "err", err)
		return
	}

	ttl := n.config.Mostro.HoldInvoiceExpiration
	if ttl <= 0 {
		ttl = time.Hour
	}
	om := &store.OutboxMessage{
		MessageID:   id,
		TradeID:     orderIDOf(r.Msg),
		PeerID:      r.To,
		MessageType: string(r.Msg.Action),
		Payload:     body,
		ExpiresAt:   time.Now().Add(ttl).Unix(),
	}
	if err := n.store.Enqueue(om); err != nil {
		n.log.Error("reply: enqueue outbox", "err", err)
	}
}
