package trade

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mostro-exchange/mostrod/internal/message"
	"github.com/mostro-exchange/mostrod/internal/mostroerr"
	"github.com/mostro-exchange/mostrod/internal/store"
)

// NewOrderRequest carries a maker's new-order submission.
type NewOrderRequest struct {
	CreatorPubkey      string
	MasterPubkey       []byte
	Kind               message.Kind
	Amount             int64 // 0 means market price
	FiatCode           string
	FiatAmount         float64
	MinAmount          float64
	MaxAmount          float64
	PaymentMethod      string
	PremiumPct         float64
	BuyerInvoice       string // only meaningful for a buy order
}

// NewOrder validates and persists a maker's order, publishing its
// order-book event.
func (e *Engine) NewOrder(ctx context.Context, req *NewOrderRequest) (*store.OrderRecord, error) {
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown order kind %q", mostroerr.ErrInvalidAmount, req.Kind)
	}
	if req.PremiumPct < -100 || req.PremiumPct > 100 {
		return nil, fmt.Errorf("%w: premium %g outside [-100,100]", mostroerr.ErrInvalidAmount, req.PremiumPct)
	}
	if req.MinAmount > 0 && req.MaxAmount > 0 && req.MinAmount > req.MaxAmount {
		return nil, fmt.Errorf("%w: min_amount exceeds max_amount", mostroerr.ErrOutOfRangeFiatAmt)
	}
	if req.Amount > 0 && req.Amount > e.cfg.MaxOrderAmount {
		return nil, fmt.Errorf("%w: amount %d exceeds max_order_amount", mostroerr.ErrInvalidAmount, req.Amount)
	}

	pending, err := e.store.ListOrdersByStatus(message.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("trade: list pending orders: %w", err)
	}
	for _, o := range pending {
		if o.CreatorPubkey == req.CreatorPubkey {
			return nil, mostroerr.ErrPendingOrderExists
		}
	}

	if req.FiatCode != "" {
		if ok, err := e.price.SupportsCurrency(ctx, req.FiatCode); err == nil && !ok {
			return nil, fmt.Errorf("%w: currency %s not listed by price provider", mostroerr.ErrInvalidAmount, req.FiatCode)
		}
	}

	o := &store.OrderRecord{
		ID:            uuid.NewString(),
		Kind:          req.Kind,
		Status:        message.StatusPending,
		CreatorPubkey: req.CreatorPubkey,
		Amount:        req.Amount,
		PriceFromAPI:  req.Amount == 0,
		FiatCode:      req.FiatCode,
		FiatAmount:    req.FiatAmount,
		MinAmount:     req.MinAmount,
		MaxAmount:     req.MaxAmount,
		PaymentMethod: req.PaymentMethod,
		PremiumPct:    req.PremiumPct,
		ExpiresAt:     time.Now().Unix() + e.cfg.expirationSeconds(),
	}
	if err := e.store.CreateOrder(o); err != nil {
		return nil, err
	}
	if err := e.store.SetMakerPubkey(o.ID, o.Kind, req.CreatorPubkey, req.MasterPubkey); err != nil {
		return nil, err
	}
	if req.Kind == message.KindBuy && req.BuyerInvoice != "" {
		if err := e.store.SetBuyerInvoice(o.ID, req.BuyerInvoice); err != nil {
			return nil, err
		}
		o.BuyerInvoice = req.BuyerInvoice
	}

	rep, _ := e.reputation.Get(req.CreatorPubkey)
	if err := e.book.PublishOrder(ctx, o, rep); err != nil {
		e.log.Error("publish new order", "order", o.ID, "err", err)
	}
	return o, nil
}

// TakeSell handles a buyer taking a sell order: the taker supplies (or
// defers) their payout invoice, and a hold invoice for amount+seller_fee is
// created and sent to the maker (the seller) to pay.
func (e *Engine) TakeSell(ctx context.Context, orderID, buyerPubkey string, masterBuyerPubkey []byte, fiatAmount *decimal.Decimal, buyerInvoice string) (*store.OrderRecord, error) {
	var result *store.OrderRecord
	err := e.withOrderLock(orderID, func() error {
		o, err := e.store.GetOrder(orderID)
		if err != nil {
			return err
		}
		if o == nil {
			e.replyCantDo(buyerPubkey, orderID, mostroerr.ErrOrderNotFound)
			return mostroerr.ErrOrderNotFound
		}
		if o.Status != message.StatusPending {
			e.replyCantDo(buyerPubkey, orderID, mostroerr.ErrNotAllowedByStatus)
			return mostroerr.ErrNotAllowedByStatus
		}
		if o.Kind != message.KindSell {
			e.replyCantDo(buyerPubkey, orderID, mostroerr.ErrNotAllowedByStatus)
			return mostroerr.ErrNotAllowedByStatus
		}

		fa, err := e.resolveFiatAmount(o, fiatAmount)
		if err != nil {
			e.replyCantDo(buyerPubkey, orderID, err)
			return err
		}

		sats, err := e.quoteSats(ctx, o, fa)
		if err != nil {
			e.replyCantDo(buyerPubkey, orderID, err)
			return err
		}

		_, _, buyerFee := feeSplit(sats, e.cfg.FeePct)

		if buyerInvoice != "" {
			if err := e.validatePayoutInvoice(buyerInvoice, sats-buyerFee); err != nil {
				e.replyCantDo(buyerPubkey, orderID, err)
				return err
			}
		}

		if err := e.store.TakeOrder(orderID, o.Kind, buyerPubkey, masterBuyerPubkey, message.StatusWaitingBuyerInv); err != nil {
			return err
		}
		if err := e.store.SetAmount(orderID, sats); err != nil {
			return err
		}
		if o.MinAmount > 0 && o.MaxAmount > 0 {
			if err := e.store.SetFiatAmount(orderID, fa.InexactFloat64()); err != nil {
				return err
			}
		}

		if buyerInvoice == "" {
			// Buyer deferred their payout invoice: wait for add-invoice
			// before a hold invoice is ever created, rather than putting the
			// seller on the hook to pay one before the buyer is ready.
			e.emitReply(buyerPubkey, &message.Message{Action: message.ActionWaitingBuyerInv, Amount: sats - buyerFee})

			o, err = e.store.GetOrder(orderID)
			if err != nil {
				return err
			}
			rep, _ := e.reputation.Get(o.CreatorPubkey)
			_ = e.book.PublishOrder(ctx, o, rep)
			result = o
			return nil
		}

		if err := e.store.SetBuyerInvoice(orderID, buyerInvoice); err != nil {
			return err
		}
		o, err = e.store.GetOrder(orderID)
		if err != nil {
			return err
		}
		updated, err := e.createHoldInvoiceAndNotify(ctx, o)
		if err != nil {
			return err
		}
		result = updated
		return nil
	})
	return result, err
}

// createHoldInvoiceAndNotify creates the seller's hold invoice for an order
// whose Amount and BuyerPubkey are already set, advances it to
// waiting-payment, and notifies both parties.
func (e *Engine) createHoldInvoiceAndNotify(ctx context.Context, o *store.OrderRecord) (*store.OrderRecord, error) {
	_, sellerFee, buyerFee := feeSplit(o.Amount, e.cfg.FeePct)

	inv, err := e.createHoldInvoice(o.ID, o.Amount+sellerFee, fmt.Sprintf("mostro order %s", o.ID))
	if err != nil {
		return nil, err
	}
	if err := e.store.UpdateOrderStatus(o.ID, message.StatusWaitingBuyerInv, message.StatusWaitingPayment); err != nil {
		return nil, err
	}

	e.emitReply(o.SellerPubkey, &message.Message{
		Action: message.ActionPayInvoice,
		PaymentRequest: &message.PaymentRequest{
			OrderID: o.ID,
			Invoice: inv.PaymentRequest,
			Amount:  o.Amount + sellerFee,
		},
	})
	e.emitReply(o.BuyerPubkey, &message.Message{Action: message.ActionWaitingSellerPg, Amount: o.Amount - buyerFee})

	updated, err := e.store.GetOrder(o.ID)
	if err != nil {
		return nil, err
	}
	rep, _ := e.reputation.Get(updated.CreatorPubkey)
	_ = e.book.PublishOrder(ctx, updated, rep)
	return updated, nil
}

// TakeBuy handles a seller taking a buy order: the taker (seller) receives
// a hold invoice to pay immediately, since the maker already supplied their
// payout invoice at order creation.
func (e *Engine) TakeBuy(ctx context.Context, orderID, sellerPubkey string, masterSellerPubkey []byte, fiatAmount *decimal.Decimal) (*store.OrderRecord, error) {
	var result *store.OrderRecord
	err := e.withOrderLock(orderID, func() error {
		o, err := e.store.GetOrder(orderID)
		if err != nil {
			return err
		}
		if o == nil {
			e.replyCantDo(sellerPubkey, orderID, mostroerr.ErrOrderNotFound)
			return mostroerr.ErrOrderNotFound
		}
		if o.Status != message.StatusPending {
			e.replyCantDo(sellerPubkey, orderID, mostroerr.ErrNotAllowedByStatus)
			return mostroerr.ErrNotAllowedByStatus
		}
		if o.Kind != message.KindBuy {
			e.replyCantDo(sellerPubkey, orderID, mostroerr.ErrNotAllowedByStatus)
			return mostroerr.ErrNotAllowedByStatus
		}

		fa, err := e.resolveFiatAmount(o, fiatAmount)
		if err != nil {
			e.replyCantDo(sellerPubkey, orderID, err)
			return err
		}
		sats, err := e.quoteSats(ctx, o, fa)
		if err != nil {
			e.replyCantDo(sellerPubkey, orderID, err)
			return err
		}
		_, sellerFee, buyerFee := feeSplit(sats, e.cfg.FeePct)

		if err := e.store.TakeOrder(orderID, o.Kind, sellerPubkey, masterSellerPubkey, message.StatusWaitingPayment); err != nil {
			return err
		}
		if err := e.store.SetAmount(orderID, sats); err != nil {
			return err
		}
		if o.MinAmount > 0 && o.MaxAmount > 0 {
			if err := e.store.SetFiatAmount(orderID, fa.InexactFloat64()); err != nil {
				return err
			}
		}

		inv, err := e.createHoldInvoice(orderID, sats+sellerFee, fmt.Sprintf("mostro order %s", orderID))
		if err != nil {
			return err
		}

		e.emitReply(sellerPubkey, &message.Message{
			Action: message.ActionPayInvoice,
			PaymentRequest: &message.PaymentRequest{
				OrderID: orderID,
				Invoice: inv.PaymentRequest,
				Amount:  sats + sellerFee,
			},
		})
		e.emitReply(o.BuyerPubkey, &message.Message{Action: message.ActionWaitingSellerPg, Amount: sats - buyerFee})

		o, err = e.store.GetOrder(orderID)
		if err != nil {
			return err
		}
		rep, _ := e.reputation.Get(o.CreatorPubkey)
		_ = e.book.PublishOrder(ctx, o, rep)
		result = o
		return nil
	})
	return result, err
}

// AddInvoice accepts the buyer's payout invoice, valid only while the
// order awaits one or is replacing a failed payout.
func (e *Engine) AddInvoice(ctx context.Context, orderID, buyerPubkey, invoice string) (*store.OrderRecord, error) {
	var result *store.OrderRecord
	err := e.withOrderLock(orderID, func() error {
		o, err := e.store.GetOrder(orderID)
		if err != nil {
			return err
		}
		if o == nil {
			e.replyCantDo(buyerPubkey, orderID, mostroerr.ErrOrderNotFound)
			return mostroerr.ErrOrderNotFound
		}
		if o.BuyerPubkey != buyerPubkey {
			e.replyCantDo(buyerPubkey, orderID, mostroerr.ErrIsNotYourOrder)
			return mostroerr.ErrIsNotYourOrder
		}
		switch o.Status {
		case message.StatusWaitingBuyerInv, message.StatusWaitingPayment,
			message.StatusSettled, message.StatusSettledByAdmin:
		default:
			e.replyCantDo(buyerPubkey, orderID, mostroerr.ErrNotAllowedByStatus)
			return mostroerr.ErrNotAllowedByStatus
		}

		_, _, buyerFee := feeSplit(o.Amount, e.cfg.FeePct)
		if err := e.validatePayoutInvoice(invoice, o.Amount-buyerFee); err != nil {
			e.replyCantDo(buyerPubkey, orderID, err)
			return err
		}

		if err := e.store.SetBuyerInvoice(orderID, invoice); err != nil {
			return err
		}
		o, err = e.store.GetOrder(orderID)
		if err != nil {
			return err
		}

		switch {
		case o.Status == message.StatusSettled, o.Status == message.StatusSettledByAdmin:
			// Replacing a failed payout invoice: retry immediately.
			result = o
			return e.payoutLocked(o)

		case o.Preimage == "":
			// Buyer had deferred their invoice at take time, so no hold
			// invoice exists yet: create it now, mirroring the eager path.
			updated, err := e.createHoldInvoiceAndNotify(ctx, o)
			if err != nil {
				return err
			}
			result = updated
			return nil

		case o.InvoiceHeldAt > 0:
			// The seller already paid the hold invoice; the buyer's invoice
			// was the last missing piece, so the trade goes active now.
			if err := e.store.UpdateOrderStatus(orderID, o.Status, message.StatusActive); err != nil {
				return err
			}
			e.emitReply(o.SellerPubkey, &message.Message{Action: message.ActionHoldInvoicePaid, Order: &message.Order{ID: orderID, Status: message.StatusActive}})
			e.emitReply(buyerPubkey, &message.Message{Action: message.ActionHoldInvoicePaid, Order: &message.Order{ID: orderID, Status: message.StatusActive}})
			e.republish(orderID)

			o, err = e.store.GetOrder(orderID)
			result = o
			return err

		default:
			// Hold invoice exists but the seller hasn't paid it yet; the new
			// invoice is stored and the accepted-notification will advance
			// the order once the seller pays.
			e.emitReply(buyerPubkey, &message.Message{Action: message.ActionWaitingSellerPg, Amount: o.Amount - buyerFee})
			result = o
			return nil
		}
	})
	return result, err
}

// validatePayoutInvoice decodes a buyer-supplied invoice and, when the
// invoice carries a fixed amount, requires it to equal the agreed payout
// (amount minus buyer fee). Amountless invoices are accepted; the payout
// names the amount at pay time.
func (e *Engine) validatePayoutInvoice(invoice string, expectedSats int64) error {
	node, err := e.lightningNode()
	if err != nil {
		return err
	}
	amt, _, err := node.DecodeInvoice(invoice)
	if err != nil {
		return fmt.Errorf("%w: %v", mostroerr.ErrInvoiceInvalid, err)
	}
	if amt > 0 && amt != expectedSats {
		return fmt.Errorf("%w: invoice %d sats, agreed %d", mostroerr.ErrIncorrectInvoiceAmount, amt, expectedSats)
	}
	return nil
}

// resolveFiatAmount validates a take request's fiat amount against a range
// order's [min,max], or returns the order's fixed amount otherwise.
func (e *Engine) resolveFiatAmount(o *store.OrderRecord, requested *decimal.Decimal) (decimal.Decimal, error) {
	if o.MinAmount > 0 && o.MaxAmount > 0 {
		if requested == nil {
			return decimal.Zero, mostroerr.ErrOutOfRangeFiatAmt
		}
		min := decimal.NewFromFloat(o.MinAmount)
		max := decimal.NewFromFloat(o.MaxAmount)
		if requested.LessThan(min) || requested.GreaterThan(max) {
			return decimal.Zero, mostroerr.ErrOutOfRangeFiatAmt
		}
		return *requested, nil
	}
	return decimal.NewFromFloat(o.FiatAmount), nil
}

// quoteSats resolves the trade's satoshi amount: the order's fixed amount,
// or a fresh market quote via the price oracle (C6) applying its premium.
func (e *Engine) quoteSats(ctx context.Context, o *store.OrderRecord, fiatAmount decimal.Decimal) (int64, error) {
	if !o.PriceFromAPI && o.Amount > 0 {
		return o.Amount, nil
	}
	sats, err := e.price.GetMarketQuote(ctx, o.FiatCode, fiatAmount, decimal.NewFromFloat(o.PremiumPct))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", mostroerr.ErrInvalidAmount, err)
	}
	return sats, nil
}
