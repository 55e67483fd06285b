package trade

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/mostro-exchange/mostrod/internal/lightning"
	"github.com/mostro-exchange/mostrod/pkg/logging"
)

// newPreimage generates a fresh 32-byte preimage and its SHA-256 hash, per
// the Lightning adapter's create_hold_invoice contract.
func newPreimage() (preimage, hash []byte, err error) {
	preimage = make([]byte, 32)
	if _, err := rand.Read(preimage); err != nil {
		return nil, nil, fmt.Errorf("trade: generate preimage: %w", err)
	}
	sum := sha256.Sum256(preimage)
	return preimage, sum[:], nil
}

// createHoldInvoice issues a hold invoice of amountSats, persists its
// payment hash and preimage on order orderID, and starts a watcher for its
// state transitions.
func (e *Engine) createHoldInvoice(orderID string, amountSats int64, memo string) (*lightning.HoldInvoice, error) {
	node, err := e.lightningNode()
	if err != nil {
		return nil, err
	}
	preimage, hash, err := newPreimage()
	if err != nil {
		return nil, err
	}

	expiry := e.cfg.HoldInvoiceExpiration
	if expiry <= 0 {
		expiry = time.Hour
	}
	cltvDelta := e.cfg.HoldInvoiceCLTVDelta
	if cltvDelta <= 0 {
		cltvDelta = 144
	}
	inv, err := node.CreateHoldInvoice(e.ctx, hash, amountSats, memo, expiry, cltvDelta)
	if err != nil {
		return nil, fmt.Errorf("trade: create hold invoice: %w", err)
	}

	hashHex := hex.EncodeToString(hash)
	if err := e.store.SetHoldInvoice(orderID, hashHex); err != nil {
		return nil, err
	}
	if err := e.store.SetPreimage(orderID, hex.EncodeToString(preimage)); err != nil {
		return nil, err
	}
	// Sealed copy under the database key, so a preimage survives even if
	// the order row's plaintext column is ever scrubbed.
	if err := e.store.SealSecret(hashHex, orderID, preimage); err != nil {
		return nil, err
	}

	e.watchHoldInvoice(orderID, hashHex)
	return inv, nil
}

// watchHoldInvoice registers paymentHashHex with the engine's invoice
// monitor. The monitor guarantees at most one subscription per hash, so
// calling this again after a restart resubscription is a no-op.
func (e *Engine) watchHoldInvoice(orderID, paymentHashHex string) {
	hash, err := hex.DecodeString(paymentHashHex)
	if err != nil {
		e.log.Error("watch hold invoice: bad payment hash", "order", orderID, "err", err)
		return
	}
	mon, err := e.invoiceMonitor()
	if err != nil {
		e.log.Error("watch hold invoice: no lightning node", "order", orderID, "err", err)
		return
	}
	if err := mon.StartMonitoring(e.ctx, hash); err != nil {
		e.log.Error("watch hold invoice: subscribe failed", "order", orderID, "err", err)
	}
}

// invoiceMonitor lazily builds the engine's single lightning.Monitor and
// starts the event loop that resolves each update back to its order by
// payment hash.
func (e *Engine) invoiceMonitor() (*lightning.Monitor, error) {
	node, err := e.lightningNode()
	if err != nil {
		return nil, err
	}
	e.monitorOnce.Do(func() {
		e.monitor = lightning.NewMonitor(node, logging.GetDefault())
		go e.runInvoiceEvents(e.monitor.Events())
	})
	return e.monitor, nil
}

// runInvoiceEvents drives hold-invoice state transitions into the FSM. The
// subscription worker knows only the payment hash; the order is re-read
// from the store on every notification.
func (e *Engine) runInvoiceEvents(events <-chan lightning.InvoiceUpdate) {
	for {
		select {
		case <-e.ctx.Done():
			return
		case upd, ok := <-events:
			if !ok {
				return
			}
			o, err := e.store.FindOrderByHash(hex.EncodeToString(upd.PaymentHash))
			if err != nil || o == nil {
				continue
			}
			e.handleInvoiceUpdate(o.ID, upd)
		}
	}
}

func (e *Engine) handleInvoiceUpdate(orderID string, upd lightning.InvoiceUpdate) {
	_ = e.withOrderLock(orderID, func() error {
		o, err := e.store.GetOrder(orderID)
		if err != nil || o == nil {
			return err
		}
		switch upd.State {
		case lightning.InvoiceAccepted:
			e.onHoldInvoiceAccepted(o)
		case lightning.InvoiceSettled:
			e.onHoldInvoiceSettled(o)
		case lightning.InvoiceCanceled:
			e.log.Info("hold invoice canceled", "order", o.ID)
		}
		return nil
	})
}
