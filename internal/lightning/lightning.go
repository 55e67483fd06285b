// Package lightning adapts a hold-invoice capable Lightning node to the
// trade FSM: a small Node interface the rest of the daemon programs
// against, plus a Registry of named instances and a concrete lnd
// implementation that talks to an lnd node over its gRPC API.
package lightning

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InvoiceState mirrors lnd's invoice states relevant to a hold invoice's
// lifecycle.
type InvoiceState string

const (
	InvoiceOpen      InvoiceState = "open"
	InvoiceAccepted  InvoiceState = "accepted"
	InvoiceSettled   InvoiceState = "settled"
	InvoiceCanceled  InvoiceState = "canceled"
)

// HoldInvoice is a hold invoice created against a payment hash whose
// preimage is supplied later, once the trade's counterparties agree funds
// should release.
type HoldInvoice struct {
	PaymentRequest string
	PaymentHash    []byte
	AmountSats     int64
	ExpiresAt      time.Time
	State          InvoiceState
}

// InvoiceUpdate is delivered on the channel returned by SubscribeInvoice
// whenever a held invoice's state changes.
type InvoiceUpdate struct {
	PaymentHash []byte
	State       InvoiceState
}

// Node is the set of operations the trade FSM needs from a Lightning node.
// Mirrors the shape of backend.Backend: a small, test-doubleable surface
// instead of a concrete client type threaded everywhere.
type Node interface {
	Name() string
	Connect(ctx context.Context) error
	Close() error

	// CreateHoldInvoice issues an invoice for amountSats that accepts
	// payment but withholds settlement until SettleInvoice is called with
	// the matching preimage. cltvDelta is the minimum final-hop CLTV the
	// accepted HTLC must carry, bounding how long funds can stay held.
	CreateHoldInvoice(ctx context.Context, paymentHash []byte, amountSats int64, memo string, expiry time.Duration, cltvDelta int32) (*HoldInvoice, error)

	// SubscribeInvoice streams state transitions for a single invoice,
	// identified by its payment hash, until ctx is canceled.
	SubscribeInvoice(ctx context.Context, paymentHash []byte) (<-chan InvoiceUpdate, error)

	// SettleInvoice reveals preimage, releasing the held funds to payee.
	SettleInvoice(ctx context.Context, preimage []byte) error

	// CancelInvoice cancels a held invoice, refunding the payer.
	CancelInvoice(ctx context.Context, paymentHash []byte) error

	// PayInvoice pays bolt11, used for the buyer's payout after a release
	// or an admin-settle. Returns the revealed preimage.
	PayInvoice(ctx context.Context, bolt11 string, maxFeeSats int64) ([]byte, error)

	// DecodeInvoice parses bolt11 without paying it, used to validate a
	// buyer-supplied invoice's amount before accepting it.
	DecodeInvoice(bolt11 string) (amountSats int64, paymentHash []byte, err error)
}

// Registry holds the configured Lightning nodes, keyed by name, mirroring
// backend.Registry's Register/Get/ConnectAll/CloseAll shape.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]Node
}

// NewRegistry creates an empty node registry.
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[string]Node)}
}

// Register adds node under its own Name().
func (r *Registry) Register(n Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[n.Name()] = n
}

// Get returns the node registered under name.
func (r *Registry) Get(name string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[name]
	return n, ok
}

// ConnectAll connects every registered node, stopping at the first error.
func (r *Registry) ConnectAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, n := range r.nodes {
		if err := n.Connect(ctx); err != nil {
			return fmt.Errorf("lightning: connect %s: %w", name, err)
		}
	}
	return nil
}

// CloseAll closes every registered node, collecting but not stopping on
// individual errors.
func (r *Registry) CloseAll() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var firstErr error
	for name, n := range r.nodes {
		if err := n.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("lightning: close %s: %w", name, err)
		}
	}
	return firstErr
}
