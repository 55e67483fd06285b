package lightning

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/mostro-exchange/mostrod/pkg/logging"
)

// Monitor tracks one subscription goroutine per in-flight hold invoice,
// fanning InvoiceUpdate events out to a single channel the FSM reads from:
// a per-payment-hash lnd invoice subscription with start/stop-per-key
// bookkeeping in a map[string]context.CancelFunc.
type Monitor struct {
	node   Node
	log    *logging.Logger
	mu     sync.Mutex
	cancel map[string]context.CancelFunc
	events chan InvoiceUpdate
}

// NewMonitor creates a Monitor reading invoice updates from node.
func NewMonitor(node Node, log *logging.Logger) *Monitor {
	return &Monitor{
		node:   node,
		log:    log.Component("lightning-monitor"),
		cancel: make(map[string]context.CancelFunc),
		events: make(chan InvoiceUpdate, 64),
	}
}

// Events returns the channel on which invoice state transitions are
// delivered.
func (m *Monitor) Events() <-chan InvoiceUpdate { return m.events }

// StartMonitoring begins watching paymentHash for state changes. Calling it
// twice for the same hash is a no-op.
func (m *Monitor) StartMonitoring(ctx context.Context, paymentHash []byte) error {
	key := hex.EncodeToString(paymentHash)

	m.mu.Lock()
	if _, exists := m.cancel[key]; exists {
		m.mu.Unlock()
		return nil
	}
	subCtx, cancel := context.WithCancel(ctx)
	m.cancel[key] = cancel
	m.mu.Unlock()

	updates, err := m.node.SubscribeInvoice(subCtx, paymentHash)
	if err != nil {
		cancel()
		m.mu.Lock()
		delete(m.cancel, key)
		m.mu.Unlock()
		return err
	}

	go m.pump(subCtx, key, updates)
	return nil
}

func (m *Monitor) pump(ctx context.Context, key string, updates <-chan InvoiceUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			select {
			case m.events <- u:
			case <-ctx.Done():
				return
			}
			if u.State == InvoiceSettled || u.State == InvoiceCanceled {
				m.StopMonitoring(key)
				return
			}
		}
	}
}

// StopMonitoring cancels the subscription for the given hex-encoded payment
// hash key, if any.
func (m *Monitor) StopMonitoring(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.cancel[key]; ok {
		cancel()
		delete(m.cancel, key)
	}
}

// Stop cancels every active subscription.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, cancel := range m.cancel {
		cancel()
		delete(m.cancel, key)
	}
}
