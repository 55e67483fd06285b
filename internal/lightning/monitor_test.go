package lightning

import (
	"context"
	"testing"
	"time"

	"github.com/mostro-exchange/mostrod/pkg/logging"
)

type subscribingNode struct {
	fakeNode
	updates chan InvoiceUpdate
	subErr  error
}

func (n *subscribingNode) SubscribeInvoice(ctx context.Context, paymentHash []byte) (<-chan InvoiceUpdate, error) {
	if n.subErr != nil {
		return nil, n.subErr
	}
	return n.updates, nil
}

func TestMonitorForwardsUpdatesAndStopsOnSettle(t *testing.T) {
	n := &subscribingNode{fakeNode: fakeNode{name: "lnd-1"}, updates: make(chan InvoiceUpdate, 2)}
	m := NewMonitor(n, logging.Default())

	hash := []byte("payment-hash-1")
	if err := m.StartMonitoring(context.Background(), hash); err != nil {
		t.Fatalf("StartMonitoring() error = %v", err)
	}

	n.updates <- InvoiceUpdate{PaymentHash: hash, State: InvoiceAccepted}
	select {
	case u := <-m.Events():
		if u.State != InvoiceAccepted {
			t.Errorf("State = %s, want accepted", u.State)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the accepted update")
	}

	n.updates <- InvoiceUpdate{PaymentHash: hash, State: InvoiceSettled}
	select {
	case u := <-m.Events():
		if u.State != InvoiceSettled {
			t.Errorf("State = %s, want settled", u.State)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the settled update")
	}
}

func TestStartMonitoringTwiceIsNoOp(t *testing.T) {
	n := &subscribingNode{fakeNode: fakeNode{name: "lnd-1"}, updates: make(chan InvoiceUpdate, 2)}
	m := NewMonitor(n, logging.Default())

	hash := []byte("payment-hash-2")
	if err := m.StartMonitoring(context.Background(), hash); err != nil {
		t.Fatalf("StartMonitoring() error = %v", err)
	}
	if err := m.StartMonitoring(context.Background(), hash); err != nil {
		t.Fatalf("second StartMonitoring() error = %v", err)
	}

	m.mu.Lock()
	n2 := len(m.cancel)
	m.mu.Unlock()
	if n2 != 1 {
		t.Errorf("len(m.cancel) = %d, want 1 for a single monitored hash", n2)
	}
}

func TestStopCancelsAllSubscriptions(t *testing.T) {
	n := &subscribingNode{fakeNode: fakeNode{name: "lnd-1"}, updates: make(chan InvoiceUpdate, 2)}
	m := NewMonitor(n, logging.Default())

	if err := m.StartMonitoring(context.Background(), []byte("hash-a")); err != nil {
		t.Fatalf("StartMonitoring() error = %v", err)
	}
	if err := m.StartMonitoring(context.Background(), []byte("hash-b")); err != nil {
		t.Fatalf("StartMonitoring() error = %v", err)
	}

	m.Stop()

	m.mu.Lock()
	remaining := len(m.cancel)
	m.mu.Unlock()
	if remaining != 0 {
		t.Errorf("len(m.cancel) after Stop() = %d, want 0", remaining)
	}
}
