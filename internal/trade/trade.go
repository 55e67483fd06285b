// Package trade implements the order lifecycle state machine: taking an
// order, moving fiat and Lightning funds through it, cooperative and
// admin-arbitrated cancellation, and post-trade rating. Engine holds the
// store and its external dependencies, fans outbound replies out through a
// registered handler slice, and each operation method validates state,
// persists the change, then replies.
package trade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mostro-exchange/mostrod/internal/lightning"
	"github.com/mostro-exchange/mostrod/internal/message"
	"github.com/mostro-exchange/mostrod/internal/orderbook"
	"github.com/mostro-exchange/mostrod/internal/price"
	"github.com/mostro-exchange/mostrod/internal/reputation"
	"github.com/mostro-exchange/mostrod/internal/store"
	"github.com/mostro-exchange/mostrod/pkg/logging"
)

// Reply is one outbound protocol message addressed to a single counterparty
// pubkey, the unit the node package gift-wraps and hands to the durable
// outbox for delivery.
type Reply struct {
	To  string
	Msg *message.Message
}

// ReplyHandler receives every Reply the engine emits. internal/node's
// dispatcher registers one handler that enqueues onto its outbound queues;
// tests register one that collects replies for assertions.
type ReplyHandler func(Reply)

// Config holds the daemon's trade-policy parameters, the "mostro" section
// of the configuration surface.
type Config struct {
	FeePct                  float64 // e.g. 0.02 for 2%
	DevFeePct               float64 // fraction of the total fee, not of the trade amount
	MaxRoutingFeePct        float64 // routing fee cap for payments > 100 sats
	MaxOrderAmount          int64
	MinPaymentAmount        int64
	ExpirationHours         int
	ExpirationSeconds       int64
	MaxExpirationDays       int
	PaymentAttempts         int
	PaymentRetriesInterval  time.Duration
	HoldInvoiceCLTVDelta    int32
	HoldInvoiceExpiration   time.Duration
	InvoiceExpirationWindow time.Duration
	LightningNode           string          // registry key of the active Node
	AdminPubkeys            map[string]bool // identities authorized for admin-add-solver
}

func (c *Config) expirationSeconds() int64 {
	if c.ExpirationSeconds > 0 {
		return c.ExpirationSeconds
	}
	if c.ExpirationHours > 0 {
		return int64(c.ExpirationHours) * 3600
	}
	return 24 * 3600
}

// Engine is the trade FSM: one instance per daemon, shared across every
// order it ever handles.
type Engine struct {
	store      *store.Store
	lnRegistry *lightning.Registry
	price      *price.Quoter
	book       *orderbook.Book
	reputation *reputation.Engine
	cfg        *Config
	log        *logging.Logger

	mu            sync.RWMutex
	replyHandlers []ReplyHandler

	locks  sync.Map // order id -> *sync.Mutex, serializes per-order handling
	paying sync.Map // order id -> in-flight payout marker

	monitorOnce sync.Once
	monitor     *lightning.Monitor

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a trade Engine. cfg.LightningNode must name a Node already
// registered in lnRegistry.
func New(st *store.Store, lnRegistry *lightning.Registry, quoter *price.Quoter, book *orderbook.Book, rep *reputation.Engine, cfg *Config) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:      st,
		lnRegistry: lnRegistry,
		price:      quoter,
		book:       book,
		reputation: rep,
		cfg:        cfg,
		log:        logging.GetDefault().Component("trade"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// OnReply registers a handler invoked for every outbound reply the engine
// produces.
func (e *Engine) OnReply(h ReplyHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.replyHandlers = append(e.replyHandlers, h)
}

// emitReply fans a reply out to every registered handler. Handlers run in
// their own goroutine so a slow subscriber (e.g. a blocked publish) never
// stalls the FSM.
func (e *Engine) emitReply(to string, msg *message.Message) {
	e.mu.RLock()
	handlers := make([]ReplyHandler, len(e.replyHandlers))
	copy(handlers, e.replyHandlers)
	e.mu.RUnlock()

	r := Reply{To: to, Msg: msg}
	for _, h := range handlers {
		go h(r)
	}
}

func (e *Engine) cantDo(to, orderID string, reason message.CantDoReason) {
	e.emitReply(to, &message.Message{
		Action: message.ActionCantDo,
		CantDo: &message.CantDo{OrderID: orderID, Reason: reason},
	})
}

// withOrderLock serializes every handler touching orderID, satisfying the
// concurrency model's requirement that a single order's FSM never executes
// two writers at once.
func (e *Engine) withOrderLock(orderID string, fn func() error) error {
	lockIface, _ := e.locks.LoadOrStore(orderID, &sync.Mutex{})
	lock := lockIface.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// republish refreshes the replaceable order-book event after a status
// change, so the book never advertises a stale status. Publish failures are
// logged and swallowed: the persisted state stays authoritative.
func (e *Engine) republish(orderID string) {
	o, err := e.store.GetOrder(orderID)
	if err != nil || o == nil {
		return
	}
	rep, _ := e.reputation.Get(o.CreatorPubkey)
	if err := e.book.PublishOrder(e.ctx, o, rep); err != nil {
		e.log.Warn("republish order event", "order", orderID, "err", err)
	}
}

// isAdmin reports whether pubkey is in the configured admin set. The
// daemon's own identity key is expected to be seeded into AdminPubkeys by
// the caller at startup, per the resolved admin-authorization policy.
func (e *Engine) isAdmin(pubkey string) bool {
	return e.cfg.AdminPubkeys[pubkey]
}

// IsAdminOrSolver reports whether pubkey may exercise one of the
// admin-gated actions: a configured admin, or an identity already granted
// solver status. Exposed for the dispatcher's coarse message.Verify gate;
// the individual admin methods re-check their own, narrower authorization
// rule regardless of what this reports.
func (e *Engine) IsAdminOrSolver(pubkey string) bool {
	return e.callerIsSolverOrAdmin(pubkey)
}

// lightningNode resolves the configured Lightning node from the registry.
func (e *Engine) lightningNode() (lightning.Node, error) {
	name := e.cfg.LightningNode
	if name == "" {
		name = "lnd"
	}
	n, ok := e.lnRegistry.Get(name)
	if !ok {
		return nil, fmt.Errorf("trade: no lightning node registered as %q", name)
	}
	return n, nil
}

// ResyncOrderBook republishes the replaceable event for every active order,
// run periodically so peers joining the gossip mesh late still see the full
// book.
func (e *Engine) ResyncOrderBook(ctx context.Context) error {
	orders, err := e.store.ListActiveOrders()
	if err != nil {
		return fmt.Errorf("trade: resync order book: %w", err)
	}
	reps := make(map[string]*reputation.Snapshot)
	for _, o := range orders {
		if _, ok := reps[o.CreatorPubkey]; !ok {
			s, _ := e.reputation.Get(o.CreatorPubkey)
			reps[o.CreatorPubkey] = s
		}
	}
	return e.book.ResyncOrders(ctx, reps)
}

// ExpireOrders moves pending orders past their deadline to expired,
// notifies each maker, and refreshes the book entry so relays stop
// advertising them.
func (e *Engine) ExpireOrders() error {
	ids, err := e.store.ExpireStaleOrders(time.Now().Unix())
	if err != nil {
		return err
	}
	for _, id := range ids {
		o, err := e.store.GetOrder(id)
		if err != nil || o == nil {
			continue
		}
		e.emitReply(o.CreatorPubkey, &message.Message{Action: message.ActionOrderExpired, Order: &message.Order{ID: id, Status: message.StatusExpired}})
		e.republish(id)
	}
	return nil
}

// Close stops background work owned by the engine (hold-invoice watchers).
func (e *Engine) Close() {
	e.cancel()
	if e.monitor != nil {
		e.monitor.Stop()
	}
}

// ResubscribeHeldInvoices re-establishes a SubscribeInvoice watcher for
// every order left in a non-terminal, invoice-bearing status, per the
// concurrency model's restart requirement.
func (e *Engine) ResubscribeHeldInvoices() error {
	orders, err := e.store.ListActiveOrders()
	if err != nil {
		return fmt.Errorf("trade: resubscribe: list active orders: %w", err)
	}
	for _, o := range orders {
		if o.PaymentHash == "" {
			continue
		}
		switch o.Status {
		case message.StatusWaitingPayment, message.StatusWaitingBuyerInv,
			message.StatusActive, message.StatusFiatSent, message.StatusDispute,
			message.StatusSettled, message.StatusSettledByAdmin:
			e.watchHoldInvoice(o.ID, o.PaymentHash)
		}
	}
	return nil
}
