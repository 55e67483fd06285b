// Package orderbook publishes Mostro's replaceable "events": one live
// order-book entry per non-terminal order, plus dispute-board, rating, and
// daemon-info variants, one pubsub.Topic publish per state change. It
// keeps a re-publish-on-demand cache since libp2p pubsub, unlike a Nostr
// relay, has no native "keep only the latest event per d-tag" semantics.
package orderbook

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mostro-exchange/mostrod/internal/keys"
	"github.com/mostro-exchange/mostrod/internal/reputation"
	"github.com/mostro-exchange/mostrod/internal/store"
)

// Topic names, one replaceable "kind" per object type, mirroring the z-tag
// values a real Nostr kind=38383 event would carry.
const (
	TopicOrderBook   = "mostro/orderbook/v1"
	TopicDisputeBoard = "mostro/disputeboard/v1"
	TopicRating      = "mostro/rating/v1"
	TopicDaemonInfo  = "mostro/daemoninfo/v1"
)

// Publisher is the set of operations needed from the transport: publish a
// JSON-encoded event body on topic, and nothing else. internal/node's
// Node.Publish (dispatch.go) implements this.
type Publisher interface {
	Publish(ctx context.Context, topic string, body []byte) error
}

// Event is the replaceable-event envelope: a signed, tagged object keyed by
// (author, z, d) the way a Nostr kind=38383 event is keyed by (pubkey, kind,
// d-tag). Content is always empty; every machine-readable field lives in
// Tags, matching the wire protocol's convention.
type Event struct {
	ID        string            `json:"id"`
	Author    string            `json:"pubkey"`
	CreatedAt int64             `json:"created_at"`
	Tags      map[string]string `json:"tags"`
	Sig       string            `json:"sig"`
}

// Book publishes and caches replaceable events for orders, disputes,
// ratings, and daemon info.
type Book struct {
	identity *keys.PrivateKey
	store    *store.Store
	pub      Publisher

	mu       sync.Mutex
	lastSeen map[string]*Event // d-tag -> last published event, per topic namespace
}

// New builds a Book that signs events with identity and delivers them
// through pub.
func New(identity *keys.PrivateKey, st *store.Store, pub Publisher) *Book {
	return &Book{
		identity: identity,
		store:    st,
		pub:      pub,
		lastSeen: make(map[string]*Event),
	}
}

func (b *Book) sign(tags map[string]string) (*Event, error) {
	ev := &Event{
		Author:    b.identity.Public().Hex(),
		CreatedAt: time.Now().Unix(),
		Tags:      tags,
	}
	digest, err := json.Marshal(struct {
		Author    string            `json:"pubkey"`
		CreatedAt int64             `json:"created_at"`
		Tags      map[string]string `json:"tags"`
	}{ev.Author, ev.CreatedAt, ev.Tags})
	if err != nil {
		return nil, fmt.Errorf("orderbook: marshal event: %w", err)
	}
	sig, err := b.identity.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("orderbook: sign event: %w", err)
	}
	ev.Sig = fmt.Sprintf("%x", sig)
	ev.ID = fmt.Sprintf("%x", digest)
	return ev, nil
}

// PublishOrder builds and publishes the replaceable order-book event for o,
// caching it under o.ID so a later sync request can republish without
// rebuilding the tag set.
func (b *Book) PublishOrder(ctx context.Context, o *store.OrderRecord, rep *reputation.Snapshot) error {
	tags := map[string]string{
		"d":          o.ID,
		"k":          string(o.Kind),
		"f":          o.FiatCode,
		"s":          string(o.Status),
		"amt":        fmt.Sprintf("%d", o.Amount),
		"fa":         fiatAmountTag(o),
		"pm":         o.PaymentMethod,
		"premium":    fmt.Sprintf("%g", o.PremiumPct),
		"rating":     ratingTag(rep),
		"network":    "mainnet",
		"layer":      "lightning",
		"expiration": fmt.Sprintf("%d", o.ExpiresAt+12*3600),
		"y":          "mostro",
		"z":          "order",
	}
	ev, err := b.sign(tags)
	if err != nil {
		return err
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("orderbook: marshal order event: %w", err)
	}
	if err := b.pub.Publish(ctx, TopicOrderBook, body); err != nil {
		return fmt.Errorf("orderbook: publish order event: %w", err)
	}

	b.mu.Lock()
	b.lastSeen["order:"+o.ID] = ev
	b.mu.Unlock()

	return b.store.SetEventID(o.ID, ev.ID)
}

func fiatAmountTag(o *store.OrderRecord) string {
	if o.MinAmount > 0 && o.MaxAmount > 0 {
		return fmt.Sprintf("[%g,%g]", o.MinAmount, o.MaxAmount)
	}
	return fmt.Sprintf("%g", o.FiatAmount)
}

func ratingTag(rep *reputation.Snapshot) string {
	if rep == nil || rep.TotalReviews == 0 {
		return "none"
	}
	ratingFloat, _ := rep.Rating.Float64()
	b, _ := json.Marshal(struct {
		TotalReviews int     `json:"total_reviews"`
		Rating       float64 `json:"rating"`
		MinRating    int     `json:"min_rating"`
		MaxRating    int     `json:"max_rating"`
	}{rep.TotalReviews, ratingFloat, rep.MinRating, rep.MaxRating})
	return string(b)
}

// PublishDispute publishes the replaceable dispute-board event for d.
func (b *Book) PublishDispute(ctx context.Context, d *store.DisputeRecord) error {
	tags := map[string]string{
		"d":      d.ID,
		"order":  d.OrderID,
		"s":      d.Status,
		"solver": d.SolverPubkey,
		"y":      "mostro",
		"z":      "dispute",
	}
	ev, err := b.sign(tags)
	if err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("orderbook: marshal dispute event: %w", err)
	}
	if err := b.pub.Publish(ctx, TopicDisputeBoard, body); err != nil {
		return fmt.Errorf("orderbook: publish dispute event: %w", err)
	}
	b.mu.Lock()
	b.lastSeen["dispute:"+d.ID] = ev
	b.mu.Unlock()
	return nil
}

// PublishRating publishes the replaceable rating event for pubkey, d-tagged
// by the rated identity's own key so a later rating replaces the last one
// rather than accumulating.
func (b *Book) PublishRating(ctx context.Context, pubkey string, rep *reputation.Snapshot) error {
	tags := map[string]string{
		"d":             pubkey,
		"total_reviews": fmt.Sprintf("%d", rep.TotalReviews),
		"rating":        rep.Rating.String(),
		"min_rating":    fmt.Sprintf("%d", rep.MinRating),
		"max_rating":    fmt.Sprintf("%d", rep.MaxRating),
		"y":             "mostro",
		"z":             "rating",
	}
	ev, err := b.sign(tags)
	if err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("orderbook: marshal rating event: %w", err)
	}
	if err := b.pub.Publish(ctx, TopicRating, body); err != nil {
		return fmt.Errorf("orderbook: publish rating event: %w", err)
	}
	b.mu.Lock()
	b.lastSeen["rating:"+pubkey] = ev
	b.mu.Unlock()
	return nil
}

// DaemonInfo is the set of operating parameters advertised in the
// daemon-info event.
type DaemonInfo struct {
	Version                string
	CommitID               string
	MaxOrderAmount          int64
	MinOrderAmount          int64
	ExpirationHours         int
	ExpirationSeconds       int64
	Fee                     float64
	Pow                     int
	HoldInvoiceExpiration   int64
	HoldInvoiceCLTVDelta    int32
	InvoiceExpirationWindow int64
}

// PublishDaemonInfo publishes the replaceable daemon-info event.
func (b *Book) PublishDaemonInfo(ctx context.Context, info *DaemonInfo) error {
	tags := map[string]string{
		"d":                         b.identity.Public().Hex(),
		"mostro_pubkey":             b.identity.Public().Hex(),
		"mostro_version":            info.Version,
		"mostro_commit_id":          info.CommitID,
		"max_order_amount":          fmt.Sprintf("%d", info.MaxOrderAmount),
		"min_order_amount":          fmt.Sprintf("%d", info.MinOrderAmount),
		"expiration_hours":          fmt.Sprintf("%d", info.ExpirationHours),
		"expiration_seconds":        fmt.Sprintf("%d", info.ExpirationSeconds),
		"fee":                       fmt.Sprintf("%g", info.Fee),
		"pow":                       fmt.Sprintf("%d", info.Pow),
		"hold_invoice_expiration_window": fmt.Sprintf("%d", info.HoldInvoiceExpiration),
		"hold_invoice_cltv_delta":   fmt.Sprintf("%d", info.HoldInvoiceCLTVDelta),
		"invoice_expiration_window": fmt.Sprintf("%d", info.InvoiceExpirationWindow),
		"y":                         "mostrop2p",
		"z":                         "info",
	}
	ev, err := b.sign(tags)
	if err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("orderbook: marshal daemon-info event: %w", err)
	}
	return b.pub.Publish(ctx, TopicDaemonInfo, body)
}

// ResyncOrders republishes the order-book event for every active order,
// grounded on ordersync.SyncRequest{Since,Limit}'s pull-replication shape:
// a peer rejoining the network asks for a full resend rather than a relay
// keeping history, so the publisher just re-runs PublishOrder for each.
func (b *Book) ResyncOrders(ctx context.Context, reps map[string]*reputation.Snapshot) error {
	orders, err := b.store.ListActiveOrders()
	if err != nil {
		return fmt.Errorf("orderbook: resync: list active orders: %w", err)
	}
	for _, o := range orders {
		if err := b.PublishOrder(ctx, o, reps[o.CreatorPubkey]); err != nil {
			return fmt.Errorf("orderbook: resync order %s: %w", o.ID, err)
		}
	}
	return nil
}
