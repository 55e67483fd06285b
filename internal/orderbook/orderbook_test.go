package orderbook

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"

	"github.com/mostro-exchange/mostrod/internal/keys"
	"github.com/mostro-exchange/mostrod/internal/message"
	"github.com/mostro-exchange/mostrod/internal/reputation"
	"github.com/mostro-exchange/mostrod/internal/store"
)

type fakePublisher struct {
	mu    sync.Mutex
	bodies map[string][][]byte
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{bodies: make(map[string][][]byte)}
}

func (f *fakePublisher) Publish(ctx context.Context, topic string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[topic] = append(f.bodies[topic], body)
	return nil
}

func (f *fakePublisher) last(topic string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	bodies := f.bodies[topic]
	if len(bodies) == 0 {
		return nil
	}
	return bodies[len(bodies)-1]
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "mostrod-orderbook-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	st, err := store.New(&store.Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestPublishOrderPublishesAndCachesEventID(t *testing.T) {
	st := newTestStore(t)
	identity, err := keys.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	pub := newFakePublisher()
	book := New(identity, st, pub)

	o := &store.OrderRecord{
		ID:            "order-1",
		Kind:          message.KindSell,
		Status:        message.StatusPending,
		CreatorPubkey: "creator",
		FiatCode:      "USD",
		FiatAmount:    100,
		PaymentMethod: "face to face",
	}
	if err := st.CreateOrder(o); err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}

	if err := book.PublishOrder(context.Background(), o, nil); err != nil {
		t.Fatalf("PublishOrder() error = %v", err)
	}

	body := pub.last(TopicOrderBook)
	if body == nil {
		t.Fatal("expected a published order-book event")
	}
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		t.Fatalf("failed to decode published event: %v", err)
	}
	if ev.Tags["d"] != "order-1" || ev.Tags["k"] != "sell" {
		t.Errorf("tags = %+v, want d=order-1 k=sell", ev.Tags)
	}
	if ev.Sig == "" || ev.ID == "" {
		t.Error("expected the event to be signed and assigned an id")
	}

	got, err := st.GetOrder("order-1")
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if got.EventID != ev.ID {
		t.Errorf("stored EventID = %s, want %s", got.EventID, ev.ID)
	}
}

func TestPublishOrderRatingTagReflectsSnapshot(t *testing.T) {
	st := newTestStore(t)
	identity, _ := keys.Generate()
	pub := newFakePublisher()
	book := New(identity, st, pub)

	o := &store.OrderRecord{
		ID:            "order-2",
		Kind:          message.KindBuy,
		Status:        message.StatusPending,
		CreatorPubkey: "creator",
		FiatCode:      "EUR",
		FiatAmount:    50,
		PaymentMethod: "bank transfer",
	}
	if err := st.CreateOrder(o); err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}

	if err := book.PublishOrder(context.Background(), o, nil); err != nil {
		t.Fatalf("PublishOrder() with nil reputation error = %v", err)
	}
	var noRep Event
	json.Unmarshal(pub.last(TopicOrderBook), &noRep)
	if noRep.Tags["rating"] != "none" {
		t.Errorf("rating tag = %s, want none for nil reputation", noRep.Tags["rating"])
	}

	rep := reputation.New(st)
	snap, err := rep.Rate("creator", 5)
	if err != nil {
		t.Fatalf("Rate() error = %v", err)
	}
	if err := book.PublishOrder(context.Background(), o, snap); err != nil {
		t.Fatalf("PublishOrder() with reputation error = %v", err)
	}
	var withRep Event
	json.Unmarshal(pub.last(TopicOrderBook), &withRep)
	if withRep.Tags["rating"] == "none" {
		t.Error("expected a non-none rating tag once the creator has a reputation snapshot")
	}
}

func TestPublishDisputeAndRating(t *testing.T) {
	st := newTestStore(t)
	identity, _ := keys.Generate()
	pub := newFakePublisher()
	book := New(identity, st, pub)

	d := &store.DisputeRecord{ID: "dispute-1", OrderID: "order-3", Status: store.DisputeInitiated}
	if err := book.PublishDispute(context.Background(), d); err != nil {
		t.Fatalf("PublishDispute() error = %v", err)
	}
	var dEv Event
	json.Unmarshal(pub.last(TopicDisputeBoard), &dEv)
	if dEv.Tags["order"] != "order-3" {
		t.Errorf("dispute order tag = %s, want order-3", dEv.Tags["order"])
	}

	snap := &reputation.Snapshot{TotalReviews: 2, MinRating: 4, MaxRating: 5}
	if err := book.PublishRating(context.Background(), "peer-pub", snap); err != nil {
		t.Fatalf("PublishRating() error = %v", err)
	}
	var rEv Event
	json.Unmarshal(pub.last(TopicRating), &rEv)
	if rEv.Tags["d"] != "peer-pub" {
		t.Errorf("rating d-tag = %s, want peer-pub", rEv.Tags["d"])
	}
}

func TestPublishDaemonInfo(t *testing.T) {
	st := newTestStore(t)
	identity, _ := keys.Generate()
	pub := newFakePublisher()
	book := New(identity, st, pub)

	info := &DaemonInfo{Version: "1.0.0", MaxOrderAmount: 1000000, MinOrderAmount: 1000, Fee: 0.02}
	if err := book.PublishDaemonInfo(context.Background(), info); err != nil {
		t.Fatalf("PublishDaemonInfo() error = %v", err)
	}
	var ev Event
	json.Unmarshal(pub.last(TopicDaemonInfo), &ev)
	if ev.Tags["mostro_version"] != "1.0.0" {
		t.Errorf("mostro_version tag = %s, want 1.0.0", ev.Tags["mostro_version"])
	}
}

func TestResyncOrdersRepublishesActiveOnly(t *testing.T) {
	st := newTestStore(t)
	identity, _ := keys.Generate()
	pub := newFakePublisher()
	book := New(identity, st, pub)

	active := &store.OrderRecord{ID: "active-1", Kind: message.KindSell, Status: message.StatusPending,
		CreatorPubkey: "creator", FiatCode: "USD", FiatAmount: 10, PaymentMethod: "cash"}
	done := &store.OrderRecord{ID: "done-1", Kind: message.KindSell, Status: message.StatusPending,
		CreatorPubkey: "creator", FiatCode: "USD", FiatAmount: 10, PaymentMethod: "cash"}
	if err := st.CreateOrder(active); err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}
	if err := st.CreateOrder(done); err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}
	if err := st.UpdateOrderStatus("done-1", message.StatusPending, message.StatusSuccess); err != nil {
		t.Fatalf("UpdateOrderStatus() error = %v", err)
	}

	if err := book.ResyncOrders(context.Background(), nil); err != nil {
		t.Fatalf("ResyncOrders() error = %v", err)
	}

	published := pub.bodies[TopicOrderBook]
	if len(published) != 1 {
		t.Fatalf("len(published order events) = %d, want 1 (only the active order)", len(published))
	}
	var ev Event
	json.Unmarshal(published[0], &ev)
	if ev.Tags["d"] != "active-1" {
		t.Errorf("republished order d-tag = %s, want active-1", ev.Tags["d"])
	}
}
