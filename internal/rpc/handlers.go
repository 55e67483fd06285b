package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mostro-exchange/mostrod/internal/store"
)

// NodeInfoResult is the response for node_info.
type NodeInfoResult struct {
	PeerID       string   `json:"peer_id"`
	MostroPubkey string   `json:"mostro_pubkey"`
	Addrs        []string `json:"addrs"`
	Peers        int      `json:"peers"`
	Uptime       string   `json:"uptime"`
}

func (s *Server) nodeInfo(ctx context.Context, params json.RawMessage) (interface{}, error) {
	addrs := make([]string, 0)
	for _, addr := range s.node.Addrs() {
		addrs = append(addrs, addr.String()+"/p2p/"+s.node.ID().String())
	}
	return &NodeInfoResult{
		PeerID:       s.node.ID().String(),
		MostroPubkey: s.node.Identity().Hex(),
		Addrs:        addrs,
		Peers:        s.node.PeerCount(),
		Uptime:       s.node.Uptime().Round(time.Second).String(),
	}, nil
}

// OrderSummary is one order in an orders_list / orders_get response. It
// exposes only what the operator can already read off the public order-book
// event; party pubkeys and invoices stay out of the RPC surface.
type OrderSummary struct {
	ID            string  `json:"id"`
	Kind          string  `json:"kind"`
	Status        string  `json:"status"`
	Amount        int64   `json:"amount"`
	FiatCode      string  `json:"fiat_code"`
	FiatAmount    float64 `json:"fiat_amount"`
	MinAmount     float64 `json:"min_amount,omitempty"`
	MaxAmount     float64 `json:"max_amount,omitempty"`
	PaymentMethod string  `json:"payment_method"`
	PremiumPct    float64 `json:"premium"`
	CreatedAt     int64   `json:"created_at"`
	ExpiresAt     int64   `json:"expires_at"`
}

func orderSummary(o *store.OrderRecord) *OrderSummary {
	return &OrderSummary{
		ID:            o.ID,
		Kind:          string(o.Kind),
		Status:        string(o.Status),
		Amount:        o.Amount,
		FiatCode:      o.FiatCode,
		FiatAmount:    o.FiatAmount,
		MinAmount:     o.MinAmount,
		MaxAmount:     o.MaxAmount,
		PaymentMethod: o.PaymentMethod,
		PremiumPct:    o.PremiumPct,
		CreatedAt:     o.CreatedAt,
		ExpiresAt:     o.ExpiresAt,
	}
}

func (s *Server) ordersList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	orders, err := s.store.ListActiveOrders()
	if err != nil {
		return nil, err
	}
	out := make([]*OrderSummary, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderSummary(o))
	}
	return out, nil
}

func (s *Server) ordersGet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.ID == "" {
		return nil, fmt.Errorf("orders_get requires an id parameter")
	}
	o, err := s.store.GetOrder(p.ID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, fmt.Errorf("order %s not found", p.ID)
	}
	return orderSummary(o), nil
}

// DisputeSummary is one dispute in a disputes_list response.
type DisputeSummary struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	Solver    string `json:"solver,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

func (s *Server) disputesList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	disputes, err := s.store.ListOpenDisputes()
	if err != nil {
		return nil, err
	}
	out := make([]*DisputeSummary, 0, len(disputes))
	for _, d := range disputes {
		out = append(out, &DisputeSummary{
			ID:        d.ID,
			OrderID:   d.OrderID,
			Status:    d.Status,
			Solver:    d.SolverPubkey,
			CreatedAt: d.CreatedAt,
		})
	}
	return out, nil
}

func (s *Server) invoicesResubscribe(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if err := s.engine.ResubscribeHeldInvoices(); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}
