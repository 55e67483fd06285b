// Package rpc provides a small JSON-RPC 2.0 server for local operator
// introspection: node status, the live order book, open disputes, and a
// manual hold-invoice resubscribe. It carries no trading authority; every
// trade-affecting operation goes through the gift-wrap protocol.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/mostro-exchange/mostrod/internal/node"
	"github.com/mostro-exchange/mostrod/internal/store"
	"github.com/mostro-exchange/mostrod/internal/trade"
	"github.com/mostro-exchange/mostrod/pkg/logging"
)

// Server is a JSON-RPC 2.0 server.
type Server struct {
	node   *node.Node
	store  *store.Store
	engine *trade.Engine
	log    *logging.Logger

	server   *http.Server
	listener net.Listener

	handlers map[string]Handler
}

// Handler is a JSON-RPC method handler.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Standard error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// NewServer creates a new JSON-RPC server.
func NewServer(n *node.Node, st *store.Store, eng *trade.Engine) *Server {
	s := &Server{
		node:     n,
		store:    st,
		engine:   eng,
		log:      logging.GetDefault().Component("rpc"),
		handlers: make(map[string]Handler),
	}
	s.registerHandlers()
	return s
}

func (s *Server) registerHandlers() {
	s.handlers["node_info"] = s.nodeInfo
	s.handlers["orders_list"] = s.ordersList
	s.handlers["orders_get"] = s.ordersGet
	s.handlers["disputes_list"] = s.disputesList
	s.handlers["invoices_resubscribe"] = s.invoicesResubscribe
}

// Start starts the RPC server.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("POST /", s.handleRPC)
	mux.HandleFunc("POST /{$}", s.handleRPC)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("RPC server error", "error", err)
		}
	}()

	s.log.Info("RPC server started", "addr", addr)
	return nil
}

// Stop stops the RPC server.
func (s *Server) Stop() error {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, &Response{JSONRPC: "2.0", Error: &Error{Code: ParseError, Message: "parse error"}})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeResponse(w, &Response{JSONRPC: "2.0", ID: req.ID, Error: &Error{Code: InvalidRequest, Message: "invalid request"}})
		return
	}

	handler, ok := s.handlers[req.Method]
	if !ok {
		writeResponse(w, &Response{JSONRPC: "2.0", ID: req.ID, Error: &Error{Code: MethodNotFound, Message: "method not found: " + req.Method}})
		return
	}

	result, err := handler(r.Context(), req.Params)
	if err != nil {
		writeResponse(w, &Response{JSONRPC: "2.0", ID: req.ID, Error: &Error{Code: InternalError, Message: err.Error()}})
		return
	}
	writeResponse(w, &Response{JSONRPC: "2.0", ID: req.ID, Result: result})
}

func writeResponse(w http.ResponseWriter, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
