package lightning

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/invoicesrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	macaroon "gopkg.in/macaroon.v2"
)

// LNDConfig points at a single lnd node's gRPC endpoint and credentials.
type LNDConfig struct {
	Name         string
	Host         string // host:port
	TLSCertPath  string
	MacaroonPath string
}

// LND is a Node backed by a real lnd instance's gRPC API: AddHoldInvoice /
// SubscribeSingleInvoice / SettleInvoice / CancelInvoice from invoicesrpc,
// SendPaymentV2 from routerrpc, DecodePayReq from the core lnrpc.Lightning
// service.
type LND struct {
	cfg  LNDConfig
	conn *grpc.ClientConn
	ln   lnrpc.LightningClient
	inv  invoicesrpc.InvoicesClient
	rtr  routerrpc.RouterClient
	mac  string // hex-encoded macaroon, sent as a request header
}

// NewLND constructs an LND node adapter from cfg. Connect must be called
// before use.
func NewLND(cfg LNDConfig) *LND {
	return &LND{cfg: cfg}
}

func (n *LND) Name() string { return n.cfg.Name }

// Connect dials the node's gRPC endpoint using its TLS cert and loads the
// macaroon used to authenticate every call.
func (n *LND) Connect(ctx context.Context) error {
	creds, err := credentials.NewClientTLSFromFile(n.cfg.TLSCertPath, "")
	if err != nil {
		return fmt.Errorf("lnd: load tls cert: %w", err)
	}

	macBytes, err := os.ReadFile(n.cfg.MacaroonPath)
	if err != nil {
		return fmt.Errorf("lnd: read macaroon: %w", err)
	}
	var mac macaroon.Macaroon
	if err := mac.UnmarshalBinary(macBytes); err != nil {
		return fmt.Errorf("lnd: parse macaroon: %w", err)
	}
	n.mac = hex.EncodeToString(macBytes)

	conn, err := grpc.NewClient(n.cfg.Host, grpc.WithTransportCredentials(creds))
	if err != nil {
		return fmt.Errorf("lnd: dial %s: %w", n.cfg.Host, err)
	}
	n.conn = conn
	n.ln = lnrpc.NewLightningClient(conn)
	n.inv = invoicesrpc.NewInvoicesClient(conn)
	n.rtr = routerrpc.NewRouterClient(conn)
	return nil
}

func (n *LND) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Close()
}

func (n *LND) authCtx(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "macaroon", n.mac)
}

func (n *LND) CreateHoldInvoice(ctx context.Context, paymentHash []byte, amountSats int64, memo string, expiry time.Duration, cltvDelta int32) (*HoldInvoice, error) {
	resp, err := n.inv.AddHoldInvoice(n.authCtx(ctx), &invoicesrpc.AddHoldInvoiceRequest{
		Hash:       paymentHash,
		Value:      amountSats,
		Memo:       memo,
		Expiry:     int64(expiry.Seconds()),
		CltvExpiry: uint64(cltvDelta),
	})
	if err != nil {
		return nil, fmt.Errorf("lnd: add hold invoice: %w", err)
	}
	return &HoldInvoice{
		PaymentRequest: resp.PaymentRequest,
		PaymentHash:    paymentHash,
		AmountSats:     amountSats,
		ExpiresAt:      time.Now().Add(expiry),
		State:          InvoiceOpen,
	}, nil
}

func (n *LND) SubscribeInvoice(ctx context.Context, paymentHash []byte) (<-chan InvoiceUpdate, error) {
	stream, err := n.inv.SubscribeSingleInvoice(n.authCtx(ctx), &invoicesrpc.SubscribeSingleInvoiceRequest{
		RHash: paymentHash,
	})
	if err != nil {
		return nil, fmt.Errorf("lnd: subscribe invoice: %w", err)
	}

	out := make(chan InvoiceUpdate, 8)
	go func() {
		defer close(out)
		for {
			inv, err := stream.Recv()
			if err == io.EOF {
				return
			}
			if err != nil {
				return
			}
			state, ok := invoiceState(inv.State)
			if !ok {
				continue
			}
			select {
			case out <- InvoiceUpdate{PaymentHash: paymentHash, State: state}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func invoiceState(s lnrpc.Invoice_InvoiceState) (InvoiceState, bool) {
	switch s {
	case lnrpc.Invoice_OPEN:
		return InvoiceOpen, true
	case lnrpc.Invoice_ACCEPTED:
		return InvoiceAccepted, true
	case lnrpc.Invoice_SETTLED:
		return InvoiceSettled, true
	case lnrpc.Invoice_CANCELED:
		return InvoiceCanceled, true
	}
	return "", false
}

func (n *LND) SettleInvoice(ctx context.Context, preimage []byte) error {
	_, err := n.inv.SettleInvoice(n.authCtx(ctx), &invoicesrpc.SettleInvoiceMsg{Preimage: preimage})
	if err != nil {
		return fmt.Errorf("lnd: settle invoice: %w", err)
	}
	return nil
}

func (n *LND) CancelInvoice(ctx context.Context, paymentHash []byte) error {
	_, err := n.inv.CancelInvoice(n.authCtx(ctx), &invoicesrpc.CancelInvoiceMsg{PaymentHash: paymentHash})
	if err != nil {
		return fmt.Errorf("lnd: cancel invoice: %w", err)
	}
	return nil
}

func (n *LND) PayInvoice(ctx context.Context, bolt11 string, maxFeeSats int64) ([]byte, error) {
	stream, err := n.rtr.SendPaymentV2(n.authCtx(ctx), &routerrpc.SendPaymentRequest{
		PaymentRequest: bolt11,
		FeeLimitSat:    maxFeeSats,
		TimeoutSeconds: 60,
	})
	if err != nil {
		return nil, fmt.Errorf("lnd: send payment: %w", err)
	}
	for {
		update, err := stream.Recv()
		if err != nil {
			return nil, fmt.Errorf("lnd: payment stream: %w", err)
		}
		switch update.Status {
		case lnrpc.Payment_SUCCEEDED:
			preimage, err := hex.DecodeString(update.PaymentPreimage)
			if err != nil {
				return nil, fmt.Errorf("lnd: decode preimage: %w", err)
			}
			return preimage, nil
		case lnrpc.Payment_FAILED:
			return nil, fmt.Errorf("lnd: payment failed: %s", update.FailureReason)
		}
	}
}

func (n *LND) DecodeInvoice(bolt11 string) (int64, []byte, error) {
	resp, err := n.ln.DecodePayReq(context.Background(), &lnrpc.PayReqString{PayReq: bolt11})
	if err != nil {
		return 0, nil, fmt.Errorf("lnd: decode pay req: %w", err)
	}
	hash, err := hex.DecodeString(resp.PaymentHash)
	if err != nil {
		return 0, nil, fmt.Errorf("lnd: decode payment hash: %w", err)
	}
	return resp.NumSatoshis, hash, nil
}
