// Package exchange implements the order-execution contract (C10):
// market_order/cancel_order/get_order against the exchange's CLOB, plus the
// L2 request signer those write calls require.
//
// Grounded on original_source/src/api/clob_client.rs (ClobClient):
// market_order (best-price discovery + slippage tolerance + FOK submission),
// get_order, cancel_order. Rebuilt around go-resty/resty/v2, classified
// through internal/errkind, and retried with the bounded backoff pattern of
// internal/execution/executor.go (teacher).
package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/lucidarc/copytrader/pkg/types"
)

// OrderResult is the outcome of a submitted or queried order.
type OrderResult struct {
	OrderID         string
	Success         bool
	ErrorMessage    string
	Status          string
	TransactionHash string
	FilledSize      decimal.Decimal
	FilledPrice     decimal.Decimal
}

// Client is the order-execution contract the live orchestrator (C6)
// submits orders through; the paper (C7) and backtest (C8) engines do not
// use it.
type Client interface {
	MarketOrder(ctx context.Context, token string, side types.Side, size decimal.Decimal) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (OrderResult, error)
}

// OrderSigner produces the L2 authentication headers a write request must
// carry. Real production signing (EIP-712 order signature over the
// exchange's CTF Exchange domain) is out of scope per spec §1 — this is the
// documented seam a production deployment plugs a real signer into.
type OrderSigner interface {
	// Sign returns the POLY_SIGNATURE header value for an L2 request with
	// the given timestamp, HTTP method, request path, and body.
	Sign(timestamp, method, path, body string) (string, error)
	APIKey() string
	Passphrase() string
	Address() string
}
