package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lucidarc/copytrader/pkg/types"
)

func TestMarketOrderBuySubmitsAboveBestAsk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/book":
			_ = json.NewEncoder(w).Encode(orderBookDTO{
				Bids: []orderBookLevel{{Price: "0.48", Size: "100"}},
				Asks: []orderBookLevel{{Price: "0.50", Size: "100"}},
			})
		case "/order":
			var body createOrderRequest
			_ = json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "BUY", body.Side)
			_ = json.NewEncoder(w).Encode(orderResponseDTO{OrderID: "ord-1", Success: true, Status: "matched"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(zap.NewNop(), srv.URL, NewNullSigner("0xabc"))
	result, err := c.MarketOrder(context.Background(), "tok1", types.Buy, decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.Equal(t, "ord-1", result.OrderID)
	assert.True(t, result.FilledPrice.GreaterThan(decimal.NewFromFloat(0.50)))
}

func TestMarketOrderPermanentErrorNotRetried(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/book":
			_ = json.NewEncoder(w).Encode(orderBookDTO{Asks: []orderBookLevel{{Price: "0.5", Size: "10"}}})
		case "/order":
			attempts++
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	c := New(zap.NewNop(), srv.URL, NewNullSigner("0xabc"))
	_, err := c.MarketOrder(context.Background(), "tok1", types.Buy, decimal.NewFromInt(10))
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "a 4xx must not be retried")
}
