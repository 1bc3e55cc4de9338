package marketdata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lucidarc/copytrader/internal/errkind"
)

func testClient(t *testing.T, dataHandler, clobHandler http.HandlerFunc) *RestClient {
	t.Helper()
	dataSrv := httptest.NewServer(dataHandler)
	t.Cleanup(dataSrv.Close)
	clobSrv := httptest.NewServer(clobHandler)
	t.Cleanup(clobSrv.Close)
	return New(zap.NewNop(), dataSrv.URL, clobSrv.URL)
}

func TestGetTradesFiltersUnknownSide(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"proxyWallet": "0xabc", "side": "BUY", "conditionId": "m1", "size": "10", "price": "0.5", "timestamp": 1700000000, "transactionHash": "0xhash"},
			{"proxyWallet": "0xabc", "side": "GARBLED", "conditionId": "m1", "size": "10", "price": "0.5", "timestamp": 1700000001},
		})
	}, nil)

	trades, err := c.GetTrades(context.Background(), "0xabc", 10, nil)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "0xhash_1700000000", trades[0].ID)
}

func TestGetLeaderboardPermanentErrorOn4xx(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}, nil)

	_, err := c.GetLeaderboard(context.Background(), "OVERALL", "MONTH", "PNL", 10, 0)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.PermanentExternal))
}

func TestGetBestBidEmptyBookReturnsNil(t *testing.T) {
	c := testClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(OrderBook{Bids: nil, Asks: nil})
	})

	bid, err := c.GetBestBid(context.Background(), "tok1")
	require.NoError(t, err)
	assert.Nil(t, bid)
}
