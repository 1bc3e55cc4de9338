package marketdata

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lucidarc/copytrader/internal/errkind"
	"github.com/lucidarc/copytrader/pkg/types"
)

const (
	defaultBaseURL = "https://data-api.polymarket.com"
	defaultClobURL = "https://clob.polymarket.com"
	requestTimeout = 30 * time.Second
)

// RestClient is the concrete Client backed by resty.
type RestClient struct {
	logger  *zap.Logger
	http    *resty.Client
	clobURL string
}

// New builds a RestClient against the production data API and CLOB book
// endpoints. baseURL/clobURL empty strings fall back to the production
// hosts; tests override both to point at an httptest server.
func New(logger *zap.Logger, baseURL, clobURL string) *RestClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if clobURL == "" {
		clobURL = defaultClobURL
	}
	return &RestClient{
		logger: logger.Named("marketdata"),
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(requestTimeout),
		clobURL: clobURL,
	}
}

func (c *RestClient) classify(op string, resp *resty.Response, err error) error {
	if err != nil {
		return errkind.New(errkind.TransientExternal, op, err)
	}
	if resp.IsError() {
		return errkind.FromHTTPStatus(op, resp.StatusCode(), fmt.Errorf("%s", resp.String()))
	}
	return nil
}

// GetLeaderboard fetches /v1/leaderboard, per original_source's
// DataClient::get_leaderboard (limit capped at 50 upstream).
func (c *RestClient) GetLeaderboard(ctx context.Context, category, period, orderBy string, limit, offset int) ([]LeaderboardEntry, error) {
	const op = "marketdata.GetLeaderboard"
	if limit > 50 {
		limit = 50
	}
	var out []LeaderboardEntry
	req := c.http.R().SetContext(ctx).SetResult(&out)
	if category != "" {
		req.SetQueryParam("category", category)
	}
	if period != "" {
		req.SetQueryParam("timePeriod", period)
	}
	if orderBy != "" {
		req.SetQueryParam("orderBy", orderBy)
	}
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		req.SetQueryParam("offset", strconv.Itoa(offset))
	}
	resp, err := req.Get("/v1/leaderboard")
	if cerr := c.classify(op, resp, err); cerr != nil {
		return nil, cerr
	}
	return out, nil
}

type positionDTO struct {
	ProxyWallet  string          `json:"proxyWallet"`
	ConditionID  string          `json:"conditionId"`
	Title        string          `json:"title"`
	Slug         string          `json:"slug"`
	Outcome      string          `json:"outcome"`
	OutcomeIndex int             `json:"outcomeIndex"`
	Size         decimal.Decimal `json:"size"`
	AvgPrice     decimal.Decimal `json:"avgPrice"`
	CurPrice     decimal.Decimal `json:"curPrice"`
	InitialValue decimal.Decimal `json:"initialValue"`
	CurrentValue decimal.Decimal `json:"currentValue"`
	CashPnL      decimal.Decimal `json:"cashPnl"`
	PercentPnL   decimal.Decimal `json:"percentPnl"`
}

// GetPositions fetches /positions, per DataClient::get_positions.
func (c *RestClient) GetPositions(ctx context.Context, wallet string, limit int) ([]types.Position, error) {
	const op = "marketdata.GetPositions"
	if limit > 500 {
		limit = 500
	}
	var raw []positionDTO
	req := c.http.R().SetContext(ctx).SetResult(&raw).SetQueryParam("user", wallet)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	resp, err := req.Get("/positions")
	if cerr := c.classify(op, resp, err); cerr != nil {
		return nil, cerr
	}
	out := make([]types.Position, 0, len(raw))
	for _, p := range raw {
		side := types.Buy
		if p.Size.IsNegative() {
			side = types.Sell
		}
		out = append(out, types.Position{
			MarketID:     p.ConditionID,
			Outcome:      p.Outcome,
			Side:         side,
			Size:         p.Size.Abs(),
			AverageEntry: p.AvgPrice,
			CurrentPrice: p.CurPrice,
			SourceTrader: wallet,
			RealizedPnL:  decimal.Zero,
		})
	}
	return out, nil
}

type tradeDTO struct {
	ProxyWallet     string          `json:"proxyWallet"`
	Side            string          `json:"side"`
	Asset           string          `json:"asset"`
	ConditionID     string          `json:"conditionId"`
	Size            decimal.Decimal `json:"size"`
	Price           decimal.Decimal `json:"price"`
	Timestamp       int64           `json:"timestamp"`
	Title           string          `json:"title"`
	Slug            string          `json:"slug"`
	Outcome         string          `json:"outcome"`
	OutcomeIndex    int             `json:"outcomeIndex"`
	TransactionHash string          `json:"transactionHash"`
	Pseudonym       string          `json:"pseudonym"`
	ProfileImage    string          `json:"profileImage"`
}

// GetTrades fetches /trades with takerOnly=true, per
// DataClient::get_trades.
func (c *RestClient) GetTrades(ctx context.Context, wallet string, limit int, market *string) ([]types.Trade, error) {
	const op = "marketdata.GetTrades"
	if limit > 500 {
		limit = 500
	}
	var raw []tradeDTO
	req := c.http.R().SetContext(ctx).SetResult(&raw).
		SetQueryParam("user", wallet).
		SetQueryParam("takerOnly", "true")
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	if market != nil {
		req.SetQueryParam("market", *market)
	}
	resp, err := req.Get("/trades")
	if cerr := c.classify(op, resp, err); cerr != nil {
		return nil, cerr
	}
	out := make([]types.Trade, 0, len(raw))
	for _, t := range raw {
		var side types.Side
		switch t.Side {
		case "BUY", "buy":
			side = types.Buy
		case "SELL", "sell":
			side = types.Sell
		default:
			c.logger.Warn("unknown trade side", zap.String("side", t.Side))
			continue
		}
		out = append(out, types.Trade{
			ID:            fmt.Sprintf("%s_%d", t.TransactionHash, t.Timestamp),
			TraderAddress: t.ProxyWallet,
			MarketID:      t.ConditionID,
			Outcome:       t.Outcome,
			Side:          side,
			Size:          t.Size,
			Price:         t.Price,
			Notional:      t.Size.Mul(t.Price),
			Timestamp:     time.Unix(t.Timestamp, 0).UTC(),
			TxHash:        t.TransactionHash,
			Fee:           decimal.Zero,
		})
	}
	return out, nil
}

// GetPortfolioValue fetches /value, per DataClient::get_portfolio_value.
func (c *RestClient) GetPortfolioValue(ctx context.Context, wallet string) (decimal.Decimal, error) {
	const op = "marketdata.GetPortfolioValue"
	var out struct {
		Value decimal.Decimal `json:"value"`
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).
		SetQueryParam("user", wallet).
		Get("/value")
	if cerr := c.classify(op, resp, err); cerr != nil {
		return decimal.Zero, cerr
	}
	return out.Value, nil
}

// GetActivity fetches /activity, per DataClient::get_activity.
func (c *RestClient) GetActivity(ctx context.Context, wallet string, kind *string, limit int) ([]ActivityRow, error) {
	const op = "marketdata.GetActivity"
	if limit > 500 {
		limit = 500
	}
	var out []ActivityRow
	req := c.http.R().SetContext(ctx).SetResult(&out).SetQueryParam("user", wallet)
	if kind != nil {
		req.SetQueryParam("type", *kind)
	}
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	resp, err := req.Get("/activity")
	if cerr := c.classify(op, resp, err); cerr != nil {
		return nil, cerr
	}
	return out, nil
}

// GetOrderBook fetches the CLOB's /book, per ClobClient::get_order_book.
func (c *RestClient) GetOrderBook(ctx context.Context, token string) (OrderBook, error) {
	const op = "marketdata.GetOrderBook"
	var out OrderBook
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).
		SetQueryParam("token_id", token).
		Get(c.clobURL + "/book")
	if cerr := c.classify(op, resp, err); cerr != nil {
		return OrderBook{}, cerr
	}
	return out, nil
}

// GetBestBid returns the order book's top bid, or nil when the book is empty.
func (c *RestClient) GetBestBid(ctx context.Context, token string) (*decimal.Decimal, error) {
	book, err := c.GetOrderBook(ctx, token)
	if err != nil {
		return nil, err
	}
	if len(book.Bids) == 0 {
		return nil, nil
	}
	return &book.Bids[0].Price, nil
}

// GetBestAsk returns the order book's top ask, or nil when the book is empty.
func (c *RestClient) GetBestAsk(ctx context.Context, token string) (*decimal.Decimal, error) {
	book, err := c.GetOrderBook(ctx, token)
	if err != nil {
		return nil, err
	}
	if len(book.Asks) == 0 {
		return nil, nil
	}
	return &book.Asks[0].Price, nil
}

var _ Client = (*RestClient)(nil)
