package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lucidarc/copytrader/internal/errkind"
	"github.com/lucidarc/copytrader/pkg/types"
)

const (
	defaultCLOBURL = "https://clob.polymarket.com"
	requestTimeout = 30 * time.Second

	// marketOrderSlippage matches clob_client.rs's market_order: 0.5%
	// tolerance added to the best opposite-side price before FOK submission.
	marketOrderSlippage = "0.005"

	retryAttempts = 3
	retryDelay    = time.Second
)

type orderBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type orderBookDTO struct {
	Bids []orderBookLevel `json:"bids"`
	Asks []orderBookLevel `json:"asks"`
}

type createOrderRequest struct {
	TokenID     string `json:"token_id"`
	Price       string `json:"price"`
	Size        string `json:"size"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	FeeRateBps  string `json:"fee_rate_bps"`
	Nonce       string `json:"nonce"`
	Expiration  string `json:"expiration"`
	Taker       string `json:"taker"`
	Maker       string `json:"maker"`
	SigType     int    `json:"signature_type"`
	Signature   string `json:"signature"`
}

type orderResponseDTO struct {
	OrderID         string `json:"orderId"`
	Success         bool   `json:"success"`
	ErrorMsg        string `json:"errorMsg"`
	Status          string `json:"status"`
	TransactionHash string `json:"transactionHash"`
}

type orderStatusDTO struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	Side            string `json:"side"`
	TokenID         string `json:"tokenId"`
	OriginalSize    string `json:"originalSize"`
	SizeMatched     string `json:"sizeMatched"`
	Price           string `json:"price"`
	TransactionHash string `json:"transactionHash"`
}

// CLOBClient is the concrete Client backed by resty, signing write requests
// through an OrderSigner (per spec §1's documented out-of-scope L1 typed
// data signing; this handles only the L2 API-key auth layer).
type CLOBClient struct {
	logger *zap.Logger
	http   *resty.Client
	signer OrderSigner
}

// New builds a CLOBClient. clobURL empty falls back to the production CLOB.
func New(logger *zap.Logger, clobURL string, signer OrderSigner) *CLOBClient {
	if clobURL == "" {
		clobURL = defaultCLOBURL
	}
	return &CLOBClient{
		logger: logger.Named("exchange"),
		http:   resty.New().SetBaseURL(clobURL).SetTimeout(requestTimeout),
		signer: signer,
	}
}

func (c *CLOBClient) l2Headers(method, path, body string) (map[string]string, error) {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := c.signer.Sign(ts, method, path, body)
	if err != nil {
		return nil, fmt.Errorf("sign l2 request: %w", err)
	}
	return map[string]string{
		"POLY_ADDRESS":    c.signer.Address(),
		"POLY_SIGNATURE":  sig,
		"POLY_TIMESTAMP":  ts,
		"POLY_API_KEY":    c.signer.APIKey(),
		"POLY_PASSPHRASE": c.signer.Passphrase(),
	}, nil
}

func (c *CLOBClient) classify(op string, resp *resty.Response, err error) error {
	if err != nil {
		return errkind.New(errkind.TransientExternal, op, err)
	}
	if resp.IsError() {
		return errkind.FromHTTPStatus(op, resp.StatusCode(), fmt.Errorf("%s", resp.String()))
	}
	return nil
}

func (c *CLOBClient) bestOppositePrice(ctx context.Context, token string, side types.Side) (decimal.Decimal, error) {
	const op = "exchange.bestOppositePrice"
	var book orderBookDTO
	resp, err := c.http.R().SetContext(ctx).SetResult(&book).
		SetQueryParam("token_id", token).
		Get("/book")
	if cerr := c.classify(op, resp, err); cerr != nil {
		return decimal.Zero, cerr
	}
	if side == types.Buy {
		if len(book.Asks) == 0 {
			return decimal.Zero, errkind.New(errkind.TransientExternal, op, fmt.Errorf("no asks available"))
		}
		p, perr := decimal.NewFromString(book.Asks[0].Price)
		return p, perr
	}
	if len(book.Bids) == 0 {
		return decimal.Zero, errkind.New(errkind.TransientExternal, op, fmt.Errorf("no bids available"))
	}
	return decimal.NewFromString(book.Bids[0].Price)
}

// MarketOrder mirrors ClobClient::market_order: fetch the best opposite-side
// price, widen it by a slippage tolerance, submit a fill-or-kill order,
// retrying transient failures up to retryAttempts times with exponential
// backoff: the delay starts at retryDelay and doubles after each failed
// attempt (teacher's internal/execution/executor.go pattern).
func (c *CLOBClient) MarketOrder(ctx context.Context, token string, side types.Side, size decimal.Decimal) (OrderResult, error) {
	const op = "exchange.MarketOrder"

	best, err := c.bestOppositePrice(ctx, token, side)
	if err != nil {
		return OrderResult{}, err
	}
	slip, _ := decimal.NewFromString(marketOrderSlippage)
	price := best.Mul(decimal.NewFromInt(1).Add(slip))
	if side == types.Sell {
		price = best.Mul(decimal.NewFromInt(1).Sub(slip))
	}

	sideStr := "BUY"
	if side == types.Sell {
		sideStr = "SELL"
	}

	body := createOrderRequest{
		TokenID:    token,
		Price:      price.String(),
		Size:       size.String(),
		Side:       sideStr,
		Type:       "FOK",
		FeeRateBps: "0",
		Nonce:      uuid.NewString(),
		Expiration: strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10),
		Taker:      "0x0000000000000000000000000000000000000000",
		Maker:      c.signer.Address(),
		SigType:    0,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return OrderResult{}, errkind.New(errkind.InvariantViolation, op, err)
	}
	headers, err := c.l2Headers("POST", "/order", string(raw))
	if err != nil {
		return OrderResult{}, errkind.New(errkind.ConfigError, op, err)
	}

	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		var out orderResponseDTO
		resp, reqErr := c.http.R().SetContext(ctx).
			SetHeaders(headers).
			SetBody(body).
			SetResult(&out).
			Post("/order")
		if cerr := c.classify(op, resp, reqErr); cerr != nil {
			lastErr = cerr
			if errkind.Is(cerr, errkind.PermanentExternal) {
				return OrderResult{}, cerr
			}
			c.logger.Warn("market order submission failed, retrying",
				zap.Int("attempt", attempt+1), zap.Error(cerr))
			time.Sleep(retryDelay << attempt)
			continue
		}
		return OrderResult{
			OrderID:         out.OrderID,
			Success:         out.Success,
			ErrorMessage:    out.ErrorMsg,
			Status:          out.Status,
			TransactionHash: out.TransactionHash,
			FilledSize:      size,
			FilledPrice:     price,
		}, nil
	}
	return OrderResult{}, errkind.New(errkind.TransientExternal, op, fmt.Errorf("order submission failed after %d attempts: %w", retryAttempts, lastErr))
}

// CancelOrder mirrors ClobClient::cancel_order.
func (c *CLOBClient) CancelOrder(ctx context.Context, orderID string) error {
	const op = "exchange.CancelOrder"
	headers, err := c.l2Headers("DELETE", "/order/"+orderID, "")
	if err != nil {
		return errkind.New(errkind.ConfigError, op, err)
	}
	resp, reqErr := c.http.R().SetContext(ctx).SetHeaders(headers).Delete("/order/" + orderID)
	return c.classify(op, resp, reqErr)
}

// GetOrder mirrors ClobClient::get_order.
func (c *CLOBClient) GetOrder(ctx context.Context, orderID string) (OrderResult, error) {
	const op = "exchange.GetOrder"
	headers, err := c.l2Headers("GET", "/order/"+orderID, "")
	if err != nil {
		return OrderResult{}, errkind.New(errkind.ConfigError, op, err)
	}
	var out orderStatusDTO
	resp, reqErr := c.http.R().SetContext(ctx).SetHeaders(headers).SetResult(&out).Get("/order/" + orderID)
	if cerr := c.classify(op, resp, reqErr); cerr != nil {
		return OrderResult{}, cerr
	}
	filled, _ := decimal.NewFromString(out.SizeMatched)
	price, _ := decimal.NewFromString(out.Price)
	return OrderResult{
		OrderID:         out.ID,
		Success:         out.Status != "",
		Status:          out.Status,
		TransactionHash: out.TransactionHash,
		FilledSize:      filled,
		FilledPrice:     price,
	}, nil
}

var _ Client = (*CLOBClient)(nil)
