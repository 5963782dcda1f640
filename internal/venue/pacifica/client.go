package pacifica

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"dualdex-bot/internal/config"
	"dualdex-bot/internal/venue"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	venueName          = "pacifica"
	opCreateMarket     = "create_market_order"
	signatureExpiryMS  = 5_000
	defaultLotSize     = 0.01
	flatPositionLimit  = 1e-9
	userAgent          = "dualdex-bot/1.0"
	defaultHTTPTimeout = 30 * time.Second
)

// lotSizes are the venue's order size increments. Orders round to the
// nearest lot before submission.
var lotSizes = map[string]float64{
	"BTC":  0.00001,
	"ETH":  0.01,
	"SOL":  0.01,
	"BNB":  0.01,
	"HYPE": 1,
}

// Client talks to the Pacifica REST API, with oracle prices served from
// the websocket feed when one is attached.
type Client struct {
	baseURL  string
	http     *http.Client
	keypair  *Keypair
	slippage float64
	feed     *PriceFeed
	log      *zap.Logger
}

func New(cfg config.PacificaConfig, privateKey string, slippage float64, feed *PriceFeed, log *zap.Logger) (*Client, error) {
	keypair, err := KeypairFromBase58(privateKey)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &Client{
		baseURL:  cfg.BaseURL,
		http:     &http.Client{Timeout: timeout},
		keypair:  keypair,
		slippage: slippage,
		feed:     feed,
		log:      log,
	}, nil
}

func (c *Client) Name() string { return venueName }

func (c *Client) Account() string { return c.keypair.Account() }

// MarkPrice serves the oracle price from the websocket cache, falling
// back to the REST snapshot when the cache is cold or stale.
func (c *Client) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	if c.feed != nil {
		if price, ok := c.feed.Price(symbol); ok {
			return price, nil
		}
	}
	var out []struct {
		Symbol string      `json:"symbol"`
		Oracle json.Number `json:"oracle"`
	}
	if err := c.get(ctx, "/info/prices", nil, &out); err != nil {
		return 0, err
	}
	for _, item := range out {
		if item.Symbol != symbol {
			continue
		}
		price, err := strconv.ParseFloat(item.Oracle.String(), 64)
		if err != nil || price <= 0 {
			return 0, venue.Retryable(venueName, "mark price",
				fmt.Errorf("bad oracle price %q for %s", item.Oracle, symbol))
		}
		return price, nil
	}
	return 0, venue.Terminal(venueName, "mark price", fmt.Errorf("no price for %s", symbol))
}

func (c *Client) PlaceOrder(ctx context.Context, symbol string, side venue.Side, size, leverage float64) (venue.OrderResult, error) {
	_ = leverage // the venue applies the account's configured leverage
	amount := roundToLot(symbol, size)
	if amount <= 0 {
		return venue.OrderResult{}, venue.Terminal(venueName, "place order",
			fmt.Errorf("size %.8f rounds to zero lots", size))
	}
	clientOrderID := uuid.NewString()
	payload := map[string]any{
		"symbol":           symbol,
		"side":             sideString(side),
		"amount":           formatAmount(amount),
		"slippage_percent": formatAmount(c.slippage),
		"reduce_only":      false,
		"client_order_id":  clientOrderID,
	}
	if err := c.postSigned(ctx, "/orders/create_market", opCreateMarket, payload, nil); err != nil {
		return venue.OrderResult{}, err
	}
	return venue.OrderResult{OrderID: clientOrderID, FilledSize: amount}, nil
}

func (c *Client) Position(ctx context.Context, symbol string) (venue.Position, error) {
	var out []struct {
		Symbol     string      `json:"symbol"`
		Side       string      `json:"side"`
		Amount     json.Number `json:"amount"`
		EntryPrice json.Number `json:"entry_price"`
	}
	query := map[string]string{"account": c.keypair.Account()}
	if err := c.get(ctx, "/positions", query, &out); err != nil {
		return venue.Position{}, err
	}
	pos := venue.Position{Venue: venueName, Symbol: symbol}
	for _, item := range out {
		if item.Symbol != symbol {
			continue
		}
		size, err := strconv.ParseFloat(item.Amount.String(), 64)
		if err != nil {
			return venue.Position{}, venue.Terminal(venueName, "position",
				fmt.Errorf("unparseable position amount %q: %w", item.Amount, err))
		}
		if item.Side == "ask" {
			size = -size
		}
		entry, _ := strconv.ParseFloat(item.EntryPrice.String(), 64)
		pos.Size = size
		pos.EntryPrice = entry
		return pos, nil
	}
	return pos, nil
}

// ClosePosition submits a reduce-only market order in the opposite
// direction for the full reported size.
func (c *Client) ClosePosition(ctx context.Context, symbol string) error {
	pos, err := c.Position(ctx, symbol)
	if err != nil {
		return err
	}
	if math.Abs(pos.Size) < flatPositionLimit {
		return nil
	}
	closeSide := "ask"
	if pos.Size < 0 {
		closeSide = "bid"
	}
	payload := map[string]any{
		"symbol":           symbol,
		"side":             closeSide,
		"amount":           formatAmount(math.Abs(pos.Size)),
		"slippage_percent": formatAmount(c.slippage),
		"reduce_only":      true,
		"client_order_id":  uuid.NewString(),
	}
	return c.postSigned(ctx, "/orders/create_market", opCreateMarket, payload, nil)
}

func sideString(side venue.Side) string {
	if side == venue.Long {
		return "bid"
	}
	return "ask"
}

func roundToLot(symbol string, size float64) float64 {
	lot, ok := lotSizes[symbol]
	if !ok {
		lot = defaultLotSize
	}
	rounded := math.Round(size/lot) * lot
	// Trim float residue from the division.
	rounded = math.Round(rounded*1e8) / 1e8
	if rounded < lot {
		// Below one lot is unfillable; the caller rejects zero.
		return 0
	}
	return rounded
}

func formatAmount(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}

type apiResponse struct {
	Success *bool           `json:"success"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

// postSigned wraps payload in the venue's signed envelope: the account,
// the signature over the canonical header+payload message, and the
// header fields repeated in the clear.
func (c *Client) postSigned(ctx context.Context, path, opType string, payload map[string]any, out any) error {
	header := signHeader{
		Timestamp:    time.Now().UnixMilli(),
		ExpiryWindow: signatureExpiryMS,
		Type:         opType,
	}
	signature, err := c.keypair.Sign(header, payload)
	if err != nil {
		return venue.Terminal(venueName, path, err)
	}
	body := map[string]any{
		"account":       c.keypair.Account(),
		"signature":     signature,
		"timestamp":     header.Timestamp,
		"expiry_window": header.ExpiryWindow,
	}
	for k, v := range payload {
		body[k] = v
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return venue.Terminal(venueName, path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return venue.Terminal(venueName, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	return c.do(req, path, out)
}

func (c *Client) get(ctx context.Context, path string, query map[string]string, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		vals := url.Values{}
		for k, v := range query {
			vals.Set(k, v)
		}
		u += "?" + vals.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return venue.Terminal(venueName, path, err)
	}
	req.Header.Set("User-Agent", userAgent)
	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return venue.Retryable(venueName, op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return venue.Retryable(venueName, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpErr := fmt.Errorf("http %d: %s", resp.StatusCode, truncate(raw, 2048))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return venue.Terminal(venueName, op, httpErr)
		}
		return venue.Retryable(venueName, op, httpErr)
	}
	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return venue.Retryable(venueName, op, err)
	}
	if envelope.Success != nil && !*envelope.Success {
		return venue.Terminal(venueName, op, fmt.Errorf("api error: %s", envelope.Error))
	}
	if out == nil {
		return nil
	}
	data := envelope.Data
	if data == nil {
		data = raw
	}
	if err := json.Unmarshal(data, out); err != nil {
		return venue.Retryable(venueName, op, err)
	}
	return nil
}

func truncate(raw []byte, n int) string {
	if len(raw) > n {
		raw = raw[:n]
	}
	return string(raw)
}
