package lighter

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
	"sync/atomic"
	"time"

	"dualdex-bot/internal/config"
	"dualdex-bot/internal/venue"

	"go.uber.org/zap"
)

const (
	venueName         = "lighter"
	txTypeCreateOrder = 14
	// closeBuffer oversizes reduce-only closes so rounding residue
	// cannot leave dust open; the venue clips at the position size.
	closeBuffer = 1.01
)

// Client talks to the Lighter REST gateway and implements the venue
// capability surface.
type Client struct {
	baseURL      string
	http         *http.Client
	signer       *Signer
	accountIndex int
	apiKeyIndex  int
	slippage     float64
	markets      marketCache
	lastNonce    atomic.Uint64
	log          *zap.Logger
}

func New(cfg config.LighterConfig, apiPrivateKey string, slippage float64, log *zap.Logger) (*Client, error) {
	signer, err := NewSigner(apiPrivateKey)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL:      cfg.BaseURL,
		http:         &http.Client{Timeout: cfg.Timeout},
		signer:       signer,
		accountIndex: cfg.AccountIndex,
		apiKeyIndex:  cfg.APIKeyIndex,
		slippage:     slippage,
		log:          log,
	}, nil
}

func (c *Client) Name() string { return venueName }

// MarkPrice returns the book midpoint, used for sizing only; execution
// prices carry the slippage allowance.
func (c *Client) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	m, err := c.market(ctx, symbol)
	if err != nil {
		return 0, venue.Terminal(venueName, "mark price", err)
	}
	book, err := c.topOfBook(ctx, m)
	if err != nil {
		return 0, err
	}
	switch {
	case book.bid > 0 && book.ask > 0:
		return (book.bid + book.ask) / 2, nil
	case book.bid > 0:
		return book.bid, nil
	case book.ask > 0:
		return book.ask, nil
	}
	return 0, venue.Retryable(venueName, "mark price", fmt.Errorf("empty order book for %s", symbol))
}

func (c *Client) PlaceOrder(ctx context.Context, symbol string, side venue.Side, size, leverage float64) (venue.OrderResult, error) {
	_ = leverage // leverage is an account setting on Lighter, not per order
	m, err := c.market(ctx, symbol)
	if err != nil {
		return venue.OrderResult{}, venue.Terminal(venueName, "place order", err)
	}
	if size < m.MinBaseAmount {
		return venue.OrderResult{}, venue.Terminal(venueName, "place order",
			fmt.Errorf("size %.8f below market minimum %.8f", size, m.MinBaseAmount))
	}
	isAsk := side == venue.Short
	price, err := c.executionPrice(ctx, m, isAsk)
	if err != nil {
		return venue.OrderResult{}, err
	}
	return c.sendOrder(ctx, m, isAsk, m.scaleSize(size), price, false)
}

func (c *Client) Position(ctx context.Context, symbol string) (venue.Position, error) {
	var resp accountResponse
	query := map[string]string{"by": "index", "value": strconv.Itoa(c.accountIndex)}
	if err := c.get(ctx, "/api/v1/account", query, &resp); err != nil {
		return venue.Position{}, err
	}
	pos := venue.Position{Venue: venueName, Symbol: symbol}
	if len(resp.Accounts) == 0 {
		return pos, nil
	}
	for _, p := range resp.Accounts[0].Positions {
		if p.Symbol != symbol {
			continue
		}
		size, err := strconv.ParseFloat(p.Position, 64)
		if err != nil {
			return venue.Position{}, venue.Terminal(venueName, "position",
				fmt.Errorf("unparseable position size %q: %w", p.Position, err))
		}
		if p.Sign < 0 && size > 0 {
			size = -size
		}
		entry, _ := strconv.ParseFloat(p.AvgEntryPrice, 64)
		pos.Size = size
		pos.EntryPrice = entry
		return pos, nil
	}
	return pos, nil
}

// ClosePosition flattens symbol with an oversized reduce-only order in
// the opposite direction. A flat position is a no-op.
func (c *Client) ClosePosition(ctx context.Context, symbol string) error {
	pos, err := c.Position(ctx, symbol)
	if err != nil {
		return err
	}
	if math.Abs(pos.Size) < 1e-9 {
		return nil
	}
	m, err := c.market(ctx, symbol)
	if err != nil {
		return venue.Terminal(venueName, "close position", err)
	}
	isAsk := pos.Size > 0 // long closes by selling
	price, err := c.executionPrice(ctx, m, isAsk)
	if err != nil {
		return err
	}
	amount := m.scaleSize(math.Abs(pos.Size) * closeBuffer)
	_, err = c.sendOrder(ctx, m, isAsk, amount, price, true)
	return err
}

type topBook struct {
	bid float64
	ask float64
}

type orderBookOrdersResponse struct {
	Bids []struct {
		Price string `json:"price"`
	} `json:"bids"`
	Asks []struct {
		Price string `json:"price"`
	} `json:"asks"`
}

type accountResponse struct {
	Accounts []struct {
		Positions []struct {
			MarketID      int    `json:"market_id"`
			Symbol        string `json:"symbol"`
			Sign          int    `json:"sign"`
			Position      string `json:"position"`
			AvgEntryPrice string `json:"avg_entry_price"`
		} `json:"positions"`
	} `json:"accounts"`
}

type sendTxResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	TxHash  string `json:"tx_hash"`
}

func (c *Client) topOfBook(ctx context.Context, m Market) (topBook, error) {
	var resp orderBookOrdersResponse
	query := map[string]string{"market_id": strconv.Itoa(m.Index), "limit": "1"}
	if err := c.get(ctx, "/api/v1/orderBookOrders", query, &resp); err != nil {
		return topBook{}, err
	}
	var book topBook
	if len(resp.Bids) > 0 {
		book.bid, _ = strconv.ParseFloat(resp.Bids[0].Price, 64)
	}
	if len(resp.Asks) > 0 {
		book.ask, _ = strconv.ParseFloat(resp.Asks[0].Price, 64)
	}
	return book, nil
}

// executionPrice is the crossing side of the book with the slippage
// allowance applied: sells cross the bid and give up slippage, buys
// cross the ask and pay it.
func (c *Client) executionPrice(ctx context.Context, m Market, isAsk bool) (int64, error) {
	book, err := c.topOfBook(ctx, m)
	if err != nil {
		return 0, err
	}
	var price float64
	if isAsk {
		price = book.bid * (1 - c.slippage)
	} else {
		price = book.ask * (1 + c.slippage)
	}
	if price <= 0 {
		return 0, venue.Retryable(venueName, "price", fmt.Errorf("no liquidity for %s", m.Symbol))
	}
	return m.scalePrice(price), nil
}

func (c *Client) sendOrder(ctx context.Context, m Market, isAsk bool, baseAmount, price int64, reduceOnly bool) (venue.OrderResult, error) {
	clientOrderIndex := time.Now().UnixMilli() % 1_000_000
	tx := createOrderTx{
		AccountIndex:     c.accountIndex,
		ApiKeyIndex:      c.apiKeyIndex,
		MarketIndex:      m.Index,
		ClientOrderIndex: clientOrderIndex,
		BaseAmount:       baseAmount,
		Price:            price,
		IsAsk:            isAsk,
		ReduceOnly:       reduceOnly,
	}
	nonce := c.nextNonce()
	sig, err := c.signer.SignCreateOrder(tx, nonce)
	if err != nil {
		return venue.OrderResult{}, venue.Terminal(venueName, "sign order", err)
	}
	txInfo, err := json.Marshal(map[string]any{
		"account_index":      tx.AccountIndex,
		"api_key_index":      tx.ApiKeyIndex,
		"market_index":       tx.MarketIndex,
		"client_order_index": tx.ClientOrderIndex,
		"base_amount":        tx.BaseAmount,
		"price":              tx.Price,
		"is_ask":             tx.IsAsk,
		"reduce_only":        tx.ReduceOnly,
		"nonce":              nonce,
		"signature":          sig,
	})
	if err != nil {
		return venue.OrderResult{}, venue.Terminal(venueName, "encode tx", err)
	}
	form := url.Values{}
	form.Set("tx_type", strconv.Itoa(txTypeCreateOrder))
	form.Set("tx_info", string(txInfo))
	var resp sendTxResponse
	if err := c.postForm(ctx, "/api/v1/sendTx", form, &resp); err != nil {
		return venue.OrderResult{}, err
	}
	if resp.Code != 0 && resp.Code != 200 {
		return venue.OrderResult{}, venue.Terminal(venueName, "send tx",
			fmt.Errorf("code %d: %s", resp.Code, resp.Message))
	}
	orderID := resp.TxHash
	if orderID == "" {
		orderID = strconv.FormatInt(clientOrderIndex, 10)
	}
	c.log.Debug("lighter tx accepted",
		zap.String("tx_hash", resp.TxHash),
		zap.Int64("client_order_index", clientOrderIndex),
		zap.Bool("reduce_only", reduceOnly),
	)
	return venue.OrderResult{OrderID: orderID}, nil
}

// nextNonce is strictly increasing across the process even when the
// clock stalls inside one millisecond.
func (c *Client) nextNonce() uint64 {
	now := uint64(time.Now().UnixMilli())
	for {
		prev := c.lastNonce.Load()
		next := now
		if prev >= next {
			next = prev + 1
		}
		if c.lastNonce.CompareAndSwap(prev, next) {
			return next
		}
	}
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
		return venue.Terminal(venueName, "request", err)
	}
	return c.do(req, out)
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path,
		bytes.NewReader([]byte(form.Encode())))
	if err != nil {
		return venue.Terminal(venueName, "request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	op := req.URL.Path
	resp, err := c.http.Do(req)
	if err != nil {
		return venue.Retryable(venueName, op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		httpErr := fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return venue.Terminal(venueName, op, httpErr)
		}
		return venue.Retryable(venueName, op, httpErr)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return venue.Retryable(venueName, op, err)
	}
	return nil
}
