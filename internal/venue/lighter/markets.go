package lighter

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
)

// Market carries the exchange metadata needed to scale prices and
// sizes into Lighter's integer wire format.
type Market struct {
	Index         int
	Symbol        string
	PriceDecimals int
	SizeDecimals  int
	MinBaseAmount float64
}

func (m Market) scaleSize(size float64) int64 {
	return int64(size * math.Pow10(m.SizeDecimals))
}

func (m Market) scalePrice(price float64) int64 {
	return int64(price * math.Pow10(m.PriceDecimals))
}

type marketCache struct {
	mu      sync.Mutex
	bySym   map[string]Market
	loaded  bool
	symbols []string
}

type orderBooksResponse struct {
	OrderBooks []struct {
		MarketID      int    `json:"market_id"`
		Symbol        string `json:"symbol"`
		Status        string `json:"status"`
		MinBaseAmount string `json:"min_base_amount"`
	} `json:"order_books"`
}

type orderBookDetailsResponse struct {
	OrderBookDetails []struct {
		Symbol        string `json:"symbol"`
		PriceDecimals int    `json:"price_decimals"`
		SizeDecimals  int    `json:"size_decimals"`
	} `json:"order_book_details"`
}

// market resolves symbol to its metadata, loading the exchange's order
// book list on first use. Only active markets among the configured
// pairs are cached.
func (c *Client) market(ctx context.Context, symbol string) (Market, error) {
	c.markets.mu.Lock()
	defer c.markets.mu.Unlock()
	if !c.markets.loaded {
		if err := c.loadMarketsLocked(ctx); err != nil {
			return Market{}, err
		}
	}
	m, ok := c.markets.bySym[symbol]
	if !ok {
		return Market{}, fmt.Errorf("market %s not available on lighter", symbol)
	}
	return m, nil
}

func (c *Client) loadMarketsLocked(ctx context.Context) error {
	var books orderBooksResponse
	if err := c.get(ctx, "/api/v1/orderBooks", nil, &books); err != nil {
		return fmt.Errorf("load markets: %w", err)
	}
	bySym := make(map[string]Market)
	for _, book := range books.OrderBooks {
		if !strings.EqualFold(book.Status, "active") {
			continue
		}
		minBase, _ := strconv.ParseFloat(book.MinBaseAmount, 64)
		bySym[book.Symbol] = Market{
			Index:         book.MarketID,
			Symbol:        book.Symbol,
			MinBaseAmount: minBase,
		}
	}
	if len(bySym) == 0 {
		return fmt.Errorf("no active lighter markets")
	}
	for symbol, m := range bySym {
		var details orderBookDetailsResponse
		query := map[string]string{"market_id": strconv.Itoa(m.Index)}
		if err := c.get(ctx, "/api/v1/orderBookDetails", query, &details); err != nil {
			return fmt.Errorf("market details %s: %w", symbol, err)
		}
		if len(details.OrderBookDetails) == 0 {
			delete(bySym, symbol)
			continue
		}
		d := details.OrderBookDetails[0]
		m.PriceDecimals = d.PriceDecimals
		m.SizeDecimals = d.SizeDecimals
		bySym[symbol] = m
	}
	c.markets.bySym = bySym
	c.markets.loaded = true
	c.markets.symbols = c.markets.symbols[:0]
	for symbol := range bySym {
		c.markets.symbols = append(c.markets.symbols, symbol)
	}
	return nil
}
