package pacifica

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// PriceFeed maintains a live oracle price cache from the venue's
// websocket. It reconnects on failure and re-subscribes; consumers read
// the cache and fall back to REST when an entry is missing or stale.
type PriceFeed struct {
	url            string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	staleAfter     time.Duration
	log            *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	prices map[string]pricePoint
}

type pricePoint struct {
	oracle float64
	at     time.Time
}

func NewPriceFeed(url string, log *zap.Logger) *PriceFeed {
	return &PriceFeed{
		url:            url,
		reconnectDelay: 5 * time.Second,
		pingInterval:   30 * time.Second,
		staleAfter:     30 * time.Second,
		log:            log,
		prices:         make(map[string]pricePoint),
	}
}

// Price returns the cached oracle price for symbol if it is fresh.
func (f *PriceFeed) Price(symbol string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[symbol]
	if !ok || time.Since(p.at) > f.staleAfter {
		return 0, false
	}
	return p.oracle, true
}

// Run drives the connect/subscribe/read loop until ctx is cancelled.
func (f *PriceFeed) Run(ctx context.Context) error {
	for {
		err := f.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.log.Warn("price feed disconnected", zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.reconnectDelay):
		}
	}
}

func (f *PriceFeed) session(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, f.url, nil)
	if err != nil {
		return err
	}
	f.setConn(conn)
	defer f.closeConn()

	sub := map[string]any{"method": "subscribe", "params": map[string]string{"source": "prices"}}
	if err := writeJSON(ctx, conn, sub); err != nil {
		return err
	}

	pingCtx, cancelPing := context.WithCancel(ctx)
	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		f.pingLoop(pingCtx, conn)
	}()
	err = f.readLoop(ctx, conn)
	cancelPing()
	<-pingDone
	return err
}

func (f *PriceFeed) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		f.handleMessage(data)
	}
}

type priceMessage struct {
	Channel string `json:"channel"`
	Data    []struct {
		Symbol string      `json:"symbol"`
		Oracle json.Number `json:"oracle"`
	} `json:"data"`
}

func (f *PriceFeed) handleMessage(data []byte) {
	var msg priceMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if len(msg.Data) == 0 {
		return
	}
	now := time.Now()
	f.mu.Lock()
	for _, item := range msg.Data {
		if item.Symbol == "" {
			continue
		}
		oracle, err := strconv.ParseFloat(item.Oracle.String(), 64)
		if err != nil || oracle <= 0 {
			continue
		}
		f.prices[item.Symbol] = pricePoint{oracle: oracle, at: now}
	}
	f.mu.Unlock()
}

func (f *PriceFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(f.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeJSON(ctx, conn, map[string]any{"method": "ping"}); err != nil {
				return
			}
		}
	}
}

func (f *PriceFeed) setConn(conn *websocket.Conn) {
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
}

func (f *PriceFeed) closeConn() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_ = f.conn.Close(websocket.StatusNormalClosure, "done")
		f.conn = nil
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
