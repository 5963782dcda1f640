package pacifica

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestFeedCachesOraclePrices(t *testing.T) {
	feed := NewPriceFeed("ws://unused", zap.NewNop())
	feed.handleMessage([]byte(`{"channel":"prices","data":[
		{"symbol":"BTC","oracle":"65000.5"},
		{"symbol":"ETH","oracle":"3400"}
	]}`))

	price, ok := feed.Price("BTC")
	if !ok || price != 65000.5 {
		t.Fatalf("expected cached BTC price 65000.5, got %.4f (ok=%v)", price, ok)
	}
	price, ok = feed.Price("ETH")
	if !ok || price != 3400 {
		t.Fatalf("expected cached ETH price 3400, got %.4f (ok=%v)", price, ok)
	}
	if _, ok := feed.Price("SOL"); ok {
		t.Fatal("uncached symbol must miss")
	}
}

func TestFeedIgnoresBadMessages(t *testing.T) {
	feed := NewPriceFeed("ws://unused", zap.NewNop())
	feed.handleMessage([]byte(`not json`))
	feed.handleMessage([]byte(`{"channel":"prices","data":[{"symbol":"BTC","oracle":"zero"}]}`))
	feed.handleMessage([]byte(`{"channel":"prices","data":[{"symbol":"BTC","oracle":"-1"}]}`))
	feed.handleMessage([]byte(`{"channel":"prices","data":[{"symbol":"","oracle":"100"}]}`))

	if _, ok := feed.Price("BTC"); ok {
		t.Fatal("invalid updates must not populate the cache")
	}
}

func TestFeedExpiresStalePrices(t *testing.T) {
	feed := NewPriceFeed("ws://unused", zap.NewNop())
	feed.staleAfter = time.Millisecond
	feed.handleMessage([]byte(`{"channel":"prices","data":[{"symbol":"BTC","oracle":"65000"}]}`))

	time.Sleep(5 * time.Millisecond)
	if _, ok := feed.Price("BTC"); ok {
		t.Fatal("stale price must not be served")
	}
}
