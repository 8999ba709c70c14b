package normalizer

import (
	"math"
	"testing"
	"time"

	"tickflow/internal/models"
)

var testReceived = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func normalize(t *testing.T, exchange, payload string) []models.PriceTick {
	t.Helper()
	return New().Normalize(models.RawFeedMessage{
		Exchange: exchange,
		Payload:  []byte(payload),
		Received: testReceived,
	})
}

func requireOneTick(t *testing.T, ticks []models.PriceTick) models.PriceTick {
	t.Helper()
	if len(ticks) != 1 {
		t.Fatalf("expected 1 tick, got %d: %+v", len(ticks), ticks)
	}
	return ticks[0]
}

func TestBinanceFlatTicker(t *testing.T) {
	tick := requireOneTick(t, normalize(t, "binance",
		`{"e":"24hrTicker","E":1748779200123,"s":"BTCUSDT","c":"50000.10","b":"49999.90","a":"50000.30"}`))

	if tick.Symbol != "BTC" {
		t.Errorf("symbol = %q, want BTC", tick.Symbol)
	}
	if tick.Price != 50000.10 {
		t.Errorf("price = %v, want 50000.10", tick.Price)
	}
	if tick.TimestampMs != 1748779200123 {
		t.Errorf("timestamp = %d, want event time", tick.TimestampMs)
	}
}

func TestBinanceCombinedStreamEnvelope(t *testing.T) {
	tick := requireOneTick(t, normalize(t, "binance",
		`{"stream":"ethusdt@ticker","data":{"e":"24hrTicker","E":1748779200456,"s":"ETHUSDT","c":"3000.5"}}`))

	if tick.Symbol != "ETH" {
		t.Errorf("symbol = %q, want ETH", tick.Symbol)
	}
	if tick.Price != 3000.5 {
		t.Errorf("price = %v, want 3000.5", tick.Price)
	}
}

func TestBinanceTickerArray(t *testing.T) {
	ticks := normalize(t, "binance",
		`[{"e":"24hrTicker","E":1,"s":"BTCUSDT","c":"50000"},{"e":"24hrTicker","E":2,"s":"SOLUSDT","c":"140.25"}]`)

	if len(ticks) != 2 {
		t.Fatalf("expected 2 ticks, got %d", len(ticks))
	}
	if ticks[1].Symbol != "SOL" || ticks[1].Price != 140.25 {
		t.Errorf("second tick = %+v", ticks[1])
	}
}

func TestBinanceErrorAndAckFrames(t *testing.T) {
	if ticks := normalize(t, "binance", `{"code":-1121,"msg":"Invalid symbol."}`); len(ticks) != 0 {
		t.Errorf("error frame produced ticks: %+v", ticks)
	}
	if ticks := normalize(t, "binance", `{"result":null,"id":312}`); len(ticks) != 0 {
		t.Errorf("ack frame produced ticks: %+v", ticks)
	}
}

func TestKrakenV2Ticker(t *testing.T) {
	tick := requireOneTick(t, normalize(t, "kraken",
		`{"channel":"ticker","type":"update","data":[{"symbol":"BTC/USD","last":50100.4,"bid":50100.1,"ask":50100.9}]}`))

	if tick.Symbol != "BTC" {
		t.Errorf("symbol = %q, want BTC", tick.Symbol)
	}
	if tick.Price != 50100.4 {
		t.Errorf("price = %v, want 50100.4", tick.Price)
	}
	if tick.TimestampMs != testReceived.UnixMilli() {
		t.Errorf("timestamp = %d, want receive time", tick.TimestampMs)
	}
}

func TestKrakenV1Tuple(t *testing.T) {
	tick := requireOneTick(t, normalize(t, "kraken",
		`[340,{"c":["50200.5","0.01"],"b":["50200.1","1","1.0"],"a":["50200.9","2","2.0"]},"ticker","XBT/USD"]`))

	if tick.Symbol != "BTC" {
		t.Errorf("symbol = %q, want BTC after legacy alias mapping", tick.Symbol)
	}
	if tick.Price != 50200.5 {
		t.Errorf("price = %v, want 50200.5", tick.Price)
	}
}

func TestKrakenLegacyStringEnvelope(t *testing.T) {
	tick := requireOneTick(t, normalize(t, "kraken",
		`{"event":"data","pair":"XBT/USD","data":"[340,{\"c\":[\"50300.7\",\"0.01\"]},\"ticker\",\"XBT/USD\"]"}`))

	if tick.Symbol != "BTC" {
		t.Errorf("symbol = %q, want BTC", tick.Symbol)
	}
	if tick.Price != 50300.7 {
		t.Errorf("price = %v, want 50300.7", tick.Price)
	}
}

func TestKrakenControlFrames(t *testing.T) {
	frames := []string{
		`{"event":"heartbeat"}`,
		`{"event":"systemStatus","status":"online","version":"1.9.0"}`,
		`{"event":"subscriptionStatus","status":"subscribed","pair":"XBT/USD"}`,
		`{"event":"subscriptionStatus","status":"error","errorMessage":"Subscription depth not supported"}`,
	}
	for _, frame := range frames {
		if ticks := normalize(t, "kraken", frame); len(ticks) != 0 {
			t.Errorf("control frame %s produced ticks: %+v", frame, ticks)
		}
	}
}

func TestKrakenMidpointFallback(t *testing.T) {
	tick := requireOneTick(t, normalize(t, "kraken",
		`{"channel":"ticker","type":"update","data":[{"symbol":"ETH/USD","bid":3000.0,"ask":3002.0}]}`))

	if math.Abs(tick.Price-3001.0) > 1e-9 {
		t.Errorf("price = %v, want bid/ask midpoint 3001.0", tick.Price)
	}
}

func TestKucoinTickerV2Midpoint(t *testing.T) {
	tick := requireOneTick(t, normalize(t, "kucoin",
		`{"type":"message","topic":"/contractMarket/tickerV2:XBTUSDTM","data":{"symbol":"XBTUSDTM","bestBidPrice":"50000","bestAskPrice":"50010","ts":1748779200000000000}}`))

	if tick.Symbol != "BTC" {
		t.Errorf("symbol = %q, want BTC", tick.Symbol)
	}
	if tick.Price != 50005 {
		t.Errorf("price = %v, want midpoint 50005", tick.Price)
	}
	if tick.TimestampMs != 1748779200000 {
		t.Errorf("timestamp = %d, want nanoseconds scaled to milliseconds", tick.TimestampMs)
	}
}

func TestKucoinSymbolFromTopic(t *testing.T) {
	tick := requireOneTick(t, normalize(t, "kucoin",
		`{"type":"message","topic":"/contractMarket/tickerV2:ETHUSDTM","data":{"bestBidPrice":"3000","bestAskPrice":"3000"}}`))

	if tick.Symbol != "ETH" {
		t.Errorf("symbol = %q, want ETH derived from topic", tick.Symbol)
	}
	if tick.TimestampMs != testReceived.UnixMilli() {
		t.Errorf("timestamp = %d, want receive-time fallback", tick.TimestampMs)
	}
}

func TestKucoinControlFrames(t *testing.T) {
	frames := []string{
		`{"id":"hQvf8jkno","type":"welcome"}`,
		`{"id":"1545910660740","type":"ack"}`,
		`{"id":"1545910590801","type":"pong"}`,
	}
	for _, frame := range frames {
		if ticks := normalize(t, "kucoin", frame); len(ticks) != 0 {
			t.Errorf("control frame %s produced ticks: %+v", frame, ticks)
		}
	}
}

func TestBybitTickerSnapshot(t *testing.T) {
	tick := requireOneTick(t, normalize(t, "bybit",
		`{"topic":"tickers.BTCUSDT","ts":1748779201000,"data":{"symbol":"BTCUSDT","lastPrice":"50400.5","bid1Price":"50400.1","ask1Price":"50400.9"}}`))

	if tick.Symbol != "BTC" {
		t.Errorf("symbol = %q, want BTC", tick.Symbol)
	}
	if tick.Price != 50400.5 {
		t.Errorf("price = %v, want 50400.5", tick.Price)
	}
	if tick.TimestampMs != 1748779201000 {
		t.Errorf("timestamp = %d, want envelope ts", tick.TimestampMs)
	}
}

func TestBybitTickerArrayDelta(t *testing.T) {
	ticks := normalize(t, "bybit",
		`{"topic":"tickers.BTCUSDT","ts":5,"data":[{"symbol":"BTCUSDT","lastPrice":"50401"},{"symbol":"BTCUSDT","lastPrice":"50402"}]}`)

	if len(ticks) != 2 {
		t.Fatalf("expected 2 ticks, got %d", len(ticks))
	}
}

func TestBybitAckFrames(t *testing.T) {
	if ticks := normalize(t, "bybit", `{"success":true,"ret_msg":"","op":"subscribe"}`); len(ticks) != 0 {
		t.Errorf("ack produced ticks: %+v", ticks)
	}
	if ticks := normalize(t, "bybit", `{"success":false,"ret_msg":"unknown topic","op":"subscribe"}`); len(ticks) != 0 {
		t.Errorf("failed ack produced ticks: %+v", ticks)
	}
}

func TestUnrecognizedShapeDropped(t *testing.T) {
	if ticks := normalize(t, "binance", `{"something":"else"}`); len(ticks) != 0 {
		t.Errorf("unrecognized frame produced ticks: %+v", ticks)
	}
	if ticks := normalize(t, "okx", `{"e":"24hrTicker"}`); len(ticks) != 0 {
		t.Errorf("unregistered exchange produced ticks: %+v", ticks)
	}
}

func TestInvalidPriceDropped(t *testing.T) {
	if ticks := normalize(t, "binance", `{"e":"24hrTicker","E":1,"s":"BTCUSDT","c":"-1"}`); len(ticks) != 0 {
		t.Errorf("negative price produced ticks: %+v", ticks)
	}
	if ticks := normalize(t, "binance", `{"e":"24hrTicker","E":1,"s":"BTCUSDT","c":"not-a-number"}`); len(ticks) != 0 {
		t.Errorf("malformed price produced ticks: %+v", ticks)
	}
}
