package feed

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"

	appconfig "tickflow/config"
)

const binanceStreamURL = "wss://stream.binance.com:9443/ws"

// binanceCommand is the subscription management frame for the Binance
// combined stream protocol.
type binanceCommand struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// BinanceAdapter speaks the Binance spot websocket stream protocol.
type BinanceAdapter struct {
	cfg    appconfig.FeedConfig
	nextID atomic.Int64
}

func NewBinanceAdapter(cfg appconfig.FeedConfig) *BinanceAdapter {
	return &BinanceAdapter{cfg: cfg}
}

func (a *BinanceAdapter) Name() string { return "binance" }

func (a *BinanceAdapter) Endpoint(_ context.Context) (string, error) {
	if a.cfg.URL != "" {
		return a.cfg.URL, nil
	}
	return binanceStreamURL, nil
}

func (a *BinanceAdapter) SubscribeFrames(symbols []string) [][]byte {
	return a.commandFrames("SUBSCRIBE", symbols)
}

func (a *BinanceAdapter) UnsubscribeFrames(symbols []string) [][]byte {
	return a.commandFrames("UNSUBSCRIBE", symbols)
}

// HeartbeatFrame returns nil: Binance keeps connections alive with
// transport-level ping/pong frames.
func (a *BinanceAdapter) HeartbeatFrame() []byte { return nil }

func (a *BinanceAdapter) DefaultSymbols() []string { return []string{"BTC"} }

func (a *BinanceAdapter) commandFrames(method string, symbols []string) [][]byte {
	if len(symbols) == 0 {
		return nil
	}
	params := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		params = append(params, strings.ToLower(sym)+"usdt@ticker")
	}
	frame, err := json.Marshal(binanceCommand{
		Method: method,
		Params: params,
		ID:     a.nextID.Add(1),
	})
	if err != nil {
		return nil
	}
	return [][]byte{frame}
}
