package feed

import (
	"context"
	"encoding/json"

	appconfig "tickflow/config"
	"tickflow/internal/symbols"
)

const krakenStreamURL = "wss://ws.kraken.com"

// krakenCommand is the v1 subscription frame. Kraken pairs use the legacy
// base spelling with a slash-separated USD quote.
type krakenCommand struct {
	Event        string             `json:"event"`
	Pair         []string           `json:"pair"`
	Subscription krakenSubscription `json:"subscription"`
}

type krakenSubscription struct {
	Name string `json:"name"`
}

// KrakenAdapter speaks the Kraken public websocket protocol.
type KrakenAdapter struct {
	cfg appconfig.FeedConfig
}

func NewKrakenAdapter(cfg appconfig.FeedConfig) *KrakenAdapter {
	return &KrakenAdapter{cfg: cfg}
}

func (a *KrakenAdapter) Name() string { return "kraken" }

func (a *KrakenAdapter) Endpoint(_ context.Context) (string, error) {
	if a.cfg.URL != "" {
		return a.cfg.URL, nil
	}
	return krakenStreamURL, nil
}

func (a *KrakenAdapter) SubscribeFrames(symbols []string) [][]byte {
	return a.commandFrames("subscribe", symbols)
}

func (a *KrakenAdapter) UnsubscribeFrames(symbols []string) [][]byte {
	return a.commandFrames("unsubscribe", symbols)
}

func (a *KrakenAdapter) HeartbeatFrame() []byte {
	return []byte(`{"event":"ping"}`)
}

func (a *KrakenAdapter) DefaultSymbols() []string { return []string{"BTC"} }

func (a *KrakenAdapter) commandFrames(event string, syms []string) [][]byte {
	if len(syms) == 0 {
		return nil
	}
	pairs := make([]string, 0, len(syms))
	for _, sym := range syms {
		pairs = append(pairs, symbols.ToLegacyBase(sym)+"/USD")
	}
	frame, err := json.Marshal(krakenCommand{
		Event:        event,
		Pair:         pairs,
		Subscription: krakenSubscription{Name: "ticker"},
	})
	if err != nil {
		return nil
	}
	return [][]byte{frame}
}
