package normalizer

import (
	"encoding/json"
	"strings"
	"time"

	"tickflow/internal/models"
	"tickflow/internal/symbols"
)

// bybitFrame is the v5 public stream envelope. Ticker pushes use topic
// "tickers.<symbol>"; op acks carry success/ret_msg instead of a topic.
type bybitFrame struct {
	Topic string          `json:"topic"`
	Ts    int64           `json:"ts"`
	Data  json.RawMessage `json:"data"`
}

type bybitAck struct {
	Success bool   `json:"success"`
	RetMsg  string `json:"ret_msg"`
	Op      string `json:"op"`
}

type bybitTicker struct {
	Symbol    string      `json:"symbol"`
	LastPrice interface{} `json:"lastPrice"`
	Bid1Price interface{} `json:"bid1Price"`
	Ask1Price interface{} `json:"ask1Price"`
}

func (n *Normalizer) bybitDecoders() []decoder {
	return []decoder{
		{
			name:   "topic_push",
			match:  func(frame []byte) bool { return hasKeys(frame, "topic", "data") },
			decode: n.decodeBybitPush,
		},
		{
			name:   "op_ack",
			match:  func(frame []byte) bool { return hasKeys(frame, "op") },
			decode: n.decodeBybitAck,
		},
	}
}

func (n *Normalizer) decodeBybitPush(frame []byte, received time.Time) []models.PriceTick {
	var payload bybitFrame
	if err := json.Unmarshal(frame, &payload); err != nil {
		return nil
	}
	if !strings.HasPrefix(payload.Topic, "tickers.") {
		return nil
	}

	// snapshots deliver a single object, deltas may batch an array
	var tickers []bybitTicker
	if isArray(payload.Data) {
		if err := json.Unmarshal(payload.Data, &tickers); err != nil {
			return nil
		}
	} else {
		var single bybitTicker
		if err := json.Unmarshal(payload.Data, &single); err != nil {
			return nil
		}
		tickers = append(tickers, single)
	}

	ts := payload.Ts
	if ts <= 0 {
		ts = received.UnixMilli()
	}

	ticks := make([]models.PriceTick, 0, len(tickers))
	for _, t := range tickers {
		symbol := t.Symbol
		if symbol == "" {
			symbol = strings.TrimPrefix(payload.Topic, "tickers.")
		}
		price := pickPrice(asFloat(t.LastPrice), asFloat(t.Bid1Price), asFloat(t.Ask1Price))
		if symbol == "" || price <= 0 {
			continue
		}
		ticks = append(ticks, models.PriceTick{
			Symbol:      symbols.ToCanonical("bybit", symbol),
			Price:       price,
			TimestampMs: ts,
		})
	}
	return ticks
}

func (n *Normalizer) decodeBybitAck(frame []byte, received time.Time) []models.PriceTick {
	var payload bybitAck
	if err := json.Unmarshal(frame, &payload); err != nil {
		return nil
	}
	if !payload.Success && payload.RetMsg != "" {
		n.reportErrorFrame("bybit", payload.RetMsg)
	}
	return nil
}
