package normalizer

import (
	"encoding/json"
	"strings"
	"time"

	"tickflow/internal/models"
	"tickflow/internal/symbols"
)

// kucoinFrame is the message envelope the futures websocket delivers. Control
// frames (welcome, ack, pong) reuse the same shape with an empty topic.
type kucoinFrame struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
	Data  struct {
		Symbol       string      `json:"symbol"`
		BestBidPrice interface{} `json:"bestBidPrice"`
		BestAskPrice interface{} `json:"bestAskPrice"`
		Price        interface{} `json:"price"`
		Ts           int64       `json:"ts"`
	} `json:"data"`
}

func (n *Normalizer) kucoinDecoders() []decoder {
	return []decoder{
		{
			name:   "message_envelope",
			match:  func(frame []byte) bool { return hasKeys(frame, "type") },
			decode: n.decodeKucoinMessage,
		},
	}
}

func (n *Normalizer) decodeKucoinMessage(frame []byte, received time.Time) []models.PriceTick {
	var payload kucoinFrame
	if err := json.Unmarshal(frame, &payload); err != nil {
		return nil
	}

	switch payload.Type {
	case "message":
	case "error":
		n.reportErrorFrame("kucoin", payload.Topic)
		return nil
	default:
		// welcome, ack, pong
		return nil
	}

	symbol := payload.Data.Symbol
	if symbol == "" {
		// tickerV2 topics carry the contract after the colon:
		// /contractMarket/tickerV2:XBTUSDTM
		if idx := strings.LastIndex(payload.Topic, ":"); idx >= 0 {
			symbol = payload.Topic[idx+1:]
		}
	}
	if symbol == "" {
		return nil
	}

	// tickerV2 publishes best bid/ask rather than a trade price, so the
	// midpoint stands in for last when no trade price is present.
	last := asFloat(payload.Data.Price)
	bid := asFloat(payload.Data.BestBidPrice)
	ask := asFloat(payload.Data.BestAskPrice)
	price := pickPrice(last, bid, ask)
	if price <= 0 {
		return nil
	}

	ts := payload.Data.Ts
	if ts > 1e15 {
		// futures feed timestamps are nanoseconds
		ts /= 1e6
	}
	if ts <= 0 {
		ts = received.UnixMilli()
	}

	return []models.PriceTick{{
		Symbol:      symbols.ToCanonical("kucoin", symbol),
		Price:       price,
		TimestampMs: ts,
	}}
}
