package normalizer

import (
	"encoding/json"
	"time"

	"tickflow/internal/models"
	"tickflow/internal/symbols"
)

// binanceTickerPayload covers both the full 24hrTicker event and the
// miniTicker variant; the fields we read are common to both.
type binanceTickerPayload struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	LastPrice string `json:"c"`
	BidPrice  string `json:"b"`
	AskPrice  string `json:"a"`
}

type binanceStreamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type binanceErrorPayload struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// binanceDecoders lists the wire variants Binance has shipped for ticker
// streams: the combined-stream envelope, the flat event object, and the
// all-market array frame. Subscribe acks and error frames decode to nothing.
func (n *Normalizer) binanceDecoders() []decoder {
	return []decoder{
		{
			name:   "combined_stream_envelope",
			match:  func(frame []byte) bool { return hasKeys(frame, "stream", "data") },
			decode: n.decodeBinanceEnvelope,
		},
		{
			name:   "ticker_array",
			match:  isArray,
			decode: n.decodeBinanceTickerArray,
		},
		{
			name:   "flat_ticker",
			match:  func(frame []byte) bool { return hasKeys(frame, "e", "s") },
			decode: n.decodeBinanceTicker,
		},
		{
			name:  "error_frame",
			match: func(frame []byte) bool { return hasKeys(frame, "code", "msg") },
			decode: func(frame []byte, _ time.Time) []models.PriceTick {
				var payload binanceErrorPayload
				if err := json.Unmarshal(frame, &payload); err == nil {
					n.reportErrorFrame("binance", payload.Msg)
				}
				return nil
			},
		},
		{
			// subscribe/unsubscribe acknowledgement: {"result":null,"id":1}
			name:   "command_ack",
			match:  func(frame []byte) bool { return hasKeys(frame, "id") },
			decode: func([]byte, time.Time) []models.PriceTick { return nil },
		},
	}
}

func (n *Normalizer) decodeBinanceEnvelope(frame []byte, received time.Time) []models.PriceTick {
	var envelope binanceStreamEnvelope
	if err := json.Unmarshal(frame, &envelope); err != nil || len(envelope.Data) == 0 {
		return nil
	}
	if isArray(envelope.Data) {
		return n.decodeBinanceTickerArray(envelope.Data, received)
	}
	return n.decodeBinanceTicker(envelope.Data, received)
}

func (n *Normalizer) decodeBinanceTicker(frame []byte, received time.Time) []models.PriceTick {
	var payload binanceTickerPayload
	if err := json.Unmarshal(frame, &payload); err != nil {
		return nil
	}
	tick, ok := binanceTick(payload, received)
	if !ok {
		return nil
	}
	return []models.PriceTick{tick}
}

func (n *Normalizer) decodeBinanceTickerArray(frame []byte, received time.Time) []models.PriceTick {
	var payloads []binanceTickerPayload
	if err := json.Unmarshal(frame, &payloads); err != nil {
		return nil
	}
	ticks := make([]models.PriceTick, 0, len(payloads))
	for _, payload := range payloads {
		if tick, ok := binanceTick(payload, received); ok {
			ticks = append(ticks, tick)
		}
	}
	return ticks
}

func binanceTick(payload binanceTickerPayload, received time.Time) (models.PriceTick, bool) {
	if payload.Symbol == "" {
		return models.PriceTick{}, false
	}

	price := pickPrice(asFloat(payload.LastPrice), asFloat(payload.BidPrice), asFloat(payload.AskPrice))
	if price <= 0 {
		return models.PriceTick{}, false
	}

	ts := payload.EventTime
	if ts <= 0 {
		ts = received.UnixMilli()
	}

	return models.PriceTick{
		Symbol:      symbols.ToCanonical("binance", payload.Symbol),
		Price:       price,
		TimestampMs: ts,
	}, true
}
