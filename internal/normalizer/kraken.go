package normalizer

import (
	"encoding/json"
	"time"

	"tickflow/internal/models"
	"tickflow/internal/symbols"
)

// krakenV2Frame is the modern object-shaped ticker channel.
type krakenV2Frame struct {
	Channel string `json:"channel"`
	Type    string `json:"type"`
	Data    []struct {
		Symbol string  `json:"symbol"`
		Last   float64 `json:"last"`
		Bid    float64 `json:"bid"`
		Ask    float64 `json:"ask"`
	} `json:"data"`
}

// krakenEventFrame covers the v1 control frames: systemStatus, heartbeat and
// subscriptionStatus (which doubles as the error frame), plus the legacy
// envelope whose data field is a JSON-encoded string.
type krakenEventFrame struct {
	Event        string          `json:"event"`
	Status       string          `json:"status"`
	Pair         string          `json:"pair"`
	ErrorMessage string          `json:"errorMessage"`
	Data         json.RawMessage `json:"data"`
}

// krakenV1Ticker is the payload element of the array-encoded
// [channelID, data, channelName, pair] tuple.
type krakenV1Ticker struct {
	Close []interface{} `json:"c"`
	Bid   []interface{} `json:"b"`
	Ask   []interface{} `json:"a"`
}

// krakenDecoders lists Kraken's concurrent wire shapes, newest first: the v2
// ticker object, the v1 array tuple, and the legacy string-envelope that
// wraps a v1 tuple inside a JSON string.
func (n *Normalizer) krakenDecoders() []decoder {
	return []decoder{
		{
			name:   "v2_ticker",
			match:  func(frame []byte) bool { return hasKeys(frame, "channel", "data") },
			decode: n.decodeKrakenV2,
		},
		{
			name:   "v1_tuple",
			match:  isArray,
			decode: n.decodeKrakenTuple,
		},
		{
			name:   "event_frame",
			match:  func(frame []byte) bool { return hasKeys(frame, "event") },
			decode: n.decodeKrakenEvent,
		},
	}
}

func (n *Normalizer) decodeKrakenV2(frame []byte, received time.Time) []models.PriceTick {
	var payload krakenV2Frame
	if err := json.Unmarshal(frame, &payload); err != nil {
		return nil
	}
	if payload.Channel != "ticker" {
		// status/heartbeat channels carry no price data
		return nil
	}

	ticks := make([]models.PriceTick, 0, len(payload.Data))
	for _, entry := range payload.Data {
		price := pickPrice(entry.Last, entry.Bid, entry.Ask)
		if entry.Symbol == "" || price <= 0 {
			continue
		}
		ticks = append(ticks, models.PriceTick{
			Symbol:      symbols.ToCanonical("kraken", entry.Symbol),
			Price:       price,
			TimestampMs: received.UnixMilli(),
		})
	}
	return ticks
}

// decodeKrakenTuple handles [channelID, data, channelName, pair]. The tuple
// carries no timestamp, so the receive time is used.
func (n *Normalizer) decodeKrakenTuple(frame []byte, received time.Time) []models.PriceTick {
	var parts []json.RawMessage
	if err := json.Unmarshal(frame, &parts); err != nil || len(parts) < 4 {
		return nil
	}

	var channelName, pair string
	if err := json.Unmarshal(parts[2], &channelName); err != nil || channelName != "ticker" {
		return nil
	}
	if err := json.Unmarshal(parts[3], &pair); err != nil || pair == "" {
		return nil
	}

	var ticker krakenV1Ticker
	if err := json.Unmarshal(parts[1], &ticker); err != nil {
		return nil
	}

	price := pickPrice(firstOf(ticker.Close), firstOf(ticker.Bid), firstOf(ticker.Ask))
	if price <= 0 {
		return nil
	}

	return []models.PriceTick{{
		Symbol:      symbols.ToCanonical("kraken", pair),
		Price:       price,
		TimestampMs: received.UnixMilli(),
	}}
}

func (n *Normalizer) decodeKrakenEvent(frame []byte, received time.Time) []models.PriceTick {
	var payload krakenEventFrame
	if err := json.Unmarshal(frame, &payload); err != nil {
		return nil
	}

	switch payload.Event {
	case "data":
		// legacy envelope: data is a JSON string containing a v1 tuple
		var inner string
		if err := json.Unmarshal(payload.Data, &inner); err == nil {
			return n.decodeKrakenTuple([]byte(inner), received)
		}
		if isArray(payload.Data) {
			return n.decodeKrakenTuple(payload.Data, received)
		}
		return nil
	case "subscriptionStatus":
		if payload.Status == "error" || payload.ErrorMessage != "" {
			n.reportErrorFrame("kraken", payload.ErrorMessage)
		}
		return nil
	case "error":
		n.reportErrorFrame("kraken", payload.ErrorMessage)
		return nil
	default:
		// systemStatus, heartbeat, pong
		return nil
	}
}
