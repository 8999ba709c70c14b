package normalizer

import (
	"encoding/json"
	"strconv"
	"time"

	"tickflow/internal/models"
	"tickflow/logger"
)

// decoder pairs a structural predicate with the decode function for one wire
// variant. Dispatch tries decoders in order and stops at the first match, so
// newer protocol shapes are listed before legacy ones.
type decoder struct {
	name   string
	match  func(frame []byte) bool
	decode func(frame []byte, received time.Time) []models.PriceTick
}

// Normalizer maps raw exchange frames to canonical price ticks. It is
// stateless apart from its logger; decoding never fails open: an unrecognized
// shape yields no ticks.
type Normalizer struct {
	log      *logger.Log
	decoders map[string][]decoder
}

// New builds a normalizer with the decoder chains for all supported
// exchanges.
func New() *Normalizer {
	n := &Normalizer{
		log:      logger.GetLogger(),
		decoders: make(map[string][]decoder),
	}
	n.decoders["binance"] = n.binanceDecoders()
	n.decoders["kraken"] = n.krakenDecoders()
	n.decoders["kucoin"] = n.kucoinDecoders()
	n.decoders["bybit"] = n.bybitDecoders()
	return n
}

// Normalize decodes one raw frame into zero or more canonical ticks.
// Control frames (acks, heartbeats, pongs) and unrecognized shapes return an
// empty result; error frames are logged but also produce no ticks.
func (n *Normalizer) Normalize(msg models.RawFeedMessage) []models.PriceTick {
	chain, ok := n.decoders[msg.Exchange]
	if !ok {
		n.log.WithComponent("normalizer").WithFields(logger.Fields{
			"exchange": msg.Exchange,
		}).Warn("no decoders registered for exchange")
		return nil
	}

	received := msg.Received
	if received.IsZero() {
		received = time.Now().UTC()
	}

	for _, d := range chain {
		if !d.match(msg.Payload) {
			continue
		}
		return d.decode(msg.Payload, received)
	}

	n.log.WithComponent("normalizer").WithFields(logger.Fields{
		"exchange":      msg.Exchange,
		"payload_bytes": len(msg.Payload),
	}).Debug("unrecognized frame shape dropped")
	return nil
}

// reportErrorFrame surfaces protocol-level error frames without producing a
// tick.
func (n *Normalizer) reportErrorFrame(exchange, detail string) {
	n.log.WithComponent("normalizer").WithFields(logger.Fields{
		"exchange": exchange,
		"detail":   detail,
	}).Warn("exchange reported error frame")
}

// asFloat converts the price encodings seen across exchanges (JSON strings,
// numbers) to a float64. Anything unparseable yields 0.
func asFloat(v interface{}) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0
		}
		return f
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// pickPrice applies the price extraction policy: last trade price when
// present, otherwise the bid/ask midpoint, otherwise zero (no tick).
func pickPrice(last, bid, ask float64) float64 {
	if last > 0 {
		return last
	}
	if bid > 0 && ask > 0 {
		return (bid + ask) / 2
	}
	return 0
}

// firstOf returns the first element of a Kraken-style [price, volume, ...]
// array, tolerating missing or malformed entries.
func firstOf(arr []interface{}) float64 {
	if len(arr) == 0 {
		return 0
	}
	return asFloat(arr[0])
}

func hasKeys(frame []byte, keys ...string) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(frame, &probe); err != nil {
		return false
	}
	for _, key := range keys {
		if _, ok := probe[key]; !ok {
			return false
		}
	}
	return true
}

func isArray(frame []byte) bool {
	for _, b := range frame {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}
