package models

import "time"

// PriceTick is one normalized price observation for a canonical symbol.
// Produced by the normalizer, consumed by the cache and persistence layers.
type PriceTick struct {
	Symbol      string  `json:"symbol"`
	Price       float64 `json:"price"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// Time returns the tick timestamp as a time.Time in UTC.
func (t PriceTick) Time() time.Time {
	return time.UnixMilli(t.TimestampMs).UTC()
}

// RawFeedMessage carries one undecoded frame from an exchange feed.
type RawFeedMessage struct {
	Exchange string    `json:"exchange"`
	Payload  []byte    `json:"payload"`
	Received time.Time `json:"received"`
}

// TickBatch groups the ticks decoded from a single raw frame.
type TickBatch struct {
	Exchange string      `json:"exchange"`
	Source   string      `json:"source"`
	Ticks    []PriceTick `json:"ticks"`
}

// CacheEntry is the cached state for one symbol. PreviousPrice holds the
// price that was replaced by the latest upsert; HasPrevious distinguishes a
// genuine zero from "never replaced".
type CacheEntry struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	TimestampMs   int64   `json:"timestamp_ms"`
	PreviousPrice float64 `json:"previous_price,omitempty"`
	HasPrevious   bool    `json:"has_previous"`
}

// PriceUpdate is one pending write destined for the backing store.
type PriceUpdate struct {
	Symbol      string  `json:"symbol"`
	Price       float64 `json:"price"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// TradeAction identifies the side of a trade intent.
type TradeAction string

const (
	TradeActionBuy  TradeAction = "buy"
	TradeActionSell TradeAction = "sell"
)

// TradeIntent is the evaluator's output, handed to an external executor.
// It is not persisted by this pipeline.
type TradeIntent struct {
	ID               string      `json:"id"`
	Symbol           string      `json:"symbol"`
	Action           TradeAction `json:"action"`
	CurrentPrice     float64     `json:"current_price"`
	PurchasePrice    float64     `json:"purchase_price"`
	ThresholdPercent float64     `json:"threshold_percent"`
	Reason           string      `json:"reason"`
	CreatedAt        time.Time   `json:"created_at"`
}
