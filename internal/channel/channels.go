package channel

import (
	"context"
	"sync"
	"time"

	"tickflow/internal/metrics"
	"tickflow/internal/models"
	"tickflow/logger"
)

// ChannelStats tracks enqueue/dropped counters.
type ChannelStats struct {
	RawSent     int64
	NormSent    int64
	RawDropped  int64
	NormDropped int64
}

// Channels exposes the raw frame stream and the normalized tick stream that
// connect the exchange feeds to the normalizer and the cache pipeline.
type Channels struct {
	Raw  chan models.RawFeedMessage
	Norm chan models.TickBatch

	stats ChannelStats
	mu    sync.RWMutex
	log   *logger.Log
}

// NewChannels allocates buffered channels for price ingestion.
func NewChannels(rawBufferSize, normBufferSize int) *Channels {
	log := logger.GetLogger()
	ch := &Channels{
		Raw:  make(chan models.RawFeedMessage, rawBufferSize),
		Norm: make(chan models.TickBatch, normBufferSize),
		log:  log,
	}

	log.WithComponent("price_channels").WithFields(logger.Fields{
		"raw_buffer_size":  rawBufferSize,
		"norm_buffer_size": normBufferSize,
	}).Info("price channels initialized")

	return ch
}

// StartMetricsReporting emits buffer occupancy gauges until the context is
// cancelled. When interval <= 0 a one-second cadence is used.
func (c *Channels) StartMetricsReporting(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reportBufferMetrics()
		}
	}
}

func (c *Channels) reportBufferMetrics() {
	metrics.EmitMetric(c.log, "channel_buffers", "raw_buffer_length", len(c.Raw), "gauge", logger.Fields{
		"buffer":   "raw",
		"capacity": cap(c.Raw),
	})
	metrics.EmitMetric(c.log, "channel_buffers", "norm_buffer_length", len(c.Norm), "gauge", logger.Fields{
		"buffer":   "norm",
		"capacity": cap(c.Norm),
	})
}

// Close closes both raw and normalized channels.
func (c *Channels) Close() {
	close(c.Raw)
	close(c.Norm)
	c.log.WithComponent("price_channels").Info("price channels closed")
}

// SendRaw enqueues a raw exchange frame. It never blocks: when the buffer is
// full the message is dropped and the drop counter incremented.
func (c *Channels) SendRaw(ctx context.Context, msg models.RawFeedMessage) bool {
	select {
	case c.Raw <- msg:
		c.incrementRawSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.incrementRawDropped()
		metrics.EmitDropMetric(c.log, metrics.DropMetricRawFrame, msg.Exchange, "raw")
		return false
	}
}

// SendNorm enqueues a normalized tick batch for downstream consumers.
func (c *Channels) SendNorm(ctx context.Context, batch models.TickBatch) bool {
	select {
	case c.Norm <- batch:
		c.incrementNormSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.incrementNormDropped()
		metrics.EmitDropMetric(c.log, metrics.DropMetricNormBatch, batch.Exchange, "norm")
		return false
	}
}

// GetStats returns a snapshot of the telemetry counters.
func (c *Channels) GetStats() ChannelStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

func (c *Channels) incrementRawSent() {
	c.mu.Lock()
	c.stats.RawSent++
	c.mu.Unlock()
}

func (c *Channels) incrementNormSent() {
	c.mu.Lock()
	c.stats.NormSent++
	c.mu.Unlock()
}

func (c *Channels) incrementRawDropped() {
	c.mu.Lock()
	c.stats.RawDropped++
	c.mu.Unlock()
}

func (c *Channels) incrementNormDropped() {
	c.mu.Lock()
	c.stats.NormDropped++
	c.mu.Unlock()
}
