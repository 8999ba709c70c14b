package processor

import (
	"context"
	"fmt"
	"sync"

	"tickflow/internal/cache"
	"tickflow/internal/channel"
	"tickflow/internal/models"
	"tickflow/internal/normalizer"
	"tickflow/logger"
)

// Processor consumes raw feed frames, normalizes them into canonical ticks,
// upserts the price cache, and forwards the batch on the normalized channel
// for the persistence consumer. One worker is enough per the concurrency
// model: decoding is cheap and storage latency is decoupled downstream.
type Processor struct {
	channels   *channel.Channels
	normalizer *normalizer.Normalizer
	cache      *cache.PriceCache

	ctx     context.Context
	mu      sync.Mutex
	running bool
	log     *logger.Log
	wg      sync.WaitGroup
}

func New(ch *channel.Channels, n *normalizer.Normalizer, c *cache.PriceCache) *Processor {
	return &Processor{
		channels:   ch,
		normalizer: n,
		cache:      c,
		log:        logger.GetLogger(),
	}
}

// Start launches the raw-channel worker.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("processor already running")
	}
	p.running = true
	p.ctx = ctx
	p.mu.Unlock()

	p.wg.Add(1)
	go p.worker(ctx)

	p.log.WithComponent("processor").Info("tick processor started")
	return nil
}

// Stop waits for the worker to drain.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
	p.log.WithComponent("processor").Info("tick processor stopped")
}

func (p *Processor) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-p.channels.Raw:
			if !ok {
				return
			}
			p.handle(ctx, msg)
		}
	}
}

// handle runs one frame through the pipeline. Malformed frames are logged
// and dropped; they never crash the worker.
func (p *Processor) handle(ctx context.Context, msg models.RawFeedMessage) {
	ticks := p.normalizer.Normalize(msg)
	if len(ticks) == 0 {
		return
	}

	p.cache.BatchUpsert(ticks)

	p.channels.SendNorm(ctx, models.TickBatch{
		Exchange: msg.Exchange,
		Source:   "websocket",
		Ticks:    ticks,
	})

	p.log.LogMetric("processor", "ticks_normalized", len(ticks), "Count", logger.Fields{
		"exchange": msg.Exchange,
	})
}
