package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	appconfig "tickflow/config"
	"tickflow/internal/models"
	"tickflow/logger"
)

// PriceStore is the write half of the storage collaborator.
type PriceStore interface {
	Write(ctx context.Context, updates []models.PriceUpdate) error
	Ping(ctx context.Context) error
}

// flushReceipt is the response payload cached for degraded-mode reads.
type flushReceipt struct {
	Written   int       `json:"written"`
	FlushedAt time.Time `json:"flushed_at"`
}

// Flusher accumulates price updates and writes them through the executor on
// a fixed interval or when the pending set reaches its size cap. Only the
// freshest update per symbol is kept; older pending updates for the same
// symbol are overwritten, not queued.
type Flusher struct {
	cfg   appconfig.PersistenceConfig
	store PriceStore
	exec  *Executor
	log   *logger.Log

	mu      sync.Mutex
	pending map[string]models.PriceUpdate

	// flushMu guarantees at most one in-flight flush; a tick that fires
	// while a flush is still running is skipped, not queued.
	flushMu sync.Mutex

	kick    chan struct{}
	cancel  context.CancelFunc
	running bool
	runMu   sync.Mutex
	wg      sync.WaitGroup
}

func NewFlusher(cfg appconfig.PersistenceConfig, store PriceStore, exec *Executor) *Flusher {
	return &Flusher{
		cfg:     cfg,
		store:   store,
		exec:    exec,
		log:     logger.GetLogger(),
		pending: make(map[string]models.PriceUpdate),
		kick:    make(chan struct{}, 1),
	}
}

func (f *Flusher) maxPending() int {
	if f.cfg.MaxPending <= 0 {
		return 20
	}
	return f.cfg.MaxPending
}

// AddUpdate stores the latest update for a symbol. Reaching the pending cap
// triggers an early flush.
func (f *Flusher) AddUpdate(symbol string, price float64, timestampMs int64) {
	if symbol == "" || price <= 0 {
		return
	}

	f.mu.Lock()
	f.pending[symbol] = models.PriceUpdate{Symbol: symbol, Price: price, TimestampMs: timestampMs}
	full := len(f.pending) >= f.maxPending()
	f.mu.Unlock()

	if full {
		select {
		case f.kick <- struct{}{}:
		default:
		}
	}
}

// AddTicks feeds a normalized batch into the pending set.
func (f *Flusher) AddTicks(ticks []models.PriceTick) {
	for _, tick := range ticks {
		f.AddUpdate(tick.Symbol, tick.Price, tick.TimestampMs)
	}
}

// ConsumeBatches drains normalized batches into the pending set until the
// channel closes or the context is cancelled.
func (f *Flusher) ConsumeBatches(ctx context.Context, batches <-chan models.TickBatch) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-batches:
			if !ok {
				return
			}
			f.AddTicks(batch.Ticks)
		}
	}
}

// PendingCount reports the current pending set size.
func (f *Flusher) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// Start launches the interval flush loop and the degraded-mode health probe.
func (f *Flusher) Start(ctx context.Context) error {
	f.runMu.Lock()
	if f.running {
		f.runMu.Unlock()
		return fmt.Errorf("flusher already running")
	}
	f.running = true
	ctx, f.cancel = context.WithCancel(ctx)
	f.runMu.Unlock()

	interval := f.cfg.FlushInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	f.wg.Add(2)
	go f.run(ctx, interval)
	go f.healthLoop(ctx)

	f.log.WithComponent("flusher").WithFields(logger.Fields{
		"interval":    interval.String(),
		"max_pending": f.maxPending(),
	}).Info("persistence flusher started")
	return nil
}

// Stop flushes once more and shuts the loops down.
func (f *Flusher) Stop() {
	f.runMu.Lock()
	if !f.running {
		f.runMu.Unlock()
		return
	}
	f.running = false
	cancel := f.cancel
	f.runMu.Unlock()

	if cancel != nil {
		cancel()
	}
	f.wg.Wait()

	// best-effort final flush with a fresh context
	ctx, cancelFlush := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFlush()
	f.Flush(ctx)
	f.log.WithComponent("flusher").Info("persistence flusher stopped")
}

func (f *Flusher) run(ctx context.Context, interval time.Duration) {
	defer f.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Flush(ctx)
		case <-f.kick:
			f.Flush(ctx)
		}
	}
}

// healthLoop probes storage while degraded mode is active; a successful
// probe is the only way degraded mode clears.
func (f *Flusher) healthLoop(ctx context.Context) {
	defer f.wg.Done()

	interval := f.cfg.CircuitBreaker.RecoveryTimeout
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !f.exec.Degraded() {
				continue
			}
			if err := f.exec.HealthCheck(ctx, f.store.Ping); err != nil {
				f.log.WithComponent("flusher").WithError(err).Debug("storage health check failed")
			}
		}
	}
}

// Flush writes the pending set through the executor. Overlapping calls are
// skipped rather than serialized. Pending updates are only removed after a
// genuine write; cache-served fallbacks leave them for the next tick.
func (f *Flusher) Flush(ctx context.Context) error {
	if !f.flushMu.TryLock() {
		return nil
	}
	defer f.flushMu.Unlock()

	f.mu.Lock()
	if len(f.pending) == 0 {
		f.mu.Unlock()
		return nil
	}
	snapshot := make(map[string]models.PriceUpdate, len(f.pending))
	for symbol, update := range f.pending {
		snapshot[symbol] = update
	}
	f.mu.Unlock()

	updates := make([]models.PriceUpdate, 0, len(snapshot))
	for _, update := range snapshot {
		updates = append(updates, update)
	}

	op := func(ctx context.Context) ([]byte, error) {
		if err := f.store.Write(ctx, updates); err != nil {
			return nil, err
		}
		return json.Marshal(flushReceipt{Written: len(updates), FlushedAt: time.Now().UTC()})
	}

	result, err := f.exec.ExecuteWithFallback(ctx, "flush_prices", op, nil, "flush_prices", f.cfg.Retry.MaxAttempts)
	if err != nil {
		f.log.WithComponent("flusher").WithError(err).WithFields(logger.Fields{
			"pending": len(updates),
		}).Warn("flush failed, updates retained")
		return err
	}
	if result.FromCache {
		// breaker open or retries exhausted; keep the pending set intact
		return nil
	}

	// drop only the entries we actually wrote; updates that arrived during
	// the flush stay pending
	f.mu.Lock()
	for symbol, written := range snapshot {
		if current, ok := f.pending[symbol]; ok && current == written {
			delete(f.pending, symbol)
		}
	}
	f.mu.Unlock()

	f.log.WithComponent("flusher").WithFields(logger.Fields{
		"written": len(updates),
	}).Debug("pending updates flushed")
	return nil
}
