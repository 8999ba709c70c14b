package trading

import (
	"context"
	"fmt"
	"sync"
	"time"

	appconfig "tickflow/config"
	"tickflow/internal/cache"
	"tickflow/internal/models"
	"tickflow/logger"

	"github.com/google/uuid"
)

// Executor receives trade intents. The live implementation submits orders;
// the pipeline itself never executes trades.
type Executor interface {
	Execute(ctx context.Context, intent models.TradeIntent) error
}

// Monitor periodically evaluates the configured positions against the price
// cache and forwards any resulting intents to the executor.
type Monitor struct {
	config   appconfig.TradingConfig
	cache    *cache.PriceCache
	executor Executor
	log      *logger.Log
	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewMonitor(cfg appconfig.TradingConfig, c *cache.PriceCache, executor Executor) *Monitor {
	return &Monitor{
		config:   cfg,
		cache:    c,
		executor: executor,
		log:      logger.GetLogger(),
	}
}

// Start launches the evaluation loop.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("trade monitor already running")
	}
	m.running = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	interval := m.config.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	m.wg.Add(1)
	go m.run(ctx, interval)

	m.log.WithComponent("trade_monitor").WithFields(logger.Fields{
		"positions": len(m.config.Positions),
		"interval":  interval.String(),
	}).Info("trade monitor started")
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.log.WithComponent("trade_monitor").Info("trade monitor stopped")
}

func (m *Monitor) run(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.EvaluateOnce(ctx)
		}
	}
}

// EvaluateOnce runs one evaluation pass over all configured positions.
func (m *Monitor) EvaluateOnce(ctx context.Context) {
	log := m.log.WithComponent("trade_monitor")

	for _, pos := range m.config.Positions {
		entry, found := m.cache.Get(pos.Symbol)
		if !found {
			continue
		}

		intent := Evaluate(entry, pos.PurchasePrice, pos.BuyThresholdPercent,
			pos.SellThresholdPercent, models.TradeAction(pos.NextAction))
		if intent == nil {
			continue
		}

		intent.ID = uuid.NewString()
		intent.CreatedAt = time.Now().UTC()

		fields := logger.Fields{
			"intent_id": intent.ID,
			"symbol":    intent.Symbol,
			"action":    intent.Action,
			"price":     intent.CurrentPrice,
			"reason":    intent.Reason,
		}
		if intent.Reason == reasonCostBasisMissing {
			log.WithFields(fields).Warn("trade intent emitted without a cost basis")
		} else {
			log.WithFields(fields).Info("trade intent emitted")
		}

		if m.executor == nil {
			continue
		}
		if err := m.executor.Execute(ctx, *intent); err != nil {
			log.WithFields(fields).WithError(err).Error("trade executor rejected intent")
			continue
		}
		m.log.LogMetric("trade_monitor", "trade_intents", 1, "Count", logger.Fields{
			"symbol": intent.Symbol,
			"action": string(intent.Action),
		})
	}
}
