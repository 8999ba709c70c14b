package warmup

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"

	appconfig "tickflow/config"
	"tickflow/internal/cache"
	"tickflow/internal/models"
	"tickflow/internal/symbols"
	"tickflow/logger"
)

// priceLister is the slice of the Binance REST client the warmup needs.
type priceLister interface {
	list(ctx context.Context) ([]*binance.SymbolPrice, error)
}

type binanceLister struct {
	client *binance.Client
}

func (l *binanceLister) list(ctx context.Context) ([]*binance.SymbolPrice, error) {
	return l.client.NewListPricesService().Do(ctx)
}

// Warmer preloads the price cache from the Binance REST ticker endpoint so
// trading evaluation has data before the first websocket tick lands.
type Warmer struct {
	cfg     appconfig.WarmupConfig
	cache   *cache.PriceCache
	lister  priceLister
	limiter *rate.Limiter
	log     *logger.Log
	wanted  map[string]struct{}
}

// New builds a warmer restricted to the given canonical symbols; an empty
// set preloads everything the endpoint returns.
func New(cfg appconfig.WarmupConfig, c *cache.PriceCache, wanted []string) *Warmer {
	rps := cfg.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}

	wantedSet := make(map[string]struct{}, len(wanted))
	for _, sym := range wanted {
		wantedSet[sym] = struct{}{}
	}

	return &Warmer{
		cfg:     cfg,
		cache:   c,
		lister:  &binanceLister{client: binance.NewClient("", "")},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     logger.GetLogger(),
		wanted:  wantedSet,
	}
}

// Run fetches the full ticker list once and seeds the cache. Failures are
// logged and returned but never fatal: the websocket feeds fill the cache
// anyway, just later.
func (w *Warmer) Run(ctx context.Context) error {
	if !w.cfg.Enabled {
		return nil
	}

	timeout := w.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := w.log.WithComponent("warmup")

	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}
	prices, err := w.lister.list(ctx)
	if err != nil {
		log.WithError(err).Warn("price preload failed, cache starts cold")
		return err
	}

	now := time.Now().UnixMilli()
	ticks := make([]models.PriceTick, 0, len(w.wanted))
	for _, entry := range prices {
		// USDT pairs only, to avoid cross rates shadowing the USD price
		if !strings.HasSuffix(entry.Symbol, "USDT") {
			continue
		}
		canonical := symbols.ToCanonical("binance", entry.Symbol)
		if len(w.wanted) > 0 {
			if _, ok := w.wanted[canonical]; !ok {
				continue
			}
		}
		price, err := strconv.ParseFloat(entry.Price, 64)
		if err != nil || price <= 0 {
			continue
		}
		ticks = append(ticks, models.PriceTick{
			Symbol:      canonical,
			Price:       price,
			TimestampMs: now,
		})
	}

	w.cache.BatchUpsert(ticks)
	log.WithFields(logger.Fields{"symbols": len(ticks)}).Info("price cache preloaded")
	return nil
}
