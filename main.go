package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"tickflow/config"
	"tickflow/internal/api"
	"tickflow/internal/cache"
	"tickflow/internal/channel"
	"tickflow/internal/feed"
	"tickflow/internal/feed/bybit"
	"tickflow/internal/normalizer"
	"tickflow/internal/persistence"
	"tickflow/internal/processor"
	"tickflow/internal/storage"
	"tickflow/internal/trading"
	"tickflow/internal/warmup"
	"tickflow/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Tickflow.Name,
		"version": cfg.Tickflow.Version,
	}).Info("starting tickflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Enabled {
		logger.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace, cfg.Metrics.Dashboard)
	}

	channels := channel.NewChannels(cfg.Channels.RawBuffer, cfg.Channels.NormBuffer)
	defer channels.Close()

	if cfg.Metrics.Enabled && cfg.Metrics.ChannelSize {
		go channels.StartMetricsReporting(ctx, 30*time.Second)
	}

	priceCache := cache.New(cfg.Cache.TTL)
	go sweepLoop(ctx, priceCache, cfg.Cache.SweepInterval)

	var store persistence.PriceStore
	if cfg.Storage.S3.Enabled {
		s3Store, err := storage.NewS3Store(ctx, cfg.Storage.S3)
		if err != nil {
			log.WithError(err).Error("failed to create S3 store")
			os.Exit(1)
		}
		store = s3Store
	} else {
		log.WithComponent("main").Info("S3 storage disabled; price updates will not be persisted")
		store = storage.NewLogStore()
	}

	var responseCache persistence.ResponseCache
	if cfg.Storage.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		responseCache = persistence.NewRedisResponseCache(client, cfg.Persistence.ResponseCacheTTL)
	} else {
		responseCache = persistence.NewMemoryResponseCache(cfg.Persistence.ResponseCacheTTL)
	}

	breaker := persistence.NewCircuitBreaker(cfg.Persistence.CircuitBreaker)
	exec := persistence.NewExecutor(breaker, responseCache, cfg.Persistence.Retry)
	flusher := persistence.NewFlusher(cfg.Persistence, store, exec)

	pingCtx, cancelPing := context.WithTimeout(ctx, 10*time.Second)
	if err := store.Ping(pingCtx); err != nil {
		log.WithError(err).Warn("storage unreachable at startup, entering degraded mode")
		exec.MarkDegraded()
	}
	cancelPing()

	proc := processor.New(channels, normalizer.New(), priceCache)

	warmer := warmup.New(cfg.Warmup, priceCache, positionSymbols(cfg.Trading.Positions))
	if err := warmer.Run(ctx); err != nil {
		log.WithError(err).Warn("cache warmup failed, starting with an empty cache")
	}

	feeds := make(map[string]*feed.Manager)
	var autoConnect []*feed.Manager
	if cfg.Feeds.Binance.Enabled {
		m := feed.NewManager(feed.NewBinanceAdapter(cfg.Feeds.Binance), cfg.Feeds.Binance, channels)
		feeds["binance"] = m
		if cfg.Feeds.Binance.AutoConnect {
			autoConnect = append(autoConnect, m)
		}
	}
	if cfg.Feeds.Kraken.Enabled {
		m := feed.NewManager(feed.NewKrakenAdapter(cfg.Feeds.Kraken), cfg.Feeds.Kraken, channels)
		feeds["kraken"] = m
		if cfg.Feeds.Kraken.AutoConnect {
			autoConnect = append(autoConnect, m)
		}
	}
	if cfg.Feeds.Kucoin.Enabled {
		m := feed.NewManager(feed.NewKucoinAdapter(cfg.Feeds.Kucoin), cfg.Feeds.Kucoin.FeedConfig, channels)
		feeds["kucoin"] = m
		if cfg.Feeds.Kucoin.AutoConnect {
			autoConnect = append(autoConnect, m)
		}
	}

	var bybitReader *bybit.Reader
	if cfg.Feeds.Bybit.Enabled {
		bybitReader = bybit.NewReader(cfg.Feeds.Bybit, channels)
	}

	monitor := trading.NewMonitor(cfg.Trading, priceCache, nil)
	server := api.NewServer(cfg.API, priceCache, flusher, exec, store.Ping, channels, feeds)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := proc.Start(ctx); err != nil {
			log.WithError(err).Warn("processor failed to start")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := flusher.Start(ctx); err != nil {
			log.WithError(err).Warn("flusher failed to start")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		flusher.ConsumeBatches(ctx, channels.Norm)
	}()

	for _, m := range autoConnect {
		wg.Add(1)
		go func(m *feed.Manager) {
			defer wg.Done()
			if err := m.Connect(ctx); err != nil {
				log.WithError(err).Warn("feed failed to connect")
			}
		}(m)
	}

	if bybitReader != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bybitReader.Start(ctx); err != nil {
				log.WithError(err).Warn("bybit reader failed to start")
			}
		}()
	}

	if cfg.Trading.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := monitor.Start(ctx); err != nil {
				log.WithError(err).Warn("trade monitor failed to start")
			}
		}()
	}

	if server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Run(ctx); err != nil {
				log.WithError(err).Warn("api server stopped with error")
			}
		}()
	}

	time.Sleep(2 * time.Second)
	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("closing feed connections")
	for _, m := range feeds {
		m.Close()
	}
	if bybitReader != nil {
		log.Info("stopping bybit reader")
		bybitReader.Stop()
	}

	log.Info("stopping processor")
	proc.Stop()

	if cfg.Trading.Enabled {
		log.Info("stopping trade monitor")
		monitor.Stop()
	}

	log.Info("stopping flusher")
	flusher.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("tickflow stopped")
}

// sweepLoop evicts expired cache entries so memory does not grow with
// symbols that stop updating. Reads already expire lazily; this only
// reclaims space.
func sweepLoop(ctx context.Context, c *cache.PriceCache, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				logger.GetLogger().WithComponent("price_cache").WithFields(logger.Fields{
					"evicted": n,
				}).Debug("expired cache entries swept")
			}
		}
	}
}

func positionSymbols(positions []config.PositionConfig) []string {
	symbols := make([]string, 0, len(positions))
	for _, pos := range positions {
		symbols = append(symbols, pos.Symbol)
	}
	return symbols
}
