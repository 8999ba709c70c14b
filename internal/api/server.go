package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	appconfig "tickflow/config"
	"tickflow/internal/cache"
	"tickflow/internal/channel"
	"tickflow/internal/feed"
	"tickflow/internal/models"
	"tickflow/internal/persistence"
	"tickflow/logger"
)

// Server hosts the narrow HTTP contract the pipeline exposes: cached price
// reads, batch price submission, and feed/persistence health.
type Server struct {
	cfg        appconfig.APIConfig
	log        *logger.Log
	cache      *cache.PriceCache
	flusher    *persistence.Flusher
	exec       *persistence.Executor
	ping       func(ctx context.Context) error
	channels   *channel.Channels
	feeds      map[string]*feed.Manager
	httpServer *http.Server
}

// NewServer constructs the API server when the feature is enabled; it
// returns nil otherwise. ping is the storage health probe run by the health
// endpoint; a successful probe clears degraded mode.
func NewServer(cfg appconfig.APIConfig, c *cache.PriceCache, f *persistence.Flusher, exec *persistence.Executor, ping func(ctx context.Context) error, ch *channel.Channels, feeds map[string]*feed.Manager) *Server {
	if !cfg.Enabled {
		return nil
	}
	cfg.Address = normalizeAddress(cfg.Address)
	return &Server{
		cfg:      cfg,
		log:      logger.GetLogger(),
		cache:    c,
		flusher:  f,
		exec:     exec,
		ping:     ping,
		channels: ch,
		feeds:    feeds,
	}
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the server fails.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	router, err := s.buildRouter()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: router,
	}

	s.log.WithComponent("api").WithField("address", s.cfg.Address).Info("api server starting")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// Address reports the normalized listen address.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/api/prices", s.handleGetPrices)
	router.GET("/api/prices/:symbol", s.handleGetPrice)
	router.POST("/api/prices", s.handlePostPrices)
	router.GET("/api/feeds", s.handleGetFeeds)
	router.GET("/api/health", s.handleGetHealth)
	return router, nil
}

func (s *Server) handleGetPrices(c *gin.Context) {
	includeExpired := c.Query("include_expired") == "true"
	entries := s.cache.GetAll(includeExpired)
	c.JSON(http.StatusOK, gin.H{"prices": entries, "count": len(entries)})
}

func (s *Server) handleGetPrice(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	entry, found := s.cache.Get(symbol)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "symbol not cached or expired", "symbol": symbol})
		return
	}
	c.JSON(http.StatusOK, entry)
}

type priceSubmission struct {
	Symbol      string  `json:"symbol" binding:"required"`
	Price       float64 `json:"price" binding:"required"`
	TimestampMs int64   `json:"timestamp_ms"`
}

func (s *Server) handlePostPrices(c *gin.Context) {
	var submissions []priceSubmission
	if err := c.ShouldBindJSON(&submissions); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ticks := make([]models.PriceTick, 0, len(submissions))
	for _, sub := range submissions {
		if sub.Price <= 0 {
			continue
		}
		ts := sub.TimestampMs
		if ts <= 0 {
			ts = time.Now().UnixMilli()
		}
		ticks = append(ticks, models.PriceTick{
			Symbol:      strings.ToUpper(sub.Symbol),
			Price:       sub.Price,
			TimestampMs: ts,
		})
	}
	if len(ticks) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no valid price updates in request"})
		return
	}

	s.cache.BatchUpsert(ticks)
	if s.flusher != nil {
		s.flusher.AddTicks(ticks)
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": len(ticks)})
}

func (s *Server) handleGetFeeds(c *gin.Context) {
	statuses := make([]gin.H, 0, len(s.feeds))
	for exchange, manager := range s.feeds {
		status := gin.H{
			"exchange": exchange,
			"state":    manager.State().String(),
			"symbols":  manager.Symbols(),
		}
		if err := manager.LastError(); err != nil {
			status["last_error"] = err.Error()
		}
		statuses = append(statuses, status)
	}
	c.JSON(http.StatusOK, gin.H{"feeds": statuses})
}

func (s *Server) handleGetHealth(c *gin.Context) {
	healthy := true
	payload := gin.H{
		"cached_symbols": s.cache.Len(),
	}

	if s.exec != nil && s.ping != nil {
		if err := s.exec.HealthCheck(c.Request.Context(), s.ping); err != nil {
			payload["storage_error"] = err.Error()
		}
	}

	if s.exec != nil {
		breaker := s.exec.Breaker()
		payload["circuit"] = breaker.Status().String()
		payload["degraded"] = s.exec.Degraded()
		if breaker.IsOpen() || s.exec.Degraded() {
			healthy = false
		}
	}
	if s.flusher != nil {
		payload["pending_updates"] = s.flusher.PendingCount()
	}
	if s.channels != nil {
		payload["channels"] = s.channels.GetStats()
	}

	payload["status"] = "ok"
	code := http.StatusOK
	if !healthy {
		payload["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, payload)
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
