package bybit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	appconfig "tickflow/config"
	"tickflow/internal/channel"
	"tickflow/internal/models"
	"tickflow/logger"

	bybit_connector "github.com/bybit-exchange/bybit.go.api"
)

// Reader streams ticker frames from Bybit public websockets through the
// exchange SDK and forwards the raw payloads to the shared channel layer.
// Unlike the generic feed managers, reconnect handling lives inside the SDK
// client.
type Reader struct {
	config   appconfig.BybitFeedConfig
	channels *channel.Channels
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
	ws       *bybit_connector.WebSocket
}

// NewReader builds a reader for the configured category and symbols.
func NewReader(cfg appconfig.BybitFeedConfig, ch *channel.Channels) *Reader {
	return &Reader{
		config:   cfg,
		channels: ch,
		log:      logger.GetLogger(),
	}
}

// Start establishes the websocket connection and ticker subscriptions.
func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("bybit ticker reader already running")
	}
	r.running = true
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	if !r.config.Enabled {
		return fmt.Errorf("bybit ticker feed disabled via configuration")
	}
	if len(r.config.Symbols) == 0 {
		return fmt.Errorf("no symbols configured for bybit ticker reader")
	}

	category := strings.TrimSpace(r.config.Category)
	if category == "" {
		category = "linear"
	}

	args := tickerTopics(r.config.Symbols)

	wsURL := r.config.URL
	if wsURL == "" {
		wsURL = fmt.Sprintf("wss://stream.bybit.com/v5/public/%s", category)
	}

	handler := func(message string) error {
		r.channels.SendRaw(r.ctx, models.RawFeedMessage{
			Exchange: "bybit",
			Payload:  []byte(message),
			Received: time.Now().UTC(),
		})
		return nil
	}

	ws := bybit_connector.NewBybitPublicWebSocket(wsURL, handler)
	if ws == nil {
		return fmt.Errorf("failed to create bybit websocket client")
	}

	if ws.Connect() == nil {
		return fmt.Errorf("failed to connect to bybit websocket")
	}

	if _, err := ws.SendSubscription(args); err != nil {
		return fmt.Errorf("failed to subscribe to bybit tickers: %w", err)
	}

	r.mu.Lock()
	r.ws = ws
	r.mu.Unlock()
	go r.monitorContext()

	r.log.WithComponent("bybit_reader").WithFields(logger.Fields{
		"symbols":  r.config.Symbols,
		"category": category,
	}).Info("bybit ticker reader started")
	return nil
}

// Stop disconnects the websocket and cancels background workers.
func (r *Reader) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	ws := r.ws
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ws != nil {
		ws.Disconnect()
	}
	r.log.WithComponent("bybit_reader").Info("bybit ticker reader stopped")
}

// tickerTopics builds v5 subscription args from canonical base symbols.
// Symbols already carrying the USDT suffix are accepted without doubling it.
func tickerTopics(symbols []string) []string {
	topics := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		base := strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(sym)), "USDT")
		topics = append(topics, "tickers."+base+"USDT")
	}
	return topics
}

func (r *Reader) monitorContext() {
	<-r.ctx.Done()
	r.Stop()
}
