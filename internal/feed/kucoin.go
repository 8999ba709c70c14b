package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	appconfig "tickflow/config"
	"tickflow/internal/symbols"
	"tickflow/logger"

	"github.com/google/uuid"
)

const kucoinRESTURL = "https://api-futures.kucoin.com"

// kucoinBulletResponse is the public token handshake reply. The websocket
// endpoint is per-session: KuCoin hands out a server plus a token that must
// be joined into the connect URL.
type kucoinBulletResponse struct {
	Code string `json:"code"`
	Data struct {
		Token           string `json:"token"`
		InstanceServers []struct {
			Endpoint     string `json:"endpoint"`
			PingInterval int64  `json:"pingInterval"`
		} `json:"instanceServers"`
	} `json:"data"`
}

type kucoinCommand struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Topic    string `json:"topic,omitempty"`
	Response bool   `json:"response,omitempty"`
}

// contractResolver verifies a canonical symbol against the exchange and
// returns its native contract name.
type contractResolver interface {
	Resolve(ctx context.Context, canonical string) (string, error)
}

// KucoinAdapter speaks the KuCoin futures websocket protocol, including the
// bullet-public token handshake that precedes every connection. Subscribe
// topics use contract names validated through the futures REST API; when the
// lookup fails the static symbol mapping is used so a REST outage does not
// take the feed down with it.
type KucoinAdapter struct {
	cfg      appconfig.KucoinFeedConfig
	client   *http.Client
	resolver contractResolver

	mu        sync.Mutex
	contracts map[string]string
}

func NewKucoinAdapter(cfg appconfig.KucoinFeedConfig) *KucoinAdapter {
	return &KucoinAdapter{
		cfg:       cfg,
		client:    &http.Client{Timeout: 10 * time.Second},
		resolver:  symbols.NewKucoinResolver(cfg),
		contracts: make(map[string]string),
	}
}

func (a *KucoinAdapter) Name() string { return "kucoin" }

// Endpoint requests a public connect token and builds the session URL.
func (a *KucoinAdapter) Endpoint(ctx context.Context) (string, error) {
	if a.cfg.URL != "" {
		return a.cfg.URL, nil
	}

	restURL := a.cfg.RESTURL
	if restURL == "" {
		restURL = kucoinRESTURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, restURL+"/api/v1/bullet-public", nil)
	if err != nil {
		return "", fmt.Errorf("build bullet-public request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request connect token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bullet-public returned status %d", resp.StatusCode)
	}

	var bullet kucoinBulletResponse
	if err := json.NewDecoder(resp.Body).Decode(&bullet); err != nil {
		return "", fmt.Errorf("decode bullet-public response: %w", err)
	}
	if bullet.Code != "200000" || len(bullet.Data.InstanceServers) == 0 || bullet.Data.Token == "" {
		return "", fmt.Errorf("bullet-public handshake rejected: code=%s", bullet.Code)
	}

	server := bullet.Data.InstanceServers[0]
	return fmt.Sprintf("%s?token=%s&connectId=%s", server.Endpoint, bullet.Data.Token, uuid.NewString()), nil
}

func (a *KucoinAdapter) SubscribeFrames(syms []string) [][]byte {
	return a.commandFrames("subscribe", syms)
}

func (a *KucoinAdapter) UnsubscribeFrames(syms []string) [][]byte {
	return a.commandFrames("unsubscribe", syms)
}

func (a *KucoinAdapter) HeartbeatFrame() []byte {
	frame, err := json.Marshal(kucoinCommand{ID: uuid.NewString(), Type: "ping"})
	if err != nil {
		return nil
	}
	return frame
}

func (a *KucoinAdapter) DefaultSymbols() []string { return []string{"BTC"} }

// contractFor resolves the exchange-native contract name for a canonical
// symbol, caching successful lookups. Resolution failures fall back to the
// static mapping and are retried on the next subscribe.
func (a *KucoinAdapter) contractFor(sym string) string {
	a.mu.Lock()
	if contract, ok := a.contracts[sym]; ok {
		a.mu.Unlock()
		return contract
	}
	a.mu.Unlock()

	if a.resolver == nil {
		return symbols.ToKucoinContract(sym)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	contract, err := a.resolver.Resolve(ctx, sym)
	cancel()
	if err != nil {
		logger.GetLogger().WithComponent("kucoin_feed").WithError(err).WithFields(logger.Fields{
			"symbol": sym,
		}).Warn("contract lookup failed, using static mapping")
		return symbols.ToKucoinContract(sym)
	}

	a.mu.Lock()
	a.contracts[sym] = contract
	a.mu.Unlock()
	return contract
}

func (a *KucoinAdapter) commandFrames(command string, syms []string) [][]byte {
	frames := make([][]byte, 0, len(syms))
	for _, sym := range syms {
		frame, err := json.Marshal(kucoinCommand{
			ID:       uuid.NewString(),
			Type:     command,
			Topic:    "/contractMarket/tickerV2:" + a.contractFor(sym),
			Response: true,
		})
		if err != nil {
			continue
		}
		frames = append(frames, frame)
	}
	if len(frames) == 0 {
		return nil
	}
	return frames
}
