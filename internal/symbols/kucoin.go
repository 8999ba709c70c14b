package symbols

import (
	"context"
	"fmt"
	"strings"

	api "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/api"
	futuresmarket "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/generate/futures/market"
	sdktype "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/types"
	"golang.org/x/time/rate"

	appconfig "tickflow/config"
)

// KucoinResolver validates canonical symbols against KuCoin's futures
// contract list and returns the exchange-native contract name used in
// websocket topics (e.g. BTC -> XBTUSDTM).
type KucoinResolver struct {
	marketAPI futuresmarket.MarketAPI
	limiter   *rate.Limiter
}

// NewKucoinResolver builds a resolver backed by the KuCoin universal SDK.
func NewKucoinResolver(cfg appconfig.KucoinFeedConfig) *KucoinResolver {
	baseURL := cfg.RESTURL
	if baseURL == "" {
		baseURL = "https://api-futures.kucoin.com"
	}

	transportOpt := sdktype.NewTransportOptionBuilder().
		SetMaxIdleConns(cfg.ConnectionPool.MaxIdleConns).
		SetMaxIdleConnsPerHost(cfg.ConnectionPool.MaxIdleConns).
		SetMaxConnsPerHost(cfg.ConnectionPool.MaxConnsPerHost).
		SetIdleConnTimeout(cfg.ConnectionPool.IdleConnTimeout).
		SetTimeout(cfg.ConnectionPool.Timeout).
		Build()

	option := sdktype.NewClientOptionBuilder().
		WithFuturesEndpoint(baseURL).
		WithTransportOption(transportOpt).
		Build()

	client := api.NewClient(option)

	rps := cfg.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}

	return &KucoinResolver{
		marketAPI: client.RestService().GetFuturesService().GetMarketAPI(),
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// ToKucoinContract maps a canonical base symbol to KuCoin's USDT-margined
// futures contract name.
func ToKucoinContract(canonical string) string {
	base := strings.ToUpper(strings.TrimSpace(canonical))
	if base == "BTC" {
		base = "XBT"
	}
	return base + "USDTM"
}

// Resolve verifies that the contract for the given canonical symbol exists on
// the exchange and returns its native name. The call is rate limited.
func (r *KucoinResolver) Resolve(ctx context.Context, canonical string) (string, error) {
	contract := ToKucoinContract(canonical)

	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req := futuresmarket.NewGetSymbolReqBuilder().SetSymbol(contract).Build()
	resp, err := r.marketAPI.GetSymbol(req, ctx)
	if err != nil {
		return "", fmt.Errorf("resolve kucoin contract %s: %w", contract, err)
	}
	if resp == nil || resp.Symbol == "" {
		return "", fmt.Errorf("kucoin contract %s not found", contract)
	}
	return resp.Symbol, nil
}
