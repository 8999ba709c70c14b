package symbols

import "strings"

// legacyBases maps legacy exchange ticker codes to the application's
// canonical spelling. Kraken still reports Bitcoin as XBT and Dogecoin as XDG
// on some channels.
var legacyBases = map[string]string{
	"XBT": "BTC",
	"XDG": "DOGE",
}

// quoteSuffixes lists the quote currencies stripped when reducing an
// exchange pair to its base asset. Longer entries must come first so that
// USDT is removed before USD.
var quoteSuffixes = []string{"USDT", "USDC", "BUSD", "TUSD", "USD", "EUR", "GBP", "JPY"}

// ToCanonical converts an exchange-native symbol spelling to the canonical
// base-asset symbol (e.g. "XBT/USD" -> "BTC", "BTCUSDT" -> "BTC").
// Unmapped bases pass through unchanged with the quote currency stripped.
// Currently supported exchanges: binance, kraken, kucoin, bybit.
func ToCanonical(exchange, sym string) string {
	sym = strings.ToUpper(strings.TrimSpace(sym))

	switch strings.ToLower(exchange) {
	case "kraken":
		sym = strings.ReplaceAll(sym, "/", "")
		sym = strings.ReplaceAll(sym, "-", "")
	case "kucoin":
		sym = strings.ReplaceAll(sym, "-", "")
		sym = strings.TrimSuffix(sym, "M")
	case "binance", "bybit":
		// already uppercase without separators
	default:
		sym = strings.ReplaceAll(sym, "/", "")
		sym = strings.ReplaceAll(sym, "-", "")
	}

	sym = stripQuote(sym)

	if canonical, ok := legacyBases[sym]; ok {
		return canonical
	}
	return sym
}

// ToLegacyBase converts a canonical base symbol back to its legacy exchange
// spelling (e.g. "BTC" -> "XBT" for Kraken subscriptions). Symbols without a
// legacy alias pass through unchanged.
func ToLegacyBase(canonical string) string {
	canonical = strings.ToUpper(strings.TrimSpace(canonical))
	for legacy, base := range legacyBases {
		if base == canonical {
			return legacy
		}
	}
	return canonical
}

func stripQuote(sym string) string {
	for _, quote := range quoteSuffixes {
		if len(sym) > len(quote) && strings.HasSuffix(sym, quote) {
			return sym[:len(sym)-len(quote)]
		}
	}
	return sym
}
