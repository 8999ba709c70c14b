package trading

import (
	"tickflow/internal/models"
)

const (
	reasonPriceDrop        = "price_drop_threshold"
	reasonPriceRise        = "price_rise_threshold"
	reasonCostBasisMissing = "cost_basis_missing"
)

// Evaluate applies the percentage-move trade rules to one cached price.
// It returns nil when no rule fires. The nextAction flag decides which rule
// is checked first when both could fire; evaluation short-circuits on the
// first hit.
//
// A non-positive current price always yields no action: invalid market data
// must never trigger a trade. A non-positive purchase price means no cost
// basis is known; in that fallback mode any positive current price satisfies
// the check for either side.
func Evaluate(entry models.CacheEntry, purchasePrice, buyThreshold, sellThreshold float64, nextAction models.TradeAction) *models.TradeIntent {
	current := entry.Price
	if current <= 0 {
		return nil
	}

	if nextAction == models.TradeActionSell {
		if intent := checkSell(entry, purchasePrice, sellThreshold); intent != nil {
			return intent
		}
		return checkBuy(entry, purchasePrice, buyThreshold)
	}
	if intent := checkBuy(entry, purchasePrice, buyThreshold); intent != nil {
		return intent
	}
	return checkSell(entry, purchasePrice, sellThreshold)
}

// checkBuy fires when the price dropped at least threshold percent below the
// purchase price.
func checkBuy(entry models.CacheEntry, purchasePrice, threshold float64) *models.TradeIntent {
	if threshold < 0 {
		return nil
	}
	if purchasePrice <= 0 {
		return intentFor(entry, models.TradeActionBuy, purchasePrice, threshold, reasonCostBasisMissing)
	}
	drop := (purchasePrice - entry.Price) / purchasePrice * 100
	if drop >= threshold {
		return intentFor(entry, models.TradeActionBuy, purchasePrice, threshold, reasonPriceDrop)
	}
	return nil
}

// checkSell fires when the price rose at least threshold percent above the
// purchase price.
func checkSell(entry models.CacheEntry, purchasePrice, threshold float64) *models.TradeIntent {
	if threshold < 0 {
		return nil
	}
	if purchasePrice <= 0 {
		return intentFor(entry, models.TradeActionSell, purchasePrice, threshold, reasonCostBasisMissing)
	}
	rise := (entry.Price - purchasePrice) / purchasePrice * 100
	if rise >= threshold {
		return intentFor(entry, models.TradeActionSell, purchasePrice, threshold, reasonPriceRise)
	}
	return nil
}

func intentFor(entry models.CacheEntry, action models.TradeAction, purchasePrice, threshold float64, reason string) *models.TradeIntent {
	return &models.TradeIntent{
		Symbol:           entry.Symbol,
		Action:           action,
		CurrentPrice:     entry.Price,
		PurchasePrice:    purchasePrice,
		ThresholdPercent: threshold,
		Reason:           reason,
	}
}
