package market

// Imbalance calculates the normalized buy/sell volume imbalance
// Imbalance = (BuyVol - SellVol) / (BuyVol + SellVol)
// Returns 0 when both volumes are zero.
func Imbalance(buyVolume float64, sellVolume float64) float64 {
	total := buyVolume + sellVolume
	if total == 0 {
		return 0
	}
	return (buyVolume - sellVolume) / total
}
