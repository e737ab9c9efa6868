package whales

// Consensus aggregates position signs into long/short fractions.
// Accounts without a position in the coin are excluded from the
// denominator; (0, 0) means no positioned accounts, not an error.
func Consensus(sizes []float64) (longPct, shortPct float64) {
	longCount, shortCount := 0, 0
	for _, size := range sizes {
		switch {
		case size > 0:
			longCount++
		case size < 0:
			shortCount++
		}
	}
	total := longCount + shortCount
	if total == 0 {
		return 0, 0
	}
	return float64(longCount) / float64(total), float64(shortCount) / float64(total)
}
