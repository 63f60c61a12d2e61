package engine

import "github.com/shopspring/decimal"

// safeDecimalPlaces caps the decimal places used for chain-bound amounts per
// token precision. High-precision tokens are deliberately capped below their
// native decimals: a MAX computed at full precision can end up a fraction of
// a wei above the wallet balance and be rejected by a strict on-chain check.
var safeDecimalPlaces = map[int]int32{
	0:  0,
	2:  2,
	6:  6,
	8:  6,
	18: 8,
}

// SafeDecimalPlaces returns the number of decimal places safe to submit for
// a token with the given native decimals.
func SafeDecimalPlaces(tokenDecimals int) int32 {
	if places, ok := safeDecimalPlaces[tokenDecimals]; ok {
		return places
	}
	if tokenDecimals > 8 {
		return 8
	}
	return int32(tokenDecimals)
}

// TruncateToSafeDecimals rounds the amount down (never up) to the token's
// safe precision. Every MAX and quick-percentage amount goes through this
// before validation or submission.
func TruncateToSafeDecimals(amount decimal.Decimal, tokenDecimals int) decimal.Decimal {
	return amount.Truncate(SafeDecimalPlaces(tokenDecimals))
}
