package types

import (
	sdkmath "cosmossdk.io/math"
)

// Basis point and time constants used across fee and share math.
var (
	// OneHundredPercentBps is the bps denominator: 10000 bps == 100%.
	OneHundredPercentBps = sdkmath.NewInt(10000)

	// SecondsPerYear uses a 365.25 day year, matching the protocol fee
	// accrual convention.
	SecondsPerYear = sdkmath.NewInt(31557600)
)

// SharePricePrecision scales share-price fractions so high-water marks and
// per-share values survive integer division.
var SharePricePrecision = sdkmath.NewInt(1_000_000_000_000_000_000)
