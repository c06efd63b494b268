package valuation

import (
	"time"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
)

// RatePrecision is the scaling applied to primitive feed rates: a feed quotes
// the value of one whole token in reference units scaled by 1e18.
var RatePrecision = sdkmath.NewInt(1_000_000_000_000_000_000)

// PrimitiveFeed prices an asset directly against the common reference unit.
// Rates may change between reads within a single operation (e.g. a
// state-changing call earlier in the same flow accrued interest); callers must
// not assume idempotent reads.
type PrimitiveFeed interface {
	// Price returns the value of one whole token in reference units scaled
	// to RatePrecision, along with the time the rate was last updated.
	Price() (rate sdkmath.Int, updatedAt time.Time, err error)
}

// DerivativeFeed resolves a derivative asset into amounts of its underlying
// assets, which the interpreter then values recursively.
type DerivativeFeed interface {
	// CalcUnderlyingValues returns the underlying coins an amount of the
	// derivative decomposes into.
	CalcUnderlyingValues(amount sdkmath.Int) ([]sdktypes.Coin, error)
}

// StaticFeed is a fixed-rate primitive feed with a settable timestamp. It is
// the simplest production feed (e.g. for the denomination stablecoin itself)
// and the standard stub in tests.
type StaticFeed struct {
	Rate      sdkmath.Int
	UpdatedAt time.Time
}

func (f *StaticFeed) Price() (sdkmath.Int, time.Time, error) {
	return f.Rate, f.UpdatedAt, nil
}
