/*

This file contains the value interpreter: the single component that converts
an amount of any supported asset into an amount of a chosen quote asset.
Primitives convert through their registered feed rates; derivatives resolve
recursively to primitives with a bounded depth so a misconfigured derivative
cycle fails instead of looping.

*/

package valuation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
	"github.com/rs/zerolog"

	"github.com/OFedorovych/Enzyme-vault/internal/logger"
	"github.com/OFedorovych/Enzyme-vault/internal/types"
)

var (
	ErrUnsupportedAsset  = errors.New("unsupported asset")
	ErrStaleRate         = errors.New("stale rate")
	ErrRecursionTooDeep  = errors.New("derivative resolution exceeds max depth")
	ErrNonPositiveRate   = errors.New("feed returned non-positive rate")
	ErrAlreadyRegistered = errors.New("feed already registered for asset")
)

// maxDerivativeDepth bounds how many derivative layers an asset may resolve
// through before the interpreter treats the chain as a cycle.
const maxDerivativeDepth = 5

// Interpreter converts asset amounts into quote-asset amounts through
// registered primitive and derivative feeds.
type Interpreter struct {
	mu          sync.RWMutex
	assets      *types.AssetRegistry
	primitives  map[string]PrimitiveFeed
	derivatives map[string]DerivativeFeed

	staleThreshold time.Duration
	now            func() time.Time
	logger         zerolog.Logger
}

// NewInterpreter creates an interpreter backed by the shared asset registry.
// staleThreshold caps how old a primitive rate may be before conversions fail
// with ErrStaleRate.
func NewInterpreter(assets *types.AssetRegistry, staleThreshold time.Duration) *Interpreter {
	return &Interpreter{
		assets:         assets,
		primitives:     make(map[string]PrimitiveFeed),
		derivatives:    make(map[string]DerivativeFeed),
		staleThreshold: staleThreshold,
		now:            time.Now,
		logger:         logger.GetForComponent("value_interpreter"),
	}
}

// SetClock overrides the time source. Intended for tests.
func (it *Interpreter) SetClock(now func() time.Time) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.now = now
}

// AddPrimitive registers a primitive feed for denom.
func (it *Interpreter) AddPrimitive(denom string, feed PrimitiveFeed) error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if _, exists := it.primitives[denom]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, denom)
	}
	if _, exists := it.derivatives[denom]; exists {
		return fmt.Errorf("%w: %s is a derivative", ErrAlreadyRegistered, denom)
	}
	it.primitives[denom] = feed
	it.logger.Info().Str("asset", denom).Msg("Primitive feed registered")
	return nil
}

// AddDerivative registers a derivative feed for denom.
func (it *Interpreter) AddDerivative(denom string, feed DerivativeFeed) error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if _, exists := it.derivatives[denom]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, denom)
	}
	if _, exists := it.primitives[denom]; exists {
		return fmt.Errorf("%w: %s is a primitive", ErrAlreadyRegistered, denom)
	}
	it.derivatives[denom] = feed
	it.logger.Info().Str("asset", denom).Msg("Derivative feed registered")
	return nil
}

// IsSupportedPrimitiveAsset reports whether denom has a primitive feed and
// can therefore serve as a quote asset.
func (it *Interpreter) IsSupportedPrimitiveAsset(denom string) bool {
	it.mu.RLock()
	defer it.mu.RUnlock()
	_, ok := it.primitives[denom]
	return ok
}

// IsSupportedAsset reports whether the interpreter can value denom.
func (it *Interpreter) IsSupportedAsset(denom string) bool {
	it.mu.RLock()
	defer it.mu.RUnlock()
	if _, ok := it.primitives[denom]; ok {
		return true
	}
	_, ok := it.derivatives[denom]
	return ok
}

// CalcCanonicalAssetValue converts amount base units of baseDenom into base
// units of quoteDenom, flooring at every division. The quote asset must be a
// primitive.
func (it *Interpreter) CalcCanonicalAssetValue(baseDenom string, amount sdkmath.Int, quoteDenom string) (sdkmath.Int, error) {
	if amount.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	if baseDenom == quoteDenom {
		return amount, nil
	}
	return it.resolveValue(baseDenom, amount, quoteDenom, 0)
}

// CalcCanonicalAssetsTotalValue values a set of coins in quoteDenom and
// returns the floored sum.
func (it *Interpreter) CalcCanonicalAssetsTotalValue(coins []sdktypes.Coin, quoteDenom string) (sdkmath.Int, error) {
	total := sdkmath.ZeroInt()
	for _, coin := range coins {
		value, err := it.CalcCanonicalAssetValue(coin.Denom, coin.Amount, quoteDenom)
		if err != nil {
			return sdkmath.Int{}, fmt.Errorf("valuing %s: %w", coin.Denom, err)
		}
		total = total.Add(value)
	}
	return total, nil
}

func (it *Interpreter) resolveValue(baseDenom string, amount sdkmath.Int, quoteDenom string, depth int) (sdkmath.Int, error) {
	if depth > maxDerivativeDepth {
		return sdkmath.Int{}, fmt.Errorf("%w: %s", ErrRecursionTooDeep, baseDenom)
	}
	if baseDenom == quoteDenom {
		return amount, nil
	}

	it.mu.RLock()
	primitive, isPrimitive := it.primitives[baseDenom]
	derivative, isDerivative := it.derivatives[baseDenom]
	it.mu.RUnlock()

	switch {
	case isPrimitive:
		return it.convertPrimitive(baseDenom, amount, primitive, quoteDenom)
	case isDerivative:
		underlyings, err := derivative.CalcUnderlyingValues(amount)
		if err != nil {
			return sdkmath.Int{}, fmt.Errorf("derivative feed for %s: %w", baseDenom, err)
		}
		total := sdkmath.ZeroInt()
		for _, underlying := range underlyings {
			value, err := it.resolveValue(underlying.Denom, underlying.Amount, quoteDenom, depth+1)
			if err != nil {
				return sdkmath.Int{}, err
			}
			total = total.Add(value)
		}
		return total, nil
	default:
		return sdkmath.Int{}, fmt.Errorf("%w: %s", ErrUnsupportedAsset, baseDenom)
	}
}

// convertPrimitive converts through the reference unit:
//
//	value = amount * rate(base) * 10^quoteDec / (rate(quote) * 10^baseDec)
func (it *Interpreter) convertPrimitive(baseDenom string, amount sdkmath.Int, baseFeed PrimitiveFeed, quoteDenom string) (sdkmath.Int, error) {
	it.mu.RLock()
	quoteFeed, ok := it.primitives[quoteDenom]
	it.mu.RUnlock()
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("%w: quote asset %s", ErrUnsupportedAsset, quoteDenom)
	}

	baseRate, err := it.freshRate(baseDenom, baseFeed)
	if err != nil {
		return sdkmath.Int{}, err
	}
	quoteRate, err := it.freshRate(quoteDenom, quoteFeed)
	if err != nil {
		return sdkmath.Int{}, err
	}

	baseDecimals, err := it.assets.Decimals(baseDenom)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("%w: %s", ErrUnsupportedAsset, baseDenom)
	}
	quoteDecimals, err := it.assets.Decimals(quoteDenom)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("%w: %s", ErrUnsupportedAsset, quoteDenom)
	}

	numerator := amount.Mul(baseRate).Mul(pow10(quoteDecimals))
	denominator := quoteRate.Mul(pow10(baseDecimals))
	return numerator.Quo(denominator), nil
}

func (it *Interpreter) freshRate(denom string, feed PrimitiveFeed) (sdkmath.Int, error) {
	rate, updatedAt, err := feed.Price()
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("feed for %s: %w", denom, err)
	}
	if !rate.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("%w: %s", ErrNonPositiveRate, denom)
	}
	if it.staleThreshold > 0 && it.now().Sub(updatedAt) > it.staleThreshold {
		return sdkmath.Int{}, fmt.Errorf("%w: %s last updated %s", ErrStaleRate, denom, updatedAt.Format(time.RFC3339))
	}
	return rate, nil
}

func pow10(decimals int) sdkmath.Int {
	return sdkmath.NewIntWithDecimal(1, decimals)
}
