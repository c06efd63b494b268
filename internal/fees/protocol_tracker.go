/*

This file contains the protocol fee tracker: the protocol-wide record of when
each vault last paid the share-based protocol fee and at what rate. Accrual is
strictly elapsed-seconds times supply times rate:

	sharesDue = supply * rateBps * elapsedSeconds / (10000 * secondsPerYear)

The result is never negative and is capped at the current supply.

*/

package fees

import (
	"errors"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/OFedorovych/Enzyme-vault/internal/logger"
	"github.com/OFedorovych/Enzyme-vault/internal/types"
)

var ErrVaultNotInitialized = errors.New("vault not initialized on protocol fee tracker")

// ProtocolFeeTracker tracks per-vault protocol fee accrual.
type ProtocolFeeTracker struct {
	mu             sync.Mutex
	defaultRateBps int64
	overrides      map[types.Address]int64
	lastPaid       map[types.Address]time.Time
	now            func() time.Time
	logger         zerolog.Logger
}

// NewProtocolFeeTracker creates a tracker with the protocol-wide default rate.
func NewProtocolFeeTracker(defaultRateBps int64) *ProtocolFeeTracker {
	return &ProtocolFeeTracker{
		defaultRateBps: defaultRateBps,
		overrides:      make(map[types.Address]int64),
		lastPaid:       make(map[types.Address]time.Time),
		now:            time.Now,
		logger:         logger.GetForComponent("protocol_fee_tracker"),
	}
}

// SetClock overrides the time source. Intended for tests.
func (t *ProtocolFeeTracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// InitializeForVault starts accrual for a vault at the current time.
func (t *ProtocolFeeTracker) InitializeForVault(vault types.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.lastPaid[vault]; exists {
		return
	}
	t.lastPaid[vault] = t.now()
	t.logger.Info().Str("vault", vault.String()).Msg("Protocol fee accrual initialized")
}

// SetFeeBpsOverrideForVault sets a vault-specific rate.
func (t *ProtocolFeeTracker) SetFeeBpsOverrideForVault(vault types.Address, rateBps int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.overrides[vault] = rateBps
	t.logger.Info().Str("vault", vault.String()).Int64("rateBps", rateBps).Msg("Protocol fee override set")
}

// GetFeeBpsForVault returns the effective rate for a vault.
func (t *ProtocolFeeTracker) GetFeeBpsForVault(vault types.Address) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if override, ok := t.overrides[vault]; ok {
		return override
	}
	return t.defaultRateBps
}

// LastPaidFor returns when the vault last settled the fee.
func (t *ProtocolFeeTracker) LastPaidFor(vault types.Address) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.lastPaid[vault]
	return last, ok
}

// PayFee marks the fee paid through now and returns the shares due for the
// elapsed period. Implements vault.ProtocolFeeTracker.
func (t *ProtocolFeeTracker) PayFee(vault types.Address, sharesSupply sdkmath.Int) (sdkmath.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, ok := t.lastPaid[vault]
	if !ok {
		return sdkmath.Int{}, ErrVaultNotInitialized
	}
	now := t.now()
	elapsed := int64(now.Sub(last).Seconds())
	t.lastPaid[vault] = now
	if elapsed <= 0 || sharesSupply.IsZero() {
		return sdkmath.ZeroInt(), nil
	}

	rateBps, okOverride := t.overrides[vault]
	if !okOverride {
		rateBps = t.defaultRateBps
	}
	if rateBps <= 0 {
		return sdkmath.ZeroInt(), nil
	}

	sharesDue := sharesSupply.
		MulRaw(rateBps).
		MulRaw(elapsed).
		Quo(types.OneHundredPercentBps.Mul(types.SecondsPerYear))
	if sharesDue.GT(sharesSupply) {
		sharesDue = sharesSupply
	}
	return sharesDue, nil
}
