/*

This file contains the performance fee: a high-water-mark fee on share-price
appreciation. The share price is tracked as gav * precision / supply; when the
current price exceeds the stored high-water mark, the value due is

	rawValueDue = (price - hwm) * supply / precision * rateBps / 10000

and the shares minted dilute exactly that value to the recipient:

	sharesDue = rawValueDue * supply / (gav - rawValueDue)

The high-water mark ratchets up after each settlement and never moves down.

*/

package fees

import (
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/OFedorovych/Enzyme-vault/internal/types"
)

// PerformanceFeeSettings configures the performance fee for one fund.
type PerformanceFeeSettings struct {
	RateBps   int64
	Recipient types.Address
}

// PerformanceFee mints shares to the recipient on share-price gains above the
// high-water mark.
type PerformanceFee struct {
	mu       sync.Mutex
	settings map[types.Address]PerformanceFeeSettings
	// highWaterMark stores share prices scaled by types.SharePricePrecision.
	highWaterMark map[types.Address]sdkmath.Int
}

func NewPerformanceFee() *PerformanceFee {
	return &PerformanceFee{
		settings:      make(map[types.Address]PerformanceFeeSettings),
		highWaterMark: make(map[types.Address]sdkmath.Int),
	}
}

func (f *PerformanceFee) Identifier() string { return "PERFORMANCE" }

func (f *PerformanceFee) SettlesOnHook(hook Hook) bool { return hook == HookContinuous }

func (f *PerformanceFee) AddFundSettings(comptroller types.Address, settings any) error {
	cfg, ok := settings.(PerformanceFeeSettings)
	if !ok {
		return fmt.Errorf("performance fee: want PerformanceFeeSettings, got %T", settings)
	}
	if cfg.RateBps <= 0 || cfg.RateBps >= 10000 {
		return fmt.Errorf("performance fee: rate must be in (0, 10000) bps, got %d", cfg.RateBps)
	}
	if cfg.Recipient.IsZero() {
		return fmt.Errorf("performance fee: recipient required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings[comptroller] = cfg
	return nil
}

// Activate pins the initial high-water mark to the activation share price, or
// to unit price for an empty fund.
func (f *PerformanceFee) Activate(ctx SettleContext) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, configured := f.settings[ctx.Comptroller]; !configured {
		return
	}
	f.highWaterMark[ctx.Comptroller] = sharePrice(ctx.Gav, ctx.Supply)
}

func (f *PerformanceFee) Settle(ctx SettleContext) (Settlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cfg, configured := f.settings[ctx.Comptroller]
	if !configured {
		return Settlement{Type: SettlementNone}, nil
	}
	if ctx.Supply.IsZero() || ctx.Gav.IsZero() {
		return Settlement{Type: SettlementNone}, nil
	}

	hwm, active := f.highWaterMark[ctx.Comptroller]
	price := sharePrice(ctx.Gav, ctx.Supply)
	if !active {
		f.highWaterMark[ctx.Comptroller] = price
		return Settlement{Type: SettlementNone}, nil
	}
	if price.LTE(hwm) {
		return Settlement{Type: SettlementNone}, nil
	}

	rawValueDue := price.Sub(hwm).
		Mul(ctx.Supply).
		Quo(types.SharePricePrecision).
		MulRaw(cfg.RateBps).
		Quo(types.OneHundredPercentBps)
	if rawValueDue.IsZero() || rawValueDue.GTE(ctx.Gav) {
		return Settlement{Type: SettlementNone}, nil
	}

	sharesDue := rawValueDue.Mul(ctx.Supply).Quo(ctx.Gav.Sub(rawValueDue))
	if sharesDue.IsZero() {
		return Settlement{Type: SettlementNone}, nil
	}

	f.highWaterMark[ctx.Comptroller] = price
	return Settlement{Type: SettlementMint, SharesDue: sharesDue, Recipient: cfg.Recipient}, nil
}

// HighWaterMark exposes the stored mark for a fund (scaled share price).
func (f *PerformanceFee) HighWaterMark(comptroller types.Address) (sdkmath.Int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hwm, ok := f.highWaterMark[comptroller]
	return hwm, ok
}

func sharePrice(gav, supply sdkmath.Int) sdkmath.Int {
	if supply.IsZero() {
		return types.SharePricePrecision
	}
	return gav.Mul(types.SharePricePrecision).Quo(supply)
}

var _ Fee = (*PerformanceFee)(nil)
