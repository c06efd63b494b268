/*

This file contains the management fee: a time-based dilution fee that accrues
continuously on the share supply.

	sharesDue = supply * rateBps * elapsedSeconds / (10000 * secondsPerYear)

*/

package fees

import (
	"fmt"
	"sync"
	"time"

	"github.com/OFedorovych/Enzyme-vault/internal/types"
)

// ManagementFeeSettings configures the management fee for one fund.
type ManagementFeeSettings struct {
	RateBps   int64
	Recipient types.Address
}

// ManagementFee dilutes holders over time in favor of the fee recipient.
type ManagementFee struct {
	mu          sync.Mutex
	settings    map[types.Address]ManagementFeeSettings
	lastSettled map[types.Address]time.Time
}

func NewManagementFee() *ManagementFee {
	return &ManagementFee{
		settings:    make(map[types.Address]ManagementFeeSettings),
		lastSettled: make(map[types.Address]time.Time),
	}
}

func (f *ManagementFee) Identifier() string { return "MANAGEMENT" }

func (f *ManagementFee) SettlesOnHook(hook Hook) bool { return hook == HookContinuous }

func (f *ManagementFee) AddFundSettings(comptroller types.Address, settings any) error {
	cfg, ok := settings.(ManagementFeeSettings)
	if !ok {
		return fmt.Errorf("management fee: want ManagementFeeSettings, got %T", settings)
	}
	if cfg.RateBps <= 0 {
		return fmt.Errorf("management fee: rate must be positive, got %d", cfg.RateBps)
	}
	if cfg.Recipient.IsZero() {
		return fmt.Errorf("management fee: recipient required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings[comptroller] = cfg
	return nil
}

func (f *ManagementFee) Activate(ctx SettleContext) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSettled[ctx.Comptroller] = ctx.Now
}

func (f *ManagementFee) Settle(ctx SettleContext) (Settlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cfg, configured := f.settings[ctx.Comptroller]
	if !configured {
		return Settlement{Type: SettlementNone}, nil
	}
	last, started := f.lastSettled[ctx.Comptroller]
	f.lastSettled[ctx.Comptroller] = ctx.Now
	if !started {
		return Settlement{Type: SettlementNone}, nil
	}

	elapsed := int64(ctx.Now.Sub(last).Seconds())
	if elapsed <= 0 || ctx.Supply.IsZero() {
		return Settlement{Type: SettlementNone}, nil
	}

	sharesDue := ctx.Supply.
		MulRaw(cfg.RateBps).
		MulRaw(elapsed).
		Quo(types.OneHundredPercentBps.Mul(types.SecondsPerYear))
	if sharesDue.IsZero() {
		return Settlement{Type: SettlementNone}, nil
	}
	return Settlement{Type: SettlementMint, SharesDue: sharesDue, Recipient: cfg.Recipient}, nil
}

var _ Fee = (*ManagementFee)(nil)
