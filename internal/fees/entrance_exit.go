/*

This file contains the entrance and exit rate fees. Both charge a bps rate on
the shares moved by the triggering action and settle either directly to the
recipient or by burning from the payer (burning benefits remaining holders).

*/

package fees

import (
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/OFedorovych/Enzyme-vault/internal/types"
)

// RateFeeSettings configures an entrance or exit rate fee for one fund.
type RateFeeSettings struct {
	RateBps   int64
	Recipient types.Address // ignored when Burn is set
	Burn      bool
}

func (s RateFeeSettings) validate(name string) error {
	if s.RateBps <= 0 || s.RateBps >= 10000 {
		return fmt.Errorf("%s fee: rate must be in (0, 10000) bps, got %d", name, s.RateBps)
	}
	if !s.Burn && s.Recipient.IsZero() {
		return fmt.Errorf("%s fee: recipient required for direct settlement", name)
	}
	return nil
}

// EntranceRateFee charges a rate on shares bought, settling PostBuyShares.
type EntranceRateFee struct {
	mu       sync.RWMutex
	settings map[types.Address]RateFeeSettings
}

func NewEntranceRateFee() *EntranceRateFee {
	return &EntranceRateFee{settings: make(map[types.Address]RateFeeSettings)}
}

func (f *EntranceRateFee) Identifier() string           { return "ENTRANCE_RATE" }
func (f *EntranceRateFee) SettlesOnHook(hook Hook) bool { return hook == HookPostBuyShares }
func (f *EntranceRateFee) Activate(ctx SettleContext)   {}

func (f *EntranceRateFee) AddFundSettings(comptroller types.Address, settings any) error {
	cfg, ok := settings.(RateFeeSettings)
	if !ok {
		return fmt.Errorf("entrance fee: want RateFeeSettings, got %T", settings)
	}
	if err := cfg.validate("entrance"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings[comptroller] = cfg
	return nil
}

func (f *EntranceRateFee) Settle(ctx SettleContext) (Settlement, error) {
	f.mu.RLock()
	cfg, configured := f.settings[ctx.Comptroller]
	f.mu.RUnlock()
	if !configured || ctx.Args.SharesBought.IsZero() {
		return Settlement{Type: SettlementNone}, nil
	}
	return rateSettlement(cfg, ctx.Args.SharesBought), nil
}

// ExitRateFee charges a rate on shares redeemed, settling PreRedeemShares.
// The manager reports the taken shares back to the comptroller, which reduces
// the payout basis accordingly.
type ExitRateFee struct {
	mu       sync.RWMutex
	settings map[types.Address]RateFeeSettings
}

func NewExitRateFee() *ExitRateFee {
	return &ExitRateFee{settings: make(map[types.Address]RateFeeSettings)}
}

func (f *ExitRateFee) Identifier() string           { return "EXIT_RATE" }
func (f *ExitRateFee) SettlesOnHook(hook Hook) bool { return hook == HookPreRedeemShares }
func (f *ExitRateFee) Activate(ctx SettleContext)   {}

func (f *ExitRateFee) AddFundSettings(comptroller types.Address, settings any) error {
	cfg, ok := settings.(RateFeeSettings)
	if !ok {
		return fmt.Errorf("exit fee: want RateFeeSettings, got %T", settings)
	}
	if err := cfg.validate("exit"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings[comptroller] = cfg
	return nil
}

func (f *ExitRateFee) Settle(ctx SettleContext) (Settlement, error) {
	f.mu.RLock()
	cfg, configured := f.settings[ctx.Comptroller]
	f.mu.RUnlock()
	if !configured || ctx.Args.SharesToRedeem.IsZero() {
		return Settlement{Type: SettlementNone}, nil
	}
	return rateSettlement(cfg, ctx.Args.SharesToRedeem), nil
}

func rateSettlement(cfg RateFeeSettings, basis sdkmath.Int) Settlement {
	sharesDue := basis.MulRaw(cfg.RateBps).Quo(types.OneHundredPercentBps)
	if sharesDue.IsZero() {
		return Settlement{Type: SettlementNone}
	}
	if cfg.Burn {
		return Settlement{Type: SettlementBurn, SharesDue: sharesDue}
	}
	return Settlement{Type: SettlementDirect, SharesDue: sharesDue, Recipient: cfg.Recipient}
}

var (
	_ Fee = (*EntranceRateFee)(nil)
	_ Fee = (*ExitRateFee)(nil)
)
