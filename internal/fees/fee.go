/*

This file contains the fee hook taxonomy and the interface every pluggable fee
implements. Unlike policies, fees do not block actions: they compute share
deltas at lifecycle hooks which the manager settles on the vault ledger.

*/

package fees

import (
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/OFedorovych/Enzyme-vault/internal/types"
)

// Hook names a lifecycle point at which fees settle.
type Hook int

const (
	HookContinuous Hook = iota
	HookPreBuyShares
	HookPostBuyShares
	HookPreRedeemShares
)

func (h Hook) String() string {
	switch h {
	case HookContinuous:
		return "Continuous"
	case HookPreBuyShares:
		return "PreBuyShares"
	case HookPostBuyShares:
		return "PostBuyShares"
	case HookPreRedeemShares:
		return "PreRedeemShares"
	default:
		return "Unknown"
	}
}

// SettlementType describes how a computed share delta is applied.
type SettlementType int

const (
	// SettlementNone means nothing is due.
	SettlementNone SettlementType = iota
	// SettlementMint dilutes all holders by minting to the recipient.
	SettlementMint
	// SettlementDirect transfers shares from the payer to the recipient.
	SettlementDirect
	// SettlementBurn burns shares from the payer.
	SettlementBurn
)

// SettlementArgs carries the action context into fee settlement.
type SettlementArgs struct {
	// Payer is the depositor or redeemer the action belongs to.
	Payer types.Address
	// InvestmentAmount is set on buy hooks.
	InvestmentAmount sdkmath.Int
	// SharesBought is set on PostBuyShares.
	SharesBought sdkmath.Int
	// SharesToRedeem is set on PreRedeemShares.
	SharesToRedeem sdkmath.Int
}

// SettleContext is the valuation snapshot a fee settles against. Gav and
// Supply are captured before any shares are minted or burned for the same
// settlement, so a fee never feeds back into its own base.
type SettleContext struct {
	Comptroller types.Address
	Gav         sdkmath.Int
	Supply      sdkmath.Int
	Now         time.Time
	Hook        Hook
	Args        SettlementArgs
}

// Settlement is a fee's computed outcome for one hook invocation.
type Settlement struct {
	Type      SettlementType
	SharesDue sdkmath.Int
	// Recipient receives shares for Mint and Direct settlements.
	Recipient types.Address
}

// Fee is the pluggable accrual unit.
type Fee interface {
	// Identifier is the unique name of the fee.
	Identifier() string
	// SettlesOnHook reports whether the fee settles at the given hook.
	SettlesOnHook(hook Hook) bool
	// AddFundSettings stores per-fund settings at configuration time.
	AddFundSettings(comptroller types.Address, settings any) error
	// Activate initializes accrual state when the fund activates.
	Activate(ctx SettleContext)
	// Settle computes the share delta owed at a hook.
	Settle(ctx SettleContext) (Settlement, error)
}
