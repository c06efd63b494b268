/*

This file contains the policy hook taxonomy and the interface every pluggable
policy implements. Policies validate actions at named lifecycle points; the
manager in this package iterates the enabled policies for a hook and fails the
whole action on the first rule that evaluates false.

*/

package policy

import (
	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"

	"github.com/OFedorovych/Enzyme-vault/internal/types"
)

// Hook names a lifecycle point at which enabled policies run.
type Hook int

const (
	HookPostBuyShares Hook = iota
	HookPreTransferShares
	HookRedeemSharesForSpecificAssets
	HookPostCallOnIntegration
	HookAddTrackedAssets
	HookRemoveTrackedAssets
	HookCreateExternalPosition
	HookPostCallOnExternalPosition
	HookRemoveExternalPosition
	HookReactivateExternalPosition
)

func (h Hook) String() string {
	switch h {
	case HookPostBuyShares:
		return "PostBuyShares"
	case HookPreTransferShares:
		return "PreTransferShares"
	case HookRedeemSharesForSpecificAssets:
		return "RedeemSharesForSpecificAssets"
	case HookPostCallOnIntegration:
		return "PostCallOnIntegration"
	case HookAddTrackedAssets:
		return "AddTrackedAssets"
	case HookRemoveTrackedAssets:
		return "RemoveTrackedAssets"
	case HookCreateExternalPosition:
		return "CreateExternalPosition"
	case HookPostCallOnExternalPosition:
		return "PostCallOnExternalPosition"
	case HookRemoveExternalPosition:
		return "RemoveExternalPosition"
	case HookReactivateExternalPosition:
		return "ReactivateExternalPosition"
	default:
		return "Unknown"
	}
}

// restrictsCurrentInvestors marks the hooks that could retroactively restrict
// existing investors. Policies implementing any of these can only be
// configured at fund creation, never enabled afterwards.
func (h Hook) restrictsCurrentInvestors() bool {
	return h == HookPreTransferShares || h == HookRedeemSharesForSpecificAssets
}

// Policy is the pluggable validation unit.
type Policy interface {
	// Identifier is the unique name of the policy.
	Identifier() string
	// ImplementedHooks lists every hook the policy validates.
	ImplementedHooks() []Hook
	// CanDisable reports whether the fund owner may disable the policy
	// after launch.
	CanDisable() bool
	// AddFundSettings stores per-fund settings. Called once per fund at
	// configuration time when settings are non-empty.
	AddFundSettings(comptroller types.Address, settings any) error
	// ValidateRule evaluates the rule for a hook. A false result with a nil
	// error means the rule rejected the action.
	ValidateRule(comptroller types.Address, hook Hook, args any) (bool, error)
}

// Per-hook argument payloads handed to ValidateRule.

type PostBuySharesArgs struct {
	Buyer            types.Address
	InvestmentAmount sdkmath.Int
	SharesIssued     sdkmath.Int
	Gav              sdkmath.Int
}

type PreTransferSharesArgs struct {
	From   types.Address
	To     types.Address
	Amount sdkmath.Int
}

type RedeemSharesForSpecificAssetsArgs struct {
	Redeemer       types.Address
	Recipient      types.Address
	SharesQuantity sdkmath.Int
	PayoutAssets   []string
}

type PostCallOnIntegrationArgs struct {
	Caller         types.Address
	Adapter        types.Address
	ActionID       int
	IncomingAssets []sdktypes.Coin
	SpentAssets    []sdktypes.Coin
}

type TrackedAssetsArgs struct {
	Caller types.Address
	Assets []string
}

type ExternalPositionArgs struct {
	Caller          types.Address
	Position        types.Address
	PositionTypeID  int
	ActionID        int
	EncodedArgsNote string
}
