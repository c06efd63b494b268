/*

This file contains the adapter contract for external protocol integrations.
An adapter declares, per action, the maximum assets it will spend and the
minimum assets it expects to return to the vault; the integration manager
enforces both bounds against actual balance movement after the call.

*/

package integration

import (
	sdktypes "github.com/cosmos/cosmos-sdk/types"

	"github.com/OFedorovych/Enzyme-vault/internal/types"
)

// SpendAssetsHandleType tells the manager how spend assets reach the adapter.
type SpendAssetsHandleType int

const (
	// SpendAssetsHandleNone declares no spend assets leave the vault.
	SpendAssetsHandleNone SpendAssetsHandleType = iota
	// SpendAssetsHandleTransfer has the manager move the declared spend
	// assets from the vault to the adapter before execution.
	SpendAssetsHandleTransfer
)

// AssetsForAction is an adapter's declared asset movement for one action.
type AssetsForAction struct {
	SpendHandleType   SpendAssetsHandleType
	SpendAssets       []sdktypes.Coin
	MinIncomingAssets []sdktypes.Coin
}

// Adapter executes one external protocol interaction on behalf of a vault.
type Adapter interface {
	// Addr is the adapter's registered address; spend assets are delivered
	// here before ExecuteCall.
	Addr() types.Address
	// Identifier is the adapter's unique name.
	Identifier() string
	// ParseAssetsForAction resolves the declared asset movement for an
	// action before any value moves.
	ParseAssetsForAction(vault types.Address, actionID int, args any) (AssetsForAction, error)
	// ExecuteCall performs the interaction. Incoming assets must be credited
	// to the vault address before returning.
	ExecuteCall(vault types.Address, actionID int, args any) error
}
