/*

This file contains the external position contract. An external position is a
per-fund proxy holding value outside the vault's directly custodied assets
(lending deposits, debt, staked collateral). Its net contribution to GAV is
managed assets minus debt assets, floored at zero by the comptroller.

*/

package positions

import (
	sdktypes "github.com/cosmos/cosmos-sdk/types"

	"github.com/OFedorovych/Enzyme-vault/internal/types"
)

// ExternalPosition is a deployed position proxy bound to one vault.
type ExternalPosition interface {
	// Addr is the position proxy's address.
	Addr() types.Address
	// TypeID is the registered position type.
	TypeID() int
	// Init binds the position to its vault. Called once at creation.
	Init(vault types.Address) error
	// ReceiveCallFromVault executes a position-specific action.
	ReceiveCallFromVault(actionID int, args any) error
	// GetManagedAssets returns the assets the position holds for the vault.
	GetManagedAssets() []sdktypes.Coin
	// GetDebtAssets returns the assets the position owes.
	GetDebtAssets() []sdktypes.Coin
}

// Factory deploys a fresh position proxy of one type.
type Factory func() (ExternalPosition, error)
