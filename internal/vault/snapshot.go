package vault

import (
	sdkmath "cosmossdk.io/math"

	"github.com/OFedorovych/Enzyme-vault/internal/types"
)

// Snapshot captures all mutable vault state so a failing operation can be
// rolled back atomically together with the bank ledger.
type Snapshot struct {
	owner              types.Address
	nominatedOwner     types.Address
	accessor           types.Address
	name               string
	symbol             string
	freelyTransferable bool

	assetManagers map[types.Address]bool
	balances      map[types.Address]sdkmath.Int
	totalSupply   sdkmath.Int

	trackedAssets     []string
	persistentAssets  []string
	externalPositions []types.Address
}

// Snapshot returns a deep copy of the mutable vault state.
func (p *Proxy) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := Snapshot{
		owner:              p.owner,
		nominatedOwner:     p.nominatedOwner,
		accessor:           p.accessor,
		name:               p.name,
		symbol:             p.symbol,
		freelyTransferable: p.freelyTransferable,
		assetManagers:      make(map[types.Address]bool, len(p.assetManagers)),
		balances:           make(map[types.Address]sdkmath.Int, len(p.balances)),
		totalSupply:        p.totalSupply,
		trackedAssets:      make([]string, len(p.trackedAssets)),
		externalPositions:  make([]types.Address, len(p.externalPositions)),
	}
	for manager := range p.assetManagers {
		snap.assetManagers[manager] = true
	}
	for holder, balance := range p.balances {
		snap.balances[holder] = balance
	}
	copy(snap.trackedAssets, p.trackedAssets)
	for denom := range p.persistentAssetSet {
		snap.persistentAssets = append(snap.persistentAssets, denom)
	}
	copy(snap.externalPositions, p.externalPositions)
	return snap
}

// Restore replaces the mutable vault state with a previously captured
// snapshot.
func (p *Proxy) Restore(snap Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.owner = snap.owner
	p.nominatedOwner = snap.nominatedOwner
	p.accessor = snap.accessor
	p.name = snap.name
	p.symbol = snap.symbol
	p.freelyTransferable = snap.freelyTransferable
	p.totalSupply = snap.totalSupply

	p.assetManagers = make(map[types.Address]bool, len(snap.assetManagers))
	for manager := range snap.assetManagers {
		p.assetManagers[manager] = true
	}
	p.balances = make(map[types.Address]sdkmath.Int, len(snap.balances))
	for holder, balance := range snap.balances {
		p.balances[holder] = balance
	}

	p.trackedAssets = make([]string, len(snap.trackedAssets))
	copy(p.trackedAssets, snap.trackedAssets)
	p.trackedAssetSet = make(map[string]bool, len(snap.trackedAssets))
	for _, denom := range snap.trackedAssets {
		p.trackedAssetSet[denom] = true
	}
	p.persistentAssetSet = make(map[string]bool, len(snap.persistentAssets))
	for _, denom := range snap.persistentAssets {
		p.persistentAssetSet[denom] = true
	}

	p.externalPositions = make([]types.Address, len(snap.externalPositions))
	copy(p.externalPositions, snap.externalPositions)
	p.externalPositionSet = make(map[types.Address]bool, len(snap.externalPositions))
	for _, position := range snap.externalPositions {
		p.externalPositionSet[position] = true
	}
}
