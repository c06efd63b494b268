package types

import (
	"errors"
	"sort"
	"sync"
)

// Asset describes a token the engine can custody and value.
type Asset struct {
	Denom    string `json:"denom"`    // Canonical identifier, e.g. "weth", "usdc"
	Symbol   string `json:"symbol"`   // Display symbol
	Decimals int    `json:"decimals"` // Base-unit precision (e.g. 18 for weth, 6 for usdc)
}

var ErrAssetNotRegistered = errors.New("asset not registered")

// AssetRegistry is the shared denom -> Asset lookup. Both the value
// interpreter (decimal rescaling) and the comptroller (denomination asset
// validation) read from it.
type AssetRegistry struct {
	mu     sync.RWMutex
	assets map[string]Asset
}

func NewAssetRegistry() *AssetRegistry {
	return &AssetRegistry{assets: make(map[string]Asset)}
}

// Register adds or replaces an asset definition.
func (r *AssetRegistry) Register(asset Asset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[asset.Denom] = asset
}

// Get returns the asset definition for a denom.
func (r *AssetRegistry) Get(denom string) (Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	asset, ok := r.assets[denom]
	if !ok {
		return Asset{}, ErrAssetNotRegistered
	}
	return asset, nil
}

// Decimals returns the base-unit precision for a denom.
func (r *AssetRegistry) Decimals(denom string) (int, error) {
	asset, err := r.Get(denom)
	if err != nil {
		return 0, err
	}
	return asset.Decimals, nil
}

// Denoms returns all registered denoms in deterministic order.
func (r *AssetRegistry) Denoms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	denoms := make([]string, 0, len(r.assets))
	for denom := range r.assets {
		denoms = append(denoms, denom)
	}
	sort.Strings(denoms)
	return denoms
}
