/*

This file contains the vault proxy: the per-fund storage component. It holds
the custodied-asset view (balances live in the bank ledger at the vault's
address), the shares ledger, the access-control roles (owner, accessor, asset
managers), the tracked-asset set used for GAV, and the active external
position list. Every mutator is guarded by the caller role; the accessor (the
fund's comptroller) is the only component that may move value.

*/

package vault

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/OFedorovych/Enzyme-vault/internal/bank"
	"github.com/OFedorovych/Enzyme-vault/internal/logger"
	"github.com/OFedorovych/Enzyme-vault/internal/types"
)

var (
	ErrOnlyOwner        = errors.New("only the owner can call this function")
	ErrOnlyAccessor     = errors.New("only the accessor can call this function")
	ErrOnlyCreator      = errors.New("only the creator can call this function")
	ErrOnlyFundDeployer = errors.New("only the fund deployer can call this function")
	ErrZeroAddress      = errors.New("address cannot be empty")
	ErrAlreadySet       = errors.New("already set")
	ErrNotNominated     = errors.New("caller is not the nominated owner")
	ErrTooManyAssets    = errors.New("tracked asset limit exceeded")
	ErrAssetNotTracked  = errors.New("asset not tracked")
	ErrPositionActive   = errors.New("external position already active")
	ErrPositionUnknown  = errors.New("external position not active")
)

// ProtocolFeeTracker computes and records time-based protocol fee accrual for
// a vault. Implemented by the fees package.
type ProtocolFeeTracker interface {
	// PayFee marks the fee paid through now and returns the shares due for
	// the elapsed period at the vault's rate, given the current supply.
	PayFee(vault types.Address, sharesSupply sdkmath.Int) (sdkmath.Int, error)
	// InitializeForVault starts fee accrual for a vault.
	InitializeForVault(vault types.Address)
}

// ProxyConfig carries everything a vault proxy needs at deployment.
type ProxyConfig struct {
	Creator  types.Address // the dispatcher
	Owner    types.Address
	Accessor types.Address
	Name     string
	Symbol   string

	SharesDecimals    int
	TrackedAssetLimit int

	WrappedNativeDenom   string
	MLNDenom             string
	MLNBurnSink          types.Address
	ProtocolFeeRecipient types.Address
	BuybackDiscountBps   int64

	FeeTracker   ProtocolFeeTracker
	FundDeployer func() types.Address // resolves the current fund deployer
	Ledger       *bank.Ledger
}

// Proxy is a deployed per-fund vault.
type Proxy struct {
	mu sync.RWMutex

	addr           types.Address
	creator        types.Address
	owner          types.Address
	nominatedOwner types.Address
	accessor       types.Address
	assetManagers  map[types.Address]bool

	name               string
	symbol             string
	sharesDecimals     int
	freelyTransferable bool

	balances    map[types.Address]sdkmath.Int
	totalSupply sdkmath.Int

	trackedAssets      []string
	trackedAssetSet    map[string]bool
	persistentAssetSet map[string]bool
	trackedAssetLimit  int

	externalPositions   []types.Address
	externalPositionSet map[types.Address]bool

	wrappedNativeDenom   string
	mlnDenom             string
	mlnBurnSink          types.Address
	protocolFeeRecipient types.Address
	buybackDiscountBps   int64

	feeTracker   ProtocolFeeTracker
	fundDeployer func() types.Address
	ledger       *bank.Ledger
	logger       zerolog.Logger
}

// DefaultSymbol is used when a fund is created without a symbol.
const DefaultSymbol = "ENZF"

// NewProxy deploys a vault proxy and returns it with a fresh address.
func NewProxy(cfg ProxyConfig) (*Proxy, error) {
	if cfg.Owner.IsZero() {
		return nil, fmt.Errorf("%w: owner", ErrZeroAddress)
	}
	if cfg.Accessor.IsZero() {
		return nil, fmt.Errorf("%w: accessor", ErrZeroAddress)
	}
	if cfg.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	symbol := cfg.Symbol
	if symbol == "" {
		symbol = DefaultSymbol
	}
	p := &Proxy{
		addr:                 types.GenerateAddress(),
		creator:              cfg.Creator,
		owner:                cfg.Owner,
		accessor:             cfg.Accessor,
		assetManagers:        make(map[types.Address]bool),
		name:                 cfg.Name,
		symbol:               symbol,
		sharesDecimals:       cfg.SharesDecimals,
		balances:             make(map[types.Address]sdkmath.Int),
		totalSupply:          sdkmath.ZeroInt(),
		trackedAssetSet:      make(map[string]bool),
		persistentAssetSet:   make(map[string]bool),
		trackedAssetLimit:    cfg.TrackedAssetLimit,
		externalPositionSet:  make(map[types.Address]bool),
		wrappedNativeDenom:   cfg.WrappedNativeDenom,
		mlnDenom:             cfg.MLNDenom,
		mlnBurnSink:          cfg.MLNBurnSink,
		protocolFeeRecipient: cfg.ProtocolFeeRecipient,
		buybackDiscountBps:   cfg.BuybackDiscountBps,
		feeTracker:           cfg.FeeTracker,
		fundDeployer:         cfg.FundDeployer,
		ledger:               cfg.Ledger,
		logger:               logger.GetForComponent("vault_proxy"),
	}
	if p.feeTracker != nil {
		p.feeTracker.InitializeForVault(p.addr)
	}
	p.logger.Info().
		Str("vault", p.addr.String()).
		Str("owner", p.owner.String()).
		Str("accessor", p.accessor.String()).
		Str("name", p.name).
		Msg("Vault proxy deployed")
	return p, nil
}

// Addr returns the vault's address (the fund's identity).
func (p *Proxy) Addr() types.Address { return p.addr }

// GetCreator returns the deploying dispatcher's address.
func (p *Proxy) GetCreator() types.Address { return p.creator }

// GetOwner returns the current fund owner.
func (p *Proxy) GetOwner() types.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.owner
}

// GetNominatedOwner returns the pending owner nominee, if any.
func (p *Proxy) GetNominatedOwner() types.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.nominatedOwner
}

// GetAccessor returns the active accessor (the fund's comptroller).
func (p *Proxy) GetAccessor() types.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.accessor
}

// Name returns the shares token name.
func (p *Proxy) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

// Symbol returns the shares token symbol.
func (p *Proxy) Symbol() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.symbol
}

// Decimals returns the shares precision.
func (p *Proxy) Decimals() int { return p.sharesDecimals }

// SetName renames the shares token. Owner-only.
func (p *Proxy) SetName(caller types.Address, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.owner {
		return ErrOnlyOwner
	}
	p.name = name
	p.logger.Info().Str("vault", p.addr.String()).Str("name", name).Msg("Name set")
	return nil
}

// SetSymbol changes the shares token symbol. Owner-only.
func (p *Proxy) SetSymbol(caller types.Address, symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.owner {
		return ErrOnlyOwner
	}
	p.symbol = symbol
	p.logger.Info().Str("vault", p.addr.String()).Str("symbol", symbol).Msg("Symbol set")
	return nil
}

// SetNominatedOwner starts the two-phase ownership transfer. Owner-only.
func (p *Proxy) SetNominatedOwner(caller, nominee types.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.owner {
		return ErrOnlyOwner
	}
	if nominee.IsZero() {
		return fmt.Errorf("%w: nominee", ErrZeroAddress)
	}
	if nominee == p.owner {
		return fmt.Errorf("%w: nominee is already the owner", ErrAlreadySet)
	}
	p.nominatedOwner = nominee
	return nil
}

// RemoveNominatedOwner cancels a pending nomination. Owner-only.
func (p *Proxy) RemoveNominatedOwner(caller types.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.owner {
		return ErrOnlyOwner
	}
	p.nominatedOwner = types.ZeroAddress
	return nil
}

// ClaimOwnership completes the transfer. Callable only by the nominee.
func (p *Proxy) ClaimOwnership(caller types.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nominatedOwner.IsZero() || caller != p.nominatedOwner {
		return ErrNotNominated
	}
	previous := p.owner
	p.owner = p.nominatedOwner
	p.nominatedOwner = types.ZeroAddress
	p.logger.Info().
		Str("vault", p.addr.String()).
		Str("previousOwner", previous.String()).
		Str("owner", p.owner.String()).
		Msg("Ownership claimed")
	return nil
}

// SetAccessor replaces the accessor. Creator-only; used during migration.
func (p *Proxy) SetAccessor(caller, next types.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.creator {
		return ErrOnlyCreator
	}
	if next.IsZero() {
		return fmt.Errorf("%w: accessor", ErrZeroAddress)
	}
	p.accessor = next
	p.logger.Info().Str("vault", p.addr.String()).Str("accessor", next.String()).Msg("Accessor set")
	return nil
}

// SetAccessorForFundReconfiguration replaces the accessor mid-reconfiguration.
// Callable only by the current fund deployer.
func (p *Proxy) SetAccessorForFundReconfiguration(caller, next types.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fundDeployer == nil || caller != p.fundDeployer() {
		return ErrOnlyFundDeployer
	}
	if next.IsZero() {
		return fmt.Errorf("%w: accessor", ErrZeroAddress)
	}
	p.accessor = next
	return nil
}

// AddAssetManagers grants trade permission to managers. Owner-only.
func (p *Proxy) AddAssetManagers(caller types.Address, managers []types.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.owner {
		return ErrOnlyOwner
	}
	for _, manager := range managers {
		if p.assetManagers[manager] {
			return fmt.Errorf("%w: manager %s", ErrAlreadySet, manager)
		}
		p.assetManagers[manager] = true
	}
	return nil
}

// RemoveAssetManagers revokes trade permission. Owner-only.
func (p *Proxy) RemoveAssetManagers(caller types.Address, managers []types.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.owner {
		return ErrOnlyOwner
	}
	for _, manager := range managers {
		if !p.assetManagers[manager] {
			return fmt.Errorf("manager %s not registered", manager)
		}
		delete(p.assetManagers, manager)
	}
	return nil
}

// IsAssetManager reports whether an address is a registered asset manager.
func (p *Proxy) IsAssetManager(addr types.Address) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.assetManagers[addr]
}

// CanManageAssets reports whether an address may initiate trades: the owner
// or any registered asset manager.
func (p *Proxy) CanManageAssets(addr types.Address) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return addr == p.owner || p.assetManagers[addr]
}

// AddTrackedAsset adds an asset to the GAV set. Accessor-only; bounded by the
// tracked-asset limit.
func (p *Proxy) AddTrackedAsset(caller types.Address, denom string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.accessor {
		return ErrOnlyAccessor
	}
	return p.addTrackedAssetLocked(denom)
}

func (p *Proxy) addTrackedAssetLocked(denom string) error {
	if p.trackedAssetSet[denom] {
		return nil
	}
	if len(p.trackedAssets) >= p.trackedAssetLimit {
		return fmt.Errorf("%w: limit %d", ErrTooManyAssets, p.trackedAssetLimit)
	}
	p.trackedAssets = append(p.trackedAssets, denom)
	p.trackedAssetSet[denom] = true
	p.logger.Debug().Str("vault", p.addr.String()).Str("asset", denom).Msg("Asset tracked")
	return nil
}

// AddPersistentlyTrackedAsset tracks an asset that can never be untracked,
// such as the fund's denomination asset. Accessor-only.
func (p *Proxy) AddPersistentlyTrackedAsset(caller types.Address, denom string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.accessor {
		return ErrOnlyAccessor
	}
	if err := p.addTrackedAssetLocked(denom); err != nil {
		return err
	}
	p.persistentAssetSet[denom] = true
	return nil
}

// IsPersistentlyTrackedAsset reports whether a denom is immune to untracking.
func (p *Proxy) IsPersistentlyTrackedAsset(denom string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.persistentAssetSet[denom]
}

// RemoveTrackedAsset removes an asset from the GAV set. Accessor-only.
// Persistently tracked assets are left in place.
func (p *Proxy) RemoveTrackedAsset(caller types.Address, denom string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.accessor {
		return ErrOnlyAccessor
	}
	if p.persistentAssetSet[denom] {
		return nil
	}
	if !p.trackedAssetSet[denom] {
		return fmt.Errorf("%w: %s", ErrAssetNotTracked, denom)
	}
	delete(p.trackedAssetSet, denom)
	for i, tracked := range p.trackedAssets {
		if tracked == denom {
			p.trackedAssets = append(p.trackedAssets[:i], p.trackedAssets[i+1:]...)
			break
		}
	}
	p.logger.Debug().Str("vault", p.addr.String()).Str("asset", denom).Msg("Asset untracked")
	return nil
}

// IsTrackedAsset reports whether a denom counts toward GAV.
func (p *Proxy) IsTrackedAsset(denom string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.trackedAssetSet[denom]
}

// TrackedAssets returns the tracked denoms in tracking order.
func (p *Proxy) TrackedAssets() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.trackedAssets))
	copy(out, p.trackedAssets)
	return out
}

// AssetBalance returns the vault's custodied balance of a denom.
func (p *Proxy) AssetBalance(denom string) sdkmath.Int {
	return p.ledger.BalanceOf(denom, p.addr)
}

// WithdrawAssetTo moves a custodied asset out of the vault. Accessor-only.
func (p *Proxy) WithdrawAssetTo(caller types.Address, denom string, target types.Address, amount sdkmath.Int) error {
	p.mu.RLock()
	accessor := p.accessor
	p.mu.RUnlock()
	if caller != accessor {
		return ErrOnlyAccessor
	}
	if err := p.ledger.Transfer(denom, p.addr, target, amount); err != nil {
		return fmt.Errorf("withdraw %s: %w", denom, err)
	}
	p.logger.Debug().
		Str("vault", p.addr.String()).
		Str("asset", denom).
		Str("target", target.String()).
		Str("amount", amount.String()).
		Msg("Asset withdrawn")
	return nil
}

// ReceiveNative wraps a native-token receipt into the wrapped native asset.
// The vault never custodies unwrapped native units.
func (p *Proxy) ReceiveNative(amount sdkmath.Int) error {
	if err := p.ledger.Mint(p.wrappedNativeDenom, p.addr, amount); err != nil {
		return fmt.Errorf("wrap native: %w", err)
	}
	p.logger.Debug().
		Str("vault", p.addr.String()).
		Str("amount", amount.String()).
		Str("wrapped", p.wrappedNativeDenom).
		Msg("Native receipt wrapped")
	return nil
}

// AddExternalPosition activates a position proxy. Accessor-only; shares the
// positional limit with tracked assets.
func (p *Proxy) AddExternalPosition(caller, position types.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.accessor {
		return ErrOnlyAccessor
	}
	if p.externalPositionSet[position] {
		return fmt.Errorf("%w: %s", ErrPositionActive, position)
	}
	if len(p.externalPositions) >= p.trackedAssetLimit {
		return fmt.Errorf("%w: limit %d", ErrTooManyAssets, p.trackedAssetLimit)
	}
	p.externalPositions = append(p.externalPositions, position)
	p.externalPositionSet[position] = true
	return nil
}

// RemoveExternalPosition deactivates a position proxy. Accessor-only.
func (p *Proxy) RemoveExternalPosition(caller, position types.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.accessor {
		return ErrOnlyAccessor
	}
	if !p.externalPositionSet[position] {
		return fmt.Errorf("%w: %s", ErrPositionUnknown, position)
	}
	delete(p.externalPositionSet, position)
	for i, active := range p.externalPositions {
		if active == position {
			p.externalPositions = append(p.externalPositions[:i], p.externalPositions[i+1:]...)
			break
		}
	}
	return nil
}

// IsActiveExternalPosition reports whether a position is active on the vault.
func (p *Proxy) IsActiveExternalPosition(position types.Address) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.externalPositionSet[position]
}

// ActiveExternalPositions returns the active position proxies in order.
func (p *Proxy) ActiveExternalPositions() []types.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.Address, len(p.externalPositions))
	copy(out, p.externalPositions)
	return out
}
