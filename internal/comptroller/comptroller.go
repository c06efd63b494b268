/*

This file contains the comptroller's lifecycle and valuation surface. The
comptroller is a fund's logic core: it is the vault's accessor, the only
component allowed to move custodied assets and shares, and the dispatch point
for extensions. Lifecycle runs strictly forward through Uninitialized,
Unactivated, Activated, and Destructed; only the fund deployer drives the
transitions.

*/

package comptroller

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
	"github.com/rs/zerolog"

	"github.com/OFedorovych/Enzyme-vault/internal/bank"
	"github.com/OFedorovych/Enzyme-vault/internal/extension"
	"github.com/OFedorovych/Enzyme-vault/internal/fees"
	"github.com/OFedorovych/Enzyme-vault/internal/logger"
	"github.com/OFedorovych/Enzyme-vault/internal/policy"
	"github.com/OFedorovych/Enzyme-vault/internal/positions"
	"github.com/OFedorovych/Enzyme-vault/internal/types"
	"github.com/OFedorovych/Enzyme-vault/internal/valuation"
	"github.com/OFedorovych/Enzyme-vault/internal/vault"
)

var (
	ErrOnlyDeployer                 = errors.New("only the fund deployer may call this")
	ErrAlreadyInitialized           = errors.New("comptroller already initialized")
	ErrNotInitialized               = errors.New("comptroller not initialized")
	ErrNotActivated                 = errors.New("comptroller not activated")
	ErrDestructed                   = errors.New("comptroller destructed")
	ErrUnsupportedDenominationAsset = errors.New("denomination asset has no primitive feed")
	ErrUnknownExtension             = errors.New("extension not registered")
)

// State is the comptroller lifecycle stage.
type State int

const (
	StateUninitialized State = iota
	StateUnactivated
	StateActivated
	StateDestructed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateUnactivated:
		return "Unactivated"
	case StateActivated:
		return "Activated"
	case StateDestructed:
		return "Destructed"
	}
	return "Unknown"
}

// Config wires a comptroller to the protocol singletons.
type Config struct {
	Deployer    types.Address
	Interpreter *valuation.Interpreter
	Policies    *policy.Manager
	Fees        *fees.Manager
	Positions   *positions.Manager
	Extensions  map[types.Address]extension.Extension
	Ledger      *bank.Ledger
	MLNDenom    string
}

// Comptroller is a fund's deployed logic instance.
type Comptroller struct {
	mu sync.Mutex

	addr     types.Address
	deployer types.Address
	state    State

	vaultProxy        *vault.Proxy
	denominationAsset string

	sharesActionTimelock time.Duration
	lastSharesAction     map[types.Address]time.Time

	interpreter *valuation.Interpreter
	policies    *policy.Manager
	fees        *fees.Manager
	positions   *positions.Manager
	extensions  map[types.Address]extension.Extension
	ledger      *bank.Ledger
	mlnDenom    string

	now    func() time.Time
	logger zerolog.Logger
}

// New deploys an uninitialized comptroller instance.
func New(cfg Config) *Comptroller {
	return &Comptroller{
		addr:             types.GenerateAddress(),
		deployer:         cfg.Deployer,
		state:            StateUninitialized,
		lastSharesAction: make(map[types.Address]time.Time),
		interpreter:      cfg.Interpreter,
		policies:         cfg.Policies,
		fees:             cfg.Fees,
		positions:        cfg.Positions,
		extensions:       cfg.Extensions,
		ledger:           cfg.Ledger,
		mlnDenom:         cfg.MLNDenom,
		now:              time.Now,
		logger:           logger.GetForComponent("comptroller"),
	}
}

// SetClock overrides the time source. Intended for tests.
func (c *Comptroller) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Addr returns the comptroller's address. It is the vault's accessor identity.
func (c *Comptroller) Addr() types.Address { return c.addr }

// State returns the lifecycle stage.
func (c *Comptroller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// DenominationAsset returns the fund's quote denom.
func (c *Comptroller) DenominationAsset() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.denominationAsset
}

// SharesActionTimelock returns the per-depositor cooldown.
func (c *Comptroller) SharesActionTimelock() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sharesActionTimelock
}

// VaultProxy returns the attached vault, nil before activation.
func (c *Comptroller) VaultProxy() *vault.Proxy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vaultProxy
}

// Init fixes the fund's denomination asset and shares-action timelock.
// Deployer-only; callable exactly once.
func (c *Comptroller) Init(caller types.Address, denominationAsset string, timelock time.Duration) error {
	if caller != c.deployer {
		return ErrOnlyDeployer
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUninitialized {
		return ErrAlreadyInitialized
	}
	if c.interpreter == nil || !c.interpreter.IsSupportedPrimitiveAsset(denominationAsset) {
		return fmt.Errorf("%w: %s", ErrUnsupportedDenominationAsset, denominationAsset)
	}
	c.denominationAsset = denominationAsset
	c.sharesActionTimelock = timelock
	c.state = StateUnactivated
	c.logger.Info().
		Str("comptroller", c.addr.String()).
		Str("denominationAsset", denominationAsset).
		Dur("timelock", timelock).
		Msg("Comptroller initialized")
	return nil
}

// Activate attaches the vault and brings the fund live. On migration the
// accrued protocol fee is settled immediately so shares owed to the previous
// deployment's fee recipient are not lost. Deployer-only.
func (c *Comptroller) Activate(caller types.Address, vaultProxy *vault.Proxy, isMigration bool) error {
	if caller != c.deployer {
		return ErrOnlyDeployer
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateUninitialized:
		return ErrNotInitialized
	case StateActivated, StateDestructed:
		return fmt.Errorf("cannot activate from state %s", c.state)
	}
	c.vaultProxy = vaultProxy

	err := c.runAtomic(func() error {
		if err := vaultProxy.AddPersistentlyTrackedAsset(c.addr, c.denominationAsset); err != nil {
			return fmt.Errorf("track denomination asset: %w", err)
		}
		if isMigration {
			if _, err := vaultProxy.PayProtocolFee(c.addr); err != nil {
				return fmt.Errorf("settle protocol fee on migration: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		c.vaultProxy = nil
		return err
	}

	c.state = StateActivated
	now := c.now()
	if c.fees != nil {
		c.fees.ActivateForFund(fees.FundContext{
			Comptroller: c.addr,
			Vault:       vaultProxy,
			Accessor:    c.addr,
			Gav:         c.calcGavLocked(),
			Now:         now,
		})
	}
	if c.policies != nil {
		c.policies.ActivateForFund(c.addr)
	}
	c.logger.Info().
		Str("comptroller", c.addr.String()).
		Str("vault", vaultProxy.Addr().String()).
		Bool("migration", isMigration).
		Msg("Comptroller activated")
	return nil
}

// Destruct winds the fund logic down after a migration away or a shutdown.
// The accrued protocol fee is settled first. Deployer-only; terminal.
func (c *Comptroller) Destruct(caller types.Address) error {
	if caller != c.deployer {
		return ErrOnlyDeployer
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActivated {
		return ErrNotActivated
	}
	if _, err := c.vaultProxy.PayProtocolFee(c.addr); err != nil {
		return fmt.Errorf("settle protocol fee on destruct: %w", err)
	}
	if c.fees != nil {
		c.fees.DeactivateForFund(c.addr)
	}
	if c.policies != nil {
		c.policies.DeactivateForFund(c.addr)
	}
	c.state = StateDestructed
	c.logger.Info().Str("comptroller", c.addr.String()).Msg("Comptroller destructed")
	return nil
}

// CalcGav values everything the fund holds in the denomination asset: every
// tracked asset balance plus each external position's managed value net of
// its debt, floored at zero per position.
func (c *Comptroller) CalcGav() (sdkmath.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActivated {
		return sdkmath.Int{}, ErrNotActivated
	}
	return c.calcGav()
}

func (c *Comptroller) calcGav() (sdkmath.Int, error) {
	gav := sdkmath.ZeroInt()
	for _, denom := range c.vaultProxy.TrackedAssets() {
		balance := c.vaultProxy.AssetBalance(denom)
		if balance.IsZero() {
			continue
		}
		value, err := c.interpreter.CalcCanonicalAssetValue(denom, balance, c.denominationAsset)
		if err != nil {
			return sdkmath.Int{}, fmt.Errorf("valuing tracked asset %s: %w", denom, err)
		}
		gav = gav.Add(value)
	}

	for _, positionAddr := range c.vaultProxy.ActiveExternalPositions() {
		value, err := c.calcPositionValue(positionAddr)
		if err != nil {
			return sdkmath.Int{}, err
		}
		gav = gav.Add(value)
	}
	return gav, nil
}

// calcGavLocked is calcGav with failures collapsed to zero, for contexts
// where valuation cannot abort (fee activation on an empty fund).
func (c *Comptroller) calcGavLocked() sdkmath.Int {
	gav, err := c.calcGav()
	if err != nil {
		return sdkmath.ZeroInt()
	}
	return gav
}

func (c *Comptroller) calcPositionValue(positionAddr types.Address) (sdkmath.Int, error) {
	if c.positions == nil {
		return sdkmath.ZeroInt(), nil
	}
	position, ok := c.positions.PositionFor(positionAddr)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("%w: %s", positions.ErrUnknownPosition, positionAddr)
	}
	managed, err := c.interpreter.CalcCanonicalAssetsTotalValue(position.GetManagedAssets(), c.denominationAsset)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("valuing position %s managed assets: %w", positionAddr, err)
	}
	debt, err := c.interpreter.CalcCanonicalAssetsTotalValue(position.GetDebtAssets(), c.denominationAsset)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("valuing position %s debt assets: %w", positionAddr, err)
	}
	if debt.GTE(managed) {
		return sdkmath.ZeroInt(), nil
	}
	return managed.Sub(debt), nil
}

// CalcGrossShareValue returns the value of one whole share in denomination
// asset base units. With no shares outstanding a share is worth exactly one
// whole denomination asset unit.
func (c *Comptroller) CalcGrossShareValue() (sdkmath.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActivated {
		return sdkmath.Int{}, ErrNotActivated
	}
	supply := c.vaultProxy.TotalSupply()
	oneShare := sdkmath.NewIntWithDecimal(1, c.vaultProxy.Decimals())
	if supply.IsZero() {
		return oneShare, nil
	}
	gav, err := c.calcGav()
	if err != nil {
		return sdkmath.Int{}, err
	}
	return gav.Mul(oneShare).Quo(supply), nil
}

// CalcNetShareValue settles the protocol fee and continuous fees before
// pricing, so the returned per-share value already carries their dilution.
// Settlement and valuation run atomically.
func (c *Comptroller) CalcNetShareValue() (sdkmath.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActivated {
		return sdkmath.Int{}, ErrNotActivated
	}

	netValue := sdkmath.ZeroInt()
	err := c.runAtomic(func() error {
		if _, err := c.vaultProxy.PayProtocolFee(c.addr); err != nil {
			return err
		}
		gav, err := c.calcGav()
		if err != nil {
			return err
		}
		if c.fees != nil {
			fund := fees.FundContext{Comptroller: c.addr, Vault: c.vaultProxy, Accessor: c.addr, Gav: gav, Now: c.now()}
			if _, err := c.fees.InvokeHook(fund, fees.HookContinuous, fees.SettlementArgs{}); err != nil {
				return err
			}
		}

		supply := c.vaultProxy.TotalSupply()
		oneShare := sdkmath.NewIntWithDecimal(1, c.vaultProxy.Decimals())
		if supply.IsZero() {
			netValue = oneShare
			return nil
		}
		netValue = gav.Mul(oneShare).Quo(supply)
		return nil
	})
	if err != nil {
		return sdkmath.Int{}, err
	}
	return netValue, nil
}

// CallOnExtension routes an action to a registered extension atomically: any
// error restores the asset ledger and vault state captured on entry.
func (c *Comptroller) CallOnExtension(caller, ext types.Address, actionID int, args any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActivated {
		return ErrNotActivated
	}
	target, ok := c.extensions[ext]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownExtension, ext)
	}

	return c.runAtomic(func() error {
		return target.ReceiveCallFromComptroller(extension.Call{
			Comptroller: c.addr,
			Vault:       c.vaultProxy,
			Caller:      caller,
			ActionID:    actionID,
			Args:        args,
		})
	})
}

// runAtomic executes fn and rolls back the asset ledger and vault state when
// it fails. Callers must hold c.mu.
func (c *Comptroller) runAtomic(fn func() error) error {
	ledgerSnap := c.ledger.Snapshot()
	vaultSnap := c.vaultProxy.Snapshot()
	if err := fn(); err != nil {
		c.ledger.Restore(ledgerSnap)
		c.vaultProxy.Restore(vaultSnap)
		return err
	}
	return nil
}

// trackedPayoutAssets resolves the redemption payout set: tracked assets plus
// extras, minus skips, duplicates rejected.
func trackedPayoutAssets(tracked, additional, skip []string) ([]string, error) {
	seen := make(map[string]bool, len(tracked)+len(additional))
	skipSet := make(map[string]bool, len(skip))
	for _, denom := range skip {
		if skipSet[denom] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePayoutAsset, denom)
		}
		skipSet[denom] = true
	}
	var out []string
	for _, denom := range append(append([]string{}, tracked...), additional...) {
		if seen[denom] {
			if containsDenom(additional, denom) {
				return nil, fmt.Errorf("%w: %s", ErrDuplicatePayoutAsset, denom)
			}
			continue
		}
		seen[denom] = true
		if skipSet[denom] {
			continue
		}
		out = append(out, denom)
	}
	return out, nil
}

func containsDenom(denoms []string, denom string) bool {
	for _, d := range denoms {
		if d == denom {
			return true
		}
	}
	return false
}

// coinsString renders a coin list for log fields.
func coinsString(coins []sdktypes.Coin) string {
	return sdktypes.Coins(coins).String()
}
