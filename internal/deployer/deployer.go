/*

This file contains the fund deployer: the factory for complete funds. It
wires a fresh comptroller to the protocol singletons, runs the one-time fee
and policy configuration, has the dispatcher deploy the vault, and activates
the pair. It also drives the two accessor-swap flows: migration to a newer
deployer release (through the dispatcher) and in-place reconfiguration.

*/

package deployer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/OFedorovych/Enzyme-vault/internal/bank"
	"github.com/OFedorovych/Enzyme-vault/internal/comptroller"
	"github.com/OFedorovych/Enzyme-vault/internal/dispatcher"
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
	ErrReleaseNotLive            = errors.New("this fund deployer is not the current release")
	ErrOnlyFundOwner             = errors.New("only the fund owner may call this")
	ErrUnknownFund               = errors.New("no fund for vault on this deployer")
	ErrNoPendingMigration        = errors.New("no pending migration for vault")
	ErrReconfigurationPending    = errors.New("reconfiguration already pending for vault")
	ErrNoPendingReconfiguration  = errors.New("no pending reconfiguration for vault")
	ErrReconfigurationTimelocked = errors.New("reconfiguration timelock has not elapsed")
)

// Config wires a fund deployer release to the protocol singletons. Addr must
// be the address the fee and policy managers were constructed with.
type Config struct {
	Addr       types.Address
	Owner      types.Address
	Dispatcher *dispatcher.Dispatcher

	Assets      *types.AssetRegistry
	Interpreter *valuation.Interpreter
	Policies    *policy.Manager
	Fees        *fees.Manager
	Positions   *positions.Manager
	FeeTracker  *fees.ProtocolFeeTracker
	Extensions  map[types.Address]extension.Extension
	Ledger      *bank.Ledger

	TrackedAssetLimit       int
	WrappedNativeDenom      string
	MLNDenom                string
	MLNBurnSink             types.Address
	ProtocolFeeRecipient    types.Address
	BuybackDiscountBps      int64
	ReconfigurationTimelock time.Duration
}

// FundConfig is everything a fund owner chooses at creation.
type FundConfig struct {
	Name                 string
	Symbol               string
	DenominationAsset    string
	SharesActionTimelock time.Duration

	Fees           []fees.Fee
	FeeSettings    []any
	Policies       []policy.Policy
	PolicySettings []any
}

type reconfigRequest struct {
	next         *comptroller.Comptroller
	executableAt time.Time
}

// FundDeployer is one release of the fund factory.
type FundDeployer struct {
	mu  sync.Mutex
	cfg Config

	comptrollers map[types.Address]*comptroller.Comptroller // vault -> active comptroller
	migrations   map[types.Address]*comptroller.Comptroller // vault -> signaled next comptroller
	reconfigs    map[types.Address]*reconfigRequest

	now    func() time.Time
	logger zerolog.Logger
}

// New creates a fund deployer release.
func New(cfg Config) *FundDeployer {
	if cfg.Addr.IsZero() {
		cfg.Addr = types.GenerateAddress()
	}
	return &FundDeployer{
		cfg:          cfg,
		comptrollers: make(map[types.Address]*comptroller.Comptroller),
		migrations:   make(map[types.Address]*comptroller.Comptroller),
		reconfigs:    make(map[types.Address]*reconfigRequest),
		now:          time.Now,
		logger:       logger.GetForComponent("fund_deployer"),
	}
}

// SetClock overrides the time source. Intended for tests.
func (f *FundDeployer) SetClock(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// Addr implements dispatcher.MigrationHandler.
func (f *FundDeployer) Addr() types.Address { return f.cfg.Addr }

// GetOwner returns the protocol owner for this release.
func (f *FundDeployer) GetOwner() types.Address { return f.cfg.Owner }

// ReleaseIsLive reports whether this deployer is the dispatcher's current
// release.
func (f *FundDeployer) ReleaseIsLive() bool {
	return f.cfg.Dispatcher.GetCurrentFundDeployer() == f.cfg.Addr
}

// Funds returns the vault addresses of every active fund on this release.
func (f *FundDeployer) Funds() []types.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Address, 0, len(f.comptrollers))
	for vaultAddr := range f.comptrollers {
		out = append(out, vaultAddr)
	}
	return out
}

// ComptrollerForVault returns the active comptroller behind a vault.
func (f *FundDeployer) ComptrollerForVault(vaultAddr types.Address) (*comptroller.Comptroller, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	comp, ok := f.comptrollers[vaultAddr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFund, vaultAddr)
	}
	return comp, nil
}

// OwnerForComptroller resolves a comptroller address to its fund owner. This
// is the resolver the policy manager authorizes post-launch changes with.
func (f *FundDeployer) OwnerForComptroller(comptrollerAddr types.Address) types.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	for vaultAddr, comp := range f.comptrollers {
		if comp.Addr() == comptrollerAddr {
			if proxy, err := f.cfg.Dispatcher.GetVaultProxy(vaultAddr); err == nil {
				return proxy.GetOwner()
			}
		}
	}
	return types.ZeroAddress
}

// CreateNewFund deploys and activates a complete fund owned by fundOwner.
func (f *FundDeployer) CreateNewFund(fundOwner types.Address, fund FundConfig) (*comptroller.Comptroller, *vault.Proxy, error) {
	if !f.ReleaseIsLive() {
		return nil, nil, ErrReleaseNotLive
	}

	comp, err := f.setUpComptroller(fund)
	if err != nil {
		return nil, nil, err
	}

	decimals, err := f.cfg.Assets.Decimals(fund.DenominationAsset)
	if err != nil {
		return nil, nil, fmt.Errorf("denomination asset decimals: %w", err)
	}
	proxy, err := f.cfg.Dispatcher.DeployVaultProxy(f.cfg.Addr, vault.ProxyConfig{
		Owner:                fundOwner,
		Accessor:             comp.Addr(),
		Name:                 fund.Name,
		Symbol:               fund.Symbol,
		SharesDecimals:       decimals,
		TrackedAssetLimit:    f.cfg.TrackedAssetLimit,
		WrappedNativeDenom:   f.cfg.WrappedNativeDenom,
		MLNDenom:             f.cfg.MLNDenom,
		MLNBurnSink:          f.cfg.MLNBurnSink,
		ProtocolFeeRecipient: f.cfg.ProtocolFeeRecipient,
		BuybackDiscountBps:   f.cfg.BuybackDiscountBps,
		FeeTracker:           f.cfg.FeeTracker,
		FundDeployer:         f.cfg.Dispatcher.GetCurrentFundDeployer,
		Ledger:               f.cfg.Ledger,
	})
	if err != nil {
		return nil, nil, err
	}

	if err := comp.Activate(f.cfg.Addr, proxy, false); err != nil {
		return nil, nil, err
	}

	f.mu.Lock()
	f.comptrollers[proxy.Addr()] = comp
	f.mu.Unlock()

	f.logger.Info().
		Str("vault", proxy.Addr().String()).
		Str("comptroller", comp.Addr().String()).
		Str("owner", fundOwner.String()).
		Str("denominationAsset", fund.DenominationAsset).
		Msg("Fund created")
	return comp, proxy, nil
}

// setUpComptroller deploys, initializes, and configures a comptroller for a
// fund, stopping short of activation.
func (f *FundDeployer) setUpComptroller(fund FundConfig) (*comptroller.Comptroller, error) {
	comp := comptroller.New(comptroller.Config{
		Deployer:    f.cfg.Addr,
		Interpreter: f.cfg.Interpreter,
		Policies:    f.cfg.Policies,
		Fees:        f.cfg.Fees,
		Positions:   f.cfg.Positions,
		Extensions:  f.cfg.Extensions,
		Ledger:      f.cfg.Ledger,
		MLNDenom:    f.cfg.MLNDenom,
	})
	if err := comp.Init(f.cfg.Addr, fund.DenominationAsset, fund.SharesActionTimelock); err != nil {
		return nil, err
	}
	if f.cfg.Fees != nil && len(fund.Fees) > 0 {
		if err := f.cfg.Fees.SetConfigForFund(f.cfg.Addr, comp.Addr(), fund.Fees, fund.FeeSettings); err != nil {
			return nil, err
		}
	}
	if f.cfg.Policies != nil && len(fund.Policies) > 0 {
		if err := f.cfg.Policies.SetConfigForFund(f.cfg.Addr, comp.Addr(), fund.Policies, fund.PolicySettings); err != nil {
			return nil, err
		}
	}
	return comp, nil
}

// CreateMigrationRequest signals moving an existing vault onto this release
// with a freshly configured comptroller. Fund-owner only.
func (f *FundDeployer) CreateMigrationRequest(caller, vaultAddr types.Address, fund FundConfig) (*comptroller.Comptroller, error) {
	if !f.ReleaseIsLive() {
		return nil, ErrReleaseNotLive
	}
	proxy, err := f.cfg.Dispatcher.GetVaultProxy(vaultAddr)
	if err != nil {
		return nil, err
	}
	if caller != proxy.GetOwner() {
		return nil, ErrOnlyFundOwner
	}

	comp, err := f.setUpComptroller(fund)
	if err != nil {
		return nil, err
	}
	if err := f.cfg.Dispatcher.SignalMigration(f.cfg.Addr, vaultAddr, comp.Addr()); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.migrations[vaultAddr] = comp
	f.mu.Unlock()
	return comp, nil
}

// ExecuteMigration completes a signaled migration once the dispatcher's
// timelock has elapsed. Fund-owner only.
func (f *FundDeployer) ExecuteMigration(caller, vaultAddr types.Address) error {
	proxy, err := f.cfg.Dispatcher.GetVaultProxy(vaultAddr)
	if err != nil {
		return err
	}
	if caller != proxy.GetOwner() {
		return ErrOnlyFundOwner
	}
	f.mu.Lock()
	comp, ok := f.migrations[vaultAddr]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPendingMigration, vaultAddr)
	}

	if _, err := f.cfg.Dispatcher.ExecuteMigration(f.cfg.Addr, vaultAddr); err != nil {
		return err
	}
	if err := comp.Activate(f.cfg.Addr, proxy, true); err != nil {
		return err
	}

	f.mu.Lock()
	delete(f.migrations, vaultAddr)
	f.comptrollers[vaultAddr] = comp
	f.mu.Unlock()
	return nil
}

// CancelMigration withdraws a signaled migration. Fund-owner only.
func (f *FundDeployer) CancelMigration(caller, vaultAddr types.Address) error {
	proxy, err := f.cfg.Dispatcher.GetVaultProxy(vaultAddr)
	if err != nil {
		return err
	}
	if caller != proxy.GetOwner() {
		return ErrOnlyFundOwner
	}
	if err := f.cfg.Dispatcher.CancelMigration(f.cfg.Addr, vaultAddr); err != nil {
		return err
	}
	f.mu.Lock()
	delete(f.migrations, vaultAddr)
	f.mu.Unlock()
	return nil
}

// InvokeMigrationOutHook implements dispatcher.MigrationHandler: the vault is
// leaving this release, so its comptroller settles fees and destructs while
// still the accessor.
func (f *FundDeployer) InvokeMigrationOutHook(vaultAddr, prevAccessor types.Address) error {
	f.mu.Lock()
	comp, ok := f.comptrollers[vaultAddr]
	f.mu.Unlock()
	if !ok || comp.Addr() != prevAccessor {
		return fmt.Errorf("%w: %s", ErrUnknownFund, vaultAddr)
	}
	if err := comp.Destruct(f.cfg.Addr); err != nil {
		return err
	}
	f.mu.Lock()
	delete(f.comptrollers, vaultAddr)
	f.mu.Unlock()
	return nil
}

// CreateReconfigurationRequest stages an in-place comptroller swap for a fund
// on this release: same vault, fresh denomination asset, fees, and policies.
// Fund-owner only; timelocked.
func (f *FundDeployer) CreateReconfigurationRequest(caller, vaultAddr types.Address, fund FundConfig) (*comptroller.Comptroller, error) {
	proxy, err := f.cfg.Dispatcher.GetVaultProxy(vaultAddr)
	if err != nil {
		return nil, err
	}
	if caller != proxy.GetOwner() {
		return nil, ErrOnlyFundOwner
	}

	f.mu.Lock()
	_, known := f.comptrollers[vaultAddr]
	_, pending := f.reconfigs[vaultAddr]
	f.mu.Unlock()
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFund, vaultAddr)
	}
	if pending {
		return nil, fmt.Errorf("%w: %s", ErrReconfigurationPending, vaultAddr)
	}

	comp, err := f.setUpComptroller(fund)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	executableAt := f.now().Add(f.cfg.ReconfigurationTimelock)
	f.reconfigs[vaultAddr] = &reconfigRequest{next: comp, executableAt: executableAt}
	f.mu.Unlock()

	f.logger.Info().
		Str("vault", vaultAddr.String()).
		Str("nextComptroller", comp.Addr().String()).
		Time("executableAt", executableAt).
		Msg("Reconfiguration staged")
	return comp, nil
}

// ExecuteReconfiguration completes a staged reconfiguration after the
// timelock: the old comptroller destructs, the new one becomes the vault's
// accessor and activates. Fund-owner only.
func (f *FundDeployer) ExecuteReconfiguration(caller, vaultAddr types.Address) error {
	proxy, err := f.cfg.Dispatcher.GetVaultProxy(vaultAddr)
	if err != nil {
		return err
	}
	if caller != proxy.GetOwner() {
		return ErrOnlyFundOwner
	}

	f.mu.Lock()
	request, ok := f.reconfigs[vaultAddr]
	old := f.comptrollers[vaultAddr]
	now := f.now()
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPendingReconfiguration, vaultAddr)
	}
	if now.Before(request.executableAt) {
		return fmt.Errorf("%w: executable at %s", ErrReconfigurationTimelocked,
			request.executableAt.Format(time.RFC3339))
	}

	if old != nil {
		if err := old.Destruct(f.cfg.Addr); err != nil {
			return err
		}
	}
	if err := proxy.SetAccessorForFundReconfiguration(f.cfg.Addr, request.next.Addr()); err != nil {
		return err
	}
	if err := request.next.Activate(f.cfg.Addr, proxy, true); err != nil {
		return err
	}

	f.mu.Lock()
	delete(f.reconfigs, vaultAddr)
	f.comptrollers[vaultAddr] = request.next
	f.mu.Unlock()
	return nil
}

// CancelReconfigurationRequest withdraws a staged reconfiguration.
// Fund-owner only.
func (f *FundDeployer) CancelReconfigurationRequest(caller, vaultAddr types.Address) error {
	proxy, err := f.cfg.Dispatcher.GetVaultProxy(vaultAddr)
	if err != nil {
		return err
	}
	if caller != proxy.GetOwner() {
		return ErrOnlyFundOwner
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.reconfigs[vaultAddr]; !ok {
		return fmt.Errorf("%w: %s", ErrNoPendingReconfiguration, vaultAddr)
	}
	delete(f.reconfigs, vaultAddr)
	return nil
}
