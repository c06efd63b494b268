/*

This file contains the dispatcher: the protocol's top-level registry. It owns
the notion of the current fund deployer release, deploys vault proxies (so it
alone can later swap their accessor), and runs the timelocked migration flow
that moves a vault from one deployer release to the next.

*/

package dispatcher

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/OFedorovych/Enzyme-vault/internal/logger"
	"github.com/OFedorovych/Enzyme-vault/internal/types"
	"github.com/OFedorovych/Enzyme-vault/internal/vault"
)

var (
	ErrOnlyOwner               = errors.New("only the dispatcher owner may call this")
	ErrOnlyCurrentFundDeployer = errors.New("only the current fund deployer may call this")
	ErrOnlySignalingDeployer   = errors.New("only the fund deployer that signaled may call this")
	ErrUnknownVault            = errors.New("vault not deployed through the dispatcher")
	ErrMigrationPending        = errors.New("migration already signaled for vault")
	ErrNoMigrationPending      = errors.New("no migration signaled for vault")
	ErrMigrationTimelocked     = errors.New("migration timelock has not elapsed")
	ErrSameFundDeployer        = errors.New("vault already belongs to this fund deployer")
)

// MigrationHandler is the surface a fund deployer release exposes to the
// dispatcher. The out-hook fires on the release a vault is leaving so it can
// wind down the vault's old comptroller.
type MigrationHandler interface {
	Addr() types.Address
	InvokeMigrationOutHook(vaultAddr, prevAccessor types.Address) error
}

// MigrationRequest is a signaled, timelocked accessor swap for one vault.
type MigrationRequest struct {
	NextFundDeployer types.Address
	NextAccessor     types.Address
	ExecutableAt     time.Time
}

// Dispatcher is the protocol root.
type Dispatcher struct {
	mu sync.Mutex

	addr  types.Address
	owner types.Address

	currentFundDeployer types.Address
	migrationTimelock   time.Duration

	vaults        map[types.Address]*vault.Proxy
	vaultDeployer map[types.Address]types.Address
	migrations    map[types.Address]*MigrationRequest
	handlers      map[types.Address]MigrationHandler

	now    func() time.Time
	logger zerolog.Logger
}

// New creates a dispatcher owned by owner with the given migration timelock.
func New(owner types.Address, migrationTimelock time.Duration) *Dispatcher {
	return &Dispatcher{
		addr:              types.GenerateAddress(),
		owner:             owner,
		migrationTimelock: migrationTimelock,
		vaults:            make(map[types.Address]*vault.Proxy),
		vaultDeployer:     make(map[types.Address]types.Address),
		migrations:        make(map[types.Address]*MigrationRequest),
		handlers:          make(map[types.Address]MigrationHandler),
		now:               time.Now,
		logger:            logger.GetForComponent("dispatcher"),
	}
}

// SetClock overrides the time source. Intended for tests.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

// Addr returns the dispatcher's address. It is the creator of every vault.
func (d *Dispatcher) Addr() types.Address { return d.addr }

// GetOwner returns the protocol owner.
func (d *Dispatcher) GetOwner() types.Address { return d.owner }

// GetCurrentFundDeployer returns the active fund deployer release.
func (d *Dispatcher) GetCurrentFundDeployer() types.Address {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentFundDeployer
}

// SetCurrentFundDeployer promotes a fund deployer release. Owner-only.
func (d *Dispatcher) SetCurrentFundDeployer(caller types.Address, deployer MigrationHandler) error {
	if caller != d.owner {
		return ErrOnlyOwner
	}
	if deployer == nil || deployer.Addr().IsZero() {
		return errors.New("fund deployer cannot be empty")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	previous := d.currentFundDeployer
	d.currentFundDeployer = deployer.Addr()
	d.handlers[deployer.Addr()] = deployer
	d.logger.Info().
		Str("previous", previous.String()).
		Str("current", deployer.Addr().String()).
		Msg("Current fund deployer set")
	return nil
}

// GetMigrationTimelock returns the delay between signal and execute.
func (d *Dispatcher) GetMigrationTimelock() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.migrationTimelock
}

// SetMigrationTimelock changes the migration delay. Owner-only.
func (d *Dispatcher) SetMigrationTimelock(caller types.Address, timelock time.Duration) error {
	if caller != d.owner {
		return ErrOnlyOwner
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.migrationTimelock = timelock
	return nil
}

// DeployVaultProxy deploys a vault owned by the fund owner with the given
// accessor. Only the current fund deployer may call; the dispatcher records
// itself as creator so it can swap the accessor during migration.
func (d *Dispatcher) DeployVaultProxy(caller types.Address, cfg vault.ProxyConfig) (*vault.Proxy, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if caller != d.currentFundDeployer {
		return nil, ErrOnlyCurrentFundDeployer
	}

	cfg.Creator = d.addr
	proxy, err := vault.NewProxy(cfg)
	if err != nil {
		return nil, fmt.Errorf("deploy vault proxy: %w", err)
	}
	d.vaults[proxy.Addr()] = proxy
	d.vaultDeployer[proxy.Addr()] = caller
	return proxy, nil
}

// GetVaultProxy resolves a deployed vault by address.
func (d *Dispatcher) GetVaultProxy(addr types.Address) (*vault.Proxy, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	proxy, ok := d.vaults[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVault, addr)
	}
	return proxy, nil
}

// GetFundDeployerForVaultProxy returns the fund deployer a vault currently
// belongs to.
func (d *Dispatcher) GetFundDeployerForVaultProxy(addr types.Address) (types.Address, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	deployer, ok := d.vaultDeployer[addr]
	if !ok {
		return types.ZeroAddress, fmt.Errorf("%w: %s", ErrUnknownVault, addr)
	}
	return deployer, nil
}

// MigrationRequestFor returns the pending request for a vault, if any.
func (d *Dispatcher) MigrationRequestFor(vaultAddr types.Address) (MigrationRequest, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	request, ok := d.migrations[vaultAddr]
	if !ok {
		return MigrationRequest{}, false
	}
	return *request, true
}

// SignalMigration starts the timelocked move of a vault to the current fund
// deployer with nextAccessor as its new comptroller. Only the current fund
// deployer may signal, and only for vaults it does not already hold.
func (d *Dispatcher) SignalMigration(caller, vaultAddr, nextAccessor types.Address) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if caller != d.currentFundDeployer {
		return ErrOnlyCurrentFundDeployer
	}
	if _, ok := d.vaults[vaultAddr]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVault, vaultAddr)
	}
	if d.vaultDeployer[vaultAddr] == caller {
		return ErrSameFundDeployer
	}
	if _, pending := d.migrations[vaultAddr]; pending {
		return fmt.Errorf("%w: %s", ErrMigrationPending, vaultAddr)
	}

	executableAt := d.now().Add(d.migrationTimelock)
	d.migrations[vaultAddr] = &MigrationRequest{
		NextFundDeployer: caller,
		NextAccessor:     nextAccessor,
		ExecutableAt:     executableAt,
	}
	d.logger.Info().
		Str("vault", vaultAddr.String()).
		Str("nextFundDeployer", caller.String()).
		Str("nextAccessor", nextAccessor.String()).
		Time("executableAt", executableAt).
		Msg("Migration signaled")
	return nil
}

// ExecuteMigration completes a signaled migration once the timelock has
// elapsed: the vault's accessor becomes the signaled comptroller and the
// vault moves to the signaling fund deployer. Returns the previous accessor
// so the caller can wind it down.
func (d *Dispatcher) ExecuteMigration(caller, vaultAddr types.Address) (types.Address, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	request, ok := d.migrations[vaultAddr]
	if !ok {
		return types.ZeroAddress, fmt.Errorf("%w: %s", ErrNoMigrationPending, vaultAddr)
	}
	if caller != request.NextFundDeployer {
		return types.ZeroAddress, ErrOnlySignalingDeployer
	}
	if now := d.now(); now.Before(request.ExecutableAt) {
		return types.ZeroAddress, fmt.Errorf("%w: executable at %s", ErrMigrationTimelocked,
			request.ExecutableAt.Format(time.RFC3339))
	}

	proxy := d.vaults[vaultAddr]
	previousAccessor := proxy.GetAccessor()
	previousDeployer := d.vaultDeployer[vaultAddr]

	// The out-hook runs while the old comptroller is still the accessor so
	// it can settle outstanding fees on its way down.
	if handler, ok := d.handlers[previousDeployer]; ok {
		if err := handler.InvokeMigrationOutHook(vaultAddr, previousAccessor); err != nil {
			return types.ZeroAddress, fmt.Errorf("migration out hook: %w", err)
		}
	}
	if err := proxy.SetAccessor(d.addr, request.NextAccessor); err != nil {
		return types.ZeroAddress, fmt.Errorf("swap accessor: %w", err)
	}
	d.vaultDeployer[vaultAddr] = request.NextFundDeployer
	delete(d.migrations, vaultAddr)
	d.logger.Info().
		Str("vault", vaultAddr.String()).
		Str("previousAccessor", previousAccessor.String()).
		Str("accessor", request.NextAccessor.String()).
		Msg("Migration executed")
	return previousAccessor, nil
}

// CancelMigration withdraws a signaled migration. Callable by the signaling
// fund deployer or the vault owner.
func (d *Dispatcher) CancelMigration(caller, vaultAddr types.Address) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	request, ok := d.migrations[vaultAddr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoMigrationPending, vaultAddr)
	}
	proxy := d.vaults[vaultAddr]
	if caller != request.NextFundDeployer && caller != proxy.GetOwner() {
		return ErrOnlySignalingDeployer
	}
	delete(d.migrations, vaultAddr)
	d.logger.Info().Str("vault", vaultAddr.String()).Msg("Migration cancelled")
	return nil
}
