package fees

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/OFedorovych/Enzyme-vault/internal/logger"
	"github.com/OFedorovych/Enzyme-vault/internal/types"
	"github.com/OFedorovych/Enzyme-vault/internal/vault"
)

var (
	ErrOnlyFundDeployer  = errors.New("only the fund deployer flow may configure fees")
	ErrAlreadyConfigured = errors.New("fees already configured for fund")
	ErrLengthMismatch    = errors.New("fees and settings arrays must be equal length")
	ErrUnknownSettlement = errors.New("unknown settlement type")
)

// FundContext hands the manager everything it needs to settle against one
// fund: the vault, the accessor identity to act with, and the valuation
// snapshot taken by the comptroller before settlement.
type FundContext struct {
	Comptroller types.Address
	Vault       *vault.Proxy
	// Accessor is the address fee settlements act with on the vault; it is
	// the comptroller's own address since the comptroller is the accessor.
	Accessor types.Address
	Gav      sdkmath.Int
	Now      time.Time
}

// Manager is the protocol-wide per-fund fee registry and settlement engine.
type Manager struct {
	mu       sync.RWMutex
	deployer types.Address
	funds    map[types.Address][]Fee
	logger   zerolog.Logger
}

// NewManager creates a fee manager. deployer is the sole address allowed to
// run the one-time fund configuration.
func NewManager(deployer types.Address) *Manager {
	return &Manager{
		deployer: deployer,
		funds:    make(map[types.Address][]Fee),
		logger:   logger.GetForComponent("fee_manager"),
	}
}

// SetConfigForFund configures the fee set for a fund. Called exactly once per
// fund, only from the deployer flow, before activation.
func (m *Manager) SetConfigForFund(caller, comptroller types.Address, fees []Fee, settings []any) error {
	if caller != m.deployer {
		return ErrOnlyFundDeployer
	}
	if len(fees) != len(settings) {
		return fmt.Errorf("%w: %d fees, %d settings", ErrLengthMismatch, len(fees), len(settings))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.funds[comptroller]; exists {
		return ErrAlreadyConfigured
	}
	for i, fee := range fees {
		if settings[i] != nil {
			if err := fee.AddFundSettings(comptroller, settings[i]); err != nil {
				return fmt.Errorf("fee %s settings: %w", fee.Identifier(), err)
			}
		}
		m.logger.Info().
			Str("comptroller", comptroller.String()).
			Str("fee", fee.Identifier()).
			Msg("Fee enabled for fund")
	}
	m.funds[comptroller] = fees
	return nil
}

// ActivateForFund initializes accrual state for every configured fee.
func (m *Manager) ActivateForFund(fund FundContext) {
	m.mu.RLock()
	fees := m.funds[fund.Comptroller]
	m.mu.RUnlock()
	ctx := m.settleContext(fund, HookContinuous, SettlementArgs{})
	for _, fee := range fees {
		fee.Activate(ctx)
	}
}

// DeactivateForFund drops all fee state for a fund. Called on destruct.
func (m *Manager) DeactivateForFund(comptroller types.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.funds, comptroller)
}

// EnabledFees returns the identifiers of all fees configured for a fund.
func (m *Manager) EnabledFees(comptroller types.Address) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.funds[comptroller]))
	for _, fee := range m.funds[comptroller] {
		ids = append(ids, fee.Identifier())
	}
	return ids
}

// InvokeHook settles every fee registered for the hook on the vault ledger.
// It returns the total shares taken from the payer (Direct and Burn
// settlements), which the comptroller deducts from the payer's redeemable
// quantity on redemption hooks.
func (m *Manager) InvokeHook(fund FundContext, hook Hook, args SettlementArgs) (sdkmath.Int, error) {
	m.mu.RLock()
	fees := m.funds[fund.Comptroller]
	m.mu.RUnlock()

	takenFromPayer := sdkmath.ZeroInt()
	for _, fee := range fees {
		if !fee.SettlesOnHook(hook) {
			continue
		}
		// Supply is re-read per fee so sequential settlements compound
		// correctly; GAV stays the snapshot taken before this invocation.
		ctx := m.settleContext(fund, hook, args)
		settlement, err := fee.Settle(ctx)
		if err != nil {
			return sdkmath.Int{}, fmt.Errorf("fee %s at %s: %w", fee.Identifier(), hook, err)
		}
		if settlement.Type == SettlementNone || settlement.SharesDue.IsZero() {
			continue
		}
		taken, err := m.apply(fund, fee, settlement, args)
		if err != nil {
			return sdkmath.Int{}, err
		}
		takenFromPayer = takenFromPayer.Add(taken)
	}
	return takenFromPayer, nil
}

func (m *Manager) settleContext(fund FundContext, hook Hook, args SettlementArgs) SettleContext {
	return SettleContext{
		Comptroller: fund.Comptroller,
		Gav:         fund.Gav,
		Supply:      fund.Vault.TotalSupply(),
		Now:         fund.Now,
		Hook:        hook,
		Args:        args,
	}
}

func (m *Manager) apply(fund FundContext, fee Fee, settlement Settlement, args SettlementArgs) (sdkmath.Int, error) {
	event := m.logger.Info().
		Str("comptroller", fund.Comptroller.String()).
		Str("fee", fee.Identifier()).
		Str("sharesDue", settlement.SharesDue.String())

	switch settlement.Type {
	case SettlementMint:
		if err := fund.Vault.MintShares(fund.Accessor, settlement.Recipient, settlement.SharesDue); err != nil {
			return sdkmath.Int{}, fmt.Errorf("fee %s mint: %w", fee.Identifier(), err)
		}
		event.Str("recipient", settlement.Recipient.String()).Msg("Fee settled by mint")
		return sdkmath.ZeroInt(), nil
	case SettlementDirect:
		if err := fund.Vault.TransferShares(fund.Accessor, args.Payer, settlement.Recipient, settlement.SharesDue); err != nil {
			return sdkmath.Int{}, fmt.Errorf("fee %s direct: %w", fee.Identifier(), err)
		}
		event.Str("recipient", settlement.Recipient.String()).Msg("Fee settled by transfer")
		return settlement.SharesDue, nil
	case SettlementBurn:
		if err := fund.Vault.BurnShares(fund.Accessor, args.Payer, settlement.SharesDue); err != nil {
			return sdkmath.Int{}, fmt.Errorf("fee %s burn: %w", fee.Identifier(), err)
		}
		event.Msg("Fee settled by burn")
		return settlement.SharesDue, nil
	default:
		return sdkmath.Int{}, fmt.Errorf("%w: %d", ErrUnknownSettlement, settlement.Type)
	}
}
