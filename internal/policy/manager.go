package policy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/OFedorovych/Enzyme-vault/internal/logger"
	"github.com/OFedorovych/Enzyme-vault/internal/types"
)

var (
	ErrOnlyFundDeployer          = errors.New("only the fund deployer flow may configure policies")
	ErrOnlyFundOwner             = errors.New("only the fund owner may call this")
	ErrAlreadyConfigured         = errors.New("policies already configured for fund")
	ErrLengthMismatch            = errors.New("policies and settings arrays must be equal length")
	ErrAlreadyEnabled            = errors.New("policy already enabled for fund")
	ErrRestrictsCurrentInvestors = errors.New("policy restricts current investors and cannot be enabled after launch")
	ErrCannotDisable             = errors.New("policy cannot be disabled")
	ErrPolicyNotEnabled          = errors.New("policy not enabled for fund")
	ErrRuleEvaluatedFalse        = errors.New("rule evaluated to false")
)

// Manager is the protocol-wide per-fund policy registry.
type Manager struct {
	mu       sync.RWMutex
	deployer types.Address
	ownerOf  func(comptroller types.Address) types.Address
	funds    map[types.Address]*fundPolicies
	logger   zerolog.Logger
}

type fundPolicies struct {
	launched bool
	byHook   map[Hook][]Policy
	byName   map[string]Policy
	// order preserves the configuration order for deterministic validation.
	order []Policy
}

// NewManager creates a policy manager. deployer is the sole address allowed
// to run the one-time fund configuration; ownerOf resolves a comptroller to
// its fund owner for post-launch enable/disable authorization.
func NewManager(deployer types.Address, ownerOf func(types.Address) types.Address) *Manager {
	return &Manager{
		deployer: deployer,
		ownerOf:  ownerOf,
		funds:    make(map[types.Address]*fundPolicies),
		logger:   logger.GetForComponent("policy_manager"),
	}
}

// SetConfigForFund configures the initial policy set for a fund. Called
// exactly once per fund, only from the deployer flow, before activation.
func (m *Manager) SetConfigForFund(caller, comptroller types.Address, policies []Policy, settings []any) error {
	if caller != m.deployer {
		return ErrOnlyFundDeployer
	}
	if len(policies) != len(settings) {
		return fmt.Errorf("%w: %d policies, %d settings", ErrLengthMismatch, len(policies), len(settings))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.funds[comptroller]; exists {
		return ErrAlreadyConfigured
	}

	fund := &fundPolicies{
		byHook: make(map[Hook][]Policy),
		byName: make(map[string]Policy),
	}
	for i, pol := range policies {
		if settings[i] != nil {
			if err := pol.AddFundSettings(comptroller, settings[i]); err != nil {
				return fmt.Errorf("policy %s settings: %w", pol.Identifier(), err)
			}
		}
		if err := fund.enable(pol); err != nil {
			return err
		}
		for _, hook := range pol.ImplementedHooks() {
			m.logger.Info().
				Str("comptroller", comptroller.String()).
				Str("policy", pol.Identifier()).
				Str("hook", hook.String()).
				Msg("Policy enabled for hook")
		}
	}
	m.funds[comptroller] = fund
	return nil
}

// ActivateForFund marks the fund as launched. After this point policies that
// restrict current investors cannot be newly enabled.
func (m *Manager) ActivateForFund(comptroller types.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fund, ok := m.funds[comptroller]
	if !ok {
		fund = &fundPolicies{byHook: make(map[Hook][]Policy), byName: make(map[string]Policy)}
		m.funds[comptroller] = fund
	}
	fund.launched = true
}

// DeactivateForFund drops all policy state for a fund. Called on destruct.
func (m *Manager) DeactivateForFund(comptroller types.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.funds, comptroller)
}

// EnablePolicyForFund enables a policy post-launch. Owner-only; rejected when
// the policy implements an investor-restricting hook.
func (m *Manager) EnablePolicyForFund(caller, comptroller types.Address, pol Policy, settings any) error {
	if m.ownerOf == nil || caller != m.ownerOf(comptroller) {
		return ErrOnlyFundOwner
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	fund, ok := m.funds[comptroller]
	if !ok {
		fund = &fundPolicies{byHook: make(map[Hook][]Policy), byName: make(map[string]Policy)}
		m.funds[comptroller] = fund
	}
	if fund.launched {
		for _, hook := range pol.ImplementedHooks() {
			if hook.restrictsCurrentInvestors() {
				return fmt.Errorf("%w: %s implements %s", ErrRestrictsCurrentInvestors, pol.Identifier(), hook)
			}
		}
	}
	if settings != nil {
		if err := pol.AddFundSettings(comptroller, settings); err != nil {
			return fmt.Errorf("policy %s settings: %w", pol.Identifier(), err)
		}
	}
	if err := fund.enable(pol); err != nil {
		return err
	}
	m.logger.Info().
		Str("comptroller", comptroller.String()).
		Str("policy", pol.Identifier()).
		Msg("Policy enabled for fund")
	return nil
}

// DisablePolicyForFund disables a policy. Owner-only; the policy must report
// itself disable-safe.
func (m *Manager) DisablePolicyForFund(caller, comptroller types.Address, identifier string) error {
	if m.ownerOf == nil || caller != m.ownerOf(comptroller) {
		return ErrOnlyFundOwner
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	fund, ok := m.funds[comptroller]
	if !ok {
		return ErrPolicyNotEnabled
	}
	pol, ok := fund.byName[identifier]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPolicyNotEnabled, identifier)
	}
	if !pol.CanDisable() {
		return fmt.Errorf("%w: %s", ErrCannotDisable, identifier)
	}
	fund.disable(pol)
	m.logger.Info().
		Str("comptroller", comptroller.String()).
		Str("policy", identifier).
		Msg("Policy disabled for fund")
	return nil
}

// ValidatePolicies runs every enabled policy for a hook. The first false rule
// fails the whole validation with ErrRuleEvaluatedFalse; the caller is
// responsible for rolling back the triggering action.
func (m *Manager) ValidatePolicies(comptroller types.Address, hook Hook, args any) error {
	m.mu.RLock()
	fund, ok := m.funds[comptroller]
	var enabled []Policy
	if ok {
		enabled = append(enabled, fund.byHook[hook]...)
	}
	m.mu.RUnlock()

	for _, pol := range enabled {
		passed, err := pol.ValidateRule(comptroller, hook, args)
		if err != nil {
			return fmt.Errorf("policy %s at %s: %w", pol.Identifier(), hook, err)
		}
		if !passed {
			return fmt.Errorf("%w: %s at %s", ErrRuleEvaluatedFalse, pol.Identifier(), hook)
		}
	}
	return nil
}

// EnabledPolicies returns the identifiers of all policies enabled for a fund,
// in configuration order.
func (m *Manager) EnabledPolicies(comptroller types.Address) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fund, ok := m.funds[comptroller]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(fund.order))
	for _, pol := range fund.order {
		ids = append(ids, pol.Identifier())
	}
	return ids
}

func (f *fundPolicies) enable(pol Policy) error {
	if _, exists := f.byName[pol.Identifier()]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyEnabled, pol.Identifier())
	}
	f.byName[pol.Identifier()] = pol
	f.order = append(f.order, pol)
	for _, hook := range pol.ImplementedHooks() {
		f.byHook[hook] = append(f.byHook[hook], pol)
	}
	return nil
}

func (f *fundPolicies) disable(pol Policy) {
	delete(f.byName, pol.Identifier())
	for i, p := range f.order {
		if p.Identifier() == pol.Identifier() {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	for _, hook := range pol.ImplementedHooks() {
		list := f.byHook[hook]
		for i, p := range list {
			if p.Identifier() == pol.Identifier() {
				f.byHook[hook] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}
