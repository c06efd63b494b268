/*

This file contains the concrete policy implementations shipped with the
protocol. Each policy keeps its own per-fund settings keyed by comptroller
address and validates a single concern.

*/

package policy

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/OFedorovych/Enzyme-vault/internal/types"
)

var ErrInvalidSettings = errors.New("invalid policy settings")

// MinMaxInvestment bounds the denomination-asset amount of each deposit.
type MinMaxInvestment struct {
	mu       sync.RWMutex
	settings map[types.Address]MinMaxInvestmentSettings
}

type MinMaxInvestmentSettings struct {
	MinInvestmentAmount sdkmath.Int
	MaxInvestmentAmount sdkmath.Int // zero means unbounded
}

func NewMinMaxInvestment() *MinMaxInvestment {
	return &MinMaxInvestment{settings: make(map[types.Address]MinMaxInvestmentSettings)}
}

func (p *MinMaxInvestment) Identifier() string       { return "MIN_MAX_INVESTMENT" }
func (p *MinMaxInvestment) ImplementedHooks() []Hook { return []Hook{HookPostBuyShares} }
func (p *MinMaxInvestment) CanDisable() bool         { return true }

func (p *MinMaxInvestment) AddFundSettings(comptroller types.Address, settings any) error {
	cfg, ok := settings.(MinMaxInvestmentSettings)
	if !ok {
		return fmt.Errorf("%w: want MinMaxInvestmentSettings", ErrInvalidSettings)
	}
	if !cfg.MaxInvestmentAmount.IsZero() && cfg.MinInvestmentAmount.GT(cfg.MaxInvestmentAmount) {
		return fmt.Errorf("%w: min exceeds max", ErrInvalidSettings)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settings[comptroller] = cfg
	return nil
}

func (p *MinMaxInvestment) ValidateRule(comptroller types.Address, hook Hook, args any) (bool, error) {
	buyArgs, ok := args.(PostBuySharesArgs)
	if !ok {
		return false, fmt.Errorf("%w: want PostBuySharesArgs", ErrInvalidSettings)
	}
	p.mu.RLock()
	cfg, configured := p.settings[comptroller]
	p.mu.RUnlock()
	if !configured {
		return true, nil
	}
	if buyArgs.InvestmentAmount.LT(cfg.MinInvestmentAmount) {
		return false, nil
	}
	if !cfg.MaxInvestmentAmount.IsZero() && buyArgs.InvestmentAmount.GT(cfg.MaxInvestmentAmount) {
		return false, nil
	}
	return true, nil
}

// AllowedDepositRecipients restricts which addresses may receive newly bought
// shares.
type AllowedDepositRecipients struct {
	mu      sync.RWMutex
	allowed map[types.Address]map[types.Address]bool
}

func NewAllowedDepositRecipients() *AllowedDepositRecipients {
	return &AllowedDepositRecipients{allowed: make(map[types.Address]map[types.Address]bool)}
}

func (p *AllowedDepositRecipients) Identifier() string       { return "ALLOWED_DEPOSIT_RECIPIENTS" }
func (p *AllowedDepositRecipients) ImplementedHooks() []Hook { return []Hook{HookPostBuyShares} }
func (p *AllowedDepositRecipients) CanDisable() bool         { return true }

func (p *AllowedDepositRecipients) AddFundSettings(comptroller types.Address, settings any) error {
	list, ok := settings.([]types.Address)
	if !ok {
		return fmt.Errorf("%w: want []types.Address", ErrInvalidSettings)
	}
	set := make(map[types.Address]bool, len(list))
	for _, addr := range list {
		set[addr] = true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowed[comptroller] = set
	return nil
}

func (p *AllowedDepositRecipients) ValidateRule(comptroller types.Address, hook Hook, args any) (bool, error) {
	buyArgs, ok := args.(PostBuySharesArgs)
	if !ok {
		return false, fmt.Errorf("%w: want PostBuySharesArgs", ErrInvalidSettings)
	}
	p.mu.RLock()
	set, configured := p.allowed[comptroller]
	p.mu.RUnlock()
	if !configured {
		return true, nil
	}
	return set[buyArgs.Buyer], nil
}

// AllowedAdapters restricts which integration adapters a fund may trade
// through. Not disable-safe: removing it would silently widen the tradable
// surface for existing investors.
type AllowedAdapters struct {
	mu      sync.RWMutex
	allowed map[types.Address]map[types.Address]bool
}

func NewAllowedAdapters() *AllowedAdapters {
	return &AllowedAdapters{allowed: make(map[types.Address]map[types.Address]bool)}
}

func (p *AllowedAdapters) Identifier() string       { return "ALLOWED_ADAPTERS" }
func (p *AllowedAdapters) ImplementedHooks() []Hook { return []Hook{HookPostCallOnIntegration} }
func (p *AllowedAdapters) CanDisable() bool         { return false }

func (p *AllowedAdapters) AddFundSettings(comptroller types.Address, settings any) error {
	list, ok := settings.([]types.Address)
	if !ok {
		return fmt.Errorf("%w: want []types.Address", ErrInvalidSettings)
	}
	set := make(map[types.Address]bool, len(list))
	for _, addr := range list {
		set[addr] = true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowed[comptroller] = set
	return nil
}

func (p *AllowedAdapters) ValidateRule(comptroller types.Address, hook Hook, args any) (bool, error) {
	callArgs, ok := args.(PostCallOnIntegrationArgs)
	if !ok {
		return false, fmt.Errorf("%w: want PostCallOnIntegrationArgs", ErrInvalidSettings)
	}
	p.mu.RLock()
	set, configured := p.allowed[comptroller]
	p.mu.RUnlock()
	if !configured {
		return true, nil
	}
	return set[callArgs.Adapter], nil
}

// AllowedSharesTransferRecipients restricts share transfer destinations.
// Implements an investor-restricting hook, so it is configurable at launch
// only.
type AllowedSharesTransferRecipients struct {
	mu      sync.RWMutex
	allowed map[types.Address]map[types.Address]bool
}

func NewAllowedSharesTransferRecipients() *AllowedSharesTransferRecipients {
	return &AllowedSharesTransferRecipients{allowed: make(map[types.Address]map[types.Address]bool)}
}

func (p *AllowedSharesTransferRecipients) Identifier() string {
	return "ALLOWED_SHARES_TRANSFER_RECIPIENTS"
}
func (p *AllowedSharesTransferRecipients) ImplementedHooks() []Hook {
	return []Hook{HookPreTransferShares}
}
func (p *AllowedSharesTransferRecipients) CanDisable() bool { return true }

func (p *AllowedSharesTransferRecipients) AddFundSettings(comptroller types.Address, settings any) error {
	list, ok := settings.([]types.Address)
	if !ok {
		return fmt.Errorf("%w: want []types.Address", ErrInvalidSettings)
	}
	set := make(map[types.Address]bool, len(list))
	for _, addr := range list {
		set[addr] = true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowed[comptroller] = set
	return nil
}

func (p *AllowedSharesTransferRecipients) ValidateRule(comptroller types.Address, hook Hook, args any) (bool, error) {
	transferArgs, ok := args.(PreTransferSharesArgs)
	if !ok {
		return false, fmt.Errorf("%w: want PreTransferSharesArgs", ErrInvalidSettings)
	}
	p.mu.RLock()
	set, configured := p.allowed[comptroller]
	p.mu.RUnlock()
	if !configured {
		return true, nil
	}
	return set[transferArgs.To], nil
}
