/*

This file contains the integration manager: the extension that routes vault
trades through registered adapters. It moves the declared spend assets to the
adapter, lets the adapter execute, then verifies the vault's actual balance
movement against the adapter's declaration. Incoming assets get tracked,
emptied spend assets get untracked, and post-call policies run last.

A non-nil error from any step propagates to the comptroller, which restores
the pre-call snapshot, so partial asset movement never survives a failure.

*/

package integration

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
	"github.com/rs/zerolog"

	"github.com/OFedorovych/Enzyme-vault/internal/extension"
	"github.com/OFedorovych/Enzyme-vault/internal/logger"
	"github.com/OFedorovych/Enzyme-vault/internal/policy"
	"github.com/OFedorovych/Enzyme-vault/internal/types"
	"github.com/OFedorovych/Enzyme-vault/internal/vault"
)

// Action identifiers dispatched through CallOnExtension.
const (
	ActionCallOnIntegration = iota
	ActionAddTrackedAssets
	ActionRemoveTrackedAssets
)

var (
	ErrUnauthorizedCaller     = errors.New("caller is not the owner or an asset manager")
	ErrAdapterNotRegistered   = errors.New("adapter not registered")
	ErrAdapterAlreadyExists   = errors.New("adapter already registered")
	ErrOnlyDeployer           = errors.New("only the fund deployer may manage the adapter registry")
	ErrInvalidActionArgs      = errors.New("invalid action arguments")
	ErrUnknownAction          = errors.New("unknown action")
	ErrSpendExceedsDeclared   = errors.New("adapter spent more than declared")
	ErrInsufficientIncoming   = errors.New("incoming asset below declared minimum")
	ErrDuplicateDeclaredAsset = errors.New("duplicate asset in adapter declaration")
)

// CallArgs is the payload for ActionCallOnIntegration.
type CallArgs struct {
	Adapter         types.Address
	AdapterActionID int
	IntegrationData any
}

// TrackedAssetsArgs is the payload for the add and remove tracked-asset
// actions.
type TrackedAssetsArgs struct {
	Assets []string
}

// Manager routes adapter calls and tracked-asset maintenance for all funds.
type Manager struct {
	mu       sync.RWMutex
	deployer types.Address
	adapters map[types.Address]Adapter
	policies *policy.Manager
	logger   zerolog.Logger
}

// NewManager creates an integration manager. deployer is the only address
// allowed to change the adapter registry.
func NewManager(deployer types.Address, policies *policy.Manager) *Manager {
	return &Manager{
		deployer: deployer,
		adapters: make(map[types.Address]Adapter),
		policies: policies,
		logger:   logger.GetForComponent("integration_manager"),
	}
}

// RegisterAdapter adds an adapter to the registry. Deployer-only.
func (m *Manager) RegisterAdapter(caller types.Address, adapter Adapter) error {
	if caller != m.deployer {
		return ErrOnlyDeployer
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.adapters[adapter.Addr()]; exists {
		return fmt.Errorf("%w: %s", ErrAdapterAlreadyExists, adapter.Addr())
	}
	m.adapters[adapter.Addr()] = adapter
	m.logger.Info().
		Str("adapter", adapter.Addr().String()).
		Str("identifier", adapter.Identifier()).
		Msg("Adapter registered")
	return nil
}

// DeregisterAdapter removes an adapter from the registry. Deployer-only.
func (m *Manager) DeregisterAdapter(caller, adapter types.Address) error {
	if caller != m.deployer {
		return ErrOnlyDeployer
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.adapters[adapter]; !exists {
		return fmt.Errorf("%w: %s", ErrAdapterNotRegistered, adapter)
	}
	delete(m.adapters, adapter)
	return nil
}

// IsRegisteredAdapter reports whether an adapter address is registered.
func (m *Manager) IsRegisteredAdapter(adapter types.Address) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.adapters[adapter]
	return ok
}

// ReceiveCallFromComptroller implements extension.Extension.
func (m *Manager) ReceiveCallFromComptroller(call extension.Call) error {
	if !call.Vault.CanManageAssets(call.Caller) {
		return fmt.Errorf("%w: %s", ErrUnauthorizedCaller, call.Caller)
	}
	switch call.ActionID {
	case ActionCallOnIntegration:
		args, ok := call.Args.(*CallArgs)
		if !ok {
			return fmt.Errorf("%w: want *integration.CallArgs", ErrInvalidActionArgs)
		}
		return m.callOnIntegration(call, args)
	case ActionAddTrackedAssets:
		args, ok := call.Args.(*TrackedAssetsArgs)
		if !ok {
			return fmt.Errorf("%w: want *integration.TrackedAssetsArgs", ErrInvalidActionArgs)
		}
		return m.addTrackedAssets(call, args.Assets)
	case ActionRemoveTrackedAssets:
		args, ok := call.Args.(*TrackedAssetsArgs)
		if !ok {
			return fmt.Errorf("%w: want *integration.TrackedAssetsArgs", ErrInvalidActionArgs)
		}
		return m.removeTrackedAssets(call, args.Assets)
	default:
		return fmt.Errorf("%w: %d", ErrUnknownAction, call.ActionID)
	}
}

func (m *Manager) callOnIntegration(call extension.Call, args *CallArgs) error {
	m.mu.RLock()
	adapter, ok := m.adapters[args.Adapter]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrAdapterNotRegistered, args.Adapter)
	}

	declared, err := adapter.ParseAssetsForAction(call.Vault.Addr(), args.AdapterActionID, args.IntegrationData)
	if err != nil {
		return fmt.Errorf("parse assets for %s: %w", adapter.Identifier(), err)
	}
	if err := assertUniqueDenoms(declared.SpendAssets); err != nil {
		return err
	}
	if err := assertUniqueDenoms(declared.MinIncomingAssets); err != nil {
		return err
	}

	preSpend := balancesFor(call.Vault, declared.SpendAssets)
	preIncoming := balancesFor(call.Vault, declared.MinIncomingAssets)

	if declared.SpendHandleType == SpendAssetsHandleTransfer {
		for _, spend := range declared.SpendAssets {
			if err := call.Vault.WithdrawAssetTo(call.Comptroller, spend.Denom, adapter.Addr(), spend.Amount); err != nil {
				return fmt.Errorf("deliver spend asset: %w", err)
			}
		}
	}

	if err := adapter.ExecuteCall(call.Vault.Addr(), args.AdapterActionID, args.IntegrationData); err != nil {
		return fmt.Errorf("adapter %s: %w", adapter.Identifier(), err)
	}

	spentAssets := make([]sdktypes.Coin, 0, len(declared.SpendAssets))
	for _, spend := range declared.SpendAssets {
		post := call.Vault.AssetBalance(spend.Denom)
		actual := preSpend[spend.Denom].Sub(post)
		if actual.IsNegative() {
			actual = sdkmath.ZeroInt()
		}
		if actual.GT(spend.Amount) {
			return fmt.Errorf("%w: %s declared %s, spent %s",
				ErrSpendExceedsDeclared, spend.Denom, spend.Amount, actual)
		}
		if actual.IsPositive() {
			spentAssets = append(spentAssets, sdktypes.NewCoin(spend.Denom, actual))
		}
		if post.IsZero() && call.Vault.IsTrackedAsset(spend.Denom) {
			if err := call.Vault.RemoveTrackedAsset(call.Comptroller, spend.Denom); err != nil {
				return fmt.Errorf("untrack emptied asset: %w", err)
			}
		}
	}

	incomingAssets := make([]sdktypes.Coin, 0, len(declared.MinIncomingAssets))
	for _, min := range declared.MinIncomingAssets {
		post := call.Vault.AssetBalance(min.Denom)
		received := post.Sub(preIncoming[min.Denom])
		if received.LT(min.Amount) {
			return fmt.Errorf("%w: %s min %s, received %s",
				ErrInsufficientIncoming, min.Denom, min.Amount, received)
		}
		incomingAssets = append(incomingAssets, sdktypes.NewCoin(min.Denom, received))
		if !call.Vault.IsTrackedAsset(min.Denom) {
			if err := call.Vault.AddTrackedAsset(call.Comptroller, min.Denom); err != nil {
				return fmt.Errorf("track incoming asset: %w", err)
			}
		}
	}

	if m.policies != nil {
		err := m.policies.ValidatePolicies(call.Comptroller, policy.HookPostCallOnIntegration, policy.PostCallOnIntegrationArgs{
			Caller:         call.Caller,
			Adapter:        args.Adapter,
			ActionID:       args.AdapterActionID,
			IncomingAssets: incomingAssets,
			SpentAssets:    spentAssets,
		})
		if err != nil {
			return err
		}
	}

	m.logger.Info().
		Str("vault", call.Vault.Addr().String()).
		Str("adapter", adapter.Identifier()).
		Int("actionID", args.AdapterActionID).
		Int("spentAssets", len(spentAssets)).
		Int("incomingAssets", len(incomingAssets)).
		Msg("Integration call executed")
	return nil
}

func (m *Manager) addTrackedAssets(call extension.Call, assets []string) error {
	if m.policies != nil {
		err := m.policies.ValidatePolicies(call.Comptroller, policy.HookAddTrackedAssets, policy.TrackedAssetsArgs{
			Caller: call.Caller,
			Assets: assets,
		})
		if err != nil {
			return err
		}
	}
	for _, denom := range assets {
		if err := call.Vault.AddTrackedAsset(call.Comptroller, denom); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) removeTrackedAssets(call extension.Call, assets []string) error {
	if m.policies != nil {
		err := m.policies.ValidatePolicies(call.Comptroller, policy.HookRemoveTrackedAssets, policy.TrackedAssetsArgs{
			Caller: call.Caller,
			Assets: assets,
		})
		if err != nil {
			return err
		}
	}
	for _, denom := range assets {
		if err := call.Vault.RemoveTrackedAsset(call.Comptroller, denom); err != nil {
			return err
		}
	}
	return nil
}

func assertUniqueDenoms(coins []sdktypes.Coin) error {
	seen := make(map[string]bool, len(coins))
	for _, coin := range coins {
		if seen[coin.Denom] {
			return fmt.Errorf("%w: %s", ErrDuplicateDeclaredAsset, coin.Denom)
		}
		seen[coin.Denom] = true
	}
	return nil
}

// balancesFor snapshots the vault's balance of each listed denom.
func balancesFor(vaultProxy *vault.Proxy, coins []sdktypes.Coin) map[string]sdkmath.Int {
	out := make(map[string]sdkmath.Int, len(coins))
	for _, coin := range coins {
		out[coin.Denom] = vaultProxy.AssetBalance(coin.Denom)
	}
	return out
}
