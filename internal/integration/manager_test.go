package integration

import (
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OFedorovych/Enzyme-vault/internal/bank"
	"github.com/OFedorovych/Enzyme-vault/internal/extension"
	"github.com/OFedorovych/Enzyme-vault/internal/policy"
	"github.com/OFedorovych/Enzyme-vault/internal/types"
	"github.com/OFedorovych/Enzyme-vault/internal/vault"
)

// swapAdapter trades one asset for another on the test ledger. How much it
// actually spends and returns is configurable so the manager's bounds
// checking can be exercised.
type swapAdapter struct {
	addr   types.Address
	ledger *bank.Ledger

	declared AssetsForAction
	spend    []sdktypes.Coin // actually consumed from the delivered assets
	incoming []sdktypes.Coin // actually credited to the vault
	execErr  error
}

func (a *swapAdapter) Addr() types.Address { return a.addr }
func (a *swapAdapter) Identifier() string  { return "TEST_SWAP" }

func (a *swapAdapter) ParseAssetsForAction(vaultAddr types.Address, actionID int, args any) (AssetsForAction, error) {
	return a.declared, nil
}

func (a *swapAdapter) ExecuteCall(vaultAddr types.Address, actionID int, args any) error {
	if a.execErr != nil {
		return a.execErr
	}
	// Refund whatever portion of the delivered spend assets went unused.
	for _, declared := range a.declared.SpendAssets {
		consumed := sdkmath.ZeroInt()
		for _, spent := range a.spend {
			if spent.Denom == declared.Denom {
				consumed = spent.Amount
			}
		}
		refund := declared.Amount.Sub(consumed)
		if refund.IsPositive() {
			if err := a.ledger.Transfer(declared.Denom, a.addr, vaultAddr, refund); err != nil {
				return err
			}
		}
	}
	for _, coin := range a.incoming {
		if err := a.ledger.Mint(coin.Denom, vaultAddr, coin.Amount); err != nil {
			return err
		}
	}
	return nil
}

type integrationFixture struct {
	manager     *Manager
	deployer    types.Address
	comptroller types.Address
	owner       types.Address
	ledger      *bank.Ledger
	proxy       *vault.Proxy
	adapter     *swapAdapter
}

func newIntegrationFixture(t *testing.T) *integrationFixture {
	t.Helper()
	f := &integrationFixture{
		deployer:    types.GenerateAddress(),
		comptroller: types.GenerateAddress(),
		owner:       types.GenerateAddress(),
		ledger:      bank.NewLedger(),
	}
	f.manager = NewManager(f.deployer, nil)

	proxy, err := vault.NewProxy(vault.ProxyConfig{
		Creator:           types.GenerateAddress(),
		Owner:             f.owner,
		Accessor:          f.comptroller,
		Name:              "Integration Test Fund",
		SharesDecimals:    18,
		TrackedAssetLimit: 20,
		Ledger:            f.ledger,
	})
	require.NoError(t, err)
	f.proxy = proxy

	// The vault starts holding tracked usdc.
	require.NoError(t, f.ledger.Mint("usdc", proxy.Addr(), sdkmath.NewInt(1000)))
	require.NoError(t, proxy.AddTrackedAsset(f.comptroller, "usdc"))

	f.adapter = &swapAdapter{addr: types.GenerateAddress(), ledger: f.ledger}
	require.NoError(t, f.manager.RegisterAdapter(f.deployer, f.adapter))
	return f
}

func (f *integrationFixture) call(actionID int, args any) extension.Call {
	return extension.Call{
		Comptroller: f.comptroller,
		Vault:       f.proxy,
		Caller:      f.owner,
		ActionID:    actionID,
		Args:        args,
	}
}

func swapArgs(adapter types.Address) *CallArgs {
	return &CallArgs{Adapter: adapter, AdapterActionID: 0}
}

func TestAdapterRegistry_DeployerOnly(t *testing.T) {
	f := newIntegrationFixture(t)

	other := &swapAdapter{addr: types.GenerateAddress(), ledger: f.ledger}
	assert.ErrorIs(t, f.manager.RegisterAdapter(types.GenerateAddress(), other), ErrOnlyDeployer)
	assert.ErrorIs(t, f.manager.DeregisterAdapter(types.GenerateAddress(), f.adapter.addr), ErrOnlyDeployer)

	err := f.manager.RegisterAdapter(f.deployer, f.adapter)
	assert.ErrorIs(t, err, ErrAdapterAlreadyExists)

	require.NoError(t, f.manager.DeregisterAdapter(f.deployer, f.adapter.addr))
	assert.False(t, f.manager.IsRegisteredAdapter(f.adapter.addr))
	err = f.manager.DeregisterAdapter(f.deployer, f.adapter.addr)
	assert.ErrorIs(t, err, ErrAdapterNotRegistered)
}

func TestCallOnIntegration_UnauthorizedCaller(t *testing.T) {
	f := newIntegrationFixture(t)

	call := f.call(ActionCallOnIntegration, swapArgs(f.adapter.addr))
	call.Caller = types.GenerateAddress()
	err := f.manager.ReceiveCallFromComptroller(call)
	assert.ErrorIs(t, err, ErrUnauthorizedCaller)
}

func TestCallOnIntegration_AssetManagerMayCall(t *testing.T) {
	f := newIntegrationFixture(t)
	manager := types.GenerateAddress()
	require.NoError(t, f.proxy.AddAssetManagers(f.owner, []types.Address{manager}))

	f.adapter.declared = AssetsForAction{SpendHandleType: SpendAssetsHandleNone}

	call := f.call(ActionCallOnIntegration, swapArgs(f.adapter.addr))
	call.Caller = manager
	require.NoError(t, f.manager.ReceiveCallFromComptroller(call))
}

func TestCallOnIntegration_UnregisteredAdapter(t *testing.T) {
	f := newIntegrationFixture(t)

	err := f.manager.ReceiveCallFromComptroller(f.call(ActionCallOnIntegration, swapArgs(types.GenerateAddress())))
	assert.ErrorIs(t, err, ErrAdapterNotRegistered)
}

func TestCallOnIntegration_SwapTracksAndUntracks(t *testing.T) {
	f := newIntegrationFixture(t)

	// Spend all 1000 usdc for at least 4 weth; the adapter delivers 5.
	f.adapter.declared = AssetsForAction{
		SpendHandleType:   SpendAssetsHandleTransfer,
		SpendAssets:       []sdktypes.Coin{sdktypes.NewCoin("usdc", sdkmath.NewInt(1000))},
		MinIncomingAssets: []sdktypes.Coin{sdktypes.NewCoin("weth", sdkmath.NewInt(4))},
	}
	f.adapter.spend = []sdktypes.Coin{sdktypes.NewCoin("usdc", sdkmath.NewInt(1000))}
	f.adapter.incoming = []sdktypes.Coin{sdktypes.NewCoin("weth", sdkmath.NewInt(5))}

	require.NoError(t, f.manager.ReceiveCallFromComptroller(f.call(ActionCallOnIntegration, swapArgs(f.adapter.addr))))

	assert.True(t, f.proxy.AssetBalance("usdc").IsZero())
	assert.Equal(t, sdkmath.NewInt(5), f.proxy.AssetBalance("weth"))
	// The emptied spend asset is untracked, the incoming one tracked.
	assert.False(t, f.proxy.IsTrackedAsset("usdc"))
	assert.True(t, f.proxy.IsTrackedAsset("weth"))
}

func TestCallOnIntegration_PersistentAssetSurvivesFullSpend(t *testing.T) {
	f := newIntegrationFixture(t)
	require.NoError(t, f.proxy.AddPersistentlyTrackedAsset(f.comptroller, "usdc"))

	// The whole denomination balance goes out, but the asset must stay in
	// the GAV set so later deposits keep counting.
	f.adapter.declared = AssetsForAction{
		SpendHandleType:   SpendAssetsHandleTransfer,
		SpendAssets:       []sdktypes.Coin{sdktypes.NewCoin("usdc", sdkmath.NewInt(1000))},
		MinIncomingAssets: []sdktypes.Coin{sdktypes.NewCoin("weth", sdkmath.NewInt(4))},
	}
	f.adapter.spend = []sdktypes.Coin{sdktypes.NewCoin("usdc", sdkmath.NewInt(1000))}
	f.adapter.incoming = []sdktypes.Coin{sdktypes.NewCoin("weth", sdkmath.NewInt(5))}

	require.NoError(t, f.manager.ReceiveCallFromComptroller(f.call(ActionCallOnIntegration, swapArgs(f.adapter.addr))))

	assert.True(t, f.proxy.AssetBalance("usdc").IsZero())
	assert.True(t, f.proxy.IsTrackedAsset("usdc"))
	assert.True(t, f.proxy.IsTrackedAsset("weth"))

	// An explicit removal request is a no-op for the persistent asset.
	removal := f.call(ActionRemoveTrackedAssets, &TrackedAssetsArgs{Assets: []string{"usdc"}})
	require.NoError(t, f.manager.ReceiveCallFromComptroller(removal))
	assert.True(t, f.proxy.IsTrackedAsset("usdc"))
}

func TestCallOnIntegration_PartialSpendStaysTracked(t *testing.T) {
	f := newIntegrationFixture(t)

	f.adapter.declared = AssetsForAction{
		SpendHandleType:   SpendAssetsHandleTransfer,
		SpendAssets:       []sdktypes.Coin{sdktypes.NewCoin("usdc", sdkmath.NewInt(600))},
		MinIncomingAssets: []sdktypes.Coin{sdktypes.NewCoin("weth", sdkmath.NewInt(1))},
	}
	f.adapter.spend = []sdktypes.Coin{sdktypes.NewCoin("usdc", sdkmath.NewInt(400))}
	f.adapter.incoming = []sdktypes.Coin{sdktypes.NewCoin("weth", sdkmath.NewInt(2))}

	require.NoError(t, f.manager.ReceiveCallFromComptroller(f.call(ActionCallOnIntegration, swapArgs(f.adapter.addr))))

	// 200 of the 600 delivered usdc came back unused.
	assert.Equal(t, sdkmath.NewInt(600), f.proxy.AssetBalance("usdc"))
	assert.True(t, f.proxy.IsTrackedAsset("usdc"))
}

func TestCallOnIntegration_SpendExceedsDeclared(t *testing.T) {
	f := newIntegrationFixture(t)

	// Adapter declares 400 but the vault loses 500: nothing is refunded from
	// the declared 400 and an extra 100 leaks out through ExecuteCall.
	f.adapter.declared = AssetsForAction{
		SpendHandleType: SpendAssetsHandleTransfer,
		SpendAssets:     []sdktypes.Coin{sdktypes.NewCoin("usdc", sdkmath.NewInt(400))},
	}
	f.adapter.spend = []sdktypes.Coin{sdktypes.NewCoin("usdc", sdkmath.NewInt(400))}
	f.adapter.execErr = nil

	// Sneak the extra spend in through a custom ExecuteCall path: move 100
	// more usdc out of the vault before returning.
	leak := &leakingAdapter{swapAdapter: f.adapter, extra: sdkmath.NewInt(100)}
	require.NoError(t, f.manager.DeregisterAdapter(f.deployer, f.adapter.addr))
	require.NoError(t, f.manager.RegisterAdapter(f.deployer, leak))

	err := f.manager.ReceiveCallFromComptroller(f.call(ActionCallOnIntegration, swapArgs(leak.Addr())))
	assert.ErrorIs(t, err, ErrSpendExceedsDeclared)
}

// leakingAdapter spends more than it declared by pulling extra assets out of
// the vault's ledger balance during execution.
type leakingAdapter struct {
	*swapAdapter
	extra sdkmath.Int
}

func (a *leakingAdapter) ExecuteCall(vaultAddr types.Address, actionID int, args any) error {
	if err := a.swapAdapter.ExecuteCall(vaultAddr, actionID, args); err != nil {
		return err
	}
	return a.ledger.Transfer("usdc", vaultAddr, a.addr, a.extra)
}

func TestCallOnIntegration_InsufficientIncoming(t *testing.T) {
	f := newIntegrationFixture(t)

	f.adapter.declared = AssetsForAction{
		SpendHandleType:   SpendAssetsHandleTransfer,
		SpendAssets:       []sdktypes.Coin{sdktypes.NewCoin("usdc", sdkmath.NewInt(1000))},
		MinIncomingAssets: []sdktypes.Coin{sdktypes.NewCoin("weth", sdkmath.NewInt(10))},
	}
	f.adapter.spend = []sdktypes.Coin{sdktypes.NewCoin("usdc", sdkmath.NewInt(1000))}
	f.adapter.incoming = []sdktypes.Coin{sdktypes.NewCoin("weth", sdkmath.NewInt(9))}

	err := f.manager.ReceiveCallFromComptroller(f.call(ActionCallOnIntegration, swapArgs(f.adapter.addr)))
	assert.ErrorIs(t, err, ErrInsufficientIncoming)
}

func TestCallOnIntegration_AdapterFailurePropagates(t *testing.T) {
	f := newIntegrationFixture(t)

	execErr := errors.New("pool reverted")
	f.adapter.declared = AssetsForAction{SpendHandleType: SpendAssetsHandleNone}
	f.adapter.execErr = execErr

	err := f.manager.ReceiveCallFromComptroller(f.call(ActionCallOnIntegration, swapArgs(f.adapter.addr)))
	assert.ErrorIs(t, err, execErr)
}

func TestCallOnIntegration_DuplicateDeclaredAsset(t *testing.T) {
	f := newIntegrationFixture(t)

	f.adapter.declared = AssetsForAction{
		SpendHandleType: SpendAssetsHandleTransfer,
		SpendAssets: []sdktypes.Coin{
			sdktypes.NewCoin("usdc", sdkmath.NewInt(100)),
			sdktypes.NewCoin("usdc", sdkmath.NewInt(200)),
		},
	}
	err := f.manager.ReceiveCallFromComptroller(f.call(ActionCallOnIntegration, swapArgs(f.adapter.addr)))
	assert.ErrorIs(t, err, ErrDuplicateDeclaredAsset)
}

func TestCallOnIntegration_PolicyRejectionPropagates(t *testing.T) {
	f := newIntegrationFixture(t)

	policyDeployer := types.GenerateAddress()
	policies := policy.NewManager(policyDeployer, nil)
	allowed := policy.NewAllowedAdapters()
	require.NoError(t, policies.SetConfigForFund(policyDeployer, f.comptroller,
		[]policy.Policy{allowed}, []any{[]types.Address{types.GenerateAddress()}}))
	f.manager.policies = policies

	f.adapter.declared = AssetsForAction{SpendHandleType: SpendAssetsHandleNone}
	err := f.manager.ReceiveCallFromComptroller(f.call(ActionCallOnIntegration, swapArgs(f.adapter.addr)))
	assert.ErrorIs(t, err, policy.ErrRuleEvaluatedFalse)
}

func TestTrackedAssetActions(t *testing.T) {
	f := newIntegrationFixture(t)

	require.NoError(t, f.manager.ReceiveCallFromComptroller(
		f.call(ActionAddTrackedAssets, &TrackedAssetsArgs{Assets: []string{"weth", "wbtc"}})))
	assert.True(t, f.proxy.IsTrackedAsset("weth"))
	assert.True(t, f.proxy.IsTrackedAsset("wbtc"))

	require.NoError(t, f.manager.ReceiveCallFromComptroller(
		f.call(ActionRemoveTrackedAssets, &TrackedAssetsArgs{Assets: []string{"wbtc"}})))
	assert.False(t, f.proxy.IsTrackedAsset("wbtc"))

	err := f.manager.ReceiveCallFromComptroller(
		f.call(ActionRemoveTrackedAssets, &TrackedAssetsArgs{Assets: []string{"wbtc"}}))
	assert.ErrorIs(t, err, vault.ErrAssetNotTracked)
}

func TestReceiveCall_BadArgsAndUnknownAction(t *testing.T) {
	f := newIntegrationFixture(t)

	err := f.manager.ReceiveCallFromComptroller(f.call(ActionCallOnIntegration, "garbage"))
	assert.ErrorIs(t, err, ErrInvalidActionArgs)

	err = f.manager.ReceiveCallFromComptroller(f.call(99, nil))
	assert.ErrorIs(t, err, ErrUnknownAction)
}
