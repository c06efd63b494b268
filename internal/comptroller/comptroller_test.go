package comptroller

import (
	"errors"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OFedorovych/Enzyme-vault/internal/bank"
	"github.com/OFedorovych/Enzyme-vault/internal/extension"
	"github.com/OFedorovych/Enzyme-vault/internal/fees"
	"github.com/OFedorovych/Enzyme-vault/internal/policy"
	"github.com/OFedorovych/Enzyme-vault/internal/positions"
	"github.com/OFedorovych/Enzyme-vault/internal/types"
	"github.com/OFedorovych/Enzyme-vault/internal/valuation"
	"github.com/OFedorovych/Enzyme-vault/internal/vault"
)

// fundConfig tunes the fixture; the zero value is a plain fund with no fees,
// no timelock, and no protocol fee accrual.
type fundConfig struct {
	timelock    time.Duration
	fees        []fees.Fee
	feeSettings []any
	trackerBps  int64
	extensions  map[types.Address]extension.Extension
	skipLaunch  bool
}

type fund struct {
	deployer     types.Address
	owner        types.Address
	investor     types.Address
	feeRecipient types.Address
	mlnSink      types.Address

	ledger      *bank.Ledger
	interpreter *valuation.Interpreter
	tracker     *fees.ProtocolFeeTracker
	feeManager  *fees.Manager
	policies    *policy.Manager
	positions   *positions.Manager
	comp        *Comptroller
	proxy       *vault.Proxy

	now time.Time
}

func (f *fund) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fund) clock() time.Time { return f.now }

// usdc is the denomination asset throughout: 6 decimals, rate pinned at one
// reference unit. weth trades at 2000 and mln at 1.
func newFund(t *testing.T, cfg fundConfig) *fund {
	t.Helper()
	f := &fund{
		deployer:     types.GenerateAddress(),
		owner:        types.GenerateAddress(),
		investor:     types.GenerateAddress(),
		feeRecipient: types.GenerateAddress(),
		mlnSink:      types.GenerateAddress(),
		ledger:       bank.NewLedger(),
		now:          time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	registry := types.NewAssetRegistry()
	registry.Register(types.Asset{Denom: "usdc", Symbol: "USDC", Decimals: 6})
	registry.Register(types.Asset{Denom: "weth", Symbol: "WETH", Decimals: 18})
	registry.Register(types.Asset{Denom: "mln", Symbol: "MLN", Decimals: 18})

	f.interpreter = valuation.NewInterpreter(registry, 100000*time.Hour)
	f.interpreter.SetClock(f.clock)
	for denom, units := range map[string]int64{"usdc": 1, "weth": 2000, "mln": 1} {
		feed := &valuation.StaticFeed{Rate: valuation.RatePrecision.MulRaw(units), UpdatedAt: f.now}
		require.NoError(t, f.interpreter.AddPrimitive(denom, feed))
	}

	f.tracker = fees.NewProtocolFeeTracker(cfg.trackerBps)
	f.tracker.SetClock(f.clock)
	f.feeManager = fees.NewManager(f.deployer)
	f.policies = policy.NewManager(f.deployer, func(types.Address) types.Address { return f.owner })
	f.positions = positions.NewManager(f.deployer, nil)

	f.comp = New(Config{
		Deployer:    f.deployer,
		Interpreter: f.interpreter,
		Policies:    f.policies,
		Fees:        f.feeManager,
		Positions:   f.positions,
		Extensions:  cfg.extensions,
		Ledger:      f.ledger,
		MLNDenom:    "mln",
	})
	f.comp.SetClock(f.clock)

	proxy, err := vault.NewProxy(vault.ProxyConfig{
		Creator:              types.GenerateAddress(),
		Owner:                f.owner,
		Accessor:             f.comp.Addr(),
		Name:                 "Test Fund",
		SharesDecimals:       18,
		TrackedAssetLimit:    20,
		WrappedNativeDenom:   "wnative",
		MLNDenom:             "mln",
		MLNBurnSink:          f.mlnSink,
		ProtocolFeeRecipient: types.GenerateAddress(),
		BuybackDiscountBps:   5000,
		FeeTracker:           f.tracker,
		Ledger:               f.ledger,
	})
	require.NoError(t, err)
	f.proxy = proxy

	if len(cfg.fees) > 0 {
		require.NoError(t, f.feeManager.SetConfigForFund(f.deployer, f.comp.Addr(), cfg.fees, cfg.feeSettings))
	}
	if !cfg.skipLaunch {
		require.NoError(t, f.comp.Init(f.deployer, "usdc", cfg.timelock))
		require.NoError(t, f.comp.Activate(f.deployer, f.proxy, false))
	}

	require.NoError(t, f.ledger.Mint("usdc", f.investor, sdkmath.NewInt(1_000_000_000_000)))
	return f
}

func usdcAmount(units int64) sdkmath.Int {
	return sdkmath.NewInt(units).Mul(sdkmath.NewInt(1_000_000))
}

func TestLifecycle(t *testing.T) {
	f := newFund(t, fundConfig{skipLaunch: true})

	assert.Equal(t, StateUninitialized, f.comp.State())

	err := f.comp.Activate(f.deployer, f.proxy, false)
	assert.ErrorIs(t, err, ErrNotInitialized)

	err = f.comp.Init(types.GenerateAddress(), "usdc", 0)
	assert.ErrorIs(t, err, ErrOnlyDeployer)

	err = f.comp.Init(f.deployer, "dogecoin", 0)
	assert.ErrorIs(t, err, ErrUnsupportedDenominationAsset)

	require.NoError(t, f.comp.Init(f.deployer, "usdc", time.Hour))
	assert.Equal(t, StateUnactivated, f.comp.State())
	assert.Equal(t, "usdc", f.comp.DenominationAsset())
	assert.Equal(t, time.Hour, f.comp.SharesActionTimelock())

	err = f.comp.Init(f.deployer, "usdc", 0)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)

	err = f.comp.Activate(types.GenerateAddress(), f.proxy, false)
	assert.ErrorIs(t, err, ErrOnlyDeployer)

	require.NoError(t, f.comp.Activate(f.deployer, f.proxy, false))
	assert.Equal(t, StateActivated, f.comp.State())
	assert.True(t, f.proxy.IsTrackedAsset("usdc"))
	assert.True(t, f.proxy.IsPersistentlyTrackedAsset("usdc"))
	assert.Same(t, f.proxy, f.comp.VaultProxy())

	err = f.comp.Activate(f.deployer, f.proxy, false)
	assert.Error(t, err)

	err = f.comp.Destruct(types.GenerateAddress())
	assert.ErrorIs(t, err, ErrOnlyDeployer)
	require.NoError(t, f.comp.Destruct(f.deployer))
	assert.Equal(t, StateDestructed, f.comp.State())

	_, err = f.comp.BuyShares(f.investor, usdcAmount(100), sdkmath.ZeroInt())
	assert.ErrorIs(t, err, ErrNotActivated)
}

// failingTracker rejects every protocol fee settlement.
type failingTracker struct{ err error }

func (s *failingTracker) PayFee(vaultAddr types.Address, supply sdkmath.Int) (sdkmath.Int, error) {
	return sdkmath.Int{}, s.err
}

func (s *failingTracker) InitializeForVault(vaultAddr types.Address) {}

func TestActivate_MigrationFeeFailureRollsBack(t *testing.T) {
	f := newFund(t, fundConfig{skipLaunch: true})
	require.NoError(t, f.comp.Init(f.deployer, "usdc", 0))

	broken, err := vault.NewProxy(vault.ProxyConfig{
		Creator:           types.GenerateAddress(),
		Owner:             f.owner,
		Accessor:          f.comp.Addr(),
		Name:              "Broken Tracker Fund",
		SharesDecimals:    18,
		TrackedAssetLimit: 20,
		FeeTracker:        &failingTracker{err: errors.New("tracker offline")},
		Ledger:            f.ledger,
	})
	require.NoError(t, err)

	err = f.comp.Activate(f.deployer, broken, true)
	require.Error(t, err)
	assert.Equal(t, StateUnactivated, f.comp.State())
	assert.False(t, broken.IsTrackedAsset("usdc"))
	assert.Nil(t, f.comp.VaultProxy())

	// A clean activation still goes through afterwards.
	require.NoError(t, f.comp.Activate(f.deployer, f.proxy, false))
	assert.Equal(t, StateActivated, f.comp.State())
}

func TestCalcGav_TrackedAssets(t *testing.T) {
	f := newFund(t, fundConfig{})

	gav, err := f.comp.CalcGav()
	require.NoError(t, err)
	assert.True(t, gav.IsZero())

	require.NoError(t, f.ledger.Mint("usdc", f.proxy.Addr(), usdcAmount(1000)))
	require.NoError(t, f.ledger.Mint("weth", f.proxy.Addr(), sdkmath.NewIntWithDecimal(1, 18)))
	require.NoError(t, f.proxy.AddTrackedAsset(f.comp.Addr(), "weth"))

	gav, err = f.comp.CalcGav()
	require.NoError(t, err)
	assert.Equal(t, usdcAmount(3000), gav)
}

type valuedPosition struct {
	addr    types.Address
	managed []sdktypes.Coin
	debt    []sdktypes.Coin
}

func (p *valuedPosition) Addr() types.Address                 { return p.addr }
func (p *valuedPosition) TypeID() int                         { return 1 }
func (p *valuedPosition) Init(types.Address) error            { return nil }
func (p *valuedPosition) ReceiveCallFromVault(int, any) error { return nil }
func (p *valuedPosition) GetManagedAssets() []sdktypes.Coin   { return p.managed }
func (p *valuedPosition) GetDebtAssets() []sdktypes.Coin      { return p.debt }

func (f *fund) addPosition(t *testing.T, pos *valuedPosition) {
	t.Helper()
	factory := func() (positions.ExternalPosition, error) { return pos, nil }
	require.NoError(t, f.positions.RegisterPositionType(f.deployer, pos.TypeID(), "TEST", factory))
	require.NoError(t, f.positions.ReceiveCallFromComptroller(extension.Call{
		Comptroller: f.comp.Addr(),
		Vault:       f.proxy,
		Caller:      f.owner,
		ActionID:    positions.ActionCreateExternalPosition,
		Args:        &positions.CreateArgs{PositionTypeID: pos.TypeID(), InitActionID: -1},
	}))
}

func TestCalcGav_ExternalPositions(t *testing.T) {
	f := newFund(t, fundConfig{})
	require.NoError(t, f.ledger.Mint("usdc", f.proxy.Addr(), usdcAmount(1000)))

	pos := &valuedPosition{
		addr:    types.GenerateAddress(),
		managed: []sdktypes.Coin{sdktypes.NewCoin("usdc", usdcAmount(100))},
		debt:    []sdktypes.Coin{sdktypes.NewCoin("usdc", usdcAmount(30))},
	}
	f.addPosition(t, pos)

	gav, err := f.comp.CalcGav()
	require.NoError(t, err)
	assert.Equal(t, usdcAmount(1070), gav)

	// A position under water contributes zero, never negative.
	pos.debt = []sdktypes.Coin{sdktypes.NewCoin("usdc", usdcAmount(500))}
	gav, err = f.comp.CalcGav()
	require.NoError(t, err)
	assert.Equal(t, usdcAmount(1000), gav)
}

func TestCalcGrossShareValue(t *testing.T) {
	f := newFund(t, fundConfig{})

	// No shares outstanding: one whole share is worth one whole share unit.
	value, err := f.comp.CalcGrossShareValue()
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewIntWithDecimal(1, 18), value)

	_, err = f.comp.BuyShares(f.investor, usdcAmount(1000), sdkmath.ZeroInt())
	require.NoError(t, err)

	value, err = f.comp.CalcGrossShareValue()
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewIntWithDecimal(1, 18), value)

	// The fund appreciates without new shares: share value doubles.
	require.NoError(t, f.ledger.Mint("usdc", f.proxy.Addr(), usdcAmount(1000)))
	value, err = f.comp.CalcGrossShareValue()
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewIntWithDecimal(2, 18), value)
}

func TestCalcNetShareValue_SettlesFeesFirst(t *testing.T) {
	recipient := types.GenerateAddress()
	f := newFund(t, fundConfig{
		fees:        []fees.Fee{fees.NewManagementFee()},
		feeSettings: []any{fees.ManagementFeeSettings{RateBps: 100, Recipient: recipient}},
	})

	value, err := f.comp.CalcNetShareValue()
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewIntWithDecimal(1, 18), value)

	_, err = f.comp.BuyShares(f.investor, usdcAmount(1000), sdkmath.ZeroInt())
	require.NoError(t, err)

	f.advance(time.Duration(types.SecondsPerYear.Int64()) * time.Second)

	// Gross pricing ignores the accrued management fee.
	gross, err := f.comp.CalcGrossShareValue()
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewIntWithDecimal(1, 18), gross)

	// Net pricing settles it: one year at 100 bps dilutes the supply by 1%.
	net, err := f.comp.CalcNetShareValue()
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(990_099_009_900_990_099), net)
	assert.Equal(t, usdcAmount(10), f.proxy.BalanceOf(recipient))
}

// mutatingExtension dirties vault and ledger state, then fails on demand.
type mutatingExtension struct {
	drainTo types.Address
	fail    error
}

func (e *mutatingExtension) ReceiveCallFromComptroller(call extension.Call) error {
	if err := call.Vault.AddTrackedAsset(call.Comptroller, "weth"); err != nil {
		return err
	}
	amount := call.Vault.AssetBalance("usdc")
	if amount.IsPositive() {
		if err := call.Vault.WithdrawAssetTo(call.Comptroller, "usdc", e.drainTo, amount); err != nil {
			return err
		}
	}
	return e.fail
}

func TestCallOnExtension_RollsBackOnFailure(t *testing.T) {
	extAddr := types.GenerateAddress()
	drainTo := types.GenerateAddress()
	ext := &mutatingExtension{drainTo: drainTo}
	f := newFund(t, fundConfig{extensions: map[types.Address]extension.Extension{extAddr: ext}})

	_, err := f.comp.BuyShares(f.investor, usdcAmount(1000), sdkmath.ZeroInt())
	require.NoError(t, err)

	err = f.comp.CallOnExtension(f.owner, types.GenerateAddress(), 0, nil)
	assert.ErrorIs(t, err, ErrUnknownExtension)

	// A successful call keeps its effects.
	require.NoError(t, f.comp.CallOnExtension(f.owner, extAddr, 0, nil))
	assert.True(t, f.proxy.IsTrackedAsset("weth"))
	assert.Equal(t, usdcAmount(1000), f.ledger.BalanceOf("usdc", drainTo))

	// Reset: a failing call must leave no trace.
	require.NoError(t, f.ledger.Mint("usdc", f.proxy.Addr(), usdcAmount(500)))
	require.NoError(t, f.proxy.RemoveTrackedAsset(f.comp.Addr(), "weth"))
	ext.fail = errors.New("downstream failure")

	err = f.comp.CallOnExtension(f.owner, extAddr, 0, nil)
	require.ErrorIs(t, err, ext.fail)
	assert.False(t, f.proxy.IsTrackedAsset("weth"))
	assert.Equal(t, usdcAmount(500), f.proxy.AssetBalance("usdc"))
	assert.Equal(t, usdcAmount(1000), f.ledger.BalanceOf("usdc", drainTo))
}

func TestActivateOnMigrationSettlesProtocolFee(t *testing.T) {
	f := newFund(t, fundConfig{skipLaunch: true, trackerBps: 1000})
	require.NoError(t, f.comp.Init(f.deployer, "usdc", 0))
	require.NoError(t, f.comp.Activate(f.deployer, f.proxy, true))
	assert.Equal(t, StateActivated, f.comp.State())
}
