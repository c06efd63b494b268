package deployer

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OFedorovych/Enzyme-vault/internal/bank"
	"github.com/OFedorovych/Enzyme-vault/internal/comptroller"
	"github.com/OFedorovych/Enzyme-vault/internal/dispatcher"
	"github.com/OFedorovych/Enzyme-vault/internal/fees"
	"github.com/OFedorovych/Enzyme-vault/internal/policy"
	"github.com/OFedorovych/Enzyme-vault/internal/positions"
	"github.com/OFedorovych/Enzyme-vault/internal/types"
	"github.com/OFedorovych/Enzyme-vault/internal/valuation"
)

// protocolEnv is the shared infrastructure every release plugs into.
type protocolEnv struct {
	protocolOwner types.Address
	fundOwner     types.Address
	investor      types.Address

	ledger      *bank.Ledger
	registry    *types.AssetRegistry
	interpreter *valuation.Interpreter
	tracker     *fees.ProtocolFeeTracker
	disp        *dispatcher.Dispatcher

	now time.Time
}

func (e *protocolEnv) advance(d time.Duration) { e.now = e.now.Add(d) }

func (e *protocolEnv) clock() time.Time { return e.now }

func newProtocolEnv(t *testing.T) *protocolEnv {
	t.Helper()
	e := &protocolEnv{
		protocolOwner: types.GenerateAddress(),
		fundOwner:     types.GenerateAddress(),
		investor:      types.GenerateAddress(),
		ledger:        bank.NewLedger(),
		now:           time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	e.registry = types.NewAssetRegistry()
	e.registry.Register(types.Asset{Denom: "usdc", Symbol: "USDC", Decimals: 6})
	e.registry.Register(types.Asset{Denom: "weth", Symbol: "WETH", Decimals: 18})
	e.registry.Register(types.Asset{Denom: "mln", Symbol: "MLN", Decimals: 18})

	e.interpreter = valuation.NewInterpreter(e.registry, 100000*time.Hour)
	e.interpreter.SetClock(e.clock)
	for denom, units := range map[string]int64{"usdc": 1, "weth": 2000, "mln": 1} {
		feed := &valuation.StaticFeed{Rate: valuation.RatePrecision.MulRaw(units), UpdatedAt: e.now}
		require.NoError(t, e.interpreter.AddPrimitive(denom, feed))
	}

	e.tracker = fees.NewProtocolFeeTracker(0)
	e.tracker.SetClock(e.clock)
	e.disp = dispatcher.New(e.protocolOwner, time.Hour)
	e.disp.SetClock(e.clock)

	require.NoError(t, e.ledger.Mint("usdc", e.investor, sdkmath.NewInt(1_000_000_000_000)))
	return e
}

// newRelease builds a fund deployer release with its own fee and policy
// managers, the way a fresh protocol version ships.
func (e *protocolEnv) newRelease() *FundDeployer {
	addr := types.GenerateAddress()
	var release *FundDeployer
	policies := policy.NewManager(addr, func(comp types.Address) types.Address {
		if release == nil {
			return types.ZeroAddress
		}
		return release.OwnerForComptroller(comp)
	})
	release = New(Config{
		Addr:                    addr,
		Owner:                   e.protocolOwner,
		Dispatcher:              e.disp,
		Assets:                  e.registry,
		Interpreter:             e.interpreter,
		Policies:                policies,
		Fees:                    fees.NewManager(addr),
		Positions:               positions.NewManager(addr, policies),
		FeeTracker:              e.tracker,
		Ledger:                  e.ledger,
		TrackedAssetLimit:       20,
		WrappedNativeDenom:      "wnative",
		MLNDenom:                "mln",
		MLNBurnSink:             types.GenerateAddress(),
		ProtocolFeeRecipient:    types.GenerateAddress(),
		BuybackDiscountBps:      5000,
		ReconfigurationTimelock: time.Hour,
	})
	release.SetClock(e.clock)
	return release
}

func (e *protocolEnv) liveRelease(t *testing.T) *FundDeployer {
	t.Helper()
	release := e.newRelease()
	require.NoError(t, e.disp.SetCurrentFundDeployer(e.protocolOwner, release))
	return release
}

func baseFundConfig() FundConfig {
	return FundConfig{
		Name:              "Alpha Fund",
		Symbol:            "ALPHA",
		DenominationAsset: "usdc",
	}
}

func TestCreateNewFund(t *testing.T) {
	e := newProtocolEnv(t)

	stale := e.newRelease()
	_, _, err := stale.CreateNewFund(e.fundOwner, baseFundConfig())
	assert.ErrorIs(t, err, ErrReleaseNotLive)

	release := e.liveRelease(t)
	comp, proxy, err := release.CreateNewFund(e.fundOwner, baseFundConfig())
	require.NoError(t, err)

	assert.Equal(t, comptroller.StateActivated, comp.State())
	assert.Equal(t, "usdc", comp.DenominationAsset())
	assert.Equal(t, e.fundOwner, proxy.GetOwner())
	assert.Equal(t, comp.Addr(), proxy.GetAccessor())
	assert.Equal(t, 6, proxy.Decimals())
	assert.True(t, proxy.IsTrackedAsset("usdc"))

	assert.Equal(t, []types.Address{proxy.Addr()}, release.Funds())
	got, err := release.ComptrollerForVault(proxy.Addr())
	require.NoError(t, err)
	assert.Same(t, comp, got)
	assert.Equal(t, e.fundOwner, release.OwnerForComptroller(comp.Addr()))
	assert.Equal(t, types.ZeroAddress, release.OwnerForComptroller(types.GenerateAddress()))
}

func TestCreateNewFund_UnknownDenominationAsset(t *testing.T) {
	e := newProtocolEnv(t)
	release := e.liveRelease(t)

	cfg := baseFundConfig()
	cfg.DenominationAsset = "dogecoin"
	_, _, err := release.CreateNewFund(e.fundOwner, cfg)
	assert.ErrorIs(t, err, comptroller.ErrUnsupportedDenominationAsset)
}

func TestCreateNewFund_WithFeesAndPolicies(t *testing.T) {
	e := newProtocolEnv(t)
	release := e.liveRelease(t)

	feeRecipient := types.GenerateAddress()
	cfg := baseFundConfig()
	cfg.Fees = []fees.Fee{fees.NewEntranceRateFee()}
	cfg.FeeSettings = []any{fees.RateFeeSettings{RateBps: 100, Recipient: feeRecipient}}
	cfg.Policies = []policy.Policy{policy.NewAllowedDepositRecipients()}
	cfg.PolicySettings = []any{[]types.Address{e.investor}}

	comp, proxy, err := release.CreateNewFund(e.fundOwner, cfg)
	require.NoError(t, err)

	shares, err := comp.BuyShares(e.investor, sdkmath.NewInt(1_000_000_000), sdkmath.ZeroInt())
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(990_000_000), shares)
	assert.Equal(t, sdkmath.NewInt(10_000_000), proxy.BalanceOf(feeRecipient))

	_, err = comp.BuyShares(types.GenerateAddress(), sdkmath.NewInt(1_000_000), sdkmath.ZeroInt())
	assert.Error(t, err)
}

func TestMigrationFlow(t *testing.T) {
	e := newProtocolEnv(t)
	releaseA := e.liveRelease(t)
	compA, proxy, err := releaseA.CreateNewFund(e.fundOwner, baseFundConfig())
	require.NoError(t, err)

	releaseB := e.newRelease()
	_, err = releaseB.CreateMigrationRequest(e.fundOwner, proxy.Addr(), baseFundConfig())
	assert.ErrorIs(t, err, ErrReleaseNotLive)

	require.NoError(t, e.disp.SetCurrentFundDeployer(e.protocolOwner, releaseB))

	_, err = releaseB.CreateMigrationRequest(types.GenerateAddress(), proxy.Addr(), baseFundConfig())
	assert.ErrorIs(t, err, ErrOnlyFundOwner)

	compB, err := releaseB.CreateMigrationRequest(e.fundOwner, proxy.Addr(), baseFundConfig())
	require.NoError(t, err)
	assert.Equal(t, comptroller.StateUnactivated, compB.State())

	err = releaseB.ExecuteMigration(e.fundOwner, proxy.Addr())
	assert.ErrorIs(t, err, dispatcher.ErrMigrationTimelocked)

	e.advance(time.Hour)
	err = releaseB.ExecuteMigration(types.GenerateAddress(), proxy.Addr())
	assert.ErrorIs(t, err, ErrOnlyFundOwner)

	require.NoError(t, releaseB.ExecuteMigration(e.fundOwner, proxy.Addr()))

	// The vault now answers to the new comptroller; the old one wound down.
	assert.Equal(t, compB.Addr(), proxy.GetAccessor())
	assert.Equal(t, comptroller.StateActivated, compB.State())
	assert.Equal(t, comptroller.StateDestructed, compA.State())

	_, err = releaseA.ComptrollerForVault(proxy.Addr())
	assert.ErrorIs(t, err, ErrUnknownFund)
	got, err := releaseB.ComptrollerForVault(proxy.Addr())
	require.NoError(t, err)
	assert.Same(t, compB, got)
}

func TestCancelMigration(t *testing.T) {
	e := newProtocolEnv(t)
	releaseA := e.liveRelease(t)
	_, proxy, err := releaseA.CreateNewFund(e.fundOwner, baseFundConfig())
	require.NoError(t, err)

	releaseB := e.liveRelease(t)
	_, err = releaseB.CreateMigrationRequest(e.fundOwner, proxy.Addr(), baseFundConfig())
	require.NoError(t, err)

	err = releaseB.CancelMigration(types.GenerateAddress(), proxy.Addr())
	assert.ErrorIs(t, err, ErrOnlyFundOwner)

	require.NoError(t, releaseB.CancelMigration(e.fundOwner, proxy.Addr()))

	e.advance(time.Hour)
	err = releaseB.ExecuteMigration(e.fundOwner, proxy.Addr())
	assert.ErrorIs(t, err, ErrNoPendingMigration)
}

func TestReconfigurationFlow(t *testing.T) {
	e := newProtocolEnv(t)
	release := e.liveRelease(t)
	compA, proxy, err := release.CreateNewFund(e.fundOwner, baseFundConfig())
	require.NoError(t, err)

	_, err = release.CreateReconfigurationRequest(types.GenerateAddress(), proxy.Addr(), baseFundConfig())
	assert.ErrorIs(t, err, ErrOnlyFundOwner)

	err = release.ExecuteReconfiguration(e.fundOwner, proxy.Addr())
	assert.ErrorIs(t, err, ErrNoPendingReconfiguration)

	cfg := baseFundConfig()
	cfg.DenominationAsset = "weth"
	compB, err := release.CreateReconfigurationRequest(e.fundOwner, proxy.Addr(), cfg)
	require.NoError(t, err)

	_, err = release.CreateReconfigurationRequest(e.fundOwner, proxy.Addr(), cfg)
	assert.ErrorIs(t, err, ErrReconfigurationPending)

	err = release.ExecuteReconfiguration(e.fundOwner, proxy.Addr())
	assert.ErrorIs(t, err, ErrReconfigurationTimelocked)

	e.advance(time.Hour)
	require.NoError(t, release.ExecuteReconfiguration(e.fundOwner, proxy.Addr()))

	assert.Equal(t, compB.Addr(), proxy.GetAccessor())
	assert.Equal(t, comptroller.StateActivated, compB.State())
	assert.Equal(t, comptroller.StateDestructed, compA.State())
	assert.Equal(t, "weth", compB.DenominationAsset())
	assert.True(t, proxy.IsTrackedAsset("weth"))

	got, err := release.ComptrollerForVault(proxy.Addr())
	require.NoError(t, err)
	assert.Same(t, compB, got)
}

func TestCancelReconfigurationRequest(t *testing.T) {
	e := newProtocolEnv(t)
	release := e.liveRelease(t)
	_, proxy, err := release.CreateNewFund(e.fundOwner, baseFundConfig())
	require.NoError(t, err)

	err = release.CancelReconfigurationRequest(e.fundOwner, proxy.Addr())
	assert.ErrorIs(t, err, ErrNoPendingReconfiguration)

	_, err = release.CreateReconfigurationRequest(e.fundOwner, proxy.Addr(), baseFundConfig())
	require.NoError(t, err)

	err = release.CancelReconfigurationRequest(types.GenerateAddress(), proxy.Addr())
	assert.ErrorIs(t, err, ErrOnlyFundOwner)

	require.NoError(t, release.CancelReconfigurationRequest(e.fundOwner, proxy.Addr()))

	e.advance(time.Hour)
	err = release.ExecuteReconfiguration(e.fundOwner, proxy.Addr())
	assert.ErrorIs(t, err, ErrNoPendingReconfiguration)
}
