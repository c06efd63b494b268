package bank

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OFedorovych/Enzyme-vault/internal/types"
)

func TestLedger_MintAndBalance(t *testing.T) {
	ledger := NewLedger()
	holder := types.GenerateAddress()

	require.NoError(t, ledger.Mint("usdc", holder, sdkmath.NewInt(1000)))
	assert.Equal(t, sdkmath.NewInt(1000), ledger.BalanceOf("usdc", holder))

	// Unknown pairs read as zero.
	assert.True(t, ledger.BalanceOf("weth", holder).IsZero())
	assert.True(t, ledger.BalanceOf("usdc", types.GenerateAddress()).IsZero())
}

func TestLedger_MintRejectsNonPositive(t *testing.T) {
	ledger := NewLedger()
	holder := types.GenerateAddress()

	err := ledger.Mint("usdc", holder, sdkmath.ZeroInt())
	assert.ErrorIs(t, err, ErrInvalidAmount)

	err = ledger.Mint("usdc", holder, sdkmath.NewInt(-5))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestLedger_Transfer(t *testing.T) {
	ledger := NewLedger()
	from := types.GenerateAddress()
	to := types.GenerateAddress()

	require.NoError(t, ledger.Mint("usdc", from, sdkmath.NewInt(500)))
	require.NoError(t, ledger.Transfer("usdc", from, to, sdkmath.NewInt(200)))

	assert.Equal(t, sdkmath.NewInt(300), ledger.BalanceOf("usdc", from))
	assert.Equal(t, sdkmath.NewInt(200), ledger.BalanceOf("usdc", to))
}

func TestLedger_TransferInsufficient(t *testing.T) {
	ledger := NewLedger()
	from := types.GenerateAddress()
	to := types.GenerateAddress()

	require.NoError(t, ledger.Mint("usdc", from, sdkmath.NewInt(100)))

	err := ledger.Transfer("usdc", from, to, sdkmath.NewInt(101))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	// Failed transfer leaves balances untouched.
	assert.Equal(t, sdkmath.NewInt(100), ledger.BalanceOf("usdc", from))
	assert.True(t, ledger.BalanceOf("usdc", to).IsZero())

	err = ledger.Transfer("weth", from, to, sdkmath.NewInt(1))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestLedger_Burn(t *testing.T) {
	ledger := NewLedger()
	holder := types.GenerateAddress()

	require.NoError(t, ledger.Mint("usdc", holder, sdkmath.NewInt(100)))
	require.NoError(t, ledger.Burn("usdc", holder, sdkmath.NewInt(40)))
	assert.Equal(t, sdkmath.NewInt(60), ledger.BalanceOf("usdc", holder))

	err := ledger.Burn("usdc", holder, sdkmath.NewInt(61))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestLedger_BalancesOfSortedAndNonZero(t *testing.T) {
	ledger := NewLedger()
	holder := types.GenerateAddress()

	require.NoError(t, ledger.Mint("weth", holder, sdkmath.NewInt(2)))
	require.NoError(t, ledger.Mint("usdc", holder, sdkmath.NewInt(10)))
	require.NoError(t, ledger.Mint("atom", holder, sdkmath.NewInt(7)))
	require.NoError(t, ledger.Burn("atom", holder, sdkmath.NewInt(7)))

	coins := ledger.BalancesOf(holder)
	require.Len(t, coins, 2)
	assert.Equal(t, "usdc", coins[0].Denom)
	assert.Equal(t, "weth", coins[1].Denom)
}

func TestLedger_SnapshotRestore(t *testing.T) {
	ledger := NewLedger()
	holder := types.GenerateAddress()
	other := types.GenerateAddress()

	require.NoError(t, ledger.Mint("usdc", holder, sdkmath.NewInt(100)))
	snap := ledger.Snapshot()

	require.NoError(t, ledger.Transfer("usdc", holder, other, sdkmath.NewInt(90)))
	require.NoError(t, ledger.Mint("weth", other, sdkmath.NewInt(5)))

	ledger.Restore(snap)
	assert.Equal(t, sdkmath.NewInt(100), ledger.BalanceOf("usdc", holder))
	assert.True(t, ledger.BalanceOf("usdc", other).IsZero())
	assert.True(t, ledger.BalanceOf("weth", other).IsZero())
}

func TestLedger_SnapshotIsDeepCopy(t *testing.T) {
	ledger := NewLedger()
	holder := types.GenerateAddress()

	require.NoError(t, ledger.Mint("usdc", holder, sdkmath.NewInt(100)))
	snap := ledger.Snapshot()

	// Mutating the live ledger must not leak into the captured snapshot.
	require.NoError(t, ledger.Burn("usdc", holder, sdkmath.NewInt(100)))
	ledger.Restore(snap)
	assert.Equal(t, sdkmath.NewInt(100), ledger.BalanceOf("usdc", holder))
}
