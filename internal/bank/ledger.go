/*

This file contains the in-memory asset ledger. Every token balance in the
system lives here, keyed by (denom, holder address); the vault proxy's
custodied assets are simply this ledger's balances at the vault's address.
The ledger supports whole-state snapshot and restore so that a failing
operation can roll back all asset movements it caused.

*/

package bank

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"

	"github.com/OFedorovych/Enzyme-vault/internal/types"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

// Ledger tracks asset balances for every holder address.
type Ledger struct {
	mu       sync.RWMutex
	balances map[string]map[types.Address]sdkmath.Int // denom -> holder -> amount
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{balances: make(map[string]map[types.Address]sdkmath.Int)}
}

// BalanceOf returns the holder's balance of denom. Unknown pairs are zero.
func (l *Ledger) BalanceOf(denom string, holder types.Address) sdkmath.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	holders, ok := l.balances[denom]
	if !ok {
		return sdkmath.ZeroInt()
	}
	amount, ok := holders[holder]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return amount
}

// BalancesOf returns all non-zero balances held by an address, sorted by denom.
func (l *Ledger) BalancesOf(holder types.Address) []sdktypes.Coin {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var coins []sdktypes.Coin
	for denom, holders := range l.balances {
		if amount, ok := holders[holder]; ok && amount.IsPositive() {
			coins = append(coins, sdktypes.Coin{Denom: denom, Amount: amount})
		}
	}
	sort.Slice(coins, func(i, j int) bool { return coins[i].Denom < coins[j].Denom })
	return coins
}

// Mint credits newly created units of denom to a holder. Used for wrapping
// native token receipts and for funding accounts in tests.
func (l *Ledger) Mint(denom string, to types.Address, amount sdkmath.Int) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(denom, to, amount)
	return nil
}

// Burn destroys units of denom held by the holder.
func (l *Ledger) Burn(denom string, from types.Address, amount sdkmath.Int) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debit(denom, from, amount)
}

// Transfer moves amount of denom between holders.
func (l *Ledger) Transfer(denom string, from, to types.Address, amount sdkmath.Int) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.debit(denom, from, amount); err != nil {
		return err
	}
	l.credit(denom, to, amount)
	return nil
}

func (l *Ledger) credit(denom string, to types.Address, amount sdkmath.Int) {
	holders, ok := l.balances[denom]
	if !ok {
		holders = make(map[types.Address]sdkmath.Int)
		l.balances[denom] = holders
	}
	current, ok := holders[to]
	if !ok {
		current = sdkmath.ZeroInt()
	}
	holders[to] = current.Add(amount)
}

func (l *Ledger) debit(denom string, from types.Address, amount sdkmath.Int) error {
	holders, ok := l.balances[denom]
	if !ok {
		return fmt.Errorf("%w: %s has no %s", ErrInsufficientBalance, from, denom)
	}
	current, ok := holders[from]
	if !ok || current.LT(amount) {
		return fmt.Errorf("%w: %s holds %s %s, needs %s", ErrInsufficientBalance,
			from, balanceString(current, ok), denom, amount)
	}
	holders[from] = current.Sub(amount)
	return nil
}

func balanceString(amount sdkmath.Int, ok bool) string {
	if !ok {
		return "0"
	}
	return amount.String()
}

// Snapshot captures the complete ledger state.
func (l *Ledger) Snapshot() map[string]map[types.Address]sdkmath.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	snap := make(map[string]map[types.Address]sdkmath.Int, len(l.balances))
	for denom, holders := range l.balances {
		inner := make(map[types.Address]sdkmath.Int, len(holders))
		for holder, amount := range holders {
			inner[holder] = amount
		}
		snap[denom] = inner
	}
	return snap
}

// Restore replaces the ledger state with a previously captured snapshot.
func (l *Ledger) Restore(snap map[string]map[types.Address]sdkmath.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	restored := make(map[string]map[types.Address]sdkmath.Int, len(snap))
	for denom, holders := range snap {
		inner := make(map[types.Address]sdkmath.Int, len(holders))
		for holder, amount := range holders {
			inner[holder] = amount
		}
		restored[denom] = inner
	}
	l.balances = restored
}
