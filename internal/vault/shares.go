/*

This file contains the shares ledger: an ERC20-like balance book hosted by the
vault proxy. Supply changes only through accessor-initiated mint and burn;
transfers between holders are likewise accessor-mediated so the comptroller
can enforce the shares-action timelock and transfer policies first.

*/

package vault

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/OFedorovych/Enzyme-vault/internal/types"
)

var (
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrInvalidShareAmount = errors.New("share amount must be positive")
	ErrFreelyTransferable = errors.New("freely transferable shares already set")
)

// BalanceOf returns a holder's share balance.
func (p *Proxy) BalanceOf(holder types.Address) sdkmath.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	balance, ok := p.balances[holder]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return balance
}

// TotalSupply returns the total shares outstanding.
func (p *Proxy) TotalSupply() sdkmath.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totalSupply
}

// SharesAreFreelyTransferable reports the one-way transferability switch.
func (p *Proxy) SharesAreFreelyTransferable() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.freelyTransferable
}

// SetFreelyTransferableShares irreversibly lifts transfer restrictions.
// Owner-only.
func (p *Proxy) SetFreelyTransferableShares(caller types.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.owner {
		return ErrOnlyOwner
	}
	if p.freelyTransferable {
		return ErrFreelyTransferable
	}
	p.freelyTransferable = true
	p.logger.Info().Str("vault", p.addr.String()).Msg("Shares set freely transferable")
	return nil
}

// MintShares creates new shares for a holder. Accessor-only.
func (p *Proxy) MintShares(caller, to types.Address, amount sdkmath.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.accessor {
		return ErrOnlyAccessor
	}
	if to.IsZero() {
		return fmt.Errorf("%w: mint target", ErrZeroAddress)
	}
	if !amount.IsPositive() {
		return ErrInvalidShareAmount
	}
	p.creditShares(to, amount)
	p.totalSupply = p.totalSupply.Add(amount)
	p.logger.Debug().
		Str("vault", p.addr.String()).
		Str("to", to.String()).
		Str("amount", amount.String()).
		Msg("Shares minted")
	return nil
}

// BurnShares destroys shares held by a holder. Accessor-only.
func (p *Proxy) BurnShares(caller, from types.Address, amount sdkmath.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.accessor {
		return ErrOnlyAccessor
	}
	if !amount.IsPositive() {
		return ErrInvalidShareAmount
	}
	if err := p.debitShares(from, amount); err != nil {
		return err
	}
	p.totalSupply = p.totalSupply.Sub(amount)
	p.logger.Debug().
		Str("vault", p.addr.String()).
		Str("from", from.String()).
		Str("amount", amount.String()).
		Msg("Shares burned")
	return nil
}

// TransferShares moves shares between holders. Accessor-only; holder-facing
// transfers route through the comptroller so the timelock and transfer
// policies run first.
func (p *Proxy) TransferShares(caller, from, to types.Address, amount sdkmath.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.accessor {
		return ErrOnlyAccessor
	}
	if to.IsZero() {
		return fmt.Errorf("%w: transfer target", ErrZeroAddress)
	}
	if !amount.IsPositive() {
		return ErrInvalidShareAmount
	}
	if err := p.debitShares(from, amount); err != nil {
		return err
	}
	p.creditShares(to, amount)
	return nil
}

func (p *Proxy) creditShares(to types.Address, amount sdkmath.Int) {
	current, ok := p.balances[to]
	if !ok {
		current = sdkmath.ZeroInt()
	}
	p.balances[to] = current.Add(amount)
}

func (p *Proxy) debitShares(from types.Address, amount sdkmath.Int) error {
	current, ok := p.balances[from]
	if !ok || current.LT(amount) {
		return fmt.Errorf("%w: %s", ErrInsufficientShares, from)
	}
	p.balances[from] = current.Sub(amount)
	return nil
}
