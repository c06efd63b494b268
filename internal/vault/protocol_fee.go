/*

This file contains the protocol-fee surface of the vault: minting the shares
owed to the protocol fee reserve for elapsed time, and buying those shares
back against an MLN amount sent to the burn sink.

*/

package vault

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/OFedorovych/Enzyme-vault/internal/types"
)

var ErrNoFeeTracker = errors.New("protocol fee tracker not configured")

// GetProtocolFeeRecipient returns the shares reserve address for the protocol
// fee.
func (p *Proxy) GetProtocolFeeRecipient() types.Address { return p.protocolFeeRecipient }

// PayProtocolFee settles the time-based protocol fee by minting shares to the
// protocol fee reserve. Accessor-only. Returns the shares minted (possibly
// zero when no time elapsed).
func (p *Proxy) PayProtocolFee(caller types.Address) (sdkmath.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.accessor {
		return sdkmath.Int{}, ErrOnlyAccessor
	}
	if p.feeTracker == nil {
		return sdkmath.Int{}, ErrNoFeeTracker
	}

	sharesDue, err := p.feeTracker.PayFee(p.addr, p.totalSupply)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("protocol fee: %w", err)
	}
	if sharesDue.IsZero() {
		return sdkmath.ZeroInt(), nil
	}

	p.creditShares(p.protocolFeeRecipient, sharesDue)
	p.totalSupply = p.totalSupply.Add(sharesDue)
	p.logger.Info().
		Str("vault", p.addr.String()).
		Str("sharesDue", sharesDue.String()).
		Msg("Protocol fee paid in shares")
	return sharesDue, nil
}

// BuyBackProtocolFeeShares burns sharesAmount from the protocol fee reserve
// against MLN. mlnValue is the denomination value of those shares expressed
// in MLN (computed by the accessor from GAV); the vault burns that value less
// the buyback discount by transferring MLN to the burn sink. Accessor-only.
func (p *Proxy) BuyBackProtocolFeeShares(caller types.Address, sharesAmount, mlnValue sdkmath.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.accessor {
		return ErrOnlyAccessor
	}
	if !sharesAmount.IsPositive() {
		return ErrInvalidShareAmount
	}

	// The discount reduces the MLN burned relative to the shares' value.
	mlnDue := mlnValue.
		Mul(types.OneHundredPercentBps.SubRaw(p.buybackDiscountBps)).
		Quo(types.OneHundredPercentBps)

	if mlnDue.IsPositive() {
		if err := p.ledger.Transfer(p.mlnDenom, p.addr, p.mlnBurnSink, mlnDue); err != nil {
			return fmt.Errorf("buyback burn: %w", err)
		}
	}
	if err := p.debitShares(p.protocolFeeRecipient, sharesAmount); err != nil {
		return err
	}
	p.totalSupply = p.totalSupply.Sub(sharesAmount)
	p.logger.Info().
		Str("vault", p.addr.String()).
		Str("sharesBought", sharesAmount.String()).
		Str("mlnBurned", mlnDue.String()).
		Msg("Protocol fee shares bought back")
	return nil
}
