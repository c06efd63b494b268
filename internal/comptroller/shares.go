/*

This file contains the investor-facing share actions: buying shares against
the denomination asset, the two redemption paths, holder transfers, and the
protocol-fee share buyback. Every state-changing action runs atomically
against a snapshot of the asset ledger and vault, so a failing fee, policy,
or payout leaves nothing behind.

*/

package comptroller

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"

	"github.com/OFedorovych/Enzyme-vault/internal/fees"
	"github.com/OFedorovych/Enzyme-vault/internal/policy"
	"github.com/OFedorovych/Enzyme-vault/internal/types"
)

var (
	ErrInvalidInvestmentAmount = errors.New("investment amount must be positive")
	ErrInvalidSharesQuantity   = errors.New("shares quantity must be positive")
	ErrBelowMinShares          = errors.New("shares received below minimum")
	ErrSharesActionTimelocked  = errors.New("shares action timelock has not elapsed")
	ErrPercentagesMustTotal100 = errors.New("payout percentages must total 100%")
	ErrDuplicatePayoutAsset    = errors.New("duplicate payout asset")
	ErrNoSharesToRedeem        = errors.New("no shares remain after fees")
	ErrNoPayoutAssets          = errors.New("no payout assets resolved")
	ErrZeroGav                 = errors.New("fund has shares outstanding but zero gross asset value")
	ErrLengthMismatch          = errors.New("payout assets and percentages must be equal length")
	ErrUnauthorizedCaller      = errors.New("caller is not the owner or an asset manager")
)

// BuyShares exchanges investmentAmount of the denomination asset for fund
// shares. The share count uses GAV and supply as they stand before the
// deposit; a supply of zero bootstraps at one share base unit per
// denomination asset base unit. Returns the shares the buyer nets after
// entrance fees.
func (c *Comptroller) BuyShares(buyer types.Address, investmentAmount, minShares sdkmath.Int) (sdkmath.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActivated {
		return sdkmath.Int{}, ErrNotActivated
	}
	if !investmentAmount.IsPositive() {
		return sdkmath.Int{}, ErrInvalidInvestmentAmount
	}

	sharesReceived := sdkmath.ZeroInt()
	err := c.runAtomic(func() error {
		if _, err := c.vaultProxy.PayProtocolFee(c.addr); err != nil {
			return err
		}
		gav, err := c.calcGav()
		if err != nil {
			return err
		}
		now := c.now()
		fund := fees.FundContext{Comptroller: c.addr, Vault: c.vaultProxy, Accessor: c.addr, Gav: gav, Now: now}
		args := fees.SettlementArgs{Payer: buyer, InvestmentAmount: investmentAmount}
		if c.fees != nil {
			if _, err := c.fees.InvokeHook(fund, fees.HookContinuous, args); err != nil {
				return err
			}
			if _, err := c.fees.InvokeHook(fund, fees.HookPreBuyShares, args); err != nil {
				return err
			}
		}

		// Pricing inputs are fixed after fee dilution and before the
		// deposit lands.
		supply := c.vaultProxy.TotalSupply()
		if err := c.ledger.Transfer(c.denominationAsset, buyer, c.vaultProxy.Addr(), investmentAmount); err != nil {
			return fmt.Errorf("deposit: %w", err)
		}

		sharesIssued := investmentAmount
		if !supply.IsZero() {
			if gav.IsZero() {
				return ErrZeroGav
			}
			sharesIssued = investmentAmount.Mul(supply).Quo(gav)
		}
		if !sharesIssued.IsPositive() {
			return fmt.Errorf("%w: issuance rounded to zero", ErrBelowMinShares)
		}
		if err := c.vaultProxy.MintShares(c.addr, buyer, sharesIssued); err != nil {
			return err
		}

		gavWithDeposit := gav.Add(investmentAmount)
		taken := sdkmath.ZeroInt()
		if c.fees != nil {
			fundPost := fund
			fundPost.Gav = gavWithDeposit
			argsPost := args
			argsPost.SharesBought = sharesIssued
			taken, err = c.fees.InvokeHook(fundPost, fees.HookPostBuyShares, argsPost)
			if err != nil {
				return err
			}
		}
		sharesReceived = sharesIssued.Sub(taken)
		if sharesReceived.LT(minShares) {
			return fmt.Errorf("%w: received %s, min %s", ErrBelowMinShares, sharesReceived, minShares)
		}

		if c.policies != nil {
			err := c.policies.ValidatePolicies(c.addr, policy.HookPostBuyShares, policy.PostBuySharesArgs{
				Buyer:            buyer,
				InvestmentAmount: investmentAmount,
				SharesIssued:     sharesReceived,
				Gav:              gavWithDeposit,
			})
			if err != nil {
				return err
			}
		}

		c.lastSharesAction[buyer] = now
		return nil
	})
	if err != nil {
		return sdkmath.Int{}, err
	}

	c.logger.Info().
		Str("comptroller", c.addr.String()).
		Str("buyer", buyer.String()).
		Str("investment", investmentAmount.String()).
		Str("sharesReceived", sharesReceived.String()).
		Msg("Shares bought")
	return sharesReceived, nil
}

// RedeemSharesInKind burns sharesQuantity of the redeemer's shares for a
// proportional slice of every payout asset: the tracked assets plus
// additionalAssets, minus assetsToSkip. No valuation feed is needed for the
// payout itself, so this path works even when feeds are stale.
func (c *Comptroller) RedeemSharesInKind(redeemer, recipient types.Address, sharesQuantity sdkmath.Int, additionalAssets, assetsToSkip []string) ([]sdktypes.Coin, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActivated {
		return nil, ErrNotActivated
	}
	if !sharesQuantity.IsPositive() {
		return nil, ErrInvalidSharesQuantity
	}
	if recipient.IsZero() {
		recipient = redeemer
	}
	if err := c.assertSharesActionCooldown(redeemer); err != nil {
		return nil, err
	}

	var payouts []sdktypes.Coin
	err := c.runAtomic(func() error {
		netShares, supply, _, err := c.preRedeem(redeemer, sharesQuantity, false)
		if err != nil {
			return err
		}

		payoutAssets, err := trackedPayoutAssets(c.vaultProxy.TrackedAssets(), additionalAssets, assetsToSkip)
		if err != nil {
			return err
		}
		if len(payoutAssets) == 0 {
			return ErrNoPayoutAssets
		}

		if err := c.vaultProxy.BurnShares(c.addr, redeemer, netShares); err != nil {
			return err
		}
		for _, denom := range payoutAssets {
			amount := c.vaultProxy.AssetBalance(denom).Mul(netShares).Quo(supply)
			if !amount.IsPositive() {
				continue
			}
			if err := c.vaultProxy.WithdrawAssetTo(c.addr, denom, recipient, amount); err != nil {
				return err
			}
			payouts = append(payouts, sdktypes.NewCoin(denom, amount))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("comptroller", c.addr.String()).
		Str("redeemer", redeemer.String()).
		Str("shares", sharesQuantity.String()).
		Str("payouts", coinsString(payouts)).
		Msg("Shares redeemed in kind")
	return payouts, nil
}

// RedeemSharesForSpecificAssets burns sharesQuantity for a chosen basket.
// payoutPercentages are in bps of the shares' value and must total exactly
// 100%; each asset pays out its value slice converted through the value
// interpreter.
func (c *Comptroller) RedeemSharesForSpecificAssets(redeemer, recipient types.Address, sharesQuantity sdkmath.Int, payoutAssets []string, payoutPercentages []int64) ([]sdktypes.Coin, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActivated {
		return nil, ErrNotActivated
	}
	if !sharesQuantity.IsPositive() {
		return nil, ErrInvalidSharesQuantity
	}
	if recipient.IsZero() {
		recipient = redeemer
	}
	if len(payoutAssets) != len(payoutPercentages) {
		return nil, fmt.Errorf("%w: %d assets, %d percentages", ErrLengthMismatch, len(payoutAssets), len(payoutPercentages))
	}
	seen := make(map[string]bool, len(payoutAssets))
	totalBps := int64(0)
	for i, denom := range payoutAssets {
		if seen[denom] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePayoutAsset, denom)
		}
		seen[denom] = true
		totalBps += payoutPercentages[i]
	}
	if totalBps != types.OneHundredPercentBps.Int64() {
		return nil, fmt.Errorf("%w: got %d bps", ErrPercentagesMustTotal100, totalBps)
	}
	if err := c.assertSharesActionCooldown(redeemer); err != nil {
		return nil, err
	}

	if c.policies != nil {
		err := c.policies.ValidatePolicies(c.addr, policy.HookRedeemSharesForSpecificAssets, policy.RedeemSharesForSpecificAssetsArgs{
			Redeemer:       redeemer,
			Recipient:      recipient,
			SharesQuantity: sharesQuantity,
			PayoutAssets:   payoutAssets,
		})
		if err != nil {
			return nil, err
		}
	}

	var payouts []sdktypes.Coin
	err := c.runAtomic(func() error {
		netShares, supply, gav, err := c.preRedeem(redeemer, sharesQuantity, true)
		if err != nil {
			return err
		}

		owedValue := gav.Mul(netShares).Quo(supply)
		if err := c.vaultProxy.BurnShares(c.addr, redeemer, netShares); err != nil {
			return err
		}
		for i, denom := range payoutAssets {
			valueDue := owedValue.MulRaw(payoutPercentages[i]).Quo(types.OneHundredPercentBps)
			if !valueDue.IsPositive() {
				continue
			}
			amount, err := c.interpreter.CalcCanonicalAssetValue(c.denominationAsset, valueDue, denom)
			if err != nil {
				return fmt.Errorf("pricing payout %s: %w", denom, err)
			}
			if !amount.IsPositive() {
				continue
			}
			if err := c.vaultProxy.WithdrawAssetTo(c.addr, denom, recipient, amount); err != nil {
				return err
			}
			payouts = append(payouts, sdktypes.NewCoin(denom, amount))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("comptroller", c.addr.String()).
		Str("redeemer", redeemer.String()).
		Str("shares", sharesQuantity.String()).
		Str("payouts", coinsString(payouts)).
		Msg("Shares redeemed for specific assets")
	return payouts, nil
}

// preRedeem settles the protocol fee and the redemption fee hooks, returning
// the shares left to redeem after fees, the resulting supply, and GAV.
// Callers must hold c.mu and run inside runAtomic.
func (c *Comptroller) preRedeem(redeemer types.Address, sharesQuantity sdkmath.Int, needGav bool) (netShares, supply, gav sdkmath.Int, err error) {
	if _, err = c.vaultProxy.PayProtocolFee(c.addr); err != nil {
		return
	}
	gav = sdkmath.ZeroInt()
	if needGav || c.fees != nil {
		gav, err = c.calcGav()
		if err != nil {
			return
		}
	}

	taken := sdkmath.ZeroInt()
	if c.fees != nil {
		fund := fees.FundContext{Comptroller: c.addr, Vault: c.vaultProxy, Accessor: c.addr, Gav: gav, Now: c.now()}
		args := fees.SettlementArgs{Payer: redeemer, SharesToRedeem: sharesQuantity}
		if _, err = c.fees.InvokeHook(fund, fees.HookContinuous, args); err != nil {
			return
		}
		taken, err = c.fees.InvokeHook(fund, fees.HookPreRedeemShares, args)
		if err != nil {
			return
		}
	}

	netShares = sharesQuantity.Sub(taken)
	if !netShares.IsPositive() {
		err = ErrNoSharesToRedeem
		return
	}
	supply = c.vaultProxy.TotalSupply()
	return
}

// TransferShares moves shares between holders, running the timelock and
// transfer policies first unless the owner has made shares freely
// transferable.
func (c *Comptroller) TransferShares(from, to types.Address, amount sdkmath.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActivated {
		return ErrNotActivated
	}

	if !c.vaultProxy.SharesAreFreelyTransferable() {
		if err := c.assertSharesActionCooldown(from); err != nil {
			return err
		}
		if c.policies != nil {
			err := c.policies.ValidatePolicies(c.addr, policy.HookPreTransferShares, policy.PreTransferSharesArgs{
				From:   from,
				To:     to,
				Amount: amount,
			})
			if err != nil {
				return err
			}
		}
	}
	if err := c.vaultProxy.TransferShares(c.addr, from, to, amount); err != nil {
		return err
	}
	// The recipient acquired shares, so their cooldown restarts.
	c.lastSharesAction[to] = c.now()
	return nil
}

// BuyBackProtocolFeeShares burns sharesAmount from the protocol fee reserve
// against the fund's MLN at the configured discount. Callable by the owner or
// an asset manager.
func (c *Comptroller) BuyBackProtocolFeeShares(caller types.Address, sharesAmount sdkmath.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActivated {
		return ErrNotActivated
	}
	if !c.vaultProxy.CanManageAssets(caller) {
		return fmt.Errorf("%w: %s", ErrUnauthorizedCaller, caller)
	}
	if !sharesAmount.IsPositive() {
		return ErrInvalidSharesQuantity
	}

	return c.runAtomic(func() error {
		if _, err := c.vaultProxy.PayProtocolFee(c.addr); err != nil {
			return err
		}
		gav, err := c.calcGav()
		if err != nil {
			return err
		}
		supply := c.vaultProxy.TotalSupply()
		if supply.IsZero() {
			return ErrNoSharesToRedeem
		}
		valueInDenom := gav.Mul(sharesAmount).Quo(supply)
		mlnValue, err := c.interpreter.CalcCanonicalAssetValue(c.denominationAsset, valueInDenom, c.mlnDenom)
		if err != nil {
			return fmt.Errorf("pricing buyback in MLN: %w", err)
		}
		return c.vaultProxy.BuyBackProtocolFeeShares(c.addr, sharesAmount, mlnValue)
	})
}

// assertSharesActionCooldown enforces the per-holder timelock started at the
// holder's last share acquisition. Callers must hold c.mu.
func (c *Comptroller) assertSharesActionCooldown(holder types.Address) error {
	if c.sharesActionTimelock <= 0 {
		return nil
	}
	last, ok := c.lastSharesAction[holder]
	if !ok {
		return nil
	}
	if elapsed := c.now().Sub(last); elapsed < c.sharesActionTimelock {
		return fmt.Errorf("%w: %s of %s elapsed", ErrSharesActionTimelocked, elapsed, c.sharesActionTimelock)
	}
	return nil
}
