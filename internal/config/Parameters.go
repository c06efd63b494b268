/*

This file contains the default protocol parameters.

These values govern every fund hosted by the process unless overridden
through the environment. They are tuned for funds holding significant capital
and lean toward depositor protection over operator convenience.

*/

package config

import "time"

// ProtocolParameters is the tunable protocol-wide configuration.
type ProtocolParameters struct {
	ProtocolFeeBps          int64
	BuybackDiscountBps      int64
	TrackedAssetLimit       int
	RateStaleThreshold      time.Duration
	SharesActionTimelock    time.Duration
	MigrationTimelock       time.Duration
	ReconfigurationTimelock time.Duration
}

// DefaultProtocolParameters provides the baseline used when no environment
// overrides are present.
var DefaultProtocolParameters = ProtocolParameters{
	ProtocolFeeBps: 25, // 0.25% of shares supply per year.
	// Accrues continuously against supply, so the dilution is felt equally
	// by every holder regardless of when they entered.

	BuybackDiscountBps: 5000, // Buybacks burn MLN worth 50% of the shares' value.
	// The discount makes buybacks strictly attractive for fund owners, which
	// keeps the fee reserve from accumulating voting weight in funds.

	TrackedAssetLimit: 20, // Max tracked assets, and separately max active positions.
	// Every tracked asset adds a feed read to GAV. An unbounded set lets a
	// manager make redemptions arbitrarily expensive or unservable.

	RateStaleThreshold: 24 * time.Hour,
	// A rate older than a day is treated as missing. Specific-asset
	// redemptions fail rather than price against stale data; in-kind
	// redemption stays available regardless.

	SharesActionTimelock: 24 * time.Hour,
	// Cooldown between acquiring shares and redeeming or transferring them.
	// Blocks same-block arbitrage loops around fee settlement.

	MigrationTimelock: 48 * time.Hour,
	// Window for depositors to exit before a vault moves to a new release.

	ReconfigurationTimelock: 48 * time.Hour,
	// Same reasoning as migration: reconfiguration can change the
	// denomination asset and the whole fee/policy set.
}
