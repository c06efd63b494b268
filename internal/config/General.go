package config

import (
	"errors"
	"strconv"
	"time"

	"os"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// FundName is the shares token name of the fund this instance hosts.
	FundName string
	// FundSymbol is the shares token symbol. Empty falls back to the default.
	FundSymbol string
	// DenominationAsset is the denom all fund accounting is quoted in.
	DenominationAsset string
	// DenominationDecimals is the precision of the denomination asset.
	DenominationDecimals int

	// WrappedNativeDenom is the asset native-token receipts are wrapped into.
	WrappedNativeDenom string
	// MLNDenom is the asset burned by protocol fee share buybacks.
	MLNDenom string

	// WebPort is the port for the HTTP dashboard.
	WebPort string

	// ProtocolFeeBps is the annualized protocol fee rate in basis points.
	ProtocolFeeBps int64
	// BuybackDiscountBps is the discount applied when buying back protocol
	// fee shares against MLN.
	BuybackDiscountBps int64
	// TrackedAssetLimit caps tracked assets and active external positions
	// per vault.
	TrackedAssetLimit int
	// RateStaleThreshold is how old a primitive feed rate may be before
	// valuation fails.
	RateStaleThreshold time.Duration
	// SharesActionTimelock is the default per-depositor cooldown on share
	// redemptions and transfers.
	SharesActionTimelock time.Duration
	// MigrationTimelock is the delay between signaling and executing a vault
	// migration.
	MigrationTimelock time.Duration
	// ReconfigurationTimelock is the delay on in-place comptroller swaps.
	ReconfigurationTimelock time.Duration
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// Fund identity variables are required; protocol parameters fall back to the
// defaults in Parameters.go when unset.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	FundName, err = getEnv("FUND_NAME")
	if err != nil {
		return err
	}

	FundSymbol = getEnvOr("FUND_SYMBOL", "")

	DenominationAsset, err = getEnv("DENOMINATION_ASSET")
	if err != nil {
		return err
	}

	DenominationDecimals, err = getEnvAsInt("DENOMINATION_DECIMALS")
	if err != nil {
		return err
	}

	WrappedNativeDenom, err = getEnv("WRAPPED_NATIVE_DENOM")
	if err != nil {
		return err
	}

	MLNDenom, err = getEnv("MLN_DENOM")
	if err != nil {
		return err
	}

	WebPort = getEnvOr("WEB_PORT", "8080")

	ProtocolFeeBps = getEnvAsInt64Or("PROTOCOL_FEE_BPS", DefaultProtocolParameters.ProtocolFeeBps)
	BuybackDiscountBps = getEnvAsInt64Or("BUYBACK_DISCOUNT_BPS", DefaultProtocolParameters.BuybackDiscountBps)
	TrackedAssetLimit = int(getEnvAsInt64Or("TRACKED_ASSET_LIMIT", int64(DefaultProtocolParameters.TrackedAssetLimit)))
	RateStaleThreshold = getEnvAsSecondsOr("RATE_STALE_THRESHOLD_SECONDS", DefaultProtocolParameters.RateStaleThreshold)
	SharesActionTimelock = getEnvAsSecondsOr("SHARES_ACTION_TIMELOCK_SECONDS", DefaultProtocolParameters.SharesActionTimelock)
	MigrationTimelock = getEnvAsSecondsOr("MIGRATION_TIMELOCK_SECONDS", DefaultProtocolParameters.MigrationTimelock)
	ReconfigurationTimelock = getEnvAsSecondsOr("RECONFIGURATION_TIMELOCK_SECONDS", DefaultProtocolParameters.ReconfigurationTimelock)

	log.Debug().
		Str("FundName", FundName).
		Str("DenominationAsset", DenominationAsset).
		Int64("ProtocolFeeBps", ProtocolFeeBps).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvOr retrieves a string environment variable with a fallback.
func getEnvOr(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvAsInt retrieves an environment variable as an int. Returns error if not set or invalid.
func getEnvAsInt(key string) (int, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid integer, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsInt64Or retrieves an environment variable as an int64 with a fallback.
func getEnvAsInt64Or(key string, fallback int64) int64 {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", valueStr).Msg("Invalid integer in environment, using default")
		return fallback
	}
	return value
}

// getEnvAsSecondsOr retrieves an environment variable as a duration in whole
// seconds with a fallback.
func getEnvAsSecondsOr(key string, fallback time.Duration) time.Duration {
	seconds := getEnvAsInt64Or(key, int64(fallback/time.Second))
	return time.Duration(seconds) * time.Second
}
