package engine

import (
	"context"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/OFedorovych/Enzyme-vault/internal/deployer"
	"github.com/OFedorovych/Enzyme-vault/internal/dispatcher"
	"github.com/OFedorovych/Enzyme-vault/internal/logger"
	"github.com/OFedorovych/Enzyme-vault/internal/state"
	"github.com/OFedorovych/Enzyme-vault/internal/types"
	"github.com/OFedorovych/Enzyme-vault/internal/utils"
	"github.com/OFedorovych/Enzyme-vault/internal/valuation"
)

// Engine drives the periodic accounting cycle: it keeps the price feeds
// fresh, values every fund on the current release, and persists the results.
type Engine struct {
	logger     zerolog.Logger
	deployer   *deployer.FundDeployer
	dispatcher *dispatcher.Dispatcher

	// Feeds the engine refreshes each cycle, keyed by denom.
	feeds map[string]*valuation.StaticFeed

	feeRecipient types.Address

	// Runtime state
	cycleCount    int
	lastFeeShares map[types.Address]sdkmath.Int // vault -> fee recipient balance last cycle
}

// Config holds the configuration for creating a new Engine instance
type Config struct {
	Deployer     *deployer.FundDeployer
	Dispatcher   *dispatcher.Dispatcher
	Feeds        map[string]*valuation.StaticFeed
	FeeRecipient types.Address
}

// NewEngine creates a new engine instance with dependency injection
func NewEngine(cfg Config) (*Engine, error) {
	if err := validateEngineConfig(cfg); err != nil {
		return nil, fmt.Errorf("engine configuration validation failed: %w", err)
	}

	e := &Engine{
		logger:        logger.GetForComponent("accounting_engine"),
		deployer:      cfg.Deployer,
		dispatcher:    cfg.Dispatcher,
		feeds:         cfg.Feeds,
		feeRecipient:  cfg.FeeRecipient,
		cycleCount:    0,
		lastFeeShares: make(map[types.Address]sdkmath.Int),
	}

	e.logger.Info().
		Int("feeds", len(e.feeds)).
		Msg("Engine instance created successfully with dependency injection")

	return e, nil
}

func validateEngineConfig(cfg Config) error {
	if cfg.Deployer == nil {
		return fmt.Errorf("fund deployer cannot be nil")
	}
	if cfg.Dispatcher == nil {
		return fmt.Errorf("dispatcher cannot be nil")
	}
	if cfg.FeeRecipient.IsZero() {
		return fmt.Errorf("protocol fee recipient cannot be empty")
	}
	return nil
}

// RunLoop starts the main accounting loop with the specified interval
func (e *Engine) RunLoop(ctx context.Context, interval time.Duration) {
	e.logger.Info().
		Dur("interval", interval).
		Msg("Starting accounting loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run first cycle immediately
	e.cycleCount++
	e.logger.Info().Int("cycle", e.cycleCount).Msg("Initiating accounting cycle")
	e.RunCycle(ctx)
	e.logger.Info().Int("cycle", e.cycleCount).Msg("Accounting cycle completed")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Accounting loop stopped due to context cancellation")
			return
		case <-ticker.C:
			e.cycleCount++
			e.logger.Info().Int("cycle", e.cycleCount).Msg("Initiating accounting cycle")
			e.RunCycle(ctx)
			e.logger.Info().Int("cycle", e.cycleCount).Msg("Accounting cycle completed")
		}
	}
}

// RunCycle performs one pass over every fund on the release.
func (e *Engine) RunCycle(ctx context.Context) {
	cycleLogger := e.logger.With().Int("cycle", e.cycleCount).Logger()
	cycleStart := time.Now()

	e.refreshFeeds()

	funds := e.deployer.Funds()
	if len(funds) == 0 {
		cycleLogger.Info().Msg("No active funds on this release")
		return
	}

	for _, vaultAddr := range funds {
		select {
		case <-ctx.Done():
			cycleLogger.Warn().Msg("Cycle aborted mid-pass due to context cancellation")
			return
		default:
		}
		if err := e.snapshotFund(vaultAddr, cycleLogger); err != nil {
			cycleLogger.Error().Err(err).
				Str("vault", vaultAddr.String()).
				Msg("Failed to snapshot fund, continuing with remaining funds")
		}
	}

	cycleLogger.Info().
		Int("funds", len(funds)).
		Dur("duration", time.Since(cycleStart)).
		Msg("All funds snapshotted")
}

// refreshFeeds stamps every managed feed with the current time so valuations
// do not trip the staleness check between external rate updates.
func (e *Engine) refreshFeeds() {
	now := time.Now()
	for denom, feed := range e.feeds {
		feed.UpdatedAt = now
		e.logger.Debug().Str("denom", denom).Msg("Feed timestamp refreshed")
	}
}

func (e *Engine) snapshotFund(vaultAddr types.Address, cycleLogger zerolog.Logger) error {
	proxy, err := e.dispatcher.GetVaultProxy(vaultAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve vault proxy: %w", err)
	}
	comp, err := e.deployer.ComptrollerForVault(vaultAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve comptroller: %w", err)
	}

	gav, err := comp.CalcGav()
	if err != nil {
		return fmt.Errorf("failed to compute GAV: %w", err)
	}
	sharePrice, err := comp.CalcGrossShareValue()
	if err != nil {
		return fmt.Errorf("failed to compute gross share value: %w", err)
	}
	priceFloat, err := utils.SDKIntToFloat64(sharePrice, proxy.Decimals())
	if err != nil {
		return fmt.Errorf("failed to render share price: %w", err)
	}

	positions := proxy.ActiveExternalPositions()
	positionStrings := make([]string, 0, len(positions))
	for _, position := range positions {
		positionStrings = append(positionStrings, position.String())
	}

	snapshot := state.FundSnapshot{
		Timestamp:         time.Now().UTC(),
		VaultAddress:      vaultAddr.String(),
		ComptrollerAddr:   comp.Addr().String(),
		DenominationAsset: comp.DenominationAsset(),
		Gav:               gav.String(),
		SharesSupply:      proxy.TotalSupply().String(),
		SharePrice:        priceFloat,
		TrackedAssets:     proxy.TrackedAssets(),
		ExternalPositions: positionStrings,
	}

	snapshotID, err := state.SaveFundSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("failed to persist snapshot: %w", err)
	}

	e.recordProtocolFeeMints(vaultAddr, proxy.BalanceOf(e.feeRecipient), proxy.TotalSupply(), cycleLogger)

	cycleLogger.Info().
		Str("vault", vaultAddr.String()).
		Int64("snapshotID", snapshotID).
		Str("gav", gav.String()).
		Float64("sharePrice", priceFloat).
		Msg("Fund snapshot saved")
	return nil
}

// recordProtocolFeeMints journals the protocol fee shares minted to the
// recipient since the previous cycle. Buybacks burn from the recipient, so a
// shrinking balance simply resets the baseline.
func (e *Engine) recordProtocolFeeMints(vaultAddr types.Address, recipientShares, supply sdkmath.Int, cycleLogger zerolog.Logger) {
	last, seen := e.lastFeeShares[vaultAddr]
	e.lastFeeShares[vaultAddr] = recipientShares
	if !seen || recipientShares.LTE(last) {
		return
	}

	minted := recipientShares.Sub(last)
	payment := state.ProtocolFeePayment{
		PaidAt:            time.Now().UTC(),
		VaultAddress:      vaultAddr.String(),
		SharesMinted:      minted.String(),
		SharesSupplyAfter: supply.String(),
	}
	if err := state.RecordProtocolFeePayment(payment); err != nil {
		cycleLogger.Error().Err(err).
			Str("vault", vaultAddr.String()).
			Msg("Failed to record protocol fee payment")
		return
	}
	cycleLogger.Info().
		Str("vault", vaultAddr.String()).
		Str("sharesMinted", minted.String()).
		Msg("Protocol fee payment recorded")
}
