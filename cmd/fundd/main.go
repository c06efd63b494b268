package main

import (
	"context"
	"os"
	"strconv"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/OFedorovych/Enzyme-vault/internal/bank"
	"github.com/OFedorovych/Enzyme-vault/internal/comptroller"
	"github.com/OFedorovych/Enzyme-vault/internal/config"
	"github.com/OFedorovych/Enzyme-vault/internal/deployer"
	"github.com/OFedorovych/Enzyme-vault/internal/dispatcher"
	"github.com/OFedorovych/Enzyme-vault/internal/engine"
	"github.com/OFedorovych/Enzyme-vault/internal/extension"
	"github.com/OFedorovych/Enzyme-vault/internal/fees"
	"github.com/OFedorovych/Enzyme-vault/internal/integration"
	"github.com/OFedorovych/Enzyme-vault/internal/logger"
	"github.com/OFedorovych/Enzyme-vault/internal/policy"
	"github.com/OFedorovych/Enzyme-vault/internal/positions"
	"github.com/OFedorovych/Enzyme-vault/internal/state"
	"github.com/OFedorovych/Enzyme-vault/internal/types"
	"github.com/OFedorovych/Enzyme-vault/internal/valuation"
	"github.com/OFedorovych/Enzyme-vault/internal/web"
)

const (
	LOOP_INTERVAL = 10 * time.Minute
)

// main is the entry point for the fund protocol daemon.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("Fund protocol daemon starting...")

	// Initialize Database Connection (snapshots and fee journal)
	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// --- 2. Protocol Singletons ---
	ledger := bank.NewLedger()

	assets := types.NewAssetRegistry()
	assets.Register(types.Asset{Denom: config.DenominationAsset, Symbol: config.DenominationAsset, Decimals: config.DenominationDecimals})
	assets.Register(types.Asset{Denom: config.WrappedNativeDenom, Symbol: config.WrappedNativeDenom, Decimals: 18})
	assets.Register(types.Asset{Denom: config.MLNDenom, Symbol: config.MLNDenom, Decimals: 18})

	// Static unit-rate feeds; the engine keeps their timestamps fresh and an
	// operator replaces the rates out of band.
	feeds := map[string]*valuation.StaticFeed{
		config.DenominationAsset:  {Rate: valuation.RatePrecision, UpdatedAt: time.Now()},
		config.WrappedNativeDenom: {Rate: valuation.RatePrecision, UpdatedAt: time.Now()},
		config.MLNDenom:           {Rate: valuation.RatePrecision, UpdatedAt: time.Now()},
	}

	interpreter := valuation.NewInterpreter(assets, config.RateStaleThreshold)
	for denom, feed := range feeds {
		if err := interpreter.AddPrimitive(denom, feed); err != nil {
			log.Fatal().Err(err).Str("denom", denom).Msg("Failed to register price feed")
		}
	}

	protocolOwner := types.GenerateAddress()
	deployerAddr := types.GenerateAddress()
	feeRecipient := types.GenerateAddress()
	mlnBurnSink := types.GenerateAddress()

	feeTracker := fees.NewProtocolFeeTracker(config.ProtocolFeeBps)
	feeManager := fees.NewManager(deployerAddr)

	// The policy manager resolves fund owners through the deployer, which does
	// not exist yet. Late-bind it through a closure.
	var fundDeployer *deployer.FundDeployer
	ownerOf := func(comptrollerAddr types.Address) types.Address {
		if fundDeployer == nil {
			return types.ZeroAddress
		}
		return fundDeployer.OwnerForComptroller(comptrollerAddr)
	}
	policyManager := policy.NewManager(deployerAddr, ownerOf)

	integrationManager := integration.NewManager(deployerAddr, policyManager)
	positionManager := positions.NewManager(deployerAddr, policyManager)
	extensions := map[types.Address]extension.Extension{
		types.GenerateAddress(): integrationManager,
		types.GenerateAddress(): positionManager,
	}

	disp := dispatcher.New(protocolOwner, config.MigrationTimelock)

	fundDeployer = deployer.New(deployer.Config{
		Addr:       deployerAddr,
		Owner:      protocolOwner,
		Dispatcher: disp,

		Assets:      assets,
		Interpreter: interpreter,
		Policies:    policyManager,
		Fees:        feeManager,
		Positions:   positionManager,
		FeeTracker:  feeTracker,
		Extensions:  extensions,
		Ledger:      ledger,

		TrackedAssetLimit:       config.TrackedAssetLimit,
		WrappedNativeDenom:      config.WrappedNativeDenom,
		MLNDenom:                config.MLNDenom,
		MLNBurnSink:             mlnBurnSink,
		ProtocolFeeRecipient:    feeRecipient,
		BuybackDiscountBps:      config.BuybackDiscountBps,
		ReconfigurationTimelock: config.ReconfigurationTimelock,
	})
	if err := disp.SetCurrentFundDeployer(protocolOwner, fundDeployer); err != nil {
		log.Fatal().Err(err).Msg("Failed to set current fund deployer")
	}
	log.Info().
		Str("dispatcher", disp.Addr().String()).
		Str("fundDeployer", deployerAddr.String()).
		Msg("Protocol release is live")

	// --- 3. Bootstrap the Configured Fund ---
	fundOwner := types.Address(os.Getenv("FUND_OWNER_ADDRESS"))
	if fundOwner.IsZero() {
		fundOwner = types.GenerateAddress()
		log.Warn().Str("owner", fundOwner.String()).Msg("FUND_OWNER_ADDRESS not set, generated a fund owner")
	}

	comp, proxy, err := fundDeployer.CreateNewFund(fundOwner, deployer.FundConfig{
		Name:                 config.FundName,
		Symbol:               config.FundSymbol,
		DenominationAsset:    config.DenominationAsset,
		SharesActionTimelock: config.SharesActionTimelock,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create fund")
	}
	log.Info().
		Str("vault", proxy.Addr().String()).
		Str("comptroller", comp.Addr().String()).
		Str("owner", fundOwner.String()).
		Msg("Fund created")

	seedFund(comp, ledger, fundOwner)

	// --- 4. Start Web Server ---
	webServer := web.NewWebServer(config.WebPort, fundDeployer, disp)
	go func() {
		log.Info().Str("port", config.WebPort).Str("url", "http://localhost:"+config.WebPort).Msg("Starting fund dashboard")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 5. Start Accounting Loop ---
	accountingEngine, err := engine.NewEngine(engine.Config{
		Deployer:     fundDeployer,
		Dispatcher:   disp,
		Feeds:        feeds,
		FeeRecipient: feeRecipient,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create accounting engine")
	}

	log.Info().Str("interval", LOOP_INTERVAL.String()).Msg("Starting accounting loop")
	accountingEngine.RunLoop(context.Background(), LOOP_INTERVAL)
}

// seedFund optionally funds the owner's ledger balance and buys initial
// shares, driven by SEED_DEPOSIT_AMOUNT.
func seedFund(comp *comptroller.Comptroller, ledger *bank.Ledger, fundOwner types.Address) {
	seedStr := os.Getenv("SEED_DEPOSIT_AMOUNT")
	if seedStr == "" {
		return
	}
	seed, ok := sdkmath.NewIntFromString(seedStr)
	if !ok || !seed.IsPositive() {
		log.Fatal().Str("value", seedStr).Msg("SEED_DEPOSIT_AMOUNT must be a positive integer")
	}
	if err := ledger.Mint(config.DenominationAsset, fundOwner, seed); err != nil {
		log.Fatal().Err(err).Msg("Failed to credit seed deposit")
	}
	shares, err := comp.BuyShares(fundOwner, seed, sdkmath.OneInt())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to buy seed shares")
	}
	log.Info().
		Str("deposit", seed.String()).
		Str("shares", shares.String()).
		Msg("Seed deposit invested")
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
