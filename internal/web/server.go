package web

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/OFedorovych/Enzyme-vault/internal/deployer"
	"github.com/OFedorovych/Enzyme-vault/internal/dispatcher"
	"github.com/OFedorovych/Enzyme-vault/internal/logger"
	"github.com/OFedorovych/Enzyme-vault/internal/state"
	"github.com/OFedorovych/Enzyme-vault/internal/types"
	"github.com/OFedorovych/Enzyme-vault/internal/utils"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer handles HTTP requests for fund data visualization
type WebServer struct {
	router     *mux.Router
	port       string
	deployer   *deployer.FundDeployer
	dispatcher *dispatcher.Dispatcher
}

// NewWebServer creates a new web server instance
func NewWebServer(port string, fundDeployer *deployer.FundDeployer, disp *dispatcher.Dispatcher) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:     mux.NewRouter(),
		port:       port,
		deployer:   fundDeployer,
		dispatcher: disp,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/funds", ws.handleGetFunds).Methods("GET")
	api.HandleFunc("/funds/{vault}", ws.handleGetFund).Methods("GET")
	api.HandleFunc("/funds/{vault}/snapshots", ws.handleGetFundSnapshots).Methods("GET")
	api.HandleFunc("/funds/{vault}/protocol-fees", ws.handleGetProtocolFees).Methods("GET")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	dbHealthy := true
	if err := state.TestDBConnection(); err != nil {
		dbHealthy = false
	}

	overallStatus := "OK"
	statusCode := http.StatusOK
	if !dbHealthy {
		overallStatus = "DEGRADED"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
		},
		"component": map[string]interface{}{
			"name":    "fundd",
			"version": "1.0.0",
		},
		"protocol_status": map[string]interface{}{
			"database_healthy":      dbHealthy,
			"funds_count":           len(ws.deployer.Funds()),
			"current_fund_deployer": ws.dispatcher.GetCurrentFundDeployer().String(),
		},
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetFunds lists every active fund on the current release
func (ws *WebServer) handleGetFunds(w http.ResponseWriter, r *http.Request) {
	var funds []map[string]interface{}
	for _, vaultAddr := range ws.deployer.Funds() {
		proxy, err := ws.dispatcher.GetVaultProxy(vaultAddr)
		if err != nil {
			continue
		}
		comp, err := ws.deployer.ComptrollerForVault(vaultAddr)
		if err != nil {
			continue
		}
		funds = append(funds, map[string]interface{}{
			"vault":              vaultAddr.String(),
			"comptroller":        comp.Addr().String(),
			"name":               proxy.Name(),
			"symbol":             proxy.Symbol(),
			"owner":              proxy.GetOwner().String(),
			"denomination_asset": comp.DenominationAsset(),
			"state":              comp.State().String(),
		})
	}

	response := map[string]interface{}{
		"funds": funds,
		"count": len(funds),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetFund returns live accounting detail for one fund
func (ws *WebServer) handleGetFund(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	vaultAddr := types.Address(vars["vault"])

	proxy, err := ws.dispatcher.GetVaultProxy(vaultAddr)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusNotFound, "Fund not found")
		return
	}
	comp, err := ws.deployer.ComptrollerForVault(vaultAddr)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusNotFound, "Fund not found")
		return
	}

	gav, err := comp.CalcGav()
	if err != nil {
		webLogger.Error().Err(err).Str("vault", vaultAddr.String()).Msg("Failed to compute GAV")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to value fund")
		return
	}
	sharePrice, err := comp.CalcGrossShareValue()
	if err != nil {
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to compute share value")
		return
	}

	decimals := proxy.Decimals()
	gavFloat, err := utils.SDKIntToFloat64(gav, decimals)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to render GAV")
		return
	}
	supplyFloat, err := utils.SDKIntToFloat64(proxy.TotalSupply(), decimals)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to render supply")
		return
	}
	priceFloat, err := utils.SDKIntToFloat64(sharePrice, decimals)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to render share price")
		return
	}

	positions := proxy.ActiveExternalPositions()
	positionStrings := make([]string, 0, len(positions))
	for _, position := range positions {
		positionStrings = append(positionStrings, position.String())
	}

	response := map[string]interface{}{
		"vault":              vaultAddr.String(),
		"comptroller":        comp.Addr().String(),
		"name":               proxy.Name(),
		"symbol":             proxy.Symbol(),
		"owner":              proxy.GetOwner().String(),
		"state":              comp.State().String(),
		"denomination_asset": comp.DenominationAsset(),
		"gav":                gavFloat,
		"shares_supply":      supplyFloat,
		"share_price":        priceFloat,
		"tracked_assets":     proxy.TrackedAssets(),
		"external_positions": positionStrings,
		"timestamp":          time.Now().UTC(),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetFundSnapshots returns persisted snapshot history for one fund
func (ws *WebServer) handleGetFundSnapshots(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	vaultAddr := vars["vault"]
	limit := parseLimit(r, 20)

	snapshots, err := state.GetRecentSnapshots(vaultAddr, limit)
	if err != nil {
		webLogger.Error().Err(err).Str("vault", vaultAddr).Msg("Failed to get fund snapshots")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve snapshots")
		return
	}

	response := map[string]interface{}{
		"snapshots": snapshots,
		"count":     len(snapshots),
		"limit":     limit,
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetProtocolFees returns the protocol fee payment journal for one fund
func (ws *WebServer) handleGetProtocolFees(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	vaultAddr := vars["vault"]
	limit := parseLimit(r, 20)

	payments, err := state.GetProtocolFeePayments(vaultAddr, limit)
	if err != nil {
		webLogger.Error().Err(err).Str("vault", vaultAddr).Msg("Failed to get protocol fee payments")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve protocol fee payments")
		return
	}

	response := map[string]interface{}{
		"payments": payments,
		"count":    len(payments),
		"limit":    limit,
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

func parseLimit(r *http.Request, fallback int) int {
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 100 {
			return parsed
		}
	}
	return fallback
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", duration).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
