package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cdpvault/internal/core"
	"cdpvault/internal/observability"
	"cdpvault/internal/query"
	"cdpvault/internal/registry"
	"cdpvault/internal/vault"
)

// Server exposes the engine and the operation log over HTTP/JSON.
// Mutating endpoints identify the caller via the X-Caller-Id header.
type Server struct {
	engine   *core.Engine
	querySvc *query.QueryService
	health   *observability.HealthChecker
	metrics  *observability.Metrics
	log      zerolog.Logger

	httpServer *http.Server
	addr       string
}

func NewServer(
	addr string,
	engine *core.Engine,
	querySvc *query.QueryService,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
) *Server {
	return &Server{
		engine:   engine,
		querySvc: querySvc,
		health:   health,
		metrics:  metrics,
		log:      observability.NewLogger("http"),
		addr:     addr,
	}
}

// Handler builds the router. Exposed separately from Start for tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if s.health != nil {
		r.Get("/healthz", s.health.LivenessHandler)
		r.Get("/readyz", s.health.ReadinessHandler)
	}

	r.Route("/v1", func(api chi.Router) {
		api.Post("/debt-types", s.handleInitDebtType)
		api.Get("/debt-types", s.handleListDebtTypes)
		api.Post("/vault-types", s.handleInitVaultType)
		api.Get("/vault-types", s.handleListVaultTypes)

		api.Post("/vaults", s.handleInitVault)
		api.Get("/vaults", s.handleListVaults)
		api.Get("/vaults/{id}", s.handleGetVault)
		api.Post("/vaults/{id}/stake", s.handleStake)
		api.Post("/vaults/{id}/borrow", s.handleBorrow)
		api.Post("/vaults/{id}/repay", s.handleRepay)
		api.Post("/vaults/{id}/unstake", s.handleUnstake)
		api.Get("/vaults/{id}/operations", s.handleVaultOperations)

		api.Get("/operations/{sequence}", s.handleGetOperation)
		api.Get("/operations", s.handleGetOperationByRequest)
		api.Get("/journal", s.handleJournalHistory)
		api.Get("/journal/balance", s.handleJournalBalance)

		api.Get("/status", s.handleStatus)
		api.Get("/integrity", s.handleIntegrity)
	})

	return r
}

// Start runs the HTTP server until ctx is cancelled (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// --- registration handlers ---

func (s *Server) handleInitDebtType(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}

	var req core.InitDebtTypeRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.Owner = caller

	dt, err := s.engine.InitDebtType(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, debtTypeResponse(dt))
}

func (s *Server) handleInitVaultType(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}

	var req core.InitVaultTypeRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.Caller = caller

	vt, err := s.engine.InitVaultType(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, vaultTypeResponse(vt))
}

func (s *Server) handleInitVault(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}

	var req core.InitVaultRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.Owner = caller

	v, err := s.engine.InitVault(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, vaultResponse(v))
}

// --- position handlers ---

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	vaultID, ok := s.vaultParam(w, r)
	if !ok {
		return
	}

	var req core.StakeRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.VaultID = vaultID
	req.Caller = caller

	v, err := s.engine.Stake(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, vaultResponse(v))
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	vaultID, ok := s.vaultParam(w, r)
	if !ok {
		return
	}

	var req core.BorrowRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.VaultID = vaultID
	req.Caller = caller

	v, err := s.engine.Borrow(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, vaultResponse(v))
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	vaultID, ok := s.vaultParam(w, r)
	if !ok {
		return
	}

	var req core.RepayRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.VaultID = vaultID
	req.Caller = caller

	v, err := s.engine.Repay(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, vaultResponse(v))
}

func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	vaultID, ok := s.vaultParam(w, r)
	if !ok {
		return
	}

	var req core.UnstakeRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.VaultID = vaultID
	req.Caller = caller

	v, err := s.engine.Unstake(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, vaultResponse(v))
}

// --- read handlers ---

func (s *Server) handleListDebtTypes(w http.ResponseWriter, r *http.Request) {
	defer s.recordQuery("list_debt_types", time.Now())

	out := []debtTypeDTO{}
	for _, dt := range s.engine.GetDebtTypes() {
		out = append(out, debtTypeResponse(dt))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListVaultTypes(w http.ResponseWriter, r *http.Request) {
	defer s.recordQuery("list_vault_types", time.Now())

	out := []vaultTypeDTO{}
	for _, vt := range s.engine.GetVaultTypes() {
		out = append(out, vaultTypeResponse(vt))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	defer s.recordQuery("get_vault", time.Now())

	vaultID, ok := s.vaultParam(w, r)
	if !ok {
		return
	}

	v := s.engine.GetVault(vaultID)
	if v == nil {
		s.writeErrorStatus(w, http.StatusNotFound, "vault not found")
		return
	}
	s.writeJSON(w, http.StatusOK, vaultResponse(v))
}

func (s *Server) handleListVaults(w http.ResponseWriter, r *http.Request) {
	defer s.recordQuery("list_vaults", time.Now())

	ownerParam := r.URL.Query().Get("owner")
	if ownerParam == "" {
		s.writeErrorStatus(w, http.StatusBadRequest, "owner query parameter is required")
		return
	}
	owner, err := uuid.Parse(ownerParam)
	if err != nil {
		s.writeErrorStatus(w, http.StatusBadRequest, "invalid owner")
		return
	}

	out := []vaultDTO{}
	for _, v := range s.engine.GetVaultsByOwner(owner) {
		out = append(out, vaultResponse(v))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleVaultOperations(w http.ResponseWriter, r *http.Request) {
	defer s.recordQuery("vault_operations", time.Now())

	vaultID, ok := s.vaultParam(w, r)
	if !ok {
		return
	}

	limit, before := paginationParams(r, 50, 500)
	ops, err := s.querySvc.GetVaultOperations(r.Context(), vaultID, limit, before)
	if err != nil {
		s.queryFailed(w, "vault_operations", err)
		return
	}
	if ops == nil {
		ops = []query.OperationResponse{}
	}
	s.writeJSON(w, http.StatusOK, ops)
}

func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	defer s.recordQuery("get_operation", time.Now())

	seq, err := strconv.ParseInt(chi.URLParam(r, "sequence"), 10, 64)
	if err != nil {
		s.writeErrorStatus(w, http.StatusBadRequest, "invalid sequence")
		return
	}

	op, err := s.querySvc.GetOperation(r.Context(), seq)
	if err != nil {
		s.queryFailed(w, "get_operation", err)
		return
	}
	if op == nil {
		s.writeErrorStatus(w, http.StatusNotFound, "operation not found")
		return
	}
	s.writeJSON(w, http.StatusOK, op)
}

func (s *Server) handleGetOperationByRequest(w http.ResponseWriter, r *http.Request) {
	defer s.recordQuery("operation_by_request", time.Now())

	opName := r.URL.Query().Get("op")
	requestID := r.URL.Query().Get("request_id")
	if opName == "" || requestID == "" {
		s.writeErrorStatus(w, http.StatusBadRequest, "op and request_id query parameters are required")
		return
	}
	if _, ok := core.ParseOpType(opName); !ok {
		s.writeErrorStatus(w, http.StatusBadRequest, "unknown op")
		return
	}

	op, err := s.querySvc.GetOperationByRequestID(r.Context(), opName, requestID)
	if err != nil {
		s.queryFailed(w, "operation_by_request", err)
		return
	}
	if op == nil {
		s.writeErrorStatus(w, http.StatusNotFound, "operation not found")
		return
	}
	s.writeJSON(w, http.StatusOK, op)
}

func (s *Server) handleJournalHistory(w http.ResponseWriter, r *http.Request) {
	defer s.recordQuery("journal_history", time.Now())

	account := r.URL.Query().Get("account")
	if account == "" {
		s.writeErrorStatus(w, http.StatusBadRequest, "account query parameter is required")
		return
	}

	limit, before := paginationParams(r, 100, 500)
	entries, err := s.querySvc.GetJournalHistory(r.Context(), account, limit, before)
	if err != nil {
		s.queryFailed(w, "journal_history", err)
		return
	}
	if entries == nil {
		entries = []query.JournalHistoryEntry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleJournalBalance(w http.ResponseWriter, r *http.Request) {
	defer s.recordQuery("journal_balance", time.Now())

	account := r.URL.Query().Get("account")
	if account == "" {
		s.writeErrorStatus(w, http.StatusBadRequest, "account query parameter is required")
		return
	}

	balance, err := s.querySvc.ReconstructBalance(r.Context(), account)
	if err != nil {
		s.queryFailed(w, "journal_balance", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": account,
		"balance": balance,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	hash := s.engine.GetStateHash()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"next_sequence": s.engine.GetSequence(),
		"state_hash":    hex.EncodeToString(hash[:]),
	})
}

func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	defer s.recordQuery("integrity", time.Now())

	report, err := s.querySvc.VerifyIntegrity(r.Context())
	if err != nil {
		s.queryFailed(w, "integrity", err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// --- response DTOs ---

type debtTypeDTO struct {
	ID            uuid.UUID `json:"id"`
	DebtToken     uuid.UUID `json:"debt_token"`
	MintAuthority string    `json:"mint_authority"`
	Nonce         uint8     `json:"nonce"`
	Owner         uuid.UUID `json:"owner"`
}

func debtTypeResponse(dt *registry.DebtType) debtTypeDTO {
	return debtTypeDTO{
		ID:            dt.ID,
		DebtToken:     dt.DebtToken,
		MintAuthority: hex.EncodeToString(dt.MintAuthority[:]),
		Nonce:         dt.Nonce,
		Owner:         dt.Owner,
	}
}

type vaultTypeDTO struct {
	ID                uuid.UUID `json:"id"`
	DebtType          uuid.UUID `json:"debt_type"`
	CollateralToken   uuid.UUID `json:"collateral_token"`
	CollateralCustody uuid.UUID `json:"collateral_custody"`
	CustodyAuthority  string    `json:"custody_authority"`
	Nonce             uint8     `json:"nonce"`
	Owner             uuid.UUID `json:"owner"`
}

func vaultTypeResponse(vt *registry.VaultType) vaultTypeDTO {
	return vaultTypeDTO{
		ID:                vt.ID,
		DebtType:          vt.DebtType,
		CollateralToken:   vt.CollateralToken,
		CollateralCustody: vt.CollateralCustody,
		CustodyAuthority:  hex.EncodeToString(vt.CustodyAuthority[:]),
		Nonce:             vt.Nonce,
		Owner:             vt.Owner,
	}
}

type vaultDTO struct {
	ID               uuid.UUID `json:"id"`
	DebtType         uuid.UUID `json:"debt_type"`
	VaultType        uuid.UUID `json:"vault_type"`
	Owner            uuid.UUID `json:"owner"`
	DebtAmount       int64     `json:"debt_amount"`
	CollateralAmount int64     `json:"collateral_amount"`
	State            string    `json:"state"`
	Version          int64     `json:"version"`
}

func vaultResponse(v *vault.Vault) vaultDTO {
	return vaultDTO{
		ID:               v.ID,
		DebtType:         v.DebtType,
		VaultType:        v.VaultType,
		Owner:            v.Owner,
		DebtAmount:       v.DebtAmount,
		CollateralAmount: v.CollateralAmount,
		State:            v.State.String(),
		Version:          v.Version,
	}
}

// --- helpers ---

func (s *Server) requireCaller(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get("X-Caller-Id")
	if raw == "" {
		s.writeErrorStatus(w, http.StatusBadRequest, "X-Caller-Id header is required")
		return uuid.Nil, false
	}
	caller, err := uuid.Parse(raw)
	if err != nil {
		s.writeErrorStatus(w, http.StatusBadRequest, "invalid X-Caller-Id")
		return uuid.Nil, false
	}
	return caller, true
}

func (s *Server) vaultParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeErrorStatus(w, http.StatusBadRequest, "invalid vault id")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeErrorStatus(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func paginationParams(r *http.Request, defLimit, maxLimit int) (int, *int64) {
	limit := defLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= maxLimit {
			limit = n
		}
	}

	var before *int64
	if raw := r.URL.Query().Get("before"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			before = &n
		}
	}
	return limit, before
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("encode response")
	}
}

func (s *Server) writeErrorStatus(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps engine errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidRequestID):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrAuthorityMismatch),
		errors.Is(err, core.ErrAuthorityDerivationFailed):
		status = http.StatusForbidden
	case errors.Is(err, core.ErrUnknownReference):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrDuplicateRegistration),
		errors.Is(err, core.ErrDuplicateRequest),
		errors.Is(err, core.ErrVersionConflict):
		status = http.StatusConflict
	case errors.Is(err, core.ErrInsufficientBalance),
		errors.Is(err, core.ErrUndercollateralized):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrExternalLedgerFailure):
		status = http.StatusBadGateway
	}

	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) recordQuery(endpoint string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.QueryRequests.WithLabelValues(endpoint).Inc()
	s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func (s *Server) queryFailed(w http.ResponseWriter, endpoint string, err error) {
	if s.metrics != nil {
		s.metrics.QueryErrors.WithLabelValues(endpoint).Inc()
	}
	s.log.Error().Err(err).Str("endpoint", endpoint).Msg("query failed")
	s.writeErrorStatus(w, http.StatusInternalServerError, "internal error")
}
