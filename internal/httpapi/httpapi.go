package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"invoicepos/internal/domain"
	"invoicepos/internal/draft"
	"invoicepos/internal/intake"
	"invoicepos/internal/service"
	"invoicepos/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	metrics       http.Handler
	logger        *zap.Logger
}

// New wires the routes. metrics may be nil, in which case /metrics is not
// served.
func New(svc *service.Service, auth *AuthManager, allowedOrigin string, metrics http.Handler, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		metrics:       metrics,
		logger:        logger,
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	if a.metrics != nil {
		mux.Handle("/metrics", a.metrics)
	}
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)

	staff := []string{domain.RoleCashier, domain.RoleAdmin}
	mux.HandleFunc("/api/v1/invoices/totals", a.requireAuth(a.handleTotals, staff...))
	mux.HandleFunc("/api/v1/invoices/{id}", a.requireAuth(a.handleInvoice, staff...))
	mux.HandleFunc("/api/v1/products/lookup", a.requireAuth(a.handleLookup, staff...))
	mux.HandleFunc("/api/v1/payment-methods", a.requireAuth(a.handlePaymentMethods, staff...))

	mux.HandleFunc("/api/v1/drafts/{terminal}", a.requireAuth(a.handleDraft, staff...))
	mux.HandleFunc("/api/v1/drafts/{terminal}/recovery", a.requireAuth(a.handleRecovery, staff...))
	mux.HandleFunc("/api/v1/drafts/{terminal}/lines", a.requireAuth(a.handleLines, staff...))
	mux.HandleFunc("/api/v1/drafts/{terminal}/lines/{productID}", a.requireAuth(a.handleLineActions, staff...))
	mux.HandleFunc("/api/v1/drafts/{terminal}/payments", a.requireAuth(a.handlePayments, staff...))
	mux.HandleFunc("/api/v1/drafts/{terminal}/payments/{index}", a.requireAuth(a.handlePaymentActions, staff...))
	mux.HandleFunc("/api/v1/drafts/{terminal}/customer", a.requireAuth(a.handleCustomer, staff...))
	mux.HandleFunc("/api/v1/drafts/{terminal}/notes", a.requireAuth(a.handleNotes, staff...))
	mux.HandleFunc("/api/v1/drafts/{terminal}/submit", a.requireAuth(a.handleSubmit, staff...))

	mux.HandleFunc("/api/v1/users/cashiers", a.requireAuth(a.handleCashiers, domain.RoleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleTotals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.TotalsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.ComputeTotals(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	query := r.URL.Query()
	limit := parsePositiveLimit(query.Get("limit"), 10, 50)
	resp, err := a.service.SearchProducts(r.Context(), query.Get("store_id"), query.Get("q"), limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handlePaymentMethods(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	methods, err := a.service.ListPaymentMethods(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment_methods": methods})
}

func (a *API) handleInvoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	invoice, err := a.service.GetInvoice(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": invoice})
}

func (a *API) handleDraft(w http.ResponseWriter, r *http.Request) {
	storeID, terminal := draftTarget(r)
	switch r.Method {
	case http.MethodGet:
		view, err := a.service.GetDraft(r.Context(), storeID, terminal)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case http.MethodPost:
		view, err := a.service.OpenDraft(r.Context(), storeID, terminal)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case http.MethodDelete:
		if err := a.service.DiscardDraft(r.Context(), storeID, terminal); err != nil {
			a.writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleRecovery(w http.ResponseWriter, r *http.Request) {
	storeID, terminal := draftTarget(r)
	switch r.Method {
	case http.MethodGet:
		offer, err := a.service.PendingRecovery(r.Context(), storeID, terminal)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, offer)
	case http.MethodPost:
		var req domain.RecoveryDecision
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		view, err := a.service.RecoverDraft(r.Context(), storeID, terminal, req.Accept)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleLines(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.AddLineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	storeID, terminal := draftTarget(r)
	view, err := a.service.AddLine(r.Context(), storeID, terminal, req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (a *API) handleLineActions(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(r.PathValue("productID"), 10, 64)
	if err != nil || productID <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("invalid product id"))
		return
	}

	storeID, terminal := draftTarget(r)
	var view domain.DraftResponse
	switch r.Method {
	case http.MethodPatch:
		var req domain.UpdateLineRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		view, err = a.service.UpdateLine(r.Context(), storeID, terminal, productID, req)
	case http.MethodDelete:
		view, err = a.service.RemoveLine(r.Context(), storeID, terminal, productID)
	default:
		writeMethodNotAllowed(w)
		return
	}
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handlePayments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.AddPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	storeID, terminal := draftTarget(r)
	view, err := a.service.AddPayment(r.Context(), storeID, terminal, req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (a *API) handlePaymentActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeMethodNotAllowed(w)
		return
	}
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, errors.New("invalid payment index"))
		return
	}

	storeID, terminal := draftTarget(r)
	view, err := a.service.RemovePayment(r.Context(), storeID, terminal, index)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleCustomer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.SetCustomerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	storeID, terminal := draftTarget(r)
	view, err := a.service.SetCustomer(r.Context(), storeID, terminal, req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleNotes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.SetNotesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	storeID, terminal := draftTarget(r)
	view, err := a.service.SetNotes(r.Context(), storeID, terminal, req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	storeID, terminal := draftTarget(r)
	resp, err := a.service.Submit(r.Context(), storeID, terminal)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleCashiers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cashiers := a.auth.ListCashiers(r.Context())
		writeJSON(w, http.StatusOK, map[string]any{"cashiers": cashiers})
	case http.MethodPost:
		var req domain.CashierCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		cashier, err := a.auth.CreateCashier(r.Context(), req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
	default:
		writeMethodNotAllowed(w)
	}
}

func draftTarget(r *http.Request) (storeID string, terminal string) {
	return strings.TrimSpace(r.URL.Query().Get("store_id")), r.PathValue("terminal")
}

// writeServiceError maps service and domain errors onto status codes. Rule
// violations carry their messages; a payment mismatch carries the amounts.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	var mismatch *service.PaymentMismatchError
	if errors.As(err, &mismatch) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      err.Error(),
			"net_total":  mismatch.NetTotal,
			"total_paid": mismatch.TotalPaid,
			"shortfall":  mismatch.Shortfall,
			"excess":     mismatch.Excess,
		})
		return
	}

	var violation *draft.ViolationError
	if errors.As(err, &violation) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      violation.Kind.Error(),
			"violations": violation.Violations.Messages(),
		})
		return
	}

	writeError(w, statusFor(err), err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, intake.ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, draft.ErrLineNotFound), errors.Is(err, draft.ErrPaymentNotFound):
		return http.StatusNotFound
	case errors.Is(err, draft.ErrNoActiveDraft), errors.Is(err, draft.ErrDuplicateLine), errors.Is(err, service.ErrRecoveryPending),
		errors.Is(err, draft.ErrSubmitInProgress), errors.Is(err, store.ErrInsufficientStock), errors.Is(err, draft.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, draft.ErrInvalidLine), errors.Is(err, draft.ErrInvalidPayment), errors.Is(err, service.ErrEmptyInvoice),
		errors.Is(err, store.ErrInvalidInvoice):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(startedAt)),
		)
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	decoder.UseNumber()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies get a generic message so storage details do not leak.
	msg := err.Error()
	if status >= 500 {
		zap.L().Error("internal error", zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
