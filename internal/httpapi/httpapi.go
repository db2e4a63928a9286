package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"inventario/backend/internal/cache"
	"inventario/backend/internal/domain"
	"inventario/backend/internal/service"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

var errIdempotencyKeyTooLong = errors.New("idempotency key too long")

type API struct {
	service        *service.Service
	auth           *AuthManager
	allowedOrigin  string
	loginLimiter   *attemptLimiter
	idempotency    cache.IdempotencyStore
	idempotencyTTL time.Duration
	health         Pinger
	log            logrus.FieldLogger
}

type Option func(*API)

func WithIdempotency(store cache.IdempotencyStore, ttl time.Duration) Option {
	return func(a *API) {
		if store != nil {
			a.idempotency = store
		}
		a.idempotencyTTL = ttl
	}
}

func WithHealthCheck(p Pinger) Option {
	return func(a *API) {
		a.health = p
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(a *API) {
		if logger != nil {
			a.log = logger
		}
	}
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, opts ...Option) *API {
	a := &API{
		service:        svc,
		auth:           auth,
		allowedOrigin:  allowedOrigin,
		loginLimiter:   newAttemptLimiter(5, time.Minute),
		idempotency:    cache.NoopIdempotencyStore{},
		idempotencyTTL: 24 * time.Hour,
		log:            logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.WithField("component", "httpapi")
	return a
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
	l.entries[key] = append(kept, now)
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

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("GET /api/v1/products", a.requireAuth(a.handleListProducts, RoleClerk, RoleAdmin))
	mux.HandleFunc("POST /api/v1/products", a.requireAuth(a.handleCreateProduct, RoleAdmin))
	mux.HandleFunc("GET /api/v1/products/low-stock", a.requireAuth(a.handleLowStock, RoleClerk, RoleAdmin))
	mux.HandleFunc("GET /api/v1/products/{id}", a.requireAuth(a.handleGetProduct, RoleClerk, RoleAdmin))
	mux.HandleFunc("PATCH /api/v1/products/{id}", a.requireAuth(a.handleUpdateProduct, RoleAdmin))
	mux.HandleFunc("DELETE /api/v1/products/{id}", a.requireAuth(a.handleDeleteProduct, RoleAdmin))

	for _, route := range []struct {
		prefix string
		kind   domain.Kind
	}{
		{"/api/v1/sales", domain.KindSale},
		{"/api/v1/purchases", domain.KindPurchase},
	} {
		mux.HandleFunc("GET "+route.prefix, a.requireAuth(a.handleListTransactions(route.kind), RoleClerk, RoleAdmin))
		mux.HandleFunc("POST "+route.prefix, a.requireAuth(a.idempotent(a.handleRecord(route.kind)), RoleClerk, RoleAdmin))
		mux.HandleFunc("POST "+route.prefix+"/reconcile", a.requireAuth(a.handleReconcile(route.kind), RoleAdmin))
		mux.HandleFunc("GET "+route.prefix+"/{id}", a.requireAuth(a.handleGetTransaction(route.kind), RoleClerk, RoleAdmin))
		mux.HandleFunc("GET "+route.prefix+"/{id}/recompute", a.requireAuth(a.handleRecompute(route.kind), RoleClerk, RoleAdmin))
		mux.HandleFunc("DELETE "+route.prefix+"/{id}", a.requireAuth(a.handleDeleteTransaction(route.kind), RoleAdmin))
	}
	mux.HandleFunc("PATCH /api/v1/sales/{id}/status", a.requireAuth(a.handleSaleStatus, RoleClerk, RoleAdmin))

	for _, route := range []struct {
		prefix string
		role   domain.CounterpartyRole
	}{
		{"/api/v1/clients", domain.RoleClient},
		{"/api/v1/suppliers", domain.RoleSupplier},
	} {
		mux.HandleFunc("GET "+route.prefix, a.requireAuth(a.handleListCounterparties(route.role), RoleClerk, RoleAdmin))
		mux.HandleFunc("POST "+route.prefix, a.requireAuth(a.handleCreateCounterparty(route.role), RoleClerk, RoleAdmin))
		mux.HandleFunc("DELETE "+route.prefix+"/{id}", a.requireAuth(a.handleDeleteCounterparty(route.role), RoleAdmin))
	}

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
	if a.health != nil {
		if err := a.health.Ping(r.Context()); err != nil {
			a.fail(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		a.logRequests(next).ServeHTTP(w, r)
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.PathValue("id")), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", r.PathValue("id"))
	}
	return id, nil
}

// fail writes err with the status its sentinel maps to.
func (a *API) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.log.WithError(err).WithField("status", status).Error("request failed")
	}
	writeError(w, status, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic so driver and SQL details never reach clients.
	msg := err.Error()
	switch {
	case status == http.StatusServiceUnavailable:
		msg = "store unavailable"
	case status >= 500:
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
