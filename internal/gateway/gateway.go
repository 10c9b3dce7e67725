// Package gateway implements the command-dispatch pipeline: an
// http.Handler onion (error boundary -> rate limit -> role loading ->
// authorization -> dispatcher).
package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nodevault/custodian/internal/authz"
	"github.com/nodevault/custodian/internal/crypto"
	domainauthz "github.com/nodevault/custodian/internal/domain/authz"
	"github.com/nodevault/custodian/internal/logging"
	"github.com/nodevault/custodian/internal/metrics"
	"github.com/nodevault/custodian/internal/oplock"
	"github.com/nodevault/custodian/internal/ratelimit"
	"github.com/nodevault/custodian/internal/scheduler"
	"github.com/nodevault/custodian/internal/secretstore"
	"github.com/nodevault/custodian/internal/storage"
	"github.com/nodevault/custodian/internal/swap"
)

type ctxKey string

const (
	ctxPrincipalKey ctxKey = "gateway.principal"
	ctxRoleKey      ctxKey = "gateway.role"
)

// Config wires the gateway's dependencies.
type Config struct {
	Sessions    *SessionManager
	Authz       *authz.Service
	RateLimiter *ratelimit.Limiter
	Swap        *swap.Executor
	Scheduler   *scheduler.Scheduler
	Principals  storage.PrincipalStore
	Secrets     *secretstore.SecretStore
	Imports     *secretstore.ImportSession
	Custody     *crypto.KeyCustody
	Locks       *oplock.Locker
	OwnerID     int64
	Logger      *logging.Logger
	PublicURL   string
}

// Gateway builds the wrapped http.Handler and owns the listening server.
type Gateway struct {
	cfg    Config
	server *http.Server
}

// New builds a Gateway ready to Start.
func New(cfg Config) *Gateway {
	return &Gateway{cfg: cfg}
}

// Handler returns the fully-wrapped onion handler.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	g.registerPublicRoutes(mux)

	authed := http.NewServeMux()
	g.registerAuthedRoutes(authed)

	mux.Handle("/v1/", wrapWithErrorBoundary(
		wrapWithRateLimit(g.cfg.RateLimiter, g.cfg.OwnerID,
			wrapWithRoleLoading(g.cfg.Sessions, g.cfg.Authz, authed)),
		g.cfg.Logger))

	return metrics.InstrumentHandler(mux)
}

// Start begins listening on addr.
func (g *Gateway) Start(addr string) error {
	g.server = &http.Server{
		Addr:         addr,
		Handler:      g.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the swap dispatcher streams frames for as long as the pipeline runs
	}
	go func() {
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			g.cfg.Logger.WithFields(map[string]interface{}{"error": err}).Error("gateway server error")
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	return g.server.Shutdown(ctx)
}

func (g *Gateway) registerPublicRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/secret/", g.handleSecret)
	mux.HandleFunc("/import/", g.handleImport)
	mux.Handle("/metrics", metrics.Handler())
}

func (g *Gateway) registerAuthedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/swap", requireRole(domainauthz.RoleUser, g.handleSwap))
	mux.HandleFunc("/v1/dca/start", requireRole(domainauthz.RoleUser, g.handleDCAStart))
	mux.HandleFunc("/v1/dca/stop", requireRole(domainauthz.RoleUser, g.handleDCAStop))
	mux.HandleFunc("/v1/invites", requireRole(domainauthz.RoleAdmin, g.handleGenerateInvite))
	mux.HandleFunc("/v1/invites/activate", g.handleActivateInvite) // pre-authorization: no role gate
	mux.HandleFunc("/v1/authorized/", requireRole(domainauthz.RoleAdmin, g.handleAuthorizedMutations))
}

// wrapWithErrorBoundary is plugin (1): catch any panic, log it with a
// request id, and return a single generic final response rather than
// unwinding into the caller.
func wrapWithErrorBoundary(next http.Handler, log *logging.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)
		defer func() {
			if rec := recover(); rec != nil {
				if log != nil {
					log.WithFields(map[string]interface{}{"request_id": requestID, "panic": rec}).Error("gateway handler panicked")
				}
				writeError(w, http.StatusInternalServerError, errUnexpected)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// wrapWithRateLimit is plugin (2): the owner identity bypasses the limiter
// entirely; every other caller is keyed by its bearer token.
func wrapWithRateLimit(limiter *ratelimit.Limiter, ownerID int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		tok := extractBearer(r)
		if tok == "" {
			writeError(w, http.StatusUnauthorized, errUnauthorized)
			return
		}
		if claims, err := peekClaimsUnverified(tok); err == nil && claims.PrincipalID == ownerID {
			next.ServeHTTP(w, r)
			return
		}
		if !limiter.CheckAndRecord(tok, time.Now().UnixMilli()) {
			metrics.RecordRateLimitDenied()
			writeError(w, http.StatusTooManyRequests, errRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// wrapWithRoleLoading is plugin (3): resolves the session's role from the
// authorization table and attaches principal+role to the request context.
func wrapWithRoleLoading(sessions *SessionManager, svc *authz.Service, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := extractBearer(r)
		if tok == "" || sessions == nil {
			writeError(w, http.StatusUnauthorized, errUnauthorized)
			return
		}
		claims, err := sessions.Validate(tok)
		if err != nil {
			writeError(w, http.StatusUnauthorized, errUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ctxPrincipalKey, claims.PrincipalID)
		role, ok, err := svc.RoleOf(r.Context(), claims.PrincipalID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, errUnexpected)
			return
		}
		if ok {
			ctx = context.WithValue(ctx, ctxRoleKey, role)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole is plugin (4), applied per-route: the resolved role must be
// able to reach at least `minRole`'s rank, or the request is rejected with
// permission-denied.
func requireRole(minRole domainauthz.Role, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role, ok := r.Context().Value(ctxRoleKey).(domainauthz.Role)
		if !ok {
			writeError(w, http.StatusForbidden, errPermissionDenied)
			return
		}
		if role != minRole && !role.Outranks(minRole) {
			writeError(w, http.StatusForbidden, errPermissionDenied)
			return
		}
		next(w, r)
	}
}

func principalFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ctxPrincipalKey).(int64)
	return id, ok
}

func extractBearer(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.Fields(h)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// peekClaimsUnverified reads the PrincipalID claim without verifying the
// signature, used only for the owner-bypass fast path in the rate limiter;
// the role-loading stage downstream always verifies the signature before
// trusting the identity for anything else.
func peekClaimsUnverified(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, _, err := newUnverifiedParser().ParseUnverified(tokenString, claims)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
