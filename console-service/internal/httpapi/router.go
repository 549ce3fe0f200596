package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/snapquant/services/console-service/internal/account"
	"github.com/snapquant/services/console-service/internal/checkout"
	"github.com/snapquant/services/console-service/internal/generation"
	"github.com/snapquant/services/console-service/internal/identity"
	"github.com/snapquant/services/console-service/internal/scripts"
	"github.com/snapquant/services/console-service/internal/session"
	sharedauth "github.com/snapquant/services/shared/auth"
	sharederrors "github.com/snapquant/services/shared/errors"
	"github.com/snapquant/services/shared/envconfig"
	"github.com/snapquant/services/shared/logging"
	"github.com/snapquant/services/shared/metrics"
	"github.com/snapquant/services/shared/tier"
)

const (
	serviceTimeout = 8 * time.Second
	settleTimeout  = 5 * time.Second
	maxBodyBytes   = 64 * 1024
	sessionCookie  = "sq_session"
)

// ThemeStore persists the console theme.
type ThemeStore interface {
	SetTheme(ctx context.Context, userID string, theme tier.Theme) error
}

// Dependencies are the collaborators behind the console routes. OIDC and Scripts are optional.
type Dependencies struct {
	Sessions       *session.Registry
	Themes         ThemeStore
	Verifier       sharedauth.Verifier
	OIDC           *identity.Flow
	AllowedDomains []string
	Checkout       *checkout.Completer
	Generator      *generation.Client
	Limiter        *generation.Limiter
	Scripts        scripts.Archive
	Deleter        *account.Deleter
	Recorder       metrics.Recorder
	CookieSecure   bool
}

type api struct {
	deps   Dependencies
	logger *slog.Logger
}

// RegisterRoutes registers page, sign-in and console API routes.
func RegisterRoutes(r chi.Router, deps Dependencies, logger *slog.Logger) {
	if deps.Recorder == nil {
		deps.Recorder = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &api{deps: deps, logger: logger}

	r.Group(func(r chi.Router) {
		r.Use(a.sessionMiddleware)

		r.Get("/", a.page())
		r.Get("/support", a.page())
		r.Get("/login", a.page())
		r.Get("/dashboard", a.page())
		r.Get("/pricing", a.page())
		r.Get(checkout.SuccessPath, a.checkoutSuccess())

		r.Get("/auth/login", a.oidcLogin())
		r.Get("/auth/callback", a.oidcCallback())

		r.Route("/v1", func(r chi.Router) {
			r.Use(middleware.Recoverer)

			r.Get("/session", a.getSession())
			r.Post("/session", a.signIn())
			r.Delete("/session", a.signOut())
			r.Put("/tier", a.selectTier())
			r.Put("/console/theme", a.setTheme())
			r.Get("/templates", a.listTemplates())
			r.Post("/generate", a.generate())
			r.Post("/scripts", a.archiveScript())
			r.With(sharedauth.Middleware(a.deps.Verifier)).Delete("/account", a.deleteAccount())
		})
	})
}

type resolverKey struct{}

// sessionMiddleware binds each request to its existing cookie session, if any.
// Sessions are created by identity events, never by reads.
func (a *api) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
			if res, ok := a.deps.Sessions.Get(c.Value); ok {
				r = r.WithContext(context.WithValue(r.Context(), resolverKey{}, res))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// resolverFrom returns the request's session, or nil when the visitor has none yet.
func resolverFrom(r *http.Request) *session.Resolver {
	res, _ := r.Context().Value(resolverKey{}).(*session.Resolver)
	return res
}

// ensureSession returns the request's session, starting one and issuing its cookie when missing.
func (a *api) ensureSession(w http.ResponseWriter, r *http.Request) *session.Resolver {
	if res := resolverFrom(r); res != nil {
		return res
	}
	id, res := a.deps.Sessions.Create()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.deps.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return res
}

// snapshotOf reports the initial loading state for visitors without a session.
func snapshotOf(res *session.Resolver) session.Snapshot {
	if res == nil {
		return session.Snapshot{}
	}
	return res.Snapshot()
}

// awaitSettled waits for an outstanding tier read so API answers reflect the loaded tier.
func awaitSettled(ctx context.Context, res *session.Resolver) session.Snapshot {
	if res == nil {
		return session.Snapshot{}
	}
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()

	ch, unsubscribe := res.Subscribe()
	defer unsubscribe()
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return res.Snapshot()
			}
			if !snap.TierLoading {
				return snap
			}
		case <-ctx.Done():
			return res.Snapshot()
		}
	}
}

// consoleAccess returns the settled snapshot when the caller may use the console.
func (a *api) consoleAccess(w http.ResponseWriter, r *http.Request) (session.Snapshot, bool) {
	snap := awaitSettled(r.Context(), resolverFrom(r))
	if !snap.SignedIn() {
		writeError(w, r, sharederrors.CodeUnauthorized, "sign in required")
		return snap, false
	}
	if snap.Tier == tier.TierUnset {
		writeError(w, r, sharederrors.CodeForbidden, "choose a plan to use the console")
		return snap, false
	}
	return snap, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, r, sharederrors.CodeBadRequest, "invalid request body")
		return false
	}
	if err := envconfig.Validate(dst); err != nil {
		writeError(w, r, sharederrors.CodeBadRequest, err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, code, message string) {
	sharederrors.Write(w, r, code, message)
}

func logRequestError(ctx context.Context, logger *slog.Logger, message string, err error, userID string) {
	if logger == nil || err == nil {
		return
	}
	logger = logging.FromContext(ctx, logger)
	if errors.Is(err, context.DeadlineExceeded) {
		logger.Warn(message, slog.String("userId", userID), slog.Any("error", err))
		return
	}
	logger.Error(message, slog.String("userId", userID), slog.Any("error", err))
}
