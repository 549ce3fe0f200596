package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/snapquant/services/console-service/internal/identity"
	"github.com/snapquant/services/console-service/internal/session"
	sharedauth "github.com/snapquant/services/shared/auth"
	sharederrors "github.com/snapquant/services/shared/errors"
	"github.com/snapquant/services/shared/tier"
)

func (a *api) getSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, snapshotOf(resolverFrom(r)))
	}
}

// signIn turns a verified Identity Provider token into an identity event for this session.
func (a *api) signIn() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := sharedauth.TokenFromRequest(r)
		if err != nil {
			writeError(w, r, sharederrors.CodeUnauthorized, err.Error())
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), serviceTimeout)
		defer cancel()

		user, err := a.deps.Verifier.Verify(ctx, token)
		if err != nil {
			logRequestError(r.Context(), a.logger, "token verification failed", err, "")
			writeJSON(w, http.StatusUnauthorized, session.ClassifyAuthError(err))
			return
		}
		if !identity.DomainAllowed(user.Email, a.deps.AllowedDomains) {
			a.logger.Warn("sign-in rejected", slog.String("userId", user.UserID), slog.String("reason", "domain"))
			writeJSON(w, http.StatusForbidden, session.ClassifyAuthError(session.ErrDomainNotAllowed))
			return
		}

		res := a.ensureSession(w, r)
		res.HandleIdentity(&session.Identity{
			UserID:   user.UserID,
			Email:    user.Email,
			Name:     user.Name,
			AuthTime: user.AuthTime,
		})
		writeJSON(w, http.StatusOK, awaitSettled(r.Context(), res))
	}
}

func (a *api) signOut() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := a.ensureSession(w, r)
		res.HandleIdentity(nil)
		writeJSON(w, http.StatusOK, res.Snapshot())
	}
}

func (a *api) selectTier() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Tier string `json:"tier" validate:"required"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		t, err := tier.ParseTier(body.Tier)
		if err != nil {
			writeError(w, r, sharederrors.CodeBadRequest, err.Error())
			return
		}

		res := resolverFrom(r)
		if res == nil {
			writeError(w, r, sharederrors.CodeUnauthorized, "sign in required")
			return
		}
		awaitSettled(r.Context(), res)

		switch err := res.ApplyTierChange(t); {
		case err == nil:
			writeJSON(w, http.StatusAccepted, res.Snapshot())
		case errors.Is(err, session.ErrSignedOut):
			writeError(w, r, sharederrors.CodeUnauthorized, "sign in required")
		case errors.Is(err, tier.ErrCheckoutRequired):
			writeError(w, r, sharederrors.CodeConflict, "the pro plan is activated through checkout")
		default:
			writeError(w, r, sharederrors.CodeBadRequest, err.Error())
		}
	}
}

func (a *api) setTheme() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Theme string `json:"theme" validate:"required"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		theme, err := tier.ParseTheme(body.Theme)
		if err != nil {
			writeError(w, r, sharederrors.CodeBadRequest, err.Error())
			return
		}

		snap, ok := a.consoleAccess(w, r)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), serviceTimeout)
		defer cancel()

		if err := a.deps.Themes.SetTheme(ctx, snap.Identity.UserID, theme); err != nil {
			logRequestError(r.Context(), a.logger, "failed to save console theme", err, snap.Identity.UserID)
			writeError(w, r, sharederrors.CodeInternal, "failed to save console theme")
			return
		}
		res := resolverFrom(r)
		res.ApplyTheme(theme)
		writeJSON(w, http.StatusOK, res.Snapshot())
	}
}
