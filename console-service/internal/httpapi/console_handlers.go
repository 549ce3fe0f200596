package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/snapquant/services/console-service/internal/account"
	"github.com/snapquant/services/console-service/internal/generation"
	"github.com/snapquant/services/console-service/internal/scripts"
	sharedauth "github.com/snapquant/services/shared/auth"
	sharederrors "github.com/snapquant/services/shared/errors"
	"github.com/snapquant/services/shared/tier"
)

const generateTimeout = 45 * time.Second

func (a *api) listTemplates() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := a.consoleAccess(w, r); !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"templates": generation.Templates()})
	}
}

type generateResponse struct {
	Response string `json:"response"`
	Code     string `json:"code"`
	Failed   bool   `json:"failed"`
}

// generate always answers 200 once admitted; backend failures come back as the sentinel text.
func (a *api) generate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generation.Request
		if !decodeJSON(w, r, &req) {
			return
		}
		if _, err := req.Conversation(); err != nil {
			writeError(w, r, sharederrors.CodeBadRequest, err.Error())
			return
		}

		snap, ok := a.consoleAccess(w, r)
		if !ok {
			return
		}
		refund := func() {}
		if a.deps.Limiter != nil {
			allowed, retryAfter, release := a.deps.Limiter.Allow(snap.Identity.UserID, snap.Tier)
			if !allowed {
				a.logger.Warn("rate limit exceeded",
					slog.String("userId", snap.Identity.UserID),
					slog.String("tier", string(snap.Tier)),
					slog.String("limitType", "generation"))
				writeRateLimitResponse(w, r, retryAfter)
				return
			}
			refund = release
		}

		ctx, cancel := context.WithTimeout(r.Context(), generateTimeout)
		defer cancel()

		text := a.deps.Generator.Generate(ctx, req)
		if generation.IsError(text) {
			// Failed generations do not count against the weekly quota.
			refund()
			writeJSON(w, http.StatusOK, generateResponse{Response: text, Code: text, Failed: true})
			return
		}
		writeJSON(w, http.StatusOK, generateResponse{Response: text, Code: generation.ExtractCode(text)})
	}
}

func writeRateLimitResponse(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeError(w, r, sharederrors.CodeRateLimited, "weekly generation limit reached; upgrade to pro for unlimited generations")
}

func (a *api) archiveScript() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.deps.Scripts == nil {
			writeError(w, r, sharederrors.CodeNotFound, "script archive is not enabled")
			return
		}
		var body struct {
			Prompt string `json:"prompt" validate:"max=8000"`
			Code   string `json:"code" validate:"required,max=60000"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		if generation.IsError(body.Code) {
			writeError(w, r, sharederrors.CodeBadRequest, "cannot archive a failed generation")
			return
		}

		snap, ok := a.consoleAccess(w, r)
		if !ok {
			return
		}
		if snap.Tier != tier.TierPro {
			writeError(w, r, sharederrors.CodeForbidden, "saving scripts requires the pro plan")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), serviceTimeout)
		defer cancel()

		userID := snap.Identity.UserID
		saved, err := a.deps.Scripts.Save(ctx, userID, scripts.Title(body.Prompt, time.Now()), body.Code)
		if errors.Is(err, scripts.ErrEmptyScript) {
			writeError(w, r, sharederrors.CodeBadRequest, err.Error())
			return
		}
		if err != nil {
			logRequestError(r.Context(), a.logger, "failed to archive script", err, userID)
			writeError(w, r, sharederrors.CodeInternal, "failed to save script")
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	}
}

// deleteAccount requires a freshly presented bearer token so the recent-login check sees its auth_time.
func (a *api) deleteAccount() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		verified, ok := sharedauth.UserFromContext(r.Context())
		if !ok {
			writeError(w, r, sharederrors.CodeUnauthorized, "sign in required")
			return
		}
		res := resolverFrom(r)
		if snap := snapshotOf(res); snap.SignedIn() && snap.Identity.UserID != verified.UserID {
			writeError(w, r, sharederrors.CodeForbidden, "token does not match the signed-in user")
			return
		}
		user := account.User{ID: verified.UserID, AuthTime: verified.AuthTime}

		err := a.deps.Deleter.Delete(r.Context(), user)
		switch {
		case err == nil:
			if res != nil {
				res.HandleIdentity(nil)
			}
			writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
		case errors.Is(err, account.ErrRequiresRecentLogin):
			writeError(w, r, sharederrors.CodeRequiresRecentLogin, "For security, please sign in again and then retry deleting your account.")
		default:
			logRequestError(r.Context(), a.logger, "account deletion failed", err, user.ID)
			writeError(w, r, sharederrors.CodeInternal, "We could not delete your account. Please contact support.")
		}
	}
}
