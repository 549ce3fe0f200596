package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/snapquant/services/console-service/internal/checkout"
	"github.com/snapquant/services/console-service/internal/generation"
	"github.com/snapquant/services/console-service/internal/route"
	"github.com/snapquant/services/console-service/internal/session"
	sharederrors "github.com/snapquant/services/shared/errors"
)

// view is the JSON view model the single-page app renders.
type view struct {
	View        string                `json:"view"`
	Decision    *route.Decision       `json:"decision,omitempty"`
	Session     *session.Snapshot     `json:"session,omitempty"`
	Templates   []generation.Template `json:"templates,omitempty"`
	AuthFailure *session.AuthFailure  `json:"authFailure,omitempty"`
	Next        string                `json:"next,omitempty"`
	Checkout    *checkout.Result      `json:"checkout,omitempty"`
}

var loadingView = view{View: "loading"}

func viewName(d route.Destination) string {
	switch d {
	case route.Home:
		return "home"
	case route.Dashboard:
		return "console"
	default:
		return string(d)[1:]
	}
}

// page answers a guarded page: 303 for redirects, 202 while loading, 200 with the view model otherwise.
func (a *api) page() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dest, ok := route.ParseDestination(r.URL.Path)
		if !ok {
			writeError(w, r, sharederrors.CodeNotFound, "page not found")
			return
		}

		snap := snapshotOf(resolverFrom(r))
		decision := route.Decide(snap, dest)
		a.deps.Recorder.RouteDecision(string(dest), string(decision.Outcome))

		next := checkout.SafeNext(r.URL.Query().Get("next"))

		switch decision.Outcome {
		case route.OutcomeLoading:
			writeJSON(w, http.StatusAccepted, loadingView)
		case route.OutcomeRedirect:
			target := string(decision.RedirectTo)
			// A signed-in visitor coming back from a paid checkout resumes it.
			if dest == route.Login && next != "" {
				target = next
			}
			http.Redirect(w, r, target, http.StatusSeeOther)
		default:
			v := view{View: viewName(dest), Decision: &decision, Session: &snap}
			switch dest {
			case route.Dashboard:
				v.Templates = generation.Templates()
			case route.Login:
				v.Next = next
				if kind := r.URL.Query().Get("auth_error"); kind != "" {
					failure := authFailureFor(kind)
					v.AuthFailure = &failure
				}
			}
			writeJSON(w, http.StatusOK, v)
		}
	}
}

func authFailureFor(kind string) session.AuthFailure {
	switch session.AuthFailureKind(kind) {
	case session.AuthFailurePopupClosed:
		return session.ClassifyAuthError(session.ErrPopupClosed)
	case session.AuthFailureDomainNotAllowed:
		return session.ClassifyAuthError(session.ErrDomainNotAllowed)
	default:
		return session.ClassifyAuthError(nil)
	}
}

func (a *api) checkoutSuccess() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := resolverFrom(r)
		if res == nil {
			writeJSON(w, http.StatusAccepted, loadingView)
			return
		}
		// The tier read must not race the checkout write.
		awaitSettled(r.Context(), res)

		ctx, cancel := context.WithTimeout(r.Context(), serviceTimeout)
		defer cancel()

		result := a.deps.Checkout.Complete(ctx, res, r.URL.Query().Get("checkout_id"))
		switch result.State {
		case checkout.StateLoading:
			writeJSON(w, http.StatusAccepted, loadingView)
		case checkout.StateRedirectLogin, checkout.StateRedirectConsole:
			http.Redirect(w, r, result.RedirectTo, http.StatusSeeOther)
		case checkout.StateSuccess:
			writeJSON(w, http.StatusOK, view{View: "checkout_success", Checkout: &result})
		default:
			writeJSON(w, http.StatusOK, view{View: "checkout_error", Checkout: &result})
		}
	}
}

func (a *api) oidcLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.deps.OIDC == nil {
			writeError(w, r, sharederrors.CodeNotFound, "server-side sign-in is not enabled")
			return
		}
		authURL, err := a.deps.OIDC.Begin(w, checkout.SafeNext(r.URL.Query().Get("next")))
		if err != nil {
			logRequestError(r.Context(), a.logger, "failed to start sign-in", err, "")
			writeError(w, r, sharederrors.CodeInternal, "failed to start sign-in")
			return
		}
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// oidcCallback completes sign-in. Failures leave the session untouched and return to the login page.
func (a *api) oidcCallback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.deps.OIDC == nil {
			writeError(w, r, sharederrors.CodeNotFound, "server-side sign-in is not enabled")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), serviceTimeout)
		defer cancel()

		result, err := a.deps.OIDC.Finish(ctx, w, r)
		if err != nil {
			failure := session.ClassifyAuthError(err)
			a.logger.Warn("sign-in failed",
				slog.String("kind", string(failure.Kind)),
				slog.Any("error", err))
			http.Redirect(w, r, "/login?auth_error="+string(failure.Kind), http.StatusSeeOther)
			return
		}

		a.ensureSession(w, r).HandleIdentity(&result.Identity)
		a.logger.Info("user signed in", slog.String("userId", result.Identity.UserID), slog.String("method", "oidc"))

		target := "/login"
		if next := checkout.SafeNext(result.Next); next != "" {
			target = next
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
	}
}
