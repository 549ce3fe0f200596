// Package identity runs the server-side OpenID Connect sign-in.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	cv "github.com/nirasan/go-oauth-pkce-code-verifier"
	"github.com/thanhpk/randstr"
	"golang.org/x/oauth2"

	"github.com/snapquant/services/console-service/internal/session"
)

const (
	stateCookie    = "sq_oidc_state"
	verifierCookie = "sq_oidc_verifier"
	nextCookie     = "sq_oidc_next"
	cookiePath     = "/auth"
	flowTTL        = 10 * time.Minute
)

var (
	// ErrStateMismatch is returned when the callback does not belong to a login we started.
	ErrStateMismatch = errors.New("oidc state mismatch")
	// ErrProvider wraps an error reported by the provider on the callback.
	ErrProvider = errors.New("identity provider error")
)

// Config wires the OIDC client.
type Config struct {
	Issuer         string
	ClientID       string
	ClientSecret   string
	RedirectURL    string
	AllowedDomains []string
	CookieSecure   bool
}

// Flow implements login redirect and callback with PKCE.
type Flow struct {
	oauth    oauth2.Config
	verifier *oidc.IDTokenVerifier
	domains  []string
	secure   bool
}

// Result is a completed sign-in.
type Result struct {
	Identity session.Identity
	Next     string
}

// NewFlow discovers the provider configuration at cfg.Issuer.
func NewFlow(ctx context.Context, cfg Config) (*Flow, error) {
	if cfg.Issuer == "" || cfg.ClientID == "" || cfg.RedirectURL == "" {
		return nil, errors.New("oidc issuer, client id and redirect url are required")
	}
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("init oidc provider: %w", err)
	}
	return &Flow{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		domains:  normaliseDomains(cfg.AllowedDomains),
		secure:   cfg.CookieSecure,
	}, nil
}

// Begin stores state and the PKCE verifier in short-lived cookies and returns the provider URL.
func (f *Flow) Begin(w http.ResponseWriter, next string) (string, error) {
	codeVerifier, err := cv.CreateCodeVerifier()
	if err != nil {
		return "", fmt.Errorf("create code verifier: %w", err)
	}
	state := randstr.Hex(16)

	f.setCookie(w, stateCookie, state, flowTTL)
	f.setCookie(w, verifierCookie, codeVerifier.String(), flowTTL)
	if next != "" {
		f.setCookie(w, nextCookie, next, flowTTL)
	}

	return f.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", codeVerifier.CodeChallengeS256()),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	), nil
}

// Finish validates the callback, exchanges the code and verifies the ID token.
// Flow cookies are cleared whatever the outcome.
func (f *Flow) Finish(ctx context.Context, w http.ResponseWriter, r *http.Request) (Result, error) {
	defer f.clearCookies(w)

	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		if providerErr == "access_denied" {
			return Result{}, session.ErrPopupClosed
		}
		return Result{}, fmt.Errorf("%w: %s", ErrProvider, providerErr)
	}

	state, err := r.Cookie(stateCookie)
	if err != nil || state.Value == "" || state.Value != q.Get("state") {
		return Result{}, ErrStateMismatch
	}
	codeVerifier, err := r.Cookie(verifierCookie)
	if err != nil || codeVerifier.Value == "" {
		return Result{}, ErrStateMismatch
	}

	token, err := f.oauth.Exchange(ctx, q.Get("code"), oauth2.SetAuthURLParam("code_verifier", codeVerifier.Value))
	if err != nil {
		return Result{}, fmt.Errorf("exchange code: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return Result{}, errors.New("token response missing id_token")
	}
	idToken, err := f.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return Result{}, fmt.Errorf("verify id token: %w", err)
	}

	var claims struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		AuthTime int64  `json:"auth_time"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return Result{}, fmt.Errorf("decode claims: %w", err)
	}
	if !DomainAllowed(claims.Email, f.domains) {
		return Result{}, session.ErrDomainNotAllowed
	}

	authTime := idToken.IssuedAt
	if claims.AuthTime > 0 {
		authTime = time.Unix(claims.AuthTime, 0)
	}

	res := Result{Identity: session.Identity{
		UserID:   idToken.Subject,
		Email:    claims.Email,
		Name:     claims.Name,
		AuthTime: authTime.UTC(),
	}}
	if next, err := r.Cookie(nextCookie); err == nil {
		res.Next = next.Value
	}
	return res, nil
}

// DomainAllowed reports whether email belongs to one of domains. An empty list allows everyone.
func DomainAllowed(email string, domains []string) bool {
	if len(domains) == 0 {
		return true
	}
	_, domain, ok := strings.Cut(strings.ToLower(strings.TrimSpace(email)), "@")
	if !ok {
		return false
	}
	for _, d := range domains {
		if domain == strings.ToLower(d) {
			return true
		}
	}
	return false
}

func normaliseDomains(domains []string) []string {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		if d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "@")); d != "" {
			out = append(out, d)
		}
	}
	return out
}

func (f *Flow) setCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     cookiePath,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   f.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (f *Flow) clearCookies(w http.ResponseWriter) {
	for _, name := range []string{stateCookie, verifierCookie, nextCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     cookiePath,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   f.secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}
