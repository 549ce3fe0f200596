package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/snapquant/services/console-service/internal/session"
)

type fakeProvider struct {
	server    *httptest.Server
	key       *rsa.PrivateKey
	email     string
	challenge string
}

func newFakeProvider(t *testing.T, email string) *fakeProvider {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	p := &fakeProvider{key: key, email: email}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                                p.server.URL,
			"authorization_endpoint":                p.server.URL + "/authorize",
			"token_endpoint":                        p.server.URL + "/token",
			"jwks_uri":                              p.server.URL + "/keys",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": "test-key",
				"alg": "RS256",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
		if base64.RawURLEncoding.EncodeToString(sum[:]) != p.challenge {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     p.idToken(t),
		})
	})
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) idToken(t *testing.T) string {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":       p.server.URL,
		"sub":       "google-uid-7",
		"aud":       "snapquant-client",
		"iat":       now.Unix(),
		"exp":       now.Add(time.Hour).Unix(),
		"auth_time": now.Add(-time.Minute).Unix(),
		"email":     p.email,
		"name":      "Quant Trader",
	})
	token.Header["kid"] = "test-key"
	signed, err := token.SignedString(p.key)
	if err != nil {
		t.Fatalf("sign id token: %v", err)
	}
	return signed
}

func newFlow(t *testing.T, p *fakeProvider, domains ...string) *Flow {
	t.Helper()
	flow, err := NewFlow(context.Background(), Config{
		Issuer:         p.server.URL,
		ClientID:       "snapquant-client",
		ClientSecret:   "secret",
		RedirectURL:    "https://console.example/auth/callback",
		AllowedDomains: domains,
	})
	if err != nil {
		t.Fatalf("NewFlow returned error: %v", err)
	}
	return flow
}

// begin runs the login redirect and returns the callback request the provider would send back.
func begin(t *testing.T, flow *Flow, p *fakeProvider, next string) *http.Request {
	t.Helper()
	rec := httptest.NewRecorder()
	authURL, err := flow.Begin(rec, next)
	if err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	if u.Query().Get("code_challenge_method") != "S256" {
		t.Fatalf("expected PKCE S256, got %q", authURL)
	}
	p.challenge = u.Query().Get("code_challenge")

	cb := httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc&state="+url.QueryEscape(u.Query().Get("state")), nil)
	for _, c := range rec.Result().Cookies() {
		cb.AddCookie(c)
	}
	return cb
}

func TestFlowSignsIn(t *testing.T) {
	p := newFakeProvider(t, "quant@snapquant.io")
	flow := newFlow(t, p, "@SnapQuant.io")

	cb := begin(t, flow, p, "/checkout/success?checkout_id=abc123")
	rec := httptest.NewRecorder()
	res, err := flow.Finish(context.Background(), rec, cb)
	if err != nil {
		t.Fatalf("Finish returned error: %v", err)
	}
	if res.Identity.UserID != "google-uid-7" || res.Identity.Email != "quant@snapquant.io" || res.Identity.Name != "Quant Trader" {
		t.Fatalf("unexpected identity %+v", res.Identity)
	}
	if res.Identity.AuthTime.IsZero() {
		t.Fatal("expected auth time")
	}
	if res.Next != "/checkout/success?checkout_id=abc123" {
		t.Fatalf("unexpected next %q", res.Next)
	}
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge >= 0 {
			t.Fatalf("expected flow cookie %s to be cleared", c.Name)
		}
	}
}

func TestFlowRejectsDisallowedDomain(t *testing.T) {
	p := newFakeProvider(t, "someone@gmail.com")
	flow := newFlow(t, p, "snapquant.io")

	_, err := flow.Finish(context.Background(), httptest.NewRecorder(), begin(t, flow, p, ""))
	if !errors.Is(err, session.ErrDomainNotAllowed) {
		t.Fatalf("expected ErrDomainNotAllowed, got %v", err)
	}
}

func TestFlowCallbackErrors(t *testing.T) {
	p := newFakeProvider(t, "quant@snapquant.io")
	flow := newFlow(t, p)

	denied := httptest.NewRequest(http.MethodGet, "/auth/callback?error=access_denied", nil)
	if _, err := flow.Finish(context.Background(), httptest.NewRecorder(), denied); !errors.Is(err, session.ErrPopupClosed) {
		t.Fatalf("expected ErrPopupClosed, got %v", err)
	}

	other := httptest.NewRequest(http.MethodGet, "/auth/callback?error=server_error", nil)
	if _, err := flow.Finish(context.Background(), httptest.NewRecorder(), other); !errors.Is(err, ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}

	forged := httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc&state=forged", nil)
	if _, err := flow.Finish(context.Background(), httptest.NewRecorder(), forged); !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("expected ErrStateMismatch, got %v", err)
	}
}

func TestDomainAllowed(t *testing.T) {
	if !DomainAllowed("a@b.com", nil) {
		t.Fatal("empty allow list must allow everyone")
	}
	if DomainAllowed("not-an-email", []string{"b.com"}) {
		t.Fatal("address without domain must be rejected")
	}
	if !DomainAllowed("A@B.COM", []string{"b.com"}) {
		t.Fatal("domain match must be case-insensitive")
	}
}
