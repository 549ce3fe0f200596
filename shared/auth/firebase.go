package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

const (
	firebaseJWKSURL      = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"
	firebaseIssuerPrefix = "https://securetoken.google.com/"
)

var errMissingSubject = errors.New("token missing subject claim")

// firebaseVerifier validates Firebase Authentication ID tokens using the securetoken JWKS.
type firebaseVerifier struct {
	jwks     *keyfunc.JWKS
	audience string
	issuer   string
}

func newFirebaseVerifier(cfg Config) (Verifier, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("firebase project id is required")
	}

	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		jwksURL = firebaseJWKSURL
	}

	options := keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			slog.Warn("firebase jwks refresh failed", slog.Any("error", err))
		},
	}

	jwks, err := keyfunc.Get(jwksURL, options)
	if err != nil {
		return nil, fmt.Errorf("failed to load JWKS: %w", err)
	}

	return &firebaseVerifier{
		jwks:     jwks,
		audience: cfg.ProjectID,
		issuer:   firebaseIssuerPrefix + cfg.ProjectID,
	}, nil
}

func (v *firebaseVerifier) Verify(_ context.Context, token string) (AuthenticatedUser, error) {
	options := []jwt.ParserOption{
		jwt.WithLeeway(5 * time.Second),
		jwt.WithAudience(v.audience),
		jwt.WithIssuer(v.issuer),
		jwt.WithValidMethods([]string{"RS256"}),
	}

	t, err := jwt.Parse(token, v.jwks.Keyfunc, options...)
	if err != nil {
		return AuthenticatedUser{}, fmt.Errorf("token verification failed: %w", err)
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return AuthenticatedUser{}, errors.New("unexpected claims type")
	}

	return userFromClaims(claims, token)
}

// userFromClaims maps the registered and Firebase/Google profile claims onto an AuthenticatedUser.
func userFromClaims(claims map[string]any, token string) (AuthenticatedUser, error) {
	subject, _ := claims["sub"].(string)
	if subject == "" {
		return AuthenticatedUser{}, errMissingSubject
	}

	user := AuthenticatedUser{UserID: subject, Token: token}
	user.Email, _ = claims["email"].(string)
	user.Name, _ = claims["name"].(string)

	if authTime, ok := numericClaim(claims["auth_time"]); ok {
		user.AuthTime = time.Unix(authTime, 0).UTC()
	} else if issuedAt, ok := numericClaim(claims["iat"]); ok {
		user.AuthTime = time.Unix(issuedAt, 0).UTC()
	}
	if expiresAt, ok := numericClaim(claims["exp"]); ok {
		user.ExpiresAt = expiresAt
	}

	return user, nil
}

func numericClaim(raw any) (int64, bool) {
	switch v := raw.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}
