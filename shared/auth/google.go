package auth

import (
	"context"
	"fmt"

	"google.golang.org/api/idtoken"
)

// googleVerifier validates Google-issued ID tokens for a single OAuth client.
type googleVerifier struct {
	audience string
	validate func(ctx context.Context, token, audience string) (*idtoken.Payload, error)
}

func newGoogleVerifier(cfg Config) (Verifier, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("google client id is required")
	}
	return &googleVerifier{audience: cfg.ClientID, validate: idtoken.Validate}, nil
}

func (v *googleVerifier) Verify(ctx context.Context, token string) (AuthenticatedUser, error) {
	payload, err := v.validate(ctx, token, v.audience)
	if err != nil {
		return AuthenticatedUser{}, fmt.Errorf("token verification failed: %w", err)
	}

	claims := make(map[string]any, len(payload.Claims)+3)
	for k, val := range payload.Claims {
		claims[k] = val
	}
	claims["sub"] = payload.Subject
	claims["exp"] = payload.Expires
	if _, ok := claims["iat"]; !ok {
		claims["iat"] = payload.IssuedAt
	}

	return userFromClaims(claims, token)
}
