package auth

import (
	"context"
	"errors"
	"strings"
	"time"
)

type noopVerifier struct{}

func newNoopVerifier(_ Config) Verifier {
	return noopVerifier{}
}

// Verify accepts "<uid>" or "<uid>:<email>" so local runs can exercise email-keyed flows.
func (noopVerifier) Verify(_ context.Context, token string) (AuthenticatedUser, error) {
	if token == "" {
		return AuthenticatedUser{}, errors.New("token must not be empty")
	}
	userID, email, _ := strings.Cut(token, ":")
	return AuthenticatedUser{
		UserID:   userID,
		Email:    email,
		AuthTime: time.Now().UTC(),
		Token:    token,
	}, nil
}
