// internal/session/session.go
// Session collaborator: supplies the bearer credential and the current user id.
// The realtime core consumes this interface only; it never owns session state.

package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrExpiredCredential = errors.New("session: credential is expired")
	ErrMissingSubject    = errors.New("session: credential has no user id")
)

// Store exposes the two pieces of session state the core needs.
type Store interface {
	// Credential returns the bearer token used for the transport handshake.
	Credential() string

	// CurrentUserID returns the authenticated user's id.
	CurrentUserID() string
}

// JWTStore derives the current user id from the bearer token's claims. The
// server verifies the signature during the handshake; the client only reads
// claims, so the token is parsed without verification.
type JWTStore struct {
	token  string
	userID string
	expiry time.Time
}

// NewJWTStore parses the bearer token. An already-expired token is rejected
// up front: dialing with it would only produce a fatal handshake error.
func NewJWTStore(token string) (*JWTStore, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("session: parse credential: %w", err)
	}

	userID := claimString(claims, "user_id")
	if userID == "" {
		userID = claimString(claims, "sub")
	}
	if userID == "" {
		return nil, ErrMissingSubject
	}

	s := &JWTStore{token: token, userID: userID}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		s.expiry = exp.Time
		if time.Now().After(s.expiry) {
			return nil, ErrExpiredCredential
		}
	}

	return s, nil
}

func (s *JWTStore) Credential() string {
	return s.token
}

func (s *JWTStore) CurrentUserID() string {
	return s.userID
}

// ExpiresAt returns the credential expiry, zero if the token carries none.
func (s *JWTStore) ExpiresAt() time.Time {
	return s.expiry
}

func claimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

// StaticStore is a fixed credential/user pair, used by tests and by callers
// whose session system issues opaque tokens.
type StaticStore struct {
	Token  string
	UserID string
}

func (s StaticStore) Credential() string    { return s.Token }
func (s StaticStore) CurrentUserID() string { return s.UserID }
