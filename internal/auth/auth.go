// Package auth verifies device principals during the authenticating
// phase of a session.
package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUnknownPrincipal  = errors.New("unknown principal")
	ErrInactivePrincipal = errors.New("inactive principal")
	ErrBadCredential     = errors.New("bad credential")
)

// Principal is a known identity.
type Principal struct {
	Username     string
	PasswordHash string
	Active       bool
}

// Store looks principals up and checks credentials. FindPrincipal returns
// ErrUnknownPrincipal when nothing matches.
type Store interface {
	FindPrincipal(ctx context.Context, username string) (*Principal, error)
	Verify(p *Principal, credential string) bool
	IsActive(p *Principal) bool
}

// Authenticate checks an in-band username and password.
func Authenticate(ctx context.Context, s Store, username, password string) (*Principal, error) {
	p, err := find(ctx, s, username)
	if err != nil {
		return nil, err
	}
	if !s.Verify(p, password) {
		return nil, fmt.Errorf("%s: %w", username, ErrBadCredential)
	}
	return p, nil
}

// AuthenticateCert accepts a client certificate common name that has
// already been verified by the TLS handshake.
func AuthenticateCert(ctx context.Context, s Store, commonName string) (*Principal, error) {
	return find(ctx, s, commonName)
}

func find(ctx context.Context, s Store, username string) (*Principal, error) {
	if username == "" {
		return nil, ErrUnknownPrincipal
	}
	p, err := s.FindPrincipal(ctx, username)
	if err != nil {
		return nil, err
	}
	if !s.IsActive(p) {
		return nil, fmt.Errorf("%s: %w", username, ErrInactivePrincipal)
	}
	return p, nil
}

// HashPassword returns the bcrypt hash stored for a principal.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// checkPassword is the Verify shared by the stores.
func checkPassword(p *Principal, credential string) bool {
	if p == nil || p.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(credential)) == nil
}
