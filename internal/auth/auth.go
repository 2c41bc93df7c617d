// Package auth validates opaque bearer tokens of the form
// "<tokenID>.<secret>" against a pluggable credential store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Reason classifies a credential rejection.
type Reason string

const (
	ReasonNotFound      Reason = "not_found"
	ReasonRevoked       Reason = "revoked"
	ReasonExpired       Reason = "expired"
	ReasonInvalidSecret Reason = "invalid_secret"
)

// Failure is a tagged credential rejection. Infrastructure problems
// (store unreachable, etc.) are returned as ordinary errors instead, so
// callers can keep "credentials wrong" and "backend down" apart.
type Failure struct {
	Reason Reason
}

func (f *Failure) Error() string {
	return fmt.Sprintf("auth: token rejected (%s)", f.Reason)
}

// AsFailure unwraps err into a *Failure if it carries one.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// Grant is the result of a successful validation.
type Grant struct {
	Identity  string
	Scopes    []string
	ExpiresAt time.Time // zero means no expiry
}

// Authenticator validates an opaque bearer token.
type Authenticator interface {
	Validate(ctx context.Context, token string) (*Grant, error)
}

// Record is one stored credential. The secret is held only as an argon2id
// hash with its salt.
type Record struct {
	ID         string
	SecretHash []byte
	Salt       []byte
	Scopes     []string
	ExpiresAt  time.Time // zero means no expiry
	Revoked    bool
}

// ErrTokenNotFound is returned by stores for unknown token ids.
var ErrTokenNotFound = errors.New("auth: token not found")

// Store is the minimal credential store interface. Implementations may be
// in-memory (local dev) or backed by Redis.
type Store interface {
	Lookup(ctx context.Context, tokenID string) (*Record, error)
	Put(ctx context.Context, rec *Record) error
	Revoke(ctx context.Context, tokenID string) error
}

// StoreAuthenticator validates "<tokenID>.<secret>" tokens against a Store.
type StoreAuthenticator struct {
	store Store
	now   func() time.Time
}

func NewStoreAuthenticator(store Store) *StoreAuthenticator {
	return &StoreAuthenticator{store: store, now: time.Now}
}

// WithClock overrides the wall clock, for tests.
func (a *StoreAuthenticator) WithClock(now func() time.Time) *StoreAuthenticator {
	a.now = now
	return a
}

func (a *StoreAuthenticator) Validate(ctx context.Context, token string) (*Grant, error) {
	id, secret, ok := strings.Cut(token, ".")
	if !ok || id == "" || secret == "" {
		return nil, &Failure{Reason: ReasonNotFound}
	}

	rec, err := a.store.Lookup(ctx, id)
	if errors.Is(err, ErrTokenNotFound) {
		return nil, &Failure{Reason: ReasonNotFound}
	}
	if err != nil {
		return nil, fmt.Errorf("auth: store lookup: %w", err)
	}

	if rec.Revoked {
		return nil, &Failure{Reason: ReasonRevoked}
	}
	if !rec.ExpiresAt.IsZero() && a.now().After(rec.ExpiresAt) {
		return nil, &Failure{Reason: ReasonExpired}
	}
	if !VerifySecret(secret, rec.Salt, rec.SecretHash) {
		return nil, &Failure{Reason: ReasonInvalidSecret}
	}

	return &Grant{
		Identity:  rec.ID,
		Scopes:    append([]string(nil), rec.Scopes...),
		ExpiresAt: rec.ExpiresAt,
	}, nil
}
