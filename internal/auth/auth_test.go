package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStoreAuthenticatorHappyPath(t *testing.T) {
	store := NewMemoryStore()
	token := store.Seed("tok1", "secretabc1", []string{"read", "write"}, time.Time{})

	a := NewStoreAuthenticator(store)
	grant, err := a.Validate(context.Background(), token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if grant.Identity != "tok1" {
		t.Fatalf("Identity=%q, want tok1", grant.Identity)
	}
	if len(grant.Scopes) != 2 {
		t.Fatalf("Scopes=%v, want 2 entries", grant.Scopes)
	}
}

func TestStoreAuthenticatorNotFound(t *testing.T) {
	a := NewStoreAuthenticator(NewMemoryStore())

	for _, token := range []string{"missing.secret", "noseparator", "tok1.", ".secret"} {
		_, err := a.Validate(context.Background(), token)
		f, ok := AsFailure(err)
		if !ok {
			t.Fatalf("token %q: expected *Failure, got %v", token, err)
		}
		if f.Reason != ReasonNotFound {
			t.Fatalf("token %q: reason=%s, want %s", token, f.Reason, ReasonNotFound)
		}
	}
}

func TestStoreAuthenticatorInvalidSecret(t *testing.T) {
	store := NewMemoryStore()
	store.Seed("tok1", "rightsecret", []string{"read"}, time.Time{})

	a := NewStoreAuthenticator(store)
	_, err := a.Validate(context.Background(), "tok1.wrongsecret")
	f, ok := AsFailure(err)
	if !ok || f.Reason != ReasonInvalidSecret {
		t.Fatalf("expected invalid_secret failure, got %v", err)
	}
}

func TestStoreAuthenticatorRevoked(t *testing.T) {
	store := NewMemoryStore()
	token := store.Seed("tok1", "secretabc1", []string{"read"}, time.Time{})
	if err := store.Revoke(context.Background(), "tok1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	a := NewStoreAuthenticator(store)
	_, err := a.Validate(context.Background(), token)
	f, ok := AsFailure(err)
	if !ok || f.Reason != ReasonRevoked {
		t.Fatalf("expected revoked failure, got %v", err)
	}
}

func TestStoreAuthenticatorExpired(t *testing.T) {
	store := NewMemoryStore()
	expires := time.Now().Add(time.Hour)
	token := store.Seed("tok1", "secretabc1", []string{"read"}, expires)

	a := NewStoreAuthenticator(store).WithClock(func() time.Time {
		return expires.Add(time.Minute)
	})
	_, err := a.Validate(context.Background(), token)
	f, ok := AsFailure(err)
	if !ok || f.Reason != ReasonExpired {
		t.Fatalf("expected expired failure, got %v", err)
	}
}

func TestMemoryStoreRevokeUnknown(t *testing.T) {
	err := NewMemoryStore().Revoke(context.Background(), "nope")
	if !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestHashSecretVerify(t *testing.T) {
	salt := NewSalt()
	hash := HashSecret("s3cret", salt)

	if !VerifySecret("s3cret", salt, hash) {
		t.Fatalf("VerifySecret rejected the right secret")
	}
	if VerifySecret("other", salt, hash) {
		t.Fatalf("VerifySecret accepted the wrong secret")
	}
	if VerifySecret("s3cret", nil, hash) {
		t.Fatalf("VerifySecret accepted an empty salt")
	}
}
