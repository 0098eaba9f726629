// Package identity turns a user-supplied email into a stable, durable
// profile. Resolution is an idempotent upsert: resolving the same email
// twice never duplicates a profile, and the latest non-empty companion
// name wins.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/calmind-app/calmind/internal/storage"
)

var (
	// ErrInvalidIdentity is returned for emails that cannot serve as an
	// identity key. The caller should re-prompt.
	ErrInvalidIdentity = errors.New("invalid identity")

	// ErrStoreUnavailable is returned when the backing profile store cannot
	// be reached. The caller may retry or continue in a local-only session.
	ErrStoreUnavailable = errors.New("identity store unavailable")
)

// ProfileStore is the slice of the storage layer the resolver needs.
// Implemented by storage.Store.
type ProfileStore interface {
	UpsertProfile(email, companionName string) (storage.Profile, bool, error)
}

// Resolver resolves emails to profiles against a ProfileStore.
type Resolver struct {
	store ProfileStore
}

// NewResolver creates a Resolver backed by store.
func NewResolver(store ProfileStore) *Resolver {
	return &Resolver{store: store}
}

// Normalize trims and lowercases an email for use as an identity key.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Resolve normalizes email and upserts the profile, applying desiredName
// when non-empty. The returned bool reports whether the profile already
// existed before this call (an existing remote profile with a name lets
// the session skip the naming step).
func (r *Resolver) Resolve(ctx context.Context, email, desiredName string) (storage.Profile, bool, error) {
	norm := Normalize(email)
	if err := validate(norm); err != nil {
		return storage.Profile{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return storage.Profile{}, false, err
	}

	p, existed, err := r.store.UpsertProfile(norm, strings.TrimSpace(desiredName))
	if err != nil {
		return storage.Profile{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return p, existed, nil
}

func validate(email string) error {
	if email == "" {
		return fmt.Errorf("%w: empty email", ErrInvalidIdentity)
	}
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return fmt.Errorf("%w: %q is not an email address", ErrInvalidIdentity, email)
	}
	return nil
}
