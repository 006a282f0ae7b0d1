// Package identity resolves opaque ghost tokens to durable anonymous
// identities and links them to accounts when claimed.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"orbit/api/internal/store"
	"orbit/api/internal/util"
)

var (
	// ErrAlreadyClaimed means the identity is linked to a different account.
	ErrAlreadyClaimed = errors.New("identity already claimed")
	// ErrExpired means the token's record was soft-deleted or purged and can
	// no longer authenticate as the original author.
	ErrExpired = errors.New("identity expired")
	// ErrInvalidToken means the presented token is malformed.
	ErrInvalidToken = errors.New("invalid identity token")
)

const maxTokenLen = 128

type identityStore interface {
	InsertIdentity(ctx context.Context, token string) error
	GetActiveIdentityByToken(ctx context.Context, token string) (store.Identity, error)
	TokenWasSoftDeleted(ctx context.Context, token string) (bool, error)
	ClaimIdentity(ctx context.Context, identityID, accountID string) (bool, error)
}

type Resolver struct {
	store identityStore
}

func NewResolver(identityStore identityStore) *Resolver {
	return &Resolver{store: identityStore}
}

// Context is the unified per-request identity view consumed by the access
// evaluator. Either pointer may be nil.
type Context struct {
	Identity *store.Identity
	Account  *store.Account
}

// Mint creates a brand-new identity with a server-generated token.
func (r *Resolver) Mint(ctx context.Context) (store.Identity, error) {
	return r.Resolve(ctx, util.NewToken())
}

// Resolve returns the active identity for token, creating one on first sight.
// The insert is unconditional with a uniqueness constraint underneath, so N
// concurrent first-contact calls for the same token produce exactly one
// record: losers of the insert race observe the winner's row on the fetch.
func (r *Resolver) Resolve(ctx context.Context, token string) (store.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" || len(token) > maxTokenLen {
		return store.Identity{}, ErrInvalidToken
	}

	found, err := r.store.GetActiveIdentityByToken(ctx, token)
	if err == nil {
		return found, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.Identity{}, fmt.Errorf("lookup identity: %w", err)
	}

	if err := r.store.InsertIdentity(ctx, token); err != nil {
		return store.Identity{}, err
	}
	found, err = r.store.GetActiveIdentityByToken(ctx, token)
	if err != nil {
		return store.Identity{}, fmt.Errorf("fetch identity after insert: %w", err)
	}
	return found, nil
}

// Claim links the token's identity to accountID. Idempotent for the same
// account; ErrAlreadyClaimed when a different account got there first. A token
// whose record was soft-deleted cannot be claimed back: lifecycle state is
// monotonic, so the caller gets ErrExpired instead of a silent resurrection.
func (r *Resolver) Claim(ctx context.Context, token, accountID string) (store.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" || len(token) > maxTokenLen {
		return store.Identity{}, ErrInvalidToken
	}

	found, err := r.store.GetActiveIdentityByToken(ctx, token)
	if errors.Is(err, sql.ErrNoRows) {
		expired, expErr := r.store.TokenWasSoftDeleted(ctx, token)
		if expErr != nil {
			return store.Identity{}, expErr
		}
		if expired {
			return store.Identity{}, ErrExpired
		}
		// Unseen token: claiming implies first contact.
		found, err = r.Resolve(ctx, token)
	}
	if err != nil {
		return store.Identity{}, err
	}

	if found.IsClaimed() && found.ClaimedBy != accountID {
		return store.Identity{}, ErrAlreadyClaimed
	}

	changed, err := r.store.ClaimIdentity(ctx, found.ID, accountID)
	if err != nil {
		return store.Identity{}, err
	}
	if !changed {
		// Lost a race against a competing claim; re-read to report who won.
		current, err := r.store.GetActiveIdentityByToken(ctx, token)
		if err != nil {
			return store.Identity{}, fmt.Errorf("re-read contested identity: %w", err)
		}
		if current.ClaimedBy != accountID {
			return store.Identity{}, ErrAlreadyClaimed
		}
		return current, nil
	}

	found.ClaimedBy = accountID
	return found, nil
}

// AuthContext builds the request's identity context from an optional ghost
// token and an optional authenticated account. A token claimed by a different
// account than the bearer is a trust conflict: the token is treated as absent
// while the account still applies on its own.
func (r *Resolver) AuthContext(ctx context.Context, token string, account *store.Account) (Context, error) {
	result := Context{Account: account}

	token = strings.TrimSpace(token)
	if token == "" {
		return result, nil
	}

	resolved, err := r.Resolve(ctx, token)
	if errors.Is(err, ErrInvalidToken) {
		return result, nil
	}
	if err != nil {
		return Context{}, err
	}

	if account != nil && resolved.IsClaimed() && resolved.ClaimedBy != account.ID {
		return result, nil
	}
	result.Identity = &resolved
	return result, nil
}
