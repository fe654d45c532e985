package internal

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const authLookupTimeout = 5 * time.Second

// AuthGate turns an opaque token into a user identity with a single store
// lookup.
type AuthGate struct {
	store AuthStore
	log   *zap.Logger
}

func NewAuthGate(store AuthStore, log *zap.Logger) *AuthGate {
	return &AuthGate{store: store, log: log}
}

// Authenticate returns nil when the token does not resolve. Store faults are
// logged and reported the same way, so callers only see "valid" or "not".
func (g *AuthGate) Authenticate(ctx context.Context, token string) *UserIdentity {
	if token == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, authLookupTimeout)
	defer cancel()
	user, err := g.store.ValidateToken(ctx, token)
	if err != nil {
		g.log.Warn("token lookup failed", zap.Error(err))
		return nil
	}
	return user
}
