package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	// ErrAdminDisabled means no admin token hash is configured.
	ErrAdminDisabled = errors.New("admin endpoints are disabled")
	// ErrInvalidAdminToken means the presented token did not match.
	ErrInvalidAdminToken = errors.New("invalid admin token")
)

// AdminGuard checks bearer tokens against the configured bcrypt hash. The
// hash can be swapped at runtime when the config file is reloaded.
type AdminGuard struct {
	mu   sync.RWMutex
	hash string
}

func NewAdminGuard(hash string) *AdminGuard {
	return &AdminGuard{hash: strings.TrimSpace(hash)}
}

// SetHash replaces the accepted token hash; empty disables admin access.
func (g *AdminGuard) SetHash(hash string) {
	g.mu.Lock()
	g.hash = strings.TrimSpace(hash)
	g.mu.Unlock()
}

func (g *AdminGuard) Enabled() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hash != ""
}

// Check validates an Authorization header value ("Bearer <token>").
func (g *AdminGuard) Check(authorization string) error {
	g.mu.RLock()
	hash := g.hash
	g.mu.RUnlock()
	if hash == "" {
		return ErrAdminDisabled
	}
	token, ok := strings.CutPrefix(strings.TrimSpace(authorization), "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return ErrInvalidAdminToken
	}
	if !CheckTokenHash(strings.TrimSpace(token), hash) {
		return ErrInvalidAdminToken
	}
	return nil
}

type contextKey string

const contextKeyAdmin contextKey = "admin"

// WithAdmin marks the request context as operator-authenticated.
func WithAdmin(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKeyAdmin, true)
}

// IsAdmin reports whether WithAdmin was applied.
func IsAdmin(ctx context.Context) bool {
	v, _ := ctx.Value(contextKeyAdmin).(bool)
	return v
}
