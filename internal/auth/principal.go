package auth

import (
	"context"

	"github.com/Annany2002/nebula-gateway/internal/domain"
)

// Principal is the authenticated caller of one request. Exactly one of
// APIKey and AdminUserID is set.
type Principal struct {
	APIKey      *domain.APIKey
	AdminUserID int64
	ClientIP    string
}

// IsInternalSession reports whether the caller is a trusted admin session,
// which skips permission rules and quotas.
func (p *Principal) IsInternalSession() bool {
	return p != nil && p.APIKey == nil && p.AdminUserID > 0
}

// KeyID returns the API key id, or 0 for internal sessions.
func (p *Principal) KeyID() int64 {
	if p == nil || p.APIKey == nil {
		return 0
	}
	return p.APIKey.ID
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by WithPrincipal, if any.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
