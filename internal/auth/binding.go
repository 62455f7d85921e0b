package auth

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/odyssey-erp/webguard/internal/rbac"
	"github.com/odyssey-erp/webguard/internal/shared"
)

// IdentitySessionKey is the session attribute holding the bound identity.
const IdentitySessionKey = "identity"

// Binding reads and writes the authenticated identity and its CSRF token on
// the session.
type Binding struct {
	csrf *shared.CSRFManager
}

// NewBinding constructs a Binding issuing tokens through csrf.
func NewBinding(csrf *shared.CSRFManager) *Binding {
	return &Binding{csrf: csrf}
}

// CSRF exposes the token manager.
func (b *Binding) CSRF() *shared.CSRFManager {
	return b.csrf
}

// Identity returns the identity bound to sess. No identity is not an error.
func (b *Binding) Identity(sess shared.Attributes) (*rbac.Identity, error) {
	if sess == nil {
		return nil, nil
	}
	raw := sess.Get(IdentitySessionKey)
	if raw == "" {
		return nil, nil
	}
	var id rbac.Identity
	if err := json.Unmarshal([]byte(raw), &id); err != nil {
		return nil, fmt.Errorf("auth: decode identity: %w", err)
	}
	return &id, nil
}

// Register binds identity to sess and issues a fresh CSRF token on w.
func (b *Binding) Register(sess shared.Attributes, w http.ResponseWriter, identity *rbac.Identity) (string, error) {
	if sess == nil || w == nil || identity == nil {
		return "", fmt.Errorf("%w: session, response and identity required", shared.ErrInvalidArgument)
	}
	data, err := json.Marshal(identity)
	if err != nil {
		return "", fmt.Errorf("auth: encode identity: %w", err)
	}
	sess.Set(IdentitySessionKey, string(data))
	return b.csrf.Issue(sess, w)
}

// Unregister removes the identity and its token but keeps the session.
func (b *Binding) Unregister(sess shared.Attributes) {
	if sess == nil {
		return
	}
	sess.Delete(IdentitySessionKey)
	b.csrf.Revoke(sess)
}

// Logout invalidates the whole session.
func (b *Binding) Logout(sess shared.Attributes) {
	if sess != nil {
		sess.Invalidate()
	}
}
