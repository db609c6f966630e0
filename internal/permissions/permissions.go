// Package permissions composes a caller's capabilities from the configured
// tiers and their per-user record.
package permissions

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/starford/compendium/internal/auth"
	"github.com/starford/compendium/internal/docstore"
	"github.com/starford/compendium/internal/models"
)

// Tiers are the layered defaults. Each layer adds to, and may override, the
// ones before it.
type Tiers struct {
	All            models.Permissions
	Anonymous      models.Permissions
	SignedIn       models.Permissions
	SignedInDomain models.Permissions
	// Domain is the email domain that earns SignedInDomain.
	Domain string
}

// Resolver computes effective permissions.
type Resolver struct {
	store *docstore.Store
	tiers Tiers
}

// NewResolver creates a Resolver.
func NewResolver(store *docstore.Store, tiers Tiers) *Resolver {
	return &Resolver{store: store, tiers: tiers}
}

// For returns the effective permissions of id. A nil id gets only the All
// tier and never touches the store.
func (r *Resolver) For(ctx context.Context, id *auth.Identity) (models.Permissions, error) {
	out := Compose(r.tiers, id)
	if id == nil || id.UID == "" {
		return out, nil
	}

	snap, err := r.store.Get(ctx, models.CollectionPermissions, id.UID)
	if err != nil {
		return nil, fmt.Errorf("permissions: load %s: %w", id.UID, err)
	}
	if snap.Exists() {
		var user models.Permissions
		if err := snap.DataTo(&user); err != nil {
			return nil, err
		}
		maps.Copy(out, user)
	}
	return out, nil
}

// Compose layers the tiers that apply to id.
func Compose(t Tiers, id *auth.Identity) models.Permissions {
	out := make(models.Permissions)
	maps.Copy(out, t.All)
	if id == nil {
		return out
	}
	maps.Copy(out, t.Anonymous)
	if id.Anonymous {
		return out
	}
	maps.Copy(out, t.SignedIn)
	if t.Domain != "" && emailDomain(id.Email) == strings.ToLower(t.Domain) {
		maps.Copy(out, t.SignedInDomain)
	}
	return out
}

func emailDomain(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

// Has reports whether perms grants any of caps.
func Has(perms models.Permissions, caps ...string) bool {
	for _, c := range caps {
		if perms[c] {
			return true
		}
	}
	return false
}
