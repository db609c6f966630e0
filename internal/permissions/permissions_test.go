package permissions

import (
	"context"
	"testing"

	"github.com/starford/compendium/internal/auth"
	"github.com/starford/compendium/internal/models"
	"github.com/starford/compendium/internal/testutil"
)

var tiers = Tiers{
	All:            models.Permissions{"view": true},
	Anonymous:      models.Permissions{"star": true},
	SignedIn:       models.Permissions{"comment": true, "star": true},
	SignedInDomain: models.Permissions{"edit": true, "star": false},
	Domain:         "example.com",
}

func TestCompose(t *testing.T) {
	tests := []struct {
		name string
		id   *auth.Identity
		want models.Permissions
	}{
		{"nobody", nil, models.Permissions{"view": true}},
		{"anonymous", &auth.Identity{UID: "a", Anonymous: true}, models.Permissions{"view": true, "star": true}},
		{"signed in", &auth.Identity{UID: "u", Email: "u@other.org"}, models.Permissions{"view": true, "star": true, "comment": true}},
		{"domain", &auth.Identity{UID: "d", Email: "d@Example.com"}, models.Permissions{"view": true, "star": false, "comment": true, "edit": true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compose(tiers, tt.id)
			if len(got) != len(tt.want) {
				t.Fatalf("Compose = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestForUserRecordOnTop(t *testing.T) {
	store := testutil.TestStore(t)
	testutil.Put(t, store, models.CollectionPermissions, "u", models.Permissions{models.PermissionRemoteAI: true, "comment": false})
	r := NewResolver(store, tiers)

	got, err := r.For(context.Background(), &auth.Identity{UID: "u", Email: "u@other.org"})
	if err != nil {
		t.Fatal(err)
	}
	if !got[models.PermissionRemoteAI] || got["comment"] {
		t.Errorf("permissions = %v", got)
	}
	if !Has(got, models.PermissionAdmin, models.PermissionRemoteAI) {
		t.Error("Has should find remoteAI")
	}
	if Has(got, models.PermissionAdmin) {
		t.Error("Has should not find admin")
	}
}
