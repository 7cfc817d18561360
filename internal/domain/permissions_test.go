package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testIndex() *PermissionIndex {
	return NewPermissionIndex(
		[]*User{
			{Name: "alice", Roles: Names{"editors"}},
			{Name: "bob", Groups: Names{"staff"}},
		},
		[]*Group{
			{Name: "staff", Roles: Names{"viewers"}},
		},
		[]*Role{
			{Role: PublicRole},
			{Role: "editors"},
			{Role: "viewers"},
		},
	)
}

func roleNames(roles []*Role) Names {
	names := make(Names, len(roles))
	for i, r := range roles {
		names[i] = r.Role
	}
	return names
}

func TestRolesForAnonymous(t *testing.T) {
	index := testIndex()
	assert.Equal(t, Names{PublicRole}, roleNames(index.RolesFor(Anonymous())))
}

func TestRolesForDirectRole(t *testing.T) {
	index := testIndex()
	assert.Equal(t, Names{PublicRole, "editors"}, roleNames(index.RolesFor(Authenticated("alice"))))
}

func TestRolesForGroupRole(t *testing.T) {
	index := testIndex()
	assert.Equal(t, Names{PublicRole, "viewers"}, roleNames(index.RolesFor(Authenticated("bob"))))
}

func TestRolesForUnknownUser(t *testing.T) {
	index := testIndex()
	assert.Equal(t, Names{PublicRole}, roleNames(index.RolesFor(Authenticated("mallory"))))
}

func TestWmsServiceLayerIndex(t *testing.T) {
	s := &WmsService{
		Name: "test",
		RootLayer: &LayerNode{
			Name: "root",
			Layers: []*LayerNode{
				{Name: "group", Layers: []*LayerNode{{Name: "points"}}},
				{Name: "lines"},
			},
		},
	}
	s.Init()
	assert.NotNil(t, s.Layer("points"))
	assert.NotNil(t, s.Layer("group"))
	assert.Nil(t, s.Layer("missing"))
	assert.True(t, s.Layer("group").IsGroup())
	assert.False(t, s.Layer("points").IsGroup())
}
