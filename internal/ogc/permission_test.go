package ogc

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/qwc-services/qwc-ogc-service/internal/domain"
)

func intPtr(v int) *int {
	return &v
}

func testCatalog() *domain.ResourceCatalog {
	wms := &domain.WmsService{
		Name: "demo",
		RootLayer: &domain.LayerNode{
			Name: "root",
			Layers: []*domain.LayerNode{
				{
					Name:  "nature",
					Title: "Nature",
					Layers: []*domain.LayerNode{
						{
							Name:       "forests",
							Title:      "Forests",
							Queryable:  true,
							Attributes: domain.AttributeList{{Name: "id", Alias: "ID"}, {Name: "type", Alias: "Type"}},
						},
						{Name: "rivers", Queryable: true, Attributes: domain.AttributeList{{Name: "name", Alias: "Name"}}},
					},
				},
				{
					Name:          "basemap",
					HideSublayers: true,
					Layers: []*domain.LayerNode{
						{Name: "streets"},
						{Name: "terrain", Opacity: intPtr(50)},
					},
				},
				{Name: "elevation", Queryable: true},
			},
		},
		PrintTemplates:      domain.Names{"A4", "A3"},
		InternalPrintLayers: domain.Names{"overview"},
	}
	wfs := &domain.WfsService{
		Name: "demo",
		Layers: []*domain.LayerNode{
			{Name: "edit points", Attributes: domain.AttributeList{
				{Name: "id", Alias: "id"}, {Name: "note", Alias: "note"}, {Name: "geometry", Alias: "geometry"},
			}},
			{Name: "rivers", Attributes: domain.AttributeList{{Name: "name", Alias: "name"}}},
		},
	}
	return domain.NewResourceCatalog([]*domain.WmsService{wms}, []*domain.WfsService{wfs})
}

func testPermissions() *domain.PermissionIndex {
	return domain.NewPermissionIndex(
		[]*domain.User{{Name: "editor", Roles: domain.Names{"editors"}}},
		nil,
		[]*domain.Role{
			{
				Role: domain.PublicRole,
				Permissions: domain.RolePermissions{
					WmsServices: []domain.ServiceGrant{{
						Name: "demo",
						Layers: []domain.LayerGrant{
							{Name: "forests", Attributes: domain.Names{"id"}},
							{Name: "streets"},
							{Name: "terrain"},
							{Name: "basemap"},
						},
						PrintTemplates: domain.Names{"A4"},
					}},
					WfsServices: []domain.ServiceGrant{{
						Name: "demo",
						Layers: []domain.LayerGrant{
							{Name: "rivers", Attributes: domain.Names{"name"}},
						},
					}},
				},
			},
			{
				Role: "editors",
				Permissions: domain.RolePermissions{
					WmsServices: []domain.ServiceGrant{{
						Name: "demo",
						Layers: []domain.LayerGrant{
							{Name: "forests", Attributes: domain.Names{"type"}},
							{Name: "rivers", Attributes: domain.Names{"name"}},
							{Name: "overview"},
						},
						PrintTemplates: domain.Names{"A3"},
					}},
					WfsServices: []domain.ServiceGrant{{
						Name: "demo",
						Layers: []domain.LayerGrant{
							{Name: "edit points", Attributes: domain.Names{"id", "note"}, Creatable: true, Updatable: true},
						},
					}},
				},
			},
		},
	)
}

func TestResolveWmsAnonymous(t *testing.T) {
	perm := ResolveWms(testCatalog(), testPermissions(), "demo", domain.Anonymous())

	assert.Equal(t, domain.Names{"root", "nature", "forests", "basemap"}, perm.Layers)
	assert.True(t, perm.Visible("forests"))
	assert.False(t, perm.Visible("rivers"))
	assert.False(t, perm.Visible("elevation"))
	// facade sublayers are permitted but not presented
	assert.False(t, perm.Visible("streets"))
	assert.True(t, perm.IsFacade("basemap"))

	assert.Equal(t, domain.AttributeList{{Name: "id", Alias: "ID"}}, perm.Attributes["forests"])
	assert.Equal(t, domain.Names{"A4"}, perm.PrintTemplates)
	assert.Empty(t, perm.InternalPrintLayers)
}

func TestResolveWmsRoleUnion(t *testing.T) {
	perm := ResolveWms(testCatalog(), testPermissions(), "demo", domain.Authenticated("editor"))

	assert.Equal(t, domain.Names{"root", "nature", "forests", "rivers", "basemap"}, perm.Layers)
	// attributes union across roles, in configured order
	assert.Equal(t, domain.AttributeList{{Name: "id", Alias: "ID"}, {Name: "type", Alias: "Type"}}, perm.Attributes["forests"])
	assert.Equal(t, domain.Names{"A4", "A3"}, perm.PrintTemplates)
	assert.Equal(t, domain.Names{"overview"}, perm.InternalPrintLayers)
}

func TestResolveWmsQueryable(t *testing.T) {
	perm := ResolveWms(testCatalog(), testPermissions(), "demo", domain.Authenticated("editor"))

	assert.True(t, perm.IsQueryable("forests"))
	assert.True(t, perm.IsQueryable("rivers"))
	// group with queryable children
	assert.True(t, perm.IsQueryable("nature"))
	assert.False(t, perm.IsQueryable("streets"))
	// title to name mapping for feature info results
	assert.Equal(t, "forests", perm.InfoAliases["Forests"])
}

func TestResolveWmsUnknownService(t *testing.T) {
	perm := ResolveWms(testCatalog(), testPermissions(), "missing", domain.Anonymous())
	assert.Nil(t, perm.Service)
	assert.Empty(t, perm.Layers)
}

func TestExpandLayersFacade(t *testing.T) {
	perm := ResolveWms(testCatalog(), testPermissions(), "demo", domain.Anonymous())

	entries := perm.ExpandLayers([]LayerEntry{{Layer: "basemap", Opacity: 200}, {Layer: "forests", Opacity: 255, Style: "default"}})
	// bottom-to-top order, hidden opacity scales the group opacity
	assert.Equal(t, []LayerEntry{
		{Layer: "terrain", Opacity: 100},
		{Layer: "streets", Opacity: 200},
		{Layer: "forests", Opacity: 255, Style: "default"},
	}, entries)
}

func TestExpandQueryLayers(t *testing.T) {
	perm := ResolveWms(testCatalog(), testPermissions(), "demo", domain.Authenticated("editor"))
	assert.Equal(t, domain.Names{"forests", "rivers"}, perm.ExpandQueryLayers(domain.Names{"nature"}))
}

func TestResolveWfs(t *testing.T) {
	perm := ResolveWfs(testCatalog(), testPermissions(), "demo", domain.Authenticated("editor"))

	assert.Equal(t, domain.Names{"edit points", "rivers"}, perm.Layers)
	assert.Equal(t, domain.Names{"edit points"}, perm.Creatable)
	assert.Equal(t, domain.Names{"edit points"}, perm.Updatable)
	assert.Empty(t, perm.Deletable)
	// geometry is implicitly permitted
	assert.Equal(t, domain.AttributeList{
		{Name: "id", Alias: "id"}, {Name: "note", Alias: "note"}, {Name: "geometry", Alias: "geometry"},
	}, perm.Attributes["edit points"])
}

func TestResolveWfsAnonymous(t *testing.T) {
	perm := ResolveWfs(testCatalog(), testPermissions(), "demo", domain.Anonymous())
	assert.Equal(t, domain.Names{"rivers"}, perm.Layers)
	assert.False(t, perm.Writable("rivers"))
}
