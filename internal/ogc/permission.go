// Package ogc implements the permission resolution and protocol
// document filtering engine: effective permissions per identity,
// request classification, capability/feature response filtering,
// WFS-T transaction validation and marker template rendering.
package ogc

import (
	"github.com/qwc-services/qwc-ogc-service/internal/domain"
)

// WmsPermission is the effective WMS permission of one identity for
// one service, derived per request from the catalog and permission
// snapshots. Never persisted.
type WmsPermission struct {
	Service *domain.WmsService

	// Layers lists visible layer names in configured pre-order,
	// groups included, facade sublayers and internal print layers
	// excluded.
	Layers domain.Names

	// Attributes maps a permitted leaf layer (hidden facade
	// sublayers included) to its permitted attributes in configured
	// order with configured aliases.
	Attributes map[string]domain.AttributeList

	// Queryable holds permitted queryable layers, groups and hidden
	// facade sublayers included.
	Queryable domain.Names

	// GroupChildren maps a permitted group name to its permitted
	// direct children in configured order. Facade groups appear here
	// even though their children are hidden from Layers.
	GroupChildren map[string]domain.Names

	// Facades lists permitted groups with hidden sublayers.
	Facades domain.Names

	// Titles maps permitted layer names to their configured titles.
	Titles map[string]string

	// InfoAliases maps a feature info result layer title back to the
	// layer name, as the backend reports titles for queryable layers.
	InfoAliases map[string]string

	// HiddenOpacities holds configured opacities of permitted hidden
	// facade sublayers, applied when expanding facades.
	HiddenOpacities map[string]int

	PrintTemplates      domain.Names
	InternalPrintLayers domain.Names
}

func (p *WmsPermission) Visible(layer string) bool {
	return p.Layers.Has(layer)
}

func (p *WmsPermission) IsQueryable(layer string) bool {
	return p.Queryable.Has(layer)
}

func (p *WmsPermission) IsFacade(layer string) bool {
	return p.Facades.Has(layer)
}

// Title returns the configured title of a permitted layer, falling
// back to the layer name.
func (p *WmsPermission) Title(layer string) string {
	if title, ok := p.Titles[layer]; ok && title != "" {
		return title
	}
	return layer
}

// ResolveWms computes the effective WMS permission as the union of
// the identity's role grants for the named service, cross-referenced
// against the configured layer tree. An unknown service yields an
// empty permission, not an error.
func ResolveWms(catalog *domain.ResourceCatalog, index *domain.PermissionIndex, service string, identity domain.Identity) *WmsPermission {
	perm := &WmsPermission{
		Service:         catalog.Wms(service),
		Attributes:      make(map[string]domain.AttributeList),
		GroupChildren:   make(map[string]domain.Names),
		Titles:          make(map[string]string),
		InfoAliases:     make(map[string]string),
		HiddenOpacities: make(map[string]int),
	}
	if perm.Service == nil {
		return perm
	}

	granted := domain.Names{}
	grantedAttrs := make(map[string]domain.Names)
	grantedTemplates := domain.Names{}
	for _, role := range index.RolesFor(identity) {
		grant := role.WmsGrant(service)
		if grant == nil {
			continue
		}
		for _, lg := range grant.Layers {
			granted = granted.Union(domain.Names{lg.Name})
			grantedAttrs[lg.Name] = grantedAttrs[lg.Name].Union(lg.Attributes)
		}
		grantedTemplates = grantedTemplates.Union(grant.PrintTemplates)
	}

	// visibility pass: a group is visible iff any descendant is
	// visible or the group itself is granted by name
	visible := make(map[string]bool)
	var mark func(node *domain.LayerNode) bool
	mark = func(node *domain.LayerNode) bool {
		if node.IsGroup() {
			any := false
			for _, child := range node.Layers {
				if mark(child) {
					any = true
				}
			}
			visible[node.Name] = any || granted.Has(node.Name)
		} else {
			visible[node.Name] = granted.Has(node.Name)
		}
		return visible[node.Name]
	}
	mark(perm.Service.RootLayer)

	// collection pass, configured pre-order
	var collect func(node *domain.LayerNode, hidden bool)
	collect = func(node *domain.LayerNode, hidden bool) {
		if !visible[node.Name] {
			return
		}
		if !hidden {
			perm.Layers = append(perm.Layers, node.Name)
		}
		if node.Title != "" {
			perm.Titles[node.Name] = node.Title
		}
		if !node.IsGroup() {
			attrs := node.Attributes.Select(grantedAttrs[node.Name])
			perm.Attributes[node.Name] = attrs
			if hidden && node.Opacity != nil {
				perm.HiddenOpacities[node.Name] = *node.Opacity
			}
			if node.Queryable && (len(node.Attributes) == 0 || len(attrs) > 0) {
				perm.Queryable = append(perm.Queryable, node.Name)
				perm.InfoAliases[perm.Title(node.Name)] = node.Name
			}
			return
		}
		children := domain.Names{}
		queryable := false
		for _, child := range node.Layers {
			collect(child, hidden || node.HideSublayers)
			if visible[child.Name] {
				children = append(children, child.Name)
				if perm.Queryable.Has(child.Name) {
					queryable = true
				}
			}
		}
		perm.GroupChildren[node.Name] = children
		if queryable {
			perm.Queryable = append(perm.Queryable, node.Name)
		}
		if node.HideSublayers && !hidden {
			perm.Facades = append(perm.Facades, node.Name)
		}
	}
	collect(perm.Service.RootLayer, false)

	perm.PrintTemplates = perm.Service.PrintTemplates.Intersection(grantedTemplates)
	perm.InternalPrintLayers = perm.Service.InternalPrintLayers.Intersection(granted)
	return perm
}

// LayerEntry is one requested map layer with its drawing opacity and
// style, as carried by the LAYERS/OPACITIES/STYLES parameter triple.
type LayerEntry struct {
	Layer   string
	Opacity int
	Style   string
}

// ExpandLayers replaces permitted group names in a requested layer
// list with their permitted sublayers, ordered bottom to top as
// expected for WMS drawing. Hidden facade sublayers scale the group
// opacity by their configured opacity; expanded entries carry no
// style. External layer references and unknown names pass through.
func (p *WmsPermission) ExpandLayers(entries []LayerEntry) []LayerEntry {
	res := []LayerEntry{}
	for _, entry := range entries {
		children, isGroup := p.GroupChildren[entry.Layer]
		if !isGroup {
			res = append(res, entry)
			continue
		}
		sub := make([]LayerEntry, 0, len(children))
		for i := len(children) - 1; i >= 0; i-- {
			opacity := entry.Opacity
			if custom, ok := p.HiddenOpacities[children[i]]; ok {
				opacity = entry.Opacity * custom / 100
			}
			sub = append(sub, LayerEntry{Layer: children[i], Opacity: opacity})
		}
		res = append(res, p.ExpandLayers(sub)...)
	}
	return res
}

// ExpandQueryLayers expands permitted groups for feature info
// queries, keeping requested order with group children in configured
// order.
func (p *WmsPermission) ExpandQueryLayers(layers domain.Names) domain.Names {
	res := domain.Names{}
	var expand func(name string)
	expand = func(name string) {
		children, isGroup := p.GroupChildren[name]
		if !isGroup {
			res = append(res, name)
			return
		}
		for _, child := range children {
			expand(child)
		}
	}
	for _, name := range layers {
		expand(name)
	}
	return res
}

// WfsPermission is the effective WFS permission of one identity for
// one service.
type WfsPermission struct {
	Service *domain.WfsService

	// Layers lists permitted layer names in configured order.
	Layers domain.Names

	// Attributes maps a permitted layer to its permitted attributes
	// in configured order. The geometry attribute is always kept.
	Attributes map[string]domain.AttributeList

	Creatable domain.Names
	Updatable domain.Names
	Deletable domain.Names
}

func (p *WfsPermission) Visible(layer string) bool {
	return p.Layers.Has(layer)
}

func (p *WfsPermission) Writable(layer string) bool {
	return p.Creatable.Has(layer) || p.Updatable.Has(layer) || p.Deletable.Has(layer)
}

// GeometryAttribute is implicitly permitted on every WFS layer.
const GeometryAttribute = "geometry"

// ResolveWfs computes the effective WFS permission as the union of
// the identity's role grants for the named service.
func ResolveWfs(catalog *domain.ResourceCatalog, index *domain.PermissionIndex, service string, identity domain.Identity) *WfsPermission {
	perm := &WfsPermission{
		Service:    catalog.Wfs(service),
		Attributes: make(map[string]domain.AttributeList),
	}
	if perm.Service == nil {
		return perm
	}

	granted := domain.Names{}
	grantedAttrs := make(map[string]domain.Names)
	for _, role := range index.RolesFor(identity) {
		grant := role.WfsGrant(service)
		if grant == nil {
			continue
		}
		for _, lg := range grant.Layers {
			granted = granted.Union(domain.Names{lg.Name})
			grantedAttrs[lg.Name] = grantedAttrs[lg.Name].Union(lg.Attributes)
			if lg.Creatable {
				perm.Creatable = perm.Creatable.Union(domain.Names{lg.Name})
			}
			if lg.Updatable {
				perm.Updatable = perm.Updatable.Union(domain.Names{lg.Name})
			}
			if lg.Deletable {
				perm.Deletable = perm.Deletable.Union(domain.Names{lg.Name})
			}
		}
	}

	for _, layer := range perm.Service.Layers {
		if !granted.Has(layer.Name) {
			continue
		}
		perm.Layers = append(perm.Layers, layer.Name)
		permitted := grantedAttrs[layer.Name].Union(domain.Names{GeometryAttribute})
		perm.Attributes[layer.Name] = layer.Attributes.Select(permitted)
	}
	perm.Creatable = perm.Creatable.Intersection(perm.Layers)
	perm.Updatable = perm.Updatable.Intersection(perm.Layers)
	perm.Deletable = perm.Deletable.Intersection(perm.Layers)
	return perm
}
