package domain

// PublicRole applies to every identity, including anonymous requests.
const PublicRole = "public"

// LayerGrant permits a single layer within a service grant. A layer
// listed in a grant is readable; write capabilities for WFS-T and
// OGC API Features are opt-in per flag.
type LayerGrant struct {
	Name       string `json:"name" validate:"required"`
	Attributes Names  `json:"attributes,omitempty"`
	Creatable  bool   `json:"creatable,omitempty"`
	Updatable  bool   `json:"updatable,omitempty"`
	Deletable  bool   `json:"deletable,omitempty"`
}

func (g LayerGrant) Writable() bool {
	return g.Creatable || g.Updatable || g.Deletable
}

type ServiceGrant struct {
	Name           string       `json:"name" validate:"required"`
	Layers         []LayerGrant `json:"layers"`
	PrintTemplates Names        `json:"print_templates,omitempty"`
}

type RolePermissions struct {
	WmsServices []ServiceGrant `json:"wms_services,omitempty"`
	WfsServices []ServiceGrant `json:"wfs_services,omitempty"`
}

type Role struct {
	Role        string          `json:"role" validate:"required"`
	Permissions RolePermissions `json:"permissions"`
}

func (r *Role) WmsGrant(service string) *ServiceGrant {
	for i := range r.Permissions.WmsServices {
		if r.Permissions.WmsServices[i].Name == service {
			return &r.Permissions.WmsServices[i]
		}
	}
	return nil
}

func (r *Role) WfsGrant(service string) *ServiceGrant {
	for i := range r.Permissions.WfsServices {
		if r.Permissions.WfsServices[i].Name == service {
			return &r.Permissions.WfsServices[i]
		}
	}
	return nil
}

type User struct {
	Name   string `json:"name" validate:"required"`
	Groups Names  `json:"groups,omitempty"`
	Roles  Names  `json:"roles,omitempty"`
}

type Group struct {
	Name  string `json:"name" validate:"required"`
	Roles Names  `json:"roles,omitempty"`
}

// PermissionIndex is the immutable role/group/user index of one
// tenant, loaded together with its ResourceCatalog.
type PermissionIndex struct {
	users  map[string]*User
	groups map[string]*Group
	roles  map[string]*Role
}

func NewPermissionIndex(users []*User, groups []*Group, roles []*Role) *PermissionIndex {
	p := &PermissionIndex{
		users:  make(map[string]*User, len(users)),
		groups: make(map[string]*Group, len(groups)),
		roles:  make(map[string]*Role, len(roles)),
	}
	for _, u := range users {
		p.users[u.Name] = u
	}
	for _, g := range groups {
		p.groups[g.Name] = g
	}
	for _, r := range roles {
		p.roles[r.Role] = r
	}
	return p
}

// RolesFor resolves the applicable roles of an identity: public plus
// the user's direct roles plus the roles of the user's groups.
func (p *PermissionIndex) RolesFor(identity Identity) []*Role {
	names := Names{PublicRole}
	if identity.Authenticated() {
		if u, ok := p.users[identity.Username]; ok {
			names = names.Union(u.Roles)
			for _, group := range u.Groups {
				if g, ok := p.groups[group]; ok {
					names = names.Union(g.Roles)
				}
			}
		}
	}
	roles := make([]*Role, 0, len(names))
	for _, name := range names {
		if r, ok := p.roles[name]; ok {
			roles = append(roles, r)
		}
	}
	return roles
}
