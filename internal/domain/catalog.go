package domain

// LayerNode is a node of a configured WMS layer tree. A node with a
// non-nil Layers slice is a group, otherwise it is a leaf layer.
// Facade groups (HideSublayers) use their children for upstream
// resolution but are presented to clients as a single opaque layer.
type LayerNode struct {
	Name          string        `json:"name" validate:"required"`
	Title         string        `json:"title,omitempty"`
	Attributes    AttributeList `json:"attributes,omitempty"`
	Queryable     bool          `json:"queryable,omitempty"`
	Opacity       *int          `json:"opacity,omitempty"`
	HideSublayers bool          `json:"hide_sublayers,omitempty"`
	Layers        []*LayerNode  `json:"layers,omitempty"`
}

func (l *LayerNode) IsGroup() bool {
	return l.Layers != nil
}

// OnlineResources are the public-facing base URLs advertised in
// filtered capability documents, per URL role.
type OnlineResources struct {
	Service     string `json:"service,omitempty"`
	FeatureInfo string `json:"feature_info,omitempty"`
	Legend      string `json:"legend,omitempty"`
}

type WmsService struct {
	Name                string          `json:"name" validate:"required"`
	WmsURL              string          `json:"wms_url,omitempty"`
	OnlineResources     OnlineResources `json:"online_resources,omitempty"`
	RootLayer           *LayerNode      `json:"root_layer" validate:"required"`
	PrintURL            string          `json:"print_url,omitempty"`
	PrintTemplates      Names           `json:"print_templates,omitempty"`
	InternalPrintLayers Names           `json:"internal_print_layers,omitempty"`

	index map[string]*LayerNode
}

// Init builds the name lookup index over the layer tree. Called once
// at load time, before the service is published in a catalog snapshot.
func (s *WmsService) Init() {
	s.index = make(map[string]*LayerNode)
	var walk func(node *LayerNode)
	walk = func(node *LayerNode) {
		s.index[node.Name] = node
		for _, child := range node.Layers {
			walk(child)
		}
	}
	if s.RootLayer != nil {
		walk(s.RootLayer)
	}
}

// Layer returns the configured node with the given name, or nil.
func (s *WmsService) Layer(name string) *LayerNode {
	return s.index[name]
}

type WfsService struct {
	Name           string       `json:"name" validate:"required"`
	WfsURL         string       `json:"wfs_url,omitempty"`
	OnlineResource string       `json:"online_resource,omitempty"`
	Layers         []*LayerNode `json:"layers"`

	index map[string]*LayerNode
}

func (s *WfsService) Init() {
	s.index = make(map[string]*LayerNode)
	for _, layer := range s.Layers {
		s.index[layer.Name] = layer
	}
}

func (s *WfsService) Layer(name string) *LayerNode {
	return s.index[name]
}

// ResourceCatalog is the immutable set of configured services of one
// tenant. A catalog is never mutated after Init; reloads build a new
// catalog and swap it atomically.
type ResourceCatalog struct {
	WmsServices map[string]*WmsService
	WfsServices map[string]*WfsService
}

func NewResourceCatalog(wms []*WmsService, wfs []*WfsService) *ResourceCatalog {
	c := &ResourceCatalog{
		WmsServices: make(map[string]*WmsService, len(wms)),
		WfsServices: make(map[string]*WfsService, len(wfs)),
	}
	for _, s := range wms {
		s.Init()
		c.WmsServices[s.Name] = s
	}
	for _, s := range wfs {
		s.Init()
		c.WfsServices[s.Name] = s
	}
	return c
}

func (c *ResourceCatalog) Wms(name string) *WmsService {
	return c.WmsServices[name]
}

func (c *ResourceCatalog) Wfs(name string) *WfsService {
	return c.WfsServices[name]
}
