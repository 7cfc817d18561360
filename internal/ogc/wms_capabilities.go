package ogc

import (
	"bytes"
	"encoding/xml"
	"net/url"
	"strings"

	"github.com/qwc-services/qwc-ogc-service/internal/domain"
)

// wmsCapabilities models WMS GetCapabilities and GetProjectSettings
// documents for both 1.1.1 and 1.3.0. Subtrees that are never
// filtered round-trip as raw elements.
type wmsCapabilities struct {
	XMLName        xml.Name
	Version        string     `xml:"version,attr,omitempty"`
	UpdateSequence string     `xml:"updateSequence,attr,omitempty"`
	SchemaLocation string     `xml:"http://www.w3.org/2001/XMLSchema-instance schemaLocation,attr,omitempty"`
	ExtraAttrs     []xml.Attr `xml:",any,attr"`

	Service    wmsServiceSection `xml:"Service"`
	Capability wmsCapability     `xml:"Capability"`
}

type wmsServiceSection struct {
	Name               string          `xml:"Name,omitempty"`
	Title              string          `xml:"Title,omitempty"`
	Abstract           string          `xml:"Abstract,omitempty"`
	KeywordList        *rawElement     `xml:"KeywordList"`
	OnlineResource     *OnlineResource `xml:"OnlineResource"`
	ContactInformation *rawElement     `xml:"ContactInformation"`
	Fees               string          `xml:"Fees,omitempty"`
	AccessConstraints  string          `xml:"AccessConstraints,omitempty"`
	MaxWidth           string          `xml:"MaxWidth,omitempty"`
	MaxHeight          string          `xml:"MaxHeight,omitempty"`
}

type wmsCapability struct {
	Request                  wmsRequestSection     `xml:"Request"`
	Exception                *rawElement           `xml:"Exception"`
	UserDefinedSymbolization *rawElement           `xml:"UserDefinedSymbolization"`
	WFSLayers                *rawElement           `xml:"WFSLayers"`
	Layer                    *wmsLayer             `xml:"Layer"`
	LayerDrawingOrder        string                `xml:"LayerDrawingOrder,omitempty"`
	ComposerTemplates        *wmsComposerTemplates `xml:"ComposerTemplates"`
}

// wmsRequestSection keeps the operation elements in document order;
// sld and qgs extension operations keep their namespace.
type wmsRequestSection struct {
	Operations []wmsOperation `xml:",any"`
}

type wmsOperation struct {
	XMLName  xml.Name
	Formats  []string     `xml:"Format"`
	DCPTypes []wmsDCPType `xml:"DCPType"`
}

type wmsDCPType struct {
	XMLName xml.Name `xml:"DCPType"`
	HTTP    wmsHTTP  `xml:"HTTP"`
}

type wmsHTTP struct {
	Get  *wmsHTTPMethod `xml:"Get"`
	Post *wmsHTTPMethod `xml:"Post"`
}

type wmsHTTPMethod struct {
	OnlineResource *OnlineResource `xml:"OnlineResource"`
}

type wmsLayer struct {
	Queryable    string     `xml:"queryable,attr,omitempty"`
	DisplayField string     `xml:"displayField,attr,omitempty"`
	ExtraAttrs   []xml.Attr `xml:",any,attr"`

	Name          string         `xml:"Name,omitempty"`
	Title         string         `xml:"Title,omitempty"`
	Abstract      string         `xml:"Abstract,omitempty"`
	KeywordList   *rawElement    `xml:"KeywordList"`
	CRS           []string       `xml:"CRS"`
	SRS           []string       `xml:"SRS"`
	EXGeographic  *rawElement    `xml:"EX_GeographicBoundingBox"`
	LatLonBBox    *rawElement    `xml:"LatLonBoundingBox"`
	BoundingBoxes []rawElement   `xml:"BoundingBox"`
	Dimensions    []rawElement   `xml:"Dimension"`
	Attribution   *rawElement    `xml:"Attribution"`
	MetadataURLs  []rawElement   `xml:"MetadataURL"`
	DataURLs      []rawElement   `xml:"DataURL"`
	Styles        []wmsStyle     `xml:"Style"`
	MinScale      string         `xml:"MinScaleDenominator,omitempty"`
	MaxScale      string         `xml:"MaxScaleDenominator,omitempty"`
	Layers        []wmsLayer     `xml:"Layer"`
	TreeName      string         `xml:"TreeName,omitempty"`
	Attributes    *wmsAttributes `xml:"Attributes"`
}

type wmsStyle struct {
	Name      string        `xml:"Name,omitempty"`
	Title     string        `xml:"Title,omitempty"`
	LegendURL *wmsLegendURL `xml:"LegendURL"`
}

type wmsLegendURL struct {
	Format         string          `xml:"Format,omitempty"`
	OnlineResource *OnlineResource `xml:"OnlineResource"`
}

// wmsAttributes is the QGIS GetProjectSettings attribute listing.
type wmsAttributes struct {
	Attributes []wmsAttribute `xml:"Attribute"`
}

type wmsAttribute struct {
	Name       string     `xml:"name,attr"`
	ExtraAttrs []xml.Attr `xml:",any,attr"`
}

type wmsComposerTemplates struct {
	Templates []wmsComposerTemplate `xml:"ComposerTemplate"`
}

type wmsComposerTemplate struct {
	XMLName    xml.Name   `xml:"ComposerTemplate"`
	Name       string     `xml:"name,attr"`
	ExtraAttrs []xml.Attr `xml:",any,attr"`
	Content    string     `xml:",innerxml"`
}

// FilterWmsCapabilities prunes a backend WMS capabilities document to
// the effective permission: the rendered layer tree follows the
// configured tree, facade groups lose their sublayers, attributes and
// composer templates are filtered and every advertised URL is
// rewritten to the public-facing base.
func FilterWmsCapabilities(data []byte, perm *WmsPermission, urls domain.OnlineResources) ([]byte, error) {
	var doc wmsCapabilities
	if err := xml.Unmarshal(stripControlChars(data), &doc); err != nil {
		return nil, &domain.UpstreamError{Err: err}
	}

	// index upstream layers by name; config/backend drift drops
	// configured layers silently
	upstream := make(map[string]*wmsLayer)
	var indexLayers func(layer *wmsLayer)
	indexLayers = func(layer *wmsLayer) {
		if layer.Name != "" {
			upstream[layer.Name] = layer
		}
		for i := range layer.Layers {
			indexLayers(&layer.Layers[i])
		}
	}
	if doc.Capability.Layer != nil {
		indexLayers(doc.Capability.Layer)
	}

	if doc.Capability.Layer != nil {
		root := perm.Service.RootLayer
		rootEl := doc.Capability.Layer
		if node := upstream[root.Name]; node != nil {
			rootEl = node
		}
		filtered := filterLayerTree(root, rootEl, upstream, perm)
		if filtered == nil {
			// nothing permitted: keep the root container with no
			// sublayers, a valid but empty tree
			filtered = &wmsLayer{}
			*filtered = *rootEl
			filtered.Layers = nil
			filtered.Queryable = "0"
		}
		doc.Capability.Layer = filtered
	}

	// the broken GML3 feature info format is never advertised
	for i := range doc.Capability.Request.Operations {
		op := &doc.Capability.Request.Operations[i]
		if localName(op.XMLName) == "GetFeatureInfo" {
			formats := op.Formats[:0]
			for _, format := range op.Formats {
				if format != "application/vnd.ogc.gml/3.1.1" {
					formats = append(formats, format)
				}
			}
			op.Formats = formats
		}
	}

	if doc.Capability.LayerDrawingOrder != "" {
		order := domain.Names(strings.Split(doc.Capability.LayerDrawingOrder, ","))
		doc.Capability.LayerDrawingOrder = strings.Join(order.Filter(perm.Visible), ",")
	}

	if doc.Capability.ComposerTemplates != nil {
		kept := []wmsComposerTemplate{}
		for _, template := range doc.Capability.ComposerTemplates.Templates {
			if perm.PrintTemplates.Has(template.Name) {
				kept = append(kept, template)
			}
		}
		if len(kept) == 0 {
			doc.Capability.ComposerTemplates = nil
		} else {
			doc.Capability.ComposerTemplates.Templates = kept
		}
	}

	rewriteWmsURLs(&doc, urls)
	normalizeWmsDoc(&doc)

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(&doc); err != nil {
		return nil, &domain.UpstreamError{Err: err}
	}
	return buf.Bytes(), nil
}

// filterLayerTree walks the configured tree and rebuilds the output
// tree from the matching upstream elements. It returns nil when the
// node is not visible or absent upstream.
func filterLayerTree(node *domain.LayerNode, el *wmsLayer, upstream map[string]*wmsLayer, perm *WmsPermission) *wmsLayer {
	if el == nil || !perm.Visible(node.Name) {
		return nil
	}
	out := &wmsLayer{}
	*out = *el
	out.Layers = nil

	if node.IsGroup() && !node.HideSublayers {
		for _, child := range node.Layers {
			sub := filterLayerTree(child, upstream[child.Name], upstream, perm)
			if sub != nil {
				out.Layers = append(out.Layers, *sub)
			}
		}
	}

	if perm.IsQueryable(node.Name) {
		out.Queryable = "1"
	} else {
		out.Queryable = "0"
	}

	permitted := perm.Attributes[node.Name]
	if out.DisplayField != "" && !hasAlias(permitted, out.DisplayField) {
		out.DisplayField = ""
	}
	if out.Attributes != nil {
		kept := []wmsAttribute{}
		for _, attr := range out.Attributes.Attributes {
			if permitted.Has(attr.Name) {
				kept = append(kept, attr)
			}
		}
		out.Attributes = &wmsAttributes{Attributes: kept}
	}
	return out
}

func hasAlias(attrs domain.AttributeList, alias string) bool {
	for _, attr := range attrs {
		if attr.Alias == alias {
			return true
		}
	}
	return false
}

// rewriteWmsURLs replaces every advertised OnlineResource with the
// public-facing base per URL role and injects legend URLs for group
// layers, which the backend omits.
func rewriteWmsURLs(doc *wmsCapabilities, urls domain.OnlineResources) {
	rewrite := func(res *OnlineResource, base string) {
		if res != nil && base != "" {
			res.Href = rewriteResourceURL(res.Href, base)
		}
	}

	if urls.Service != "" {
		rewrite(doc.Service.OnlineResource, urls.Service)
		for i := range doc.Capability.Request.Operations {
			op := &doc.Capability.Request.Operations[i]
			base := urls.Service
			switch localName(op.XMLName) {
			case "GetFeatureInfo":
				if urls.FeatureInfo != "" {
					base = urls.FeatureInfo
				}
			case "GetLegendGraphic":
				if urls.Legend != "" {
					base = urls.Legend
				}
			}
			for j := range op.DCPTypes {
				http := &op.DCPTypes[j].HTTP
				if http.Get != nil {
					rewrite(http.Get.OnlineResource, base)
				}
				if http.Post != nil {
					rewrite(http.Post.OnlineResource, base)
				}
			}
		}
	}

	legendBase := urls.Legend
	if legendBase == "" {
		legendBase = urls.Service
	}
	if legendBase == "" || doc.Capability.Layer == nil {
		return
	}

	var refHref string
	var rewriteLegends func(layer *wmsLayer)
	rewriteLegends = func(layer *wmsLayer) {
		for i := range layer.Styles {
			if legend := layer.Styles[i].LegendURL; legend != nil && legend.OnlineResource != nil {
				rewrite(legend.OnlineResource, legendBase)
				if refHref == "" {
					refHref = legend.OnlineResource.Href
				}
			}
		}
		for i := range layer.Layers {
			rewriteLegends(&layer.Layers[i])
		}
	}
	rewriteLegends(doc.Capability.Layer)

	if refHref == "" {
		return
	}
	// group layers carry no LegendURL upstream; derive one from a
	// sublayer reference
	refURL, err := url.Parse(refHref)
	if err != nil {
		return
	}
	refQuery := refURL.Query()
	refFormat := refQuery.Get("FORMAT")
	if refFormat == "" {
		refFormat = "image/png"
	}

	var injectLegends func(layer *wmsLayer)
	injectLegends = func(layer *wmsLayer) {
		if layer.Name != "" && len(layer.Styles) == 0 {
			query := refURL.Query()
			query.Set("LAYER", layer.Name)
			href := *refURL
			href.RawQuery = query.Encode()
			layer.Styles = []wmsStyle{{
				Name:  "default",
				Title: "default",
				LegendURL: &wmsLegendURL{
					Format:         refFormat,
					OnlineResource: &OnlineResource{Href: href.String(), Type: "simple"},
				},
			}}
		} else if layer.Name != "" {
			for i := range layer.Styles {
				if layer.Styles[i].LegendURL == nil {
					query := refURL.Query()
					query.Set("LAYER", layer.Name)
					href := *refURL
					href.RawQuery = query.Encode()
					layer.Styles[i].LegendURL = &wmsLegendURL{
						Format:         refFormat,
						OnlineResource: &OnlineResource{Href: href.String(), Type: "simple"},
					}
				}
			}
		}
		for i := range layer.Layers {
			injectLegends(&layer.Layers[i])
		}
	}
	injectLegends(doc.Capability.Layer)
}

// normalizeWmsDoc rewrites namespaced element names to prefixed
// literal names and declares the prefixes on the root, so the output
// carries the same declarations as the backend document.
func normalizeWmsDoc(doc *wmsCapabilities) {
	namespaced := doc.XMLName.Space != ""
	doc.XMLName = xml.Name{Local: doc.XMLName.Local, Space: doc.XMLName.Space}

	attrs := []xml.Attr{}
	if namespaced {
		attrs = append(attrs,
			xml.Attr{Name: xml.Name{Local: "xmlns:sld"}, Value: nsSLD},
			xml.Attr{Name: xml.Name{Local: "xmlns:qgs"}, Value: nsQGS},
			xml.Attr{Name: xml.Name{Local: "xmlns:xlink"}, Value: nsXLink},
		)
		if doc.SchemaLocation != "" {
			attrs = append(attrs,
				xml.Attr{Name: xml.Name{Local: "xmlns:xsi"}, Value: nsXSI},
				xml.Attr{Name: xml.Name{Local: "xsi:schemaLocation"}, Value: doc.SchemaLocation},
			)
		}
	} else {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "xmlns:xlink"}, Value: nsXLink})
	}
	doc.SchemaLocation = ""
	for _, attr := range doc.ExtraAttrs {
		if attr.Name.Space == "" && attr.Name.Local != "xmlns" {
			attrs = append(attrs, attr)
		}
	}
	doc.ExtraAttrs = attrs

	for i := range doc.Capability.Request.Operations {
		op := &doc.Capability.Request.Operations[i]
		op.XMLName = prefixedName(op.XMLName)
	}
	for _, raw := range []*rawElement{
		doc.Service.KeywordList, doc.Service.ContactInformation,
		doc.Capability.Exception, doc.Capability.UserDefinedSymbolization,
		doc.Capability.WFSLayers,
	} {
		if raw != nil {
			raw.normalize()
		}
	}
	if doc.Capability.Layer != nil {
		normalizeWmsLayer(doc.Capability.Layer)
	}
}

func normalizeWmsLayer(layer *wmsLayer) {
	attrs := layer.ExtraAttrs[:0]
	for _, attr := range layer.ExtraAttrs {
		if attr.Name.Space == "" {
			attrs = append(attrs, attr)
		}
	}
	layer.ExtraAttrs = attrs
	for _, raw := range []*rawElement{
		layer.KeywordList, layer.EXGeographic, layer.LatLonBBox, layer.Attribution,
	} {
		if raw != nil {
			raw.normalize()
		}
	}
	for i := range layer.BoundingBoxes {
		layer.BoundingBoxes[i].normalize()
	}
	for i := range layer.Dimensions {
		layer.Dimensions[i].normalize()
	}
	for i := range layer.MetadataURLs {
		layer.MetadataURLs[i].normalize()
	}
	for i := range layer.DataURLs {
		layer.DataURLs[i].normalize()
	}
	for i := range layer.Layers {
		normalizeWmsLayer(&layer.Layers[i])
	}
}
