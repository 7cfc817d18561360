package ogc

import (
	"encoding/xml"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// XML namespaces appearing in backend OGC documents.
const (
	nsWMS   = "http://www.opengis.net/wms"
	nsWFS   = "http://www.opengis.net/wfs"
	nsOWS   = "http://www.opengis.net/ows"
	nsOGC   = "http://www.opengis.net/ogc"
	nsGML   = "http://www.opengis.net/gml"
	nsSLD   = "http://www.opengis.net/sld"
	nsQGS   = "http://www.qgis.org/wms"
	nsQGSF  = "http://www.qgis.org/gml"
	nsXLink = "http://www.w3.org/1999/xlink"
	nsXSI   = "http://www.w3.org/2001/XMLSchema-instance"
	nsXSD   = "http://www.w3.org/2001/XMLSchema"
)

// nsPrefixes maps namespace URLs to the canonical prefixes declared
// on document roots. Element names are rewritten to prefixed literal
// names before marshalling, so nested elements keep the default
// document namespace.
var nsPrefixes = map[string]string{
	nsSLD:  "sld",
	nsQGS:  "qgs",
	nsQGSF: "qgs",
	nsGML:  "gml",
	nsOWS:  "ows",
	nsOGC:  "ogc",
	nsWFS:  "wfs",
}

func prefixedName(name xml.Name) xml.Name {
	if prefix, ok := nsPrefixes[name.Space]; ok {
		return xml.Name{Local: prefix + ":" + name.Local}
	}
	return xml.Name{Local: name.Local}
}

func localName(name xml.Name) string {
	if i := strings.Index(name.Local, ":"); i >= 0 {
		return name.Local[i+1:]
	}
	return name.Local
}

// rawElement round-trips a document subtree that is not filtered,
// keeping its attributes and inner content verbatim.
type rawElement struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Content string     `xml:",innerxml"`
}

// normalize rewrites the element and attribute names to prefixed
// literal names so re-marshalling does not spray xmlns declarations
// over every element.
func (e *rawElement) normalize() {
	e.XMLName = prefixedName(e.XMLName)
	for i, attr := range e.Attrs {
		if attr.Name.Space != "" {
			if prefix, ok := nsPrefixes[attr.Name.Space]; ok {
				e.Attrs[i].Name = xml.Name{Local: prefix + ":" + attr.Name.Local}
			} else if attr.Name.Space == nsXLink {
				e.Attrs[i].Name = xml.Name{Local: "xlink:" + attr.Name.Local}
			} else if attr.Name.Space == nsXSI {
				e.Attrs[i].Name = xml.Name{Local: "xsi:" + attr.Name.Local}
			} else if attr.Name.Space == "xmlns" {
				e.Attrs[i].Name = xml.Name{Local: "xmlns:" + attr.Name.Local}
			}
		}
	}
}

// normalizeDefault is normalize for documents with a default
// namespace: elements in the default namespace keep their bare local
// name instead of getting a prefix.
func (e *rawElement) normalizeDefault(defaultNS string) {
	space := e.XMLName.Space
	e.normalize()
	if space == defaultNS {
		e.XMLName = xml.Name{Local: localName(e.XMLName)}
	}
}

// xmlnsAttrs rewrites decoded xmlns declarations back to literal
// attribute names and appends any required declarations the source
// document did not carry.
func xmlnsAttrs(decoded []xml.Attr, required map[string]string) []xml.Attr {
	attrs := []xml.Attr{}
	seen := map[string]bool{}
	for _, attr := range decoded {
		switch {
		case attr.Name.Space == "xmlns":
			attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "xmlns:" + attr.Name.Local}, Value: attr.Value})
			seen[attr.Name.Local] = true
		case attr.Name.Space == "" && attr.Name.Local != "xmlns":
			attrs = append(attrs, attr)
		}
	}
	prefixes := make([]string, 0, len(required))
	for prefix := range required {
		prefixes = append(prefixes, prefix)
	}
	sort.Strings(prefixes)
	for _, prefix := range prefixes {
		if !seen[prefix] {
			attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "xmlns:" + prefix}, Value: required[prefix]})
		}
	}
	return attrs
}

func hasAttr(attrs []xml.Attr, local string) bool {
	for _, attr := range attrs {
		if attr.Name.Local == local {
			return true
		}
	}
	return false
}

// OnlineResource is an xlink-style resource reference. It marshals
// with literal xlink attribute names; the xlink namespace is declared
// on the document root.
type OnlineResource struct {
	Href string
	Type string
}

func (o *OnlineResource) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "href":
			o.Href = attr.Value
		case "type":
			o.Type = attr.Value
		}
	}
	return d.Skip()
}

func (o OnlineResource) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Attr = start.Attr[:0]
	if o.Type != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "xlink:type"}, Value: o.Type})
	}
	start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "xlink:href"}, Value: o.Href})
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

// rewriteResourceURL replaces the base of a backend-internal URL with
// a public-facing base, keeping the original query string minus the
// MAP parameter, which only makes sense backend-side.
func rewriteResourceURL(oldURL, newBase string) string {
	parsed, err := url.Parse(oldURL)
	if err != nil || !strings.HasPrefix(parsed.Scheme, "http") {
		return oldURL
	}
	if !strings.Contains(oldURL, "?") {
		return newBase
	}
	pairs := []string{}
	for _, pair := range strings.Split(parsed.RawQuery, "&") {
		if pair == "" {
			continue
		}
		key := strings.SplitN(pair, "=", 2)[0]
		if strings.EqualFold(key, "map") {
			continue
		}
		pairs = append(pairs, pair)
	}
	return strings.TrimSuffix(newBase, "?") + "?" + strings.Join(pairs, "&")
}

var controlCharPattern = regexp.MustCompile("[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]")

// stripControlChars removes control characters which occasionally
// leak into backend XML and break parsing.
func stripControlChars(data []byte) []byte {
	return controlCharPattern.ReplaceAll(data, nil)
}
