package ogc

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"html"

	"github.com/qwc-services/qwc-ogc-service/internal/domain"
)

// featureInfoResponse models the backend GetFeatureInfo text/xml
// document.
type featureInfoResponse struct {
	XMLName     xml.Name           `xml:"GetFeatureInfoResponse"`
	Layers      []featureInfoLayer `xml:"Layer"`
	BoundingBox *rawElement        `xml:"BoundingBox"`
}

type featureInfoLayer struct {
	Name     string               `xml:"name,attr"`
	Title    string               `xml:"title,attr,omitempty"`
	Features []featureInfoFeature `xml:"Feature"`
	// raster layers report attributes directly on the layer
	Attributes []featureInfoAttribute `xml:"Attribute"`
}

type featureInfoFeature struct {
	ID          string                 `xml:"id,attr"`
	BoundingBox *rawElement            `xml:"BoundingBox"`
	Attributes  []featureInfoAttribute `xml:"Attribute"`
}

type featureInfoAttribute struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// FilterFeatureInfo prunes a backend GetFeatureInfo response to the
// permitted queryable layers and attributes and renders it in the
// client's requested format. The backend reports layer titles and
// attribute aliases, so matching goes through the configured alias
// maps; output attributes follow the configured order.
func FilterFeatureInfo(data []byte, perm *WmsPermission, infoFormat string) ([]byte, string, error) {
	var doc featureInfoResponse
	if err := xml.Unmarshal(stripControlChars(data), &doc); err != nil {
		return nil, "", &domain.UpstreamError{Err: err}
	}

	kept := []featureInfoLayer{}
	for _, layer := range doc.Layers {
		name, ok := perm.InfoAliases[layer.Name]
		if !ok {
			name = layer.Name
		}
		if !perm.IsQueryable(name) {
			continue
		}
		permitted := perm.Attributes[name]
		if len(permitted) == 0 {
			configured := layerConfiguredAttributes(perm, name)
			if configured > 0 {
				// permitted attribute set is empty, nothing to show
				continue
			}
			// attribute-less layer (e.g. raster): keep reported values
		} else {
			for i, feature := range layer.Features {
				layer.Features[i].Attributes = selectInfoAttributes(feature.Attributes, permitted)
			}
		}
		layer.Title = perm.Title(name)
		kept = append(kept, layer)
	}
	doc.Layers = kept
	if doc.BoundingBox != nil {
		doc.BoundingBox.normalize()
	}

	switch infoFormat {
	case "text/xml":
		var buf bytes.Buffer
		buf.WriteString(xml.Header)
		if err := xml.NewEncoder(&buf).Encode(&doc); err != nil {
			return nil, "", &domain.UpstreamError{Err: err}
		}
		return buf.Bytes(), "text/xml", nil
	case "text/html":
		return renderFeatureInfoHTML(&doc), "text/html", nil
	default:
		return renderFeatureInfoPlain(&doc), "text/plain", nil
	}
}

func layerConfiguredAttributes(perm *WmsPermission, name string) int {
	if layer := perm.Service.Layer(name); layer != nil {
		return len(layer.Attributes)
	}
	return 0
}

// selectInfoAttributes keeps permitted attributes in configured
// order. The backend reports aliases, so matching and ordering go by
// alias.
func selectInfoAttributes(attrs []featureInfoAttribute, permitted domain.AttributeList) []featureInfoAttribute {
	byAlias := make(map[string]featureInfoAttribute, len(attrs))
	for _, attr := range attrs {
		byAlias[attr.Name] = attr
	}
	res := []featureInfoAttribute{}
	for _, permittedAttr := range permitted {
		if attr, ok := byAlias[permittedAttr.Alias]; ok {
			res = append(res, attr)
		}
	}
	return res
}

func renderFeatureInfoPlain(doc *featureInfoResponse) []byte {
	var buf bytes.Buffer
	buf.WriteString("GetFeatureInfo results\n\n")
	for _, layer := range doc.Layers {
		fmt.Fprintf(&buf, "Layer '%s'\n", layer.Title)
		for _, feature := range layer.Features {
			fmt.Fprintf(&buf, "Feature %s\n", feature.ID)
			for _, attr := range feature.Attributes {
				fmt.Fprintf(&buf, "%s = '%s'\n", attr.Name, attr.Value)
			}
		}
		for _, attr := range layer.Attributes {
			fmt.Fprintf(&buf, "%s = '%s'\n", attr.Name, attr.Value)
		}
		buf.WriteString("\n")
	}
	return buf.Bytes()
}

func renderFeatureInfoHTML(doc *featureInfoResponse) []byte {
	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html>\n")
	buf.WriteString("<head>\n<title>Information</title>\n")
	buf.WriteString(`<meta http-equiv="Content-Type" content="text/html; charset=utf-8" />` + "\n")
	buf.WriteString("<style>\n")
	buf.WriteString("  body { font-family: \"Open Sans\", \"Calluna Sans\", \"Gill Sans MT\", \"Calibri\", \"Trebuchet MS\", sans-serif; }\n")
	buf.WriteString("  table, th, td { width: 100%; border: 1px solid black; border-collapse: collapse; text-align: left; padding: 2px; }\n")
	buf.WriteString("  th { width: 25%; font-weight: bold; }\n")
	buf.WriteString("  .layer-title { font-weight: bold; padding: 2px; }\n")
	buf.WriteString("</style>\n</head>\n<body>\n")
	for _, layer := range doc.Layers {
		if len(layer.Features) > 0 {
			fmt.Fprintf(&buf, "<div class=\"layer-title\">%s</div>\n", html.EscapeString(layer.Title))
		}
		for _, feature := range layer.Features {
			buf.WriteString("<table>\n")
			for _, attr := range feature.Attributes {
				fmt.Fprintf(&buf, "<tr><th>%s</th><td>%s</td></tr>\n",
					html.EscapeString(attr.Name), html.EscapeString(attr.Value))
			}
			buf.WriteString("</table>\n")
		}
	}
	buf.WriteString("</body>\n")
	return buf.Bytes()
}
