package ogc

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/qwc-services/qwc-ogc-service/internal/domain"
)

// gmlFeatureCollection models a GML GetFeature response. Feature
// payloads round-trip as raw subtrees apart from the attribute
// elements being filtered.
type gmlFeatureCollection struct {
	XMLName        xml.Name
	SchemaLocation string     `xml:"http://www.w3.org/2001/XMLSchema-instance schemaLocation,attr,omitempty"`
	ExtraAttrs     []xml.Attr `xml:",any,attr"`

	BoundedBy *rawElement        `xml:"boundedBy"`
	Members   []gmlFeatureMember `xml:"featureMember"`
}

type gmlFeatureMember struct {
	XMLName  xml.Name
	Features []gmlFeature `xml:",any"`
}

type gmlFeature struct {
	XMLName  xml.Name
	Attrs    []xml.Attr   `xml:",any,attr"`
	Children []rawElement `xml:",any"`
}

// FilterGmlFeatures prunes a GML GetFeature response to the permitted
// feature types and attributes and rewrites the backend URL in the
// schema location to the public-facing one.
func FilterGmlFeatures(data []byte, perm *WfsPermission, internalURL, serviceURL string) ([]byte, error) {
	var doc gmlFeatureCollection
	if err := xml.Unmarshal(stripControlChars(data), &doc); err != nil {
		return nil, &domain.UpstreamError{Err: err}
	}

	if doc.SchemaLocation != "" && internalURL != "" {
		doc.SchemaLocation = strings.ReplaceAll(doc.SchemaLocation, internalURL, serviceURL)
	}

	for i := range doc.Members {
		member := &doc.Members[i]
		features := []gmlFeature{}
		for _, feature := range member.Features {
			typename := CleanLayerName(feature.XMLName.Local)
			if !perm.Visible(typename) {
				continue
			}
			permitted := perm.Attributes[typename]
			children := []rawElement{}
			for _, child := range feature.Children {
				if child.XMLName.Space == nsGML && child.XMLName.Local == "boundedBy" {
					children = append(children, child)
					continue
				}
				name := CleanAttributeName(child.XMLName.Local)
				if name == GeometryAttribute || permitted.Has(name) {
					children = append(children, child)
				}
			}
			feature.Children = children
			features = append(features, feature)
		}
		member.Features = features
	}

	normalizeGmlCollection(&doc)

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(&doc); err != nil {
		return nil, &domain.UpstreamError{Err: err}
	}
	return buf.Bytes(), nil
}

func normalizeGmlCollection(doc *gmlFeatureCollection) {
	attrs := xmlnsAttrs(doc.ExtraAttrs, map[string]string{
		"wfs": nsWFS,
		"gml": nsGML,
		"qgs": nsQGSF,
	})
	if doc.SchemaLocation != "" {
		if !hasAttr(attrs, "xmlns:xsi") {
			attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "xmlns:xsi"}, Value: nsXSI})
		}
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "xsi:schemaLocation"}, Value: doc.SchemaLocation})
		doc.SchemaLocation = ""
	}
	doc.ExtraAttrs = attrs
	doc.XMLName = prefixedName(doc.XMLName)
	if doc.BoundedBy != nil {
		doc.BoundedBy.normalize()
	}
	for i := range doc.Members {
		member := &doc.Members[i]
		member.XMLName = xml.Name{Local: "gml:featureMember"}
		for j := range member.Features {
			feature := &member.Features[j]
			feature.XMLName = prefixedName(feature.XMLName)
			for k := range feature.Children {
				feature.Children[k].normalize()
			}
		}
	}
}

// geoJSONCollection models a GeoJSON GetFeature response; feature
// properties keep their document order through filtering.
type geoJSONCollection struct {
	Type     string              `json:"type"`
	Features []geoJSONFeature    `json:"features"`
	CRS      jsoniter.RawMessage `json:"crs,omitempty"`
	BBox     jsoniter.RawMessage `json:"bbox,omitempty"`
}

type geoJSONFeature struct {
	Type       string              `json:"type"`
	ID         jsoniter.RawMessage `json:"id,omitempty"`
	Geometry   jsoniter.RawMessage `json:"geometry"`
	BBox       jsoniter.RawMessage `json:"bbox,omitempty"`
	Properties OrderedProperties   `json:"properties"`
}

type PropertyValue struct {
	Name  string
	Value jsoniter.RawMessage
}

type OrderedProperties []PropertyValue

func (p *OrderedProperties) UnmarshalJSON(data []byte) error {
	iter := jsoniter.ParseBytes(jsoniter.ConfigCompatibleWithStandardLibrary, data)
	switch iter.WhatIsNext() {
	case jsoniter.NilValue:
		iter.ReadNil()
	case jsoniter.ObjectValue:
		for name := iter.ReadObject(); name != ""; name = iter.ReadObject() {
			raw := iter.SkipAndReturnBytes()
			*p = append(*p, PropertyValue{Name: name, Value: append(jsoniter.RawMessage(nil), raw...)})
		}
	default:
		return fmt.Errorf("properties: expected object")
	}
	if iter.Error != nil && iter.Error != io.EOF {
		return fmt.Errorf("properties: %w", iter.Error)
	}
	return nil
}

func (p OrderedProperties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, prop := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(prop.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(prop.Value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// FilterGeoJSONFeatures prunes a GeoJSON GetFeature response to the
// permitted feature types and attributes. The feature type comes from
// the feature id prefix.
func FilterGeoJSONFeatures(data []byte, perm *WfsPermission) ([]byte, error) {
	var doc geoJSONCollection
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(stripControlChars(data), &doc); err != nil {
		return nil, &domain.UpstreamError{Err: err}
	}

	features := []geoJSONFeature{}
	for _, feature := range doc.Features {
		typename := geoJSONTypename(feature.ID)
		if !perm.Visible(typename) {
			continue
		}
		permitted := perm.Attributes[typename]
		properties := OrderedProperties{}
		for _, prop := range feature.Properties {
			if permitted.Has(CleanAttributeName(prop.Name)) {
				properties = append(properties, prop)
			}
		}
		feature.Properties = properties
		features = append(features, feature)
	}
	doc.Features = features

	body, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(&doc)
	if err != nil {
		return nil, &domain.UpstreamError{Err: err}
	}
	return body, nil
}

func geoJSONTypename(raw jsoniter.RawMessage) string {
	id := string(raw)
	if len(raw) > 0 && raw[0] == '"' {
		if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(raw, &id); err != nil {
			return ""
		}
	}
	i := strings.LastIndex(id, ".")
	if i < 0 {
		return ""
	}
	return CleanLayerName(id[:i])
}
