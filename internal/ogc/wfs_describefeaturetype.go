package ogc

import (
	"bytes"
	"encoding/xml"
	"strings"

	"github.com/qwc-services/qwc-ogc-service/internal/domain"
)

// wfsSchema models the XSD document returned by DescribeFeatureType.
type wfsSchema struct {
	XMLName            xml.Name   `xml:"http://www.w3.org/2001/XMLSchema schema"`
	TargetNamespace    string     `xml:"targetNamespace,attr,omitempty"`
	ElementFormDefault string     `xml:"elementFormDefault,attr,omitempty"`
	Version            string     `xml:"version,attr,omitempty"`
	ExtraAttrs         []xml.Attr `xml:",any,attr"`

	Imports      []rawElement     `xml:"import"`
	Elements     []wfsTypeElement `xml:"element"`
	ComplexTypes []wfsComplexType `xml:"complexType"`
}

type wfsTypeElement struct {
	XMLName           xml.Name
	Name              string     `xml:"name,attr"`
	Type              string     `xml:"type,attr"`
	SubstitutionGroup string     `xml:"substitutionGroup,attr,omitempty"`
	ExtraAttrs        []xml.Attr `xml:",any,attr"`
}

type wfsComplexType struct {
	XMLName        xml.Name
	Name           string            `xml:"name,attr"`
	ComplexContent wfsComplexContent `xml:"complexContent"`
}

type wfsComplexContent struct {
	XMLName   xml.Name
	Extension wfsTypeExtension `xml:"extension"`
}

type wfsTypeExtension struct {
	XMLName  xml.Name
	Base     string              `xml:"base,attr"`
	Elements []wfsAttributeField `xml:"sequence>element"`
}

// wfsAttributeField is one attribute declaration inside a feature
// type sequence; nested simple type restrictions round-trip verbatim.
type wfsAttributeField struct {
	XMLName    xml.Name
	Name       string     `xml:"name,attr"`
	ExtraAttrs []xml.Attr `xml:",any,attr"`
	Content    string     `xml:",innerxml"`
}

// FilterDescribeFeatureType prunes a DescribeFeatureType schema to
// the permitted feature types and their permitted attributes.
func FilterDescribeFeatureType(data []byte, perm *WfsPermission) ([]byte, error) {
	var doc wfsSchema
	if err := xml.Unmarshal(stripControlChars(data), &doc); err != nil {
		return nil, &domain.UpstreamError{Err: err}
	}

	// the complex type names carry no layer name of their own; map
	// them back through the root element declarations
	typeNames := map[string]string{}
	elements := []wfsTypeElement{}
	for _, element := range doc.Elements {
		typename := CleanLayerName(element.Name)
		typeNames[strings.TrimPrefix(element.Type, "qgs:")] = typename
		if perm.Visible(typename) {
			elements = append(elements, element)
		}
	}
	doc.Elements = elements

	complexTypes := []wfsComplexType{}
	for _, complexType := range doc.ComplexTypes {
		typename, ok := typeNames[complexType.Name]
		if !ok || !perm.Visible(typename) {
			continue
		}
		permitted := perm.Attributes[typename]
		fields := []wfsAttributeField{}
		for _, field := range complexType.ComplexContent.Extension.Elements {
			name := CleanAttributeName(field.Name)
			if name == GeometryAttribute || permitted.Has(name) {
				fields = append(fields, field)
			}
		}
		complexType.ComplexContent.Extension.Elements = fields
		complexTypes = append(complexTypes, complexType)
	}
	doc.ComplexTypes = complexTypes

	normalizeWfsSchema(&doc)

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(&doc); err != nil {
		return nil, &domain.UpstreamError{Err: err}
	}
	return buf.Bytes(), nil
}

func normalizeWfsSchema(doc *wfsSchema) {
	// qgs and gml only appear inside attribute values, declare them
	// explicitly
	doc.ExtraAttrs = xmlnsAttrs(doc.ExtraAttrs, map[string]string{
		"qgs": nsQGSF,
		"gml": nsGML,
	})
	for i := range doc.Imports {
		doc.Imports[i].normalizeDefault(nsXSD)
	}
	for i := range doc.Elements {
		doc.Elements[i].XMLName = xml.Name{Local: "element"}
	}
	for i := range doc.ComplexTypes {
		complexType := &doc.ComplexTypes[i]
		complexType.XMLName = xml.Name{Local: "complexType"}
		complexType.ComplexContent.XMLName = xml.Name{Local: "complexContent"}
		complexType.ComplexContent.Extension.XMLName = xml.Name{Local: "extension"}
		for j := range complexType.ComplexContent.Extension.Elements {
			complexType.ComplexContent.Extension.Elements[j].XMLName = xml.Name{Local: "element"}
		}
	}
}
