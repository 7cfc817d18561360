package ogc

import (
	"bytes"
	"encoding/xml"
	"regexp"
	"strings"

	"github.com/qwc-services/qwc-ogc-service/internal/domain"
)

// wfsCapabilities models WFS GetCapabilities documents for 1.0.0 and
// 1.1.0. Only the feature type list is filtered element-wise; the
// surrounding sections round-trip as raw subtrees.
type wfsCapabilities struct {
	XMLName        xml.Name
	Version        string     `xml:"version,attr,omitempty"`
	UpdateSequence string     `xml:"updateSequence,attr,omitempty"`
	SchemaLocation string     `xml:"http://www.w3.org/2001/XMLSchema-instance schemaLocation,attr,omitempty"`
	ExtraAttrs     []xml.Attr `xml:",any,attr"`

	// 1.1.0 sections
	ServiceIdentification *rawElement `xml:"ServiceIdentification"`
	ServiceProvider       *rawElement `xml:"ServiceProvider"`
	OperationsMetadata    *rawElement `xml:"OperationsMetadata"`

	// 1.0.0 sections
	Service    *rawElement `xml:"Service"`
	Capability *rawElement `xml:"Capability"`

	FeatureTypeList    *wfsFeatureTypeList `xml:"FeatureTypeList"`
	FilterCapabilities *rawElement         `xml:"Filter_Capabilities"`
}

type wfsFeatureTypeList struct {
	XMLName      xml.Name
	Operations   *rawElement      `xml:"Operations"`
	FeatureTypes []wfsFeatureType `xml:"FeatureType"`
}

type wfsFeatureType struct {
	XMLName xml.Name
	Name    string       `xml:"Name"`
	Extra   []rawElement `xml:",any"`
}

// connection point URLs in the operations sections, by version
var (
	owsMethodHrefPattern     = regexp.MustCompile(`(<(?:\w+:)?(?:Get|Post)\b[^>]*xlink:href=")[^"]*(")`)
	wfsMethodResourcePattern = regexp.MustCompile(`(<(?:\w+:)?(?:Get|Post)\b[^>]*onlineResource=")[^"]*(")`)

	owsTransactionPattern = regexp.MustCompile(`(?s)<(?:\w+:)?Operation\s+name="Transaction".*?</(?:\w+:)?Operation>`)
	wfsTransactionPattern = regexp.MustCompile(`(?s)<(?:\w+:)?Transaction\b.*?</(?:\w+:)?Transaction>`)
)

// FilterWfsCapabilities prunes a backend WFS capabilities document to
// the permitted feature types, rewrites the advertised connection
// points to the public-facing URL and drops the Transaction
// advertisement when the identity has no writable layers.
func FilterWfsCapabilities(data []byte, perm *WfsPermission, serviceURL string) ([]byte, error) {
	var doc wfsCapabilities
	if err := xml.Unmarshal(stripControlChars(data), &doc); err != nil {
		return nil, &domain.UpstreamError{Err: err}
	}

	if doc.FeatureTypeList != nil {
		kept := []wfsFeatureType{}
		for _, featureType := range doc.FeatureTypeList.FeatureTypes {
			if perm.Visible(CleanLayerName(featureType.Name)) {
				kept = append(kept, featureType)
			}
		}
		doc.FeatureTypeList.FeatureTypes = kept
	}

	escapedURL := urlReplacement(serviceURL)
	writable := len(perm.Creatable)+len(perm.Updatable)+len(perm.Deletable) > 0
	if doc.OperationsMetadata != nil {
		content := owsMethodHrefPattern.ReplaceAllString(doc.OperationsMetadata.Content, "${1}"+escapedURL+"${2}")
		if !writable {
			content = owsTransactionPattern.ReplaceAllString(content, "")
		}
		doc.OperationsMetadata.Content = content
	}
	if doc.Capability != nil {
		content := wfsMethodResourcePattern.ReplaceAllString(doc.Capability.Content, "${1}"+escapedURL+"${2}")
		if !writable {
			content = wfsTransactionPattern.ReplaceAllString(content, "")
		}
		doc.Capability.Content = content
	}

	normalizeWfsCapabilities(&doc)

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(&doc); err != nil {
		return nil, &domain.UpstreamError{Err: err}
	}
	return buf.Bytes(), nil
}

func normalizeWfsCapabilities(doc *wfsCapabilities) {
	required := map[string]string{"xlink": nsXLink, "ogc": nsOGC}
	if doc.OperationsMetadata != nil {
		required["ows"] = nsOWS
	}
	attrs := xmlnsAttrs(doc.ExtraAttrs, required)
	if doc.SchemaLocation != "" {
		if !hasAttr(attrs, "xmlns:xsi") {
			attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "xmlns:xsi"}, Value: nsXSI})
		}
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "xsi:schemaLocation"}, Value: doc.SchemaLocation})
		doc.SchemaLocation = ""
	}
	doc.ExtraAttrs = attrs

	for _, raw := range []*rawElement{
		doc.ServiceIdentification, doc.ServiceProvider, doc.OperationsMetadata,
		doc.Service, doc.Capability, doc.FilterCapabilities,
	} {
		if raw != nil {
			raw.normalizeDefault(nsWFS)
		}
	}
	if doc.FeatureTypeList != nil {
		doc.FeatureTypeList.XMLName = xml.Name{Local: "FeatureTypeList"}
		if doc.FeatureTypeList.Operations != nil {
			doc.FeatureTypeList.Operations.normalizeDefault(nsWFS)
		}
		for i := range doc.FeatureTypeList.FeatureTypes {
			featureType := &doc.FeatureTypeList.FeatureTypes[i]
			featureType.XMLName = xml.Name{Local: "FeatureType"}
			for j := range featureType.Extra {
				featureType.Extra[j].normalizeDefault(nsWFS)
			}
		}
	}
}

// urlReplacement XML-escapes a URL and quotes it for use as a regexp
// replacement string.
func urlReplacement(value string) string {
	var buf strings.Builder
	xml.EscapeText(&buf, []byte(value))
	return strings.ReplaceAll(buf.String(), "$", "$$")
}
