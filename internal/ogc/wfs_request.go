package ogc

import (
	"regexp"
	"strings"

	"github.com/qwc-services/qwc-ogc-service/internal/domain"
)

var wfsOperations = domain.Names{
	"GETCAPABILITIES", "DESCRIBEFEATURETYPE", "GETFEATURE", "TRANSACTION",
}

var nonWordPattern = regexp.MustCompile(`[^\w.\-_]`)

// CleanLayerName converts a configured layer name to the form the
// backend reports in WFS documents.
func CleanLayerName(name string) string {
	return strings.ReplaceAll(strings.ReplaceAll(name, " ", "_"), ":", "-")
}

// CleanAttributeName converts a configured attribute name to the
// form the backend reports in WFS documents.
func CleanAttributeName(name string) string {
	return nonWordPattern.ReplaceAllString(strings.ReplaceAll(name, " ", "_"), "")
}

// CheckWfsRequest validates a classified WFS request against the
// effective permission.
func CheckWfsRequest(req *Request, perm *WfsPermission) error {
	if perm.Service == nil {
		return domain.Denied(domain.CodeServiceConfiguration, "Service unknown or unsupported")
	}
	if !wfsOperations.Has(req.Operation) {
		return domain.Malformed(domain.CodeOperationNotSupported, "Request %s is not supported", req.Operation)
	}

	permitted := domain.Names{}
	for _, layer := range perm.Layers {
		permitted = append(permitted, CleanLayerName(layer))
	}

	for _, typename := range strings.Split(req.Params.Get("TYPENAME"), ",") {
		if typename != "" && !permitted.Has(CleanLayerName(typename)) {
			return domain.Denied("RequestNotWellFormed",
				"TypeName '%s' could not be found or is not permitted", typename)
		}
	}
	for _, featureid := range strings.Split(req.Params.Get("FEATUREID"), ",") {
		if featureid == "" {
			continue
		}
		typename := strings.SplitN(featureid, ".", 2)[0]
		if !permitted.Has(CleanLayerName(typename)) {
			return domain.Denied("RequestNotWellFormed",
				"TypeName '%s' could not be found or is not permitted", typename)
		}
	}

	if req.Operation == "GETFEATURE" &&
		req.Params.Get("TYPENAME") == "" && req.Params.Get("FEATUREID") == "" {
		return domain.Malformed(domain.CodeMissingParameter, "TYPENAME is mandatory for GETFEATURE operation")
	}
	return nil
}

// getFeatureFormats maps requested output formats to the backend
// format names.
var getFeatureFormats = map[string]string{
	"gml2":                        "gml2",
	"text/xml; subtype=gml/2.1.2": "gml2",
	"gml3":                        "gml3",
	"text/xml; subtype=gml/3.1.1": "gml3",
	"geojson":                     "geojson",
	"application/vnd.geo+json":    "geojson",
	"application/vnd.geo json":    "geojson",
	"application/geo+json":        "geojson",
	"application/geo json":        "geojson",
	"application/json":            "geojson",
}

// AdjustWfsRequest normalizes the protocol version and the
// GetFeature output format before forwarding.
func AdjustWfsRequest(req *Request) {
	if req.Version != "1.0.0" && req.Version != "1.1.0" {
		req.Version = "1.1.0"
		req.Params.Set("VERSION", "1.1.0")
	}
	if req.Operation == "GETFEATURE" {
		format, ok := getFeatureFormats[strings.ToLower(req.Params.Get("OUTPUTFORMAT"))]
		if !ok {
			if req.Version == "1.1.0" {
				format = "gml3"
			} else {
				format = "gml2"
			}
		}
		req.Params.Set("OUTPUTFORMAT", format)
	}
}
