package ogc

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/qwc-services/qwc-ogc-service/internal/domain"
)

var wmsOperations = domain.Names{
	"GETCAPABILITIES", "GETPROJECTSETTINGS", "GETMAP", "GETFEATUREINFO",
	"GETLEGENDGRAPHIC", "GETLEGENDGRAPHICS", "DESCRIBELAYER",
	"GETSTYLE", "GETSTYLES", "GETPRINT", "GETSCHEMAEXTENSION",
}

// wmsLayerParams maps a WMS operation to its optional and mandatory
// layer list parameters.
var wmsLayerParams = map[string][2]string{
	"GETMAP":            {"LAYERS", ""},
	"GETFEATUREINFO":    {"LAYERS", "QUERY_LAYERS"},
	"GETLEGENDGRAPHIC":  {"", "LAYERS"},
	"GETLEGENDGRAPHICS": {"", "LAYERS"},
	"DESCRIBELAYER":     {"", "LAYERS"},
	"GETSTYLE":          {"", "LAYERS"},
	"GETSTYLES":         {"", "LAYERS"},
}

var infoFormats = domain.Names{"text/plain", "text/html", "text/xml"}

// themeLayerPattern matches external theme layer references which
// are resolved client-side and bypass the permission check.
var themeLayerPattern = regexp.MustCompile(`^(wms|wfs):(.+)#(.+)$`)

func isExternalLayer(name string) bool {
	return strings.HasPrefix(name, "EXTERNAL_WMS:") || themeLayerPattern.MatchString(name)
}

// CheckWmsRequest validates a classified WMS request against the
// effective permission. All failures are decided here, before any
// backend call.
func CheckWmsRequest(req *Request, perm *WmsPermission) error {
	if perm.Service == nil {
		return domain.Denied(domain.CodeServiceConfiguration, "Service unknown or unsupported")
	}
	if !wmsOperations.Has(req.Operation) {
		return domain.Malformed(domain.CodeOperationNotSupported, "Request %s is not supported", req.Operation)
	}

	switch req.Operation {
	case "GETFEATUREINFO":
		if req.Params.Get("LAYERS") != req.Params.Get("QUERY_LAYERS") {
			return domain.Malformed(domain.CodeInvalidParameter,
				"LAYERS must be identical to QUERY_LAYERS for GETFEATUREINFO operation")
		}
		infoFormat := req.Params.Get("INFO_FORMAT")
		if infoFormat == "" {
			infoFormat = "text/plain"
		}
		if !infoFormats.Has(infoFormat) {
			return domain.Malformed(domain.CodeInvalidFormat,
				"Feature info format '%s' is not supported. Possibilities are 'text/plain', 'text/html' or 'text/xml'.",
				infoFormat)
		}
	case "GETPRINT":
		template := req.Params.Get("TEMPLATE")
		if template != "" && !perm.PrintTemplates.Has(template) {
			return domain.Denied("Error", "Composer template not found or not permitted")
		}
	}

	layerParams, ok := wmsLayerParams[req.Operation]
	switch req.Operation {
	case "GETPRINT":
		if prefix := req.MapParamPrefix(); prefix != "" && req.Params.Has(prefix+":LAYERS") {
			layerParams = [2]string{prefix + ":LAYERS", ""}
			ok = true
		}
	case "GETLEGENDGRAPHIC", "GETLEGENDGRAPHICS":
		layerParams = [2]string{"", legendLayerParam(req.Params)}
	}
	if !ok {
		return nil
	}

	permitted := perm.Layers
	if req.Operation == "GETPRINT" || (req.Operation == "GETMAP" && req.Params.Get("FILENAME") != "") {
		// raster export and printing may reference background and
		// external layers
		permitted = permitted.Union(perm.InternalPrintLayers)
	}
	if layerParams[0] != "" {
		if err := checkLayersParam(req, layerParams[0], permitted, false); err != nil {
			return err
		}
	}
	if layerParams[1] != "" {
		if err := checkLayersParam(req, layerParams[1], permitted, true); err != nil {
			return err
		}
	}
	return nil
}

func checkLayersParam(req *Request, param string, permitted domain.Names, mandatory bool) error {
	requested := req.Params.Get(param)
	if requested == "" {
		if mandatory {
			return domain.Malformed(domain.CodeMissingParameter,
				"%s is mandatory for %s operation", param, req.Operation)
		}
		return nil
	}
	for _, layer := range strings.Split(requested, ",") {
		if layer != "" && !isExternalLayer(layer) && !permitted.Has(layer) {
			return domain.Denied(domain.CodeLayerNotDefined,
				"Layer %q does not exist or is not permitted", layer)
		}
	}
	return nil
}

// WmsAdjustment captures request state the response filter needs.
type WmsAdjustment struct {
	// InfoFormat is the feature info format the client asked for.
	// The backend is always queried with text/xml.
	InfoFormat string
}

// AdjustWmsRequest rewrites the forwarded parameters: permitted
// groups are expanded into their sublayers with matching opacities
// and styles, feature info is forced to text/xml upstream and legend
// requests get normalized format and font size defaults.
func AdjustWmsRequest(req *Request, perm *WmsPermission, legendFontSize string) WmsAdjustment {
	var adj WmsAdjustment

	switch req.Operation {
	case "GETMAP":
		if req.Params.Get("LAYERS") != "" {
			setLayerEntries(req.Params, "LAYERS", perm.ExpandLayers(layerEntries(req.Params, "LAYERS")))
		}

	case "GETFEATUREINFO":
		if requested := req.Params.Get("QUERY_LAYERS"); requested != "" {
			expanded := perm.ExpandQueryLayers(splitLayers(requested))
			expanded = expanded.Filter(perm.IsQueryable)
			req.Params.Set("QUERY_LAYERS", strings.Join(expanded, ","))
			req.Params.Set("LAYERS", strings.Join(expanded, ","))
			req.Params.Set("STYLES", strings.Repeat(",", max(len(expanded)-1, 0)))
		}
		adj.InfoFormat = req.Params.Get("INFO_FORMAT")
		if adj.InfoFormat == "" {
			adj.InfoFormat = "text/plain"
		}
		req.Params.Set("INFO_FORMAT", "text/xml")

	case "GETLEGENDGRAPHIC", "GETLEGENDGRAPHICS":
		param := legendLayerParam(req.Params)
		if requested := req.Params.Get(param); requested != "" {
			expanded := perm.ExpandQueryLayers(splitLayers(requested))
			req.Params.Set(param, strings.Join(expanded, ","))
		}
		// truncate portion after mime type, which the backend does
		// not support for legend formats
		if format := req.Params.Get("FORMAT"); format != "" {
			req.Params.Set("FORMAT", strings.SplitN(format, ";", 2)[0])
		}
		if legendFontSize != "" {
			if !req.Params.Has("LAYERFONTSIZE") {
				req.Params.Set("LAYERFONTSIZE", legendFontSize)
			}
			if !req.Params.Has("ITEMFONTSIZE") {
				req.Params.Set("ITEMFONTSIZE", legendFontSize)
			}
		}

	case "DESCRIBELAYER":
		if requested := req.Params.Get("LAYERS"); requested != "" {
			expanded := perm.ExpandQueryLayers(splitLayers(requested))
			req.Params.Set("LAYERS", strings.Join(expanded, ","))
		}

	case "GETPRINT":
		prefix := req.MapParamPrefix()
		if prefix == "" {
			break
		}
		param := prefix + ":LAYERS"
		if req.Params.Get(param) != "" {
			expanded := perm.ExpandLayers(layerEntries(req.Params, param))
			setLayerEntries(req.Params, param, expanded)
			// also set LAYERS so that the backend applies OPACITIES
			req.Params.Set("LAYERS", req.Params.Get(param))
		}
	}
	return adj
}

// legendLayerParam picks the legend layer list parameter: LAYERS when
// present, the singular LAYER otherwise.
func legendLayerParam(params Params) string {
	if params.Has("LAYERS") {
		return "LAYERS"
	}
	return "LAYER"
}

func splitLayers(value string) domain.Names {
	return domain.Names(strings.Split(value, ","))
}

// layerEntries zips the layer list parameter with OPACITIES and
// STYLES, padding missing opacities with 255 and styles with "".
func layerEntries(params Params, layersParam string) []LayerEntry {
	layers := strings.Split(params.Get(layersParam), ",")
	opacities := strings.Split(params.Get("OPACITIES"), ",")
	styles := strings.Split(params.Get("STYLES"), ",")

	entries := make([]LayerEntry, len(layers))
	for i, layer := range layers {
		opacity := 255
		if i < len(opacities) {
			if v, err := strconv.Atoi(opacities[i]); err == nil {
				opacity = min(max(v, 0), 255)
			}
		}
		style := ""
		if i < len(styles) {
			style = styles[i]
		}
		entries[i] = LayerEntry{Layer: layer, Opacity: opacity, Style: style}
	}
	return entries
}

func setLayerEntries(params Params, layersParam string, entries []LayerEntry) {
	layers := make([]string, len(entries))
	opacities := make([]string, len(entries))
	styles := make([]string, len(entries))
	for i, entry := range entries {
		layers[i] = entry.Layer
		opacities[i] = strconv.Itoa(entry.Opacity)
		styles[i] = entry.Style
	}
	params.Set(layersParam, strings.Join(layers, ","))
	params.Set("OPACITIES", strings.Join(opacities, ","))
	params.Set("STYLES", strings.Join(styles, ","))
}
