package ogc

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qwc-services/qwc-ogc-service/internal/domain"
)

func TestParamsFromValues(t *testing.T) {
	params := ParamsFromValues(url.Values{"service": {"WMS"}, "Request": {"GetMap"}})
	assert.Equal(t, "WMS", params.Get("SERVICE"))
	assert.Equal(t, "GetMap", params.Get("REQUEST"))
	assert.True(t, params.Has("REQUEST"))
	assert.False(t, params.Has("VERSION"))
}

func TestParseRequest(t *testing.T) {
	req, err := ParseRequest(Params{"SERVICE": "wms", "REQUEST": "GetMap", "VERSION": "1.3.0"})
	require.NoError(t, err)
	assert.Equal(t, ServiceWMS, req.Service)
	assert.Equal(t, "GETMAP", req.Operation)
	assert.Equal(t, "1.3.0", req.Version)
}

func TestParseRequestMissingService(t *testing.T) {
	_, err := ParseRequest(Params{"REQUEST": "GetMap"})
	var reqErr *domain.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, domain.CodeMissingParameter, reqErr.Code)
}

func TestParseRequestUnknownService(t *testing.T) {
	_, err := ParseRequest(Params{"SERVICE": "WCS", "REQUEST": "GetCoverage"})
	var reqErr *domain.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, domain.CodeInvalidParameter, reqErr.Code)
}

func TestRequireAuth(t *testing.T) {
	req, err := ParseRequest(Params{"SERVICE": "WMS", "REQUEST": "GetMap", "REQUIREAUTH": "1"})
	require.NoError(t, err)
	assert.True(t, req.RequireAuth())
}

func TestMapParamPrefix(t *testing.T) {
	req := &Request{Params: Params{"MAP0:EXTENT": "0,0,1,1", "MAP0:LAYERS": "forests"}}
	assert.Equal(t, "MAP0", req.MapParamPrefix())

	req = &Request{Params: Params{"LAYERS": "forests"}}
	assert.Equal(t, "", req.MapParamPrefix())
}

func wmsRequest(t *testing.T, params Params) *Request {
	t.Helper()
	params["SERVICE"] = "WMS"
	req, err := ParseRequest(params)
	require.NoError(t, err)
	return req
}

func TestCheckWmsRequestUnknownService(t *testing.T) {
	perm := ResolveWms(testCatalog(), testPermissions(), "missing", domain.Anonymous())
	req := wmsRequest(t, Params{"REQUEST": "GetMap"})
	var permErr *domain.PermissionError
	assert.ErrorAs(t, CheckWmsRequest(req, perm), &permErr)
}

func TestCheckWmsRequestUnsupportedOperation(t *testing.T) {
	perm := ResolveWms(testCatalog(), testPermissions(), "demo", domain.Anonymous())
	req := wmsRequest(t, Params{"REQUEST": "GetContext"})
	var reqErr *domain.RequestError
	require.ErrorAs(t, CheckWmsRequest(req, perm), &reqErr)
	assert.Equal(t, domain.CodeOperationNotSupported, reqErr.Code)
}

func TestCheckWmsRequestLayers(t *testing.T) {
	perm := ResolveWms(testCatalog(), testPermissions(), "demo", domain.Anonymous())

	req := wmsRequest(t, Params{"REQUEST": "GetMap", "LAYERS": "forests,basemap"})
	assert.NoError(t, CheckWmsRequest(req, perm))

	req = wmsRequest(t, Params{"REQUEST": "GetMap", "LAYERS": "forests,rivers"})
	var permErr *domain.PermissionError
	require.ErrorAs(t, CheckWmsRequest(req, perm), &permErr)
	assert.Equal(t, domain.CodeLayerNotDefined, permErr.Code)
}

func TestCheckWmsRequestExternalLayers(t *testing.T) {
	perm := ResolveWms(testCatalog(), testPermissions(), "demo", domain.Anonymous())
	req := wmsRequest(t, Params{"REQUEST": "GetMap", "LAYERS": "EXTERNAL_WMS:A,forests"})
	assert.NoError(t, CheckWmsRequest(req, perm))
}

func TestCheckWmsRequestFeatureInfo(t *testing.T) {
	perm := ResolveWms(testCatalog(), testPermissions(), "demo", domain.Anonymous())

	req := wmsRequest(t, Params{"REQUEST": "GetFeatureInfo", "LAYERS": "forests", "QUERY_LAYERS": "forests"})
	assert.NoError(t, CheckWmsRequest(req, perm))

	req = wmsRequest(t, Params{"REQUEST": "GetFeatureInfo", "LAYERS": "forests", "QUERY_LAYERS": "basemap"})
	assert.Error(t, CheckWmsRequest(req, perm))

	req = wmsRequest(t, Params{"REQUEST": "GetFeatureInfo", "LAYERS": "forests", "QUERY_LAYERS": "forests", "INFO_FORMAT": "application/json"})
	var reqErr *domain.RequestError
	require.ErrorAs(t, CheckWmsRequest(req, perm), &reqErr)
	assert.Equal(t, domain.CodeInvalidFormat, reqErr.Code)
}

func TestCheckWmsRequestPrintTemplate(t *testing.T) {
	perm := ResolveWms(testCatalog(), testPermissions(), "demo", domain.Anonymous())

	req := wmsRequest(t, Params{"REQUEST": "GetPrint", "TEMPLATE": "A4"})
	assert.NoError(t, CheckWmsRequest(req, perm))

	req = wmsRequest(t, Params{"REQUEST": "GetPrint", "TEMPLATE": "A3"})
	assert.Error(t, CheckWmsRequest(req, perm))
}

func TestCheckWmsRequestPrintLayers(t *testing.T) {
	perm := ResolveWms(testCatalog(), testPermissions(), "demo", domain.Authenticated("editor"))

	// internal print layers are allowed for printing only
	req := wmsRequest(t, Params{"REQUEST": "GetPrint", "TEMPLATE": "A4", "MAP0:EXTENT": "0,0,1,1", "MAP0:LAYERS": "overview,forests"})
	assert.NoError(t, CheckWmsRequest(req, perm))

	req = wmsRequest(t, Params{"REQUEST": "GetMap", "LAYERS": "overview,forests"})
	assert.Error(t, CheckWmsRequest(req, perm))

	req = wmsRequest(t, Params{"REQUEST": "GetMap", "LAYERS": "overview,forests", "FILENAME": "export.png"})
	assert.NoError(t, CheckWmsRequest(req, perm))
}

func TestAdjustWmsRequestGetMap(t *testing.T) {
	perm := ResolveWms(testCatalog(), testPermissions(), "demo", domain.Anonymous())
	req := wmsRequest(t, Params{"REQUEST": "GetMap", "LAYERS": "basemap,forests", "OPACITIES": "200,255", "STYLES": ",default"})

	AdjustWmsRequest(req, perm, "")
	assert.Equal(t, "terrain,streets,forests", req.Params.Get("LAYERS"))
	assert.Equal(t, "100,200,255", req.Params.Get("OPACITIES"))
	assert.Equal(t, ",,default", req.Params.Get("STYLES"))
}

func TestAdjustWmsRequestFeatureInfo(t *testing.T) {
	perm := ResolveWms(testCatalog(), testPermissions(), "demo", domain.Authenticated("editor"))
	req := wmsRequest(t, Params{"REQUEST": "GetFeatureInfo", "LAYERS": "nature", "QUERY_LAYERS": "nature", "INFO_FORMAT": "text/html"})

	adj := AdjustWmsRequest(req, perm, "")
	assert.Equal(t, "text/html", adj.InfoFormat)
	assert.Equal(t, "text/xml", req.Params.Get("INFO_FORMAT"))
	assert.Equal(t, "forests,rivers", req.Params.Get("QUERY_LAYERS"))
	assert.Equal(t, "forests,rivers", req.Params.Get("LAYERS"))
}

func TestAdjustWmsRequestLegend(t *testing.T) {
	perm := ResolveWms(testCatalog(), testPermissions(), "demo", domain.Anonymous())
	req := wmsRequest(t, Params{"REQUEST": "GetLegendGraphic", "LAYER": "forests", "FORMAT": "image/png; mode=8bit"})

	AdjustWmsRequest(req, perm, "10")
	assert.Equal(t, "image/png", req.Params.Get("FORMAT"))
	assert.Equal(t, "10", req.Params.Get("LAYERFONTSIZE"))
	assert.Equal(t, "10", req.Params.Get("ITEMFONTSIZE"))
}

func TestCheckWmsRequestLegendLayersParam(t *testing.T) {
	perm := ResolveWms(testCatalog(), testPermissions(), "demo", domain.Anonymous())

	// the plural LAYERS parameter takes precedence over LAYER
	req := wmsRequest(t, Params{"REQUEST": "GetLegendGraphic", "LAYERS": "forests"})
	assert.NoError(t, CheckWmsRequest(req, perm))

	req = wmsRequest(t, Params{"REQUEST": "GetLegendGraphic", "LAYERS": "rivers"})
	assert.Error(t, CheckWmsRequest(req, perm))

	req = wmsRequest(t, Params{"REQUEST": "GetLegendGraphic"})
	var reqErr *domain.RequestError
	require.ErrorAs(t, CheckWmsRequest(req, perm), &reqErr)
	assert.Equal(t, domain.CodeMissingParameter, reqErr.Code)
}

func TestAdjustWmsRequestLegendLayersParam(t *testing.T) {
	perm := ResolveWms(testCatalog(), testPermissions(), "demo", domain.Anonymous())
	req := wmsRequest(t, Params{"REQUEST": "GetLegendGraphic", "LAYERS": "basemap"})

	AdjustWmsRequest(req, perm, "")
	assert.Equal(t, "streets,terrain", req.Params.Get("LAYERS"))
}

func TestCleanNames(t *testing.T) {
	assert.Equal(t, "edit_points", CleanLayerName("edit points"))
	assert.Equal(t, "ns-layer", CleanLayerName("ns:layer"))
	assert.Equal(t, "wkt_geom", CleanAttributeName("wkt geom"))
	assert.Equal(t, "area.km2", CleanAttributeName("area.km2!"))
}

func wfsRequest(t *testing.T, params Params) *Request {
	t.Helper()
	params["SERVICE"] = "WFS"
	req, err := ParseRequest(params)
	require.NoError(t, err)
	return req
}

func TestCheckWfsRequestTypeNames(t *testing.T) {
	perm := ResolveWfs(testCatalog(), testPermissions(), "demo", domain.Authenticated("editor"))

	req := wfsRequest(t, Params{"REQUEST": "GetFeature", "TYPENAME": "edit_points,rivers"})
	assert.NoError(t, CheckWfsRequest(req, perm))

	req = wfsRequest(t, Params{"REQUEST": "GetFeature", "TYPENAME": "secret"})
	assert.Error(t, CheckWfsRequest(req, perm))
}

func TestCheckWfsRequestFeatureID(t *testing.T) {
	perm := ResolveWfs(testCatalog(), testPermissions(), "demo", domain.Authenticated("editor"))

	req := wfsRequest(t, Params{"REQUEST": "GetFeature", "FEATUREID": "rivers.42"})
	assert.NoError(t, CheckWfsRequest(req, perm))

	req = wfsRequest(t, Params{"REQUEST": "GetFeature", "FEATUREID": "secret.1"})
	assert.Error(t, CheckWfsRequest(req, perm))

	req = wfsRequest(t, Params{"REQUEST": "GetFeature"})
	var reqErr *domain.RequestError
	require.ErrorAs(t, CheckWfsRequest(req, perm), &reqErr)
	assert.Equal(t, domain.CodeMissingParameter, reqErr.Code)
}

func TestAdjustWfsRequest(t *testing.T) {
	req := wfsRequest(t, Params{"REQUEST": "GetFeature", "VERSION": "2.0.0", "TYPENAME": "rivers"})
	AdjustWfsRequest(req)
	assert.Equal(t, "1.1.0", req.Params.Get("VERSION"))
	assert.Equal(t, "gml3", req.Params.Get("OUTPUTFORMAT"))

	req = wfsRequest(t, Params{"REQUEST": "GetFeature", "VERSION": "1.0.0", "TYPENAME": "rivers"})
	AdjustWfsRequest(req)
	assert.Equal(t, "gml2", req.Params.Get("OUTPUTFORMAT"))

	req = wfsRequest(t, Params{"REQUEST": "GetFeature", "TYPENAME": "rivers", "OUTPUTFORMAT": "application/json"})
	AdjustWfsRequest(req)
	assert.Equal(t, "geojson", req.Params.Get("OUTPUTFORMAT"))
}
