package ogc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qwc-services/qwc-ogc-service/internal/domain"
)

const wmsCapabilitiesDoc = `<?xml version="1.0"?>
<WMS_Capabilities xmlns="http://www.opengis.net/wms" xmlns:sld="http://www.opengis.net/sld" xmlns:qgs="http://www.qgis.org/wms" xmlns:xlink="http://www.w3.org/1999/xlink" version="1.3.0">
 <Service>
  <Name>WMS</Name>
  <Title>demo</Title>
  <OnlineResource xlink:type="simple" xlink:href="http://qgis:8001/ows/demo?"/>
 </Service>
 <Capability>
  <Request>
   <GetCapabilities>
    <Format>text/xml</Format>
    <DCPType><HTTP><Get><OnlineResource xlink:href="http://qgis:8001/ows/demo?"/></Get></HTTP></DCPType>
   </GetCapabilities>
   <GetFeatureInfo>
    <Format>text/plain</Format>
    <Format>application/vnd.ogc.gml/3.1.1</Format>
    <DCPType><HTTP><Get><OnlineResource xlink:href="http://qgis:8001/ows/demo?"/></Get></HTTP></DCPType>
   </GetFeatureInfo>
  </Request>
  <Layer queryable="1">
   <Name>root</Name>
   <Title>Root</Title>
   <Layer queryable="1">
    <Name>nature</Name>
    <Layer queryable="1">
     <Name>forests</Name>
     <Style><Name>default</Name><LegendURL><Format>image/png</Format><OnlineResource xlink:href="http://qgis:8001/ows/demo?SERVICE=WMS&amp;REQUEST=GetLegendGraphic&amp;LAYER=forests&amp;FORMAT=image/png"/></LegendURL></Style>
    </Layer>
    <Layer queryable="1">
     <Name>rivers</Name>
    </Layer>
   </Layer>
   <Layer queryable="0">
    <Name>basemap</Name>
    <Layer><Name>streets</Name></Layer>
    <Layer><Name>terrain</Name></Layer>
   </Layer>
   <Layer queryable="1">
    <Name>elevation</Name>
   </Layer>
  </Layer>
  <LayerDrawingOrder>elevation,rivers,forests,basemap</LayerDrawingOrder>
  <ComposerTemplates>
   <ComposerTemplate name="A4" width="297" height="210"/>
   <ComposerTemplate name="A3" width="420" height="297"/>
  </ComposerTemplates>
 </Capability>
</WMS_Capabilities>`

func TestFilterWmsCapabilitiesAnonymous(t *testing.T) {
	perm := ResolveWms(testCatalog(), testPermissions(), "demo", domain.Anonymous())
	urls := domain.OnlineResources{Service: "https://maps.example.com/ows/org/demo"}
	data, err := FilterWmsCapabilities([]byte(wmsCapabilitiesDoc), perm, urls)
	require.NoError(t, err)

	text := string(data)
	assert.Contains(t, text, "<Name>forests</Name>")
	assert.NotContains(t, text, "<Name>rivers</Name>")
	assert.NotContains(t, text, "<Name>elevation</Name>")
	// facade group stays, its sublayers disappear
	assert.Contains(t, text, "<Name>basemap</Name>")
	assert.NotContains(t, text, "streets")
	assert.NotContains(t, text, "terrain")

	assert.NotContains(t, text, "qgis:8001")
	assert.Contains(t, text, `xlink:href="https://maps.example.com/ows/org/demo`)
	// broken feature info format dropped
	assert.NotContains(t, text, "application/vnd.ogc.gml/3.1.1")
	// drawing order keeps only visible layers
	assert.Contains(t, text, "<LayerDrawingOrder>forests,basemap</LayerDrawingOrder>")
	// print templates filtered by grant
	assert.Contains(t, text, `name="A4"`)
	assert.NotContains(t, text, `name="A3"`)
}

func TestFilterWmsCapabilitiesQueryableFlags(t *testing.T) {
	perm := ResolveWms(testCatalog(), testPermissions(), "demo", domain.Anonymous())
	urls := domain.OnlineResources{Service: "https://maps.example.com/ows/org/demo"}
	data, err := FilterWmsCapabilities([]byte(wmsCapabilitiesDoc), perm, urls)
	require.NoError(t, err)

	text := string(data)
	forests := text[strings.Index(text, "<Name>forests</Name>")-80 : strings.Index(text, "<Name>forests</Name>")]
	assert.Contains(t, forests, `queryable="1"`)
	basemap := text[strings.Index(text, "<Name>basemap</Name>")-80 : strings.Index(text, "<Name>basemap</Name>")]
	assert.Contains(t, basemap, `queryable="0"`)
}

func TestFilterWmsCapabilitiesLegendInjection(t *testing.T) {
	perm := ResolveWms(testCatalog(), testPermissions(), "demo", domain.Anonymous())
	urls := domain.OnlineResources{
		Service: "https://maps.example.com/ows/org/demo",
		Legend:  "https://maps.example.com/legend/org/demo",
	}
	data, err := FilterWmsCapabilities([]byte(wmsCapabilitiesDoc), perm, urls)
	require.NoError(t, err)

	text := string(data)
	// group layers get a derived legend reference
	assert.Contains(t, text, "LAYER=nature")
	assert.Contains(t, text, "https://maps.example.com/legend/org/demo")
}

func TestFilterWmsCapabilitiesNothingPermitted(t *testing.T) {
	index := domain.NewPermissionIndex(nil, nil, []*domain.Role{{Role: domain.PublicRole}})
	perm := ResolveWms(testCatalog(), index, "demo", domain.Anonymous())
	data, err := FilterWmsCapabilities([]byte(wmsCapabilitiesDoc), perm, domain.OnlineResources{})
	require.NoError(t, err)

	text := string(data)
	assert.Contains(t, text, "<Name>root</Name>")
	assert.NotContains(t, text, "forests")
}
