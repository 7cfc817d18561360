package ogc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qwc-services/qwc-ogc-service/internal/domain"
)

const featureInfoDoc = `<GetFeatureInfoResponse>
 <Layer name="Forests">
  <Feature id="7">
   <Attribute name="ID" value="7"/>
   <Attribute name="Type" value="mixed"/>
   <Attribute name="owner" value="state"/>
  </Feature>
 </Layer>
 <Layer name="rivers">
  <Feature id="3">
   <Attribute name="Name" value="Danube"/>
  </Feature>
 </Layer>
 <Layer name="elevation">
  <Attribute name="Band 1" value="421"/>
 </Layer>
</GetFeatureInfoResponse>`

func TestFilterFeatureInfoPlain(t *testing.T) {
	perm := ResolveWms(testCatalog(), testPermissions(), "demo", domain.Anonymous())
	data, contentType, err := FilterFeatureInfo([]byte(featureInfoDoc), perm, "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "text/plain", contentType)

	text := string(data)
	assert.Contains(t, text, "GetFeatureInfo results")
	assert.Contains(t, text, "Layer 'Forests'")
	assert.Contains(t, text, "ID = '7'")
	// attribute not permitted for anonymous
	assert.NotContains(t, text, "Type")
	// alias match is configured, unknown reported names drop out
	assert.NotContains(t, text, "owner")
	// layer not permitted at all
	assert.NotContains(t, text, "Danube")
}

func TestFilterFeatureInfoXML(t *testing.T) {
	perm := ResolveWms(testCatalog(), testPermissions(), "demo", domain.Authenticated("editor"))
	data, contentType, err := FilterFeatureInfo([]byte(featureInfoDoc), perm, "text/xml")
	require.NoError(t, err)
	assert.Equal(t, "text/xml", contentType)

	text := string(data)
	assert.True(t, strings.HasPrefix(text, "<?xml"))
	assert.Contains(t, text, `name="ID" value="7"`)
	assert.Contains(t, text, `name="Type" value="mixed"`)
	assert.Contains(t, text, `name="Name" value="Danube"`)
	assert.NotContains(t, text, "owner")
}

func TestFilterFeatureInfoHTML(t *testing.T) {
	perm := ResolveWms(testCatalog(), testPermissions(), "demo", domain.Authenticated("editor"))
	data, contentType, err := FilterFeatureInfo([]byte(featureInfoDoc), perm, "text/html")
	require.NoError(t, err)
	assert.Equal(t, "text/html", contentType)

	text := string(data)
	assert.Contains(t, text, "<!DOCTYPE html>")
	assert.Contains(t, text, `<div class="layer-title">Forests</div>`)
	assert.Contains(t, text, "<th>ID</th><td>7</td>")
}

func TestFilterFeatureInfoAttributeOrder(t *testing.T) {
	perm := ResolveWms(testCatalog(), testPermissions(), "demo", domain.Authenticated("editor"))
	doc := `<GetFeatureInfoResponse>
 <Layer name="Forests">
  <Feature id="1">
   <Attribute name="Type" value="mixed"/>
   <Attribute name="ID" value="1"/>
  </Feature>
 </Layer>
</GetFeatureInfoResponse>`
	data, _, err := FilterFeatureInfo([]byte(doc), perm, "text/plain")
	require.NoError(t, err)

	// configured order wins over reported order
	text := string(data)
	assert.Less(t, strings.Index(text, "ID ="), strings.Index(text, "Type ="))
}
