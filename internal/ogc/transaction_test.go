package ogc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qwc-services/qwc-ogc-service/internal/domain"
)

const insertBody = `<?xml version="1.0"?>
<wfs:Transaction xmlns:wfs="http://www.opengis.net/wfs" xmlns:qgs="http://www.qgis.org/gml" service="WFS" version="1.1.0">
 <wfs:Insert>
  <qgs:edit_points>
   <qgs:geometry><gml:Point xmlns:gml="http://www.opengis.net/gml"><gml:pos>1 2</gml:pos></gml:Point></qgs:geometry>
   <qgs:note>sample</qgs:note>
  </qgs:edit_points>
 </wfs:Insert>
</wfs:Transaction>`

const updateBody = `<?xml version="1.0"?>
<wfs:Transaction xmlns:wfs="http://www.opengis.net/wfs" xmlns:ogc="http://www.opengis.net/ogc" service="WFS" version="1.1.0">
 <wfs:Update typeName="qgs:edit_points">
  <wfs:Property><wfs:Name>note</wfs:Name><wfs:Value>changed</wfs:Value></wfs:Property>
  <ogc:Filter><ogc:FeatureId fid="edit_points.1"/></ogc:Filter>
 </wfs:Update>
</wfs:Transaction>`

func editorWfsPermission(t *testing.T) *WfsPermission {
	t.Helper()
	return ResolveWfs(testCatalog(), testPermissions(), "demo", domain.Authenticated("editor"))
}

func TestParseTransaction(t *testing.T) {
	tx, err := ParseTransaction([]byte(insertBody))
	require.NoError(t, err)
	require.Len(t, tx.Operations, 1)
	assert.Equal(t, "Insert", tx.Operations[0].XMLName.Local)
	require.Len(t, tx.Operations[0].Features, 1)
	assert.Equal(t, "edit_points", tx.Operations[0].Features[0].XMLName.Local)
}

func TestParseTransactionInvalid(t *testing.T) {
	_, err := ParseTransaction([]byte("<GetFeature/>"))
	assert.Error(t, err)

	_, err = ParseTransaction([]byte("not xml"))
	assert.Error(t, err)
}

func TestValidateTransactionInsert(t *testing.T) {
	perm := editorWfsPermission(t)
	tx, err := ParseTransaction([]byte(insertBody))
	require.NoError(t, err)
	assert.NoError(t, ValidateTransaction(tx, perm))
}

func TestValidateTransactionUpdate(t *testing.T) {
	perm := editorWfsPermission(t)
	tx, err := ParseTransaction([]byte(updateBody))
	require.NoError(t, err)
	assert.NoError(t, ValidateTransaction(tx, perm))
}

func TestValidateTransactionInsertNotCreatable(t *testing.T) {
	perm := editorWfsPermission(t)
	body := `<wfs:Transaction xmlns:wfs="http://www.opengis.net/wfs" xmlns:qgs="http://www.qgis.org/gml">
 <wfs:Insert><qgs:rivers><qgs:name>Danube</qgs:name></qgs:rivers></wfs:Insert>
</wfs:Transaction>`
	tx, err := ParseTransaction([]byte(body))
	require.NoError(t, err)

	var txErr *domain.TransactionError
	require.ErrorAs(t, ValidateTransaction(tx, perm), &txErr)
	assert.Equal(t, "Insert", txErr.Op)
	assert.Equal(t, "rivers", txErr.Layer)
}

func TestValidateTransactionInsertForbiddenAttribute(t *testing.T) {
	perm := editorWfsPermission(t)
	body := `<wfs:Transaction xmlns:wfs="http://www.opengis.net/wfs" xmlns:qgs="http://www.qgis.org/gml">
 <wfs:Insert><qgs:edit_points><qgs:secret>x</qgs:secret></qgs:edit_points></wfs:Insert>
</wfs:Transaction>`
	tx, err := ParseTransaction([]byte(body))
	require.NoError(t, err)

	var txErr *domain.TransactionError
	require.ErrorAs(t, ValidateTransaction(tx, perm), &txErr)
	assert.Equal(t, "secret", txErr.Attribute)
}

func TestValidateTransactionDeleteNotPermitted(t *testing.T) {
	perm := editorWfsPermission(t)
	body := `<wfs:Transaction xmlns:wfs="http://www.opengis.net/wfs" xmlns:ogc="http://www.opengis.net/ogc">
 <wfs:Delete typeName="qgs:edit_points"><ogc:Filter><ogc:FeatureId fid="edit_points.1"/></ogc:Filter></wfs:Delete>
</wfs:Transaction>`
	tx, err := ParseTransaction([]byte(body))
	require.NoError(t, err)

	var txErr *domain.TransactionError
	require.ErrorAs(t, ValidateTransaction(tx, perm), &txErr)
	assert.Equal(t, "Delete", txErr.Op)
}

// a single offending operation rejects the whole transaction, even
// when other operations are permitted
func TestValidateTransactionAllOrNothing(t *testing.T) {
	perm := editorWfsPermission(t)
	body := `<wfs:Transaction xmlns:wfs="http://www.opengis.net/wfs" xmlns:qgs="http://www.qgis.org/gml">
 <wfs:Insert><qgs:edit_points><qgs:note>ok</qgs:note></qgs:edit_points></wfs:Insert>
 <wfs:Insert><qgs:rivers><qgs:name>nope</qgs:name></qgs:rivers></wfs:Insert>
</wfs:Transaction>`
	tx, err := ParseTransaction([]byte(body))
	require.NoError(t, err)

	var txErr *domain.TransactionError
	require.ErrorAs(t, ValidateTransaction(tx, perm), &txErr)
	assert.Equal(t, "rivers", txErr.Layer)
}
