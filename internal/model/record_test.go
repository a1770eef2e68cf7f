package model_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wareline/branchstore/internal/model"
)

func TestRecord_CloneIsDeep(t *testing.T) {
	original := model.Record{
		"id":    "r1",
		"items": []interface{}{map[string]interface{}{"sku": "a"}},
		"meta":  map[string]interface{}{"note": "x"},
	}

	cloned := original.Clone()
	cloned["meta"].(map[string]interface{})["note"] = "tampered"
	cloned["items"].([]interface{})[0].(map[string]interface{})["sku"] = "b"

	assert.Equal(t, "x", original["meta"].(map[string]interface{})["note"])
	assert.Equal(t, "a", original["items"].([]interface{})[0].(map[string]interface{})["sku"])
}

func TestRecord_MergeFieldsSkipsReserved(t *testing.T) {
	base := model.Record{"id": "r1", "name": "old", "_rv": int64(3)}

	merged := base.MergeFields(model.Record{"id": "other", "_rv": int64(99), "name": "new"})

	assert.Equal(t, "r1", merged.ID())
	assert.Equal(t, int64(3), merged.RecordVersion())
	assert.Equal(t, "new", merged["name"])
}

func TestRecord_RecordVersionCoercesJSONNumbers(t *testing.T) {
	var rec model.Record
	require.NoError(t, json.Unmarshal([]byte(`{"id":"r1","_rv":7}`), &rec))
	assert.Equal(t, int64(7), rec.RecordVersion())
}

func TestRecord_SetRecordVersion(t *testing.T) {
	rec := model.Record{"id": "r1"}
	assert.Equal(t, int64(0), rec.RecordVersion())
	rec.SetRecordVersion(4)
	assert.Equal(t, int64(4), rec.RecordVersion())
}

func TestAction_Known(t *testing.T) {
	assert.True(t, model.ActionInsert.Known())
	assert.True(t, model.ActionDelete.Known())
	assert.False(t, model.Action("upsert").Known())
	assert.True(t, model.ActionMerge.Mutating())
	assert.False(t, model.ActionDelete.Mutating())
}

func TestModuleSchema_Canonical(t *testing.T) {
	schema := &model.ModuleSchema{Tables: []model.TableDef{
		{Name: "order_header", Aliases: []string{"orders"}},
	}}

	assert.Equal(t, "order_header", schema.Canonical("ORDERS"))
	assert.Equal(t, "order_header", schema.Canonical(" order_header "))
	assert.Equal(t, "", schema.Canonical("nope"))
	assert.Equal(t, "", schema.Canonical(""))
}

func TestStoreSnapshot_TotalRecords(t *testing.T) {
	snap := &model.StoreSnapshot{Tables: map[string][]model.Record{
		"a": {{"id": "1"}, {"id": "2"}},
		"b": {{"id": "3"}},
	}}
	assert.Equal(t, 3, snap.TotalRecords())
}
