package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storeerrors "github.com/wareline/branchstore/internal/errors"
	"github.com/wareline/branchstore/internal/model"
	"github.com/wareline/branchstore/internal/store"
)

func testSchema() *model.ModuleSchema {
	return &model.ModuleSchema{
		ModuleID: "pos",
		Tables: []model.TableDef{
			{Name: "order_header", Aliases: []string{"orders"}},
			{Name: "order_line"},
			{Name: "product"},
		},
	}
}

func newTestStore(t *testing.T) *store.TableStore {
	t.Helper()
	return store.New("branch-1", "pos", testSchema())
}

func TestTableStore_InsertAssignsIDAndVersion(t *testing.T) {
	st := newTestStore(t)
	require.Equal(t, int64(1), st.Version())

	rec, err := st.Insert("product", model.Record{"name": "Espresso"}, store.MutationContext{})
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID())
	assert.Equal(t, int64(1), rec.RecordVersion())
	assert.Equal(t, int64(2), st.Version())
}

func TestTableStore_InsertKeepsCallerID(t *testing.T) {
	st := newTestStore(t)

	rec, err := st.Insert("product", model.Record{"id": "prod-1", "name": "Espresso"}, store.MutationContext{})
	require.NoError(t, err)
	assert.Equal(t, "prod-1", rec.ID())
}

func TestTableStore_VersionBumpsOncePerMutation(t *testing.T) {
	st := newTestStore(t)
	before := st.Version()

	_, err := st.Insert("product", model.Record{"id": "p1"}, store.MutationContext{})
	require.NoError(t, err)
	assert.Equal(t, before+1, st.Version())

	_, err = st.Merge("product", model.Record{"id": "p1", "price": 3.5}, store.MutationContext{})
	require.NoError(t, err)
	assert.Equal(t, before+2, st.Version())

	_, err = st.Remove("product", "p1", store.MutationContext{})
	require.NoError(t, err)
	assert.Equal(t, before+3, st.Version())
}

func TestTableStore_MergeUnknownIDInserts(t *testing.T) {
	st := newTestStore(t)

	rec, created, err := st.Save("product", model.Record{"id": "p9", "name": "New"}, store.MutationContext{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(1), rec.RecordVersion())
}

func TestTableStore_MergePreservesUntouchedFields(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Insert("product", model.Record{"id": "p1", "name": "Espresso", "price": 3.0}, store.MutationContext{})
	require.NoError(t, err)

	merged, err := st.Merge("product", model.Record{"id": "p1", "price": 3.5}, store.MutationContext{})
	require.NoError(t, err)

	assert.Equal(t, "Espresso", merged["name"])
	assert.Equal(t, 3.5, merged["price"])
	assert.Equal(t, int64(2), merged.RecordVersion())
}

func TestTableStore_MergeConflictRejected(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Insert("product", model.Record{"id": "p1", "name": "Espresso"}, store.MutationContext{})
	require.NoError(t, err)

	// Another writer bumps the record to version 2.
	_, err = st.Merge("product", model.Record{"id": "p1", "price": 4.0}, store.MutationContext{})
	require.NoError(t, err)

	// A stale writer still holding version 1 must be rejected.
	_, err = st.Merge("product", model.Record{"id": "p1", "_rv": int64(1), "price": 1.0}, store.MutationContext{})
	require.Error(t, err)
	assert.True(t, storeerrors.IsConflict(err))

	// The losing write left no trace.
	rows, err := st.ListTable("product")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 4.0, rows[0]["price"])
	assert.Equal(t, int64(2), rows[0].RecordVersion())
}

func TestTableStore_MergeWithoutObservedVersionWins(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Insert("product", model.Record{"id": "p1", "name": "Espresso"}, store.MutationContext{})
	require.NoError(t, err)

	merged, err := st.Merge("product", model.Record{"id": "p1", "price": 2.0}, store.MutationContext{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), merged.RecordVersion())
}

func TestTableStore_RemoveReturnsSnapshot(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Insert("product", model.Record{"id": "p1", "name": "Espresso"}, store.MutationContext{})
	require.NoError(t, err)

	removed, err := st.Remove("product", "p1", store.MutationContext{})
	require.NoError(t, err)
	require.NotNil(t, removed)
	assert.Equal(t, "Espresso", removed["name"])

	rows, err := st.ListTable("product")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestTableStore_RemoveMissingIsNoop(t *testing.T) {
	st := newTestStore(t)
	before := st.Version()

	removed, err := st.Remove("product", "ghost", store.MutationContext{})
	require.NoError(t, err)
	assert.Nil(t, removed)
	assert.Equal(t, before, st.Version())
}

func TestTableStore_UnknownTableRejected(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Insert("no_such_table", model.Record{"x": 1}, store.MutationContext{})
	require.Error(t, err)
	assert.Equal(t, storeerrors.ErrCodeUnknownTable, storeerrors.GetCode(err))
}

func TestTableStore_TableAliasesResolve(t *testing.T) {
	st := newTestStore(t)

	assert.Equal(t, "order_header", st.FindCanonicalTableName("ORDERS"))
	assert.Equal(t, "order_header", st.FindCanonicalTableName("Order_Header"))
	assert.Equal(t, "", st.FindCanonicalTableName("unknown"))
}

func TestTableStore_ListTableReturnsCopies(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Insert("product", model.Record{"id": "p1", "name": "Espresso"}, store.MutationContext{})
	require.NoError(t, err)

	rows, err := st.ListTable("product")
	require.NoError(t, err)
	rows[0]["name"] = "tampered"

	again, err := st.ListTable("product")
	require.NoError(t, err)
	assert.Equal(t, "Espresso", again[0]["name"])
}

func TestTableStore_RestoreTablesReplacesWholesale(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Insert("product", model.Record{"id": "old"}, store.MutationContext{})
	require.NoError(t, err)
	before := st.Version()

	err = st.RestoreTables(map[string][]model.Record{
		"PRODUCT":    {{"id": "new-1"}, {"id": "new-2"}},
		"order_line": {{"id": "l1"}},
	})
	require.NoError(t, err)

	// One version bump for the whole restore.
	assert.Equal(t, before+1, st.Version())

	rows, err := st.ListTable("product")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestTableStore_RestoreUnknownTableFailsAtomically(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Insert("product", model.Record{"id": "keep"}, store.MutationContext{})
	require.NoError(t, err)

	err = st.RestoreTables(map[string][]model.Record{
		"product": {{"id": "replacement"}},
		"bogus":   {{"id": "x"}},
	})
	require.Error(t, err)

	rows, err := st.ListTable("product")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "keep", rows[0].ID())
}

func TestTableStore_SnapshotRoundTrip(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Insert("product", model.Record{"id": "p1", "name": "Espresso"}, store.MutationContext{})
	require.NoError(t, err)
	_, err = st.Insert("order_header", model.Record{"id": "o1", "total": 12.5}, store.MutationContext{})
	require.NoError(t, err)
	st.SetMeta("counter", st.TotalRecords())

	snap := st.Snapshot()

	restored := store.New("branch-1", "pos", testSchema())
	restored.LoadSnapshot(snap)

	assert.Equal(t, st.Version(), restored.Version())
	assert.Equal(t, st.TotalRecords(), restored.TotalRecords())
	rows, err := restored.ListTable("product")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Espresso", rows[0]["name"])
}

func TestTableStore_SeedTableDoesNotBumpVersion(t *testing.T) {
	st := newTestStore(t)
	before := st.Version()

	st.SeedTable("product", []model.Record{{"id": "seed-1"}})
	assert.Equal(t, before, st.Version())
	assert.True(t, st.HasTableData("product"))
}

func TestTableStore_RecordReference(t *testing.T) {
	st := newTestStore(t)

	ref := st.RecordReference("orders", model.Record{"id": "o1"})
	assert.Equal(t, "order_header", ref.Table)
	assert.Equal(t, "o1", ref.ID)
	assert.Equal(t, "order_header:o1", ref.Key)
}
