package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saelay/trdpstack/internal/marshal"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "trdpd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPutAndLoadDataset(t *testing.T) {
	db := openTestDB(t)

	ds := &marshal.Dataset{ID: 1000, Elements: []marshal.Element{
		{Type: marshal.UInt8, Count: 1},
		{Type: marshal.UInt32, Count: 4},
	}}
	require.NoError(t, db.PutDataset(ds))

	got, err := db.Dataset(1000)
	require.NoError(t, err)
	assert.Equal(t, ds, got)
}

func TestPutDatasetReplaces(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.PutDataset(&marshal.Dataset{ID: 1, Elements: []marshal.Element{
		{Type: marshal.UInt8, Count: 1},
	}}))
	require.NoError(t, db.PutDataset(&marshal.Dataset{ID: 1, Elements: []marshal.Element{
		{Type: marshal.UInt16, Count: 2},
	}}))

	got, err := db.Dataset(1)
	require.NoError(t, err)
	require.Len(t, got.Elements, 1)
	assert.Equal(t, marshal.UInt16, got.Elements[0].Type)
}

func TestDatasetNotFound(t *testing.T) {
	db := openTestDB(t)

	_, err := db.Dataset(42)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, db.DeleteDataset(42), ErrNotFound)
	assert.ErrorIs(t, db.UnbindComID(42), ErrNotFound)
}

func TestBindComID(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.PutDataset(&marshal.Dataset{ID: 5, Elements: []marshal.Element{
		{Type: marshal.UInt32, Count: 1},
	}}))

	assert.ErrorIs(t, db.BindComID(100, 99), ErrNotFound, "binding to a missing dataset must fail")
	require.NoError(t, db.BindComID(100, 5))

	maps, err := db.Mappings()
	require.NoError(t, err)
	require.Len(t, maps, 1)
	assert.Equal(t, marshal.ComIDMapping{ComID: 100, DatasetID: 5}, maps[0])
}

func TestRegistryRoundTrip(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.PutDataset(&marshal.Dataset{ID: 2000, Elements: []marshal.Element{
		{Type: marshal.UInt16, Count: 1},
		{Type: marshal.UInt32, Count: 2},
	}}))
	require.NoError(t, db.BindComID(777, 2000))

	reg, err := db.Registry()
	require.NoError(t, err)

	ds, err := reg.Lookup(777)
	require.NoError(t, err)
	assert.Equal(t, uint32(2000), ds.ID)
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trdpd.db")

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.PutDataset(&marshal.Dataset{ID: 9, Elements: []marshal.Element{
		{Type: marshal.Char8, Count: 16},
	}}))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	got, err := db.Dataset(9)
	require.NoError(t, err)
	assert.Equal(t, marshal.Char8, got.Elements[0].Type)
}
