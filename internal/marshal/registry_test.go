package marshal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookup(t *testing.T) {
	r := testRegistry(t)

	ds, err := r.Lookup(12345)
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), ds.ID)

	ds, err = r.Dataset(1001)
	require.NoError(t, err)
	assert.Len(t, ds.Elements, 2)
}

func TestRegistryUnknown(t *testing.T) {
	r := testRegistry(t)

	_, err := r.Lookup(1)
	assert.ErrorIs(t, err, ErrComID)

	_, err = r.Dataset(55)
	assert.ErrorIs(t, err, ErrDataset)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(
		[]*Dataset{{ID: 1}, {ID: 1}},
		nil,
	)
	assert.ErrorIs(t, err, ErrParam)

	_, err = NewRegistry(
		[]*Dataset{{ID: 1}},
		[]ComIDMapping{{ComID: 5, DatasetID: 1}, {ComID: 5, DatasetID: 1}},
	)
	assert.ErrorIs(t, err, ErrParam)
}

func TestRegistryRejectsDanglingReferences(t *testing.T) {
	_, err := NewRegistry(
		[]*Dataset{{ID: 1}},
		[]ComIDMapping{{ComID: 5, DatasetID: 99}},
	)
	assert.ErrorIs(t, err, ErrDataset)

	_, err = NewRegistry(
		[]*Dataset{{ID: 1, Elements: []Element{{Type: ElementType(77), Count: 1}}}},
		nil,
	)
	assert.ErrorIs(t, err, ErrDataset)
}

func TestElementTypePrimitive(t *testing.T) {
	assert.True(t, UInt32.IsPrimitive())
	assert.True(t, TimeDate64.IsPrimitive())
	assert.False(t, ElementType(31).IsPrimitive())
	assert.False(t, ElementType(0).IsPrimitive())
}
