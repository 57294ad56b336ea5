package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestSaveAndAll(t *testing.T) {
	r := openTest(t)
	require.NoError(t, r.Save(1, 3))
	require.NoError(t, r.Save(2, 5))

	all, err := r.All()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.EqualValues(t, 1, all[0].ID)
	assert.EqualValues(t, 3, all[0].Rate)
	assert.EqualValues(t, 2, all[1].ID)
	assert.EqualValues(t, 5, all[1].Rate)
}

func TestSaveUpdatesRate(t *testing.T) {
	r := openTest(t)
	require.NoError(t, r.Save(1, 3))
	require.NoError(t, r.Save(1, 9))

	all, err := r.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.EqualValues(t, 9, all[0].Rate)
}

func TestDelete(t *testing.T) {
	r := openTest(t)
	require.NoError(t, r.Save(1, 3))
	require.NoError(t, r.Delete(1))

	all, err := r.All()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestNextID(t *testing.T) {
	r := openTest(t)
	id, err := r.NextID()
	require.NoError(t, err)
	assert.EqualValues(t, 1, id)

	require.NoError(t, r.Save(1, 1))
	require.NoError(t, r.Save(5, 1))

	id, err = r.NextID()
	require.NoError(t, err)
	assert.EqualValues(t, 6, id)
}
