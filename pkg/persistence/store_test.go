package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenpower/gpd-go/pkg/device"
)

func TestFileStore(t *testing.T) {
	t.Run("LoadNonExistent", func(t *testing.T) {
		store := NewFileStore(filepath.Join(t.TempDir(), "missing.bin"))
		_, err := store.Load(make([]byte, BlobSize))
		assert.ErrorIs(t, err, ErrNoState)
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "gpd.bin")
		store := NewFileStore(path)

		data := []byte{1, 2, 3, 4}
		require.NoError(t, store.Save(data))

		buf := make([]byte, BlobSize)
		n, err := store.Load(buf)
		require.NoError(t, err)
		assert.Equal(t, data, buf[:n])

		_, err = os.Stat(path + ".tmp")
		assert.True(t, os.IsNotExist(err), "temporary file left behind")
	})

	t.Run("Clear", func(t *testing.T) {
		store := NewFileStore(filepath.Join(t.TempDir(), "gpd.bin"))
		require.NoError(t, store.Save([]byte{1}))
		require.NoError(t, store.Clear())
		require.NoError(t, store.Clear())

		_, err := store.Load(make([]byte, BlobSize))
		assert.ErrorIs(t, err, ErrNoState)
	})
}

func TestAdapterRestoreWithoutState(t *testing.T) {
	rec := newRecord(t)
	adapter := NewAdapter(&MemoryStore{})

	require.NoError(t, adapter.Restore(rec))
	assert.Zero(t, rec.FrameCounter)
	assert.Equal(t, device.StateNotCommissioned, rec.State)
}

func TestAdapterPowerCycle(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "gpd.bin"))

	before := newRecord(t)
	before.FrameCounter = 1234
	before.State = device.StateOperational
	before.Radio.Channel = 20
	require.NoError(t, NewAdapter(store).Persist(before))

	after := newRecord(t)
	require.NoError(t, NewAdapter(store).Restore(after))

	assert.EqualValues(t, 1234, after.FrameCounter)
	assert.Equal(t, device.StateOperational, after.State)
	assert.EqualValues(t, 20, after.Radio.Channel)
}

func TestAdapterRestoreShortBlob(t *testing.T) {
	store := &MemoryStore{}
	require.NoError(t, store.Save([]byte{1, 2, 3}))

	err := NewAdapter(store).Restore(newRecord(t))
	assert.ErrorIs(t, err, ErrBlobSize)
}
