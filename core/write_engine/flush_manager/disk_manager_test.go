package flushmanager

import (
	"bytes"
	"path/filepath"
	"testing"

	pagemanager "github.com/marudb/marudb/core/write_engine/page_manager"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testPageSize = 4096

func setupDiskManager(t *testing.T) (*DiskManager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	dm, err := NewDiskManager(path, testPageSize, logger)
	require.NoError(t, err)
	header, err := dm.Open(true)
	require.NoError(t, err)
	require.Equal(t, DBMagic, header.Magic)
	require.Equal(t, uint32(testPageSize), header.PageSize)

	t.Cleanup(func() { _ = dm.Close() })
	return dm, path
}

func TestDiskManager_CreateAndReopen(t *testing.T) {
	dm, path := setupDiskManager(t)

	// Page 0 is the header; data allocations start at 1.
	require.Equal(t, uint64(1), dm.NumPages())
	require.NoError(t, dm.Close())

	logger := zap.NewNop()

	// Creating over an existing file is refused.
	dup, err := NewDiskManager(path, testPageSize, logger)
	require.NoError(t, err)
	_, err = dup.Open(true)
	require.ErrorIs(t, err, ErrDBFileExists)

	// Reopening validates the header.
	reopened, err := NewDiskManager(path, testPageSize, logger)
	require.NoError(t, err)
	header, err := reopened.Open(false)
	require.NoError(t, err)
	require.Equal(t, DBMagic, header.Magic)
	require.Equal(t, uint32(1), header.Version)
	require.NoError(t, reopened.Close())

	// A mismatched page size is rejected on open.
	mismatched, err := NewDiskManager(path, testPageSize*2, logger)
	require.NoError(t, err)
	_, err = mismatched.Open(false)
	require.Error(t, err)
}

func TestDiskManager_OpenMissingFile(t *testing.T) {
	dm, err := NewDiskManager(filepath.Join(t.TempDir(), "missing.db"), testPageSize, zap.NewNop())
	require.NoError(t, err)
	_, err = dm.Open(false)
	require.ErrorIs(t, err, ErrDBFileNotFound)
}

func TestDiskManager_AllocateMonotonic(t *testing.T) {
	dm, _ := setupDiskManager(t)

	var prev pagemanager.PageID
	for i := 0; i < 5; i++ {
		id, err := dm.AllocatePage()
		require.NoError(t, err)
		require.Greater(t, id, prev)
		prev = id
	}
	require.Equal(t, uint64(6), dm.NumPages())
}

func TestDiskManager_PageRoundTrip(t *testing.T) {
	dm, _ := setupDiskManager(t)

	id, err := dm.AllocatePage()
	require.NoError(t, err)

	data := bytes.Repeat([]byte{0xAB}, testPageSize)
	require.NoError(t, dm.WritePage(id, data))

	readBack := make([]byte, testPageSize)
	require.NoError(t, dm.ReadPage(id, readBack))
	require.Equal(t, data, readBack)

	// Buffers of the wrong size are rejected outright.
	require.Error(t, dm.WritePage(id, make([]byte, testPageSize-1)))
	require.Error(t, dm.ReadPage(id, make([]byte, testPageSize+1)))
}

func TestDiskManager_DeallocateZeroesSlot(t *testing.T) {
	dm, _ := setupDiskManager(t)

	id, err := dm.AllocatePage()
	require.NoError(t, err)
	require.NoError(t, dm.WritePage(id, bytes.Repeat([]byte{0xFF}, testPageSize)))

	require.NoError(t, dm.DeallocatePage(id))

	readBack := make([]byte, testPageSize)
	require.NoError(t, dm.ReadPage(id, readBack))
	require.Equal(t, make([]byte, testPageSize), readBack)

	// The id is retired, not recycled: the next allocation moves past it.
	next, err := dm.AllocatePage()
	require.NoError(t, err)
	require.Greater(t, next, id)

	// The header page and out-of-range ids cannot be deallocated.
	require.Error(t, dm.DeallocatePage(pagemanager.InvalidPageID))
	require.Error(t, dm.DeallocatePage(next+1))
}

func TestDiskManager_PersistsAcrossReopen(t *testing.T) {
	dm, path := setupDiskManager(t)

	id, err := dm.AllocatePage()
	require.NoError(t, err)
	data := bytes.Repeat([]byte{0x5A}, testPageSize)
	require.NoError(t, dm.WritePage(id, data))
	require.NoError(t, dm.Sync())
	require.NoError(t, dm.Close())

	reopened, err := NewDiskManager(path, testPageSize, zap.NewNop())
	require.NoError(t, err)
	_, err = reopened.Open(false)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, uint64(2), reopened.NumPages())
	readBack := make([]byte, testPageSize)
	require.NoError(t, reopened.ReadPage(id, readBack))
	require.Equal(t, data, readBack)
}
