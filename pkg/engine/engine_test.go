package engine

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvas-ai/canvas-stored/pkg/model"
	"github.com/canvas-ai/canvas-stored/pkg/storage"
	"github.com/canvas-ai/canvas-stored/pkg/storage/localfs"
	"github.com/canvas-ai/canvas-stored/pkg/store"
)

func setupEngine(t *testing.T) (*Engine, func()) {
	td, err := ioutil.TempDir("", "stored-tst")
	require.NoError(t, err)

	e, err := New(MetaDir(td))
	require.NoError(t, err)
	return e, func() {
		e.Close()
		os.RemoveAll(td)
	}
}

func memBackend(t *testing.T) storage.Store {
	bs, err := localfs.New(afero.NewMemMapFs())
	require.NoError(t, err)
	return bs
}

func TestRegisterBackend(t *testing.T) {
	e, cleanup := setupEngine(t)
	defer cleanup()

	require.NoError(t, e.RegisterBackend("be1", memBackend(t)))
	require.Equal(t, ErrBackendExists, e.RegisterBackend("be1", memBackend(t)))
	require.Equal(t, store.BackendIsRequired, e.RegisterBackend("", memBackend(t)))
	assert.Contains(t, e.Backends(), "be1")
}

func TestIngestFetch(t *testing.T) {
	e, cleanup := setupEngine(t)
	defer cleanup()
	require.NoError(t, e.RegisterBackend("be1", memBackend(t)))

	ctx := context.Background()
	payload := "hello canvas stored"
	rec, err := e.Ingest(ctx, "greetings/hello.txt", bytes.NewBufferString(payload))
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	assert.Equal(t, int64(len(payload)), rec.Size)
	assert.NotEmpty(t, rec.Checksums[model.PrimaryAlgorithm])
	require.Len(t, rec.Locations, 1)
	assert.True(t, rec.Locations[0].Synced)

	// fetch by id and by path alias
	rdr, got, err := e.Fetch(ctx, rec.ID)
	require.NoError(t, err)
	b, err := ioutil.ReadAll(rdr)
	require.NoError(t, err)
	require.NoError(t, rdr.Close())
	assert.Equal(t, payload, string(b))
	assert.Equal(t, rec.ID, got.ID)

	rdr, _, err = e.Fetch(ctx, model.PathKey("be1", "greetings/hello.txt"))
	require.NoError(t, err)
	rdr.Close()
}

func TestIngestDedup(t *testing.T) {
	e, cleanup := setupEngine(t)
	defer cleanup()
	require.NoError(t, e.RegisterBackend("be1", memBackend(t)))
	require.NoError(t, e.RegisterBackend("be2", memBackend(t)))

	ctx := context.Background()
	first, err := e.Ingest(ctx, "a.txt", bytes.NewBufferString("same content"), "be1")
	require.NoError(t, err)
	second, err := e.Ingest(ctx, "b.txt", bytes.NewBufferString("same content"), "be2")
	require.NoError(t, err)

	// same content ingested twice shares one record with both locations
	assert.Equal(t, first.ID, second.ID)
	require.Len(t, second.Locations, 2)

	records, err := e.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestIngestMultiTarget(t *testing.T) {
	e, cleanup := setupEngine(t)
	defer cleanup()
	be1, be2 := memBackend(t), memBackend(t)
	require.NoError(t, e.RegisterBackend("be1", be1))
	require.NoError(t, e.RegisterBackend("be2", be2))

	ctx := context.Background()
	rec, err := e.Ingest(ctx, "r.bin", bytes.NewBufferString("replicated"), "be1", "be2")
	require.NoError(t, err)
	require.Len(t, rec.Locations, 2)

	for _, bs := range []storage.Store{be1, be2} {
		has, err := bs.Has(ctx, "r.bin")
		require.NoError(t, err)
		assert.True(t, has)
	}

	// no explicit target with several backends is ambiguous
	_, err = e.Ingest(ctx, "x.bin", bytes.NewBufferString("x"))
	require.Equal(t, ErrNoTarget, err)
}

func TestRemove(t *testing.T) {
	e, cleanup := setupEngine(t)
	defer cleanup()
	be1 := memBackend(t)
	require.NoError(t, e.RegisterBackend("be1", be1))

	ctx := context.Background()
	rec, err := e.Ingest(ctx, "a.txt", bytes.NewBufferString("to be removed"))
	require.NoError(t, err)

	existed, err := e.Remove(ctx, rec.ID, true)
	require.NoError(t, err)
	require.True(t, existed)

	has, err := e.Has(rec.ID)
	require.NoError(t, err)
	assert.False(t, has)
	has, err = be1.Has(ctx, "a.txt")
	require.NoError(t, err)
	assert.False(t, has)

	// removing again is a no-op
	existed, err = e.Remove(ctx, rec.ID, true)
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestScanBackend(t *testing.T) {
	e, cleanup := setupEngine(t)
	defer cleanup()
	be1 := memBackend(t)
	require.NoError(t, e.RegisterBackend("be1", be1))

	ctx := context.Background()
	require.NoError(t, be1.Put(ctx, "pre/existing1.txt", bytes.NewBufferString("already there")))
	require.NoError(t, be1.Put(ctx, "pre/existing2.txt", bytes.NewBufferString("also there")))

	count, err := e.ScanBackend(ctx, "be1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	has, err := e.Has(model.PathKey("be1", "pre/existing1.txt"))
	require.NoError(t, err)
	assert.True(t, has)

	recs, err := e.FindByBackend("be1")
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	_, err = e.ScanBackend(ctx, "nope")
	require.Error(t, err)
}

func TestNotifications(t *testing.T) {
	e, cleanup := setupEngine(t)
	defer cleanup()
	require.NoError(t, e.RegisterBackend("be1", memBackend(t)))

	ctx := context.Background()
	rec, err := e.Ingest(ctx, "a.txt", bytes.NewBufferString("notify me"))
	require.NoError(t, err)

	n := <-e.Notifications()
	assert.Equal(t, model.ContentAdded, n.Kind)
	assert.Equal(t, rec.ID, n.ID)
	assert.Equal(t, "be1", n.Backend)

	_, err = e.Remove(ctx, rec.ID, false)
	require.NoError(t, err)
	n = <-e.Notifications()
	assert.Equal(t, model.ContentRemoved, n.Kind)
	assert.Equal(t, rec.ID, n.ID)
}

func TestCloseIdempotent(t *testing.T) {
	td, err := ioutil.TempDir("", "stored-tst")
	require.NoError(t, err)
	defer os.RemoveAll(td)

	e, err := New(MetaDir(td))
	require.NoError(t, err)
	require.NoError(t, e.RegisterBackend("be1", memBackend(t)))

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
}
