package localfs

import (
	"bytes"
	"context"
	"io/ioutil"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvas-ai/canvas-stored/pkg/storage"
)

func setupStore(t testing.TB) (storage.Store, func()) {
	t.Helper()

	fs := afero.NewMemMapFs()
	f, err := fs.Create("sixteentons")
	require.NoError(t, err)
	_, err = f.WriteString("this is the text")
	require.NoError(t, err)
	f.Close()

	ff, err := fs.Create("seventeentons")
	require.NoError(t, err)
	_, err = ff.WriteString("this is the text for another thing")
	require.NoError(t, err)
	ff.Close()

	bs, err := New(fs)
	require.NoError(t, err)
	return bs, func() {}
}

func TestHas(t *testing.T) {
	bs, cleanup := setupStore(t)
	defer cleanup()

	has, err := bs.Has(context.Background(), "sixteentons")
	require.NoError(t, err)
	require.True(t, has)

	has, err = bs.Has(context.Background(), "fifteentons")
	require.NoError(t, err)
	require.False(t, has)
}

func TestGet(t *testing.T) {
	bs, cleanup := setupStore(t)
	defer cleanup()

	rdr, err := bs.Get(context.Background(), "sixteentons")
	require.NoError(t, err)
	b, err := ioutil.ReadAll(rdr)
	require.NoError(t, err)
	require.NoError(t, rdr.Close())
	assert.Equal(t, "this is the text", string(b))

	_, err = bs.Get(context.Background(), "fifteentons")
	require.Equal(t, storage.ErrNotFound, err)
}

func TestPut(t *testing.T) {
	bs, cleanup := setupStore(t)
	defer cleanup()

	content := bytes.NewBufferString("here we go once again")
	err := bs.Put(context.Background(), "nested/eighteentons", content)
	require.NoError(t, err)

	rdr, err := bs.Get(context.Background(), "nested/eighteentons")
	require.NoError(t, err)
	b, err := ioutil.ReadAll(rdr)
	require.NoError(t, err)
	require.NoError(t, rdr.Close())
	assert.Equal(t, "here we go once again", string(b))

	// the staging area never leaks into key listings
	keys, err := bs.Keys(context.Background())
	require.NoError(t, err)
	assert.Len(t, keys, 3)
	for _, k := range keys {
		assert.NotContains(t, k, putStageName)
	}
}

func TestPutRejectsStageKey(t *testing.T) {
	bs, cleanup := setupStore(t)
	defer cleanup()

	err := bs.Put(context.Background(), putStageName+"/sneaky", bytes.NewBufferString("x"))
	require.Error(t, err)
}

func TestStat(t *testing.T) {
	bs, cleanup := setupStore(t)
	defer cleanup()

	fi, err := bs.Stat(context.Background(), "sixteentons")
	require.NoError(t, err)
	assert.Equal(t, int64(len("this is the text")), fi.Size)
	assert.False(t, fi.Modified.IsZero())

	_, err = bs.Stat(context.Background(), "fifteentons")
	require.Equal(t, storage.ErrNotFound, err)
}

func TestDelete(t *testing.T) {
	bs, cleanup := setupStore(t)
	defer cleanup()

	require.NoError(t, bs.Delete(context.Background(), "seventeentons"))
	k, _ := bs.Keys(context.Background())
	assert.Len(t, k, 1)

	// deleting a missing key is a no-op
	require.NoError(t, bs.Delete(context.Background(), "seventeentons"))
}

func TestClear(t *testing.T) {
	bs, cleanup := setupStore(t)
	defer cleanup()

	require.NoError(t, bs.Clear(context.Background()))
	k, _ := bs.Keys(context.Background())
	require.Empty(t, k)
}
