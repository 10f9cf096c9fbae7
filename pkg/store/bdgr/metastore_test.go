package bdgr

import (
	"fmt"
	"io/ioutil"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvas-ai/canvas-stored/pkg/model"
	"github.com/canvas-ai/canvas-stored/pkg/store"
)

func setupMeta(t *testing.T) (store.MetaStore, func()) {
	td, err := ioutil.TempDir("", "stored-tst")
	require.NoError(t, err)

	ms := New(td)
	require.NoError(t, ms.Initialize())
	return ms, func() {
		ms.Close()
		os.RemoveAll(td)
	}
}

func checksums(digest string) map[string]string {
	return map[string]string{model.PrimaryAlgorithm: digest, "blake2b": "b-" + digest}
}

func TestPutGetRoundTrip(t *testing.T) {
	ms, cleanup := setupMeta(t)
	defer cleanup()

	id := model.MakeID(model.PrimaryAlgorithm, "c1")
	rec, err := ms.Put(id, model.MetaRecord{
		Checksums: checksums("c1"),
		Size:      16,
		MimeType:  "text/plain",
		Locations: []model.Location{{Backend: "be1", Key: "a.txt", Synced: true}},
		Custom:    map[string]string{"origin": "unit-test"},
	})
	require.NoError(t, err)
	require.Equal(t, id, rec.ID)
	require.False(t, rec.Created.IsZero())
	require.False(t, rec.Modified.Before(rec.Created))

	got, err := ms.Get(id)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.Equal(t, int64(16), got.Size)
	assert.Equal(t, "text/plain", got.MimeType)
	assert.Equal(t, "unit-test", got.Custom["origin"])
}

func TestGetByPathAlias(t *testing.T) {
	ms, cleanup := setupMeta(t)
	defer cleanup()

	id := model.MakeID(model.PrimaryAlgorithm, "c1")
	_, err := ms.Put(id, model.MetaRecord{
		Checksums: checksums("c1"),
		Locations: []model.Location{{Backend: "be1", Key: "docs/a.txt", Synced: true}},
	})
	require.NoError(t, err)

	got, err := ms.Get(model.PathKey("be1", "docs/a.txt"))
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)

	has, err := ms.Has(model.PathKey("be1", "docs/a.txt"))
	require.NoError(t, err)
	assert.True(t, has)

	_, err = ms.Get(model.PathKey("be1", "missing.txt"))
	require.Equal(t, store.ObjectNotFound, err)

	has, err = ms.Has("nope")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestPutMergesLocations(t *testing.T) {
	ms, cleanup := setupMeta(t)
	defer cleanup()

	id := model.MakeID(model.PrimaryAlgorithm, "c1")
	_, err := ms.Put(id, model.MetaRecord{
		Checksums: checksums("c1"),
		Locations: []model.Location{{Backend: "be1", Key: "a.txt", Synced: true}},
	})
	require.NoError(t, err)

	rec, err := ms.Put(id, model.MetaRecord{
		Checksums: checksums("c1"),
		Locations: []model.Location{{Backend: "be2", Key: "b.txt", Synced: true}},
	})
	require.NoError(t, err)
	require.Len(t, rec.Locations, 2)

	// both aliases resolve to the same record
	byFirst, err := ms.Get(model.PathKey("be1", "a.txt"))
	require.NoError(t, err)
	bySecond, err := ms.Get(model.PathKey("be2", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, byFirst.ID, bySecond.ID)

	// replaying the same location doesn't duplicate it
	rec, err = ms.Put(id, model.MetaRecord{
		Locations: []model.Location{{Backend: "be1", Key: "a.txt", Synced: true}},
	})
	require.NoError(t, err)
	assert.Len(t, rec.Locations, 2)
}

func TestPutPreservesCreated(t *testing.T) {
	ms, cleanup := setupMeta(t)
	defer cleanup()

	id := model.MakeID(model.PrimaryAlgorithm, "c1")
	first, err := ms.Put(id, model.MetaRecord{
		Checksums: checksums("c1"),
		Locations: []model.Location{{Backend: "be1", Key: "a.txt"}},
	})
	require.NoError(t, err)

	second, err := ms.Put(id, model.MetaRecord{Size: 42})
	require.NoError(t, err)
	assert.Equal(t, first.Created, second.Created)
	assert.False(t, second.Modified.Before(first.Modified))
	assert.Equal(t, int64(42), second.Size)
}

func TestDeleteRemovesAliases(t *testing.T) {
	ms, cleanup := setupMeta(t)
	defer cleanup()

	id := model.MakeID(model.PrimaryAlgorithm, "c1")
	_, err := ms.Put(id, model.MetaRecord{
		Checksums: checksums("c1"),
		Locations: []model.Location{
			{Backend: "be1", Key: "a.txt", Synced: true},
			{Backend: "be2", Key: "b.txt", Synced: true},
		},
	})
	require.NoError(t, err)

	existed, err := ms.Delete(id)
	require.NoError(t, err)
	require.True(t, existed)

	has, err := ms.Has(id)
	require.NoError(t, err)
	assert.False(t, has)

	has, err = ms.Has(model.PathKey("be1", "a.txt"))
	require.NoError(t, err)
	assert.False(t, has)

	has, err = ms.Has(model.PathKey("be2", "b.txt"))
	require.NoError(t, err)
	assert.False(t, has)
}

func TestDeleteAbsent(t *testing.T) {
	ms, cleanup := setupMeta(t)
	defer cleanup()

	existed, err := ms.Delete(model.MakeID(model.PrimaryAlgorithm, "missing"))
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestDropLocation(t *testing.T) {
	ms, cleanup := setupMeta(t)
	defer cleanup()

	id := model.MakeID(model.PrimaryAlgorithm, "c1")
	_, err := ms.Put(id, model.MetaRecord{
		Checksums: checksums("c1"),
		Locations: []model.Location{
			{Backend: "be1", Key: "a.txt", Synced: true},
			{Backend: "be2", Key: "b.txt", Synced: true},
		},
	})
	require.NoError(t, err)

	rec, exists, err := ms.DropLocation(id, "be1", "a.txt")
	require.NoError(t, err)
	require.True(t, exists)
	require.Len(t, rec.Locations, 1)
	assert.Equal(t, "be2", rec.Locations[0].Backend)

	// dropped alias is gone, the surviving one still resolves
	has, err := ms.Has(model.PathKey("be1", "a.txt"))
	require.NoError(t, err)
	assert.False(t, has)
	has, err = ms.Has(model.PathKey("be2", "b.txt"))
	require.NoError(t, err)
	assert.True(t, has)

	// dropping the last location deletes the record
	rec, exists, err = ms.DropLocation(id, "be2", "b.txt")
	require.NoError(t, err)
	require.False(t, exists)
	assert.Empty(t, rec.Locations)
	assert.Equal(t, checksums("c1"), rec.Checksums)

	has, err = ms.Has(id)
	require.NoError(t, err)
	assert.False(t, has)

	_, _, err = ms.DropLocation(id, "be2", "b.txt")
	require.Equal(t, store.ObjectNotFound, err)
}

func TestDropLocationIdempotent(t *testing.T) {
	ms, cleanup := setupMeta(t)
	defer cleanup()

	id := model.MakeID(model.PrimaryAlgorithm, "c1")
	_, err := ms.Put(id, model.MetaRecord{
		Checksums: checksums("c1"),
		Locations: []model.Location{{Backend: "be1", Key: "a.txt", Synced: true}},
	})
	require.NoError(t, err)

	rec, exists, err := ms.DropLocation(id, "be9", "unknown.txt")
	require.NoError(t, err)
	require.True(t, exists)
	assert.Len(t, rec.Locations, 1)
}

func TestFindByBackend(t *testing.T) {
	ms, cleanup := setupMeta(t)
	defer cleanup()

	for i := 0; i < 5; i++ {
		digest := fmt.Sprintf("c%d", i)
		backend := "be1"
		if i%2 == 1 {
			backend = "be2"
		}
		_, err := ms.Put(model.MakeID(model.PrimaryAlgorithm, digest), model.MetaRecord{
			Checksums: checksums(digest),
			Locations: []model.Location{{Backend: backend, Key: digest + ".bin", Synced: true}},
		})
		require.NoError(t, err)
	}

	recs, err := ms.FindByBackend("be1")
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	recs, err = ms.FindByBackend("be2")
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = ms.FindByBackend("be3")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestEntriesOrderAndEarlyStop(t *testing.T) {
	ms, cleanup := setupMeta(t)
	defer cleanup()

	for _, digest := range []string{"c3", "c1", "c2"} {
		_, err := ms.Put(model.MakeID(model.PrimaryAlgorithm, digest), model.MetaRecord{
			Checksums: checksums(digest),
			Locations: []model.Location{{Backend: "be1", Key: digest, Synced: true}},
		})
		require.NoError(t, err)
	}

	var ids []string
	err := ms.Entries(func(id string, rec model.MetaRecord) bool {
		require.Equal(t, id, rec.ID)
		ids = append(ids, id)
		return true
	})
	require.NoError(t, err)
	require.Equal(t, []string{
		model.MakeID(model.PrimaryAlgorithm, "c1"),
		model.MakeID(model.PrimaryAlgorithm, "c2"),
		model.MakeID(model.PrimaryAlgorithm, "c3"),
	}, ids)

	var seen int
	err = ms.Entries(func(string, model.MetaRecord) bool {
		seen++
		return seen < 2
	})
	require.NoError(t, err)
	assert.Equal(t, 2, seen)
}

func TestClear(t *testing.T) {
	ms, cleanup := setupMeta(t)
	defer cleanup()

	id := model.MakeID(model.PrimaryAlgorithm, "c1")
	_, err := ms.Put(id, model.MetaRecord{
		Checksums: checksums("c1"),
		Locations: []model.Location{{Backend: "be1", Key: "a.txt", Synced: true}},
	})
	require.NoError(t, err)

	require.NoError(t, ms.Clear())

	has, err := ms.Has(id)
	require.NoError(t, err)
	assert.False(t, has)
	has, err = ms.Has(model.PathKey("be1", "a.txt"))
	require.NoError(t, err)
	assert.False(t, has)
}

func TestConcurrentPutSameID(t *testing.T) {
	ms, cleanup := setupMeta(t)
	defer cleanup()

	id := model.MakeID(model.PrimaryAlgorithm, "c1")
	const writers = 8

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ms.Put(id, model.MetaRecord{
				Checksums: checksums("c1"),
				Locations: []model.Location{{Backend: "be1", Key: fmt.Sprintf("copy-%d.bin", i), Synced: true}},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	rec, err := ms.Get(id)
	require.NoError(t, err)
	// no location write may be lost to an interleaved read-merge-write
	require.Len(t, rec.Locations, writers)
	for _, loc := range rec.Locations {
		has, err := ms.Has(model.PathKey(loc.Backend, loc.Key))
		require.NoError(t, err)
		assert.True(t, has)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	td, err := ioutil.TempDir("", "stored-tst")
	require.NoError(t, err)
	defer os.RemoveAll(td)

	ms := New(td)
	require.NoError(t, ms.Initialize())

	id := model.MakeID(model.PrimaryAlgorithm, "c1")
	_, err = ms.Put(id, model.MetaRecord{
		Checksums: checksums("c1"),
		Locations: []model.Location{{Backend: "be1", Key: "a.txt", Synced: true}},
	})
	require.NoError(t, err)
	require.NoError(t, ms.Close())

	reopened := New(td)
	require.NoError(t, reopened.Initialize())
	defer reopened.Close()

	rec, err := reopened.Get(id)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Len(t, rec.Locations, 1)
}
