// Package bdgr persists the metadata index in a badger key/value store.
//
// Two key spaces share one database: "hash:<id>" holds the serialized
// record, "path:<backend>:<key>" holds the id the pair currently
// resolves to. Record and alias writes for one id always commit in the
// same transaction.
package bdgr

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger"
	jsoniter "github.com/json-iterator/go"

	"github.com/canvas-ai/canvas-stored/pkg/model"
	"github.com/canvas-ai/canvas-stored/pkg/store"
)

const metaDb = "meta"

var (
	hashPref = [5]byte{'h', 'a', 's', 'h', ':'}
	pathPref = [5]byte{'p', 'a', 't', 'h', ':'}
)

// New creates a badger backed metadata index rooted at baseDir.
func New(baseDir string) store.MetaStore {
	return &metaStore{
		baseDir: baseDir,
	}
}

type metaStore struct {
	baseDir string
	db      *badger.DB
	init    sync.Once
	close   sync.Once

	// one mutex per id, so the read-merge-write of a record and its
	// aliases is serialized per id while distinct ids stay parallel
	idLocks sync.Map
}

func (m *metaStore) Initialize() error {
	var err error

	m.init.Do(func() {
		var db *badger.DB
		db, err = makeBadgerDb(filepath.Join(m.baseDir, metaDb))
		if err != nil {
			return
		}
		m.db = db
	})

	return err
}

func (m *metaStore) Close() error {
	var err error

	m.close.Do(func() {
		if m.db != nil {
			err = m.db.Close()
			if err == nil {
				m.db = nil
			}
		}
	})

	return err
}

func (m *metaStore) lockID(id string) func() {
	v, _ := m.idLocks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func hashKey(id string) []byte {
	return append(hashPref[:], store.UnsafeStringToBytes(id)...)
}

func pathKey(backend, key string) []byte {
	return append(pathPref[:], store.UnsafeStringToBytes(model.PathKey(backend, key))...)
}

// mergeRecord overlays partial on top of existing. Maps merge key-wise,
// locations merge with (backend, key) dedup, scalar fields follow
// last-write-wins when set in partial. ID and Created never move.
func mergeRecord(existing model.MetaRecord, found bool, id string, partial model.MetaRecord, now time.Time) model.MetaRecord {
	merged := existing
	merged.ID = id
	if !found {
		merged.Created = now
	}
	merged.Modified = now

	if partial.Size > 0 {
		merged.Size = partial.Size
	}
	if partial.MimeType != "" {
		merged.MimeType = partial.MimeType
	}
	if len(partial.Checksums) > 0 {
		if merged.Checksums == nil {
			merged.Checksums = make(map[string]string, len(partial.Checksums))
		}
		for algo, digest := range partial.Checksums {
			merged.Checksums[algo] = digest
		}
	}
	if len(partial.Custom) > 0 {
		if merged.Custom == nil {
			merged.Custom = make(map[string]string, len(partial.Custom))
		}
		for k, v := range partial.Custom {
			merged.Custom[k] = v
		}
	}
	for _, loc := range partial.Locations {
		merged.AddLocation(loc)
	}
	return merged
}

func (m *metaStore) Put(id string, partial model.MetaRecord) (model.MetaRecord, error) {
	if id == "" {
		return model.MetaRecord{}, store.IDIsRequired
	}
	defer m.lockID(id)()

	var merged model.MetaRecord
	err := m.db.Update(func(txn *badger.Txn) error {
		hk := hashKey(id)
		existing, err := mapRecordItem(txn.Get(hk))
		found := err == nil
		if err != nil && err != store.ObjectNotFound {
			return err
		}

		merged = mergeRecord(existing, found, id, partial, time.Now().UTC())

		data, err := jsoniter.Marshal(merged)
		if err != nil {
			return fmt.Errorf("%w: json marshal failed: %v", store.InvalidRecord, err)
		}
		if err := txn.Set(hk, data); err != nil {
			return mapBadgerError(err)
		}
		for _, loc := range merged.Locations {
			if err := txn.Set(pathKey(loc.Backend, loc.Key), store.UnsafeStringToBytes(id)); err != nil {
				return mapBadgerError(err)
			}
		}
		return nil
	})
	if err != nil {
		return model.MetaRecord{}, err
	}
	return merged, nil
}

// resolve returns the record key for idOrPath: the hash key when a
// record exists under it, otherwise the hash key the path alias points
// to. Runs inside a read transaction.
func resolve(txn *badger.Txn, idOrPath string) ([]byte, error) {
	hk := hashKey(idOrPath)
	if _, err := txn.Get(hk); err == nil {
		return hk, nil
	} else if err != badger.ErrKeyNotFound {
		return nil, mapBadgerError(err)
	}

	backend, key := model.SplitPathKey(idOrPath)
	item, err := txn.Get(pathKey(backend, key))
	if err != nil {
		return nil, mapBadgerError(err)
	}
	id, err := item.Value()
	if err != nil {
		return nil, mapBadgerError(err)
	}
	return append(hashPref[:], id...), nil
}

func (m *metaStore) Get(idOrPath string) (model.MetaRecord, error) {
	if idOrPath == "" {
		return model.MetaRecord{}, store.IDIsRequired
	}
	var rec model.MetaRecord
	berr := m.db.View(func(txn *badger.Txn) error {
		hk, err := resolve(txn, idOrPath)
		if err != nil {
			return err
		}
		rec, err = mapRecordItem(txn.Get(hk))
		return err
	})
	if berr != nil {
		return model.MetaRecord{}, berr
	}
	return rec, nil
}

func (m *metaStore) Has(idOrPath string) (bool, error) {
	if idOrPath == "" {
		return false, store.IDIsRequired
	}
	var has bool
	berr := m.db.View(func(txn *badger.Txn) error {
		_, err := resolve(txn, idOrPath)
		if err == store.ObjectNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		has = true
		return nil
	})
	return has, berr
}

func (m *metaStore) Delete(id string) (bool, error) {
	if id == "" {
		return false, store.IDIsRequired
	}
	defer m.lockID(id)()

	var existed bool
	err := m.db.Update(func(txn *badger.Txn) error {
		hk := hashKey(id)
		rec, err := mapRecordItem(txn.Get(hk))
		if err == store.ObjectNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		existed = true

		if err := txn.Delete(hk); err != nil {
			return mapBadgerError(err)
		}
		// aliases come from the record's own location list, never from
		// a reverse scan; skip any alias a rename already repointed
		for _, loc := range rec.Locations {
			if err := deleteAliasIfOwned(txn, loc.Backend, loc.Key, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return existed, nil
}

func deleteAliasIfOwned(txn *badger.Txn, backend, key, id string) error {
	pk := pathKey(backend, key)
	item, err := txn.Get(pk)
	if err == badger.ErrKeyNotFound {
		return nil
	}
	if err != nil {
		return mapBadgerError(err)
	}
	owner, err := item.Value()
	if err != nil {
		return mapBadgerError(err)
	}
	if store.UnsafeBytesToString(owner) != id {
		return nil
	}
	return mapBadgerError(txn.Delete(pk))
}

func (m *metaStore) DropLocation(id, backend, key string) (model.MetaRecord, bool, error) {
	if id == "" {
		return model.MetaRecord{}, false, store.IDIsRequired
	}
	if backend == "" {
		return model.MetaRecord{}, false, store.BackendIsRequired
	}
	defer m.lockID(id)()

	var (
		rec    model.MetaRecord
		exists bool
	)
	err := m.db.Update(func(txn *badger.Txn) error {
		hk := hashKey(id)
		current, err := mapRecordItem(txn.Get(hk))
		if err != nil {
			return err
		}

		if !current.DropLocation(backend, key) {
			// idempotent replay, nothing to shrink
			rec, exists = current, true
			return nil
		}
		if err := deleteAliasIfOwned(txn, backend, key, id); err != nil {
			return err
		}

		if len(current.Locations) == 0 {
			// no record without at least one location
			if err := txn.Delete(hk); err != nil {
				return mapBadgerError(err)
			}
			rec, exists = current, false
			return nil
		}

		current.Modified = time.Now().UTC()
		data, err := jsoniter.Marshal(current)
		if err != nil {
			return fmt.Errorf("%w: json marshal failed: %v", store.InvalidRecord, err)
		}
		if err := txn.Set(hk, data); err != nil {
			return mapBadgerError(err)
		}
		rec, exists = current, true
		return nil
	})
	if err != nil {
		return model.MetaRecord{}, false, err
	}
	return rec, exists, nil
}

func (m *metaStore) FindByBackend(backend string) ([]model.MetaRecord, error) {
	if backend == "" {
		return nil, store.BackendIsRequired
	}
	var result []model.MetaRecord
	berr := m.db.View(func(txn *badger.Txn) error {
		iter := txn.NewIterator(badger.DefaultIteratorOptions)
		defer iter.Close()

		for iter.Seek(hashPref[:]); iter.ValidForPrefix(hashPref[:]); iter.Next() {
			rec, err := mapRecordItem(iter.Item(), nil)
			if err != nil {
				return err
			}
			for _, loc := range rec.Locations {
				if loc.Backend == backend {
					result = append(result, rec)
					break
				}
			}
		}
		return nil
	})
	if berr != nil {
		return nil, berr
	}
	return result, nil
}

func (m *metaStore) Entries(fn func(id string, rec model.MetaRecord) bool) error {
	return m.db.View(func(txn *badger.Txn) error {
		iter := txn.NewIterator(badger.DefaultIteratorOptions)
		defer iter.Close()

		for iter.Seek(hashPref[:]); iter.ValidForPrefix(hashPref[:]); iter.Next() {
			item := iter.Item()
			rec, err := mapRecordItem(item, nil)
			if err != nil {
				return err
			}
			id := string(item.Key()[len(hashPref):])
			if !fn(id, rec) {
				return nil
			}
		}
		return nil
	})
}

func (m *metaStore) Clear() error {
	return m.db.Update(func(txn *badger.Txn) error {
		opts := badger.IteratorOptions{
			PrefetchValues: false,
			PrefetchSize:   1000,
		}
		iter := txn.NewIterator(opts)
		defer iter.Close()

		var keys [][]byte
		for iter.Rewind(); iter.Valid(); iter.Next() {
			k := iter.Item().Key()
			keys = append(keys, append([]byte{}, k...))
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return mapBadgerError(err)
			}
		}
		return nil
	})
}
