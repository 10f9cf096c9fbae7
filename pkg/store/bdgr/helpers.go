package bdgr

import (
	"fmt"
	"os"

	"github.com/dgraph-io/badger"
	jsoniter "github.com/json-iterator/go"

	"github.com/canvas-ai/canvas-stored/pkg/model"
	"github.com/canvas-ai/canvas-stored/pkg/store"
)

func makeBadgerDb(dir string) (*badger.DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("%w: mkdir %q: %v", store.StorageUnavailable, dir, err)
	}
	bopts := badger.DefaultOptions
	bopts.Dir = dir
	bopts.ValueDir = dir

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %v", store.StorageUnavailable, dir, err)
	}
	return db, nil
}

func mapBadgerError(err error) error {
	if err == nil {
		return nil
	}
	switch err.Error() {
	case badger.ErrKeyNotFound.Error():
		return store.ObjectNotFound
	case badger.ErrEmptyKey.Error():
		return store.IDIsRequired
	default:
		return fmt.Errorf("%w: %v", store.StorageUnavailable, err)
	}
}

func mapRecordItem(item *badger.Item, err error) (model.MetaRecord, error) {
	if err != nil {
		return model.MetaRecord{}, mapBadgerError(err)
	}
	data, err := item.Value()
	if err != nil {
		return model.MetaRecord{}, mapBadgerError(err)
	}

	var result model.MetaRecord
	if e := jsoniter.Unmarshal(data, &result); e != nil {
		return model.MetaRecord{}, fmt.Errorf("%w: json unmarshal failed: %v", store.InvalidRecord, e)
	}
	return result, nil
}
