// Package store defines the contract of the durable metadata index.
//
// The index maps canonical content ids to metadata records and keeps a
// secondary alias from "backend:key" path keys to ids. Implementations
// live in sub-packages; pkg/store/bdgr is the badger-backed one.
package store

import (
	"github.com/canvas-ai/canvas-stored/pkg/model"
)

type errorString string

func (e errorString) Error() string {
	return string(e)
}

const (
	// IDIsRequired whenever an id is expected but not provided
	IDIsRequired errorString = "id is required"

	// BackendIsRequired whenever a backend name is expected but not provided
	BackendIsRequired errorString = "backend name is required"

	// ObjectNotFound when neither an id nor a path alias resolves
	ObjectNotFound errorString = "object not found"

	// StorageUnavailable when the durable store can't be opened or a
	// write fails at the storage layer
	StorageUnavailable errorString = "metadata storage unavailable"

	// InvalidRecord when a merge input is malformed, e.g. a record
	// without a primary checksum
	InvalidRecord errorString = "invalid metadata record"
)

// A MetaStore durably persists metadata records and their path aliases.
//
// Mutations for a single id (the read-merge-write of the record plus
// its alias writes) are atomic: two concurrent Put or Delete calls on
// the same id never interleave. Mutations on different ids may proceed
// in parallel.
type MetaStore interface {
	Initialize() error
	Close() error

	// Put upserts a record under id. Fields from partial are merged
	// over any existing record; id and created are immutable, modified
	// is always assigned by the store. Every location in the merged
	// result gets a path alias pointing at id, written in the same
	// transaction. Returns the merged record.
	Put(id string, partial model.MetaRecord) (model.MetaRecord, error)

	// Get resolves idOrPath first as an id, then as a "backend:key"
	// path alias. Returns ObjectNotFound if neither resolves.
	Get(idOrPath string) (model.MetaRecord, error)

	// Has is Get without deserializing the record.
	Has(idOrPath string) (bool, error)

	// Delete removes the record and every alias derived from its own
	// location list. Returns false without error when no record exists.
	Delete(id string) (bool, error)

	// DropLocation atomically removes (backend, key) from the record
	// with the given id, together with its path alias. When the
	// location list empties the record is deleted outright. Returns
	// the resulting record (post-drop state, locations empty if the
	// record was deleted) and whether the record still exists.
	// Returns ObjectNotFound when no record exists for id.
	DropLocation(id, backend, key string) (model.MetaRecord, bool, error)

	// FindByBackend returns all records with at least one location on
	// the named backend. Full scan; maintenance use only.
	FindByBackend(backend string) ([]model.MetaRecord, error)

	// Entries walks all records in persisted id order. The walk stops
	// early when fn returns false. Concurrent mutation is tolerated;
	// the iteration never yields a partially written record.
	Entries(fn func(id string, rec model.MetaRecord) bool) error

	// Clear drops all records and aliases. Test and reset use only.
	Clear() error
}
