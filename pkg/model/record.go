// Package model holds the serializable types shared by the metadata
// index, the reconciliation engine and the storage backends.
package model

import (
	"strings"
	"time"
)

const (
	// PrimaryAlgorithm is the checksum algorithm whose digest forms the
	// canonical id of a record.
	PrimaryAlgorithm = "sha256"

	// DefaultMimeType is used when content sniffing can't do better.
	DefaultMimeType = "application/octet-stream"
)

// Location records one physical copy of a piece of content: the backend
// holding it and the key it is stored under there.
type Location struct {
	Backend string `json:"backend" yaml:"backend"`
	Key     string `json:"key" yaml:"key"`
	Synced  bool   `json:"synced" yaml:"synced"`
}

// MetaRecord is the canonical metadata for one unique content checksum.
//
// ID is immutable once assigned; a content change under a watched path
// produces a new record, never an in-place id rewrite.
type MetaRecord struct {
	ID        string            `json:"id" yaml:"id"`
	Checksums map[string]string `json:"checksums" yaml:"checksums"`
	Size      int64             `json:"size" yaml:"size"`
	MimeType  string            `json:"mimeType,omitempty" yaml:"mimeType,omitempty"`
	Locations []Location        `json:"locations" yaml:"locations"`
	Created   time.Time         `json:"created" yaml:"created"`
	Modified  time.Time         `json:"modified" yaml:"modified"`
	Custom    map[string]string `json:"custom,omitempty" yaml:"custom,omitempty"`
}

// MakeID builds a canonical id from an algorithm name and a hex digest.
func MakeID(algorithm, digest string) string {
	return algorithm + ":" + digest
}

// IDFromChecksums derives the canonical id from a checksum map, or ""
// when the primary algorithm's digest is missing.
func IDFromChecksums(checksums map[string]string) string {
	digest := checksums[PrimaryAlgorithm]
	if digest == "" {
		return ""
	}
	return MakeID(PrimaryAlgorithm, digest)
}

// PathKey builds the secondary index key for a (backend, key) pair.
func PathKey(backend, key string) string {
	return backend + ":" + key
}

// SplitPathKey is the inverse of PathKey. The key part may itself
// contain colons, so only the first separator counts.
func SplitPathKey(pathKey string) (backend, key string) {
	i := strings.Index(pathKey, ":")
	if i < 0 {
		return pathKey, ""
	}
	return pathKey[:i], pathKey[i+1:]
}

// HasLocation reports whether the record already lists (backend, key).
func (m *MetaRecord) HasLocation(backend, key string) bool {
	for _, loc := range m.Locations {
		if loc.Backend == backend && loc.Key == key {
			return true
		}
	}
	return false
}

// AddLocation appends a location, or updates the Synced flag in place
// when the (backend, key) pair is already listed.
func (m *MetaRecord) AddLocation(loc Location) {
	for i, known := range m.Locations {
		if known.Backend == loc.Backend && known.Key == loc.Key {
			m.Locations[i].Synced = loc.Synced
			return
		}
	}
	m.Locations = append(m.Locations, loc)
}

// DropLocation removes (backend, key) from the location list and
// reports whether it was present.
func (m *MetaRecord) DropLocation(backend, key string) bool {
	for i, loc := range m.Locations {
		if loc.Backend == backend && loc.Key == key {
			m.Locations = append(m.Locations[:i], m.Locations[i+1:]...)
			return true
		}
	}
	return false
}
