package model

type errString string

func (e errString) Error() string { return string(e) }

const (
	// ErrBackendRequired is returned when an event doesn't name its backend
	ErrBackendRequired errString = "backend name is required"

	// ErrKeyRequired is returned when an event doesn't carry a storage key
	ErrKeyRequired errString = "storage key is required"

	// ErrChecksumRequired is returned when an add or change event has no
	// digest for the primary algorithm
	ErrChecksumRequired errString = "primary checksum is required"
)

// EventType discriminates backend change notifications.
type EventType string

const (
	// EventAdd signals content appeared under a new key
	EventAdd EventType = "add"

	// EventChange signals the content under a known key changed identity
	EventChange EventType = "change"

	// EventUnlink signals the content under a key is gone
	EventUnlink EventType = "unlink"
)

// ChangeEvent is a backend change notification, enriched with checksums
// and content info where the content is still readable. Unlink events
// carry neither checksums nor size.
type ChangeEvent struct {
	Type      EventType         `json:"type" yaml:"type"`
	Backend   string            `json:"backend" yaml:"backend"`
	Key       string            `json:"key" yaml:"key"`
	Checksums map[string]string `json:"checksums,omitempty" yaml:"checksums,omitempty"`
	Size      int64             `json:"size,omitempty" yaml:"size,omitempty"`
	MimeType  string            `json:"mimeType,omitempty" yaml:"mimeType,omitempty"`
}

// Validate checks the event is complete enough to reconcile.
func (c *ChangeEvent) Validate() error {
	if c.Backend == "" {
		return ErrBackendRequired
	}
	if c.Key == "" {
		return ErrKeyRequired
	}
	if c.Type == EventAdd || c.Type == EventChange {
		if IDFromChecksums(c.Checksums) == "" {
			return ErrChecksumRequired
		}
	}
	return nil
}

// NotificationKind discriminates the public notifications re-emitted
// after reconciliation.
type NotificationKind string

const (
	// ContentAdded is emitted when a location was indexed under an id
	ContentAdded NotificationKind = "added"

	// ContentRemoved is emitted when a location was dropped from an id,
	// or when an unlink could not be resolved to any record
	ContentRemoved NotificationKind = "removed"
)

// Notification is the public payload re-emitted after an event was
// reconciled into the index. For removals, Checksums and Locations
// describe the former record so consumers can tell "this backend no
// longer has it" from "no backend has it anywhere".
type Notification struct {
	Kind      NotificationKind  `json:"kind" yaml:"kind"`
	ID        string            `json:"id,omitempty" yaml:"id,omitempty"`
	Backend   string            `json:"backend" yaml:"backend"`
	Key       string            `json:"key" yaml:"key"`
	Checksums map[string]string `json:"checksums,omitempty" yaml:"checksums,omitempty"`
	Size      int64             `json:"size,omitempty" yaml:"size,omitempty"`
	MimeType  string            `json:"mimeType,omitempty" yaml:"mimeType,omitempty"`
	Locations []Location        `json:"locations,omitempty" yaml:"locations,omitempty"`
}
