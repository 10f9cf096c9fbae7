// Package reconcile applies backend change notifications to the
// metadata index.
//
// Three event kinds drive the state of each (backend, key) path:
// content appeared, content changed identity, content disappeared.
// Appeared events merge into any record already holding the same
// checksum (deduplication across paths and backends); changed events
// re-key the path from its previous record to a new one; disappeared
// events shrink or delete the record the path alias resolves to.
package reconcile

import (
	"bytes"
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/canvas-ai/canvas-stored/pkg/fingerprint"
	"github.com/canvas-ai/canvas-stored/pkg/model"
	"github.com/canvas-ai/canvas-stored/pkg/storage"
	"github.com/canvas-ai/canvas-stored/pkg/store"
)

// New creates a Reconciler over the given metadata index.
func New(index store.MetaStore, logs *zap.Logger) *Reconciler {
	if logs == nil {
		logs = zap.NewNop()
	}
	return &Reconciler{
		index: index,
		logs:  logs,
	}
}

// Reconciler turns ChangeEvents into index mutations and public
// notifications. It holds no state of its own: the index is the single
// serialization point, so any number of callers may share one instance.
type Reconciler struct {
	index store.MetaStore
	logs  *zap.Logger
}

// Apply dispatches an event by type. Skipped events (missing checksums)
// return no notifications and no error.
func (r *Reconciler) Apply(ev model.ChangeEvent) ([]model.Notification, error) {
	switch ev.Type {
	case model.EventAdd:
		n, err := r.OnContentAppeared(ev)
		if n == nil || err != nil {
			return nil, err
		}
		return []model.Notification{*n}, nil
	case model.EventChange:
		return r.OnContentChanged(ev)
	case model.EventUnlink:
		n, err := r.OnContentDisappeared(ev)
		if n == nil || err != nil {
			return nil, err
		}
		return []model.Notification{*n}, nil
	default:
		r.logs.Warn("unknown event type", zap.String("type", string(ev.Type)))
		return nil, nil
	}
}

// OnContentAppeared indexes (backend, key) under the id derived from
// the event checksums. Replays are idempotent; a second path with the
// same content merges into the existing record instead of creating a
// duplicate. A nil notification means the event was skipped.
func (r *Reconciler) OnContentAppeared(ev model.ChangeEvent) (*model.Notification, error) {
	if skip := r.skipUnindexable(ev); skip {
		return nil, nil
	}
	id := model.IDFromChecksums(ev.Checksums)

	rec, err := r.index.Put(id, model.MetaRecord{
		Checksums: ev.Checksums,
		Size:      ev.Size,
		MimeType:  ev.MimeType,
		Locations: []model.Location{{Backend: ev.Backend, Key: ev.Key, Synced: true}},
	})
	if err != nil {
		return nil, err
	}

	r.logs.Debug("content appeared",
		zap.String("id", id),
		zap.String("backend", ev.Backend),
		zap.String("key", ev.Key),
		zap.Int("locations", len(rec.Locations)),
	)
	return &model.Notification{
		Kind:      model.ContentAdded,
		ID:        rec.ID,
		Backend:   ev.Backend,
		Key:       ev.Key,
		Checksums: rec.Checksums,
		Size:      rec.Size,
		MimeType:  rec.MimeType,
		Locations: rec.Locations,
	}, nil
}

// OnContentChanged re-keys (backend, key) from whatever id its path
// alias resolves to, to the id of the new checksums. The old record is
// shrunk first (deleted when it empties) so no state ever shows the
// path under both ids; then the new content is indexed as appeared.
func (r *Reconciler) OnContentChanged(ev model.ChangeEvent) ([]model.Notification, error) {
	if skip := r.skipUnindexable(ev); skip {
		return nil, nil
	}
	newID := model.IDFromChecksums(ev.Checksums)

	var notifications []model.Notification

	old, err := r.index.Get(model.PathKey(ev.Backend, ev.Key))
	switch {
	case err == store.ObjectNotFound:
		// path unknown, a change degrades to an add
	case err != nil:
		return nil, err
	case old.ID == newID:
		// content rewritten identically, nothing to re-key
	default:
		removed, err := r.dropPath(old.ID, ev.Backend, ev.Key)
		if err != nil {
			return nil, err
		}
		if removed != nil {
			notifications = append(notifications, *removed)
		}
	}

	added, err := r.OnContentAppeared(model.ChangeEvent{
		Type:      model.EventAdd,
		Backend:   ev.Backend,
		Key:       ev.Key,
		Checksums: ev.Checksums,
		Size:      ev.Size,
		MimeType:  ev.MimeType,
	})
	if err != nil {
		return notifications, err
	}
	if added != nil {
		notifications = append(notifications, *added)
	}
	return notifications, nil
}

// OnContentDisappeared removes (backend, key) from the record its path
// alias resolves to. When the alias doesn't resolve, a bare removal
// notification is returned so consumers still learn the path is gone.
func (r *Reconciler) OnContentDisappeared(ev model.ChangeEvent) (*model.Notification, error) {
	if err := ev.Validate(); err != nil {
		r.logs.Warn("invalid unlink event",
			zap.String("backend", ev.Backend),
			zap.String("key", ev.Key),
			zap.Error(err),
		)
		return nil, nil
	}

	old, err := r.index.Get(model.PathKey(ev.Backend, ev.Key))
	if err == store.ObjectNotFound {
		r.logs.Debug("unlink for unindexed path",
			zap.String("backend", ev.Backend),
			zap.String("key", ev.Key),
		)
		return &model.Notification{
			Kind:    model.ContentRemoved,
			Backend: ev.Backend,
			Key:     ev.Key,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	return r.dropPath(old.ID, ev.Backend, ev.Key)
}

// dropPath removes one location from a record and builds the removal
// notification carrying the former id, checksums and what remains.
func (r *Reconciler) dropPath(id, backend, key string) (*model.Notification, error) {
	rec, _, err := r.index.DropLocation(id, backend, key)
	if err == store.ObjectNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	r.logs.Debug("content removed",
		zap.String("id", id),
		zap.String("backend", backend),
		zap.String("key", key),
		zap.Int("locations", len(rec.Locations)),
	)
	return &model.Notification{
		Kind:      model.ContentRemoved,
		ID:        id,
		Backend:   backend,
		Key:       key,
		Checksums: rec.Checksums,
		Size:      rec.Size,
		MimeType:  rec.MimeType,
		Locations: rec.Locations,
	}, nil
}

// skipUnindexable enforces the data-loss-avoidance policy: an add or
// change without a primary checksum is skipped with a diagnostic, never
// indexed under a fabricated id.
func (r *Reconciler) skipUnindexable(ev model.ChangeEvent) bool {
	if err := ev.Validate(); err != nil {
		r.logs.Warn("skipping unindexable event",
			zap.String("type", string(ev.Type)),
			zap.String("backend", ev.Backend),
			zap.String("key", ev.Key),
			zap.Error(err),
		)
		return true
	}
	return false
}

// Scan replays a backend's full inventory as content-appeared events.
// Scanning is additive-only: entries that vanished from the backend are
// not reconciled here, that is the live watcher's job.
func (r *Reconciler) Scan(ctx context.Context, name string, st storage.Store, fp *fingerprint.Maker) ([]model.Notification, error) {
	keys, err := st.Keys(ctx)
	if err != nil {
		return nil, err
	}

	var notifications []model.Notification
	for _, key := range keys {
		select {
		case <-ctx.Done():
			return notifications, ctx.Err()
		default:
		}

		ev, err := enrich(ctx, name, key, st, fp)
		if err != nil {
			r.logs.Warn("scan enrichment failed",
				zap.String("backend", name),
				zap.String("key", key),
				zap.Error(err),
			)
			continue
		}
		n, err := r.OnContentAppeared(ev)
		if err != nil {
			return notifications, err
		}
		if n != nil {
			notifications = append(notifications, *n)
		}
	}
	return notifications, nil
}

// enrich synthesizes the same event shape a watcher emits, from a
// backend read.
func enrich(ctx context.Context, name, key string, st storage.Store, fp *fingerprint.Maker) (model.ChangeEvent, error) {
	rdr, err := st.Get(ctx, key)
	if err != nil {
		return model.ChangeEvent{}, err
	}
	defer rdr.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(rdr, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return model.ChangeEvent{}, err
	}
	head = head[:n]

	digests, size, err := fp.Process(io.MultiReader(bytes.NewReader(head), rdr))
	if err != nil {
		return model.ChangeEvent{}, err
	}

	return model.ChangeEvent{
		Type:      model.EventAdd,
		Backend:   name,
		Key:       key,
		Checksums: digests,
		Size:      size,
		MimeType:  fingerprint.SniffMime(head),
	}, nil
}
