// Package engine is the orchestrating façade: it owns the metadata
// index, the checksum maker and the backend registry, computes content
// identity on ingest, and wires watch-capable backends into the
// reconciliation workers.
package engine

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/canvas-ai/canvas-stored/pkg/fingerprint"
	"github.com/canvas-ai/canvas-stored/pkg/model"
	"github.com/canvas-ai/canvas-stored/pkg/reconcile"
	"github.com/canvas-ai/canvas-stored/pkg/storage"
	"github.com/canvas-ai/canvas-stored/pkg/store"
	"github.com/canvas-ai/canvas-stored/pkg/store/bdgr"
)

type errString string

func (e errString) Error() string { return string(e) }

const (
	// ErrNoBackend when an operation names no registered backend
	ErrNoBackend errString = "no such backend registered"

	// ErrBackendExists when registering a name twice
	ErrBackendExists errString = "backend already registered"

	// ErrNoTarget when ingest can't determine a target backend
	ErrNoTarget errString = "no target backend"

	// ErrObjectTooBig for ingests beyond the in-memory ceiling
	ErrObjectTooBig errString = "object too big to be read into memory"
)

// MaxObjectSizeInMemory bounds a single ingest.
const MaxObjectSizeInMemory = 2 * 1024 * 1024 * 1024 // 2 gigs

// New builds an engine. The metadata index opens eagerly: without
// durable backing the engine cannot operate, so failures surface here.
func New(opts ...Option) (*Engine, error) {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		metaDir:       ".stored",
		logs:          zap.NewNop(),
		backends:      make(map[string]storage.Store),
		workers:       make(map[string]*reconcile.Worker),
		notifications: make(chan model.Notification, 128),
		watchCtx:      ctx,
		watchCancel:   cancel,
	}
	for _, apply := range opts {
		apply(e)
	}
	if e.fp == nil {
		e.fp = fingerprint.New()
	}
	if e.meta == nil {
		e.meta = bdgr.New(e.metaDir)
	}
	if err := e.meta.Initialize(); err != nil {
		cancel()
		return nil, err
	}
	e.reconciler = reconcile.New(e.meta, e.logs)
	return e, nil
}

// Engine ties the index, the checksummer and the backends together.
// All methods are safe for concurrent use; the index serializes
// per-id mutations internally.
type Engine struct {
	metaDir string
	logs    *zap.Logger
	fp      *fingerprint.Maker

	meta       store.MetaStore
	reconciler *reconcile.Reconciler

	mu       sync.RWMutex
	backends map[string]storage.Store
	workers  map[string]*reconcile.Worker

	notifications chan model.Notification
	watchCtx      context.Context
	watchCancel   context.CancelFunc
	watchGroup    sync.WaitGroup
	closeOnce     sync.Once
	closeErr      error
}

// RegisterBackend adds a named byte backend. Watch capability is
// resolved here, once: watchable backends get a dedicated
// reconciliation worker fed by their event stream.
func (e *Engine) RegisterBackend(name string, st storage.Store) error {
	if name == "" {
		return store.BackendIsRequired
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.backends[name]; ok {
		return ErrBackendExists
	}
	e.backends[name] = st

	watchable, ok := st.(storage.Watchable)
	if !ok {
		e.logs.Debug("backend registered", zap.String("backend", name), zap.String("store", st.String()))
		return nil
	}

	worker := reconcile.NewWorker(name, e.reconciler, e.logs)
	e.workers[name] = worker

	e.watchGroup.Add(2)
	go func() {
		defer e.watchGroup.Done()
		if err := worker.Run(e.watchCtx, e.notifications); err != nil && err != context.Canceled {
			e.logs.Error("reconcile worker stopped", zap.String("backend", name), zap.Error(err))
		}
	}()
	go func() {
		defer e.watchGroup.Done()
		if err := watchable.Watch(e.watchCtx, worker.Enqueue); err != nil && err != context.Canceled {
			e.logs.Error("watcher stopped", zap.String("backend", name), zap.Error(err))
		}
	}()

	e.logs.Debug("watchable backend registered", zap.String("backend", name), zap.String("store", st.String()))
	return nil
}

func (e *Engine) backend(name string) (storage.Store, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoBackend, name)
	}
	return st, nil
}

// Backends lists the registered backend names.
func (e *Engine) Backends() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.backends))
	for name := range e.backends {
		names = append(names, name)
	}
	return names
}

// Ingest stores the content under key on the target backends, computes
// its identity and indexes every written location. With no explicit
// target and exactly one registered backend, that backend is used.
func (e *Engine) Ingest(ctx context.Context, key string, rdr io.Reader, targets ...string) (model.MetaRecord, error) {
	if len(targets) == 0 {
		e.mu.RLock()
		for name := range e.backends {
			targets = append(targets, name)
		}
		e.mu.RUnlock()
		if len(targets) != 1 {
			return model.MetaRecord{}, ErrNoTarget
		}
	}

	units := make([]storage.MultiStoreUnit, 0, len(targets))
	for _, name := range targets {
		st, err := e.backend(name)
		if err != nil {
			return model.MetaRecord{}, err
		}
		units = append(units, storage.MultiStoreUnit{Store: st})
	}

	buffer, err := ioutil.ReadAll(io.LimitReader(rdr, MaxObjectSizeInMemory+1))
	if err != nil {
		return model.MetaRecord{}, fmt.Errorf("reading ingest content: %v", err)
	}
	if len(buffer) > MaxObjectSizeInMemory {
		return model.MetaRecord{}, ErrObjectTooBig
	}

	digests, err := e.fp.ProcessBytes(buffer)
	if err != nil {
		return model.MetaRecord{}, err
	}
	id := model.IDFromChecksums(digests)
	if id == "" {
		return model.MetaRecord{}, store.InvalidRecord
	}

	if err := storage.MultiPut(ctx, units, key, buffer); err != nil {
		return model.MetaRecord{}, err
	}

	locations := make([]model.Location, 0, len(targets))
	for _, name := range targets {
		locations = append(locations, model.Location{Backend: name, Key: key, Synced: true})
	}
	rec, err := e.meta.Put(id, model.MetaRecord{
		Checksums: digests,
		Size:      int64(len(buffer)),
		MimeType:  fingerprint.SniffMime(buffer),
		Locations: locations,
	})
	if err != nil {
		return model.MetaRecord{}, err
	}

	for _, name := range targets {
		e.notify(model.Notification{
			Kind:      model.ContentAdded,
			ID:        rec.ID,
			Backend:   name,
			Key:       key,
			Checksums: rec.Checksums,
			Size:      rec.Size,
			MimeType:  rec.MimeType,
			Locations: rec.Locations,
		})
	}
	return rec, nil
}

// Fetch resolves idOrPath through the index and streams the content
// back from the first registered location that still has it.
func (e *Engine) Fetch(ctx context.Context, idOrPath string) (io.ReadCloser, model.MetaRecord, error) {
	rec, err := e.meta.Get(idOrPath)
	if err != nil {
		return nil, model.MetaRecord{}, err
	}
	for _, loc := range rec.Locations {
		st, err := e.backend(loc.Backend)
		if err != nil {
			continue
		}
		rdr, err := st.Get(ctx, loc.Key)
		if err != nil {
			e.logs.Warn("location read failed, trying next",
				zap.String("id", rec.ID),
				zap.String("backend", loc.Backend),
				zap.String("key", loc.Key),
				zap.Error(err),
			)
			continue
		}
		return rdr, rec, nil
	}
	return nil, rec, storage.ErrNotFound
}

// Info resolves idOrPath to its metadata record.
func (e *Engine) Info(idOrPath string) (model.MetaRecord, error) {
	return e.meta.Get(idOrPath)
}

// Has reports whether idOrPath resolves to an indexed record.
func (e *Engine) Has(idOrPath string) (bool, error) {
	return e.meta.Has(idOrPath)
}

// List returns all indexed records in id order.
func (e *Engine) List() ([]model.MetaRecord, error) {
	var records []model.MetaRecord
	err := e.meta.Entries(func(_ string, rec model.MetaRecord) bool {
		records = append(records, rec)
		return true
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// FindByBackend returns the records holding at least one location on
// the named backend.
func (e *Engine) FindByBackend(name string) ([]model.MetaRecord, error) {
	return e.meta.FindByBackend(name)
}

// Remove drops a record from the index and, when deleteBytes is set,
// deletes the content from every registered location first. Returns
// whether a record existed.
func (e *Engine) Remove(ctx context.Context, id string, deleteBytes bool) (bool, error) {
	rec, err := e.meta.Get(id)
	if err == store.ObjectNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if deleteBytes {
		for _, loc := range rec.Locations {
			st, berr := e.backend(loc.Backend)
			if berr != nil {
				e.logs.Warn("skipping byte deletion on unregistered backend",
					zap.String("backend", loc.Backend), zap.String("key", loc.Key))
				continue
			}
			if derr := st.Delete(ctx, loc.Key); derr != nil {
				return false, fmt.Errorf("deleting %q from %q: %v", loc.Key, loc.Backend, derr)
			}
		}
	}

	existed, err := e.meta.Delete(rec.ID)
	if err != nil {
		return existed, err
	}
	for _, loc := range rec.Locations {
		e.notify(model.Notification{
			Kind:      model.ContentRemoved,
			ID:        rec.ID,
			Backend:   loc.Backend,
			Key:       loc.Key,
			Checksums: rec.Checksums,
			Size:      rec.Size,
			MimeType:  rec.MimeType,
		})
	}
	return existed, nil
}

// ScanBackend walks a backend's inventory and indexes what it finds.
// Additive-only: it never prunes entries that vanished from the
// backend, deletions reconcile through live watch events only.
func (e *Engine) ScanBackend(ctx context.Context, name string) (int, error) {
	st, err := e.backend(name)
	if err != nil {
		return 0, err
	}
	notifications, err := e.reconciler.Scan(ctx, name, st, e.fp)
	for _, n := range notifications {
		e.notify(n)
	}
	return len(notifications), err
}

// Notifications exposes the public event stream: one entry per
// reconciled location add/remove, from ingest, removal, scan and
// watch alike.
func (e *Engine) Notifications() <-chan model.Notification {
	return e.notifications
}

func (e *Engine) notify(n model.Notification) {
	select {
	case e.notifications <- n:
	default:
		// a slow consumer must not stall ingest or reconciliation
		e.logs.Warn("notification dropped",
			zap.String("kind", string(n.Kind)),
			zap.String("id", n.ID),
		)
	}
}

// Close stops watchers and workers, then releases the index. Safe to
// call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.watchCancel()
		e.watchGroup.Wait()

		e.mu.Lock()
		for _, worker := range e.workers {
			worker.Close()
		}
		e.workers = make(map[string]*reconcile.Worker)
		e.mu.Unlock()

		close(e.notifications)
		e.closeErr = multierr.Append(e.closeErr, e.meta.Close())
	})
	return e.closeErr
}
