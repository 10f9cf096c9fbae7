package localfs

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/canvas-ai/canvas-stored/pkg/fingerprint"
	"github.com/canvas-ai/canvas-stored/pkg/model"
	"github.com/canvas-ai/canvas-stored/pkg/storage"
)

// NewWatchable creates a local backend rooted at baseDir that also
// implements storage.Watchable: file system notifications are enriched
// with checksums, size and MIME type and surfaced as ChangeEvents.
func NewWatchable(name, baseDir string, fp *fingerprint.Maker, logs *zap.Logger) (storage.Store, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, err
	}
	st, err := New(afero.NewBasePathFs(afero.NewOsFs(), baseDir))
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = zap.NewNop()
	}
	if fp == nil {
		fp = fingerprint.New()
	}
	return &watchableFS{
		localFS: st.(*localFS),
		name:    name,
		baseDir: baseDir,
		fp:      fp,
		logs:    logs.With(zap.String("backend", name)),
	}, nil
}

type watchableFS struct {
	*localFS
	name    string
	baseDir string
	fp      *fingerprint.Maker
	logs    *zap.Logger
}

func (w *watchableFS) String() string {
	return "localfs-watch@" + w.baseDir
}

// Watch blocks until ctx is done, emitting one ChangeEvent per file
// system notification. Events for a given key are emitted in the order
// the OS reported them; the single dispatch loop guarantees that.
func (w *watchableFS) Watch(ctx context.Context, fn func(model.ChangeEvent)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// known keys let us tell adds from changes, and resolve removed
	// directories to the keys that lived under them
	known := make(map[string]bool)
	if err := w.addTree(watcher, w.baseDir, known, nil); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.dispatch(watcher, event, known, fn)
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logs.Warn("watch error", zap.Error(werr))
		}
	}
}

// addTree registers dir and its subdirectories with the watcher and
// records the keys found. When fn is non-nil, discovered files are
// also emitted as add events (a directory moved into the watch root).
func (w *watchableFS) addTree(watcher *fsnotify.Watcher, dir string, known map[string]bool, fn func(model.ChangeEvent)) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if filepath.Base(path) == putStageName {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		}
		key, kerr := w.keyFor(path)
		if kerr != nil {
			return nil
		}
		if !known[key] {
			known[key] = true
			if fn != nil {
				w.emitContent(model.EventAdd, key, fn)
			}
		}
		return nil
	})
}

func (w *watchableFS) keyFor(path string) (string, error) {
	key, err := filepath.Rel(w.baseDir, path)
	if err != nil {
		return "", err
	}
	if key == "." || strings.HasPrefix(key, putStageName) {
		return "", storage.ErrNotFound
	}
	return key, nil
}

func (w *watchableFS) dispatch(watcher *fsnotify.Watcher, event fsnotify.Event, known map[string]bool, fn func(model.ChangeEvent)) {
	key, err := w.keyFor(event.Name)
	if err != nil {
		return
	}

	switch {
	case event.Op&fsnotify.Create != 0:
		fi, serr := os.Stat(event.Name)
		if serr != nil {
			return
		}
		if fi.IsDir() {
			if aerr := w.addTree(watcher, event.Name, known, fn); aerr != nil {
				w.logs.Warn("watch subtree", zap.String("dir", event.Name), zap.Error(aerr))
			}
			return
		}
		kind := model.EventAdd
		if known[key] {
			kind = model.EventChange
		}
		known[key] = true
		w.emitContent(kind, key, fn)

	case event.Op&fsnotify.Write != 0:
		kind := model.EventChange
		if !known[key] {
			kind = model.EventAdd
		}
		known[key] = true
		w.emitContent(kind, key, fn)

	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		if known[key] {
			delete(known, key)
			fn(model.ChangeEvent{Type: model.EventUnlink, Backend: w.name, Key: key})
			return
		}
		// a vanished directory takes its keys with it
		prefix := key + string(os.PathSeparator)
		for k := range known {
			if strings.HasPrefix(k, prefix) {
				delete(known, k)
				fn(model.ChangeEvent{Type: model.EventUnlink, Backend: w.name, Key: k})
			}
		}
	}
}

// emitContent enriches an add/change notification with checksums, size
// and MIME type. When the file can't be read anymore the event goes out
// without checksums and reconciliation skips it.
func (w *watchableFS) emitContent(kind model.EventType, key string, fn func(model.ChangeEvent)) {
	ev := model.ChangeEvent{Type: kind, Backend: w.name, Key: key}

	f, err := os.Open(filepath.Join(w.baseDir, key))
	if err != nil {
		w.logs.Warn("read for enrichment", zap.String("key", key), zap.Error(err))
		fn(ev)
		return
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		w.logs.Warn("read for enrichment", zap.String("key", key), zap.Error(err))
		fn(ev)
		return
	}
	head = head[:n]

	digests, size, err := w.fp.Process(io.MultiReader(bytes.NewReader(head), f))
	if err != nil {
		w.logs.Warn("fingerprint", zap.String("key", key), zap.Error(err))
		fn(ev)
		return
	}

	ev.Checksums = digests
	ev.Size = size
	ev.MimeType = fingerprint.SniffMime(head)
	fn(ev)
}
