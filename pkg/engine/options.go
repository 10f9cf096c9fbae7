package engine

import (
	"go.uber.org/zap"

	"github.com/canvas-ai/canvas-stored/pkg/fingerprint"
	"github.com/canvas-ai/canvas-stored/pkg/store"
)

// Option alters the engine configuration.
type Option func(*Engine)

// MetaDir sets the directory backing the metadata index.
func MetaDir(dir string) Option {
	return func(e *Engine) {
		e.metaDir = dir
	}
}

// MetaStore injects a pre-built metadata index instead of the default
// badger store under MetaDir.
func MetaStore(ms store.MetaStore) Option {
	return func(e *Engine) {
		e.meta = ms
	}
}

// Logger sets the logger used by the engine and everything it builds.
func Logger(logs *zap.Logger) Option {
	return func(e *Engine) {
		e.logs = logs
	}
}

// Fingerprint overrides the checksum maker.
func Fingerprint(fp *fingerprint.Maker) Option {
	return func(e *Engine) {
		e.fp = fp
	}
}
