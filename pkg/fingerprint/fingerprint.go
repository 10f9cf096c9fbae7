// Package fingerprint computes content checksums for one or more
// algorithms in a single streaming pass, plus best-effort MIME
// sniffing over the leading bytes.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"

	units "github.com/docker/go-units"
	blake2b "github.com/minio/blake2b-simd"

	"github.com/canvas-ai/canvas-stored/pkg/model"
)

// Algorithm names understood by the Maker.
const (
	SHA256  = "sha256"
	Blake2b = "blake2b"
)

type errString string

func (e errString) Error() string { return string(e) }

// ErrUnknownAlgorithm is returned for algorithm names the Maker can't produce
const ErrUnknownAlgorithm errString = "unknown checksum algorithm"

type Option func(*Maker)

// Algorithms overrides the digest set computed per stream.
func Algorithms(names ...string) Option {
	return func(m *Maker) {
		m.algorithms = names
	}
}

// BufferSize overrides the copy buffer used while streaming.
func BufferSize(sz int64) Option {
	return func(m *Maker) {
		m.bufferSize = sz
	}
}

// New creates a checksum Maker. By default it computes the primary
// algorithm plus blake2b.
func New(opts ...Option) *Maker {
	m := &Maker{
		algorithms: []string{model.PrimaryAlgorithm, Blake2b},
		bufferSize: int64(1 * units.MB),
	}
	for _, apply := range opts {
		apply(m)
	}
	return m
}

// Maker computes hex digests for a configured set of algorithms.
type Maker struct {
	algorithms []string
	bufferSize int64
}

func newHash(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case SHA256:
		return sha256.New(), nil
	case Blake2b:
		return blake2b.New256(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
}

// Process streams r to completion and returns the hex digest per
// configured algorithm together with the number of bytes read.
func (m *Maker) Process(r io.Reader) (map[string]string, int64, error) {
	hashes := make([]hash.Hash, len(m.algorithms))
	writers := make([]io.Writer, len(m.algorithms))
	for i, algo := range m.algorithms {
		h, err := newHash(algo)
		if err != nil {
			return nil, 0, err
		}
		hashes[i] = h
		writers[i] = h
	}

	buf := make([]byte, m.bufferSize)
	size, err := io.CopyBuffer(io.MultiWriter(writers...), r, buf)
	if err != nil {
		return nil, 0, fmt.Errorf("fingerprint stream: %v", err)
	}

	digests := make(map[string]string, len(m.algorithms))
	for i, algo := range m.algorithms {
		digests[algo] = hex.EncodeToString(hashes[i].Sum(nil))
	}
	return digests, size, nil
}

// ProcessBytes is Process over an in-memory buffer, without the
// size return since the caller already knows it.
func (m *Maker) ProcessBytes(data []byte) (map[string]string, error) {
	digests := make(map[string]string, len(m.algorithms))
	for _, algo := range m.algorithms {
		h, err := newHash(algo)
		if err != nil {
			return nil, err
		}
		_, _ = h.Write(data)
		digests[algo] = hex.EncodeToString(h.Sum(nil))
	}
	return digests, nil
}

// SniffMime detects the content type from the leading bytes of data,
// falling back to the generic binary type.
func SniffMime(data []byte) string {
	if len(data) == 0 {
		return model.DefaultMimeType
	}
	if len(data) > 512 {
		data = data[:512]
	}
	return http.DetectContentType(data)
}
