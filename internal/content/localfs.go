package content

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// artifactExt is the filename extension for stored artifacts.
const artifactExt = ".bin.zst"

// ErrNotFound is returned when an artifact does not exist.
var ErrNotFound = errors.New("artifact not found")

// LocalStore stores artifacts as zstd-compressed files on the local
// filesystem, one file per content id.
type LocalStore struct {
	dir     string        // dir is the artifact directory
	encoder *zstd.Encoder // encoder is the shared zstd encoder
	decoder *zstd.Decoder // decoder is the shared zstd decoder
	mu      sync.Mutex    // mu serializes writes
}

// NewLocalStore creates (and if needed, makes) the artifact directory.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir:\n%w", err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder:\n%w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder:\n%w", err)
	}

	return &LocalStore{dir: dir, encoder: encoder, decoder: decoder}, nil
}

// Put compresses and stores the artifact, keyed by its content id.
// Writing an id that already exists is a no-op: content-addressed data
// never changes under its id.
func (s *LocalStore) Put(ctx context.Context, data []byte) (ID, error) {
	if err := ctx.Err(); err != nil {
		return ID{}, err
	}

	id := IDOf(data)
	path := s.artifactPath(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(path); err == nil {
		return id, nil
	}

	compressed := s.encoder.EncodeAll(data, nil)

	// Write to a temp file and rename so readers never see partial data.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
		return ID{}, fmt.Errorf("write artifact:\n%w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return ID{}, fmt.Errorf("publish artifact:\n%w", err)
	}

	return id, nil
}

// Get retrieves and decompresses an artifact.
func (s *LocalStore) Get(ctx context.Context, id ID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	compressed, err := os.ReadFile(s.artifactPath(id))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact:\n%w", err)
	}

	data, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress artifact:\n%w", err)
	}

	if IDOf(data) != id {
		return nil, fmt.Errorf("artifact %s failed integrity check", id)
	}

	return data, nil
}

// artifactPath builds the file path for a content id.
func (s *LocalStore) artifactPath(id ID) string {
	return filepath.Join(s.dir, id.String()+artifactExt)
}
