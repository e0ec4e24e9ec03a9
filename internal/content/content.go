// Package content abstracts off-chain artifact storage.
// The engine publishes the serialized global model after every merge and
// only needs the content identifier back; where the bytes actually live
// is a deployment concern.
package content

import (
	"context"
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// ID identifies a stored artifact by the blake3 hash of its
// uncompressed bytes.
type ID [32]byte

// String returns the hex form of the id.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Store abstracts artifact storage.
type Store interface {
	// Put stores the artifact and returns its content id.
	Put(ctx context.Context, data []byte) (ID, error)

	// Get retrieves an artifact by content id.
	Get(ctx context.Context, id ID) ([]byte, error)
}

// IDOf computes the content id of raw artifact bytes.
func IDOf(data []byte) ID {
	return blake3.Sum256(data)
}
