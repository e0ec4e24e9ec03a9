package content

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// newTestStore creates an artifact store in a temp directory.
func newTestStore(t *testing.T) (*LocalStore, string) {
	t.Helper()

	dir, err := os.MkdirTemp("", "content_test_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	t.Cleanup(func() {
		os.RemoveAll(dir)
	})

	s, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	return s, dir
}

func TestPutGetRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	data := bytes.Repeat([]byte("model weights "), 100)

	id, err := s.Put(ctx, data)
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}

	if id != IDOf(data) {
		t.Error("returned id does not match content digest")
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	if !bytes.Equal(got, data) {
		t.Error("round trip corrupted data")
	}
}

func TestPutIdempotent(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	data := []byte("same artifact")

	id1, err := s.Put(ctx, data)
	if err != nil {
		t.Fatalf("first put failed: %v", err)
	}

	id2, err := s.Put(ctx, data)
	if err != nil {
		t.Fatalf("second put failed: %v", err)
	}

	if id1 != id2 {
		t.Error("identical content produced different ids")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir failed: %v", err)
	}

	if len(entries) != 1 {
		t.Errorf("expected 1 artifact file, got %d", len(entries))
	}
}

func TestGetMissing(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Get(context.Background(), IDOf([]byte("never stored")))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetDetectsCorruption(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	id, err := s.Put(ctx, []byte("artifact body"))
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}

	// Replace the file with a different compressed payload.
	other, err := NewLocalStore(dir + "/other")
	if err != nil {
		t.Fatalf("second store failed: %v", err)
	}

	otherID, err := other.Put(ctx, []byte("tampered body"))
	if err != nil {
		t.Fatalf("second put failed: %v", err)
	}

	tampered, err := os.ReadFile(filepath.Join(dir, "other", otherID.String()+artifactExt))
	if err != nil {
		t.Fatalf("read tampered failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, id.String()+artifactExt), tampered, 0644); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	if _, err := s.Get(ctx, id); err == nil {
		t.Error("expected integrity error for tampered artifact")
	}
}
