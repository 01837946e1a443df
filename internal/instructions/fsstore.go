package instructions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FSBlobStore serves instruction documents from a local directory.
type FSBlobStore struct {
	root string
}

func NewFSBlobStore(root string) *FSBlobStore {
	return &FSBlobStore{root: root}
}

func (s *FSBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	clean := filepath.Clean("/" + key)
	if strings.Contains(clean, "..") {
		return nil, fmt.Errorf("invalid key %q", key)
	}
	path := filepath.Join(s.root, clean)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}
