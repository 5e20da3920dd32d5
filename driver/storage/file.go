package storage

import (
	"os"

	"github.com/google/renameio/v2"

	"example.com/synchroclock/core/state"
)

// FileStore keeps one state image in a file. Saves replace the file
// atomically so that a power cut leaves either the old or the new image.
type FileStore struct {
	Path string
}

var _ state.Store = (*FileStore)(nil)

func (s *FileStore) Load() ([]byte, error) {
	return os.ReadFile(s.Path)
}

func (s *FileStore) Save(img []byte) error {
	return renameio.WriteFile(s.Path, img, 0o600)
}
