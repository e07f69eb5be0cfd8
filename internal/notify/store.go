package notify

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hunghuyn2003-source/mall-messaging/internal/models"
)

// Store persists the single undismissed payment notification across process
// restarts.
type Store interface {
	Load() (*models.PaymentNotification, error)
	Save(*models.PaymentNotification) error
	Clear() error
}

// FileStore keeps the notification as one JSON record on disk.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load returns the stored notification, or nil when nothing is stored.
// A corrupt record from an older version is discarded, not propagated.
func (s *FileStore) Load() (*models.PaymentNotification, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var n models.PaymentNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		_ = os.Remove(s.path)
		return nil, nil
	}
	return &n, nil
}

func (s *FileStore) Save(n *models.PaymentNotification) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return os.WriteFile(s.path, raw, 0o600)
}

func (s *FileStore) Clear() error {
	err := os.Remove(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
