package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/uuid/v5"
	"github.com/moby/sys/atomicwriter"
	"go.uber.org/zap"
)

const (
	appDirName      = "growthledger"
	entitlementFile = "entitlement.json"
	deviceIDFile    = "device_id"
)

// DefaultDir returns $XDG_CONFIG_HOME/growthledger (or the platform equivalent).
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, appDirName), nil
}

// FileStore keeps the entitlement as JSON next to the device identifier, both 0600.
type FileStore struct {
	dir string
	log *zap.Logger
	mu  sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates dir if needed.
func NewFileStore(dir string, log *zap.Logger) (*FileStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	return &FileStore{dir: dir, log: log}, nil
}

// Dir returns the directory holding the store files.
func (s *FileStore) Dir() string { return s.dir }

// Get returns the cached entitlement. A corrupt file is logged and treated as empty.
func (s *FileStore) Get() (Entitlement, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(filepath.Join(s.dir, entitlementFile))
	if errors.Is(err, fs.ErrNotExist) {
		return Entitlement{}, false, nil
	}
	if err != nil {
		return Entitlement{}, false, err
	}
	var e Entitlement
	if err := json.Unmarshal(b, &e); err != nil || e.Token == "" {
		s.log.Warn("ignoring unreadable entitlement cache", zap.String("dir", s.dir), zap.Error(err))
		return Entitlement{}, false, nil
	}
	return e, true, nil
}

func (s *FileStore) Set(e Entitlement) error {
	b, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return atomicwriter.WriteFile(filepath.Join(s.dir, entitlementFile), b, 0o600)
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(filepath.Join(s.dir, entitlementFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// DeviceID reads the persisted identifier or creates one. An unparsable file is replaced.
func (s *FileStore) DeviceID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := filepath.Join(s.dir, deviceIDFile)
	b, err := os.ReadFile(p)
	if err == nil {
		if id, perr := uuid.FromString(strings.TrimSpace(string(b))); perr == nil {
			return id.String(), nil
		}
		s.log.Warn("replacing unreadable device id", zap.String("path", p))
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	id, err := newDeviceID()
	if err != nil {
		return "", err
	}
	if err := atomicwriter.WriteFile(p, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	return id, nil
}
