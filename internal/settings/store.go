// Package settings persists per-device session configuration in a YAML file
// keyed by hardware address.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/vecs/internal/session"
	"gopkg.in/yaml.v3"
)

// Store is a file backed map of address to session.Settings.
// It is safe for concurrent use.
type Store struct {
	path    string
	logger  *logrus.Logger
	mu      sync.RWMutex
	devices map[string]session.Settings
}

// NewStore creates an empty store bound to path. Call Load to read it.
func NewStore(path string, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{
		path:    path,
		logger:  logger,
		devices: make(map[string]session.Settings),
	}
}

// Open creates a store and loads path into it.
func Open(path string, logger *logrus.Logger) (*Store, error) {
	s := NewStore(path, logger)
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

func normalizeAddress(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}

// Path returns the backing file
func (s *Store) Path() string { return s.path }

// Get returns the settings of address, or the defaults if it was never stored.
func (s *Store) Get(address string) (session.Settings, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.devices[normalizeAddress(address)]
	if !ok {
		return session.DefaultSettings(), false
	}
	return st, true
}

// Put stores st (normalized) for address. It is not written until Save.
func (s *Store) Put(address string, st session.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[normalizeAddress(address)] = st.Normalize()
}

// Delete forgets address and reports whether it was stored
func (s *Store) Delete(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := normalizeAddress(address)
	_, ok := s.devices[key]
	delete(s.devices, key)
	return ok
}

// Addresses returns the stored addresses in sorted order
func (s *Store) Addresses() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.devices))
	for addr := range s.devices {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Load replaces the in-memory content with the file content. A missing
// file yields an empty store. Fields absent from an entry take their
// default values.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.WithField("path", s.path).Debug("Settings file not found, starting empty")
		s.mu.Lock()
		s.devices = make(map[string]session.Settings)
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read settings %s: %w", s.path, err)
	}

	devices, err := Decode(data)
	if err != nil {
		return fmt.Errorf("failed to parse settings %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.devices = devices
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"path":    s.path,
		"devices": len(devices),
	}).Debug("Settings loaded")
	return nil
}

// Save writes the store to its file, replacing it atomically.
func (s *Store) Save() error {
	s.mu.RLock()
	data, err := Encode(s.devices)
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create settings directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace settings %s: %w", s.path, err)
	}

	s.logger.WithField("path", s.path).Debug("Settings saved")
	return nil
}

// Decode parses a settings document. Each entry starts from the defaults
// and is normalized after decoding.
func Decode(data []byte) (map[string]session.Settings, error) {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	devices := make(map[string]session.Settings, len(raw))
	for addr, node := range raw {
		st := session.DefaultSettings()
		if err := node.Decode(&st); err != nil {
			return nil, fmt.Errorf("device %s: %w", addr, err)
		}
		devices[normalizeAddress(addr)] = st.Normalize()
	}
	return devices, nil
}

// Encode renders devices as a settings document
func Encode(devices map[string]session.Settings) ([]byte, error) {
	data, err := yaml.Marshal(devices)
	if err != nil {
		return nil, fmt.Errorf("failed to encode settings: %w", err)
	}
	return data, nil
}
