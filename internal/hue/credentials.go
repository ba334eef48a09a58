package hue

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Credentials holds the application key and streaming PSK for a paired bridge.
type Credentials struct {
	Username  string `json:"username"`
	Clientkey string `json:"clientkey"`
}

// Store keeps credentials for every paired bridge in one JSON file, keyed by
// bridge ID.
type Store struct {
	Path string
}

// DefaultStore returns the store under ~/.ambilight.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("locating home directory: %w", err)
	}
	return &Store{Path: filepath.Join(home, ".ambilight", "credentials.json")}, nil
}

func (s *Store) readAll() (map[string]Credentials, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, err
	}
	var all map[string]Credentials
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", s.Path, err)
	}
	return all, nil
}

func (s *Store) writeAll(all map[string]Credentials) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.Path, data, 0600)
}

// Load returns the credentials for bridgeID. A missing or unreadable file
// reports not found rather than an error so the UI falls back to pairing.
func (s *Store) Load(bridgeID string) (Credentials, bool, error) {
	all, err := s.readAll()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Credentials{}, false, nil
		}
		return Credentials{}, false, nil
	}
	c, ok := all[bridgeID]
	return c, ok, nil
}

// Save stores creds for bridgeID, keeping entries for other bridges.
func (s *Store) Save(bridgeID string, creds Credentials) error {
	all, err := s.readAll()
	if err != nil || all == nil {
		all = make(map[string]Credentials)
	}
	all[bridgeID] = creds
	return s.writeAll(all)
}

// Delete forgets bridgeID.
func (s *Store) Delete(bridgeID string) error {
	all, err := s.readAll()
	if err != nil {
		return err
	}
	delete(all, bridgeID)
	return s.writeAll(all)
}
