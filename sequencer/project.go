package sequencer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// PatternInfo summarizes a stored pattern for listing
type PatternInfo struct {
	ID         string
	Name       string
	ModifiedAt time.Time
}

// Store persists patterns. Implementations may block on I/O, so nothing
// on the timing thread ever calls them.
type Store interface {
	Save(p Pattern) error
	Load(id string) (Pattern, error)
	List() ([]PatternInfo, error)
	Delete(id string) error
}

// DefaultPatternsDir returns ~/.config/go-gridbeat/patterns
func DefaultPatternsDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "go-gridbeat", "patterns"), nil
}

// FileStore keeps one JSON file per pattern under a directory
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, sanitizeFilename(id)+".json")
}

// Save validates and writes the pattern
func (s *FileStore) Save(p Pattern) error {
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(p.ID), data, 0644)
}

// Load reads and validates a stored pattern
func (s *FileStore) Load(id string) (Pattern, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return Pattern{}, err
	}
	var p Pattern
	if err := json.Unmarshal(data, &p); err != nil {
		return Pattern{}, fmt.Errorf("decode pattern %s: %w", id, err)
	}
	if p.Steps == nil {
		p.Steps = make(map[int][]Step)
	}
	if err := p.Validate(); err != nil {
		return Pattern{}, fmt.Errorf("stored pattern %s: %w", id, err)
	}
	return p, nil
}

// List returns stored patterns, most recently modified first
func (s *FileStore) List() ([]PatternInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []PatternInfo{}, nil
		}
		return nil, err
	}

	var infos []PatternInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		p, err := s.Load(id)
		if err != nil {
			// Skip unreadable files rather than failing the whole listing
			continue
		}
		infos = append(infos, PatternInfo{ID: p.ID, Name: p.Name, ModifiedAt: p.ModifiedAt})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ModifiedAt.After(infos[j].ModifiedAt)
	})
	return infos, nil
}

// Delete removes a stored pattern
func (s *FileStore) Delete(id string) error {
	return os.Remove(s.path(id))
}

// sanitizeFilename removes characters that are problematic in filenames
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, " ", "-")
	name = strings.ReplaceAll(name, "/", "-")
	name = strings.ReplaceAll(name, "\\", "-")
	name = strings.ReplaceAll(name, ":", "-")
	for _, c := range []string{"*", "?", "\"", "<", ">", "|"} {
		name = strings.ReplaceAll(name, c, "")
	}
	return name
}
