package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

type prefsFile struct {
	Pins          map[string][]string `json:"pins"`
	SortKey       SortKey             `json:"sortKey"`
	SortDirection SortDirection       `json:"sortDirection"`
}

// Preferences stores the pinned file names per directory and the sort
// order. An empty path keeps everything in memory.
type Preferences struct {
	mu   sync.RWMutex
	path string
	data prefsFile
}

// LoadPreferences reads path, starting from defaults when it does not exist.
func LoadPreferences(path string) (*Preferences, error) {
	p := &Preferences{
		path: path,
		data: prefsFile{
			Pins:          map[string][]string{},
			SortKey:       SortByName,
			SortDirection: Descending,
		},
	}
	if path == "" {
		return p, nil
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read preferences: %w", err)
	}
	if err := json.Unmarshal(raw, &p.data); err != nil {
		return nil, fmt.Errorf("parse preferences %s: %w", path, err)
	}
	if p.data.Pins == nil {
		p.data.Pins = map[string][]string{}
	}
	if _, _, err := ParseSort(string(p.data.SortKey), string(p.data.SortDirection)); err != nil {
		p.data.SortKey, p.data.SortDirection = SortByName, Descending
	}
	return p, nil
}

// Pinned reports whether name is pinned in dir.
func (p *Preferences) Pinned(dir DocumentDir, name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Contains(p.data.Pins[dir.PinnedKey()], name)
}

// PinnedSet returns a copy of the pinned names of dir.
func (p *Preferences) PinnedSet(dir DocumentDir) map[string]bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	set := make(map[string]bool, len(p.data.Pins[dir.PinnedKey()]))
	for _, name := range p.data.Pins[dir.PinnedKey()] {
		set[name] = true
	}
	return set
}

// SetPinned pins or unpins name in dir.
func (p *Preferences) SetPinned(dir DocumentDir, name string, pinned bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := dir.PinnedKey()
	names := slices.DeleteFunc(slices.Clone(p.data.Pins[key]), func(n string) bool { return n == name })
	if pinned {
		names = append(names, name)
	}
	p.data.Pins[key] = names
	return p.saveLocked()
}

// RenamePinned moves a pin from oldName to newName if oldName was pinned.
func (p *Preferences) RenamePinned(dir DocumentDir, oldName, newName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := dir.PinnedKey()
	i := slices.Index(p.data.Pins[key], oldName)
	if i < 0 {
		return nil
	}
	names := slices.Clone(p.data.Pins[key])
	names[i] = newName
	p.data.Pins[key] = names
	return p.saveLocked()
}

// Sort returns the current sort order.
func (p *Preferences) Sort() (SortKey, SortDirection) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.data.SortKey, p.data.SortDirection
}

// SetSort changes the sort order.
func (p *Preferences) SetSort(key SortKey, direction SortDirection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data.SortKey = key
	p.data.SortDirection = direction
	return p.saveLocked()
}

func (p *Preferences) saveLocked() error {
	if p.path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(p.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create preferences dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".preferences-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp preferences: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write preferences: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp preferences: %w", err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp preferences: %w", err)
	}
	return nil
}
