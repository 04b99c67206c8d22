package explorer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"imagery-explorer/internal/common"
	"imagery-explorer/internal/registry"
	"imagery-explorer/internal/stac"
)

// ErrWorkspaceNotFound is returned by store lookups for unknown IDs.
var ErrWorkspaceNotFound = errors.New("workspace not found")

// storeIndex records the workspace listing order.
type storeIndex struct {
	Order []string `json:"order"`
}

// Store keeps workspaces in memory and mirrors every change to disk,
// one JSON file per workspace plus an index holding the listing order.
type Store struct {
	mu         sync.RWMutex
	baseDir    string
	workspaces map[string]*Workspace
	order      []string
}

// NewStore opens the workspace store under dataDir and loads what is
// already on disk. Unreadable or corrupt workspace files are skipped
// with a logged warning so one bad file never blocks startup.
func NewStore(dataDir string) (*Store, error) {
	s := &Store{
		baseDir:    filepath.Join(dataDir, "workspaces"),
		workspaces: map[string]*Workspace{},
	}
	if err := os.MkdirAll(s.baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}
	s.loadAll()
	return s, nil
}

func (s *Store) indexPath() string {
	return filepath.Join(s.baseDir, "index.json")
}

func (s *Store) workspacePath(id string) string {
	return filepath.Join(s.baseDir, id+".json")
}

func (s *Store) loadAll() {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		log.Printf("[Workspace] Failed to read workspace directory: %v", err)
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || name == "index.json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.baseDir, name))
		if err != nil {
			log.Printf("[Workspace] Skipping %s: %v", name, err)
			continue
		}
		var ws Workspace
		if err := json.Unmarshal(data, &ws); err != nil {
			log.Printf("[Workspace] Skipping %s: %v", name, err)
			continue
		}
		if ws.ID == "" || ws.ID != filepath.Base(ws.ID) {
			log.Printf("[Workspace] Skipping %s: invalid workspace ID", name)
			continue
		}
		normalize(&ws)
		s.workspaces[ws.ID] = &ws
	}

	if data, err := os.ReadFile(s.indexPath()); err == nil {
		var idx storeIndex
		if err := json.Unmarshal(data, &idx); err == nil {
			s.order = idx.Order
		}
	}

	// Drop order entries whose file disappeared
	validOrder := make([]string, 0, len(s.order))
	for _, id := range s.order {
		if _, ok := s.workspaces[id]; ok {
			validOrder = append(validOrder, id)
		}
	}
	s.order = validOrder

	// Append any workspaces missing from the order, oldest first
	inOrder := make(map[string]bool, len(s.order))
	for _, id := range s.order {
		inOrder[id] = true
	}
	var missing []*Workspace
	for id, ws := range s.workspaces {
		if !inOrder[id] {
			missing = append(missing, ws)
		}
	}
	sort.Slice(missing, func(i, j int) bool {
		return missing[i].CreatedAt.Before(missing[j].CreatedAt)
	})
	for _, ws := range missing {
		s.order = append(s.order, ws.ID)
	}

	log.Printf("[Workspace] Loaded %d workspaces from disk", len(s.workspaces))
}

// normalize repairs a workspace loaded from disk: containers become
// non-nil and the selection and layer map are reconciled so their keys
// match.
func normalize(ws *Workspace) {
	if ws.Results == nil {
		ws.Results = []stac.Item{}
	}
	if ws.Layers == nil {
		ws.Layers = map[string]LayerState{}
	}
	kept := make([]string, 0, len(ws.Selected))
	seen := make(map[string]bool, len(ws.Selected))
	for _, id := range ws.Selected {
		if seen[id] {
			continue
		}
		if _, ok := ws.Layers[id]; !ok {
			continue
		}
		seen[id] = true
		kept = append(kept, id)
	}
	ws.Selected = kept
	for id := range ws.Layers {
		if !seen[id] {
			delete(ws.Layers, id)
		}
	}
}

// Create makes a new workspace and persists it. An empty name gets a
// timestamped default.
func (s *Store) Create(name string, viewport common.Viewport) (*Workspace, error) {
	ws := NewWorkspace(name, viewport)
	if ws.Name == "" {
		ws.Name = fmt.Sprintf("Workspace %s", ws.CreatedAt.Format("Jan 02 15:04"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.save(ws); err != nil {
		return nil, err
	}
	s.workspaces[ws.ID] = ws
	s.order = append(s.order, ws.ID)
	if err := s.saveIndex(); err != nil {
		log.Printf("[Workspace] Failed to save index: %v", err)
	}
	return ws.Clone(), nil
}

// List returns all workspaces in listing order.
func (s *Store) List() []*Workspace {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Workspace, 0, len(s.order))
	for _, id := range s.order {
		if ws, ok := s.workspaces[id]; ok {
			out = append(out, ws.Clone())
		}
	}
	return out
}

// Get returns one workspace by ID.
func (s *Store) Get(id string) (*Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ws, ok := s.workspaces[id]
	if !ok {
		return nil, fmt.Errorf("workspace %s: %w", id, ErrWorkspaceNotFound)
	}
	return ws.Clone(), nil
}

// Delete removes a workspace from memory and disk.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workspaces[id]; !ok {
		return fmt.Errorf("workspace %s: %w", id, ErrWorkspaceNotFound)
	}
	if err := os.Remove(s.workspacePath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete workspace file: %w", err)
	}
	delete(s.workspaces, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if err := s.saveIndex(); err != nil {
		log.Printf("[Workspace] Failed to save index: %v", err)
	}
	return nil
}

// Update applies a mutation under the store lock and persists the
// result. The mutation runs on a copy, so a failed apply or a failed
// write leaves both memory and disk untouched.
func (s *Store) Update(id string, apply func(*Workspace) error) (*Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.workspaces[id]
	if !ok {
		return nil, fmt.Errorf("workspace %s: %w", id, ErrWorkspaceNotFound)
	}
	next := current.Clone()
	if err := apply(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()
	if err := s.save(next); err != nil {
		return nil, err
	}
	s.workspaces[id] = next
	return next.Clone(), nil
}

// ResolveTileTemplate resolves an item's upstream tile template and
// layer state without copying the whole workspace. The tile proxy calls
// this once per proxied tile request.
func (s *Store) ResolveTileTemplate(reg *registry.Registry, endpoints Endpoints, workspaceID, itemID string) (string, LayerState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ws, ok := s.workspaces[workspaceID]
	if !ok {
		return "", LayerState{}, fmt.Errorf("workspace %s: %w", workspaceID, ErrWorkspaceNotFound)
	}
	state, ok := ws.Layers[itemID]
	if !ok {
		return "", LayerState{}, fmt.Errorf("item %s is not selected", itemID)
	}
	template, err := ws.ResolveTileTemplate(reg, endpoints, itemID)
	if err != nil {
		return "", LayerState{}, err
	}
	return template, state, nil
}

// save writes one workspace file. Caller must hold the lock. The write
// goes through a temp file and rename so a crash never leaves a torn
// workspace file.
func (s *Store) save(ws *Workspace) error {
	data, err := json.MarshalIndent(ws, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workspace: %w", err)
	}
	path := s.workspacePath(ws.ID)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write workspace file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace workspace file: %w", err)
	}
	return nil
}

// saveIndex writes the listing order. Caller must hold the lock.
func (s *Store) saveIndex() error {
	data, err := json.MarshalIndent(storeIndex{Order: s.order}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workspace index: %w", err)
	}
	tmpPath := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write workspace index: %w", err)
	}
	if err := os.Rename(tmpPath, s.indexPath()); err != nil {
		return fmt.Errorf("failed to replace workspace index: %w", err)
	}
	return nil
}
