package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrInvalidWorkspace is returned for workspace names that are not a
// single plain directory name.
var ErrInvalidWorkspace = errors.New("store: invalid workspace name")

// Workspaces opens one badger store per workspace under a root directory.
type Workspaces struct {
	root    string
	options []BadgerOption

	mu     sync.RWMutex
	stores map[string]*BadgerStore
}

// NewWorkspaces creates a manager rooted at root. options apply to every
// store it opens.
func NewWorkspaces(root string, options ...BadgerOption) *Workspaces {
	return &Workspaces{
		root:    root,
		options: options,
		stores:  make(map[string]*BadgerStore),
	}
}

func checkWorkspace(name string) error {
	switch {
	case strings.TrimSpace(name) == "", name == ".", name == "..":
	case strings.ContainsAny(name, `/\:`), filepath.IsAbs(name):
	default:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidWorkspace, name)
}

// Open returns the store of the named workspace, opening it on first use.
func (w *Workspaces) Open(name string) (Store, error) {
	if err := checkWorkspace(name); err != nil {
		return nil, err
	}
	w.mu.RLock()
	s, ok := w.stores[name]
	w.mu.RUnlock()
	if ok {
		return s, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.stores[name]; ok {
		return s, nil
	}

	dir := filepath.Join(w.root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace directory: %w", err)
	}
	s, err := OpenBadger(dir, w.options...)
	if err != nil {
		return nil, err
	}
	w.stores[name] = s
	return s, nil
}

// Close closes the named workspace if it is open.
func (w *Workspaces) Close(name string) error {
	if err := checkWorkspace(name); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	s, ok := w.stores[name]
	if !ok {
		return nil
	}
	delete(w.stores, name)
	return s.Close()
}

// CloseAll closes every open workspace and returns the first error.
func (w *Workspaces) CloseAll() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error
	for name, s := range w.stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(w.stores, name)
	}
	return firstErr
}
