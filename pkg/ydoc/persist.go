package ydoc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shinyes/yep_model/pkg/store"
)

const docPrefix = "/doc/"

func docKey(name string) []byte { return []byte(docPrefix + name) }

// Save writes the full state of d under name, replacing any earlier save.
func Save(s store.Store, name string, d *Doc) error {
	state, err := d.EncodeState()
	if err != nil {
		return err
	}
	return s.Update(func(tx store.Tx) error {
		return tx.Set(docKey(name), state)
	})
}

// Load restores the document saved under name into a new Doc.
func Load(s store.Store, name string, opts ...Option) (*Doc, error) {
	var state []byte
	err := s.View(func(tx store.Tx) error {
		v, err := tx.Get(docKey(name))
		if err != nil {
			return err
		}
		state = v
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, fmt.Errorf("load %q: %w", name, err)
		}
		return nil, err
	}
	d := NewDoc(opts...)
	if err := d.ApplyUpdate(state); err != nil {
		return nil, fmt.Errorf("load %q: %w", name, err)
	}
	return d, nil
}

// ListSaved returns the names of every saved document in key order.
func ListSaved(s store.Store) ([]string, error) {
	var names []string
	err := s.View(func(tx store.Tx) error {
		return tx.Scan([]byte(docPrefix), func(key, _ []byte) error {
			names = append(names, strings.TrimPrefix(string(key), docPrefix))
			return nil
		})
	})
	return names, err
}
