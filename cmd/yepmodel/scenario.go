package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/shinyes/yep_model/pkg/bridge"
	"github.com/shinyes/yep_model/pkg/schema"
	"github.com/shinyes/yep_model/pkg/updater"
	"github.com/shinyes/yep_model/pkg/ydoc"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// Scenario is a model declaration plus a list of document edits:
//
//	name: note-1
//	root: note
//	model:
//	  name: Note
//	  fields:
//	    - {name: title, type: string, required: true}
//	    - {name: tags, type: list, elem: {type: string}}
//	steps:
//	  - {op: set, path: [title], value: hello}
//	  - {op: array, path: [tags]}
//	  - {op: insert, path: [tags, 0], values: [a, b]}
type Scenario struct {
	Name  string             `yaml:"name"`
	Root  string             `yaml:"root"`
	Model schema.Declaration `yaml:"model"`
	Steps []Step             `yaml:"steps"`
}

// Step is one transaction. Path addresses the key or index the step
// acts on; every segment before the last must name a nested type.
type Step struct {
	Op     string        `yaml:"op"`
	Path   []interface{} `yaml:"path"`
	Value  interface{}   `yaml:"value"`
	Values []interface{} `yaml:"values"`
	Text   string        `yaml:"text"`
	Count  int           `yaml:"count"`
}

var stepOps = map[string]bool{
	"set": true, "delete": true, "map": true, "array": true, "text": true,
	"insert": true, "remove": true, "text-insert": true, "text-delete": true,
}

const defaultRoot = "root"

func parseScenario(in []byte) (*Scenario, *schema.Model, error) {
	var sc Scenario
	if err := yaml.UnmarshalStrict(in, &sc); err != nil {
		return nil, nil, fmt.Errorf("scenario: %w", err)
	}
	if sc.Root == "" {
		sc.Root = defaultRoot
	}
	if sc.Name == "" {
		sc.Name = sc.Root
	}
	for i, st := range sc.Steps {
		if !stepOps[st.Op] {
			return nil, nil, fmt.Errorf("scenario: step %d: unknown op %q", i+1, st.Op)
		}
		if len(st.Path) == 0 {
			return nil, nil, fmt.Errorf("scenario: step %d: empty path", i+1)
		}
	}
	model, err := sc.Model.Model()
	if err != nil {
		return nil, nil, fmt.Errorf("scenario: %w", err)
	}
	return &sc, model, nil
}

func (st Step) apply(tx *ydoc.Txn, root *ydoc.Map) error {
	parent, err := descend(root, st.Path[:len(st.Path)-1])
	if err != nil {
		return err
	}
	last := st.Path[len(st.Path)-1]
	count := st.Count
	if count == 0 {
		count = 1
	}

	switch st.Op {
	case "set", "delete", "map", "array", "text":
		m, ok := parent.(*ydoc.Map)
		key, isKey := last.(string)
		if !ok || !isKey {
			return fmt.Errorf("%s needs a map key, got %v in %s", st.Op, last, parent)
		}
		switch st.Op {
		case "set":
			return m.Set(tx, key, st.Value)
		case "delete":
			return m.Delete(tx, key)
		case "map":
			_, err = m.SetMap(tx, key)
		case "array":
			_, err = m.SetArray(tx, key)
		case "text":
			_, err = m.SetText(tx, key)
		}
		return err
	case "insert", "remove":
		a, ok := parent.(*ydoc.Array)
		idx, isIdx := last.(int)
		if !ok || !isIdx {
			return fmt.Errorf("%s needs an array index, got %v in %s", st.Op, last, parent)
		}
		if st.Op == "insert" {
			return a.Insert(tx, idx, st.Values...)
		}
		return a.Delete(tx, idx, count)
	default:
		t, ok := parent.(*ydoc.Text)
		idx, isIdx := last.(int)
		if !ok || !isIdx {
			return fmt.Errorf("%s needs a text index, got %v in %s", st.Op, last, parent)
		}
		if st.Op == "text-insert" {
			return t.Insert(tx, idx, st.Text)
		}
		return t.Delete(tx, idx, count)
	}
}

// descend follows path from root through nested shared types.
func descend(root *ydoc.Map, path []interface{}) (ydoc.Shared, error) {
	var cur ydoc.Shared = root
	for _, seg := range path {
		var (
			v     any
			found bool
		)
		switch c := cur.(type) {
		case *ydoc.Map:
			key, ok := seg.(string)
			if !ok {
				return nil, fmt.Errorf("segment %v: %s needs a key", seg, c)
			}
			v, found = c.Get(key)
		case *ydoc.Array:
			idx, ok := seg.(int)
			if !ok {
				return nil, fmt.Errorf("segment %v: %s needs an index", seg, c)
			}
			v, found = c.Get(idx)
		default:
			return nil, fmt.Errorf("segment %v: cannot descend into %s", seg, cur)
		}
		if !found {
			return nil, fmt.Errorf("segment %v: not found", seg)
		}
		next, ok := v.(ydoc.Shared)
		if !ok {
			return nil, fmt.Errorf("segment %v: %T is not a shared type", seg, v)
		}
		cur = next
	}
	return cur, nil
}

// report is printed as one JSON line per step.
type report struct {
	Step      int              `json:"step"`
	Op        string           `json:"op"`
	Model     *schema.Instance `json:"model,omitempty"`
	Rejected  []string         `json:"rejected,omitempty"`
	Diverged  bool             `json:"diverged,omitempty"`
	OutOfSync string           `json:"outOfSync,omitempty"`
}

// run applies the scenario's steps to source and prints the model bound
// to the same root of observed after each step. For a local replay both
// are the same document; for sync, observed is a pool peer.
func run(sc *Scenario, model *schema.Model, source, observed *ydoc.Doc, opts bridge.Options, log *logrus.Entry, out io.Writer) error {
	reg := bridge.NewRegistry(log)
	defer reg.Close()

	b, err := reg.Attach(observed.Map(sc.Root), model, opts)
	if err != nil {
		return err
	}
	var rejected []string
	b.OnRejected(func(rb *updater.RejectedBatch) {
		rejected = append(rejected, rb.Error())
	})

	enc := json.NewEncoder(out)
	emit := func(step int, op string) error {
		r := report{Step: step, Op: op, Rejected: rejected, Diverged: b.Diverged()}
		inst, err := b.Current()
		switch {
		case errors.Is(err, bridge.ErrOutOfSync):
			r.OutOfSync = b.OutOfSync().Error()
		case err != nil:
			return err
		default:
			r.Model = inst
		}
		rejected = nil
		return enc.Encode(r)
	}

	if err := emit(0, "attach"); err != nil {
		return err
	}
	root := source.Map(sc.Root)
	for i, st := range sc.Steps {
		err := source.Transact(func(tx *ydoc.Txn) error { return st.apply(tx, root) })
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, st.Op, err)
		}
		log.WithField("step", i+1).Debugf("applied %s %v", st.Op, st.Path)
		if err := emit(i+1, st.Op); err != nil {
			return err
		}
	}
	return nil
}
