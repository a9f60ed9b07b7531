// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package prefs

import (
	"context"
	"sort"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/marktime/internal/sandbox"
)

// AccessMode controls whether a Dictionary accepts writes.
type AccessMode int

// Access modes. ReadOnly is sticky: every child of a read-only dictionary is
// read-only too.
const (
	ReadWrite AccessMode = iota
	ReadOnly
)

func (m AccessMode) String() string {
	if m == ReadOnly {
		return "read-only"
	}
	return "read-write"
}

type childKey struct {
	name string
	mode AccessMode
}

// Dictionary is a handle on a dictionary node of a plugin's preference tree.
//
// Paths are dot-separated: the first segment names an immediate child and
// the remainder is resolved against it. Navigating through a missing key
// creates an empty dictionary there; reading a missing leaf does not.
//
// Dictionary is safe for concurrent use; all handles of one Root share its
// lock.
type Dictionary struct {
	name     string
	path     string
	node     *Node
	mode     AccessMode
	rec      *record
	root     *Root
	children map[childKey]*Dictionary
}

func newDictionary(root *Root, rec *record, node *Node, path string, mode AccessMode) *Dictionary {
	return &Dictionary{
		name:     node.Name,
		path:     path,
		node:     node,
		mode:     mode,
		rec:      rec,
		root:     root,
		children: make(map[childKey]*Dictionary),
	}
}

// Name returns the key this dictionary is stored under.
func (d *Dictionary) Name() string { return d.name }

// Path returns the dictionary's dotted path, starting with the plugin name.
func (d *Dictionary) Path() string { return d.path }

// Mode returns the access mode.
func (d *Dictionary) Mode() AccessMode { return d.mode }

// ReadOnly reports whether writes are refused.
func (d *Dictionary) ReadOnly() bool { return d.mode == ReadOnly }

// Get returns the value stored at path, or nil when nothing is stored.
func (d *Dictionary) Get(path string) (any, error) {
	d.root.mu.Lock()
	defer d.root.mu.Unlock()

	v, _, err := d.get(path)
	return v, err
}

// Exists reports whether path holds a dictionary or a non-nil value.
func (d *Dictionary) Exists(path string) (bool, error) {
	d.root.mu.Lock()
	defer d.root.mu.Unlock()

	return d.exists(path)
}

// Set stores value at path and schedules a save. Values that cannot be
// encoded as JSON are rejected with ErrValue.
func (d *Dictionary) Set(path string, value any) error {
	if err := checkValue(d.join(path), value); err != nil {
		return err
	}

	d.root.mu.Lock()
	defer d.root.mu.Unlock()

	return d.set(path, value)
}

// Maybe returns the value at path if one exists; otherwise it stores def
// and returns it.
func (d *Dictionary) Maybe(path string, def any) (any, error) {
	d.root.mu.Lock()
	defer d.root.mu.Unlock()

	return d.maybe(path, def)
}

// GetChild returns the dictionary at path, creating empty dictionaries as
// needed. The child is read-only when readOnly is set or when d is read-only.
func (d *Dictionary) GetChild(path string, readOnly bool) (*Dictionary, error) {
	d.root.mu.Lock()
	defer d.root.mu.Unlock()

	mode := d.mode
	if readOnly {
		mode = ReadOnly
	}
	return d.childPath(path, mode)
}

// Keys returns the immediate child keys, sorted.
func (d *Dictionary) Keys() []string {
	d.root.mu.Lock()
	defer d.root.mu.Unlock()

	keys := make([]string, 0, len(d.node.Children))
	for k := range d.node.Children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clear removes every entry and schedules a save. Handles previously
// obtained for children are detached from the tree.
func (d *Dictionary) Clear() error {
	d.root.mu.Lock()
	defer d.root.mu.Unlock()

	if d.mode == ReadOnly {
		return readOnlyViolation(d.path, "*")
	}
	d.node.Children = make(map[string]*Node)
	d.children = make(map[childKey]*Dictionary)
	d.root.noteChange(d.rec)
	return nil
}

// Save persists the owning plugin's tree now instead of waiting for the
// autosave.
func (d *Dictionary) Save(ctx context.Context) error {
	return d.root.Flush(ctx)
}

func (d *Dictionary) get(path string) (any, bool, error) {
	if first, rest, nested := strings.Cut(path, "."); nested {
		child, err := d.child(first, d.mode)
		if err != nil {
			return nil, false, err
		}
		return child.get(rest)
	}

	n, ok := d.node.Children[path]
	if !ok {
		return nil, false, nil
	}
	if n.Kind != KindProperty {
		return nil, false, nodeKindMismatch(d.join(path), KindProperty, n.Kind)
	}
	return n.Value, true, nil
}

func (d *Dictionary) exists(path string) (bool, error) {
	if first, rest, nested := strings.Cut(path, "."); nested {
		child, err := d.child(first, d.mode)
		if err != nil {
			return false, err
		}
		return child.exists(rest)
	}

	n, ok := d.node.Children[path]
	if !ok {
		return false, nil
	}
	return n.Kind == KindDictionary || n.Value != nil, nil
}

func (d *Dictionary) set(path string, value any) error {
	if d.mode == ReadOnly {
		return readOnlyViolation(d.path, path)
	}
	if first, rest, nested := strings.Cut(path, "."); nested {
		child, err := d.child(first, d.mode)
		if err != nil {
			return err
		}
		return child.set(rest, value)
	}
	if path == "" {
		return oops.In("prefs").With("dictionary", d.path).New("key cannot be empty")
	}

	if n, ok := d.node.Children[path]; ok {
		if n.Kind != KindProperty {
			return nodeKindMismatch(d.join(path), KindProperty, n.Kind)
		}
		n.Value = value
	} else {
		d.node.Children[path] = newPropertyNode(path, value)
	}
	d.root.noteChange(d.rec)
	return nil
}

func (d *Dictionary) maybe(path string, def any) (any, error) {
	ok, err := d.exists(path)
	if err != nil {
		return nil, err
	}
	if ok {
		v, _, err := d.get(path)
		return v, err
	}
	if err := checkValue(d.join(path), def); err != nil {
		return nil, err
	}
	if err := d.set(path, def); err != nil {
		return nil, err
	}
	return def, nil
}

func (d *Dictionary) childPath(path string, mode AccessMode) (*Dictionary, error) {
	current := d
	for segment := range strings.SplitSeq(path, ".") {
		next, err := current.child(segment, mode)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

// child returns the immediate child dictionary name. The mode never drops
// below d's own mode.
func (d *Dictionary) child(name string, mode AccessMode) (*Dictionary, error) {
	if name == "" {
		return nil, oops.In("prefs").With("dictionary", d.path).New("key cannot be empty")
	}
	if d.mode == ReadOnly {
		mode = ReadOnly
	}

	n, ok := d.node.Children[name]
	if !ok {
		n = newDictionaryNode(name)
		d.node.Children[name] = n
		d.rec.dirty = true
	}
	if n.Kind != KindDictionary {
		return nil, nodeKindMismatch(d.join(name), KindDictionary, n.Kind)
	}

	key := childKey{name: name, mode: mode}
	if cached, ok := d.children[key]; ok && cached.node == n {
		return cached, nil
	}
	child := newDictionary(d.root, d.rec, n, d.join(name), mode)
	d.children[key] = child
	return child, nil
}

func (d *Dictionary) join(key string) string {
	return d.path + "." + key
}

// Export presents the dictionary to plugin code. Every function accepts both
// dict.fn(...) and dict:fn(...).
func (d *Dictionary) Export() map[string]any {
	return map[string]any{
		"name":     d.name,
		"readonly": d.ReadOnly(),
		"get": sandbox.Func(func(_ context.Context, args ...any) ([]any, error) {
			path, err := stringArg("get", args, 0)
			if err != nil {
				return nil, err
			}
			v, err := d.Get(path)
			return []any{v}, err
		}),
		"exists": sandbox.Func(func(_ context.Context, args ...any) ([]any, error) {
			path, err := stringArg("exists", args, 0)
			if err != nil {
				return nil, err
			}
			ok, err := d.Exists(path)
			return []any{ok}, err
		}),
		"set": sandbox.Func(func(_ context.Context, args ...any) ([]any, error) {
			path, err := stringArg("set", args, 0)
			if err != nil {
				return nil, err
			}
			return nil, d.Set(path, optionalArg(args, 1))
		}),
		"maybe": sandbox.Func(func(_ context.Context, args ...any) ([]any, error) {
			path, err := stringArg("maybe", args, 0)
			if err != nil {
				return nil, err
			}
			v, err := d.Maybe(path, optionalArg(args, 1))
			return []any{v}, err
		}),
		"getChild": sandbox.Func(func(_ context.Context, args ...any) ([]any, error) {
			path, err := stringArg("getChild", args, 0)
			if err != nil {
				return nil, err
			}
			readOnly, _ := optionalArg(args, 1).(bool)
			child, err := d.GetChild(path, readOnly)
			if err != nil {
				return nil, err
			}
			return []any{child}, nil
		}),
		"keys": sandbox.Func(func(context.Context, ...any) ([]any, error) {
			return []any{d.Keys()}, nil
		}),
		"clear": sandbox.Func(func(context.Context, ...any) ([]any, error) {
			return nil, d.Clear()
		}),
		"save": sandbox.Func(func(ctx context.Context, _ ...any) ([]any, error) {
			return nil, d.Save(ctx)
		}),
	}
}

func stringArg(fn string, args []any, i int) (string, error) {
	if i < len(args) {
		if s, ok := args[i].(string); ok {
			return s, nil
		}
	}
	return "", oops.In("prefs").With("function", fn).With("argument", i+1).Errorf("%s: argument %d must be a string", fn, i+1)
}

func optionalArg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}
