// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package prefs

import (
	"encoding/json"

	"github.com/samber/oops"
)

// Kind is the fixed kind of a Node.
type Kind string

// Node kinds.
const (
	KindProperty   Kind = "property"
	KindDictionary Kind = "dictionary"
)

// Node is one entry of a preference tree. A property holds Value; a
// dictionary holds Children. The kind never changes once created.
type Node struct {
	Name     string           `json:"name"`
	Kind     Kind             `json:"type"`
	Value    any              `json:"value,omitempty"`
	Children map[string]*Node `json:"children,omitempty"`
}

func newDictionaryNode(name string) *Node {
	return &Node{Name: name, Kind: KindDictionary, Children: make(map[string]*Node)}
}

func newPropertyNode(name string, value any) *Node {
	return &Node{Name: name, Kind: KindProperty, Value: value}
}

// checkValue rejects values that would fail to encode with the tree, such as
// functions, channels and non-finite numbers.
func checkValue(path string, value any) error {
	if _, err := json.Marshal(value); err != nil {
		return invalidValue(path, err)
	}
	return nil
}

// encodeTree serializes the children of a record's root node.
func encodeTree(root *Node) ([]byte, error) {
	data, err := json.Marshal(root.Children)
	if err != nil {
		return nil, oops.In("prefs").With("operation", "encode tree").Wrap(err)
	}
	return data, nil
}

// decodeTree rebuilds a record's root node from its persisted props.
func decodeTree(plugin string, data []byte) (*Node, error) {
	root := newDictionaryNode(plugin)
	if len(data) == 0 {
		return root, nil
	}
	if err := json.Unmarshal(data, &root.Children); err != nil {
		return nil, oops.In("prefs").With("plugin", plugin).With("operation", "decode tree").Wrap(err)
	}
	if root.Children == nil {
		root.Children = make(map[string]*Node)
	}
	if err := repair(root); err != nil {
		return nil, oops.In("prefs").With("plugin", plugin).Wrap(err)
	}
	return root, nil
}

// repair checks kinds and restores empty child maps dropped by omitempty.
func repair(n *Node) error {
	for key, child := range n.Children {
		if child == nil {
			delete(n.Children, key)
			continue
		}
		if child.Name == "" {
			child.Name = key
		}
		switch child.Kind {
		case KindDictionary:
			if child.Children == nil {
				child.Children = make(map[string]*Node)
			}
			if err := repair(child); err != nil {
				return err
			}
		case KindProperty:
		default:
			return oops.With("key", key).With("type", string(child.Kind)).Errorf("unknown node type")
		}
	}
	return nil
}
