// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package fwnode

import (
	"fmt"
	"math"
	"strconv"

	"github.com/ghodss/yaml"
)

// Static is an in-memory node, typically loaded from YAML like this:
//
//	name: fpga0
//	properties:
//	  devid: 1
//	  device-name-suffix: -lc
//	children:
//	- name: i2c@1000
//	  properties:
//	    _ADR: 0x1000
//	    nicknames: [sfp0, sfp1]
//
// Integer properties may be scalars or lists, strings likewise. A string
// valued reference names another node by path; an integer valued reference
// matches another node's "phandle" property.
type Static struct {
	NodeName   string                 `json:"name"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Nodes      []*Static              `json:"children,omitempty"`

	parent *Static
}

// New returns a static node adopting the given children.
func New(name string, props map[string]interface{}, children ...*Static) *Static {
	n := &Static{NodeName: name, Properties: props, Nodes: children}
	n.link(nil)
	return n
}

// ParseYAML reads a static tree.
func ParseYAML(b []byte) (*Static, error) {
	n := new(Static)
	if err := yaml.Unmarshal(b, n); err != nil {
		return nil, err
	}
	if n.NodeName == "" {
		n.NodeName = "/"
	}
	n.link(nil)
	return n, nil
}

func (n *Static) link(parent *Static) {
	n.parent = parent
	for _, c := range n.Nodes {
		c.link(n)
	}
}

// Add children to n.
func (n *Static) Add(children ...*Static) *Static {
	for _, c := range children {
		c.link(n)
	}
	n.Nodes = append(n.Nodes, children...)
	return n
}

// Set a property.
func (n *Static) Set(name string, v interface{}) *Static {
	if n.Properties == nil {
		n.Properties = make(map[string]interface{})
	}
	n.Properties[name] = v
	return n
}

func (n *Static) Name() string { return n.NodeName }

func (n *Static) String() string { return n.Path() }

func (n *Static) Path() string {
	if n.parent == nil {
		return "/"
	}
	return joinPath(n.parent, n.NodeName)
}

func (n *Static) Parent() Node {
	if n.parent == nil {
		return nil
	}
	return n.parent
}

func (n *Static) Children() []Node {
	nodes := make([]Node, len(n.Nodes))
	for i, c := range n.Nodes {
		nodes[i] = c
	}
	return nodes
}

func (n *Static) HasProp(name string) bool {
	_, ok := n.Properties[name]
	return ok
}

func (n *Static) PropUint32(name string) (uint32, bool) {
	v, ok := n.PropUint32s(name)
	if !ok || len(v) == 0 {
		return 0, false
	}
	return v[0], true
}

func (n *Static) PropUint32s(name string) ([]uint32, bool) {
	v, ok := n.Properties[name]
	if !ok {
		return nil, false
	}
	switch t := v.(type) {
	case []uint32:
		return t, true
	case []int:
		u := make([]uint32, len(t))
		for i, x := range t {
			u[i] = uint32(x)
		}
		return u, true
	case []interface{}:
		u := make([]uint32, 0, len(t))
		for _, x := range t {
			i, ok := toUint32(x)
			if !ok {
				return nil, false
			}
			u = append(u, i)
		}
		return u, true
	}
	i, ok := toUint32(v)
	if !ok {
		return nil, false
	}
	return []uint32{i}, true
}

func toUint32(v interface{}) (uint32, bool) {
	switch t := v.(type) {
	case uint32:
		return t, true
	case int:
		return uint32(t), true
	case int64:
		return uint32(t), true
	case uint64:
		return uint32(t), true
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		return uint32(int64(t)), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		i, err := strconv.ParseUint(t, 0, 32)
		if err != nil {
			return 0, false
		}
		return uint32(i), true
	}
	return 0, false
}

func (n *Static) PropString(name string) (string, bool) {
	s, ok := n.PropStrings(name)
	if !ok || len(s) == 0 {
		return "", false
	}
	return s[0], true
}

func (n *Static) PropStrings(name string) ([]string, bool) {
	v, ok := n.Properties[name]
	if !ok {
		return nil, false
	}
	switch t := v.(type) {
	case string:
		return []string{t}, true
	case []string:
		return t, true
	case []interface{}:
		s := make([]string, 0, len(t))
		for _, x := range t {
			str, ok := x.(string)
			if !ok {
				return nil, false
			}
			s = append(s, str)
		}
		return s, true
	}
	return nil, false
}

func (n *Static) Ref(name string) (Node, error) {
	v, ok := n.Properties[name]
	if !ok {
		return nil, fmt.Errorf("%s: %s: %w", n.Path(), name, ErrNoProp)
	}
	if path, ok := v.(string); ok {
		ref, err := Lookup(Root(n), path)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %s: %w", n.Path(), name,
				path, err)
		}
		return ref, nil
	}
	ph, ok := toUint32(v)
	if !ok {
		return nil, fmt.Errorf("%s: %s: %v: %w", n.Path(), name, v,
			ErrNotFound)
	}
	var ref Node
	Walk(Root(n), func(c Node) bool {
		if x, ok := c.PropUint32("phandle"); ok && x == ph {
			ref = c
			return false
		}
		return true
	})
	if ref == nil {
		return nil, fmt.Errorf("%s: %s: phandle %#x: %w", n.Path(),
			name, ph, ErrNotFound)
	}
	return ref, nil
}
