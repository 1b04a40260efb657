// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package fwnode

import (
	"fmt"
	"sort"
	"strings"

	"github.com/platinasystems/fdt"
)

type fdtNode struct {
	tree     *fdtTree
	node     *fdt.Node
	parent   *fdtNode
	children []Node
}

type fdtTree struct {
	*fdt.Tree
	byPhandle map[uint32]*fdtNode
}

// ParseFDT parses a flattened device tree blob and returns its root.
func ParseFDT(b []byte) (Node, error) {
	t := &fdtTree{
		Tree:      new(fdt.Tree),
		byPhandle: make(map[uint32]*fdtNode),
	}
	if err := t.Parse(b); err != nil {
		return nil, err
	}
	if t.RootNode == nil {
		return nil, fmt.Errorf("fdt: %w", ErrNotFound)
	}
	return t.wrap(t.RootNode, nil), nil
}

// FromFDT wraps an already parsed tree.
func FromFDT(tree *fdt.Tree) Node {
	t := &fdtTree{Tree: tree, byPhandle: make(map[uint32]*fdtNode)}
	return t.wrap(tree.RootNode, nil)
}

func (t *fdtTree) wrap(n *fdt.Node, parent *fdtNode) *fdtNode {
	fn := &fdtNode{tree: t, node: n, parent: parent}
	for _, name := range []string{"phandle", "linux,phandle"} {
		if b, ok := n.Properties[name]; ok && len(b) >= 4 {
			t.byPhandle[t.PropUint32(b)] = fn
		}
	}
	// fdt children are a map; sort them by name.
	kids := make([]*fdt.Node, 0, len(n.Children))
	for _, c := range n.Children {
		kids = append(kids, c)
	}
	sort.Slice(kids, func(i, j int) bool {
		return kids[i].Name < kids[j].Name
	})
	for _, c := range kids {
		fn.children = append(fn.children, t.wrap(c, fn))
	}
	return fn
}

func (n *fdtNode) Name() string { return n.node.Name }

func (n *fdtNode) Path() string {
	if n.parent == nil {
		return "/"
	}
	return joinPath(n.parent, n.node.Name)
}

func (n *fdtNode) Parent() Node {
	if n.parent == nil {
		return nil
	}
	return n.parent
}

func (n *fdtNode) Children() []Node { return n.children }

func (n *fdtNode) String() string { return n.Path() }

func (n *fdtNode) HasProp(name string) bool {
	_, ok := n.node.Properties[name]
	return ok
}

func (n *fdtNode) PropUint32(name string) (uint32, bool) {
	b, ok := n.node.Properties[name]
	if !ok {
		return 0, false
	}
	if len(b) == 0 {
		// boolean
		return 1, true
	}
	if len(b) < 4 {
		return 0, false
	}
	return n.tree.PropUint32(b), true
}

func (n *fdtNode) PropUint32s(name string) ([]uint32, bool) {
	b, ok := n.node.Properties[name]
	if !ok || len(b) < 4 {
		return nil, false
	}
	return n.tree.PropUint32Slice(b), true
}

func (n *fdtNode) PropString(name string) (string, bool) {
	s, ok := n.PropStrings(name)
	if !ok || len(s) == 0 {
		return "", false
	}
	return s[0], true
}

func (n *fdtNode) PropStrings(name string) ([]string, bool) {
	b, ok := n.node.Properties[name]
	if !ok {
		return nil, false
	}
	s := n.tree.PropStringSlice(b)
	// drop the element after the final NUL
	if len(s) > 0 && s[len(s)-1] == "" {
		s = s[:len(s)-1]
	}
	return s, true
}

func (n *fdtNode) Ref(name string) (Node, error) {
	b, ok := n.node.Properties[name]
	if !ok {
		return nil, fmt.Errorf("%s: %s: %w", n.Path(), name, ErrNoProp)
	}
	if len(b) == 4 {
		if ref, found := n.tree.byPhandle[n.tree.PropUint32(b)]; found {
			return ref, nil
		}
		return nil, fmt.Errorf("%s: %s: phandle %#x: %w", n.Path(),
			name, n.tree.PropUint32(b), ErrNotFound)
	}
	path := strings.TrimRight(string(b), "\x00")
	ref, err := Lookup(Root(n), path)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %s: %w", n.Path(), name, path,
			err)
	}
	return ref, nil
}
