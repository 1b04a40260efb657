// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package fwnode reads the firmware description of an FPGA and its blocks
// from either a flattened device tree or a YAML rendition of the ACPI _DSD
// properties.
package fwnode

import (
	"errors"
	"strings"
)

var (
	ErrNoProp   = errors.New("no such property")
	ErrNotFound = errors.New("node not found")
)

// Node is one firmware description node.
type Node interface {
	Name() string
	Path() string
	Parent() Node
	Children() []Node
	HasProp(name string) bool
	PropUint32(name string) (uint32, bool)
	PropUint32s(name string) ([]uint32, bool)
	PropString(name string) (string, bool)
	PropStrings(name string) ([]string, bool)
	// Ref follows a phandle or path valued property.
	Ref(name string) (Node, error)
}

// Address returns the ACPI _ADR or devicetree reg of a child node.
func Address(n Node) (uint64, bool) {
	if v, ok := n.PropUint32s("_ADR"); ok && len(v) > 0 {
		if len(v) > 1 {
			return uint64(v[0])<<32 | uint64(v[1]), true
		}
		return uint64(v[0]), true
	}
	if v, ok := n.PropUint32s("reg"); ok && len(v) > 0 {
		return uint64(v[0]), true
	}
	return 0, false
}

// Uint32 returns the property or def.
func Uint32(n Node, name string, def uint32) uint32 {
	if n != nil {
		if v, ok := n.PropUint32(name); ok {
			return v
		}
	}
	return def
}

// Bool is true if the property is present and non-zero.
func Bool(n Node, name string) bool {
	if n == nil {
		return false
	}
	v, ok := n.PropUint32(name)
	return ok && v != 0
}

// String returns the property or def.
func String(n Node, name, def string) string {
	if n != nil {
		if s, ok := n.PropString(name); ok {
			return s
		}
	}
	return def
}

// Root of n's tree.
func Root(n Node) Node {
	for n != nil && n.Parent() != nil {
		n = n.Parent()
	}
	return n
}

// Lookup a node by path from root. Components are separated by '/', '\' or
// '.'; a leading component naming root is optional.
func Lookup(root Node, path string) (Node, error) {
	elts := strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == '\\' || r == '.'
	})
	n := root
	if len(elts) > 0 && elts[0] == root.Name() {
		elts = elts[1:]
	}
	for _, elt := range elts {
		var next Node
		for _, c := range n.Children() {
			if c.Name() == elt || unitName(c.Name()) == elt {
				next = c
				break
			}
		}
		if next == nil {
			return nil, ErrNotFound
		}
		n = next
	}
	return n, nil
}

// Walk calls fn with n and all of its descendants, depth first.
func Walk(n Node, fn func(Node) bool) bool {
	if !fn(n) {
		return false
	}
	for _, c := range n.Children() {
		if !Walk(c, fn) {
			return false
		}
	}
	return true
}

func unitName(s string) string {
	if i := strings.IndexByte(s, '@'); i >= 0 {
		return s[:i]
	}
	return s
}

func joinPath(parent Node, name string) string {
	if parent == nil {
		return "/"
	}
	p := parent.Path()
	if p == "/" {
		return "/" + name
	}
	return p + "/" + name
}
