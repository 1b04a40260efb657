// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package attr provides named show/store pairs that block drivers export to
// operators, grouped like sysfs attribute directories.
package attr

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrReadOnly = errors.New("read-only attribute")
	ErrNotFound = errors.New("no such attribute")
	ErrInvalid  = errors.New("invalid value")
)

type Attr struct {
	Name  string
	Show  func() (string, error)
	Store func(string) error
}

func (a *Attr) Writable() bool { return a.Store != nil }

// RO returns a read-only attribute.
func RO(name string, show func() (string, error)) *Attr {
	return &Attr{Name: name, Show: show}
}

// RW returns a read-write attribute.
func RW(name string, show func() (string, error), store func(string) error) *Attr {
	return &Attr{Name: name, Show: show, Store: store}
}

// Group is a named directory of attributes; the empty name is the device
// directory itself.
type Group struct {
	Name  string
	Attrs []*Attr
}

func (g *Group) Find(name string) *Attr {
	for _, a := range g.Attrs {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// Path of an attribute within its device.
func (g *Group) Path(a *Attr) string {
	if len(g.Name) == 0 {
		return a.Name
	}
	return g.Name + "/" + a.Name
}

// Set is the attribute groups of one device.
type Set []*Group

// Lookup an attribute by "name" or "group/name".
func (s Set) Lookup(path string) (*Attr, error) {
	group, name := "", path
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		group, name = path[:i], path[i+1:]
	}
	for _, g := range s {
		if g.Name != group {
			continue
		}
		if a := g.Find(name); a != nil {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
}

// Paths lists every attribute path in sorted order.
func (s Set) Paths() []string {
	var paths []string
	for _, g := range s {
		for _, a := range g.Attrs {
			paths = append(paths, g.Path(a))
		}
	}
	sort.Strings(paths)
	return paths
}

func (s Set) Show(path string) (string, error) {
	a, err := s.Lookup(path)
	if err != nil {
		return "", err
	}
	return a.Show()
}

func (s Set) Store(path, value string) error {
	a, err := s.Lookup(path)
	if err != nil {
		return err
	}
	if a.Store == nil {
		return fmt.Errorf("%s: %w", path, ErrReadOnly)
	}
	return a.Store(value)
}

// ParseInt parses a single integer with an optional 0x, 0 or 0b base prefix
// and surrounding white space, like sscanf("%i %n") consuming all input.
func ParseInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if len(s) == 0 || strings.ContainsAny(s, " \t\n") {
		return 0, fmt.Errorf("%q: %w", s, ErrInvalid)
	}
	i, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", s, ErrInvalid)
	}
	return i, nil
}

// ParseUint32 is ParseInt limited to 32 bits.
func ParseUint32(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	u, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		if i, err := ParseInt(s); err == nil && i < 0 &&
			i >= -(1<<31) {
			return uint32(int32(i)), nil
		}
		return 0, fmt.Errorf("%q: %w", s, ErrInvalid)
	}
	return uint32(u), nil
}

// Uint formats the value read by fn.
func Uint(fn func() (uint64, error), format string) func() (string, error) {
	return func() (string, error) {
		v, err := fn()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(format, v), nil
	}
}
