// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package fwnode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"
)

const fpgaYAML = `
name: fpga0
properties:
  devid: 3
  device-name-suffix: -lc
children:
- name: msd
  properties:
    _ADR: 0x2000
    phandle: 7
- name: i2c
  properties:
    _ADR: 0x1000
    nicknames: [sfp0, sfp1]
    multi-master: 1
    arbitration-ip-block: \fpga0.msd
    arbitration-index: 2
- name: xil
  properties:
    reg: [0x3000, 0x100]
    owner: 7
`

func TestYAML(t *testing.T) {
	root, err := ParseYAML([]byte(fpgaYAML))
	if err != nil {
		t.Fatal(err)
	}
	if v := Uint32(root, "devid", 0); v != 3 {
		t.Error("devid", v)
	}
	if s := String(root, "device-name-suffix", ""); s != "-lc" {
		t.Error("suffix", s)
	}
	kids := root.Children()
	if len(kids) != 3 {
		t.Fatal(len(kids), "children")
	}
	i2c := kids[1]
	if adr, ok := Address(i2c); !ok || adr != 0x1000 {
		t.Errorf("_ADR %#x %v", adr, ok)
	}
	if adr, ok := Address(kids[2]); !ok || adr != 0x3000 {
		t.Errorf("reg %#x %v", adr, ok)
	}
	if s, ok := i2c.PropStrings("nicknames"); !ok ||
		!reflect.DeepEqual(s, []string{"sfp0", "sfp1"}) {
		t.Error("nicknames", s)
	}
	if !Bool(i2c, "multi-master") || Bool(i2c, "standby") {
		t.Error("bool properties")
	}
	msd, err := i2c.Ref("arbitration-ip-block")
	if err != nil || msd.Name() != "msd" {
		t.Fatal("path ref", msd, err)
	}
	if p := msd.Path(); p != "/msd" {
		t.Error("path", p)
	}
	if ref, err := kids[2].Ref("owner"); err != nil || ref != msd {
		t.Error("phandle ref", ref, err)
	}
	if _, err = i2c.Ref("nope"); !errors.Is(err, ErrNoProp) {
		t.Error(err)
	}
	if _, err = i2c.Ref("nicknames"); !errors.Is(err, ErrNotFound) {
		t.Error(err)
	}
}

func TestStatic(t *testing.T) {
	root := New("fpga", map[string]interface{}{"devid-none": 1},
		New("gpio", map[string]interface{}{
			"reg":              uint32(0x100),
			"gpio-descriptors": []string{"a,0,1,0,in,0,disable"},
		}))
	root.Add(New("pseq", nil).Set("num-rails", 40))
	if n, err := Lookup(root, "/pseq"); err != nil ||
		Uint32(n, "num-rails", 32) != 40 {
		t.Error("lookup", n, err)
	}
	if _, err := Lookup(root, "fpga/none"); !errors.Is(err, ErrNotFound) {
		t.Error(err)
	}
	if Root(root.Nodes[0]) != Node(root) {
		t.Error("root")
	}
	n := 0
	Walk(root, func(Node) bool { n++; return true })
	if n != 3 {
		t.Error("walked", n)
	}
}

type fdtProp struct {
	name string
	val  []byte
}

type fdtNodeSpec struct {
	name  string
	props []fdtProp
	kids  []*fdtNodeSpec
}

func be32(v ...uint32) []byte {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.BigEndian.PutUint32(b[4*i:], x)
	}
	return b
}

// blob encodes a minimal version 17 flattened device tree.
func blob(root *fdtNodeSpec) []byte {
	var st, strs bytes.Buffer
	stroff := map[string]int{}
	pad := func() {
		for st.Len()%4 != 0 {
			st.WriteByte(0)
		}
	}
	var node func(n *fdtNodeSpec)
	node = func(n *fdtNodeSpec) {
		st.Write(be32(1))
		st.WriteString(n.name)
		st.WriteByte(0)
		pad()
		for _, p := range n.props {
			off, ok := stroff[p.name]
			if !ok {
				off = strs.Len()
				stroff[p.name] = off
				strs.WriteString(p.name)
				strs.WriteByte(0)
			}
			st.Write(be32(3, uint32(len(p.val)), uint32(off)))
			st.Write(p.val)
			pad()
		}
		for _, k := range n.kids {
			node(k)
		}
		st.Write(be32(2))
	}
	node(root)
	st.Write(be32(9))
	const hdrSize = 40
	total := hdrSize + st.Len() + strs.Len()
	var b bytes.Buffer
	b.Write(be32(0xd00dfeed, uint32(total), hdrSize,
		uint32(hdrSize+st.Len()), 0, 17, 16, 0,
		uint32(strs.Len()), uint32(st.Len())))
	b.Write(st.Bytes())
	b.Write(strs.Bytes())
	return b.Bytes()
}

func TestFDT(t *testing.T) {
	b := blob(&fdtNodeSpec{
		props: []fdtProp{{"device-name-suffix", []byte("-rp\x00")}},
		kids: []*fdtNodeSpec{
			{
				name: "msd@2000",
				props: []fdtProp{
					{"reg", be32(0x2000)},
					{"phandle", be32(0x11)},
				},
			},
			{
				name: "i2c@1000",
				props: []fdtProp{
					{"reg", be32(0x1000)},
					{"multi-master", nil},
					{"arbitration-ip-block", be32(0x11)},
					{"nicknames", []byte("a\x00b\x00")},
				},
			},
		},
	})
	root, err := ParseFDT(b)
	if err != nil {
		t.Fatal(err)
	}
	if s := String(root, "device-name-suffix", ""); s != "-rp" {
		t.Errorf("suffix %q", s)
	}
	kids := root.Children()
	if len(kids) != 2 || kids[0].Name() != "i2c@1000" {
		t.Fatal("children", kids)
	}
	i2c := kids[0]
	if adr, ok := Address(i2c); !ok || adr != 0x1000 {
		t.Errorf("reg %#x", adr)
	}
	if !Bool(i2c, "multi-master") {
		t.Error("boolean property")
	}
	if s, _ := i2c.PropStrings("nicknames"); !reflect.DeepEqual(s,
		[]string{"a", "b"}) {
		t.Error("nicknames", s)
	}
	msd, err := i2c.Ref("arbitration-ip-block")
	if err != nil || msd.Name() != "msd@2000" {
		t.Fatal(msd, err)
	}
	if n, err := Lookup(root, "/msd"); err != nil || n != msd {
		t.Error("unit name lookup", n, err)
	}
	if p := i2c.Path(); p != "/i2c@1000" {
		t.Error("path", p)
	}
}
