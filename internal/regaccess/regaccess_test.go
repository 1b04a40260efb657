// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package regaccess

import (
	"errors"
	"testing"

	"github.com/platinasystems/i2c"
)

func TestField(t *testing.T) {
	for _, x := range []struct {
		f          Field
		v, get     uint32
		mask, lim  uint32
		set, setTo uint32
	}{
		{Field{31, 0}, 0xdeadbeef, 0xdeadbeef, 0xffffffff, 0xffffffff, 0x12345678, 0x12345678},
		{Field{5, 0}, 0xffffffc5, 0x05, 0x3f, 0x3f, 0x7f, 0x3f},
		{Field{13, 6}, 0x23 << 6, 0x23, 0xff << 6, 0xff, 0x26, 0x26 << 6},
		{Field{31, 14}, 0x20000 << 14, 0x20000, 0xffffc000, 0x3ffff, 1, 1 << 14},
		{Bit(24), 1 << 24, 1, 1 << 24, 1, 3, 1 << 24},
	} {
		if got := x.f.Get(x.v); got != x.get {
			t.Errorf("%v.Get(%#x) = %#x, want %#x", x.f, x.v, got, x.get)
		}
		if got := x.f.Mask(); got != x.mask {
			t.Errorf("%v.Mask() = %#x, want %#x", x.f, got, x.mask)
		}
		if got := x.f.Limit(); got != x.lim {
			t.Errorf("%v.Limit() = %#x, want %#x", x.f, got, x.lim)
		}
		if got := x.f.Set(x.set); got != x.setTo {
			t.Errorf("%v.Set(%#x) = %#x, want %#x", x.f, x.set, got, x.setTo)
		}
	}
	f := Field{15, 8}
	if got := f.Replace(0xaabbccdd, 0x11); got != 0xaabb11dd {
		t.Errorf("Replace = %#x", got)
	}
}

func TestMem(t *testing.T) {
	m := NewMem(16)
	if err := m.Write(4, 0x01020304); err != nil {
		t.Fatal(err)
	}
	if b := m.Bytes(); b[4] != 4 || b[7] != 1 {
		t.Errorf("not little-endian: % x", b)
	}
	if _, err := m.Read(16); !errors.Is(err, ErrRange) {
		t.Error("read past end:", err)
	}
	if _, err := m.Read(2); err == nil {
		t.Error("misaligned read accepted")
	}
	if err := UpdateBits(m, 4, 0xff00, 0xab00); err != nil {
		t.Fatal(err)
	}
	if v, _ := m.Read(4); v != 0x0102ab04 {
		t.Errorf("UpdateBits: %#x", v)
	}
	r := Reg{4, Field{31, 24}}
	if v, err := r.Read(m); err != nil || v != 1 {
		t.Errorf("Reg.Read = %#x, %v", v, err)
	}
	if err := r.Write(m, 0x7f); err != nil {
		t.Fatal(err)
	}
	if v, _ := m.Read(4); v != 0x7f02ab04 {
		t.Errorf("Reg.Write: %#x", v)
	}
}

func TestWindow(t *testing.T) {
	m := NewMem(0x200)
	w := NewWindow(m, 0x100, Default("blk", 0x57))
	if err := w.Write(0x28, 0xcafe); err != nil {
		t.Fatal(err)
	}
	if v, _ := m.Read(0x128); v != 0xcafe {
		t.Errorf("window base not applied: %#x", v)
	}
	if err := w.Write(0x58, 1); !errors.Is(err, ErrRange) {
		t.Error("write past max register:", err)
	}
	if _, err := w.Read(0x29); !errors.Is(err, ErrInvalid) {
		t.Error("misaligned:", err)
	}
	w.SetMaxRegister(0x63)
	if err := w.Write(0x58, 1); err != nil {
		t.Error("after SetMaxRegister:", err)
	}
	if err := UpdateBits(w, 0x28, 0xf, 0x3); err != nil {
		t.Fatal(err)
	}
	if v, _ := w.Read(0x28); v != 0xcaf3 {
		t.Errorf("UpdateBits through window: %#x", v)
	}
	words, err := ReadBlock(w, 0x28, 2)
	if err != nil || len(words) != 2 || words[0] != 0xcaf3 {
		t.Errorf("ReadBlock = %#x, %v", words, err)
	}
}

func TestTrace(t *testing.T) {
	tr := NewTrace(NewMem(8), "t", 2)
	tr.Write(0, 1)
	tr.Read(0)
	tr.Write(4, 2)
	var ops []Op
	var regs []uint32
	tr.Walk(func(e Entry) {
		ops = append(ops, e.Op)
		regs = append(regs, e.Reg)
	})
	if len(ops) != 2 || ops[0] != OpRead || ops[1] != OpWrite ||
		regs[1] != 4 {
		t.Errorf("walk: %v %v", ops, regs)
	}
	tr.Reset()
	n := 0
	tr.Walk(func(Entry) { n++ })
	if n != 0 {
		t.Error("reset left", n, "entries")
	}
}

func TestHexDump(t *testing.T) {
	lines := HexDump("rom", []byte("0123456789abcdefXY"))
	if len(lines) != 2 {
		t.Fatal(lines)
	}
	want := "rom-10: 58 59 " + spaces(14*3) + "XY" + spaces(14)
	if lines[1] != want {
		t.Errorf("got %q\nwant %q", lines[1], want)
	}
}

func spaces(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}

type fakeBus struct {
	sel  uint32
	regs map[uint32]uint32
	msgs []i2c.Message
}

func (b *fakeBus) Send(msgs []i2c.Message) error {
	for _, m := range msgs {
		b.msgs = append(b.msgs, m)
		switch m.Address {
		case 0x41:
			b.sel = uint32(m.Data[0]) | uint32(m.Data[1])<<8 |
				uint32(m.Data[2])<<16 | uint32(m.Data[3])<<24
		case 0x45:
			if m.Flags&i2c.ReadData != 0 {
				v := b.regs[b.sel]
				m.Data[0], m.Data[1] = byte(v), byte(v>>8)
				m.Data[2], m.Data[3] = byte(v>>16), byte(v>>24)
			} else {
				b.regs[b.sel] = uint32(m.Data[0]) |
					uint32(m.Data[1])<<8 |
					uint32(m.Data[2])<<16 |
					uint32(m.Data[3])<<24
			}
		default:
			return errors.New("nak")
		}
	}
	return nil
}

func TestI2C(t *testing.T) {
	bus := &fakeBus{regs: map[uint32]uint32{0x10: 0xc15c0595}}
	r := NewI2C(bus, 0x40)
	v, err := r.Read(0x10)
	if err != nil || v != 0xc15c0595 {
		t.Fatalf("Read = %#x, %v", v, err)
	}
	if err = r.Write(0x100, 0x12345678); err != nil {
		t.Fatal(err)
	}
	if bus.regs[0x100] != 0x12345678 {
		t.Errorf("Write: %#x", bus.regs[0x100])
	}
	if len(bus.msgs) != 4 || bus.msgs[2].Address != 0x41 ||
		bus.msgs[2].Data[1] != 0x01 {
		t.Errorf("messages: %+v", bus.msgs)
	}
	if err = UpdateBits(r, 0x100, 0xff, 0); err != nil {
		t.Fatal(err)
	}
	if bus.regs[0x100] != 0x12345600 {
		t.Errorf("UpdateBits: %#x", bus.regs[0x100])
	}
}
