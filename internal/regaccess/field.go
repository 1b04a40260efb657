// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package regaccess

// Field is the inclusive bit range [Lo, Hi] of a 32-bit register.
type Field struct {
	Hi, Lo uint
}

// Bit is a single bit field.
func Bit(n uint) Field { return Field{n, n} }

func (f Field) Width() uint { return f.Hi - f.Lo + 1 }

// Mask of the field in register position.
func (f Field) Mask() uint32 {
	if f.Width() >= 32 {
		return ^uint32(0)
	}
	return ((uint32(1) << f.Width()) - 1) << f.Lo
}

// Limit is the largest value the field holds.
func (f Field) Limit() uint32 { return f.Mask() >> f.Lo }

// Get extracts the field from register value v.
func (f Field) Get(v uint32) uint32 { return (v & f.Mask()) >> f.Lo }

// Set returns x shifted into field position; excess bits are dropped.
func (f Field) Set(x uint32) uint32 { return (x << f.Lo) & f.Mask() }

// Replace returns old with the field replaced by x.
func (f Field) Replace(old, x uint32) uint32 {
	return (old &^ f.Mask()) | f.Set(x)
}

// Reg pairs a register offset with one of its fields.
type Reg struct {
	Off uint32
	Field
}

// Read the field value.
func (r Reg) Read(m Regmap) (uint32, error) {
	v, err := m.Read(r.Off)
	if err != nil {
		return 0, err
	}
	return r.Get(v), nil
}

// Write the field value with a read-modify-write.
func (r Reg) Write(m Regmap, x uint32) error {
	return UpdateBits(m, r.Off, r.Mask(), r.Set(x))
}
