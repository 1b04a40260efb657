// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package msd

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/platinasystems/ciscofpga/internal/attr"
	"github.com/platinasystems/ciscofpga/internal/regaccess"
)

// Scratch RAM offsets shared with the BIOS and u-boot.
const (
	BootMode          = RegScratch + 0x0
	ChassisInfoValid  = RegScratch + 0x4
	ChassisPDType     = RegScratch + 0x8
	ChassisHWVersion  = RegScratch + 0xc
	ChassisPID        = RegScratch + 0x10
	ChassisSN         = RegScratch + 0x24
	ChassisRackID     = RegScratch + 0x30
	BIOSVersion       = RegScratch + 0x34
	UbootVersion      = RegScratch + 0x38
	IDPROMInfoValid   = RegScratch + 0x3a0
	IDPROMTANVersion  = RegScratch + 0x3a4
	IDPROMPDType      = RegScratch + 0x3a8
	IDPROMHWVersion   = RegScratch + 0x3ac
	IDPROMPID         = RegScratch + 0x3b0
	IDPROMSN          = RegScratch + 0x3c4
	BIOSFlashSelect   = RegScratch + 0x3d0
	UbootMACAddr      = RegScratch + 0x3d4
	pidLen, snLen     = 20, 12
	macLen            = 12
	maxHWVersionField = 0xffff
)

var bootModes = []string{"default", "SSD", "USB", "IPXE"}

var controls = []string{
	3:  "power-off",
	5:  "power-on",
	6:  "cold-reset",
	9:  "warm-reset",
	10: "power-cycle",
}

// scratch describes one formatted slice of scratch RAM or cfg space.
type scratch struct {
	name  string
	reg   uint32
	n     int
	names []string
}

func (x *scratch) lookup(s string) (int, bool) {
	s = strings.TrimSpace(s)
	for i, name := range x.names {
		if len(name) > 0 && name == s {
			return i, true
		}
	}
	return 0, false
}

func (x *scratch) u32(m func() (regaccess.Regmap, error)) *attr.Attr {
	return attr.RW(x.name, func() (string, error) {
		r, err := m()
		if err != nil {
			return "", err
		}
		v, err := r.Read(x.reg)
		if err != nil {
			return "", err
		}
		if v < uint32(len(x.names)) && len(x.names[v]) > 0 {
			return x.names[v], nil
		}
		return fmt.Sprint(v), nil
	}, func(s string) error {
		r, err := m()
		if err != nil {
			return err
		}
		if x.names != nil {
			i, found := x.lookup(s)
			if !found {
				return fmt.Errorf("%s: %q: %w", x.name, s,
					attr.ErrInvalid)
			}
			return r.Write(x.reg, uint32(i))
		}
		v, err := attr.ParseUint32(s)
		if err != nil {
			return err
		}
		return r.Write(x.reg, v)
	})
}

func (x *scratch) hwVersion(m func() (regaccess.Regmap, error)) *attr.Attr {
	return attr.RW(x.name, func() (string, error) {
		r, err := m()
		if err != nil {
			return "", err
		}
		v, err := r.Read(x.reg)
		if err != nil {
			return "", err
		}
		return FormatHWVersion(v), nil
	}, func(s string) error {
		r, err := m()
		if err != nil {
			return err
		}
		v, err := ParseHWVersion(s)
		if err != nil {
			return err
		}
		return r.Write(x.reg, v)
	})
}

func (x *scratch) str(m func() (regaccess.Regmap, error)) *attr.Attr {
	return attr.RW(x.name, func() (string, error) {
		r, err := m()
		if err != nil {
			return "", err
		}
		return ReadString(r, x.reg, x.n)
	}, func(s string) error {
		r, err := m()
		if err != nil {
			return err
		}
		return WriteString(r, x.reg, x.n, s)
	})
}

// bits lists the names of a one-hot command register and accepts one of
// them only while the register is clear.
func (x *scratch) bits(m func() (regaccess.Regmap, error), warn func(string, ...interface{})) *attr.Attr {
	return attr.RW(x.name, func() (string, error) {
		if _, err := m(); err != nil {
			return "", err
		}
		var names []string
		for _, name := range x.names {
			if len(name) > 0 {
				names = append(names, name)
			}
		}
		return strings.Join(names, "\n"), nil
	}, func(s string) error {
		r, err := m()
		if err != nil {
			return err
		}
		i, found := x.lookup(s)
		if !found {
			return fmt.Errorf("%s: %q: %w", x.name, s, attr.ErrInvalid)
		}
		v, err := r.Read(x.reg)
		if err != nil {
			return err
		}
		if v != 0 {
			warn("write %#x (%s) to register %#x (current value %#x) refused",
				1<<uint(i), x.names[i], x.reg, v)
			return fmt.Errorf("%s: %#x: %w", x.name, v, ErrAgain)
		}
		return r.Write(x.reg, 1<<uint(i))
	})
}

// FormatHWVersion is "major.minor" of the upper and lower halves.
func FormatHWVersion(v uint32) string {
	return fmt.Sprintf("%d.%d", v>>16, v&0xffff)
}

// ParseHWVersion accepts "major.minor" or "major".
func ParseHWVersion(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	parts := strings.SplitN(s, ".", 2)
	var v [2]uint64
	for i, p := range parts {
		u, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("%q: %w", s, attr.ErrInvalid)
		}
		if u > maxHWVersionField {
			return 0, fmt.Errorf("%q: %w", s, regaccess.ErrRange)
		}
		v[i] = u
	}
	return uint32(v[0]<<16 | v[1]), nil
}

// ReadString returns the NUL terminated string of up to n bytes stored
// little endian at reg.
func ReadString(m regaccess.Regmap, reg uint32, n int) (string, error) {
	b := make([]byte, (n+3)&^3)
	for i := 0; i < len(b); i += 4 {
		v, err := m.Read(reg + uint32(i))
		if err != nil {
			return "", err
		}
		binary.LittleEndian.PutUint32(b[i:], v)
	}
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		b = b[:i]
	}
	return string(b), nil
}

// WriteString stores s, trimmed at the first newline, zero padded to n
// bytes.
func WriteString(m regaccess.Regmap, reg uint32, n int, s string) error {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		if len(strings.TrimRight(s[i:], "\n")) > 0 {
			return fmt.Errorf("%q: %w", s, attr.ErrInvalid)
		}
		s = s[:i]
	}
	if len(s) > n {
		return fmt.Errorf("%q longer than %d: %w", s, n, attr.ErrInvalid)
	}
	b := make([]byte, (n+3)&^3)
	copy(b, s)
	for i := 0; i < len(b); i += 4 {
		err := m.Write(reg+uint32(i), binary.LittleEndian.Uint32(b[i:]))
		if err != nil {
			return err
		}
	}
	return nil
}
