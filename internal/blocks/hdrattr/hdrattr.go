// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package hdrattr exports the header of every block as the "info"
// attribute group: block_id, version and a 64 bit scratch register.
package hdrattr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/platinasystems/ciscofpga/internal/attr"
	"github.com/platinasystems/ciscofpga/internal/blkhdr"
	"github.com/platinasystems/ciscofpga/internal/platform"
	"github.com/platinasystems/ciscofpga/internal/regaccess"
)

const GroupName = "info"

// Group returns the header attributes of dev. The register map is that of
// dev or else its parent's, resolved on each access.
func Group(dev *platform.Device) *attr.Group {
	return &attr.Group{
		Name: GroupName,
		Attrs: []*attr.Attr{
			attr.RO("block_id", func() (string, error) {
				h, err := header(dev)
				if err != nil {
					return "", err
				}
				return fmt.Sprint(h.ID), nil
			}),
			attr.RO("version", func() (string, error) {
				h, err := header(dev)
				if err != nil {
					return "", err
				}
				return h.Version(), nil
			}),
			attr.RW("scratch", func() (string, error) {
				m, err := regmap(dev)
				if err != nil {
					return "", err
				}
				v, err := ReadScratch(m)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("%#x", v), nil
			}, func(s string) error {
				m, err := regmap(dev)
				if err != nil {
					return err
				}
				return StoreScratch(m, s)
			}),
		},
	}
}

func regmap(dev *platform.Device) (regaccess.Regmap, error) {
	if m := dev.Regmap(); m != nil {
		return m, nil
	}
	if dev.Parent != nil {
		if m := dev.Parent.Regmap(); m != nil {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%s: no regmap: %w", dev.Name(),
		platform.ErrNoDevice)
}

func header(dev *platform.Device) (blkhdr.Header, error) {
	m, err := regmap(dev)
	if err != nil {
		return blkhdr.Header{}, err
	}
	w0, err := m.Read(blkhdr.RegWord0)
	if err != nil {
		return blkhdr.Header{}, err
	}
	w1, err := m.Read(blkhdr.RegWord1)
	if err != nil {
		return blkhdr.Header{}, err
	}
	return blkhdr.Decode([5]uint32{w0, w1}), nil
}

// ReadScratch returns sw0<<32 | sw1.
func ReadScratch(m regaccess.Regmap) (uint64, error) {
	hi, err := m.Read(blkhdr.RegSW0)
	if err != nil {
		return 0, err
	}
	lo, err := m.Read(blkhdr.RegSW1)
	if err != nil {
		return 0, err
	}
	return uint64(hi)<<32 | uint64(lo), nil
}

// WriteScratch writes the high half to sw0 then the low half to sw1.
func WriteScratch(m regaccess.Regmap, v uint64) error {
	if err := m.Write(blkhdr.RegSW0, uint32(v>>32)); err != nil {
		return err
	}
	return m.Write(blkhdr.RegSW1, uint32(v))
}

// StoreScratch applies one of:
//
//	set-bit N
//	clear-bit N
//	VALUE mask MASK
//	and VALUE
//	andn VALUE
//	or VALUE
//	xor VALUE
//	VALUE
func StoreScratch(m regaccess.Regmap, s string) error {
	and, or, xor, err := ParseScratch(s)
	if err != nil {
		return err
	}
	v, err := ReadScratch(m)
	if err != nil {
		return err
	}
	return WriteScratch(m, ((v&and)^xor)|or)
}

// ParseScratch returns the and, or and xor masks of a scratch store.
func ParseScratch(s string) (and, or, xor uint64, err error) {
	bad := fmt.Errorf("%q: %w", s, attr.ErrInvalid)
	args := strings.Fields(s)
	switch len(args) {
	case 1:
		or, err = parse64(args[0])
		return 0, or, 0, err
	case 2:
		var v uint64
		if args[0] == "set-bit" || args[0] == "clear-bit" {
			bit, err := strconv.ParseUint(args[1], 0, 8)
			if err != nil || bit >= 64 {
				return 0, 0, 0, bad
			}
			if args[0] == "set-bit" {
				return ^uint64(0), 1 << bit, 0, nil
			}
			return ^(uint64(1) << bit), 0, 0, nil
		}
		if v, err = parse64(args[1]); err != nil {
			return 0, 0, 0, err
		}
		switch args[0] {
		case "and":
			return v, 0, 0, nil
		case "andn":
			return ^v, 0, 0, nil
		case "or":
			return ^uint64(0), v, 0, nil
		case "xor":
			return ^uint64(0), 0, v, nil
		}
	case 3:
		if args[1] != "mask" {
			break
		}
		v, err := parse64(args[0])
		if err != nil {
			return 0, 0, 0, err
		}
		mask, err := parse64(args[2])
		if err != nil {
			return 0, 0, 0, err
		}
		return ^mask, v, 0, nil
	}
	return 0, 0, 0, bad
}

func parse64(s string) (uint64, error) {
	if u, err := strconv.ParseUint(s, 0, 64); err == nil {
		return u, nil
	}
	i, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", s, attr.ErrInvalid)
	}
	return uint64(i), nil
}
