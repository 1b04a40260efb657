// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package machine

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/platinasystems/ciscofpga/internal/regaccess"
)

var ErrSource = errors.New("invalid fpga source")

// Source kinds.
const (
	File = "file"
	PCI  = "pci"
	I2C  = "i2c"
)

// Source names where an FPGA's registers are found:
//
//	pci:DOMAIN:BUS:DEV.FN[/BAR]	mapped PCI BAR, BAR 0 by default
//	i2c:BUS:ADDR			BMC register protocol on /dev/i2c-BUS
//	file:PATH			a saved register image, or just PATH,
//					which may also be a URL
type Source struct {
	Kind string
	Path string
	Bar  uint
	Bus  int
	Addr uint16
}

func ParseSource(s string) (Source, error) {
	var src Source
	kind, rest := File, s
	if i := strings.IndexByte(s, ':'); i > 0 {
		switch s[:i] {
		case File, PCI, I2C:
			kind, rest = s[:i], s[i+1:]
		}
	}
	if len(rest) == 0 {
		return src, fmt.Errorf("%q: %w", s, ErrSource)
	}
	src.Kind = kind
	switch kind {
	case File:
		src.Path = rest
	case PCI:
		src.Path = rest
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			bar, err := strconv.ParseUint(rest[i+1:], 0, 8)
			if err != nil || bar > 5 {
				return src, fmt.Errorf("%q: bad bar: %w", s, ErrSource)
			}
			src.Path, src.Bar = rest[:i], uint(bar)
		}
		if strings.Count(src.Path, ":") != 2 {
			return src, fmt.Errorf("%q: bad pci address: %w", s,
				ErrSource)
		}
	case I2C:
		f := strings.Split(rest, ":")
		if len(f) != 2 {
			return src, fmt.Errorf("%q: %w", s, ErrSource)
		}
		bus, err := strconv.ParseUint(f[0], 0, 16)
		if err != nil {
			return src, fmt.Errorf("%q: bad bus: %w", s, ErrSource)
		}
		addr, err := strconv.ParseUint(f[1], 0, 10)
		if err != nil {
			return src, fmt.Errorf("%q: bad address: %w", s, ErrSource)
		}
		src.Bus, src.Addr = int(bus), uint16(addr)
	}
	return src, nil
}

func (src Source) String() string {
	switch src.Kind {
	case PCI:
		return fmt.Sprintf("pci:%s/%d", src.Path, src.Bar)
	case I2C:
		return fmt.Sprintf("i2c:%d:%#x", src.Bus, src.Addr)
	}
	return "file:" + src.Path
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open the registers of src. Images are read into memory, so writes don't
// reach the file.
func (src Source) Open() (regaccess.Regmap, io.Closer, error) {
	switch src.Kind {
	case PCI:
		m, err := regaccess.OpenBar(src.Path, src.Bar)
		if err != nil {
			return nil, nil, err
		}
		return m, m, nil
	case I2C:
		m, err := regaccess.OpenI2C(src.Bus, src.Addr)
		if err != nil {
			return nil, nil, err
		}
		return m, m, nil
	case File:
		b, err := readURL(src.Path)
		if err != nil {
			return nil, nil, err
		}
		return regaccess.NewMemFrom(b), nopCloser{}, nil
	}
	return nil, nil, fmt.Errorf("%s: %w", src.Kind, ErrSource)
}
