// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package msd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/platinasystems/ciscofpga/internal/attr"
	"github.com/platinasystems/ciscofpga/internal/fwnode"
	"github.com/platinasystems/ciscofpga/internal/platform"
	"github.com/platinasystems/ciscofpga/internal/regaccess"
	"github.com/platinasystems/log"
)

var consoleSources = []string{
	ConsoleJumper: "jumper",
	ConsoleUxbar:  "uxbar",
}

// Per NPU status bits, each a run of NPUs bits.
var npuAttrs = []string{
	"init_done",
	"invalid_opcode_error",
	"spi_crc_error",
	"i2c_nack_error",
}

// NPUStatus is the init status of one NPU.
type NPUStatus struct {
	Done, OpcodeErr, SPIErr, I2CErr bool
}

func (s NPUStatus) Ready() bool {
	return s.Done && !s.OpcodeErr && !s.SPIErr && !s.I2CErr
}

func (s NPUStatus) String() string {
	b := func(v bool) int {
		if v {
			return 1
		}
		return 0
	}
	return fmt.Sprintf("done %d; opcode_err %d; spi_err %d; i2c_err %d",
		b(s.Done), b(s.OpcodeErr), b(s.SPIErr), b(s.I2CErr))
}

func (a *Adapter) npuGroups() ([]*attr.Group, error) {
	status0, err := a.m.Read(Status(0))
	if err != nil {
		log.Print("warn", a.dev.Name(), ": failed to read status0; ", err)
		return nil, err
	}
	max, reg, offset := MaxNPUs(status0)
	if max == 0 {
		if _, found := cardTypes[PlatformID.Get(status0)][FPGAID.Get(status0)]; !found {
			log.Printf("warn", "%s: status0 %#x is not supported",
				a.dev.Name(), status0)
		}
		return nil, nil
	}
	n := max
	if a.Active {
		if u := fwnode.Uint32(a.dev.Fwnode, "nnpus", uint32(max)); int(u) < max {
			n = int(u)
		}
	}
	a.NPUs, a.npuReg, a.npuOffset = n, reg, offset
	var groups []*attr.Group
	for npu := 0; npu < n; npu++ {
		g := &attr.Group{Name: fmt.Sprint("NPU", npu)}
		for i, name := range npuAttrs {
			bit := uint(i*n+npu) + offset
			g.Attrs = append(g.Attrs, attr.RO(name,
				func() (string, error) {
					v, err := a.read(reg)
					if err != nil {
						return "", err
					}
					return fmt.Sprint((v >> bit) & 1), nil
				}))
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// NPUStatus reads the init status of one NPU.
func (a *Adapter) NPUStatus(npu int) (NPUStatus, error) {
	if npu < 0 || npu >= a.NPUs {
		return NPUStatus{}, fmt.Errorf("%s: NPU%d out of range (max %d): %w",
			a.dev.Name(), npu, a.NPUs, regaccess.ErrInvalid)
	}
	v, err := a.read(a.npuReg)
	if err != nil {
		return NPUStatus{}, err
	}
	v >>= a.npuOffset
	n := uint(a.NPUs)
	bit := func(i uint) bool { return (v>>(i*n+uint(npu)))&1 != 0 }
	return NPUStatus{
		Done:      bit(0),
		OpcodeErr: bit(1),
		SPIErr:    bit(2),
		I2CErr:    bit(3),
	}, nil
}

// FindNPU resolves "NPUn" to the xil device of a line card or fixed
// system and "FCxNPUn" to that of fabric card x, then returns the NPU's
// status. A missing xil device is not an error; the NPU's init status is
// unknown and assumed ready.
func FindNPU(bus *platform.Bus, name string) (*NPUStatus, error) {
	p := strings.Index(name, "NPU")
	if p < 0 {
		return nil, fmt.Errorf("%s: invalid NPU name: %w", name,
			regaccess.ErrInvalid)
	}
	npu, err := strconv.Atoi(name[p+3:])
	if err != nil {
		return nil, fmt.Errorf("%s: invalid NPU name: %w", name,
			regaccess.ErrInvalid)
	}
	var devName string
	switch {
	case p == 0:
		devName = "xil"
	case p == 4 && strings.HasPrefix(name, "FC"):
		devName = "xil-fc" + name[2:3]
	default:
		return nil, fmt.Errorf("%s: malformed NPU name: %w", name,
			regaccess.ErrInvalid)
	}
	dev := bus.Find(func(dev *platform.Device) bool {
		_, ok := dev.DrvData().(*Adapter)
		return ok && dev.Name() == devName
	})
	if dev == nil {
		log.Print("info", "cannot find xil driver for ", name)
		return nil, nil
	}
	defer dev.Put()
	a := dev.DrvData().(*Adapter)
	if a.NPUs == 0 {
		return nil, nil
	}
	s, err := a.NPUStatus(npu)
	if err != nil {
		return nil, err
	}
	log.Printf("info", "%s: %s: %s", dev.Name(), name, s)
	return &s, nil
}

func (a *Adapter) xilAttrs() []*attr.Attr {
	return []*attr.Attr{
		attr.RW("outshifts_enable", func() (string, error) {
			v, err := a.read(Cfg1)
			if err != nil {
				return "", err
			}
			return fmt.Sprint(Outshifts.Get(v)), nil
		}, func(s string) error {
			m, err := a.regmap()
			if err != nil {
				return err
			}
			v, err := attr.ParseInt(s)
			if err != nil || v < 0 || v > 1 {
				return fmt.Errorf("%q: %w", s, attr.ErrInvalid)
			}
			return regaccess.UpdateBits(m, Cfg1, Outshifts.Mask(),
				Outshifts.Set(uint32(v)))
		}),
		attr.RW("console_source", func() (string, error) {
			v, err := a.read(Cfg1)
			if err != nil {
				return "", err
			}
			i := Console.Get(v)
			if int(i) < len(consoleSources) {
				return consoleSources[i], nil
			}
			return fmt.Sprint(i), nil
		}, func(s string) error {
			m, err := a.regmap()
			if err != nil {
				return err
			}
			s = strings.TrimSpace(s)
			for i, name := range consoleSources {
				if s == name {
					return regaccess.UpdateBits(m, Cfg1,
						Console.Mask(), Console.Set(uint32(i)))
				}
			}
			return fmt.Errorf("%q: %w", s, attr.ErrInvalid)
		}),
		attr.RO("board_type", func() (string, error) {
			v, err := a.read(Status(1))
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d: unknown, v%d", BoardType.Get(v),
				BoardVer.Get(v)), nil
		}),
	}
}
