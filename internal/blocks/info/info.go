// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package info provides the driver of the FPGA info ROM block.
package info

import (
	"fmt"

	"github.com/platinasystems/ciscofpga/internal/attr"
	"github.com/platinasystems/ciscofpga/internal/blkhdr"
	"github.com/platinasystems/ciscofpga/internal/blocks/hdrattr"
	"github.com/platinasystems/ciscofpga/internal/mfd"
	"github.com/platinasystems/ciscofpga/internal/platform"
	"github.com/platinasystems/ciscofpga/internal/regaccess"
	"github.com/platinasystems/log"
)

const Name = "cisco-fpga-info"

// Names are the cells bound by the info driver.
var Names = []string{
	"info", "info-rp", "info-lc", "info-ft", "info2-ft", "info-peer",
	"info-fc0", "info-fc1", "info-fc2", "info-fc3",
	"info-fc4", "info-fc5", "info-fc6", "info-fc7",
	"info-pim1", "info-pim2", "info-pim3", "info-pim4",
	"info-pim5", "info-pim6", "info-pim7", "info-pim8",
}

var cfgInfo = [...]string{
	"0: reserved",
	"1: reserved",
	"Golden image",
	"Upgrade image",
}

func Driver() *platform.Driver {
	ids := make([]platform.DeviceID, len(Names))
	for i, name := range Names {
		ids[i].Name = name
	}
	return &platform.Driver{
		Name: Name,
		IDs:  ids,
		Probe: func(dev *platform.Device) error {
			return Probe(dev)
		},
	}
}

// Probe maps the info ROM and publishes its attributes.
func Probe(dev *platform.Device) error {
	_, err := mfd.Init(dev, regaccess.Default(dev.Name(),
		blkhdr.InfoSize-1))
	if err != nil {
		return err
	}
	dev.AddGroups(Group(dev), hdrattr.Group(dev))
	return nil
}

// ROM reads a snapshot of dev's info ROM.
func ROM(dev *platform.Device) (*blkhdr.InfoROM, error) {
	m := dev.Regmap()
	if m == nil {
		return nil, fmt.Errorf("%s: no regmap: %w", dev.Name(),
			platform.ErrNoDevice)
	}
	return blkhdr.ReadInfo(m, 0)
}

// ConfigInfo describes the image type of a cfg_info value.
func ConfigInfo(v uint32) string {
	return cfgInfo[v&3]
}

// Group of the ROM attributes; name and description are present only when
// the firmware description has fpd-name and fpd-description.
func Group(dev *platform.Device) *attr.Group {
	show := func(f func(*blkhdr.InfoROM) string) func() (string, error) {
		return func() (string, error) {
			rom, err := ROM(dev)
			if err != nil {
				log.Print("err", dev.Name(), ": ", err)
				return "", err
			}
			return f(rom), nil
		}
	}
	g := &attr.Group{
		Attrs: []*attr.Attr{
			attr.RO("fpga_family", show(func(rom *blkhdr.InfoROM) string {
				return fmt.Sprint(rom.Family)
			})),
			attr.RO("fpga_vendor", show(func(rom *blkhdr.InfoROM) string {
				return fmt.Sprint(rom.Vendor)
			})),
			attr.RO("fpga_id", show(func(rom *blkhdr.InfoROM) string {
				return fmt.Sprintf("%#x", rom.FPGAID)
			})),
			attr.RO("config_info", show(func(rom *blkhdr.InfoROM) string {
				return ConfigInfo(rom.CfgInfo)
			})),
			attr.RO("version", show(func(rom *blkhdr.InfoROM) string {
				return rom.Revision()
			})),
			attr.RO("comment", show(func(rom *blkhdr.InfoROM) string {
				return rom.Comment
			})),
		},
	}
	if n := dev.Fwnode; n != nil {
		for _, x := range []struct{ attr, prop string }{
			{"name", "fpd-name"},
			{"description", "fpd-description"},
		} {
			if s, ok := n.PropString(x.prop); ok {
				s := s
				g.Attrs = append(g.Attrs, attr.RO(x.attr,
					func() (string, error) { return s, nil }))
			}
		}
	}
	return g
}
