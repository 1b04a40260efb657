// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package msd drives the board management blocks, msd and its xil
// sibling. Both hold the card identity, cfg and status words, the scratch
// RAM shared with the BIOS, the arbitration owner registers and the reboot
// actions of the card.
package msd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/platinasystems/ciscofpga/internal/attr"
	"github.com/platinasystems/ciscofpga/internal/blkhdr"
	"github.com/platinasystems/ciscofpga/internal/blocks/hdrattr"
	"github.com/platinasystems/ciscofpga/internal/mfd"
	"github.com/platinasystems/ciscofpga/internal/platform"
	"github.com/platinasystems/ciscofpga/internal/reboot"
	"github.com/platinasystems/ciscofpga/internal/regaccess"
	"github.com/platinasystems/log"
)

var ErrAgain = errors.New("resource busy, try again")

// Variant is the msd or xil flavor of the driver.
type Variant struct {
	Name   string
	IDs    []platform.DeviceID
	Reboot reboot.Info
	xil    bool
}

var MSD = &Variant{
	Name: "cisco-fpga-msd",
	IDs: platform.IDTable(nil).
		Add(0, "msd-lc").
		Add(platform.IDActive, "msd-ft").
		Add(platform.IDActive, platform.Seq("msd-fc%d", 0, 7)...).
		Add(platform.IDActive, "msd-rp", "msd-bmc").
		Add(0, "msd-peer").
		Add(platform.IDActive, "msd"),
	Reboot: reboot.Info{
		Enable:   true,
		Priority: 32,
		Restart:  reboot.Action{Reg: Cfg7, Mask: 0xfffff7ff, Value: 0x400},
		Halt:     reboot.Action{Reg: Cfg7, Mask: 0xfffff7ff, Value: 0x8},
		PowerOff: reboot.Action{Reg: Cfg7, Mask: 0xfffff7ff, Value: 0x8},
	},
}

var XIL = &Variant{
	Name: "cisco-fpga-xil",
	IDs: platform.IDTable(nil).
		Add(0, "xil-lc").
		Add(platform.IDActive|platform.IDOverride, platform.Seq("xil-fc%d", 0, 7)...).
		Add(platform.IDActive|platform.IDOverride, platform.Seq("xil-fc%d.p2pm", 0, 7)...).
		Add(platform.IDActive, "xil-rp", "xil").
		Add(platform.IDActive|platform.IDOverride, platform.Seq("xil-pim%d", 1, 8)...),
	Reboot: reboot.Info{
		Enable:   true,
		Priority: 64,
		Restart:  reboot.Action{Reg: Cfg7, Mask: 0xfff, Value: 0x400},
		Halt:     reboot.Action{Reg: Cfg7, Mask: 0xfff, Value: 0x8},
		PowerOff: reboot.Action{Reg: Cfg7, Mask: 0xfff, Value: 0x8},
	},
	xil: true,
}

// Adapter is the driver data of a bound msd or xil device.
type Adapter struct {
	Active bool
	// Version is the block's major version.
	Version uint8
	// NPUs reporting init status, xil only.
	NPUs int

	dev       *platform.Device
	m         regaccess.Regmap
	npuReg    uint32
	npuOffset uint
}

func (v *Variant) Driver(chain *reboot.Chain) *platform.Driver {
	return &platform.Driver{
		Name: v.Name,
		IDs:  v.IDs,
		Probe: func(dev *platform.Device) error {
			_, err := v.Probe(dev, chain)
			return err
		},
	}
}

func (v *Variant) Probe(dev *platform.Device, chain *reboot.Chain) (*Adapter, error) {
	m, err := mfd.Init(dev, regaccess.Default(dev.Name(), MaxRegister))
	if err != nil {
		return nil, err
	}
	a := &Adapter{
		Active: dev.Active(),
		dev:    dev,
		m:      m,
	}
	dev.SetDrvData(a)
	h, err := blkhdr.Read(m, 0)
	if err != nil {
		log.Print("err", dev.Name(), ": failed to read header: ", err)
		return nil, err
	}
	a.Version = h.Maj
	if v.xil {
		err = a.probeXIL(chain, &v.Reboot)
	} else {
		err = a.probeMSD(chain, &v.Reboot)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Adapter) probeMSD(chain *reboot.Chain, info *reboot.Info) error {
	dev := a.dev
	groups := []*attr.Group{a.Group()}
	if a.Version >= 5 {
		groups = append(groups, a.ScratchGroups()...)
	}
	groups = append(groups, hdrattr.Group(dev))
	groups[0].Attrs = append(groups[0].Attrs, a.fcReady())
	dev.AddGroups(groups...)

	if !a.Active || a.Version < 5 {
		log.Printf("warn", "%s: bypass boot_mode init; active %t; major %d",
			dev.Name(), a.Active, a.Version)
		return nil
	}
	a.resetBootMode("warn")
	a.checkBootMode()
	a.selectX86()
	a.checkBootMode()
	_, err := reboot.Register(chain, dev, info)
	return err
}

func (a *Adapter) probeXIL(chain *reboot.Chain, info *reboot.Info) error {
	dev := a.dev
	if a.Active {
		err := regaccess.UpdateBits(a.m, Cfg1, Outshifts.Mask(),
			Outshifts.Set(1))
		if err != nil {
			log.Print("warn", dev.Name(),
				": failed to enable outshifts; ", err)
		}
	} else {
		log.Print("info", dev.Name(), ": passive")
	}
	groups, err := a.npuGroups()
	if err != nil {
		log.Print("err", dev.Name(), ": sysfs init failed; ", err)
		return err
	}
	base := a.Group()
	base.Attrs = append(base.Attrs, a.xilAttrs()...)
	groups = append(groups, base)
	groups = append(groups, a.ScratchGroups()...)
	groups = append(groups, hdrattr.Group(dev))
	dev.AddGroups(groups...)
	if !a.Active {
		return nil
	}
	a.resetBootMode("err")
	a.selectX86()
	_, err = reboot.Register(chain, dev, info)
	return err
}

func (a *Adapter) resetBootMode(priority string) {
	if err := a.m.Write(BootMode, 0); err != nil {
		log.Print(priority, a.dev.Name(),
			": failed to reset boot mode; ", err)
	}
}

func (a *Adapter) checkBootMode() {
	v, err := a.m.Read(BootMode)
	if err != nil {
		log.Print("warn", a.dev.Name(), ": failed to read boot mode; ", err)
	} else if v != 0 {
		log.Printf("warn", "%s: boot mode is %#x after reset",
			a.dev.Name(), v)
	}
}

func (a *Adapter) selectX86() {
	err := regaccess.UpdateBits(a.m, Cfg5, MasterSelect.Mask(),
		MasterSelect.Set(MasterX86))
	if err != nil {
		log.Print("warn", a.dev.Name(),
			": failed to set X86 as i2c master; ", err)
	}
}

func (a *Adapter) regmap() (regaccess.Regmap, error) {
	if m := a.dev.Regmap(); m != nil {
		return m, nil
	}
	return nil, fmt.Errorf("%s: no regmap: %w", a.dev.Name(),
		platform.ErrNoDevice)
}

func (a *Adapter) warn(format string, args ...interface{}) {
	log.Print("warn", a.dev.Name(), ": ", fmt.Sprintf(format, args...))
}

func (a *Adapter) read(reg uint32) (uint32, error) {
	m, err := a.regmap()
	if err != nil {
		return 0, err
	}
	return m.Read(reg)
}

// Group of the card identity, control and raw cfg and status words.
func (a *Adapter) Group() *attr.Group {
	g := &attr.Group{
		Attrs: []*attr.Attr{
			attr.RO("platform_type", func() (string, error) {
				v, err := a.read(Status(0))
				if err != nil {
					return "", err
				}
				return PlatformType(v), nil
			}),
			attr.RO("card_type", func() (string, error) {
				v, err := a.read(Status(0))
				if err != nil {
					return "", err
				}
				return CardType(v), nil
			}),
			(&scratch{name: "control", reg: Cfg7, names: controls}).bits(
				a.regmap, a.warn),
		},
	}
	for i := 0; i < NumCfg; i++ {
		reg := Cfg(i)
		g.Attrs = append(g.Attrs, attr.RW(fmt.Sprint("cfg", i),
			func() (string, error) {
				v, err := a.read(reg)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("%#x", v), nil
			}, func(s string) error {
				m, err := a.regmap()
				if err != nil {
					return err
				}
				v, err := attr.ParseUint32(s)
				if err != nil {
					return err
				}
				return m.Write(reg, v)
			}))
	}
	for i := 0; i < NumStatus; i++ {
		reg := Status(i)
		g.Attrs = append(g.Attrs, attr.RO(fmt.Sprint("status", i),
			func() (string, error) {
				v, err := a.read(reg)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("%#x", v), nil
			}))
	}
	return g
}

// ScratchGroups are the bios, uboot, chassis and idprom views of scratch
// RAM.
func (a *Adapter) ScratchGroups() []*attr.Group {
	m := a.regmap
	return []*attr.Group{
		{
			Name: "bios",
			Attrs: []*attr.Attr{
				(&scratch{name: "boot_mode", reg: BootMode,
					names: bootModes}).u32(m),
				(&scratch{name: "running_version",
					reg: BIOSVersion}).u32(m),
				(&scratch{name: "flash_select",
					reg: BIOSFlashSelect}).u32(m),
			},
		},
		{
			Name: "uboot",
			Attrs: []*attr.Attr{
				(&scratch{name: "running_version",
					reg: UbootVersion}).u32(m),
				(&scratch{name: "mac_addr", reg: UbootMACAddr,
					n: macLen}).str(m),
			},
		},
		{
			Name: "chassis",
			Attrs: []*attr.Attr{
				(&scratch{name: "info_valid",
					reg: ChassisInfoValid}).u32(m),
				(&scratch{name: "pd_type",
					reg: ChassisPDType}).u32(m),
				(&scratch{name: "hw_version",
					reg: ChassisHWVersion}).hwVersion(m),
				(&scratch{name: "pid", reg: ChassisPID,
					n: pidLen}).str(m),
				(&scratch{name: "serial_number", reg: ChassisSN,
					n: snLen}).str(m),
				(&scratch{name: "rack_id",
					reg: ChassisRackID}).u32(m),
			},
		},
		{
			Name: "idprom",
			Attrs: []*attr.Attr{
				(&scratch{name: "info_valid",
					reg: IDPROMInfoValid}).u32(m),
				(&scratch{name: "pd_type",
					reg: IDPROMPDType}).u32(m),
				(&scratch{name: "hw_version",
					reg: IDPROMHWVersion}).hwVersion(m),
				(&scratch{name: "tan_version",
					reg: IDPROMTANVersion}).u32(m),
				(&scratch{name: "pid", reg: IDPROMPID,
					n: pidLen}).str(m),
				(&scratch{name: "serial_number", reg: IDPROMSN,
					n: snLen}).str(m),
			},
		},
	}
}

// fc_ready is one character per fabric card of cfg5, fc0 first.
func (a *Adapter) fcReady() *attr.Attr {
	return attr.RW("fc_ready", func() (string, error) {
		v, err := a.read(Cfg5)
		if err != nil {
			return "", err
		}
		return FormatFCReady(v), nil
	}, func(s string) error {
		m, err := a.regmap()
		if err != nil {
			return err
		}
		v, err := ParseFCReady(s)
		if err != nil {
			return err
		}
		return regaccess.UpdateBits(m, Cfg5, FCReady.Mask(), v)
	})
}

func FormatFCReady(cfg5 uint32) string {
	var sb strings.Builder
	for i := uint(0); i < 8; i++ {
		if cfg5&(1<<i) != 0 {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

func ParseFCReady(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if len(s) != 8 {
		return 0, fmt.Errorf("%q: %w", s, attr.ErrInvalid)
	}
	var v uint32
	for i, c := range s {
		switch c {
		case '1':
			v |= 1 << uint(i)
		case '0':
		default:
			return 0, fmt.Errorf("%q: %w", s, attr.ErrInvalid)
		}
	}
	return v, nil
}
