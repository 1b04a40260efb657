// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package mfd

import (
	"fmt"

	"github.com/platinasystems/ciscofpga/internal/platform"
	"github.com/platinasystems/ciscofpga/internal/regaccess"
	"github.com/platinasystems/log"
)

// InitRegmap returns the register map of a child device.
type InitRegmap func(child *platform.Device, cfg *regaccess.Config) (regaccess.Regmap, error)

var parentMagic uint32

// Parent is embedded first in the driver data of every FPGA parent device.
type Parent struct {
	magic      *uint32
	initRegmap InitRegmap
}

// Holder is implemented by driver data embedding Parent.
type Holder interface {
	MFD() *Parent
}

func (p *Parent) MFD() *Parent { return p }

// ParentInit marks dev as an FPGA parent whose children get their register
// maps from fn. The device's driver data must hold p.
func ParentInit(dev *platform.Device, p *Parent, fn InitRegmap) {
	h, ok := dev.DrvData().(Holder)
	if !ok || h.MFD() != p {
		panic(fmt.Errorf("%s: driver data doesn't hold its mfd parent",
			dev.Name()))
	}
	p.magic = &parentMagic
	p.initRegmap = fn
}

// Init gives a child device its register map from its parent and returns
// it. A nil cfg selects the 32 bit layout of every block bounded by the
// child's memory resource.
func Init(child *platform.Device, cfg *regaccess.Config) (regaccess.Regmap, error) {
	parent := child.Parent
	if parent == nil {
		log.Print("err", child.Name(), ": device has no parent device")
		return nil, fmt.Errorf("%s: %w", child.Name(), ErrNoDevice)
	}
	h, ok := parent.DrvData().(Holder)
	if !ok || h == nil {
		log.Print("err", child.Name(), ": parent ", parent.Name(),
			" has no private data")
		return nil, fmt.Errorf("%s: %w", child.Name(), ErrNoDevice)
	}
	p := h.MFD()
	if p == nil || p.magic != &parentMagic {
		log.Print("err", child.Name(), ": parent ", parent.Name(),
			" private data is corrupted")
		return nil, fmt.Errorf("%s: %w", child.Name(), ErrNoDevice)
	}
	if p.initRegmap == nil {
		log.Print("err", child.Name(), ": ", parent.Name(),
			" has no regmap initialization function")
		return nil, fmt.Errorf("%s: %w", child.Name(), ErrNoDevice)
	}
	r, err := p.initRegmap(child, cfg)
	if err != nil {
		return nil, err
	}
	child.SetRegmap(r)
	return r, nil
}

// WindowRegmap returns an InitRegmap that offsets the parent's map by each
// child's memory resource.
func WindowRegmap(m regaccess.Regmap) InitRegmap {
	return func(child *platform.Device, cfg *regaccess.Config) (regaccess.Regmap, error) {
		res, err := child.Resource(platform.ResourceMem, 0)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", err, ErrNoDevice)
		}
		c := regaccess.Default(child.Name(), uint32(res.Size()-4))
		if cfg != nil {
			c.RegBits, c.ValBits = cfg.RegBits, cfg.ValBits
			c.RegStride = cfg.RegStride
			if cfg.MaxRegister != 0 {
				c.MaxRegister = cfg.MaxRegister
			}
		}
		return regaccess.NewWindow(m, uint32(res.Start), c), nil
	}
}

// Traced wraps the maps returned by fn with an access log.
func Traced(fn InitRegmap, depth int) InitRegmap {
	return func(child *platform.Device, cfg *regaccess.Config) (regaccess.Regmap, error) {
		r, err := fn(child, cfg)
		if err != nil {
			return nil, err
		}
		t := regaccess.NewTrace(r, child.Name(), depth)
		t.Log = true
		return t, nil
	}
}

// AddDevices registers a device per cell under parent. On failure the ones
// already added are removed. The children are removed with the parent's
// driver.
func AddDevices(bus *platform.Bus, parent *platform.Device, cells []Cell) ([]*platform.Device, error) {
	devs := make([]*platform.Device, 0, len(cells))
	for i := range cells {
		c := &cells[i]
		dev := &platform.Device{
			BaseName:     c.Name,
			ID:           c.ID,
			Parent:       parent,
			Fwnode:       c.Fwnode,
			Resources:    append([]platform.Resource(nil), c.Resources...),
			PlatformData: c.PlatformData,
			Compatible:   c.Compatible,
			OfReg:        c.OfReg,
			ADR:          c.ADR,
		}
		if err := bus.Register(dev); err != nil {
			RemoveDevices(bus, devs)
			return nil, err
		}
		devs = append(devs, dev)
	}
	parent.AddAction(func() { RemoveDevices(bus, devs) })
	return devs, nil
}

// RemoveDevices unregisters devs, last first.
func RemoveDevices(bus *platform.Bus, devs []*platform.Device) {
	for i := len(devs) - 1; i >= 0; i-- {
		bus.Unregister(devs[i])
	}
}

// FPGA is the driver data of a parent attached with Attach.
type FPGA struct {
	Parent
	Regmap   regaccess.Regmap
	Metadata *Metadata
	Devices  []*platform.Device
}

// Attach probes the FPGA behind m as the parent dev: it walks the block
// table and registers a device per cell. Children build their maps with
// Init as windows on m.
func Attach(bus *platform.Bus, dev *platform.Device, m regaccess.Regmap,
	cfg *Config) (*FPGA, error) {
	fpga := &FPGA{Regmap: m}
	dev.SetDrvData(fpga)
	fn := WindowRegmap(m)
	if cfg != nil && cfg.Trace > 0 {
		fn = Traced(fn, cfg.Trace)
	}
	ParentInit(dev, &fpga.Parent, fn)
	meta, err := Cells(dev, m, cfg)
	if err != nil {
		return nil, err
	}
	fpga.Metadata = meta
	fpga.Devices, err = AddDevices(bus, dev, meta.Cells)
	if err != nil {
		return nil, err
	}
	return fpga, nil
}

// Driver returns a parent driver for devices whose PlatformData is the
// regaccess.Regmap of the whole FPGA.
func Driver(name string, cfg *Config) *platform.Driver {
	return &platform.Driver{
		Name: name,
		Probe: func(dev *platform.Device) error {
			m, ok := dev.PlatformData.(regaccess.Regmap)
			if !ok {
				return fmt.Errorf("%s: no regmap: %w", dev.Name(),
					ErrNoDevice)
			}
			_, err := Attach(dev.Bus(), dev, m, cfg)
			return err
		},
	}
}
