// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package platform

import (
	"errors"
	"testing"

	"github.com/platinasystems/ciscofpga/internal/attr"
	"github.com/platinasystems/ciscofpga/internal/fwnode"
)

func TestNames(t *testing.T) {
	bus := NewBus()
	devs := []*Device{
		{BaseName: "cisco-fpga-info", ID: DevIDNone},
		{BaseName: "cisco-fpga-gpio", ID: 3},
		{BaseName: "cisco-fpga-gpio", ID: DevIDAuto},
		{BaseName: "cisco-fpga-gpio", ID: DevIDAuto},
	}
	for _, dev := range devs {
		if err := bus.Register(dev); err != nil {
			t.Fatal(err)
		}
	}
	for i, want := range []string{
		"cisco-fpga-info",
		"cisco-fpga-gpio.3",
		"cisco-fpga-gpio.0.auto",
		"cisco-fpga-gpio.1.auto",
	} {
		if s := devs[i].Name(); s != want {
			t.Errorf("%d: %q != %q", i, s, want)
		}
	}
	err := bus.Register(&Device{BaseName: "cisco-fpga-gpio", ID: 3})
	if !errors.Is(err, ErrExist) {
		t.Error("duplicate", err)
	}
	dev := bus.FindByName("cisco-fpga-gpio.3")
	if dev != devs[1] || dev.Refs() != 1 {
		t.Fatal("find", dev)
	}
	dev.Put()
	bus.Unregister(dev)
	if bus.FindByName("cisco-fpga-gpio.3") != nil {
		t.Error("unregistered device found")
	}
}

func TestResources(t *testing.T) {
	dev := &Device{
		BaseName: "x",
		ID:       DevIDNone,
		Resources: []Resource{
			{Start: 0x1000, End: 0x10ff, Flags: ResourceMem},
			{Start: 3, End: 3, Flags: ResourceIRQ},
			{Start: 5, End: 5, Flags: ResourceIRQ},
		},
	}
	if r, err := dev.Resource(ResourceMem, 0); err != nil || r.Size() != 0x100 {
		t.Error("mem", r, err)
	}
	if irq, err := dev.IRQ(1); err != nil || irq != 5 {
		t.Error("irq 1", irq, err)
	}
	if _, err := dev.IRQ(2); !errors.Is(err, ErrNoResource) {
		t.Error(err)
	}
	if n := dev.NumResources(ResourceIRQ); n != 2 {
		t.Error("irqs", n)
	}
}

func TestProbe(t *testing.T) {
	bus := NewBus()
	var order []string
	ready := false
	drv := &Driver{
		Name: "cisco-fpga-msd",
		IDs: []DeviceID{
			{Name: "cisco-fpga-msd", Data: 1},
			{Name: "cisco-fpga-xil", Data: 2},
		},
		Probe: func(dev *Device) error {
			if dev.IDEntry().Data.(int) == 2 && !ready {
				return ErrProbeDefer
			}
			dev.AddAction(func() { order = append(order, "a") })
			dev.AddAction(func() { order = append(order, "b") })
			dev.AddGroups(&attr.Group{
				Attrs: []*attr.Attr{
					attr.RO("id", func() (string, error) {
						return dev.Name(), nil
					}),
				},
			})
			return nil
		},
	}
	node := fwnode.New("msd", nil)
	msd := &Device{BaseName: "cisco-fpga-msd", ID: DevIDAuto, Fwnode: node}
	xil := &Device{BaseName: "cisco-fpga-xil", ID: DevIDAuto}
	bus.Register(msd)
	bus.Register(xil)
	bus.RegisterDriver(drv)
	if msd.Driver() != drv {
		t.Fatal("msd not bound")
	}
	if s, err := msd.Attrs().Show("id"); err != nil || s != msd.Name() {
		t.Error("attr", s, err)
	}
	if n := bus.ProbeDeferred(); n != 1 || xil.Driver() != nil {
		t.Fatal("deferred", n)
	}
	ready = true
	if n := bus.ProbeDeferred(); n != 0 || xil.Driver() != drv {
		t.Fatal("retry", n)
	}
	if dev := bus.FindByFwnode(node); dev != msd {
		t.Error("fwnode lookup", dev)
	} else {
		dev.Put()
	}
	order = nil
	bus.Unregister(msd)
	if len(order) != 2 || order[0] != "b" || order[1] != "a" {
		t.Error("action order", order)
	}
	if len(msd.Attrs()) != 0 {
		t.Error("groups not released")
	}
}

func TestCompatible(t *testing.T) {
	bus := NewBus()
	probed := 0
	bus.RegisterDriver(&Driver{
		Name:       "cisco-fpga-i2c",
		Compatible: []string{"cisco,fpga-i2c"},
		Probe:      func(*Device) error { probed++; return nil },
	})
	bus.Register(&Device{
		BaseName:   "cisco-fpga-i2c-ext",
		ID:         DevIDAuto,
		Compatible: "cisco,fpga-i2c",
	})
	bus.Register(&Device{BaseName: "other", ID: DevIDNone})
	if probed != 1 {
		t.Error("probed", probed)
	}
}

func TestActive(t *testing.T) {
	ids := IDTable(nil).
		Add(0, "pseq-lc").
		Add(IDActive, Seq("pseq-zone%d", 1, 2)...).
		Add(IDActive|IDOverride, "pseq-fc0-z2")
	if len(ids) != 4 || ids[2].Name != "pseq-zone2" {
		t.Fatal(ids)
	}
	for _, x := range []struct {
		id      *DeviceID
		pdata   interface{}
		standby bool
		want    bool
	}{
		{nil, nil, false, true},
		{nil, uint8(0), false, false},
		{&ids[0], nil, false, false},
		{&ids[0], uint8(1), false, true},
		{&ids[1], uint8(0), false, false},
		{&ids[3], uint8(0), false, true},
		{&ids[3], nil, true, false},
	} {
		dev := &Device{BaseName: "pseq", ID: DevIDNone, PlatformData: x.pdata}
		dev.idEntry = x.id
		if x.standby {
			dev.Fwnode = fwnode.New("pseq", map[string]interface{}{
				"standby": 1,
			})
		}
		if got := dev.Active(); got != x.want {
			t.Errorf("%+v: %v", x, got)
		}
	}
}
