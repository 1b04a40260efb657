// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package reboot

import (
	"errors"
	"testing"

	"github.com/platinasystems/ciscofpga/internal/fwnode"
	"github.com/platinasystems/ciscofpga/internal/platform"
	"github.com/platinasystems/ciscofpga/internal/regaccess"
)

type write struct{ reg, val uint32 }

// recorder has no UpdateBits so every update shows up as writes.
type recorder struct {
	mem    *regaccess.Mem
	log    *[]string
	tag    string
	writes []write
}

func (r *recorder) Read(reg uint32) (uint32, error) { return r.mem.Read(reg) }

func (r *recorder) Write(reg, val uint32) error {
	r.writes = append(r.writes, write{reg, val})
	if r.log != nil {
		*r.log = append(*r.log, r.tag)
	}
	return r.mem.Write(reg, val)
}

func device(name string, props map[string]interface{}) (*platform.Device, *recorder) {
	r := &recorder{mem: regaccess.NewMem(0x100), tag: name}
	dev := &platform.Device{BaseName: name, ID: 0}
	if props != nil {
		dev.Fwnode = fwnode.New(name, props)
	}
	dev.SetRegmap(r)
	return dev, r
}

func TestDisabled(t *testing.T) {
	var c Chain
	dev, r := device("msd", map[string]interface{}{
		"reboot-notifier-probe":   []uint32{0x20, 0, 0x5},
		"reboot-notifier-restart": []uint32{0x24, 0xf, 0x3},
	})
	n, err := Register(&c, dev, nil)
	if err != nil || n != nil {
		t.Fatal(n, err)
	}
	if v, _ := r.Read(0x20); v != 5 {
		t.Error("probe update not applied", v)
	}
	if c.Len() != 0 {
		t.Error("disabled notifier registered")
	}
}

func TestNotify(t *testing.T) {
	var c Chain
	dev, r := device("msd", map[string]interface{}{
		"reboot-notifier-enable":  1,
		"reboot-notifier-restart": []uint32{0x24, 0xf0, 0x30},
		"reboot-notifier-halt":    []uint32{0x28, 0, 0x77},
	})
	r.mem.Write(0x24, 0x5a)
	n, err := Register(&c, dev, nil)
	if err != nil || n == nil {
		t.Fatal(n, err)
	}
	c.Notify(PowerOff)
	if len(r.writes) != 0 {
		t.Error("power-off without an action wrote", r.writes)
	}
	c.Notify(Restart)
	if v, _ := r.Read(0x24); v != 0x3a {
		t.Errorf("restart %#x", v)
	}
	if len(r.writes) != 2 || r.writes[0].val != 0x0a {
		t.Errorf("restart writes %#x", r.writes)
	}
	r.writes = nil
	c.Notify(Halt)
	if len(r.writes) != 1 || r.writes[0] != (write{0x28, 0x77}) {
		t.Errorf("halt writes %#x", r.writes)
	}

	s, err := dev.Attrs().Show(GroupName + "/restart")
	if err != nil {
		t.Fatal(err)
	}
	if want := "r=0x24; m=0xf0; v=0x30 (0x30); cur=0x3a (0x30)"; s != want {
		t.Errorf("show %q", s)
	}
	if _, err = dev.Attrs().Show(GroupName + "/power-off"); !errors.Is(err,
		ErrInvalid) {
		t.Error("power-off show", err)
	}
	err = dev.Attrs().Store(GroupName+"/halt", "r=0x2c; m=0; v=1")
	if err != nil {
		t.Fatal(err)
	}
	if a, _ := n.Action(Halt); a != (Action{0x2c, 0, 1}) {
		t.Error(a)
	}
	if err = dev.Attrs().Store(GroupName+"/halt", "0x2c 0 1"); err == nil {
		t.Error("bad store accepted")
	}
}

func TestPriority(t *testing.T) {
	var c Chain
	var order []string
	for _, x := range []struct {
		name     string
		priority int
	}{
		{"low", 1},
		{"high", 100},
		{"mid", 50},
	} {
		dev, r := device(x.name, map[string]interface{}{
			"reboot-notifier-enable":   1,
			"reboot-notifier-priority": x.priority,
			"reboot-notifier-restart":  []uint32{0x10, 0, 1},
		})
		r.log = &order
		if _, err := Register(&c, dev, nil); err != nil {
			t.Fatal(err)
		}
	}
	c.Notify(Restart)
	if len(order) != 3 || order[0] != "high" || order[1] != "mid" ||
		order[2] != "low" {
		t.Error(order)
	}
}

func TestDefaults(t *testing.T) {
	var c Chain
	dev, r := device("xil", nil)
	info := DefaultInfo
	info.Enable = true
	info.PowerOff = Action{Reg: 0x30, Value: 9}
	n, err := Register(&c, dev, &info)
	if err != nil || n == nil {
		t.Fatal(n, err)
	}
	c.Notify(PowerOff)
	if v, _ := r.Read(0x30); v != 9 {
		t.Error(v)
	}
	if _, err = Register(&c, &platform.Device{BaseName: "orphan"},
		nil); !errors.Is(err, ErrInvalid) {
		t.Error("no regmap", err)
	}
}

func TestParseMode(t *testing.T) {
	for _, mode := range []Mode{Restart, Halt, PowerOff} {
		if m, err := ParseMode(mode.String()); err != nil || m != mode {
			t.Error(mode, m, err)
		}
	}
	if _, err := ParseMode("reset"); err == nil {
		t.Error("reset")
	}
}
