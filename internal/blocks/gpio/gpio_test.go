// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package gpio

import (
	"errors"
	"strings"
	"testing"

	"github.com/platinasystems/ciscofpga/internal/attr"
	"github.com/platinasystems/ciscofpga/internal/blkhdr"
	"github.com/platinasystems/ciscofpga/internal/fwnode"
	"github.com/platinasystems/ciscofpga/internal/mfd"
	"github.com/platinasystems/ciscofpga/internal/platform"
	"github.com/platinasystems/ciscofpga/internal/regaccess"
	gpiolib "github.com/platinasystems/gpio"
)

var descriptors = []string{
	"LED0,0x12,0x10001,0,out,enable,high",
	"PRSNT,0x12,0x20000,1,in,1,any-edge",
	"MISSING,0,0x99900,0",
	"BAD",
	"RST,0,0x30000,0,out,tristate,low",
}

// pin table: a group of two pins, a group of one unsupported pin, a hole
// left by the simulator and an ungrouped pin
var table = map[uint]uint32{
	0: IsGroup.Set(1) | GroupID.Set(0x12) | GroupPinCount.Set(2),
	1: PinID.Set(0x100) | PinInstance.Set(1),
	2: PinID.Set(0x200),
	3: IsGroup.Set(1) | GroupID.Set(0x13) | GroupPinCount.Set(1),
	4: PinID.Set(PinIDUnsupported),
	5: simUninitialized,
	6: PinID.Set(0x300),
}

type fixture struct {
	mem  *regaccess.Mem
	dev  *platform.Device
	chip *Chip
}

func newFixture(t *testing.T, sw1 uint32, props map[string]interface{}, cfg *Config) *fixture {
	t.Helper()
	f := &fixture{mem: regaccess.NewMem(MaxRegister + 1)}
	err := blkhdr.Write(f.mem, 0, blkhdr.Header{
		Maj:   5,
		ID:    37,
		SW1:   sw1,
		Magic: blkhdr.Magic,
	})
	if err != nil {
		t.Fatal(err)
	}
	for pin, v := range table {
		f.mem.Write(IO(pin, IOMem), v)
	}
	parent := &platform.Device{BaseName: "cisco-fpga-bmc", ID: platform.DevIDNone}
	fpga := &mfd.FPGA{Regmap: f.mem}
	parent.SetDrvData(fpga)
	mfd.ParentInit(parent, &fpga.Parent, mfd.WindowRegmap(f.mem))
	f.dev = &platform.Device{
		BaseName: "gpio",
		ID:       platform.DevIDNone,
		Parent:   parent,
		Resources: []platform.Resource{
			{Start: 0, End: MaxRegister, Flags: platform.ResourceMem},
			{Start: 3, End: 3, Flags: platform.ResourceIRQ},
		},
	}
	if props != nil {
		f.dev.Fwnode = fwnode.New("gpio", props)
	}
	f.chip, err = Probe(f.dev, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) read(t *testing.T, reg uint32) uint32 {
	t.Helper()
	v, err := f.mem.Read(reg)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func withDescriptors() map[string]interface{} {
	return map[string]interface{}{
		"gpio-descriptors": descriptors,
		"gpio-chip-label":  "lc-gpio",
	}
}

func TestDescriptors(t *testing.T) {
	f := newFixture(t, 0, withDescriptors(), nil)
	c := f.chip
	if c.RebootType != RebootCold {
		t.Error(c.RebootType)
	}
	if c.NumGPIO() != len(descriptors) || c.Label != "lc-gpio" {
		t.Fatal(c.NumGPIO(), c.Label)
	}
	want := []uint16{1, 2, MaxGPIOs, MaxGPIOs, 6}
	for i, pin := range want {
		if c.off[i] != pin {
			t.Errorf("offset %d: pin %d", i, c.off[i])
		}
	}
	for pin, v := range map[uint]uint32{
		1: Dir.Set(DirOutput) | OutState.Set(1),
		2: IntType.Set(IntAnyEdge) | IntEnb.Set(1),
		6: Dir.Set(DirOutput) | DisOutput.Set(OutputTristate),
	} {
		if got := f.read(t, IO(pin, CfgStat)); got != v {
			t.Errorf("pin %d cfg_stat %#x, want %#x", pin, got, v)
		}
	}
	for name, want := range map[string]gpiolib.Pin{
		"LED0":  gpiolib.IsOutputHi,
		"PRSNT": 1,
		"RST":   gpiolib.IsOutputLo | 4,
	} {
		if p, found := c.Pin(name); !found || p != want {
			t.Errorf("%s: %v %v", name, p, found)
		}
	}
	if _, found := c.Pin("MISSING"); found {
		t.Error("unmatched descriptor has a pin")
	}
	if c.Name(2) != "MISSING" || c.Name(3) != "" {
		t.Errorf("%q %q", c.Name(2), c.Name(3))
	}
	if v, err := f.dev.Attrs().Show("info/block_id"); err != nil || v != "37" {
		t.Error(v, err)
	}
	if v, err := f.dev.Attrs().Show("reboot_type"); err != nil ||
		v != "cold-reboot" {
		t.Error(v, err)
	}
}

func TestWarmReboot(t *testing.T) {
	f := newFixture(t, 0x4|uint32(RebootWarm), withDescriptors(), nil)
	if f.chip.RebootType != RebootWarm {
		t.Error(f.chip.RebootType)
	}
	if v := f.read(t, blkhdr.RegSW1); v != 0x4 {
		t.Errorf("sw1 %#x", v)
	}
	if v := f.read(t, IO(1, CfgStat)); v != 0 {
		t.Errorf("pin initialized on warm reboot: %#x", v)
	}
	if _, found := f.chip.Pin("LED0"); !found {
		t.Error("LED0 not mapped")
	}
}

func TestConfigRebootType(t *testing.T) {
	f := newFixture(t, uint32(RebootWarm), nil, &Config{RebootType: RebootFast})
	if f.chip.RebootType != RebootFast {
		t.Error(f.chip.RebootType)
	}
	if v := f.read(t, blkhdr.RegSW1); v != 0 {
		t.Errorf("sw1 %#x", v)
	}
	if f.chip.NumGPIO() != MaxGPIOs || f.chip.Label != "gpio" {
		t.Error(f.chip.NumGPIO(), f.chip.Label)
	}
	if f.chip.off[100] != 100 {
		t.Error(f.chip.off[100])
	}
}

func TestPins(t *testing.T) {
	f := newFixture(t, 0, withDescriptors(), nil)
	c := f.chip
	if v, err := c.Get(0); err != nil || !v {
		t.Error(v, err)
	}
	if err := c.Set(0, false); err != nil {
		t.Fatal(err)
	}
	if v := f.read(t, IO(1, IOClr)); v != OutState.Mask() {
		t.Errorf("clr %#x", v)
	}
	if out, err := c.IsOutput(1); err != nil || out {
		t.Error(out, err)
	}
	if err := c.DirectionOutput(1, true); err != nil {
		t.Fatal(err)
	}
	v := f.read(t, IO(2, CfgStat))
	if Dir.Get(v) != DirOutput || OutState.Get(v) != 1 ||
		DisOutput.Get(v) != OutputEnable {
		t.Errorf("cfg_stat %#x", v)
	}
	if err := c.DirectionInput(1); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(2); !errors.Is(err, regaccess.ErrInvalid) {
		t.Error("unmapped offset", err)
	}
	if _, err := c.Get(9); !errors.Is(err, regaccess.ErrInvalid) {
		t.Error("offset out of range", err)
	}
	if err := c.SetDrive(0, OpenDrain); err != nil {
		t.Fatal(err)
	}
	if v := f.read(t, IO(1, CfgStat)); DisOutput.Get(v) != OutputTristate {
		t.Errorf("cfg_stat %#x", v)
	}
	if err := c.SetDrive(0, 7); !errors.Is(err, ErrNotSupported) {
		t.Error(err)
	}
}

func TestIRQ(t *testing.T) {
	f := newFixture(t, 0, withDescriptors(), nil)
	c := f.chip
	if err := c.SetIRQType(1, IntLevelLow); err != nil {
		t.Fatal(err)
	}
	if err := c.UnmaskIRQ(1); err != nil {
		t.Fatal(err)
	}
	v := f.read(t, IO(2, CfgStat))
	if IntType.Get(v) != IntLevelLow || IntMSI.Get(v) != 3 ||
		IntEnb.Get(v) != 1 {
		t.Errorf("cfg_stat %#x", v)
	}
	if err := c.SetIRQType(1, 6); !errors.Is(err, regaccess.ErrInvalid) {
		t.Error(err)
	}
	f.mem.Write(IO(2, CfgStat), v|IntState.Mask())
	pending := c.HandleIRQ()
	if len(pending) != 1 || pending[0] != 1 {
		t.Fatal(pending)
	}
	if v := f.read(t, IO(2, IOClr)); v != IntState.Mask() {
		t.Errorf("clr %#x", v)
	}
	if err := c.MaskIRQ(1); err != nil {
		t.Fatal(err)
	}
	if v := f.read(t, IO(2, CfgStat)); IntEnb.Get(v) != 0 {
		t.Errorf("cfg_stat %#x", v)
	}
}

func TestConfigStore(t *testing.T) {
	f := newFixture(t, 0, withDescriptors(), nil)
	attrs := f.dev.Attrs()
	err := attrs.Store("config", "index: 4, dir: input,\n name: RESET")
	if err != nil {
		t.Fatal(err)
	}
	if v := f.read(t, IO(6, CfgStat)); v != DisOutput.Set(OutputTristate) {
		t.Errorf("cfg_stat %#x", v)
	}
	if v := f.read(t, IO(6, IOClr)); v != IntEnb.Mask()|IntState.Mask() {
		t.Errorf("clr %#x", v)
	}
	if p, found := f.chip.Pin("RESET"); !found || p != gpiolib.IsOutputLo|4 {
		t.Error(p, found)
	}
	if _, found := f.chip.Pin("RST"); found {
		t.Error("old name still mapped")
	}
	err = attrs.Store("config", "index: 0, pin_id: 0x100, pin_instance: 1, intMSI: 2")
	if err != nil {
		t.Fatal(err)
	}
	if v := f.read(t, IO(1, CfgStat)); IntMSI.Get(v) != 2 {
		t.Errorf("cfg_stat %#x", v)
	}
	for _, bad := range []string{
		"dir: output",
		"index: 0, index: 1",
		"index: 0, group: 0x12",
		"index: 0, pin_id: 0x101",
		"index: 0, intMSI: 16",
		"index: 9",
		"index: 0, color: red",
		"index: 0, dir: sideways",
		"index: 0, name: two words",
	} {
		if err := attrs.Store("config", bad); !errors.Is(err, attr.ErrInvalid) {
			t.Errorf("%q: %v", bad, err)
		}
	}
}

func TestStrobe(t *testing.T) {
	f := newFixture(t, 0, withDescriptors(), nil)
	attrs := f.dev.Attrs()
	if err := attrs.Store("set", "index: 0\n"); err != nil {
		t.Fatal(err)
	}
	if v := f.read(t, IO(1, IOSet)); v != OutState.Mask() {
		t.Errorf("set %#x", v)
	}
	if err := attrs.Store("clear", "index:4"); err != nil {
		t.Fatal(err)
	}
	if v := f.read(t, IO(6, IOClr)); v != OutState.Mask() {
		t.Errorf("clr %#x", v)
	}
	for _, bad := range []string{"index: 1", "index: 5", "0"} {
		if err := attrs.Store("set", bad); err == nil {
			t.Error(bad, "accepted")
		}
	}
	if _, err := attrs.Show("set"); !errors.Is(err, ErrWriteOnly) {
		t.Error(err)
	}
}

func TestDump(t *testing.T) {
	f := newFixture(t, 0, withDescriptors(), nil)
	s, err := f.dev.Attrs().Show("config")
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("%q", s)
	}
	want := "- {index: 0, offset: 1, name: LED0, dir: output, output: enable, " +
		"state: high, intEnb: disable, intType: disable, intData: 0x0, " +
		"intMSI: 0, intPending: 0, fitSel: disable, trigger: clear-fault, " +
		"pin_id: 0x100, pin_instance: 0x1}"
	if lines[0] != want {
		t.Errorf("%q", lines[0])
	}
	if !strings.Contains(lines[1], "name: PRSNT, dir: input, state: low, intEnb: enable, intType: any-edge") {
		t.Errorf("%q", lines[1])
	}
}

func TestParseDescriptor(t *testing.T) {
	d, warnings, err := ParseDescriptor("FAN,1,0x200,1,out,push,high")
	if err != nil {
		t.Fatal(err)
	}
	if !d.ActiveLow || !d.Tristate || !d.High || len(warnings) != 1 {
		t.Error(d, warnings)
	}
	d, warnings, err = ParseDescriptor("INT,1,2,0,in,0,level-middle")
	if err != nil || d.IntType != IntDisabled || len(warnings) != 1 {
		t.Error(d, warnings, err)
	}
	for _, bad := range []string{"X,1,2", "X,a,2,0", "X,1,2,0,in,x,any-edge"} {
		if _, _, err := ParseDescriptor(bad); !errors.Is(err, regaccess.ErrInvalid) {
			t.Error(bad, err)
		}
	}
	if rt, err := ParseRebootType("warm"); err != nil || rt != RebootWarm {
		t.Error(rt, err)
	}
	if _, err := ParseRebootType("4"); err == nil {
		t.Error("reboot type 4 accepted")
	}
}
