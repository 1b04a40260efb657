// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package msd

import (
	"errors"
	"strings"
	"testing"

	"github.com/platinasystems/ciscofpga/internal/blkhdr"
	"github.com/platinasystems/ciscofpga/internal/mfd"
	"github.com/platinasystems/ciscofpga/internal/platform"
	"github.com/platinasystems/ciscofpga/internal/reboot"
	"github.com/platinasystems/ciscofpga/internal/regaccess"
)

type fixture struct {
	mem   *regaccess.Mem
	dev   *platform.Device
	chain reboot.Chain
}

func newFixture(t *testing.T, name string, maj uint8, regs map[uint32]uint32) *fixture {
	t.Helper()
	f := &fixture{mem: regaccess.NewMem(MaxRegister + 1)}
	err := blkhdr.Write(f.mem, 0, blkhdr.Header{
		Maj:   maj,
		ID:    39,
		Magic: blkhdr.Magic,
	})
	if err != nil {
		t.Fatal(err)
	}
	for reg, v := range regs {
		f.mem.Write(reg, v)
	}
	parent := &platform.Device{BaseName: "cisco-fpga-bmc", ID: platform.DevIDNone}
	fpga := &mfd.FPGA{Regmap: f.mem}
	parent.SetDrvData(fpga)
	mfd.ParentInit(parent, &fpga.Parent, mfd.WindowRegmap(f.mem))
	f.dev = &platform.Device{
		BaseName: name,
		ID:       platform.DevIDNone,
		Parent:   parent,
		Resources: []platform.Resource{{
			Start: 0,
			End:   MaxRegister,
			Flags: platform.ResourceMem,
		}},
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

func (f *fixture) show(t *testing.T, path string) string {
	t.Helper()
	s, err := f.dev.Attrs().Show(path)
	if err != nil {
		t.Fatal(path, err)
	}
	return s
}

func TestMSDProbe(t *testing.T) {
	f := newFixture(t, "msd", 5, map[uint32]uint32{
		BootMode:  3,
		Cfg5:      0x4ff,
		Cfg7:      0x800,
		Status(0): PlatformID.Set(PlatformDistributed) | FPGAID.Set(0x42),
	})
	a, err := MSD.Probe(f.dev, &f.chain)
	if err != nil {
		t.Fatal(err)
	}
	if !a.Active || a.Version != 5 {
		t.Error(a.Active, a.Version)
	}
	if v := f.read(t, BootMode); v != 0 {
		t.Errorf("boot mode %#x", v)
	}
	if v := f.read(t, Cfg5); v != 0xff {
		t.Errorf("cfg5 %#x", v)
	}
	if f.chain.Len() != 1 {
		t.Fatal("reboot notifier not registered")
	}
	f.chain.Notify(reboot.Restart)
	if v := f.read(t, Cfg7); v != 0xc00 {
		t.Errorf("cfg7 %#x after restart", v)
	}
	for path, want := range map[string]string{
		"platform_type":     "distributed",
		"card_type":         "LC:Kirkwall:Vanguard",
		"fc_ready":          "11111111",
		"cfg5":              "0xff",
		"bios/boot_mode":    "default",
		"chassis/pid":       "",
		"info/block_id":     "39",
		"info/version":      "5.0",
		"uboot/mac_addr":    "",
		"idprom/hw_version": "0.0",
	} {
		if s := f.show(t, path); s != want {
			t.Errorf("%s: %q", path, s)
		}
	}
}

func TestMSDStore(t *testing.T) {
	f := newFixture(t, "msd", 5, nil)
	if _, err := MSD.Probe(f.dev, &f.chain); err != nil {
		t.Fatal(err)
	}
	attrs := f.dev.Attrs()
	for _, x := range []struct{ path, value, show string }{
		{"fc_ready", "10000001", "10000001"},
		{"bios/boot_mode", "USB", "USB"},
		{"bios/running_version", "0x10", "16"},
		{"chassis/pid", "8800-LC-36FH\n", "8800-LC-36FH"},
		{"chassis/hw_version", "2.3", "2.3"},
		{"idprom/hw_version", "7", "7.0"},
		{"cfg3", "0x1234", "0x1234"},
	} {
		if err := attrs.Store(x.path, x.value); err != nil {
			t.Error(x.path, err)
			continue
		}
		if s := f.show(t, x.path); s != x.show {
			t.Errorf("%s: %q", x.path, s)
		}
	}
	if v := f.read(t, Cfg5); v&0xff != 0x81 {
		t.Errorf("cfg5 %#x", v)
	}
	if v := f.read(t, BootMode); v != 2 {
		t.Errorf("boot mode %d", v)
	}
	for _, x := range []struct{ path, value string }{
		{"fc_ready", "1000"},
		{"bios/boot_mode", "floppy"},
		{"chassis/hw_version", "70000.1"},
		{"chassis/serial_number", "0123456789abc"},
		{"status0", "1"},
	} {
		if err := attrs.Store(x.path, x.value); err == nil {
			t.Error(x.path, x.value, "accepted")
		}
	}
	if err := attrs.Store("chassis/hw_version", "1.65536"); !errors.Is(err,
		regaccess.ErrRange) {
		t.Error("hw_version range", err)
	}
}

func TestControl(t *testing.T) {
	f := newFixture(t, "msd", 5, nil)
	if _, err := MSD.Probe(f.dev, &f.chain); err != nil {
		t.Fatal(err)
	}
	want := "power-off\npower-on\ncold-reset\nwarm-reset\npower-cycle"
	if s := f.show(t, "control"); s != want {
		t.Errorf("%q", s)
	}
	if err := f.dev.Attrs().Store("control", "power-cycle"); err != nil {
		t.Fatal(err)
	}
	if v := f.read(t, Cfg7); v != 1<<10 {
		t.Errorf("cfg7 %#x", v)
	}
	err := f.dev.Attrs().Store("control", "power-off")
	if !errors.Is(err, ErrAgain) {
		t.Error("busy control accepted", err)
	}
	if err = f.dev.Attrs().Store("control", "reboot"); err == nil {
		t.Error("unknown control accepted")
	}
}

func TestPassive(t *testing.T) {
	f := newFixture(t, "msd-peer", 5, map[uint32]uint32{BootMode: 1})
	f.dev.PlatformData = uint8(0)
	a, err := MSD.Probe(f.dev, &f.chain)
	if err != nil {
		t.Fatal(err)
	}
	if a.Active {
		t.Error("active")
	}
	if v := f.read(t, BootMode); v != 1 {
		t.Error("boot mode reset by passive driver")
	}
	if f.chain.Len() != 0 {
		t.Error("passive driver registered reboot notifier")
	}
}

func TestVersion4(t *testing.T) {
	f := newFixture(t, "msd", 4, nil)
	if _, err := MSD.Probe(f.dev, &f.chain); err != nil {
		t.Fatal(err)
	}
	if _, err := f.dev.Attrs().Lookup("bios/boot_mode"); err == nil {
		t.Error("v4 has scratch groups")
	}
	if _, err := f.dev.Attrs().Lookup("fc_ready"); err != nil {
		t.Error(err)
	}
	if f.chain.Len() != 0 {
		t.Error("v4 registered reboot notifier")
	}
}

func TestXIL(t *testing.T) {
	f := newFixture(t, "xil", 5, map[uint32]uint32{
		Status(0): PlatformID.Set(PlatformDistributed) | FPGAID.Set(0x61),
		// npu0 done, npu1 done with a spi crc error
		Status(2): 1<<0 | 1<<1 | 1<<5,
		Status(1): BoardType.Set(4) | BoardVer.Set(2),
	})
	a, err := XIL.Probe(f.dev, &f.chain)
	if err != nil {
		t.Fatal(err)
	}
	if a.NPUs != 2 {
		t.Fatal("NPUs", a.NPUs)
	}
	if v := f.read(t, Cfg1); Outshifts.Get(v) != 1 {
		t.Error("outshifts not enabled")
	}
	s, err := a.NPUStatus(0)
	if err != nil || !s.Ready() {
		t.Error(s, err)
	}
	s, err = a.NPUStatus(1)
	if err != nil || s.Ready() || !s.SPIErr || !s.Done {
		t.Error(s, err)
	}
	if _, err = a.NPUStatus(2); !errors.Is(err, regaccess.ErrInvalid) {
		t.Error("NPU2", err)
	}
	for path, want := range map[string]string{
		"NPU1/spi_crc_error": "1",
		"NPU1/init_done":     "1",
		"NPU0/spi_crc_error": "0",
		"card_type":          "FC:Fowlmere",
		"console_source":     "jumper",
		"outshifts_enable":   "1",
		"board_type":         "4: unknown, v2",
	} {
		if s := f.show(t, path); s != want {
			t.Errorf("%s: %q", path, s)
		}
	}
	if err = f.dev.Attrs().Store("console_source", " uxbar "); err != nil {
		t.Fatal(err)
	}
	if v := f.read(t, Cfg1); Console.Get(v) != ConsoleUxbar {
		t.Errorf("cfg1 %#x", v)
	}
	if f.chain.Len() != 1 {
		t.Error("reboot notifier")
	}
}

func TestCardType(t *testing.T) {
	for _, x := range []struct {
		platform, id uint32
		want         string
	}{
		{PlatformFixed, 3, "RP:Fixed [Sherman]"},
		{PlatformFixed, 8, "RP:Fixed [8:unknown]"},
		{PlatformDistributed, 0x60, "FC"},
		{PlatformDistributed, 0x99, "[distributed:153:unknown]"},
		{PlatformCentral, 0x19, "CYCLONUS"},
		{PlatformCentral, 4, "[centralized:4:unknown]"},
		{7, 1, "[unknown:1:unknown]"},
	} {
		v := PlatformID.Set(x.platform) | FPGAID.Set(x.id)
		if s := CardType(v); s != x.want {
			t.Errorf("%d %#x: %q", x.platform, x.id, s)
		}
	}
	if s := PlatformType(PlatformID.Set(9)); s != "9: unknown" {
		t.Error(s)
	}
}

func TestFindNPU(t *testing.T) {
	bus := platform.NewBus()
	for _, name := range []string{"NPUx", "FOO", "LC1XNPU0"} {
		if _, err := FindNPU(bus, name); err == nil {
			t.Error(name, "accepted")
		}
	}
	for _, name := range []string{"FC1NPU0", "NPU", "FC1_NPU"} {
		if _, err := FindNPU(bus, name); !errors.Is(err,
			regaccess.ErrInvalid) {
			t.Error(name, err)
		}
	}
	s, err := FindNPU(bus, "FC1_NPU0")
	if s != nil || err != nil {
		t.Error("without xil:", s, err)
	}

	f := newFixture(t, "xil-fc1", 5, map[uint32]uint32{
		Status(0): PlatformID.Set(PlatformDistributed) | FPGAID.Set(0x61),
		Status(2): 1<<1 | 1<<5,
	})
	if err = bus.Register(f.dev); err != nil {
		t.Fatal(err)
	}
	if _, err = XIL.Probe(f.dev, &f.chain); err != nil {
		t.Fatal(err)
	}
	refs := f.dev.Refs()
	if s, err = FindNPU(bus, "FC1_NPU1"); err != nil || s == nil ||
		!s.Done || !s.SPIErr {
		t.Error("FC1_NPU1", s, err)
	}
	if s, err = FindNPU(bus, "FC1_NPU0"); err != nil || s == nil || s.Done {
		t.Error("FC1_NPU0", s, err)
	}
	if _, err = FindNPU(bus, "FC1_NPU2"); !errors.Is(err,
		regaccess.ErrInvalid) {
		t.Error("FC1_NPU2", err)
	}
	if s, err = FindNPU(bus, "FC2_NPU0"); s != nil || err != nil {
		t.Error("FC2_NPU0", s, err)
	}
	if f.dev.Refs() != refs {
		t.Error("leaked a reference", f.dev.Refs(), refs)
	}
}

func TestDump(t *testing.T) {
	f := newFixture(t, "msd", 5, map[uint32]uint32{Cfg5: 7})
	regs, err := Dump(f.mem)
	if err != nil {
		t.Fatal(err)
	}
	if regs[Cfg5] != 7 {
		t.Error(regs[Cfg5])
	}
	if _, found := regs[RegDRPAddr]; found {
		t.Error("precious register dumped")
	}
	if !strings.HasPrefix(FormatHWVersion(0x20003), "2.3") {
		t.Error(FormatHWVersion(0x20003))
	}
}
