// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package machine

import (
	"context"
	"errors"
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/jpillora/backoff"
	"github.com/platinasystems/ciscofpga/internal/attr"
	"github.com/platinasystems/ciscofpga/internal/blkhdr"
	"github.com/platinasystems/ciscofpga/internal/mfd"
	"github.com/platinasystems/ciscofpga/internal/platform"
)

func TestParseSource(t *testing.T) {
	for _, x := range []struct {
		s    string
		want Source
	}{
		{"pci:0000:05:00.0", Source{Kind: PCI, Path: "0000:05:00.0"}},
		{"pci:0000:05:00.0/2", Source{Kind: PCI, Path: "0000:05:00.0", Bar: 2}},
		{"i2c:3:0x40", Source{Kind: I2C, Bus: 3, Addr: 0x40}},
		{"file:/tmp/x.bin", Source{Kind: File, Path: "/tmp/x.bin"}},
		{"/tmp/y.bin", Source{Kind: File, Path: "/tmp/y.bin"}},
		{"c:/fpga.bin", Source{Kind: File, Path: "c:/fpga.bin"}},
	} {
		src, err := ParseSource(x.s)
		if err != nil {
			t.Errorf("%q: %v", x.s, err)
			continue
		}
		if src != x.want {
			t.Errorf("%q: got %+v, want %+v", x.s, src, x.want)
		}
	}
	for _, s := range []string{"", "pci:", "pci:05:00.0", "pci:0000:05:00.0/9",
		"i2c:3", "i2c:x:0x40", "i2c:3:0x800"} {
		if _, err := ParseSource(s); !errors.Is(err, ErrSource) {
			t.Errorf("%q: %v", s, err)
		}
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
reboot-type: warm
mfd:
  debug: 4
fpgas:
- source: i2c:1:0x40
- name: iofpga
  source: pci:0000:05:00.0
  node: /iofpga
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RebootType != "warm" || cfg.MFD.Debug != 4 || len(cfg.FPGAs) != 2 {
		t.Fatalf("%+v", cfg)
	}
	if cfg.FPGAs[0].Name != "fpga0" || cfg.FPGAs[1].Node != "/iofpga" {
		t.Errorf("%+v", cfg.FPGAs)
	}
	if _, err = ParseConfig([]byte("fpgas:\n- source: i2c:1\n")); err == nil {
		t.Error("accepted bad source")
	}
	if _, err = New(&Config{RebootType: "lukewarm"}, nil); err == nil {
		t.Error("accepted bad reboot type")
	}
}

func imageFile(t *testing.T) string {
	img := &blkhdr.Image{
		Info:     blkhdr.InfoROM{Header: blkhdr.Header{Maj: 6}},
		InfoSize: 0x300,
		Blocks: []blkhdr.Block{
			{Header: blkhdr.Header{ID: 37, Maj: 1, MinorVer: 1}, Size: 0x8000},
			blkhdr.Tail(),
		},
	}
	b, err := img.Build()
	if err != nil {
		t.Fatal(err)
	}
	fn := filepath.Join(t.TempDir(), "fpga.bin")
	if err = ioutil.WriteFile(fn, b, 0644); err != nil {
		t.Fatal(err)
	}
	return fn
}

func TestProbe(t *testing.T) {
	cfg := &Config{
		MFD:   mfd.Config{Filter: mfd.FilterRegmap},
		FPGAs: []FPGA{{Name: "sim", Source: "file:" + imageFile(t)}},
	}
	m, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	if err = m.Probe(context.Background()); err != nil {
		t.Fatal(err)
	}
	fpgas := m.FPGAs()
	if len(fpgas) != 1 || len(fpgas[0].Devices) != 1 {
		t.Fatal(fpgas)
	}
	gpio := fpgas[0].Devices[0].Name()
	if gpio != "gpio.0.auto" {
		t.Fatal(gpio)
	}
	keys := make(map[string]bool)
	for _, k := range m.Keys() {
		keys[k] = true
	}
	for _, k := range []string{"gpio.0.auto.label", "gpio.0.auto.info/block_id",
		"gpio.0.auto.info/scratch"} {
		if !keys[k] {
			t.Error("missing", k)
		}
	}
	if s, err := m.Show("gpio.0.auto.info/block_id"); err != nil || s != "37" {
		t.Error(s, err)
	}
	if s, err := m.Show("gpio.0.auto.label"); err != nil || s != gpio {
		t.Error(s, err)
	}
	if err = m.Store("gpio.0.auto.label", "x"); !errors.Is(err, attr.ErrReadOnly) {
		t.Error(err)
	}
	if _, err = m.Show("nosuch.label"); !errors.Is(err, ErrKey) {
		t.Error(err)
	}
}

func TestProbeMissing(t *testing.T) {
	cfg := &Config{
		FPGAs: []FPGA{{Name: "gone",
			Source: filepath.Join(t.TempDir(), "missing.bin")}},
	}
	m, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err = m.Probe(context.Background()); err == nil {
		t.Error("probed a missing image")
	}
	if len(m.FPGAs()) != 0 {
		t.Error("attached", m.FPGAs())
	}
}

func TestDeferredSettle(t *testing.T) {
	m, err := New(&Config{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	m.Tries = 3
	m.Retry = backoff.Backoff{Min: time.Millisecond, Max: time.Millisecond}
	tries := 0
	m.Bus.RegisterDriver(&platform.Driver{
		Name: "late",
		Probe: func(*platform.Device) error {
			tries++
			return platform.ErrProbeDefer
		},
	})
	if err = m.Bus.Register(&platform.Device{
		BaseName: "late",
		ID:       platform.DevIDNone,
	}); err != nil {
		t.Fatal(err)
	}
	if err = m.Probe(context.Background()); err != nil {
		t.Fatal("deferred device failed the machine:", err)
	}
	if n := len(m.Bus.Deferred()); n != 1 {
		t.Error("deferred", n)
	}
	if tries < 2 {
		t.Error("not retried", tries)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err = m.Probe(ctx); !errors.Is(err, context.Canceled) {
		t.Error(err)
	}
}
