// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package machine binds the block drivers of a machine's FPGAs on one
// platform bus and presents their attributes as flat "device.attr" keys.
package machine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/platinasystems/ciscofpga/internal/blkhdr"
	"github.com/platinasystems/ciscofpga/internal/blocks/gpio"
	"github.com/platinasystems/ciscofpga/internal/blocks/info"
	"github.com/platinasystems/ciscofpga/internal/blocks/msd"
	"github.com/platinasystems/ciscofpga/internal/blocks/pseq"
	"github.com/platinasystems/ciscofpga/internal/fpgai2c"
	"github.com/platinasystems/ciscofpga/internal/fwnode"
	"github.com/platinasystems/ciscofpga/internal/mfd"
	"github.com/platinasystems/ciscofpga/internal/platform"
	"github.com/platinasystems/ciscofpga/internal/reboot"
	"github.com/platinasystems/ciscofpga/internal/regaccess"
	"github.com/platinasystems/log"
	"golang.org/x/sync/errgroup"
)

// ParentName is the base name of each FPGA's parent device.
const ParentName = "cisco-fpga-mfd"

var ErrKey = errors.New("key must be DEVICE.ATTRIBUTE")

// Machine owns the platform bus of every configured FPGA.
type Machine struct {
	Bus   *platform.Bus
	Chain *reboot.Chain
	Core  *fpgai2c.Core

	// Retry paces the reprobing of deferred devices.
	Retry backoff.Backoff
	// Tries bounds the reprobing passes of Probe.
	Tries int

	cfg     *Config
	fw      fwnode.Node
	mutex   sync.Mutex
	parents []*platform.Device
	closers []io.Closer
}

// New registers the block drivers. fw, if not nil, is the firmware
// description holding each FPGA's node.
func New(cfg *Config, fw fwnode.Node) (*Machine, error) {
	if cfg == nil {
		cfg = new(Config)
	}
	gcfg := &gpio.Config{Debug: cfg.Debug}
	if len(cfg.RebootType) > 0 {
		t, err := gpio.ParseRebootType(cfg.RebootType)
		if err != nil {
			return nil, fmt.Errorf("reboot-type: %v", err)
		}
		gcfg.RebootType = t
	}
	m := &Machine{
		Bus:   platform.NewBus(),
		Chain: new(reboot.Chain),
		Core:  fpgai2c.NewCore(),
		Retry: backoff.Backoff{
			Min:    50 * time.Millisecond,
			Max:    2 * time.Second,
			Factor: 2,
		},
		Tries: 8,
		cfg:   cfg,
		fw:    fw,
	}
	for _, drv := range []*platform.Driver{
		info.Driver(),
		msd.MSD.Driver(m.Chain),
		msd.XIL.Driver(m.Chain),
		pseq.Driver(m.Chain),
		gpio.Driver(gcfg),
		fpgai2c.SMBDriver(m.Core),
		fpgai2c.ExtDriver(m.Core),
		mfd.Driver(ParentName, &cfg.MFD),
	} {
		m.Bus.RegisterDriver(drv)
	}
	return m, nil
}

type opened struct {
	regmap regaccess.Regmap
	closer io.Closer
	header blkhdr.Header
}

// Probe opens every FPGA concurrently, then registers each as a parent
// device and reprobes deferred blocks until they bind or Tries runs out.
// An FPGA that can't be opened fails the whole probe.
func (m *Machine) Probe(ctx context.Context) error {
	srcs := make([]Source, len(m.cfg.FPGAs))
	for i, f := range m.cfg.FPGAs {
		src, err := ParseSource(f.Source)
		if err != nil {
			return err
		}
		srcs[i] = src
	}
	fpgas := make([]opened, len(srcs))
	g, gctx := errgroup.WithContext(ctx)
	for i := range srcs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rm, c, err := srcs[i].Open()
			if err != nil {
				return fmt.Errorf("%s: %v", m.cfg.FPGAs[i].Name, err)
			}
			h, err := blkhdr.Read(rm, 0)
			if err != nil {
				c.Close()
				return fmt.Errorf("%s: %v", m.cfg.FPGAs[i].Name, err)
			}
			fpgas[i] = opened{regmap: rm, closer: c, header: h}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, o := range fpgas {
			if o.closer != nil {
				o.closer.Close()
			}
		}
		return err
	}
	for i, o := range fpgas {
		if err := m.attach(i, o); err != nil {
			return err
		}
	}
	return m.settle(ctx)
}

func (m *Machine) attach(i int, o opened) error {
	f := m.cfg.FPGAs[i]
	m.mutex.Lock()
	m.closers = append(m.closers, o.closer)
	m.mutex.Unlock()
	var node fwnode.Node
	if m.fw != nil && len(f.Node) > 0 {
		n, err := fwnode.Lookup(m.fw, f.Node)
		if err != nil {
			return fmt.Errorf("%s: %s: %v", f.Name, f.Node, err)
		}
		node = n
	}
	dev := &platform.Device{
		BaseName:     ParentName,
		ID:           i,
		Fwnode:       node,
		PlatformData: o.regmap,
	}
	if err := m.Bus.Register(dev); err != nil {
		return err
	}
	m.mutex.Lock()
	m.parents = append(m.parents, dev)
	m.mutex.Unlock()
	if _, ok := dev.DrvData().(*mfd.FPGA); !ok {
		return fmt.Errorf("%s: %s: %w", f.Name, dev.Name(),
			platform.ErrNoDevice)
	}
	log.Printf("info", "%s: %s: %s at %s", f.Name, dev.Name(), o.header,
		f.Source)
	return nil
}

// settle reprobes deferred devices with backoff.
func (m *Machine) settle(ctx context.Context) error {
	m.Retry.Reset()
	for try := 0; try < m.Tries; try++ {
		n := m.Bus.ProbeDeferred()
		if n == 0 {
			return nil
		}
		t := time.NewTimer(m.Retry.Duration())
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	for _, dev := range m.Bus.Deferred() {
		log.Print("warn", dev.Name(), ": probe still deferred")
	}
	return nil
}

// FPGAs returns the attached FPGAs in configuration order.
func (m *Machine) FPGAs() []*mfd.FPGA {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	var l []*mfd.FPGA
	for _, dev := range m.parents {
		if fpga, ok := dev.DrvData().(*mfd.FPGA); ok {
			l = append(l, fpga)
		}
	}
	return l
}

// Close unregisters the FPGAs, children first, and closes their sources.
func (m *Machine) Close() error {
	m.mutex.Lock()
	parents, closers := m.parents, m.closers
	m.parents, m.closers = nil, nil
	m.mutex.Unlock()
	// releasing a parent removes its children
	for i := len(parents) - 1; i >= 0; i-- {
		m.Bus.Unregister(parents[i])
	}
	var first error
	for _, c := range closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Keys lists "device.attr" for every attribute of every bound device.
func (m *Machine) Keys() []string {
	var keys []string
	for _, dev := range m.Bus.Devices() {
		for _, path := range dev.Attrs().Paths() {
			keys = append(keys, dev.Name()+"."+path)
		}
	}
	sort.Strings(keys)
	return keys
}

// Snapshot shows every readable attribute. Attributes failing to show are
// left out.
func (m *Machine) Snapshot() map[string]string {
	snap := make(map[string]string)
	for _, dev := range m.Bus.Devices() {
		set := dev.Attrs()
		for _, path := range set.Paths() {
			s, err := set.Show(path)
			if err != nil {
				continue
			}
			snap[dev.Name()+"."+path] = strings.TrimRight(s, "\n")
		}
	}
	return snap
}

// split "cisco-fpga-i2c.0.auto.arbitration/timeout_msecs" at the device
// name, which may itself hold dots.
func (m *Machine) split(key string) (*platform.Device, string, error) {
	for i := strings.LastIndexByte(key, '.'); i > 0; i = strings.LastIndexByte(key[:i], '.') {
		if dev := m.Bus.FindByName(key[:i]); dev != nil {
			return dev, key[i+1:], nil
		}
	}
	return nil, "", fmt.Errorf("%q: %w", key, ErrKey)
}

func (m *Machine) Show(key string) (string, error) {
	dev, path, err := m.split(key)
	if err != nil {
		return "", err
	}
	defer dev.Put()
	return dev.Attrs().Show(path)
}

func (m *Machine) Store(key, value string) error {
	dev, path, err := m.split(key)
	if err != nil {
		return err
	}
	defer dev.Put()
	return dev.Attrs().Store(path, value)
}
