// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package gpio drives the FPGA's gpio block: up to 1022 pins, each with a
// cfg/stat word, set and clear strobes, interrupt data and a pin table
// entry naming the board signal wired to it.
package gpio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/platinasystems/ciscofpga/internal/blkhdr"
	"github.com/platinasystems/ciscofpga/internal/blocks/hdrattr"
	"github.com/platinasystems/ciscofpga/internal/fwnode"
	"github.com/platinasystems/ciscofpga/internal/mfd"
	"github.com/platinasystems/ciscofpga/internal/platform"
	"github.com/platinasystems/ciscofpga/internal/regaccess"
	gpiolib "github.com/platinasystems/gpio"
	"github.com/platinasystems/log"
)

const (
	Name    = "cisco-fpga-gpio"
	Version = "1.1"
)

var ErrNotSupported = errors.New("operation not supported")

var IDs = platform.IDTable(nil).
	Add(platform.IDActive, "gpio-rp").
	Add(0, "gpio-lc").
	Add(platform.IDActive, platform.Seq("gpio-fc%d", 0, 7)...).
	Add(platform.IDActive, "gpio-ft", "gpio").
	Add(platform.IDActive, platform.Seq("gpio-pim%d", 1, 8)...)

type Config struct {
	// RebootType, when set, overrides the type left in the block's
	// scratch register.
	RebootType RebootType
	Debug      bool
}

// Chip is the driver data of a bound gpio block. Offsets are the chip's
// logical pin numbers, one per gpio descriptor, mapped to the block's
// physical pins.
type Chip struct {
	Label      string
	RebootType RebootType

	dev   *platform.Device
	m     regaccess.Regmap
	irq   int
	debug bool

	mutex sync.Mutex
	off   []uint16
	names []string
	pins  gpiolib.PinMap
}

func Driver(cfg *Config) *platform.Driver {
	return &platform.Driver{
		Name: Name,
		IDs:  IDs,
		Probe: func(dev *platform.Device) error {
			_, err := Probe(dev, cfg)
			return err
		},
	}
}

func Probe(dev *platform.Device, cfg *Config) (*Chip, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	var desc []string
	haveDescs := false
	if dev.Fwnode != nil {
		desc, haveDescs = dev.Fwnode.PropStrings("gpio-descriptors")
	}
	ngpio := MaxGPIOs
	if haveDescs {
		ngpio = len(desc)
		if ngpio > MaxGPIOs {
			log.Printf("warn", "%s: too many entries (%d > %d) in gpio-descriptors",
				dev.Name(), ngpio, MaxGPIOs)
			ngpio = MaxGPIOs
			desc = desc[:ngpio]
		}
	}
	m, err := mfd.Init(dev, regaccess.Default(dev.Name(), MaxRegister))
	if err != nil {
		log.Print("err", dev.Name(),
			": failed to instantiate regmap; ", err)
		return nil, err
	}
	c := &Chip{
		dev:   dev,
		m:     m,
		irq:   -1,
		debug: cfg.Debug,
		off:   make([]uint16, ngpio),
		names: make([]string, ngpio),
		pins:  make(gpiolib.PinMap),
	}
	dev.SetDrvData(c)

	c.RebootType = cfg.RebootType
	if c.RebootType >= maxRebootType {
		c.RebootType = RebootUnset
	}
	if c.RebootType == RebootUnset {
		sw1, err := m.Read(blkhdr.RegSW1)
		if err != nil {
			log.Print("err", dev.Name(),
				": failed to get reboot type; ", err)
		} else {
			c.RebootType = RebootType(sw1 & RebootTypeMask)
		}
	}
	if c.RebootType == RebootUnset {
		c.RebootType = RebootCold
	}
	c.infof("reboot type %s", c.RebootType)
	err = regaccess.UpdateBits(m, blkhdr.RegSW1, RebootTypeMask, 0)
	if err != nil {
		log.Print("warn", dev.Name(), ": failed to clear scratch; ", err)
	}

	if irq, err := dev.IRQ(0); err == nil {
		c.irq = irq
	}

	if haveDescs {
		if err = c.init(desc); err != nil {
			log.Print("err", dev.Name(), ": gpio init failed; ", err)
			return nil, err
		}
	} else {
		for i := range c.off {
			c.off[i] = uint16(i)
		}
	}
	c.Label = fwnode.String(dev.Fwnode, "gpio-chip-label", dev.Name())

	if err = m.Write(RegCfg0, 0); err != nil {
		return nil, err
	}
	dev.AddGroups(c.Group(), hdrattr.Group(dev))
	log.Printf("info", "%s: %s %s (%s)", dev.Name(), Name, Version,
		c.RebootType)
	return c, nil
}

func (c *Chip) infof(format string, args ...interface{}) {
	if c.debug {
		log.Print("info", c.dev.Name(), ": ", fmt.Sprintf(format, args...))
	}
}

func (c *Chip) warnf(format string, args ...interface{}) {
	if c.debug {
		log.Print("warn", c.dev.Name(), ": ", fmt.Sprintf(format, args...))
	}
}

// NumGPIO is the number of logical pins.
func (c *Chip) NumGPIO() int { return len(c.off) }

// Name of the pin at offset, empty if unnamed.
func (c *Chip) Name(offset int) string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if offset < 0 || offset >= len(c.names) {
		return ""
	}
	return c.names[offset]
}

// Pin returns the encoding of the named pin: its offset and, for pins
// initialized as outputs, the initial level.
func (c *Chip) Pin(name string) (gpiolib.Pin, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	p, found := c.pins[name]
	return p, found
}

// Pins returns a copy of the named pin map.
func (c *Chip) Pins() gpiolib.PinMap {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	pins := make(gpiolib.PinMap, len(c.pins))
	for name, p := range c.pins {
		pins[name] = p
	}
	return pins
}

func (c *Chip) setName(offset int, name string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if old := c.names[offset]; len(old) > 0 {
		if p, found := c.pins[old]; found {
			delete(c.pins, old)
			c.pins[name] = p
		}
	}
	c.names[offset] = name
}

// io returns the physical pin of offset.
func (c *Chip) io(offset int) (uint, error) {
	if offset < 0 || offset >= len(c.off) {
		return 0, fmt.Errorf("%s: offset %d: %w", c.dev.Name(), offset,
			regaccess.ErrInvalid)
	}
	pin := uint(c.off[offset])
	if pin >= MaxGPIOs {
		return 0, fmt.Errorf("%s: offset %d: unmapped: %w",
			c.dev.Name(), offset, regaccess.ErrInvalid)
	}
	return pin, nil
}

func (c *Chip) read(reg uint32) (uint32, error) {
	v, err := c.m.Read(reg)
	if err != nil {
		log.Printf("err", "%s: read(%#x) failed; %v", c.dev.Name(), reg, err)
	}
	return v, err
}

func (c *Chip) write(reg, v uint32) error {
	err := c.m.Write(reg, v)
	if err != nil {
		log.Printf("err", "%s: write(%#x) failed; %v", c.dev.Name(), reg, err)
	}
	return err
}

func (c *Chip) cfgStat(offset int) (uint32, uint32, error) {
	pin, err := c.io(offset)
	if err != nil {
		return 0, 0, err
	}
	reg := IO(pin, CfgStat)
	v, err := c.read(reg)
	return reg, v, err
}

// Get returns the input level of an input pin or the driven level of an
// output.
func (c *Chip) Get(offset int) (bool, error) {
	_, v, err := c.cfgStat(offset)
	if err != nil {
		return false, err
	}
	if Dir.Get(v) == DirInput {
		return InState.Get(v) != 0, nil
	}
	return OutState.Get(v) != 0, nil
}

// Set strobes the output level of offset.
func (c *Chip) Set(offset int, value bool) error {
	pin, err := c.io(offset)
	if err != nil {
		return err
	}
	if value {
		return c.write(IO(pin, IOSet), OutState.Set(1))
	}
	return c.write(IO(pin, IOClr), OutState.Set(1))
}

// IsOutput reports the direction of offset.
func (c *Chip) IsOutput(offset int) (bool, error) {
	_, v, err := c.cfgStat(offset)
	if err != nil {
		return false, err
	}
	return Dir.Get(v) == DirOutput, nil
}

// DirectionInput makes offset an input. Pins wired as outputs may refuse
// the change; they still read back the driven level, so that isn't an
// error.
func (c *Chip) DirectionInput(offset int) error {
	reg, v, err := c.cfgStat(offset)
	if err != nil {
		return err
	}
	if err = c.write(reg, Dir.Replace(v, DirInput)); err != nil {
		return err
	}
	_, err = c.read(reg)
	return err
}

// DirectionOutput makes offset an output driving value.
func (c *Chip) DirectionOutput(offset int, value bool) error {
	reg, v, err := c.cfgStat(offset)
	if err != nil {
		return err
	}
	v = Dir.Replace(v, DirOutput)
	v = OutState.Replace(v, b2u(value))
	v = DisOutput.Replace(v, OutputEnable)
	v = InState.Replace(v, 0)
	if err = c.write(reg, v); err != nil {
		return err
	}
	if v, err = c.read(reg); err != nil {
		return err
	}
	if Dir.Get(v) != DirOutput {
		log.Printf("warn", "%s: direction_output: offset %d; value %t fails",
			c.dev.Name(), offset, value)
		return fmt.Errorf("%s: offset %d is input only: %w",
			c.dev.Name(), offset, regaccess.ErrInvalid)
	}
	return nil
}

// Drive modes of SetDrive.
const (
	PushPull = iota
	OpenDrain
)

func (c *Chip) SetDrive(offset int, mode int) error {
	reg, v, err := c.cfgStat(offset)
	if err != nil {
		return err
	}
	switch mode {
	case PushPull:
		v = DisOutput.Replace(v, OutputEnable)
	case OpenDrain:
		v = DisOutput.Replace(v, OutputTristate)
	default:
		return ErrNotSupported
	}
	return c.write(reg, v)
}

// SetIRQType routes the pin's interrupt to the block's irq with one of the
// Int* types.
func (c *Chip) SetIRQType(offset int, typ uint32) error {
	if typ > IntAnyEdge {
		return fmt.Errorf("%s: irq type %d: %w", c.dev.Name(), typ,
			regaccess.ErrInvalid)
	}
	reg, v, err := c.cfgStat(offset)
	if err != nil {
		return err
	}
	if c.irq >= 0 {
		v = IntMSI.Replace(v, uint32(c.irq))
	}
	return c.write(reg, IntType.Replace(v, typ))
}

func (c *Chip) MaskIRQ(offset int) error { return c.enableIRQ(offset, false) }

func (c *Chip) UnmaskIRQ(offset int) error { return c.enableIRQ(offset, true) }

func (c *Chip) enableIRQ(offset int, enable bool) error {
	reg, v, err := c.cfgStat(offset)
	if err != nil {
		return err
	}
	return c.write(reg, IntEnb.Replace(v, b2u(enable)))
}

// HandleIRQ acknowledges every pending pin interrupt and returns the
// offsets that were pending.
func (c *Chip) HandleIRQ() []int {
	var pending []int
	for offset := range c.off {
		pin, err := c.io(offset)
		if err != nil {
			continue
		}
		v, err := c.read(IO(pin, CfgStat))
		if err != nil || IntState.Get(v) == 0 {
			continue
		}
		if err = c.write(IO(pin, IOClr), IntState.Set(1)); err != nil {
			continue
		}
		pending = append(pending, offset)
	}
	return pending
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
