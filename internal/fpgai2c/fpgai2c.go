// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package fpgai2c provides the I2C masters of Cisco FPGAs. One block may
// drive several segments selected by dev-sel; each segment is an Adapter
// and every adapter of a block shares one bus lock that, when the block is
// multi-master, also arbitrates with the BMC.
package fpgai2c

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/platinasystems/ciscofpga/internal/arbitrate"
	"github.com/platinasystems/ciscofpga/internal/attr"
	"github.com/platinasystems/ciscofpga/internal/blkhdr"
	"github.com/platinasystems/ciscofpga/internal/blocks/hdrattr"
	"github.com/platinasystems/ciscofpga/internal/mfd"
	"github.com/platinasystems/ciscofpga/internal/platform"
	"github.com/platinasystems/ciscofpga/internal/regaccess"
	"github.com/platinasystems/i2c"
	"github.com/platinasystems/log"
)

// MaxDevSel is the most adapters a block may have.
const MaxDevSel = 16

var (
	ErrTimeout      = errors.New("timed out")
	ErrBusy         = errors.New("bus busy")
	ErrFault        = errors.New("bus fault")
	ErrAgain        = errors.New("try again")
	ErrNotSupported = errors.New("transfer not supported")
	ErrInvalid      = regaccess.ErrInvalid
)

// FuncSMBusEmul is the SMBus protocol an I2C master can emulate.
const FuncSMBusEmul = i2c.SMBUS_Quick | i2c.SMBUS_Read_Byte |
	i2c.SMBUS_Write_Byte | i2c.SMBUS_Read_Byte_Data |
	i2c.SMBUS_Write_Byte_Data | i2c.SMBUS_Read_Word_Data |
	i2c.SMBUS_Write_Word_Data | i2c.SMBUS_Proc_Call |
	i2c.SMBUS_Write_Block_Data | i2c.SMBUS_Read_I2C_Block |
	i2c.SMBUS_Write_I2C_Block

// HW is the driver data of an I2C block.
type HW struct {
	Dev    *platform.Device
	Regmap regaccess.Regmap
	Ver    uint8
	Func   i2c.FeatureFlag
	// Arb is nil unless the block is multi-master.
	Arb      *arbitrate.Arbitrator
	Adapters []*Adapter

	// ext block buffer size and read data offset
	BufSize int
	RData   uint32

	busLock sync.Mutex

	now   func() time.Time
	sleep func(time.Duration)
}

// SetClock replaces the time source and sleeper of the polling loops.
func (hw *HW) SetClock(now func() time.Time, sleep func(time.Duration)) {
	hw.now, hw.sleep = now, sleep
}

// DevSel reports whether the block selects its segment with DEV_CTRL.
func (hw *HW) DevSel() bool { return hw.Ver > 4 }

func (hw *HW) read(reg uint32) (uint32, error) { return hw.Regmap.Read(reg) }

func (hw *HW) write(reg, val uint32) error { return hw.Regmap.Write(reg, val) }

func nicknames(dev *platform.Device) []string {
	n := dev.Fwnode
	if n != nil {
		if s, ok := n.PropStrings("nicknames"); ok && len(s) > 0 {
			if len(s) > MaxDevSel {
				s = s[:MaxDevSel]
			}
			return s
		}
		if s, ok := n.PropString("nickname"); ok {
			return []string{s}
		}
	}
	return []string{""}
}

// Init sets up the adapters of dev, one per nickname, from tmpl. The first
// adapter configures arbitration and the rest share its lock.
func Init(dev *platform.Device, cfg *regaccess.Config, tmpl *Template,
	block string) (*HW, error) {
	nicks := nicknames(dev)
	m, err := mfd.Init(dev, cfg)
	if err != nil {
		log.Print("err", dev.Name(), ": mfd init failed: ", err)
		return nil, err
	}
	hw := &HW{
		Dev:    dev,
		Regmap: m,
		Func:   i2c.I2C | FuncSMBusEmul,
		now:    time.Now,
		sleep:  time.Sleep,
	}
	dev.SetDrvData(hw)

	w0, err := m.Read(blkhdr.RegWord0)
	if err != nil {
		log.Print("err", dev.Name(),
			": failed to read ip block version: ", err)
		return nil, err
	}
	hw.Ver = blkhdr.Decode([5]uint32{w0}).Maj
	log.Printf("info", "%s: Cisco %s adapter version %d", dev.Name(),
		block, hw.Ver)

	res, _ := dev.Resource(platform.ResourceMem, 0)
	var ops arbitrate.LockOps
	for i, nick := range nicks {
		a := &Adapter{
			Index:    i,
			Template: *tmpl,
			hw:       hw,
		}
		prefix := ""
		if len(nick) > 0 {
			prefix = nick + ": "
		}
		if res != nil {
			a.Name = fmt.Sprintf("%sCisco %s adapter at %x", prefix,
				block, res.Start)
		} else {
			a.Name = fmt.Sprintf("%sCisco %s adapter at %s", prefix,
				block, dev.Name())
		}
		if i == 0 {
			hw.Arb, err = arbitrate.Probe(dev, m)
			if err != nil {
				return nil, err
			}
			ops = arbitrate.NewLockOps(&hw.busLock, hw.Arb)
		}
		a.ops = ops
		hw.Adapters = append(hw.Adapters, a)
	}
	return hw, nil
}

// Register adds the adapters of hw to core, resetting each under its bus
// lock, and publishes the header and, if arbitrating, arbitration
// attributes. Everything is undone when dev is released.
func Register(dev *platform.Device, core *Core, reset func(*Adapter) error) error {
	hw, ok := dev.DrvData().(*HW)
	if !ok {
		return fmt.Errorf("%s: not initialized: %w", dev.Name(),
			platform.ErrNoDevice)
	}
	for _, a := range hw.Adapters {
		a := a
		core.Add(a)
		dev.AddAction(func() { core.Del(a) })
		if reset == nil {
			continue
		}
		a.Lock()
		err := reset(a)
		a.Unlock()
		if err != nil {
			log.Print("err", dev.Name(), ": i2c reset devsel ",
				a.Index, " failed: ", err)
			return err
		}
	}
	groups := []*attr.Group{hdrattr.Group(dev)}
	if hw.Arb != nil {
		groups = append(groups, hw.Arb.Attrs())
		if core.Collector != nil {
			core.Collector.Add(hw.Arb)
			name := hw.Arb.Name
			dev.AddAction(func() { core.Collector.Remove(name) })
		}
	}
	dev.AddGroups(groups...)
	return nil
}

// Core numbers the registered adapters like the i2c-N devices of a kernel.
type Core struct {
	// Collector receives the arbitrators of registered blocks.
	Collector *arbitrate.Collector

	mutex    sync.Mutex
	adapters map[int]*Adapter
	next     int
}

func NewCore() *Core {
	return &Core{
		Collector: arbitrate.NewCollector(),
		adapters:  make(map[int]*Adapter),
	}
}

// Add assigns a the next free number.
func (c *Core) Add(a *Adapter) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	a.Nr = c.next
	c.next++
	c.adapters[a.Nr] = a
	return a.Nr
}

func (c *Core) Del(a *Adapter) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.adapters[a.Nr] == a {
		delete(c.adapters, a.Nr)
	}
}

// Adapter returns adapter nr.
func (c *Core) Adapter(nr int) (*Adapter, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	a, found := c.adapters[nr]
	return a, found
}

// Adapters in order of registration.
func (c *Core) Adapters() []*Adapter {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	l := make([]*Adapter, 0, len(c.adapters))
	for _, a := range c.adapters {
		l = append(l, a)
	}
	sort.Slice(l, func(i, j int) bool { return l[i].Nr < l[j].Nr })
	return l
}
