// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package platform is a small device model: devices with resources and
// firmware nodes, drivers bound by name or compatible string, deferred
// probing, reference counts and managed cleanup actions.
package platform

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/platinasystems/ciscofpga/internal/attr"
	"github.com/platinasystems/ciscofpga/internal/fwnode"
	"github.com/platinasystems/ciscofpga/internal/regaccess"
)

const (
	// DevIDNone names a device without an instance suffix.
	DevIDNone = -1
	// DevIDAuto requests a bus assigned instance.
	DevIDAuto = -2
)

var (
	ErrProbeDefer = errors.New("probe deferred")
	ErrExist      = errors.New("device exists")
	ErrNoDevice   = errors.New("no such device")
	ErrNoResource = errors.New("no such resource")
)

type ResourceFlags uint

const (
	ResourceMem ResourceFlags = 1 << iota
	ResourceIRQ
)

func (f ResourceFlags) String() string {
	switch f {
	case ResourceMem:
		return "mem"
	case ResourceIRQ:
		return "irq"
	}
	return fmt.Sprintf("flags(%#x)", uint(f))
}

type Resource struct {
	Name       string
	Start, End uint64
	Flags      ResourceFlags
}

func (r Resource) Size() uint64 { return r.End - r.Start + 1 }

func (r Resource) String() string {
	return fmt.Sprintf("%s [%#x..%#x]", r.Flags, r.Start, r.End)
}

type Device struct {
	// BaseName is the driver facing name, sans instance.
	BaseName string
	// ID is DevIDNone, DevIDAuto or an explicit instance.
	ID           int
	Parent       *Device
	Fwnode       fwnode.Node
	Resources    []Resource
	PlatformData interface{}
	// Compatible, OfReg and ADR identify the block to firmware matching.
	Compatible string
	OfReg      uint64
	ADR        uint64

	mutex   sync.Mutex
	bus     *Bus
	name    string
	autoID  int
	refs    int32
	regmap  regaccess.Regmap
	drvdata interface{}
	driver  *Driver
	idEntry *DeviceID
	actions []func()
	groups  attr.Set
}

// Name is the registered name: "base", "base.N" or "base.N.auto".
func (dev *Device) Name() string {
	if len(dev.name) > 0 {
		return dev.name
	}
	return formatName(dev.BaseName, dev.ID, dev.autoID)
}

func (dev *Device) String() string { return dev.Name() }

func formatName(base string, id, auto int) string {
	switch {
	case id == DevIDNone:
		return base
	case id == DevIDAuto:
		return fmt.Sprintf("%s.%d.auto", base, auto)
	default:
		return fmt.Sprintf("%s.%d", base, id)
	}
}

func (dev *Device) Bus() *Bus { return dev.bus }

func (dev *Device) Regmap() regaccess.Regmap {
	dev.mutex.Lock()
	defer dev.mutex.Unlock()
	return dev.regmap
}

func (dev *Device) SetRegmap(m regaccess.Regmap) {
	dev.mutex.Lock()
	dev.regmap = m
	dev.mutex.Unlock()
}

func (dev *Device) DrvData() interface{} {
	dev.mutex.Lock()
	defer dev.mutex.Unlock()
	return dev.drvdata
}

func (dev *Device) SetDrvData(v interface{}) {
	dev.mutex.Lock()
	dev.drvdata = v
	dev.mutex.Unlock()
}

// Driver bound to the device, or nil.
func (dev *Device) Driver() *Driver {
	dev.mutex.Lock()
	defer dev.mutex.Unlock()
	return dev.driver
}

// IDEntry is the driver id table entry that matched, if any.
func (dev *Device) IDEntry() *DeviceID { return dev.idEntry }

// Resource returns the index'th resource of the given type.
func (dev *Device) Resource(flags ResourceFlags, index int) (*Resource, error) {
	for i := range dev.Resources {
		if dev.Resources[i].Flags != flags {
			continue
		}
		if index == 0 {
			return &dev.Resources[i], nil
		}
		index--
	}
	return nil, fmt.Errorf("%s: %s %d: %w", dev.Name(), flags, index,
		ErrNoResource)
}

// IRQ returns the hardware interrupt number of the index'th irq resource.
func (dev *Device) IRQ(index int) (int, error) {
	r, err := dev.Resource(ResourceIRQ, index)
	if err != nil {
		return -1, err
	}
	return int(r.Start), nil
}

// NumResources of the given type.
func (dev *Device) NumResources(flags ResourceFlags) int {
	n := 0
	for _, r := range dev.Resources {
		if r.Flags == flags {
			n++
		}
	}
	return n
}

// Get a reference.
func (dev *Device) Get() *Device {
	atomic.AddInt32(&dev.refs, 1)
	return dev
}

// Put a reference obtained from Get or a Bus lookup.
func (dev *Device) Put() {
	if atomic.AddInt32(&dev.refs, -1) < 0 {
		panic(fmt.Errorf("%s: reference underflow", dev.Name()))
	}
}

func (dev *Device) Refs() int { return int(atomic.LoadInt32(&dev.refs)) }

// AddAction registers fn to run, newest first, when the driver is detached.
func (dev *Device) AddAction(fn func()) {
	dev.mutex.Lock()
	dev.actions = append(dev.actions, fn)
	dev.mutex.Unlock()
}

// AddGroups publishes attribute groups until the driver is detached.
func (dev *Device) AddGroups(groups ...*attr.Group) {
	dev.mutex.Lock()
	dev.groups = append(dev.groups, groups...)
	dev.mutex.Unlock()
}

// Attrs returns the published attribute groups.
func (dev *Device) Attrs() attr.Set {
	dev.mutex.Lock()
	defer dev.mutex.Unlock()
	return append(attr.Set(nil), dev.groups...)
}

// release runs the managed actions and drops driver state.
func (dev *Device) release() {
	dev.mutex.Lock()
	actions := dev.actions
	dev.actions = nil
	dev.groups = nil
	dev.driver = nil
	dev.idEntry = nil
	dev.drvdata = nil
	dev.mutex.Unlock()
	for i := len(actions) - 1; i >= 0; i-- {
		actions[i]()
	}
}
