// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package platform

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/platinasystems/ciscofpga/internal/fwnode"
	"github.com/platinasystems/log"
)

// DeviceID is a driver id table entry; Data is passed through to Probe by
// way of Device.IDEntry.
type DeviceID struct {
	Name string
	Data interface{}
}

type Driver struct {
	Name       string
	IDs        []DeviceID
	Compatible []string
	Probe      func(*Device) error
	Remove     func(*Device) error
}

func (drv *Driver) String() string { return drv.Name }

// match returns the id entry, if any, and whether the driver serves dev.
func (drv *Driver) match(dev *Device) (*DeviceID, bool) {
	if len(dev.Compatible) > 0 {
		for _, s := range drv.Compatible {
			if s == dev.Compatible {
				return nil, true
			}
		}
	}
	for i := range drv.IDs {
		if drv.IDs[i].Name == dev.BaseName {
			return &drv.IDs[i], true
		}
	}
	return nil, len(drv.IDs) == 0 && drv.Name == dev.BaseName
}

type Bus struct {
	mutex    sync.Mutex
	devices  []*Device
	byName   map[string]*Device
	drivers  []*Driver
	deferred []*Device
	nextAuto int
}

func NewBus() *Bus {
	return &Bus{byName: make(map[string]*Device)}
}

// Register names the device, adds it to the bus, and binds the first
// matching driver.
func (b *Bus) Register(dev *Device) error {
	b.mutex.Lock()
	if dev.ID == DevIDAuto {
		dev.autoID = b.nextAuto
		b.nextAuto++
	}
	name := formatName(dev.BaseName, dev.ID, dev.autoID)
	if _, found := b.byName[name]; found {
		b.mutex.Unlock()
		return fmt.Errorf("%s: %w", name, ErrExist)
	}
	dev.name = name
	dev.bus = b
	b.byName[name] = dev
	b.devices = append(b.devices, dev)
	drivers := append([]*Driver(nil), b.drivers...)
	b.mutex.Unlock()

	for _, drv := range drivers {
		if id, ok := drv.match(dev); ok {
			if b.bind(drv, dev, id) {
				b.retryDeferred()
			}
			break
		}
	}
	return nil
}

// Unregister detaches any driver and removes dev from the bus.
func (b *Bus) Unregister(dev *Device) {
	b.detach(dev)
	b.mutex.Lock()
	defer b.mutex.Unlock()
	delete(b.byName, dev.name)
	b.devices = removeDevice(b.devices, dev)
	b.deferred = removeDevice(b.deferred, dev)
	dev.bus = nil
}

// RegisterDriver adds drv and binds it to any unbound matching devices.
func (b *Bus) RegisterDriver(drv *Driver) {
	b.mutex.Lock()
	b.drivers = append(b.drivers, drv)
	var pending []*Device
	for _, dev := range b.devices {
		if dev.Driver() == nil {
			pending = append(pending, dev)
		}
	}
	b.mutex.Unlock()
	bound := false
	for _, dev := range pending {
		if id, ok := drv.match(dev); ok && b.bind(drv, dev, id) {
			bound = true
		}
	}
	if bound {
		b.retryDeferred()
	}
}

// ProbeDeferred retries every deferred probe and returns how many remain
// deferred.
func (b *Bus) ProbeDeferred() int {
	b.retryDeferred()
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.deferred)
}

// Deferred lists the devices awaiting a successful probe.
func (b *Bus) Deferred() []*Device {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return append([]*Device(nil), b.deferred...)
}

// retryDeferred loops until a pass binds nothing.
func (b *Bus) retryDeferred() {
	for {
		b.mutex.Lock()
		pending := b.deferred
		b.deferred = nil
		drivers := append([]*Driver(nil), b.drivers...)
		b.mutex.Unlock()
		if len(pending) == 0 {
			return
		}
		progress := false
		for _, dev := range pending {
			for _, drv := range drivers {
				if id, ok := drv.match(dev); ok {
					if b.bind(drv, dev, id) {
						progress = true
					}
					break
				}
			}
		}
		if !progress {
			return
		}
	}
}

func (b *Bus) bind(drv *Driver, dev *Device, id *DeviceID) bool {
	dev.mutex.Lock()
	if dev.driver != nil {
		dev.mutex.Unlock()
		return false
	}
	dev.driver = drv
	dev.idEntry = id
	dev.mutex.Unlock()
	err := drv.Probe(dev)
	if err == nil {
		log.Print("debug", dev.Name(), ": bound to ", drv.Name)
		return true
	}
	dev.release()
	if errors.Is(err, ErrProbeDefer) {
		b.mutex.Lock()
		b.deferred = append(removeDevice(b.deferred, dev), dev)
		b.mutex.Unlock()
		log.Print("debug", dev.Name(), ": probe deferred: ", err)
		return false
	}
	log.Print("err", dev.Name(), ": ", drv.Name, " probe: ", err)
	return false
}

func (b *Bus) detach(dev *Device) {
	drv := dev.Driver()
	if drv == nil {
		return
	}
	if drv.Remove != nil {
		if err := drv.Remove(dev); err != nil {
			log.Print("warn", dev.Name(), ": remove: ", err)
		}
	}
	dev.release()
}

// Find returns a referenced device satisfying match; the caller must Put it.
func (b *Bus) Find(match func(*Device) bool) *Device {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	for _, dev := range b.devices {
		if match(dev) {
			return dev.Get()
		}
	}
	return nil
}

func (b *Bus) FindByName(name string) *Device {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if dev, found := b.byName[name]; found {
		return dev.Get()
	}
	return nil
}

func (b *Bus) FindByFwnode(n fwnode.Node) *Device {
	if n == nil {
		return nil
	}
	return b.Find(func(dev *Device) bool { return dev.Fwnode == n })
}

// Devices returns the registered devices sorted by name.
func (b *Bus) Devices() []*Device {
	b.mutex.Lock()
	devs := append([]*Device(nil), b.devices...)
	b.mutex.Unlock()
	sort.Slice(devs, func(i, j int) bool {
		return devs[i].Name() < devs[j].Name()
	})
	return devs
}

// Children returns the devices whose parent is dev, in registration order.
func (b *Bus) Children(dev *Device) []*Device {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	var kids []*Device
	for _, d := range b.devices {
		if d.Parent == dev {
			kids = append(kids, d)
		}
	}
	return kids
}

func removeDevice(devs []*Device, dev *Device) []*Device {
	for i, d := range devs {
		if d == dev {
			return append(devs[:i:i], devs[i+1:]...)
		}
	}
	return devs
}
