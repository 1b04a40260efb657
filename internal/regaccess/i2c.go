// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package regaccess

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/platinasystems/i2c"
)

// Sender is the part of an I2C bus the BMC register protocol needs.
type Sender interface {
	Send([]i2c.Message) error
}

// I2C reaches the registers of a BMC attached FPGA. Each access first writes
// the little-endian register address to slave address+1 then moves the
// little-endian value through slave address+5.
type I2C struct {
	mutex sync.Mutex
	bus   Sender
	addr  uint16
}

// NewI2C returns a map on an already open bus.
func NewI2C(bus Sender, addr uint16) *I2C {
	return &I2C{bus: bus, addr: addr}
}

// OpenI2C opens /dev/i2c-INDEX for the FPGA at addr.
func OpenI2C(index int, addr uint16) (*I2C, error) {
	bus := new(i2c.Bus)
	if err := bus.Open(index); err != nil {
		return nil, err
	}
	return NewI2C(bus, addr), nil
}

func (r *I2C) Close() error {
	if c, ok := r.bus.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func (r *I2C) Read(reg uint32) (uint32, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.read(reg)
}

func (r *I2C) Write(reg, val uint32) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.write(reg, val)
}

func (r *I2C) UpdateBits(reg, mask, val uint32) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	old, err := r.read(reg)
	if err != nil {
		return err
	}
	v := (old &^ mask) | (val & mask)
	if v == old {
		return nil
	}
	return r.write(reg, v)
}

func (r *I2C) xfer(tag string, reg uint32, flags i2c.MessageFlags,
	buf []byte) error {
	sel := make([]byte, 4)
	binary.LittleEndian.PutUint32(sel, reg)
	err := r.bus.Send([]i2c.Message{{
		Address: r.addr + 1,
		Data:    sel,
	}})
	if err == nil {
		err = r.bus.Send([]i2c.Message{{
			Address: r.addr + 5,
			Flags:   flags,
			Data:    buf,
		}})
	}
	if err != nil {
		return fmt.Errorf("i2c %#x: %s %#x: %v", r.addr, tag, reg, err)
	}
	return nil
}

func (r *I2C) read(reg uint32) (uint32, error) {
	buf := make([]byte, 4)
	if err := r.xfer("read", reg, i2c.ReadData, buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func (r *I2C) write(reg, val uint32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, val)
	return r.xfer("write", reg, 0, buf)
}
