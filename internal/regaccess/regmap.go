// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package regaccess provides 32-bit register maps over memory, PCI BARs and
// I2C-attached FPGAs along with bit field helpers.
package regaccess

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrInvalid = errors.New("invalid argument")
	ErrRange   = errors.New("register out of range")
)

// Regmap is a 32-bit register transport addressed by byte offset.
type Regmap interface {
	Read(reg uint32) (uint32, error)
	Write(reg, val uint32) error
}

// Updater is implemented by maps that can update bits atomically.
type Updater interface {
	UpdateBits(reg, mask, val uint32) error
}

// UpdateBits writes val under mask. Maps without their own Updater get an
// unlocked read-modify-write that skips the write when nothing changes.
func UpdateBits(m Regmap, reg, mask, val uint32) error {
	if u, ok := m.(Updater); ok {
		return u.UpdateBits(reg, mask, val)
	}
	return updateBits(m, reg, mask, val)
}

func updateBits(m Regmap, reg, mask, val uint32) error {
	old, err := m.Read(reg)
	if err != nil {
		return err
	}
	v := (old &^ mask) | (val & mask)
	if v == old {
		return nil
	}
	return m.Write(reg, v)
}

// ReadBlock reads n consecutive words starting at reg.
func ReadBlock(m Regmap, reg uint32, n int) ([]uint32, error) {
	w := make([]uint32, n)
	for i := range w {
		v, err := m.Read(reg + uint32(4*i))
		if err != nil {
			return nil, err
		}
		w[i] = v
	}
	return w, nil
}

// ReadBytes reads len(b) bytes, a multiple of 4, as little-endian words.
func ReadBytes(m Regmap, reg uint32, b []byte) error {
	if len(b)&3 != 0 {
		return ErrInvalid
	}
	for i := 0; i < len(b); i += 4 {
		v, err := m.Read(reg + uint32(i))
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(b[i:], v)
	}
	return nil
}

// Config describes a register map the way a block driver expects it.
type Config struct {
	Name        string
	RegBits     int
	ValBits     int
	RegStride   uint32
	MaxRegister uint32
}

// Check reg against the stride and upper bound.
func (c *Config) Check(reg uint32) error {
	if c == nil {
		return nil
	}
	if c.RegStride > 1 && reg%c.RegStride != 0 {
		return fmt.Errorf("%s: %#x: %w", c.Name, reg, ErrInvalid)
	}
	if c.MaxRegister != 0 && reg > c.MaxRegister {
		return fmt.Errorf("%s: %#x > %#x: %w", c.Name, reg,
			c.MaxRegister, ErrRange)
	}
	return nil
}

// Default is the layout of every FPGA block.
func Default(name string, max uint32) *Config {
	return &Config{
		Name:        name,
		RegBits:     32,
		ValBits:     32,
		RegStride:   4,
		MaxRegister: max,
	}
}

// Mem is a little-endian register file in memory, used for block table
// images and by tests.
type Mem struct {
	mutex sync.Mutex
	b     []byte
}

func NewMem(size int) *Mem { return &Mem{b: make([]byte, size)} }

// NewMemFrom wraps b without copying.
func NewMemFrom(b []byte) *Mem { return &Mem{b: b} }

func (m *Mem) Len() int { return len(m.b) }

func (m *Mem) Bytes() []byte { return m.b }

func (m *Mem) Read(reg uint32) (uint32, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if int(reg)+4 > len(m.b) || reg&3 != 0 {
		return 0, fmt.Errorf("mem read %#x: %w", reg, ErrRange)
	}
	return binary.LittleEndian.Uint32(m.b[reg:]), nil
}

func (m *Mem) Write(reg, val uint32) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if int(reg)+4 > len(m.b) || reg&3 != 0 {
		return fmt.Errorf("mem write %#x: %w", reg, ErrRange)
	}
	binary.LittleEndian.PutUint32(m.b[reg:], val)
	return nil
}

func (m *Mem) UpdateBits(reg, mask, val uint32) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if int(reg)+4 > len(m.b) || reg&3 != 0 {
		return fmt.Errorf("mem update %#x: %w", reg, ErrRange)
	}
	old := binary.LittleEndian.Uint32(m.b[reg:])
	binary.LittleEndian.PutUint32(m.b[reg:], (old&^mask)|(val&mask))
	return nil
}

// Window is a child view of a parent map starting at Base.
type Window struct {
	mutex  sync.Mutex
	parent Regmap
	base   uint32
	config Config
}

// NewWindow returns a view of parent offset by base and bounded by config.
func NewWindow(parent Regmap, base uint32, config *Config) *Window {
	w := &Window{parent: parent, base: base}
	if config != nil {
		w.config = *config
	}
	return w
}

func (w *Window) Base() uint32 { return w.base }

func (w *Window) Config() Config {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.config
}

// SetMaxRegister changes the upper bound of the window.
func (w *Window) SetMaxRegister(max uint32) {
	w.mutex.Lock()
	w.config.MaxRegister = max
	w.mutex.Unlock()
}

func (w *Window) check(reg uint32) error {
	w.mutex.Lock()
	c := w.config
	w.mutex.Unlock()
	return c.Check(reg)
}

func (w *Window) Read(reg uint32) (uint32, error) {
	if err := w.check(reg); err != nil {
		return 0, err
	}
	return w.parent.Read(w.base + reg)
}

func (w *Window) Write(reg, val uint32) error {
	if err := w.check(reg); err != nil {
		return err
	}
	return w.parent.Write(w.base+reg, val)
}

func (w *Window) UpdateBits(reg, mask, val uint32) error {
	if err := w.check(reg); err != nil {
		return err
	}
	if u, ok := w.parent.(Updater); ok {
		return u.UpdateBits(w.base+reg, mask, val)
	}
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return updateBits(w.parent, w.base+reg, mask, val)
}
