// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// +build linux

package regaccess

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"unsafe"
)

const sysBusPciDevices = "/sys/bus/pci/devices"

// MMIO is a register map over a mapped PCI BAR or other device file.
type MMIO struct {
	name string
	mem  []byte
}

// OpenBar maps the given BAR of a PCI device, e.g. ("0000:05:00.0", 0).
func OpenBar(addr string, bar uint) (*MMIO, error) {
	fn := filepath.Join(sysBusPciDevices, addr, fmt.Sprintf("resource%d", bar))
	return OpenMMIO(fn, 0)
}

// OpenMMIO maps size bytes of the named file; zero maps the whole file.
func OpenMMIO(fn string, size int) (*MMIO, error) {
	f, err := os.OpenFile(fn, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if size == 0 {
		fi, err := f.Stat()
		if err != nil {
			return nil, err
		}
		size = int(fi.Size())
	}
	if size <= 0 {
		return nil, fmt.Errorf("%s: empty resource", fn)
	}
	mem, err := syscall.Mmap(int(f.Fd()), 0, size,
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %s", fn, err)
	}
	return &MMIO{name: fn, mem: mem}, nil
}

func (m *MMIO) String() string { return m.name }

func (m *MMIO) Len() int { return len(m.mem) }

func (m *MMIO) word(reg uint32) (*uint32, error) {
	if int(reg)+4 > len(m.mem) || reg&3 != 0 {
		return nil, fmt.Errorf("%s: %#x: %w", m.name, reg, ErrRange)
	}
	return (*uint32)(unsafe.Pointer(&m.mem[reg])), nil
}

func (m *MMIO) Read(reg uint32) (uint32, error) {
	p, err := m.word(reg)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32(p), nil
}

func (m *MMIO) Write(reg, val uint32) error {
	p, err := m.word(reg)
	if err != nil {
		return err
	}
	atomic.StoreUint32(p, val)
	return nil
}

func (m *MMIO) Close() error {
	if m.mem == nil {
		return nil
	}
	err := syscall.Munmap(m.mem)
	m.mem = nil
	if err != nil {
		return fmt.Errorf("munmap %s: %s", m.name, err)
	}
	return nil
}
