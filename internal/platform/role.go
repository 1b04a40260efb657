// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package platform

import (
	"fmt"

	"github.com/platinasystems/ciscofpga/internal/fwnode"
)

// IDFlags is the Data of id table entries of drivers that may run passive,
// watching a block another host controls.
type IDFlags uint8

const (
	IDActive IDFlags = 1 << iota
	// IDOverride makes the entry's IDActive win over platform data.
	IDOverride
)

// IDTable builds id tables with IDFlags data.
type IDTable []DeviceID

func (t IDTable) Add(flags IDFlags, names ...string) IDTable {
	for _, name := range names {
		t = append(t, DeviceID{Name: name, Data: flags})
	}
	return t
}

// Seq formats the names first through last.
func Seq(format string, first, last int) []string {
	var l []string
	for i := first; i <= last; i++ {
		l = append(l, fmt.Sprintf(format, i))
	}
	return l
}

// Active resolves the role of dev: an overriding id entry, else a uint8 of
// platform data, else the id entry, else active. A non-zero standby
// property always makes the device passive.
func (dev *Device) Active() bool {
	if fwnode.Bool(dev.Fwnode, "standby") {
		return false
	}
	var flags IDFlags
	id := dev.IDEntry()
	if id != nil {
		flags, _ = id.Data.(IDFlags)
	}
	if id != nil && flags&IDOverride != 0 {
		return flags&IDActive != 0
	}
	if b, ok := dev.PlatformData.(uint8); ok {
		return b != 0
	}
	if id != nil {
		return flags&IDActive != 0
	}
	return true
}
