// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package gpio

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/platinasystems/ciscofpga/internal/regaccess"
	gpiolib "github.com/platinasystems/gpio"
	"github.com/platinasystems/log"
)

var errNoPin = errors.New("no such pin")

// tableEntry is a pin found in the block's pin table.
type tableEntry struct {
	group  uint32
	id     uint32 // pin id and instance
	offset uint16
	refs   int
	name   string
}

type pinTable []tableEntry

func (t pinTable) find(id uint32) *tableEntry {
	i := sort.Search(len(t), func(i int) bool { return t[i].id >= id })
	if i < len(t) && t[i].id == id {
		return &t[i]
	}
	return nil
}

// scan the pin table. Group entries precede their pins; the group id is
// kept for diagnostics only since pins are matched by id and instance.
func (c *Chip) scan() (pinTable, bool, error) {
	var (
		t          pinTable
		group      uint32
		pins       uint32
		duplicates bool
	)
	for pin := uint(0); pin < MaxGPIOs; pin++ {
		v, err := c.read(IO(pin, IOMem))
		if err != nil {
			return nil, false, err
		}
		if v == simUninitialized {
			continue
		}
		if IsGroup.Get(v) != 0 {
			if pins != 0 {
				c.warnf("group %#x truncated @ index %d; %d pins remaining",
					group, pin, pins)
			}
			group = GroupID.Get(v)
			pins = GroupPinCount.Get(v)
			continue
		}
		id := PinID.Get(v)
		if pins == 0 {
			// unused pins outside a group may be marked as pin 0
			if id == PinIDNoGroup || id == PinIDUnsupported {
				continue
			}
			c.warnf("ungrouped entry @ index %d; pin_id %#x:%d",
				pin, id, PinInstance.Get(v))
			pins = 1
		} else if id == PinIDUnsupported {
			c.infof("pin %d [group %#x] is not supported", pin, group)
			pins--
			continue
		} else if id == PinIDNoGroup {
			pins--
			continue
		}
		t = append(t, tableEntry{group: group, id: v, offset: uint16(pin)})
		pins--
	}
	sort.SliceStable(t, func(i, j int) bool { return t[i].id < t[j].id })
	for i := 1; i < len(t); i++ {
		if t[i-1].id == t[i].id {
			c.warnf("duplicate pin %#x:%d @ indices %d and %d",
				PinID.Get(t[i].id), PinInstance.Get(t[i].id),
				t[i-1].offset, t[i].offset)
			duplicates = true
		}
	}
	return t, duplicates, nil
}

// init maps each gpio descriptor to its physical pin. An unparsable or
// unmatched descriptor leaves its offset unmapped rather than shifting the
// offsets that follow it.
func (c *Chip) init(desc []string) error {
	t, dump, err := c.scan()
	if err != nil {
		return err
	}
	for i, d := range desc {
		pin, err := c.parseDescriptor(i, d, t)
		if err != nil {
			if errors.Is(err, regaccess.ErrInvalid) {
				log.Printf("warn", "%s: failed to parse gpio-descriptor %q",
					c.dev.Name(), d)
			} else if !errors.Is(err, errNoPin) {
				return err
			}
			c.off[i] = MaxGPIOs
			dump = true
			continue
		}
		c.off[i] = pin
	}
	if dump {
		c.infof("found %d pins", len(t))
		for i, e := range t {
			name := e.name
			if len(name) == 0 {
				name = "unnamed"
			}
			c.infof(" [%d] %s @ (%#x, %#x:%d) @ %d; references %d",
				i, name, e.group, PinID.Get(e.id),
				PinInstance.Get(e.id), e.offset, e.refs)
		}
	}
	return nil
}

// Descriptor is one parsed gpio-descriptors entry:
//
//	name,group,pin,active_low[,in,intEnb,intType]
//	name,group,pin,active_low[,out,enable|tristate,low|high]
type Descriptor struct {
	Name      string
	Group     uint32
	Pin       uint32
	ActiveLow bool
	// Dir is empty, "in" or "out".
	Dir string
	// Input pins.
	IntEnable bool
	IntType   uint32
	// Output pins.
	Tristate bool
	High     bool
}

// ParseDescriptor parses a gpio descriptor. Unknown interrupt types, drive
// modes and levels fall back to disable, tristate and low.
func ParseDescriptor(s string) (*Descriptor, []string, error) {
	var warnings []string
	f := strings.Split(s, ",")
	if len(f) < 4 {
		return nil, nil, fmt.Errorf("%q: %w", s, regaccess.ErrInvalid)
	}
	d := &Descriptor{Name: f[0]}
	var n [3]int64
	for i := range n {
		v, err := strconv.ParseInt(strings.TrimSpace(f[i+1]), 0, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("%q: %w", s, regaccess.ErrInvalid)
		}
		n[i] = v
	}
	d.Group, d.Pin, d.ActiveLow = uint32(n[0]), uint32(n[1]), n[2] != 0
	f = f[4:]
	if len(f) == 0 {
		return d, nil, nil
	}
	switch f[0] {
	case "in":
		if len(f) < 3 {
			return nil, nil, fmt.Errorf("%q: %w", s, regaccess.ErrInvalid)
		}
		enb, err := strconv.ParseInt(strings.TrimSpace(f[1]), 10, 32)
		if err != nil {
			return nil, nil, fmt.Errorf("%q: %w", s, regaccess.ErrInvalid)
		}
		d.Dir, d.IntEnable = "in", enb != 0
		typ := strings.Join(f[2:], ",")
		if t, ok := index(intTypes, typ); ok {
			d.IntType = t
		} else {
			warnings = append(warnings,
				fmt.Sprintf("unknown intType %q for pin %q", typ, d.Name))
		}
	case "out":
		if len(f) < 3 {
			return nil, nil, fmt.Errorf("%q: %w", s, regaccess.ErrInvalid)
		}
		d.Dir = "out"
		switch f[1] {
		case "enable":
		case "tristate":
			d.Tristate = true
		default:
			d.Tristate = true
			warnings = append(warnings,
				fmt.Sprintf("unknown output %q for pin %q", f[1], d.Name))
		}
		switch level := strings.Join(f[2:], ","); level {
		case "high":
			d.High = true
		case "low":
		default:
			warnings = append(warnings,
				fmt.Sprintf("unknown output state %q for pin %q", level, d.Name))
		}
	}
	return d, warnings, nil
}

// Apply the descriptor's direction and interrupt settings to cfg_stat v.
func (d *Descriptor) Apply(v uint32) uint32 {
	switch d.Dir {
	case "in":
		v = IntEnb.Replace(v, b2u(d.IntEnable))
		v = IntType.Replace(v, d.IntType)
		v = Dir.Replace(v, DirInput)
	case "out":
		if d.Tristate {
			v = DisOutput.Replace(v, OutputTristate)
		} else {
			v = DisOutput.Replace(v, OutputEnable)
		}
		v = OutState.Replace(v, b2u(d.High))
		v = Dir.Replace(v, DirOutput)
	}
	return v
}

// Mode is the descriptor's gpio pin mode flags.
func (d *Descriptor) Mode() gpiolib.Pin {
	if d.Dir != "out" {
		return 0
	}
	if d.High {
		return gpiolib.IsOutputHi
	}
	return gpiolib.IsOutputLo
}

func (c *Chip) parseDescriptor(offset int, s string, t pinTable) (uint16, error) {
	if i := strings.IndexByte(s, ','); i >= 0 {
		c.names[offset] = s[:i]
	} else {
		return 0, fmt.Errorf("%q: %w", s, regaccess.ErrInvalid)
	}
	d, warnings, err := ParseDescriptor(s)
	if err != nil {
		return 0, err
	}
	for _, w := range warnings {
		log.Print("err", c.dev.Name(), ": ", w)
	}
	e := t.find(d.Pin)
	if e == nil {
		c.infof("unable to find GPIO pin %s @ (%#x, %#x)", d.Name,
			d.Group, d.Pin)
		return 0, errNoPin
	}
	e.refs++
	if len(e.name) > 0 {
		c.warnf("pin %s @ (%#x, %#x) cannot be renamed to %s",
			e.name, d.Group, d.Pin, d.Name)
	} else {
		e.name = d.Name
	}
	reg := IO(uint(e.offset), CfgStat)
	v, err := c.read(reg)
	if err != nil {
		return 0, err
	}
	// pins keep their state through fast and warm reboots
	if c.RebootType == RebootCold {
		if err = c.write(reg, d.Apply(v)); err != nil {
			return 0, err
		}
	}
	c.pins[d.Name] = d.Mode() | gpiolib.Pin(offset)
	return e.offset, nil
}
