// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package reboot runs FPGA register actions when the system restarts, halts
// or powers off. A block registers a Notifier on a Chain with the actions
// found in its firmware description; whoever brings the system down calls
// Chain.Notify with the mode before doing so.
package reboot

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/platinasystems/ciscofpga/internal/attr"
	"github.com/platinasystems/ciscofpga/internal/fwnode"
	"github.com/platinasystems/ciscofpga/internal/platform"
	"github.com/platinasystems/ciscofpga/internal/regaccess"
	"github.com/platinasystems/log"
)

// RegNotPresent disables an action.
const RegNotPresent = 0xffffffff

const GroupName = "reboot_notifier"

var (
	ErrNoRegmap = errors.New("no regmap")
	ErrInvalid  = regaccess.ErrInvalid
)

// Mode numbers follow the kernel's SYS_RESTART, SYS_HALT and SYS_POWER_OFF.
type Mode int

const (
	Restart Mode = 1 + iota
	Halt
	PowerOff
)

var modeNames = map[Mode]string{
	Restart:  "restart",
	Halt:     "halt",
	PowerOff: "power-off",
}

func (mode Mode) String() string {
	if s, found := modeNames[mode]; found {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(mode))
}

// ParseMode accepts the names printed by Mode.String.
func ParseMode(s string) (Mode, error) {
	for mode, name := range modeNames {
		if s == name {
			return mode, nil
		}
	}
	return 0, fmt.Errorf("%q: %w", s, ErrInvalid)
}

var desc = map[Mode]string{
	Restart:  "user power cycle",
	Halt:     "user halt",
	PowerOff: "user power off",
}

// Action is a register update. With a zero Mask, Value is written;
// otherwise the masked bits are cleared and then set to Value.
type Action struct {
	Reg, Mask, Value uint32
}

// Info holds the defaults a driver passes in for properties missing from
// the firmware description.
type Info struct {
	Enable   bool
	Priority int
	Restart  Action
	Halt     Action
	PowerOff Action
}

// DefaultInfo is disabled with no actions.
var DefaultInfo = Info{
	Restart:  Action{Reg: RegNotPresent, Mask: 0xffffffff},
	Halt:     Action{Reg: RegNotPresent, Mask: 0xffffffff},
	PowerOff: Action{Reg: RegNotPresent, Mask: 0xffffffff},
}

type Notifier struct {
	Priority int

	dev     *platform.Device
	mutex   sync.Mutex
	modes   uint
	actions map[Mode]*Action
}

// Chain of notifiers run highest priority first.
type Chain struct {
	mutex     sync.Mutex
	notifiers []*Notifier
}

func (c *Chain) Register(n *Notifier) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.notifiers = append(c.notifiers, n)
	sort.SliceStable(c.notifiers, func(i, j int) bool {
		return c.notifiers[i].Priority > c.notifiers[j].Priority
	})
}

func (c *Chain) Unregister(n *Notifier) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for i, x := range c.notifiers {
		if x == n {
			c.notifiers = append(c.notifiers[:i], c.notifiers[i+1:]...)
			break
		}
	}
}

func (c *Chain) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.notifiers)
}

// Notify runs the mode's action of every notifier. Failures are logged and
// don't stop the chain.
func (c *Chain) Notify(mode Mode) {
	c.mutex.Lock()
	l := append([]*Notifier(nil), c.notifiers...)
	c.mutex.Unlock()
	for _, n := range l {
		n.notify(mode)
	}
}

func (n *Notifier) notify(mode Mode) {
	n.mutex.Lock()
	a, found := n.actions[mode]
	if !found || n.modes&(1<<uint(mode)) == 0 {
		n.mutex.Unlock()
		return
	}
	action := *a
	n.mutex.Unlock()
	log.Print("err", n.dev.Name(), ": ", desc[mode])
	update(n.dev, action)
}

// Action returns a copy of the mode's action.
func (n *Notifier) Action(mode Mode) (Action, bool) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	a, found := n.actions[mode]
	if !found {
		return Action{}, false
	}
	return *a, true
}

func update(dev *platform.Device, a Action) error {
	m := dev.Regmap()
	if m == nil {
		return fmt.Errorf("%s: %w", dev.Name(), ErrNoRegmap)
	}
	if a.Reg == RegNotPresent {
		return fmt.Errorf("%s: register not present: %w", dev.Name(),
			ErrInvalid)
	}
	_, err := m.Read(a.Reg)
	if err == nil {
		if a.Mask != 0 {
			err = regaccess.UpdateBits(m, a.Reg, a.Mask, 0)
			if err == nil {
				err = regaccess.UpdateBits(m, a.Reg, a.Mask, a.Value)
			}
		} else {
			err = m.Write(a.Reg, a.Value)
		}
	}
	if err != nil {
		log.Printf("err", "%s: write value %#x (mask %#x) to register %#x failed: %v",
			dev.Name(), a.Value, a.Mask, a.Reg, err)
	}
	return err
}

func tuple(n fwnode.Node, name string) (Action, bool) {
	if n == nil {
		return Action{}, false
	}
	u, ok := n.PropUint32s(name)
	if !ok || len(u) != 3 {
		return Action{}, false
	}
	return Action{Reg: u[0], Mask: u[1], Value: u[2]}, true
}

// Register applies the reboot-notifier-probe update of dev and, if enabled,
// adds a notifier to c with the reboot-notifier-* actions of dev or else
// those of info. A nil info is DefaultInfo. The returned notifier is nil
// if disabled or without any action.
func Register(c *Chain, dev *platform.Device, info *Info) (*Notifier, error) {
	if dev.Regmap() == nil {
		return nil, fmt.Errorf("%s: %w", dev.Name(), ErrInvalid)
	}
	if info == nil {
		info = &DefaultInfo
	}
	fw := dev.Fwnode
	if a, ok := tuple(fw, "reboot-notifier-probe"); ok {
		update(dev, a)
	}
	enable := info.Enable
	if fw != nil {
		if v, ok := fw.PropUint32("reboot-notifier-enable"); ok {
			enable = v != 0
		}
	}
	if !enable {
		return nil, nil
	}
	n := &Notifier{
		Priority: info.Priority,
		dev:      dev,
		actions:  make(map[Mode]*Action),
	}
	for _, x := range []struct {
		mode Mode
		def  Action
	}{
		{Restart, info.Restart},
		{Halt, info.Halt},
		{PowerOff, info.PowerOff},
	} {
		a, ok := tuple(fw, "reboot-notifier-"+x.mode.String())
		if !ok {
			a = x.def
		}
		if a.Reg != RegNotPresent {
			n.modes |= 1 << uint(x.mode)
		}
		n.actions[x.mode] = &a
	}
	if fw != nil {
		if v, ok := fw.PropUint32("reboot-notifier-priority"); ok {
			n.Priority = int(int32(v))
		}
	}
	dev.AddGroups(n.Attrs())
	if n.modes == 0 {
		return nil, nil
	}
	c.Register(n)
	dev.AddAction(func() { c.Unregister(n) })
	return n, nil
}

// Attrs shows each action with the register's current value and stores
// "r=REG; m=MASK; v=VALUE".
func (n *Notifier) Attrs() *attr.Group {
	g := &attr.Group{Name: GroupName}
	for _, mode := range []Mode{Restart, Halt, PowerOff} {
		a := n.actions[mode]
		g.Attrs = append(g.Attrs, attr.RW(mode.String(),
			func() (string, error) { return n.show(a) },
			func(s string) error { return n.store(a, s) }))
	}
	return g
}

func (n *Notifier) show(a *Action) (string, error) {
	m := n.dev.Regmap()
	if m == nil {
		return "", fmt.Errorf("%s: %w", n.dev.Name(), ErrNoRegmap)
	}
	n.mutex.Lock()
	action := *a
	n.mutex.Unlock()
	if action.Reg == RegNotPresent {
		return "", fmt.Errorf("%s: register not present: %w",
			n.dev.Name(), ErrInvalid)
	}
	v, err := m.Read(action.Reg)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("r=%#x; m=%#x; v=%#x (%#x); cur=%#x (%#x)",
		action.Reg, action.Mask, action.Value,
		action.Mask&action.Value, v, action.Mask&v), nil
}

func (n *Notifier) store(a *Action, s string) error {
	if n.dev.Regmap() == nil {
		return fmt.Errorf("%s: %w", n.dev.Name(), ErrNoRegmap)
	}
	x, err := ParseAction(s)
	if err != nil {
		return err
	}
	n.mutex.Lock()
	*a = x
	n.mutex.Unlock()
	return nil
}

// ParseAction parses "r=REG; m=MASK; v=VALUE".
func ParseAction(s string) (Action, error) {
	var a Action
	fields := strings.Split(strings.TrimSpace(s), ";")
	if len(fields) != 3 {
		return a, fmt.Errorf("%q: %w", s, ErrInvalid)
	}
	for i, p := range []*uint32{&a.Reg, &a.Mask, &a.Value} {
		kv := strings.SplitN(strings.TrimSpace(fields[i]), "=", 2)
		if len(kv) != 2 || kv[0] != "rmv"[i:i+1] {
			return a, fmt.Errorf("%q: %w", s, ErrInvalid)
		}
		v, err := attr.ParseUint32(kv[1])
		if err != nil {
			return a, err
		}
		*p = v
	}
	return a, nil
}
