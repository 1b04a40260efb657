// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package gpio

import (
	"errors"
	"fmt"
	"strings"

	"github.com/platinasystems/ciscofpga/internal/attr"
	"github.com/platinasystems/ciscofpga/internal/regaccess"
	"github.com/platinasystems/log"
)

var ErrWriteOnly = errors.New("write-only attribute")

func writeOnly() (string, error) { return "", ErrWriteOnly }

func (c *Chip) Group() *attr.Group {
	return &attr.Group{
		Attrs: []*attr.Attr{
			attr.RW("config", func() (string, error) {
				return c.Dump(), nil
			}, c.Config),
			attr.RW("set", writeOnly, func(s string) error {
				return c.strobe(s, IOSet)
			}),
			attr.RW("clear", writeOnly, func(s string) error {
				return c.strobe(s, IOClr)
			}),
			attr.RO("label", func() (string, error) {
				return c.Label, nil
			}),
			attr.RO("reboot_type", func() (string, error) {
				return c.RebootType.String(), nil
			}),
		},
	}
}

// Dump formats every mapped pin, one flow style yaml entry per line.
func (c *Chip) Dump() string {
	var sb strings.Builder
	for offset := range c.off {
		pin, err := c.io(offset)
		if err != nil {
			continue
		}
		v, err := c.read(IO(pin, CfgStat))
		if err != nil {
			continue
		}
		data, err := c.read(IO(pin, IntrData))
		if err != nil {
			continue
		}
		mem, err := c.read(IO(pin, IOMem))
		if err != nil {
			continue
		}
		fmt.Fprintf(&sb, "- {index: %d, offset: %d", offset, pin)
		if name := c.Name(offset); len(name) > 0 {
			fmt.Fprint(&sb, ", name: ", name)
		}
		fmt.Fprint(&sb, ", dir: ", lookup(dirs, Dir.Get(v)))
		if Dir.Get(v) == DirInput {
			fmt.Fprint(&sb, ", state: ", lookup(states, InState.Get(v)))
		} else {
			fmt.Fprint(&sb, ", output: ", lookup(disOutputs, DisOutput.Get(v)))
			fmt.Fprint(&sb, ", state: ", lookup(states, OutState.Get(v)))
		}
		fmt.Fprintf(&sb, ", intEnb: %s, intType: %s", lookup(enables,
			IntEnb.Get(v)), lookup(intTypes, IntType.Get(v)))
		fmt.Fprintf(&sb, ", intData: %#x, intMSI: %d, intPending: %d",
			data, IntMSI.Get(v), IntState.Get(v))
		fmt.Fprintf(&sb, ", fitSel: %s, trigger: %s",
			lookup(fitSels, FitSel.Get(v)), lookup(triggers, Trigger.Get(v)))
		if IsGroup.Get(mem) != 0 {
			fmt.Fprintf(&sb, ", group: %#x, group_instance: %#x, pin_count: %d",
				GroupID.Get(mem), GroupInstance.Get(mem),
				GroupPinCount.Get(mem))
		} else {
			fmt.Fprintf(&sb, ", pin_id: %#x, pin_instance: %#x",
				PinID.Get(mem), PinInstance.Get(mem))
		}
		sb.WriteString("}\n")
	}
	return sb.String()
}

type configToken struct {
	name  string
	field regaccess.Field
	// values names the field's settings; nil for numeric tokens
	values []string
	// mem tokens match the pin table word rather than set cfg_stat
	mem bool
}

var configTokens = []configToken{
	{name: "index"},
	{name: "intType", field: IntType, values: intTypes},
	{name: "fitSel", field: FitSel, values: fitSels},
	{name: "trigger", field: Trigger, values: triggers},
	{name: "dir", field: Dir, values: dirs},
	{name: "intMSI", field: IntMSI},
	{name: "output", field: DisOutput, values: disOutputs},
	{name: "intEnb", field: IntEnb, values: enables},
	{name: "state", field: OutState, values: states},
	{name: "group", field: GroupID, mem: true},
	{name: "pin_count", field: GroupPinCount, mem: true},
	{name: "group_instance", field: GroupInstance, mem: true},
	{name: "pin_id", field: PinID, mem: true},
	{name: "pin_instance", field: PinInstance, mem: true},
	{name: "name"},
}

func findConfigToken(name string) (int, bool) {
	for i, t := range configTokens {
		if t.name == name {
			return i, true
		}
	}
	return 0, false
}

func (c *Chip) invalid(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	log.Print("err", c.dev.Name(), ": ", msg)
	return fmt.Errorf("%s: %s: %w", c.dev.Name(), msg, attr.ErrInvalid)
}

// Config reconfigures one pin from a list of "token:value" separated by
// commas or newlines, e.g.
//
//	index: 3, dir: output, output: enable, state: high, name: LED0
//
// The index is required. Group and pin tokens must match the pin table
// entry of the pin, the rest replace fields of its cfg_stat. An input pin
// is left tristated with its interrupt disabled and cleared.
func (c *Chip) Config(s string) error {
	values := make(map[int]uint32)
	var name string
	seen := make(map[int]bool)
	for _, p := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '\n'
	}) {
		p = strings.TrimLeft(p, " \t")
		if len(p) == 0 {
			continue
		}
		colon := strings.IndexByte(p, ':')
		if colon < 0 {
			return c.invalid("%s: bad token", p)
		}
		tok, found := findConfigToken(p[:colon])
		if !found {
			return c.invalid("%s: bad token", p)
		}
		if seen[tok] {
			return c.invalid("%s: token repeated", p)
		}
		seen[tok] = true
		arg := strings.TrimSpace(p[colon+1:])
		if len(arg) == 0 || strings.ContainsAny(arg, " \t") {
			return c.invalid("%s: unexpected input", p)
		}
		t := &configTokens[tok]
		switch {
		case t.name == "name":
			name = arg
		case t.values != nil:
			v, ok := index(t.values, arg)
			if !ok {
				return c.invalid("%s: bad value %s", p, arg)
			}
			values[tok] = v
		default:
			v, err := attr.ParseUint32(arg)
			if err != nil {
				return c.invalid("%s: bad number %s", p, arg)
			}
			values[tok] = v
		}
	}
	idx, found := values[0]
	if !found {
		return c.invalid("index is required")
	}
	if int(idx) >= len(c.off) {
		return c.invalid("index: %#x is out of range [0..%d]", idx,
			len(c.off)-1)
	}
	offset := int(idx)
	pin, err := c.io(offset)
	if err != nil {
		return err
	}
	cfg, err := c.read(IO(pin, CfgStat))
	if err != nil {
		return err
	}
	mem, err := c.read(IO(pin, IOMem))
	if err != nil {
		return err
	}
	has := func(names ...string) bool {
		for _, name := range names {
			if i, _ := findConfigToken(name); seen[i] {
				return true
			}
		}
		return false
	}
	isGroup := IsGroup.Get(mem) != 0
	switch {
	case has("group", "group_instance", "pin_count"):
		if !isGroup {
			return c.invalid("group match requested for pin entry")
		}
		if has("pin_id", "pin_instance") {
			return c.invalid("cannot specify both group and pin parameters")
		}
	case has("pin_id", "pin_instance"):
		if isGroup {
			return c.invalid("pin match requested for group entry")
		}
	}
	for tok, v := range values {
		t := &configTokens[tok]
		if !t.mem {
			continue
		}
		if m := t.field.Get(mem); m != v {
			return c.invalid("%s: mismatch; mem %#x; request %#x",
				t.name, m, v)
		}
	}
	for tok, v := range values {
		t := &configTokens[tok]
		if tok == 0 || t.mem {
			continue
		}
		if v > t.field.Limit() {
			return c.invalid("%s: %#x is out of range [0..%d]", t.name, v,
				t.field.Limit())
		}
		cfg = t.field.Replace(cfg, v)
	}
	if Dir.Get(cfg) == DirInput {
		cfg = DisOutput.Replace(cfg, OutputTristate)
		err = c.write(IO(pin, IOClr), IntEnb.Set(1)|IntState.Set(1))
		if err != nil {
			return err
		}
	}
	if err = c.write(IO(pin, CfgStat), cfg); err != nil {
		return err
	}
	if len(name) > 0 && name != c.Name(offset) {
		c.setName(offset, name)
	}
	return nil
}

// strobe parses "index: N" and pulses the output of that pin through the
// set or clr register. These drive the physical level.
func (c *Chip) strobe(s string, reg uint32) error {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "index:") {
		return fmt.Errorf("%q: %w", s, attr.ErrInvalid)
	}
	idx, err := attr.ParseUint32(s[len("index:"):])
	if err != nil || int(idx) >= len(c.off) {
		return fmt.Errorf("%q: %w", s, attr.ErrInvalid)
	}
	pin, err := c.io(int(idx))
	if err != nil {
		return err
	}
	v, err := c.read(IO(pin, CfgStat))
	if err != nil {
		return err
	}
	if Dir.Get(v) == DirInput {
		return fmt.Errorf("%s: index %d is an input: %w", c.dev.Name(),
			idx, attr.ErrInvalid)
	}
	return c.write(IO(pin, reg), OutState.Set(1))
}
