// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package mfd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Filter selects the capability table entries relevant to a parent.
type Filter uint32

const (
	// FilterPCI parents map the FPGA through a PCI BAR.
	FilterPCI Filter = 1 << iota
	// FilterRegmap parents reach the FPGA through an I2C or other
	// indirect register map.
	FilterRegmap
	// FilterPassive parents sit in a standby slot.
	FilterPassive
)

var filterNames = []string{"pci", "regmap", "passive"}

func (f Filter) String() string {
	var s []string
	for i, name := range filterNames {
		if f&(1<<uint(i)) != 0 {
			s = append(s, name)
		}
	}
	if rest := f &^ (1<<uint(len(filterNames)) - 1); rest != 0 {
		s = append(s, fmt.Sprintf("%#x", uint32(rest)))
	}
	if len(s) == 0 {
		return "0"
	}
	return strings.Join(s, "|")
}

// ParseFilter accepts a number or names joined by '|' or ','.
func ParseFilter(s string) (Filter, error) {
	if u, err := strconv.ParseUint(s, 0, 32); err == nil {
		return Filter(u), nil
	}
	var f Filter
	for _, name := range strings.FieldsFunc(s, func(r rune) bool {
		return r == '|' || r == ',' || r == ' '
	}) {
		found := false
		for i, fn := range filterNames {
			if strings.EqualFold(name, fn) {
				f |= 1 << uint(i)
				found = true
			}
		}
		if !found {
			return 0, fmt.Errorf("%q: unknown filter", name)
		}
	}
	return f, nil
}

func (f *Filter) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case float64:
		*f = Filter(t)
		return nil
	case string:
		x, err := ParseFilter(t)
		if err == nil {
			*f = x
		}
		return err
	}
	return fmt.Errorf("filter: %s: unexpected type", b)
}

func (f Filter) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// Block is a capability table entry.
type Block struct {
	ID         int
	Name       string
	Compatible string
	NumIRQs    int
	IRQSet     uint32
	Filter     Filter
}

// IsUIO blocks are exported raw to user space.
func (blk *Block) IsUIO() bool { return strings.Contains(blk.Name, "-uio") }

const (
	pci     = FilterPCI
	regmap  = FilterRegmap
	passive = FilterPassive
)

// Names drop the cisco-fpga- prefix to fit driver id tables. A block id may
// have several entries that differ by filter. The id 0 entries at the end
// are fallbacks for unknown blocks.
var blocks = []Block{
	{7, "mdio", "cisco-fpga-mdio", 0, 0x00, pci | regmap},
	{8, "i2c-pex", "cisco-fpga-i2c-pex", 0, 0x00, regmap},
	{11, "spi", "cisco-fpga-spi", 1, 0x01, pci},
	{25, "led-ng", "cisco-fpga-led-ng", 0, 0x00, regmap},
	// wdt and p2pm-m interrupt lines may not be shared so there must be
	// only one of each per parent irq domain
	{33, "wdt", "cisco-fpga-wdt", 1, 0x02, pci},
	{33, "wdt", "cisco-fpga-wdt", 0, 0x00, regmap},
	{34, "uxbar", "cisco-fpga-uxbar", 1, 0x04, regmap | passive},
	{35, "info", "cisco-fpga-info", 0, 0x00, regmap | passive},
	{37, "gpio", "cisco-fpga-gpio", 1, 0x08, pci},
	{37, "gpio", "cisco-fpga-gpio", 0, 0x00, regmap},
	{50, "poller", "cisco-fpga-poller", 0, 0x00, pci},
	{57, "xil", "cisco-fpga-xil", 0, 0x00, pci | regmap | passive},
	{59, "spi", "cisco-fpga-spi", 1, 0x10, pci},
	{72, "i2c-smb", "cisco-fpga-i2c", 0, 0x00, pci | regmap},
	{80, "i2c-ext", "cisco-fpga-i2c-ext", 0, 0x00, regmap},
	{89, "pseq", "cisco-fpga-pseq", 0, 0x00, pci | regmap | passive},
	{93, "p2pm-m", "cisco-fpga-p2pm-m", 1, 0x20, pci},
	{94, "p2pm-s", "cisco-fpga-p2pm-s", 0, 0x00, regmap | passive},
	{96, "pwm", "cisco-bmc-pwm", 0, 0x00, regmap},
	{98, "bmc-led", "cisco-bmc-led", 0, 0x00, regmap},
	{99, "msd", "cisco-fpga-msd", 0, 0x00, regmap},
	{104, "fs", "cisco-fpga-fs", 0, 0x00, pci | passive | regmap},
	{105, "rptime", "cisco-fpga-rptime", 0, 0x00, regmap},
	{111, "cspi", "cisco-fpga-cspi", 0, 0x00, regmap | pci},
	{123, "misc-intrs", "cisco-fpga-misc-intrs", 0, 0x00, regmap},
	{124, "bmc-uart", "cisco-bmc-uart", 0, 0x00, regmap},
	{125, "lrstr", "cisco-fpga-lrstr", 0, 0x00, regmap | passive},
	{132, "led", "cisco-fpga-led", 0, 0x00, pci},
	{133, "i2c-pex-tod", "cisco-fpga-i2c-pex-tod", 0, 0x00, pci},
	{138, "retimer-dl", "cisco-fpga-retimer-dl", 0, 0x00, pci | regmap},
	{140, "bmc-p2pm-m-lite", "cisco-bmc-p2pm-m-lite", 0, 0x00, regmap},
	{152, "pzctl", "cisco-fpga-pzctl", 0, 0x00, pci | passive | regmap},
	{166, "slpc-m", "cisco-fpga-slpc-m", 1, 0x40, pci | regmap},
	{167, "slpc-s", "cisco-fpga-slpc-s", 0, 0x00, regmap},

	{0, "", "", 0, 0x00, passive},
	{0, "cisco-fpga-uio", "cisco-fpga-uio", 0, 0x00, pci},
	{0, "cisco-bmc-uio", "cisco-bmc-uio", 0, 0x00, regmap},
	{0, "cisco-unknown-uio", "cisco-unknown-uio", 0, 0x00, 0},
}

var intrBlock = Block{ID: 38, Name: "intr"}

// Blocks returns a copy of the capability table.
func Blocks() []Block {
	return append([]Block(nil), blocks...)
}

// Match returns the first entry for id whose filter intersects filter, else
// the first fallback that does. The result always carries id. An empty Name
// means the block is not relevant to this parent.
func Match(id int, filter Filter) Block {
	i := 0
	for ; blocks[i].ID != 0; i++ {
		if blocks[i].ID == id && blocks[i].Filter&filter != 0 {
			return blocks[i]
		}
	}
	for ; blocks[i].Filter != 0; i++ {
		if blocks[i].Filter&filter != 0 {
			break
		}
	}
	blk := blocks[i]
	blk.ID = id
	return blk
}
