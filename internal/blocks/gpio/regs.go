// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package gpio

import (
	"fmt"
	"strconv"

	"github.com/platinasystems/ciscofpga/internal/regaccess"
)

const (
	RegCfg0 = 0x20
	RegCfg1 = 0x24
	RegIO   = 0x40

	IOStride = 0x20

	// Offsets within a pin's io window.
	CfgStat  = 0x00
	IOSet    = 0x04
	IOClr    = 0x08
	IntrData = 0x0c
	IOMem    = 0x10

	MaxGPIOs    = 1022
	MaxRegister = RegIO + IOStride*MaxGPIOs - 1

	// Pin table words a simulator left unset.
	simUninitialized = 0xa5a5a5a5
)

// IO returns the register of the pin's io window at off.
func IO(pin uint, off uint32) uint32 {
	return RegIO + IOStride*uint32(pin) + off
}

var (
	RemapEn     = regaccess.Bit(1)
	RemapRdWrEn = regaccess.Bit(0)
	DelayDur    = regaccess.Field{Hi: 31, Lo: 16}
	FilterDur   = regaccess.Field{Hi: 15, Lo: 0}
)

// cfg_stat; set and clr share the single bit fields.
var (
	FuncEn    = regaccess.Bit(31)
	IntType   = regaccess.Field{Hi: 30, Lo: 28}
	FitSel    = regaccess.Field{Hi: 27, Lo: 26}
	Trigger   = regaccess.Bit(25)
	Dir       = regaccess.Bit(24)
	IntMSI    = regaccess.Field{Hi: 23, Lo: 20}
	IntFilter = regaccess.Field{Hi: 19, Lo: 12}
	DisOutput = regaccess.Bit(6)
	IntEnb    = regaccess.Bit(5)
	OutState  = regaccess.Bit(4)
	IntState  = regaccess.Bit(1)
	InState   = regaccess.Bit(0)

	IntrDataData = regaccess.Field{Hi: 23, Lo: 0}
)

// Pin table words.
var (
	IsGroup       = regaccess.Bit(31)
	GroupID       = regaccess.Field{Hi: 27, Lo: 16}
	GroupPinCount = regaccess.Field{Hi: 15, Lo: 8}
	GroupInstance = regaccess.Field{Hi: 7, Lo: 0}
	PinID         = regaccess.Field{Hi: 30, Lo: 8}
	PinInstance   = regaccess.Field{Hi: 7, Lo: 0}
)

const (
	PinIDNoGroup     = 0
	PinIDUnsupported = 0x7fffff
)

const (
	DirInput  = 0
	DirOutput = 1

	OutputEnable   = 0
	OutputTristate = 1
)

// Interrupt types of the IntType field.
const (
	IntDisabled = iota
	IntLevelHigh
	IntLevelLow
	IntPositiveEdge
	IntNegativeEdge
	IntAnyEdge
)

var (
	intTypes   = []string{"disable", "level-high", "level-low", "positive-edge", "negative-edge", "any-edge"}
	fitSels    = []string{"disable", "invert", "stuck-1", "stuck-0"}
	triggers   = []string{"clear-fault", "insert-fault"}
	dirs       = []string{"input", "output"}
	disOutputs = []string{"enable", "tristate"}
	enables    = []string{"disable", "enable"}
	states     = []string{"low", "high"}
)

func lookup(names []string, i uint32) string {
	if int(i) < len(names) {
		return names[i]
	}
	return fmt.Sprint(i)
}

func index(names []string, s string) (uint32, bool) {
	for i, name := range names {
		if s == name {
			return uint32(i), true
		}
	}
	return 0, false
}

// RebootType is how the card last came up, as left in the low bits of the
// header's second scratch word by the software that rebooted it.
type RebootType uint8

const (
	RebootUnset RebootType = iota
	RebootCold
	RebootFast
	RebootWarm
	maxRebootType

	RebootTypeMask = 0x3
)

var rebootTypes = []string{
	RebootUnset: "unset",
	RebootCold:  "cold-reboot",
	RebootFast:  "fast-reboot",
	RebootWarm:  "warm-reboot",
}

func (t RebootType) String() string {
	if t < maxRebootType {
		return rebootTypes[t]
	}
	return "illegal"
}

// ParseRebootType accepts "cold", "cold-reboot" and so on, or the number.
func ParseRebootType(s string) (RebootType, error) {
	for i, name := range rebootTypes {
		if s == name || s+"-reboot" == name {
			return RebootType(i), nil
		}
	}
	if u, err := strconv.ParseUint(s, 0, 8); err == nil &&
		RebootType(u) < maxRebootType {
		return RebootType(u), nil
	}
	return RebootUnset, fmt.Errorf("%q: %w", s, regaccess.ErrInvalid)
}
