// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package msd

import (
	"fmt"

	"github.com/platinasystems/ciscofpga/internal/arbitrate"
	"github.com/platinasystems/ciscofpga/internal/regaccess"
)

// Register layout shared by the msd and xil blocks.
const (
	RegIntrCfg0 = 0x18
	RegCfg0     = 0x20
	RegDNA      = 0x40
	RegDRPAddr  = 0xa8
	RegDRPData  = 0xac
	RegStatus0  = 0xbc
	RegIntSts   = 0xe0
	RegScratch  = 0x100

	NumCfg      = 8
	NumStatus   = 8
	ScratchSize = 0x400

	MaxRegister = arbitrate.OwnerBase + 4*arbitrate.NumOwners - 1
)

func Cfg(n int) uint32    { return RegCfg0 + 4*uint32(n) }
func Status(n int) uint32 { return RegStatus0 + 4*uint32(n) }

var (
	Cfg1 = Cfg(1)
	Cfg5 = Cfg(5)
	Cfg7 = Cfg(7)
)

var (
	PlatformID = regaccess.Field{Hi: 31, Lo: 28}
	FPGAID     = regaccess.Field{Hi: 27, Lo: 20}
	BoardVer   = regaccess.Field{Hi: 15, Lo: 12}
	BoardType  = regaccess.Field{Hi: 11, Lo: 8}

	Outshifts    = regaccess.Bit(8)
	Console      = regaccess.Bit(13)
	MasterSelect = regaccess.Bit(10)
	FCReady      = regaccess.Field{Hi: 7, Lo: 0}
)

const (
	MasterX86 = 0
	MasterBMC = 1

	ConsoleJumper = 0
	ConsoleUxbar  = 1
)

// Precious registers have read side effects and are skipped by dumps.
func Precious(reg uint32) bool {
	return reg >= arbitrate.OwnerBase ||
		(reg >= RegDRPAddr && reg < RegStatus0)
}

// Dump reads every register below the arbitration block that isn't
// precious, keyed by offset.
func Dump(m regaccess.Regmap) (map[uint32]uint32, error) {
	regs := make(map[uint32]uint32)
	for reg := uint32(0); reg < arbitrate.OwnerBase; reg += 4 {
		if Precious(reg) {
			continue
		}
		v, err := m.Read(reg)
		if err != nil {
			return regs, err
		}
		regs[reg] = v
	}
	return regs, nil
}

// Platform ids of status0.
const (
	PlatformFixed = 1 + iota
	PlatformDistributed
	PlatformCentral
)

var platformTypes = map[uint32]string{
	PlatformFixed:       "fixed",
	PlatformDistributed: "distributed",
	PlatformCentral:     "centralized",
}

var cardTypes = map[uint32]map[uint32]string{
	PlatformFixed: {
		1:  "RP:Fixed [BMC]",
		2:  "RP:Fixed [X86]",
		3:  "RP:Fixed [Sherman]",
		4:  "RP:Fixed [Kangaroo]",
		5:  "RP:Fixed [Pershing:Base]",
		6:  "RP:Fixed [Pershing:Mezzanine]",
		7:  "RP:Fixed [Churchill]",
		9:  "RP:Fixed [Valentine]",
		10: "RP:Fixed [Matilda_64]",
		11: "RP:Fixed [Matilda_32]",
		12: "RP:Fixed [Crocodile]",
		24: "RP:Fixed [Elmdon]",
	},
	PlatformDistributed: {
		0x20: "RP",
		0x21: "RP:Zenith",
		0x30: "LC:Exeter:Gauntlet",
		0x31: "LC:Exeter:Corsair",
		0x34: "LC:Exeter:Dauntless",
		0x40: "LC:Kenley:Gauntlet",
		0x41: "LC:Kenley:Corsair",
		0x42: "LC:Kirkwall:Vanguard",
		0x43: "LC:Kirkwall:Lancer",
		0x44: "LC:Redcliff:Dauntless",
		0x50: "FT:Warmwell",
		0x60: "FC",
		0x61: "FC:Fowlmere",
	},
	PlatformCentral: {
		1:    "ALTUS",
		2:    "KOBLER",
		3:    "BFISH",
		0x19: "CYCLONUS",
	},
}

// PlatformType names the platform_id of status0.
func PlatformType(status0 uint32) string {
	v := PlatformID.Get(status0)
	if s, found := platformTypes[v]; found {
		return s
	}
	return fmt.Sprintf("%d: unknown", v)
}

// CardType names the fpga_id of status0 within its platform.
func CardType(status0 uint32) string {
	platform := PlatformID.Get(status0)
	id := FPGAID.Get(status0)
	if s, found := cardTypes[platform][id]; found {
		return s
	}
	switch platform {
	case PlatformFixed:
		return fmt.Sprintf("RP:Fixed [%d:unknown]", id)
	case PlatformDistributed:
		return fmt.Sprintf("[distributed:%d:unknown]", id)
	case PlatformCentral:
		return fmt.Sprintf("[centralized:%d:unknown]", id)
	}
	return fmt.Sprintf("[unknown:%d:unknown]", id)
}

// MaxNPUs is the number of NPUs reporting init status on the card
// identified by status0. Sherman reports in status1 from bit 24.
func MaxNPUs(status0 uint32) (n int, reg uint32, offset uint) {
	platform := PlatformID.Get(status0)
	id := FPGAID.Get(status0)
	reg = Status(2)
	switch platform {
	case PlatformDistributed:
		switch id {
		case 0x61:
			n = 2
		case 0x60:
			n = 6
		case 0x40, 0x41:
			n = 4
		case 0x42, 0x43:
			n = 3
		}
	case PlatformFixed:
		if id == 3 {
			n, reg, offset = 1, Status(1), 24
		}
	}
	return
}
