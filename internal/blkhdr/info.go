// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package blkhdr

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/platinasystems/ciscofpga/internal/regaccess"
)

// Info ROM register offsets.
const (
	RegDevice      = 0x14
	RegFPGAID      = 0x18
	RegCfgInfo     = 0x1c
	RegVersion     = 0x20
	RegBuild       = 0x24
	RegComment     = 0x28
	RegNumBlocks   = 0x40
	RegBlockOffset = 0x44

	CommentSize = 24

	// MaxBlocks is the capacity of the block offset table.
	MaxBlocks = 256

	InfoSize = RegBlockOffset + 2*MaxBlocks

	// Info ROMs before this version have no block offset table.
	TableVersion = 6

	// LegacyStride separates blocks of pre-table ROMs.
	LegacyStride = 0x1000
)

var (
	fFamily = regaccess.Field{Hi: 31, Lo: 16}
	fVendor = regaccess.Field{Hi: 15, Lo: 0}
	fRevDbg = regaccess.Field{Hi: 31, Lo: 24}
	fRevMaj = regaccess.Field{Hi: 23, Lo: 16}
	fRevMin = regaccess.Field{Hi: 15, Lo: 0}
	fCfg    = regaccess.Field{Hi: 1, Lo: 0}
)

// Image types of the cfg_info register.
const (
	ImageGolden  = 2
	ImageUpgrade = 3
)

// InfoROM is block 0 of every FPGA.
type InfoROM struct {
	Header
	Vendor    uint16
	Family    uint16
	FPGAID    uint32
	CfgInfo   uint32
	RevMin    uint16
	RevMaj    uint8
	RevDbg    uint8
	Build     uint32
	Comment   string
	NumBlocks uint32
	// BlockOffset[i] is the size of block i in units of 256 bytes.
	BlockOffset [MaxBlocks]uint16
}

// HasTable reports whether the ROM carries a block offset table.
func (info *InfoROM) HasTable() bool { return info.Maj >= TableVersion }

// Revision as "maj.min.dbg-build".
func (info *InfoROM) Revision() string {
	return fmt.Sprintf("%d.%d.%d-%d", info.RevMaj, info.RevMin,
		info.RevDbg, info.Build)
}

func (info *InfoROM) ImageType() string {
	switch info.CfgInfo & fCfg.Mask() {
	case ImageGolden:
		return "golden"
	case ImageUpgrade:
		return "upgrade"
	}
	return fmt.Sprint(info.CfgInfo & fCfg.Mask())
}

// Offsets returns the byte offset of each of the first n blocks followed by
// the end of block n-1.
func (info *InfoROM) Offsets(n int) []uint32 {
	return Offsets(info.BlockOffset[:], n)
}

// ReadInfo reads the info ROM at byte offset off. Pre-table ROMs report 255
// blocks at LegacyStride.
func ReadInfo(m regaccess.Regmap, off uint32) (*InfoROM, error) {
	h, err := Read(m, off)
	if err != nil {
		return nil, err
	}
	w, err := regaccess.ReadBlock(m, off+RegDevice,
		(RegBlockOffset-RegDevice)/4)
	if err != nil {
		return nil, err
	}
	word := func(reg uint32) uint32 { return w[(reg-RegDevice)/4] }
	info := &InfoROM{
		Header:    h,
		Vendor:    uint16(fVendor.Get(word(RegDevice))),
		Family:    uint16(fFamily.Get(word(RegDevice))),
		FPGAID:    word(RegFPGAID),
		CfgInfo:   word(RegCfgInfo),
		RevMin:    uint16(fRevMin.Get(word(RegVersion))),
		RevMaj:    uint8(fRevMaj.Get(word(RegVersion))),
		RevDbg:    uint8(fRevDbg.Get(word(RegVersion))),
		Build:     word(RegBuild),
		NumBlocks: word(RegNumBlocks),
	}
	comment := make([]byte, CommentSize)
	for i := 0; i < CommentSize/4; i++ {
		binary.LittleEndian.PutUint32(comment[4*i:],
			word(RegComment+uint32(4*i)))
	}
	info.Comment = cstring(comment)
	if !info.HasTable() {
		info.NumBlocks = MaxBlocks - 1
		for i := range info.BlockOffset {
			info.BlockOffset[i] = LegacyStride >> 8
		}
		return info, nil
	}
	tbl, err := regaccess.ReadBlock(m, off+RegBlockOffset, MaxBlocks/2)
	if err != nil {
		return nil, err
	}
	for i, v := range tbl {
		info.BlockOffset[2*i] = uint16(v)
		info.BlockOffset[2*i+1] = uint16(v >> 16)
	}
	return info, nil
}

// Encode the ROM into b, which must hold InfoSize bytes.
func (info *InfoROM) Encode(b []byte) {
	le := binary.LittleEndian
	for i, v := range info.Header.Words() {
		le.PutUint32(b[4*i:], v)
	}
	le.PutUint32(b[RegDevice:], fFamily.Set(uint32(info.Family))|
		fVendor.Set(uint32(info.Vendor)))
	le.PutUint32(b[RegFPGAID:], info.FPGAID)
	le.PutUint32(b[RegCfgInfo:], info.CfgInfo)
	le.PutUint32(b[RegVersion:], fRevDbg.Set(uint32(info.RevDbg))|
		fRevMaj.Set(uint32(info.RevMaj))|
		fRevMin.Set(uint32(info.RevMin)))
	le.PutUint32(b[RegBuild:], info.Build)
	copy(b[RegComment:RegComment+CommentSize], make([]byte, CommentSize))
	copy(b[RegComment:RegComment+CommentSize], info.Comment)
	le.PutUint32(b[RegNumBlocks:], info.NumBlocks)
	for i, v := range info.BlockOffset {
		le.PutUint16(b[RegBlockOffset+2*i:], v)
	}
}

func cstring(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}

// Offsets decodes the first n entries of a block offset table into absolute
// byte offsets. The result has n+1 entries; the last is where block n-1 ends.
func Offsets(table []uint16, n int) []uint32 {
	if n > len(table) {
		n = len(table)
	}
	abs := make([]uint32, n+1)
	for i := 0; i < n; i++ {
		abs[i+1] = abs[i] + uint32(table[i])<<8
	}
	return abs
}

// EncodeOffsets is the inverse of Offsets. The first offset must be zero and
// every offset 256 byte aligned and strictly increasing.
func EncodeOffsets(abs []uint32) ([]uint16, error) {
	if len(abs) == 0 {
		return nil, nil
	}
	if abs[0] != 0 {
		return nil, fmt.Errorf("first block at %#x: %w", abs[0],
			regaccess.ErrInvalid)
	}
	table := make([]uint16, len(abs)-1)
	for i := range table {
		d := abs[i+1] - abs[i]
		if abs[i+1] <= abs[i] || d&0xff != 0 || d>>8 > 0xffff {
			return nil, fmt.Errorf("block %d: %#x..%#x: %w", i,
				abs[i], abs[i+1], regaccess.ErrInvalid)
		}
		table[i] = uint16(d >> 8)
	}
	return table, nil
}
