// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package blkhdr

import (
	"fmt"

	"github.com/platinasystems/ciscofpga/internal/regaccess"
)

// Block is one entry of a synthesized block table.
type Block struct {
	Header
	// Size in bytes, a multiple of 256; zero means 0x100.
	Size uint32
	// Corrupt blocks are written with a bad magic.
	Corrupt bool
}

// Image lays out an info ROM followed by Blocks, normally ending with a
// tail block. It is used by simulators and tests in place of hardware.
type Image struct {
	Info InfoROM
	// InfoSize is the size of block 0; zero means 0x1000.
	InfoSize uint32
	Blocks   []Block
}

// Tail returns a terminal block.
func Tail() Block {
	return Block{Header: Header{ID: IDTail, Maj: 1}}
}

// Build encodes the image. Info.NumBlocks defaults to len(Blocks)+1 and the
// offset table is filled in for table capable ROMs.
func (img *Image) Build() ([]byte, error) {
	info := img.Info
	info.Magic = Magic
	info.ID = IDInfo
	infoSize := img.InfoSize
	if infoSize == 0 {
		infoSize = LegacyStride
	}
	if info.NumBlocks == 0 {
		info.NumBlocks = uint32(len(img.Blocks) + 1)
	}
	if info.HasTable() && infoSize < InfoSize {
		return nil, fmt.Errorf("info size %#x overlaps its offset table: %w",
			infoSize, regaccess.ErrInvalid)
	}
	if len(img.Blocks)+1 > MaxBlocks {
		return nil, fmt.Errorf("%d blocks: %w", len(img.Blocks)+1,
			regaccess.ErrInvalid)
	}
	abs := []uint32{0, infoSize}
	for _, blk := range img.Blocks {
		size := blk.Size
		if size == 0 {
			size = 0x100
		}
		if !info.HasTable() {
			size = LegacyStride
		}
		abs = append(abs, abs[len(abs)-1]+size)
	}
	if !info.HasTable() {
		abs[1] = LegacyStride
		for i := 2; i < len(abs); i++ {
			abs[i] = abs[i-1] + LegacyStride
		}
	}
	table, err := EncodeOffsets(abs)
	if err != nil {
		return nil, err
	}
	if info.HasTable() {
		info.BlockOffset = [MaxBlocks]uint16{}
		copy(info.BlockOffset[:], table)
	}
	end := abs[len(abs)-1]
	if end < InfoSize {
		end = InfoSize
	}
	b := make([]byte, end)
	info.Encode(b)
	m := regaccess.NewMemFrom(b)
	for i, blk := range img.Blocks {
		h := blk.Header
		h.Magic = Magic
		if blk.Corrupt {
			h.Magic = ^uint32(Magic)
		}
		if err = Write(m, abs[i+1], h); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Mem builds the image into a register map.
func (img *Image) Mem() (*regaccess.Mem, error) {
	b, err := img.Build()
	if err != nil {
		return nil, err
	}
	return regaccess.NewMemFrom(b), nil
}
