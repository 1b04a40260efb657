// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package blkhdr decodes the 20 byte header that starts every FPGA IP block
// and the info ROM found in block 0.
package blkhdr

import (
	"errors"
	"fmt"

	"github.com/platinasystems/ciscofpga/internal/regaccess"
)

const (
	Magic = 0xc15c0595
	Size  = 20

	IDInfo = 35
	IDIntr = 38
	IDTail = 255

	// Interrupt lines behind an interrupt block before and after v8.
	MaxIRQsPreV8 = 10
	MaxIRQsV8    = 12
)

var ErrBadMagic = errors.New("bad magic")

var (
	fMaj      = regaccess.Field{Hi: 5, Lo: 0}
	fID       = regaccess.Field{Hi: 13, Lo: 6}
	fOffset   = regaccess.Field{Hi: 31, Lo: 14}
	fMinorVer = regaccess.Field{Hi: 4, Lo: 0}
	fFPGANum  = regaccess.Field{Hi: 8, Lo: 5}
	fInstNum  = regaccess.Field{Hi: 15, Lo: 9}
	fArraySz  = regaccess.Field{Hi: 23, Lo: 16}
	fCfgRegs  = regaccess.Field{Hi: 31, Lo: 24}
)

// Register offsets of the header words.
const (
	RegWord0 = 0x00
	RegWord1 = 0x04
	RegSW0   = 0x08
	RegSW1   = 0x0c
	RegMagic = 0x10
)

type Header struct {
	Maj        uint8
	ID         uint8
	Offset     uint32
	MinorVer   uint8
	FPGANum    uint8
	InstNum    uint8
	ArraySz    uint8
	CfgRegsNum uint8
	SW0, SW1   uint32
	Magic      uint32
}

// Decode the five header words.
func Decode(w [5]uint32) Header {
	return Header{
		Maj:        uint8(fMaj.Get(w[0])),
		ID:         uint8(fID.Get(w[0])),
		Offset:     fOffset.Get(w[0]),
		MinorVer:   uint8(fMinorVer.Get(w[1])),
		FPGANum:    uint8(fFPGANum.Get(w[1])),
		InstNum:    uint8(fInstNum.Get(w[1])),
		ArraySz:    uint8(fArraySz.Get(w[1])),
		CfgRegsNum: uint8(fCfgRegs.Get(w[1])),
		SW0:        w[2],
		SW1:        w[3],
		Magic:      w[4],
	}
}

// Words encodes the header.
func (h Header) Words() [5]uint32 {
	return [5]uint32{
		fMaj.Set(uint32(h.Maj)) | fID.Set(uint32(h.ID)) |
			fOffset.Set(h.Offset),
		fMinorVer.Set(uint32(h.MinorVer)) |
			fFPGANum.Set(uint32(h.FPGANum)) |
			fInstNum.Set(uint32(h.InstNum)) |
			fArraySz.Set(uint32(h.ArraySz)) |
			fCfgRegs.Set(uint32(h.CfgRegsNum)),
		h.SW0,
		h.SW1,
		h.Magic,
	}
}

func (h Header) Valid() bool { return h.Magic == Magic }

func (h Header) Version() string {
	return fmt.Sprintf("%d.%d", h.Maj, h.MinorVer)
}

// Scratch is the 64-bit scratch pad formed by the two scratch words.
func (h Header) Scratch() uint64 {
	return uint64(h.SW0)<<32 | uint64(h.SW1)
}

// MaxIRQs is the number of interrupt lines of an interrupt block.
func (h Header) MaxIRQs() uint {
	if h.Maj < 8 {
		return MaxIRQsPreV8
	}
	return MaxIRQsV8
}

func (h Header) String() string {
	return fmt.Sprintf("v%d.%d block %d", h.Maj, h.MinorVer, h.ID)
}

// Read the header at byte offset off. Transport errors are returned as is;
// an invalid magic returns the decoded header with ErrBadMagic.
func Read(m regaccess.Regmap, off uint32) (Header, error) {
	var w [5]uint32
	for i := range w {
		v, err := m.Read(off + uint32(4*i))
		if err != nil {
			return Header{}, err
		}
		w[i] = v
	}
	h := Decode(w)
	if !h.Valid() {
		return h, fmt.Errorf("%#x: %#08x: %w", off, h.Magic, ErrBadMagic)
	}
	return h, nil
}

// Write the header at byte offset off.
func Write(m regaccess.Regmap, off uint32, h Header) error {
	for i, v := range h.Words() {
		if err := m.Write(off+uint32(4*i), v); err != nil {
			return err
		}
	}
	return nil
}
