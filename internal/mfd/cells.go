// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package mfd walks the block table of a Cisco FPGA and synthesizes one
// platform device cell per recognized block.
package mfd

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"

	"github.com/platinasystems/ciscofpga/internal/blkhdr"
	"github.com/platinasystems/ciscofpga/internal/fwnode"
	"github.com/platinasystems/ciscofpga/internal/platform"
	"github.com/platinasystems/ciscofpga/internal/regaccess"
	"github.com/platinasystems/log"
)

var (
	ErrNoDevice     = errors.New("no such device")
	ErrNoInfoROM    = errors.New("missing info ROM")
	ErrTooManyCells = errors.New("too many cells")
	ErrInvalid      = regaccess.ErrInvalid
)

// NameSize bounds synthesized names, terminator included.
const NameSize = 20

// LegacyIntrOffset is where v6 and later images without an interrupt entry
// keep an unlabeled interrupt block.
const LegacyIntrOffset = 0x20000

// Cell describes one child device.
type Cell struct {
	Name    string
	ID      int
	BlockID int
	Header  blkhdr.Header
	// Resources[0] is the register window; any others are interrupts.
	Resources    []platform.Resource
	Compatible   string
	OfReg        uint64
	ADR          uint64
	Fwnode       fwnode.Node
	PlatformData interface{}
}

// DevName is the name the device will register with, "?" for auto ids.
func (c *Cell) DevName() string {
	switch c.ID {
	case platform.DevIDNone:
		return c.Name
	case platform.DevIDAuto:
		return c.Name + ".?"
	}
	return fmt.Sprintf("%s.%d", c.Name, c.ID)
}

// IRQs lists the hardware interrupt lines of the cell.
func (c *Cell) IRQs() []int {
	var irqs []int
	for _, r := range c.Resources {
		if r.Flags == platform.ResourceIRQ {
			irqs = append(irqs, int(r.Start))
		}
	}
	return irqs
}

// Child is what the firmware description expects at an address.
type Child struct {
	Node        fwnode.Node
	ADR         uint64
	ID          int
	Name        string
	NameSuffix  string
	Ignore      bool
	BlockID     int
	HaveBlockID bool
}

// Metadata is the result of a walk.
type Metadata struct {
	Info     *blkhdr.InfoROM
	Cells    []Cell
	Children []Child
	// Intr is the register window of the interrupt block, if any.
	Intr        *platform.Resource
	MaxCells    int
	MaxIRQs     uint
	DefaultID   int
	BlockOffset [blkhdr.MaxBlocks]uint16
}

type walker struct {
	dev  *platform.Device
	cfg  Config
	meta *Metadata
}

func (w *walker) name() string {
	if w.dev == nil {
		return "fpga"
	}
	return w.dev.Name()
}

// msg logs informational progress, at err priority with DebugLoud.
func (w *walker) msg(format string, args ...interface{}) {
	pri := "info"
	if w.cfg.Debug&DebugLoud != 0 {
		pri = "err"
	}
	log.Print(pri, w.name(), ": ", fmt.Sprintf(format, args...))
}

func (w *walker) errf(format string, args ...interface{}) {
	log.Print("err", w.name(), ": ", fmt.Sprintf(format, args...))
}

func (w *walker) warnf(format string, args ...interface{}) {
	log.Print("warn", w.name(), ": ", fmt.Sprintf(format, args...))
}

// Cells reads the block table through m and returns the cells of the
// blocks that cfg.Filter selects. The device's firmware node, if any,
// supplies the expected children.
func Cells(dev *platform.Device, m regaccess.Regmap, cfg *Config) (*Metadata, error) {
	w := &walker{dev: dev}
	if cfg != nil {
		w.cfg = *cfg
	}
	info, err := blkhdr.ReadInfo(m, 0)
	if err != nil {
		if errors.Is(err, blkhdr.ErrBadMagic) {
			if w.cfg.Debug&DebugMagic != 0 {
				w.errf("%v; expected %#x", err, blkhdr.Magic)
			}
			return nil, fmt.Errorf("%s: %v: %w", w.name(), err,
				ErrNoDevice)
		}
		return nil, err
	}
	// The pre-table count is synthesized and always fits.
	if info.HasTable() && info.NumBlocks >= blkhdr.MaxBlocks-1 {
		if w.cfg.Debug != 0 {
			w.errf("bad num_blocks %d", info.NumBlocks)
		}
		return nil, fmt.Errorf("%s: num_blocks %d: %w", w.name(),
			info.NumBlocks, ErrInvalid)
	}
	w.meta = &Metadata{
		Info:        info,
		MaxCells:    int(info.NumBlocks) + 1,
		DefaultID:   platform.DevIDAuto,
		BlockOffset: info.BlockOffset,
	}
	if n := w.cfg.MaxCells; n > 0 && n < w.meta.MaxCells {
		w.meta.MaxCells = n
	}
	w.children()
	w.msg("%s", info.Revision())
	if !info.HasTable() {
		w.msg("hdr %d.%d; probe method: scan@%#x", info.Maj,
			info.MinorVer, blkhdr.LegacyStride)
	}

	blk := Match(int(info.ID), w.cfg.Filter)
	if blk.ID != blkhdr.IDInfo {
		w.errf("missing info_rom for id %d; filter %#x", info.ID,
			uint32(w.cfg.Filter))
		return nil, fmt.Errorf("%s: id %d: %w", w.name(), info.ID,
			ErrNoInfoROM)
	}
	if err = w.setupMaxIRQs(m); err != nil {
		return nil, err
	}
	if err = w.walk(m, blk); err != nil {
		return nil, err
	}
	w.dedup()
	if w.cfg.Debug&DebugDump != 0 {
		for i, c := range w.meta.Cells {
			r := c.Resources[0]
			w.errf("cell %d: %s [%#x: %#x..%#x]", i, c.Name,
				uint(r.Flags), r.Start, r.End)
		}
	}
	return w.meta, nil
}

// children loads the expected children and the parent's defaults.
func (w *walker) children() {
	var parent fwnode.Node
	if w.dev != nil {
		parent = w.dev.Fwnode
	}
	if parent == nil {
		if w.cfg.Debug != 0 {
			w.msg("no fwnode")
		}
		return
	}
	if v, ok := parent.PropUint32("devid"); ok {
		w.meta.DefaultID = int(v)
	} else if fwnode.Bool(parent, "devid-none") {
		w.meta.DefaultID = platform.DevIDNone
	}
	defaultSuffix := fwnode.String(parent, "device-name-suffix", "")
	for _, n := range parent.Children() {
		adr, ok := fwnode.Address(n)
		if !ok {
			continue
		}
		child := Child{Node: n, ADR: adr, ID: w.meta.DefaultID}
		if v, ok := n.PropUint32("devid"); ok {
			child.ID = int(v)
		} else if fwnode.Bool(n, "devid-none") {
			child.ID = platform.DevIDNone
		} else if fwnode.Bool(n, "devid-auto") {
			child.ID = platform.DevIDAuto
		}
		if s, ok := n.PropString("device-name"); ok && len(s) > 0 {
			child.Name = s
		} else {
			child.NameSuffix = fwnode.String(n, "device-name-suffix",
				defaultSuffix)
		}
		child.Ignore = fwnode.Bool(n, "ignore-cell")
		if v, ok := n.PropUint32("block-id"); ok && v < 256 {
			child.BlockID = int(v)
			child.HaveBlockID = true
		}
		w.meta.Children = append(w.meta.Children, child)
	}
	if w.cfg.Debug != 0 {
		w.msg("%d fwnode children", len(w.meta.Children))
	}
}

// setupMaxIRQs finds the interrupt block to learn the number of lines.
func (w *walker) setupMaxIRQs(m regaccess.Regmap) error {
	var nxtoff uint32
	for i := 0; i < int(w.meta.Info.NumBlocks); i++ {
		absoff := nxtoff
		nxtoff = absoff + uint32(w.meta.BlockOffset[i])<<8
		h, err := blkhdr.Read(m, absoff)
		if errors.Is(err, blkhdr.ErrBadMagic) {
			if w.cfg.Debug&DebugMagic != 0 {
				w.errf("setup_irq: %v; expected %#x", err,
					blkhdr.Magic)
			}
			continue
		} else if err != nil {
			return err
		}
		if h.ID == blkhdr.IDTail {
			break
		}
		if h.ID == blkhdr.IDIntr {
			w.meta.MaxIRQs = h.MaxIRQs()
			w.msg("max_irqs = %d (v%d.%d cell %d)", w.meta.MaxIRQs,
				h.Maj, h.MinorVer, h.ID)
			return nil
		}
	}
	w.errf("Missing INTR block")
	w.meta.MaxIRQs = 0
	return nil
}

func (w *walker) walk(m regaccess.Regmap, info Block) error {
	meta := w.meta
	nxtoff := uint32(meta.BlockOffset[0]) << 8
	if w.cfg.EmitInfoCell {
		if _, err := w.configure(info, 0, nxtoff,
			meta.Info.Header); err != nil {
			return err
		}
	}
	for i := 1; i < int(meta.Info.NumBlocks); i++ {
		absoff := nxtoff
		nxtoff = absoff + uint32(meta.BlockOffset[i])<<8
		h, err := blkhdr.Read(m, absoff)
		if errors.Is(err, blkhdr.ErrBadMagic) {
			if !meta.Info.HasTable() {
				w.errf("bad block at 0x%08x magic:0x%08x",
					absoff, h.Magic)
				return fmt.Errorf("%s: %v: %w", w.name(), err,
					ErrNoDevice)
			}
			if absoff != LegacyIntrOffset {
				w.warnf("bad block at 0x%08x magic:0x%08x",
					absoff, h.Magic)
			} else if _, err = w.configure(intrBlock, absoff,
				nxtoff, h); err != nil {
				return err
			}
			continue
		} else if err != nil {
			return err
		}
		switch h.ID {
		case blkhdr.IDTail:
			if w.cfg.Debug&DebugSkip != 0 {
				w.msg("tail block @ %x", absoff)
			}
			return nil
		case blkhdr.IDIntr:
			if _, err = w.configure(intrBlock, absoff, nxtoff,
				h); err != nil {
				return err
			}
			continue
		}
		blk := Match(int(h.ID), w.cfg.Filter)
		skipped := len(blk.Name) == 0
		if !skipped {
			if skipped, err = w.configure(blk, absoff, nxtoff,
				h); err != nil {
				return err
			}
		}
		if !skipped {
			w.msg("%s v%d.%d cell %d @ %x", blk.Name, h.Maj,
				h.MinorVer, h.ID, absoff)
		} else if w.cfg.Debug&DebugSkip != 0 {
			// generally a remote card whose own CPU manages the
			// rest of its cells
			w.msg("skipping v%d.%d cell %d @ %x", h.Maj,
				h.MinorVer, h.ID, absoff)
		}
	}
	return nil
}

// configure adds a cell for the block at [absoff, nxtoff) and reports
// whether it was skipped instead.
func (w *walker) configure(blk Block, absoff, nxtoff uint32,
	h blkhdr.Header) (bool, error) {
	meta := w.meta
	if len(meta.Cells) >= meta.MaxCells {
		w.errf("too many cells; reached limit of %d cells",
			len(meta.Cells))
		if w.cfg.TooManyCells == Abort {
			return true, fmt.Errorf("%s: block %d @ %#x: %w",
				w.name(), h.ID, absoff, ErrTooManyCells)
		}
		return true, nil
	}
	res := platform.Resource{
		Name:  "cell",
		Start: uint64(absoff),
		End:   uint64(nxtoff) - 1,
		Flags: platform.ResourceMem,
	}
	if blk.ID == blkhdr.IDIntr {
		if meta.Intr != nil {
			w.errf("extra interrupt block @ %x ignored", absoff)
			return true, nil
		}
		res.Name = "intr"
		meta.Intr = &res
		return false, nil
	}
	cell := Cell{
		Name:         blk.Name,
		ID:           platform.DevIDAuto,
		BlockID:      int(h.ID),
		Header:       h,
		Resources:    []platform.Resource{res},
		Compatible:   blk.Compatible,
		OfReg:        uint64(absoff),
		ADR:          uint64(absoff),
		PlatformData: w.cfg.PlatformData,
	}
	// The parent default id applies only to expected children; unknown
	// cells keep AUTO to avoid duplicates.
	for _, child := range meta.Children {
		if child.ADR != uint64(absoff) {
			continue
		}
		if child.Ignore {
			return true, nil
		}
		if child.HaveBlockID && child.BlockID != int(h.ID) {
			w.errf("Expected block_id %d @ offset %#x; read block_id %d",
				child.BlockID, child.ADR, h.ID)
			return true, nil
		}
		cell.ID = child.ID
		cell.Fwnode = child.Node
		if len(child.Name) > 0 {
			cell.Name = child.Name
		} else if len(child.NameSuffix) > 0 {
			cell.Name = truncate(blk.Name + child.NameSuffix)
		}
		break
	}
	irqSet := blk.IRQSet
	for irq := 0; irq < blk.NumIRQs && irqSet != 0; irq++ {
		hwirq := uint(bits.TrailingZeros32(irqSet))
		if hwirq >= meta.MaxIRQs {
			w.errf("IRQ %d out of range [0, %d]", hwirq,
				meta.MaxIRQs)
			break
		}
		cell.Resources = append(cell.Resources, platform.Resource{
			Name:  "irq",
			Start: uint64(hwirq),
			End:   uint64(hwirq),
			Flags: platform.ResourceIRQ,
		})
		irqSet &^= 1 << hwirq
	}
	// UIO is always AUTO
	if blk.ID == 0 || blk.IsUIO() {
		cell.ID = platform.DevIDAuto
	}
	meta.Cells = append(meta.Cells, cell)
	return false, nil
}

func truncate(s string) string {
	if len(s) > NameSize-1 {
		return s[:NameSize-1]
	}
	return s
}

// dedup forces every cell whose name and explicit id collide with a later
// cell to an AUTO id.
func (w *walker) dedup() {
	cells := w.meta.Cells
	for i := range cells {
		cell := &cells[i]
		if cell.ID == platform.DevIDAuto {
			continue
		}
		id := cell.ID
		for j := i + 1; j < len(cells); j++ {
			c := &cells[j]
			if c.Name == cell.Name && c.ID == cell.ID {
				c.ID = platform.DevIDAuto
				id = platform.DevIDAuto
			}
		}
		if cell.ID != id {
			w.errf("%s.%d duplicates detected; using auto devid",
				cell.Name, cell.ID)
			cell.ID = id
		}
	}
}

// Dedup applies the duplicate rule to a cell list built elsewhere.
func Dedup(cells []Cell) {
	w := &walker{meta: &Metadata{Cells: cells}}
	w.dedup()
}

// String summarizes the walk, one cell per line.
func (meta *Metadata) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "info v%s rev %s blocks %d irqs %d\n",
		meta.Info.Version(), meta.Info.Revision(), meta.Info.NumBlocks,
		meta.MaxIRQs)
	for i, c := range meta.Cells {
		r := c.Resources[0]
		fmt.Fprintf(&sb, "cell %d: %s [%#x..%#x] block %d v%s",
			i, c.DevName(), r.Start, r.End, c.BlockID,
			c.Header.Version())
		if irqs := c.IRQs(); len(irqs) > 0 {
			fmt.Fprintf(&sb, " irq %v", irqs)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
