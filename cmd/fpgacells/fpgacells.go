// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package fpgacells prints the devices that an FPGA's block table yields.
package fpgacells

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/mattn/go-isatty"
	"github.com/platinasystems/ciscofpga/internal/fwnode"
	"github.com/platinasystems/ciscofpga/internal/machine"
	"github.com/platinasystems/ciscofpga/internal/mfd"
	"github.com/platinasystems/ciscofpga/internal/platform"
	"github.com/platinasystems/ciscofpga/lang"
	"github.com/platinasystems/flags"
	"github.com/platinasystems/parms"
)

type Command struct{}

func (Command) String() string { return "fpgacells" }

func (Command) Usage() string {
	return "fpgacells [-info] [-skip] [-filter FILTER] [-debug MASK] " +
		"[-firmware FILE [-node PATH]] [-config FILE] SOURCE"
}

func (Command) Apropos() lang.Alt {
	return lang.Alt{
		lang.EnUS: "print the cells of an FPGA block table",
	}
}

func (Command) Man() lang.Alt {
	return lang.Alt{
		lang.EnUS: `
DESCRIPTION
	Walk the block table of the FPGA at SOURCE and print a line per
	synthesized cell: its device name, register window, block id and
	version, interrupts and compatible.

	SOURCE is one of
		pci:DOMAIN:BUS:DEV.FN[/BAR]
		i2c:BUS:ADDR
		[file:]IMAGE

OPTIONS
	-info		emit the info ROM as a cell
	-skip		skip blocks beyond the cell limit rather than abort
	-filter FILTER	capability filter, e.g. pci, regmap or pci|passive
	-debug MASK	walker debug bits
	-firmware FILE	devicetree blob or yaml description
	-node PATH	FPGA node within the firmware description
	-config FILE	take walker settings from this configuration`,
	}
}

func (Command) Main(args ...string) error {
	flag, args := flags.New(args, "-info", "-skip")
	parm, args := parms.New(args, "-filter", "-debug", "-firmware",
		"-node", "-config")
	if len(args) == 0 {
		return fmt.Errorf("SOURCE: missing")
	}
	if len(args) > 1 {
		return fmt.Errorf("%v: unexpected", args[1:])
	}
	cfg := &mfd.Config{Filter: mfd.FilterPCI}
	if fn := parm.ByName["-config"]; len(fn) > 0 {
		mcfg, err := machine.LoadConfig(fn)
		if err != nil {
			return err
		}
		cfg = &mcfg.MFD
	}
	if s := parm.ByName["-filter"]; len(s) > 0 {
		f, err := mfd.ParseFilter(s)
		if err != nil {
			return err
		}
		cfg.Filter = f
	}
	if s := parm.ByName["-debug"]; len(s) > 0 {
		u, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return fmt.Errorf("-debug %s: invalid", s)
		}
		cfg.Debug = uint32(u)
	}
	if flag.ByName["-info"] {
		cfg.EmitInfoCell = true
	}
	if flag.ByName["-skip"] {
		cfg.TooManyCells = mfd.SkipBlock
	}
	dev := &platform.Device{BaseName: machine.ParentName,
		ID: platform.DevIDNone}
	if fn := parm.ByName["-firmware"]; len(fn) > 0 {
		fw, err := machine.LoadFirmware(fn)
		if err != nil {
			return err
		}
		dev.Fwnode = fw
		if path := parm.ByName["-node"]; len(path) > 0 {
			if dev.Fwnode, err = fwnode.Lookup(fw, path); err != nil {
				return fmt.Errorf("%s: %v", path, err)
			}
		}
	}
	src, err := machine.ParseSource(args[0])
	if err != nil {
		return err
	}
	m, closer, err := src.Open()
	if err != nil {
		return err
	}
	defer closer.Close()
	meta, err := mfd.Cells(dev, m, cfg)
	if err != nil {
		return err
	}
	return Print(os.Stdout, meta, isatty.IsTerminal(os.Stdout.Fd()))
}

// Print writes a header and a line per cell. Aligned output pads the
// columns for a terminal, otherwise they're separated by a single tab.
func Print(w io.Writer, meta *mfd.Metadata, aligned bool) error {
	out := w
	var tw *tabwriter.Writer
	if aligned {
		tw = tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
		out = tw
	}
	fmt.Fprintf(out, "# info v%s rev %s, %d blocks, %d irqs\n",
		meta.Info.Version(), meta.Info.Revision(), meta.Info.NumBlocks,
		meta.MaxIRQs)
	fmt.Fprintln(out, "NAME\tSTART\tEND\tBLOCK\tVERSION\tIRQS\tCOMPATIBLE")
	for _, c := range meta.Cells {
		r := c.Resources[0]
		irqs := "-"
		if l := c.IRQs(); len(l) > 0 {
			s := make([]string, len(l))
			for i, irq := range l {
				s[i] = strconv.Itoa(irq)
			}
			irqs = strings.Join(s, ",")
		}
		compatible := c.Compatible
		if len(compatible) == 0 {
			compatible = "-"
		}
		fmt.Fprintf(out, "%s\t%#x\t%#x\t%d\t%s\t%s\t%s\n", c.DevName(),
			r.Start, r.End, c.BlockID, c.Header.Version(), irqs,
			compatible)
	}
	if tw != nil {
		return tw.Flush()
	}
	return nil
}
