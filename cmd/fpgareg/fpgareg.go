// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package fpgareg reads and writes the registers of an FPGA.
package fpgareg

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/platinasystems/ciscofpga/internal/blocks/msd"
	"github.com/platinasystems/ciscofpga/internal/machine"
	"github.com/platinasystems/ciscofpga/internal/regaccess"
	"github.com/platinasystems/ciscofpga/lang"
	"github.com/platinasystems/parms"
)

type Command struct{}

func (Command) String() string { return "fpgareg" }

func (Command) Usage() string {
	return "fpgareg [-offset OFFSET] SOURCE { REG[[HI:LO]][=VALUE] | dump [BYTES] | msd }..."
}

func (Command) Apropos() lang.Alt {
	return lang.Alt{
		lang.EnUS: "read and write FPGA registers",
	}
}

func (Command) Man() lang.Alt {
	return lang.Alt{
		lang.EnUS: `
DESCRIPTION
	Access the 32-bit registers of the FPGA at SOURCE, see fpgacells.
	Register numbers are byte offsets from the block at OFFSET.

	REG			print the register
	REG=VALUE		write the register
	REG[HI:LO]		print the field of bits HI through LO
	REG[BIT]=VALUE		update a single bit field
	dump [BYTES]		hex dump the block, 256 bytes by default
	msd			print the msd registers without read side
				effects

EXAMPLES
	fpgareg pci:0000:05:00.0 0x10
	fpgareg -offset 0x3000 i2c:3:0x40 0x28[25]=1 0x28`,
	}
}

func (Command) Main(args ...string) error {
	parm, args := parms.New(args, "-offset")
	if len(args) < 2 {
		return fmt.Errorf("SOURCE REG...: missing")
	}
	var base uint32
	if s := parm.ByName["-offset"]; len(s) > 0 {
		u, err := strconv.ParseUint(s, 0, 32)
		if err != nil || u&3 != 0 {
			return fmt.Errorf("-offset %s: invalid", s)
		}
		base = uint32(u)
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
	var rm regaccess.Regmap = m
	if base != 0 {
		rm = regaccess.NewWindow(m, base, regaccess.Default(src.String(),
			^uint32(0)-base))
	}
	tty := isatty.IsTerminal(os.Stdout.Fd())
	args = args[1:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "dump":
			n := 256
			if i+1 < len(args) {
				if u, err := strconv.ParseUint(args[i+1], 0, 31); err == nil {
					n = int(u)
					i++
				}
			}
			err = Dump(os.Stdout, rm, n, tty)
		case "msd":
			err = DumpMSD(os.Stdout, rm)
		default:
			var op *Op
			if op, err = ParseOp(args[i]); err == nil {
				err = op.Do(os.Stdout, rm)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Op is a register access.
type Op struct {
	Reg   uint32
	Field regaccess.Field
	Write bool
	Value uint32
}

// ParseOp parses REG[[HI:LO]][=VALUE].
func ParseOp(s string) (*Op, error) {
	op := &Op{Field: regaccess.Field{Hi: 31, Lo: 0}}
	bad := func() (*Op, error) {
		return nil, fmt.Errorf("%s: %w", s, regaccess.ErrInvalid)
	}
	rest := s
	if eq := strings.IndexByte(rest, '='); eq >= 0 {
		v, err := strconv.ParseUint(rest[eq+1:], 0, 32)
		if err != nil {
			return bad()
		}
		op.Write, op.Value, rest = true, uint32(v), rest[:eq]
	}
	if lb := strings.IndexByte(rest, '['); lb >= 0 {
		if !strings.HasSuffix(rest, "]") {
			return bad()
		}
		f := strings.Split(rest[lb+1:len(rest)-1], ":")
		if len(f) > 2 {
			return bad()
		}
		var bits [2]uint64
		for i := range f {
			b, err := strconv.ParseUint(f[i], 0, 8)
			if err != nil || b > 31 {
				return bad()
			}
			bits[i] = b
		}
		if len(f) == 1 {
			bits[1] = bits[0]
		}
		if bits[0] < bits[1] {
			return bad()
		}
		op.Field = regaccess.Field{Hi: uint(bits[0]), Lo: uint(bits[1])}
		rest = rest[:lb]
	}
	reg, err := strconv.ParseUint(rest, 0, 32)
	if err != nil || reg&3 != 0 {
		return bad()
	}
	op.Reg = uint32(reg)
	if op.Write && op.Value > op.Field.Limit() {
		return bad()
	}
	return op, nil
}

func (op *Op) whole() bool { return op.Field.Width() == 32 }

// Do performs the access, printing what was read or the result of a write.
func (op *Op) Do(w io.Writer, m regaccess.Regmap) error {
	if op.Write {
		var err error
		if op.whole() {
			err = m.Write(op.Reg, op.Value)
		} else {
			err = regaccess.UpdateBits(m, op.Reg, op.Field.Mask(),
				op.Field.Set(op.Value))
		}
		if err != nil {
			return err
		}
	}
	v, err := m.Read(op.Reg)
	if err != nil {
		return err
	}
	if op.whole() {
		_, err = fmt.Fprintf(w, "%#x: %#x\n", op.Reg, v)
	} else {
		_, err = fmt.Fprintf(w, "%#x[%d:%d]: %#x\n", op.Reg,
			op.Field.Hi, op.Field.Lo, op.Field.Get(v))
	}
	return err
}

// Dump n bytes from register 0, as a hex dump on a terminal and otherwise
// as a register and value per line.
func Dump(w io.Writer, m regaccess.Regmap, n int, tty bool) error {
	n &^= 3
	if tty {
		b := make([]byte, n)
		if err := regaccess.ReadBytes(m, 0, b); err != nil {
			return err
		}
		for _, line := range regaccess.HexDump("", b) {
			fmt.Fprintln(w, line)
		}
		return nil
	}
	words, err := regaccess.ReadBlock(m, 0, n/4)
	if err != nil {
		return err
	}
	for i, v := range words {
		fmt.Fprintf(w, "%#x %#x\n", 4*i, v)
	}
	return nil
}

// DumpMSD prints the msd registers that are safe to read.
func DumpMSD(w io.Writer, m regaccess.Regmap) error {
	regs, err := msd.Dump(m)
	if err != nil {
		return err
	}
	l := make([]uint32, 0, len(regs))
	for reg := range regs {
		l = append(l, reg)
	}
	sort.Slice(l, func(i, j int) bool { return l[i] < l[j] })
	for _, reg := range l {
		fmt.Fprintf(w, "%#x %#x\n", reg, regs[reg])
	}
	return nil
}
