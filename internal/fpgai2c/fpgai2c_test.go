// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package fpgai2c

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/platinasystems/ciscofpga/internal/blkhdr"
	"github.com/platinasystems/ciscofpga/internal/fwnode"
	"github.com/platinasystems/ciscofpga/internal/mfd"
	"github.com/platinasystems/ciscofpga/internal/platform"
	"github.com/platinasystems/ciscofpga/internal/regaccess"
	"github.com/platinasystems/i2c"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) sleep(d time.Duration) { c.t = c.t.Add(d) }

type write struct{ reg, val uint32 }

// smb emulates the CSR handshake and receive buffer of an SMB block.
type smb struct {
	regs   map[uint32]uint32
	writes []write
	rx     []byte
	rxIdx  int
	busy   int
	status uint32
	start  bool
}

func newSMB(ver uint32) *smb {
	return &smb{regs: map[uint32]uint32{
		blkhdr.RegWord0: ver | 7<<6,
		blkhdr.RegMagic: blkhdr.Magic,
	}}
}

func (s *smb) Read(reg uint32) (uint32, error) {
	switch reg {
	case SMBCSR:
		if !s.start {
			return 0, nil
		}
		if s.busy > 0 {
			s.busy--
			return csrBusy, nil
		}
		s.start = false
		return s.status, nil
	case SMBRxBuf:
		return uint32(s.rx[s.rxIdx]), nil
	}
	return s.regs[reg], nil
}

func (s *smb) Write(reg, val uint32) error {
	s.writes = append(s.writes, write{reg, val})
	switch reg {
	case SMBCSR:
		s.start = val&csrStart != 0
	case SMBRxBuf:
		s.rxIdx = int(val >> 8)
	case SMBExt1:
		if val>>16 == 0 {
			s.rxIdx = int(val)
		}
	}
	s.regs[reg] = val
	return nil
}

func (s *smb) wrote(reg uint32) []uint32 {
	var l []uint32
	for _, w := range s.writes {
		if w.reg == reg {
			l = append(l, w.val)
		}
	}
	return l
}

func child(t *testing.T, name string, m regaccess.Regmap, n fwnode.Node) *platform.Device {
	t.Helper()
	parent := &platform.Device{BaseName: "cisco-fpga-bmc", ID: platform.DevIDNone}
	fpga := &mfd.FPGA{Regmap: m}
	parent.SetDrvData(fpga)
	mfd.ParentInit(parent, &fpga.Parent,
		func(*platform.Device, *regaccess.Config) (regaccess.Regmap, error) {
			return m, nil
		})
	dev := &platform.Device{
		BaseName: name,
		ID:       0,
		Parent:   parent,
		Resources: []platform.Resource{{
			Start: 0x1000,
			End:   0x10ff,
			Flags: platform.ResourceMem,
		}},
	}
	if n != nil {
		dev.Fwnode = n
	}
	return dev
}

func probeSMB(t *testing.T, s *smb, n fwnode.Node) (*HW, *Core, *clock) {
	t.Helper()
	core := NewCore()
	hw, err := ProbeSMB(child(t, "i2c-smb", s, n), core)
	if err != nil {
		t.Fatal(err)
	}
	c := &clock{t: time.Unix(1000, 0)}
	hw.SetClock(c.now, c.sleep)
	s.writes = nil
	return hw, core, c
}

func TestSMBWrite(t *testing.T) {
	s := newSMB(5)
	hw, _, _ := probeSMB(t, s, nil)
	if hw.Ver != 5 || hw.Func&i2c.TenBit_Address == 0 {
		t.Fatal("ver", hw.Ver, "func", hw.Func)
	}
	a := hw.Adapters[0]
	if !strings.HasPrefix(a.Name, "Cisco I2C adapter at 1000") {
		t.Error(a.Name)
	}
	err := a.Transfer([]i2c.Message{{Address: 0x50, Data: []byte{1, 2}}})
	if err != nil {
		t.Fatal(err)
	}
	tx := s.wrote(SMBTxBuf)
	if len(tx) != 2 || tx[0] != txValid|1 || tx[1] != txValid|1<<8|2 {
		t.Errorf("txbuf %#x", tx)
	}
	if v := s.wrote(SMBDevCtrl); len(v) != 1 || v[0] != 0 {
		t.Errorf("devctrl %#x", v)
	}
	csr := s.wrote(SMBCSR)
	if len(csr) != 1 || csr[0] != 0x2a02 {
		t.Errorf("csr %#x", csr)
	}
}

func TestSMBCombinedRead(t *testing.T) {
	s := newSMB(5)
	s.rx = []byte{0xa, 0xb, 0xc}
	s.busy = 3
	hw, _, _ := probeSMB(t, s, nil)
	rd := make([]byte, 3)
	err := hw.Adapters[0].Transfer([]i2c.Message{
		{Address: 0x50, Data: []byte{0x10}},
		{Address: 0x50, Flags: i2c.ReadData, Data: rd},
	})
	if err != nil {
		t.Fatal(err)
	}
	if string(rd) != "\x0a\x0b\x0c" {
		t.Errorf("read %x", rd)
	}
	csr := s.wrote(SMBCSR)
	if len(csr) != 1 || csr[0] != 0x113a03 {
		t.Errorf("csr %#x", csr)
	}
}

func TestSMBRecvLen(t *testing.T) {
	s := newSMB(5)
	s.rx = make([]byte, 1+BlockMax)
	s.rx[0] = 2
	s.rx[1], s.rx[2] = 0x55, 0x66
	hw, _, _ := probeSMB(t, s, nil)
	msgs := []i2c.Message{
		{Address: 0x50, Data: []byte{0x10}},
		{Address: 0x50, Flags: i2c.ReadData | i2c.Recv_Len,
			Data: make([]byte, 1, 1+BlockMax)},
	}
	if err := hw.Adapters[0].Transfer(msgs); err != nil {
		t.Fatal(err)
	}
	if d := msgs[1].Data; len(d) != 3 || d[1] != 0x55 || d[2] != 0x66 {
		t.Errorf("data %x", d)
	}
	ext0 := s.wrote(SMBExt0)
	if len(ext0) != 2 || ext0[0] != extEnable|33 || ext0[1] != 0 {
		t.Errorf("ext0 %#x", ext0)
	}

	short := []i2c.Message{
		{Address: 0x50, Data: []byte{0x10}},
		{Address: 0x50, Flags: i2c.ReadData | i2c.Recv_Len,
			Data: make([]byte, 1)},
	}
	if err := hw.Adapters[0].Transfer(short); !errors.Is(err, ErrInvalid) {
		t.Error("short buffer", err)
	}
}

func TestSMBQuirks(t *testing.T) {
	s := newSMB(5)
	hw, _, _ := probeSMB(t, s, nil)
	a := hw.Adapters[0]
	w := i2c.Message{Address: 0x50, Data: []byte{1}}
	r := i2c.Message{Address: 0x50, Flags: i2c.ReadData, Data: []byte{0}}
	for name, msgs := range map[string][]i2c.Message{
		"three":         {w, w, w},
		"read first":    {r, w},
		"other address": {w, {Address: 0x51, Flags: i2c.ReadData, Data: []byte{0}}},
		"long write":    {{Address: 0x50, Data: make([]byte, smbMaxLen+1)}},
		"long prefix":   {{Address: 0x50, Data: make([]byte, smbMaxPreLen+1)}, r},
	} {
		if err := a.Transfer(msgs); !errors.Is(err, ErrNotSupported) {
			t.Error(name, err)
		}
	}
	if len(s.writes) != 0 {
		t.Error("rejected transfers touched the block")
	}
}

func TestSMBFault(t *testing.T) {
	s := newSMB(5)
	s.status = csrFault
	hw, _, _ := probeSMB(t, s, nil)
	err := hw.Adapters[0].Transfer([]i2c.Message{{Address: 0x50,
		Data: []byte{1}}})
	if !errors.Is(err, ErrFault) {
		t.Error(err)
	}
}

func TestSMBTimeout(t *testing.T) {
	s := newSMB(5)
	s.busy = 1 << 30
	hw, _, c := probeSMB(t, s, nil)
	start := c.t
	err := hw.Adapters[0].Transfer([]i2c.Message{{Address: 0x50,
		Data: []byte{1}}})
	if !errors.Is(err, ErrTimeout) {
		t.Fatal(err)
	}
	if d := c.t.Sub(start); d < smbTemplate.Timeout {
		t.Error("gave up after", d)
	}
}

func TestSMBAdapters(t *testing.T) {
	s := newSMB(5)
	n := fwnode.New("i2c-smb", map[string]interface{}{
		"nicknames": []string{"rp", "lc"},
	})
	hw, core, _ := probeSMB(t, s, n)
	if len(hw.Adapters) != 2 || hw.Func&i2c.TenBit_Address != 0 {
		t.Fatal(len(hw.Adapters), hw.Func)
	}
	a, b := hw.Adapters[0], hw.Adapters[1]
	if !strings.HasPrefix(b.Name, "lc: Cisco I2C adapter") {
		t.Error(b.Name)
	}
	l := core.Adapters()
	if len(l) != 2 || l[0] != a || l[1] != b || b.String() != "i2c-1" {
		t.Error(l)
	}
	a.Lock()
	if b.TryLock() {
		t.Error("adapters don't share the bus lock")
	}
	a.Unlock()
	if !b.TryLock() {
		t.Error("bus lock not released")
	}
	b.Unlock()

	if err := b.Transfer([]i2c.Message{{Address: 0x50,
		Data: []byte{1}}}); err != nil {
		t.Fatal(err)
	}
	if v := s.wrote(SMBDevCtrl); len(v) != 1 || v[0] != 1 {
		t.Errorf("devctrl %#x", v)
	}
	tenbit := []i2c.Message{{Address: 0x150, Flags: i2c.TenBit,
		Data: []byte{1}}}
	if err := b.Transfer(tenbit); !errors.Is(err, ErrInvalid) {
		t.Error("10 bit", err)
	}
}

func TestGroups(t *testing.T) {
	s := newSMB(5)
	hw, core, _ := probeSMB(t, s, nil)
	paths := strings.Join(hw.Dev.Attrs().Paths(), " ")
	if !strings.Contains(paths, "info/block_id") {
		t.Error(paths)
	}
	if strings.Contains(paths, "arbitration/") {
		t.Error("arbitration without multi-master", paths)
	}
	if v, err := hw.Dev.Attrs().Show("info/block_id"); err != nil || v != "7" {
		t.Error(v, err)
	}
	if len(core.Adapters()) != 1 {
		t.Fatal(core.Adapters())
	}
}

// ext emulates the config and interrupt status registers of an EXT
// block.
type ext struct {
	*smb
	fails int
	rdata uint32
}

func newExt(ver uint32) *ext { return &ext{smb: newSMB(ver), rdata: ExtRDataV5} }

func (e *ext) Read(reg uint32) (uint32, error) {
	switch reg {
	case ExtCfg:
		return 0, nil
	case ExtIntSts:
		if e.fails > 0 {
			e.fails--
			return extIntError.Mask(), nil
		}
		return extIntDone.Mask(), nil
	}
	if reg >= e.rdata && reg < e.rdata+0x100 {
		i := int(reg-e.rdata) & ^3
		var v uint32
		for j := 3; j >= 0; j-- {
			v <<= 8
			if i+j < len(e.rx) {
				v |= uint32(e.rx[i+j])
			}
		}
		return v, nil
	}
	return e.regs[reg], nil
}

func (e *ext) Write(reg, val uint32) error {
	e.writes = append(e.writes, write{reg, val})
	e.regs[reg] = val
	return nil
}

func probeExt(t *testing.T, e *ext) *HW {
	t.Helper()
	hw, err := ProbeExt(child(t, "i2c-ext", e, nil), NewCore())
	if err != nil {
		t.Fatal(err)
	}
	c := &clock{t: time.Unix(1000, 0)}
	hw.SetClock(c.now, c.sleep)
	e.writes = nil
	return hw
}

func TestExtWrite(t *testing.T) {
	e := newExt(5)
	hw := probeExt(t, e)
	if hw.BufSize != extBufSizeV5 || hw.RData != ExtRDataV5 {
		t.Fatal(hw.BufSize, hw.RData)
	}
	err := hw.Adapters[0].Transfer([]i2c.Message{{Address: 0x50,
		Data: []byte{1, 2, 3, 4, 5}}})
	if err != nil {
		t.Fatal(err)
	}
	wd := e.wrote(ExtWData)
	if len(wd) != 1 || wd[0] != 0x04030201 {
		t.Errorf("wdata %#x", wd)
	}
	if v := e.wrote(ExtWData + 4); len(v) != 1 || v[0] != 5 {
		t.Errorf("wdata[1] %#x", v)
	}
	if v := e.wrote(ExtCfg2); len(v) != 1 || v[0] != 5 {
		t.Errorf("cfg2 %#x", v)
	}
	cfg := e.wrote(ExtCfg)
	if len(cfg) != 1 {
		t.Fatalf("cfg %#x", cfg)
	}
	if extDevAddr.Get(cfg[0]) != 0x50 ||
		extAccessType.Get(cfg[0]) != extCurWrite ||
		extSpdCnt.Get(cfg[0]) != extSpeed100K ||
		extStartAccess.Get(cfg[0]) != 1 {
		t.Errorf("cfg %#x", cfg[0])
	}
}

func TestExtRead(t *testing.T) {
	e := newExt(5)
	e.rx = []byte{9, 8, 7, 6, 5, 4}
	hw := probeExt(t, e)
	rd := make([]byte, 6)
	err := hw.Adapters[0].Transfer([]i2c.Message{{Address: 0x50,
		Flags: i2c.ReadData, Data: rd}})
	if err != nil {
		t.Fatal(err)
	}
	if string(rd) != "\x09\x08\x07\x06\x05\x04" {
		t.Errorf("read %x", rd)
	}
	if v := e.wrote(ExtCfg2); len(v) != 1 || extRDataSize.Get(v[0]) != 6 {
		t.Errorf("cfg2 %#x", v)
	}
}

func TestExtRetry(t *testing.T) {
	e := newExt(4)
	hw := probeExt(t, e)
	if hw.BufSize != extBufSize || hw.RData != ExtRData {
		t.Fatal(hw.BufSize, hw.RData)
	}
	e.fails = 1
	err := hw.Adapters[0].Transfer([]i2c.Message{{Address: 0x50,
		Data: []byte{1}}})
	if err != nil {
		t.Fatal(err)
	}
	starts := 0
	for _, v := range e.wrote(ExtCfg) {
		if extStartAccess.Get(v) != 0 {
			starts++
		}
	}
	if starts != 2 {
		t.Error(starts, "starts")
	}

	e.fails = 1 << 10
	err = hw.Adapters[0].Transfer([]i2c.Message{{Address: 0x50,
		Data: []byte{1}}})
	if !errors.Is(err, ErrFault) {
		t.Error(err)
	}
}
