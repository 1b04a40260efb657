// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package fpgai2c

import (
	"encoding/binary"
	"time"

	"github.com/platinasystems/ciscofpga/internal/platform"
	"github.com/platinasystems/ciscofpga/internal/regaccess"
	"github.com/platinasystems/i2c"
	"github.com/platinasystems/log"
)

// EXT master registers.
const (
	ExtCfg     = 0x20
	ExtCfg2    = 0x28
	ExtIntSts  = 0x2c
	ExtWData   = 0x3c
	ExtRData   = 0x140
	ExtRDataV5 = 0x23c

	extSize = 0x43c

	extBufSize   = 256
	extBufSizeV5 = 512
)

var (
	extIntError   = regaccess.Bit(3)
	extIntTimeout = regaccess.Bit(2)
	extIntDone    = regaccess.Bit(1)

	extDevAddr     = regaccess.Field{Hi: 30, Lo: 24}
	extRegAddr     = regaccess.Field{Hi: 23, Lo: 16}
	extSpdCnt      = regaccess.Field{Hi: 15, Lo: 13}
	extDevSel      = regaccess.Field{Hi: 9, Lo: 6}
	extMode        = regaccess.Field{Hi: 5, Lo: 4}
	extAccessType  = regaccess.Field{Hi: 3, Lo: 2}
	extStartAccess = regaccess.Bit(1)
	extRst         = regaccess.Bit(0)

	extRDataSize = regaccess.Field{Hi: 26, Lo: 16}
	extWDataSize = regaccess.Field{Hi: 9, Lo: 0}
)

// Speed counts and access types.
const (
	extSpeed100K = 5
	extCurWrite  = 2
	extCurRead   = 3
	extModeI2C   = 0
)

var extTemplate = Template{
	Xfer:    extXfer,
	Recover: extRecover,
	Retries: 3,
	Timeout: 300 * time.Millisecond,
}

// ExtNames are the device names the EXT driver binds.
var ExtNames = []string{
	"i2c-ext",
	"i2c-ext-rp", "i2c-ext-lc", "i2c-ext-ft",
	"i2c-ext-fc0", "i2c-ext-fc1", "i2c-ext-fc2", "i2c-ext-fc3",
	"i2c-ext-fc4", "i2c-ext-fc5", "i2c-ext-fc6", "i2c-ext-fc7",
	"i2c-ext-pim1", "i2c-ext-pim2", "i2c-ext-pim3", "i2c-ext-pim4",
	"i2c-ext-pim5", "i2c-ext-pim6", "i2c-ext-pim7", "i2c-ext-pim8",
}

func ExtDriver(core *Core) *platform.Driver {
	return &platform.Driver{
		Name: "cisco-fpga-i2c-ext",
		IDs:  ids(ExtNames),
		Probe: func(dev *platform.Device) error {
			_, err := ProbeExt(dev, core)
			return err
		},
	}
}

// ProbeExt sets up and registers the EXT master dev.
func ProbeExt(dev *platform.Device, core *Core) (*HW, error) {
	hw, err := Init(dev, regaccess.Default(dev.Name(), extSize-1),
		&extTemplate, "I2C-EXT")
	if err != nil {
		return nil, err
	}
	if len(hw.Adapters) == 1 {
		hw.Func |= i2c.TenBit_Address
	}
	if hw.Ver <= 4 {
		hw.BufSize, hw.RData = extBufSize, ExtRData
	} else {
		hw.BufSize, hw.RData = extBufSizeV5, ExtRDataV5
	}
	if err = Register(dev, core, extReset); err != nil {
		return nil, err
	}
	return hw, nil
}

func extClearIntr(hw *HW) error {
	return hw.write(ExtIntSts,
		extIntError.Mask()|extIntTimeout.Mask()|extIntDone.Mask())
}

func extReset(a *Adapter) error {
	hw := a.hw
	err := hw.write(ExtCfg, extRst.Set(1))
	if err == nil {
		// some slaves need 33ms in reset
		hw.sleep(33 * time.Millisecond)
		err = hw.write(ExtCfg, extRst.Set(0))
		hw.sleep(10 * time.Microsecond)
	}
	return err
}

func extRecover(a *Adapter) error {
	log.Print("warn", a.Name, ": bus recovery")
	return extReset(a)
}

// extWaitDone waits for the start bit to clear, first sleeping 10us per
// bit of the transfer.
func extWaitDone(a *Adapter, n int) error {
	hw := a.hw
	if n > 0 {
		hw.sleep(time.Duration(n*10) * time.Microsecond)
	}
	cfg, err := hw.read(ExtCfg)
	if err != nil {
		return err
	}
	if extStartAccess.Get(cfg) != 0 {
		deadline := hw.now().Add(a.Timeout)
		for err == nil && extStartAccess.Get(cfg) != 0 &&
			!hw.now().After(deadline) {
			hw.sleep(80 * time.Microsecond)
			cfg, err = hw.read(ExtCfg)
		}
	}
	if err == nil && extStartAccess.Get(cfg) != 0 {
		err = ErrBusy
	}
	return err
}

func extCheckErr(hw *HW) error {
	sts, err := hw.read(ExtIntSts)
	switch {
	case err != nil:
		return err
	case extIntTimeout.Get(sts) != 0:
		return ErrAgain
	case extIntError.Get(sts) != 0:
		return ErrFault
	case extIntDone.Get(sts) == 0:
		return ErrBusy
	}
	return nil
}

func extRetryableCfg(a *Adapter, cfg, cfg2 uint32, n int) error {
	hw := a.hw
	if err := hw.write(ExtCfg2, cfg2); err != nil {
		return err
	}
	var err error
	for retry := 0; ; retry++ {
		err = hw.write(ExtCfg, cfg)
		if err == nil {
			if err = extWaitDone(a, n); err == nil {
				err = extCheckErr(hw)
			}
		}
		if err == nil {
			return nil
		}
		extReset(a)
		extClearIntr(hw)
		if retry >= a.Retries {
			return err
		}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func extXferMsg(a *Adapter, m *i2c.Message) error {
	hw := a.hw
	read := m.Flags&i2c.ReadData != 0
	n := len(m.Data)
	buf := m.Data
	access := uint32(extCurWrite)
	if read {
		access = extCurRead
		if m.Flags&i2c.Recv_Len != 0 {
			var err error
			if buf, err = recvBuf(m); err != nil {
				return err
			}
		}
	}
	length := len(buf)
	startLen := length
	var devSel uint32
	if hw.Func&i2c.TenBit_Address != 0 {
		devSel = uint32(m.Address >> 7)
	} else {
		devSel = uint32(a.Index)
	}

	err := extWaitDone(a, 0)
	if err != nil {
		log.Print("err", a.Name, ": devsel ", devSel, ": adapter is busy? ",
			err)
	}
	p := 0
	var word [4]byte
	for length > 0 && err == nil {
		cfg := extDevAddr.Set(uint32(m.Address)) |
			extRegAddr.Set(0) |
			extSpdCnt.Set(extSpeed100K) |
			extDevSel.Set(devSel) |
			extMode.Set(extModeI2C) |
			extAccessType.Set(access) |
			extStartAccess.Set(1)
		cfg2 := extRDataSize.Set(uint32(min(length, extBufSize)))
		chunk := min(length, hw.BufSize)
		size := chunk
		index := uint32(0)
		if !read {
			cfg2 = extWDataSize.Set(uint32(chunk))
			for length > 0 && chunk > 0 && err == nil {
				cp := min(chunk, 4)
				word = [4]byte{}
				copy(word[:], buf[p:p+cp])
				p += cp
				err = hw.write(ExtWData+4*index,
					binary.LittleEndian.Uint32(word[:]))
				length -= cp
				chunk -= cp
				index++
			}
		}
		if err == nil {
			err = extRetryableCfg(a, cfg, cfg2, size)
		}
		for read && length > 0 && chunk > 0 && err == nil {
			var v uint32
			if v, err = hw.read(hw.RData + 4*index); err != nil {
				break
			}
			cp := min(chunk, 4)
			binary.LittleEndian.PutUint32(word[:], v)
			copy(buf[p:p+cp], word[:cp])
			p += cp
			length -= cp
			chunk -= cp
			index++
		}
	}
	if err != nil {
		dir := "write"
		if read {
			dir = "read"
		}
		log.Printf("info", "%s: i2c %s error: addr %#03x start_len %d len %d: %v",
			a.Name, dir, m.Address, startLen, length, err)
	}
	if read && m.Flags&i2c.Recv_Len != 0 {
		if err == nil {
			recvLen(m, n, startLen)
		} else {
			m.Data = buf[:n]
		}
	}
	return err
}

func extXfer(a *Adapter, msgs []i2c.Message) error {
	hw := a.hw
	extClearIntr(hw)
	var err error
	for i := range msgs {
		if err = extXferMsg(a, &msgs[i]); err != nil {
			log.Printf("info", "%s: msg %d addr %#x flags %#x len %d: %v",
				a.Name, i, msgs[i].Address, msgs[i].Flags,
				len(msgs[i].Data), err)
			break
		}
	}
	if err != nil {
		extReset(a)
	}
	return err
}
