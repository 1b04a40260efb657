// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package fpgai2c

import (
	"time"

	"github.com/platinasystems/ciscofpga/internal/platform"
	"github.com/platinasystems/ciscofpga/internal/regaccess"
	"github.com/platinasystems/i2c"
	"github.com/platinasystems/log"
)

// SMB master registers.
const (
	SMBTxBuf   = 0x20
	SMBRxBuf   = 0x24
	SMBCSR     = 0x28
	SMBIStat   = 0x30
	SMBExt0    = 0x50
	SMBExt1    = 0x54
	SMBDevCtrl = 0x58

	smbMaxRegV4 = 0x58 - 1
	smbMaxRegV5 = 0x64 - 1
)

// CSR bits.
const (
	csrFault     = 3 << 30
	csrRecover   = 1 << 29
	csrIntr27    = 1 << 27
	csrBusRecov  = 1 << 26
	csrReset     = 1 << 25
	csrPreRead   = 1 << 16
	csrBusy      = 1 << 14
	csrStart     = 1 << 13
	csrRead      = 1 << 12
	csrIntrMask  = csrFault | csrRecover | csrIntr27
	extEnable    = 1 << 31
	txValid      = 1 << 13
	smbMaxLen    = 511
	smbMaxPreLen = 31
)

var smbQuirks = Quirks{
	CombWriteThenRead: true,
	MaxNumMsgs:        2,
	MaxWriteLen:       smbMaxLen,
	MaxReadLen:        smbMaxLen,
	MaxComb1stMsgLen:  smbMaxPreLen,
	MaxComb2ndMsgLen:  smbMaxLen,
}

var smbTemplate = Template{
	Xfer:    smbXfer,
	Recover: smbRecover,
	Retries: 3,
	Timeout: 350 * time.Millisecond,
	Quirks:  &smbQuirks,
}

// SMBNames are the device names the SMB driver binds.
var SMBNames = []string{
	"i2c-smb",
	"i2c-smb-rp", "i2c-smb-lc", "i2c-smb-ft",
	"i2c-smb-fc0", "i2c-smb-fc1", "i2c-smb-fc2", "i2c-smb-fc3",
	"i2c-smb-fc4", "i2c-smb-fc5", "i2c-smb-fc6", "i2c-smb-fc7",
	"i2c-smb-pim1", "i2c-smb-pim2", "i2c-smb-pim3", "i2c-smb-pim4",
	"i2c-smb-pim5", "i2c-smb-pim6", "i2c-smb-pim7", "i2c-smb-pim8",
}

func ids(names []string) []platform.DeviceID {
	l := make([]platform.DeviceID, len(names))
	for i, name := range names {
		l[i].Name = name
	}
	return l
}

// SMBDriver binds the SMB I2C masters and registers their adapters with
// core.
func SMBDriver(core *Core) *platform.Driver {
	return &platform.Driver{
		Name: "cisco-fpga-i2c",
		IDs:  ids(SMBNames),
		Probe: func(dev *platform.Device) error {
			_, err := ProbeSMB(dev, core)
			return err
		},
	}
}

type maxRegisterSetter interface {
	SetMaxRegister(uint32)
}

// ProbeSMB sets up and registers the SMB master dev.
func ProbeSMB(dev *platform.Device, core *Core) (*HW, error) {
	hw, err := Init(dev, regaccess.Default(dev.Name(), smbMaxRegV4),
		&smbTemplate, "I2C")
	if err != nil {
		return nil, err
	}
	if hw.DevSel() && len(hw.Adapters) == 1 {
		hw.Func |= i2c.TenBit_Address
		if w, ok := hw.Regmap.(maxRegisterSetter); ok {
			w.SetMaxRegister(smbMaxRegV5)
		}
	}
	if err = Register(dev, core, smbReset); err != nil {
		return nil, err
	}
	return hw, nil
}

func smbReset(a *Adapter) error {
	hw := a.hw
	if err := hw.write(SMBCSR, csrReset); err != nil {
		log.Print("err", a.Name, ": reset csr write: ", err)
		return err
	}
	hw.sleep(100 * time.Microsecond)
	if err := hw.write(SMBCSR, 0); err != nil {
		log.Print("err", a.Name, ": reset csr to 0 write: ", err)
		return err
	}
	err := hw.write(SMBExt0, 0)
	if err != nil {
		log.Print("err", a.Name, ": reset ext0 write: ", err)
	}
	return err
}

func smbWaitDone(a *Adapter) error {
	hw := a.hw
	deadline := hw.now().Add(a.Timeout)
	for {
		hw.sleep(100 * time.Microsecond)
		csr, err := hw.read(SMBCSR)
		switch {
		case err != nil:
			return err
		case csr&csrBusy != 0:
		case csr&csrFault != 0:
			return ErrFault
		case csr&csrRecover != 0:
			a.RecoverBus()
			return ErrBusy
		default:
			return nil
		}
		if hw.now().After(deadline) {
			return ErrTimeout
		}
	}
}

func smbXfer(a *Adapter, msgs []i2c.Message) error {
	hw := a.hw
	if len(msgs) > 2 {
		return ErrNotSupported
	}
	first := &msgs[0]
	last := first
	presz := 0
	if len(msgs) > 1 {
		last = &msgs[1]
		presz = len(first.Data)
	}
	n := len(last.Data)
	buf := last.Data
	if len(msgs) > 1 && last.Flags&i2c.Recv_Len != 0 {
		var err error
		if buf, err = recvBuf(last); err != nil {
			return err
		}
	}
	length := len(buf)
	read := len(msgs) > 1 || first.Flags&i2c.ReadData != 0
	ext := length >= BlockMax
	tenBit := hw.Func&i2c.TenBit_Address != 0

	if !tenBit && first.Flags&i2c.TenBit != 0 {
		log.Print("err", a.Name, ": 10 bit addr not supported")
		return ErrInvalid
	}
	if length > smbMaxLen {
		log.Print("err", a.Name, ": length ", length,
			" is larger than ", smbMaxLen)
		return ErrInvalid
	}
	if presz > smbMaxPreLen {
		log.Print("err", a.Name, ": presz ", presz,
			" is larger than ", smbMaxPreLen)
		return ErrInvalid
	}

	if err := hw.write(SMBIStat, csrIntrMask); err != nil {
		return err
	}
	var ext0 uint32
	if ext {
		ext0 = extEnable | uint32(length)
	}
	if err := hw.write(SMBExt0, ext0); err != nil {
		return err
	}
	if first.Flags&i2c.ReadData == 0 {
		for i, b := range first.Data {
			v := uint32(txValid) | uint32(b)
			if ext {
				if err := hw.write(SMBExt1, uint32(i)<<16); err != nil {
					return err
				}
			} else {
				v |= uint32(i) << 8
			}
			if err := hw.write(SMBTxBuf, v); err != nil {
				return err
			}
		}
	}
	if hw.DevSel() {
		sel := uint32(a.Index)
		if tenBit {
			sel = uint32(first.Address>>7) & 7
		}
		if err := hw.write(SMBDevCtrl, sel); err != nil {
			return err
		}
	}

	csr, err := hw.read(SMBCSR)
	if err != nil {
		return err
	}
	csr &= csrIntrMask
	if !ext {
		csr |= uint32(length) & 0xff
	}
	csr |= uint32(first.Address&0x7f) << 5
	if read {
		csr |= csrRead
		if presz > 0 {
			csr |= csrPreRead
		}
	}
	csr |= csrStart
	csr |= uint32(presz) << 20
	if err = hw.write(SMBCSR, csr); err != nil {
		return err
	}

	xerr := smbWaitDone(a)
	if xerr == nil && read {
		for i := 0; i < length; i++ {
			if ext {
				err = hw.write(SMBExt1, uint32(i))
			} else {
				err = hw.write(SMBRxBuf, uint32(i)<<8)
			}
			if err != nil {
				return err
			}
			hw.sleep(100 * time.Microsecond)
			v, err := hw.read(SMBRxBuf)
			if err != nil {
				return err
			}
			buf[i] = byte(v)
		}
	}
	if ext {
		if err = hw.write(SMBExt0, 0); err != nil {
			return err
		}
	}
	if len(msgs) > 1 && last.Flags&i2c.Recv_Len != 0 {
		recvLen(last, n, length)
	}
	return xerr
}

func smbRecover(a *Adapter) error {
	hw := a.hw
	csr, err := hw.read(SMBCSR)
	if err != nil {
		return err
	}
	if err = hw.write(SMBCSR, csr|csrBusRecov); err != nil {
		return err
	}
	deadline := hw.now().Add(a.Timeout)
	for {
		csr, err = hw.read(SMBCSR)
		if err != nil {
			return err
		}
		if csr&csrBusy == 0 {
			return nil
		}
		hw.sleep(160 * time.Microsecond)
		if hw.now().After(deadline) {
			return ErrBusy
		}
	}
}
