// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package fpgai2c

import (
	"errors"
	"fmt"
	"time"

	"github.com/platinasystems/ciscofpga/internal/arbitrate"
	"github.com/platinasystems/i2c"
)

// BlockMax is the largest SMBus block; a Recv_Len message grows by up to
// this many bytes so its Data must have the capacity.
const BlockMax = 32

// Quirks limit the transfers an adapter accepts.
type Quirks struct {
	// CombWriteThenRead allows a write followed by a read of the same
	// address as one transfer.
	CombWriteThenRead bool
	MaxNumMsgs        int
	MaxWriteLen       int
	MaxReadLen        int
	MaxComb1stMsgLen  int
	MaxComb2ndMsgLen  int
}

// Template of the adapters of a block.
type Template struct {
	// Xfer moves msgs with the bus locked.
	Xfer func(a *Adapter, msgs []i2c.Message) error
	// Recover a stuck bus.
	Recover func(a *Adapter) error
	Retries int
	Timeout time.Duration
	Quirks  *Quirks
}

// Adapter is one bus segment of an I2C block.
type Adapter struct {
	Name string
	// Index is the dev-sel of the segment.
	Index int
	// Nr is assigned by the Core.
	Nr int
	Template

	hw  *HW
	ops arbitrate.LockOps
}

func (a *Adapter) String() string { return fmt.Sprintf("i2c-%d", a.Nr) }

func (a *Adapter) HW() *HW { return a.hw }

// Lock the bus of every adapter of the block, arbitrating if needed.
func (a *Adapter) Lock() { a.ops.Lock() }

func (a *Adapter) TryLock() bool { return a.ops.TryLock() }

func (a *Adapter) Unlock() { a.ops.Unlock() }

// Functionality of the adapter.
func (a *Adapter) Functionality() i2c.FeatureFlag { return a.hw.Func }

// Transfer msgs as one combined transaction. Transfers failing with
// ErrAgain are retried up to Retries times within Timeout.
func (a *Adapter) Transfer(msgs []i2c.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := a.checkQuirks(msgs); err != nil {
		return err
	}
	a.Lock()
	defer a.Unlock()
	return a.transfer(msgs)
}

func (a *Adapter) transfer(msgs []i2c.Message) error {
	start := a.hw.now()
	var err error
	for try := 0; try <= a.Retries; try++ {
		err = a.Xfer(a, msgs)
		if !errors.Is(err, ErrAgain) {
			break
		}
		if a.hw.now().Sub(start) > a.Timeout {
			break
		}
	}
	return err
}

// Send makes an Adapter a regaccess.Sender so FPGAs behind it can be
// reached with regaccess.NewI2C.
func (a *Adapter) Send(msgs []i2c.Message) error { return a.Transfer(msgs) }

// RecoverBus runs the block's bus recovery.
func (a *Adapter) RecoverBus() error {
	if a.Recover == nil {
		return fmt.Errorf("%s: no bus recovery: %w", a.Name,
			ErrNotSupported)
	}
	return a.Recover(a)
}

func (a *Adapter) checkQuirks(msgs []i2c.Message) error {
	q := a.Quirks
	if q == nil {
		return nil
	}
	bad := func(format string, args ...interface{}) error {
		return fmt.Errorf("%s: %s: %w", a.Name,
			fmt.Sprintf(format, args...), ErrNotSupported)
	}
	if q.CombWriteThenRead && len(msgs) == 2 {
		w, r := &msgs[0], &msgs[1]
		if w.Flags&i2c.ReadData != 0 || r.Flags&i2c.ReadData == 0 {
			return bad("combined messages must write then read")
		}
		if w.Address != r.Address {
			return bad("combined messages to different addresses")
		}
		if q.MaxComb1stMsgLen > 0 && len(w.Data) > q.MaxComb1stMsgLen {
			return bad("first combined message length %d > %d",
				len(w.Data), q.MaxComb1stMsgLen)
		}
		if q.MaxComb2ndMsgLen > 0 && len(r.Data) > q.MaxComb2ndMsgLen {
			return bad("second combined message length %d > %d",
				len(r.Data), q.MaxComb2ndMsgLen)
		}
		return nil
	}
	if q.MaxNumMsgs > 0 && len(msgs) > q.MaxNumMsgs {
		return bad("%d messages > %d", len(msgs), q.MaxNumMsgs)
	}
	for i := range msgs {
		n := len(msgs[i].Data)
		if msgs[i].Flags&i2c.ReadData != 0 {
			if q.MaxReadLen > 0 && n > q.MaxReadLen {
				return bad("read length %d > %d", n, q.MaxReadLen)
			}
		} else if q.MaxWriteLen > 0 && n > q.MaxWriteLen {
			return bad("write length %d > %d", n, q.MaxWriteLen)
		}
	}
	return nil
}

// recvBuf returns the Data of a Recv_Len message grown by BlockMax.
func recvBuf(m *i2c.Message) ([]byte, error) {
	n := len(m.Data) + BlockMax
	if cap(m.Data) < n {
		return nil, fmt.Errorf("receive length buffer capacity %d < %d: %w",
			cap(m.Data), n, ErrInvalid)
	}
	return m.Data[:n], nil
}

// recvLen trims the Data of a Recv_Len message to its original length plus
// the received count when that fits within max.
func recvLen(m *i2c.Message, n, max int) {
	buf := m.Data[:max]
	if n+int(buf[0]) <= max {
		m.Data = buf[:n+int(buf[0])]
	} else {
		m.Data = buf[:n]
	}
}
