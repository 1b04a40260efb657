// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package arbitrate shares an FPGA I2C master between the host and the BMC.
//
// Each side owns one of the block's header scratch registers as its request
// flag. A third register, in the msd or xil block, is the owner token; the
// FPGA sets it while the other side holds the bus. Acquisition is best
// effort: once the timeout passes the bus is used anyway, so a wedged peer
// can't stop this side forever.
package arbitrate

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/platinasystems/ciscofpga/internal/blkhdr"
	"github.com/platinasystems/ciscofpga/internal/fwnode"
	"github.com/platinasystems/ciscofpga/internal/platform"
	"github.com/platinasystems/ciscofpga/internal/regaccess"
	"github.com/platinasystems/log"
)

const (
	// OwnerBase is the offset of arbi[0] in the msd and xil blocks.
	OwnerBase = 0x500
	NumOwners = 8

	DefaultTimeoutMsecs   = 1000
	DefaultPeerGrantMsecs = 100
	DefaultPeerRetryMsecs = 10

	// Tick is the resolution of the *_jiffies attributes.
	Tick = time.Millisecond
)

var ErrNoIndex = errors.New("missing arbitration-index for multi-master")

// OwnerReg returns the owner register of arbitration index i.
func OwnerReg(i uint32) uint32 { return OwnerBase + 4*i }

// Stats are the arbitration counters surfaced to operators.
type Stats struct {
	Disputed   uint64
	Undisputed uint64

	ReadLocalErr  uint64
	WriteLocalErr uint64
	ReadPeerErr   uint64
	WritePeerErr  uint64
	ReadArbErr    uint64
	WriteArbErr   uint64

	Expires        uint64
	TotalWaitMsecs uint64
	MaxWaitMsecs   uint64
	MinWaitMsecs   uint64
}

// Settings of an Arbitrator.
type Settings struct {
	// Local and Peer are the request flag registers of this side and the
	// other.
	Local, Peer uint32
	// Index selects the owner register.
	Index uint32

	TimeoutMsecs   uint32
	PeerGrantMsecs uint32
	PeerRetryMsecs uint32
}

// Arbitrator runs the protocol for one physical bus.
type Arbitrator struct {
	// Name prefixes messages.
	Name string

	regmap regaccess.Regmap
	owner  *platform.Device

	mutex sync.Mutex
	Settings
	timeout, peerGrant, peerRetry time.Duration
	stats                         Stats

	rl *log.RateLimited

	now   func() time.Time
	sleep func(time.Duration)
}

// New arbitrates on m with the owner register in owner's map. Close it when
// done.
func New(name string, m regaccess.Regmap, owner *platform.Device, s Settings) *Arbitrator {
	a := &Arbitrator{
		Name:     name,
		regmap:   m,
		owner:    owner,
		Settings: s,
		rl:       log.NewRateLimited(10, 5*time.Second),
		now:      time.Now,
		sleep:    time.Sleep,
	}
	a.recompute()
	a.stats.MinWaitMsecs = uint64(s.TimeoutMsecs)
	return a
}

// Probe configures arbitration from the firmware properties of dev, whose
// block is reached through m. It returns nil with no error unless dev is
// multi-master. The owner device is referenced until dev is released.
func Probe(dev *platform.Device, m regaccess.Regmap) (*Arbitrator, error) {
	n := dev.Fwnode
	if !fwnode.Bool(n, "multi-master") {
		return nil, nil
	}
	var s Settings
	if fwnode.Bool(n, "arbitration-request") {
		s.Local, s.Peer = blkhdr.RegSW1, blkhdr.RegSW0
	} else {
		s.Local, s.Peer = blkhdr.RegSW0, blkhdr.RegSW1
	}
	index, ok := n.PropUint32("arbitration-index")
	if !ok {
		log.Print("err", dev.Name(), ": ", ErrNoIndex)
		return nil, fmt.Errorf("%s: %w", dev.Name(), ErrNoIndex)
	}
	if index >= NumOwners {
		return nil, fmt.Errorf("%s: arbitration-index %d: %w",
			dev.Name(), index, regaccess.ErrInvalid)
	}
	s.Index = index
	s.TimeoutMsecs = fwnode.Uint32(n, "arbitration-timeout-msecs",
		DefaultTimeoutMsecs)
	s.PeerGrantMsecs = fwnode.Uint32(n, "arbitration-peer-grant-msecs",
		DefaultPeerGrantMsecs)
	s.PeerRetryMsecs = fwnode.Uint32(n, "arbitration-peer-retry-msecs",
		DefaultPeerRetryMsecs)

	owner, err := findOwner(dev)
	if err != nil {
		return nil, err
	}
	if owner.Regmap() == nil {
		log.Print("err", owner.Name(), ": waiting for regmap")
		owner.Put()
		return nil, fmt.Errorf("%s: %w", owner.Name(),
			platform.ErrProbeDefer)
	}
	a := New(dev.Name(), m, owner, s)
	dev.AddAction(owner.Put)
	dev.AddAction(func() { a.Close() })
	log.Print("err", dev.Name(), ": multi-master arbitration enabled")
	return a, nil
}

func findOwner(dev *platform.Device) (*platform.Device, error) {
	n := dev.Fwnode
	if !n.HasProp("arbitration-ip-block") {
		log.Print("err", dev.Name(), ": missing arbitration-ip-block")
		return nil, fmt.Errorf("%s: arbitration-ip-block: %w",
			dev.Name(), platform.ErrNoDevice)
	}
	ref, err := n.Ref("arbitration-ip-block")
	if err != nil {
		log.Print("err", dev.Name(),
			": cannot find arbitration block node: ", err)
		return nil, fmt.Errorf("%v: %w", err, platform.ErrProbeDefer)
	}
	bus := dev.Bus()
	if bus == nil {
		return nil, fmt.Errorf("%s: not registered: %w", dev.Name(),
			platform.ErrProbeDefer)
	}
	owner := bus.FindByFwnode(ref)
	if owner == nil {
		log.Print("err", dev.Name(),
			": cannot find arbitration block device ", ref.Path())
		return nil, fmt.Errorf("%s: %w", ref.Path(),
			platform.ErrProbeDefer)
	}
	return owner, nil
}

// Close stops the rate limiter.
func (a *Arbitrator) Close() error {
	if a.rl == nil {
		return nil
	}
	err := a.rl.Close()
	a.rl = nil
	return err
}

// Owner is the device holding the owner register.
func (a *Arbitrator) Owner() *platform.Device { return a.owner }

// SetClock replaces the time source and sleeper of the poll loop.
func (a *Arbitrator) SetClock(now func() time.Time, sleep func(time.Duration)) {
	a.now, a.sleep = now, sleep
}

// Stats returns a snapshot of the counters.
func (a *Arbitrator) Stats() Stats {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.stats
}

// Current settings.
func (a *Arbitrator) Current() Settings {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.Settings
}

// Tune replaces the three durations.
func (a *Arbitrator) Tune(timeout, grant, retry uint32) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.TimeoutMsecs = timeout
	a.PeerGrantMsecs = grant
	a.PeerRetryMsecs = retry
	a.recompute()
}

func (a *Arbitrator) recompute() {
	a.timeout = msecs(a.TimeoutMsecs)
	a.peerGrant = msecs(a.PeerGrantMsecs)
	a.peerRetry = msecs(a.PeerRetryMsecs)
	if a.peerRetry < Tick {
		a.peerRetry = Tick
	}
}

func msecs(ms uint32) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Ticks rounds d up to whole ticks.
func Ticks(d time.Duration) uint64 {
	return uint64((d + Tick - 1) / Tick)
}

func (a *Arbitrator) count(p *uint64) {
	a.mutex.Lock()
	*p++
	a.mutex.Unlock()
}

func (a *Arbitrator) printf(format string, args ...interface{}) {
	s := fmt.Sprintf(format, args...)
	if a.rl != nil {
		a.rl.Print("err", a.Name, ": ", s)
	} else {
		log.Print("err", a.Name, ": ", s)
	}
}

func (a *Arbitrator) ownerRegmap() regaccess.Regmap {
	if a.owner == nil {
		return nil
	}
	return a.owner.Regmap()
}

// readArb returns the owner register; a failure reads as free.
func (a *Arbitrator) readArb(fn string) (uint32, error) {
	err := platform.ErrNoDevice
	var v uint32
	if r := a.ownerRegmap(); r != nil {
		v, err = r.Read(OwnerReg(a.Index))
	}
	if err != nil {
		a.printf("%s: read arbitration failed; %v", fn, err)
		a.count(&a.stats.ReadArbErr)
		return 0, err
	}
	return v, nil
}

func (a *Arbitrator) clearArb(fn string) error {
	err := platform.ErrNoDevice
	if r := a.ownerRegmap(); r != nil {
		err = r.Write(OwnerReg(a.Index), 0)
	}
	if err != nil {
		a.printf("%s: clear arbitration failed; %v", fn, err)
		a.count(&a.stats.WriteArbErr)
	}
	return err
}

// Obtain exclusive use of the bus. The caller holds the bus lock. Obtain
// always returns; once the timeout expires ownership is assumed.
func (a *Arbitrator) Obtain() {
	const fn = "obtain"
	a.mutex.Lock()
	timeout, grant, retry := a.timeout, a.peerGrant, a.peerRetry
	a.mutex.Unlock()

	peer, err := a.regmap.Read(a.Peer)
	if err != nil {
		a.printf("%s: read arbitration peer request failed; %v", fn, err)
		a.count(&a.stats.ReadPeerErr)
		peer = 0
	}
	arb, _ := a.readArb(fn)
	if arb == 0 && peer == 0 {
		a.count(&a.stats.Undisputed)
		return
	}
	a.count(&a.stats.Disputed)

	if err = a.regmap.Write(a.Local, 1); err != nil {
		a.printf("%s: write arbitration local request failed; %v",
			fn, err)
		a.count(&a.stats.WriteLocalErr)
		return
	}
	if arb != 0 {
		// the read back below decides
		a.clearArb(fn)
	}

	start := a.now()
	expires := start.Add(timeout)
	wait := grant
	for {
		// never sleep past expires
		if left := expires.Sub(a.now()); wait > left {
			wait = left
		}
		if wait > 0 {
			a.sleep(wait)
		}
		wait = retry
		arb, err = a.readArb(fn)
		if err != nil {
			return
		}
		if arb == 0 || !a.now().Before(expires) {
			break
		}
	}
	if arb != 0 {
		a.count(&a.stats.Expires)
		a.printf("%s: arbitration expired", fn)
		return
	}
	ms := uint64(a.now().Sub(start) / time.Millisecond)
	if ms == 0 {
		return
	}
	a.mutex.Lock()
	a.stats.TotalWaitMsecs += ms
	if ms > a.stats.MaxWaitMsecs {
		a.stats.MaxWaitMsecs = ms
	}
	if ms < a.stats.MinWaitMsecs {
		a.stats.MinWaitMsecs = ms
	}
	a.mutex.Unlock()
}

// Release the bus before the bus lock is dropped.
func (a *Arbitrator) Release() {
	const fn = "release"
	err := a.regmap.Write(a.Local, 0)
	a.clearArb(fn)
	if err != nil {
		a.printf("%s: clear local request failed; %v", fn, err)
		a.count(&a.stats.WriteLocalErr)
	}
}
