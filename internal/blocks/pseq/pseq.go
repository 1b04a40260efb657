// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package pseq drives the power sequencer block that enables the board's
// voltage rails in order and records why they went down.
package pseq

import (
	"fmt"
	"strings"
	"time"

	"github.com/platinasystems/ciscofpga/internal/attr"
	"github.com/platinasystems/ciscofpga/internal/blocks/hdrattr"
	"github.com/platinasystems/ciscofpga/internal/fwnode"
	"github.com/platinasystems/ciscofpga/internal/mfd"
	"github.com/platinasystems/ciscofpga/internal/platform"
	"github.com/platinasystems/ciscofpga/internal/reboot"
	"github.com/platinasystems/ciscofpga/internal/regaccess"
	"github.com/platinasystems/log"
)

const Name = "cisco-fpga-pseq"

const (
	RegPowerEnFit0   = 0x20
	RegPowerGoodFit0 = 0x40
	RegPowerOVFit0   = 0x60
	RegMiscFit0      = 0x80
	RegIntrCfg0      = 0x84
	RegIntrCfg1      = 0x88
	RegGenCfg        = 0x8c
	RegGenStat       = 0x90
	RegPowerErr0     = 0x94
	RegPowerEn0      = 0xa4
	RegPowerGood0    = 0xb4
	RegPowerOV0      = 0xc4
	RegChkptStat0    = 0xd4
	RegChkptCtrl0    = 0xe4
	RegIntrSts       = 0xf4
	RegIntrTest      = 0xf8
	RegIntrEn        = 0xfc
	RegIntrDis       = 0x100
	RegCurrStat      = 0x104

	MaxRegister = 0x108 - 1

	DefaultRails = 32
	MaxRails     = 64
)

var (
	IntrData = regaccess.Field{Hi: 23, Lo: 0}
	IntrMSI  = regaccess.Field{Hi: 3, Lo: 0}

	IgnoreUV        = regaccess.Bit(0)
	UserPowerOn     = regaccess.Bit(1)
	UserPowerOff    = regaccess.Bit(2)
	UserPowerCycle  = regaccess.Bit(3)
	IgnoreOV        = regaccess.Bit(4)
	IgnoreDeviceErr = regaccess.Bit(5)
	IgnoreOtherErr  = regaccess.Bit(6)

	SeqStateAtErr   = regaccess.Field{Hi: 31, Lo: 20}
	PowerDownReason = regaccess.Field{Hi: 13, Lo: 11}
	PowerState      = regaccess.Field{Hi: 10, Lo: 9}
	PowerStatusLED  = regaccess.Field{Hi: 8, Lo: 0}
)

// StatusDelay is how long after probe the rail status is logged.
var StatusDelay = 600 * time.Millisecond

var powerDownReasons = [...]string{
	"Sequencer has not been powered down",
	"User powered down",
	"Overvoltage error",
	"Undervoltage error",
	"Failed FPGA power rail",
	"Error from other power sequencer",
	"User power cycled",
	"Unknown reason #7",
}

var powerStates = [...]string{
	"All rails powered off",
	"Rails are being sequenced on",
	"All rails powered on",
	"Rails are being sequenced off",
}

func PowerDownReasonString(genStat uint32) string {
	return powerDownReasons[PowerDownReason.Get(genStat)]
}

func PowerStateString(genStat uint32) string {
	return powerStates[PowerState.Get(genStat)]
}

// gen_cfg commands; a store is any space separated list of these, whose
// bits are written together.
var configCommands = []struct {
	name string
	bits uint32
}{
	{"on", UserPowerOn.Mask()},
	{"off", UserPowerOff.Mask()},
	{"cycle", UserPowerCycle.Mask()},
	{"ignore", IgnoreOtherErr.Mask() | IgnoreDeviceErr.Mask() |
		IgnoreOV.Mask() | IgnoreUV.Mask()},
	{"other", IgnoreOtherErr.Mask()},
	{"device", IgnoreDeviceErr.Mask()},
	{"ov", IgnoreOV.Mask()},
	{"uv", IgnoreUV.Mask()},
}

// ParseConfig returns the gen_cfg value of a list of commands.
func ParseConfig(s string) (uint32, error) {
	var v uint32
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, fmt.Errorf("%q: %w", s, attr.ErrInvalid)
	}
next:
	for _, field := range fields {
		for _, cmd := range configCommands {
			if field == cmd.name {
				v |= cmd.bits
				continue next
			}
		}
		return 0, fmt.Errorf("%q: %w", field, attr.ErrInvalid)
	}
	return v, nil
}

var IDs = platform.IDTable(nil).
	Add(0, "pseq-lc", "pseq-zone1-lc", "pseq-zone2-lc", "pseq-zone3-lc",
		"pseq-zone3c-lc", "pseq-zone3cb-lc").
	Add(platform.IDActive|platform.IDOverride,
		platform.Seq("pseq-fc%d-z2", 0, 7)...).
	Add(platform.IDActive|platform.IDOverride,
		platform.Seq("pseq-fc%d-z2.p2pm", 0, 7)...).
	Add(platform.IDActive, platform.Seq("pseq-fc%d-z1", 0, 7)...).
	Add(platform.IDActive|platform.IDOverride,
		platform.Seq("pseq-fc%d-z1.p2pm", 0, 7)...).
	Add(platform.IDActive, platform.Seq("pseq-fc%d-z2p", 0, 5)...).
	Add(platform.IDActive, "pseq-fc6-z1b", "pseq-fc7-z2p").
	Add(platform.IDActive|platform.IDOverride,
		platform.Seq("pseq-fc%d-z2p.p2pm", 0, 7)...).
	Add(platform.IDActive, "pseq-zone1", "pseq-zone2", "pseq-zone3",
		"pseq-zone3c", "pseq-zone3cb", "pseq", "pseq-rp.p2pm")

// Sequencer is the driver data of a bound pseq device.
type Sequencer struct {
	Active bool
	// NumRails is the number of rails described by the enable, good and
	// over-voltage words; more than 32 uses the second word of each.
	NumRails int
	// RailNames are indexed by bit; a missing name prints as its bit and
	// an empty name is never printed.
	RailNames []string

	dev   *platform.Device
	timer *time.Timer
}

func Driver(chain *reboot.Chain) *platform.Driver {
	return &platform.Driver{
		Name: Name,
		IDs:  IDs,
		Probe: func(dev *platform.Device) error {
			_, err := Probe(dev, chain)
			return err
		},
		Remove: func(dev *platform.Device) error {
			if s, ok := dev.DrvData().(*Sequencer); ok {
				s.Stop()
			}
			return nil
		},
	}
}

func Probe(dev *platform.Device, chain *reboot.Chain) (*Sequencer, error) {
	_, err := mfd.Init(dev, regaccess.Default(dev.Name(), MaxRegister))
	if err != nil {
		return nil, err
	}
	s := &Sequencer{
		Active:   dev.Active(),
		NumRails: int(fwnode.Uint32(dev.Fwnode, "num-rails", DefaultRails)),
		dev:      dev,
	}
	if s.NumRails > MaxRails {
		s.NumRails = MaxRails
	}
	if names, ok := propStrings(dev.Fwnode, "rail-names"); ok {
		if len(names) > s.NumRails {
			names = names[:s.NumRails]
		}
		s.RailNames = names
	} else {
		log.Print("info", dev.Name(), ": no rail-names property")
	}
	dev.SetDrvData(s)
	dev.AddGroups(s.Group(), hdrattr.Group(dev))
	if s.Active {
		if _, err = reboot.Register(chain, dev, nil); err != nil {
			log.Print("err", dev.Name(),
				": reboot notifier registration failed; ", err)
		}
	}
	s.timer = time.AfterFunc(StatusDelay, s.logStatus)
	return s, nil
}

// Stop cancels the delayed status report.
func (s *Sequencer) Stop() {
	if s.timer != nil {
		s.timer.Stop()
	}
}

func propStrings(n fwnode.Node, name string) ([]string, bool) {
	if n == nil {
		return nil, false
	}
	return n.PropStrings(name)
}

func (s *Sequencer) logStatus() {
	good, err := s.read(RegPowerGood0)
	if err != nil {
		log.Print("err", s.dev.Name(), ": failed to read power_good0; ", err)
		return
	}
	stat, err := s.read(RegGenStat)
	if err != nil {
		log.Print("err", s.dev.Name(), ": failed to read gen_stat; ", err)
		return
	}
	log.Printf("info", "%s: power good 0x%08x; power_state=%s",
		s.dev.Name(), good, PowerStateString(stat))
}

func (s *Sequencer) regmap() (regaccess.Regmap, error) {
	if m := s.dev.Regmap(); m != nil {
		return m, nil
	}
	return nil, fmt.Errorf("%s: no regmap: %w", s.dev.Name(),
		platform.ErrNoDevice)
}

func (s *Sequencer) read(reg uint32) (uint32, error) {
	m, err := s.regmap()
	if err != nil {
		return 0, err
	}
	return m.Read(reg)
}

// Bitmap reads the rail bits of the word at reg and, with more than 32
// rails, the word after it. Bits beyond NumRails are clear.
func (s *Sequencer) Bitmap(reg uint32, invert bool) (uint64, error) {
	m, err := s.regmap()
	if err != nil {
		return 0, err
	}
	lo, err := m.Read(reg)
	if err != nil {
		return 0, err
	}
	var hi uint32
	if s.NumRails > 32 {
		if hi, err = m.Read(reg + 4); err != nil {
			return 0, err
		}
	}
	v := uint64(hi)<<32 | uint64(lo)
	if invert {
		v = ^v
	}
	if s.NumRails < 64 {
		v &= 1<<uint(s.NumRails) - 1
	}
	return v, nil
}

// Rails names the set rails of a bitmap.
func (s *Sequencer) Rails(bitmap uint64) []string {
	var l []string
	for bit := 0; bit < s.NumRails; bit++ {
		if bitmap&(1<<uint(bit)) == 0 {
			continue
		}
		switch {
		case bit >= len(s.RailNames):
			l = append(l, fmt.Sprintf("Rail @ bit %d", bit))
		case len(s.RailNames[bit]) > 0:
			l = append(l, s.RailNames[bit])
		}
	}
	return l
}

func (s *Sequencer) rails(reg uint32, invert bool) func() (string, error) {
	return func() (string, error) {
		v, err := s.Bitmap(reg, invert)
		if err != nil {
			return "", err
		}
		return strings.Join(s.Rails(v), "\n"), nil
	}
}

func (s *Sequencer) genStat(format func(uint32) string) func() (string, error) {
	return func() (string, error) {
		v, err := s.read(RegGenStat)
		if err != nil {
			return "", err
		}
		return format(v), nil
	}
}

// Group of the sequencer attributes.
func (s *Sequencer) Group() *attr.Group {
	return &attr.Group{
		Attrs: []*attr.Attr{
			attr.RW("interrupt", s.showInterrupt, s.storeInterrupt),
			attr.RW("config", s.showConfig, s.storeConfig),
			attr.RO("status", s.genStat(FormatStatus)),
			attr.RO("power_down_reason", s.genStat(PowerDownReasonString)),
			attr.RO("power_state", s.genStat(PowerStateString)),
			attr.RO("power_enabled", s.rails(RegPowerEn0, false)),
			attr.RO("power_disabled", s.rails(RegPowerEn0, true)),
			attr.RO("power_good", s.rails(RegPowerGood0, false)),
			attr.RO("power_bad", s.rails(RegPowerGood0, true)),
			attr.RO("power_over_voltage", s.rails(RegPowerOV0, true)),
		},
	}
}

func FormatStatus(genStat uint32) string {
	return fmt.Sprintf("raw=%#x\npower_down_reason=%s\npower_state=%s\npower_status_led=%#x",
		genStat, PowerDownReasonString(genStat),
		PowerStateString(genStat), PowerStatusLED.Get(genStat))
}

func FormatConfig(genCfg uint32) string {
	b := func(f regaccess.Field) int { return int(f.Get(genCfg)) }
	return fmt.Sprintf("raw=%#x\nignore_other_err=%d\nignore_device_err=%d\nignore_ov=%d\nignore_uv=%d",
		genCfg, b(IgnoreOtherErr), b(IgnoreDeviceErr), b(IgnoreOV),
		b(IgnoreUV))
}

func (s *Sequencer) showConfig() (string, error) {
	v, err := s.read(RegGenCfg)
	if err != nil {
		return "", err
	}
	return FormatConfig(v), nil
}

func (s *Sequencer) storeConfig(value string) error {
	m, err := s.regmap()
	if err != nil {
		return err
	}
	v, err := ParseConfig(value)
	if err != nil {
		return err
	}
	return m.Write(RegGenCfg, v)
}

func (s *Sequencer) showInterrupt() (string, error) {
	cfg0, err := s.read(RegIntrCfg0)
	if err != nil {
		return "", err
	}
	cfg1, err := s.read(RegIntrCfg1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("msi: %d; cookie: %d", IntrMSI.Get(cfg1),
		IntrData.Get(cfg0)), nil
}

// storeInterrupt parses "msi: N; cookie: N".
func (s *Sequencer) storeInterrupt(value string) error {
	m, err := s.regmap()
	if err != nil {
		return err
	}
	var msi, cookie int64
	bad := fmt.Errorf("%q: %w", value, attr.ErrInvalid)
	fields := strings.Split(strings.TrimSpace(value), ";")
	if len(fields) != 2 {
		return bad
	}
	for i, p := range []*int64{&msi, &cookie} {
		kv := strings.SplitN(fields[i], ":", 2)
		if len(kv) != 2 ||
			strings.TrimSpace(kv[0]) != []string{"msi", "cookie"}[i] {
			return bad
		}
		if *p, err = attr.ParseInt(kv[1]); err != nil {
			return err
		}
	}
	if err = m.Write(RegIntrCfg0, IntrData.Set(uint32(cookie))); err != nil {
		return err
	}
	return m.Write(RegIntrCfg1, IntrMSI.Set(uint32(msi)))
}
