// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package arbitrate

import (
	"fmt"

	"github.com/platinasystems/ciscofpga/internal/attr"
)

// GroupName of the arbitration attributes.
const GroupName = "arbitration"

// Attrs returns the arbitration attribute group.
func (a *Arbitrator) Attrs() *attr.Group {
	settings := func(fn func(*Settings) uint32) func() (string, error) {
		return func() (string, error) {
			s := a.Current()
			return fmt.Sprint(fn(&s)), nil
		}
	}
	stat := func(fn func(*Stats) uint64) func() (string, error) {
		return func() (string, error) {
			s := a.Stats()
			return fmt.Sprint(fn(&s)), nil
		}
	}
	ticks := func(fn func(*Settings) uint32) func() (string, error) {
		return func() (string, error) {
			s := a.Current()
			return fmt.Sprint(Ticks(msecs(fn(&s)))), nil
		}
	}
	store := func(fn func(*Settings) *uint32, min uint32) func(string) error {
		return func(v string) error {
			u, err := attr.ParseUint32(v)
			if err != nil {
				return err
			}
			if u < min {
				return fmt.Errorf("%q: below %d: %w", v, min,
					attr.ErrInvalid)
			}
			a.mutex.Lock()
			*fn(&a.Settings) = u
			a.recompute()
			a.mutex.Unlock()
			return nil
		}
	}
	return &attr.Group{
		Name: GroupName,
		Attrs: []*attr.Attr{
			attr.RO("peer", settings(func(s *Settings) uint32 { return s.Peer })),
			attr.RO("local", settings(func(s *Settings) uint32 { return s.Local })),
			attr.RO("index", settings(func(s *Settings) uint32 { return s.Index })),
			attr.RW("timeout_msecs",
				settings(func(s *Settings) uint32 { return s.TimeoutMsecs }),
				store(func(s *Settings) *uint32 { return &s.TimeoutMsecs }, 0)),
			attr.RW("peer_grant_msecs",
				settings(func(s *Settings) uint32 { return s.PeerGrantMsecs }),
				store(func(s *Settings) *uint32 { return &s.PeerGrantMsecs }, 0)),
			attr.RW("peer_retry_msecs",
				settings(func(s *Settings) uint32 { return s.PeerRetryMsecs }),
				store(func(s *Settings) *uint32 { return &s.PeerRetryMsecs }, 1)),
			attr.RO("timeout_jiffies",
				ticks(func(s *Settings) uint32 { return s.TimeoutMsecs })),
			attr.RO("peer_grant_jiffies",
				ticks(func(s *Settings) uint32 { return s.PeerGrantMsecs })),
			attr.RO("peer_retry_jiffies",
				ticks(func(s *Settings) uint32 { return s.PeerRetryMsecs })),
			attr.RO("disputed", stat(func(s *Stats) uint64 { return s.Disputed })),
			attr.RO("undisputed", stat(func(s *Stats) uint64 { return s.Undisputed })),
			attr.RO("read_local_err", stat(func(s *Stats) uint64 { return s.ReadLocalErr })),
			attr.RO("write_local_err", stat(func(s *Stats) uint64 { return s.WriteLocalErr })),
			attr.RO("read_peer_err", stat(func(s *Stats) uint64 { return s.ReadPeerErr })),
			attr.RO("write_peer_err", stat(func(s *Stats) uint64 { return s.WritePeerErr })),
			attr.RO("read_arb_err", stat(func(s *Stats) uint64 { return s.ReadArbErr })),
			attr.RO("write_arb_err", stat(func(s *Stats) uint64 { return s.WriteArbErr })),
			attr.RO("expires", stat(func(s *Stats) uint64 { return s.Expires })),
			attr.RO("total_wait_msecs", stat(func(s *Stats) uint64 { return s.TotalWaitMsecs })),
			attr.RO("max_wait_msecs", stat(func(s *Stats) uint64 { return s.MaxWaitMsecs })),
			attr.RO("min_wait_msecs", stat(func(s *Stats) uint64 { return s.MinWaitMsecs })),
			attr.RO("info", func() (string, error) {
				if a.owner == nil {
					return "", nil
				}
				return a.owner.Name(), nil
			}),
		},
	}
}
