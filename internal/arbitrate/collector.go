// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package arbitrate

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type metric struct {
	desc  *prometheus.Desc
	vtype prometheus.ValueType
	value func(*Stats) uint64
}

func newMetric(name, help string, vtype prometheus.ValueType,
	value func(*Stats) uint64) metric {
	return metric{
		desc: prometheus.NewDesc("cisco_fpga_i2c_arbitration_"+name,
			help, []string{"device"}, nil),
		vtype: vtype,
		value: value,
	}
}

var metrics = []metric{
	newMetric("disputed_total", "Acquisitions that waited for the peer",
		prometheus.CounterValue,
		func(s *Stats) uint64 { return s.Disputed }),
	newMetric("undisputed_total", "Acquisitions without register writes",
		prometheus.CounterValue,
		func(s *Stats) uint64 { return s.Undisputed }),
	newMetric("expires_total", "Acquisitions that timed out",
		prometheus.CounterValue,
		func(s *Stats) uint64 { return s.Expires }),
	newMetric("read_local_errors_total", "Local request read failures",
		prometheus.CounterValue,
		func(s *Stats) uint64 { return s.ReadLocalErr }),
	newMetric("write_local_errors_total", "Local request write failures",
		prometheus.CounterValue,
		func(s *Stats) uint64 { return s.WriteLocalErr }),
	newMetric("read_peer_errors_total", "Peer request read failures",
		prometheus.CounterValue,
		func(s *Stats) uint64 { return s.ReadPeerErr }),
	newMetric("write_peer_errors_total", "Peer request write failures",
		prometheus.CounterValue,
		func(s *Stats) uint64 { return s.WritePeerErr }),
	newMetric("read_owner_errors_total", "Owner register read failures",
		prometheus.CounterValue,
		func(s *Stats) uint64 { return s.ReadArbErr }),
	newMetric("write_owner_errors_total", "Owner register clear failures",
		prometheus.CounterValue,
		func(s *Stats) uint64 { return s.WriteArbErr }),
	newMetric("wait_msecs_total", "Milliseconds waited for the peer",
		prometheus.CounterValue,
		func(s *Stats) uint64 { return s.TotalWaitMsecs }),
	newMetric("max_wait_msecs", "Longest wait for the peer",
		prometheus.GaugeValue,
		func(s *Stats) uint64 { return s.MaxWaitMsecs }),
	newMetric("min_wait_msecs", "Shortest wait for the peer",
		prometheus.GaugeValue,
		func(s *Stats) uint64 { return s.MinWaitMsecs }),
}

// Collector exports the statistics of a changing set of arbitrators.
type Collector struct {
	mutex sync.Mutex
	arbs  map[string]*Arbitrator
}

func NewCollector() *Collector {
	return &Collector{arbs: make(map[string]*Arbitrator)}
}

// Add or replace the arbitrator named a.Name.
func (c *Collector) Add(a *Arbitrator) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.arbs[a.Name] = a
}

func (c *Collector) Remove(name string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.arbs, name)
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range metrics {
		ch <- m.desc
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mutex.Lock()
	names := make([]string, 0, len(c.arbs))
	for name := range c.arbs {
		names = append(names, name)
	}
	arbs := make([]*Arbitrator, 0, len(c.arbs))
	sort.Strings(names)
	for _, name := range names {
		arbs = append(arbs, c.arbs[name])
	}
	c.mutex.Unlock()
	for _, a := range arbs {
		s := a.Stats()
		for _, m := range metrics {
			ch <- prometheus.MustNewConstMetric(m.desc, m.vtype,
				float64(m.value(&s)), a.Name)
		}
	}
}
