// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package regaccess

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/platinasystems/log"
)

type Op uint16

const (
	OpRead Op = iota + 1
	OpWrite
)

func (op Op) String() string {
	switch op {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	}
	return fmt.Sprint("op", uint16(op))
}

// Entry is one traced access.
type Entry struct {
	Time  time.Time
	Op    Op
	Reg   uint32
	Value uint32
	Err   error
}

func (e Entry) String() string {
	s := fmt.Sprintf("%s %s %#x %#08x",
		e.Time.Format("15:04:05.000000"), e.Op, e.Reg, e.Value)
	if e.Err != nil {
		s += "; " + e.Err.Error()
	}
	return s
}

// Trace records the most recent accesses to the wrapped map and, with Log
// set, logs each one at debug priority.
type Trace struct {
	Regmap
	Name string
	Log  bool

	mutex sync.Mutex
	ring  []Entry
	next  int
	full  bool
}

// NewTrace keeps up to depth entries.
func NewTrace(m Regmap, name string, depth int) *Trace {
	if depth <= 0 {
		depth = 64
	}
	return &Trace{Regmap: m, Name: name, ring: make([]Entry, depth)}
}

func (t *Trace) add(e Entry) {
	e.Time = time.Now()
	t.mutex.Lock()
	t.ring[t.next] = e
	t.next++
	if t.next == len(t.ring) {
		t.next = 0
		t.full = true
	}
	t.mutex.Unlock()
	if t.Log {
		log.Print("debug", t.Name, ": ", e)
	}
}

func (t *Trace) Read(reg uint32) (uint32, error) {
	v, err := t.Regmap.Read(reg)
	t.add(Entry{Op: OpRead, Reg: reg, Value: v, Err: err})
	return v, err
}

func (t *Trace) Write(reg, val uint32) error {
	err := t.Regmap.Write(reg, val)
	t.add(Entry{Op: OpWrite, Reg: reg, Value: val, Err: err})
	return err
}

// Walk calls fn with each recorded entry, oldest first.
func (t *Trace) Walk(fn func(Entry)) {
	t.mutex.Lock()
	var entries []Entry
	if t.full {
		entries = append(entries, t.ring[t.next:]...)
	}
	entries = append(entries, t.ring[:t.next]...)
	t.mutex.Unlock()
	for _, e := range entries {
		fn(e)
	}
}

// Reset discards recorded entries.
func (t *Trace) Reset() {
	t.mutex.Lock()
	t.next = 0
	t.full = false
	t.mutex.Unlock()
}

// HexDump formats b as lines of 16 hex bytes with a printable column.
func HexDump(title string, b []byte) []string {
	var lines []string
	for off := 0; off < len(b); off += 16 {
		end := off + 16
		if end > len(b) {
			end = len(b)
		}
		var hex, asc strings.Builder
		for i := off; i < off+16; i++ {
			if i < end {
				fmt.Fprintf(&hex, "%02x ", b[i])
				c := b[i]
				if c < 0x20 || c > 0x7e {
					c = '.'
				}
				asc.WriteByte(c)
			} else {
				hex.WriteString("   ")
				asc.WriteByte(' ')
			}
		}
		lines = append(lines, fmt.Sprintf("%s-%02x: %s%s",
			title, off, hex.String(), asc.String()))
	}
	return lines
}
