// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package mfd

import (
	"encoding/json"
	"fmt"
	"io/ioutil"

	"github.com/ghodss/yaml"
)

// Debug bits.
const (
	DebugMagic = 1 << iota
	DebugLoud
	DebugSkip
	DebugDump
)

// Overflow is what the walker does once every cell slot is taken.
type Overflow int

const (
	// Abort fails the scan with ErrTooManyCells.
	Abort Overflow = iota
	// SkipBlock logs and skips the block.
	SkipBlock
)

func (o Overflow) String() string {
	switch o {
	case Abort:
		return "abort"
	case SkipBlock:
		return "skip-block"
	}
	return fmt.Sprintf("overflow(%d)", int(o))
}

func (o *Overflow) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "abort", "":
		*o = Abort
	case "skip-block", "skip":
		*o = SkipBlock
	default:
		return fmt.Errorf("too-many-cells: %q: unknown policy", s)
	}
	return nil
}

func (o Overflow) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// Config of one walk.
type Config struct {
	// Debug is a mask of Debug* bits.
	Debug uint32 `json:"debug,omitempty"`
	// Filter selects capability table entries.
	Filter Filter `json:"filter"`
	// TooManyCells policy.
	TooManyCells Overflow `json:"too-many-cells,omitempty"`
	// EmitInfoCell adds the info ROM itself as the first cell.
	EmitInfoCell bool `json:"emit-info-cell,omitempty"`
	// Trace logs the register accesses of every child, keeping this
	// many entries per child.
	Trace int `json:"trace,omitempty"`
	// MaxCells lowers the cell limit from num_blocks+1.
	MaxCells int `json:"max-cells,omitempty"`
	// PlatformData is attached to every cell.
	PlatformData interface{} `json:"-"`
}

// ParseConfig reads a YAML or JSON configuration, for example:
//
//	filter: pci|passive
//	debug: 4
//	too-many-cells: skip-block
func ParseConfig(b []byte) (*Config, error) {
	cfg := new(Config)
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads the named configuration file.
func LoadConfig(fn string) (*Config, error) {
	b, err := ioutil.ReadFile(fn)
	if err != nil {
		return nil, err
	}
	cfg, err := ParseConfig(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", fn, err)
	}
	return cfg, nil
}
