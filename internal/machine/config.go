// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package machine

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/platinasystems/ciscofpga/internal/fwnode"
	"github.com/platinasystems/ciscofpga/internal/mfd"
	"github.com/platinasystems/url"
)

// FPGA configures one FPGA of the machine.
type FPGA struct {
	// Name labels messages; the parent device is cisco-fpga-mfd.N.
	Name string `json:"name"`
	// Source is parsed by ParseSource.
	Source string `json:"source"`
	// Node is the path of the FPGA's node in the firmware description.
	Node string `json:"node,omitempty"`
}

// Config of a machine, for example:
//
//	firmware: /boot/cisco8k.dtb
//	reboot-type: warm
//	mfd:
//	  filter: pci
//	fpgas:
//	- name: iofpga
//	  source: pci:0000:05:00.0
//	  node: /iofpga
type Config struct {
	// Firmware is a devicetree blob or, if named *.yaml or *.yml, a
	// static firmware description.
	Firmware   string     `json:"firmware,omitempty"`
	RebootType string     `json:"reboot-type,omitempty"`
	Debug      bool       `json:"debug,omitempty"`
	MFD        mfd.Config `json:"mfd"`
	FPGAs      []FPGA     `json:"fpgas"`
}

func ParseConfig(b []byte) (*Config, error) {
	cfg := new(Config)
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	for i, f := range cfg.FPGAs {
		if _, err := ParseSource(f.Source); err != nil {
			return nil, fmt.Errorf("fpgas[%d]: %v", i, err)
		}
		if len(f.Name) == 0 {
			cfg.FPGAs[i].Name = fmt.Sprint("fpga", i)
		}
	}
	return cfg, nil
}

// readURL reads a local file or, e.g. http://HOST/FILE, a remote one.
func readURL(fn string) ([]byte, error) {
	r, err := url.Open(fn)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return ioutil.ReadAll(r)
}

func LoadConfig(fn string) (*Config, error) {
	b, err := readURL(fn)
	if err != nil {
		return nil, err
	}
	cfg, err := ParseConfig(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", fn, err)
	}
	return cfg, nil
}

// LoadFirmware reads the devicetree blob or yaml description fn.
func LoadFirmware(fn string) (fwnode.Node, error) {
	b, err := readURL(fn)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(fn)) {
	case ".yaml", ".yml":
		n, err := fwnode.ParseYAML(b)
		if err != nil {
			return nil, err
		}
		return n, nil
	}
	return fwnode.ParseFDT(b)
}
