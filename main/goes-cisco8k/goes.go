// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package main

import (
	"github.com/platinasystems/ciscofpga"
	"github.com/platinasystems/ciscofpga/cmd"
	"github.com/platinasystems/ciscofpga/cmd/fpgaarb"
	"github.com/platinasystems/ciscofpga/cmd/fpgacells"
	"github.com/platinasystems/ciscofpga/cmd/fpgad"
	"github.com/platinasystems/ciscofpga/cmd/fpgareg"
	"github.com/platinasystems/ciscofpga/cmd/redisd"
	"github.com/platinasystems/ciscofpga/lang"
)

const Name = "goes-cisco8k"

var Goes = &goes.Goes{
	NAME: Name,
	APROPOS: lang.Alt{
		lang.EnUS: "the Cisco 8000 FPGA goes machine",
	},
	ByName: map[string]cmd.Cmd{
		"fpgaarb":   fpgaarb.Command{},
		"fpgacells": fpgacells.Command{},
		"fpgad":     &fpgad.Command{},
		"fpgareg":   fpgareg.Command{},
		"redisd":    &redisd.Command{Machine: Name},
	},
}
