// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// This is the Cisco 8000 FPGA machine, run as goes-cisco8k COMMAND or
// through a link named for the command.
package main

import (
	"fmt"
	"os"

	"github.com/platinasystems/redis"
)

func main() {
	redis.DefaultHash = Name
	if err := Goes.Main(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
