// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package fpgaarb shows and tunes the multi-master arbitration of the FPGA
// i2c adapters through the attributes fpgad publishes.
package fpgaarb

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/platinasystems/ciscofpga/internal/arbitrate"
	"github.com/platinasystems/ciscofpga/lang"
	"github.com/platinasystems/flags"
	"github.com/platinasystems/redis"
)

// Tunable are the arbitration attributes that take a write.
var Tunable = []string{
	"peer_grant_msecs",
	"peer_retry_msecs",
	"timeout_msecs",
}

type Command struct{}

func (Command) String() string { return "fpgaarb" }

func (Command) Usage() string {
	return "fpgaarb [-stats] [DEVICE [ATTRIBUTE=MSECS]...]"
}

func (Command) Apropos() lang.Alt {
	return lang.Alt{
		lang.EnUS: "show and tune FPGA i2c arbitration",
	}
}

func (Command) Man() lang.Alt {
	return lang.Alt{
		lang.EnUS: `
DESCRIPTION
	Print the arbitration settings of each multi-master i2c adapter,
	or of DEVICE, as published by fpgad. With -stats, include the
	arbitration counters.

	Assignments set one of the tunable timeouts of DEVICE:
		timeout_msecs		wait for a grant
		peer_grant_msecs	hold before yielding to the peer
		peer_retry_msecs	back off after a peer grant

EXAMPLES
	fpgaarb
	fpgaarb cisco-fpga-i2c.0.auto timeout_msecs=2000`,
	}
}

func (Command) Main(args ...string) error {
	flag, args := flags.New(args, "-stats")
	var dev string
	if len(args) > 0 {
		dev, args = args[0], args[1:]
	}
	assigns := make([][2]string, 0, len(args))
	for _, arg := range args {
		attr, value, err := ParseAssign(arg)
		if err != nil {
			return err
		}
		assigns = append(assigns, [2]string{attr, value})
	}
	if len(assigns) > 0 && len(dev) == 0 {
		return fmt.Errorf("DEVICE: missing")
	}
	for _, a := range assigns {
		if _, err := redis.Hset(redis.DefaultHash,
			Key(dev, a[0]), a[1]); err != nil {
			return err
		}
	}
	all, err := redis.Hkeys(redis.DefaultHash)
	if err != nil {
		return err
	}
	keys := Select(all, dev, flag.ByName["-stats"])
	if len(keys) == 0 {
		if len(dev) > 0 {
			return fmt.Errorf("%s: no arbitration", dev)
		}
		return nil
	}
	for _, k := range keys {
		v, err := redis.Hget(redis.DefaultHash, k)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s: %s\n", k, v)
	}
	return nil
}

// Key of an arbitration attribute of dev.
func Key(dev, attr string) string {
	return dev + "." + arbitrate.GroupName + "/" + attr
}

// ParseAssign parses ATTRIBUTE=MSECS for one of the tunable attributes.
func ParseAssign(s string) (attr, value string, err error) {
	eq := strings.IndexByte(s, '=')
	if eq < 0 {
		return "", "", fmt.Errorf("%s: not an assignment", s)
	}
	attr, value = s[:eq], s[eq+1:]
	i := sort.SearchStrings(Tunable, attr)
	if i == len(Tunable) || Tunable[i] != attr {
		return "", "", fmt.Errorf("%s: not tunable", attr)
	}
	if _, err = strconv.ParseUint(value, 0, 32); err != nil {
		return "", "", fmt.Errorf("%s: %s: invalid", attr, value)
	}
	return attr, value, nil
}

// Select returns the sorted arbitration keys, of dev if not empty. Counters
// are left out unless stats.
func Select(keys []string, dev string, stats bool) []string {
	group := "." + arbitrate.GroupName + "/"
	var l []string
	for _, k := range keys {
		i := strings.Index(k, group)
		if i < 0 {
			continue
		}
		if len(dev) > 0 && k[:i] != dev {
			continue
		}
		if !stats && isStat(k[i+len(group):]) {
			continue
		}
		l = append(l, k)
	}
	sort.Strings(l)
	return l
}

func isStat(attr string) bool {
	switch attr {
	case "peer", "local", "index", "info":
		return false
	}
	return !strings.HasSuffix(attr, "_msecs") &&
		!strings.HasSuffix(attr, "_jiffies") ||
		strings.HasSuffix(attr, "wait_msecs")
}
