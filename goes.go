// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package goes dispatches the commands of a Cisco 8000 FPGA machine binary
// by name. The binary may be run as "goes COMMAND [ARGS]..." or through a
// link named for the command.
package goes

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/platinasystems/ciscofpga/cmd"
	"github.com/platinasystems/ciscofpga/lang"
	"github.com/platinasystems/flags"
	"github.com/platinasystems/log"
)

type Goes struct {
	NAME    string
	APROPOS lang.Alt
	USAGE   string
	MAN     lang.Alt
	ByName  map[string]cmd.Cmd

	out io.Writer
}

type closer interface {
	Close() error
}

func (g *Goes) String() string { return g.NAME }

// Names of the interactive and daemon commands, sorted.
func (g *Goes) Names() []string {
	names := make([]string, 0, len(g.ByName))
	for name, v := range g.ByName {
		if !cmd.WhatKind(v).IsHidden() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (g *Goes) swap(args []string) { cmd.Swap(args) }

// shift drops a leading machine name, as in "goes help goes".
func (g *Goes) shift(args []string) []string {
	if len(args) > 0 && args[0] == g.NAME {
		return args[1:]
	}
	return args
}

// Main runs the named command. Without args it uses os.Args and, if the
// program was run by its own name, the command is the first argument.
//
//	-d	copy log messages to standard error
func (g *Goes) Main(args ...string) error {
	if len(args) == 0 {
		args = os.Args
		if len(args) > 0 && filepath.Base(args[0]) == g.NAME {
			args = args[1:]
		}
	} else if args[0] == g.NAME {
		args = args[1:]
	}
	flag, args := flags.New(args, "-d")
	if flag.ByName["-d"] {
		log.Tee(os.Stderr)
	}
	if len(args) == 0 {
		return fmt.Errorf("%s", Usage(g))
	}
	g.swap(args)
	name, args := args[0], args[1:]
	if fn, found := helpers[name]; found {
		return fn(g, g.stdout(), args...)
	}
	v := g.ByName[name]
	if v == nil {
		return fmt.Errorf("%s: command not found", name)
	}
	if cmd.WhatKind(v).IsDaemon() {
		if method, found := v.(closer); found {
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
			defer signal.Stop(sig)
			go func() {
				if _, ok := <-sig; ok {
					log.Print("daemon", "info", name, ": stopping")
					method.Close()
				}
			}()
		}
	}
	err := v.Main(args...)
	if err == io.EOF {
		err = nil
	}
	if err != nil {
		err = fmt.Errorf("%s: %v", name, err)
	}
	return err
}
