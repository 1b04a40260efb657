// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package goes

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/platinasystems/ciscofpga/cmd"
	"github.com/platinasystems/ciscofpga/lang"
)

// The helpers are builtin, so "goes man fpgad" and "goes fpgad -man" work
// without fpgad knowing about them. Keep these names in cmd.Helpers.
var helpers = map[string]func(*Goes, io.Writer, ...string) error{
	"apropos": (*Goes).apropos,
	"help":    (*Goes).help,
	"man":     (*Goes).man,
	"usage":   (*Goes).usage,
}

type Usager interface {
	Usage() string
}

type helper interface {
	Help(...string) string
}

type maner interface {
	Man() lang.Alt
}

func Usage(v Usager) string {
	return "usage:\t" + strings.TrimSpace(v.Usage())
}

func (g *Goes) Usage() string {
	if len(g.USAGE) > 0 {
		return g.USAGE
	}
	return fmt.Sprintf(`
	%[1]s [ -d ] COMMAND [ ARGS ]...
	%[1]s COMMAND -[-]HELPER
	%[1]s HELPER [ COMMAND ]...

	HELPER := { apropos | help | man | usage }`, g.NAME)
}

func (g *Goes) Apropos() lang.Alt {
	if g.APROPOS != nil {
		return g.APROPOS
	}
	return lang.Alt{
		lang.EnUS: "Cisco 8000 FPGA block management",
	}
}

func (g *Goes) Man() lang.Alt {
	if g.MAN != nil {
		return g.MAN
	}
	return lang.Alt{
		lang.EnUS: `
DESCRIPTION
	Discover the IP blocks of Cisco 8000 FPGAs, bind their drivers and
	serve their attributes.

OPTIONS
	-d	copy log messages to standard error`,
	}
}

// Help returns the usage of the named command, or the machine's. A
// command may provide its own Help.
func (g *Goes) Help(args ...string) string {
	g.swap(args)
	args = g.shift(args)
	if len(args) > 0 && args[0] == "help" {
		args = args[1:]
	}
	if len(args) == 0 {
		return Usage(g)
	}
	v, found := g.ByName[args[0]]
	if !found {
		return Usage(g)
	}
	if method, found := v.(helper); found {
		return method.Help(args[1:]...)
	}
	return Usage(v)
}

func (g *Goes) stdout() io.Writer {
	if g.out != nil {
		return g.out
	}
	return os.Stdout
}

// lookup returns the named commands; an empty list is the machine itself.
func (g *Goes) lookup(names []string) ([]cmd.Cmd, error) {
	names = g.shift(names)
	if len(names) == 0 {
		return []cmd.Cmd{g}, nil
	}
	l := make([]cmd.Cmd, 0, len(names))
	for _, name := range names {
		v, found := g.ByName[name]
		if !found {
			return nil, fmt.Errorf("%s: command not found", name)
		}
		l = append(l, v)
	}
	return l, nil
}

func (g *Goes) apropos(w io.Writer, args ...string) error {
	args = g.shift(args)
	if len(args) == 0 {
		if args = g.Names(); len(args) == 0 {
			return nil
		}
	}
	l, err := g.lookup(args)
	if err != nil {
		return err
	}
	for i, v := range l {
		s := v.Apropos().String()
		if cmd.WhatKind(v).IsDaemon() {
			s += " (daemon)"
		}
		if len(args[i]) < 16 {
			fmt.Fprintf(w, "%-16s%s\n", args[i], s)
		} else {
			fmt.Fprintf(w, "%s\n\t\t%s\n", args[i], s)
		}
	}
	return nil
}

func (g *Goes) help(w io.Writer, args ...string) error {
	if len(args) > 0 {
		if _, err := g.lookup(args[:1]); err != nil {
			return err
		}
	}
	fmt.Fprintln(w, g.Help(args...))
	return nil
}

func (g *Goes) usage(w io.Writer, args ...string) error {
	l, err := g.lookup(args)
	if err != nil {
		return err
	}
	for _, v := range l {
		fmt.Fprintln(w, Usage(v))
	}
	return nil
}

// man prints the NAME, SYNOPSIS and any Man text of each command. The
// machine's page also lists its commands by kind.
func (g *Goes) man(w io.Writer, args ...string) error {
	l, err := g.lookup(args)
	if err != nil {
		return err
	}
	for i, v := range l {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprint(w, "NAME\n\t", v, " - ", v.Apropos(),
			"\n\nSYNOPSIS\n\t", strings.TrimSpace(v.Usage()), "\n")
		if method, found := v.(maner); found {
			s := strings.TrimRight(method.Man().String(), "\n")
			if !strings.HasPrefix(s, "\n") {
				s = "\n" + s
			}
			fmt.Fprintln(w, s)
		}
		if v == cmd.Cmd(g) {
			g.manCommands(w)
		}
	}
	return nil
}

func (g *Goes) manCommands(w io.Writer) {
	var daemons, interactive []string
	for _, name := range g.Names() {
		if cmd.WhatKind(g.ByName[name]).IsDaemon() {
			daemons = append(daemons, name)
		} else {
			interactive = append(interactive, name)
		}
	}
	for _, x := range []struct {
		title string
		names []string
	}{
		{"COMMANDS", interactive},
		{"DAEMONS", daemons},
	} {
		if len(x.names) > 0 {
			fmt.Fprint(w, "\n", x.title, "\n\t",
				strings.Join(x.names, ", "), "\n")
		}
	}
}
