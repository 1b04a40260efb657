// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package fpgad probes the machine's FPGAs, binds their block drivers and
// publishes the block attributes to redis.
package fpgad

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/rpc"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/platinasystems/atsock"
	"github.com/platinasystems/ciscofpga/cmd"
	"github.com/platinasystems/ciscofpga/internal/blocks/gpio"
	"github.com/platinasystems/ciscofpga/internal/fwnode"
	"github.com/platinasystems/ciscofpga/internal/machine"
	"github.com/platinasystems/ciscofpga/internal/reboot"
	"github.com/platinasystems/ciscofpga/lang"
	"github.com/platinasystems/flags"
	"github.com/platinasystems/log"
	"github.com/platinasystems/parms"
	"github.com/platinasystems/redis"
	"github.com/platinasystems/redis/publisher"
	"github.com/platinasystems/redis/rpc/args"
	"github.com/platinasystems/redis/rpc/reply"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	Name          = "fpgad"
	DefaultConfig = "/etc/goes/cisco8k.yaml"
	DefaultPoll   = 5 * time.Second
)

type Command struct {
	Info
	// Init, if set, runs once before the first probe.
	Init func()
	init sync.Once
}

type Info struct {
	mutex   sync.Mutex
	rpc     *atsock.RpcServer
	pub     *publisher.Publisher
	stop    chan struct{}
	machine *machine.Machine
	last    map[string]string
	metrics *http.Server
}

func (*Command) String() string { return Name }

func (*Command) Usage() string {
	return "fpgad [-debug] [-config FILE] [-firmware FILE] [-metrics ADDR] [-poll SECONDS]"
}

func (*Command) Apropos() lang.Alt {
	return lang.Alt{
		lang.EnUS: "FPGA block daemon",
	}
}

func (*Command) Man() lang.Alt {
	return lang.Alt{
		lang.EnUS: `
DESCRIPTION
	Walk the block table of each configured FPGA, bind the drivers of
	its info, msd, xil, pseq, gpio and i2c blocks, and publish their
	attributes to redis as DEVICE.ATTRIBUTE, e.g.

		gpio.0.auto.info/version: 1.1
		cisco-fpga-i2c.0.auto.arbitration/timeout_msecs: 1000

	Writable attributes may be set with hset. The field fpgad.reboot
	takes restart, halt or power-off and runs the reboot notifiers.

OPTIONS
	-debug		log driver details
	-config FILE	machine configuration, default /etc/goes/cisco8k.yaml
	-firmware FILE	devicetree blob or yaml description overriding
			the configuration's firmware
	-metrics ADDR	serve arbitration statistics to prometheus
	-poll SECONDS	attribute publication interval, default 5`,
	}
}

func (*Command) Kind() cmd.Kind { return cmd.Daemon }

func (c *Command) Main(args ...string) error {
	if c.Init != nil {
		c.init.Do(c.Init)
	}
	flag, args := flags.New(args, "-debug")
	parm, args := parms.New(args, "-config", "-firmware", "-metrics",
		"-poll")
	if len(args) > 0 {
		return fmt.Errorf("%v: unexpected", args)
	}
	poll := DefaultPoll
	if s := parm.ByName["-poll"]; len(s) > 0 {
		n, err := strconv.ParseUint(s, 0, 32)
		if err != nil || n == 0 {
			return fmt.Errorf("-poll %s: invalid", s)
		}
		poll = time.Duration(n) * time.Second
	}
	fn := parm.ByName["-config"]
	if len(fn) == 0 {
		fn = DefaultConfig
	}
	cfg, err := machine.LoadConfig(fn)
	if err != nil {
		return err
	}
	if flag.ByName["-debug"] {
		cfg.Debug = true
	}
	if s := parm.ByName["-firmware"]; len(s) > 0 {
		cfg.Firmware = s
	}
	var fw fwnode.Node
	if len(cfg.Firmware) > 0 {
		if fw, err = machine.LoadFirmware(cfg.Firmware); err != nil {
			return err
		}
	}

	if err = redis.IsReady(); err != nil {
		return err
	}

	c.stop = make(chan struct{})
	c.last = make(map[string]string)

	if c.machine, err = machine.New(cfg, fw); err != nil {
		return err
	}
	defer c.machine.Close()
	if err = c.machine.Probe(context.Background()); err != nil {
		return err
	}

	if addr := parm.ByName["-metrics"]; len(addr) > 0 {
		if err = c.serveMetrics(addr); err != nil {
			return err
		}
		defer c.metrics.Close()
	}

	if c.pub, err = publisher.New(); err != nil {
		return err
	}
	defer c.pub.Close()

	if c.rpc, err = atsock.NewRpcServer(Name); err != nil {
		return err
	}
	defer c.rpc.Close()

	rpc.Register(&c.Info)
	for _, prefix := range c.prefixes() {
		err = redis.Assign(redis.DefaultHash+":"+prefix, Name, "Info")
		if err != nil {
			return err
		}
	}
	for _, fpga := range c.machine.FPGAs() {
		log.Print("daemon", "info", fpga.Metadata)
	}

	c.update()
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return nil
		case <-t.C:
			c.update()
		}
	}
}

func (c *Command) Close() error {
	if c.stop != nil {
		close(c.stop)
	}
	return nil
}

func (c *Command) serveMetrics(addr string) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(c.machine.Core.Collector); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	c.metrics = &http.Server{Handler: mux}
	go func() {
		if err := c.metrics.Serve(ln); err != http.ErrServerClosed {
			log.Print("daemon", "err", Name, ": metrics: ", err)
		}
	}()
	return nil
}

// prefixes are the redis fields served by Hset: one per device, and the
// daemon's own.
func (c *Command) prefixes() []string {
	l := []string{Name + "."}
	for _, dev := range c.machine.Bus.Devices() {
		l = append(l, dev.Name()+".")
	}
	return l
}

func (c *Command) update() {
	c.Info.mutex.Lock()
	defer c.Info.mutex.Unlock()
	snap := c.machine.Snapshot()
	for _, dev := range c.machine.Bus.Devices() {
		chip, ok := dev.DrvData().(*gpio.Chip)
		if !ok {
			continue
		}
		var names []string
		for _, offset := range chip.HandleIRQ() {
			name := chip.Name(offset)
			if len(name) == 0 {
				name = strconv.Itoa(offset)
			}
			names = append(names, name)
		}
		if len(names) > 0 {
			log.Print("daemon", "info", dev.Name(), ": interrupt ",
				strings.Join(names, ", "))
			snap[dev.Name()+".interrupt"] = strings.Join(names, ",")
		}
	}
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c.Info.publish(k, snap[k])
	}
}

func (i *Info) publish(k, v string) {
	if last, found := i.last[k]; found && last == v {
		return
	}
	i.pub.Print(k, ": ", v)
	i.last[k] = v
}

func (i *Info) Hset(args args.Hset, reply *reply.Hset) error {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	v := strings.TrimRight(string(args.Value), "\n")
	if args.Field == Name+".reboot" {
		mode, err := reboot.ParseMode(v)
		if err != nil {
			return err
		}
		log.Print("daemon", "info", Name, ": ", mode, " notifiers")
		i.machine.Chain.Notify(mode)
		*reply = 1
		return nil
	}
	if err := i.machine.Store(args.Field, v); err != nil {
		return err
	}
	if s, err := i.machine.Show(args.Field); err == nil {
		i.publish(args.Field, strings.TrimRight(s, "\n"))
	}
	*reply = 1
	return nil
}
