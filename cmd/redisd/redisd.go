// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package redisd serves the machine's published FPGA attributes. Daemons
// print "[KEY: ]FIELD: VALUE" to the redis.pub socket and assign the
// fields they accept in hset.
package redisd

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/platinasystems/atsock"
	"github.com/platinasystems/ciscofpga/cmd"
	"github.com/platinasystems/ciscofpga/lang"
	grs "github.com/platinasystems/go-redis-server"
	"github.com/platinasystems/log"
	"github.com/platinasystems/parms"
	"github.com/platinasystems/redis"
	"github.com/platinasystems/redis/publisher"
	"github.com/platinasystems/redis/rpc/reg"
)

const DefaultPort = 6379

type Command struct {
	// A non-empty Machine is published as "machine: Machine".
	Machine string

	// Hook may print machine fields before redis.ready.
	Hook func(*publisher.Publisher)

	stop    chan struct{}
	pubconn *net.UnixConn
	redisd  Redisd
}

func (*Command) String() string { return "redisd" }

func (*Command) Usage() string {
	return "redisd [-port PORT] [-set FIELD=VALUE]... [DEVICE]..."
}

func (*Command) Apropos() lang.Alt {
	return lang.Alt{
		lang.EnUS: "a redis server of FPGA attributes",
	}
}

func (*Command) Man() lang.Alt {
	return lang.Alt{
		lang.EnUS: `
DESCRIPTION
	Run a redis server on the @redisd abstract socket and, if given,
	the addresses of each listed network DEVICE. Fields published by
	fpgad are kept in the default hash; hset of a field is forwarded
	to the daemon that assigned its prefix.

OPTIONS
	DEVICE...	also listen on the addresses of these devices
	-port PORT	network port, default 6379
	-set FIELD=VALUE
			initialize a field of the default hash`,
	}
}

func (*Command) Kind() cmd.Kind { return cmd.Daemon }

func (c *Command) Main(args ...string) error {
	parm, args := parms.New(args, "-port", "-set")
	c.redisd.port = DefaultPort
	if s := parm.ByName["-port"]; len(s) > 0 {
		if _, err := fmt.Sscan(s, &c.redisd.port); err != nil {
			return fmt.Errorf("-port %s: %v", s, err)
		}
	}
	grs.Stderr = os.Stderr

	c.stop = make(chan struct{})
	c.redisd.init()

	cfg := grs.DefaultConfig().Proto("unix").Host("@redisd").
		Handler(&c.redisd)
	srv, err := grs.NewServer(cfg)
	if err != nil {
		return err
	}
	c.redisd.servers = append(c.redisd.servers, srv)
	defer c.redisd.close()

	c.redisd.reg, err = reg.New(c.redisd.assign, c.redisd.unassign)
	if err != nil {
		return err
	}
	defer c.redisd.reg.Srvr.Close()

	c.pubconn, err = atsock.ListenUnixgram("redis.pub")
	if err != nil {
		return err
	}
	defer c.pubconn.Close()
	go c.gopub()

	if err = c.pubinit(parm.ByName["-set"]); err != nil {
		return err
	}
	go srv.Start()
	for _, name := range args {
		c.redisd.listen(name)
	}
	<-c.stop
	return nil
}

func (c *Command) Close() error {
	if c.stop != nil {
		close(c.stop)
	}
	return nil
}

func (c *Command) gopub() {
	b := make([]byte, os.Getpagesize())
	for {
		n, err := c.pubconn.Read(b)
		if err != nil {
			return
		}
		if key, field, value, msg, ok := parsePub(b[:n]); ok {
			c.redisd.publish(key, field, value, msg)
		}
	}
}

// parsePub splits "[KEY: ]FIELD: VALUE"; msg is what subscribers of KEY
// receive, "FIELD: VALUE".
func parsePub(b []byte) (key, field string, value, msg []byte, ok bool) {
	const sep = ": "
	t := bytes.TrimSpace(b)
	x := bytes.SplitN(t, []byte(sep), 3)
	switch len(x) {
	case 2:
		return redis.DefaultHash, string(x[0]), x[1], t, true
	case 3:
		return string(x[0]), string(x[1]), x[2],
			t[len(x[0])+len(sep):], true
	}
	return
}

func (c *Command) pubinit(set string) error {
	pub, err := publisher.New()
	if err != nil {
		return err
	}
	defer pub.Close()
	if hostname, err := os.Hostname(); err == nil {
		pub.Print("hostname: ", hostname)
	}
	if len(c.Machine) > 0 {
		pub.Print("machine: ", c.Machine)
	}
	if c.Hook != nil {
		c.Hook(pub)
	}
	for _, fv := range strings.Fields(set) {
		eq := strings.IndexByte(fv, '=')
		switch {
		case eq == 0:
		case eq < 0:
			pub.Print(fv, ": ")
		default:
			pub.Print(fv[:eq], ": ", fv[eq+1:])
		}
	}
	_, err = pub.Print("redis.ready: true")
	return err
}

// Redisd is the grs handler. Published hashes are kept here; hset is
// forwarded to the longest assigned prefix of "KEY:FIELD" or KEY.
type Redisd struct {
	mutex     sync.Mutex
	port      int
	servers   []*grs.Server
	listening map[string]bool
	sub       map[string]*grs.MultiChannelWriter
	published grs.HashHash
	assigned  Assignments
	reg       *reg.Reg
}

func (redisd *Redisd) init() {
	redisd.listening = make(map[string]bool)
	redisd.sub = make(map[string]*grs.MultiChannelWriter)
	redisd.published = grs.HashHash{
		redis.DefaultHash: make(grs.HashValue),
	}
}

func (redisd *Redisd) close() {
	redisd.mutex.Lock()
	defer redisd.mutex.Unlock()
	for _, srv := range redisd.servers {
		srv.Close()
	}
	redisd.servers = nil
}

func (redisd *Redisd) assign(key string, v interface{}) error {
	redisd.mutex.Lock()
	defer redisd.mutex.Unlock()
	redisd.assigned = redisd.assigned.Insert(key, v)
	return nil
}

func (redisd *Redisd) unassign(key string) error {
	redisd.mutex.Lock()
	defer redisd.mutex.Unlock()
	as, found := redisd.assigned.Delete(key)
	if !found {
		return fmt.Errorf("%s: not found", key)
	}
	redisd.assigned = as
	return nil
}

// listen on the unicast addresses of the named device.
func (redisd *Redisd) listen(name string) {
	dev, err := net.InterfaceByName(name)
	if err != nil {
		log.Print("daemon", "err", "redisd: ", err)
		return
	}
	if dev.Flags&net.FlagUp == 0 {
		log.Print("daemon", "err", "redisd: ", name, ": down")
		return
	}
	addrs, err := dev.Addrs()
	if err != nil {
		log.Print("daemon", "err", "redisd: ", name, ": ", err)
		return
	}
	redisd.mutex.Lock()
	defer redisd.mutex.Unlock()
	for _, addr := range addrs {
		ip, _, err := net.ParseCIDR(addr.String())
		if err != nil || ip.IsMulticast() || redisd.listening[addr.String()] {
			continue
		}
		cfg := grs.DefaultConfig().Handler(redisd).Port(redisd.port)
		if ip.To4() == nil {
			cfg = cfg.Proto("tcp6").
				Host(fmt.Sprint("[", ip, "%", name, "]"))
		} else {
			cfg = cfg.Host(ip.String())
		}
		srv, err := grs.NewServer(cfg)
		if err != nil {
			log.Print("daemon", "err", "redisd: ", ip, ": ", err)
			continue
		}
		redisd.servers = append(redisd.servers, srv)
		redisd.listening[addr.String()] = true
		go srv.Start()
		log.Print("daemon", "info", "redisd: listen ", ip, "%", name,
			":", redisd.port)
	}
}

func (redisd *Redisd) publish(key, field string, value, msg []byte) {
	redisd.mutex.Lock()
	defer redisd.mutex.Unlock()
	hv, found := redisd.published[key]
	if !found {
		hv = make(grs.HashValue)
		redisd.published[key] = hv
	}
	if field == "delete" {
		for k := range hv {
			if strings.HasPrefix(k, string(value)) {
				delete(hv, k)
			}
		}
		return
	}
	hv[field] = append(hv[field][:0], value...)
	sub, found := redisd.sub[key]
	if !found {
		return
	}
	mb := make([]byte, len(msg))
	copy(mb, msg)
	m := []interface{}{"message", key, mb}
	for i := 0; i < len(sub.Chans); {
		select {
		case sub.Chans[i].Channel <- m:
			i++
		default:
			// a full subscriber is dropped
			close(sub.Chans[i].Channel)
			sub.Chans = append(sub.Chans[:i], sub.Chans[i+1:]...)
		}
	}
}

func (redisd *Redisd) Hexists(key, field string) (int, error) {
	redisd.mutex.Lock()
	defer redisd.mutex.Unlock()
	if _, found := redisd.published[key][field]; !found {
		return 0, nil
	}
	return 1, nil
}

// Hget of an unknown field treats it as a regular expression and returns
// the matching "FIELD: VALUE" lines.
func (redisd *Redisd) Hget(key, field string) ([]byte, error) {
	redisd.mutex.Lock()
	defer redisd.mutex.Unlock()
	hv, found := redisd.published[key]
	if !found {
		return nil, fmt.Errorf("%s: not found", key)
	}
	if b, found := hv[field]; found {
		return b, nil
	}
	re, err := regexp.Compile(field)
	if err != nil {
		return nil, err
	}
	var keys []string
	for k := range hv {
		if re.MatchString(k) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%s: not found in %s", field, key)
	}
	sort.Strings(keys)
	buf := new(bytes.Buffer)
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(k)
		buf.WriteString(": ")
		buf.Write(hv[k])
	}
	return buf.Bytes(), nil
}

func (redisd *Redisd) Hgetall(key string) ([][]byte, error) {
	redisd.mutex.Lock()
	defer redisd.mutex.Unlock()
	hv, found := redisd.published[key]
	if !found {
		return nil, fmt.Errorf("%s: not found", key)
	}
	fields := sortedFields(hv)
	bs := make([][]byte, 0, 2*len(fields))
	for _, k := range fields {
		bs = append(bs, []byte(k), hv[k])
	}
	return bs, nil
}

func (redisd *Redisd) Hkeys(key string) ([][]byte, error) {
	redisd.mutex.Lock()
	defer redisd.mutex.Unlock()
	hv, found := redisd.published[key]
	if !found {
		return nil, fmt.Errorf("%s: not found", key)
	}
	fields := sortedFields(hv)
	bs := make([][]byte, len(fields))
	for i, k := range fields {
		bs[i] = []byte(k)
	}
	return bs, nil
}

func (redisd *Redisd) Hset(key, field string, value []byte) (int, error) {
	type hsetter interface {
		Hset(string, string, []byte) (int, error)
	}
	redisd.mutex.Lock()
	v := redisd.assigned.Find(key + ":" + field)
	if v == nil {
		v = redisd.assigned.Find(key)
	}
	redisd.mutex.Unlock()
	method, ok := v.(hsetter)
	if !ok {
		return 0, fmt.Errorf("can't hset %s %s", key, field)
	}
	return method.Hset(key, field, value)
}

func (redisd *Redisd) Keys(pattern string) ([][]byte, error) {
	match := func(string) bool { return true }
	if len(pattern) > 0 && pattern != "*" {
		if strings.ContainsAny(pattern, "?*\\") {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, err
			}
			match = re.MatchString
		} else {
			match = func(k string) bool { return k == pattern }
		}
	}
	var reply [][]byte
	for _, k := range redisd.keys() {
		if match(k) {
			reply = append(reply, []byte(k))
		}
	}
	return reply, nil
}

func (redisd *Redisd) keys() []string {
	redisd.mutex.Lock()
	defer redisd.mutex.Unlock()
	set := make(map[string]struct{})
	for _, a := range redisd.assigned {
		k := a.prefix
		if i := strings.IndexByte(k, ':'); i >= 0 {
			k = k[:i]
		}
		set[k] = struct{}{}
	}
	for k := range redisd.published {
		set[k] = struct{}{}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (redisd *Redisd) Monitor() (*grs.MonitorReply, error) {
	return &grs.MonitorReply{}, nil
}

func (redisd *Redisd) Ping() (*grs.StatusReply, error) {
	return grs.NewStatusReply("PONG"), nil
}

func (redisd *Redisd) Subscribe(channels ...[]byte) (*grs.MultiChannelWriter,
	error) {
	mcw := &grs.MultiChannelWriter{
		Chans: make([]*grs.ChannelWriter, len(channels)),
	}
	redisd.mutex.Lock()
	defer redisd.mutex.Unlock()
	for i, key := range channels {
		cw := &grs.ChannelWriter{
			FirstReply: []interface{}{"subscribe", key, 1},
			Channel:    make(chan []interface{}, 1024),
		}
		if sub := redisd.sub[string(key)]; sub == nil {
			redisd.sub[string(key)] = &grs.MultiChannelWriter{
				Chans: []*grs.ChannelWriter{cw},
			}
		} else {
			sub.Chans = append(sub.Chans, cw)
		}
		mcw.Chans[i] = cw
	}
	return mcw, nil
}

func sortedFields(hv grs.HashValue) []string {
	fields := make([]string, 0, len(hv))
	for k := range hv {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// Assignments are ordered longest prefix first.
type Assignments []*assignment

type assignment struct {
	prefix string
	v      interface{}
}

// Insert or replace the handler of prefix.
func (as Assignments) Insert(prefix string, v interface{}) Assignments {
	i := sort.Search(len(as), func(i int) bool {
		ni, np := len(as[i].prefix), len(prefix)
		return ni < np || ni == np && as[i].prefix >= prefix
	})
	if i < len(as) && as[i].prefix == prefix {
		as[i].v = v
		return as
	}
	as = append(as, nil)
	copy(as[i+1:], as[i:])
	as[i] = &assignment{prefix, v}
	return as
}

// Delete the handler of the longest prefix of key.
func (as Assignments) Delete(key string) (Assignments, bool) {
	for i, a := range as {
		if strings.HasPrefix(key, a.prefix) {
			return append(as[:i], as[i+1:]...), true
		}
	}
	return as, false
}

// Find the handler of the longest prefix of key, nil if none.
func (as Assignments) Find(key string) interface{} {
	for _, a := range as {
		if strings.HasPrefix(key, a.prefix) {
			return a.v
		}
	}
	return nil
}
