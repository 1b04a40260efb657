// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package redisd

import (
	"testing"

	"github.com/platinasystems/redis"
)

func TestParsePub(t *testing.T) {
	key, field, value, msg, ok := parsePub([]byte("gpio.0.auto.label: cpu\n"))
	if !ok || key != redis.DefaultHash || field != "gpio.0.auto.label" ||
		string(value) != "cpu" || string(msg) != "gpio.0.auto.label: cpu" {
		t.Errorf("%q %q %q %q %v", key, field, value, msg, ok)
	}
	key, field, value, msg, ok = parsePub([]byte("fpga: version: 6.2"))
	if !ok || key != "fpga" || field != "version" ||
		string(value) != "6.2" || string(msg) != "version: 6.2" {
		t.Errorf("%q %q %q %q %v", key, field, value, msg, ok)
	}
	if _, _, _, _, ok = parsePub([]byte("garbage")); ok {
		t.Error("parsed garbage")
	}
}

type hsetter string

func (h hsetter) Hset(key, field string, value []byte) (int, error) {
	return len(h), nil
}

func TestAssignments(t *testing.T) {
	var as Assignments
	as = as.Insert(redis.DefaultHash+":fpgad.", hsetter("fpgad"))
	as = as.Insert(redis.DefaultHash+":gpio.0.auto.", hsetter("gpio"))
	as = as.Insert(redis.DefaultHash+":", hsetter("any"))
	for i := 1; i < len(as); i++ {
		if len(as[i-1].prefix) < len(as[i].prefix) {
			t.Fatal("not longest first")
		}
	}
	for key, want := range map[string]hsetter{
		redis.DefaultHash + ":gpio.0.auto.label": "gpio",
		redis.DefaultHash + ":fpgad.reboot":      "fpgad",
		redis.DefaultHash + ":msd.0.auto.label":  "any",
	} {
		if v := as.Find(key); v != want {
			t.Errorf("%s: %v", key, v)
		}
	}
	if as.Find("other:x") != nil {
		t.Error("found other")
	}
	as = as.Insert(redis.DefaultHash+":fpgad.", hsetter("fpgad2"))
	if len(as) != 3 {
		t.Error("duplicate assignment")
	}
	as, found := as.Delete(redis.DefaultHash + ":gpio.0.auto.x")
	if !found || len(as) != 2 {
		t.Error("delete", found, len(as))
	}
	if v := as.Find(redis.DefaultHash + ":gpio.0.auto.label"); v != hsetter("any") {
		t.Error(v)
	}
}

func TestRedisd(t *testing.T) {
	defer func(h string) { redis.DefaultHash = h }(redis.DefaultHash)
	redis.DefaultHash = "goes-cisco8k"
	var r Redisd
	r.init()
	r.publish(redis.DefaultHash, "gpio.0.auto.label", []byte("cpu"), nil)
	r.publish(redis.DefaultHash, "gpio.0.auto.info/version",
		[]byte("1.1"), nil)
	r.publish(redis.DefaultHash, "msd.0.auto.label", []byte("msd"), nil)

	b, err := r.Hget(redis.DefaultHash, "gpio.0.auto.label")
	if err != nil || string(b) != "cpu" {
		t.Error(string(b), err)
	}
	b, err = r.Hget(redis.DefaultHash, "^gpio")
	if err != nil || string(b) !=
		"gpio.0.auto.info/version: 1.1\ngpio.0.auto.label: cpu" {
		t.Errorf("%q %v", b, err)
	}
	bs, err := r.Hkeys(redis.DefaultHash)
	if err != nil || len(bs) != 3 || string(bs[0]) != "gpio.0.auto.info/version" {
		t.Errorf("%q %v", bs, err)
	}
	if n, _ := r.Hexists(redis.DefaultHash, "msd.0.auto.label"); n != 1 {
		t.Error("msd label missing")
	}

	r.publish(redis.DefaultHash, "delete", []byte("gpio."), nil)
	if n, _ := r.Hexists(redis.DefaultHash, "gpio.0.auto.label"); n != 0 {
		t.Error("gpio label not deleted")
	}
	if _, err = r.Hset(redis.DefaultHash, "msd.0.auto.label",
		[]byte("x")); err == nil {
		t.Error("hset without assignment")
	}
	r.assign(redis.DefaultHash+":msd.", hsetter("x"))
	if n, err := r.Hset(redis.DefaultHash, "msd.0.auto.label",
		[]byte("x")); n != 1 || err != nil {
		t.Error(n, err)
	}
	keys, err := r.Keys("*")
	if err != nil || len(keys) != 1 || string(keys[0]) != redis.DefaultHash {
		t.Errorf("%q %v", keys, err)
	}
}

func TestKeysUnnamedHash(t *testing.T) {
	defer func(h string) { redis.DefaultHash = h }(redis.DefaultHash)
	redis.DefaultHash = ""
	var r Redisd
	r.init()
	r.assign(":msd.", hsetter("x"))
	r.assign("fpga:", hsetter("y"))
	keys, err := r.Keys("*")
	if err != nil || len(keys) != 2 || string(keys[0]) != "" ||
		string(keys[1]) != "fpga" {
		t.Errorf("%q %v", keys, err)
	}
}
