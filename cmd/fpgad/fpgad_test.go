// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package fpgad

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/platinasystems/ciscofpga/cmd"
)

func TestKind(t *testing.T) {
	if !cmd.WhatKind(new(Command)).IsDaemon() {
		t.Error("not a daemon")
	}
}

func TestMainArgs(t *testing.T) {
	c := new(Command)
	if err := c.Main("extra"); err == nil {
		t.Error("accepted an argument")
	}
	if err := c.Main("-poll", "0"); err == nil {
		t.Error("accepted a zero poll")
	}
	dir := t.TempDir()
	if err := c.Main("-config", filepath.Join(dir, "none.yaml")); err == nil {
		t.Error("loaded a missing config")
	}
	fn := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(fn, []byte("fpgas:\n- source: pci:1\n"),
		0644); err != nil {
		t.Fatal(err)
	}
	if err := c.Main("-config", fn); err == nil {
		t.Error("accepted a bad source")
	}
	if err := c.Close(); err != nil {
		t.Error(err)
	}
}

func TestCloseUnstarted(t *testing.T) {
	if err := new(Command).Close(); err != nil {
		t.Error(err)
	}
}
