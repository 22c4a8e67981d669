// Copyright (c) 2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"reflect"
	"testing"

	"github.com/multiwallet/keysafe/errors"
)

func TestParseAndSetDebugLevels(t *testing.T) {
	tests := []struct {
		level string
		valid bool
	}{
		{"info", true},
		{"trace", true},
		{"UNLK=debug,LODR=trace", true},
		{"verbose", false},
		{"UNLK=debug,LODR", false},
		{"NOPE=debug", false},
		{"UNLK=loud", false},
	}
	for _, test := range tests {
		err := parseAndSetDebugLevels(test.level)
		if test.valid != (err == nil) {
			t.Errorf("%q: unexpected error %v", test.level, err)
		}
	}
	setLogLevels(defaultLogLevel)
}

// Every command tagged on the options struct must be dispatched.
func TestCommandDispatch(t *testing.T) {
	var cfg config
	typ := reflect.TypeOf(cfg)
	n := 0
	for i := 0; i < typ.NumField(); i++ {
		name := typ.Field(i).Tag.Get("command")
		if name == "" {
			continue
		}
		n++
		if cfg.command(name) == nil {
			t.Errorf("command %q is not dispatched", name)
		}
	}
	if n != 12 {
		t.Errorf("found %d commands, want 12", n)
	}
	if cfg.command("bogus") != nil {
		t.Error("unknown command dispatched")
	}
}

func TestCheckArgs(t *testing.T) {
	if err := checkArgs("test", []string{"a"}, 1, 1, "usage"); err != nil {
		t.Fatal(err)
	}
	if err := checkArgs("test", nil, 1, 2, "usage"); !errors.Is(errors.Invalid, err) {
		t.Fatalf("expected Invalid, got %v", err)
	}
	if err := checkArgs("test", []string{"a", "b", "c"}, 1, 2, "usage"); !errors.Is(errors.Invalid, err) {
		t.Fatalf("expected Invalid, got %v", err)
	}

	addr, err := parseAddress("test", "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	if err != nil {
		t.Fatal(err)
	}
	if addr.Hex() != "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266" {
		t.Fatalf("got %s", addr.Hex())
	}
	if _, err := parseAddress("test", "0x1234"); !errors.Is(errors.Invalid, err) {
		t.Fatalf("expected Invalid, got %v", err)
	}
}
