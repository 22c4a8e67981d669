// Copyright (c) 2017-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	_ "embed"
	"os"
	"path/filepath"
)

//go:embed sample-keysafe.conf
var sampleKeysafeConf string

// createDefaultConfigFile writes the commented sample configuration to path
// unless a file already exists there.
func createDefaultConfigFile(path string) error {
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(sampleKeysafeConf), 0600)
}
