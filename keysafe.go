// Copyright (c) 2013-2015 The btcsuite developers
// Copyright (c) 2015-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/multiwallet/keysafe/errors"
	"github.com/multiwallet/keysafe/internal/loggers"
	"github.com/multiwallet/keysafe/internal/prompt"
	"github.com/multiwallet/keysafe/loader"
	"github.com/multiwallet/keysafe/version"
)

func init() {
	// Format nested errors without newlines (better for logs).
	errors.Separator = ":: "
}

func main() {
	// Create a context that is cancelled when a shutdown request is received
	// through an interrupt signal.  Cancellation dismisses open prompts.
	ctx := withShutdownCancel(context.Background())
	go shutdownListener()

	if err := run(ctx); err != nil {
		if ctx.Err() == nil {
			fmt.Fprintln(os.Stderr, err)
		}
		loggers.CloseLogRotator()
		os.Exit(1)
	}
}

// run is the main startup and teardown logic performed by the main package.  It
// is responsible for parsing the config, opening the databases and running the
// selected command.
func run(ctx context.Context) error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	cfg, cmd, args, err := loadConfig()
	if err != nil {
		return err
	}
	defer loggers.CloseLogRotator()

	log.Debugf("Version %s (Go version %s %s/%s)", version.String(), runtime.Version(),
		runtime.GOOS, runtime.GOARCH)

	if cfg.ConfigFile == defaultConfigFile {
		path := filepath.Join(cfg.AppDataDir, defaultConfigFilename)
		if err := createDefaultConfigFile(path); err != nil {
			log.Warnf("Unable to create default config file %s: %v", path, err)
		}
	}

	term := prompt.Stdio()
	lcfg := cfg.loaderConfig()
	lcfg.Biometric = term
	l := loader.NewLoader(lcfg)
	if err := l.Open(ctx); err != nil {
		return err
	}
	defer func() {
		if err := l.Close(); err != nil {
			log.Errorf("Failed to close databases: %v", err)
		}
	}()

	return cmd.run(ctx, &app{cfg: cfg, loader: l, term: term}, args)
}
