// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"github.com/decred/slog"
	"github.com/multiwallet/keysafe/credstore"
	"github.com/multiwallet/keysafe/device"
	"github.com/multiwallet/keysafe/internal/loggers"
	"github.com/multiwallet/keysafe/loader"
	"github.com/multiwallet/keysafe/unlock"
)

var log = loggers.MainLog

// Initialize package-global logger variables.
func init() {
	loader.UseLogger(loggers.LoaderLog)
	unlock.UseLogger(loggers.UnlockLog)
	device.UseLogger(loggers.DeviceLog)
	credstore.UseLogger(loggers.CredLog)
}

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]slog.Logger{
	"KSFE": loggers.MainLog,
	"LODR": loggers.LoaderLog,
	"UNLK": loggers.UnlockLog,
	"DVCE": loggers.DeviceLog,
	"CRED": loggers.CredLog,
}

// setLogLevel sets the logging level for provided subsystem.  Invalid
// subsystems are ignored.
func setLogLevel(subsystemID string, logLevel string) {
	// Ignore invalid subsystems.
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}

	// Defaults to info if the log level is invalid.
	level, _ := slog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// setLogLevels sets the log level for all subsystem loggers to the passed
// level.
func setLogLevels(logLevel string) {
	// Configure all sub-systems with the new logging level.
	for subsystemID := range subsystemLoggers {
		setLogLevel(subsystemID, logLevel)
	}
}
