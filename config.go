// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/decred/dcrd/dcrutil/v4"
	flags "github.com/jessevdk/go-flags"
	"github.com/multiwallet/keysafe/internal/kvdb"
	"github.com/multiwallet/keysafe/internal/loggers"
	"github.com/multiwallet/keysafe/kdf"
	"github.com/multiwallet/keysafe/loader"
	"github.com/multiwallet/keysafe/unlock"
	"github.com/multiwallet/keysafe/version"
)

const (
	defaultConfigFilename = "keysafe.conf"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "keysafe.log"
	defaultLogSize        = 10 * 1024 // KiB
	defaultSecurityMode   = "biometric"
)

var (
	defaultAppDataDir = dcrutil.AppDataDir("keysafe", false)
	defaultConfigFile = filepath.Join(defaultAppDataDir, defaultConfigFilename)
	defaultLogDir     = filepath.Join(defaultAppDataDir, defaultLogDirname)
)

type config struct {
	// General application behavior
	ConfigFile   string `short:"C" long:"configfile" description:"Path to configuration file"`
	ShowVersion  bool   `short:"V" long:"version" description:"Display version information and exit"`
	AppDataDir   string `short:"A" long:"appdata" description:"Application data directory for config, databases and logs"`
	DebugLevel   string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
	LogDir       string `long:"logdir" description:"Directory to log output."`
	DBDriver     string `long:"dbdriver" description:"Database backend {bdb, badgerdb}"`
	SecurityMode string `long:"securitymode" description:"How wallets are unlocked {biometric, password}"`
	Strict       bool   `long:"strict" description:"Panic instead of erroring when an unlock is requested while another is running"`

	KDF kdfOptions `group:"Password Hashing Options" namespace:"kdf"`

	// Commands
	Create       createCmd       `command:"create" description:"Create a new wallet from a generated mnemonic"`
	Import       importCmd       `command:"import" description:"Import a wallet from a mnemonic, or a hardware wallet from its xpub"`
	Watch        watchCmd        `command:"watch" description:"Watch an address without key material" args-usage:"ADDRESS"`
	List         listCmd         `command:"list" description:"List wallets"`
	Accounts     accountsCmd     `command:"accounts" description:"List or add accounts of a wallet" args-usage:"[ROOT]"`
	Derive       deriveCmd       `command:"derive" description:"Derive addresses of a wallet" args-usage:"ROOT"`
	ShowMnemonic showMnemonicCmd `command:"show-mnemonic" description:"Unlock a wallet and display its mnemonic"`
	Validate     validateCmd     `command:"validate" description:"Check a password against the installation password"`
	Passwd       passwdCmd       `command:"passwd" description:"Change the installation password"`
	Rename       renameCmd       `command:"rename" description:"Rename a wallet" args-usage:"ROOT ALIAS"`
	Backup       backupCmd       `command:"backup" description:"Display a wallet mnemonic and mark it backed up" args-usage:"ROOT"`
	Delete       deleteCmd       `command:"delete" description:"Delete a wallet and its stored key" args-usage:"ROOT"`

	securityMode unlock.SecurityMode
	kdfParams    *kdf.Argon2idParams
}

type kdfOptions struct {
	Time    uint32 `long:"time" description:"Argon2id passes, used only when the databases are first created"`
	Memory  uint32 `long:"memory" description:"Argon2id memory in KiB, used only when the databases are first created"`
	Threads uint8  `long:"threads" description:"Argon2id lanes, used only when the databases are first created"`
}

// loaderConfig returns the loader configuration selected by the options.
func (c *config) loaderConfig() *loader.Config {
	return &loader.Config{
		DataDir: c.AppDataDir,
		Driver:  c.DBDriver,
		KDF:     c.kdfParams,
		Strict:  c.Strict,
	}
}

// cleanAndExpandPath expands environement variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// NOTE: The os.ExpandEnv doesn't work with Windows cmd.exe-style
	// %VARIABLE%, but they variables can still be expanded via POSIX-style
	// $VARIABLE.
	path = os.ExpandEnv(path)

	if !strings.HasPrefix(path, "~") {
		return filepath.Clean(path)
	}

	// Expand initial ~ to the current user's home directory, or ~otheruser
	// to otheruser's home directory.  On Windows, both forward and backward
	// slashes can be used.
	path = path[1:]

	var pathSeparators string
	if runtime.GOOS == "windows" {
		pathSeparators = string(os.PathSeparator) + "/"
	} else {
		pathSeparators = string(os.PathSeparator)
	}

	userName := ""
	if i := strings.IndexAny(path, pathSeparators); i != -1 {
		userName = path[:i]
		path = path[i:]
	}

	homeDir := ""
	var u *user.User
	var err error
	if userName == "" {
		u, err = user.Current()
	} else {
		u, err = user.Lookup(userName)
	}
	if err == nil {
		homeDir = u.HomeDir
	}
	// Fallback to CWD if user lookup fails or user has no home directory.
	if homeDir == "" {
		homeDir = "."
	}

	return filepath.Join(homeDir, path)
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace", "debug", "info", "warn", "error", "critical":
		return true
	}
	return false
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	// Convert the subsystemLoggers map keys to a slice.
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	// Sort the subsytems for stable display.
	sort.Strings(subsystems)
	return subsystems
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		// Validate debug log level.
		if !validLogLevel(debugLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		// Change the logging level for all subsystems.
		setLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "the specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		// Extract the specified subsystem and log level.
		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		// Validate subsystem.
		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "the specified subsystem [%v] is invalid -- " +
				"supported subsytems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}

		// Validate log level.
		if !validLogLevel(logLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in keysafe functioning properly without any config
// settings while still allowing the user to override settings with config files
// and command line options.  Command line options always take precedence.
// The returned command is the subcommand selected on the command line and the
// returned strings are its arguments.
func loadConfig() (*config, command, []string, error) {
	loadConfigError := func(err error) (*config, command, []string, error) {
		return nil, nil, nil, err
	}

	// Default config.
	cfg := config{
		DebugLevel:   defaultLogLevel,
		ConfigFile:   defaultConfigFile,
		AppDataDir:   defaultAppDataDir,
		LogDir:       defaultLogDir,
		DBDriver:     loader.DefaultDriver,
		SecurityMode: defaultSecurityMode,
		KDF: kdfOptions{
			Time:    kdf.DefaultTime,
			Memory:  kdf.DefaultMemory,
			Threads: kdf.DefaultThreads,
		},
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag|flags.PassDoubleDash|flags.IgnoreUnknown)
	preParser.SubcommandsOptional = true
	_, err := preParser.Parse()
	if err != nil {
		e, ok := err.(*flags.Error)
		if ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	if preCfg.ShowVersion {
		fmt.Printf("%s version %s (Go version %s %s/%s)\n", appName,
			version.String(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default)
	configFilePath := preCfg.ConfigFile
	if configFilePath == defaultConfigFile {
		if preCfg.AppDataDir != defaultAppDataDir {
			configFilePath = filepath.Join(cleanAndExpandPath(preCfg.AppDataDir),
				defaultConfigFilename)
		}
	} else {
		configFilePath = cleanAndExpandPath(configFilePath)
	}
	err = flags.NewIniParser(parser).ParseFile(configFilePath)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintln(os.Stderr, err)
			parser.WriteHelp(os.Stderr)
			return loadConfigError(err)
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return loadConfigError(err)
	}

	// If an alternate data directory was specified, and paths with defaults
	// relative to the data dir are unchanged, modify each path to be
	// relative to the new data dir.
	if cfg.AppDataDir != defaultAppDataDir {
		cfg.AppDataDir = cleanAndExpandPath(cfg.AppDataDir)
		if cfg.LogDir == defaultLogDir {
			cfg.LogDir = filepath.Join(cfg.AppDataDir, defaultLogDirname)
		}
	}
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Initialize logging at the default logging level.
	loggers.InitLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename), defaultLogSize)
	setLogLevels(defaultLogLevel)

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("loadConfig: %v", err)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return loadConfigError(err)
	}

	// Warn about missing config file after the final command line parse
	// succeeds.  This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil {
		log.Debugf("%v", configFileError)
	}

	validDriver := false
	for _, d := range kvdb.SupportedDrivers() {
		if cfg.DBDriver == d {
			validDriver = true
		}
	}
	if !validDriver {
		err := fmt.Errorf("loadConfig: unknown database driver %q -- supported drivers %v",
			cfg.DBDriver, kvdb.SupportedDrivers())
		fmt.Fprintln(os.Stderr, err)
		return loadConfigError(err)
	}

	cfg.securityMode, err = unlock.ParseSecurityMode(cfg.SecurityMode)
	if err != nil {
		err := fmt.Errorf("loadConfig: %v", err)
		fmt.Fprintln(os.Stderr, err)
		return loadConfigError(err)
	}

	cfg.kdfParams = &kdf.Argon2idParams{
		Time:    cfg.KDF.Time,
		Memory:  cfg.KDF.Memory,
		Threads: cfg.KDF.Threads,
	}
	if err := cfg.kdfParams.Validate(); err != nil {
		err := fmt.Errorf("loadConfig: %v", err)
		fmt.Fprintln(os.Stderr, err)
		return loadConfigError(err)
	}
	if _, err := io.ReadFull(rand.Reader, cfg.kdfParams.Salt[:]); err != nil {
		return loadConfigError(err)
	}

	if parser.Active == nil {
		err := fmt.Errorf("loadConfig: no command specified")
		parser.WriteHelp(os.Stderr)
		return loadConfigError(err)
	}
	cmd := cfg.command(parser.Active.Name)
	if cmd == nil {
		return loadConfigError(fmt.Errorf("loadConfig: unhandled command %q", parser.Active.Name))
	}

	return &cfg, cmd, remainingArgs, nil
}
