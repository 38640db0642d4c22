package rgbcfg

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btclog"
	"github.com/jessevdk/go-flags"
	"github.com/lightninglabs/rgb"
	"github.com/lightninglabs/rgb/rgbdb"
	"github.com/lightningnetwork/lnd/build"
	"github.com/lightningnetwork/lnd/lncfg"
	"github.com/lightningnetwork/lnd/signal"
)

const (
	defaultDataDirname = "data"
	defaultLogLevel    = "info"
	defaultLogDirname  = "logs"
	defaultLogFilename = "rgb.log"

	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10

	defaultConfigFileName = "rgb.conf"

	defaultStockFileName  = "stock.dat"
	defaultWalletFileName = "wallet.db"

	defaultBitcoindHost = "localhost:18443"

	// DatabaseBackendFile is the name of the single file stock backend.
	DatabaseBackendFile = "file"

	// DatabaseBackendSqlite is the name of the SQLite database backend.
	DatabaseBackendSqlite = "sqlite"

	// DatabaseBackendPostgres is the name of the Postgres database backend.
	DatabaseBackendPostgres = "postgres"
)

var (
	// DefaultRgbDir is the default directory where rgb tries to find its
	// configuration file and store its data. This is a directory in the
	// user's application data, for example:
	//   C:\Users\<username>\AppData\Local\Rgb on Windows
	//   ~/.rgb on Linux
	//   ~/Library/Application Support/Rgb on MacOS
	DefaultRgbDir = btcutil.AppDataDir("rgb", false)

	// DefaultConfigFile is the default full path of rgb's configuration
	// file.
	DefaultConfigFile = filepath.Join(DefaultRgbDir, defaultConfigFileName)

	defaultNetwork = "testnet"

	defaultDataDir = filepath.Join(DefaultRgbDir, defaultDataDirname)
	defaultLogDir  = filepath.Join(DefaultRgbDir, defaultLogDirname)

	defaultSqliteDatabaseFileName = "rgb.db"

	// defaultSqliteDatabasePath is the default path under which we store
	// the SQLite database file.
	defaultSqliteDatabasePath = filepath.Join(
		defaultDataDir, defaultNetwork, defaultSqliteDatabaseFileName,
	)
)

// BitcoindConfig houses the options used to reach the bitcoind node that
// resolves transactions and broadcasts witnesses.
type BitcoindConfig struct {
	Host       string `long:"host" description:"bitcoind RPC address"`
	User       string `long:"user" description:"bitcoind RPC user"`
	Pass       string `long:"pass" description:"bitcoind RPC password"`
	DisableTLS bool   `long:"notls" description:"Connect to bitcoind without TLS"`
	Offline    bool   `long:"offline" description:"Do not connect to bitcoind; commands that need the chain will fail"`
}

// Config is the main config for the rgb cli command.
type Config struct {
	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <global-level>,<subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	RgbDir     string `long:"rgbdir" description:"The base directory that contains rgb's data, logs, configuration file, etc."`
	ConfigFile string `long:"configfile" description:"Path to configuration file"`

	DataDir        string `long:"datadir" description:"The directory to store rgb's data within"`
	LogDir         string `long:"logdir" description:"Directory to log output."`
	MaxLogFiles    int    `long:"maxlogfiles" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int    `long:"maxlogfilesize" description:"Maximum logfile size in MB"`

	Network string `long:"network" description:"network to run on" choice:"bitcoin" choice:"testnet" choice:"regtest" choice:"signet"`

	Descriptor string `long:"descriptor" description:"Wallet descriptor used when a new wallet file is created"`
	WalletFile string `long:"walletfile" description:"Path to the wallet file"`

	Bitcoind *BitcoindConfig `group:"bitcoind" namespace:"bitcoind"`

	DatabaseBackend string                `long:"databasebackend" description:"The database backend to use for storing contract state." choice:"file" choice:"sqlite" choice:"postgres"`
	StockFile       string                `long:"stockfile" description:"Path to the stock file of the file backend"`
	Sqlite          *rgbdb.SqliteConfig   `group:"sqlite" namespace:"sqlite"`
	Postgres        *rgbdb.PostgresConfig `group:"postgres" namespace:"postgres"`

	// LogWriter is the root logger that all of the subloggers are hooked
	// up to.
	LogWriter *build.RotatingLogWriter

	// networkDir is the path to the directory of the currently active
	// network. This path will hold the files related to each different
	// network.
	networkDir string

	// ActiveNetParams contains parameters of the target chain.
	ActiveNetParams chaincfg.Params
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		RgbDir:          DefaultRgbDir,
		ConfigFile:      DefaultConfigFile,
		DataDir:         defaultDataDir,
		DebugLevel:      defaultLogLevel,
		LogDir:          defaultLogDir,
		MaxLogFiles:     defaultMaxLogFiles,
		MaxLogFileSize:  defaultMaxLogFileSize,
		Network:         defaultNetwork,
		DatabaseBackend: DatabaseBackendFile,
		Bitcoind: &BitcoindConfig{
			Host: defaultBitcoindHost,
		},
		Sqlite: &rgbdb.SqliteConfig{
			DatabaseFileName: defaultSqliteDatabasePath,
		},
		Postgres: &rgbdb.PostgresConfig{
			Host:               "localhost",
			Port:               5432,
			MaxOpenConnections: 10,
		},
		LogWriter: build.NewRotatingLogWriter(),
	}
}

// LoadConfig initializes and parses the config using a config file and the
// given options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the options to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse the options again and overwrite/add any specified options
func LoadConfig(args []string,
	interceptor signal.Interceptor) (*Config, btclog.Logger, error) {

	preCfg := DefaultConfig()
	if _, err := flags.ParseArgs(&preCfg, args); err != nil {
		return nil, nil, err
	}

	// If the config file path has not been modified by the user, then
	// we'll use the default config file path. However, if the user has
	// modified their rgbdir, then we should assume they intend to use the
	// config file within it.
	configFileDir := CleanAndExpandPath(preCfg.RgbDir)
	configFilePath := CleanAndExpandPath(preCfg.ConfigFile)
	switch {
	case configFileDir != DefaultRgbDir &&
		configFilePath == DefaultConfigFile:

		configFilePath = filepath.Join(
			configFileDir, defaultConfigFileName,
		)

	// User did specify an explicit --configfile, so we check that it does
	// exist under that path to avoid surprises.
	case configFilePath != DefaultConfigFile:
		if !fileExists(configFilePath) {
			return nil, nil, fmt.Errorf("specified config file does "+
				"not exist in %s", configFilePath)
		}
	}

	// Next, load any additional configuration options from the file.
	var configFileError error
	cfg := preCfg
	fileParser := flags.NewParser(&cfg, flags.Default)
	err := flags.NewIniParser(fileParser).ParseFile(configFilePath)
	if err != nil {
		// If it's a parsing related error, then we'll return
		// immediately, otherwise we can proceed as possibly the config
		// file doesn't exist which is OK.
		if _, ok := err.(*flags.IniError); ok {
			return nil, nil, err
		}

		configFileError = err
	}

	// Finally, parse the options again to ensure they take precedence.
	flagParser := flags.NewParser(&cfg, flags.Default)
	if _, err := flagParser.ParseArgs(args); err != nil {
		return nil, nil, err
	}

	cleanCfg, cfgLogger, err := ValidateConfig(cfg, interceptor)
	if err != nil {
		return nil, nil, err
	}

	if configFileError != nil {
		cfgLogger.Debugf("%v", configFileError)
	}

	return cleanCfg, cfgLogger, nil
}

// NetworkParams returns the chain parameters for a network name.
func NetworkParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "bitcoin", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("invalid network: %v", network)
	}
}

// ValidateConfig check the given configuration to be sane. This makes sure no
// illegal values or combination of values are set. All file system paths are
// normalized. The cleaned up config is returned on success.
func ValidateConfig(cfg Config, interceptor signal.Interceptor) (*Config,
	btclog.Logger, error) {

	// If the provided rgb directory is not the default, we'll modify the
	// path to all of the files and directories that will live within it.
	rgbDir := CleanAndExpandPath(cfg.RgbDir)
	if rgbDir != DefaultRgbDir {
		cfg.DataDir = filepath.Join(rgbDir, defaultDataDirname)
		cfg.LogDir = filepath.Join(rgbDir, defaultLogDirname)
	}

	funcName := "ValidateConfig"
	mkErr := func(format string, args ...interface{}) error {
		return fmt.Errorf(funcName+": "+format, args...)
	}
	makeDirectory := func(dir string) error {
		err := os.MkdirAll(dir, 0700)
		if err != nil {
			// Show a nicer error message if it's because a symlink
			// is linked to a directory that does not exist
			// (probably because it's not mounted).
			if e, ok := err.(*os.PathError); ok && os.IsExist(err) {
				link, lerr := os.Readlink(e.Path)
				if lerr == nil {
					str := "is symlink %s -> %s mounted?"
					err = fmt.Errorf(str, e.Path, link)
				}
			}

			str := "Failed to create rgb directory '%s': %v"
			return mkErr(str, dir, err)
		}

		return nil
	}

	cfg.DataDir = CleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = CleanAndExpandPath(cfg.LogDir)
	cfg.WalletFile = CleanAndExpandPath(cfg.WalletFile)
	cfg.StockFile = CleanAndExpandPath(cfg.StockFile)

	params, err := NetworkParams(cfg.Network)
	if err != nil {
		return nil, nil, mkErr("%v", err)
	}
	cfg.ActiveNetParams = *params

	cfg.networkDir = filepath.Join(
		cfg.DataDir, lncfg.NormalizeNetwork(cfg.ActiveNetParams.Name),
	)

	if cfg.WalletFile == "" {
		cfg.WalletFile = filepath.Join(
			cfg.networkDir, defaultWalletFileName,
		)
	}
	if cfg.StockFile == "" {
		cfg.StockFile = filepath.Join(
			cfg.networkDir, defaultStockFileName,
		)
	}
	if cfg.Sqlite.DatabaseFileName == defaultSqliteDatabasePath {
		cfg.Sqlite.DatabaseFileName = filepath.Join(
			cfg.networkDir, defaultSqliteDatabaseFileName,
		)
	}

	switch cfg.DatabaseBackend {
	case DatabaseBackendFile, DatabaseBackendSqlite,
		DatabaseBackendPostgres:

	default:
		return nil, nil, mkErr("unknown database backend: %v",
			cfg.DatabaseBackend)
	}

	if !cfg.Bitcoind.Offline && cfg.Bitcoind.Host == "" {
		return nil, nil, mkErr("bitcoind.host must be set unless " +
			"bitcoind.offline is used")
	}

	dirs := []string{
		rgbDir, cfg.DataDir, cfg.networkDir,
		filepath.Dir(cfg.WalletFile),
	}
	for _, dir := range dirs {
		if err := makeDirectory(dir); err != nil {
			return nil, nil, err
		}
	}

	cfg.LogDir = filepath.Join(
		cfg.LogDir, lncfg.NormalizeNetwork(cfg.ActiveNetParams.Name),
	)

	if cfg.LogWriter == nil {
		return nil, nil, mkErr("log writer missing in config")
	}

	rgb.SetupLoggers(cfg.LogWriter, interceptor)
	err = cfg.LogWriter.InitLogRotator(
		filepath.Join(cfg.LogDir, defaultLogFilename),
		cfg.MaxLogFileSize, cfg.MaxLogFiles,
	)
	if err != nil {
		str := "log rotation setup failed: %v"
		return nil, nil, mkErr(str, err)
	}

	rgbCfgLog := cfg.LogWriter.GenSubLogger("CONF", nil)

	err = build.ParseAndSetDebugLevels(cfg.DebugLevel, cfg.LogWriter)
	if err != nil {
		str := "error parsing debug level: %v"
		return nil, rgbCfgLog, mkErr(str, err)
	}

	return &cfg, rgbCfgLog, nil
}

// NetworkDir returns the data directory of the active network.
func (c *Config) NetworkDir() string {
	return c.networkDir
}

func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

// CleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
