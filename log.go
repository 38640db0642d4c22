package rgb

import (
	"github.com/btcsuite/btclog"
	"github.com/lightninglabs/rgb/coinselect"
	"github.com/lightninglabs/rgb/dbc"
	"github.com/lightninglabs/rgb/descriptor"
	"github.com/lightninglabs/rgb/mpc"
	"github.com/lightninglabs/rgb/rgbdb"
	"github.com/lightninglabs/rgb/rgbpsbt"
	"github.com/lightninglabs/rgb/stock"
	"github.com/lightninglabs/rgb/transfer"
	"github.com/lightninglabs/rgb/wallet"
	"github.com/lightningnetwork/lnd/build"
	"github.com/lightningnetwork/lnd/signal"
)

// Subsystem defines the logging code for the root package.
const Subsystem = "RGBR"

// replaceableLogger is a thin wrapper around a logger that is used so the
// logger can be replaced easily without some black pointer magic.
type replaceableLogger struct {
	btclog.Logger
	subsystem string
}

// Loggers can not be used before the log rotator has been initialized with a
// log file. This must be performed early during application startup by
// calling InitLogRotator() on the main log writer instance in the config.
var (
	// rgbPkgLoggers is a list of all root package level loggers that are
	// registered. They are tracked here so they can be replaced once the
	// SetupLoggers function is called with the final root logger.
	rgbPkgLoggers []*replaceableLogger

	// addRgbPkgLogger is a helper function that creates a new replaceable
	// root package level logger and adds it to the list of loggers that
	// are replaced again later, once the final root logger is ready.
	addRgbPkgLogger = func(subsystem string) *replaceableLogger {
		l := &replaceableLogger{
			Logger:    build.NewSubLogger(subsystem, nil),
			subsystem: subsystem,
		}
		rgbPkgLoggers = append(rgbPkgLoggers, l)
		return l
	}

	log = addRgbPkgLogger(Subsystem)
)

// genSubLogger creates a logger for a subsystem. We provide an instance of a
// signal.Interceptor to be able to shutdown in the case of a critical error.
func genSubLogger(root *build.RotatingLogWriter,
	interceptor signal.Interceptor) func(string) btclog.Logger {

	shutdown := func() {
		if !interceptor.Listening() {
			return
		}

		interceptor.RequestShutdown()
	}

	return func(tag string) btclog.Logger {
		return root.GenSubLogger(tag, shutdown)
	}
}

// SetupLoggers initializes all package-global logger variables.
func SetupLoggers(root *build.RotatingLogWriter,
	interceptor signal.Interceptor) {

	genLogger := genSubLogger(root, interceptor)

	for _, l := range rgbPkgLoggers {
		l.Logger = build.NewSubLogger(l.subsystem, genLogger)
		SetSubLogger(root, l.subsystem, l.Logger)
	}

	signal.UseLogger(log)

	AddSubLogger(root, descriptor.Subsystem, interceptor,
		descriptor.UseLogger)
	AddSubLogger(root, dbc.Subsystem, interceptor, dbc.UseLogger)
	AddSubLogger(root, mpc.Subsystem, interceptor, mpc.UseLogger)
	AddSubLogger(root, rgbpsbt.Subsystem, interceptor, rgbpsbt.UseLogger)
	AddSubLogger(root, coinselect.Subsystem, interceptor,
		coinselect.UseLogger)
	AddSubLogger(root, stock.Subsystem, interceptor, stock.UseLogger)
	AddSubLogger(root, rgbdb.Subsystem, interceptor, rgbdb.UseLogger)
	AddSubLogger(root, wallet.Subsystem, interceptor, wallet.UseLogger)
	AddSubLogger(root, transfer.Subsystem, interceptor, transfer.UseLogger)
}

// AddSubLogger is a helper method to conveniently create and register the
// logger of one or more sub systems.
func AddSubLogger(root *build.RotatingLogWriter, subsystem string,
	interceptor signal.Interceptor, useLoggers ...func(btclog.Logger)) {

	// Create and register just a single logger to prevent them from
	// overwriting each other internally.
	logger := build.NewSubLogger(subsystem, genSubLogger(root, interceptor))
	SetSubLogger(root, subsystem, logger, useLoggers...)
}

// SetSubLogger is a helper method to conveniently register the logger of a sub
// system.
func SetSubLogger(root *build.RotatingLogWriter, subsystem string,
	logger btclog.Logger, useLoggers ...func(btclog.Logger)) {

	root.RegisterSubLogger(subsystem, logger)
	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}
