package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/lightninglabs/rgb"
	"github.com/lightninglabs/rgb/rgbcfg"
	"github.com/lightningnetwork/lnd/signal"
	"github.com/urfave/cli"
)

const (
	// Environment variables names that can be used to set the global flags.
	envVarRgbDir     = "RGB_DIR"
	envVarConfigFile = "RGB_CONFIGFILE"
	envVarNetwork    = "RGB_NETWORK"
)

// configFlags are the global flags handed over to the config parser.
var configFlags = []string{
	"rgbdir", "configfile", "network", "debuglevel", "databasebackend",
	"descriptor",
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "rgb"
	app.Version = rgb.Version()
	app.Usage = "command line wallet for RGB smart contracts"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:      "rgbdir",
			Value:     rgbcfg.DefaultRgbDir,
			Usage:     "The path to rgb's base directory.",
			TakesFile: true,
			EnvVar:    envVarRgbDir,
		},
		cli.StringFlag{
			Name:      "configfile",
			Value:     rgbcfg.DefaultConfigFile,
			Usage:     "The path to rgb's configuration file.",
			TakesFile: true,
			EnvVar:    envVarConfigFile,
		},
		cli.StringFlag{
			Name: "network, n",
			Usage: "The network to operate on, e.g. bitcoin, " +
				"testnet, regtest or signet.",
			Value:  "testnet",
			EnvVar: envVarNetwork,
		},
		cli.StringFlag{
			Name:  "debuglevel",
			Usage: "The logging level of all subsystems.",
			Value: "info",
		},
		cli.StringFlag{
			Name: "databasebackend",
			Usage: "The stock backend, one of file, sqlite or " +
				"postgres.",
		},
		cli.StringFlag{
			Name: "descriptor",
			Usage: "The wallet descriptor, only used when the " +
				"wallet file is created.",
		},
		cli.BoolFlag{
			Name:  "offline",
			Usage: "Do not connect to bitcoind.",
		},
	}

	app.Commands = []cli.Command{
		descriptorCommand,
		addressCommand,
		utxosCommand,
		importCommand,
		stateCommand,
		invoiceCommand,
		payCommand,
		acceptCommand,
		consignCommand,
	}

	return app
}

// configArgs turns the global flags that were set into options for the
// config parser. Flags left at their defaults are read from the config file.
func configArgs(c *cli.Context) []string {
	var args []string
	for _, name := range configFlags {
		if c.GlobalIsSet(name) {
			args = append(
				args, fmt.Sprintf("--%s=%s", name,
					c.GlobalString(name)),
			)
		}
	}
	if c.GlobalBool("offline") {
		args = append(args, "--bitcoind.offline")
	}

	return args
}

// withRuntime loads the config, opens the runtime and runs f with it. The
// runtime is closed on every path, and the context is cancelled on an
// interrupt.
func withRuntime(c *cli.Context,
	f func(context.Context, *rgb.Runtime) error) error {

	interceptor, err := signal.Intercept()
	if err != nil {
		return err
	}

	cfg, cfgLogger, err := rgbcfg.LoadConfig(configArgs(c), interceptor)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	rt, err := rgbcfg.CreateRuntime(cfg, cfgLogger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			cfgLogger.Errorf("Unable to close runtime: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-interceptor.ShutdownChannel():
			cancel()
		case <-ctx.Done():
		}
	}()

	return f(ctx, rt)
}

func printJSON(resp interface{}) {
	b, err := json.Marshal(resp)
	if err != nil {
		fatal(err)
	}

	var out bytes.Buffer
	_ = json.Indent(&out, b, "", "\t")
	out.WriteString("\n")
	_, _ = out.WriteTo(os.Stdout)
}
