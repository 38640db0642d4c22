package rgbcfg

import (
	"fmt"

	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btclog"
	"github.com/lightninglabs/rgb"
	"github.com/lightninglabs/rgb/descriptor"
	"github.com/lightninglabs/rgb/rgbdb"
	"github.com/lightninglabs/rgb/stock"
	"github.com/lightninglabs/rgb/wallet"
	"github.com/lightningnetwork/lnd/clock"
)

// openBackend opens the stock backend selected in the config.
func openBackend(cfg *Config, cfgLogger btclog.Logger) (stock.Backend,
	error) {

	switch cfg.DatabaseBackend {
	case DatabaseBackendFile:
		cfgLogger.Infof("Opening stock file at: %v", cfg.StockFile)
		return stock.NewFileBackend(cfg.StockFile)

	case DatabaseBackendSqlite:
		cfgLogger.Infof("Opening sqlite3 database at: %v",
			cfg.Sqlite.DatabaseFileName)
		db, err := rgbdb.NewSqliteStore(cfg.Sqlite)
		if err != nil {
			return nil, err
		}
		return rgbdb.NewSqlBackend(db.BaseDB), nil

	case DatabaseBackendPostgres:
		cfgLogger.Infof("Opening postgres database at: %v",
			cfg.Postgres.DSN(true))
		db, err := rgbdb.NewPostgresStore(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return rgbdb.NewSqlBackend(db.BaseDB), nil

	default:
		return nil, fmt.Errorf("unknown database backend: %v",
			cfg.DatabaseBackend)
	}
}

// CreateRuntime opens the stock, the wallet file and the bitcoind connection
// described by the config and ties them into a runtime. Everything opened
// is released again if a later step fails.
func CreateRuntime(cfg *Config, cfgLogger btclog.Logger) (*rgb.Runtime,
	error) {

	var descr *descriptor.Descr
	if cfg.Descriptor != "" {
		var err error
		descr, err = descriptor.Parse(cfg.Descriptor)
		if err != nil {
			return nil, fmt.Errorf("invalid descriptor: %w", err)
		}
	}

	backend, err := openBackend(cfg, cfgLogger)
	if err != nil {
		return nil, fmt.Errorf("unable to open stock: %w", err)
	}

	holder, err := wallet.OpenBoltHolder(cfg.WalletFile, descr)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	// The runtime treats a nil bridge as offline, so the interface must
	// stay untyped nil.
	var bridge rgb.ChainBridge
	if !cfg.Bitcoind.Offline {
		cfgLogger.Infof("Connecting to bitcoind at %v",
			cfg.Bitcoind.Host)
		rpcBridge, err := rgb.NewRpcChainBridge(&rpcclient.ConnConfig{
			Host:       cfg.Bitcoind.Host,
			User:       cfg.Bitcoind.User,
			Pass:       cfg.Bitcoind.Pass,
			DisableTLS: cfg.Bitcoind.DisableTLS,
		})
		if err != nil {
			_ = holder.Close()
			_ = backend.Close()
			return nil, err
		}
		bridge = rpcBridge
	}

	return rgb.NewRuntime(
		stock.New(backend), wallet.NewOwner(holder, &cfg.ActiveNetParams),
		bridge, clock.NewDefaultClock(),
	), nil
}
