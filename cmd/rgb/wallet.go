package main

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb"
	"github.com/lightninglabs/rgb/contract"
	"github.com/lightninglabs/rgb/descriptor"
	"github.com/lightninglabs/rgb/fn"
	"github.com/urfave/cli"
)

var descriptorCommand = cli.Command{
	Name:      "descriptor",
	ShortName: "d",
	Usage:     "print the wallet descriptor",
	Action:    printDescriptor,
}

func printDescriptor(c *cli.Context) error {
	return withRuntime(c, func(_ context.Context, rt *rgb.Runtime) error {
		fmt.Println(rt.Descriptor().String())
		return nil
	})
}

var addressCommand = cli.Command{
	Name:  "address",
	Usage: "derive a wallet address",
	Description: "Derive the next address of a keychain. Without " +
		"--next the last derived address is shown again.",
	Flags: []cli.Flag{
		cli.Uint64Flag{
			Name:  "keychain",
			Usage: "the keychain to derive the address from",
			Value: uint64(descriptor.KeychainExternal),
		},
		cli.BoolFlag{
			Name:  "next",
			Usage: "advance the derivation index",
		},
	},
	Action: deriveAddress,
}

func deriveAddress(c *cli.Context) error {
	return withRuntime(c, func(_ context.Context, rt *rgb.Runtime) error {
		addr, term, err := rt.Wallet().NextAddress(
			uint32(c.Uint64("keychain")), c.Bool("next"),
		)
		if err != nil {
			return err
		}

		printJSON(struct {
			Address  string `json:"address"`
			Terminal string `json:"terminal"`
		}{
			Address:  addr.EncodeAddress(),
			Terminal: term.String(),
		})
		return nil
	})
}

var utxosCommand = cli.Command{
	Name:      "utxos",
	ShortName: "u",
	Usage:     "list the wallet outputs",
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name: "sync",
			Usage: "refresh the outputs and the witness status " +
				"from bitcoind first",
		},
	},
	Action: listUtxos,
}

type utxoResp struct {
	Outpoint  string   `json:"outpoint"`
	Value     int64    `json:"value"`
	Terminal  string   `json:"terminal"`
	Contracts []string `json:"contracts,omitempty"`
}

func listUtxos(c *cli.Context) error {
	return withRuntime(c, func(ctx context.Context, rt *rgb.Runtime) error {
		if c.Bool("sync") {
			if err := rt.Sync(ctx); err != nil {
				return err
			}
		}

		var resp []utxoResp
		for _, u := range rt.Wallet().Utxos() {
			ids, err := rt.Stock().ContractsAt(ctx, []wire.OutPoint{
				u.Outpoint,
			})
			if err != nil {
				return err
			}

			resp = append(resp, utxoResp{
				Outpoint:  u.Outpoint.String(),
				Value:     int64(u.Value),
				Terminal:  u.Terminal.String(),
				Contracts: fn.Map(ids, contract.ContractID.String),
			})
		}

		printJSON(resp)
		return nil
	})
}
