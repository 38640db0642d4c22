package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightninglabs/rgb"
	"github.com/lightninglabs/rgb/coinselect"
	"github.com/lightninglabs/rgb/contract"
	"github.com/lightninglabs/rgb/fn"
	"github.com/lightninglabs/rgb/invoice"
	"github.com/lightninglabs/rgb/seal"
	"github.com/lightninglabs/rgb/wallet"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/urfave/cli"
)

const (
	// defaultConfTarget is the confirmation target of fee estimates.
	defaultConfTarget = 6

	strategyName    = "strategy"
	feeRateName     = "sat_per_vbyte"
	giveawayName    = "giveaway"
	psbtOutName     = "psbt_out"
	consignOutName  = "consignment_out"
	utxoName        = "utxo"
	terminalName    = "terminal"
	outName         = "out"
	expiryName      = "expiry"
	contractIDUsage = "contract_id"
)

// createFile opens path for writing, "-" selects stdout.
func createFile(path string) (io.WriteCloser, error) {
	if path == "-" || path == "" {
		return nopCloser{os.Stdout}, nil
	}
	return os.Create(path)
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error {
	return nil
}

func parseContractArg(c *cli.Context) (contract.ContractID, error) {
	if c.NArg() < 1 {
		return contract.ContractID{}, fmt.Errorf("%s argument missing",
			contractIDUsage)
	}
	return contract.ParseContractID(c.Args().First())
}

var importCommand = cli.Command{
	Name:      "import",
	Usage:     "import a contract genesis",
	ArgsUsage: "genesis_file",
	Action:    importContract,
}

func importContract(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("genesis_file argument missing")
	}

	f, err := os.Open(c.Args().First())
	if err != nil {
		return err
	}
	defer f.Close()

	var g contract.Genesis
	if err := g.Decode(f); err != nil {
		return fmt.Errorf("unable to decode genesis: %w", err)
	}

	return withRuntime(c, func(ctx context.Context, rt *rgb.Runtime) error {
		id, err := rt.Stock().ImportContract(ctx, &g)
		if err != nil {
			return err
		}

		fmt.Println(id)
		return nil
	})
}

var stateCommand = cli.Command{
	Name:      "state",
	ShortName: "s",
	Usage:     "list the owned state of a contract",
	ArgsUsage: contractIDUsage,
	Action:    listState,
}

type allocationResp struct {
	Opout    string `json:"opout"`
	Outpoint string `json:"outpoint"`
	State    string `json:"state"`
	Witness  string `json:"witness,omitempty"`
	SpentBy  string `json:"spent_by,omitempty"`
}

func listState(c *cli.Context) error {
	id, err := parseContractArg(c)
	if err != nil {
		return err
	}

	return withRuntime(c, func(ctx context.Context, rt *rgb.Runtime) error {
		allocs, err := rt.OwnedState(ctx, id)
		if err != nil {
			return err
		}

		resp := make([]allocationResp, 0, len(allocs))
		for _, a := range allocs {
			r := allocationResp{
				Opout:    a.Opout.String(),
				Outpoint: a.Outpoint.String(),
				State:    a.State.String(),
			}
			if a.Witness != nil {
				r.Witness = a.Witness.String()
			}
			if a.SpentBy != nil {
				r.SpentBy = a.SpentBy.String()
			}
			resp = append(resp, r)
		}

		printJSON(resp)
		return nil
	})
}

var invoiceCommand = cli.Command{
	Name:      "invoice",
	ShortName: "i",
	Usage:     "create an invoice paying to a blinded seal",
	ArgsUsage: contractIDUsage + " amount",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  utxoName,
			Usage: "the wallet output receiving the state",
		},
		cli.DurationFlag{
			Name:  expiryName,
			Usage: "how long the invoice stays valid, 0 for ever",
		},
	},
	Action: createInvoice,
}

func createInvoice(c *cli.Context) error {
	id, err := parseContractArg(c)
	if err != nil {
		return err
	}
	if c.NArg() < 2 {
		return fmt.Errorf("amount argument missing")
	}

	var amount uint64
	if _, err := fmt.Sscan(c.Args().Get(1), &amount); err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	op, err := seal.ParseOutPoint(c.String(utxoName))
	if err != nil {
		return fmt.Errorf("invalid --%s: %w", utxoName, err)
	}

	return withRuntime(c, func(_ context.Context, rt *rgb.Runtime) error {
		inv, err := rt.Invoice(id, amount, op)
		if err != nil {
			return err
		}
		if expiry := c.Duration(expiryName); expiry > 0 {
			inv.Expiry = fn.Ptr(time.Now().Add(expiry))
		}

		fmt.Println(inv)
		return nil
	})
}

var payCommand = cli.Command{
	Name:      "pay",
	ShortName: "p",
	Usage:     "pay an invoice",
	Description: "Compose the witness transaction paying the invoice " +
		"and the consignment for the beneficiary. The PSBT still " +
		"needs to be signed and published.",
	ArgsUsage: "invoice",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  strategyName,
			Usage: "the coin selection strategy, aggregate or " +
				"smallsize",
			Value: coinselect.Aggregate.String(),
		},
		cli.Uint64Flag{
			Name: feeRateName,
			Usage: "the fee rate of the witness transaction, " +
				"estimated by bitcoind if unset",
		},
		cli.Int64Flag{
			Name: giveawayName,
			Usage: "the satoshis sent to an address " +
				"beneficiary",
		},
		cli.StringFlag{
			Name:  psbtOutName,
			Usage: "file receiving the base64 PSBT, - for stdout",
			Value: "-",
		},
		cli.StringFlag{
			Name:  consignOutName,
			Usage: "file receiving the consignment",
			Value: "consignment.rgb",
		},
	},
	Action: payInvoice,
}

func payInvoice(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("invoice argument missing")
	}
	inv, err := invoice.Parse(c.Args().First())
	if err != nil {
		return err
	}
	strategy, err := coinselect.ParseStrategy(c.String(strategyName))
	if err != nil {
		return err
	}

	return withRuntime(c, func(ctx context.Context, rt *rgb.Runtime) error {
		params := wallet.TxParams{
			FeeRate: chainfee.SatPerKVByte(
				c.Uint64(feeRateName) * 1000,
			).FeePerKWeight(),
		}
		if !c.IsSet(feeRateName) && rt.Bridge() != nil {
			params.FeeRate, err = rt.Bridge().EstimateFee(
				ctx, defaultConfTarget,
			)
			if err != nil {
				return err
			}
		}

		payment, err := rt.Pay(
			ctx, inv, strategy, params,
			btcutil.Amount(c.Int64(giveawayName)),
		)
		if err != nil {
			return err
		}

		cw, err := createFile(c.String(consignOutName))
		if err != nil {
			return err
		}
		defer cw.Close()
		if err := payment.Consignment.Encode(cw); err != nil {
			return err
		}

		b64, err := payment.Packet.B64Encode()
		if err != nil {
			return err
		}
		pw, err := createFile(c.String(psbtOutName))
		if err != nil {
			return err
		}
		defer pw.Close()

		_, err = fmt.Fprintln(pw, b64)
		return err
	})
}

var acceptCommand = cli.Command{
	Name:      "accept",
	Usage:     "validate and accept a consignment",
	ArgsUsage: "consignment_file",
	Action:    acceptConsignment,
}

func acceptConsignment(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("consignment_file argument missing")
	}

	f, err := os.Open(c.Args().First())
	if err != nil {
		return err
	}
	defer f.Close()

	return withRuntime(c, func(ctx context.Context, rt *rgb.Runtime) error {
		revealed, err := rt.Accept(ctx, f)
		if err != nil {
			return err
		}

		printJSON(struct {
			Revealed int `json:"revealed"`
		}{
			Revealed: revealed,
		})
		return nil
	})
}

var consignCommand = cli.Command{
	Name:      "consign",
	Usage:     "export the consignment of a contract",
	ArgsUsage: contractIDUsage,
	Flags: []cli.Flag{
		cli.StringSliceFlag{
			Name: terminalName,
			Usage: "the auth token of a terminal seal, can be " +
				"repeated; without terminals the full " +
				"history is exported",
		},
		cli.StringFlag{
			Name:  outName,
			Usage: "file receiving the consignment",
			Value: "consignment.rgb",
		},
	},
	Action: consign,
}

func consign(c *cli.Context) error {
	id, err := parseContractArg(c)
	if err != nil {
		return err
	}

	var terminals []seal.AuthToken
	for _, s := range c.StringSlice(terminalName) {
		token, err := seal.ParseAuthToken(s)
		if err != nil {
			return err
		}
		terminals = append(terminals, token)
	}

	return withRuntime(c, func(ctx context.Context, rt *rgb.Runtime) error {
		w, err := createFile(c.String(outName))
		if err != nil {
			return err
		}
		defer w.Close()

		return rt.Consign(ctx, id, terminals, w)
	})
}
