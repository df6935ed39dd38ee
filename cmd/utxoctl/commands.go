package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/klingon-exchange/utxoforge/internal/service"
	"github.com/klingon-exchange/utxoforge/internal/storage"
	"github.com/klingon-exchange/utxoforge/internal/txbuilder"
	"github.com/klingon-exchange/utxoforge/pkg/helpers"
	"github.com/urfave/cli"
)

var selectionFlags = []cli.Flag{
	cli.StringSliceFlag{
		Name: "outpoint",
		Usage: "spend only this txid:vout; may be repeated. " +
			"Without it every unspent output of the address is spent.",
	},
	cli.Float64Flag{
		Name: "feerate",
		Usage: "fee rate in sat/vB. Defaults to the backend's " +
			"half-hour estimate.",
	},
	cli.BoolFlag{
		Name:  "broadcast",
		Usage: "broadcast the signed transaction",
	},
}

var deriveCommand = cli.Command{
	Name:     "derive",
	Category: "Accounts",
	Usage:    "Show the address and public key of a mnemonic or WIF.",
	Description: `
	Reads the secret from $UTXOFORGE_SECRET or prompts for it, then prints
	the derived address. Mnemonics use the first receive address of the
	BIP86 (p2tr) or BIP84 (p2wpkh) account.`,
	Action: derive,
}

func derive(ctx *cli.Context) error {
	svc, cfg, cleanUp := getService(ctx)
	defer cleanUp()

	secret, err := secretFromCtx()
	if err != nil {
		return err
	}

	info, err := svc.Derive(secret, cfg.Network, addressType(cfg))
	if err != nil {
		return err
	}
	printRespJSON(info)
	return nil
}

var utxosCommand = cli.Command{
	Name:      "utxos",
	Category:  "Chain",
	Usage:     "List the unspent outputs of an address.",
	ArgsUsage: "address",
	Action:    listUTXOs,
}

func listUTXOs(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "utxos")
	}

	svc, cfg, cleanUp := getService(ctx)
	defer cleanUp()

	utxos, err := svc.ListUTXOs(context.Background(), cfg.Network, ctx.Args().First())
	if err != nil {
		return err
	}

	var total uint64
	for _, u := range utxos {
		total += u.Amount
	}
	printRespJSON(map[string]interface{}{
		"utxos":     utxos,
		"count":     len(utxos),
		"total":     total,
		"total_btc": helpers.SatsToBTC(total),
	})
	return nil
}

var mergeCommand = cli.Command{
	Name:     "merge",
	Category: "Transactions",
	Usage:    "Merge the outputs of an address into one output.",
	Description: `
	Spends the selected outputs of the address derived from the secret and
	pays everything minus the fee to one output. The output goes back to the
	signing address unless --target is given.`,
	Flags: append([]cli.Flag{
		cli.StringFlag{
			Name:  "target",
			Usage: "address receiving the merged output",
		},
	}, selectionFlags...),
	Action: merge,
}

func merge(ctx *cli.Context) error {
	svc, cfg, cleanUp := getService(ctx)
	defer cleanUp()

	secret, err := secretFromCtx()
	if err != nil {
		return err
	}

	res, err := svc.Merge(context.Background(), service.MergeRequest{
		Secret:         secret,
		Network:        cfg.Network,
		AddressType:    addressType(cfg),
		InputSelection: service.InputSelection{Outpoints: ctx.StringSlice("outpoint")},
		Target:         ctx.String("target"),
		FeeRate:        ctx.Float64("feerate"),
		Broadcast:      ctx.Bool("broadcast"),
	})
	return printBuildResult(res, err)
}

var splitCommand = cli.Command{
	Name:     "split",
	Category: "Transactions",
	Usage:    "Split the outputs of an address into several outputs.",
	Description: `
	Pays each --output address:sats from the selected outputs of the
	address derived from the secret. What is left after the fee goes to
	--change, or back to the signing address.`,
	Flags: append([]cli.Flag{
		cli.StringSliceFlag{
			Name:  "output",
			Usage: "address:sats to pay; may be repeated",
		},
		cli.StringFlag{
			Name:  "change",
			Usage: "address receiving the change",
		},
	}, selectionFlags...),
	Action: split,
}

func split(ctx *cli.Context) error {
	outputs, err := parseOutputs(ctx.StringSlice("output"))
	if err != nil {
		return err
	}
	if len(outputs) == 0 {
		return errors.New("at least one --output is required")
	}

	svc, cfg, cleanUp := getService(ctx)
	defer cleanUp()

	secret, err := secretFromCtx()
	if err != nil {
		return err
	}

	res, err := svc.Split(context.Background(), service.SplitRequest{
		Secret:         secret,
		Network:        cfg.Network,
		AddressType:    addressType(cfg),
		InputSelection: service.InputSelection{Outpoints: ctx.StringSlice("outpoint")},
		Outputs:        outputs,
		ChangeAddress:  ctx.String("change"),
		FeeRate:        ctx.Float64("feerate"),
		Broadcast:      ctx.Bool("broadcast"),
	})
	return printBuildResult(res, err)
}

// parseOutputs parses address:sats pairs. Addresses never contain a colon.
func parseOutputs(args []string) ([]txbuilder.Output, error) {
	outputs := make([]txbuilder.Output, 0, len(args))
	for _, arg := range args {
		addr, amount, ok := strings.Cut(arg, ":")
		if !ok || addr == "" {
			return nil, fmt.Errorf("output %q: want address:sats", arg)
		}
		value, err := strconv.ParseUint(amount, 10, 64)
		if err != nil || value == 0 {
			return nil, fmt.Errorf("output %q: invalid amount", arg)
		}
		outputs = append(outputs, txbuilder.Output{Address: addr, Value: value})
	}
	return outputs, nil
}

// printBuildResult prints the signed transaction even when its broadcast
// was rejected.
func printBuildResult(res *service.BuildResult, err error) error {
	var berr *service.BroadcastError
	if res == nil || (err != nil && !errors.As(err, &berr)) {
		return err
	}

	printRespJSON(res)
	if res.Tx != nil {
		fmt.Fprintf(os.Stderr, "Fee: %s at %.2f sat/vB (%d vB)\n",
			helpers.FormatSats(res.Tx.Fee), res.Tx.FeeRate, res.Tx.VirtualSize)
	}
	if res.Broadcast != nil {
		printExplorer(res.Broadcast.ExplorerURL)
	}
	return err
}

var broadcastCommand = cli.Command{
	Name:      "broadcast",
	Category:  "Transactions",
	Usage:     "Broadcast a signed raw transaction.",
	ArgsUsage: "hex",
	Action:    broadcast,
}

func broadcast(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "broadcast")
	}

	svc, cfg, cleanUp := getService(ctx)
	defer cleanUp()

	res, err := svc.Broadcast(context.Background(), cfg.Network, strings.TrimSpace(ctx.Args().First()))
	if err != nil {
		return err
	}
	printRespJSON(res)
	printExplorer(res.ExplorerURL)
	return nil
}

var feesCommand = cli.Command{
	Name:     "fees",
	Category: "Chain",
	Usage:    "Show the backend's fee estimates in sat/vB.",
	Action:   fees,
}

func fees(ctx *cli.Context) error {
	svc, cfg, cleanUp := getService(ctx)
	defer cleanUp()

	est, err := svc.FeeEstimates(context.Background(), cfg.Network)
	if err != nil {
		return err
	}
	printRespJSON(est)
	return nil
}

var historyCommand = cli.Command{
	Name:     "history",
	Category: "Transactions",
	Usage:    "List journaled broadcasts, newest first.",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "status",
			Usage: "only show broadcasts with this status (broadcast, failed)",
		},
		cli.StringFlag{
			Name:  "txid",
			Usage: "only show attempts for this txid",
		},
		cli.BoolFlag{
			Name:  "all",
			Usage: "show every network instead of the selected one",
		},
		cli.StringFlag{
			Name: "evm",
			Usage: "list EVM transfers for this network symbol " +
				"(ETH, BSC, ...) or 'all' instead",
		},
		cli.IntFlag{
			Name:  "limit",
			Value: 20,
		},
		cli.IntFlag{
			Name: "offset",
		},
	},
	Action: history,
}

func history(ctx *cli.Context) error {
	svc, cfg, cleanUp := getService(ctx)
	defer cleanUp()

	if ctx.IsSet("evm") {
		symbol := strings.ToUpper(ctx.String("evm"))
		if symbol == "ALL" {
			symbol = ""
		}
		records, err := svc.EVMHistory(symbol, ctx.Int("limit"))
		if err != nil {
			return err
		}
		printRespJSON(records)
		return nil
	}

	filter := storage.BroadcastFilter{
		Status: storage.BroadcastStatus(ctx.String("status")),
		TxID:   ctx.String("txid"),
		Limit:  ctx.Int("limit"),
		Offset: ctx.Int("offset"),
	}
	if !ctx.Bool("all") {
		filter.Network = string(cfg.Network)
	}

	records, err := svc.History(filter)
	if err != nil {
		return err
	}
	printRespJSON(records)
	return nil
}

var networksCommand = cli.Command{
	Name:     "networks",
	Category: "Chain",
	Usage:    "List supported networks and their backends.",
	Action:   networks,
}

func networks(ctx *cli.Context) error {
	svc, _, cleanUp := getService(ctx)
	defer cleanUp()

	printRespJSON(map[string]interface{}{
		"networks":     svc.Networks(),
		"evm_networks": svc.EVMNetworks(),
	})
	return nil
}
