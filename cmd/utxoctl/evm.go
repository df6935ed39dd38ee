package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/klingon-exchange/utxoforge/internal/evm"
	"github.com/klingon-exchange/utxoforge/internal/service"
	"github.com/urfave/cli"
)

var callDataCommand = cli.Command{
	Name:     "calldata",
	Category: "EVM",
	Usage:    "Encode contract call data from an ABI.",
	Description: `
	Packs a method call for use as --data in transfer. Each --param is
	type:value, or type:value:unit for uint256 and int256 where unit is wei,
	gwei or ether. Supported types are uint256, int256, address, string and
	bool.`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:      "abi",
			Usage:     "path to the contract ABI JSON",
			TakesFile: true,
		},
		cli.StringFlag{
			Name:  "method",
			Usage: "method name",
		},
		cli.StringSliceFlag{
			Name:  "param",
			Usage: "type:value[:unit]; may be repeated, in order",
		},
	},
	Action: callData,
}

func callData(ctx *cli.Context) error {
	if !ctx.IsSet("abi") || !ctx.IsSet("method") {
		return cli.ShowCommandHelp(ctx, "calldata")
	}

	abiJSON, err := os.ReadFile(ctx.String("abi"))
	if err != nil {
		return err
	}
	params, err := parseParams(ctx.StringSlice("param"))
	if err != nil {
		return err
	}

	data, err := evm.EncodeCallData(string(abiJSON), ctx.String("method"), params)
	if err != nil {
		return err
	}
	fmt.Println(data)
	return nil
}

// parseParams splits type:value[:unit] arguments. Values of type string may
// themselves contain colons when no unit applies.
func parseParams(args []string) ([]evm.Param, error) {
	params := make([]evm.Param, 0, len(args))
	for _, arg := range args {
		typ, rest, ok := strings.Cut(arg, ":")
		if !ok || typ == "" {
			return nil, fmt.Errorf("param %q: want type:value", arg)
		}
		p := evm.Param{Type: typ, Value: rest}
		if typ == "uint256" || typ == "int256" {
			if value, unit, ok := strings.Cut(rest, ":"); ok {
				p.Value = value
				p.Unit = evm.Unit(strings.ToLower(unit))
			}
		}
		params = append(params, p)
	}
	return params, nil
}

var transferCommand = cli.Command{
	Name:     "transfer",
	Category: "EVM",
	Usage:    "Send native tokens on an EVM network.",
	Description: `
	Sends --amount (in ether units of the network's native token) with
	optional --data. The private key is read from $UTXOFORGE_EVM_KEY or
	prompted for.

	With --recipients the same amount is sent from the key to every listed
	address. With --keys-file every key in the file (one 0x-prefixed key
	per line) sends the amount to --to.`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "chain",
			Usage: "EVM network symbol, e.g. ETH, BSC, POLYGON",
		},
		cli.StringFlag{
			Name:  "to",
			Usage: "recipient address",
		},
		cli.StringFlag{
			Name:  "amount",
			Usage: "amount in ether units",
		},
		cli.StringFlag{
			Name:  "data",
			Usage: "0x-prefixed call data",
		},
		cli.Uint64Flag{
			Name:  "gaslimit",
			Usage: "gas limit; estimated when unset",
		},
		cli.StringFlag{
			Name:  "gasprice",
			Usage: "gas price in wei; suggested by the node when unset",
		},
		cli.StringFlag{
			Name:  "recipients",
			Usage: "comma separated recipients (one-to-many batch)",
		},
		cli.StringFlag{
			Name:      "keys-file",
			Usage:     "file of sender keys (many-to-one batch)",
			TakesFile: true,
		},
	},
	Action: transfer,
}

func transfer(ctx *cli.Context) error {
	if !ctx.IsSet("chain") || !ctx.IsSet("amount") {
		return cli.ShowCommandHelp(ctx, "transfer")
	}
	if ctx.IsSet("recipients") && ctx.IsSet("keys-file") {
		return errors.New("--recipients and --keys-file are exclusive")
	}

	svc, _, cleanUp := getService(ctx)
	defer cleanUp()

	chainSymbol := strings.ToUpper(ctx.String("chain"))
	ctxb := context.Background()

	if ctx.IsSet("keys-file") {
		keys, err := readKeysFile(ctx.String("keys-file"))
		if err != nil {
			return err
		}
		res, err := svc.EVMBatchTransfer(ctxb, service.EVMBatchRequest{
			Network:     chainSymbol,
			Mode:        service.BatchManyToOne,
			PrivateKeys: keys,
			To:          ctx.String("to"),
			Amount:      ctx.String("amount"),
			Data:        ctx.String("data"),
		})
		if err != nil {
			return err
		}
		printRespJSON(res)
		return nil
	}

	key, err := readSecret("UTXOFORGE_EVM_KEY", "EVM private key: ")
	if err != nil {
		return err
	}

	if ctx.IsSet("recipients") {
		res, err := svc.EVMBatchTransfer(ctxb, service.EVMBatchRequest{
			Network:    chainSymbol,
			Mode:       service.BatchOneToMany,
			PrivateKey: key,
			Recipients: splitList(ctx.String("recipients")),
			Amount:     ctx.String("amount"),
			Data:       ctx.String("data"),
		})
		if err != nil {
			return err
		}
		printRespJSON(res)
		return nil
	}

	res, err := svc.EVMTransfer(ctxb, service.EVMTransferRequest{
		Network:    chainSymbol,
		PrivateKey: key,
		To:         ctx.String("to"),
		Amount:     ctx.String("amount"),
		Data:       ctx.String("data"),
		GasLimit:   ctx.Uint64("gaslimit"),
		GasPrice:   ctx.String("gasprice"),
	})
	if err != nil {
		return err
	}
	printRespJSON(res)
	printExplorer(res.ExplorerURL)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// readKeysFile reads one key per line, skipping blanks and # comments.
func readKeysFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var keys []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no keys in %s", path)
	}
	return keys, nil
}
