// Package main provides utxoctl, a command-line tool for merging and
// splitting the outputs of a single address.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/klingon-exchange/utxoforge/internal/backend"
	"github.com/klingon-exchange/utxoforge/internal/chain"
	"github.com/klingon-exchange/utxoforge/internal/config"
	"github.com/klingon-exchange/utxoforge/internal/service"
	"github.com/klingon-exchange/utxoforge/internal/storage"
	"github.com/klingon-exchange/utxoforge/internal/wallet"
	"github.com/klingon-exchange/utxoforge/pkg/logging"
	"github.com/urfave/cli"
	"golang.org/x/term"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[utxoctl] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()
	app.Name = "utxoctl"
	app.Version = version + " commit=" + commit
	app.Usage = "merge and split the outputs of one address"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "datadir",
			Value: config.DefaultDataDir,
			Usage: "The directory holding config.yaml and the " +
				"broadcast journal.",
			TakesFile: true,
		},
		cli.StringFlag{
			Name: "network, n",
			Usage: "The network to use, e.g. mainnet, testnet, " +
				"testnet4, signet, fractal, fractal-testnet. " +
				"Defaults to the config file.",
		},
		cli.StringFlag{
			Name:  "addresstype, t",
			Usage: "The address type to derive: p2tr or p2wpkh.",
		},
		cli.BoolFlag{
			Name:  "no-journal",
			Usage: "Do not record broadcasts in the local database.",
		},
		cli.StringFlag{
			Name:  "loglevel",
			Value: "warn",
			Usage: "Log level written to stderr.",
		},
	}
	app.Commands = []cli.Command{
		deriveCommand,
		utxosCommand,
		mergeCommand,
		splitCommand,
		broadcastCommand,
		feesCommand,
		historyCommand,
		networksCommand,
		callDataCommand,
		transferCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

// getService loads the config and builds a service for one command.
func getService(ctx *cli.Context) (*service.Service, *config.Config, func()) {
	dataDir := ctx.GlobalString("datadir")
	cfg, err := config.LoadConfig(dataDir)
	if err != nil {
		fatal(err)
	}
	if n := ctx.GlobalString("network"); n != "" {
		cfg.Network = chain.NetworkID(strings.ToLower(n))
	}
	if t := ctx.GlobalString("addresstype"); t != "" {
		cfg.AddressType = t
	}

	chains := chain.DefaultRegistry()
	if err := cfg.Validate(chains); err != nil {
		fatal(err)
	}

	log := logging.New(&logging.Config{
		Level:      ctx.GlobalString("loglevel"),
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	var store *storage.Storage
	if !ctx.GlobalBool("no-journal") {
		store, err = storage.New(&storage.Config{
			DataDir: config.ExpandPath(cfg.Storage.DataDir),
		})
		if err != nil {
			fatal(err)
		}
	}

	backends, err := backend.NewDefaultRegistry(chains, cfg.Backends)
	if err != nil {
		fatal(err)
	}

	svc, err := service.New(&service.Config{
		Chains:         chains,
		Backends:       backends,
		Store:          store,
		Logger:         log.Component("service"),
		DefaultNetwork: cfg.Network,
		DefaultFeeRate: cfg.FeeRate,
		EVMEndpoints:   cfg,
	})
	if err != nil {
		fatal(err)
	}

	cleanUp := func() {
		backends.CloseAll()
		if store != nil {
			store.Close()
		}
	}
	return svc, cfg, cleanUp
}

func printRespJSON(resp interface{}) {
	b, err := json.Marshal(resp)
	if err != nil {
		fatal(err)
	}

	var out bytes.Buffer
	json.Indent(&out, b, "", "    ")
	out.WriteString("\n")
	out.WriteTo(os.Stdout)
}

// readSecret returns a secret from an environment variable, or prompts for
// it. Input is not echoed when stdin is a terminal.
func readSecret(envVar, prompt string) (string, error) {
	if v := strings.TrimSpace(os.Getenv(envVar)); v != "" {
		return v, nil
	}

	// The variable syscall.Stdin is of a different type in the Windows API.
	fd := int(syscall.Stdin) // nolint:unconvert
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		secret, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(secret)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("no secret on stdin and %s is not set", envVar)
	}
	return strings.TrimSpace(line), nil
}

// secretFromCtx reads the signing secret for Bitcoin-style commands.
func secretFromCtx() (string, error) {
	secret, err := readSecret("UTXOFORGE_SECRET", "Mnemonic or WIF: ")
	if err != nil {
		return "", err
	}
	if secret == "" {
		return "", errors.New("secret required")
	}
	return secret, nil
}

func addressType(cfg *config.Config) wallet.AddressType {
	return cfg.DefaultAddressType()
}

// printExplorer writes an explorer link to stderr so stdout stays JSON.
func printExplorer(url string) {
	if url != "" {
		fmt.Fprintf(os.Stderr, "Explorer: %s\n", url)
	}
}
