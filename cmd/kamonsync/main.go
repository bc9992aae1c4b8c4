// Copyright 2018 The go-ethereum Authors
// This file is part of go-ethereum.
//
// go-ethereum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-ethereum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-ethereum. If not, see <http://www.gnu.org/licenses/>.

// kamonsync keeps kamon NFT metadata in step with quest points.
//
// It watches nothing on its own: quest completions arrive through the
// JSON-RPC API (kamon_questCompleted) or the sync command, and each one runs
// a points-sync cycle that regenerates the token metadata and writes the new
// URI on chain when the points total changed.
//
// Usage:
//   kamonsync [--config kamonsync.yml] [--network goerli] serve
//   kamonsync sync <owner>
//   kamonsync history [owner]
//   kamonsync info [owner]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/cmd/utils"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/jedib0t/go-pretty/v6/table"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/henkaku/kamonsync/kamon"
	"github.com/henkaku/kamonsync/kamon/journal"
)

var (
	app = cli.NewApp()

	// Flags
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "YAML configuration file",
	}
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value: 3,
	}
	networkFlag = cli.StringFlag{
		Name:  "network",
		Usage: "Network to operate on (rinkeby, goerli, polygon)",
	}
	productionFlag = cli.BoolFlag{
		Name:  "production",
		Usage: "Default to the production network when --network is not given",
	}
	rpcFlag = cli.StringFlag{
		Name:  "rpc",
		Usage: "Ethereum JSON-RPC endpoint (e.g. http://localhost:8545)",
	}
	pointsFlag = cli.StringFlag{
		Name:  "points",
		Usage: "Quest points ledger address on the selected network",
	}
	journalFlag = cli.StringFlag{
		Name:  "journal",
		Usage: "Path of the sqlite outcome journal",
	}
	generatorFlag = cli.StringFlag{
		Name:  "generator",
		Usage: "Metadata generation endpoint",
	}
	gatewayFlag = cli.StringFlag{
		Name:  "gateway",
		Usage: "IPFS HTTP gateway used to fetch metadata",
	}
	keyfileFlag = cli.StringFlag{
		Name:  "keyfile",
		Usage: "Path to the JSON keyfile of the updater wallet",
	}
	passwordFlag = cli.StringFlag{
		Name:  "password",
		Usage: "File holding the keyfile passphrase",
	}
	clefFlag = cli.StringFlag{
		Name:  "clef",
		Usage: "Clef endpoint used to sign updates instead of a keyfile",
	}
	accountFlag = cli.StringFlag{
		Name:  "account",
		Usage: "Updater account managed by clef",
	}
	listenFlag = cli.StringFlag{
		Name:  "listen",
		Usage: "HTTP listen address for the JSON-RPC API",
	}
	jwtSecretFlag = cli.StringFlag{
		Name:   "jwtsecret",
		Usage:  "HS256 secret required from API callers",
		EnvVar: "KAMONSYNC_JWT_SECRET",
	}
	limitFlag = cli.IntFlag{
		Name:  "limit",
		Usage: "Number of journal entries to show",
		Value: 20,
	}
)

func init() {
	app.Name = "kamonsync"
	app.Usage = "Kamon NFT points synchronisation service"
	app.Version = "0.1.0"
	app.Action = serveCmd
	app.Before = setupLogging
	app.Flags = []cli.Flag{
		configFlag,
		verbosityFlag,
		networkFlag,
		productionFlag,
		rpcFlag,
		pointsFlag,
		journalFlag,
		generatorFlag,
		gatewayFlag,
		keyfileFlag,
		passwordFlag,
		clefFlag,
		accountFlag,
		listenFlag,
		jwtSecretFlag,
	}
	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "Serve the JSON-RPC API and run sync cycles on demand",
			Action: serveCmd,
		},
		{
			Name:      "sync",
			Usage:     "Run one sync cycle for an owner and wait for its outcome",
			ArgsUsage: "<owner>",
			Action:    syncCmd,
		},
		{
			Name:      "history",
			Usage:     "Print journaled sync outcomes",
			ArgsUsage: "[owner]",
			Action:    historyCmd,
			Flags:     []cli.Flag{limitFlag},
		},
		{
			Name:      "info",
			Usage:     "Print network and contract information",
			ArgsUsage: "[owner]",
			Action:    infoCmd,
		},
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(ctx *cli.Context) error {
	lvl := log.Lvl(ctx.GlobalInt(verbosityFlag.Name))
	log.Root().SetHandler(log.LvlFilterHandler(lvl, log.StreamHandler(os.Stderr, log.TerminalFormat(true))))
	return nil
}

// makeConfig loads the config file and applies command line overrides.
func makeConfig(ctx *cli.Context) *Config {
	cfg, err := loadConfig(ctx.GlobalString(configFlag.Name))
	if err != nil {
		utils.Fatalf("%v", err)
	}
	if ctx.GlobalIsSet(networkFlag.Name) {
		cfg.Network = ctx.GlobalString(networkFlag.Name)
	}
	if ctx.GlobalBool(productionFlag.Name) {
		cfg.Production = true
	}
	if ctx.GlobalIsSet(rpcFlag.Name) {
		cfg.RPC = ctx.GlobalString(rpcFlag.Name)
	}
	if ctx.GlobalIsSet(pointsFlag.Name) {
		name := cfg.networkName()
		n := cfg.Networks[name]
		n.Points = ctx.GlobalString(pointsFlag.Name)
		cfg.Networks[name] = n
	}
	if ctx.GlobalIsSet(journalFlag.Name) {
		cfg.Journal = ctx.GlobalString(journalFlag.Name)
	}
	if ctx.GlobalIsSet(generatorFlag.Name) {
		cfg.Generator.URL = ctx.GlobalString(generatorFlag.Name)
	}
	if ctx.GlobalIsSet(gatewayFlag.Name) {
		cfg.IPFS.Gateway = ctx.GlobalString(gatewayFlag.Name)
	}
	if ctx.GlobalIsSet(keyfileFlag.Name) {
		cfg.Signer.Keystore = ctx.GlobalString(keyfileFlag.Name)
	}
	if ctx.GlobalIsSet(passwordFlag.Name) {
		cfg.Signer.PasswordFile = ctx.GlobalString(passwordFlag.Name)
	}
	if ctx.GlobalIsSet(clefFlag.Name) {
		cfg.Signer.Clef = ctx.GlobalString(clefFlag.Name)
	}
	if ctx.GlobalIsSet(accountFlag.Name) {
		cfg.Signer.Account = ctx.GlobalString(accountFlag.Name)
	}
	if ctx.GlobalIsSet(listenFlag.Name) {
		cfg.API.Listen = ctx.GlobalString(listenFlag.Name)
	}
	if secret := ctx.GlobalString(jwtSecretFlag.Name); secret != "" {
		cfg.API.JWTSecret = secret
	}
	if err := cfg.validate(); err != nil {
		utils.Fatalf("Invalid configuration: %v", err)
	}
	return cfg
}

func serveCmd(ctx *cli.Context) error {
	cfg := makeConfig(ctx)

	svc, err := newService(context.Background(), cfg)
	if err != nil {
		utils.Fatalf("%v", err)
	}
	jr, err := journal.Open(cfg.Journal)
	if err != nil {
		svc.Close()
		utils.Fatalf("Failed to open journal: %v", err)
	}
	follow := jr.Follow(svc.orch)

	api := kamon.NewAPI(svc.orch, jr)
	handler, rpcSrv, err := kamon.NewHandler(api, kamon.ServerConfig{
		CORSOrigins: cfg.API.CORSOrigins,
		JWTSecret:   cfg.API.JWTSecret,
	})
	if err != nil {
		utils.Fatalf("Failed to create API handler: %v", err)
	}
	httpSrv := &http.Server{
		Addr:              cfg.API.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("Kamon sync API listening", "listen", cfg.API.Listen, "auth", cfg.API.JWTSecret != "")
		errc <- httpSrv.ListenAndServe()
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)

	select {
	case sig := <-sigc:
		log.Info("Got interrupt, shutting down...", "signal", sig)
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("API server failed", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("API server shutdown", "err", err)
	}
	rpcSrv.Stop()
	svc.Close()
	follow.Unsubscribe()
	return jr.Close()
}

func syncCmd(ctx *cli.Context) error {
	arg := ctx.Args().First()
	if !common.IsHexAddress(arg) {
		utils.Fatalf("Usage: kamonsync sync <owner address>")
	}
	owner := common.HexToAddress(arg)
	cfg := makeConfig(ctx)

	svc, err := newService(context.Background(), cfg)
	if err != nil {
		utils.Fatalf("%v", err)
	}
	defer svc.Close()

	jr, err := journal.Open(cfg.Journal)
	if err != nil {
		utils.Fatalf("Failed to open journal: %v", err)
	}
	defer jr.Close()

	cycle, err := svc.orch.QuestCompleted(owner)
	if err != nil {
		return err
	}
	log.Info("Sync cycle started", "owner", owner, "cycle", cycle.ID)

	out, err := cycle.Wait(context.Background())
	if err != nil {
		// Precondition aborts publish nothing.
		return fmt.Errorf("sync aborted: %w", err)
	}
	if err := jr.Record(context.Background(), *out); err != nil {
		log.Warn("Failed to journal sync outcome", "cycle", out.Cycle, "err", err)
	}
	renderOutcomes(os.Stdout, []kamon.Outcome{*out})
	if out.Kind.Failed() {
		return fmt.Errorf("sync %s: %s", out.Kind, out.Reason)
	}
	return nil
}

func historyCmd(ctx *cli.Context) error {
	cfg := makeConfig(ctx)

	var owner *common.Address
	if arg := ctx.Args().First(); arg != "" {
		if !common.IsHexAddress(arg) {
			utils.Fatalf("Invalid owner address %q", arg)
		}
		addr := common.HexToAddress(arg)
		owner = &addr
	}
	jr, err := journal.Open(cfg.Journal)
	if err != nil {
		utils.Fatalf("Failed to open journal: %v", err)
	}
	defer jr.Close()

	outs, err := jr.Recent(context.Background(), owner, ctx.Int(limitFlag.Name))
	if err != nil {
		return err
	}
	renderOutcomes(os.Stdout, outs)
	return nil
}

func infoCmd(ctx *cli.Context) error {
	cfg := makeConfig(ctx)
	network, err := cfg.network()
	if err != nil {
		utils.Fatalf("%v", err)
	}
	var owner *common.Address
	if arg := ctx.Args().First(); arg != "" {
		if !common.IsHexAddress(arg) {
			utils.Fatalf("Invalid owner address %q", arg)
		}
		addr := common.HexToAddress(arg)
		owner = &addr
	}
	info, err := readChainInfo(context.Background(), cfg.RPC, network, owner)
	if err != nil {
		utils.Fatalf("%v", err)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRows([]table.Row{
		{"network", network.Name},
		{"chain id", info.chainID},
		{"rpc", cfg.RPC},
		{"kamon nft", info.KamonNFT.Hex()},
		{"quest points", info.QuestPoints.Hex()},
		{"tokens minted", info.TotalSupply},
		{"generator", cfg.Generator.URL},
		{"ipfs gateway", cfg.IPFS.Gateway},
		{"journal", cfg.Journal},
	})
	if info.Owner != nil {
		tw.AppendSeparator()
		tw.AppendRows([]table.Row{
			{"owner", info.Owner.Hex()},
			{"kamon balance", info.Balance},
			{"token id", info.TokenID},
			{"token uri", info.TokenURI},
			{"points", info.Points},
		})
	}
	tw.Render()
	return nil
}

func renderOutcomes(w io.Writer, outs []kamon.Outcome) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Time", "Owner", "Outcome", "Token", "Points", "Tx", "Error"})
	for _, out := range outs {
		var tx string
		if out.TxHash != (common.Hash{}) {
			tx = out.TxHash.TerminalString()
		}
		var token string
		if out.TokenID != 0 {
			token = fmt.Sprint(out.TokenID)
		}
		tw.AppendRow(table.Row{
			out.Time.Format(time.RFC3339),
			out.Owner.Hex(),
			out.Kind,
			token,
			out.Points,
			tx,
			out.Reason,
		})
	}
	tw.Render()
}

