package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/voting/chaincode/sealedvote/agreement"
	"github.com/voting/chaincode/sealedvote/api"
	"github.com/voting/chaincode/sealedvote/config"
	"github.com/voting/chaincode/sealedvote/node"
)

func main() {
	cfg, err := config.ParseNodeFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	keys := agreement.NewKeyState(nil)
	if err := keys.Initialize(cfg.AuthorityPublicKey); err != nil {
		logger.Fatal("failed to derive transport key", zap.Error(err))
	}
	public, err := keys.PublicOutKey()
	if err != nil {
		logger.Fatal("failed to read service public key", zap.Error(err))
	}
	logger.Info("transport key ready", zap.String("service_public_key", hexutil.Encode(public)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n := node.New(keys, logger.Named("node"))
	go func() {
		if err := n.Run(ctx, cfg.BlockInterval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("ledger stopped", zap.Error(err))
			stop()
		}
	}()

	server := api.NewServer(n, cfg.DisclosureToken, logger.Named("api"))
	logger.Info("starting vote node", zap.String("address", cfg.ListenAddress))
	if err := server.Start(ctx, cfg.ListenAddress); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
