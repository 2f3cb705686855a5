/*
 * Main entry point for the Sealed Vote Chaincode
 */

package main

import (
	"log"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"go.uber.org/zap"

	"github.com/voting/chaincode/sealedvote/agreement"
	"github.com/voting/chaincode/sealedvote/config"
	"github.com/voting/chaincode/sealedvote/contracts"
	"github.com/voting/chaincode/sealedvote/metrics"
)

func main() {
	cfg, err := config.LoadChaincode(nil)
	if err != nil {
		log.Panicf("Error loading chaincode configuration: %v", err)
	}

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Panicf("Error building logger: %v", err)
	}
	defer logger.Sync()

	// Every peer running this process derives its own ephemeral key.
	keys := agreement.NewKeyState(nil)
	if err := keys.Initialize(cfg.AuthorityPublicKey); err != nil {
		logger.Fatal("failed to derive transport key", zap.Error(err))
	}
	public, err := keys.PublicOutKey()
	if err != nil {
		logger.Fatal("failed to read service public key", zap.Error(err))
	}
	logger.Info("transport key ready", zap.String("service_public_key", hexutil.Encode(public)))

	voteContract := contracts.NewVoteContract(keys, logger.Named("contract"))

	chaincode, err := contractapi.NewChaincode(voteContract)
	if err != nil {
		logger.Fatal("error creating vote chaincode", zap.Error(err))
	}

	chaincode.Info.Title = "SealedVoteContract"
	chaincode.Info.Version = "1.0.0"
	chaincode.Info.Description = "Sealed Ballot Voting Chaincode"

	if cfg.MetricsAddress != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
				logger.Error("metrics listener stopped", zap.Error(err))
			}
		}()
	}

	if cfg.External() {
		server := &shim.ChaincodeServer{
			CCID:     cfg.ChaincodeID,
			Address:  cfg.ServerAddress,
			CC:       chaincode,
			TLSProps: shim.TLSProperties{Disabled: true},
		}
		logger.Info("starting vote chaincode server", zap.String("address", cfg.ServerAddress))
		if err := server.Start(); err != nil {
			logger.Fatal("error starting vote chaincode server", zap.Error(err))
		}
		return
	}

	if err := chaincode.Start(); err != nil {
		logger.Fatal("error starting vote chaincode", zap.Error(err))
	}
}
