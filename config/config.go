// Package config loads process settings for the chaincode and the standalone node.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/voting/chaincode/sealedvote/agreement"
)

// Environment variables read by the chaincode process.
const (
	EnvChaincodeID        = "CHAINCODE_ID"
	EnvServerAddress      = "CHAINCODE_SERVER_ADDRESS"
	EnvAuthorityPublicKey = "SEALEDVOTE_AUTHORITY_PUBLIC_KEY"
	EnvMetricsAddress     = "SEALEDVOTE_METRICS_ADDRESS"
	EnvLogLevel           = "SEALEDVOTE_LOG_LEVEL"
)

var ErrMissingAuthorityKey = errors.New("authority public key is required")

// Chaincode configures the chaincode process. With ServerAddress set the
// chaincode runs as an external service instead of being launched by the peer.
type Chaincode struct {
	ChaincodeID        string
	ServerAddress      string
	AuthorityPublicKey []byte
	MetricsAddress     string
	LogLevel           zapcore.Level
}

// External reports whether the chaincode-as-a-service mode is configured.
func (c *Chaincode) External() bool {
	return c.ServerAddress != ""
}

// LoadChaincode reads the chaincode settings through getenv, usually os.Getenv.
func LoadChaincode(getenv func(string) string) (*Chaincode, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := &Chaincode{
		ChaincodeID:    getenv(EnvChaincodeID),
		ServerAddress:  getenv(EnvServerAddress),
		MetricsAddress: getenv(EnvMetricsAddress),
	}
	if cfg.External() && cfg.ChaincodeID == "" {
		return nil, fmt.Errorf("%s is required when %s is set", EnvChaincodeID, EnvServerAddress)
	}

	key, err := ParseAuthorityKey(getenv(EnvAuthorityPublicKey))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", EnvAuthorityPublicKey, err)
	}
	cfg.AuthorityPublicKey = key

	level, err := ParseLogLevel(getenv(EnvLogLevel))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", EnvLogLevel, err)
	}
	cfg.LogLevel = level

	return cfg, nil
}

// ParseAuthorityKey decodes a hex X25519 public key, with or without 0x.
func ParseAuthorityKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrMissingAuthorityKey
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	key, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid authority public key: %w", err)
	}
	if len(key) != agreement.PublicKeySize {
		return nil, fmt.Errorf("invalid authority public key: want %d bytes, got %d", agreement.PublicKeySize, len(key))
	}
	return key, nil
}

// ParseLogLevel accepts zap level names; empty means info.
func ParseLogLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	return zapcore.ParseLevel(s)
}

// NewLogger builds a JSON production logger at level.
func NewLogger(level zapcore.Level) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

// Node configures the standalone vote node.
type Node struct {
	ListenAddress      string
	AuthorityPublicKey []byte
	BlockInterval      time.Duration
	DisclosureToken    string
	LogLevel           zapcore.Level
}

// ParseNodeFlags parses the node's command line.
func ParseNodeFlags(fs *flag.FlagSet, args []string) (*Node, error) {
	var (
		listen     = fs.String("listen", ":8080", "HTTP listen address")
		authority  = fs.String("authority-public-key", "", "hex X25519 public key of the tallying authority")
		interval   = fs.Duration("block-interval", time.Second, "how often pending operations are committed")
		disclosure = fs.String("disclosure-token", "", "bearer token for results_dec; empty disables disclosure")
		logLevel   = fs.String("log-level", "info", "log level")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	key, err := ParseAuthorityKey(*authority)
	if err != nil {
		return nil, err
	}
	level, err := ParseLogLevel(*logLevel)
	if err != nil {
		return nil, err
	}
	if *interval <= 0 {
		return nil, fmt.Errorf("block interval must be positive, got %s", *interval)
	}

	return &Node{
		ListenAddress:      *listen,
		AuthorityPublicKey: key,
		BlockInterval:      *interval,
		DisclosureToken:    *disclosure,
		LogLevel:           level,
	}, nil
}
