package config

import (
	"flag"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

var authorityHex = strings.Repeat("ab", 32)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestLoadChaincode(t *testing.T) {
	cfg, err := LoadChaincode(env(map[string]string{
		EnvAuthorityPublicKey: "0x" + authorityHex,
		EnvLogLevel:           "debug",
	}))
	require.NoError(t, err)
	assert.False(t, cfg.External())
	assert.Len(t, cfg.AuthorityPublicKey, 32)
	assert.Equal(t, byte(0xab), cfg.AuthorityPublicKey[0])
	assert.Equal(t, zapcore.DebugLevel, cfg.LogLevel)
}

func TestLoadChaincodeExternal(t *testing.T) {
	_, err := LoadChaincode(env(map[string]string{
		EnvAuthorityPublicKey: authorityHex,
		EnvServerAddress:      "0.0.0.0:9999",
	}))
	assert.ErrorContains(t, err, EnvChaincodeID)

	cfg, err := LoadChaincode(env(map[string]string{
		EnvAuthorityPublicKey: authorityHex,
		EnvServerAddress:      "0.0.0.0:9999",
		EnvChaincodeID:        "sealedvote:abc",
	}))
	require.NoError(t, err)
	assert.True(t, cfg.External())
	assert.Equal(t, zapcore.InfoLevel, cfg.LogLevel)
}

func TestParseAuthorityKey(t *testing.T) {
	_, err := ParseAuthorityKey("")
	assert.ErrorIs(t, err, ErrMissingAuthorityKey)

	_, err = ParseAuthorityKey("0x1234")
	assert.ErrorContains(t, err, "want 32 bytes")

	_, err = ParseAuthorityKey("zz")
	assert.Error(t, err)

	key, err := ParseAuthorityKey(" " + authorityHex + "\n")
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestParseNodeFlags(t *testing.T) {
	fs := flag.NewFlagSet("votenode", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfg, err := ParseNodeFlags(fs, []string{
		"-authority-public-key", authorityHex,
		"-block-interval", "250ms",
		"-disclosure-token", "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddress)
	assert.Equal(t, 250*time.Millisecond, cfg.BlockInterval)
	assert.Equal(t, "secret", cfg.DisclosureToken)

	fs = flag.NewFlagSet("votenode", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	_, err = ParseNodeFlags(fs, nil)
	assert.ErrorIs(t, err, ErrMissingAuthorityKey)
}
