// Command authority manages the tallying authority's X25519 key and opens
// sealed tallies offline from a published tally report.
package main

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/99designs/keyring"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli"

	"github.com/voting/chaincode/sealedvote/agreement"
	"github.com/voting/chaincode/sealedvote/queries"
	"github.com/voting/chaincode/sealedvote/schema"
	"github.com/voting/chaincode/sealedvote/sealing"
)

const (
	serviceName = "sealedvote"
	defaultKey  = "authority"
)

func main() {
	app := cli.NewApp()
	app.Name = "authority"
	app.Usage = "tallying authority key management and offline disclosure"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "key-id",
			Value: defaultKey,
			Usage: "keyring item holding the private scalar",
		},
		cli.StringFlag{
			Name:  "keyring-dir",
			Usage: "use an encrypted file keyring in this directory instead of the system keyring",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "keygen",
			Usage:  "generate and store a new authority key, print its public key",
			Action: actionKeygen,
		},
		{
			Name:   "public",
			Usage:  "print the stored authority public key",
			Action: actionPublic,
		},
		{
			Name:      "disclose",
			Usage:     "open every sealed tally of a report",
			ArgsUsage: "<report.json | results URL>",
			Action:    actionDisclose,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func openRing(c *cli.Context) (keyring.Keyring, error) {
	cfg := keyring.Config{ServiceName: serviceName}
	if dir := c.GlobalString("keyring-dir"); dir != "" {
		cfg.AllowedBackends = []keyring.BackendType{keyring.FileBackend}
		cfg.FileDir = dir
		cfg.FilePasswordFunc = keyring.TerminalPrompt
	}
	ring, err := keyring.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return ring, nil
}

func loadScalar(c *cli.Context) ([]byte, error) {
	ring, err := openRing(c)
	if err != nil {
		return nil, err
	}
	item, err := ring.Get(c.GlobalString("key-id"))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, fmt.Errorf("no authority key stored, run keygen first")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key from keyring: %w", err)
	}
	return item.Data, nil
}

func actionKeygen(c *cli.Context) error {
	ring, err := openRing(c)
	if err != nil {
		return err
	}
	if _, err := ring.Get(c.GlobalString("key-id")); err == nil {
		return fmt.Errorf("key %q already exists", c.GlobalString("key-id"))
	}

	scalar := make([]byte, agreement.PrivateKeySize)
	if _, err := io.ReadFull(rand.Reader, scalar); err != nil {
		return fmt.Errorf("failed to read private scalar: %w", err)
	}
	public, err := publicKey(scalar)
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:         c.GlobalString("key-id"),
		Data:        scalar,
		Label:       "sealedvote tallying authority",
		Description: "X25519 private scalar",
	})
	if err != nil {
		return fmt.Errorf("failed to store key in keyring: %w", err)
	}

	fmt.Println(hexutil.Encode(public))
	return nil
}

func actionPublic(c *cli.Context) error {
	scalar, err := loadScalar(c)
	if err != nil {
		return err
	}
	public, err := publicKey(scalar)
	if err != nil {
		return err
	}
	fmt.Println(hexutil.Encode(public))
	return nil
}

func actionDisclose(c *cli.Context) error {
	source := c.Args().First()
	if source == "" {
		return cli.NewExitError("Please specify a tally report file or results URL", 2)
	}

	report, err := readReport(source)
	if err != nil {
		return err
	}
	scalar, err := loadScalar(c)
	if err != nil {
		return err
	}
	disclosed, err := disclose(scalar, report)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(disclosed)
}

func publicKey(scalar []byte) (agreement.PublicKey, error) {
	private, err := agreement.NewPrivateKey(scalar)
	if err != nil {
		return nil, err
	}
	return private.PublicKey()
}

func readReport(source string) (*queries.TallyReport, error) {
	var r io.ReadCloser
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		resp, err := http.Get(source)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch report: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("failed to fetch report: %s", resp.Status)
		}
		r = resp.Body
	} else {
		f, err := os.Open(source)
		if err != nil {
			return nil, err
		}
		r = f
	}
	defer r.Close()

	var report queries.TallyReport
	if err := json.NewDecoder(r).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &report, nil
}

// disclose re-derives the transport key from the published service key and
// opens every ballot of the report.
func disclose(scalar []byte, report *queries.TallyReport) ([]queries.DisclosedTally, error) {
	private, err := agreement.NewPrivateKey(scalar)
	if err != nil {
		return nil, err
	}
	derived, err := agreement.DeriveSharedSecret(private, report.ServicePublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to agree with service key: %w", err)
	}
	c, err := sealing.NewCipher(derived.SharedSecret)
	if err != nil {
		return nil, err
	}
	return queries.DiscloseTallies(report.Tallies, queries.OpenerFunc(func(sb schema.SealedBallot) (schema.Ballot, error) {
		return sealing.OpenWith(c, sb)
	})), nil
}
