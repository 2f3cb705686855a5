package contracts

import (
	"errors"
	"fmt"

	"github.com/hyperledger/fabric-chaincode-go/shim"

	"github.com/voting/chaincode/sealedvote/ledger"
)

// stubView exposes the transaction simulator as a ledger fork. Writes are
// buffered by the peer and only reach world state when the transaction is
// endorsed and committed; GetState never sees them.
type stubView struct {
	stub shim.ChaincodeStubInterface
}

var _ ledger.Fork = stubView{}

func (v stubView) Get(key string) ([]byte, error) {
	value, err := v.stub.GetState(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}

func (v stubView) Put(key string, value []byte) error {
	return v.stub.PutState(key, value)
}

func (v stubView) Iterate(prefix string, fn func(key string, value []byte) error) error {
	it, err := v.stub.GetStateByRange(prefix, prefix+"~")
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", prefix, err)
	}
	defer it.Close()

	for it.HasNext() {
		kv, err := it.Next()
		if err != nil {
			return err
		}
		if err := fn(kv.Key, kv.Value); err != nil {
			if errors.Is(err, ledger.ErrStopIteration) {
				return nil
			}
			return err
		}
	}
	return nil
}
