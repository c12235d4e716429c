package devnet

import (
	"context"
	"encoding/json"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	"github.com/blockblaz/native-quickstart/nativerollup"
)

// ContractArtifact represents a compiled Solidity contract with ABI and
// bytecode, in the layout forge writes to out/.
type ContractArtifact struct {
	ABI              json.RawMessage `json:"abi"`
	Bytecode         Bytecode        `json:"bytecode"`
	DeployedBytecode Bytecode        `json:"deployedBytecode,omitempty"`
}

// Bytecode contains the contract bytecode.
type Bytecode struct {
	Object string `json:"object"`
}

// CreationCode returns the decoded creation bytecode.
func (a *ContractArtifact) CreationCode() []byte {
	return common.FromHex(a.Bytecode.Object)
}

// RuntimeCode returns the decoded deployed bytecode.
func (a *ContractArtifact) RuntimeCode() []byte {
	return common.FromHex(a.DeployedBytecode.Object)
}

// LoadArtifact reads a forge build artifact from disk.
func LoadArtifact(file string) (*ContractArtifact, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrap(err, "read artifact")
	}
	artifact := new(ContractArtifact)
	if err := json.Unmarshal(data, artifact); err != nil {
		return nil, errors.Wrapf(err, "parse artifact %s", file)
	}
	if artifact.Bytecode.Object == "" {
		return nil, errors.Errorf("artifact %s has no bytecode", file)
	}
	return artifact, nil
}

// DeployRollup deploys the NativeRollup gateway contract to the chain behind
// client, funded by the deployer account, and waits for inclusion.
func DeployRollup(ctx context.Context, client *ethclient.Client, deployer *Account, chainID *big.Int, artifact *ContractArtifact) (*nativerollup.NativeRollup, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(deployer.PrivateKey, chainID)
	if err != nil {
		return nil, errors.Wrap(err, "deployer transactor")
	}
	auth.Context = ctx

	addr, tx, rollup, err := nativerollup.DeployNativeRollup(auth, client, artifact.CreationCode(), chainID)
	if err != nil {
		return nil, errors.Wrap(err, "deploy rollup")
	}
	if _, err := WaitReceiptOK(ctx, client, tx.Hash()); err != nil {
		return nil, errors.Wrapf(err, "rollup deployment %s not mined", addr)
	}
	return rollup, nil
}
