// Package devnet boots and drives a local native rollup network: an L1 chain,
// an L2 execution node and a sequencer, wired together over a Docker network.
package devnet

import (
	"crypto/ecdsa"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/blockblaz/native-quickstart/internal/libdevnet"
)

// Default devnet accounts. These keys are throwaway devnet-only keys, the
// matching addresses are prefunded in both genesis blocks.
const (
	defaultDeployerKey = "ab0e16b34cb2e26e21b1b79a9e4d7c2cd849288cc48c38637d6e1c28d3a6c5ac"
	defaultVaultKey    = "2bdd21761a483f71054e14f5b827213567971c676928d9a1808cbfa4b7501200"
)

type Account struct {
	PrivateKeyHex string
	PrivateKey    *ecdsa.PrivateKey
	Address       common.Address
}

func NewAccount(privKeyHex string) (*Account, error) {
	privKey, err := crypto.HexToECDSA(privKeyHex)
	if err != nil {
		return nil, err
	}
	addr := crypto.PubkeyToAddress(privKey.PublicKey)
	return &Account{
		PrivateKeyHex: privKeyHex,
		PrivateKey:    privKey,
		Address:       addr,
	}, nil
}

type L1Config struct {
	ChainID      *big.Int
	NetworkID    uint64
	Deployer     *Account
	CliquePeriod uint64
}

type L2Config struct {
	ChainID   *big.Int
	NetworkID uint64
	JWTSecret string

	// RollupAddress is where the execute gateway lives on L2. Empty means
	// it gets deployed by the runner after bring-up.
	RollupAddress common.Address

	Sequencer     *Account
	BlockInterval time.Duration
}

type Config struct {
	L1 *L1Config
	L2 *L2Config

	// Prefund maps addresses to genesis balances on both chains.
	Prefund map[common.Address]*big.Int
}

// ConfigFromInventory builds the devnet configuration from a parsed
// devnet.yaml inventory.
func ConfigFromInventory(inv libdevnet.Inventory) (*Config, error) {
	deployer, err := NewAccount(defaultDeployerKey)
	if err != nil {
		return nil, err
	}
	prefund := make(map[common.Address]*big.Int)
	for addrHex, balHex := range inv.Prefund {
		bal, ok := new(big.Int).SetString(balHex, 0)
		if !ok {
			bal = new(big.Int)
		}
		prefund[common.HexToAddress(addrHex)] = bal
	}
	cfg := &Config{
		L1: &L1Config{
			ChainID:      new(big.Int).SetUint64(inv.L1ChainID),
			NetworkID:    inv.L1ChainID,
			Deployer:     deployer,
			CliquePeriod: inv.CliquePeriod,
		},
		L2: &L2Config{
			ChainID:       new(big.Int).SetUint64(inv.L2ChainID),
			NetworkID:     inv.L2ChainID,
			JWTSecret:     inv.JWTSecret,
			Sequencer:     deployer,
			BlockInterval: time.Second,
		},
		Prefund: prefund,
	}
	if inv.RollupAddress != "" {
		cfg.L2.RollupAddress = common.HexToAddress(inv.RollupAddress)
	}
	return cfg, nil
}
