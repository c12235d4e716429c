package devnet

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
)

var initialBalance, _ = new(big.Int).SetString("1000000000000000000000000000000000000", 10)

const genesisBaseFee = params.InitialBaseFee

// baseChainConfig returns a chain configuration with all pre-merge forks
// enabled from block zero.
func baseChainConfig(chainID *big.Int) *params.ChainConfig {
	zero := new(big.Int)
	return &params.ChainConfig{
		ChainID:             chainID,
		HomesteadBlock:      zero,
		EIP150Block:         zero,
		EIP155Block:         zero,
		EIP158Block:         zero,
		ByzantiumBlock:      zero,
		ConstantinopleBlock: zero,
		PetersburgBlock:     zero,
		IstanbulBlock:       zero,
		MuirGlacierBlock:    zero,
		BerlinBlock:         zero,
		LondonBlock:         zero,
		ArrowGlacierBlock:   zero,
		GrayGlacierBlock:    zero,
	}
}

// BuildL1Genesis creates the L1 genesis block. The L1 chain runs clique with
// the deployer account as the only authorized signer.
func (cfg *Config) BuildL1Genesis() *core.Genesis {
	chaincfg := baseChainConfig(cfg.L1.ChainID)
	chaincfg.Clique = &params.CliqueConfig{
		Period: cfg.L1.CliquePeriod,
		Epoch:  30000,
	}

	// Clique encodes the initial signer set in extra-data.
	extra := make([]byte, 32+common.AddressLength+65)
	copy(extra[32:], cfg.L1.Deployer.Address.Bytes())

	g := &core.Genesis{
		Config:     chaincfg,
		Difficulty: big.NewInt(1),
		ExtraData:  extra,
		GasLimit:   params.GenesisGasLimit * 8,
		BaseFee:    big.NewInt(genesisBaseFee),
		Alloc:      cfg.genesisAlloc(),
	}
	return g
}

// BuildL2Genesis creates the L2 genesis block. The L2 chain is merged from
// genesis and carries the execute gateway as a predeploy when its runtime
// code is supplied.
func (cfg *Config) BuildL2Genesis(rollupCode []byte) *core.Genesis {
	zero := new(big.Int)
	chaincfg := baseChainConfig(cfg.L2.ChainID)
	chaincfg.MergeNetsplitBlock = zero
	chaincfg.TerminalTotalDifficulty = zero
	chaincfg.TerminalTotalDifficultyPassed = true
	shanghai := uint64(0)
	chaincfg.ShanghaiTime = &shanghai

	alloc := cfg.genesisAlloc()
	if len(rollupCode) > 0 && cfg.L2.RollupAddress != (common.Address{}) {
		// Predeploy with the chain ID in storage slot 0, matching what the
		// constructor would have written.
		alloc[cfg.L2.RollupAddress] = types.Account{
			Balance: new(big.Int),
			Code:    rollupCode,
			Nonce:   1,
			Storage: map[common.Hash]common.Hash{
				{}: common.BigToHash(cfg.L2.ChainID),
			},
		}
	}

	g := &core.Genesis{
		Config:     chaincfg,
		Difficulty: new(big.Int),
		ExtraData:  []byte("native-quickstart"),
		GasLimit:   params.GenesisGasLimit * 8,
		BaseFee:    big.NewInt(genesisBaseFee),
		Alloc:      alloc,
	}
	return g
}

// genesisAlloc funds the built-in accounts plus everything listed in the
// inventory's prefund section.
func (cfg *Config) genesisAlloc() types.GenesisAlloc {
	alloc := make(types.GenesisAlloc)
	alloc[cfg.L1.Deployer.Address] = types.Account{Balance: initialBalance}
	alloc[VaultAddr] = types.Account{Balance: initialBalance}
	for addr, bal := range cfg.Prefund {
		alloc[addr] = types.Account{Balance: bal}
	}
	return alloc
}

// EncodeGenesis renders a genesis block as the JSON file nodes load at boot.
func EncodeGenesis(g *core.Genesis) ([]byte, error) {
	return json.MarshalIndent(g, "", "  ")
}
