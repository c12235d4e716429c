package devnet

import (
	"bytes"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"

	"github.com/blockblaz/native-quickstart/internal/libdevnet"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	inv := libdevnet.Inventory{
		L1ChainID:     1337,
		L2ChainID:     61972,
		CliquePeriod:  2,
		RollupAddress: "0x0000000000000000000000000000000000001212",
		Prefund: map[string]string{
			"0x7435f87d1ec2bdbf1bd86163e2b1d2624b1ebbc6": "0x8ac7230489e80000",
		},
	}
	cfg, err := ConfigFromInventory(inv)
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestBuildL1Genesis(t *testing.T) {
	cfg := testConfig(t)
	g := cfg.BuildL1Genesis()

	if g.Config.ChainID.Uint64() != 1337 {
		t.Errorf("wrong chain ID: %v", g.Config.ChainID)
	}
	if g.Config.Clique == nil || g.Config.Clique.Period != 2 {
		t.Fatalf("wrong clique config: %+v", g.Config.Clique)
	}

	// The initial signer must be embedded in extra-data.
	signer := cfg.L1.Deployer.Address
	if len(g.ExtraData) != 32+common.AddressLength+65 {
		t.Fatalf("wrong extra-data length: %d", len(g.ExtraData))
	}
	if !bytes.Equal(g.ExtraData[32:32+common.AddressLength], signer.Bytes()) {
		t.Error("signer address not in extra-data")
	}

	// Funded accounts.
	for _, addr := range []common.Address{
		signer,
		VaultAddr,
		common.HexToAddress("0x7435f87d1ec2bdbf1bd86163e2b1d2624b1ebbc6"),
	} {
		acc, ok := g.Alloc[addr]
		if !ok || acc.Balance.Sign() <= 0 {
			t.Errorf("account %v not funded", addr)
		}
	}
}

func TestBuildL2Genesis(t *testing.T) {
	cfg := testConfig(t)
	code := []byte{0x60, 0x80, 0x60, 0x40}
	g := cfg.BuildL2Genesis(code)

	if g.Config.ChainID.Uint64() != 61972 {
		t.Errorf("wrong chain ID: %v", g.Config.ChainID)
	}
	if g.Config.MergeNetsplitBlock == nil || g.Config.MergeNetsplitBlock.Sign() != 0 {
		t.Error("L2 chain should be merged from genesis")
	}
	if g.Config.TerminalTotalDifficulty == nil || g.Config.TerminalTotalDifficulty.Sign() != 0 {
		t.Error("expected zero terminal total difficulty")
	}
	if g.Difficulty.Sign() != 0 {
		t.Error("expected zero genesis difficulty")
	}

	predeploy, ok := g.Alloc[cfg.L2.RollupAddress]
	if !ok {
		t.Fatal("gateway predeploy missing")
	}
	if !bytes.Equal(predeploy.Code, code) {
		t.Error("wrong predeploy code")
	}
	if predeploy.Nonce != 1 {
		t.Errorf("wrong predeploy nonce: %d", predeploy.Nonce)
	}
	// Chain ID lives in storage slot 0.
	want := common.BigToHash(big.NewInt(61972))
	if predeploy.Storage[common.Hash{}] != want {
		t.Errorf("wrong chain ID slot: %v", predeploy.Storage[common.Hash{}])
	}
}

func TestBuildL2GenesisNoPredeploy(t *testing.T) {
	cfg := testConfig(t)
	g := cfg.BuildL2Genesis(nil)
	if _, ok := g.Alloc[cfg.L2.RollupAddress]; ok {
		t.Error("predeploy present without runtime code")
	}
}

func TestEncodeGenesis(t *testing.T) {
	cfg := testConfig(t)
	data, err := EncodeGenesis(cfg.BuildL1Genesis())
	if err != nil {
		t.Fatal(err)
	}

	var decoded core.Genesis
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal("genesis JSON does not round-trip:", err)
	}
	if decoded.Config.ChainID.Uint64() != 1337 {
		t.Errorf("wrong decoded chain ID: %v", decoded.Config.ChainID)
	}
	if len(decoded.Alloc) != len(cfg.genesisAlloc()) {
		t.Errorf("alloc length mismatch: %d != %d", len(decoded.Alloc), len(cfg.genesisAlloc()))
	}
}
