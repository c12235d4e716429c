package devnet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// This is the account that sends vault funding transactions.
var vaultKey, _ = crypto.HexToECDSA(defaultVaultKey)

// VaultAddr is the address of the vault account, prefunded in genesis.
var VaultAddr = crypto.PubkeyToAddress(vaultKey.PublicKey)

// Vault creates accounts for testing and funds them from a genesis-funded
// account. The purpose of the vault is allowing demo transactions to run
// concurrently without worrying about nonce assignment and unexpected
// balance changes.
type Vault struct {
	chainID *big.Int

	// This tracks the account nonce of the vault account.
	nonce uint64
	// Created accounts are tracked in this map.
	accounts map[common.Address]*ecdsa.PrivateKey

	mu sync.Mutex
}

func NewVault(chainID *big.Int) *Vault {
	return &Vault{
		chainID:  chainID,
		accounts: make(map[common.Address]*ecdsa.PrivateKey),
	}
}

// GenerateKey creates a new account key and stores it.
func (v *Vault) GenerateKey() common.Address {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(fmt.Errorf("can't generate account key: %w", err))
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.accounts[addr] = key
	return addr
}

// FindKey returns the private key for an address.
func (v *Vault) FindKey(addr common.Address) *ecdsa.PrivateKey {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.accounts[addr]
}

// InsertKey adds an externally created key to the vault.
func (v *Vault) InsertKey(key *ecdsa.PrivateKey) {
	addr := crypto.PubkeyToAddress(key.PublicKey)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.accounts[addr] = key
}

// SignTransaction signs the given transaction with the test account and returns it.
// It uses the EIP155 signing rules.
func (v *Vault) SignTransaction(sender common.Address, tx *types.Transaction) (*types.Transaction, error) {
	key := v.FindKey(sender)
	if key == nil {
		return nil, fmt.Errorf("sender account %v not in vault", sender)
	}
	signer := types.LatestSignerForChainID(v.chainID)
	return types.SignTx(tx, signer, key)
}

// KeyedTransactor returns transaction options bound to a vault account.
func (v *Vault) KeyedTransactor(addr common.Address) (*bind.TransactOpts, error) {
	key := v.FindKey(addr)
	if key == nil {
		return nil, fmt.Errorf("account %v not in vault", addr)
	}
	return bind.NewKeyedTransactorWithChainID(key, v.chainID)
}

// CreateAccount creates a new account that is funded from the vault account
// and waits for the funding transaction to be mined.
func (v *Vault) CreateAccount(ctx context.Context, client *ethclient.Client, amount *big.Int) (common.Address, error) {
	if amount == nil {
		amount = new(big.Int)
	}
	address := v.GenerateKey()

	// order the vault to send some ether
	tx, err := v.makeFundingTx(address, amount, nil)
	if err != nil {
		return common.Address{}, err
	}
	if err := client.SendTransaction(ctx, tx); err != nil {
		return common.Address{}, fmt.Errorf("unable to send funding transaction: %v", err)
	}
	if _, err := WaitReceiptOK(ctx, client, tx.Hash()); err != nil {
		return common.Address{}, err
	}
	return address, nil
}

// SendTestTx sends a throwaway transaction with the given calldata. It is
// used to tick over block production on chains that only build blocks when
// there are pending transactions.
func (v *Vault) SendTestTx(ctx context.Context, client *ethclient.Client, data []byte) (*types.Transaction, error) {
	address := v.GenerateKey()
	tx, err := v.makeFundingTx(address, big.NewInt(1), data)
	if err != nil {
		return nil, err
	}
	if err := client.SendTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("unable to send funding transaction: %v", err)
	}
	return tx, nil
}

func (v *Vault) makeFundingTx(recipient common.Address, amount *big.Int, data []byte) (*types.Transaction, error) {
	var (
		nonce    = v.nextNonce()
		gasLimit = uint64(750000)
	)
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		Gas:      gasLimit,
		GasPrice: big.NewInt(1),
		To:       &recipient,
		Value:    amount,
		Data:     data,
	})
	signer := types.LatestSignerForChainID(v.chainID)
	return types.SignTx(tx, signer, vaultKey)
}

// nextNonce generates the nonce of a funding transaction.
func (v *Vault) nextNonce() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	nonce := v.nonce
	v.nonce++
	return nonce
}
