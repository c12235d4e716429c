package devnet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// WaitHeight polls the chain head until f accepts the height.
func WaitHeight(ctx context.Context, client *ethclient.Client, f func(uint64) bool) error {
	for {
		height, err := client.BlockNumber(ctx)
		if err != nil {
			return err
		}
		if f(height) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// WaitBlock waits until the chain has reached the given height and returns
// the block at that height.
func WaitBlock(ctx context.Context, client *ethclient.Client, num uint64) (*types.Block, error) {
	if err := WaitHeight(ctx, client, GreaterEqual(num)); err != nil {
		return nil, err
	}
	return client.BlockByNumber(ctx, new(big.Int).SetUint64(num))
}

func WaitReceiptOK(ctx context.Context, cli *ethclient.Client, hash common.Hash) (*types.Receipt, error) {
	return WaitReceipt(ctx, cli, hash, types.ReceiptStatusSuccessful)
}

func WaitReceiptFailed(ctx context.Context, cli *ethclient.Client, hash common.Hash) (*types.Receipt, error) {
	return WaitReceipt(ctx, cli, hash, types.ReceiptStatusFailed)
}

// WaitReceipt polls for the receipt of the given transaction until it is
// found, then checks it against the wanted status.
func WaitReceipt(ctx context.Context, client *ethclient.Client, hash common.Hash, status uint64) (*types.Receipt, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		receipt, err := client.TransactionReceipt(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ticker.C:
				continue
			}
		}
		if err != nil {
			return nil, err
		}
		if receipt.Status != status {
			return receipt, fmt.Errorf("expected status %d, but got %d", status, receipt.Status)
		}
		return receipt, nil
	}
}

// WaitUp dials the given RPC endpoint until the node answers eth_chainId or
// the context expires.
func WaitUp(ctx context.Context, url string) (*ethclient.Client, error) {
	var lastErr error
	for {
		client, err := ethclient.DialContext(ctx, url)
		if err == nil {
			if _, err = client.ChainID(ctx); err == nil {
				return client, nil
			}
			client.Close()
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("node at %s not up: %v (last error: %v)", url, ctx.Err(), lastErr)
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func GreaterEqual(want uint64) func(uint64) bool {
	return func(get uint64) bool {
		return get >= want
	}
}
