package nativerollup

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// RPCOracle relays EXECUTE requests to the precompile on a live node through
// eth_call. eth_call has the read-only semantics the gateway requires: it can
// never mutate chain state.
type RPCOracle struct {
	client *ethclient.Client
}

func NewRPCOracle(client *ethclient.Client) *RPCOracle {
	return &RPCOracle{client: client}
}

func (o *RPCOracle) Run(ctx context.Context, input []byte, gas uint64) ([]byte, uint64, error) {
	msg := ethereum.CallMsg{
		To:   &ExecuteAddress,
		Gas:  gas,
		Data: input,
	}
	ret, err := o.client.CallContract(ctx, msg, nil)
	if err != nil {
		// Reverts surface through the RPC error; recover the raw diagnostic
		// payload when the server attached one.
		if de, ok := err.(rpc.DataError); ok {
			if data, ok := de.ErrorData().(string); ok {
				return common.FromHex(data), 0, err
			}
		}
		return nil, 0, err
	}

	// The node doesn't report gas usage for eth_call. The count only matters
	// to the gateway when the precompile output carries none, so a separate
	// estimate is good enough there.
	gasLeft := uint64(0)
	if len(ret) < 32 {
		if used, eerr := o.client.EstimateGas(ctx, msg); eerr == nil && used <= gas {
			gasLeft = gas - used
		}
	}
	return ret, gasLeft, nil
}
