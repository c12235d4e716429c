package nativerollup

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/stretchr/testify/require"
)

type rpcHandler func(params []json.RawMessage) (interface{}, *rpcErrorObject)

type rpcErrorObject struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// newOracleClient serves a scripted JSON-RPC endpoint and returns a client
// connected to it. Calls to methods without a handler fail the test.
func newOracleClient(t *testing.T, handlers map[string]rpcHandler) *ethclient.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage   `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad rpc request: %v", err)
			return
		}
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if handler, ok := handlers[req.Method]; ok {
			result, rpcErr := handler(req.Params)
			if rpcErr != nil {
				resp["error"] = rpcErr
			} else {
				resp["result"] = result
			}
		} else {
			t.Errorf("unexpected rpc method %q", req.Method)
			resp["error"] = &rpcErrorObject{Code: -32601, Message: "method not found"}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	client, err := ethclient.Dial(srv.URL)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

// callObject is the eth_call parameter object as sent on the wire. Older
// client versions send the payload under "data" instead of "input".
type callObject struct {
	To    *common.Address `json:"to"`
	Gas   hexutil.Uint64  `json:"gas"`
	Input hexutil.Bytes   `json:"input"`
	Data  hexutil.Bytes   `json:"data"`
}

func (c *callObject) payload() hexutil.Bytes {
	if c.Input != nil {
		return c.Input
	}
	return c.Data
}

func TestRPCOracleRun(t *testing.T) {
	input := []byte{0xaa, 0xbb, 0xcc}
	want := make([]byte, 40)
	want[31] = 0x42

	var gotCall callObject
	client := newOracleClient(t, map[string]rpcHandler{
		"eth_call": func(params []json.RawMessage) (interface{}, *rpcErrorObject) {
			if len(params) > 0 {
				json.Unmarshal(params[0], &gotCall)
			}
			return hexutil.Bytes(want), nil
		},
	})

	ret, gasLeft, err := NewRPCOracle(client).Run(context.Background(), input, 500_000)
	require.NoError(t, err)
	require.Equal(t, want, ret)
	require.Zero(t, gasLeft, "no metering needed when the output carries a gas count")

	require.NotNil(t, gotCall.To, "call must target the precompile")
	require.Equal(t, ExecuteAddress, *gotCall.To)
	require.EqualValues(t, 500_000, gotCall.Gas)
	require.Equal(t, hexutil.Bytes(input), gotCall.payload(), "input must be forwarded unmodified")
}

func TestRPCOracleRevertData(t *testing.T) {
	client := newOracleClient(t, map[string]rpcHandler{
		"eth_call": func(params []json.RawMessage) (interface{}, *rpcErrorObject) {
			return nil, &rpcErrorObject{Code: 3, Message: "execution reverted", Data: "0xdeadbeef"}
		},
	})

	ret, _, err := NewRPCOracle(client).Run(context.Background(), []byte{0x01}, 100_000)
	require.Error(t, err)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, ret, "revert payload must be recovered from the error")
}

func TestRPCOracleGasEstimate(t *testing.T) {
	client := newOracleClient(t, map[string]rpcHandler{
		"eth_call": func(params []json.RawMessage) (interface{}, *rpcErrorObject) {
			// Output shorter than a gas word triggers the estimate path.
			return hexutil.Bytes{0x01}, nil
		},
		"eth_estimateGas": func(params []json.RawMessage) (interface{}, *rpcErrorObject) {
			return hexutil.Uint64(21_000), nil
		},
	})

	ret, gasLeft, err := NewRPCOracle(client).Run(context.Background(), []byte{0x01}, 100_000)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01}, ret)
	require.EqualValues(t, 100_000-21_000, gasLeft)
}

func TestGatewayOverRPCOracle(t *testing.T) {
	want := make([]byte, 32)
	want[31] = 0x2a
	client := newOracleClient(t, map[string]rpcHandler{
		"eth_call": func(params []json.RawMessage) (interface{}, *rpcErrorObject) {
			return hexutil.Bytes(want), nil
		},
	})

	gw := newTestGateway(t, NewRPCOracle(client), nil)

	resp, err := gw.Execute(context.Background(), chainIDHeader(testChainID, 64))
	require.NoError(t, err)
	require.True(t, resp.Succeeded)
	require.EqualValues(t, 0x2a, resp.GasConsumed.Uint64())

	// Chain ID validation happens client-side, before any RPC traffic.
	_, err = gw.Execute(context.Background(), chainIDHeader(7, 0))
	var chainErr *InvalidChainIDError
	require.ErrorAs(t, err, &chainErr)
}
