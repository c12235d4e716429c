// Package nativerollup implements the EXECUTE calldata gateway of the native
// rollup devnet: the validation and relay layer in front of the stateless
// execution precompile, plus the request wire codec and client-side bindings
// for the deployed NativeRollup contract.
package nativerollup

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"gopkg.in/inconshreveable/log15.v2"
)

// ExecuteAddress is the fixed address of the EXECUTE precompile.
var ExecuteAddress = common.BytesToAddress([]byte{0x12})

// defaultCallGas is the gas budget handed to the oracle when the gateway
// configuration doesn't set one.
const defaultCallGas = uint64(30_000_000)

// Oracle is the stateless-execution capability behind the gateway. Run must
// have read-only call semantics: it cannot mutate caller state. On failure
// the returned bytes carry the oracle's own diagnostic payload. gasLeft
// reports the unconsumed portion of the gas budget, which the gateway only
// consults when the oracle's output carries no gas count of its own.
type Oracle interface {
	Run(ctx context.Context, input []byte, gas uint64) (ret []byte, gasLeft uint64, err error)
}

// LogEmitter receives the Executed success event.
type LogEmitter interface {
	EmitLog(l *types.Log)
}

// ExecuteResponse is the decoded oracle result.
type ExecuteResponse struct {
	GasConsumed *big.Int
	Succeeded   bool
	ReturnData  []byte
}

// InvalidChainIDError is returned before any oracle call when the calldata is
// shorter than the 32-byte chain ID header (Provided is zero then) or when
// the header doesn't match the gateway's configured chain ID.
type InvalidChainIDError struct {
	Expected *big.Int
	Provided *big.Int
}

func (e *InvalidChainIDError) Error() string {
	return fmt.Sprintf("invalid chain id: expected %v, provided %v", e.Expected, e.Provided)
}

// ExecuteCallFailedError is returned when the oracle call itself reports
// failure. ReturnData is the oracle's raw output, unmodified.
type ExecuteCallFailedError struct {
	ReturnData []byte
}

func (e *ExecuteCallFailedError) Error() string {
	return fmt.Sprintf("execute call failed: returndata 0x%x", e.ReturnData)
}

// Executed(uint256 gasConsumed, bytes returnData) success event.
var (
	ExecutedEventID = crypto.Keccak256Hash([]byte("Executed(uint256,bytes)"))

	executedEventArgs = abi.Arguments{
		{Name: "gasConsumed", Type: mustNewType("uint256")},
		{Name: "returnData", Type: mustNewType("bytes")},
	}
)

func mustNewType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// GatewayConfig configures a Gateway. ChainID and Oracle are mandatory.
type GatewayConfig struct {
	// ChainID is the network identifier requests must carry. Fixed for the
	// lifetime of the gateway.
	ChainID *big.Int

	// Oracle is the EXECUTE capability requests are relayed to.
	Oracle Oracle

	// Emitter receives the Executed event. When nil, events go to the log.
	Emitter LogEmitter

	// CallGas is the gas budget per oracle call. Zero selects the default.
	CallGas uint64

	Logger log15.Logger
}

// Gateway validates the chain-ID header of EXECUTE calldata and relays the
// untouched payload to the execution oracle. It holds no mutable state: every
// dispatch is an independent synchronous call.
type Gateway struct {
	chainID *big.Int
	oracle  Oracle
	emitter LogEmitter
	callGas uint64
	logger  log15.Logger
}

func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.ChainID == nil || cfg.ChainID.Sign() < 0 {
		return nil, fmt.Errorf("gateway needs a non-negative chain id")
	}
	if cfg.Oracle == nil {
		return nil, fmt.Errorf("gateway needs an oracle")
	}
	g := &Gateway{
		chainID: new(big.Int).Set(cfg.ChainID),
		oracle:  cfg.Oracle,
		emitter: cfg.Emitter,
		callGas: cfg.CallGas,
		logger:  cfg.Logger,
	}
	if g.callGas == 0 {
		g.callGas = defaultCallGas
	}
	if g.logger == nil {
		g.logger = log15.New("module", "gateway")
	}
	return g, nil
}

// ChainID returns the configured chain ID.
func (g *Gateway) ChainID() *big.Int {
	return new(big.Int).Set(g.chainID)
}

// Execute validates and relays raw EXECUTE calldata, returning the full
// decoded response.
func (g *Gateway) Execute(ctx context.Context, calldata []byte) (*ExecuteResponse, error) {
	return g.dispatch(ctx, calldata)
}

// ExecuteGasUsed is the reduced entry point: same validation, relay and
// decode as Execute, but only the gas count is returned.
func (g *Gateway) ExecuteGasUsed(ctx context.Context, calldata []byte) (*big.Int, error) {
	resp, err := g.dispatch(ctx, calldata)
	if err != nil {
		return nil, err
	}
	return resp.GasConsumed, nil
}

// HandleFallback serves the untagged call path: calldata that matched no
// other operation goes through the identical dispatch and yields the gas
// count as a raw 32-byte big-endian word.
func (g *Gateway) HandleFallback(ctx context.Context, calldata []byte) ([]byte, error) {
	resp, err := g.dispatch(ctx, calldata)
	if err != nil {
		return nil, err
	}
	var out [32]byte
	resp.GasConsumed.FillBytes(out[:])
	return out[:], nil
}

// dispatch is the one shared validate-forward-decode routine behind all
// three entry points.
func (g *Gateway) dispatch(ctx context.Context, calldata []byte) (*ExecuteResponse, error) {
	// The chain ID check never looks past offset 32, even when the rest of
	// the payload is malformed. Structural validation of the remainder is
	// the oracle's job.
	provided := new(big.Int)
	if len(calldata) >= 32 {
		provided.SetBytes(calldata[:32])
	}
	if len(calldata) < 32 || provided.Cmp(g.chainID) != 0 {
		return nil, &InvalidChainIDError{Expected: g.ChainID(), Provided: provided}
	}

	// Forward the original calldata in full, chain ID header included.
	gas := g.callGas
	ret, gasLeft, err := g.oracle.Run(ctx, calldata, gas)
	if err != nil {
		g.logger.Debug("oracle call failed", "err", err, "returndata", len(ret))
		return nil, &ExecuteCallFailedError{ReturnData: ret}
	}

	gasConsumed := new(big.Int)
	if len(ret) >= 32 {
		gasConsumed.SetBytes(ret[:32])
	} else {
		// The oracle returned no gas count: fall back to the gas metered
		// around the call.
		gasConsumed.SetUint64(gas - gasLeft)
	}
	g.emitExecuted(gasConsumed, ret)
	return &ExecuteResponse{GasConsumed: gasConsumed, Succeeded: true, ReturnData: ret}, nil
}

func (g *Gateway) emitExecuted(gasConsumed *big.Int, returnData []byte) {
	if g.emitter == nil {
		g.logger.Info("execute succeeded", "gasConsumed", gasConsumed, "returndata", len(returnData))
		return
	}
	data, err := executedEventArgs.Pack(gasConsumed, returnData)
	if err != nil {
		g.logger.Error("failed to encode Executed event", "err", err)
		return
	}
	g.emitter.EmitLog(&types.Log{
		Address: ExecuteAddress,
		Topics:  []common.Hash{ExecutedEventID},
		Data:    data,
	})
}
