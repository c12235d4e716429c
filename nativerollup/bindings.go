package nativerollup

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// NativeRollupABI is the ABI of the NativeRollup demonstration contract that
// fronts the EXECUTE precompile on chain.
const NativeRollupABI = `[
	{"type":"constructor","stateMutability":"nonpayable","inputs":[{"name":"chainId_","type":"uint256"}]},
	{"type":"function","name":"chainId","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"execute","stateMutability":"nonpayable","inputs":[{"name":"trace","type":"bytes"}],"outputs":[{"name":"gasConsumed","type":"uint256"},{"name":"success","type":"bool"},{"name":"returnData","type":"bytes"}]},
	{"type":"function","name":"executeGasUsed","stateMutability":"nonpayable","inputs":[{"name":"trace","type":"bytes"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"Executed","anonymous":false,"inputs":[{"name":"gasConsumed","type":"uint256","indexed":false},{"name":"returnData","type":"bytes","indexed":false}]},
	{"type":"error","name":"InvalidChainId","inputs":[{"name":"expected","type":"uint256"},{"name":"provided","type":"uint256"}]},
	{"type":"error","name":"ExecuteCallFailed","inputs":[{"name":"returnData","type":"bytes"}]}
]`

// NativeRollup is a Go binding to a deployed NativeRollup contract.
type NativeRollup struct {
	address  common.Address
	abi      abi.ABI
	contract *bind.BoundContract
}

func NewNativeRollup(address common.Address, backend bind.ContractBackend) (*NativeRollup, error) {
	parsed, err := abi.JSON(strings.NewReader(NativeRollupABI))
	if err != nil {
		return nil, err
	}
	return &NativeRollup{
		address:  address,
		abi:      parsed,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
	}, nil
}

// DeployNativeRollup deploys the contract with the given creation bytecode
// (taken from a forge build artifact) and constructor chain ID.
func DeployNativeRollup(auth *bind.TransactOpts, backend bind.ContractBackend, bytecode []byte, chainID *big.Int) (common.Address, *types.Transaction, *NativeRollup, error) {
	parsed, err := abi.JSON(strings.NewReader(NativeRollupABI))
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	address, tx, contract, err := bind.DeployContract(auth, parsed, bytecode, backend, chainID)
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	return address, tx, &NativeRollup{address: address, abi: parsed, contract: contract}, nil
}

func (r *NativeRollup) Address() common.Address {
	return r.address
}

// ChainID returns the contract's immutable chain ID.
func (r *NativeRollup) ChainID(opts *bind.CallOpts) (*big.Int, error) {
	var out []interface{}
	if err := r.contract.Call(opts, &out, "chainId"); err != nil {
		return nil, err
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

// Execute submits an EXECUTE trace as a transaction.
func (r *NativeRollup) Execute(opts *bind.TransactOpts, trace []byte) (*types.Transaction, error) {
	return r.contract.Transact(opts, "execute", trace)
}

// CallExecute runs execute through eth_call and decodes the full response.
func (r *NativeRollup) CallExecute(opts *bind.CallOpts, trace []byte) (*ExecuteResponse, error) {
	var out []interface{}
	if err := r.contract.Call(opts, &out, "execute", trace); err != nil {
		return nil, err
	}
	return &ExecuteResponse{
		GasConsumed: abi.ConvertType(out[0], new(big.Int)).(*big.Int),
		Succeeded:   *abi.ConvertType(out[1], new(bool)).(*bool),
		ReturnData:  *abi.ConvertType(out[2], new([]byte)).(*[]byte),
	}, nil
}

// ExecuteGasUsed runs executeGasUsed through eth_call.
func (r *NativeRollup) ExecuteGasUsed(opts *bind.CallOpts, trace []byte) (*big.Int, error) {
	var out []interface{}
	if err := r.contract.Call(opts, &out, "executeGasUsed", trace); err != nil {
		return nil, err
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

// ParseExecuted decodes an Executed event from a receipt log.
func (r *NativeRollup) ParseExecuted(l types.Log) (*big.Int, []byte, error) {
	if len(l.Topics) == 0 || l.Topics[0] != ExecutedEventID {
		return nil, nil, fmt.Errorf("not an Executed event")
	}
	values, err := executedEventArgs.Unpack(l.Data)
	if err != nil {
		return nil, nil, err
	}
	return values[0].(*big.Int), values[1].([]byte), nil
}
