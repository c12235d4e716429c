package nativerollup

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Binary layout of an EXECUTE request. The header is fixed-size, followed by
// the witness and withdrawals segments (lengths in the header), the blob hash
// list and the target call. Only the leading chain ID is ever read by the
// gateway itself; the codec exists for request construction and for tooling
// that needs to inspect a payload.
const (
	chainIDOffset      = 0
	preStateHashOffset = 32
	gasLimitOffset     = 64
	witnessSizeOffset  = 72
	withdrawalsOffset  = 74
	coinbaseOffset     = 76
	blockNumberOffset  = 96
	gasPriceOffset     = 104
	timestampOffset    = 112
	headerSize         = 120

	targetStaticSize = 20 + 32 + 4 // to ++ value ++ dataLen
)

// ExecuteRequest is the decoded form of EXECUTE precompile calldata.
type ExecuteRequest struct {
	ChainID      *big.Int
	PreStateHash common.Hash
	GasLimit     uint64
	Coinbase     common.Address
	BlockNumber  uint64
	GasPrice     uint64
	Timestamp    uint64

	// Witness is the RLP-encoded execution witness. It is opaque to the
	// gateway and forwarded uninterpreted.
	Witness     []byte
	Withdrawals []byte
	BlobHashes  []common.Hash

	Target ExecuteTarget
}

// ExecuteTarget is the call the execution oracle should perform.
type ExecuteTarget struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// Encode serializes the request into the fixed wire layout. Multi-byte header
// integers other than the chain ID are little-endian.
func (r *ExecuteRequest) Encode() ([]byte, error) {
	if r.ChainID == nil || r.ChainID.Sign() < 0 || r.ChainID.BitLen() > 256 {
		return nil, fmt.Errorf("chain id out of range")
	}
	if len(r.Witness) > 0xffff {
		return nil, fmt.Errorf("witness too large: %d bytes", len(r.Witness))
	}
	if len(r.Withdrawals) > 0xffff {
		return nil, fmt.Errorf("withdrawals too large: %d bytes", len(r.Withdrawals))
	}
	if len(r.BlobHashes) > 0xff {
		return nil, fmt.Errorf("too many blob hashes: %d", len(r.BlobHashes))
	}

	size := headerSize + len(r.Witness) + len(r.Withdrawals) + 1 + 32*len(r.BlobHashes) + targetStaticSize + len(r.Target.Data)
	out := make([]byte, headerSize, size)

	r.ChainID.FillBytes(out[chainIDOffset : chainIDOffset+32])
	copy(out[preStateHashOffset:], r.PreStateHash[:])
	binary.LittleEndian.PutUint64(out[gasLimitOffset:], r.GasLimit)
	binary.LittleEndian.PutUint16(out[witnessSizeOffset:], uint16(len(r.Witness)))
	binary.LittleEndian.PutUint16(out[withdrawalsOffset:], uint16(len(r.Withdrawals)))
	copy(out[coinbaseOffset:], r.Coinbase[:])
	binary.LittleEndian.PutUint64(out[blockNumberOffset:], r.BlockNumber)
	binary.LittleEndian.PutUint64(out[gasPriceOffset:], r.GasPrice)
	binary.LittleEndian.PutUint64(out[timestampOffset:], r.Timestamp)

	out = append(out, r.Witness...)
	out = append(out, r.Withdrawals...)
	out = append(out, byte(len(r.BlobHashes)))
	for _, h := range r.BlobHashes {
		out = append(out, h[:]...)
	}

	out = append(out, r.Target.To[:]...)
	var value [32]byte
	if r.Target.Value != nil {
		if r.Target.Value.Sign() < 0 || r.Target.Value.BitLen() > 256 {
			return nil, fmt.Errorf("target value out of range")
		}
		r.Target.Value.FillBytes(value[:])
	}
	out = append(out, value[:]...)
	var dataLen [4]byte
	binary.LittleEndian.PutUint32(dataLen[:], uint32(len(r.Target.Data)))
	out = append(out, dataLen[:]...)
	out = append(out, r.Target.Data...)
	return out, nil
}

// DecodeExecuteRequest parses raw EXECUTE calldata.
func DecodeExecuteRequest(data []byte) (*ExecuteRequest, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("request too short: %d bytes, need %d byte header", len(data), headerSize)
	}
	r := &ExecuteRequest{
		ChainID:     new(big.Int).SetBytes(data[chainIDOffset : chainIDOffset+32]),
		GasLimit:    binary.LittleEndian.Uint64(data[gasLimitOffset:]),
		BlockNumber: binary.LittleEndian.Uint64(data[blockNumberOffset:]),
		GasPrice:    binary.LittleEndian.Uint64(data[gasPriceOffset:]),
		Timestamp:   binary.LittleEndian.Uint64(data[timestampOffset:]),
	}
	copy(r.PreStateHash[:], data[preStateHashOffset:])
	copy(r.Coinbase[:], data[coinbaseOffset:])

	witnessSize := int(binary.LittleEndian.Uint16(data[witnessSizeOffset:]))
	withdrawalsSize := int(binary.LittleEndian.Uint16(data[withdrawalsOffset:]))

	rest := data[headerSize:]
	if len(rest) < witnessSize+withdrawalsSize+1 {
		return nil, fmt.Errorf("request truncated inside witness segments")
	}
	r.Witness = append([]byte{}, rest[:witnessSize]...)
	rest = rest[witnessSize:]
	r.Withdrawals = append([]byte{}, rest[:withdrawalsSize]...)
	rest = rest[withdrawalsSize:]

	blobCount := int(rest[0])
	rest = rest[1:]
	if len(rest) < 32*blobCount {
		return nil, fmt.Errorf("request truncated inside blob hash list")
	}
	for i := 0; i < blobCount; i++ {
		r.BlobHashes = append(r.BlobHashes, common.BytesToHash(rest[:32]))
		rest = rest[32:]
	}

	if len(rest) < targetStaticSize {
		return nil, fmt.Errorf("request truncated inside target call")
	}
	copy(r.Target.To[:], rest[:20])
	r.Target.Value = new(big.Int).SetBytes(rest[20:52])
	dataLen := binary.LittleEndian.Uint32(rest[52:56])
	rest = rest[56:]
	// Compare before converting: int(dataLen) can go negative on 32-bit
	// platforms and defeat the bounds check.
	if uint64(len(rest)) < uint64(dataLen) {
		return nil, fmt.Errorf("target data truncated: have %d bytes, want %d", len(rest), dataLen)
	}
	r.Target.Data = append([]byte{}, rest[:dataLen]...)
	return r, nil
}
