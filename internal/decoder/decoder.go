// Package decoder turns raw Uniswap V2 Swap logs into typed trade records.
// It is purely computational; all chain context arrives as arguments.
package decoder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/kjannette/defi-pipeline/internal/models"
)

// SwapTopic is the topic0 of Uniswap V2 Swap events:
// keccak256("Swap(address,uint256,uint256,uint256,uint256,address)") =
// 0xd78ad95fa46c994b6551d0da85fc275fe613ce37657fb8d5e3d130840159d822.
var SwapTopic = crypto.Keccak256Hash([]byte("Swap(address,uint256,uint256,uint256,uint256,address)"))

const (
	wordSize    = 32
	swapTopics  = 3              // signature, sender, to
	swapDataLen = 4 * wordSize   // amount0In, amount1In, amount0Out, amount1Out
)

// DecodeError is a malformed log payload or unexpected topic layout. The
// scanner skips the offending log; it never aborts a batch.
type DecodeError struct {
	TxHash   common.Hash
	LogIndex uint
	Reason   string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode swap log %s[%d]: %s", e.TxHash.Hex(), e.LogIndex, e.Reason)
}

// Context is the block/transaction/receipt context of a single log.
type Context struct {
	Timestamp uint64 // block timestamp, seconds
	GasPrice  uint64
	GasUsed   uint64
}

// Decode validates and decodes one raw swap log. The data payload must be
// exactly four 32-byte big-endian unsigned words in fixed order. Amounts are
// stored exactly as decoded; AMM-invariant anomalies are left to downstream
// analysis.
func Decode(raw types.Log, logCtx Context) (*models.Trade, error) {
	if len(raw.Topics) != swapTopics {
		return nil, &DecodeError{
			TxHash:   raw.TxHash,
			LogIndex: raw.Index,
			Reason:   fmt.Sprintf("expected %d topics, got %d", swapTopics, len(raw.Topics)),
		}
	}
	if raw.Topics[0] != SwapTopic {
		return nil, &DecodeError{
			TxHash:   raw.TxHash,
			LogIndex: raw.Index,
			Reason:   fmt.Sprintf("topic0 %s is not the Swap signature", raw.Topics[0].Hex()),
		}
	}
	if len(raw.Data) != swapDataLen {
		return nil, &DecodeError{
			TxHash:   raw.TxHash,
			LogIndex: raw.Index,
			Reason:   fmt.Sprintf("expected %d-byte data payload, got %d", swapDataLen, len(raw.Data)),
		}
	}

	return &models.Trade{
		BlockNumber: raw.BlockNumber,
		TxHash:      raw.TxHash,
		LogIndex:    uint32(raw.Index),
		PairAddress: raw.Address,
		// Indexed addresses are left-padded to 32 bytes; take the low 20.
		Sender:     common.BytesToAddress(raw.Topics[1].Bytes()),
		To:         common.BytesToAddress(raw.Topics[2].Bytes()),
		Amount0In:  word(raw.Data, 0),
		Amount1In:  word(raw.Data, 1),
		Amount0Out: word(raw.Data, 2),
		Amount1Out: word(raw.Data, 3),
		Timestamp:  logCtx.Timestamp,
		GasPrice:   logCtx.GasPrice,
		GasUsed:    logCtx.GasUsed,
	}, nil
}

func word(data []byte, i int) *big.Int {
	return new(big.Int).SetBytes(data[i*wordSize : (i+1)*wordSize])
}
