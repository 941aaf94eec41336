package decoder

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paddedTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func swapData(w0, w1, w2, w3 *big.Int) []byte {
	data := make([]byte, 128)
	w0.FillBytes(data[0:32])
	w1.FillBytes(data[32:64])
	w2.FillBytes(data[64:96])
	w3.FillBytes(data[96:128])
	return data
}

func validLog() types.Log {
	return types.Log{
		Address:     common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"),
		Topics:      []common.Hash{SwapTopic, paddedTopic(common.HexToAddress("0xAA00000000000000000000000000000000000001")), paddedTopic(common.HexToAddress("0xBB00000000000000000000000000000000000002"))},
		Data:        swapData(big.NewInt(1000), big.NewInt(0), big.NewInt(0), big.NewInt(997)),
		BlockNumber: 19_000_000,
		TxHash:      common.HexToHash("0x01"),
		Index:       7,
	}
}

func TestSwapTopicConstant(t *testing.T) {
	// Known Uniswap V2 Swap signature hash.
	want := common.HexToHash("0xd78ad95fa46c994b6551d0da85fc275fe613ce37657fb8d5e3d130840159d822")
	assert.Equal(t, want, SwapTopic)
}

func TestDecode_MapsWordsInFixedOrder(t *testing.T) {
	w0 := big.NewInt(111)
	w1 := big.NewInt(222)
	w2 := big.NewInt(333)
	w3 := big.NewInt(444)

	raw := validLog()
	raw.Data = swapData(w0, w1, w2, w3)

	trade, err := Decode(raw, Context{Timestamp: 1700000000, GasPrice: 30_000_000_000, GasUsed: 120_000})
	require.NoError(t, err)

	assert.Equal(t, 0, trade.Amount0In.Cmp(w0))
	assert.Equal(t, 0, trade.Amount1In.Cmp(w1))
	assert.Equal(t, 0, trade.Amount0Out.Cmp(w2))
	assert.Equal(t, 0, trade.Amount1Out.Cmp(w3))
	assert.Equal(t, uint64(19_000_000), trade.BlockNumber)
	assert.Equal(t, uint32(7), trade.LogIndex)
	assert.Equal(t, raw.Address, trade.PairAddress)
	assert.Equal(t, uint64(1700000000), trade.Timestamp)
	assert.Equal(t, uint64(30_000_000_000), trade.GasPrice)
	assert.Equal(t, uint64(120_000), trade.GasUsed)
}

func TestDecode_ExtractsLow20BytesOfIndexedTopics(t *testing.T) {
	sender := common.HexToAddress("0xAA00000000000000000000000000000000000001")
	to := common.HexToAddress("0xBB00000000000000000000000000000000000002")

	trade, err := Decode(validLog(), Context{})
	require.NoError(t, err)
	assert.Equal(t, sender, trade.Sender)
	assert.Equal(t, to, trade.To)
}

func TestDecode_FullWordAmounts(t *testing.T) {
	// Max uint256 survives the round trip without sign interpretation.
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	raw := validLog()
	raw.Data = swapData(max, big.NewInt(0), big.NewInt(0), max)

	trade, err := Decode(raw, Context{})
	require.NoError(t, err)
	assert.Equal(t, 0, trade.Amount0In.Cmp(max))
	assert.Equal(t, 0, trade.Amount1Out.Cmp(max))
	assert.Equal(t, 1, trade.Amount0In.Sign())
}

func TestDecode_RejectsWrongPayloadLength(t *testing.T) {
	for _, n := range []int{0, 64, 127, 129, 160} {
		raw := validLog()
		raw.Data = make([]byte, n)

		_, err := Decode(raw, Context{})
		var decErr *DecodeError
		require.ErrorAs(t, err, &decErr, "payload of %d bytes must fail", n)
	}
}

func TestDecode_RejectsWrongTopic0(t *testing.T) {
	raw := validLog()
	raw.Topics[0] = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef") // Transfer

	_, err := Decode(raw, Context{})
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
}

func TestDecode_RejectsWrongTopicCount(t *testing.T) {
	raw := validLog()
	raw.Topics = raw.Topics[:2]

	_, err := Decode(raw, Context{})
	var decErr *DecodeError
	require.True(t, errors.As(err, &decErr))
	assert.Contains(t, decErr.Reason, "topics")
}
