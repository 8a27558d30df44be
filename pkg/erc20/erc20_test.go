package erc20

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApproveRoundTrip(t *testing.T) {
	spender := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	data, err := PackApprove(spender, math.MaxBig256)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x09, 0x5e, 0xa7, 0xb3}, data[:4])
	assert.Len(t, data, 4+32+32)

	gotSpender, gotAmount, err := DecodeApprove(data)
	require.NoError(t, err)
	assert.Equal(t, spender, gotSpender)
	assert.Zero(t, gotAmount.Cmp(math.MaxBig256))
}

func TestDecodeApproveRejectsOtherCalls(t *testing.T) {
	data, err := PackBalanceOf(common.HexToAddress("0x01"))
	require.NoError(t, err)

	_, _, err = DecodeApprove(data)
	assert.ErrorContains(t, err, "balanceOf")

	_, _, err = DecodeApprove([]byte{0x01})
	assert.Error(t, err)
}

func TestUnpackUint256(t *testing.T) {
	out := common.LeftPadBytes(big.NewInt(1234).Bytes(), 32)

	v, err := UnpackUint256("allowance", out)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), v.Int64())

	_, err = UnpackUint256("allowance", nil)
	assert.Error(t, err)
}

func TestUnpackDecimals(t *testing.T) {
	out := common.LeftPadBytes([]byte{6}, 32)

	d, err := UnpackDecimals(out)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), d)
}
