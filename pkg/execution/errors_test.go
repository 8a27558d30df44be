package execution

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesByKind(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("failed to approve: %w", NewError(KindBroadcast, "send transaction", cause))

	assert.ErrorIs(t, err, ErrBroadcast)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrSigning)
	assert.Equal(t, KindBroadcast, KindOf(err))
	assert.Equal(t, "failed to approve: [BROADCAST] send transaction: connection refused", err.Error())
}

func TestServiceError(t *testing.T) {
	err := &ServiceError{StatusCode: 400, Body: `{"reason":"INSUFFICIENT_ASSET_LIQUIDITY"}`}

	assert.ErrorIs(t, err, ErrService)
	assert.Equal(t, KindService, KindOf(err))
	assert.Contains(t, err.Error(), `{"reason":"INSUFFICIENT_ASSET_LIQUIDITY"}`)

	unreachable := &ServiceError{Err: errors.New("dial tcp: timeout")}
	assert.Equal(t, "quote service unreachable: dial tcp: timeout", unreachable.Error())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
}

func TestIsGasShortfall(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"structured", GasShortfall("send", errors.New("node said no")), true},
		{"out of gas", errors.New("execution reverted: out of gas"), true},
		{"gas limit", errors.New("transaction exceeds gas limit"), true},
		{"block gas limit", errors.New("exceeds block gas limit"), false},
		{"intrinsic", errors.New("intrinsic gas too low"), true},
		{"upper case", errors.New("UNPREDICTABLE_GAS_LIMIT"), true},
		{"nonce", errors.New("nonce too low"), false},
		{"funds", errors.New("insufficient funds for transfer"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsGasShortfall(tt.err))
		})
	}
}
