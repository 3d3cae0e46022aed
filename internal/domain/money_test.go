package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want int64
		err  error
	}{
		{name: "integer", raw: `500000`, want: 500000},
		{name: "fraction_floored", raw: `1999.99`, want: 1999},
		{name: "numeric_string", raw: `"250000"`, want: 250000},
		{name: "thirteen_digits", raw: `9999999999999`, want: 9999999999999},
		{name: "fourteen_digits", raw: `10000000000000`, err: ErrAmountTooLarge},
		{name: "zero", raw: `0`, err: ErrAmountNotPos},
		{name: "below_one_floors_to_zero", raw: `0.5`, err: ErrAmountNotPos},
		{name: "negative", raw: `-10`, err: ErrAmountNotPos},
		{name: "text", raw: `"abc"`, err: ErrAmountInvalid},
		{name: "missing", raw: ``, err: ErrAmountRequired},
		{name: "null", raw: `null`, err: ErrAmountRequired},
		{name: "empty_string", raw: `""`, err: ErrAmountRequired},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseAmount(json.RawMessage(tc.raw))
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusCanceled))
	assert.True(t, CanTransition(StatusProcessing, StatusCompleted))
	assert.False(t, CanTransition(StatusCompleted, StatusCanceled))
	assert.False(t, CanTransition(StatusCanceled, StatusPending))
	assert.True(t, IsTerminal(StatusFailed))
	assert.False(t, IsTerminal(StatusPending))
	assert.Equal(t, StatusPending, InitialStatus(KindWithdraw))
	assert.Equal(t, StatusProcessing, InitialStatus(KindDeposit))
}
