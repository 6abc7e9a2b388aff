package form

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"donation-service/internal/validator"
)

func newTestResolver(t *testing.T) *AmountResolver {
	t.Helper()
	schema, err := DefaultSchema()
	require.NoError(t, err)
	return NewAmountResolver(schema.Amount)
}

func TestAmountResolver_Presets(t *testing.T) {
	r := newTestResolver(t)

	tests := []struct {
		option string
		want   int
	}{
		{"1,000 円", 1000},
		{"3,000 円", 3000},
		{"5,000 円", 5000},
		{"10,000 円", 10000},
	}
	for _, tt := range tests {
		t.Run(tt.option, func(t *testing.T) {
			got, err := r.Resolve(tt.option, 999999)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAmountResolver_Custom(t *testing.T) {
	r := newTestResolver(t)

	for _, custom := range []int{7000, 3000, 1} {
		got, err := r.Resolve("金額は自分で入力する", custom)
		require.NoError(t, err)
		assert.Equal(t, custom, got)
	}
	assert.True(t, r.IsCustom("金額は自分で入力する"))
	assert.False(t, r.IsCustom("3,000 円"))
}

func TestAmountResolver_UnknownOption(t *testing.T) {
	r := newTestResolver(t)

	_, err := r.Resolve("2,000 円", 3000)
	var vErr *validator.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "amount_option", vErr.Field)
	assert.ErrorIs(t, err, validator.ErrUnknownAmountOption)
}

func TestParsePresetLabel(t *testing.T) {
	tests := []struct {
		label   string
		want    int
		wantErr bool
	}{
		{"3,000円", 3000, false},
		{"3,000 円", 3000, false},
		{"10,000", 10000, false},
		{" 1,000 円 ", 1000, false},
		{"円", 0, true},
		{"free", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, err := parsePresetLabel(tt.label)
			if tt.wantErr {
				assert.ErrorIs(t, err, validator.ErrUnknownAmountOption)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
