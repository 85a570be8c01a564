package models

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokens(t *testing.T) {
	assert.Equal(t, "100000000000000000000", Tokens(100).String())
	assert.True(t, Tokens(0).IsZero())
}

func TestParseAmount(t *testing.T) {
	a, err := ParseAmount("1500")
	require.NoError(t, err)
	assert.Equal(t, 0, a.Cmp(NewAmount(1500)))

	_, err = ParseAmount("-1")
	assert.Error(t, err)
	_, err = ParseAmount("1.5")
	assert.Error(t, err)
}

func TestAmountArithmetic(t *testing.T) {
	sum, ok := NewAmount(7).Add(NewAmount(3))
	require.True(t, ok)
	assert.Equal(t, "10", sum.String())

	diff, ok := NewAmount(7).Sub(NewAmount(3))
	require.True(t, ok)
	assert.Equal(t, "4", diff.String())

	_, ok = NewAmount(3).Sub(NewAmount(7))
	assert.False(t, ok, "underflow")

	max := Amount(*new(uint256.Int).SetAllOne())
	_, ok = max.Add(NewAmount(1))
	assert.False(t, ok, "overflow")
}

func TestAmountScanValue(t *testing.T) {
	v, err := Tokens(2).Value()
	require.NoError(t, err)
	assert.Equal(t, "2000000000000000000", v)

	var a Amount
	require.NoError(t, a.Scan("2000000000000000000"))
	assert.Equal(t, 0, a.Cmp(Tokens(2)))

	require.NoError(t, a.Scan([]byte("42")))
	assert.Equal(t, "42", a.String())

	require.NoError(t, a.Scan(int64(9)))
	assert.Equal(t, "9", a.String())

	require.NoError(t, a.Scan(nil))
	assert.True(t, a.IsZero())

	assert.Error(t, a.Scan(int64(-1)))
	assert.Error(t, a.Scan(3.5))
}

func TestAmountText(t *testing.T) {
	b, err := NewAmount(12).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "12", string(b))

	var a Amount
	require.NoError(t, a.UnmarshalText([]byte("12")))
	assert.Equal(t, 0, a.Cmp(NewAmount(12)))
	assert.Error(t, a.UnmarshalText([]byte("twelve")))
}
