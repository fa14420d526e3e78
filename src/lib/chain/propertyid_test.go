package chain

import (
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePropertyIDNumericAndHexAgree(t *testing.T) {
	dec, err := ParsePropertyID("42")
	require.NoError(t, err)
	hex, err := ParsePropertyID(" 0x2A ")
	require.NoError(t, err)

	assert.Equal(t, Numeric, dec.Kind())
	assert.Equal(t, Hex, hex.Kind())
	assert.Equal(t, "42", dec.Canonical())
	assert.Equal(t, dec.Canonical(), hex.Canonical())
	assert.Equal(t, 0, dec.Big().Cmp(hex.Big()))
	assert.Equal(t, "0x2A", hex.Raw())
}

func TestParsePropertyIDUpperCasePrefixIsHex(t *testing.T) {
	id, err := ParsePropertyID("0X2A")
	require.NoError(t, err)
	assert.Equal(t, Hex, id.Kind())
	assert.Equal(t, "42", id.Canonical())
	assert.Equal(t, "0X2A", id.Raw())
}

func TestParsePropertyIDOpaqueIsHashed(t *testing.T) {
	a, err := ParsePropertyID("65f0c0ffee")
	require.NoError(t, err)
	b, err := ParsePropertyID("65f0c0ffee")
	require.NoError(t, err)

	assert.Equal(t, OpaqueHashed, a.Kind())
	assert.Equal(t, a.Canonical(), b.Canonical())

	want := crypto.Keccak256Hash([]byte("65f0c0ffee")).Big()
	assert.Equal(t, 0, a.Big().Cmp(want))

	other, err := ParsePropertyID("65f0c0ffef")
	require.NoError(t, err)
	assert.NotEqual(t, a.Canonical(), other.Canonical())
}

func TestParsePropertyIDRejects(t *testing.T) {
	cases := map[string]string{
		"empty":         "   ",
		"decimal 2^256": "115792089237316195423570985008687907853269984665640564039457584007913129639936",
		"hex 257 bits":  "0x1" + strings.Repeat("0", 64),
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePropertyID(input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidInput))
		})
	}
}

func TestParsePropertyIDMaxValueFits(t *testing.T) {
	id, err := ParsePropertyID("0x" + strings.Repeat("f", 64))
	require.NoError(t, err)
	assert.Equal(t, 256, id.Big().BitLen())
}

func TestParseTokenID(t *testing.T) {
	v, err := ParseTokenID("17")
	require.NoError(t, err)
	assert.Equal(t, int64(17), v.Int64())

	for _, bad := range []string{"", "-1", "0x11", "abc"} {
		_, err := ParseTokenID(bad)
		assert.ErrorIs(t, err, ErrInvalidInput, bad)
	}
}
