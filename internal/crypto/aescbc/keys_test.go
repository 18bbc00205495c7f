package aescbc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseKeyMaterialASCII(t *testing.T) {
	km, err := ParseKeyMaterial("VQikblIrZXQ42Hng", " 2FfVKcscXpylGLGT ")
	require.NoError(t, err)
	require.Equal(t, []byte("VQikblIrZXQ42Hng"), km.Key)
	require.Equal(t, []byte("2FfVKcscXpylGLGT"), km.IV)
}

func TestParseKeyMaterialHex(t *testing.T) {
	km, err := ParseKeyMaterial("hex:000102030405060708090a0b0c0d0e0f", "hex:FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFF")
	require.NoError(t, err)
	require.Equal(t, byte(0x0f), km.Key[15])
	require.Equal(t, byte(0xff), km.IV[0])
}

func TestParseKeyMaterialRejectsBadInput(t *testing.T) {
	_, err := ParseKeyMaterial("short", "2FfVKcscXpylGLGT")
	require.ErrorIs(t, err, ErrInvalidKeyLength)

	_, err = ParseKeyMaterial("VQikblIrZXQ42Hng", "2FfVKcscXpylGLGTx")
	require.ErrorIs(t, err, ErrInvalidIVLength)

	_, err = ParseKeyMaterial("hex:abc", "2FfVKcscXpylGLGT")
	require.ErrorIs(t, err, ErrConfiguration)

	_, err = ParseKeyMaterial("hex:zz0102030405060708090a0b0c0d0e0f", "2FfVKcscXpylGLGT")
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestDecodeHex(t *testing.T) {
	out, err := DecodeHex("")
	require.NoError(t, err)
	require.Empty(t, out)

	out, err = DecodeHex("B0E9FE8B3D0C")
	require.NoError(t, err)
	require.Equal(t, []byte{0xB0, 0xE9, 0xFE, 0x8B, 0x3D, 0x0C}, out)

	_, err = DecodeHex("B0E")
	require.Error(t, err)
}

func TestKeyMaterialCloneIsIndependent(t *testing.T) {
	km, err := ParseKeyMaterial("VQikblIrZXQ42Hng", "2FfVKcscXpylGLGT")
	require.NoError(t, err)
	c := km.Clone()
	c.Key[0] = 'x'
	require.Equal(t, byte('V'), km.Key[0])
	require.NoError(t, c.Validate())
}
