package aescbc

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	KeySize   = 16
	BlockSize = aes.BlockSize
)

var (
	ErrConfiguration    = errors.New("aescbc: configuration error")
	ErrInvalidKeyLength = fmt.Errorf("%w: key must be %d bytes", ErrConfiguration, KeySize)
	ErrInvalidIVLength  = fmt.Errorf("%w: iv must be %d bytes", ErrConfiguration, KeySize)

	ErrDecode       = errors.New("aescbc: decode error")
	ErrPadding      = fmt.Errorf("%w: bad pkcs7 padding", ErrDecode)
	ErrEncoding     = fmt.Errorf("%w: plaintext is not utf-8", ErrDecode)
	ErrBase64Decode = fmt.Errorf("%w: malformed base64", ErrDecode)
)

// Decrypt reverses AES-128-CBC with PKCS#7 padding and returns the unpadded plaintext.
func Decrypt(ciphertext, key, iv []byte) ([]byte, error) {
	block, err := newBlock(key, iv)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d", ErrPadding, len(ciphertext))
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return unpad(out)
}

// DecryptString is Decrypt with the plaintext checked and returned as UTF-8 text.
func DecryptString(ciphertext, key, iv []byte) (string, error) {
	plain, err := Decrypt(ciphertext, key, iv)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(plain) {
		return "", ErrEncoding
	}
	return string(plain), nil
}

// DecryptBase64 decodes standard unwrapped Base64 and decrypts the result.
func DecryptBase64(text string, key, iv []byte) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBase64Decode, err)
	}
	return DecryptString(raw, key, iv)
}

// Encrypt pads plaintext with PKCS#7 and encrypts it with AES-128-CBC.
func Encrypt(plaintext, key, iv []byte) ([]byte, error) {
	block, err := newBlock(key, iv)
	if err != nil {
		return nil, err
	}
	padded := pad(plaintext)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

func EncryptBase64(plaintext, key, iv []byte) (string, error) {
	ct, err := Encrypt(plaintext, key, iv)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

func newBlock(key, iv []byte) (cipher.Block, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidKeyLength, len(key))
	}
	if len(iv) != KeySize {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidIVLength, len(iv))
	}
	return aes.NewCipher(key)
}

func pad(in []byte) []byte {
	n := BlockSize - len(in)%BlockSize
	out := make([]byte, len(in), len(in)+n)
	copy(out, in)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(in []byte) ([]byte, error) {
	n := int(in[len(in)-1])
	if n == 0 || n > BlockSize || n > len(in) {
		return nil, fmt.Errorf("%w: pad byte %d", ErrPadding, n)
	}
	for _, b := range in[len(in)-n:] {
		if int(b) != n {
			return nil, ErrPadding
		}
	}
	return in[:len(in)-n], nil
}
