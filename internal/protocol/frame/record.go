package frame

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/danmuck/doorlink/internal/crypto/aescbc"
)

var ErrRecordTooLarge = errors.New("frame: record too large for frame")

// RecordCapacity is the longest record text that seals into one frame of the
// given size. Text is NUL-filled to size-1 bytes so PKCS#7 adds exactly one.
func RecordCapacity(size int) int {
	return size - 1
}

// SealRecord encrypts text into exactly one frame of the given size.
func SealRecord(text string, km aescbc.KeyMaterial, size int) ([]byte, error) {
	if size <= 0 || size%aescbc.BlockSize != 0 {
		return nil, fmt.Errorf("%w: %d is not a positive multiple of %d", ErrFrameSize, size, aescbc.BlockSize)
	}
	capacity := RecordCapacity(size)
	if len(text) > capacity {
		return nil, fmt.Errorf("%w: %d bytes, capacity %d", ErrRecordTooLarge, len(text), capacity)
	}
	plain := make([]byte, capacity)
	copy(plain, text)
	return aescbc.Encrypt(plain, km.Key, km.IV)
}

// OpenRecord decrypts one frame and strips the trailing NUL fill.
func OpenRecord(f []byte, km aescbc.KeyMaterial) (string, error) {
	if len(f) == 0 || len(f)%aescbc.BlockSize != 0 {
		return "", fmt.Errorf("%w: %w: length %d", aescbc.ErrDecode, ErrFrameSize, len(f))
	}
	plain, err := aescbc.DecryptString(f, km.Key, km.IV)
	if err != nil {
		return "", err
	}
	return string(bytes.TrimRight([]byte(plain), "\x00")), nil
}
