package aescbc

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// HexPrefix marks a key or iv value given as hex digits instead of ASCII.
const HexPrefix = "hex:"

// KeyMaterial is the key/iv pair handed over by device binding.
type KeyMaterial struct {
	Key []byte
	IV  []byte
}

func (k KeyMaterial) Validate() error {
	if len(k.Key) != KeySize {
		return fmt.Errorf("%w (got %d)", ErrInvalidKeyLength, len(k.Key))
	}
	if len(k.IV) != KeySize {
		return fmt.Errorf("%w (got %d)", ErrInvalidIVLength, len(k.IV))
	}
	return nil
}

func (k KeyMaterial) Clone() KeyMaterial {
	return KeyMaterial{
		Key: append([]byte(nil), k.Key...),
		IV:  append([]byte(nil), k.IV...),
	}
}

// ParseKeyMaterial accepts each value as 16 ASCII bytes or "hex:" followed by 32 hex digits.
func ParseKeyMaterial(key, iv string) (KeyMaterial, error) {
	k, err := parseKeyValue(key)
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("key: %w", err)
	}
	v, err := parseKeyValue(iv)
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("iv: %w", err)
	}
	km := KeyMaterial{Key: k, IV: v}
	if err := km.Validate(); err != nil {
		return KeyMaterial{}, err
	}
	return km, nil
}

func parseKeyValue(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, HexPrefix) {
		return []byte(raw), nil
	}
	return DecodeHex(strings.TrimPrefix(raw, HexPrefix))
}

// DecodeHex decodes an even-length hex string; empty input yields an empty slice.
func DecodeHex(s string) ([]byte, error) {
	if s == "" {
		return []byte{}, nil
	}
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("%w: hex string length must be even", ErrConfiguration)
	}
	out, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return out, nil
}
