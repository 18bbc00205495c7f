package main

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/danmuck/doorlink/internal/crypto/aescbc"
	"github.com/danmuck/doorlink/internal/protocol/frame"
	"github.com/spf13/cobra"
)

type keyFlags struct {
	key string
	iv  string
}

func (k *keyFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&k.key, "key", "", `16-byte key, ASCII or "hex:" + 32 hex digits`)
	cmd.Flags().StringVar(&k.iv, "iv", "", `16-byte IV, ASCII or "hex:" + 32 hex digits`)
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("iv")
}

func (k *keyFlags) material() (aescbc.KeyMaterial, error) {
	return aescbc.ParseKeyMaterial(k.key, k.iv)
}

func newDecryptCmd() *cobra.Command {
	var (
		keys    keyFlags
		b64     string
		hexText string
		asFrame bool
	)
	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt one ciphertext or sealed frame",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			km, err := keys.material()
			if err != nil {
				return err
			}
			ciphertext, err := readCiphertext(b64, hexText)
			if err != nil {
				return err
			}
			var text string
			if asFrame {
				text, err = frame.OpenRecord(ciphertext, km)
			} else {
				text, err = aescbc.DecryptString(ciphertext, km.Key, km.IV)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	keys.bind(cmd)
	cmd.Flags().StringVar(&b64, "base64", "", "ciphertext as standard Base64")
	cmd.Flags().StringVar(&hexText, "hex", "", "ciphertext as hex")
	cmd.Flags().BoolVar(&asFrame, "frame", false, "input is a sealed frame; strip NUL fill")
	cmd.MarkFlagsMutuallyExclusive("base64", "hex")
	cmd.MarkFlagsOneRequired("base64", "hex")
	return cmd
}

func readCiphertext(b64, hexText string) ([]byte, error) {
	if b64 != "" {
		out, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", aescbc.ErrBase64Decode, err)
		}
		return out, nil
	}
	out, err := hex.DecodeString(strings.TrimSpace(hexText))
	if err != nil {
		return nil, fmt.Errorf("decode hex ciphertext: %w", err)
	}
	return out, nil
}

func newEncryptCmd() *cobra.Command {
	var (
		keys    keyFlags
		text    string
		asFrame bool
		format  string
	)
	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt text, optionally sealed into one frame",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			km, err := keys.material()
			if err != nil {
				return err
			}
			var out []byte
			if asFrame {
				out, err = frame.SealRecord(text, km, frame.Size)
			} else {
				out, err = aescbc.Encrypt([]byte(text), km.Key, km.IV)
			}
			if err != nil {
				return err
			}
			switch strings.ToLower(format) {
			case "base64":
				fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(out))
			case "hex":
				fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(out))
			default:
				return fmt.Errorf("unknown format %q (base64|hex)", format)
			}
			return nil
		},
	}
	keys.bind(cmd)
	cmd.Flags().StringVar(&text, "text", "", "plaintext to encrypt")
	cmd.Flags().BoolVar(&asFrame, "frame", false, "seal into one fixed-size frame")
	cmd.Flags().StringVar(&format, "format", "base64", "output encoding: base64|hex")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}
