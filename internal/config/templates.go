package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/doorlink/internal/doorbell"
)

// KeysFile is the key file layout read by doorbell.LoadKeyFile.
type KeysFile struct {
	Key string `toml:"key"`
	IV  string `toml:"iv"`
}

// DefaultFile is the config written by `config init`.
func DefaultFile() File {
	d := doorbell.DefaultServiceConfig()
	greeting := d.Greeting
	nodelay := d.Link.NoDelay
	nocwnd := d.Link.NoCongestion
	jitter := d.StartBackoff.Jitter
	return File{
		Device: DeviceConfig{Address: "192.168.1.20", Port: d.Endpoint.Port, ConnID: 1234},
		Keys:   KeysConfig{File: "keys.toml"},
		Session: SessionConfig{
			TickInterval:       d.Session.TickInterval.String(),
			StopTimeout:        d.Session.StopTimeout.String(),
			RecordBuffer:       d.Session.RecordBuffer,
			MaxReceivesPerTick: d.Session.MaxReceivesPerTick,
			Outbound:           string(d.Session.Outbound),
		},
		Link: LinkConfig{
			LocalAddr:    d.Link.LocalAddr,
			NoDelay:      &nodelay,
			Interval:     d.Link.Interval,
			Resend:       d.Link.Resend,
			NoCongestion: &nocwnd,
			SendWindow:   d.Link.SendWindow,
			RecvWindow:   d.Link.RecvWindow,
			MTU:          d.Link.MTU,
		},
		Service: ServiceConfig{
			HeartbeatInterval: d.HeartbeatInterval.String(),
			RecordHistory:     d.RecordHistory,
			Greeting:          &greeting,
			Backoff: BackoffConfig{
				InitialDelay: d.StartBackoff.InitialDelay.String(),
				Multiplier:   d.StartBackoff.Multiplier,
				MaxDelay:     d.StartBackoff.MaxDelay.String(),
				Jitter:       &jitter,
			},
		},
		Admin: AdminConfig{ListenAddr: "127.0.0.1:9300", CorsOrigins: []string{"http://localhost:3000"}},
	}
}

func Template(kind string) (string, error) {
	var v any
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "doorlink", "":
		v = DefaultFile()
	case "keys":
		v = KeysFile{Key: "0123456789abcdef", IV: "hex:00000000000000000000000000000000"}
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(v); err != nil {
		return "", fmt.Errorf("render %s template: %w", kind, err)
	}
	return buf.String(), nil
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
