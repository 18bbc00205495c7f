package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/doorlink/internal/protocol/session"
	"github.com/pelletier/go-toml/v2"
)

// File is the doorlink.toml layout. Durations are Go duration strings.
type File struct {
	Device  DeviceConfig  `toml:"device"`
	Keys    KeysConfig    `toml:"keys"`
	Session SessionConfig `toml:"session"`
	Link    LinkConfig    `toml:"link"`
	Service ServiceConfig `toml:"service"`
	Admin   AdminConfig   `toml:"admin"`
}

type DeviceConfig struct {
	Address string `toml:"address"`
	Port    int    `toml:"port"`
	ConnID  uint32 `toml:"conn_id"`
}

type KeysConfig struct {
	Key  string `toml:"key,omitempty"`
	IV   string `toml:"iv,omitempty"`
	File string `toml:"file,omitempty"`
}

type SessionConfig struct {
	TickInterval       string `toml:"tick_interval,omitempty"`
	StopTimeout        string `toml:"stop_timeout,omitempty"`
	RecordBuffer       int    `toml:"record_buffer,omitempty"`
	MaxReceivesPerTick int    `toml:"max_receives_per_tick,omitempty"`
	Outbound           string `toml:"outbound,omitempty"`
}

type LinkConfig struct {
	LocalAddr    string `toml:"local_addr,omitempty"`
	NoDelay      *bool  `toml:"nodelay,omitempty"`
	Interval     int    `toml:"interval,omitempty"`
	Resend       int    `toml:"resend,omitempty"`
	NoCongestion *bool  `toml:"no_congestion,omitempty"`
	SendWindow   int    `toml:"send_window,omitempty"`
	RecvWindow   int    `toml:"recv_window,omitempty"`
	MTU          int    `toml:"mtu,omitempty"`
}

type ServiceConfig struct {
	HeartbeatInterval string        `toml:"heartbeat_interval,omitempty"`
	RecordHistory     int           `toml:"record_history,omitempty"`
	MaxStartAttempts  int           `toml:"max_start_attempts,omitempty"`
	Greeting          *string       `toml:"greeting,omitempty"`
	Backoff           BackoffConfig `toml:"backoff"`
}

type BackoffConfig struct {
	InitialDelay string  `toml:"initial_delay,omitempty"`
	Multiplier   float64 `toml:"multiplier,omitempty"`
	MaxDelay     string  `toml:"max_delay,omitempty"`
	Jitter       *bool   `toml:"jitter,omitempty"`
}

type AdminConfig struct {
	ListenAddr  string   `toml:"listen_addr,omitempty"`
	CorsOrigins []string `toml:"cors_origins,omitempty"`
}

func Load(path string) (File, error) {
	var cfg File
	if err := loadToml(path, &cfg); err != nil {
		return File{}, err
	}
	if err := Validate(cfg); err != nil {
		return File{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func Validate(cfg File) error {
	if strings.TrimSpace(cfg.Device.Address) == "" {
		return fmt.Errorf("device address is required")
	}
	if cfg.Device.Port <= 0 || cfg.Device.Port > 65535 {
		return fmt.Errorf("device port %d out of range", cfg.Device.Port)
	}
	if err := validateKeys(cfg.Keys); err != nil {
		return err
	}
	durations := map[string]string{
		"session.tick_interval":         cfg.Session.TickInterval,
		"session.stop_timeout":          cfg.Session.StopTimeout,
		"service.heartbeat_interval":    cfg.Service.HeartbeatInterval,
		"service.backoff.initial_delay": cfg.Service.Backoff.InitialDelay,
		"service.backoff.max_delay":     cfg.Service.Backoff.MaxDelay,
	}
	for field, raw := range durations {
		if _, err := parseDuration(raw); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}
	if _, err := session.ParseOutbound(cfg.Session.Outbound); err != nil {
		return fmt.Errorf("session.outbound: %w", err)
	}
	if cfg.Service.MaxStartAttempts < 0 {
		return fmt.Errorf("service.max_start_attempts must be >= 0")
	}
	return nil
}

func validateKeys(k KeysConfig) error {
	if strings.TrimSpace(k.File) != "" {
		return nil
	}
	if strings.TrimSpace(k.Key) == "" || strings.TrimSpace(k.IV) == "" {
		return fmt.Errorf("keys: set file or both key and iv")
	}
	return nil
}

// parseDuration treats an empty string as unset.
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return d, nil
}
