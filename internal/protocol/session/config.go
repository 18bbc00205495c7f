package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/doorlink/internal/crypto/aescbc"
	"github.com/danmuck/doorlink/internal/protocol/frame"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
}

// Outbound selects how Send treats caller bytes.
type Outbound string

const (
	// OutboundRaw forwards bytes to the channel unchanged. The device firmware
	// expects this even though inbound traffic is sealed frames.
	OutboundRaw Outbound = "raw"
	// OutboundSealed seals the text into one encrypted frame first.
	OutboundSealed Outbound = "sealed"
)

func ParseOutbound(raw string) (Outbound, error) {
	switch Outbound(strings.ToLower(strings.TrimSpace(raw))) {
	case "", OutboundRaw:
		return OutboundRaw, nil
	case OutboundSealed:
		return OutboundSealed, nil
	default:
		return "", fmt.Errorf("%w: unknown outbound mode %q", ErrConfiguration, raw)
	}
}

// Config defines drive loop timing and delivery limits.
type Config struct {
	TickInterval       time.Duration
	StopTimeout        time.Duration
	FrameSize          int
	RecordBuffer       int
	MaxReceivesPerTick int
	Outbound           Outbound
	// OnError observes frame and channel faults from the drive loop. It runs
	// on the loop goroutine and must not block.
	OnError func(error)
}

func DefaultConfig() Config {
	return Config{
		TickInterval:       30 * time.Millisecond,
		StopTimeout:        100 * time.Millisecond,
		FrameSize:          frame.Size,
		RecordBuffer:       64,
		MaxReceivesPerTick: 16,
		Outbound:           OutboundRaw,
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.TickInterval == 0 {
		c.TickInterval = d.TickInterval
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = d.StopTimeout
	}
	if c.FrameSize == 0 {
		c.FrameSize = d.FrameSize
	}
	if c.RecordBuffer == 0 {
		c.RecordBuffer = d.RecordBuffer
	}
	if c.MaxReceivesPerTick == 0 {
		c.MaxReceivesPerTick = d.MaxReceivesPerTick
	}
	if c.Outbound == "" {
		c.Outbound = d.Outbound
	}
	return c
}

func (c Config) Validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("%w: tick interval must be > 0", ErrConfiguration)
	}
	if c.StopTimeout <= 0 {
		return fmt.Errorf("%w: stop timeout must be > 0", ErrConfiguration)
	}
	if c.FrameSize <= 0 || c.FrameSize%aescbc.BlockSize != 0 {
		return fmt.Errorf("%w: frame size %d must be a positive multiple of %d", ErrConfiguration, c.FrameSize, aescbc.BlockSize)
	}
	if c.RecordBuffer < 0 {
		return fmt.Errorf("%w: record buffer must be >= 0", ErrConfiguration)
	}
	if c.MaxReceivesPerTick <= 0 {
		return fmt.Errorf("%w: max receives per tick must be > 0", ErrConfiguration)
	}
	if _, err := ParseOutbound(string(c.Outbound)); err != nil {
		return err
	}
	return nil
}
