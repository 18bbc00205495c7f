package config

import (
	"strings"

	"github.com/danmuck/doorlink/internal/doorbell"
	"github.com/danmuck/doorlink/internal/protocol/channel"
	"github.com/danmuck/doorlink/internal/protocol/session"
)

// ServiceConfig overlays the file on doorbell.DefaultServiceConfig. Unset
// fields keep their defaults.
func (f File) ServiceConfig() (doorbell.ServiceConfig, error) {
	if err := Validate(f); err != nil {
		return doorbell.ServiceConfig{}, err
	}
	cfg := doorbell.DefaultServiceConfig()

	cfg.Endpoint = channel.Endpoint{
		Address: strings.TrimSpace(f.Device.Address),
		Port:    f.Device.Port,
		ConnID:  f.Device.ConnID,
	}
	cfg.Keys = doorbell.KeySource{Key: f.Keys.Key, IV: f.Keys.IV, File: f.Keys.File}

	// durations were checked by Validate
	tick, _ := parseDuration(f.Session.TickInterval)
	stop, _ := parseDuration(f.Session.StopTimeout)
	outbound, _ := session.ParseOutbound(f.Session.Outbound)
	cfg.Session = session.Config{
		TickInterval:       tick,
		StopTimeout:        stop,
		RecordBuffer:       f.Session.RecordBuffer,
		MaxReceivesPerTick: f.Session.MaxReceivesPerTick,
		Outbound:           outbound,
	}.WithDefaults()

	link := cfg.Link
	if v := strings.TrimSpace(f.Link.LocalAddr); v != "" {
		link.LocalAddr = v
	}
	if f.Link.NoDelay != nil {
		link.NoDelay = *f.Link.NoDelay
	}
	if f.Link.Interval > 0 {
		link.Interval = f.Link.Interval
	}
	if f.Link.Resend > 0 {
		link.Resend = f.Link.Resend
	}
	if f.Link.NoCongestion != nil {
		link.NoCongestion = *f.Link.NoCongestion
	}
	if f.Link.SendWindow > 0 {
		link.SendWindow = f.Link.SendWindow
	}
	if f.Link.RecvWindow > 0 {
		link.RecvWindow = f.Link.RecvWindow
	}
	if f.Link.MTU > 0 {
		link.MTU = f.Link.MTU
	}
	cfg.Link = link.WithDefaults()

	if d, _ := parseDuration(f.Service.HeartbeatInterval); d > 0 {
		cfg.HeartbeatInterval = d
	}
	if f.Service.RecordHistory > 0 {
		cfg.RecordHistory = f.Service.RecordHistory
	}
	cfg.MaxStartAttempts = f.Service.MaxStartAttempts
	if f.Service.Greeting != nil {
		cfg.Greeting = *f.Service.Greeting
	}

	b := f.Service.Backoff
	if d, _ := parseDuration(b.InitialDelay); d > 0 {
		cfg.StartBackoff.InitialDelay = d
	}
	if d, _ := parseDuration(b.MaxDelay); d > 0 {
		cfg.StartBackoff.MaxDelay = d
	}
	if b.Multiplier > 0 {
		cfg.StartBackoff.Multiplier = b.Multiplier
	}
	if b.Jitter != nil {
		cfg.StartBackoff.Jitter = *b.Jitter
	}

	cfg.Admin = doorbell.AdminConfig{
		ListenAddr:  strings.TrimSpace(f.Admin.ListenAddr),
		CorsOrigins: f.Admin.CorsOrigins,
	}
	return cfg, cfg.Validate()
}
