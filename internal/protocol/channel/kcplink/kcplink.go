// Package kcplink runs a KCP conversation over a plain UDP socket and exposes
// it as a channel.Handle.
package kcplink

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/danmuck/doorlink/internal/protocol/channel"
	"github.com/rs/zerolog/log"
	kcp "github.com/xtaci/kcp-go/v5"
)

var ErrSendRejected = errors.New("kcplink: send rejected by kcp")

// Config carries the KCP tuning knobs and the local UDP binding.
type Config struct {
	LocalAddr    string
	NoDelay      bool
	Interval     int
	Resend       int
	NoCongestion bool
	SendWindow   int
	RecvWindow   int
	MTU          int
	DatagramSize int
}

// DefaultConfig matches the doorbell firmware: fast mode, 128 segment windows
// and the fixed local port the device replies to.
func DefaultConfig() Config {
	return Config{
		LocalAddr:    ":43210",
		NoDelay:      true,
		Interval:     10,
		Resend:       2,
		NoCongestion: true,
		SendWindow:   128,
		RecvWindow:   128,
		MTU:          1400,
		DatagramSize: 1500,
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.SendWindow <= 0 {
		c.SendWindow = d.SendWindow
	}
	if c.RecvWindow <= 0 {
		c.RecvWindow = d.RecvWindow
	}
	if c.MTU <= 0 {
		c.MTU = d.MTU
	}
	if c.DatagramSize < c.MTU {
		c.DatagramSize = c.MTU + 100
	}
	return c
}

// Engine creates one UDP socket and KCP control block per handle.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg.WithDefaults()}
}

// Create binds the local socket and targets the endpoint with conv = ConnID.
func (e *Engine) Create(ep channel.Endpoint) (channel.Handle, error) {
	if err := ep.Validate(); err != nil {
		return nil, err
	}
	remote, err := net.ResolveUDPAddr("udp", ep.HostPort())
	if err != nil {
		return nil, fmt.Errorf("kcplink: resolve %s: %w", ep.HostPort(), err)
	}
	return e.open(ep.ConnID, remote)
}

// Listen binds the local socket without a remote; the first datagram's
// sender becomes the remote.
func (e *Engine) Listen(conv uint32) (*Handle, error) {
	return e.open(conv, nil)
}

func (e *Engine) open(conv uint32, remote *net.UDPAddr) (*Handle, error) {
	laddr, err := net.ResolveUDPAddr("udp", e.cfg.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("kcplink: resolve local %s: %w", e.cfg.LocalAddr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("kcplink: listen %s: %w", e.cfg.LocalAddr, err)
	}

	h := &Handle{
		conn:         conn,
		remote:       remote,
		conv:         conv,
		datagramSize: e.cfg.DatagramSize,
	}
	h.kcp = kcp.NewKCP(conv, h.output)
	h.kcp.NoDelay(boolInt(e.cfg.NoDelay), e.cfg.Interval, e.cfg.Resend, boolInt(e.cfg.NoCongestion))
	h.kcp.WndSize(e.cfg.SendWindow, e.cfg.RecvWindow)
	h.kcp.SetMtu(e.cfg.MTU)

	h.wg.Add(1)
	go h.readLoop()

	log.Debug().
		Uint32("conv", conv).
		Str("local", conn.LocalAddr().String()).
		Str("remote", addrString(remote)).
		Msg("kcplink.Engine.open")
	return h, nil
}

// Handle is one KCP conversation. All KCP state is guarded by mu; the
// reader goroutine feeds inbound datagrams under the same lock.
type Handle struct {
	conn         *net.UDPConn
	conv         uint32
	datagramSize int
	wg           sync.WaitGroup

	mu       sync.Mutex
	kcp      *kcp.KCP
	remote   *net.UDPAddr
	released bool
	readErr  error
	writeErr error
}

func (h *Handle) LocalAddr() *net.UDPAddr {
	return h.conn.LocalAddr().(*net.UDPAddr)
}

// Remote returns the current remote address, nil while a listening handle
// has not heard from anyone.
func (h *Handle) Remote() *net.UDPAddr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.remote
}

func (h *Handle) Send(p []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return channel.ErrReleased
	}
	if len(p) == 0 {
		return nil
	}
	if rc := h.kcp.Send(p); rc < 0 {
		return fmt.Errorf("%w: rc=%d len=%d", ErrSendRejected, rc, len(p))
	}
	return nil
}

func (h *Handle) Receive() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil, channel.ErrReleased
	}
	if err := h.readErr; err != nil {
		h.readErr = nil
		return nil, err
	}
	n := h.kcp.PeekSize()
	if n <= 0 {
		return nil, nil
	}
	out := make([]byte, n)
	m := h.kcp.Recv(out)
	if m <= 0 {
		return nil, nil
	}
	return out[:m], nil
}

// Update flushes KCP. kcp-go keeps its own millisecond clock, so now is only
// used to satisfy the channel contract.
func (h *Handle) Update(_ time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return channel.ErrReleased
	}
	h.kcp.Update()
	if err := h.writeErr; err != nil {
		h.writeErr = nil
		return err
	}
	return nil
}

func (h *Handle) Release() error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return nil
	}
	h.released = true
	h.kcp.ReleaseTX()
	h.mu.Unlock()

	err := h.conn.Close()
	h.wg.Wait()
	log.Debug().Uint32("conv", h.conv).Msg("kcplink.Handle.Release")
	return err
}

// output is the KCP output callback; it always runs with mu held.
func (h *Handle) output(buf []byte, size int) {
	if h.remote == nil {
		return
	}
	if _, err := h.conn.WriteToUDP(buf[:size], h.remote); err != nil {
		h.writeErr = fmt.Errorf("kcplink: write %s: %w", h.remote, err)
	}
}

func (h *Handle) readLoop() {
	defer h.wg.Done()
	buf := make([]byte, h.datagramSize)
	for {
		n, from, err := h.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			h.mu.Lock()
			released := h.released
			h.readErr = fmt.Errorf("kcplink: read: %w", err)
			h.mu.Unlock()
			if released {
				return
			}
			continue
		}

		h.mu.Lock()
		if h.released {
			h.mu.Unlock()
			return
		}
		if h.remote == nil {
			h.remote = from
			log.Debug().Uint32("conv", h.conv).Str("remote", from.String()).Msg("kcplink.Handle adopted remote")
		}
		if rc := h.kcp.Input(buf[:n], true, false); rc < 0 {
			log.Debug().Uint32("conv", h.conv).Int("rc", rc).Int("len", n).Msg("kcplink.Handle dropped datagram")
		}
		h.mu.Unlock()
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func addrString(a *net.UDPAddr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
