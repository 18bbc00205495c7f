// Package fakechan is an in-memory channel.Engine for tests. Bytes written by
// the simulated peer are cut into packets that cross a seeded lossy link:
// packets can be dropped (and later retransmitted), duplicated and delayed by
// whole ticks. The receiving side dedups and reorders like an ARQ would and
// hands the stream out in irregular chunk sizes.
package fakechan

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/doorlink/internal/protocol/channel"
)

var ErrCreateRefused = errors.New("fakechan: create refused")

type Config struct {
	Seed          int64
	DropRate      float64
	DupRate       float64
	MaxDelayTicks int
	MaxPacket     int
	MaxChunk      int
}

// Perfect delivers every packet on the next tick in one chunk per packet.
func Perfect() Config {
	return Config{Seed: 1, MaxPacket: 1 << 16, MaxChunk: 1 << 16}
}

// Lossy is the default rough link used by the session tests.
func Lossy(seed int64) Config {
	return Config{
		Seed:          seed,
		DropRate:      0.2,
		DupRate:       0.1,
		MaxDelayTicks: 3,
		MaxPacket:     97,
		MaxChunk:      61,
	}
}

type Engine struct {
	mu        sync.Mutex
	cfg       Config
	createErr error
	handles   []*Handle
}

func New(cfg Config) *Engine {
	if cfg.MaxPacket <= 0 {
		cfg.MaxPacket = 1
	}
	if cfg.MaxChunk <= 0 {
		cfg.MaxChunk = 1
	}
	return &Engine{cfg: cfg}
}

// FailCreate makes every following Create fail with err, or with
// ErrCreateRefused when err is nil. FailCreate(false, nil) clears it.
func (e *Engine) FailCreate(fail bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !fail {
		e.createErr = nil
		return
	}
	if err == nil {
		err = ErrCreateRefused
	}
	e.createErr = err
}

func (e *Engine) Create(ep channel.Endpoint) (channel.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.createErr != nil {
		return nil, e.createErr
	}
	if err := ep.Validate(); err != nil {
		return nil, err
	}
	seed := e.cfg.Seed + int64(len(e.handles))
	h := &Handle{
		cfg:     e.cfg,
		ep:      ep,
		rng:     rand.New(rand.NewSource(seed)),
		pending: make(map[uint64][]byte),
	}
	e.handles = append(e.handles, h)
	return h, nil
}

// Created reports how many handles were handed out.
func (e *Engine) Created() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handles)
}

// Last returns the most recent handle, nil before the first Create.
func (e *Engine) Last() *Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.handles) == 0 {
		return nil
	}
	return e.handles[len(e.handles)-1]
}

type packet struct {
	seq  uint64
	data []byte
	due  int
}

// Handle is one simulated conversation.
type Handle struct {
	mu  sync.Mutex
	cfg Config
	ep  channel.Endpoint
	rng *rand.Rand

	tick     int
	nextSeq  uint64
	expect   uint64
	inflight []packet
	pending  map[uint64][]byte
	ready    []byte

	sent        [][]byte
	updateErrs  []error
	recvErrs    []error
	updatePanic any
	updates     int
	lastNow     time.Time
	released    bool
}

func (h *Handle) Endpoint() channel.Endpoint {
	return h.ep
}

// Deliver is a write by the remote peer.
func (h *Handle) Deliver(p []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for len(p) > 0 {
		n := 1 + h.rng.Intn(h.cfg.MaxPacket)
		if n > len(p) {
			n = len(p)
		}
		pkt := packet{seq: h.nextSeq, data: append([]byte(nil), p[:n]...)}
		h.nextSeq++
		p = p[n:]

		h.enqueue(pkt)
		if h.cfg.DupRate > 0 && h.rng.Float64() < h.cfg.DupRate {
			h.enqueue(pkt)
		}
	}
}

func (h *Handle) enqueue(pkt packet) {
	pkt.due = h.tick + 1
	if h.cfg.MaxDelayTicks > 0 {
		pkt.due += h.rng.Intn(h.cfg.MaxDelayTicks + 1)
	}
	h.inflight = append(h.inflight, pkt)
}

// FailUpdate queues errors returned by the next Update calls, one per call.
func (h *Handle) FailUpdate(errs ...error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updateErrs = append(h.updateErrs, errs...)
}

// FailReceive queues errors returned by the next Receive calls.
func (h *Handle) FailReceive(errs ...error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recvErrs = append(h.recvErrs, errs...)
}

// PanicOnUpdate makes the next Update panic with v.
func (h *Handle) PanicOnUpdate(v any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updatePanic = v
}

func (h *Handle) Send(p []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return channel.ErrReleased
	}
	h.sent = append(h.sent, append([]byte(nil), p...))
	return nil
}

func (h *Handle) Receive() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil, channel.ErrReleased
	}
	if len(h.recvErrs) > 0 {
		err := h.recvErrs[0]
		h.recvErrs = h.recvErrs[1:]
		return nil, err
	}
	if len(h.ready) == 0 {
		return nil, nil
	}
	n := 1 + h.rng.Intn(h.cfg.MaxChunk)
	if n > len(h.ready) {
		n = len(h.ready)
	}
	out := append([]byte(nil), h.ready[:n]...)
	h.ready = h.ready[n:]
	return out, nil
}

func (h *Handle) Update(now time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return channel.ErrReleased
	}
	h.updates++
	h.lastNow = now
	if v := h.updatePanic; v != nil {
		h.updatePanic = nil
		panic(v)
	}
	if len(h.updateErrs) > 0 {
		err := h.updateErrs[0]
		h.updateErrs = h.updateErrs[1:]
		return err
	}

	h.tick++
	keep := h.inflight[:0]
	for _, pkt := range h.inflight {
		if pkt.due > h.tick {
			keep = append(keep, pkt)
			continue
		}
		if h.cfg.DropRate > 0 && h.rng.Float64() < h.cfg.DropRate {
			// retransmitted later
			pkt.due = h.tick + 1 + h.rng.Intn(h.cfg.MaxDelayTicks+1)
			keep = append(keep, pkt)
			continue
		}
		h.arrive(pkt)
	}
	h.inflight = keep
	return nil
}

func (h *Handle) arrive(pkt packet) {
	if pkt.seq < h.expect {
		return
	}
	if _, dup := h.pending[pkt.seq]; dup {
		return
	}
	h.pending[pkt.seq] = pkt.data
	for {
		data, ok := h.pending[h.expect]
		if !ok {
			return
		}
		delete(h.pending, h.expect)
		h.ready = append(h.ready, data...)
		h.expect++
	}
}

func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released = true
	return nil
}

// Sent returns copies of everything the local side passed to Send.
func (h *Handle) Sent() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]byte, len(h.sent))
	for i, p := range h.sent {
		out[i] = append([]byte(nil), p...)
	}
	return out
}

// Drained reports whether every delivered byte has been handed to Receive.
func (h *Handle) Drained() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.inflight) == 0 && len(h.pending) == 0 && len(h.ready) == 0
}

func (h *Handle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

func (h *Handle) Updates() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.updates
}

// LastUpdate is the clock value passed to the most recent Update.
func (h *Handle) LastUpdate() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastNow
}
