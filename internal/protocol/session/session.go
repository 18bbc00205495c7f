package session

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/doorlink/internal/crypto/aescbc"
	"github.com/danmuck/doorlink/internal/observability"
	"github.com/danmuck/doorlink/internal/protocol/channel"
	"github.com/danmuck/doorlink/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

type Session struct {
	engine  channel.Engine
	cfg     Config
	records chan Record

	// mu serializes Start, Stop and SetKeys.
	mu    sync.Mutex
	keys  aescbc.KeyMaterial
	run   *run
	label string

	state atomic.Int32
	seq   atomic.Uint64
	stats counters

	// hmu guards the live handle against Stop while Send is using it.
	hmu      sync.RWMutex
	handle   channel.Handle
	endpoint channel.Endpoint
	runKeys  aescbc.KeyMaterial
	runLabel string
}

type run struct {
	stop chan struct{}
	done chan struct{}
}

// loop is the per-run state owned by the drive goroutine.
type loop struct {
	run    *run
	handle channel.Handle
	ep     channel.Endpoint
	conn   string
	keys   aescbc.KeyMaterial
	buf    *frame.Buffer
}

func New(engine channel.Engine, keys aescbc.KeyMaterial, cfg Config) (*Session, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: nil channel engine", ErrConfiguration)
	}
	if err := keys.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Session{
		engine:  engine,
		cfg:     cfg,
		records: make(chan Record, cfg.RecordBuffer),
		keys:    keys.Clone(),
	}, nil
}

// Records delivers decrypted frames in arrival order. The channel is never
// closed; records are dropped when it is full.
func (s *Session) Records() <-chan Record {
	return s.records
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) Stats() Stats {
	return s.stats.snapshot()
}

func (s *Session) Config() Config {
	return s.cfg
}

// Endpoint returns the endpoint of the current run.
func (s *Session) Endpoint() (channel.Endpoint, bool) {
	s.hmu.RLock()
	defer s.hmu.RUnlock()
	return s.endpoint, s.handle != nil
}

// SetKeys replaces the key material used by the next Start.
func (s *Session) SetKeys(keys aescbc.KeyMaterial) error {
	if err := keys.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.State(); st != StateIdle {
		return fmt.Errorf("%w: cannot rekey while %s", ErrRunning, st)
	}
	s.keys = keys.Clone()
	log.Debug().Msg("session.Session.SetKeys replaced key material")
	return nil
}

// Start creates the channel handle and launches the drive loop. It is a
// no-op while a run is active.
func (s *Session) Start(ep channel.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.State(); st == StateRunning || st == StateStarting {
		log.Debug().Str("state", st.String()).Msg("session.Session.Start ignored")
		return nil
	}
	if err := ep.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrChannelCreate, err)
	}

	s.label = strconv.FormatUint(uint64(ep.ConnID), 10)
	s.setState(StateStarting)

	h, err := s.create(ep)
	if err != nil {
		s.setState(StateIdle)
		log.Warn().Err(err).Str("endpoint", ep.String()).Msg("session.Session.Start create failed")
		return fmt.Errorf("%w: %s: %w", ErrChannelCreate, ep, err)
	}

	keys := s.keys.Clone()
	s.hmu.Lock()
	s.handle = h
	s.endpoint = ep
	s.runKeys = keys
	s.runLabel = s.label
	s.hmu.Unlock()

	r := &run{stop: make(chan struct{}), done: make(chan struct{})}
	s.run = r
	s.stats.starts.Add(1)
	s.setState(StateRunning)

	go s.drive(&loop{
		run:    r,
		handle: h,
		ep:     ep,
		conn:   s.label,
		keys:   keys,
		buf:    frame.NewBuffer(s.cfg.FrameSize),
	})

	log.Info().Str("endpoint", ep.String()).Dur("tick", s.cfg.TickInterval).Msg("session.Session.Start running")
	return nil
}

// Stop ends the current run. It waits up to StopTimeout for the loop, then
// releases the handle regardless. Calling Stop while idle is a no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateRunning {
		return
	}
	s.setState(StateStopping)

	r := s.run
	s.run = nil
	close(r.stop)

	timer := time.NewTimer(s.cfg.StopTimeout)
	select {
	case <-r.done:
		timer.Stop()
	case <-timer.C:
		log.Warn().Dur("timeout", s.cfg.StopTimeout).Str("conn_id", s.label).Msg("session.Session.Stop drive loop abandoned")
	}

	s.hmu.Lock()
	h := s.handle
	s.handle = nil
	s.hmu.Unlock()

	if err := guard(h.Release); err != nil {
		log.Warn().Err(err).Str("conn_id", s.label).Msg("session.Session.Stop release failed")
	}
	s.setState(StateIdle)
	log.Info().Str("conn_id", s.label).Msg("session.Session.Stop idle")
}

// Send forwards p to the channel, sealed into a frame in OutboundSealed mode.
func (s *Session) Send(p []byte) error {
	if s.State() != StateRunning {
		return ErrNotStarted
	}
	s.hmu.RLock()
	defer s.hmu.RUnlock()
	h := s.handle
	if h == nil || s.State() != StateRunning {
		return ErrNotStarted
	}

	payload := p
	if s.cfg.Outbound == OutboundSealed {
		sealed, err := frame.SealRecord(string(p), s.runKeys, s.cfg.FrameSize)
		if err != nil {
			return err
		}
		payload = sealed
	}

	if err := guard(func() error { return h.Send(payload) }); err != nil {
		return fmt.Errorf("%w: send: %w", ErrChannel, err)
	}
	s.stats.bytesOut.Add(uint64(len(payload)))
	observability.RecordBytes(s.runLabel, observability.DirectionOut, len(payload))
	return nil
}

func (s *Session) create(ep channel.Endpoint) (h channel.Handle, err error) {
	defer func() {
		if v := recover(); v != nil {
			h, err = nil, fmt.Errorf("engine panic: %v", v)
		}
	}()
	h, err = s.engine.Create(ep)
	if err == nil && h == nil {
		err = errors.New("engine returned nil handle")
	}
	return h, err
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	observability.SetSessionState(s.label, int(st))
}

func (s *Session) drive(l *loop) {
	defer close(l.run.done)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		if stopped(l.run) {
			return
		}
		s.tick(l)
		select {
		case <-l.run.stop:
			return
		case <-ticker.C:
		}
	}
}

func (s *Session) tick(l *loop) {
	s.stats.ticks.Add(1)

	if err := guard(func() error { return l.handle.Update(time.Now()) }); err != nil {
		s.channelFault(l, "update", err)
		return
	}

	for i := 0; i < s.cfg.MaxReceivesPerTick; i++ {
		if stopped(l.run) {
			return
		}
		var chunk []byte
		err := guard(func() (err error) {
			chunk, err = l.handle.Receive()
			return err
		})
		if err != nil {
			s.channelFault(l, "receive", err)
			return
		}
		if len(chunk) == 0 {
			return
		}

		s.stats.chunks.Add(1)
		s.stats.bytesIn.Add(uint64(len(chunk)))
		observability.RecordBytes(l.conn, observability.DirectionIn, len(chunk))

		l.buf.Append(chunk)
		for f := range l.buf.Frames() {
			s.deliver(l, f)
		}
	}
}

func (s *Session) deliver(l *loop, f []byte) {
	seq := s.seq.Add(1)
	text, err := frame.OpenRecord(f, l.keys)
	if err != nil {
		s.stats.frameErrors.Add(1)
		observability.RecordFrame(l.conn, false)
		log.Warn().Err(err).Uint64("seq", seq).Str("conn_id", l.conn).Msg("session.Session.deliver frame skipped")
		s.report(&FrameError{Seq: seq, Err: err})
		return
	}

	s.stats.frames.Add(1)
	observability.RecordFrame(l.conn, true)
	rec := Record{
		Seq:        seq,
		ConnID:     l.ep.ConnID,
		Text:       text,
		Frame:      f,
		ReceivedAt: time.Now(),
	}
	select {
	case s.records <- rec:
	default:
		s.stats.droppedRecords.Add(1)
		observability.RecordDroppedRecord(l.conn)
		log.Warn().Uint64("seq", seq).Str("conn_id", l.conn).Msg("session.Session.deliver consumer behind, record dropped")
	}
}

func (s *Session) channelFault(l *loop, op string, err error) {
	if stopped(l.run) && errors.Is(err, channel.ErrReleased) {
		return
	}
	s.stats.channelErrors.Add(1)
	observability.RecordChannelError(l.conn)
	log.Warn().Err(err).Str("op", op).Str("conn_id", l.conn).Msg("session.Session.tick channel error")
	s.report(fmt.Errorf("%w: %s: %w", ErrChannel, op, err))
}

func (s *Session) report(err error) {
	if s.cfg.OnError == nil {
		return
	}
	if perr := guard(func() error { s.cfg.OnError(err); return nil }); perr != nil {
		log.Error().Err(perr).Msg("session.Session.report error callback failed")
	}
}

func stopped(r *run) bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// guard turns a panic in fn into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
		}
	}()
	return fn()
}

func logStartRetry(ep channel.Endpoint, attempt int, delay time.Duration, err error) {
	log.Warn().
		Err(err).
		Str("endpoint", ep.String()).
		Int("attempt", attempt).
		Dur("retry_in", delay).
		Msg("session.StartWithBackoff retrying")
}
