package doorbell

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/doorlink/internal/protocol/channel"
	"github.com/danmuck/doorlink/internal/protocol/channel/kcplink"
	"github.com/danmuck/doorlink/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidHeartbeatInterval = errors.New("doorbell: invalid heartbeat interval")
	ErrInvalidRecordHistory     = errors.New("doorbell: invalid record history")
)

type AdminConfig struct {
	ListenAddr  string
	CorsOrigins []string
}

// ServiceConfig configures the headless doorbell client.
type ServiceConfig struct {
	Endpoint          channel.Endpoint
	Keys              KeySource
	Session           session.Config
	Link              kcplink.Config
	HeartbeatInterval time.Duration
	RecordHistory     int
	StartBackoff      session.BackoffConfig
	MaxStartAttempts  int
	Greeting          string
	Admin             AdminConfig
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Endpoint:          channel.Endpoint{Port: 43210},
		Session:           session.DefaultConfig(),
		Link:              kcplink.DefaultConfig(),
		HeartbeatInterval: 30 * time.Second,
		RecordHistory:     256,
		StartBackoff:      session.DefaultBackoffConfig(),
		MaxStartAttempts:  0,
		Greeting:          "hello",
	}
}

func (c ServiceConfig) Validate() error {
	if err := c.Endpoint.Validate(); err != nil {
		return err
	}
	if c.Keys.IsZero() {
		return ErrMissingKeys
	}
	if c.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}
	if c.RecordHistory <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRecordHistory, c.RecordHistory)
	}
	return c.Session.WithDefaults().Validate()
}

// Service keeps one session to the doorbell alive for the process lifetime.
type Service struct {
	cfg     ServiceConfig
	engine  channel.Engine
	records *RecordLog
	started time.Time
	session atomic.Pointer[session.Session]
	rng     *rand.Rand
}

// NewService uses the KCP engine configured by cfg.Link.
func NewService(cfg ServiceConfig) (*Service, error) {
	return NewServiceWithEngine(cfg, kcplink.NewEngine(cfg.Link))
}

func NewServiceWithEngine(cfg ServiceConfig, engine channel.Engine) (*Service, error) {
	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		cfg:     cfg,
		engine:  engine,
		records: NewRecordLog(cfg.RecordHistory),
		started: time.Now(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Run blocks until SIGINT/SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Session returns the live session, nil before Serve has built it.
func (s *Service) Session() *session.Session {
	return s.session.Load()
}

func (s *Service) Records() *RecordLog {
	return s.records
}

func (s *Service) Config() ServiceConfig {
	return s.cfg
}

func (s *Service) Serve(ctx context.Context) error {
	keys, err := s.cfg.Keys.Resolve()
	if err != nil {
		return err
	}
	sess, err := session.New(s.engine, keys, s.cfg.Session)
	if err != nil {
		return err
	}
	s.session.Store(sess)
	defer sess.Stop()

	if err := s.startSession(ctx, sess); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	var keyChanges <-chan struct{}
	if path := strings.TrimSpace(s.cfg.Keys.File); path != "" {
		keyChanges, err = WatchKeyFile(ctx, path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("doorbell.Service.Serve key watch disabled")
		}
	}

	adminErr := make(chan error, 1)
	if addr := strings.TrimSpace(s.cfg.Admin.ListenAddr); addr != "" {
		go func() {
			adminErr <- s.serveAdmin(ctx, addr)
		}()
	}

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("doorbell.Service.Serve shutdown")
			return nil
		case rec := <-sess.Records():
			s.records.Add(rec)
			log.Info().
				Uint64("seq", rec.Seq).
				Uint32("conn_id", rec.ConnID).
				Str("text", rec.Text).
				Msg("doorbell.Service.Serve record")
		case <-keyChanges:
			if err := s.rekey(ctx, sess); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		case err := <-adminErr:
			if err != nil {
				return err
			}
		case <-ticker.C:
			st := sess.Stats()
			log.Info().
				Str("state", sess.State().String()).
				Str("endpoint", s.cfg.Endpoint.String()).
				Uint64("frames", st.Frames).
				Uint64("frame_errors", st.FrameErrors).
				Uint64("channel_errors", st.ChannelErrors).
				Uint64("dropped", st.DroppedRecords).
				Int("history", s.records.Len()).
				Msg("doorbell.Service.heartbeat")
		}
	}
}

func (s *Service) startSession(ctx context.Context, sess *session.Session) error {
	err := session.StartWithBackoff(ctx, sess, s.cfg.Endpoint, s.cfg.StartBackoff, s.cfg.MaxStartAttempts, s.rng)
	if err != nil {
		return err
	}
	if s.cfg.Greeting != "" {
		if err := sess.Send([]byte(s.cfg.Greeting)); err != nil {
			log.Warn().Err(err).Msg("doorbell.Service.startSession greeting failed")
		}
	}
	return nil
}

// rekey restarts the session with the key file's current contents. A file
// that does not parse leaves the running session untouched.
func (s *Service) rekey(ctx context.Context, sess *session.Session) error {
	keys, err := LoadKeyFile(s.cfg.Keys.File)
	if err != nil {
		log.Warn().Err(err).Msg("doorbell.Service.rekey ignored unreadable key file")
		return nil
	}
	sess.Stop()
	if err := sess.SetKeys(keys); err != nil {
		return err
	}
	log.Info().Str("path", s.cfg.Keys.File).Msg("doorbell.Service.rekey restarting session")
	return s.startSession(ctx, sess)
}
