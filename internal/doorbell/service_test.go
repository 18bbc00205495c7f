package doorbell

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/doorlink/internal/crypto/aescbc"
	"github.com/danmuck/doorlink/internal/protocol/channel"
	"github.com/danmuck/doorlink/internal/protocol/frame"
	"github.com/danmuck/doorlink/internal/protocol/session"
	"github.com/danmuck/doorlink/internal/testutil/fakechan"
	"github.com/danmuck/doorlink/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

var testEndpoint = channel.Endpoint{Address: "10.8.41.216", Port: 43210, ConnID: 1234}

func testServiceConfig() ServiceConfig {
	cfg := DefaultServiceConfig()
	cfg.Endpoint = testEndpoint
	cfg.Keys = KeySource{Key: asciiKey, IV: asciiIV}
	cfg.Session.TickInterval = 2 * time.Millisecond
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.StartBackoff = session.BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: 4 * time.Millisecond}
	cfg.MaxStartAttempts = 3
	return cfg
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// serve runs svc in the background and returns a stop func that cancels it
// and returns Serve's result.
func serve(t *testing.T, svc *Service) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Serve(ctx)
	}()
	stopped := false
	var result error
	stop := func() error {
		if stopped {
			return result
		}
		stopped = true
		cancel()
		select {
		case result = <-done:
		case <-time.After(3 * time.Second):
			t.Fatalf("serve did not return after cancel")
		}
		return result
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func waitRunning(t *testing.T, svc *Service) {
	t.Helper()
	waitUntil(t, "session running", func() bool {
		sess := svc.Session()
		return sess != nil && sess.State() == session.StateRunning
	})
}

func sealWith(t *testing.T, text string, km aescbc.KeyMaterial) []byte {
	t.Helper()
	f, err := frame.SealRecord(text, km, frame.Size)
	require.NoError(t, err)
	return f
}

func TestServiceConfigValidate(t *testing.T) {
	testlog.Start(t)
	require.NoError(t, testServiceConfig().Validate())

	cfg := testServiceConfig()
	cfg.Keys = KeySource{}
	require.ErrorIs(t, cfg.Validate(), ErrMissingKeys)

	cfg = testServiceConfig()
	cfg.HeartbeatInterval = 0
	require.ErrorIs(t, cfg.Validate(), ErrInvalidHeartbeatInterval)

	cfg = testServiceConfig()
	cfg.RecordHistory = -1
	require.ErrorIs(t, cfg.Validate(), ErrInvalidRecordHistory)

	cfg = testServiceConfig()
	cfg.Endpoint.Address = ""
	require.ErrorIs(t, cfg.Validate(), channel.ErrInvalidEndpoint)

	cfg = testServiceConfig()
	cfg.Session.FrameSize = 225
	require.ErrorIs(t, cfg.Validate(), session.ErrConfiguration)
}

func TestServeGreetsAndCollectsRecords(t *testing.T) {
	testlog.Start(t)
	eng := fakechan.New(fakechan.Lossy(21))
	svc, err := NewServiceWithEngine(testServiceConfig(), eng)
	require.NoError(t, err)
	stop := serve(t, svc)
	waitRunning(t, svc)

	h := eng.Last()
	waitUntil(t, "greeting", func() bool { return len(h.Sent()) == 1 })
	require.Equal(t, [][]byte{[]byte("hello")}, h.Sent())

	km, err := testServiceConfig().Keys.Resolve()
	require.NoError(t, err)
	h.Deliver(sealWith(t, "ding", km))
	h.Deliver(sealWith(t, "dong", km))
	waitUntil(t, "two records", func() bool { return svc.Records().Len() == 2 })

	recent := svc.Records().Recent(10)
	require.Equal(t, "ding", recent[0].Text)
	require.Equal(t, "dong", recent[1].Text)

	require.NoError(t, stop())
	require.Equal(t, session.StateIdle, svc.Session().State())
	require.True(t, h.Released())
}

func TestServeReturnsCreateFailure(t *testing.T) {
	testlog.Start(t)
	eng := fakechan.New(fakechan.Perfect())
	eng.FailCreate(true, nil)
	svc, err := NewServiceWithEngine(testServiceConfig(), eng)
	require.NoError(t, err)

	err = svc.Serve(context.Background())
	require.ErrorIs(t, err, session.ErrChannelCreate)
	require.Equal(t, session.StateIdle, svc.Session().State())
}

func TestServeRejectsUnreadableKeyFile(t *testing.T) {
	testlog.Start(t)
	cfg := testServiceConfig()
	cfg.Keys = KeySource{File: filepath.Join(t.TempDir(), "absent.toml")}
	svc, err := NewServiceWithEngine(cfg, fakechan.New(fakechan.Perfect()))
	require.NoError(t, err)
	require.Error(t, svc.Serve(context.Background()))
	require.Nil(t, svc.Session())
}

func TestServeRekeysWhenKeyFileChanges(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "keys.toml")
	writeKeyFile(t, path, asciiKey, asciiIV)

	cfg := testServiceConfig()
	cfg.Keys = KeySource{File: path}
	eng := fakechan.New(fakechan.Perfect())
	svc, err := NewServiceWithEngine(cfg, eng)
	require.NoError(t, err)
	serve(t, svc)
	waitRunning(t, svc)
	require.Equal(t, 1, eng.Created())

	writeKeyFile(t, path, "hex:00112233445566778899aabbccddeeff", asciiIV)
	waitUntil(t, "restart with new keys", func() bool { return eng.Created() >= 2 })
	time.Sleep(100 * time.Millisecond)
	waitRunning(t, svc)

	fresh, err := LoadKeyFile(path)
	require.NoError(t, err)
	eng.Last().Deliver(sealWith(t, "rotated", fresh))
	waitUntil(t, "record under new keys", func() bool { return svc.Records().Len() == 1 })
	require.Equal(t, "rotated", svc.Records().Recent(1)[0].Text)
}
