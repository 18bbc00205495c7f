package fakechan

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/doorlink/internal/protocol/channel"
	"github.com/stretchr/testify/require"
)

var testEndpoint = channel.Endpoint{Address: "10.0.0.2", Port: 43210, ConnID: 7}

func drain(t *testing.T, h *Handle, maxTicks int) []byte {
	t.Helper()
	var got []byte
	for i := 0; i < maxTicks && !h.Drained(); i++ {
		require.NoError(t, h.Update(time.Now()))
		for {
			chunk, err := h.Receive()
			require.NoError(t, err)
			if chunk == nil {
				break
			}
			got = append(got, chunk...)
		}
	}
	return got
}

func TestLossyLinkDeliversStreamInOrder(t *testing.T) {
	eng := New(Lossy(42))
	raw, err := eng.Create(testEndpoint)
	require.NoError(t, err)
	h := raw.(*Handle)

	want := make([]byte, 5000)
	for i := range want {
		want[i] = byte(i % 251)
	}
	h.Deliver(want[:1234])
	h.Deliver(want[1234:])

	got := drain(t, h, 10000)
	require.True(t, h.Drained())
	require.True(t, bytes.Equal(want, got), "stream mismatch: got %d bytes", len(got))
}

func TestScriptedFailures(t *testing.T) {
	eng := New(Perfect())
	raw, err := eng.Create(testEndpoint)
	require.NoError(t, err)
	h := raw.(*Handle)

	boom := errors.New("boom")
	h.FailUpdate(boom)
	h.FailReceive(boom)
	require.ErrorIs(t, h.Update(time.Now()), boom)
	require.NoError(t, h.Update(time.Now()))
	_, err = h.Receive()
	require.ErrorIs(t, err, boom)

	h.PanicOnUpdate("kaboom")
	require.Panics(t, func() { _ = h.Update(time.Now()) })
	require.NoError(t, h.Update(time.Now()))
	require.Equal(t, 4, h.Updates())
}

func TestCreateSwitchAndRelease(t *testing.T) {
	eng := New(Perfect())
	eng.FailCreate(true, nil)
	_, err := eng.Create(testEndpoint)
	require.ErrorIs(t, err, ErrCreateRefused)
	require.Nil(t, eng.Last())

	eng.FailCreate(false, nil)
	raw, err := eng.Create(testEndpoint)
	require.NoError(t, err)
	require.Equal(t, 1, eng.Created())
	require.Same(t, raw.(*Handle), eng.Last())

	require.NoError(t, raw.Send([]byte("hi")))
	require.NoError(t, raw.Release())
	require.True(t, eng.Last().Released())
	require.ErrorIs(t, raw.Send([]byte("again")), channel.ErrReleased)
	require.Equal(t, [][]byte{[]byte("hi")}, eng.Last().Sent())
}
