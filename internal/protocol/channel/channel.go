// Package channel defines the reliable byte-stream channel the session drives.
//
// An Engine creates one Handle per session run. The handle owns the ARQ state
// for a single conversation (ConnID) with one remote endpoint:
//   - Send enqueues and returns; it may be called from any goroutine.
//   - Receive never blocks and returns (nil, nil) when nothing is ready.
//   - Update advances retransmit/ack timers and is called once per tick.
//   - Release frees everything; afterwards every call returns ErrReleased.
//
// Receive yields a byte stream. Chunk boundaries do not follow Send calls on
// the peer or any application framing.
package channel

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

var (
	ErrReleased        = errors.New("channel: handle released")
	ErrInvalidEndpoint = errors.New("channel: invalid endpoint")
)

// Endpoint names the remote side of one conversation.
type Endpoint struct {
	Address string
	Port    int
	ConnID  uint32
}

func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.Address) == "" {
		return fmt.Errorf("%w: missing address", ErrInvalidEndpoint)
	}
	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidEndpoint, e.Port)
	}
	return nil
}

// HostPort renders the address in dialable form.
func (e Endpoint) HostPort() string {
	return net.JoinHostPort(strings.TrimSpace(e.Address), strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s conv=%d", e.HostPort(), e.ConnID)
}

type Engine interface {
	Create(ep Endpoint) (Handle, error)
}

type Handle interface {
	Send(p []byte) error
	Receive() ([]byte, error)
	Update(now time.Time) error
	Release() error
}

// EngineFunc adapts a plain function to Engine.
type EngineFunc func(ep Endpoint) (Handle, error)

func (f EngineFunc) Create(ep Endpoint) (Handle, error) {
	return f(ep)
}
