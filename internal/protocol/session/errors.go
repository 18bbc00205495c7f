package session

import (
	"errors"
	"fmt"

	"github.com/danmuck/doorlink/internal/crypto/aescbc"
)

var (
	// ErrConfiguration and ErrDecode are shared with the cipher so callers
	// can match either layer with one errors.Is.
	ErrConfiguration = aescbc.ErrConfiguration
	ErrDecode        = aescbc.ErrDecode

	ErrChannel       = errors.New("session: channel error")
	ErrChannelCreate = errors.New("session: channel create failed")
	ErrNotStarted    = errors.New("session: not started")
	ErrRunning       = errors.New("session: running")
)

// FrameError reports one frame that could not be opened. The drive loop
// skips the frame and keeps going.
type FrameError struct {
	Seq uint64
	Err error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("session: frame %d: %v", e.Seq, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}
