package session

import (
	"sync/atomic"
	"time"
)

type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Record is one decrypted frame.
type Record struct {
	Seq        uint64
	ConnID     uint32
	Text       string
	Frame      []byte
	ReceivedAt time.Time
}

// Stats is a snapshot of session counters. Counters survive restarts.
type Stats struct {
	Starts         uint64 `json:"starts"`
	Ticks          uint64 `json:"ticks"`
	Chunks         uint64 `json:"chunks"`
	BytesIn        uint64 `json:"bytes_in"`
	BytesOut       uint64 `json:"bytes_out"`
	Frames         uint64 `json:"frames"`
	FrameErrors    uint64 `json:"frame_errors"`
	ChannelErrors  uint64 `json:"channel_errors"`
	DroppedRecords uint64 `json:"dropped_records"`
}

type counters struct {
	starts         atomic.Uint64
	ticks          atomic.Uint64
	chunks         atomic.Uint64
	bytesIn        atomic.Uint64
	bytesOut       atomic.Uint64
	frames         atomic.Uint64
	frameErrors    atomic.Uint64
	channelErrors  atomic.Uint64
	droppedRecords atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Starts:         c.starts.Load(),
		Ticks:          c.ticks.Load(),
		Chunks:         c.chunks.Load(),
		BytesIn:        c.bytesIn.Load(),
		BytesOut:       c.bytesOut.Load(),
		Frames:         c.frames.Load(),
		FrameErrors:    c.frameErrors.Load(),
		ChannelErrors:  c.channelErrors.Load(),
		DroppedRecords: c.droppedRecords.Load(),
	}
}
