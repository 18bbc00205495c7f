package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	FrameResultOK    = "ok"
	FrameResultError = "error"

	DirectionIn  = "in"
	DirectionOut = "out"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "doorlink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "doorlink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	sessionFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "doorlink",
			Subsystem: "session",
			Name:      "frames_total",
			Help:      "Reassembled frames by decode result.",
		},
		[]string{"conn", "result"},
	)
	sessionBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "doorlink",
			Subsystem: "session",
			Name:      "bytes_total",
			Help:      "Bytes moved through the reliable channel.",
		},
		[]string{"conn", "direction"},
	)
	sessionChannelErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "doorlink",
			Subsystem: "session",
			Name:      "channel_errors_total",
			Help:      "Channel update/receive failures seen by the drive loop.",
		},
		[]string{"conn"},
	)
	sessionRecordsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "doorlink",
			Subsystem: "session",
			Name:      "records_dropped_total",
			Help:      "Decoded records dropped because the consumer fell behind.",
		},
		[]string{"conn"},
	)
	sessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "doorlink",
			Subsystem: "session",
			Name:      "state",
			Help:      "Session state (0 idle, 1 starting, 2 running, 3 stopping).",
		},
		[]string{"conn"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			sessionFrames, sessionBytes, sessionChannelErrors, sessionRecordsDropped, sessionState,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFrame(conn string, ok bool) {
	RegisterMetrics()
	result := FrameResultOK
	if !ok {
		result = FrameResultError
	}
	sessionFrames.WithLabelValues(conn, result).Inc()
}

func RecordBytes(conn, direction string, n int) {
	RegisterMetrics()
	if n <= 0 {
		return
	}
	sessionBytes.WithLabelValues(conn, direction).Add(float64(n))
}

func RecordChannelError(conn string) {
	RegisterMetrics()
	sessionChannelErrors.WithLabelValues(conn).Inc()
}

func RecordDroppedRecord(conn string) {
	RegisterMetrics()
	sessionRecordsDropped.WithLabelValues(conn).Inc()
}

func SetSessionState(conn string, state int) {
	RegisterMetrics()
	sessionState.WithLabelValues(conn).Set(float64(state))
}
