package observability

import (
	"testing"
	"time"

	"github.com/danmuck/doorlink/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)

	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("doorlink", "GET", "/health", 200, 12*time.Millisecond)
	RecordBytes("metrics-test", DirectionIn, 0)
	RecordChannelError("metrics-test")
	RecordDroppedRecord("metrics-test")
}

func TestSessionCountersAccumulate(t *testing.T) {
	testlog.Start(t)

	RecordFrame("frames-test", true)
	RecordFrame("frames-test", true)
	RecordFrame("frames-test", false)
	if got := testutil.ToFloat64(sessionFrames.WithLabelValues("frames-test", FrameResultOK)); got != 2 {
		t.Fatalf("ok frames = %v, want 2", got)
	}
	if got := testutil.ToFloat64(sessionFrames.WithLabelValues("frames-test", FrameResultError)); got != 1 {
		t.Fatalf("error frames = %v, want 1", got)
	}

	RecordBytes("bytes-test", DirectionOut, 224)
	RecordBytes("bytes-test", DirectionOut, -5)
	if got := testutil.ToFloat64(sessionBytes.WithLabelValues("bytes-test", DirectionOut)); got != 224 {
		t.Fatalf("out bytes = %v, want 224", got)
	}

	SetSessionState("state-test", 2)
	if got := testutil.ToFloat64(sessionState.WithLabelValues("state-test")); got != 2 {
		t.Fatalf("state gauge = %v, want 2", got)
	}
}
