package doorbell

import (
	"sync"

	"github.com/danmuck/doorlink/internal/protocol/session"
)

// RecordLog keeps the most recent decrypted records in arrival order.
type RecordLog struct {
	mu       sync.RWMutex
	capacity int
	items    []session.Record
	total    uint64
}

func NewRecordLog(capacity int) *RecordLog {
	if capacity <= 0 {
		capacity = 1
	}
	return &RecordLog{
		capacity: capacity,
		items:    make([]session.Record, 0, capacity),
	}
}

func (l *RecordLog) Add(rec session.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total++
	if len(l.items) == l.capacity {
		copy(l.items, l.items[1:])
		l.items = l.items[:len(l.items)-1]
	}
	l.items = append(l.items, rec)
}

// Recent returns up to limit newest records, oldest first. limit <= 0
// returns 20.
func (l *RecordLog) Recent(limit int) []session.Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	if len(l.items) <= limit {
		out := make([]session.Record, len(l.items))
		copy(out, l.items)
		return out
	}
	out := make([]session.Record, limit)
	copy(out, l.items[len(l.items)-limit:])
	return out
}

func (l *RecordLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Total counts every record ever added, including evicted ones.
func (l *RecordLog) Total() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}
