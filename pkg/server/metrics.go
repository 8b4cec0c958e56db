package server

import (
	"sync/atomic"
	"time"
)

// Stats is a point-in-time snapshot of server activity.
type Stats struct {
	// Connections
	ActiveConnections int    `json:"active_connections"`
	TotalConnections  uint64 `json:"total_connections"`
	ClosedConnections uint64 `json:"closed_connections"`
	PeakConnections   int64  `json:"peak_connections"`

	// Rooms
	Rooms int `json:"rooms"`

	// Frames
	FramesReceived uint64 `json:"frames_received"`
	BytesReceived  uint64 `json:"bytes_received"`
	UpdatesApplied uint64 `json:"updates_applied"`

	// Fan-out
	Broadcasts          uint64 `json:"broadcasts"`
	BroadcastRecipients uint64 `json:"broadcast_recipients"`
	BytesSent           uint64 `json:"bytes_sent"`

	// Errors
	FrameErrors    uint64 `json:"frame_errors"`
	QueueOverflows uint64 `json:"queue_overflows"`

	CollectedAt time.Time `json:"collected_at"`
}

// StatsCollector accumulates counters from connection goroutines.
type StatsCollector struct {
	connsOpened atomic.Uint64
	connsClosed atomic.Uint64
	active      atomic.Int64
	peak        atomic.Int64

	framesReceived atomic.Uint64
	bytesReceived  atomic.Uint64
	updatesApplied atomic.Uint64

	broadcasts atomic.Uint64
	recipients atomic.Uint64
	bytesSent  atomic.Uint64

	frameErrors    atomic.Uint64
	queueOverflows atomic.Uint64
}

// NewStatsCollector creates a zeroed collector.
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{}
}

// RecordConnect records a new connection.
func (m *StatsCollector) RecordConnect() {
	m.connsOpened.Add(1)
	n := m.active.Add(1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

// RecordDisconnect records a closed connection.
func (m *StatsCollector) RecordDisconnect() {
	m.connsClosed.Add(1)
	m.active.Add(-1)
}

// RecordFrame records an inbound frame of n bytes.
func (m *StatsCollector) RecordFrame(n int) {
	m.framesReceived.Add(1)
	m.bytesReceived.Add(uint64(n))
}

// RecordUpdateApplied records an update applied to a room document.
func (m *StatsCollector) RecordUpdateApplied() {
	m.updatesApplied.Add(1)
}

// RecordBroadcast records one fan-out to recipients members.
func (m *StatsCollector) RecordBroadcast(recipients int) {
	m.broadcasts.Add(1)
	m.recipients.Add(uint64(recipients))
}

// RecordSend records n bytes written to a connection.
func (m *StatsCollector) RecordSend(n int) {
	m.bytesSent.Add(uint64(n))
}

// RecordFrameError records a per-frame failure.
func (m *StatsCollector) RecordFrameError() {
	m.frameErrors.Add(1)
}

// RecordQueueOverflow records a connection closed for a full send queue.
func (m *StatsCollector) RecordQueueOverflow() {
	m.queueOverflows.Add(1)
}

// Snapshot returns the current counters. Rooms and ActiveConnections are
// filled in by the server.
func (m *StatsCollector) Snapshot() Stats {
	return Stats{
		TotalConnections:    m.connsOpened.Load(),
		ClosedConnections:   m.connsClosed.Load(),
		PeakConnections:     m.peak.Load(),
		FramesReceived:      m.framesReceived.Load(),
		BytesReceived:       m.bytesReceived.Load(),
		UpdatesApplied:      m.updatesApplied.Load(),
		Broadcasts:          m.broadcasts.Load(),
		BroadcastRecipients: m.recipients.Load(),
		BytesSent:           m.bytesSent.Load(),
		FrameErrors:         m.frameErrors.Load(),
		QueueOverflows:      m.queueOverflows.Load(),
		CollectedAt:         time.Now(),
	}
}

// Reset zeroes every counter.
func (m *StatsCollector) Reset() {
	m.connsOpened.Store(0)
	m.connsClosed.Store(0)
	m.active.Store(0)
	m.peak.Store(0)
	m.framesReceived.Store(0)
	m.bytesReceived.Store(0)
	m.updatesApplied.Store(0)
	m.broadcasts.Store(0)
	m.recipients.Store(0)
	m.bytesSent.Store(0)
	m.frameErrors.Store(0)
	m.queueOverflows.Store(0)
}
