package server

import (
	"log/slog"

	"github.com/vango-dev/yrelay/pkg/protocol"
	"github.com/vango-dev/yrelay/pkg/room"
)

// Broadcaster fans a message out to the members of a room.
type Broadcaster struct {
	registry *room.Registry
	conns    *ConnectionTable
	stats    *StatsCollector
	logger   *slog.Logger
}

// NewBroadcaster creates a Broadcaster over registry membership and conns.
func NewBroadcaster(registry *room.Registry, conns *ConnectionTable, stats *StatsCollector, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if stats == nil {
		stats = NewStatsCollector()
	}
	return &Broadcaster{
		registry: registry,
		conns:    conns,
		stats:    stats,
		logger:   logger.With("component", "broadcaster"),
	}
}

// Broadcast encodes msg once and sends it to every member of roomName except
// excludeClientID. Members without an open connection are skipped. It
// returns the number of members the frame was handed to.
func (b *Broadcaster) Broadcast(roomName string, msg *protocol.Message, excludeClientID string) int {
	members := b.registry.ClientsInRoom(roomName)
	if len(members) == 0 {
		return 0
	}
	data := msg.Encode()
	return b.BroadcastRaw(roomName, members, data, excludeClientID)
}

// BroadcastRaw sends pre-encoded data to members except excludeClientID.
func (b *Broadcaster) BroadcastRaw(roomName string, members []string, data []byte, excludeClientID string) int {
	sent := 0
	for _, id := range members {
		if id == excludeClientID {
			continue
		}
		if b.conns.SendTo(id, data) {
			sent++
		}
	}
	b.stats.RecordBroadcast(sent)
	if sent > 0 {
		b.logger.Debug("broadcast",
			"room", roomName,
			"recipients", sent,
			"bytes", len(data))
	}
	return sent
}
