package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vango-dev/yrelay/pkg/protocol"
	"github.com/vango-dev/yrelay/pkg/room"
)

// SyncState is a client's position in the sync handshake.
type SyncState uint8

const (
	StateNotJoined         SyncState = iota // No room yet
	StateAwaitingFirstSync                  // Joined, nothing applied from the client yet
	StateSynced                             // At least one client update applied
)

// String returns the string representation of the state.
func (s SyncState) String() string {
	switch s {
	case StateNotJoined:
		return "NotJoined"
	case StateAwaitingFirstSync:
		return "AwaitingFirstSync"
	case StateSynced:
		return "Synced"
	default:
		return "Unknown"
	}
}

// Orchestrator routes decoded frames to the room registry and drives the
// sync handshake for every connected client.
type Orchestrator struct {
	registry    *room.Registry
	conns       *ConnectionTable
	broadcaster *Broadcaster
	stats       *StatsCollector

	mwMu       sync.RWMutex
	middleware []FrameMiddleware

	statesMu sync.RWMutex
	states   map[string]SyncState

	logger *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(registry *room.Registry, conns *ConnectionTable, broadcaster *Broadcaster, stats *StatsCollector, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if stats == nil {
		stats = NewStatsCollector()
	}
	return &Orchestrator{
		registry:    registry,
		conns:       conns,
		broadcaster: broadcaster,
		stats:       stats,
		states:      make(map[string]SyncState),
		logger:      logger.With("component", "orchestrator"),
	}
}

// Use appends frame middleware. Middleware added later runs inside earlier
// middleware.
func (o *Orchestrator) Use(mws ...FrameMiddleware) {
	o.mwMu.Lock()
	o.middleware = append(o.middleware, mws...)
	o.mwMu.Unlock()
}

// State returns the sync state of clientID.
func (o *Orchestrator) State(clientID string) SyncState {
	o.statesMu.RLock()
	defer o.statesMu.RUnlock()
	return o.states[clientID]
}

func (o *Orchestrator) setState(clientID string, s SyncState) {
	o.statesMu.Lock()
	o.states[clientID] = s
	o.statesMu.Unlock()
}

// advance moves clientID to Synced unless it has left in the meantime.
func (o *Orchestrator) advance(clientID string) {
	o.statesMu.Lock()
	if st, ok := o.states[clientID]; ok && st == StateAwaitingFirstSync {
		o.states[clientID] = StateSynced
	}
	o.statesMu.Unlock()
}

// Join records clientID as a member of roomName and opens the handshake by
// sending the room's state vector as SYNC_REQUEST.
func (o *Orchestrator) Join(clientID, roomName string) error {
	if err := o.registry.Join(clientID, roomName); err != nil {
		return NewRoutingError(clientID, "join", err)
	}
	o.setState(clientID, StateAwaitingFirstSync)

	sv, err := o.registry.StateVector(roomName)
	if err != nil {
		return err
	}
	o.send(clientID, protocol.NewSyncRequest(sv))

	o.logger.Debug("client joined", "client_id", clientID, "room", roomName)
	return nil
}

// Leave removes clientID from its room, dropping its awareness entry.
func (o *Orchestrator) Leave(clientID string) {
	o.registry.Leave(clientID)

	o.statesMu.Lock()
	delete(o.states, clientID)
	o.statesMu.Unlock()
}

// HandleFrame decodes and processes one binary frame from clientID. It
// returns the decoded message, or the per-frame error. Errors never affect
// other frames or clients.
func (o *Orchestrator) HandleFrame(ctx context.Context, clientID string, data []byte) (*protocol.Message, error) {
	o.stats.RecordFrame(len(data))

	f := &Frame{ClientID: clientID, Data: data}
	if name, ok := o.registry.ClientRoom(clientID); ok {
		f.Room = name
	}
	msg, decodeErr := protocol.DecodeMessage(data)
	f.Message = msg

	o.mwMu.RLock()
	mws := o.middleware
	o.mwMu.RUnlock()

	run := chain(mws, f, func(ctx context.Context) error {
		if decodeErr != nil {
			return decodeErr
		}
		return o.dispatch(ctx, f)
	})
	return msg, run(ctx)
}

func (o *Orchestrator) dispatch(_ context.Context, f *Frame) error {
	msg := f.Message
	switch msg.Type {
	case protocol.MessageSync:
		if f.Room == "" {
			return nil
		}
		return o.handleSync(f.ClientID, f.Room, msg.Payload)

	case protocol.MessageAwareness:
		if f.Room == "" {
			return nil
		}
		return o.handleAwareness(f.ClientID, f.Room, msg.Payload, f.Data)

	default:
		// AUTH, QUERY_AWARENESS and ROOM_LIST carry no relay action.
		return nil
	}
}

func (o *Orchestrator) handleSync(clientID, roomName string, payload []byte) error {
	sm, err := protocol.DecodeSync(payload)
	if err != nil {
		return err
	}

	switch sm.Type {
	case protocol.SyncRequest:
		diff, err := o.registry.StateDiff(roomName, sm.Data)
		if err != nil {
			return err
		}
		if len(diff) > 0 {
			o.send(clientID, protocol.NewSyncResponse(diff))
		}
		// Always pull whatever the client has that we lack.
		sv, err := o.registry.StateVector(roomName)
		if err != nil {
			return err
		}
		o.send(clientID, protocol.NewSyncRequest(sv))

	case protocol.SyncResponse, protocol.SyncUpdate:
		update, err := o.registry.ApplyUpdate(roomName, sm.Data)
		if err != nil {
			return err
		}
		o.stats.RecordUpdateApplied()
		o.broadcaster.Broadcast(roomName, protocol.NewUpdate(update), clientID)
		o.advance(clientID)
	}
	return nil
}

func (o *Orchestrator) handleAwareness(clientID, roomName string, blob, raw []byte) error {
	if err := o.registry.UpdateAwareness(clientID, roomName, blob); err != nil {
		return NewRoutingError(clientID, "awareness", err)
	}
	members := o.registry.ClientsInRoom(roomName)
	o.broadcaster.BroadcastRaw(roomName, members, raw, clientID)
	return nil
}

func (o *Orchestrator) send(clientID string, msg *protocol.Message) {
	if !o.conns.SendTo(clientID, msg.Encode()) {
		o.logger.Debug("send skipped", "client_id", clientID, "message", msg.String())
	}
}
