// Package room tracks rooms: one replicated document per room name, the
// clients currently in each room, and their latest awareness blobs.
//
// The registry is safe for concurrent use from every connection goroutine.
// Rooms live in a sync.Map and each room carries its own locks, so traffic
// in one room never waits on another.
package room

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/vango-dev/yrelay/pkg/document"
)

// room holds per-room state. Rooms are never removed.
type room struct {
	name string
	doc  document.Doc

	// txMu serializes write transactions and lets reads share.
	txMu sync.RWMutex

	// mu protects members and awareness.
	mu        sync.RWMutex
	members   map[string]struct{}
	awareness map[string][]byte
}

func newRoom(name string, doc document.Doc) *room {
	return &room{
		name:      name,
		doc:       doc,
		members:   make(map[string]struct{}),
		awareness: make(map[string][]byte),
	}
}

// Registry owns every room known to one server instance.
type Registry struct {
	store document.Store

	rooms      sync.Map // name -> *room
	clientRoom sync.Map // client id -> room name
	creates    singleflight.Group

	closed atomic.Bool
	logger *slog.Logger
}

// NewRegistry creates a registry that opens room documents from store.
func NewRegistry(store document.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  store,
		logger: logger.With("component", "room_registry"),
	}
}

// getOrCreate returns the room for name, creating it and its document on
// first reference. Concurrent first references share one creation.
func (r *Registry) getOrCreate(name string) (*room, error) {
	if v, ok := r.rooms.Load(name); ok {
		return v.(*room), nil
	}
	if r.closed.Load() {
		return nil, ErrClosed
	}

	v, err, _ := r.creates.Do(name, func() (any, error) {
		// A previous flight may have finished between Load and Do.
		if v, ok := r.rooms.Load(name); ok {
			return v, nil
		}
		doc, err := r.store.Open(name)
		if err != nil {
			return nil, fmt.Errorf("room: %s: open document: %w", name, err)
		}
		rm := newRoom(name, doc)
		r.rooms.Store(name, rm)
		r.logger.Debug("room created", "room", name)
		return rm, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*room), nil
}

// Document returns the room's document, creating an empty one on first
// reference. Repeated calls return the same document.
func (r *Registry) Document(name string) (document.Doc, error) {
	rm, err := r.getOrCreate(name)
	if err != nil {
		return nil, err
	}
	return rm.doc, nil
}

// Join records clientID as a member of the named room. Joining the same room
// twice is a no-op. Membership in a previously joined room is left as is.
func (r *Registry) Join(clientID, name string) error {
	rm, err := r.getOrCreate(name)
	if err != nil {
		return err
	}

	rm.mu.Lock()
	rm.members[clientID] = struct{}{}
	rm.mu.Unlock()

	if prev, loaded := r.clientRoom.Swap(clientID, name); loaded && prev.(string) != name {
		r.logger.Warn("client joined a second room",
			"client_id", clientID,
			"previous_room", prev,
			"room", name)
	}
	return nil
}

// Leave removes clientID from its current room and drops its awareness
// entry. It is a no-op for clients that are not in a room.
func (r *Registry) Leave(clientID string) {
	v, ok := r.clientRoom.LoadAndDelete(clientID)
	if !ok {
		return
	}
	rmv, ok := r.rooms.Load(v.(string))
	if !ok {
		return
	}
	rm := rmv.(*room)

	rm.mu.Lock()
	delete(rm.members, clientID)
	delete(rm.awareness, clientID)
	rm.mu.Unlock()
}

// ClientRoom returns the room clientID last joined.
func (r *Registry) ClientRoom(clientID string) (string, bool) {
	v, ok := r.clientRoom.Load(clientID)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// ApplyUpdate applies update to the room's document in an exclusive write
// transaction. On success it returns update unchanged, ready to broadcast.
func (r *Registry) ApplyUpdate(name string, update []byte) ([]byte, error) {
	rm, err := r.getOrCreate(name)
	if err != nil {
		return nil, err
	}

	rm.txMu.Lock()
	defer rm.txMu.Unlock()

	txn := rm.doc.BeginWrite()
	if code := txn.Apply(update); code != document.ApplyOK {
		txn.Abort()
		return nil, &ApplyError{Room: name, Code: code}
	}
	if err := txn.Commit(); err != nil {
		return nil, &ApplyError{Room: name, Code: -1, Err: err}
	}
	return update, nil
}

// StateVector returns the state vector of the room's document.
func (r *Registry) StateVector(name string) ([]byte, error) {
	rm, err := r.getOrCreate(name)
	if err != nil {
		return nil, &SyncError{Room: name, Op: "state_vector", Err: err}
	}

	rm.txMu.RLock()
	defer rm.txMu.RUnlock()

	txn := rm.doc.BeginRead()
	defer txn.Release()

	sv, err := txn.StateVector()
	if err != nil {
		return nil, &SyncError{Room: name, Op: "state_vector", Err: err}
	}
	return sv, nil
}

// StateDiff returns the update a peer holding stateVector is missing.
func (r *Registry) StateDiff(name string, stateVector []byte) ([]byte, error) {
	rm, err := r.getOrCreate(name)
	if err != nil {
		return nil, &SyncError{Room: name, Op: "state_diff", Err: err}
	}

	rm.txMu.RLock()
	defer rm.txMu.RUnlock()

	txn := rm.doc.BeginRead()
	defer txn.Release()

	diff, err := txn.Diff(stateVector)
	if err != nil {
		return nil, &SyncError{Room: name, Op: "state_diff", Err: err}
	}
	return diff, nil
}

// UpdateAwareness stores blob as clientID's awareness in the named room,
// replacing any earlier blob from the same client.
func (r *Registry) UpdateAwareness(clientID, name string, blob []byte) error {
	rm, err := r.getOrCreate(name)
	if err != nil {
		return err
	}
	cp := append([]byte(nil), blob...)

	rm.mu.Lock()
	rm.awareness[clientID] = cp
	rm.mu.Unlock()
	return nil
}

// Awareness returns a copy of the room's awareness map. Unknown rooms yield
// an empty map.
func (r *Registry) Awareness(name string) map[string][]byte {
	out := make(map[string][]byte)
	v, ok := r.rooms.Load(name)
	if !ok {
		return out
	}
	rm := v.(*room)

	rm.mu.RLock()
	defer rm.mu.RUnlock()
	for id, blob := range rm.awareness {
		out[id] = append([]byte(nil), blob...)
	}
	return out
}

// ClientsInRoom returns a sorted snapshot of the room's members.
func (r *Registry) ClientsInRoom(name string) []string {
	v, ok := r.rooms.Load(name)
	if !ok {
		return nil
	}
	rm := v.(*room)

	rm.mu.RLock()
	ids := make([]string, 0, len(rm.members))
	for id := range rm.members {
		ids = append(ids, id)
	}
	rm.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Exists reports whether the named room has been created.
func (r *Registry) Exists(name string) bool {
	_, ok := r.rooms.Load(name)
	return ok
}

// Info summarizes one room.
type Info struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
}

// Rooms returns a snapshot of every room ordered by name.
func (r *Registry) Rooms() []Info {
	var out []Info
	r.rooms.Range(func(_, v any) bool {
		rm := v.(*room)
		rm.mu.RLock()
		out = append(out, Info{Name: rm.name, Members: len(rm.members)})
		rm.mu.RUnlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close destroys every document and forgets all rooms and memberships.
// Calls after Close that would create a room fail with ErrClosed.
func (r *Registry) Close() {
	if r.closed.Swap(true) {
		return
	}
	r.rooms.Range(func(k, v any) bool {
		rm := v.(*room)
		rm.txMu.Lock()
		rm.doc.Destroy()
		rm.txMu.Unlock()
		r.rooms.Delete(k)
		return true
	})
	r.clientRoom.Range(func(k, _ any) bool {
		r.clientRoom.Delete(k)
		return true
	})
	r.logger.Info("registry closed")
}
