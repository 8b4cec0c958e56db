package server

import (
	"sort"
	"sync"
)

// Conn is an outbound connection endpoint.
type Conn interface {
	// Send queues data for delivery. It must not block.
	Send(data []byte) error

	// IsOpen reports whether the connection can still deliver.
	IsOpen() bool
}

// ConnectionTable maps connections to client ids and back. Both directions
// are updated under one lock so they never disagree.
type ConnectionTable struct {
	mu     sync.RWMutex
	byConn map[Conn]string
	byID   map[string]Conn
}

// NewConnectionTable creates an empty table.
func NewConnectionTable() *ConnectionTable {
	return &ConnectionTable{
		byConn: make(map[Conn]string),
		byID:   make(map[string]Conn),
	}
}

// Add registers conn under clientID, replacing any earlier entry for either.
func (t *ConnectionTable) Add(conn Conn, clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.byID[clientID]; ok {
		delete(t.byConn, old)
	}
	if oldID, ok := t.byConn[conn]; ok {
		delete(t.byID, oldID)
	}
	t.byConn[conn] = clientID
	t.byID[clientID] = conn
}

// Remove drops conn and returns the client id it was registered under.
func (t *ConnectionTable) Remove(conn Conn) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.byConn[conn]
	if !ok {
		return "", false
	}
	delete(t.byConn, conn)
	if t.byID[id] == conn {
		delete(t.byID, id)
	}
	return id, true
}

// ClientID returns the id registered for conn.
func (t *ConnectionTable) ClientID(conn Conn) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byConn[conn]
	return id, ok
}

// Conn returns the connection registered for clientID.
func (t *ConnectionTable) Conn(clientID string) (Conn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.byID[clientID]
	return c, ok
}

// SendTo delivers data to clientID. Unknown clients and closed connections
// are skipped silently and report false.
func (t *ConnectionTable) SendTo(clientID string, data []byte) bool {
	c, ok := t.Conn(clientID)
	if !ok || !c.IsOpen() {
		return false
	}
	return c.Send(data) == nil
}

// IDs returns the sorted ids of every registered client.
func (t *ConnectionTable) IDs() []string {
	t.mu.RLock()
	ids := make([]string, 0, len(t.byID))
	for id := range t.byID {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Len returns the number of registered connections.
func (t *ConnectionTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byConn)
}
