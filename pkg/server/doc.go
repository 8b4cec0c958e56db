// Package server relays y-websocket traffic between clients in the same room.
//
// A Server upgrades HTTP requests on /ws/{room} to WebSocket connections,
// assigns every connection a client id, and joins it to the room named in the
// URL. From then on every binary frame is decoded and handed to the
// Orchestrator, which drives the sync handshake against the room's document
// and fans updates and awareness out to the other members.
//
// # Architecture
//
//   - Session: one WebSocket connection with a bounded outbound queue
//   - ConnectionTable: bidirectional map between sessions and client ids
//   - Orchestrator: per-client sync state machine and frame routing
//   - Broadcaster: room fan-out that skips the sender and closed members
//   - EventSink: connect, disconnect, message, and error notifications
//
// # Sync Handshake
//
// On join the server sends SYNC_REQUEST carrying its state vector. A client
// SYNC_REQUEST is answered with SYNC_RESPONSE (when the client is missing
// anything) followed by the server's own SYNC_REQUEST. SYNC_RESPONSE and
// UPDATE frames are applied to the room document and, once applied,
// forwarded to every other member as UPDATE.
//
// # Concurrency
//
// Each session runs a read goroutine that processes frames in arrival order
// and a write goroutine that drains the outbound queue and sends heartbeat
// pings. Sends never block: a session whose queue is full is closed and the
// client resyncs on reconnect.
//
// # Example Usage
//
//	srv := server.New(server.DefaultServerConfig().WithAddress(":1234"))
//	if err := srv.Run(); err != nil {
//	    log.Fatal(err)
//	}
package server
