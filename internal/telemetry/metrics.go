// Package telemetry tracks the gateway's own aggregate counters, surfaced
// through GET /health per SPEC_FULL.md's Open Question decision on the
// outbound-queue backpressure policy: each session's outbound queue is
// bounded, and a session increments SlowPeers each time it drops a frame
// because its queue is full.
//
// The teacher's internal/telemetry wraps github.com/pitabwire/frame/telemetry
// (an OpenTelemetry facade bundled with the wider frame.Service bootstrap).
// This gateway does not carry frame.Service — see DESIGN.md for why — and no
// other example in the pack wires OpenTelemetry independently of it, so
// pulling in frame's transitive graph for counters alone would violate the
// wire-it-or-delete-it rule. Plain atomic counters are the grounded
// alternative for the one metric SPEC_FULL.md actually calls for.
package telemetry

import "sync/atomic"

// Counters aggregates gateway-wide counts. The zero value is ready to use.
type Counters struct {
	messagesSent      atomic.Int64
	messagesDelivered atomic.Int64
	messagesFailed    atomic.Int64
	connectionsOpened atomic.Int64
	connectionsClosed atomic.Int64
	heartbeatTimeouts atomic.Int64
	slowPeers         atomic.Int64
}

// Global is the process-wide counters instance, read by
// internal/httpapi's GET /health handler and written by internal/wsession.
//
//nolint:gochecknoglobals // mirrors the teacher's package-level metric handles
var Global = &Counters{}

func (c *Counters) MessageSent()      { c.messagesSent.Add(1) }
func (c *Counters) MessageDelivered() { c.messagesDelivered.Add(1) }
func (c *Counters) MessageFailed()    { c.messagesFailed.Add(1) }
func (c *Counters) ConnectionOpened() { c.connectionsOpened.Add(1) }
func (c *Counters) ConnectionClosed() { c.connectionsClosed.Add(1) }
func (c *Counters) HeartbeatTimeout() { c.heartbeatTimeouts.Add(1) }
func (c *Counters) SlowPeerDetected() { c.slowPeers.Add(1) }

// Snapshot is a point-in-time read of every counter, safe to marshal
// directly into a JSON health response.
type Snapshot struct {
	MessagesSent      int64 `json:"messages_sent"`
	MessagesDelivered int64 `json:"messages_delivered"`
	MessagesFailed    int64 `json:"messages_failed"`
	ConnectionsOpened int64 `json:"connections_opened"`
	ConnectionsClosed int64 `json:"connections_closed"`
	HeartbeatTimeouts int64 `json:"heartbeat_timeouts"`
	SlowPeers         int64 `json:"slow_peers"`
}

// Snapshot reads every counter without blocking writers.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		MessagesSent:      c.messagesSent.Load(),
		MessagesDelivered: c.messagesDelivered.Load(),
		MessagesFailed:    c.messagesFailed.Load(),
		ConnectionsOpened: c.connectionsOpened.Load(),
		ConnectionsClosed: c.connectionsClosed.Load(),
		HeartbeatTimeouts: c.heartbeatTimeouts.Load(),
		SlowPeers:         c.slowPeers.Load(),
	}
}
