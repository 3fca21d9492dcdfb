// Package wsession implements the WebSocket Session of §4.3: the
// goroutine-per-connection actor that owns one upgraded connection from
// registration through teardown, dispatching inbound frames and serializing
// outbound writes through a single writer goroutine. Grounded on the
// teacher's apps/gateway/service/business/connection.go actor shape (one
// goroutine reads, one goroutine writes, a channel between them) and
// other_examples/adred-codev-ws_poc__server.go's read-loop/dispatch split.
package wsession

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	gwinternal "github.com/myluster/QtWebServerChat/internal"
	"github.com/myluster/QtWebServerChat/internal/cache"
	"github.com/myluster/QtWebServerChat/internal/db"
	"github.com/myluster/QtWebServerChat/internal/gatewayconfig"
	"github.com/myluster/QtWebServerChat/internal/presence"
	"github.com/myluster/QtWebServerChat/internal/protocol"
	"github.com/myluster/QtWebServerChat/internal/registry"
	"github.com/myluster/QtWebServerChat/internal/telemetry"
	"github.com/myluster/QtWebServerChat/internal/wsmanager"
	"github.com/pitabwire/util"
)

// outboundCapacity bounds the per-session write queue. A session that fills
// it faster than the writer can drain is a slow peer, per SPEC_FULL.md's
// Open Question decision: today's policy is drop-newest-and-count, leaving
// a drop-oldest upgrade as a later change keyed off SlowPeers.
const outboundCapacity = 256

// Runner constructs and starts WebSocket Sessions, wired to every shared
// backend component. It implements httpapi.SessionStarter.
type Runner struct {
	cfg      gatewayconfig.Config
	registry *registry.Registry
	manager  *wsmanager.Manager
	pool     *presence.Pool
	db       *db.Driver
	cacheS   *cache.Cache
}

// NewRunner builds a Runner over the gateway's shared components.
func NewRunner(
	cfg gatewayconfig.Config,
	reg *registry.Registry,
	manager *wsmanager.Manager,
	pool *presence.Pool,
	driver *db.Driver,
	cacheSurface *cache.Cache,
) *Runner {
	return &Runner{cfg: cfg, registry: reg, manager: manager, pool: pool, db: driver, cacheS: cacheSurface}
}

// Start builds a Session for an upgraded connection and runs it until
// teardown. It returns immediately; the session runs on its own goroutines.
func (r *Runner) Start(ctx context.Context, conn *websocket.Conn, userID int64, remoteAddr string) {
	s := &Session{
		conn:       conn,
		userID:     userID,
		userKey:    strconv.FormatInt(userID, 10),
		remoteAddr: remoteAddr,
		outbound:   make(chan []byte, outboundCapacity),
		done:       make(chan struct{}),
		registry:   r.registry,
		manager:    r.manager,
		pool:       r.pool,
		db:         r.db,
		cacheS:     r.cacheS,
		cfg:        r.cfg,
	}
	go s.run(ctx)
}

// Session is one live upgraded WebSocket connection, per §4.3.
type Session struct {
	conn       *websocket.Conn
	userID     int64
	userKey    string
	sessionID  string
	remoteAddr string

	outbound chan []byte
	done     chan struct{}
	closeOne sync.Once

	lastActivity atomic.Int64 // unix nanos, updated by touch, read by the heartbeat watchdog

	registry *registry.Registry
	manager  *wsmanager.Manager
	pool     *presence.Pool
	db       *db.Driver
	cacheS   *cache.Cache
	cfg      gatewayconfig.Config
}

// run is the startup sequence of §4.3: register, publish ONLINE, start the
// writer and heartbeat, then block in the read loop until teardown.
func (s *Session) run(ctx context.Context) {
	var fellBack bool
	s.sessionID, fellBack = mintSessionID()
	if fellBack {
		util.Log(ctx).WithField(gwinternal.LogFieldUserID, s.userKey).
			Warn("session id CSPRNG failed, fell back to UUID-derived id")
	}
	s.touch()

	s.registry.Add(s.userKey, s, s.sessionID, s.remoteAddr)
	s.manager.Put(s.userKey, s)
	telemetry.Global.ConnectionOpened()

	s.publishStatus(ctx, presence.StatusOnline)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.writeLoop() }()
	go func() { defer wg.Done(); s.heartbeatLoop(ctx) }()

	s.readLoop(ctx)

	s.teardown(ctx, "connection closed")
	wg.Wait()
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
	s.registry.Touch(s.userKey, s)
}

// writeLoop is the session's single writer, per §4.3's single-writer
// discipline: only this goroutine ever calls conn.WriteMessage. It never
// closes s.outbound itself — other sessions' handleTextMessage and this
// session's own heartbeatLoop enqueue onto it concurrently with teardown,
// so the channel is left open for the process lifetime and writeLoop exits
// on s.done instead, draining whatever teardown already queued (its Bye
// frame) before returning.
func (s *Session) writeLoop() {
	for {
		select {
		case raw := <-s.outbound:
			if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-s.done:
			for {
				select {
				case raw := <-s.outbound:
					_ = s.conn.WriteMessage(websocket.TextMessage, raw)
				default:
					return
				}
			}
		}
	}
}

// enqueue pushes a frame onto the outbound queue without blocking the
// caller. A full queue means the peer is not draining fast enough; the
// frame is dropped and counted rather than blocking the sender. A closed
// (torn down) session drops the frame instead of sending, since nothing
// reads s.outbound anymore once writeLoop has returned.
func (s *Session) enqueue(v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case <-s.done:
	case s.outbound <- raw:
	default:
		telemetry.Global.SlowPeerDetected()
	}
}

// heartbeatLoop sends periodic pings and forces teardown if no client
// activity has been observed for HeartbeatTimeoutFactor*HeartbeatInterval,
// per §4.3. On timeout it drives teardown itself, with reason
// "heartbeat_timeout", so the Bye frame carries the actual close cause
// instead of readLoop's generic "connection closed" once it observes the
// resulting read error; closeOne makes that second call a no-op.
func (s *Session) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	timeout := time.Duration(s.cfg.HeartbeatTimeoutFactor) * s.cfg.HeartbeatInterval

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			last := time.Unix(0, s.lastActivity.Load())
			if time.Since(last) > timeout {
				telemetry.Global.HeartbeatTimeout()
				util.Log(ctx).WithField(gwinternal.LogFieldUserID, s.userKey).WithField(gwinternal.LogFieldSessionID, s.sessionID).
					Info("heartbeat timeout, closing session")
				s.teardown(ctx, "heartbeat_timeout")
				return
			}
			s.enqueue(protocol.OutHeartbeatPing{Type: protocol.TypeHeartbeatPing, Timestamp: time.Now().Unix()})
		}
	}
}

// readLoop blocks reading frames until the connection closes or a fatal
// read error occurs, dispatching each successfully-parsed frame.
func (s *Session) readLoop(ctx context.Context) {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.touch()
		s.dispatch(ctx, raw)
	}
}

// dispatch routes one inbound frame by its type discriminator, per §4.3's
// dispatch table. A frame that fails to parse or names an unrecognized
// type falls back to the echo wrapper.
func (s *Session) dispatch(ctx context.Context, raw []byte) {
	env, err := protocol.ParseEnvelope(raw)
	if err != nil {
		s.enqueue(protocol.NewEcho(string(raw)))
		return
	}

	switch env.Type {
	case protocol.TypeLogin:
		s.enqueue(protocol.OutLoginResponse{Type: protocol.TypeLoginResponse, Success: true, UserID: s.userKey})
	case protocol.TypeHeartbeat:
		s.enqueue(protocol.OutHeartbeatResponse{Type: protocol.TypeHeartbeatResponse, Timestamp: time.Now().Unix()})
	case protocol.TypeTextMessage:
		s.handleTextMessage(ctx, raw)
	case protocol.TypeSearchUser:
		s.handleSearchUser(ctx, raw)
	case protocol.TypeAddFriendRequest:
		s.handleAddFriend(ctx, raw)
	case protocol.TypeGetFriendsList:
		s.handleGetFriendsList(ctx)
	case protocol.TypeGetChatHistory:
		s.handleGetChatHistory(ctx, raw)
	default:
		s.enqueue(protocol.NewEcho(string(raw)))
	}
}

func (s *Session) handleTextMessage(ctx context.Context, raw []byte) {
	var in protocol.InTextMessage
	if err := json.Unmarshal(raw, &in); err != nil || in.ReceiverID == "" {
		s.enqueue(protocol.NewEcho(string(raw)))
		return
	}

	receiverID, err := strconv.ParseInt(in.ReceiverID, 10, 64)
	if err != nil {
		s.enqueue(protocol.NewEcho("invalid receiver id"))
		return
	}

	if s.db != nil {
		if err := s.db.StoreMessage(ctx, s.userID, receiverID, in.Content); err != nil {
			util.Log(ctx).WithError(err).WithField(gwinternal.LogFieldUserID, s.userKey).Warn("store message failed")
			telemetry.Global.MessageFailed()
		}
	}

	out := protocol.OutTextMessage{
		Type:      protocol.TypeTextMessageOut,
		From:      s.userKey,
		Content:   in.Content,
		Timestamp: time.Now().UnixMilli(),
	}

	if target, ok := s.manager.Get(in.ReceiverID).(*Session); ok && target != nil {
		target.enqueue(out)
		telemetry.Global.MessageDelivered()
	}
	telemetry.Global.MessageSent()
}

func (s *Session) handleSearchUser(ctx context.Context, raw []byte) {
	var in protocol.InSearchUser
	if err := json.Unmarshal(raw, &in); err != nil {
		s.enqueue(protocol.NewEcho(string(raw)))
		return
	}

	resp := protocol.OutSearchUserResponse{Type: protocol.TypeSearchUserResponse}
	if s.db != nil {
		results, err := s.db.SearchUsers(ctx, in.Query)
		if err != nil {
			util.Log(ctx).WithError(err).Warn("search users failed")
		}
		for _, r := range results {
			status := "OFFLINE"
			if s.registry.Online(strconv.FormatInt(r.UserID, 10)) {
				status = "ONLINE"
			}
			resp.Results = append(resp.Results, protocol.SearchUserResult{
				UserID: strconv.FormatInt(r.UserID, 10), UserName: r.Username, UserStatus: status,
			})
		}
	}
	s.enqueue(resp)
}

func (s *Session) handleAddFriend(ctx context.Context, raw []byte) {
	var in protocol.InAddFriendRequest
	if err := json.Unmarshal(raw, &in); err != nil || in.FriendID == "" {
		s.enqueue(protocol.NewEcho(string(raw)))
		return
	}

	friendID, err := strconv.ParseInt(in.FriendID, 10, 64)
	if err != nil {
		s.enqueue(protocol.OutAddFriendResponse{Type: protocol.TypeAddFriendResponse, Success: false, Message: "invalid friend id"})
		return
	}

	if s.db != nil {
		if err := s.db.AddFriend(ctx, s.userID, friendID); err != nil {
			s.enqueue(protocol.OutAddFriendResponse{Type: protocol.TypeAddFriendResponse, Success: false, Message: "could not add friend"})
			return
		}
	}

	s.withPresence(ctx, func(stub *presence.Stub) {
		_, _ = stub.AddFriend(ctx, presence.AddFriendRequest{UserID: s.userKey, FriendID: in.FriendID})
	})

	s.enqueue(protocol.OutAddFriendResponse{Type: protocol.TypeAddFriendResponse, Success: true, Message: "friend added"})
}

func (s *Session) handleGetFriendsList(ctx context.Context) {
	resp := protocol.OutFriendsListResponse{Type: protocol.TypeFriendsListResponse}

	s.withPresence(ctx, func(stub *presence.Stub) {
		r, err := stub.GetFriendsList(ctx, presence.GetFriendsListRequest{UserID: s.userKey})
		if err != nil {
			return
		}
		for _, f := range r.Friends {
			resp.Friends = append(resp.Friends, protocol.FriendStatus{
				UserID: f.UserID, UserName: f.Username, UserStatus: string(f.Status),
			})
		}
	})

	s.enqueue(resp)
}

func (s *Session) handleGetChatHistory(ctx context.Context, raw []byte) {
	var in protocol.InGetChatHistory
	if err := json.Unmarshal(raw, &in); err != nil || in.PeerID == "" {
		s.enqueue(protocol.NewEcho(string(raw)))
		return
	}

	peerID, err := strconv.ParseInt(in.PeerID, 10, 64)
	if err != nil || s.db == nil {
		s.enqueue(protocol.OutChatHistoryResponse{Type: protocol.TypeChatHistoryResponse})
		return
	}

	msgs, err := s.db.ChatHistory(ctx, s.userID, peerID, in.Limit)
	if err != nil {
		util.Log(ctx).WithError(err).Warn("chat history query failed")
		s.enqueue(protocol.OutChatHistoryResponse{Type: protocol.TypeChatHistoryResponse})
		return
	}

	resp := protocol.OutChatHistoryResponse{Type: protocol.TypeChatHistoryResponse}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, protocol.ChatMessage{
			SenderID: strconv.FormatInt(m.SenderID, 10), Content: m.Content, Timestamp: m.Timestamp,
		})
	}
	s.enqueue(resp)
}

// withPresence acquires a stub, runs fn, and releases it, swallowing pool
// exhaustion since presence lookups are best-effort supplements to the
// primary database-backed operations.
func (s *Session) withPresence(ctx context.Context, fn func(*presence.Stub)) {
	if s.pool == nil {
		return
	}
	stub, err := s.pool.Acquire(ctx)
	if err != nil {
		util.Log(ctx).WithError(err).Info("presence pool exhausted")
		return
	}
	defer s.pool.Release(stub)
	fn(stub)
}

func (s *Session) publishStatus(ctx context.Context, status presence.UserStatus) {
	s.withPresence(ctx, func(stub *presence.Stub) {
		_, _ = stub.UpdateUserStatus(ctx, presence.UpdateUserStatusRequest{UserID: s.userKey, Status: status})
	})
	if s.cacheS != nil {
		_ = s.cacheS.SetUserStatus(ctx, s.userKey, string(status), s.sessionID, time.Now())
	}
}

// teardown implements §4.3's four teardown invariants, made idempotent by
// closeOne so a heartbeat timeout racing an ordinary close only runs once:
// (1) compare-and-delete from the WebSocket Manager, (2) remove from the
// Connection Registry, (3) publish OFFLINE, (4) close the transport. It
// enqueues the Bye frame and closes s.done, rather than s.outbound, so a
// concurrent sender in another session's handleTextMessage can never panic
// on a send to a closed channel.
func (s *Session) teardown(ctx context.Context, reason string) {
	s.closeOne.Do(func() {
		s.enqueue(protocol.NewBye(reason))
		close(s.done)

		s.manager.Remove(s.userKey, s)
		s.registry.Remove(s.userKey, s)
		s.publishStatus(ctx, presence.StatusOffline)

		_ = s.conn.Close()
		telemetry.Global.ConnectionClosed()
	})
}
