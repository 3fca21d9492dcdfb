package presence

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// serviceMethodPrefix names the presence RPC service on the wire, matching
// the method names §6.4 lists.
const serviceMethodPrefix = "/presence.v1.PresenceService/"

// UserStatus enumerates the presence states of §3's User entity.
type UserStatus string

const (
	StatusOffline UserStatus = "OFFLINE"
	StatusOnline  UserStatus = "ONLINE"
	StatusAway    UserStatus = "AWAY"
	StatusBusy    UserStatus = "BUSY"
)

// Stub is a client handle bound to one presence-service replica for the
// lifetime of the RPCs it issues, per the GLOSSARY's definition.
type Stub struct {
	conn    *grpc.ClientConn
	target  string
	tainted bool
}

// Dial opens a stub against host:port. Per §6.4, the wire schema is assumed
// to be a generated stub; here that role is filled by the JSON codec
// registered in codec.go, invoked directly with grpc.ClientConn.Invoke.
func Dial(ctx context.Context, host string, port int) (*Stub, error) {
	target := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.DialContext(ctx, target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)),
	)
	if err != nil {
		return nil, err
	}
	return &Stub{conn: conn, target: target}, nil
}

// Tainted reports whether this stub has observed a transport error and must
// be discarded rather than returned to the pool (§4.6).
func (s *Stub) Tainted() bool { return s.tainted }

// Close releases the underlying channel.
func (s *Stub) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *Stub) invoke(ctx context.Context, method string, req, resp interface{}) error {
	err := s.conn.Invoke(ctx, serviceMethodPrefix+method, req, resp)
	if err != nil {
		s.tainted = true
	}
	return err
}

// UpdateUserStatusRequest/Response mirror §6.4's
// UpdateUserStatus(userId, status, sessionToken) -> (success, message).
type UpdateUserStatusRequest struct {
	UserID       string     `json:"userId"`
	Status       UserStatus `json:"status"`
	SessionToken string     `json:"sessionToken"`
}

type UpdateUserStatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Stub) UpdateUserStatus(ctx context.Context, req UpdateUserStatusRequest) (UpdateUserStatusResponse, error) {
	var resp UpdateUserStatusResponse
	err := s.invoke(ctx, "UpdateUserStatus", &req, &resp)
	return resp, err
}

// GetUserStatusRequest/Response mirror
// GetUserStatus(userId) -> (success, status, lastSeenMillis, message).
type GetUserStatusRequest struct {
	UserID string `json:"userId"`
}

type GetUserStatusResponse struct {
	Success        bool       `json:"success"`
	Status         UserStatus `json:"status"`
	LastSeenMillis int64      `json:"lastSeenMillis"`
	Message        string     `json:"message"`
}

func (s *Stub) GetUserStatus(ctx context.Context, req GetUserStatusRequest) (GetUserStatusResponse, error) {
	var resp GetUserStatusResponse
	err := s.invoke(ctx, "GetUserStatus", &req, &resp)
	return resp, err
}

// FriendStatus is one entry of a GetFriendsStatus response.
type FriendStatus struct {
	UserID string     `json:"userId"`
	Status UserStatus `json:"status"`
}

// GetFriendsStatusRequest/Response mirror
// GetFriendsStatus(userId) -> (success, [friendStatus], message).
type GetFriendsStatusRequest struct {
	UserID string `json:"userId"`
}

type GetFriendsStatusResponse struct {
	Success bool           `json:"success"`
	Friends []FriendStatus `json:"friends"`
	Message string         `json:"message"`
}

func (s *Stub) GetFriendsStatus(ctx context.Context, req GetFriendsStatusRequest) (GetFriendsStatusResponse, error) {
	var resp GetFriendsStatusResponse
	err := s.invoke(ctx, "GetFriendsStatus", &req, &resp)
	return resp, err
}

// AddFriendRequest/Response mirror AddFriend(userId, friendId) -> (success, message).
type AddFriendRequest struct {
	UserID   string `json:"userId"`
	FriendID string `json:"friendId"`
}

type AddFriendResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Stub) AddFriend(ctx context.Context, req AddFriendRequest) (AddFriendResponse, error) {
	var resp AddFriendResponse
	err := s.invoke(ctx, "AddFriend", &req, &resp)
	return resp, err
}

// FriendInfo is one entry of a GetFriendsList response.
type FriendInfo struct {
	UserID   string     `json:"userId"`
	Username string     `json:"username"`
	Status   UserStatus `json:"status"`
}

// GetFriendsListRequest/Response mirror
// GetFriendsList(userId) -> (success, [friendInfo], message).
type GetFriendsListRequest struct {
	UserID string `json:"userId"`
}

type GetFriendsListResponse struct {
	Success bool         `json:"success"`
	Friends []FriendInfo `json:"friends"`
	Message string       `json:"message"`
}

func (s *Stub) GetFriendsList(ctx context.Context, req GetFriendsListRequest) (GetFriendsListResponse, error) {
	var resp GetFriendsListResponse
	err := s.invoke(ctx, "GetFriendsList", &req, &resp)
	return resp, err
}
