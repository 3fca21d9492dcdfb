// Package httpapi implements the HTTP Session of §4.2: request dispatch for
// GET /, GET /health, POST /login, POST /register, and the WebSocket
// upgrade handoff, plus the fixed-window rate limiter and token
// verification that gate them. Grounded on Gilliam6-go_ws_bench's gorilla
// stack (gorilla/mux for routing, gorilla/websocket for the upgrade) and
// other_examples/adred-codev-ws_poc__server.go's accept-and-hand-off shape.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	gwinternal "github.com/myluster/QtWebServerChat/internal"
	"github.com/myluster/QtWebServerChat/internal/cache"
	"github.com/myluster/QtWebServerChat/internal/db"
	"github.com/myluster/QtWebServerChat/internal/gatewayconfig"
	"github.com/myluster/QtWebServerChat/internal/gatewayerr"
	"github.com/myluster/QtWebServerChat/internal/health"
	"github.com/myluster/QtWebServerChat/internal/lb"
	"github.com/myluster/QtWebServerChat/internal/presence"
	"github.com/myluster/QtWebServerChat/internal/registry"
	"github.com/myluster/QtWebServerChat/internal/telemetry"
	"github.com/myluster/QtWebServerChat/internal/wsmanager"
	"github.com/pitabwire/util"
)

const serverBanner = "GateServer"
const serverVersion = "1.0.0"

// SessionStarter is implemented by the WebSocket Session package; kept as
// an interface here so httpapi does not import internal/wsession.
type SessionStarter interface {
	Start(ctx context.Context, conn *websocket.Conn, userID int64, remoteAddr string)
}

// Server is the HTTP Session of §4.2.
type Server struct {
	cfg gatewayconfig.Config

	router  *mux.Router
	limiter *rateLimiter
	upgrader websocket.Upgrader

	db       *db.Driver
	cacheS   *cache.Cache
	registry *registry.Registry
	manager  *wsmanager.Manager
	pool     *presence.Pool
	balancer *lb.LoadBalancer
	health   *health.Handler

	sessions SessionStarter
}

// New builds the HTTP Session server. sessions is wired in after
// construction via SetSessionStarter, so httpapi does not depend on
// internal/wsession.
func New(
	cfg gatewayconfig.Config,
	driver *db.Driver,
	cacheSurface *cache.Cache,
	reg *registry.Registry,
	manager *wsmanager.Manager,
	pool *presence.Pool,
	balancer *lb.LoadBalancer,
	healthHandler *health.Handler,
) *Server {
	s := &Server{
		cfg:      cfg,
		limiter:  newRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		db:       driver,
		cacheS:   cacheSurface,
		registry: reg,
		manager:  manager,
		pool:     pool,
		balancer: balancer,
		health:   healthHandler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(_ *http.Request) bool { return true },
		},
	}
	s.router = s.buildRouter()
	return s
}

// SetSessionStarter wires in the WebSocket Session package once
// constructed by the caller (cmd/gateway).
func (s *Server) SetSessionStarter(starter SessionStarter) {
	s.sessions = starter
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	return r
}

// ServeHTTP is the HTTP Session's dispatch entrypoint. A websocket-upgrade
// request is recognized by its headers and handled regardless of path,
// per §4.2's "WebSocket upgrade on any path carrying a token"; everything
// else goes through the routed table.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Server", serverBanner)

	if !s.limiter.Allow(remoteHost(r)) {
		writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	if isUpgradeRequest(r) {
		s.handleUpgrade(w, r)
		return
	}

	s.router.ServeHTTP(w, r)
}

func isUpgradeRequest(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

func remoteHost(r *http.Request) string {
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html><body><h1>" + serverBanner + "</h1></body></html>"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": serverBanner,
		"version": serverVersion,
	})
}

// handleHealth serves §4.2's GET /health. When checkers are registered
// (main.go wires database and cache pings), database_connected reflects a
// live ping via s.health.Check rather than db.IsConnected()'s "was the
// pool ever successfully opened".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	connected := s.db != nil && s.db.IsConnected()

	body := map[string]any{
		"status":             "ok",
		"database_connected": connected,
		"online_users":       len(s.registry.OnlineUsers()),
		"timestamp":          time.Now().Unix(),
		"metrics":            telemetry.Global.Snapshot(),
	}

	if s.health != nil {
		snap := s.health.Check(r.Context())
		body["checks"] = snap.Checks
		if snap.Status != health.StatusHealthy {
			body["status"] = string(snap.Status)
		}
		if dbCheck, ok := snap.Checks["database"]; ok {
			body["database_connected"] = dbCheck.Status == health.StatusHealthy
		}
	}

	writeJSON(w, http.StatusOK, body)
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

func parseCredentials(r *http.Request) (credentials, error) {
	var creds credentials
	contentType := r.Header.Get("Content-Type")

	if strings.Contains(contentType, "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			return credentials{}, gatewayerr.Wrap(gatewayerr.KindProtocol, "invalid JSON body", err)
		}
		return creds, nil
	}

	if err := r.ParseForm(); err != nil {
		return credentials{}, gatewayerr.Wrap(gatewayerr.KindProtocol, "invalid form body", err)
	}
	creds.Username = r.FormValue("username")
	creds.Password = r.FormValue("password")
	creds.Email = r.FormValue("email")
	return creds, nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	creds, err := parseCredentials(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"type": "login_failed", "message": "malformed request"})
		return
	}

	userID, storedHash, err := s.db.GetUserByUsername(ctx, creds.Username)
	if err != nil {
		util.Log(ctx).WithError(err).WithField("username", creds.Username).Info("login failed")
		writeJSON(w, http.StatusUnauthorized, map[string]any{"type": "login_failed", "message": "invalid credentials"})
		return
	}
	if !db.VerifyPassword(creds.Password, storedHash) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"type": "login_failed", "message": "invalid credentials"})
		return
	}

	token := generateToken(userID)
	writeJSON(w, http.StatusOK, map[string]any{
		"type":   "login_success",
		"token":  token,
		"userId": userID,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	creds, err := parseCredentials(r)
	if err != nil || creds.Username == "" || creds.Password == "" || creds.Email == "" {
		writeJSONError(w, http.StatusBadRequest, "missing required fields")
		return
	}

	userID, err := s.db.CreateUser(ctx, creds.Username, creds.Password, creds.Email)
	if err != nil {
		if gatewayerr.Is(err, gatewayerr.KindConflict) {
			writeJSONError(w, http.StatusConflict, "username taken")
			return
		}
		var errType string
		var ge *gatewayerr.Error
		if errors.As(err, &ge) {
			errType = ge.Kind.String()
		}
		util.Log(ctx).WithError(err).WithField("username", creds.Username).
			WithField(gwinternal.LogFieldErrorType, errType).Error("register failed")
		writeJSONError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"type":   "register_success",
		"userId": userID,
	})
}

func extractToken(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if tok := r.Header.Get("Token"); tok != "" {
		return tok
	}
	return ""
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	token := extractToken(r)
	if token == "" {
		writeJSONError(w, http.StatusUnauthorized, "Unauthorized: Missing token")
		return
	}

	userID, ok := verifyToken(token)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "Unauthorized: Invalid token")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.Log(r.Context()).WithError(err).WithField(gwinternal.LogFieldRemoteAddr, r.RemoteAddr).
			Info("websocket upgrade failed")
		return
	}

	if s.sessions == nil {
		_ = conn.Close()
		return
	}
	s.sessions.Start(r.Context(), conn, userID, r.RemoteAddr)
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
