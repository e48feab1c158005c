// Package transport owns the socket surface: the WebSocket handshake, the
// per-client read/write pumps, the connection registry that fans server
// events out to players, and the dispatcher that routes inbound frames to
// the room, game, and chat services.
package transport

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gambitlive/backend/internal/v1/auth"
	"github.com/gambitlive/backend/internal/v1/logging"
	"github.com/gambitlive/backend/internal/v1/metrics"
	"github.com/gambitlive/backend/internal/v1/types"
)

// Presence receives socket lifecycle notifications. The room service
// implements it.
type Presence interface {
	HandleConnect(ctx context.Context, userID types.UserID)
	HandleDisconnect(ctx context.Context, userID types.UserID)
}

// Registry is the connection registry: one live socket per user. A second
// connection for the same user supersedes the first. It implements
// types.Broadcaster for the services.
type Registry struct {
	validator      auth.TokenValidator
	presence       Presence
	dispatcher     *Dispatcher
	allowedOrigins []string
	checkOrigin    bool

	mu      sync.RWMutex
	clients map[types.UserID]*Client
}

// NewRegistry creates the registry. checkOrigin enables the handshake origin
// allow-list; development runs with it off.
func NewRegistry(validator auth.TokenValidator, allowedOrigins []string, checkOrigin bool) *Registry {
	return &Registry{
		validator:      validator,
		allowedOrigins: allowedOrigins,
		checkOrigin:    checkOrigin,
		clients:        make(map[types.UserID]*Client),
	}
}

// SetPresence wires the lifecycle listener. The registry is constructed
// before the room service, which needs the registry as its broadcaster, so
// this is injected after the fact.
func (r *Registry) SetPresence(p Presence) {
	r.presence = p
}

// SetDispatcher wires the frame router. Must be called before ServeWs.
func (r *Registry) SetDispatcher(d *Dispatcher) {
	r.dispatcher = d
}

// ServeWs upgrades the HTTP request and authenticates the socket. Token
// failures close the socket with AUTH_FAILED after the upgrade so the client
// sees the 4001 close code rather than a bare HTTP error.
func (r *Registry) ServeWs(c *gin.Context) {
	if err := r.validateOrigin(c.Request); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(req *http.Request) bool {
			return r.validateOrigin(req) == nil
		},
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "failed to upgrade connection", zap.Error(err))
		return
	}

	token := c.Query("token")
	if token == "" {
		closeRejected(conn, types.CloseAuthFailed, "token not provided")
		return
	}
	identity, err := r.validator.ValidateToken(token)
	if err != nil {
		logging.Warn(c.Request.Context(), "token validation failed", zap.Error(err))
		closeRejected(conn, types.CloseAuthFailed, "invalid token")
		return
	}

	r.HandleConnection(conn, identity)
}

// HandleConnection registers an authenticated connection and starts its
// pumps. Exposed separately so tests can drive fake connections.
func (r *Registry) HandleConnection(conn wsConnection, identity *auth.Identity) {
	client := newClient(conn, r, types.UserID(identity.UserID), identity.DisplayName)
	r.register(client)

	ctx := context.Background()
	if r.presence != nil {
		r.presence.HandleConnect(ctx, client.UserID)
	}

	logging.Info(ctx, "client connected",
		zap.String("user_id", string(client.UserID)),
		zap.String("provider", identity.Provider))

	go client.writePump()
	go client.readPump(r.dispatcher.Dispatch)
}

// register installs the client, superseding any previous socket for the user.
func (r *Registry) register(client *Client) {
	r.mu.Lock()
	old, had := r.clients[client.UserID]
	r.clients[client.UserID] = client
	r.mu.Unlock()

	if had {
		logging.Info(context.Background(), "superseding existing connection",
			zap.String("user_id", string(client.UserID)))
		old.Disconnect()
	} else {
		metrics.IncConnection()
	}
}

// unregister removes the client if it is still the user's current socket.
// A superseded socket unregistering must not tear down its replacement.
func (r *Registry) unregister(client *Client) {
	r.mu.Lock()
	current, ok := r.clients[client.UserID]
	isCurrent := ok && current == client
	if isCurrent {
		delete(r.clients, client.UserID)
	}
	r.mu.Unlock()

	client.Disconnect()
	if !isCurrent {
		return
	}

	metrics.DecConnection()
	if r.presence != nil {
		r.presence.HandleDisconnect(context.Background(), client.UserID)
	}
	logging.Info(context.Background(), "client disconnected",
		zap.String("user_id", string(client.UserID)))
}

// client looks up the live socket for a user.
func (r *Registry) client(userID types.UserID) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[userID]
	return c, ok
}

// --- types.Broadcaster ---

// ToClient sends one message to a single user. Users without a live socket
// are skipped silently.
func (r *Registry) ToClient(userID types.UserID, msg types.ServerMessage) {
	if c, ok := r.client(userID); ok {
		c.Send(msg)
	}
}

// ToRoom sends ROOM_UPDATED carrying the room to every seated player.
func (r *Registry) ToRoom(room *types.Room) {
	msg := types.ServerMessage{Type: types.EventRoomUpdated, Payload: room}
	for _, p := range room.Players {
		r.ToClient(p.UserID, msg)
	}
}

// ToGame sends an event to both players of a game. An empty event defaults
// to GAME_UPDATED; a nil payload defaults to the game itself.
func (r *Registry) ToGame(game *types.Game, event string, payload any) {
	if event == "" {
		event = types.EventGameUpdated
	}
	if payload == nil {
		payload = game
	}
	msg := types.ServerMessage{Type: event, Payload: payload}
	for _, p := range game.Players {
		if p.UserID == types.BotUserID {
			continue
		}
		r.ToClient(p.UserID, msg)
	}
}

// Shutdown closes every live socket.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.clients = make(map[types.UserID]*Client)
	r.mu.Unlock()

	for _, c := range clients {
		c.Disconnect()
	}
	logging.Info(ctx, "all client sockets closed", zap.Int("count", len(clients)))
}

// validateOrigin enforces the allow-list. Absent Origin headers pass, for
// non-browser clients; the check is skipped entirely outside production.
func (r *Registry) validateOrigin(req *http.Request) error {
	if !r.checkOrigin {
		return nil
	}
	origin := req.Header.Get("Origin")
	if origin == "" {
		return nil
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return err
	}
	for _, allowed := range r.allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}
	logging.Warn(context.Background(), "origin not in allowed list",
		zap.String("origin", origin))
	return errOriginNotAllowed
}

var errOriginNotAllowed = errors.New("origin not allowed")

// closeRejected sends a close frame on a socket that never got registered.
func closeRejected(conn *websocket.Conn, code int, reason string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	conn.Close()
}
