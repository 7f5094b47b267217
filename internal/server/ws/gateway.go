// Package ws implements the realtime channels: the active-items feed and the
// per-item bid channel, the subscription registry behind them and the fan-out
// used to broadcast committed changes.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/auctionhouse/internal/auction"
	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// bidTimeout bounds one bid commit started from a connection.
const bidTimeout = 10 * time.Second

// BidPlacer admits a bid and announces it when accepted.
type BidPlacer interface {
	PlaceBid(ctx context.Context, who domain.Identity, itemID, amount int64) (auction.Receipt, error)
}

// IdentityResolver exchanges a bearer credential for a verified identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (domain.Identity, error)
}

// GatewayConfig holds the gateway's tunables.
type GatewayConfig struct {
	// AllowedOrigins restricts the Origin header on upgrade. Empty or "*"
	// allows every origin.
	AllowedOrigins []string
}

// Gateway serves the two websocket endpoints.
type Gateway struct {
	registry  *Registry
	announcer *Announcer
	bids      BidPlacer
	identity  IdentityResolver
	upgrader  websocket.Upgrader
	// baseCtx outlives individual connections; bid commits derive from it so
	// a disconnect never cancels a commit already in flight.
	baseCtx context.Context
	logger  *slog.Logger
}

// NewGateway creates a Gateway.
func NewGateway(
	baseCtx context.Context,
	registry *Registry,
	announcer *Announcer,
	bids BidPlacer,
	identity IdentityResolver,
	cfg GatewayConfig,
	logger *slog.Logger,
) *Gateway {
	return &Gateway{
		registry:  registry,
		announcer: announcer,
		bids:      bids,
		identity:  identity,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		baseCtx: baseCtx,
		logger:  logger.With(slog.String("component", "ws_gateway")),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// HandleActiveItems streams the active-items feed.
// GET /ws/active-items
func (g *Gateway) HandleActiveItems(w http.ResponseWriter, r *http.Request) {
	wsConn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.WarnContext(r.Context(), "ws: upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := g.start(wsConn)
	defer g.release(c)

	if err := g.announcer.JoinActive(r.Context(), g.registry, c); err != nil {
		if errors.Is(err, ErrConnClosed) || errors.Is(err, ErrSlowConsumer) {
			return
		}
		g.logger.ErrorContext(r.Context(), "ws: initial snapshot failed", slog.String("error", err.Error()))
		c.Close(websocket.CloseInternalServerErr, "snapshot unavailable")
		return
	}

	c.prepareRead()
	for {
		if _, _, err := wsConn.ReadMessage(); err != nil {
			g.logReadError(r.Context(), c, err)
			return
		}
		// The feed is server to client only; inbound frames are ignored.
	}
}

// HandleBid serves one bidder on one item's channel.
// GET /ws/bid/{id}
func (g *Gateway) HandleBid(w http.ResponseWriter, r *http.Request) {
	itemID, idErr := strconv.ParseInt(r.PathValue("id"), 10, 64)
	token := bearerToken(r)

	wsConn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.WarnContext(r.Context(), "ws: upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := g.start(wsConn)
	defer g.release(c)

	if token == "" {
		c.Close(websocket.ClosePolicyViolation, "missing token")
		return
	}
	who, err := g.identity.Resolve(r.Context(), token)
	if err != nil {
		g.logger.InfoContext(r.Context(), "ws: credential rejected", slog.String("error", err.Error()))
		c.Close(websocket.ClosePolicyViolation, "invalid token")
		return
	}
	if !who.Role.CanBid() {
		_ = g.sendJSON(c, frameAdmin)
		c.Close(websocket.ClosePolicyViolation, "admin cannot bid")
		return
	}
	if idErr != nil || itemID <= 0 {
		_ = g.sendJSON(c, ErrorFrame{Error: "Item not found.", Type: TypeNoEntity})
		c.Close(websocket.ClosePolicyViolation, "invalid item id")
		return
	}

	g.registry.Subscribe(ItemKey(itemID), c)
	g.logger.DebugContext(r.Context(), "ws: bidder joined",
		slog.String("conn_id", c.ID()),
		slog.Int64("item_id", itemID),
		slog.Int64("user_id", who.UserID),
	)

	c.prepareRead()
	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			g.logReadError(r.Context(), c, err)
			return
		}

		amount, bad := ParseBid(data)
		if bad != nil {
			if g.sendJSON(c, bad) != nil {
				return
			}
			continue
		}

		if !g.placeBid(c, who, itemID, amount) {
			return
		}
	}
}

// placeBid submits one bid and reports whether the connection should keep
// reading. The success frame reaches this bidder through the item channel
// broadcast.
func (g *Gateway) placeBid(c *Conn, who domain.Identity, itemID, amount int64) bool {
	ctx, cancel := context.WithTimeout(g.baseCtx, bidTimeout)
	defer cancel()

	_, err := g.bids.PlaceBid(ctx, who, itemID, amount)
	if err == nil {
		return true
	}
	if frame, ok := RejectFrame(err); ok {
		return g.sendJSON(c, frame) == nil
	}

	g.logger.ErrorContext(ctx, "ws: bid failed",
		slog.String("conn_id", c.ID()),
		slog.Int64("item_id", itemID),
		slog.Int64("user_id", who.UserID),
		slog.String("error", err.Error()),
	)
	c.Close(websocket.CloseInternalServerErr, "internal error")
	return false
}

// start launches the writer of a freshly upgraded connection and closes the
// connection with 1001 when the gateway's base context ends.
func (g *Gateway) start(wsConn *websocket.Conn) *Conn {
	c := newConn(wsConn, g.logger)
	go c.writePump()
	go func() {
		select {
		case <-g.baseCtx.Done():
			c.Close(websocket.CloseGoingAway, "server shutting down")
		case <-c.Done():
		}
	}()
	return c
}

// release unsubscribes c from every channel and waits for its writer to
// flush. It runs on every exit path of a handler.
func (g *Gateway) release(c *Conn) {
	g.registry.Drop(c)
	c.Close(websocket.CloseNormalClosure, "")
	c.wait()
}

func (g *Gateway) sendJSON(c *Conn, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(payload)
}

func (g *Gateway) logReadError(ctx context.Context, c *Conn, err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		g.logger.DebugContext(ctx, "ws: unexpected close",
			slog.String("conn_id", c.ID()),
			slog.String("error", err.Error()),
		)
	}
	// Either the peer sent a close frame, which gorilla already answered, or
	// the socket is gone. No close frame of ours is needed.
	c.Close(websocket.CloseAbnormalClosure, "")
}

// bearerToken reads the credential from the token query parameter or an
// Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	if t := strings.TrimSpace(r.URL.Query().Get("token")); t != "" {
		return t
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		const prefix = "Bearer "
		if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
			return strings.TrimSpace(auth[len(prefix):])
		}
	}
	return ""
}
