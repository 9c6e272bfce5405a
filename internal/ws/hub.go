package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/brokerbot/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

// ──────────────────────────────────────────────────────────────────────────────
// Tunables
// ──────────────────────────────────────────────────────────────────────────────

const (
	writeDeadline  = 10 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 35 * time.Second // must exceed pingInterval
	maxMessageSize = 512              // bytes; clients only send control frames
	sendBufferSize = 256              // frames queued per subscriber
	fanoutBuffer   = 512              // frames queued for Run
)

// ──────────────────────────────────────────────────────────────────────────────
// Client
// ──────────────────────────────────────────────────────────────────────────────

// Client is one subscriber. Its send queue is never closed; done signals the
// write loop to leave instead.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	stopped sync.Once
	address common.Address // zero for anonymous subscribers
}

// enqueue offers frame to the client without blocking. A slow subscriber
// loses frames rather than stalling the fan-out.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) stop() {
	c.stopped.Do(func() { close(c.done) })
}

// ──────────────────────────────────────────────────────────────────────────────
// Hub
// ──────────────────────────────────────────────────────────────────────────────

// Hub fans market maker events out to every subscriber. Start Run before
// serving connections.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	frames  chan []byte

	jwtSecret []byte // empty: every subscriber is anonymous
	upgrader  websocket.Upgrader
	log       *slog.Logger
}

// NewHub returns a Hub. allowedOrigins empty accepts any Origin.
func NewHub(jwtSecret []byte, allowedOrigins []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		clients:   make(map[*Client]struct{}),
		frames:    make(chan []byte, fanoutBuffer),
		jwtSecret: jwtSecret,
		log:       logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return len(allowedOrigins) == 0 ||
				slices.Contains(allowedOrigins, "*") ||
				slices.Contains(allowedOrigins, r.Header.Get("Origin"))
		},
	}
	return h
}

func (h *Hub) attach(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) detach(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.stop()
}

// Run delivers queued frames until ctx is cancelled, then stops every
// subscriber.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				c.stop()
			}
			h.mu.Unlock()
			return

		case frame := <-h.frames:
			h.mu.RLock()
			for c := range h.clients {
				c.enqueue(frame)
			}
			h.mu.RUnlock()
		}
	}
}

// ConnectedCount returns the number of subscribers.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWs upgrades the request and subscribes the connection. A ?token= JWT
// names the subscriber; a bad token is reported on the stream and the
// subscriber stays anonymous.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws.ServeWs: upgrade failed", "error", err)
		return
	}

	c := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
	var badToken bool
	if token := r.URL.Query().Get("token"); token != "" && len(h.jwtSecret) > 0 {
		addr, ok := h.parseJWT(token)
		c.address, badToken = addr, !ok
	}
	h.attach(c)
	if badToken {
		h.SendError(c, "token_invalid", domain.ErrTokenInvalid.Error())
	}

	go c.writeLoop()
	go c.readLoop()
}

// parseJWT returns the address in the subject of an HMAC-signed token.
func (h *Hub) parseJWT(raw string) (common.Address, bool) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return h.jwtSecret, nil
	})
	if err != nil || !tok.Valid {
		return common.Address{}, false
	}
	sub, err := tok.Claims.GetSubject()
	if err != nil || !common.IsHexAddress(sub) {
		return common.Address{}, false
	}
	return common.HexToAddress(sub), true
}

// ──────────────────────────────────────────────────────────────────────────────
// Connection loops
// ──────────────────────────────────────────────────────────────────────────────

func (c *Client) write(kind int, payload []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return c.conn.WriteMessage(kind, payload)
}

// writeLoop is the only writer on conn.
func (c *Client) writeLoop() {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	defer c.conn.Close()

	for {
		select {
		case <-c.done:
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case frame := <-c.send:
			if c.write(websocket.TextMessage, frame) != nil {
				c.hub.detach(c)
				return
			}
		case <-ping.C:
			if c.write(websocket.PingMessage, nil) != nil {
				c.hub.detach(c)
				return
			}
		}
	}
}

// readLoop discards inbound frames and keeps the read deadline alive on
// pongs. It detaches the client once the peer goes away.
func (c *Client) readLoop() {
	defer c.hub.detach(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("ws.readLoop: unexpected close", "address", c.address.Hex(), "error", err)
			}
			return
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Publishing (scheduler.QuoteBroadcaster, service.Broadcaster)
// ──────────────────────────────────────────────────────────────────────────────

// BroadcastQuote publishes a quote tick stamped with the subscriber count.
func (h *Hub) BroadcastQuote(msg QuoteMessage) {
	msg.Clients = h.ConnectedCount()
	h.publish(msg)
}

// BroadcastTrade publishes a committed trade.
func (h *Hub) BroadcastTrade(t domain.Trade) {
	h.publish(TradeMessage{
		Type:         MsgTypeTrade,
		TradeID:      t.ID,
		Direction:    t.Direction,
		Counterparty: t.Counterparty,
		Shares:       t.Shares,
		Payment:      t.Payment,
		PriceAfter:   t.PriceAfter,
		Ref:          t.Ref,
		Timestamp:    t.ExecutedAt,
	})
}

// BroadcastSettings publishes the state after an authority call.
func (h *Hub) BroadcastSettings(c domain.SettingsChange) {
	h.publish(SettingsMessage{
		Type:           MsgTypeSettings,
		Field:          c.Field,
		Price:          c.State.Price,
		Increment:      c.State.Increment,
		Gate:           c.State.State(),
		BuyingEnabled:  c.State.BuyingEnabled,
		SellingEnabled: c.State.SellingEnabled,
		PaymentRouter:  c.State.PaymentRouter,
		ChangedBy:      c.ChangedBy,
		Timestamp:      c.ChangedAt,
	})
}

func (h *Hub) publish(v interface{}) {
	frame, err := json.Marshal(v)
	if err != nil {
		h.log.Error("ws.Hub: marshal error", "error", err)
		return
	}
	select {
	case h.frames <- frame:
	default:
		h.log.Warn("ws.Hub: fan-out queue full, frame dropped")
	}
}

// SendError queues an error frame for one client only.
func (h *Hub) SendError(c *Client, code, message string) {
	frame, err := json.Marshal(ErrorMessage{Type: MsgTypeError, Code: code, Message: message})
	if err != nil {
		return
	}
	c.enqueue(frame)
}
