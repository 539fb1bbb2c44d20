package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mahaj/staff-chat/pkg/auth"
	"github.com/mahaj/staff-chat/pkg/config"
	"github.com/mahaj/staff-chat/pkg/engine"
	"github.com/mahaj/staff-chat/pkg/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // internal deployment, origin enforced upstream
	},
}

// command is the envelope for every client-originated action on an open
// connection. connect is the upgrade itself.
type command struct {
	Action     string         `json:"action"`
	Channel    string         `json:"channel,omitempty"`
	Container  string         `json:"container,omitempty"`
	Payload    *model.Payload `json:"payload,omitempty"`
	ReplyTo    string         `json:"replyTo,omitempty"`
	MessageIDs []string       `json:"messageIds,omitempty"`
	MessageID  string         `json:"messageId,omitempty"`
}

// Client is the middleman between one websocket connection and the engine.
// It implements registry.Conn.
type Client struct {
	engine   *engine.Engine
	conn     *websocket.Conn
	log      *zap.SugaredLogger
	cfg      *config.Config
	send     chan []byte
	done     chan struct{}
	id       string
	identity string
}

func newClient(eng *engine.Engine, conn *websocket.Conn, log *zap.SugaredLogger, cfg *config.Config, identity string) *Client {
	return &Client{
		engine:   eng,
		conn:     conn,
		log:      log,
		cfg:      cfg,
		send:     make(chan []byte, 256),
		done:     make(chan struct{}),
		id:       uuid.NewString(),
		identity: identity,
	}
}

func (c *Client) ID() string       { return c.id }
func (c *Client) Identity() string { return c.identity }

// Deliver queues one event frame for the write pump. A full queue drops the
// frame; the client catches up via re-fetch after reconnect.
func (c *Client) Deliver(ev *model.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errors.New("send queue full")
	}
}

// readPump pumps commands from the websocket into the engine. Commands from
// one connection are dispatched inline, so they apply strictly in the order
// the connection issued them.
func (c *Client) readPump() {
	defer func() {
		c.engine.Disconnect(context.Background(), c)
		close(c.done)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(c.cfg.WS.MaxMessageSizeBytes)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warnw("read failed", "conn", c.id, "err", err)
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			c.sendError(model.ErrValidation)
			continue
		}
		if err := c.dispatch(cmd); err != nil {
			c.sendError(err)
		}
	}
}

func (c *Client) dispatch(cmd command) error {
	ctx := context.Background()
	switch cmd.Action {
	case "subscribe":
		return c.engine.Subscribe(ctx, c, model.Channel(cmd.Channel))
	case "unsubscribe":
		c.engine.Unsubscribe(ctx, c, model.Channel(cmd.Channel))
		return nil
	case "send":
		if cmd.Payload == nil {
			return model.ErrValidation
		}
		_, err := c.engine.Send(ctx, c.identity, engine.SendCommand{
			Container: cmd.Container,
			Payload:   *cmd.Payload,
			ReplyTo:   cmd.ReplyTo,
		})
		return err
	case "markRead":
		_, err := c.engine.MarkRead(ctx, c.identity, engine.MarkReadCommand{
			Container:  cmd.Container,
			MessageIDs: cmd.MessageIDs,
		})
		return err
	case "delete":
		return c.engine.Delete(ctx, c.identity, engine.DeleteCommand{
			Container: cmd.Container,
			MessageID: cmd.MessageID,
		})
	default:
		return model.ErrValidation
	}
}

// sendError surfaces a terminal error synchronously to the issuing
// connection as an error frame.
func (c *Client) sendError(err error) {
	frame, merr := json.Marshal(&model.Event{
		Type:      model.EventError,
		Code:      model.ErrorCode(err),
		Detail:    err.Error(),
		Timestamp: time.Now().UTC(),
	})
	if merr != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

// writePump pumps queued frames to the websocket connection and keeps the
// transport heartbeat; a missed pong expires the read deadline and with it
// forces the transition to disconnected.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// serveWs authenticates and upgrades a connection, then registers it with
// the engine. A reconnect creates a brand-new session that re-derives its
// subscriptions from current membership.
func serveWs(eng *engine.Engine, tokens *auth.Manager, cfg *config.Config, log *zap.SugaredLogger, w http.ResponseWriter, r *http.Request) {
	tokenString := r.Header.Get("Authorization")
	if tokenString == "" {
		// Browser websocket clients cannot set headers.
		tokenString = r.URL.Query().Get("token")
	}
	if tokenString == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
		tokenString = tokenString[7:]
	}

	claims, err := tokens.Validate(tokenString)
	if err != nil {
		log.Warnw("invalid token", "err", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnw("upgrade failed", "err", err)
		return
	}

	client := newClient(eng, conn, log, cfg, claims.Identity)
	if err := eng.Connect(r.Context(), client); err != nil {
		log.Errorw("connect failed", "identity", claims.Identity, "err", err)
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
