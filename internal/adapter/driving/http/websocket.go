package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Wyydra/meshcall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

var errSlowConsumer = errors.New("client send buffer full")

// WSClient is the relay server's end of one participant connection.
type WSClient struct {
	link   domain.LinkID
	member domain.RosterEntry
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	log    zerolog.Logger
}

func (c *WSClient) LinkID() domain.LinkID {
	return c.link
}

func (c *WSClient) Send(env ws.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSlowConsumer
	}
}

func (c *WSClient) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *WSClient) reply(id string, typ domain.EventType, payload any) {
	env, err := ws.NewEnvelope(typ, id, payload)
	if err != nil {
		c.log.Error().Err(err).Msg("Encoding reply failed")
		return
	}
	if err := c.Send(env); err != nil {
		c.log.Warn().Err(err).Msg("Reply dropped")
	}
}

func (c *WSClient) replyError(id string, err error) {
	if sendErr := c.Send(ws.ErrorEnvelope(id, err)); sendErr != nil {
		c.log.Warn().Err(sendErr).Msg("Error reply dropped")
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug().Err(err).Msg("Write failed")
				c.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// ServeWS upgrades a participant connection to the signaling relay.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity, err := h.Auth.Identify(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	id, err := gonanoid.New(16)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	link := domain.LinkID(id)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := &WSClient{
		link: link,
		member: domain.RosterEntry{
			UserID: identity.UserID,
			LinkID: link,
			Name:   identity.Name,
			Avatar: identity.Avatar,
		},
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
		log:  log.With().Str("user_id", identity.UserID.String()).Str("link_id", link.String()).Logger(),
	}
	client.log.Info().Msg("New client connected")

	h.Hub.Register(client)
	go client.writePump()

	ctx := context.WithoutCancel(r.Context())
	defer func() {
		client.log.Info().Msg("Client disconnected")
		h.Rooms.Disconnect(ctx, link)
		h.Hub.Unregister(client)
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env ws.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				client.log.Error().Err(err).Msg("Unexpected close error")
			}
			return
		}
		h.handleEnvelope(ctx, client, env)
	}
}

func (h *Handler) handleEnvelope(ctx context.Context, c *WSClient, env ws.Envelope) {
	switch env.Type {
	case domain.EventJoin:
		var cfg domain.CallConfig
		if err := json.Unmarshal(env.Data, &cfg); err != nil {
			c.replyError(env.ID, fmt.Errorf("decode join: %w", err))
			return
		}
		resp := h.Rooms.Join(ctx, c.member, cfg)
		if !resp.Accepted {
			c.log.Warn().Str("call_id", cfg.CallID.String()).Str("reason", resp.Error).Msg("Join rejected")
		}
		c.reply(env.ID, domain.EventJoin, resp)

	case domain.EventLeave:
		var cfg domain.CallConfig
		if err := json.Unmarshal(env.Data, &cfg); err != nil {
			c.replyError(env.ID, fmt.Errorf("decode leave: %w", err))
			return
		}
		h.Rooms.Leave(ctx, c.link, cfg.CallID)
		c.reply(env.ID, domain.EventLeave, ws.Ack{OK: true})

	case domain.EventOffer, domain.EventAnswer, domain.EventIceCandidate:
		var sig domain.Signal
		if err := json.Unmarshal(env.Data, &sig); err != nil {
			c.replyError(env.ID, fmt.Errorf("decode %s: %w", env.Type, err))
			return
		}
		sig.Type = env.Type
		if err := h.Rooms.Route(ctx, c.link, sig); err != nil {
			c.log.Debug().Err(err).Str("type", string(env.Type)).Msg("Signal not routed")
			c.replyError(env.ID, err)
		}

	case domain.EventMediaState:
		var change domain.MediaStateChange
		if err := json.Unmarshal(env.Data, &change); err != nil {
			c.replyError(env.ID, fmt.Errorf("decode media-state: %w", err))
			return
		}
		if err := h.Rooms.BroadcastMediaState(ctx, c.link, change); err != nil {
			c.replyError(env.ID, err)
		}

	default:
		c.replyError(env.ID, fmt.Errorf("unknown message type %q", env.Type))
	}
}
