package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 10 * time.Second

// deniedError is an error reply from the relay to a request.
type deniedError struct {
	reason string
}

func (e *deniedError) Error() string {
	return "relay: " + e.reason
}

type subscription struct {
	ch   chan domain.Event
	done chan struct{}
	once sync.Once
}

// RelayClient is the participant side of the signaling relay. It implements
// port.Relay over one websocket connection.
type RelayClient struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Envelope
	closed  bool
	err     error

	subMu  sync.Mutex
	nextID int
	subs   map[int]*subscription

	done chan struct{}
}

// Dial connects to the relay websocket at url. header carries the
// Authorization bearer token when the relay requires one.
func Dial(ctx context.Context, url string, header http.Header) (*RelayClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", domain.ErrRelayUnavailable, url, err)
	}
	c := &RelayClient{
		conn:    conn,
		pending: make(map[string]chan Envelope),
		subs:    make(map[int]*subscription),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *RelayClient) readLoop() {
	var err error
	defer func() { c.shutdown(err) }()

	for {
		var env Envelope
		if err = c.conn.ReadJSON(&env); err != nil {
			return
		}

		if env.ID != "" {
			c.mu.Lock()
			ch, ok := c.pending[env.ID]
			delete(c.pending, env.ID)
			c.mu.Unlock()
			if ok {
				ch <- env
			}
			continue
		}

		if env.Type == domain.EventError {
			var ack Ack
			_ = json.Unmarshal(env.Data, &ack)
			log.Warn().Str("error", ack.Error).Msg("Relay reported an error")
			continue
		}

		var ev domain.Event
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			log.Warn().Err(err).Str("type", string(env.Type)).Msg("Dropping malformed relay event")
			continue
		}
		if ev.Type == "" {
			ev.Type = env.Type
		}
		c.publish(ev)
	}
}

func (c *RelayClient) publish(ev domain.Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, sub := range c.subs {
		select {
		case sub.ch <- ev:
		case <-sub.done:
		case <-c.done:
			return
		}
	}
}

func (c *RelayClient) shutdown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = err
	c.pending = make(map[string]chan Envelope)
	c.mu.Unlock()

	close(c.done)
	c.conn.Close()

	c.subMu.Lock()
	for id, sub := range c.subs {
		close(sub.ch)
		delete(c.subs, id)
	}
	c.subMu.Unlock()

	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Warn().Err(err).Msg("Relay connection lost")
	}
}

// Subscribe returns inbound events in arrival order. The channel is closed
// by cancel or when the connection ends.
func (c *RelayClient) Subscribe() (<-chan domain.Event, func()) {
	sub := &subscription{
		ch:   make(chan domain.Event, 64),
		done: make(chan struct{}),
	}

	c.subMu.Lock()
	select {
	case <-c.done:
		c.subMu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	default:
	}
	c.nextID++
	id := c.nextID
	c.subs[id] = sub
	c.subMu.Unlock()

	return sub.ch, func() {
		sub.once.Do(func() { close(sub.done) })
		c.subMu.Lock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub.ch)
		}
		c.subMu.Unlock()
	}
}

func (c *RelayClient) write(env Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(env)
}

func (c *RelayClient) send(typ domain.EventType, payload any) error {
	env, err := NewEnvelope(typ, "", payload)
	if err != nil {
		return err
	}
	if err := c.write(env); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRelayUnavailable, err)
	}
	return nil
}

func (c *RelayClient) request(ctx context.Context, typ domain.EventType, payload any) (Envelope, error) {
	id := uuid.NewString()
	env, err := NewEnvelope(typ, id, payload)
	if err != nil {
		return Envelope{}, err
	}

	reply := make(chan Envelope, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Envelope{}, fmt.Errorf("%w: connection closed", domain.ErrRelayUnavailable)
	}
	c.pending[id] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", domain.ErrRelayUnavailable, err)
	}

	select {
	case resp := <-reply:
		if resp.Type == domain.EventError {
			var ack Ack
			_ = json.Unmarshal(resp.Data, &ack)
			return resp, &deniedError{reason: ack.Error}
		}
		return resp, nil
	case <-ctx.Done():
		return Envelope{}, fmt.Errorf("%w: %s: %v", domain.ErrRelayUnavailable, typ, ctx.Err())
	case <-c.done:
		return Envelope{}, fmt.Errorf("%w: connection closed", domain.ErrRelayUnavailable)
	}
}

func (c *RelayClient) Join(ctx context.Context, cfg domain.CallConfig) (domain.JoinResponse, error) {
	env, err := c.request(ctx, domain.EventJoin, cfg)
	var denied *deniedError
	if errors.As(err, &denied) {
		return domain.JoinResponse{Error: denied.reason}, nil
	}
	if err != nil {
		return domain.JoinResponse{}, err
	}
	var resp domain.JoinResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		return domain.JoinResponse{}, fmt.Errorf("decode join response: %w", err)
	}
	return resp, nil
}

func (c *RelayClient) Leave(ctx context.Context, cfg domain.CallConfig) error {
	env, err := c.request(ctx, domain.EventLeave, cfg)
	if err != nil {
		return err
	}
	var ack Ack
	if err := json.Unmarshal(env.Data, &ack); err != nil {
		return fmt.Errorf("decode leave ack: %w", err)
	}
	if !ack.OK {
		return errors.New(ack.Error)
	}
	return nil
}

func (c *RelayClient) SendSignal(ctx context.Context, sig domain.Signal) error {
	return c.send(sig.Type, sig)
}

func (c *RelayClient) BroadcastMediaState(ctx context.Context, change domain.MediaStateChange) error {
	return c.send(domain.EventMediaState, change)
}

// Done is closed when the connection ends.
func (c *RelayClient) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection ended, if it has.
func (c *RelayClient) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *RelayClient) Close() error {
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	select {
	case <-c.done:
	case <-time.After(time.Second):
		c.shutdown(nil)
	}
	return err
}
