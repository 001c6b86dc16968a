package core

import (
	"context"

	"github.com/rs/zerolog"
)

type clientCommand struct {
	client *Client
	cmd    *Command
}

type publishRequest struct {
	channel string
	event   *Event
	reply   chan int
}

type presenceRequest struct {
	channel string
	reply   chan bool
}

// Hub is the presence router. It maps user channels to live connections.
//
// All channel membership state is owned by the goroutine running Run, so every
// command and publish is handled to completion before the next one starts.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	commands   chan clientCommand
	publishes  chan publishRequest
	presence   chan presenceRequest
	done       chan struct{}

	clients  map[*Client]struct{}
	channels map[string]*Channel
	log      *zerolog.Logger
}

// NewHub creates a new presence hub. A nil logger disables logging.
func NewHub(logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		commands:   make(chan clientCommand, 64),
		publishes:  make(chan publishRequest),
		presence:   make(chan presenceRequest),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		channels:   make(map[string]*Channel),
		log:        logger,
	}
}

// Run processes hub traffic until ctx is cancelled. On exit every client's
// Events channel is closed.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			go h.forward(ctx, c)
			h.log.Debug().Str("client_id", c.ID).Int64("user_id", c.UserID).Msg("client registered")
		case c := <-h.unregister:
			h.drop(c)
		case cc := <-h.commands:
			h.handleCommand(cc.client, cc.cmd)
		case req := <-h.publishes:
			req.reply <- h.publish(req.channel, req.event)
		case req := <-h.presence:
			ch, ok := h.channels[req.channel]
			req.reply <- ok && !ch.Empty()
		}
	}
}

// RegisterClient attaches a connection to the hub.
func (h *Hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// UnregisterClient detaches a connection. Its channel membership is dropped and
// its Events channel closed. No explicit leave is needed first.
func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Publish delivers ev to every connection joined to channel and returns how many
// connections accepted it. Zero means nobody was listening; that is not an error.
func (h *Hub) Publish(ctx context.Context, channel string, ev *Event) int {
	req := publishRequest{channel: channel, event: ev, reply: make(chan int, 1)}
	select {
	case h.publishes <- req:
	case <-ctx.Done():
		return 0
	case <-h.done:
		return 0
	}
	select {
	case n := <-req.reply:
		return n
	case <-ctx.Done():
		return 0
	case <-h.done:
		return 0
	}
}

// Online reports whether any connection is joined to channel.
func (h *Hub) Online(ctx context.Context, channel string) bool {
	req := presenceRequest{channel: channel, reply: make(chan bool, 1)}
	select {
	case h.presence <- req:
	case <-ctx.Done():
		return false
	case <-h.done:
		return false
	}
	select {
	case ok := <-req.reply:
		return ok
	case <-ctx.Done():
		return false
	case <-h.done:
		return false
	}
}

// forward moves a client's commands onto the hub's single command queue.
func (h *Hub) forward(ctx context.Context, c *Client) {
	for {
		select {
		case cmd := <-c.Commands:
			if cmd == nil {
				continue
			}
			select {
			case h.commands <- clientCommand{client: c, cmd: cmd}:
			case <-c.gone:
				return
			case <-ctx.Done():
				return
			}
		case <-c.gone:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) handleCommand(c *Client, cmd *Command) {
	if _, ok := h.clients[c]; !ok {
		return
	}

	switch cmd.Kind {
	case CommandJoin:
		if cmd.Channel != ChannelName(c.UserID) {
			c.deliver(errorEvent(ErrCodeUnauthorized, "cannot join another user's channel"))
			return
		}
		if c.channel != "" && c.channel != cmd.Channel {
			h.leave(c)
		}
		ch := h.channels[cmd.Channel]
		if ch == nil {
			ch = NewChannel(cmd.Channel)
			h.channels[cmd.Channel] = ch
		}
		// Rejoining the same channel is a no-op that is still acked.
		ch.AddClient(c)
		c.channel = cmd.Channel
		c.deliver(&Event{Kind: EventJoined, Channel: cmd.Channel})
		h.log.Debug().Str("client_id", c.ID).Str("channel", cmd.Channel).Msg("joined channel")
	case CommandLeave:
		if c.channel == "" {
			c.deliver(errorEvent(ErrCodeNotJoined, "not joined to a channel"))
			return
		}
		name := c.channel
		h.leave(c)
		c.deliver(&Event{Kind: EventLeft, Channel: name})
	default:
		c.deliver(errorEvent(ErrCodeBadRequest, "unknown command"))
	}
}

func (h *Hub) publish(channel string, ev *Event) int {
	ch, ok := h.channels[channel]
	if !ok {
		return 0
	}
	return ch.Broadcast(ev)
}

func (h *Hub) leave(c *Client) {
	ch, ok := h.channels[c.channel]
	c.channel = ""
	if !ok {
		return
	}
	ch.RemoveClient(c)
	if ch.Empty() {
		delete(h.channels, ch.Name)
	}
}

func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	h.leave(c)
	delete(h.clients, c)
	close(c.gone)
	close(c.Events)
	h.log.Debug().Str("client_id", c.ID).Int64("user_id", c.UserID).Msg("client unregistered")
}

func (h *Hub) closeAll() {
	for c := range h.clients {
		h.drop(c)
	}
}
