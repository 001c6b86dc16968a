package chatclient

import (
	"cmp"
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// NoPeerSelected is the active peer when no conversation is open.
const NoPeerSelected int64 = 0

const (
	defaultUnreadInterval  = 10 * time.Second
	defaultRefreshInterval = 3 * time.Second
)

// ErrEmptyMessage is returned when a message is blank after trimming.
var ErrEmptyMessage = errors.New("message is empty")

// State is a point-in-time copy of the controller's view.
type State struct {
	Self              int64
	Peers             []Peer
	Active            int64
	Messages          []Message
	Badges            map[int64]int
	TotalUnread       int
	SendError         error
	ConversationError error
}

// Option configures a Controller.
type Option func(*Controller)

// WithUnreadInterval sets how often the unread summary is polled.
func WithUnreadInterval(d time.Duration) Option {
	return func(c *Controller) { c.unreadInterval = d }
}

// WithRefreshInterval sets how often the open conversation is re-fetched
// when no realtime connection is available.
func WithRefreshInterval(d time.Duration) Option {
	return func(c *Controller) { c.refreshInterval = d }
}

// WithLogger sets the controller's logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(c *Controller) { c.log = logger }
}

// WithOnChange registers a callback invoked after every state change.
// It runs outside the controller's lock.
func WithOnChange(fn func()) Option {
	return func(c *Controller) { c.onChange = fn }
}

// Controller drives one user's chat session: the peer list, the open
// conversation, and per-peer unread badges.
//
// The unread summary fetched from the server is authoritative. Realtime
// events only make the view converge sooner; anything they change is
// reproduced by the next poll.
type Controller struct {
	api  API
	self int64
	log  *zerolog.Logger

	unreadInterval  time.Duration
	refreshInterval time.Duration
	onChange        func()

	mu         sync.Mutex
	peers      []Peer
	active     int64
	generation uint64
	messages   map[int64][]Message
	badges     map[int64]int
	// unconfirmed holds messages applied from a push or a send, keyed by
	// peer then id, until a fetch of that conversation includes them.
	unconfirmed map[int64]map[int64]Message
	sendErr    error
	convErr    error
}

// NewController creates a controller for the user self.
func NewController(api API, self int64, opts ...Option) *Controller {
	nop := zerolog.Nop()
	c := &Controller{
		api:             api,
		self:            self,
		log:             &nop,
		unreadInterval:  defaultUnreadInterval,
		refreshInterval: defaultRefreshInterval,
		messages:        make(map[int64][]Message),
		badges:          make(map[int64]int),
		unconfirmed:     make(map[int64]map[int64]Message),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}

// ListPeers fetches the addressable users.
func (c *Controller) ListPeers(ctx context.Context) ([]Peer, error) {
	peers, err := c.api.ListPeers(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.peers = peers
	c.mu.Unlock()
	c.changed()

	return slices.Clone(peers), nil
}

// RefreshUnreadSummary replaces the badge map with the server's view.
// On failure the previous badges are kept.
func (c *Controller) RefreshUnreadSummary(ctx context.Context) error {
	counts, err := c.api.UnreadSummary(ctx)
	if err != nil {
		c.log.Debug().Err(err).Msg("refresh unread summary")
		return err
	}

	c.mu.Lock()
	// The open conversation is acknowledged as it arrives.
	c.badges = lo.OmitByKeys(counts, []int64{c.active})
	// The server's counts now cover pushes for the other peers.
	c.unconfirmed = lo.PickByKeys(c.unconfirmed, []int64{c.active})
	c.mu.Unlock()
	c.changed()
	return nil
}

// OpenConversation makes peerID the active peer, loads the conversation and
// acknowledges everything the peer sent. The peer's badge is cleared at once.
func (c *Controller) OpenConversation(ctx context.Context, peerID int64) error {
	if peerID == NoPeerSelected {
		c.CloseConversation()
		return nil
	}

	c.mu.Lock()
	if c.active != peerID {
		c.leave()
	}
	c.active = peerID
	c.convErr = nil
	c.sendErr = nil
	delete(c.badges, peerID)
	c.mu.Unlock()
	c.changed()

	if err := c.FetchMessages(ctx, peerID); err != nil {
		return err
	}

	c.mu.Lock()
	still := c.active == peerID
	c.mu.Unlock()
	if !still {
		return nil
	}

	if err := c.api.MarkConversationRead(ctx, peerID); err != nil {
		// The next unread poll reconciles the badge.
		c.log.Warn().Err(err).Int64("peer_id", peerID).Msg("mark conversation read")
	}
	return nil
}

// CloseConversation returns to NoPeerSelected. Cached messages are kept.
func (c *Controller) CloseConversation() {
	c.mu.Lock()
	c.leave()
	c.active = NoPeerSelected
	c.generation++
	c.convErr = nil
	c.sendErr = nil
	c.mu.Unlock()
	c.changed()
}

// FetchMessages reloads the conversation with peerID. A response that
// arrives after the user switched peers, or after a newer fetch started, is
// discarded.
func (c *Controller) FetchMessages(ctx context.Context, peerID int64) error {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	msgs, err := c.api.FetchConversation(ctx, peerID)

	c.mu.Lock()
	if gen != c.generation || peerID != c.active {
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		c.convErr = err
		c.mu.Unlock()
		c.changed()
		return err
	}
	c.messages[peerID] = c.merge(peerID, msgs)
	c.convErr = nil
	c.mu.Unlock()
	c.changed()
	return nil
}

// SendMessage persists text to peerID. The message appears locally only
// after the server stored it; delivery to the peer is the server's concern.
func (c *Controller) SendMessage(ctx context.Context, peerID int64, text string) (Message, error) {
	if strings.TrimSpace(text) == "" {
		c.setSendErr(ErrEmptyMessage)
		return Message{}, ErrEmptyMessage
	}

	msg, err := c.api.SendMessage(ctx, peerID, text)
	if err != nil {
		c.setSendErr(err)
		return Message{}, err
	}

	c.mu.Lock()
	c.remember(peerID, msg)
	c.messages[peerID] = appendUnique(c.messages[peerID], msg)
	c.sendErr = nil
	c.mu.Unlock()
	c.changed()
	return msg, nil
}

func (c *Controller) setSendErr(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
	c.changed()
}

// HandleIncoming applies a pushed message. A message from the open peer is
// appended and acknowledged; any other increments that peer's badge.
// Messages already seen are ignored.
func (c *Controller) HandleIncoming(ctx context.Context, msg Message) {
	if msg.ReceiverID != c.self {
		return
	}
	peer := msg.SenderID

	c.mu.Lock()
	if _, dup := c.unconfirmed[peer][msg.ID]; dup || containsMessage(c.messages[peer], msg.ID) {
		c.mu.Unlock()
		return
	}
	open := peer == c.active
	if open {
		msg.Read = true
	}
	c.remember(peer, msg)
	if open {
		c.messages[peer] = appendUnique(c.messages[peer], msg)
	} else {
		c.badges[peer]++
	}
	c.mu.Unlock()
	c.changed()

	if open {
		if err := c.api.MarkRead(ctx, msg.ID); err != nil {
			c.log.Warn().Err(err).Int64("message_id", msg.ID).Msg("mark read")
		}
	}
}

// HandleRead applies a read receipt to messages we sent.
func (c *Controller) HandleRead(r Receipt) {
	c.mu.Lock()
	covers := func(m Message) bool {
		return m.SenderID == c.self && (r.MessageID == 0 || m.ID == r.MessageID)
	}
	msgs := c.messages[r.ReaderID]
	for i := range msgs {
		if covers(msgs[i]) {
			msgs[i].Read = true
		}
	}
	for id, m := range c.unconfirmed[r.ReaderID] {
		if covers(m) {
			m.Read = true
			c.unconfirmed[r.ReaderID][id] = m
		}
	}
	c.mu.Unlock()
	c.changed()
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return State{
		Self:              c.self,
		Peers:             slices.Clone(c.peers),
		Active:            c.active,
		Messages:          slices.Clone(c.messages[c.active]),
		Badges:            maps.Clone(c.badges),
		TotalUnread:       lo.Sum(lo.Values(c.badges)),
		SendError:         c.sendErr,
		ConversationError: c.convErr,
	}
}

// Run polls the unread summary until ctx is done. With a nil events channel
// the open conversation is polled too; otherwise realtime events are applied
// as they arrive, falling back to polling if the channel closes.
func (c *Controller) Run(ctx context.Context, events <-chan Event) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		c.every(ctx, c.unreadInterval, func() {
			_ = c.RefreshUnreadSummary(ctx)
		})
		return nil
	})

	g.Go(func() error {
		if events != nil {
			c.consume(ctx, events)
			if ctx.Err() != nil {
				return nil
			}
			c.log.Info().Msg("realtime closed, polling conversation")
		}
		c.every(ctx, c.refreshInterval, func() {
			c.mu.Lock()
			peer := c.active
			c.mu.Unlock()
			if peer != NoPeerSelected {
				_ = c.FetchMessages(ctx, peer)
			}
		})
		return nil
	})

	return g.Wait()
}

func (c *Controller) consume(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case EventIncoming:
				if ev.Message != nil {
					c.HandleIncoming(ctx, *ev.Message)
				}
			case EventMessageRead, EventConversationRead:
				if ev.Receipt != nil {
					c.HandleRead(*ev.Receipt)
				}
			}
		}
	}
}

// every runs fn immediately and then on each tick until ctx is done.
func (c *Controller) every(ctx context.Context, d time.Duration, fn func()) {
	if d <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(d)
	defer ticker.Stop()

	fn()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// leave forgets the unconfirmed messages of the active conversation. Any fetch
// for it still in flight is discarded and the next open fetches afresh, so the
// cached view covers them. Must be called with mu held.
func (c *Controller) leave() {
	delete(c.unconfirmed, c.active)
}

func (c *Controller) remember(peer int64, msg Message) {
	if c.unconfirmed[peer] == nil {
		c.unconfirmed[peer] = make(map[int64]Message)
	}
	c.unconfirmed[peer][msg.ID] = msg
}

// merge combines a fetched conversation with the unconfirmed messages for
// peer. Messages the fetch includes stop being unconfirmed; the rest are kept
// since they were stored after the fetch was answered. Must be called with
// mu held.
func (c *Controller) merge(peer int64, fetched []Message) []Message {
	pending := c.unconfirmed[peer]
	if len(pending) == 0 {
		return fetched
	}

	merged := slices.Clone(fetched)
	for i := range merged {
		m, ok := pending[merged[i].ID]
		if !ok {
			continue
		}
		// A local acknowledgement may not have reached the server yet.
		merged[i].Read = merged[i].Read || m.Read
		delete(pending, m.ID)
	}
	for _, m := range pending {
		merged = append(merged, m)
	}
	if len(pending) == 0 {
		delete(c.unconfirmed, peer)
	}

	slices.SortFunc(merged, compareMessages)
	return merged
}

// compareMessages orders by creation time, then id. Timestamps arrive at
// millisecond precision so equal times are common.
func compareMessages(a, b Message) int {
	if n := a.CreatedAt.Compare(b.CreatedAt); n != 0 {
		return n
	}
	return cmp.Compare(a.ID, b.ID)
}

func containsMessage(msgs []Message, id int64) bool {
	return lo.ContainsBy(msgs, func(m Message) bool { return m.ID == id })
}

func appendUnique(msgs []Message, msg Message) []Message {
	if containsMessage(msgs, msg.ID) {
		return msgs
	}
	return append(msgs, msg)
}
