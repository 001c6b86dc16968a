package core

// Channel groups the connections joined to one user identity.
type Channel struct {
	Name    string
	clients map[*Client]struct{}
}

// NewChannel constructs a channel with no clients.
func NewChannel(name string) *Channel {
	return &Channel{
		Name:    name,
		clients: make(map[*Client]struct{}),
	}
}

// AddClient inserts a client into the channel. Returns true if newly added.
func (ch *Channel) AddClient(c *Client) bool {
	if _, exists := ch.clients[c]; exists {
		return false
	}
	ch.clients[c] = struct{}{}
	return true
}

// RemoveClient deletes a client from the channel. Returns true if removed.
func (ch *Channel) RemoveClient(c *Client) bool {
	if _, exists := ch.clients[c]; !exists {
		return false
	}
	delete(ch.clients, c)
	return true
}

// Broadcast sends an event to all clients in the channel and returns how many accepted it.
func (ch *Channel) Broadcast(event *Event) int {
	delivered := 0
	for client := range ch.clients {
		// Slow consumers are skipped; the poll path recovers what they miss.
		if client.deliver(event) {
			delivered++
		}
	}
	return delivered
}

// Empty returns true if no clients are in the channel.
func (ch *Channel) Empty() bool {
	return len(ch.clients) == 0
}
