package messaging

// State is the delivery state of a single message as seen by the server.
type State int

const (
	// StateComposed is a message that exists only on the sender's side.
	StateComposed State = iota
	// StatePersisted is a stored message whose publish has not been attempted yet.
	StatePersisted
	// StateDelivered is a stored message that reached at least one live connection.
	StateDelivered
	// StatePending is a stored message that nobody was listening for.
	// It surfaces through the unread aggregate on the receiver's next poll.
	StatePending
	// StateRead is terminal.
	StateRead
)

func (s State) String() string {
	switch s {
	case StateComposed:
		return "composed"
	case StatePersisted:
		return "persisted"
	case StateDelivered:
		return "delivered"
	case StatePending:
		return "pending"
	case StateRead:
		return "read"
	default:
		return "unknown"
	}
}

var transitions = map[State][]State{
	StateComposed:  {StatePersisted},
	StatePersisted: {StateDelivered, StatePending},
	StateDelivered: {StateRead},
	StatePending:   {StateDelivered, StateRead},
	StateRead:      {StateRead},
}

// CanTransition reports whether a message may move from one state to another.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
