package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandJoin subscribes the connection to a per-user channel.
	CommandJoin CommandKind = iota
	// CommandLeave drops the connection's channel membership.
	CommandLeave
)

// Command represents an action requested by a client.
type Command struct {
	Kind    CommandKind
	Channel string
}
