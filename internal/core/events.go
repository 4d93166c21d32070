package core

// Event names emitted by the core.
const (
	// EventMessage is emitted in parallel for every dispatched session.
	EventMessage = "message"

	// EventMiddleware is emitted after the middleware chain settled.
	EventMiddleware = "middleware"

	// EventBeforeCommand is a bail event; a truthy string cancels the
	// command and becomes the reply.
	EventBeforeCommand = "before-command"

	// EventCommand is emitted after a command action ran.
	EventCommand = "command"

	// EventAttachUser is a bail event run after the user record was
	// attached; a truthy result drops the session.
	EventAttachUser = "attach-user"

	// EventAttach is emitted after user and channel were attached.
	EventAttach = "attach"

	// EventBeforeSend is a bail event; a truthy result cancels Send.
	EventBeforeSend = "before-send"

	// EventSend is emitted after a message was sent.
	EventSend = "send"

	EventBeforeConnect    = "before-connect"
	EventConnect          = "connect"
	EventBeforeDisconnect = "before-disconnect"
	EventDisconnect       = "disconnect"

	// EventRegistryAdded carries the *State of an applied plugin.
	EventRegistryAdded = "registry-added"

	// EventRegistryRemoved carries the *State of a disposed plugin.
	EventRegistryRemoved = "registry-removed"

	// EventRegistry carries a StateInfo snapshot after every change.
	EventRegistry = "registry"
)
