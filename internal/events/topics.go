package events

const (
	// TopicInbound carries every well-formed frame read from the extension peer.
	TopicInbound = "relay.inbound"

	// TopicState carries peer connect/disconnect notifications.
	TopicState = "relay.state"
)
