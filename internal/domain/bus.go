package domain

// MessageBus routes messages between channels and the dispatcher.
type MessageBus interface {
	// Publish reports whether the message was queued.
	Publish(msg InboundMessage) bool
	Subscribe() <-chan InboundMessage
	SendOutbound(msg OutboundMessage)
	OnOutbound(channelName string, handler func(OutboundMessage))
	Close()
}
