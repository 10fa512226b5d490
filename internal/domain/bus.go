package domain

// EnvelopeBus decouples channel delivery from turn processing: gateways
// publish inbound envelopes, the orchestrator consumes them, and outbound
// envelopes are dispatched to the handler registered for their channel.
type EnvelopeBus interface {
	Publish(env Envelope)
	Subscribe() <-chan Envelope
	SendOutbound(env Envelope)
	OnOutbound(channel Channel, handler func(Envelope))
	Close()
}
