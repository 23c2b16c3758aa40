package channel

import (
	"context"

	"github.com/ironwillhq/ironwill/internal/bus"
)

// Channel is one delivery transport for check-in conversations and
// intervention messages.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(msg bus.OutboundMessage) error
}

// BaseChannel carries the name, bus handle, and sender allowlist shared by
// every transport.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom []string
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	return BaseChannel{name: name, bus: b, allowFrom: allowFrom}
}

func (c *BaseChannel) Name() string {
	return c.name
}

// IsAllowed reports whether senderID may talk to the bot. An empty allowlist
// admits everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	for _, id := range c.allowFrom {
		if id == senderID {
			return true
		}
	}
	return false
}
