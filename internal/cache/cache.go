package cache

import (
	"context"
)

// DeliveryDeduper remembers inbound provider message ids so redelivered
// webhooks are not interpreted twice.
type DeliveryDeduper interface {
	// FirstDelivery reports whether messageID has not been seen before and
	// records it.
	FirstDelivery(ctx context.Context, messageID string) (bool, error)
}

// NoopDeduper treats every delivery as new. Used when Redis is not configured.
type NoopDeduper struct{}

func (NoopDeduper) FirstDelivery(context.Context, string) (bool, error) {
	return true, nil
}
