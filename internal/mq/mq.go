package mq

import "context"

// Publisher sends messages to a named channel on some broker. This service
// only produces (mail jobs consumed by a separate worker), so no consume
// side is exposed.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Close() error
}
