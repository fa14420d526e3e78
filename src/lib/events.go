package lib

import (
	"context"
	"log"

	"nftdiarias/src/types"
)

// Publisher delivers lifecycle events. Callers log failures and carry on.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload types.JSONB) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, topic string, payload types.JSONB) error {
	log.Printf("[events] %s: %v (not published)\n", topic, payload["type"])
	return nil
}
