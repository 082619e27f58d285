package broker

import (
	"context"

	"github.com/zllovesuki/stylo/spec"
)

// Producer defines a producer sending billing notifications via message broker
type Producer interface {
	Close()
	Publish(ctx context.Context, event spec.Event) error
}
