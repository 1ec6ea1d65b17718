package domain

import (
	"context"
)

// Publisher sends a text payload to a transport topic and waits for the
// broker acknowledgement.
type Publisher interface {
	Publish(ctx context.Context, topic, payload string) error
}
