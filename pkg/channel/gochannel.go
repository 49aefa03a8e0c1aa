package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"
)

// GoChannelTransport is an in-process transport backed by watermill's
// gochannel Pub/Sub. Used by tests and single-process deployments where
// the worker runs inside the same binary as the relay.
type GoChannelTransport struct {
	pubsub *gochannel.GoChannel
}

var _ Transport = (*GoChannelTransport)(nil)

func NewGoChannelTransport() *GoChannelTransport {
	logger := NewWatermillLogger(log.With().Str("component", "channel").Logger())
	// Persistent delivery replays a topic's backlog to late subscribers,
	// mirroring the consumer-group-at-tail setup of the Redis transport:
	// a relay that attaches after the worker's first events still sees
	// the full sequence.
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
		Persistent:          true,
	}, logger)
	return &GoChannelTransport{pubsub: pubsub}
}

func (t *GoChannelTransport) Publisher() message.Publisher {
	return t.pubsub
}

// Subscriber returns the shared pub/sub; gochannel delivers each message
// to every subscriber, so the single-subscriber-per-topic constraint is
// the caller's responsibility in-process.
func (t *GoChannelTransport) Subscriber(topic string) (message.Subscriber, error) {
	return nopCloseSubscriber{t.pubsub}, nil
}

func (t *GoChannelTransport) EnsureTopic(ctx context.Context, topic string) error {
	return nil
}

func (t *GoChannelTransport) Close() error {
	return t.pubsub.Close()
}

// nopCloseSubscriber prevents per-topic Close calls from tearing down the
// shared gochannel instance.
type nopCloseSubscriber struct {
	message.Subscriber
}

func (nopCloseSubscriber) Close() error { return nil }
