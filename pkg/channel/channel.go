// Package channel provides the publish/subscribe transport carrying one
// generation's event sequence between the worker backend and the relay.
//
// Topics are named "<namespace>_<history_id>". A topic has exactly one
// meaningful subscriber for the lifetime of one generation; the Redis
// transport enforces this with a consumer group per topic, so a duplicate
// subscriber (e.g. a second browser tab) joins the same group and each
// event is delivered to only one of them.
package channel

import (
	"context"
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Namespaces distinguishing API-originated from UI-originated sessions.
// They prefix both channel topics and task registry keys.
const (
	NamespaceAPI      = "api"
	NamespaceUserTask = "usertask"
)

// Topic builds the channel name for a generation stream.
func Topic(namespace string, historyID int64) string {
	return namespace + "_" + strconv.FormatInt(historyID, 10)
}

// Transport abstracts the message transport. The publisher is shared; a
// dedicated subscriber is built per topic so that subscription lifecycles
// stay independent across generations.
type Transport interface {
	Publisher() message.Publisher
	// Subscriber returns a subscriber bound to the given topic's consumer
	// group. Callers own the returned subscriber and must Close it when
	// the generation's stream terminates.
	Subscriber(topic string) (message.Subscriber, error)
	// EnsureTopic prepares the topic for publishing so events emitted
	// before the relay attaches are not replayed from the beginning of
	// time. Must be called before dispatching a generation.
	EnsureTopic(ctx context.Context, topic string) error
	Close() error
}
