package channel

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"

	"github.com/genai-os/relay/pkg/events"
)

// PublishEvent encodes a channel event and publishes it on the topic.
// Workers call this in publish order; the transport preserves ordering
// per topic.
func PublishEvent(pub message.Publisher, topic string, ev events.Event) error {
	payload, err := events.Encode(ev)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := pub.Publish(topic, msg); err != nil {
		return errors.Wrapf(err, "publish %s event to %s", ev.Kind(), topic)
	}
	return nil
}
