package channel

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Settings holds the Redis Streams transport configuration.
type Settings struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Group   string `yaml:"group"`
}

func (s *Settings) defaults() {
	if s.Addr == "" {
		s.Addr = "localhost:6379"
	}
	if s.Group == "" {
		s.Group = "relay"
	}
}

// RedisTransport carries generation streams over Redis Streams. One
// consumer group per stream makes subscription exclusive: every event is
// delivered to exactly one consumer in the group.
type RedisTransport struct {
	settings Settings
	client   *redis.Client
	pub      message.Publisher
}

var _ Transport = (*RedisTransport)(nil)

func NewRedisTransport(settings Settings) (*RedisTransport, error) {
	settings.defaults()
	client := redis.NewClient(&redis.Options{Addr: settings.Addr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}
	logger := NewWatermillLogger(log.With().Str("component", "channel").Logger())

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "build redis publisher")
	}
	return &RedisTransport{settings: settings, client: client, pub: pub}, nil
}

func (t *RedisTransport) Publisher() message.Publisher {
	return t.pub
}

// Subscriber builds a consumer bound to the topic's consumer group. The
// consumer name is derived from the topic; a second subscriber for the
// same topic competes within the group rather than receiving a copy.
func (t *RedisTransport) Subscriber(topic string) (message.Subscriber, error) {
	marshaler := rstream.DefaultMarshallerUnmarshaller{}
	logger := NewWatermillLogger(log.With().Str("component", "channel").Str("topic", topic).Logger())
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        redis.NewClient(&redis.Options{Addr: t.settings.Addr}),
		Unmarshaller:  marshaler,
		ConsumerGroup: t.settings.Group,
		Consumer:      t.settings.Group + ":" + topic,
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "build redis subscriber")
	}
	return sub, nil
}

// EnsureTopic creates the topic's consumer group at the stream tail if it
// does not exist yet, so the group replays nothing older than the current
// generation. Called before a job is dispatched.
func (t *RedisTransport) EnsureTopic(ctx context.Context, topic string) error {
	err := t.client.XGroupCreateMkStream(ctx, topic, t.settings.Group, "$").Err()
	if err != nil {
		// BUSYGROUP means the group already exists.
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrapf(err, "create consumer group for %s", topic)
	}
	log.Debug().Str("component", "channel").Str("topic", topic).Str("group", t.settings.Group).Msg("created consumer group at stream tail")
	return nil
}

func (t *RedisTransport) Close() error {
	if err := t.pub.Close(); err != nil {
		return err
	}
	return t.client.Close()
}
