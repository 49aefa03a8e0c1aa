package relay

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genai-os/relay/pkg/channel"
	"github.com/genai-os/relay/pkg/events"
	"github.com/genai-os/relay/pkg/history"
	"github.com/genai-os/relay/pkg/registry"
)

type fixture struct {
	transport *channel.GoChannelTransport
	reg       *registry.MemoryRegistry
	store     *history.MemoryStore
	relay     *Relay
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	transport := channel.NewGoChannelTransport()
	t.Cleanup(func() { _ = transport.Close() })
	reg := registry.NewMemoryRegistry()
	store := history.NewMemoryStore()
	r, err := New(transport, reg, store)
	require.NoError(t, err)
	return &fixture{transport: transport, reg: reg, store: store, relay: r}
}

// startRelay runs the relay in the background and returns a channel
// carrying its outcome, once the subscription is in place.
func (f *fixture) startRelay(t *testing.T, req Request, fn Callback) <-chan struct {
	res *Result
	err error
} {
	t.Helper()
	done := make(chan struct {
		res *Result
		err error
	}, 1)
	go func() {
		res, err := f.relay.Run(context.Background(), req, fn)
		done <- struct {
			res *Result
			err error
		}{res, err}
	}()
	// The gochannel transport only delivers to established subscribers.
	time.Sleep(50 * time.Millisecond)
	return done
}

func (f *fixture) publish(t *testing.T, topic string, evs ...events.Event) {
	t.Helper()
	for _, ev := range evs {
		require.NoError(t, channel.PublishEvent(f.transport.Publisher(), topic, ev))
	}
}

func intPtr(i int) *int { return &i }

func TestRunAccumulatesAndPersists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.store.Create(ctx, history.Record{UserID: 7, IsBot: true})
	require.NoError(t, err)
	require.NoError(t, f.reg.Register(ctx, channel.NamespaceUserTask, 7, rec.ID))

	var seen []events.Event
	done := f.startRelay(t, Request{HistoryID: rec.ID, UserID: 7}, func(ev events.Event) error {
		seen = append(seen, ev)
		// Write-through: the store already reflects the increment when
		// the callback observes the event.
		if n, ok := ev.(events.New); ok {
			got, err := f.store.Get(ctx, rec.ID)
			assert.NoError(t, err)
			assert.Contains(t, got.Output, n.Msg)
		}
		return nil
	})

	topic := channel.Topic(channel.NamespaceUserTask, rec.ID)
	f.publish(t, topic, events.New{Msg: "Hel"}, events.New{Msg: "lo"}, events.Ended{})

	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, "Hello", out.res.Output)
	assert.Nil(t, out.res.ExitCode)

	require.Len(t, seen, 3)
	assert.Equal(t, events.New{Msg: "Hel"}, seen[0])
	assert.Equal(t, events.New{Msg: "lo"}, seen[1])
	assert.Equal(t, events.Ended{}, seen[2])

	got, err := f.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", got.Output)
	assert.True(t, got.Final)
}

func TestRunRetainsLastExitCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.store.Create(ctx, history.Record{UserID: 7, IsBot: true})
	require.NoError(t, err)
	require.NoError(t, f.reg.Register(ctx, channel.NamespaceUserTask, 7, rec.ID))

	done := f.startRelay(t, Request{HistoryID: rec.ID, UserID: 7}, nil)
	topic := channel.Topic(channel.NamespaceUserTask, rec.ID)
	f.publish(t, topic,
		events.New{Msg: "$ ls\n", ExitCode: intPtr(1)},
		events.New{Msg: "done\n", ExitCode: intPtr(0)},
		events.Ended{},
	)

	out := <-done
	require.NoError(t, out.err)
	require.NotNil(t, out.res.ExitCode)
	assert.Equal(t, 0, *out.res.ExitCode)
}

func TestRunUpstreamError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.store.Create(ctx, history.Record{UserID: 7, IsBot: true})
	require.NoError(t, err)
	require.NoError(t, f.reg.Register(ctx, channel.NamespaceUserTask, 7, rec.ID))

	var seen []events.Event
	done := f.startRelay(t, Request{HistoryID: rec.ID, UserID: 7}, func(ev events.Event) error {
		seen = append(seen, ev)
		return nil
	})
	topic := channel.Topic(channel.NamespaceUserTask, rec.ID)
	f.publish(t, topic, events.Error{Message: "backend down"})

	out := <-done
	require.Error(t, out.err)
	var upstream *UpstreamError
	require.ErrorAs(t, out.err, &upstream)
	// Surfaced verbatim.
	assert.Equal(t, "backend down", upstream.Message)
	require.Len(t, seen, 1)

	// The placeholder survives: no output was produced.
	got, err := f.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, history.Placeholder, got.Output)
	assert.False(t, got.Final)
}

func TestRunMissingParameters(t *testing.T) {
	f := newFixture(t)
	for _, req := range []Request{
		{HistoryID: 0, UserID: 7},
		{HistoryID: 42, UserID: 0},
		{},
	} {
		_, err := f.relay.Run(context.Background(), req, nil)
		require.ErrorIs(t, err, ErrMissingParameters)
	}
}

func TestRunNotAuthorized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.store.Create(ctx, history.Record{UserID: 7, IsBot: true})
	require.NoError(t, err)
	// Registered for a different user.
	require.NoError(t, f.reg.Register(ctx, channel.NamespaceUserTask, 8, rec.ID))

	called := false
	_, err = f.relay.Run(ctx, Request{HistoryID: rec.ID, UserID: 7}, func(events.Event) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrNotAuthorized)
	assert.False(t, called)
}

func TestRunCallbackErrorDoesNotAbort(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.store.Create(ctx, history.Record{UserID: 7, IsBot: true})
	require.NoError(t, err)
	require.NoError(t, f.reg.Register(ctx, channel.NamespaceUserTask, 7, rec.ID))

	done := f.startRelay(t, Request{HistoryID: rec.ID, UserID: 7}, func(events.Event) error {
		return assert.AnError
	})
	topic := channel.Topic(channel.NamespaceUserTask, rec.ID)
	f.publish(t, topic, events.New{Msg: "Hello"}, events.Ended{})

	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, "Hello", out.res.Output)

	got, err := f.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", got.Output)
	assert.True(t, got.Final)
}

// silentTransport models a broker without replay: once events were
// consumed and acked, a new subscription stays open but never delivers.
type silentTransport struct{}

func (silentTransport) Publisher() message.Publisher { return silentPublisher{} }

func (silentTransport) Subscriber(string) (message.Subscriber, error) {
	return silentSubscriber{}, nil
}

func (silentTransport) EnsureTopic(context.Context, string) error { return nil }

func (silentTransport) Close() error { return nil }

type silentPublisher struct{}

func (silentPublisher) Publish(string, ...*message.Message) error { return nil }

func (silentPublisher) Close() error { return nil }

type silentSubscriber struct{}

func (silentSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (silentSubscriber) Close() error { return nil }

func TestRunServesFinalizedRecordWithoutSubscribing(t *testing.T) {
	// The registry lists finished generations until the TTL runs out,
	// and a non-replaying broker delivers nothing for them. A second
	// read of a finished generation must come from the store instead of
	// blocking on the channel.
	store := history.NewMemoryStore()
	reg := registry.NewMemoryRegistry()
	r, err := New(silentTransport{}, reg, store)
	require.NoError(t, err)

	ctx := context.Background()
	rec, err := store.Create(ctx, history.Record{UserID: 7, IsBot: true})
	require.NoError(t, err)
	require.NoError(t, reg.Register(ctx, channel.NamespaceUserTask, 7, rec.ID))
	require.NoError(t, store.UpdateOutput(ctx, rec.ID, "Hello"))
	require.NoError(t, store.Finalize(ctx, rec.ID, "Hello"))

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var seen []events.Event
	res, err := r.Run(runCtx, Request{HistoryID: rec.ID, UserID: 7}, func(ev events.Event) error {
		seen = append(seen, ev)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello", res.Output)

	require.Len(t, seen, 2)
	assert.Equal(t, events.New{Msg: "Hello"}, seen[0])
	assert.Equal(t, events.Ended{}, seen[1])
}

func TestRunNamespaceIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.store.Create(ctx, history.Record{UserID: 7, IsBot: true})
	require.NoError(t, err)
	// Active in the API namespace only.
	require.NoError(t, f.reg.Register(ctx, channel.NamespaceAPI, 7, rec.ID))

	_, err = f.relay.Run(ctx, Request{Namespace: channel.NamespaceUserTask, HistoryID: rec.ID, UserID: 7}, nil)
	require.ErrorIs(t, err, ErrNotAuthorized)

	done := f.startRelay(t, Request{Namespace: channel.NamespaceAPI, HistoryID: rec.ID, UserID: 7}, nil)
	f.publish(t, channel.Topic(channel.NamespaceAPI, rec.ID), events.Ended{})
	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, "", out.res.Output)
}
