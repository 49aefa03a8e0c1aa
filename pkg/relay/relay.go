// Package relay implements the streaming chat-relay state machine: it
// subscribes to a generation's channel, normalizes raw event payloads,
// persists incremental output, and hands each event to a caller-supplied
// callback in receipt order.
package relay

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/genai-os/relay/pkg/channel"
	"github.com/genai-os/relay/pkg/events"
	"github.com/genai-os/relay/pkg/history"
	"github.com/genai-os/relay/pkg/registry"
)

// Request identifies one generation stream to read.
type Request struct {
	Namespace string
	HistoryID int64
	UserID    int64
}

// Result summarizes a completed relay run.
type Result struct {
	// Output is the concatenation of all New.msg payloads in receipt
	// order, which is also what ends up persisted.
	Output string
	// ExitCode is the last exit code seen on any New event, if the turn
	// was produced by a command executor.
	ExitCode *int
}

// Callback receives each normalized event synchronously, in receipt
// order. A callback error does not stop the relay: the generation keeps
// streaming and persisting so the record stays correct even if no client
// is watching.
type Callback func(ev events.Event) error

// Relay reads one generation's event stream and relays it to a callback
// while writing accumulated output through to the history store.
type Relay struct {
	transport channel.Transport
	reg       registry.Registry
	store     history.Store
}

func New(transport channel.Transport, reg registry.Registry, store history.Store) (*Relay, error) {
	if transport == nil {
		return nil, errors.New("relay transport is nil")
	}
	if reg == nil {
		return nil, errors.New("relay registry is nil")
	}
	if store == nil {
		return nil, errors.New("relay history store is nil")
	}
	return &Relay{transport: transport, reg: reg, store: store}, nil
}

// Run blocks until the generation reaches a terminal event or the request
// is rejected up front. At most one Run per history id is meaningful at a
// time; the channel layer delivers each event to a single subscriber.
//
// Returns nil after Ended, ErrMissingParameters/ErrNotAuthorized without
// subscribing when the request is invalid, and *UpstreamError after an
// Error event or transport failure. A cancelled ctx also surfaces as
// *UpstreamError since the stream terminated without Ended. A generation
// that already finalized is served from the history store without
// subscribing.
func (r *Relay) Run(ctx context.Context, req Request, fn Callback) (*Result, error) {
	if req.HistoryID == 0 || req.UserID == 0 {
		return nil, ErrMissingParameters
	}
	ns := req.Namespace
	if ns == "" {
		ns = channel.NamespaceUserTask
	}

	active, err := r.reg.IsActive(ctx, ns, req.UserID, req.HistoryID)
	if err != nil {
		return nil, errors.Wrap(err, "check task registry")
	}
	if !active {
		return nil, ErrNotAuthorized
	}

	topic := channel.Topic(ns, req.HistoryID)
	relayLog := log.With().
		Str("component", "relay").
		Str("topic", topic).
		Int64("history_id", req.HistoryID).
		Int64("user_id", req.UserID).
		Logger()

	// The registry keeps finished generations listed until the TTL runs
	// out, and a finished generation's events are already consumed from
	// the channel. Subscribing again would block forever, so a finalized
	// record is served straight from the store.
	if rec, err := r.store.Get(ctx, req.HistoryID); err == nil && rec.Final {
		res := &Result{Output: rec.Output}
		if rec.Output != "" {
			r.invoke(relayLog, fn, events.New{Msg: rec.Output})
		}
		r.invoke(relayLog, fn, events.Ended{})
		relayLog.Debug().Int("output_len", len(rec.Output)).Msg("served finalized generation from store")
		return res, nil
	}

	sub, err := r.transport.Subscriber(topic)
	if err != nil {
		return nil, errors.Wrap(err, "build subscriber")
	}
	defer func() {
		if err := sub.Close(); err != nil {
			relayLog.Debug().Err(err).Msg("subscriber close")
		}
	}()

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, err := sub.Subscribe(subCtx, topic)
	if err != nil {
		return nil, errors.Wrap(err, "subscribe")
	}
	relayLog.Debug().Msg("subscribed to generation stream")

	var acc strings.Builder
	res := &Result{}
	for {
		select {
		case <-ctx.Done():
			relayLog.Info().Err(ctx.Err()).Msg("relay context cancelled before terminal event")
			return nil, &UpstreamError{Message: ctx.Err().Error()}
		case msg, ok := <-ch:
			if !ok {
				relayLog.Warn().Msg("channel closed before terminal event")
				return nil, &UpstreamError{Message: "channel closed before terminal event"}
			}
			ev, err := events.Parse(msg.Payload)
			msg.Ack()
			if err != nil {
				relayLog.Warn().Err(err).Msg("undecodable channel payload")
				return nil, &UpstreamError{Message: err.Error()}
			}

			switch ev := ev.(type) {
			case events.New:
				acc.WriteString(ev.Msg)
				if ev.ExitCode != nil {
					res.ExitCode = ev.ExitCode
				}
				res.Output = acc.String()
				// Write-through: every increment is durably visible
				// before the callback observes it.
				if err := r.store.UpdateOutput(ctx, req.HistoryID, res.Output); err != nil {
					relayLog.Warn().Err(err).Msg("persist incremental output")
				}
				r.invoke(relayLog, fn, ev)
			case events.Ended:
				res.Output = acc.String()
				if err := r.store.Finalize(ctx, req.HistoryID, res.Output); err != nil {
					relayLog.Warn().Err(err).Msg("finalize history record")
				}
				r.invoke(relayLog, fn, ev)
				relayLog.Debug().Int("output_len", len(res.Output)).Msg("generation ended")
				return res, nil
			case events.Error:
				r.invoke(relayLog, fn, ev)
				relayLog.Debug().Str("message", ev.Message).Msg("generation failed upstream")
				return nil, &UpstreamError{Message: ev.Message}
			}
		}
	}
}

// invoke runs the callback and logs failures at debug level only: a
// client that went away must not abort server-side processing.
func (r *Relay) invoke(relayLog zerolog.Logger, fn Callback, ev events.Event) {
	if fn == nil {
		return
	}
	if err := fn(ev); err != nil {
		relayLog.Debug().Err(err).Str("event", string(ev.Kind())).Msg("relay callback error; continuing")
	}
}
