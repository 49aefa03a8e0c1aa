// Package worker provides a debug generation worker. It consumes
// dispatched jobs, streams an echoed reply back on each job's channel,
// and honors the kernel abort contract, so the full dispatch → channel →
// relay pipeline can run without a real LLM backend.
package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/genai-os/relay/pkg/channel"
	"github.com/genai-os/relay/pkg/dispatch"
	"github.com/genai-os/relay/pkg/events"
)

// EchoWorker answers every job by streaming the last user message back
// in small increments followed by Ended.
type EchoWorker struct {
	transport channel.Transport
	chunkSize int
	delay     time.Duration

	mu      sync.Mutex
	cancels map[int64]context.CancelFunc
}

type Option func(*EchoWorker)

// WithDelay sets the pause between increments (0 for tests).
func WithDelay(d time.Duration) Option {
	return func(w *EchoWorker) { w.delay = d }
}

// WithChunkSize sets how many runes each New event carries.
func WithChunkSize(n int) Option {
	return func(w *EchoWorker) { w.chunkSize = n }
}

func NewEchoWorker(transport channel.Transport, opts ...Option) (*EchoWorker, error) {
	if transport == nil {
		return nil, errors.New("echo worker transport is nil")
	}
	w := &EchoWorker{
		transport: transport,
		chunkSize: 4,
		delay:     30 * time.Millisecond,
		cancels:   map[int64]context.CancelFunc{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run consumes the job topic until ctx is cancelled. Each job runs on
// its own goroutine; streams for different history ids are independent.
func (w *EchoWorker) Run(ctx context.Context) error {
	sub, err := w.transport.Subscriber(dispatch.JobsTopic)
	if err != nil {
		return errors.Wrap(err, "build jobs subscriber")
	}
	defer func() { _ = sub.Close() }()

	ch, err := sub.Subscribe(ctx, dispatch.JobsTopic)
	if err != nil {
		return errors.Wrap(err, "subscribe jobs")
	}
	log.Info().Str("component", "worker").Msg("echo worker consuming jobs")

	for {
		select {
		case <-ctx.Done():
			// Cancellation is the normal shutdown path.
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var job dispatch.Job
			if err := json.Unmarshal(msg.Payload, &job); err != nil {
				log.Warn().Str("component", "worker").Err(err).Msg("undecodable job; dropping")
				msg.Ack()
				continue
			}
			msg.Ack()
			go w.handleJob(ctx, job)
		}
	}
}

func (w *EchoWorker) handleJob(ctx context.Context, job dispatch.Job) {
	jobCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancels[job.HistoryID] = cancel
	w.mu.Unlock()
	defer func() {
		cancel()
		w.mu.Lock()
		delete(w.cancels, job.HistoryID)
		w.mu.Unlock()
	}()

	topic := job.ReplyTopic()
	jobLog := log.With().
		Str("component", "worker").
		Str("job_id", job.ID).
		Int64("history_id", job.HistoryID).
		Str("topic", topic).
		Logger()

	reply := w.replyFor(job)
	pub := w.transport.Publisher()
	runes := []rune(reply)
	for i := 0; i < len(runes); i += w.chunkSize {
		if jobCtx.Err() != nil {
			// Abort honored: terminate the stream so blocked relays
			// unblock; the partial output stays persisted.
			jobLog.Info().Msg("job aborted; ending stream")
			_ = channel.PublishEvent(pub, topic, events.Ended{})
			return
		}
		end := i + w.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		if err := channel.PublishEvent(pub, topic, events.New{Msg: string(runes[i:end])}); err != nil {
			jobLog.Error().Err(err).Msg("publish increment failed")
			_ = channel.PublishEvent(pub, topic, events.Error{Message: err.Error()})
			return
		}
		if w.delay > 0 {
			time.Sleep(w.delay)
		}
	}
	if err := channel.PublishEvent(pub, topic, events.Ended{}); err != nil {
		jobLog.Error().Err(err).Msg("publish terminal event failed")
	}
	jobLog.Debug().Int("len", len(reply)).Msg("job completed")
}

func (w *EchoWorker) replyFor(job dispatch.Job) string {
	for i := len(job.Messages) - 1; i >= 0; i-- {
		if !job.Messages[i].IsBot && job.Messages[i].Msg != "" {
			return job.Messages[i].Msg
		}
	}
	return "Hello from the echo worker."
}

// Abort cancels the in-flight generations for the given history ids.
// Unknown ids are ignored.
func (w *EchoWorker) Abort(historyIDs []int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, id := range historyIDs {
		if cancel, ok := w.cancels[id]; ok {
			cancel()
		}
	}
}

// AbortHandler serves the kernel abort contract: a form-encoded POST with
// a JSON array of history ids. Mounted at /<api_version>/chat/abort.
func (w *EchoWorker) AbortHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(rw, "bad request", http.StatusBadRequest)
			return
		}
		var ids []int64
		if err := json.Unmarshal([]byte(r.PostFormValue("history_id")), &ids); err != nil {
			http.Error(rw, "bad history_id", http.StatusBadRequest)
			return
		}
		w.Abort(ids)
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("Aborted"))
	})
}
