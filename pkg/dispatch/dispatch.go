// Package dispatch hands generation work to the external worker backend.
// Jobs are enqueued on a worker topic; the worker answers with the event
// sequence on the job's reply channel. Aborts go straight to the kernel
// over HTTP and are cooperative: a relay only unblocks once the worker
// publishes a terminal event.
package dispatch

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/genai-os/relay/pkg/channel"
)

// JobsTopic is the queue topic workers consume generation jobs from.
const JobsTopic = "generation_jobs"

// HistoryMessage is one serialized prior turn handed to the worker.
type HistoryMessage struct {
	IsBot bool   `json:"isbot"`
	Msg   string `json:"msg"`
}

// Job is the fixed argument contract of a generation dispatch.
type Job struct {
	// ID correlates the job across dispatcher and worker logs. Filled in
	// at dispatch time when empty.
	ID string `json:"id,omitempty"`
	// Messages is the serialized message history, oldest first.
	Messages []HistoryMessage `json:"messages"`
	// ModelCode is the model/bot access code the worker routes on.
	ModelCode string `json:"model_code"`
	UserID    int64  `json:"user_id"`
	// HistoryID is the record the worker's output belongs to.
	HistoryID int64  `json:"history_id"`
	Locale    string `json:"locale"`
	// ChannelOverride names the reply channel explicitly; empty means
	// the default usertask channel for HistoryID.
	ChannelOverride string `json:"channel_override,omitempty"`
	// BotModelfile carries optional bot configuration directives.
	BotModelfile json.RawMessage `json:"bot_modelfile,omitempty"`
}

// ReplyTopic is the channel the worker must publish this job's events on.
func (j Job) ReplyTopic() string {
	if j.ChannelOverride != "" {
		return j.ChannelOverride
	}
	return channel.Topic(channel.NamespaceUserTask, j.HistoryID)
}

// Dispatcher enqueues generation jobs.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// QueueDispatcher publishes jobs on the worker topic.
type QueueDispatcher struct {
	pub   message.Publisher
	topic string
}

var _ Dispatcher = (*QueueDispatcher)(nil)

func NewQueueDispatcher(pub message.Publisher) (*QueueDispatcher, error) {
	if pub == nil {
		return nil, errors.New("dispatcher publisher is nil")
	}
	return &QueueDispatcher{pub: pub, topic: JobsTopic}, nil
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, job Job) error {
	if job.HistoryID == 0 {
		return errors.New("dispatch: missing history id")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "encode job")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := d.pub.Publish(d.topic, msg); err != nil {
		return errors.Wrapf(err, "publish job for history %d", job.HistoryID)
	}
	log.Debug().
		Str("component", "dispatch").
		Str("job_id", job.ID).
		Int64("history_id", job.HistoryID).
		Str("model", job.ModelCode).
		Str("reply_topic", job.ReplyTopic()).
		Msg("dispatched generation job")
	return nil
}
