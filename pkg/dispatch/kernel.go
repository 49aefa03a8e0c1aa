package dispatch

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultKernelAPIVersion matches the worker backend's URL scheme.
const DefaultKernelAPIVersion = "v1.0"

// kernelTimeout bounds every kernel request so a hung backend cannot pin
// the caller.
const kernelTimeout = 300 * time.Second

// Aborter requests termination of active generations. Abort is
// asynchronous: the worker honors it by publishing a terminal event on
// each generation's channel.
type Aborter interface {
	Abort(ctx context.Context, historyIDs []int64, userID int64) error
}

// KernelClient talks to the worker backend's HTTP control surface.
type KernelClient struct {
	client     *resty.Client
	location   string
	apiVersion string
}

var _ Aborter = (*KernelClient)(nil)

func NewKernelClient(location string) (*KernelClient, error) {
	if location == "" {
		return nil, errors.New("kernel location is empty")
	}
	return &KernelClient{
		client:     resty.New().SetTimeout(kernelTimeout),
		location:   location,
		apiVersion: DefaultKernelAPIVersion,
	}, nil
}

// Abort forwards a form-encoded abort request for the given history ids.
// Ids are sent as an explicit JSON array; which ids are eligible is the
// caller's concern (it intersects with the task registry first).
func (k *KernelClient) Abort(ctx context.Context, historyIDs []int64, userID int64) error {
	ids, err := json.Marshal(historyIDs)
	if err != nil {
		return errors.Wrap(err, "encode abort ids")
	}
	url := k.location + "/" + k.apiVersion + "/chat/abort"
	resp, err := k.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetFormData(map[string]string{
			"history_id": string(ids),
			"user_id":    strconv.FormatInt(userID, 10),
		}).
		Post(url)
	if err != nil {
		return errors.Wrap(err, "post kernel abort")
	}
	if resp.IsError() {
		return errors.Errorf("kernel abort returned status %d", resp.StatusCode())
	}
	log.Info().
		Str("component", "dispatch").
		Int("count", len(historyIDs)).
		Int64("user_id", userID).
		Msg("abort forwarded to kernel")
	return nil
}
