package relay

import "fmt"

// Sentinel failures returned by Run before any subscription is attempted.
var (
	ErrMissingParameters = fmt.Errorf("missing history_id or user_id")
	ErrNotAuthorized     = fmt.Errorf("no activated session related to the user_id")
)

// UpstreamError wraps an Error event published on the channel, or an
// unexpected transport failure while reading it. The message is surfaced
// verbatim; the relay never retries or rewrites it.
type UpstreamError struct {
	Message string
}

func (e *UpstreamError) Error() string {
	return e.Message
}
