package wire

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"github.com/genai-os/relay/pkg/events"
)

// StreamWriter writes event-stream frames and flushes after every frame
// so partial output is visible before the next event arrives.
type StreamWriter struct {
	w io.Writer
	f http.Flusher
}

// NewStreamWriter prepares w for server-sent events. If w does not
// implement http.Flusher (e.g. in tests), frames are written unflushed.
func NewStreamWriter(w io.Writer) *StreamWriter {
	sw := &StreamWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		sw.f = f
	}
	return sw
}

// SetStreamHeaders stamps the response headers for an SSE stream.
func SetStreamHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	h.Set("Connection", "close")
}

func (sw *StreamWriter) writeFrame(frame []byte) error {
	if _, err := sw.w.Write(frame); err != nil {
		return errors.Wrap(err, "write stream frame")
	}
	if sw.f != nil {
		sw.f.Flush()
	}
	return nil
}

// Data writes one `data: <json>` frame.
func (sw *StreamWriter) Data(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode stream payload")
	}
	return sw.writeFrame(append(append([]byte("data: "), b...), '\n', '\n'))
}

// Done writes the literal `data: [DONE]` sentinel.
func (sw *StreamWriter) Done() error {
	return sw.writeFrame([]byte("data: [DONE]\n\n"))
}

// RawData writes one raw passthrough line (`data: <text>` + newline).
func (sw *StreamWriter) RawData(text string) error {
	return sw.writeFrame(append(append([]byte("data: "), text...), '\n'))
}

// RawClose writes the passthrough close signal (`event: close`).
func (sw *StreamWriter) RawClose() error {
	return sw.writeFrame([]byte("event: close\n\n"))
}

// StreamEncoder translates relay events into chat.completion.chunk
// frames. Errors from the underlying writer are retained so the handler
// can distinguish a gone client from a healthy stream; they never stop
// the relay itself.
type StreamEncoder struct {
	meta     Meta
	sw       *StreamWriter
	exitCode *int
	writeErr error
}

func NewStreamEncoder(meta Meta, sw *StreamWriter) *StreamEncoder {
	return &StreamEncoder{meta: meta, sw: sw}
}

// OnEvent is the relay callback. Empty-msg New events only update the
// remembered exit code and emit no frame; Ended emits the terminal chunk
// followed by the [DONE] sentinel; Error emits nothing, causing the
// abrupt termination the protocol prescribes.
func (e *StreamEncoder) OnEvent(ev events.Event) error {
	switch ev := ev.(type) {
	case events.New:
		if ev.ExitCode != nil {
			e.exitCode = ev.ExitCode
		}
		if ev.Msg == "" {
			return nil
		}
		return e.record(e.sw.Data(NewDeltaChunk(e.meta, ev.Msg)))
	case events.Ended:
		if err := e.record(e.sw.Data(NewTerminalChunk(e.meta, e.exitCode))); err != nil {
			return err
		}
		return e.record(e.sw.Done())
	case events.Error:
		return nil
	}
	return nil
}

// WriteErr reports the first failure writing to the client, if any.
func (e *StreamEncoder) WriteErr() error {
	return e.writeErr
}

func (e *StreamEncoder) record(err error) error {
	if err != nil && e.writeErr == nil {
		e.writeErr = err
	}
	return err
}

// RawEncoder translates relay events into the raw passthrough stream for
// non-browser low-level consumers.
type RawEncoder struct {
	sw       *StreamWriter
	writeErr error
}

func NewRawEncoder(sw *StreamWriter) *RawEncoder {
	return &RawEncoder{sw: sw}
}

func (e *RawEncoder) OnEvent(ev events.Event) error {
	var err error
	switch ev := ev.(type) {
	case events.New:
		err = e.sw.RawData(ev.Msg)
	case events.Ended:
		err = e.sw.RawClose()
	case events.Error:
		// Propagated by the relay's return value; the stream just dies.
	}
	if err != nil && e.writeErr == nil {
		e.writeErr = err
	}
	return err
}

func (e *RawEncoder) WriteErr() error {
	return e.writeErr
}
