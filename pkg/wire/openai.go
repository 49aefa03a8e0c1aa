// Package wire renders a relay's normalized event stream in one of the
// supported client presentations: a blocking OpenAI chat.completion
// object, an OpenAI chat.completion.chunk SSE stream, or a raw
// passthrough event stream.
package wire

import (
	"strconv"
	"strings"
	"time"
)

// CompletionIDPrefix prefixes history ids on the wire, OpenAI style.
const CompletionIDPrefix = "chatcmpl-"

// Meta carries the request-scoped fields stamped on every payload.
type Meta struct {
	HistoryID int64
	Model     string
	Created   time.Time
}

// Message is a fully accumulated assistant message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Delta is one streamed content increment.
type Delta struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

// CompletionChoice is the single choice of a blocking response.
type CompletionChoice struct {
	Index        int       `json:"index"`
	Message      Message   `json:"message"`
	Logprobs     *struct{} `json:"logprobs"`
	FinishReason string    `json:"finish_reason"`
	ExitCode     *int      `json:"exit_code"`
}

// Completion is the blocking chat.completion response body.
type Completion struct {
	Choices []CompletionChoice `json:"choices"`
	Created int64              `json:"created"`
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Object  string             `json:"object"`
	Usage   struct{}           `json:"usage"`
}

// ChunkChoice is the single choice of a streamed chunk. Delta is nil (and
// FinishReason set) only on the terminal chunk.
type ChunkChoice struct {
	Delta        *Delta    `json:"delta"`
	Logprobs     *struct{} `json:"logprobs"`
	FinishReason *string   `json:"finish_reason"`
	ExitCode     *int      `json:"exit_code"`
}

// Chunk is one chat.completion.chunk SSE payload.
type Chunk struct {
	Choices []ChunkChoice `json:"choices"`
	Created int64         `json:"created"`
	ID      string        `json:"id"`
	Model   string        `json:"model"`
	Object  string        `json:"object"`
}

func completionID(historyID int64) string {
	return CompletionIDPrefix + strconv.FormatInt(historyID, 10)
}

// ParseCompletionID extracts the history id from a wire completion id,
// accepting bare numeric ids as well.
func ParseCompletionID(id string) (int64, bool) {
	id = strings.TrimPrefix(id, CompletionIDPrefix)
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// NewCompletion builds the blocking response for a finished generation.
func NewCompletion(meta Meta, content string, exitCode *int) Completion {
	return Completion{
		Choices: []CompletionChoice{{
			Message:      Message{Role: "assistant", Content: content},
			FinishReason: "stop",
			ExitCode:     exitCode,
		}},
		Created: meta.Created.Unix(),
		ID:      completionID(meta.HistoryID),
		Model:   meta.Model,
		Object:  "chat.completion",
	}
}

// NewDeltaChunk builds the streamed chunk carrying one content increment.
// The delta never carries the accumulated text, only the increment.
func NewDeltaChunk(meta Meta, delta string) Chunk {
	return Chunk{
		Choices: []ChunkChoice{{
			Delta: &Delta{Content: delta, Role: "assistant"},
		}},
		Created: meta.Created.Unix(),
		ID:      completionID(meta.HistoryID),
		Model:   meta.Model,
		Object:  "chat.completion.chunk",
	}
}

// NewTerminalChunk builds the final chunk emitted on Ended: a null delta
// with the terminal reason and the last-seen exit code.
func NewTerminalChunk(meta Meta, exitCode *int) Chunk {
	stop := "stop"
	return Chunk{
		Choices: []ChunkChoice{{
			FinishReason: &stop,
			ExitCode:     exitCode,
		}},
		Created: meta.Created.Unix(),
		ID:      completionID(meta.HistoryID),
		Model:   meta.Model,
		Object:  "chat.completion.chunk",
	}
}
