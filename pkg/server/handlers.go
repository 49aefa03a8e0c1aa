package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/genai-os/relay/pkg/channel"
	"github.com/genai-os/relay/pkg/dispatch"
	"github.com/genai-os/relay/pkg/history"
	"github.com/genai-os/relay/pkg/relay"
	"github.com/genai-os/relay/pkg/wire"
)

type completionRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Stream bool   `json:"stream"`
	Lang   string `json:"lang"`
}

type abortRequest struct {
	IDs []string `json:"ids"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorEnvelope(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"status":  "error",
		"message": message,
	})
}

func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorEnvelope(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user, err := s.deps.Resolver.Resolve(r)
	if err != nil {
		writeErrorEnvelope(w, http.StatusUnauthorized, "Authentication failed")
		return
	}

	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorEnvelope(w, http.StatusBadRequest, `The request is missing the "message" or "model" field.`)
		return
	}
	if len(req.Messages) == 0 || req.Model == "" {
		writeErrorEnvelope(w, http.StatusBadRequest, `The request is missing the "message" or "model" field.`)
		return
	}
	if !s.modelExists(req.Model) {
		writeErrorEnvelope(w, http.StatusNotFound, "The specified model does not exist.")
		return
	}

	messages := make([]dispatch.HistoryMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, dispatch.HistoryMessage{
			IsBot: m.Role != "user",
			Msg:   m.Content,
		})
	}

	ctx := r.Context()
	rec, err := s.deps.Store.Create(ctx, history.Record{UserID: user.ID, IsBot: true})
	if err != nil {
		log.Error().Err(err).Msg("create history record")
		writeErrorEnvelope(w, http.StatusInternalServerError, "failed to create history record")
		return
	}
	if err := s.deps.Registry.Register(ctx, channel.NamespaceAPI, user.TokenableID, rec.ID); err != nil {
		log.Error().Err(err).Int64("history_id", rec.ID).Msg("register active task")
		writeErrorEnvelope(w, http.StatusInternalServerError, "failed to register task")
		return
	}

	replyTopic := channel.Topic(channel.NamespaceAPI, rec.ID)
	// The group must exist before the worker can publish, or events
	// emitted ahead of the relay's subscribe would be lost or replayed.
	if err := s.deps.Transport.EnsureTopic(ctx, replyTopic); err != nil {
		log.Error().Err(err).Str("topic", replyTopic).Msg("ensure reply topic")
		writeErrorEnvelope(w, http.StatusInternalServerError, "failed to prepare stream")
		return
	}
	job := dispatch.Job{
		Messages:        messages,
		ModelCode:       req.Model,
		UserID:          user.ID,
		HistoryID:       rec.ID,
		Locale:          req.Lang,
		ChannelOverride: replyTopic,
	}
	if err := s.deps.Dispatcher.Dispatch(ctx, job); err != nil {
		log.Error().Err(err).Int64("history_id", rec.ID).Msg("dispatch generation")
		writeErrorEnvelope(w, http.StatusInternalServerError, "failed to dispatch generation")
		return
	}

	meta := wire.Meta{HistoryID: rec.ID, Model: req.Model, Created: time.Now()}
	relayReq := relay.Request{
		Namespace: channel.NamespaceAPI,
		HistoryID: rec.ID,
		UserID:    user.TokenableID,
	}
	w.Header().Set("X-Request-ID", wire.CompletionIDPrefix+strconv.FormatInt(rec.ID, 10))
	if req.Stream {
		s.streamCompletion(w, meta, relayReq)
	} else {
		s.blockCompletion(w, meta, relayReq)
	}
}

// blockCompletion relays to completion and returns one JSON object with
// the full accumulated text.
func (s *Server) blockCompletion(w http.ResponseWriter, meta wire.Meta, req relay.Request) {
	// Run on the server context: a gone client must not abort the
	// generation or its persistence.
	res, err := s.relay.Run(s.baseCtx, req, nil)
	if err != nil {
		writeErrorEnvelope(w, statusForRelayErr(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, wire.NewCompletion(meta, res.Output, res.ExitCode))
}

// streamCompletion relays each increment as a chat.completion.chunk SSE
// frame. Upstream errors terminate the stream abruptly, without [DONE].
func (s *Server) streamCompletion(w http.ResponseWriter, meta wire.Meta, req relay.Request) {
	wire.SetStreamHeaders(w.Header())
	enc := wire.NewStreamEncoder(meta, wire.NewStreamWriter(w))
	_, err := s.relay.Run(s.baseCtx, req, enc.OnEvent)
	if err != nil {
		log.Debug().Err(err).Int64("history_id", req.HistoryID).Msg("stream terminated on relay error")
	}
	if writeErr := enc.WriteErr(); writeErr != nil {
		// Client went away mid-stream; generation already ran to
		// completion and the record is persisted.
		log.Debug().Err(writeErr).Int64("history_id", req.HistoryID).Msg("client disconnected during stream")
	}
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorEnvelope(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user, err := s.deps.Resolver.Resolve(r)
	if err != nil {
		writeErrorEnvelope(w, http.StatusUnauthorized, "Authentication failed")
		return
	}
	if s.deps.Aborter == nil {
		writeErrorEnvelope(w, http.StatusNotImplemented, "abort backend not configured")
		return
	}

	var req abortRequest
	// An empty body means "abort everything active".
	_ = json.NewDecoder(r.Body).Decode(&req)

	ctx := r.Context()
	active, err := s.deps.Registry.ListActive(ctx, channel.NamespaceAPI, user.TokenableID)
	if err != nil {
		writeErrorEnvelope(w, http.StatusInternalServerError, "failed to list active tasks")
		return
	}

	toAbort := active
	if req.IDs != nil {
		requested := make(map[int64]struct{}, len(req.IDs))
		for _, raw := range req.IDs {
			if id, ok := wire.ParseCompletionID(raw); ok {
				requested[id] = struct{}{}
			}
		}
		toAbort = toAbort[:0:0]
		for _, id := range active {
			if _, ok := requested[id]; ok {
				toAbort = append(toAbort, id)
			}
		}
	}

	// The kernel is called even with an empty set; aborting an inactive
	// id is a no-op on its side.
	if err := s.deps.Aborter.Abort(ctx, toAbort, user.TokenableID); err != nil {
		log.Error().Err(err).Msg("forward abort to kernel")
		writeErrorEnvelope(w, http.StatusBadGateway, "failed to forward abort")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "success",
		"message":      "Aborted",
		"tokenable_id": user.TokenableID,
		"name":         user.Name,
	})
}

// handleRawStream serves the low-level passthrough stream used by
// non-browser consumers with externally-authenticated access.
func (s *Server) handleRawStream(w http.ResponseWriter, r *http.Request) {
	if s.settings.APIKey == "" || r.URL.Query().Get("key") != s.settings.APIKey {
		writeErrorEnvelope(w, http.StatusForbidden, "API key doesn't match")
		return
	}
	historyID, _ := strconv.ParseInt(r.URL.Query().Get("history_id"), 10, 64)
	userID, _ := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)

	req := relay.Request{
		Namespace: channel.NamespaceAPI,
		HistoryID: historyID,
		UserID:    userID,
	}
	wire.SetStreamHeaders(w.Header())
	enc := wire.NewRawEncoder(wire.NewStreamWriter(w))
	if _, err := s.relay.Run(s.baseCtx, req, enc.OnEvent); err != nil {
		// Short-circuit rejections and upstream failures both surface as
		// an abruptly terminated stream.
		log.Debug().Err(err).Int64("history_id", historyID).Msg("raw stream terminated")
	}
}

func statusForRelayErr(err error) int {
	switch {
	case err == relay.ErrMissingParameters:
		return http.StatusBadRequest
	case err == relay.ErrNotAuthorized:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
