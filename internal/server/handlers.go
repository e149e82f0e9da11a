package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/anthropic"
	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/config"
	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/copilot"
	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/logging"
)

// openAIError is the error envelope of the OpenAI dialect.
type openAIError struct {
	Error openAIErrorDetail `json:"error"`
}

type openAIErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

// anthropicError is the error envelope of the Anthropic dialect.
type anthropicError struct {
	Type  string               `json:"type"`
	Error anthropicErrorDetail `json:"error"`
}

type anthropicErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error("failed to write response", "error", err)
	}
}

func writeOpenAIError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, openAIError{Error: openAIErrorDetail{Message: message, Type: errType}})
}

func writeAnthropicError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, anthropicError{
		Type:  "error",
		Error: anthropicErrorDetail{Type: errType, Message: message},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":        "copilot-provider",
		"version":     config.AppVersion,
		"description": config.AppDescription,
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.forwarder.Models(r.Context())
	if err != nil {
		logging.Error("model listing failed", "error", err)
		writeOpenAIError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	type modelEntry struct {
		ID     string `json:"id"`
		Object string `json:"object"`
	}
	entries := make([]modelEntry, 0, len(models))
	for _, m := range models {
		entries = append(entries, modelEntry{ID: m.ID, Object: "model"})
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": entries})
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}

	var req copilot.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "request body is not valid JSON")
		return
	}
	if req.Model == "" {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "missing required field: model")
		return
	}
	if len(req.Messages) == 0 {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "missing required field: messages")
		return
	}

	if req.Stream {
		events, err := s.forwarder.ChatCompletionStream(r.Context(), &req)
		if err != nil {
			logging.Error("streaming completion failed", "model", req.Model, "error", err)
			writeOpenAIError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		relaySSE(w, events)
		return
	}

	resp, err := s.forwarder.ChatCompletion(r.Context(), &req)
	if err != nil {
		logging.Error("completion failed", "model", req.Model, "error", err)
		writeOpenAIError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}

	req, err := anthropic.Parse(body)
	if err != nil {
		var invalid *anthropic.InvalidRequestError
		if errors.As(err, &invalid) {
			writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", invalid.Message)
			return
		}
		writeAnthropicError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	if req.Stream {
		events, err := s.forwarder.MessageStream(r.Context(), req)
		if err != nil {
			logging.Error("streaming message failed", "model", req.Model, "error", err)
			writeAnthropicError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		relaySSE(w, events)
		return
	}

	resp, err := s.forwarder.Message(r.Context(), req)
	if err != nil {
		logging.Error("message failed", "model", req.Model, "error", err)
		writeAnthropicError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// relaySSE forwards upstream chunks to the caller in SSE framing, ending with
// the [DONE] marker. A mid-stream failure is reported in-band as a final
// error frame; the status line was already sent.
func relaySSE(w http.ResponseWriter, events <-chan copilot.StreamEvent) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	for ev := range events {
		if ev.Err != nil {
			logging.Error("stream relay failed", "error", ev.Err)
			fmt.Fprint(w, "data: {\"error\":\"Stream error\"}\n\n")
			flush()
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", ev.Data)
		flush()
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flush()
}
