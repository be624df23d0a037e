package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/raaihank/medgateway/internal/gateway"
	"github.com/raaihank/medgateway/internal/provider"
)

const maxBodyBytes = 4 << 20

type chatRequest struct {
	SystemPrompt    string             `json:"system_prompt"`
	Messages        []provider.Message `json:"messages"`
	PatientIdentity string             `json:"patient_identity,omitempty"`
	Pseudonym       string             `json:"pseudonym,omitempty"`
	MaxTokens       int                `json:"max_tokens,omitempty"`
}

type generateRequest struct {
	Prompt          string `json:"prompt"`
	PatientIdentity string `json:"patient_identity,omitempty"`
	Pseudonym       string `json:"pseudonym,omitempty"`
	MaxTokens       int    `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Success            bool   `json:"success"`
	Result             string `json:"result"`
	Error              string `json:"error,omitempty"`
	ErrorKind          string `json:"error_kind,omitempty"`
	Outcome            string `json:"outcome"`
	Provider           string `json:"provider,omitempty"`
	Model              string `json:"model,omitempty"`
	Anonymized         bool   `json:"anonymized"`
	ExtractionDegraded bool   `json:"extraction_degraded,omitempty"`
	RequestID          string `json:"request_id"`
}

type switchRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decode(w, r, &req); err != nil {
		errorf(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	for _, m := range req.Messages {
		if m.Role != "user" && m.Role != "assistant" && m.Role != "system" {
			errorf(w, http.StatusBadRequest, "invalid message role %q", m.Role)
			return
		}
	}

	s.respond(w, r, gateway.Request{
		SystemPrompt:    req.SystemPrompt,
		Messages:        req.Messages,
		PatientIdentity: req.PatientIdentity,
		Pseudonym:       req.Pseudonym,
		MaxTokens:       req.MaxTokens,
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decode(w, r, &req); err != nil {
		errorf(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	s.respond(w, r, gateway.Request{
		SystemPrompt:    req.Prompt,
		PatientIdentity: req.PatientIdentity,
		Pseudonym:       req.Pseudonym,
		MaxTokens:       req.MaxTokens,
	})
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, req gateway.Request) {
	req.RequestID = getRequestID(r.Context())
	res := s.gateway.ChatOrGenerate(r.Context(), req)

	kind := gateway.ErrorKind(res.Err)
	writeJSON(w, statusFor(res, kind), chatResponse{
		Success:            res.Success(),
		Result:             res.Text,
		Error:              res.ErrorMessage(),
		ErrorKind:          kind,
		Outcome:            string(res.Outcome),
		Provider:           res.Provider,
		Model:              res.Model,
		Anonymized:         res.Anonymized,
		ExtractionDegraded: res.ExtractionDegraded,
		RequestID:          res.RequestID,
	})
}

// statusFor maps an outcome to an HTTP status. 499 follows the nginx
// convention for a request the client abandoned.
func statusFor(res gateway.Result, kind string) int {
	switch res.Outcome {
	case gateway.OutcomeDone:
		return http.StatusOK
	case gateway.OutcomeCancelled:
		return 499
	}
	switch kind {
	case "validation":
		return http.StatusBadRequest
	case "configuration":
		return http.StatusServiceUnavailable
	case "connectivity", "provider":
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	factory := s.gateway.Factory()

	resp := map[string]interface{}{
		"candidates": factory.Candidates(),
	}
	if active, ok := factory.Active(); ok {
		resp["active"] = active
	}

	models, err := factory.ListLocalModels(r.Context())
	if err != nil {
		s.logger.Debug("Local model discovery failed", zap.Error(err))
		resp["local_available"] = false
	} else {
		resp["local_available"] = true
		resp["local_models"] = models
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if err := decode(w, r, &req); err != nil {
		errorf(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	factory := s.gateway.Factory()
	kind := provider.Kind(strings.ToLower(strings.TrimSpace(req.Provider)))
	if err := factory.SwitchProvider(r.Context(), kind, strings.TrimSpace(req.Model)); err != nil {
		s.logger.Warn("Provider switch failed",
			zap.String("provider", string(kind)),
			zap.String("still_active", factory.GetActiveProviderName()),
			zap.Error(err),
		)
		status := http.StatusBadGateway
		switch gateway.ErrorKind(err) {
		case "validation":
			status = http.StatusBadRequest
		case "configuration":
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]interface{}{
			"success":  false,
			"error":    err.Error(),
			"provider": factory.GetActiveProviderName(),
			"model":    factory.GetActiveModelName(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"provider": factory.GetActiveProviderName(),
		"model":    factory.GetActiveModelName(),
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	entries, err := s.recorder.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to read audit entries", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "audit log unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
