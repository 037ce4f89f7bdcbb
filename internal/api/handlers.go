package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"analytical/internal/analytics"
	"analytical/internal/audit"
)

const maxBodyBytes = 1 << 20

var errMissingBody = errors.New("missing request body")

type namedRequest struct {
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties"`
}

// accepted is the answer to every well-formed call. Whether a provider kept
// or dropped the call is not reported back.
func (s *Server) accepted(w http.ResponseWriter, operation string) {
	if s.metrics != nil {
		s.metrics.Called(s.sessions.Name(), operation)
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func badRequest(w http.ResponseWriter, code string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": code})
}

func (s *Server) setup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Configuration map[string]any `json:"configuration"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid_request_body")
		return
	}

	s.sessions.Setup(r.Context(), analytics.Properties(normalize(req.Configuration)))
	s.accepted(w, "setup")
}

func (s *Server) event(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeNamed(w, r)
	if !ok {
		return
	}
	s.provider(r).Event(r.Context(), req.Name, properties(req.Properties))
	s.accepted(w, "event")
}

func (s *Server) screen(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeNamed(w, r)
	if !ok {
		return
	}
	s.provider(r).Screen(r.Context(), req.Name, properties(req.Properties))
	s.accepted(w, "screen")
}

func (s *Server) time(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeNamed(w, r)
	if !ok {
		return
	}
	s.provider(r).Time(r.Context(), req.Name, properties(req.Properties))
	s.accepted(w, "time")
}

func (s *Server) finish(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeNamed(w, r)
	if !ok {
		return
	}
	s.provider(r).Finish(r.Context(), req.Name, properties(req.Properties))
	s.accepted(w, "finish")
}

func (s *Server) identify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID     string         `json:"user_id"`
		Properties map[string]any `json:"properties"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid_request_body")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		badRequest(w, "missing_user_id")
		return
	}

	s.provider(r).Identify(r.Context(), req.UserID, properties(req.Properties))
	s.record(r, audit.Event{Action: audit.ActionIdentify, UserID: req.UserID})
	s.accepted(w, "identify")
}

func (s *Server) alias(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		ForID  string `json:"for_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid_request_body")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.ForID = strings.TrimSpace(req.ForID)
	if req.UserID == "" || req.ForID == "" {
		badRequest(w, "missing_user_id")
		return
	}

	s.provider(r).Alias(r.Context(), req.UserID, req.ForID)
	s.record(r, audit.Event{Action: audit.ActionAlias, UserID: req.UserID, ForID: req.ForID})
	s.accepted(w, "alias")
}

func (s *Server) set(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Properties map[string]any `json:"properties"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid_request_body")
		return
	}
	if req.Properties == nil {
		badRequest(w, "missing_properties")
		return
	}

	s.provider(r).Set(r.Context(), properties(req.Properties))
	s.accepted(w, "set")
}

func (s *Server) global(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Properties map[string]any `json:"properties"`
		Overwrite  bool           `json:"overwrite"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid_request_body")
		return
	}
	if req.Properties == nil {
		badRequest(w, "missing_properties")
		return
	}

	s.provider(r).Global(r.Context(), properties(req.Properties), req.Overwrite)
	s.accepted(w, "global")
}

func (s *Server) increment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Property string   `json:"property"`
		By       *float64 `json:"by"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid_request_body")
		return
	}
	if strings.TrimSpace(req.Property) == "" {
		badRequest(w, "missing_property")
		return
	}
	by := 1.0
	if req.By != nil {
		by = *req.By
	}

	s.provider(r).Increment(r.Context(), req.Property, by)
	s.accepted(w, "increment")
}

func (s *Server) purchase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount     *float64       `json:"amount"`
		Properties map[string]any `json:"properties"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid_request_body")
		return
	}
	if req.Amount == nil {
		badRequest(w, "missing_amount")
		return
	}

	s.provider(r).Purchase(r.Context(), *req.Amount, properties(req.Properties))
	s.accepted(w, "purchase")
}

func (s *Server) addDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid_request_body")
		return
	}
	token, err := hex.DecodeString(strings.TrimSpace(req.Token))
	if err != nil || len(token) == 0 {
		badRequest(w, "invalid_device_token")
		return
	}

	s.provider(r).AddDevice(r.Context(), token)
	s.accepted(w, "add_device")
}

func (s *Server) push(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Payload map[string]any `json:"payload"`
		Event   string         `json:"event"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid_request_body")
		return
	}
	if req.Payload == nil {
		badRequest(w, "missing_payload")
		return
	}

	s.provider(r).Push(r.Context(), normalize(req.Payload), strings.TrimSpace(req.Event))
	s.accepted(w, "push")
}

func (s *Server) flush(w http.ResponseWriter, r *http.Request) {
	s.sessions.Flush(r.Context())
	s.accepted(w, "flush")
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	s.provider(r).Reset(r.Context())
	s.record(r, audit.Event{Action: audit.ActionReset, UserID: sessionFromContext(r.Context())})
	s.accepted(w, "reset")
}

// record writes an audit entry. A failing audit store never fails the call.
func (s *Server) record(r *http.Request, event audit.Event) {
	event.Providers = s.sessions.Name()
	if event.Data == nil {
		event.Data = map[string]any{
			"remote_addr": r.RemoteAddr,
			"distinct_id": sessionFromContext(r.Context()),
		}
	}
	if err := s.audit.Record(r.Context(), event); err != nil {
		slog.WarnContext(r.Context(), "failed to record audit event", "action", event.Action, "error", err)
	}
}

func decodeNamed(w http.ResponseWriter, r *http.Request) (namedRequest, bool) {
	var req namedRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid_request_body")
		return req, false
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		badRequest(w, "missing_name")
		return req, false
	}
	return req, true
}

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return errMissingBody
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errMissingBody
		}
		return err
	}
	return nil
}

func properties(raw map[string]any) analytics.Properties {
	if raw == nil {
		return nil
	}
	return analytics.Properties(normalize(raw))
}

// normalize turns json.Number values into int64 when they are integral and
// float64 otherwise, at any depth.
func normalize(raw map[string]any) map[string]any {
	if raw == nil {
		return nil
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		return normalize(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}
