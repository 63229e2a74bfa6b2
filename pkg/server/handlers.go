package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"mercator-hq/parley/pkg/evidence"
	"mercator-hq/parley/pkg/evidence/query"
	"mercator-hq/parley/pkg/negotiation"
	"mercator-hq/parley/pkg/policy"
	"mercator-hq/parley/pkg/security/auth"
	sectls "mercator-hq/parley/pkg/security/tls"
	"mercator-hq/parley/pkg/telemetry/logging"
)

// Metadata keys the server sets from the caller's credentials. They
// override caller-supplied values.
const (
	MetadataAPIKey     = "api_key"
	MetadataClientCert = "client_cert"
)

// NegotiateRequest is the body of POST /v1/negotiate.
type NegotiateRequest struct {
	Prompt    string            `json:"prompt"`
	RequestID string            `json:"request_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NegotiateResponse is the reply to POST /v1/negotiate.
type NegotiateResponse struct {
	NegotiationID  string             `json:"negotiation_id"`
	RequestID      string             `json:"request_id"`
	Status         negotiation.Status `json:"status"`
	Artifact       string             `json:"artifact,omitempty"`
	Attempts       int                `json:"attempts"`
	Violations     []policy.Violation `json:"violations,omitempty"`
	Error          string             `json:"error,omitempty"`
	RuleSetVersion string             `json:"ruleset_version"`
	DurationMS     int64              `json:"duration_ms"`

	// Audit is included when requested with ?audit=true.
	Audit *negotiation.AuditRecord `json:"audit,omitempty"`
}

// ListResponse is the reply to GET /v1/negotiations.
type ListResponse struct {
	Records []*evidence.Record `json:"records"`
	Total   int64              `json:"total"`
	Limit   int                `json:"limit"`
	Offset  int                `json:"offset"`
}

func newNegotiateResponse(record *negotiation.AuditRecord, withAudit bool) NegotiateResponse {
	resp := NegotiateResponse{
		NegotiationID:  record.NegotiationID,
		RequestID:      record.Request.ID,
		Status:         record.Outcome.Status,
		Artifact:       record.Outcome.Artifact,
		Attempts:       record.Outcome.Attempts,
		Violations:     record.Outcome.Violations,
		Error:          record.Outcome.Error,
		RuleSetVersion: record.RuleSetVersion,
		DurationMS:     record.Duration().Milliseconds(),
	}
	if withAudit {
		resp.Audit = record
	}
	return resp
}

// statusCode maps a terminal outcome to an HTTP status.
func statusCode(ctx context.Context, status negotiation.Status) int {
	switch status {
	case negotiation.StatusApproved, negotiation.StatusBlocked:
		return http.StatusOK
	case negotiation.StatusFailed:
		return http.StatusBadGateway
	default:
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	}
}

// decodeBody reads a JSON body of at most limit bytes into v and writes an
// error reply when it cannot.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	body := http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, ErrorTypeInvalidRequest, CodeBodyTooLarge,
				"request body exceeds "+strconv.FormatInt(limit, 10)+" bytes")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, CodeInvalidJSON, "request body is empty")
		default:
			writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, CodeInvalidJSON, "invalid JSON: "+err.Error())
		}
		return false
	}
	return true
}

func (s *Server) handleNegotiate(w http.ResponseWriter, r *http.Request) {
	var req NegotiateRequest
	if !decodeBody(w, r, s.maxBodyBytes, &req) {
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, CodeMissingField, "prompt is required")
		return
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = logging.RequestID(r.Context())
	}

	ctx := r.Context()
	record := s.negotiator.Negotiate(ctx, negotiation.NewRequest(requestID, req.Prompt, callerMetadata(r, req.Metadata)))

	withAudit, _ := strconv.ParseBool(r.URL.Query().Get("audit"))
	writeJSON(w, statusCode(ctx, record.Outcome.Status), newNegotiateResponse(record, withAudit))
}

// callerMetadata adds the authenticated caller to meta.
func callerMetadata(r *http.Request, meta map[string]string) map[string]string {
	key, hasKey := auth.KeyFromContext(r.Context())
	cn := sectls.ClientIdentity(r)
	if !hasKey && cn == "" {
		return meta
	}
	out := make(map[string]string, len(meta)+2)
	for k, v := range meta {
		out[k] = v
	}
	if hasKey {
		out[MetadataAPIKey] = key.Name
	}
	if cn != "" {
		out[MetadataClientCert] = cn
	}
	return out
}

func (s *Server) handleGetNegotiation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	record, err := s.evidence.Get(r.Context(), id)
	if errors.Is(err, evidence.ErrNotFound) {
		writeError(w, http.StatusNotFound, ErrorTypeNotFound, CodeNotFound, "no evidence record for negotiation "+id)
		return
	}
	if err != nil {
		s.logger.ErrorContext(r.Context(), "failed to load evidence record", "negotiation_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, ErrorTypeServerError, "", "failed to load evidence record")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleListNegotiations(w http.ResponseWriter, r *http.Request) {
	q, err := query.FromValues(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, CodeInvalidQuery, err.Error())
		return
	}

	records, err := s.evidence.Query(r.Context(), q)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "failed to query evidence", "error", err)
		writeError(w, http.StatusInternalServerError, ErrorTypeServerError, "", "failed to query evidence")
		return
	}
	total, err := s.evidence.Count(r.Context(), q)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "failed to count evidence", "error", err)
		writeError(w, http.StatusInternalServerError, ErrorTypeServerError, "", "failed to count evidence")
		return
	}

	if records == nil {
		records = []*evidence.Record{}
	}
	writeJSON(w, http.StatusOK, ListResponse{
		Records: records,
		Total:   total,
		Limit:   q.Limit,
		Offset:  q.Offset,
	})
}

func (s *Server) handleCursor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if !decodeBody(w, r, s.maxBodyBytes, &req) {
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, CodeMissingField, "prompt is required")
		return
	}

	text := s.cursor.Intercept(r.Context(), req.Prompt)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, text)
}

func (s *Server) handleWindsurf(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if !decodeBody(w, r, s.maxBodyBytes, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.windsurf.Process(r.Context(), req))
}
