package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Abhi-Verma2005/oms-assistant/internal/assistant"
	"github.com/Abhi-Verma2005/oms-assistant/internal/ingest"
	"github.com/Abhi-Verma2005/oms-assistant/internal/knowledge"
	"github.com/Abhi-Verma2005/oms-assistant/internal/retrieval"
)

// maxRequestBody caps request bodies at 64 KB.
const maxRequestBody = 64 * 1024

// readyzTimeout bounds the readiness DB ping.
const readyzTimeout = 2 * time.Second

type documentExcerpt struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

type chatRequest struct {
	UserID   string            `json:"userId"`
	Text     string            `json:"text"`
	Excerpts []documentExcerpt `json:"documentExcerpts,omitempty"`
}

type searchRequest struct {
	UserID string `json:"userId"`
	Query  string `json:"query"`
}

// searchResult is the wire shape of one ranked knowledge item.
type searchResult struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	ContentType string    `json:"contentType"`
	Topics      []string  `json:"topics,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	Confidence  float64   `json:"confidence"`
	Similarity  float64   `json:"similarity"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

// handleChat answers one turn and schedules background learning from it.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		WriteError(w, http.StatusBadRequest, "missing_user_id", "userId is required", s.logger)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		WriteError(w, http.StatusBadRequest, "missing_text", "text is required", s.logger)
		return
	}

	resp, err := s.coordinator.Respond(r.Context(), req.UserID, req.Text)
	switch {
	case errors.Is(err, knowledge.ErrUserScope):
		WriteError(w, http.StatusBadRequest, "invalid_user_scope", "userId is required", s.logger)
		return
	case errors.Is(err, assistant.ErrGenerationFailed):
		s.logger.Error("generation failed", "user_id", req.UserID, "error", err)
		WriteError(w, http.StatusBadGateway, "generation_failed", "the model could not produce an answer", s.logger)
		return
	case err != nil:
		s.logger.Error("chat turn failed", "user_id", req.UserID, "error", err)
		WriteError(w, http.StatusInternalServerError, "chat_failed", "failed to answer", s.logger)
		return
	}

	s.scheduleIngest(req, resp)
	writeJSON(w, http.StatusOK, resp, s.logger)
}

// scheduleIngest hands the finished turn to the background learner.
// Best-effort: a full queue is logged and forgotten.
func (s *Server) scheduleIngest(req chatRequest, resp *assistant.Response) {
	if s.ingester == nil {
		return
	}

	turn := ingest.Turn{
		UserID:        req.UserID,
		UserText:      req.Text,
		AssistantText: resp.Answer,
	}
	for _, ex := range req.Excerpts {
		turn.Excerpts = append(turn.Excerpts, ingest.DocumentExcerpt{
			Source: ex.Source,
			Text:   ex.Text,
		})
	}

	if err := s.ingester.Enqueue(turn); err != nil {
		s.logger.Warn("turn not scheduled for ingestion", "user_id", req.UserID, "error", err)
	}
}

// handleSearch runs retrieval directly, without generation or caching.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		WriteError(w, http.StatusBadRequest, "missing_user_id", "userId is required", s.logger)
		return
	}

	items, err := s.retriever.Retrieve(r.Context(), req.UserID, req.Query)
	if err != nil {
		if errors.Is(err, knowledge.ErrUserScope) {
			WriteError(w, http.StatusBadRequest, "invalid_user_scope", "userId is required", s.logger)
			return
		}
		s.logger.Error("knowledge search failed", "user_id", req.UserID, "error", err)
		WriteError(w, http.StatusInternalServerError, "search_failed", "failed to search knowledge", s.logger)
		return
	}

	writeJSON(w, http.StatusOK, toSearchResponse(items), s.logger)
}

func toSearchResponse(items []retrieval.ContextItem) searchResponse {
	out := searchResponse{Results: make([]searchResult, 0, len(items))}
	for _, it := range items {
		out.Results = append(out.Results, searchResult{
			ID:          it.Item.ID.String(),
			Content:     it.Item.Content,
			ContentType: string(it.Item.ContentType),
			Topics:      it.Item.Topics,
			CreatedAt:   it.Item.CreatedAt,
			Confidence:  it.Confidence,
			Similarity:  it.Similarity,
		})
	}
	return out
}

// handleHealthz reports process liveness.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz reports readiness, including storage reachability.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyzTimeout)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", "error", err)
			WriteError(w, http.StatusServiceUnavailable, "storage_unreachable", "database is not reachable", s.logger)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// decode parses a size-capped JSON body, replying 4xx on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large", s.logger)
			return false
		}
		WriteError(w, http.StatusBadRequest, "invalid_body", "invalid request body", s.logger)
		return false
	}
	return true
}
