// Package handler serves the document ingestion HTTP API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/logger"
)

const maxBodyBytes = 8 << 20

type Ingester interface {
	Ingest(ctx context.Context, req *ingestion.IngestRequest) (*ingestion.IngestResponse, error)
}

type Handler struct {
	ingester Ingester
	schema   config.SchemaConfig
	logger   *slog.Logger
}

func New(ingester Ingester, schema config.SchemaConfig) *Handler {
	return &Handler{
		ingester: ingester,
		schema:   schema,
		logger:   slog.Default().With("component", "ingestion-handler"),
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/documents", h.Ingest)
}

func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req ingestion.IngestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	event := ingestion.IngestEvent{DocumentID: req.DocumentID, Fields: req.Fields}
	if err := validator.ValidateIngestEvent(&event, h.schema); err != nil {
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.ingester.Ingest(ctx, &req)
	if err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		log.Error("ingestion failed", "doc_id", req.DocumentID, "error", err, "status_code", statusCode)
		h.writeError(w, statusCode, "ingestion failed")
		return
	}
	log.Info("document accepted", "doc_id", resp.DocumentID, "shard_id", resp.ShardID)
	h.writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
