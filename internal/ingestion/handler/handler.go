// Package handler accepts document mutations over HTTP and publishes them to
// the mutations topic, where the index consumer applies them.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/resilience"
)

const maxBodyBytes = 4 << 20

type Publisher interface {
	Publish(ctx context.Context, events ...kafka.Event) error
}

// ShardFunc names the shard that will own a document.
type ShardFunc func(docID string) string

type Response struct {
	DocumentID string `json:"document_id,omitempty"`
	Op         string `json:"op"`
	Shard      string `json:"shard,omitempty"`
	Status     string `json:"status"`
}

type Handler struct {
	publisher Publisher
	shardOf   ShardFunc
	idField   string
	retry     resilience.RetryConfig
	logger    *slog.Logger
}

func New(pub Publisher, shardOf ShardFunc, idField string, retry resilience.RetryConfig, log *slog.Logger) *Handler {
	return &Handler{
		publisher: pub,
		shardOf:   shardOf,
		idField:   idField,
		retry:     retry,
		logger:    logger.OrDefault(log, "ingestion-handler"),
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/documents", h.Ingest)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", h.Delete)
}

// Ingest publishes one mutation event given as the JSON body.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var ev consumer.MutationEvent
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ev); err != nil {
		h.writeError(w, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid JSON body: %v", err))
		return
	}
	h.publish(w, r, ev)
}

// Delete publishes a delete of the document in the path. An optional
// ?mode= selects the update mode.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ev := consumer.MutationEvent{
		Op:         consumer.OpDelete,
		DocumentID: r.PathValue("id"),
		Mode:       r.URL.Query().Get("mode"),
	}
	if v := r.URL.Query().Get("version"); v != "" {
		version, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "version must be an integer"))
			return
		}
		ev.Version = version
	}
	h.publish(w, r, ev)
}

func (h *Handler) publish(w http.ResponseWriter, r *http.Request, ev consumer.MutationEvent) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	if err := validator.ValidateMutation(&ev, h.idField, indexer.VersionField); err != nil {
		var verr *validator.ValidationError
		if errors.As(err, &verr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": verr.Fields,
			})
			return
		}
		h.writeError(w, err)
		return
	}

	err := resilience.Retry(ctx, "publish mutation", h.retry, func(ctx context.Context) error {
		return h.publisher.Publish(ctx, kafka.Event{Key: ev.DocumentID, Value: ev})
	})
	if err != nil {
		log.Error("publishing mutation failed", "op", ev.Op, "document_id", ev.DocumentID, "error", err)
		h.writeError(w, apperrors.New(apperrors.ErrShardUnavailable, http.StatusServiceUnavailable, "mutation could not be queued"))
		return
	}

	resp := Response{DocumentID: ev.DocumentID, Op: ev.Op, Status: postgres.StatusPending}
	if ev.DocumentID != "" && h.shardOf != nil {
		resp.Shard = h.shardOf(ev.DocumentID)
	}
	log.Info("mutation accepted", "op", ev.Op, "document_id", ev.DocumentID, "shard", resp.Shard)
	h.writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			message = appErr.Message
		} else {
			message = http.StatusText(status)
		}
	}
	h.writeJSON(w, status, map[string]string{"error": message})
}
