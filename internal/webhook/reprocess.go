package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/tkpar/feedbridge/internal/metrics"
	"github.com/tkpar/feedbridge/internal/queue"
)

// Reprocessor retries a failed queue item.
type Reprocessor interface {
	Reprocess(ctx context.Context, itemID string) error
}

// ReprocessHandler serves the operator-facing manual retry endpoint.
type ReprocessHandler struct {
	secret    string
	processor Reprocessor
}

// NewReprocessHandler creates a ReprocessHandler guarding the endpoint
// with the given shared secret.
func NewReprocessHandler(secret string, processor Reprocessor) *ReprocessHandler {
	return &ReprocessHandler{secret: secret, processor: processor}
}

type reprocessRequest struct {
	ItemID string `json:"itemId"`
	Secret string `json:"secret"`
}

// ServeHTTP handles one reprocess request: 401 on secret mismatch, 400
// for a missing id or an item that is not retryable, 404 for an absent
// item, 500 when the rerun itself fails (the item is re-marked failed),
// 200 on success.
func (h *ReprocessHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		httpError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	var req reprocessRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if h.secret == "" || subtle.ConstantTimeCompare([]byte(req.Secret), []byte(h.secret)) != 1 {
		log.Warn().Str("remote", r.RemoteAddr).Msg("Reprocess request rejected: bad secret")
		httpError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if req.ItemID == "" {
		httpError(w, http.StatusBadRequest, "itemId is required")
		return
	}

	err = h.processor.Reprocess(r.Context(), req.ItemID)
	switch {
	case err == nil:
		metrics.New("FeedBridge").Count("ManualReprocesses").Flush()
		respondJSON(w, http.StatusOK, map[string]string{"status": "reprocessed", "itemId": req.ItemID})
	case errors.Is(err, queue.ErrItemNotFound):
		httpError(w, http.StatusNotFound, "item not found")
	case errors.Is(err, queue.ErrNotRetryable):
		httpError(w, http.StatusBadRequest, "item not retryable", err.Error())
	default:
		httpError(w, http.StatusInternalServerError, "reprocess failed: "+err.Error())
	}
}
