// Package webhook implements the HTTP surface of the ingestion edge: the
// signed event endpoint and the manual reprocess endpoint.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tkpar/feedbridge/internal/lambdaboot"
	"github.com/tkpar/feedbridge/internal/metrics"
	"github.com/tkpar/feedbridge/internal/slack"
	"github.com/tkpar/feedbridge/internal/store"
)

// maxEventBody bounds the raw webhook body. Event payloads are small
// JSON documents; attachments arrive by URL, never inline.
const maxEventBody = 1 << 20

const (
	headerTimestamp = "X-Slack-Request-Timestamp"
	headerSignature = "X-Slack-Signature"
)

// Dispatcher sends a worker event asynchronously.
type Dispatcher interface {
	Invoke(ctx context.Context, event lambdaboot.WorkerEvent) error
}

// Restorer reverses a soft delete synchronously on the webhook path.
type Restorer interface {
	Restore(ctx context.Context, channel, correlationID string) error
}

// EventHandler serves the signed event webhook.
type EventHandler struct {
	verifier   *slack.Verifier
	classifier *slack.Classifier
	store      store.Store
	invoker    Dispatcher
	restorer   Restorer
	now        func() time.Time
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(verifier *slack.Verifier, classifier *slack.Classifier, s store.Store, invoker Dispatcher, restorer Restorer) *EventHandler {
	return &EventHandler{
		verifier:   verifier,
		classifier: classifier,
		store:      s,
		invoker:    invoker,
		restorer:   restorer,
		now:        time.Now,
	}
}

// --- JSON Helpers ---

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// httpError sends a JSON error response. The clientMsg is returned to the
// caller. Optional internalDetails are logged server-side but never sent
// to the client.
func httpError(w http.ResponseWriter, status int, clientMsg string, internalDetails ...string) {
	if len(internalDetails) > 0 {
		log.Error().
			Int("status", status).
			Str("clientMsg", clientMsg).
			Strs("internalDetails", internalDetails).
			Msg("HTTP error with internal details")
	}
	respondJSON(w, status, map[string]string{"error": clientMsg})
}

// ServeHTTP handles one webhook delivery. Signature verification runs
// against the raw body before any JSON parsing. The fast ack is committed
// to the response before any queue write; enqueue failures after the ack
// are logged, never surfaced to the event source.
func (h *EventHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		httpError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if err := h.verifier.Verify(body, r.Header.Get(headerTimestamp), r.Header.Get(headerSignature)); err != nil {
		switch {
		case errors.Is(err, slack.ErrSecretUnset):
			httpError(w, http.StatusInternalServerError, "server misconfigured", err.Error())
		case errors.Is(err, slack.ErrMissingHeader):
			httpError(w, http.StatusBadRequest, "missing signature headers")
		default:
			// Stale or forged. Logged as a security event.
			log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Webhook signature rejected")
			metrics.New("FeedBridge").Count("SignatureRejections").Flush()
			httpError(w, http.StatusForbidden, "invalid signature")
		}
		return
	}

	var envelope slack.Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if envelope.Type == slack.TypeURLVerification {
		respondJSON(w, http.StatusOK, map[string]string{"challenge": envelope.Challenge})
		return
	}

	cls := h.classifier.Classify(envelope.Event)

	log.Info().
		Str("eventId", envelope.EventID).
		Str("action", cls.Action.String()).
		Str("channel", cls.Channel).
		Msg("Event classified")

	// Fast ack. Everything after this point must not change the response.
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	switch cls.Action {
	case slack.ActionCreate:
		h.enqueueCreate(r.Context(), cls)
	case slack.ActionDelete:
		h.enqueueDelete(r.Context(), cls)
	case slack.ActionRestore:
		if err := h.restorer.Restore(r.Context(), cls.Channel, cls.CorrelationID); err != nil {
			log.Error().Err(err).Str("correlationId", cls.CorrelationID).Msg("Restore failed")
		}
	}
}

// enqueueCreate writes a creation queue item and dispatches the worker.
// Failures here happen after the ack and are logged only; the source will
// not retry, which the short ack budget forces.
func (h *EventHandler) enqueueCreate(ctx context.Context, cls slack.Classification) {
	var file *store.Attachment
	if cls.File != nil {
		file = &store.Attachment{
			Name:        cls.File.Name,
			Mimetype:    cls.File.Mimetype,
			DownloadURL: cls.File.URLPrivateDownload,
		}
	}

	item := &store.QueueItem{
		ID:     store.NewQueueItemID(),
		Status: store.StatusPending,
		SourceEvent: store.SourceEvent{
			User:          cls.User,
			Text:          cls.Text,
			Channel:       cls.Channel,
			CorrelationID: cls.CorrelationID,
			File:          file,
		},
		ReceivedAt: h.now().UnixMilli(),
	}

	if err := h.store.PutQueueItem(ctx, item); err != nil {
		log.Error().Err(err).Str("correlationId", cls.CorrelationID).Msg("Failed to enqueue creation item after ack")
		return
	}

	if err := h.invoker.Invoke(ctx, lambdaboot.WorkerEvent{Type: lambdaboot.WorkerEventCreate, ItemID: item.ID}); err != nil {
		// The durable item survives; an operator can reprocess it.
		log.Error().Err(err).Str("itemId", item.ID).Msg("Failed to dispatch worker for creation item")
		return
	}

	metrics.New("FeedBridge").Count("ItemsEnqueued").Flush()
}

func (h *EventHandler) enqueueDelete(ctx context.Context, cls slack.Classification) {
	req := &store.DeleteQueueItem{
		ID:            store.NewDeleteRequestID(),
		CorrelationID: cls.CorrelationID,
		Channel:       cls.Channel,
		RequestedBy:   cls.RequestedBy,
		ReceivedAt:    h.now().UnixMilli(),
	}

	if err := h.store.PutDeleteRequest(ctx, req); err != nil {
		log.Error().Err(err).Str("correlationId", cls.CorrelationID).Msg("Failed to enqueue delete request after ack")
		return
	}

	if err := h.invoker.Invoke(ctx, lambdaboot.WorkerEvent{Type: lambdaboot.WorkerEventDelete, ItemID: req.ID}); err != nil {
		log.Error().Err(err).Str("requestId", req.ID).Msg("Failed to dispatch worker for delete request")
	}
}
