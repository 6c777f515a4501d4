package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tkpar/feedbridge/internal/lambdaboot"
	"github.com/tkpar/feedbridge/internal/slack"
	"github.com/tkpar/feedbridge/internal/store"
)

const testSecret = "8f742231b10e8888abcd99yyyzzz85a5"

// enqueueStore records queue writes. The embedded nil Store panics on any
// method the handler must not touch.
type enqueueStore struct {
	store.Store
	items   []*store.QueueItem
	dels    []*store.DeleteQueueItem
	failPut bool
}

func (f *enqueueStore) PutQueueItem(_ context.Context, item *store.QueueItem) error {
	if f.failPut {
		return errors.New("dynamo unavailable")
	}
	cp := *item
	f.items = append(f.items, &cp)
	return nil
}

func (f *enqueueStore) PutDeleteRequest(_ context.Context, req *store.DeleteQueueItem) error {
	cp := *req
	f.dels = append(f.dels, &cp)
	return nil
}

type fakeInvoker struct {
	events []lambdaboot.WorkerEvent
	err    error
}

func (f *fakeInvoker) Invoke(_ context.Context, event lambdaboot.WorkerEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

type fakeRestorer struct {
	calls []string
}

func (f *fakeRestorer) Restore(_ context.Context, channel, correlationID string) error {
	f.calls = append(f.calls, channel+"/"+correlationID)
	return nil
}

type handlerFixture struct {
	handler  *EventHandler
	store    *enqueueStore
	invoker  *fakeInvoker
	restorer *fakeRestorer
}

func newFixture() *handlerFixture {
	fs := &enqueueStore{}
	inv := &fakeInvoker{}
	res := &fakeRestorer{}
	h := NewEventHandler(
		slack.NewVerifier(testSecret),
		slack.NewClassifier(slack.DefaultMarkReaction),
		fs, inv, res,
	)
	return &handlerFixture{handler: h, store: fs, invoker: inv, restorer: res}
}

func sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:%s", timestamp, body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func signedRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	ts := fmt.Sprintf("%d", time.Now().Unix())
	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(body))
	req.Header.Set(headerTimestamp, ts)
	req.Header.Set(headerSignature, sign(testSecret, ts, []byte(body)))
	return req
}

func TestEvents_URLVerificationChallenge(t *testing.T) {
	fx := newFixture()
	body := `{"type":"url_verification","challenge":"abc123"}`
	rec := httptest.NewRecorder()

	fx.handler.ServeHTTP(rec, signedRequest(t, body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["challenge"] != "abc123" {
		t.Errorf("challenge = %q, want abc123", resp["challenge"])
	}
	if len(fx.store.items) != 0 {
		t.Error("verification events must never reach the queue")
	}
}

func TestEvents_ForgedSignatureRejected(t *testing.T) {
	fx := newFixture()
	body := `{"type":"url_verification","challenge":"abc123"}`
	ts := fmt.Sprintf("%d", time.Now().Unix())
	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(body))
	req.Header.Set(headerTimestamp, ts)
	req.Header.Set(headerSignature, sign("wrong-secret", ts, []byte(body)))
	rec := httptest.NewRecorder()

	fx.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestEvents_StaleTimestampRejected(t *testing.T) {
	fx := newFixture()
	body := `{"type":"event_callback"}`
	ts := fmt.Sprintf("%d", time.Now().Add(-10*time.Minute).Unix())
	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(body))
	req.Header.Set(headerTimestamp, ts)
	req.Header.Set(headerSignature, sign(testSecret, ts, []byte(body)))
	rec := httptest.NewRecorder()

	fx.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for replayed timestamp", rec.Code)
	}
}

func TestEvents_MissingHeaders(t *testing.T) {
	fx := newFixture()
	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	fx.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestEvents_InvalidJSON(t *testing.T) {
	fx := newFixture()
	rec := httptest.NewRecorder()

	fx.handler.ServeHTTP(rec, signedRequest(t, `{not json`))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestEvents_SecretUnset(t *testing.T) {
	h := NewEventHandler(slack.NewVerifier(""), slack.NewClassifier("x"), &enqueueStore{}, &fakeInvoker{}, &fakeRestorer{})
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, signedRequest(t, `{}`))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 for unconfigured secret", rec.Code)
	}
}

func TestEvents_FileShareEnqueuesAndDispatches(t *testing.T) {
	fx := newFixture()
	body := `{
		"type":"event_callback",
		"event_id":"Ev123",
		"event":{
			"type":"message","subtype":"file_share","user":"U123","text":"look at this",
			"ts":"1756599999.000100","channel":"C456",
			"files":[{"id":"F1","name":"clip.mov","mimetype":"video/quicktime","url_private_download":"https://files.example.com/clip.mov"}]
		}
	}`
	rec := httptest.NewRecorder()

	fx.handler.ServeHTTP(rec, signedRequest(t, body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 fast ack", rec.Code)
	}
	if len(fx.store.items) != 1 {
		t.Fatalf("queue items = %d, want 1", len(fx.store.items))
	}
	item := fx.store.items[0]
	if item.Status != store.StatusPending {
		t.Errorf("Status = %q, want pending", item.Status)
	}
	if item.SourceEvent.CorrelationID != "1756599999.000100" {
		t.Errorf("CorrelationID = %q, want message ts", item.SourceEvent.CorrelationID)
	}
	if item.SourceEvent.File == nil || item.SourceEvent.File.Mimetype != "video/quicktime" {
		t.Errorf("File = %+v, want the shared attachment", item.SourceEvent.File)
	}
	if len(fx.invoker.events) != 1 {
		t.Fatalf("worker events = %d, want 1", len(fx.invoker.events))
	}
	ev := fx.invoker.events[0]
	if ev.Type != lambdaboot.WorkerEventCreate || ev.ItemID != item.ID {
		t.Errorf("worker event = %+v, want create for %s", ev, item.ID)
	}
}

func TestEvents_MarkReactionEnqueuesDelete(t *testing.T) {
	fx := newFixture()
	body := `{
		"type":"event_callback",
		"event":{
			"type":"reaction_added","user":"U777","reaction":"x",
			"item":{"type":"message","channel":"C456","ts":"1756599999.000100"}
		}
	}`
	rec := httptest.NewRecorder()

	fx.handler.ServeHTTP(rec, signedRequest(t, body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(fx.store.dels) != 1 {
		t.Fatalf("delete requests = %d, want 1", len(fx.store.dels))
	}
	del := fx.store.dels[0]
	if del.CorrelationID != "1756599999.000100" || del.RequestedBy != "U777" {
		t.Errorf("delete request = %+v", del)
	}
	if len(fx.invoker.events) != 1 || fx.invoker.events[0].Type != lambdaboot.WorkerEventDelete {
		t.Fatalf("worker events = %+v, want one delete dispatch", fx.invoker.events)
	}
}

func TestEvents_ReactionRemovedRestoresSynchronously(t *testing.T) {
	fx := newFixture()
	body := `{
		"type":"event_callback",
		"event":{
			"type":"reaction_removed","user":"U777","reaction":"x",
			"item":{"type":"message","channel":"C456","ts":"1756599999.000100"}
		}
	}`
	rec := httptest.NewRecorder()

	fx.handler.ServeHTTP(rec, signedRequest(t, body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(fx.restorer.calls) != 1 || fx.restorer.calls[0] != "C456/1756599999.000100" {
		t.Errorf("restore calls = %v", fx.restorer.calls)
	}
	if len(fx.invoker.events) != 0 {
		t.Error("restore must not go through the worker")
	}
}

func TestEvents_BotMessageIgnored(t *testing.T) {
	fx := newFixture()
	body := `{
		"type":"event_callback",
		"event":{"type":"message","bot_id":"B99","text":"automated","ts":"1.2","channel":"C456"}
	}`
	rec := httptest.NewRecorder()

	fx.handler.ServeHTTP(rec, signedRequest(t, body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(fx.store.items) != 0 || len(fx.store.dels) != 0 {
		t.Error("bot messages must not be enqueued")
	}
}

func TestEvents_EnqueueFailureStillAcks(t *testing.T) {
	fx := newFixture()
	fx.store.failPut = true
	body := `{
		"type":"event_callback",
		"event":{"type":"message","user":"U123","text":"hi","ts":"1.2","channel":"C456"}
	}`
	rec := httptest.NewRecorder()

	fx.handler.ServeHTTP(rec, signedRequest(t, body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even when the queue write fails after ack", rec.Code)
	}
	if len(fx.invoker.events) != 0 {
		t.Error("no dispatch without a durable queue item")
	}
}
