// Package store provides durable persistence for the ingestion pipeline:
// the creation work queue, the deletion queue, and the published post feed.
//
// The package uses a single-table DynamoDB design. All records share one
// table; the partition key selects the collection (QUEUE, DELQ, POST) and
// the sort key is the record identifier. Post sort keys embed the creation
// timestamp so a single descending Query yields the feed in newest-first
// order without a secondary index.
package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Background kinds for a post.
const (
	BackgroundImage = "image"
	BackgroundVideo = "video"
)

// Background is the media reference rendered behind a post.
type Background struct {
	Kind string `json:"kind" dynamodbav:"kind"`
	URL  string `json:"url" dynamodbav:"url"`
}

// Attachment describes a file attached to the source message: enough to
// download it (with bot-token auth) and decide how to transcode it.
type Attachment struct {
	Name        string `json:"name" dynamodbav:"name"`
	Mimetype    string `json:"mimetype" dynamodbav:"mimetype"`
	DownloadURL string `json:"downloadUrl" dynamodbav:"downloadUrl"`
}

// SourceEvent is the immutable copy of the classified message event stored
// with a queue item. It is written once at enqueue time and never mutated.
type SourceEvent struct {
	User          string      `json:"user" dynamodbav:"user"`
	Text          string      `json:"text,omitempty" dynamodbav:"text,omitempty"`
	Channel       string      `json:"channel" dynamodbav:"channel"`
	CorrelationID string      `json:"correlationId" dynamodbav:"correlationId"`
	File          *Attachment `json:"file,omitempty" dynamodbav:"file,omitempty"`
}

// QueueItem is one unit of deferred post-creation work.
// ID is derived from the sort key on read and excluded from attributes.
type QueueItem struct {
	ID          string      `json:"id" dynamodbav:"-"`
	SourceEvent SourceEvent `json:"sourceEvent" dynamodbav:"sourceEvent"`
	Status      Status      `json:"status" dynamodbav:"status"`
	Attempts    int         `json:"attempts" dynamodbav:"attempts"`
	Error       string      `json:"error,omitempty" dynamodbav:"error,omitempty"`
	ReceivedAt  int64       `json:"receivedAt" dynamodbav:"receivedAt"`
	LastAttempt int64       `json:"lastAttempt,omitempty" dynamodbav:"lastAttempt,omitempty"`
}

// DeleteQueueItem is one unit of deferred soft-delete work.
type DeleteQueueItem struct {
	ID            string `json:"id" dynamodbav:"-"`
	CorrelationID string `json:"correlationId" dynamodbav:"correlationId"`
	Channel       string `json:"channel,omitempty" dynamodbav:"channel,omitempty"`
	RequestedBy   string `json:"requestedBy" dynamodbav:"requestedBy"`
	ReceivedAt    int64  `json:"receivedAt" dynamodbav:"receivedAt"`
}

// Post is a published feed entry. CorrelationID links it back to the source
// message so later reaction events can find it; it is set at creation and
// never mutated.
type Post struct {
	ID              string     `json:"id" dynamodbav:"-"`
	Author          string     `json:"author" dynamodbav:"author"`
	AuthorAvatarURL string     `json:"authorAvatarUrl" dynamodbav:"authorAvatarUrl"`
	Content         string     `json:"content" dynamodbav:"content"`
	Background      Background `json:"background" dynamodbav:"background"`
	CreatedAt       int64      `json:"createdAt" dynamodbav:"createdAt"`
	Deleted         bool       `json:"deleted" dynamodbav:"deleted"`
	DeletedAt       int64      `json:"deletedAt,omitempty" dynamodbav:"deletedAt,omitempty"`
	CorrelationID   string     `json:"correlationId" dynamodbav:"correlationId"`
	Channel         string     `json:"channel,omitempty" dynamodbav:"channel,omitempty"`
}

// Store defines persistence for queues and the post feed. Each method is
// safe for concurrent use. All Get methods return (nil, nil) when the
// requested record does not exist. Put methods perform full-item
// replacement (upsert semantics).
type Store interface {
	// --- Creation queue ---

	// PutQueueItem creates or replaces a queue item.
	PutQueueItem(ctx context.Context, item *QueueItem) error

	// GetQueueItem retrieves a queue item by ID. Returns nil, nil if not found.
	GetQueueItem(ctx context.Context, id string) (*QueueItem, error)

	// DeleteQueueItem removes a queue item. Called exactly once processing
	// fully succeeds.
	DeleteQueueItem(ctx context.Context, id string) error

	// ListQueueItems returns all queue items with the given status, or all
	// items when status is empty. Operator tooling only.
	ListQueueItems(ctx context.Context, status Status) ([]*QueueItem, error)

	// --- Deletion queue ---

	// PutDeleteRequest creates or replaces a deletion request.
	PutDeleteRequest(ctx context.Context, req *DeleteQueueItem) error

	// GetDeleteRequest retrieves a deletion request. Returns nil, nil if not found.
	GetDeleteRequest(ctx context.Context, id string) (*DeleteQueueItem, error)

	// RemoveDeleteRequest discards a deletion request, whether or not a
	// matching post was found.
	RemoveDeleteRequest(ctx context.Context, id string) error

	// --- Posts ---

	// CreatePost persists a new post and returns its assigned ID.
	// The ID embeds CreatedAt so feed order falls out of key order.
	CreatePost(ctx context.Context, post *Post) (string, error)

	// GetPost retrieves a post by ID. Returns nil, nil if not found.
	GetPost(ctx context.Context, id string) (*Post, error)

	// FindPostByCorrelation returns the most recent post in the given
	// deleted state whose correlationId matches (and channel, when
	// non-empty). Returns nil, nil when no post matches. Newest-wins is
	// the deterministic tie-break for duplicate correlation ids left
	// behind by crash-retry duplicates.
	FindPostByCorrelation(ctx context.Context, channel, correlationID string, deleted bool) (*Post, error)

	// MarkPostDeleted soft-deletes a post: deleted=true, deletedAt=now.
	MarkPostDeleted(ctx context.Context, id string, deletedAt time.Time) error

	// RestorePost reverses a soft delete: deleted=false, deletedAt cleared.
	RestorePost(ctx context.Context, id string) error

	// ListPosts returns up to limit posts in newest-first order, starting
	// after the cursor (an opaque post ID; empty means from the top), plus
	// the cursor for the next page ("" when exhausted).
	ListPosts(ctx context.Context, limit int, cursor string) ([]*Post, string, error)
}

// NewQueueItemID creates a cryptographically random queue item ID.
func NewQueueItemID() string {
	return "q-" + randomHex(16)
}

// NewDeleteRequestID creates a cryptographically random deletion request ID.
func NewDeleteRequestID() string {
	return "del-" + randomHex(16)
}

// NewPostID creates a post ID whose lexicographic order matches creation
// time: a zero-padded millisecond timestamp followed by a UUID for
// collision resistance across concurrent invocations.
func NewPostID(t time.Time) string {
	return fmt.Sprintf("%013d-%s", t.UnixMilli(), uuid.NewString())
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("store: read random bytes: %v", err))
	}
	return hex.EncodeToString(b)
}
