// Package queue implements the work-queue processor: it consumes creation
// and deletion queue items, orchestrates author resolution, the media
// pipeline, and feed writes, and owns the item status lifecycle.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tkpar/feedbridge/internal/metrics"
	"github.com/tkpar/feedbridge/internal/slack"
	"github.com/tkpar/feedbridge/internal/store"
)

// Typed failures for the manual reprocess path, mapped to HTTP statuses
// at the endpoint boundary.
var (
	// ErrItemNotFound means the queue item does not exist.
	ErrItemNotFound = errors.New("queue: item not found")
	// ErrNotRetryable means the item is not in the failed state or has
	// exhausted its retry budget.
	ErrNotRetryable = errors.New("queue: item not retryable")
)

// Defaults are the fallback values used when author resolution or media
// processing fails. The post still gets published with these.
type Defaults struct {
	AuthorName      string
	AuthorAvatarURL string
	Background      store.Background
}

// AuthorResolver looks up the display identity behind a chat user ID.
type AuthorResolver interface {
	ResolveAuthor(ctx context.Context, userID string) (slack.Author, error)
}

// MediaProcessor turns an attachment into a hosted background reference.
type MediaProcessor interface {
	Process(ctx context.Context, att *store.Attachment) (store.Background, error)
}

// Notifier sends a best-effort operator message. Implementations never
// return an error.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Processor consumes queue items. Multiple Processor invocations may run
// concurrently on different items; items are causally independent and no
// cross-item ordering is provided.
type Processor struct {
	store    store.Store
	authors  AuthorResolver
	media    MediaProcessor
	notifier Notifier
	defaults Defaults
	now      func() time.Time
}

// NewProcessor creates a Processor.
func NewProcessor(s store.Store, authors AuthorResolver, media MediaProcessor, notifier Notifier, defaults Defaults) *Processor {
	return &Processor{
		store:    s,
		authors:  authors,
		media:    media,
		notifier: notifier,
		defaults: defaults,
		now:      time.Now,
	}
}

// ProcessCreate handles one creation queue item end to end. Work failures
// are terminal for the invocation: the item is marked failed, the operator
// is notified, and nil is returned so the invoking platform does not
// retry on its own. Only failures that leave the item untouched (reads
// before ownership is taken) return an error.
func (p *Processor) ProcessCreate(ctx context.Context, itemID string) error {
	item, err := p.store.GetQueueItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("load queue item: %w", err)
	}
	if item == nil {
		// Duplicate trigger after a completed run. The item was removed
		// on success, so there is nothing to do.
		log.Warn().Str("itemId", itemID).Msg("Queue item already gone, skipping")
		return nil
	}

	switch item.Status {
	case store.StatusPending:
		if err := store.Transition(item.Status, store.StatusProcessing); err != nil {
			return err
		}
		item.Status = store.StatusProcessing
	case store.StatusReprocessing:
		// Ownership was already taken by the manual trigger.
	default:
		log.Warn().
			Str("itemId", item.ID).
			Str("status", string(item.Status)).
			Msg("Queue item not in a runnable state, skipping")
		return nil
	}

	item.LastAttempt = p.now().UnixMilli()
	if err := p.store.PutQueueItem(ctx, item); err != nil {
		return fmt.Errorf("mark queue item processing: %w", err)
	}

	if err := p.createPost(ctx, item); err != nil {
		p.markFailed(ctx, item, err)
		return nil
	}

	metrics.New("FeedBridge").
		Count("QueueItemsProcessed").
		Metric("QueueItemAttempts", float64(item.Attempts), metrics.UnitCount).
		Flush()
	return nil
}

// createPost runs the sequential backbone for one item: resolve author,
// process media, persist the post, remove the queue item. The post insert
// happens before the item delete so a crash between the two leaves a
// duplicate queue item (tolerable) rather than a lost post.
func (p *Processor) createPost(ctx context.Context, item *store.QueueItem) error {
	src := item.SourceEvent

	author := p.resolveAuthor(ctx, src.User)
	background := p.processMedia(ctx, item)

	post := &store.Post{
		Author:          author.Name,
		AuthorAvatarURL: author.AvatarURL,
		Content:         src.Text,
		Background:      background,
		CreatedAt:       p.now().UnixMilli(),
		Deleted:         false,
		CorrelationID:   src.CorrelationID,
		Channel:         src.Channel,
	}

	postID, err := p.store.CreatePost(ctx, post)
	if err != nil {
		return fmt.Errorf("persist post: %w", err)
	}

	if err := p.store.DeleteQueueItem(ctx, item.ID); err != nil {
		return fmt.Errorf("remove queue item after post %s: %w", postID, err)
	}

	log.Info().
		Str("itemId", item.ID).
		Str("postId", postID).
		Str("author", post.Author).
		Str("backgroundKind", post.Background.Kind).
		Msg("Post published")
	return nil
}

// resolveAuthor is a best-effort identity lookup. Failures fall back to
// the configured default identity and never fail the item.
func (p *Processor) resolveAuthor(ctx context.Context, userID string) slack.Author {
	fallback := slack.Author{Name: p.defaults.AuthorName, AvatarURL: p.defaults.AuthorAvatarURL}
	if userID == "" {
		return fallback
	}

	author, err := p.authors.ResolveAuthor(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("Author resolution failed, using default identity")
		return fallback
	}
	if author.Name == "" {
		author.Name = fallback.Name
	}
	if author.AvatarURL == "" {
		author.AvatarURL = fallback.AvatarURL
	}
	return author
}

// processMedia runs the media pipeline with isolated failure handling:
// a pipeline error degrades the post to the default background instead of
// failing the item.
func (p *Processor) processMedia(ctx context.Context, item *store.QueueItem) store.Background {
	file := item.SourceEvent.File
	if file == nil {
		return p.defaults.Background
	}

	background, err := p.media.Process(ctx, file)
	if err != nil {
		log.Error().
			Err(err).
			Str("itemId", item.ID).
			Str("filename", file.Name).
			Str("mimetype", file.Mimetype).
			Msg("Media pipeline failed, using default background")
		metrics.New("FeedBridge").Count("MediaPipelineFallbacks").Flush()
		return p.defaults.Background
	}
	return background
}

// markFailed transitions the item to failed, persists the cause, and
// notifies the operator channel. Notification failure must not mask the
// original error, so the notifier contract is fire and forget.
func (p *Processor) markFailed(ctx context.Context, item *store.QueueItem, cause error) {
	if err := store.Transition(item.Status, store.StatusFailed); err != nil {
		log.Error().Err(err).Str("itemId", item.ID).Msg("Cannot transition queue item to failed")
		return
	}
	item.Status = store.StatusFailed
	item.Error = cause.Error()

	if err := p.store.PutQueueItem(ctx, item); err != nil {
		log.Error().Err(err).Str("itemId", item.ID).Msg("Failed to persist failed status")
	}

	log.Error().
		Err(cause).
		Str("itemId", item.ID).
		Int("attempts", item.Attempts).
		Msg("Queue item failed")

	metrics.New("FeedBridge").Count("QueueItemsFailed").Flush()

	p.notifier.Notify(ctx, fmt.Sprintf(
		"Queue item %s failed (attempt %d/%d): %v", item.ID, item.Attempts+1, store.MaxRetries, cause))
}

// Reprocess runs an operator-requested retry of a failed item. It returns
// ErrItemNotFound or ErrNotRetryable for precondition failures; any other
// error means the attempt ran and failed again (the item is re-marked
// failed before returning).
func (p *Processor) Reprocess(ctx context.Context, itemID string) error {
	item, err := p.store.GetQueueItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("load queue item: %w", err)
	}
	if item == nil {
		return ErrItemNotFound
	}
	if !item.CanReprocess() {
		return fmt.Errorf("%w: status=%s attempts=%d", ErrNotRetryable, item.Status, item.Attempts)
	}

	if err := store.Transition(item.Status, store.StatusReprocessing); err != nil {
		return fmt.Errorf("%w: %v", ErrNotRetryable, err)
	}
	item.Status = store.StatusReprocessing
	item.Attempts++
	item.Error = ""
	item.LastAttempt = p.now().UnixMilli()
	if err := p.store.PutQueueItem(ctx, item); err != nil {
		return fmt.Errorf("mark queue item reprocessing: %w", err)
	}

	log.Info().
		Str("itemId", item.ID).
		Int("attempts", item.Attempts).
		Msg("Reprocessing queue item")

	if err := p.createPost(ctx, item); err != nil {
		p.markFailed(ctx, item, err)
		return err
	}

	metrics.New("FeedBridge").Count("QueueItemsReprocessed").Flush()
	return nil
}

// ProcessDelete handles one deletion queue item: find the matching live
// post by correlation id and soft-delete it. A missing match is logged
// and the request discarded; the post may not exist yet or may already
// be deleted, and there is no retry.
func (p *Processor) ProcessDelete(ctx context.Context, requestID string) error {
	req, err := p.store.GetDeleteRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("load delete request: %w", err)
	}
	if req == nil {
		log.Warn().Str("requestId", requestID).Msg("Delete request already gone, skipping")
		return nil
	}

	post, err := p.store.FindPostByCorrelation(ctx, req.Channel, req.CorrelationID, false)
	if err != nil {
		return fmt.Errorf("find post for deletion: %w", err)
	}

	if post == nil {
		log.Info().
			Str("requestId", req.ID).
			Str("correlationId", req.CorrelationID).
			Msg("No matching live post for delete request, discarding")
	} else {
		if err := p.store.MarkPostDeleted(ctx, post.ID, p.now()); err != nil {
			return fmt.Errorf("soft-delete post %s: %w", post.ID, err)
		}
		log.Info().
			Str("requestId", req.ID).
			Str("postId", post.ID).
			Str("requestedBy", req.RequestedBy).
			Msg("Post soft-deleted")
		metrics.New("FeedBridge").Count("PostsDeleted").Flush()
	}

	return p.store.RemoveDeleteRequest(ctx, req.ID)
}

// Restore reverses a soft delete for the post matching the correlation
// id. It runs synchronously on the webhook path rather than through a
// queue. A missing match is not an error.
func (p *Processor) Restore(ctx context.Context, channel, correlationID string) error {
	post, err := p.store.FindPostByCorrelation(ctx, channel, correlationID, true)
	if err != nil {
		return fmt.Errorf("find post for restore: %w", err)
	}
	if post == nil {
		log.Info().
			Str("correlationId", correlationID).
			Msg("No matching deleted post for restore, ignoring")
		return nil
	}

	if err := p.store.RestorePost(ctx, post.ID); err != nil {
		return fmt.Errorf("restore post %s: %w", post.ID, err)
	}

	log.Info().Str("postId", post.ID).Msg("Post restored")
	metrics.New("FeedBridge").Count("PostsRestored").Flush()
	return nil
}
