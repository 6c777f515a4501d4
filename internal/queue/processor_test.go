package queue

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/tkpar/feedbridge/internal/slack"
	"github.com/tkpar/feedbridge/internal/store"
)

// fakeStore is an in-memory Store for processor tests.
type fakeStore struct {
	queue map[string]*store.QueueItem
	delq  map[string]*store.DeleteQueueItem
	posts map[string]*store.Post

	failCreatePost   bool
	failGetQueueItem bool
	createCalls      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		queue: make(map[string]*store.QueueItem),
		delq:  make(map[string]*store.DeleteQueueItem),
		posts: make(map[string]*store.Post),
	}
}

func (f *fakeStore) PutQueueItem(_ context.Context, item *store.QueueItem) error {
	cp := *item
	f.queue[item.ID] = &cp
	return nil
}

func (f *fakeStore) GetQueueItem(_ context.Context, id string) (*store.QueueItem, error) {
	if f.failGetQueueItem {
		return nil, errors.New("dynamo unavailable")
	}
	item, ok := f.queue[id]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (f *fakeStore) DeleteQueueItem(_ context.Context, id string) error {
	delete(f.queue, id)
	return nil
}

func (f *fakeStore) ListQueueItems(_ context.Context, status store.Status) ([]*store.QueueItem, error) {
	var items []*store.QueueItem
	for _, item := range f.queue {
		if status == "" || item.Status == status {
			cp := *item
			items = append(items, &cp)
		}
	}
	return items, nil
}

func (f *fakeStore) PutDeleteRequest(_ context.Context, req *store.DeleteQueueItem) error {
	cp := *req
	f.delq[req.ID] = &cp
	return nil
}

func (f *fakeStore) GetDeleteRequest(_ context.Context, id string) (*store.DeleteQueueItem, error) {
	req, ok := f.delq[id]
	if !ok {
		return nil, nil
	}
	cp := *req
	return &cp, nil
}

func (f *fakeStore) RemoveDeleteRequest(_ context.Context, id string) error {
	delete(f.delq, id)
	return nil
}

func (f *fakeStore) CreatePost(_ context.Context, post *store.Post) (string, error) {
	f.createCalls++
	if f.failCreatePost {
		return "", errors.New("dynamo write throttled")
	}
	if post.CreatedAt == 0 {
		post.CreatedAt = time.Now().UnixMilli()
	}
	if post.ID == "" {
		post.ID = store.NewPostID(time.UnixMilli(post.CreatedAt))
	}
	cp := *post
	f.posts[post.ID] = &cp
	return post.ID, nil
}

func (f *fakeStore) GetPost(_ context.Context, id string) (*store.Post, error) {
	post, ok := f.posts[id]
	if !ok {
		return nil, nil
	}
	cp := *post
	return &cp, nil
}

func (f *fakeStore) FindPostByCorrelation(_ context.Context, channel, correlationID string, deleted bool) (*store.Post, error) {
	var ids []string
	for id := range f.posts {
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	for _, id := range ids {
		post := f.posts[id]
		if post.CorrelationID != correlationID || post.Deleted != deleted {
			continue
		}
		if channel != "" && post.Channel != channel {
			continue
		}
		cp := *post
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) MarkPostDeleted(_ context.Context, id string, deletedAt time.Time) error {
	post, ok := f.posts[id]
	if !ok {
		return errors.New("post not found")
	}
	post.Deleted = true
	post.DeletedAt = deletedAt.UnixMilli()
	return nil
}

func (f *fakeStore) RestorePost(_ context.Context, id string) error {
	post, ok := f.posts[id]
	if !ok {
		return errors.New("post not found")
	}
	post.Deleted = false
	post.DeletedAt = 0
	return nil
}

func (f *fakeStore) ListPosts(_ context.Context, limit int, cursor string) ([]*store.Post, string, error) {
	var ids []string
	for id := range f.posts {
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	var posts []*store.Post
	for _, id := range ids {
		cp := *f.posts[id]
		posts = append(posts, &cp)
	}
	return posts, "", nil
}

type fakeAuthors struct {
	author slack.Author
	err    error
}

func (f *fakeAuthors) ResolveAuthor(_ context.Context, _ string) (slack.Author, error) {
	return f.author, f.err
}

type fakeMedia struct {
	background store.Background
	err        error
	calls      int
}

func (f *fakeMedia) Process(_ context.Context, _ *store.Attachment) (store.Background, error) {
	f.calls++
	return f.background, f.err
}

type fakeNotifier struct {
	messages []string
}

func (f *fakeNotifier) Notify(_ context.Context, text string) {
	f.messages = append(f.messages, text)
}

var testDefaults = Defaults{
	AuthorName:      "tkpar",
	AuthorAvatarURL: "/assets/profile_pic.png",
	Background:      store.Background{Kind: store.BackgroundImage, URL: "/assets/post2_bg.gif"},
}

func newTestProcessor(s store.Store, authors AuthorResolver, media MediaProcessor, notifier Notifier) *Processor {
	p := NewProcessor(s, authors, media, notifier, testDefaults)
	p.now = func() time.Time { return time.UnixMilli(1756600000000) }
	return p
}

func pendingItem(id string, file *store.Attachment) *store.QueueItem {
	return &store.QueueItem{
		ID:     id,
		Status: store.StatusPending,
		SourceEvent: store.SourceEvent{
			User:          "U123",
			Text:          "hello world",
			Channel:       "C456",
			CorrelationID: "1756599999.000100",
			File:          file,
		},
		ReceivedAt: 1756599999000,
	}
}

func onlyPost(t *testing.T, fs *fakeStore) *store.Post {
	t.Helper()
	if len(fs.posts) != 1 {
		t.Fatalf("post count = %d, want 1", len(fs.posts))
	}
	for _, post := range fs.posts {
		return post
	}
	return nil
}

func TestProcessCreate_Success(t *testing.T) {
	fs := newFakeStore()
	fs.queue["q-1"] = pendingItem("q-1", nil)
	authors := &fakeAuthors{author: slack.Author{Name: "Jamie", AvatarURL: "https://a/jamie.png"}}
	media := &fakeMedia{}
	notifier := &fakeNotifier{}
	p := newTestProcessor(fs, authors, media, notifier)

	if err := p.ProcessCreate(context.Background(), "q-1"); err != nil {
		t.Fatalf("ProcessCreate() error = %v", err)
	}

	post := onlyPost(t, fs)
	if post.Author != "Jamie" {
		t.Errorf("Author = %q, want Jamie", post.Author)
	}
	if post.Content != "hello world" {
		t.Errorf("Content = %q, want source text", post.Content)
	}
	if post.Background != testDefaults.Background {
		t.Errorf("Background = %+v, want default (no attachment)", post.Background)
	}
	if post.CorrelationID != "1756599999.000100" {
		t.Errorf("CorrelationID = %q, want source message ts", post.CorrelationID)
	}
	if post.Deleted {
		t.Error("new post must not be deleted")
	}
	if post.CreatedAt == 0 {
		t.Error("CreatedAt must be set")
	}
	if _, ok := fs.queue["q-1"]; ok {
		t.Error("queue item must be removed after success")
	}
	if media.calls != 0 {
		t.Errorf("media pipeline calls = %d, want 0 for text-only message", media.calls)
	}
	if len(notifier.messages) != 0 {
		t.Errorf("notifications = %v, want none on success", notifier.messages)
	}
}

func TestProcessCreate_WithAttachment(t *testing.T) {
	fs := newFakeStore()
	fs.queue["q-1"] = pendingItem("q-1", &store.Attachment{
		Name: "clip.mov", Mimetype: "video/quicktime", DownloadURL: "https://files/clip.mov",
	})
	media := &fakeMedia{background: store.Background{Kind: store.BackgroundVideo, URL: "https://cdn/x.mp4"}}
	p := newTestProcessor(fs, &fakeAuthors{author: slack.Author{Name: "A"}}, media, &fakeNotifier{})

	if err := p.ProcessCreate(context.Background(), "q-1"); err != nil {
		t.Fatalf("ProcessCreate() error = %v", err)
	}

	post := onlyPost(t, fs)
	if post.Background.Kind != store.BackgroundVideo || post.Background.URL != "https://cdn/x.mp4" {
		t.Errorf("Background = %+v, want transcoded video reference", post.Background)
	}
	if media.calls != 1 {
		t.Errorf("media pipeline calls = %d, want 1", media.calls)
	}
}

func TestProcessCreate_AuthorFallback(t *testing.T) {
	fs := newFakeStore()
	fs.queue["q-1"] = pendingItem("q-1", nil)
	authors := &fakeAuthors{err: errors.New("users.info unavailable")}
	p := newTestProcessor(fs, authors, &fakeMedia{}, &fakeNotifier{})

	if err := p.ProcessCreate(context.Background(), "q-1"); err != nil {
		t.Fatalf("ProcessCreate() error = %v", err)
	}

	post := onlyPost(t, fs)
	if post.Author != testDefaults.AuthorName {
		t.Errorf("Author = %q, want default %q", post.Author, testDefaults.AuthorName)
	}
	if post.AuthorAvatarURL != testDefaults.AuthorAvatarURL {
		t.Errorf("AuthorAvatarURL = %q, want default", post.AuthorAvatarURL)
	}
}

func TestProcessCreate_MediaFallback(t *testing.T) {
	fs := newFakeStore()
	fs.queue["q-1"] = pendingItem("q-1", &store.Attachment{
		Name: "broken.png", Mimetype: "image/png", DownloadURL: "https://files/broken.png",
	})
	media := &fakeMedia{err: errors.New("download failed")}
	notifier := &fakeNotifier{}
	p := newTestProcessor(fs, &fakeAuthors{author: slack.Author{Name: "A"}}, media, notifier)

	if err := p.ProcessCreate(context.Background(), "q-1"); err != nil {
		t.Fatalf("ProcessCreate() error = %v", err)
	}

	post := onlyPost(t, fs)
	if post.Background != testDefaults.Background {
		t.Errorf("Background = %+v, want default fallback", post.Background)
	}
	if _, ok := fs.queue["q-1"]; ok {
		t.Error("media failure must not fail the queue item")
	}
}

func TestProcessCreate_PersistFailureMarksFailed(t *testing.T) {
	fs := newFakeStore()
	fs.failCreatePost = true
	fs.queue["q-1"] = pendingItem("q-1", nil)
	notifier := &fakeNotifier{}
	p := newTestProcessor(fs, &fakeAuthors{author: slack.Author{Name: "A"}}, &fakeMedia{}, notifier)

	if err := p.ProcessCreate(context.Background(), "q-1"); err != nil {
		t.Fatalf("ProcessCreate() error = %v, handled failures must return nil", err)
	}

	item := fs.queue["q-1"]
	if item == nil {
		t.Fatal("failed item must remain in the queue")
	}
	if item.Status != store.StatusFailed {
		t.Errorf("Status = %q, want failed", item.Status)
	}
	if item.Error == "" {
		t.Error("failure cause must be persisted on the item")
	}
	if len(notifier.messages) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notifier.messages))
	}
	if !strings.Contains(notifier.messages[0], "q-1") {
		t.Errorf("notification %q must reference the item", notifier.messages[0])
	}
}

func TestProcessCreate_MissingItem(t *testing.T) {
	p := newTestProcessor(newFakeStore(), &fakeAuthors{}, &fakeMedia{}, &fakeNotifier{})
	if err := p.ProcessCreate(context.Background(), "q-gone"); err != nil {
		t.Fatalf("ProcessCreate() error = %v, want nil for missing item", err)
	}
}

func TestProcessCreate_ReplayAfterPartialRun(t *testing.T) {
	// A crash between the post insert and the queue-item delete leaves the
	// item in processing with its post already persisted. A redelivered
	// trigger must not publish a second copy or disturb the first.
	fs := newFakeStore()
	item := pendingItem("q-1", nil)
	item.Status = store.StatusProcessing
	fs.queue["q-1"] = item
	fs.posts["p-1"] = &store.Post{
		ID: "p-1", Author: "Jamie", Content: "hello world",
		CorrelationID: "1756599999.000100", Channel: "C456", CreatedAt: 1756600000000,
	}
	media := &fakeMedia{}
	notifier := &fakeNotifier{}
	p := newTestProcessor(fs, &fakeAuthors{author: slack.Author{Name: "Jamie"}}, media, notifier)

	if err := p.ProcessCreate(context.Background(), "q-1"); err != nil {
		t.Fatalf("ProcessCreate() error = %v, want nil on replay", err)
	}

	post := onlyPost(t, fs)
	if post.Author != "Jamie" || post.Content != "hello world" {
		t.Errorf("existing post mutated on replay: %+v", post)
	}
	if fs.createCalls != 0 {
		t.Errorf("CreatePost calls = %d, want 0 on replay", fs.createCalls)
	}
	if media.calls != 0 {
		t.Errorf("media pipeline calls = %d, want 0 on replay", media.calls)
	}
	if got := fs.queue["q-1"].Status; got != store.StatusProcessing {
		t.Errorf("Status = %q, replayed item must be untouched", got)
	}
	if len(notifier.messages) != 0 {
		t.Errorf("notifications = %v, want none on replay", notifier.messages)
	}
}

func TestProcessCreate_FailedItemNotRunnable(t *testing.T) {
	fs := newFakeStore()
	item := pendingItem("q-1", nil)
	item.Status = store.StatusFailed
	item.Error = "earlier failure"
	fs.queue["q-1"] = item
	p := newTestProcessor(fs, &fakeAuthors{}, &fakeMedia{}, &fakeNotifier{})

	if err := p.ProcessCreate(context.Background(), "q-1"); err != nil {
		t.Fatalf("ProcessCreate() error = %v", err)
	}
	if len(fs.posts) != 0 {
		t.Error("failed item must never be processed without an explicit reprocess request")
	}
	if got := fs.queue["q-1"].Status; got != store.StatusFailed {
		t.Errorf("Status = %q, item must be untouched", got)
	}
}

func TestProcessCreate_ReadErrorPropagates(t *testing.T) {
	fs := newFakeStore()
	fs.failGetQueueItem = true
	p := newTestProcessor(fs, &fakeAuthors{}, &fakeMedia{}, &fakeNotifier{})

	if err := p.ProcessCreate(context.Background(), "q-1"); err == nil {
		t.Fatal("ProcessCreate() = nil, want error when the item cannot be read")
	}
}

func TestReprocess_Success(t *testing.T) {
	fs := newFakeStore()
	item := pendingItem("q-1", nil)
	item.Status = store.StatusFailed
	item.Attempts = 1
	item.Error = "earlier failure"
	fs.queue["q-1"] = item
	p := newTestProcessor(fs, &fakeAuthors{author: slack.Author{Name: "A"}}, &fakeMedia{}, &fakeNotifier{})

	if err := p.Reprocess(context.Background(), "q-1"); err != nil {
		t.Fatalf("Reprocess() error = %v", err)
	}

	if len(fs.posts) != 1 {
		t.Fatalf("post count = %d, want 1", len(fs.posts))
	}
	if _, ok := fs.queue["q-1"]; ok {
		t.Error("queue item must be removed after successful reprocess")
	}
}

func TestReprocess_NotFound(t *testing.T) {
	p := newTestProcessor(newFakeStore(), &fakeAuthors{}, &fakeMedia{}, &fakeNotifier{})
	if err := p.Reprocess(context.Background(), "q-gone"); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("Reprocess() error = %v, want ErrItemNotFound", err)
	}
}

func TestReprocess_Preconditions(t *testing.T) {
	tests := []struct {
		name     string
		status   store.Status
		attempts int
	}{
		{"pending item", store.StatusPending, 0},
		{"processing item", store.StatusProcessing, 0},
		{"retry budget exhausted", store.StatusFailed, store.MaxRetries},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fs := newFakeStore()
			item := pendingItem("q-1", nil)
			item.Status = tc.status
			item.Attempts = tc.attempts
			fs.queue["q-1"] = item
			p := newTestProcessor(fs, &fakeAuthors{}, &fakeMedia{}, &fakeNotifier{})

			if err := p.Reprocess(context.Background(), "q-1"); !errors.Is(err, ErrNotRetryable) {
				t.Fatalf("Reprocess() error = %v, want ErrNotRetryable", err)
			}
		})
	}
}

func TestReprocess_FailureRemarksFailed(t *testing.T) {
	fs := newFakeStore()
	fs.failCreatePost = true
	item := pendingItem("q-1", nil)
	item.Status = store.StatusFailed
	item.Attempts = 1
	fs.queue["q-1"] = item
	notifier := &fakeNotifier{}
	p := newTestProcessor(fs, &fakeAuthors{author: slack.Author{Name: "A"}}, &fakeMedia{}, notifier)

	err := p.Reprocess(context.Background(), "q-1")
	if err == nil {
		t.Fatal("Reprocess() = nil, want the underlying failure")
	}
	if errors.Is(err, ErrItemNotFound) || errors.Is(err, ErrNotRetryable) {
		t.Fatalf("Reprocess() error = %v, want a work failure not a precondition error", err)
	}

	got := fs.queue["q-1"]
	if got.Status != store.StatusFailed {
		t.Errorf("Status = %q, want re-marked failed", got.Status)
	}
	if got.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2 after one reprocess", got.Attempts)
	}
	if len(notifier.messages) != 1 {
		t.Errorf("notifications = %d, want 1", len(notifier.messages))
	}
}

func TestProcessDelete_MatchingPost(t *testing.T) {
	fs := newFakeStore()
	fs.posts["p-1"] = &store.Post{
		ID: "p-1", CorrelationID: "1756599999.000100", Channel: "C456", CreatedAt: 1,
	}
	fs.delq["d-1"] = &store.DeleteQueueItem{
		ID: "d-1", CorrelationID: "1756599999.000100", Channel: "C456", RequestedBy: "U777",
	}
	p := newTestProcessor(fs, &fakeAuthors{}, &fakeMedia{}, &fakeNotifier{})

	if err := p.ProcessDelete(context.Background(), "d-1"); err != nil {
		t.Fatalf("ProcessDelete() error = %v", err)
	}

	post := fs.posts["p-1"]
	if !post.Deleted {
		t.Error("post must be soft-deleted")
	}
	if post.DeletedAt == 0 {
		t.Error("DeletedAt must be set")
	}
	if _, ok := fs.delq["d-1"]; ok {
		t.Error("delete request must be removed")
	}
}

func TestProcessDelete_NoMatchDiscards(t *testing.T) {
	fs := newFakeStore()
	fs.delq["d-1"] = &store.DeleteQueueItem{ID: "d-1", CorrelationID: "nope", Channel: "C456"}
	p := newTestProcessor(fs, &fakeAuthors{}, &fakeMedia{}, &fakeNotifier{})

	if err := p.ProcessDelete(context.Background(), "d-1"); err != nil {
		t.Fatalf("ProcessDelete() error = %v", err)
	}
	if _, ok := fs.delq["d-1"]; ok {
		t.Error("unmatched delete request must still be discarded")
	}
}

func TestProcessDelete_NewestWinsOnDuplicates(t *testing.T) {
	fs := newFakeStore()
	fs.posts["0000000000001-a"] = &store.Post{
		ID: "0000000000001-a", CorrelationID: "dup", Channel: "C456", CreatedAt: 1,
	}
	fs.posts["0000000000002-b"] = &store.Post{
		ID: "0000000000002-b", CorrelationID: "dup", Channel: "C456", CreatedAt: 2,
	}
	fs.delq["d-1"] = &store.DeleteQueueItem{ID: "d-1", CorrelationID: "dup", Channel: "C456"}
	p := newTestProcessor(fs, &fakeAuthors{}, &fakeMedia{}, &fakeNotifier{})

	if err := p.ProcessDelete(context.Background(), "d-1"); err != nil {
		t.Fatalf("ProcessDelete() error = %v", err)
	}

	if !fs.posts["0000000000002-b"].Deleted {
		t.Error("newest duplicate must be the one deleted")
	}
	if fs.posts["0000000000001-a"].Deleted {
		t.Error("older duplicate must be left alone")
	}
}

func TestRestore_RoundTrip(t *testing.T) {
	fs := newFakeStore()
	fs.posts["p-1"] = &store.Post{
		ID: "p-1", CorrelationID: "1756599999.000100", Channel: "C456",
		Deleted: true, DeletedAt: 1756600000000,
	}
	p := newTestProcessor(fs, &fakeAuthors{}, &fakeMedia{}, &fakeNotifier{})

	if err := p.Restore(context.Background(), "C456", "1756599999.000100"); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	post := fs.posts["p-1"]
	if post.Deleted {
		t.Error("post must be restored")
	}
	if post.DeletedAt != 0 {
		t.Error("DeletedAt must be cleared on restore")
	}
}

func TestRestore_NoMatchIsNoop(t *testing.T) {
	fs := newFakeStore()
	fs.posts["p-1"] = &store.Post{ID: "p-1", CorrelationID: "other", Channel: "C456"}
	p := newTestProcessor(fs, &fakeAuthors{}, &fakeMedia{}, &fakeNotifier{})

	if err := p.Restore(context.Background(), "C456", "missing"); err != nil {
		t.Fatalf("Restore() error = %v, want nil for no match", err)
	}
	if fs.posts["p-1"].Deleted {
		t.Error("unrelated post must be untouched")
	}
}
