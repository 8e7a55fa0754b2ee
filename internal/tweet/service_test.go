package tweet

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/hitoshi/chirp/internal/activity"
	"github.com/hitoshi/chirp/internal/counter"
	"github.com/hitoshi/chirp/internal/fake"
	"github.com/hitoshi/chirp/internal/model"
	"github.com/hitoshi/chirp/internal/security"
)

type fixture struct {
	svc     *Service
	store   *fake.Store
	feed    *fake.Feed
	metrics *fake.Metrics
	logs    *bytes.Buffer
}

func newFixture(t *testing.T, userIDs ...string) *fixture {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	store := fake.NewStore()
	feed := fake.NewFeed()
	m := fake.NewMetrics()
	for _, id := range userIDs {
		store.PutUser(model.User{ID: id, Username: id})
	}
	svc := NewService(store.Users(), store.Tweets(), store, feed,
		counter.NewMaintainer(logger, m), security.NewTextSanitizer(), logger, m)
	svc.newID = func() string { return "fixed-uuid" }
	return &fixture{svc: svc, store: store, feed: feed, metrics: m, logs: &buf}
}

func (f *fixture) tweetsCount(t *testing.T, userID string) int {
	t.Helper()
	u, ok := f.store.User(userID)
	if !ok {
		t.Fatalf("user %s not found", userID)
	}
	return u.ActivityDetails.TweetsCount
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	if !model.HasCode(err, code) {
		t.Fatalf("err = %v, want code %s", err, code)
	}
}

func TestCreate_Success(t *testing.T) {
	f := newFixture(t, "A")
	ctx := context.Background()

	tw, err := f.svc.Create(ctx, "A", "  hello <i>world</i> ")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tw.Text != "hello world" {
		t.Errorf("Text = %q", tw.Text)
	}
	if f.tweetsCount(t, "A") != 1 {
		t.Errorf("tweetsCount = %d, want 1", f.tweetsCount(t, "A"))
	}

	page, err := f.feed.Activities(ctx, activity.UserFeed("A"), activity.Query{})
	if err != nil {
		t.Fatalf("Activities: %v", err)
	}
	if len(page.Activities) != 1 {
		t.Fatalf("activities = %d, want 1", len(page.Activities))
	}
	act := page.Activities[0]
	if act.ID != tw.ID || act.ForeignID != "tweet:fixed-uuid" || act.Verb != activity.VerbTweet {
		t.Errorf("activity = %+v", act)
	}

	got, err := f.svc.Get(ctx, tw.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AuthorID != "A" {
		t.Errorf("AuthorID = %q", got.AuthorID)
	}
}

func TestCreate_InvalidText(t *testing.T) {
	f := newFixture(t, "A")
	for _, text := range []string{"", "<p></p>", strings.Repeat("x", security.MaxTextLength+1)} {
		_, err := f.svc.Create(context.Background(), "A", text)
		assertCode(t, err, model.ErrCodeInvalidInput)
	}
	if len(f.feed.Calls()) != 0 {
		t.Errorf("feed calls = %v, want none", f.feed.Calls())
	}
}

func TestCreate_MissingAuthor(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), "ghost", "hi")
	assertCode(t, err, model.ErrCodeAuthorDoesNotExist)
}

func TestCreate_FeedFailure(t *testing.T) {
	f := newFixture(t, "A")
	f.feed.FailOn("add_activity", errors.New("stream down"))

	_, err := f.svc.Create(context.Background(), "A", "hi")
	assertCode(t, err, model.ErrCodeFeedServiceFailure)
	if f.tweetsCount(t, "A") != 0 || f.store.TxCount() != 0 {
		t.Error("フィード失敗時にストアが変更された")
	}
}

func TestCreate_StoreFailureAfterFeed(t *testing.T) {
	f := newFixture(t, "A")
	f.store.FailCommits(errors.New("disk full"))

	_, err := f.svc.Create(context.Background(), "A", "hi")
	assertCode(t, err, model.ErrCodeStoreFailure)
	if f.metrics.Divergence(opTweetCreate) != 1 {
		t.Error("不整合が記録されていない")
	}
	if f.feed.ActivityCount(activity.UserFeed("A")) != 1 {
		t.Error("フィード側のアクティビティは補償されず残る")
	}
}

func TestDelete_Tombstones(t *testing.T) {
	f := newFixture(t, "A")
	ctx := context.Background()
	tw, err := f.svc.Create(ctx, "A", "hi")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := f.svc.Delete(ctx, tw.ID, "A"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if f.tweetsCount(t, "A") != 0 {
		t.Errorf("tweetsCount = %d, want 0", f.tweetsCount(t, "A"))
	}
	stored, ok := f.store.Tweet(tw.ID)
	if !ok || !stored.IsDeleted() {
		t.Error("投稿がトゥームストーン化されていない")
	}
	if f.feed.ActivityCount(activity.UserFeed("A")) != 0 {
		t.Error("フィードから削除されていない")
	}

	_, err = f.svc.Get(ctx, tw.ID)
	assertCode(t, err, model.ErrCodeTweetNotFound)
	err = f.svc.Delete(ctx, tw.ID, "A")
	assertCode(t, err, model.ErrCodeTweetNotFound)
}

func TestDelete_NotOwner(t *testing.T) {
	f := newFixture(t, "A", "B")
	ctx := context.Background()
	tw, err := f.svc.Create(ctx, "A", "hi")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	err = f.svc.Delete(ctx, tw.ID, "B")
	assertCode(t, err, model.ErrCodeNotOwner)
	if f.feed.ActivityCount(activity.UserFeed("A")) != 1 {
		t.Error("他人によってフィードから削除された")
	}
}

func TestDelete_RetryAfterStoreFailure(t *testing.T) {
	f := newFixture(t, "A")
	ctx := context.Background()
	tw, err := f.svc.Create(ctx, "A", "hi")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	f.store.FailCommits(errors.New("disk full"))
	err = f.svc.Delete(ctx, tw.ID, "A")
	assertCode(t, err, model.ErrCodeStoreFailure)

	// フィード側は削除済み。再実行でストアも収束する。
	f.store.FailCommits(nil)
	if err := f.svc.Delete(ctx, tw.ID, "A"); err != nil {
		t.Fatalf("Delete retry: %v", err)
	}
	if f.tweetsCount(t, "A") != 0 {
		t.Errorf("tweetsCount = %d, want 0", f.tweetsCount(t, "A"))
	}
}

func TestDelete_StaleDoubleDelete_DecrementsOnce(t *testing.T) {
	f := newFixture(t, "A")
	ctx := context.Background()
	var ids []string
	for _, text := range []string{"one", "two"} {
		tw, err := f.svc.Create(ctx, "A", text)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, tw.ID)
	}

	// 所有者確認を通過した後、先行する同一の削除がトゥームストーン化を終える。
	var first error
	f.store.BeforeNextTx(func() {
		first = f.svc.Delete(ctx, ids[0], "A")
	})

	err := f.svc.Delete(ctx, ids[0], "A")
	if first != nil {
		t.Fatalf("先行したDelete: %v", first)
	}
	assertCode(t, err, model.ErrCodeTweetNotFound)

	if got := f.tweetsCount(t, "A"); got != 1 {
		t.Errorf("tweetsCount = %d, want 1", got)
	}
	if got := f.metrics.Divergence(opTweetDelete); got != 0 {
		t.Errorf("divergence = %d, want 0", got)
	}
	if _, err := f.svc.Get(ctx, ids[1]); err != nil {
		t.Errorf("残りの投稿が取得できない: %v", err)
	}
}

func TestDelete_Concurrent_DecrementsOnce(t *testing.T) {
	f := newFixture(t, "A")
	ctx := context.Background()
	var ids []string
	for _, text := range []string{"one", "two"} {
		tw, err := f.svc.Create(ctx, "A", text)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, tw.ID)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.svc.Delete(ctx, ids[0], "A")
		}()
	}
	wg.Wait()

	if got := f.tweetsCount(t, "A"); got != 1 {
		t.Errorf("tweetsCount = %d, want 1", got)
	}
}
