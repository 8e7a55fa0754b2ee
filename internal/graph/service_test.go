package graph

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/chirp/internal/activity"
	"github.com/hitoshi/chirp/internal/counter"
	"github.com/hitoshi/chirp/internal/fake"
	"github.com/hitoshi/chirp/internal/model"
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
	svc := NewService(store.Users(), store.Follows(), store, feed, counter.NewMaintainer(logger, m), logger, m)
	return &fixture{svc: svc, store: store, feed: feed, metrics: m, logs: &buf}
}

func (f *fixture) counts(t *testing.T, id string) (followers, followings int) {
	t.Helper()
	u, ok := f.store.User(id)
	if !ok {
		t.Fatalf("user %s not found", id)
	}
	return u.SocialDetails.FollowersCount, u.SocialDetails.FollowingsCount
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	if !model.HasCode(err, code) {
		t.Fatalf("err = %v, want code %s", err, code)
	}
}

func TestFollow_Success(t *testing.T) {
	f := newFixture(t, "A", "B")
	ctx := context.Background()

	if err := f.svc.Follow(ctx, "A", "B"); err != nil {
		t.Fatalf("Follow: %v", err)
	}

	if _, followings := f.counts(t, "A"); followings != 1 {
		t.Errorf("A.followingsCount = %d, want 1", followings)
	}
	if followers, _ := f.counts(t, "B"); followers != 1 {
		t.Errorf("B.followersCount = %d, want 1", followers)
	}
	ok, err := f.svc.IsFollowing(ctx, "A", "B")
	if err != nil || !ok {
		t.Errorf("IsFollowing(A, B) = (%v, %v), want true", ok, err)
	}
	ok, err = f.svc.IsFollower(ctx, "B", "A")
	if err != nil || !ok {
		t.Errorf("IsFollower(B, A) = (%v, %v), want true", ok, err)
	}
	if !f.feed.IsSubscribed(activity.TimelineFeed("A"), activity.UserFeed("B")) {
		t.Error("タイムライン購読が登録されていない")
	}
	if f.metrics.Mutations(opFollow, "success") != 1 {
		t.Error("成功メトリクスが記録されていない")
	}
}

func TestFollow_Oneself_FailsBeforeExistenceCheck(t *testing.T) {
	f := newFixture(t)
	f.store.FailReads(errors.New("store down"))

	err := f.svc.Follow(context.Background(), "ghost", "ghost")
	assertCode(t, err, model.ErrCodeFollowingOneselfForbidden)
	if model.KindOf(err) != model.KindForbidden {
		t.Errorf("kind = %s, want forbidden", model.KindOf(err))
	}
	if len(f.feed.Calls()) != 0 {
		t.Error("フィードを呼び出してはならない")
	}
}

func TestFollow_MissingUsers(t *testing.T) {
	tests := []struct {
		name     string
		follower string
		followee string
		wantCode string
	}{
		{"フォローする側が存在しない", "X", "B", model.ErrCodeFollowerDoesNotExist},
		{"フォロー対象が存在しない", "A", "X", model.ErrCodeFolloweeDoesNotExist},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "A", "B")

			err := f.svc.Follow(context.Background(), tt.follower, tt.followee)
			assertCode(t, err, tt.wantCode)
			if model.KindOf(err) != model.KindNotFound {
				t.Errorf("kind = %s, want not_found", model.KindOf(err))
			}
			for _, id := range []string{"A", "B"} {
				if followers, followings := f.counts(t, id); followers != 0 || followings != 0 {
					t.Errorf("%s counters changed: %d/%d", id, followers, followings)
				}
			}
			if len(f.feed.Calls()) != 0 {
				t.Error("フィードを呼び出してはならない")
			}
		})
	}
}

func TestFollow_AlreadyExists(t *testing.T) {
	f := newFixture(t, "A", "B")
	ctx := context.Background()
	if err := f.svc.Follow(ctx, "A", "B"); err != nil {
		t.Fatalf("Follow: %v", err)
	}

	err := f.svc.Follow(ctx, "A", "B")
	assertCode(t, err, model.ErrCodeRelationshipAlreadyExists)
	if model.KindOf(err) != model.KindConflict {
		t.Errorf("kind = %s, want conflict", model.KindOf(err))
	}
	if followers, _ := f.counts(t, "B"); followers != 1 {
		t.Errorf("B.followersCount = %d, want 1", followers)
	}
}

func TestFollow_FeedFailure_LeavesStoreUntouched(t *testing.T) {
	f := newFixture(t, "A", "B")
	f.feed.FailOn("follow", errors.New("feed unavailable"))

	err := f.svc.Follow(context.Background(), "A", "B")
	assertCode(t, err, model.ErrCodeFeedServiceFailure)
	if model.KindOf(err) != model.KindExternalServiceFailure {
		t.Errorf("kind = %s", model.KindOf(err))
	}
	if f.store.TxCount() != 0 {
		t.Errorf("TxCount = %d, want 0", f.store.TxCount())
	}
	if f.store.HasFollowerRow("B", "A") || f.store.HasFollowingRow("A", "B") {
		t.Error("エッジが作成されてはならない")
	}
}

func TestFollow_StoreFailureAfterFeed_ReportsDivergence(t *testing.T) {
	f := newFixture(t, "A", "B")
	f.store.FailCommits(errors.New("aborted"))

	err := f.svc.Follow(context.Background(), "A", "B")
	assertCode(t, err, model.ErrCodeStoreFailure)

	if !f.feed.IsSubscribed(activity.TimelineFeed("A"), activity.UserFeed("B")) {
		t.Error("フィード購読は補償されずに残る")
	}
	if f.store.HasFollowerRow("B", "A") || f.store.HasFollowingRow("A", "B") {
		t.Error("エッジは作成されていないはず")
	}
	if f.metrics.Divergence(opFollow) != 1 {
		t.Error("不一致メトリクスが記録されていない")
	}
	if !strings.Contains(f.logs.String(), `"level":"ERROR"`) {
		t.Error("Errorログが出力されていない")
	}
}

func TestFollowThenUnfollow_RestoresCounters(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	ctx := context.Background()
	// 事前状態として別のフォロー関係を作っておく
	if err := f.svc.Follow(ctx, "C", "B"); err != nil {
		t.Fatalf("Follow(C, B): %v", err)
	}
	beforeBFollowers, _ := f.counts(t, "B")
	_, beforeAFollowings := f.counts(t, "A")

	if err := f.svc.Follow(ctx, "A", "B"); err != nil {
		t.Fatalf("Follow: %v", err)
	}
	if err := f.svc.Unfollow(ctx, "A", "B"); err != nil {
		t.Fatalf("Unfollow: %v", err)
	}

	ok, err := f.svc.IsFollowing(ctx, "A", "B")
	if err != nil || ok {
		t.Errorf("IsFollowing(A, B) = (%v, %v), want false", ok, err)
	}
	if followers, _ := f.counts(t, "B"); followers != beforeBFollowers {
		t.Errorf("B.followersCount = %d, want %d", followers, beforeBFollowers)
	}
	if _, followings := f.counts(t, "A"); followings != beforeAFollowings {
		t.Errorf("A.followingsCount = %d, want %d", followings, beforeAFollowings)
	}
	if f.feed.IsSubscribed(activity.TimelineFeed("A"), activity.UserFeed("B")) {
		t.Error("タイムライン購読が解除されていない")
	}

	calls := f.feed.Calls()
	if calls[len(calls)-1] != "unfollow" {
		t.Errorf("last feed call = %s, want unfollow", calls[len(calls)-1])
	}
}

func TestUnfollow_Oneself(t *testing.T) {
	f := newFixture(t, "A")
	assertCode(t, f.svc.Unfollow(context.Background(), "A", "A"), model.ErrCodeUnfollowingOneselfForbidden)
}

func TestUnfollow_NoRelationship(t *testing.T) {
	f := newFixture(t, "A", "B")
	err := f.svc.Unfollow(context.Background(), "A", "B")
	assertCode(t, err, model.ErrCodeRelationshipDoesNotExist)
	if len(f.feed.Calls()) != 0 {
		t.Error("フィードを呼び出してはならない")
	}
}

func TestUnfollow_HalfEdgeIsRemoved(t *testing.T) {
	tests := []struct {
		name                string
		followerSide        bool
		followingSide       bool
		wantClampFollowers  int
		wantClampFollowings int
	}{
		{"followers側のみ残存", true, false, 1, 0},
		{"followings側のみ残存", false, true, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "A", "B")
			f.store.PutFollowEdge(model.FollowEdge{FollowerID: "A", FolloweeID: "B", CreatedAt: time.Now()}, tt.followerSide, tt.followingSide)

			if err := f.svc.Unfollow(context.Background(), "A", "B"); err != nil {
				t.Fatalf("Unfollow: %v", err)
			}
			if f.store.HasFollowerRow("B", "A") || f.store.HasFollowingRow("A", "B") {
				t.Error("残存エッジが削除されていない")
			}
			// 削除できた側のカウンタだけが0から減算され打ち止めになる
			if got := f.metrics.Clamped(string(counter.Followers)); got != tt.wantClampFollowers {
				t.Errorf("clamped{followers} = %d, want %d", got, tt.wantClampFollowers)
			}
			if got := f.metrics.Clamped(string(counter.Followings)); got != tt.wantClampFollowings {
				t.Errorf("clamped{followings} = %d, want %d", got, tt.wantClampFollowings)
			}
		})
	}
}

func TestUnfollow_FeedFailure(t *testing.T) {
	f := newFixture(t, "A", "B")
	ctx := context.Background()
	if err := f.svc.Follow(ctx, "A", "B"); err != nil {
		t.Fatalf("Follow: %v", err)
	}
	f.feed.FailOn("unfollow", errors.New("down"))

	assertCode(t, f.svc.Unfollow(ctx, "A", "B"), model.ErrCodeFeedServiceFailure)
	if !f.store.HasFollowingRow("A", "B") {
		t.Error("フィード失敗時にエッジを削除してはならない")
	}
}

func TestUnfollow_ConcurrentDoubleDelete_NeverNegative(t *testing.T) {
	f := newFixture(t, "A", "B")
	ctx := context.Background()
	if err := f.svc.Follow(ctx, "A", "B"); err != nil {
		t.Fatalf("Follow: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.svc.Unfollow(ctx, "A", "B")
		}()
	}
	wg.Wait()

	followers, _ := f.counts(t, "B")
	_, followings := f.counts(t, "A")
	if followers != 0 || followings != 0 {
		t.Errorf("counters = (%d, %d), want (0, 0)", followers, followings)
	}
}

func TestUnfollow_ConcurrentDoubleDelete_KeepsOtherFollowers(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	ctx := context.Background()
	for _, follower := range []string{"A", "C"} {
		if err := f.svc.Follow(ctx, follower, "B"); err != nil {
			t.Fatalf("Follow(%s, B): %v", follower, err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.svc.Unfollow(ctx, "A", "B")
		}()
	}
	wg.Wait()

	if followers, _ := f.counts(t, "B"); followers != 1 {
		t.Errorf("B.followersCount = %d, want 1", followers)
	}
	if _, followings := f.counts(t, "A"); followings != 0 {
		t.Errorf("A.followingsCount = %d, want 0", followings)
	}
	if !f.store.HasFollowerRow("B", "C") {
		t.Error("C→Bのエッジが削除された")
	}
}

func TestUnfollow_StalePrecheck_DoesNotDecrementTwice(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	ctx := context.Background()
	for _, follower := range []string{"A", "C"} {
		if err := f.svc.Follow(ctx, follower, "B"); err != nil {
			t.Fatalf("Follow(%s, B): %v", follower, err)
		}
	}

	// 事前チェックを通過した後、先行する同一のunfollowがエッジを削除する。
	var first error
	f.store.BeforeNextTx(func() {
		first = f.svc.Unfollow(ctx, "A", "B")
	})

	err := f.svc.Unfollow(ctx, "A", "B")
	if first != nil {
		t.Fatalf("先行したUnfollow: %v", first)
	}
	assertCode(t, err, model.ErrCodeRelationshipDoesNotExist)

	if followers, _ := f.counts(t, "B"); followers != 1 {
		t.Errorf("B.followersCount = %d, want 1", followers)
	}
	if _, followings := f.counts(t, "A"); followings != 0 {
		t.Errorf("A.followingsCount = %d, want 0", followings)
	}
	if got := f.metrics.Divergence(opUnfollow); got != 0 {
		t.Errorf("divergence = %d, want 0", got)
	}
}

func TestUnfollow_HalfEdge_DecrementsOnlyRemovedSide(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	ctx := context.Background()
	if err := f.svc.Follow(ctx, "C", "B"); err != nil {
		t.Fatalf("Follow(C, B): %v", err)
	}
	// AのfollowingsにだけB行が残っている。BのfollowersにA行はない。
	f.store.PutFollowEdge(model.FollowEdge{FollowerID: "A", FolloweeID: "B", CreatedAt: time.Now()}, false, true)
	f.store.PutUser(model.User{ID: "A", Username: "A", SocialDetails: model.SocialDetails{FollowingsCount: 1}})

	if err := f.svc.Unfollow(ctx, "A", "B"); err != nil {
		t.Fatalf("Unfollow: %v", err)
	}

	if followers, _ := f.counts(t, "B"); followers != 1 {
		t.Errorf("B.followersCount = %d, want 1", followers)
	}
	if _, followings := f.counts(t, "A"); followings != 0 {
		t.Errorf("A.followingsCount = %d, want 0", followings)
	}
	if f.store.HasFollowingRow("A", "B") {
		t.Error("残っていた片側のエッジが削除されていない")
	}
}

func TestIsFollowing_StoreFailure(t *testing.T) {
	f := newFixture(t, "A", "B")
	f.store.FailReads(errors.New("down"))

	_, err := f.svc.IsFollowing(context.Background(), "A", "B")
	assertCode(t, err, model.ErrCodeStoreFailure)
}
