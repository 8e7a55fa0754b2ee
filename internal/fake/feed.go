package fake

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/hitoshi/chirp/internal/activity"
)

// ErrActivityNotFound は存在しないアクティビティへの操作を表す。
// 実サービスと同じく404のactivity.Errorとして返す。
var ErrActivityNotFound = &activity.Error{StatusCode: http.StatusNotFound, Exception: "DoesNotExistException"}

const defaultFeedLimit = 25

// Feed はインメモリのアクティビティフィード。
// IDは単調増加する連番で採番し、新しい順はID降順と一致する。
// timelineフィードはフォロー中のフィードを読み出し時に合成する。
type Feed struct {
	mu         sync.Mutex
	seq        int
	now        func() time.Time
	activities map[string]activity.Activity
	feeds      map[string][]string        // feed -> activity ids (追加順)
	follows    map[string]map[string]bool // source feed -> target feed
	reactions  map[string]activity.Reaction
	failures   map[string]error
	calls      []string
}

// NewFeed は空のFeedを生成する。
func NewFeed() *Feed {
	return &Feed{
		now:        time.Now,
		activities: map[string]activity.Activity{},
		feeds:      map[string][]string{},
		follows:    map[string]map[string]bool{},
		reactions:  map[string]activity.Reaction{},
		failures:   map[string]error{},
	}
}

// FailOn は指定操作をerrで失敗させる。nilで解除する。
// 操作名は add_activity, remove_activity, get_activities, add_reaction,
// delete_reaction, filter_reactions, follow, unfollow。
func (f *Feed) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, op)
		return
	}
	f.failures[op] = err
}

// Calls は呼び出された操作名を呼び出し順に返す。
func (f *Feed) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// IsSubscribed はsourceがtargetを購読しているかを返す。
func (f *Feed) IsSubscribed(source, target activity.FeedRef) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.follows[source.String()][target.String()]
}

// ActivityCount はフィードに直接追加されたアクティビティ数を返す。
func (f *Feed) ActivityCount(feed activity.FeedRef) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.feeds[feed.String()])
}

// ReactionCount は保持しているリアクション数を返す。
func (f *Feed) ReactionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reactions)
}

// Seed はフィードにアクティビティを直接追加し、採番したIDを返す。呼び出し記録には残らない。
func (f *Feed) Seed(feed activity.FeedRef, act activity.Activity) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addLocked(feed, act).ID
}

func (f *Feed) enter(op string) error {
	f.calls = append(f.calls, op)
	return f.failures[op]
}

func (f *Feed) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%08d", prefix, f.seq)
}

func (f *Feed) addLocked(feed activity.FeedRef, act activity.Activity) activity.Activity {
	act.ID = f.nextID("act")
	if act.Time.IsZero() {
		act.Time = f.now()
	}
	f.activities[act.ID] = act
	key := feed.String()
	f.feeds[key] = append(f.feeds[key], act.ID)
	return act
}

func (f *Feed) AddActivity(_ context.Context, feed activity.FeedRef, act activity.Activity) (activity.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("add_activity"); err != nil {
		return activity.Activity{}, err
	}
	return f.addLocked(feed, act), nil
}

func (f *Feed) RemoveActivity(_ context.Context, feed activity.FeedRef, activityID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("remove_activity"); err != nil {
		return err
	}
	return f.removeLocked(feed, func(a activity.Activity) bool { return a.ID == activityID })
}

func (f *Feed) RemoveActivityByForeignID(_ context.Context, feed activity.FeedRef, foreignID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("remove_activity"); err != nil {
		return err
	}
	return f.removeLocked(feed, func(a activity.Activity) bool { return a.ForeignID == foreignID })
}

func (f *Feed) removeLocked(feed activity.FeedRef, match func(activity.Activity) bool) error {
	key := feed.String()
	ids := f.feeds[key]
	for i, id := range ids {
		if match(f.activities[id]) {
			f.feeds[key] = slices.Delete(ids, i, i+1)
			delete(f.activities, id)
			return nil
		}
	}
	return ErrActivityNotFound
}

func (f *Feed) Activities(_ context.Context, feed activity.FeedRef, q activity.Query) (activity.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("get_activities"); err != nil {
		return activity.Page{}, err
	}

	key := feed.String()
	ids := slices.Clone(f.feeds[key])
	for target := range f.follows[key] {
		ids = append(ids, f.feeds[target]...)
	}
	slices.Sort(ids)
	slices.Reverse(ids)

	var page activity.Page
	limit := q.Limit
	if limit <= 0 {
		limit = defaultFeedLimit
	}
	for _, id := range ids {
		if q.Cursor != "" && id >= q.Cursor {
			continue
		}
		if len(page.Activities) == limit {
			page.Next = page.Activities[len(page.Activities)-1].ID
			break
		}
		page.Activities = append(page.Activities, f.activities[id])
	}
	return page, nil
}

func (f *Feed) AddReaction(_ context.Context, r activity.Reaction) (activity.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("add_reaction"); err != nil {
		return activity.Reaction{}, err
	}
	if _, ok := f.activities[r.ActivityID]; !ok {
		return activity.Reaction{}, ErrActivityNotFound
	}
	r.ID = f.nextID("rx")
	r.CreatedAt = f.now()
	f.reactions[r.ID] = r
	return r, nil
}

func (f *Feed) DeleteReaction(_ context.Context, reactionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("delete_reaction"); err != nil {
		return err
	}
	if _, ok := f.reactions[reactionID]; !ok {
		return ErrActivityNotFound
	}
	delete(f.reactions, reactionID)
	return nil
}

func (f *Feed) FilterReactions(_ context.Context, filter activity.ReactionFilter) (activity.ReactionPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("filter_reactions"); err != nil {
		return activity.ReactionPage{}, err
	}
	if (filter.ActivityID == "") == (filter.UserID == "") {
		return activity.ReactionPage{}, errors.New("reaction filter requires exactly one of activity id or user id")
	}

	var matched []activity.Reaction
	for _, r := range f.reactions {
		if filter.Kind != "" && r.Kind != filter.Kind {
			continue
		}
		if filter.ActivityID != "" && r.ActivityID != filter.ActivityID {
			continue
		}
		if filter.UserID != "" && r.UserID != filter.UserID {
			continue
		}
		if filter.Cursor != "" && r.ID >= filter.Cursor {
			continue
		}
		matched = append(matched, r)
	}
	slices.SortFunc(matched, func(a, b activity.Reaction) int {
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultFeedLimit
	}
	var page activity.ReactionPage
	if len(matched) > limit {
		matched = matched[:limit]
		page.Next = matched[limit-1].ID
	}
	page.Reactions = matched
	return page, nil
}

func (f *Feed) Follow(_ context.Context, source, target activity.FeedRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("follow"); err != nil {
		return err
	}
	key := source.String()
	if f.follows[key] == nil {
		f.follows[key] = map[string]bool{}
	}
	f.follows[key][target.String()] = true
	return nil
}

func (f *Feed) Unfollow(_ context.Context, source, target activity.FeedRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("unfollow"); err != nil {
		return err
	}
	delete(f.follows[source.String()], target.String())
	return nil
}

var _ activity.Service = (*Feed)(nil)
