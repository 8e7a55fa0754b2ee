// Package activity はアクティビティフィードサービスとの連携を提供する。
// 投稿・ブックマークの順序、タイムライン、リアクション一覧はフィードサービスが正とし、
// エンティティストアはそのIDをそのまま主キーとして使用する。
package activity

import (
	"context"
	"strings"
	"time"
)

// FeedGroup はフィードの種類。
type FeedGroup string

const (
	// GroupUser は投稿者自身の投稿アクティビティを保持するフィード。
	GroupUser FeedGroup = "user"
	// GroupTimeline はフォロー先のuserフィードを購読するタイムラインフィード。
	GroupTimeline FeedGroup = "timeline"
	// GroupBookmarks はブックマークアクティビティを保持するフィード。
	GroupBookmarks FeedGroup = "bookmarks"
)

// FeedRef はフィードグループとユーザーIDの組でフィードを識別する。
type FeedRef struct {
	Group  FeedGroup
	UserID string
}

// UserFeed はユーザーの投稿フィードを返す。
func UserFeed(userID string) FeedRef { return FeedRef{Group: GroupUser, UserID: userID} }

// TimelineFeed はユーザーのタイムラインフィードを返す。
func TimelineFeed(userID string) FeedRef { return FeedRef{Group: GroupTimeline, UserID: userID} }

// BookmarksFeed はユーザーのブックマークフィードを返す。
func BookmarksFeed(userID string) FeedRef { return FeedRef{Group: GroupBookmarks, UserID: userID} }

// String は "group:userID" 形式を返す。
func (f FeedRef) String() string {
	return string(f.Group) + ":" + f.UserID
}

const (
	VerbTweet    = "tweet"
	VerbBookmark = "bookmark"
)

const tweetObjectPrefix = "tweet:"

// TweetObject は投稿を参照するアクティビティのobject値を返す。
func TweetObject(tweetID string) string {
	return tweetObjectPrefix + tweetID
}

// TweetIDFromObject はTweetObjectの逆変換。投稿参照でなければfalseを返す。
func TweetIDFromObject(object string) (string, bool) {
	id, ok := strings.CutPrefix(object, tweetObjectPrefix)
	return id, ok && id != ""
}

// Activity はフィード上の1アクティビティ。IDはフィードサービスが採番する。
type Activity struct {
	ID        string
	Actor     string
	Verb      string
	Object    string
	ForeignID string
	Time      time.Time
}

// Query はフィード読み出しのページ指定。Cursor は前ページの Page.Next をそのまま渡す。
type Query struct {
	Limit  int
	Cursor string
}

// Page はフィード読み出し結果。Next が空の場合は続きがない。
// Next の中身はフィードサービス側の表現であり、呼び出し側で解釈してはならない。
type Page struct {
	Activities []Activity
	Next       string
}

// ReactionKind はリアクションの種類。
type ReactionKind string

const (
	KindLike    ReactionKind = "like"
	KindComment ReactionKind = "comment"
)

// Reaction はアクティビティに付与されたリアクション。
type Reaction struct {
	ID         string
	Kind       ReactionKind
	ActivityID string
	UserID     string
	CreatedAt  time.Time
	Data       map[string]any
}

// Text はコメントリアクションの本文を返す。
func (r Reaction) Text() string {
	if s, ok := r.Data["text"].(string); ok {
		return s
	}
	return ""
}

// ReactionFilter はリアクション一覧の絞り込み条件。
// ActivityID と UserID はどちらか一方のみ指定する。
type ReactionFilter struct {
	Kind       ReactionKind
	ActivityID string
	UserID     string
	Limit      int
	Cursor     string
}

// ReactionPage はリアクション一覧の結果。
type ReactionPage struct {
	Reactions []Reaction
	Next      string
}

// Service はアクティビティフィードサービスのインターフェース。
// テスト時はインメモリ実装に差し替える。
type Service interface {
	AddActivity(ctx context.Context, feed FeedRef, act Activity) (Activity, error)
	RemoveActivity(ctx context.Context, feed FeedRef, activityID string) error
	RemoveActivityByForeignID(ctx context.Context, feed FeedRef, foreignID string) error
	Activities(ctx context.Context, feed FeedRef, q Query) (Page, error)

	AddReaction(ctx context.Context, r Reaction) (Reaction, error)
	DeleteReaction(ctx context.Context, reactionID string) error
	FilterReactions(ctx context.Context, f ReactionFilter) (ReactionPage, error)

	// Follow はsourceフィードがtargetフィードを購読するようにする。
	Follow(ctx context.Context, source, target FeedRef) error
	// Unfollow はsourceフィードのtarget購読を解除する。
	Unfollow(ctx context.Context, source, target FeedRef) error
}

// TokenIssuer はクライアントがフィードへ直接接続するためのトークンを発行する。
type TokenIssuer interface {
	UserToken(userID string) (string, error)
}
