// Package repository はエンティティストアのインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/chirp/internal/model"
)

// ErrDuplicate は一意制約違反を表す。
// Tx の Create 系メソッドが既存レコードと衝突した場合に返す。
var ErrDuplicate = errors.New("duplicate record")

// ErrDuplicateUsername と ErrDuplicateEmail はユーザー作成時にどの一意制約と衝突したかを表す。
// いずれも errors.Is(err, ErrDuplicate) を満たす。
var (
	ErrDuplicateUsername = fmt.Errorf("%w: username", ErrDuplicate)
	ErrDuplicateEmail    = fmt.Errorf("%w: email", ErrDuplicate)
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// Create はユーザーを作成する。
	// ユーザー名の重複時はErrDuplicateUsername、メールアドレスの重複時はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error
}

// TweetRepository は投稿データの参照インターフェース。
type TweetRepository interface {
	// FindByID は指定IDの投稿を取得する。トゥームストーン化された投稿も返す。
	// 見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Tweet, error)
}

// EdgeCursor はフォロー一覧のキーセットページネーション位置を表す。
// created_at降順、相手ユーザーID降順で並べた最後の要素を指す。
type EdgeCursor struct {
	CreatedAt time.Time
	UserID    string
}

// FollowRepository はフォロー関係の参照インターフェース。
type FollowRepository interface {
	// FindFollowing はfollowerIDのfollowingsにあるfolloweeIDのレコードを取得する。
	// 見つからない場合はnilを返す。
	FindFollowing(ctx context.Context, followerID, followeeID string) (*model.FollowEdge, error)

	// FindFollower はuserIDのfollowersにあるfollowerIDのレコードを取得する。
	// 見つからない場合はnilを返す。
	FindFollower(ctx context.Context, userID, followerID string) (*model.FollowEdge, error)

	// ListFollowers はuserIDをフォローしているユーザーのエッジをcreated_at降順で返す。
	// afterがnilの場合は先頭から取得する。
	ListFollowers(ctx context.Context, userID string, after *EdgeCursor, limit int) ([]model.FollowEdge, error)

	// ListFollowings はuserIDがフォローしているユーザーのエッジをcreated_at降順で返す。
	ListFollowings(ctx context.Context, userID string, after *EdgeCursor, limit int) ([]model.FollowEdge, error)
}

// LikeRepository はいいねの参照インターフェース。
type LikeRepository interface {
	// FindByID はリアクションIDでいいねを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Like, error)

	// FindByTweetAndAuthor は投稿IDとユーザーIDでいいねを検索する。見つからない場合はnilを返す。
	FindByTweetAndAuthor(ctx context.Context, tweetID, authorID string) (*model.Like, error)
}

// CommentRepository はコメントの参照インターフェース。
type CommentRepository interface {
	// FindByID はリアクションIDでコメントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Comment, error)
}

// BookmarkRepository はブックマークの参照インターフェース。
type BookmarkRepository interface {
	// FindByID はアクティビティIDでブックマークを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Bookmark, error)

	// FindByTweetAndAuthor は投稿IDとユーザーIDでブックマークを検索する。見つからない場合はnilを返す。
	FindByTweetAndAuthor(ctx context.Context, tweetID, authorID string) (*model.Bookmark, error)
}

// Tx はトランザクション内で使用する読み取り・書き込み操作。
// 読み取りは行ロックを取得し、書き込みはコミット時にまとめて反映される。
type Tx interface {
	// FindUserForUpdate はユーザーを行ロック付きで取得する。見つからない場合はnilを返す。
	FindUserForUpdate(ctx context.Context, id string) (*model.User, error)
	// UpdateUserCounters はユーザーの集計カウンタを上書きする。
	UpdateUserCounters(ctx context.Context, id string, social model.SocialDetails, activity model.ActivityDetails) error

	// FindTweetForUpdate は投稿を行ロック付きで取得する。見つからない場合はnilを返す。
	FindTweetForUpdate(ctx context.Context, id string) (*model.Tweet, error)
	// UpdateTweetMeta は投稿の集計カウンタを上書きする。
	UpdateTweetMeta(ctx context.Context, id string, meta model.TweetMeta) error
	// CreateTweet は投稿を作成する。
	CreateTweet(ctx context.Context, tweet *model.Tweet) error
	// MarkTweetDeleted は投稿をトゥームストーン化する。
	// 有効な投稿が存在せず何も更新しなかった場合はfalseを返す。
	MarkTweetDeleted(ctx context.Context, id string, at time.Time) (bool, error)

	// CreateFollowEdge はfollowersとfollowingsの両レコードを作成する。
	CreateFollowEdge(ctx context.Context, edge model.FollowEdge) error
	// DeleteFollowEdge はfollowersとfollowingsの両レコードを削除する。存在しない側は無視する。
	// 戻り値はそれぞれの側で実際に行を削除したかを示す。
	DeleteFollowEdge(ctx context.Context, followerID, followeeID string) (followerRemoved, followingRemoved bool, err error)

	// Delete系は実際に行を削除した場合のみtrueを返す。
	CreateLike(ctx context.Context, like *model.Like) error
	DeleteLike(ctx context.Context, id string) (bool, error)
	CreateComment(ctx context.Context, comment *model.Comment) error
	DeleteComment(ctx context.Context, id string) (bool, error)
	CreateBookmark(ctx context.Context, bookmark *model.Bookmark) error
	DeleteBookmark(ctx context.Context, id string) (bool, error)
}

// Transactor はトランザクション実行のインターフェース。
type Transactor interface {
	// WithinTx はfnを1つのトランザクション内で実行する。
	// fnがエラーを返した場合はロールバックし、そのエラーを返す。
	// 直列化失敗時はfnを再実行するため、fnはトランザクション外の副作用を持ってはならない。
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
