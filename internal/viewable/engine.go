// Package viewable はエンティティに閲覧者から見た関係フラグを付与した投影を組み立てる。
//
// 投稿・コメント・いいねの投稿者は User を平坦に写すだけで、投稿者自身の関係はそれ以上展開しない。
// 一括投影は入力順を保ち、1件でも失敗すれば結果を返さない。
package viewable

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/chirp/internal/model"
	"github.com/hitoshi/chirp/internal/repository"
)

// DefaultConcurrency は一括投影の既定の並列数。
const DefaultConcurrency = 8

// Options は投影の動作オプション。
type Options struct {
	// EnableViewerCheck が真の場合、投影前に閲覧者の存在をストアで確認する。
	EnableViewerCheck bool
}

// Engine は閲覧者相対の投影を行う。
type Engine struct {
	users       repository.UserRepository
	follows     repository.FollowRepository
	likes       repository.LikeRepository
	bookmarks   repository.BookmarkRepository
	concurrency int
}

// NewEngine はEngineを生成する。concurrencyが0以下の場合はDefaultConcurrencyを使う。
func NewEngine(
	users repository.UserRepository,
	follows repository.FollowRepository,
	likes repository.LikeRepository,
	bookmarks repository.BookmarkRepository,
	concurrency int,
) *Engine {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Engine{
		users:       users,
		follows:     follows,
		likes:       likes,
		bookmarks:   bookmarks,
		concurrency: concurrency,
	}
}

// User はユーザーの投影を返す。
func (e *Engine) User(ctx context.Context, u model.User, viewerID string, opts Options) (*model.ViewableUser, error) {
	if err := e.checkViewer(ctx, viewerID, opts); err != nil {
		return nil, err
	}
	return e.user(ctx, u, viewerID)
}

// Tweet は投稿の投影を返す。
func (e *Engine) Tweet(ctx context.Context, t model.Tweet, viewerID string, opts Options) (*model.ViewableTweet, error) {
	if err := e.checkViewer(ctx, viewerID, opts); err != nil {
		return nil, err
	}
	return e.tweet(ctx, t, viewerID)
}

// Comment はコメントの投影を返す。
func (e *Engine) Comment(ctx context.Context, c model.Comment, viewerID string, opts Options) (*model.ViewableComment, error) {
	if err := e.checkViewer(ctx, viewerID, opts); err != nil {
		return nil, err
	}
	return e.comment(ctx, c, viewerID)
}

// Like はいいねの投影を返す。
func (e *Engine) Like(ctx context.Context, l model.Like, viewerID string, opts Options) (*model.ViewableLike, error) {
	if err := e.checkViewer(ctx, viewerID, opts); err != nil {
		return nil, err
	}
	return e.like(ctx, l, viewerID)
}

// Users はユーザーを一括投影する。
func (e *Engine) Users(ctx context.Context, users []model.User, viewerID string, opts Options) ([]model.ViewableUser, error) {
	return many(ctx, e, users, viewerID, opts, e.user)
}

// Tweets は投稿を一括投影する。
func (e *Engine) Tweets(ctx context.Context, tweets []model.Tweet, viewerID string, opts Options) ([]model.ViewableTweet, error) {
	return many(ctx, e, tweets, viewerID, opts, e.tweet)
}

// Comments はコメントを一括投影する。
func (e *Engine) Comments(ctx context.Context, comments []model.Comment, viewerID string, opts Options) ([]model.ViewableComment, error) {
	return many(ctx, e, comments, viewerID, opts, e.comment)
}

// Likes はいいねを一括投影する。
func (e *Engine) Likes(ctx context.Context, likes []model.Like, viewerID string, opts Options) ([]model.ViewableLike, error) {
	return many(ctx, e, likes, viewerID, opts, e.like)
}

// many はitemsを並列に投影し、入力と同じ順で返す。
// 最初の失敗で残りをキャンセルし、部分的な結果は返さない。
func many[E, V any](
	ctx context.Context,
	e *Engine,
	items []E,
	viewerID string,
	opts Options,
	project func(ctx context.Context, item E, viewerID string) (*V, error),
) ([]V, error) {
	if err := e.checkViewer(ctx, viewerID, opts); err != nil {
		return nil, err
	}

	out := make([]V, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			v, err := project(gctx, item, viewerID)
			if err != nil {
				return err
			}
			out[i] = *v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) checkViewer(ctx context.Context, viewerID string, opts Options) error {
	if !opts.EnableViewerCheck {
		return nil
	}
	viewer, err := e.users.FindByID(ctx, viewerID)
	if err != nil {
		return model.NewUnknownError(fmt.Errorf("閲覧者の確認に失敗しました: %w", err))
	}
	if viewer == nil {
		return model.NewViewerDoesNotExistError(viewerID)
	}
	return nil
}

func (e *Engine) user(ctx context.Context, u model.User, viewerID string) (*model.ViewableUser, error) {
	v := &model.ViewableUser{User: u}
	if viewerID == "" || viewerID == u.ID {
		return v, nil
	}

	following, err := e.follows.FindFollowing(ctx, viewerID, u.ID)
	if err != nil {
		return nil, model.NewUnknownError(fmt.Errorf("フォロー状態の取得に失敗しました: %w", err))
	}
	follower, err := e.follows.FindFollower(ctx, viewerID, u.ID)
	if err != nil {
		return nil, model.NewUnknownError(fmt.Errorf("フォロワー状態の取得に失敗しました: %w", err))
	}
	v.Following = following != nil
	v.Follower = follower != nil
	return v, nil
}

// author は投稿者の投影。Userと同じ平坦な写像で、それ以上の展開はしない。
func (e *Engine) author(ctx context.Context, authorID, viewerID string) (*model.ViewableUser, error) {
	u, err := e.users.FindByID(ctx, authorID)
	if err != nil {
		return nil, model.NewUnknownError(fmt.Errorf("投稿者の取得に失敗しました: %w", err))
	}
	if u == nil {
		return nil, model.NewOrphanedReferenceError("user:" + authorID)
	}
	return e.user(ctx, *u, viewerID)
}

func (e *Engine) tweet(ctx context.Context, t model.Tweet, viewerID string) (*model.ViewableTweet, error) {
	author, err := e.author(ctx, t.AuthorID, viewerID)
	if err != nil {
		return nil, err
	}
	v := &model.ViewableTweet{Tweet: t, Author: *author}
	if viewerID == "" {
		return v, nil
	}

	like, err := e.likes.FindByTweetAndAuthor(ctx, t.ID, viewerID)
	if err != nil {
		return nil, model.NewUnknownError(fmt.Errorf("いいね状態の取得に失敗しました: %w", err))
	}
	bookmark, err := e.bookmarks.FindByTweetAndAuthor(ctx, t.ID, viewerID)
	if err != nil {
		return nil, model.NewUnknownError(fmt.Errorf("ブックマーク状態の取得に失敗しました: %w", err))
	}
	v.Liked = like != nil
	v.Bookmarked = bookmark != nil
	return v, nil
}

func (e *Engine) comment(ctx context.Context, c model.Comment, viewerID string) (*model.ViewableComment, error) {
	author, err := e.author(ctx, c.AuthorID, viewerID)
	if err != nil {
		return nil, err
	}
	return &model.ViewableComment{Comment: c, Author: *author}, nil
}

func (e *Engine) like(ctx context.Context, l model.Like, viewerID string) (*model.ViewableLike, error) {
	author, err := e.author(ctx, l.AuthorID, viewerID)
	if err != nil {
		return nil, err
	}
	return &model.ViewableLike{Like: l, Author: *author}, nil
}
